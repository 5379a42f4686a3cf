// Package mqtt wraps paho.mqtt.golang for the Latchline daemons.
//
// MQTT carries the broadcast-discovery request path. The validator
// service announces its base URL on a retained discovery topic; door
// controllers listen on their own request topic; requesters publish a
// token at the door they are standing in front of:
//
//	Requester → Broker → Door Controller → Validator Service
//
// The wrapper adds what the daemons need on top of paho: tracked
// subscriptions replayed after every reconnect, presence announcements
// with an LWT so a crashed process shows up as offline, panic
// containment around message handlers, and sentinel errors callers can
// errors.Is against.
//
// Access tokens transit the request topics in the clear as far as the
// broker is concerned. Production deployments need TLS to the broker
// (cfg.Broker.TLS) and broker ACLs that restrict who may subscribe to
// latchline/door/+/request.
//
// Typical controller-side use:
//
//	topics := mqtt.Topics{}
//	client, err := mqtt.Connect(cfg.MQTT, mqtt.WithStatusTopic(topics.DoorStatus(doorID)))
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(topics.DoorRequest(doorID), 1,
//	    func(topic string, payload []byte) error {
//	        return handleRequest(payload)
//	    })
package mqtt
