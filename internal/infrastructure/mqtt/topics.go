package mqtt

// Topic prefixes for the Latchline MQTT scheme. Door traffic uses a
// flat per-door layout, latchline/door/{door_id}/{kind}, so a broker
// ACL can be written per door with a single pattern.
const (
	TopicPrefix       = "latchline"
	TopicPrefixDoor   = "latchline/door"
	TopicPrefixSystem = "latchline/system"
)

// Topics builds the topic strings shared by the service, the door
// controllers, and observers. One builder everywhere keeps the scheme
// from drifting between binaries:
//
//	topics := mqtt.Topics{}
//	topics.DoorRequest("door-workshop") // latchline/door/door-workshop/request
type Topics struct{}

// DoorRequest is where a controller listens for token-bearing access
// requests. Requesters publish here after discovering the door.
func (Topics) DoorRequest(doorID string) string {
	return TopicPrefixDoor + "/" + doorID + "/request"
}

// DoorDecision is where a controller publishes the outcome after
// actuation. The payload names the decision and reason, never the
// full token.
func (Topics) DoorDecision(doorID string) string {
	return TopicPrefixDoor + "/" + doorID + "/decision"
}

// DoorStatus is the retained presence topic for one controller:
// "online" on connect, flipped to "offline" by the LWT if the
// controller vanishes.
func (Topics) DoorStatus(doorID string) string {
	return TopicPrefixDoor + "/" + doorID + "/status"
}

// Discovery is the retained announce topic where the validator
// publishes its endpoint, sparing controllers static addressing.
func (Topics) Discovery() string {
	return TopicPrefix + "/discovery"
}

// SystemStatus carries the service's own online announce and is the
// LWT target for crash detection.
func (Topics) SystemStatus() string {
	return TopicPrefixSystem + "/status"
}

// AllDoorRequests matches request traffic for every door. Diagnostics
// only; controllers subscribe to their own door.
func (Topics) AllDoorRequests() string {
	return TopicPrefixDoor + "/+/request"
}

// AllDoorDecisions matches decision publications from every controller.
func (Topics) AllDoorDecisions() string {
	return TopicPrefixDoor + "/+/decision"
}

// AllDoorStatus matches every controller's presence topic.
func (Topics) AllDoorStatus() string {
	return TopicPrefixDoor + "/+/status"
}

// AllTopics matches all Latchline traffic. This receives everything;
// meant for a debugging tap, not production subscribers.
func (Topics) AllTopics() string {
	return TopicPrefix + "/#"
}
