// Package controller implements the door-side access attempt lifecycle.
//
// A Controller is a single in-flight actor. A token-bearing request
// arrives through a RequestSource, the controller reads the rangefinder
// and samples signal strength, relays the readings to the validation
// service, and actuates the lock according to the response. Requests
// arriving while an attempt is in progress are dropped with a log line,
// never queued.
//
// The state machine is deliberately rigid:
//
//	Idle → ReadingSensor → AwaitingDecision → ActuatingGrant → Idle
//	                                        ↘ ActuatingDeny  ↗
//
// Every path terminates in Idle. A network failure while awaiting the
// decision is a deny with reason "server_error"; the lock never stays
// open on a lost response.
//
// Two request sources cover the deployment variants: MQTTSource
// subscribes to the door's broadcast request topic and discovers the
// validator from the retained announce, HTTPSource accepts direct
// pushes on a small listener. Both feed the same Submit entry point.
package controller
