package mqtt

import "fmt"

// Topic prefixes for the cell controller's MQTT surface.
//
// Bus events are republished under dispense/event/{bus_topic}; commands
// arrive on dispense/command/request and are answered per request ID.
const (
	// TopicPrefix is the base for all controller topics.
	TopicPrefix = "dispense"

	// TopicPrefixEvent is the base for republished bus events.
	TopicPrefixEvent = "dispense/event"

	// TopicPrefixCommand is the base for inbound commands and their
	// responses.
	TopicPrefixCommand = "dispense/command"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "dispense/system"
)

// Topics provides builders for the controller's MQTT topics. Using these
// helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{}
//	topics.Event("motion/state") // "dispense/event/motion/state"
type Topics struct{}

// Event returns the export topic for one bus topic.
//
// Example: dispense/event/motion/state
func (Topics) Event(busTopic string) string {
	return fmt.Sprintf("%s/%s", TopicPrefixEvent, busTopic)
}

// CommandRequest returns the inbound command topic. Payloads carry a path
// and parameters routed through the request router.
//
// Example: dispense/command/request
func (Topics) CommandRequest() string {
	return fmt.Sprintf("%s/request", TopicPrefixCommand)
}

// CommandResponse returns the response topic for one request.
//
// Example: dispense/command/response/req-abc123
func (Topics) CommandResponse(requestID string) string {
	return fmt.Sprintf("%s/response/%s", TopicPrefixCommand, requestID)
}

// SystemStatus returns the system status topic used for the online
// announcement and the last-will offline message.
//
// Example: dispense/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// AllEvents returns a pattern matching every republished bus event.
//
// Pattern: dispense/event/#
func (Topics) AllEvents() string {
	return TopicPrefixEvent + "/#"
}

// AllTopics returns a pattern matching all controller topics.
// Use with caution - this receives ALL traffic.
//
// Pattern: dispense/#
func (Topics) AllTopics() string {
	return TopicPrefix + "/#"
}
