package mqtt

import "fmt"

// Topic prefix for all MusicCast bridge topics.
//
// All topics use the flat scheme: musiccast/{category}/{device_id}[/{zone}]
const (
	// TopicPrefix is the base for all bridge topics.
	TopicPrefix = "musiccast"
)

// Topics provides builders for MusicCast bridge MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{}
//	stateTopic := topics.State("00A0DED57E83", "main")
//	// Returns: "musiccast/state/00A0DED57E83/main"
type Topics struct{}

// Command returns the topic on which commands for a device arrive.
//
// Example: musiccast/command/00A0DED57E83
func (Topics) Command(deviceID string) string {
	return fmt.Sprintf("%s/command/%s", TopicPrefix, deviceID)
}

// Ack returns the topic for command acknowledgements of a device.
//
// Example: musiccast/ack/00A0DED57E83
func (Topics) Ack(deviceID string) string {
	return fmt.Sprintf("%s/ack/%s", TopicPrefix, deviceID)
}

// State returns the topic for zone state updates. State messages are
// published retained so late subscribers see the last known state.
//
// Example: musiccast/state/00A0DED57E83/main
func (Topics) State(deviceID, zone string) string {
	return fmt.Sprintf("%s/state/%s/%s", TopicPrefix, deviceID, zone)
}

// Health returns the topic for periodic bridge health reports.
//
// Example: musiccast/health
func (Topics) Health() string {
	return fmt.Sprintf("%s/health", TopicPrefix)
}

// SystemStatus returns the bridge online/offline status topic, used as
// the Last Will topic.
//
// Example: musiccast/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/system/status", TopicPrefix)
}

// AllCommands returns a pattern matching commands for every device.
//
// Pattern: musiccast/command/+
func (Topics) AllCommands() string {
	return fmt.Sprintf("%s/command/+", TopicPrefix)
}

// AllStates returns a pattern matching every zone state topic.
//
// Pattern: musiccast/state/+/+
func (Topics) AllStates() string {
	return fmt.Sprintf("%s/state/+/+", TopicPrefix)
}

// AllTopics returns a pattern matching all bridge topics.
// Use with caution - this receives ALL traffic.
//
// Pattern: musiccast/#
func (Topics) AllTopics() string {
	return "musiccast/#"
}
