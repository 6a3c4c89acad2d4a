package gateway

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nerrad567/musiccast-bridge/internal/musiccast"
)

// MQTT message types exchanged between controllers and the gateway.

// CommandMessage is sent by a controller to execute a zone action.
// Topic: musiccast/command/{device_id}
type CommandMessage struct {
	// ID uniquely identifies this command for correlation with the ack.
	ID string `json:"id"`

	// Timestamp is when the command was issued (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`

	// DeviceID is the MusicCast device identifier. Must match the topic.
	DeviceID string `json:"device_id"`

	// Zone is the target zone id ("main", "zone2", ...).
	Zone string `json:"zone"`

	// Action is the action name (e.g. "SET_VOLUME", "SOURCE_SPOTIFY").
	Action string `json:"action"`

	// Arguments contains action-specific values, e.g. {"volume": 50}.
	Arguments map[string]any `json:"arguments,omitempty"`

	// Source indicates where the command originated (optional).
	Source string `json:"source,omitempty"`
}

// Validate checks the fields the gateway cannot route without.
func (m *CommandMessage) Validate() error {
	if m.DeviceID == "" {
		return fmt.Errorf("command without device_id")
	}
	if m.Zone == "" {
		return fmt.Errorf("command without zone")
	}
	if m.Action == "" {
		return fmt.Errorf("command without action")
	}
	return nil
}

// AckStatus is the acknowledgment status of a command.
type AckStatus string

const (
	// AckOK indicates the command executed.
	AckOK AckStatus = "ok"

	// AckRejected indicates the command was refused: unknown device,
	// unknown action, or a state that does not support it.
	AckRejected AckStatus = "rejected"

	// AckDropped indicates backpressure: the device's task queue was full.
	AckDropped AckStatus = "dropped"
)

// AckMessage is sent by the gateway in response to a command.
// Topic: musiccast/ack/{device_id}
type AckMessage struct {
	// CommandID is the ID from the original command.
	CommandID string `json:"command_id"`

	// Timestamp is when the acknowledgment was sent (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`

	// DeviceID and Zone identify the command target.
	DeviceID string `json:"device_id"`
	Zone     string `json:"zone"`

	// Status is the outcome.
	Status AckStatus `json:"status"`

	// Reason carries the zone engine's reply text or the rejection cause.
	Reason string `json:"reason,omitempty"`

	// Data carries reply payloads for query actions (GET_INPUTS, ...).
	Data any `json:"data,omitempty"`
}

// StateMessage is published whenever a zone's cached state changes.
// Topic: musiccast/state/{device_id}/{zone}
// QoS: 1, Retained: Yes
type StateMessage struct {
	DeviceID  string    `json:"device_id"`
	Zone      string    `json:"zone"`
	Timestamp time.Time `json:"timestamp"`

	// State is the normalized zone state snapshot.
	State ZoneStatePayload `json:"state"`
}

// ZoneStatePayload is the wire form of a zone snapshot.
type ZoneStatePayload struct {
	Power  bool   `json:"power"`
	Volume int    `json:"volume"`
	Mute   bool   `json:"mute"`
	Input  string `json:"input"`
}

// newStateMessage converts a zone snapshot to its wire form.
func newStateMessage(s musiccast.ZoneState) StateMessage {
	return StateMessage{
		DeviceID:  s.DeviceID,
		Zone:      s.Zone,
		Timestamp: time.Now().UTC(),
		State: ZoneStatePayload{
			Power:  s.Power,
			Volume: s.Volume,
			Mute:   s.Mute,
			Input:  s.Input,
		},
	}
}

// HealthStatus represents the operational status of the gateway.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthStarting HealthStatus = "starting"
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage reports gateway status.
// Topic: musiccast/health
// QoS: 1, Retained: Yes
type HealthMessage struct {
	// ID uniquely identifies this report.
	ID string `json:"id"`

	// Gateway is the gateway identifier from configuration.
	Gateway string `json:"gateway"`

	// Timestamp is when the report was generated (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`

	// Status is the current operational status.
	Status HealthStatus `json:"status"`

	// Version is the gateway software version.
	Version string `json:"version"`

	// UptimeSeconds is how long the gateway has been running.
	UptimeSeconds int64 `json:"uptime_seconds"`

	// DevicesManaged is the number of live device actors.
	DevicesManaged int `json:"devices_managed"`

	// Reason explains the status (especially degraded/stopping).
	Reason string `json:"reason,omitempty"`
}

// Marshal encodes a message for publishing.
func Marshal(v any) ([]byte, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding message: %w", err)
	}
	return payload, nil
}
