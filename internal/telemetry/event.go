// Package telemetry aggregates operational events and streams them to all
// connected observers over a persistent TCP connection.
//
// Events are newline-delimited JSON objects. Delivery is live-tail only,
// with no buffering or replay: an observer sees exactly the events emitted
// while it is connected.
package telemetry

import "time"

// EventType tags the kind of a telemetry event.
type EventType string

const (
	EventWelcome       EventType = "welcome"
	EventLog           EventType = "log_entry"
	EventMetrics       EventType = "performance_metrics"
	EventServiceStatus EventType = "service_status"
	EventDiscovery     EventType = "network_discovery"
	EventDebug         EventType = "debug_message"
)

// Event is a timestamped, typed message describing subsystem state.
// All payload values are stringified before transmission; type fidelity is
// traded for a uniform wire format.
type Event struct {
	Type      EventType         `json:"type"`
	Timestamp time.Time         `json:"timestamp"`
	Data      map[string]string `json:"data"`
}

// Sink receives events for delivery. BroadcastServer implements it; the hub
// holds only this one-directional reference.
type Sink interface {
	Broadcast(Event)
}
