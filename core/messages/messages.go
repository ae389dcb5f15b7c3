package messages

import "github.com/ManyThreads/horme/core/service"

// Subscription identifies one dependency edge in a configuration delta.
type Subscription struct {
	UUID  service.UUID `json:"uuid"`
	Topic string       `json:"topic"`
	Type  string       `json:"type"`
}

// ConfigMessage is the delta sent to a service on conf/<topic>. Add and Del never share a
// subscription.
type ConfigMessage struct {
	Info service.Info   `json:"info"`
	Add  []Subscription `json:"add"`
	Del  []Subscription `json:"del"`
}

// Empty reports whether the message carries no subscription changes.
func (m *ConfigMessage) Empty() bool {
	return len(m.Add) == 0 && len(m.Del) == 0
}

// Failure reasons emitted by the failure reasoner.
const (
	ReasonUnknown = "unknown"
	ReasonDead    = "dead"
)

// FailureMessage is published by services (or the failure reasoner) on fail/... topics.
type FailureMessage struct {
	UUID   service.UUID `json:"uuid"`
	Reason string       `json:"reason"`
}

// Binary device values.
const (
	ValueOn  = "on"
	ValueOff = "off"
)

// DeviceMessage is the state report a service publishes on data/<topic>.
type DeviceMessage struct {
	Apartment string       `json:"apartment"`
	Location  string       `json:"location"`
	UUID      service.UUID `json:"uuid"`
	Type      string       `json:"type"`
	Sensor    *string      `json:"sensor"`
	Value     string       `json:"value"`
	// Timestamp is in epoch milliseconds.
	Timestamp int64 `json:"timestamp"`
}
