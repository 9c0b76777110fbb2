// Package notification implements the event decision pipeline, channel
// fan-out, history, and scheduled-broadcast machinery described for the
// notification pipeline.
package notification

import (
	"encoding/json"
	"time"
)

// Priority orders how urgent a NetworkEvent is.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityMedium
	PriorityHigh
	PriorityCritical
)

// ParsePriority maps a string to Priority, defaulting to PriorityMedium.
func ParsePriority(s string) Priority {
	switch s {
	case "low":
		return PriorityLow
	case "high":
		return PriorityHigh
	case "critical":
		return PriorityCritical
	case "medium":
		return PriorityMedium
	default:
		return PriorityMedium
	}
}

// String returns the wire representation of a Priority.
func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return "medium"
	}
}

// MarshalJSON encodes Priority as its string form.
func (p Priority) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

// UnmarshalJSON decodes Priority from its string form.
func (p *Priority) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*p = ParsePriority(s)
	return nil
}

// NetworkEvent is a single occurrence that may fan out to multiple
// recipients and channels.
type NetworkEvent struct {
	EventType     string    `json:"event_type"`
	Title         string    `json:"title"`
	Message       string    `json:"message"`
	DeviceIP      string    `json:"device_ip,omitempty"`
	DeviceName    string    `json:"device_name,omitempty"`
	PreviousState string    `json:"previous_state,omitempty"`
	CurrentState  string    `json:"current_state,omitempty"`
	Priority      *Priority `json:"priority,omitempty"` // nil defers to notification_type_priorities, then medium
	OccurredAt    time.Time `json:"occurred_at"`
}

// Channel identifies a delivery mechanism.
type Channel string

const (
	ChannelSlack Channel = "slack"
	ChannelEmail Channel = "email"
)

// Outcome is the result of dispatching a notification through one channel.
type Outcome string

const (
	OutcomeSent   Outcome = "sent"
	OutcomeFailed Outcome = "failed"
	OutcomeDenied Outcome = "denied"
)

// Record captures the result of attempting to deliver one event to one
// recipient over one channel.
type Record struct {
	ID          string    `json:"id"`
	NetworkID   string    `json:"network_id"`
	RecipientID string    `json:"recipient_id"`
	Channel     Channel   `json:"channel"`
	EventType   string    `json:"event_type"`
	Outcome     Outcome   `json:"outcome"`
	DenyReason  string    `json:"deny_reason,omitempty"`
	Error       string    `json:"error,omitempty"`
	SentAt      time.Time `json:"sent_at"`
}
