// Package event defines the telemetry event model: the decoded operation
// call, the built event, listener fan-out and source middleware.
package event

import (
	"time"

	"github.com/google/uuid"
)

// Types of events the engine builds.
const (
	TypeTrack    = "track"
	TypeIdentify = "identify"
	TypePage     = "page"
	TypeGroup    = "group"
	TypeAlias    = "alias"
	TypeScreen   = "screen"
)

// Properties carries free-form event properties.
type Properties map[string]any

// Traits carries free-form user or group traits.
type Traits map[string]any

// Call is one decoded operation-call.
type Call struct {
	Type       string
	Event      string
	Name       string
	Category   string
	UserID     string
	GroupID    string
	PreviousID string
	Properties Properties
	Traits     Traits
	Context    map[string]any
}

// Event is a fully built event ready for delivery.
type Event struct {
	Type        string         `json:"type"`
	Event       string         `json:"event,omitempty"`
	Name        string         `json:"name,omitempty"`
	Category    string         `json:"category,omitempty"`
	UserID      string         `json:"userId,omitempty"`
	AnonymousID string         `json:"anonymousId,omitempty"`
	GroupID     string         `json:"groupId,omitempty"`
	PreviousID  string         `json:"previousId,omitempty"`
	Properties  Properties     `json:"properties,omitempty"`
	Traits      Traits         `json:"traits,omitempty"`
	MessageID   string         `json:"messageId"`
	Timestamp   time.Time      `json:"timestamp"`
	Context     map[string]any `json:"context,omitempty"`
}

// New builds an event from a call, stamping a message id and timestamp.
func New(c Call) *Event {
	return &Event{
		Type:       c.Type,
		Event:      c.Event,
		Name:       c.Name,
		Category:   c.Category,
		UserID:     c.UserID,
		GroupID:    c.GroupID,
		PreviousID: c.PreviousID,
		Properties: c.Properties,
		Traits:     c.Traits,
		MessageID:  uuid.NewString(),
		Timestamp:  time.Now().UTC(),
		Context:    c.Context,
	}
}

// Clone returns a copy with its top-level maps copied.
func (e *Event) Clone() *Event {
	c := *e
	c.Properties = copyMap(e.Properties)
	c.Traits = copyMap(e.Traits)
	c.Context = copyMap(e.Context)
	return &c
}

func copyMap[M ~map[string]any](m M) M {
	if m == nil {
		return nil
	}
	out := make(M, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
