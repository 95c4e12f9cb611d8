package stats

import (
	"fmt"
	"strings"
	"time"
)

// ChatEvent is one recorded chat message. It lives first in the
// ephemeral ring buffer of its scope; once the buffer overflows its
// configured capacity, the reconciler copies the buffered history into
// the durable message log keyed by EventID (re-delivery is a no-op)
// and trims the buffer back to capacity.
type ChatEvent struct {
	// EventID is the globally unique identifier of the message,
	// assigned by the transport layer.
	EventID string `json:"event_id"`

	// Scope is the conversation the message was seen in.
	Scope string `json:"scope"`

	// Subject is the author's user id.
	Subject string `json:"subject"`

	// AuthorName is the display name at the time of recording.
	AuthorName string `json:"author_name,omitempty"`

	// Content is the rendered message text.
	Content string `json:"content"`

	// RawContent preserves the transport's raw representation.
	RawContent string `json:"raw_content,omitempty"`

	// Timestamp is when the message was observed.
	Timestamp time.Time `json:"timestamp"`
}

// Validate ensures the event carries everything the durable log needs.
func (e *ChatEvent) Validate() error {
	if e.EventID == "" {
		return fmt.Errorf("event_id is required")
	}
	if e.Scope == "" {
		return fmt.Errorf("scope is required")
	}
	// Scopes are embedded in counter and buffer keys, which use ':' as
	// the separator. Same rule as CounterKey.Validate.
	if strings.Contains(e.Scope, ":") {
		return fmt.Errorf("scope must not contain ':': %q", e.Scope)
	}
	if e.Subject == "" {
		return fmt.Errorf("subject is required")
	}
	if e.Timestamp.IsZero() {
		return fmt.Errorf("timestamp is required")
	}
	return nil
}

// Day returns the calendar day the event belongs to, in loc.
func (e *ChatEvent) Day(loc *time.Location) Day {
	return DayOf(e.Timestamp.In(loc))
}
