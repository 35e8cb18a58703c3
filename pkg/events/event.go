package events

import (
	"time"

	"github.com/google/uuid"
)

// Type identifies a relay lifecycle event. Published subjects are the
// configured prefix followed by the type, e.g. "relay.completed".
type Type string

const (
	TypeStarted   Type = "started"
	TypeCompleted Type = "completed"
	TypeFailed    Type = "failed"
)

// Event describes one point in a relayed stream's life. Message content is
// never included.
type Event struct {
	ID        string    `json:"id"`
	Type      Type      `json:"type"`
	Time      time.Time `json:"time"`
	RequestID string    `json:"request_id,omitempty"`
	ThreadID  string    `json:"thread_id,omitempty"`
	Created   bool      `json:"thread_created,omitempty"`
	Protocol  string    `json:"protocol,omitempty"`

	// Set on completed and failed events.
	Outcome    string  `json:"outcome,omitempty"`
	Frames     int     `json:"frames,omitempty"`
	Malformed  int     `json:"malformed_lines,omitempty"`
	Attempts   int     `json:"upstream_attempts,omitempty"`
	DurationMS float64 `json:"duration_ms,omitempty"`
	Error      string  `json:"error,omitempty"`
}

// New returns an event of type t with a fresh id and the current time.
func New(t Type) Event {
	return Event{
		ID:   uuid.NewString(),
		Type: t,
		Time: time.Now().UTC(),
	}
}

// Subject returns the subject the event is published on.
func (e Event) Subject(prefix string) string {
	return prefix + "." + string(e.Type)
}
