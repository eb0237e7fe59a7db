package session

import "time"

// EventType names a session lifecycle event pushed to a user's devices.
type EventType string

const (
	EventRevoked       EventType = "session.revoked"
	EventRevokedAll    EventType = "sessions.revoked_all"
	EventReuseDetected EventType = "session.reuse_detected"
)

// Event is published after the transaction that caused it commits.
type Event struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"sessionId,omitempty"`
	Revoked   int64     `json:"revoked,omitempty"`
	At        time.Time `json:"at"`
}

// Notifier receives committed session events. Publish must not block.
type Notifier interface {
	Publish(userID string, ev Event)
}

type nopNotifier struct{}

func (nopNotifier) Publish(string, Event) {}
