package realtime

import (
	"sync"

	"warden/cmd/internal/auth/session"
)

// Client is one connected websocket subscriber.
//
// Send is never closed by the hub so concurrent publishers cannot panic;
// done signals the connection loop to stop instead.
type Client struct {
	ID        string
	UserID    string
	SessionID string
	Send      chan session.Event

	done      chan struct{}
	closeOnce sync.Once
}

// NewClient constructs a Client with a bounded send queue.
func NewClient(id, userID, sessionID string, sendQueueSize int) *Client {
	if sendQueueSize <= 0 {
		sendQueueSize = wsDefaultSendQueueSize
	}
	return &Client{
		ID:        id,
		UserID:    userID,
		SessionID: sessionID,
		Send:      make(chan session.Event, sendQueueSize),
		done:      make(chan struct{}),
	}
}

// Done is closed when the client has been dropped or shut down.
func (c *Client) Done() <-chan struct{} {
	if c == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return c.done
}

// Close signals the connection loop to stop. Idempotent.
func (c *Client) Close() {
	if c == nil {
		return
	}
	c.closeOnce.Do(func() {
		close(c.done)
	})
}
