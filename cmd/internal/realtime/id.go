package realtime

import (
	"time"

	"warden/cmd/identity/ids"
)

// NewClientID returns a ULID naming one websocket connection in logs.
func NewClientID(now time.Time) (string, error) {
	return ids.NewULID(now)
}
