package realtime

import "time"

const (
	// Clients only ever send close and pong frames.
	maxFrameBytes = 4 << 10

	heartbeatInterval = 25 * time.Second
	heartbeatTimeout  = 5 * time.Second

	wsMaxPingFailures = 3

	wsDefaultSendQueueSize = 32
	wsMinSendQueueSize     = 4

	wsDefaultWriteTimeout = 5 * time.Second

	wsDefaultOriginRequired = false
	wsDefaultAllowedOrigins = "http://localhost,http://127.0.0.1"
)
