package realtime

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// GatewayConfig holds websocket transport settings.
type GatewayConfig struct {
	// InsecureSkipVerify disables the origin check in websocket.Accept. Dev only.
	InsecureSkipVerify bool
	OriginRequired     bool
	AllowedOrigins     []string

	WriteTimeout     time.Duration
	SendQueueSize    int
	HeartbeatEvery   time.Duration
	HeartbeatTimeout time.Duration
}

// DefaultGatewayConfig returns the defaults used when no env is set.
func DefaultGatewayConfig() GatewayConfig {
	return GatewayConfig{
		OriginRequired:   wsDefaultOriginRequired,
		AllowedOrigins:   splitCSV(wsDefaultAllowedOrigins),
		WriteTimeout:     wsDefaultWriteTimeout,
		SendQueueSize:    wsDefaultSendQueueSize,
		HeartbeatEvery:   heartbeatInterval,
		HeartbeatTimeout: heartbeatTimeout,
	}
}

// GatewayConfigFromEnv reads WARDEN_WS_* overrides.
func GatewayConfigFromEnv() GatewayConfig {
	def := DefaultGatewayConfig()

	cfg := GatewayConfig{
		InsecureSkipVerify: envBoolWS("WARDEN_WS_DEV_INSECURE", false),
		OriginRequired:     envBoolWS("WARDEN_WS_ORIGIN_REQUIRED", def.OriginRequired),
		AllowedOrigins:     def.AllowedOrigins,
		WriteTimeout:       envDurationWS("WARDEN_WS_WRITE_TIMEOUT", def.WriteTimeout),
		SendQueueSize:      envIntWS("WARDEN_WS_SEND_QUEUE", def.SendQueueSize),
		HeartbeatEvery:     envDurationWS("WARDEN_WS_HEARTBEAT_INTERVAL", def.HeartbeatEvery),
		HeartbeatTimeout:   envDurationWS("WARDEN_WS_HEARTBEAT_TIMEOUT", def.HeartbeatTimeout),
	}
	if raw := strings.TrimSpace(os.Getenv("WARDEN_WS_ALLOWED_ORIGINS")); raw != "" {
		cfg.AllowedOrigins = splitCSV(raw)
	}
	return cfg
}

func (c GatewayConfig) withDefaults() GatewayConfig {
	def := DefaultGatewayConfig()
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.SendQueueSize < wsMinSendQueueSize {
		c.SendQueueSize = wsMinSendQueueSize
	}
	if c.HeartbeatEvery <= 0 {
		c.HeartbeatEvery = def.HeartbeatEvery
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = def.HeartbeatTimeout
	}
	return c
}

func envBoolWS(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envIntWS(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envDurationWS(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func splitCSV(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
