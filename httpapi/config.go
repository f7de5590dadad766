package httpapi

import "time"

// Config defines the IPC transport settings.
type Config struct {
	// Addr is the listen address; port 0 picks a free port.
	Addr string
	// Token is the bearer token every request must carry.
	Token string
	// HistorySize bounds the event replay history.
	HistorySize int
	// KeepaliveInterval spaces SSE comments and websocket pings.
	KeepaliveInterval time.Duration
}

const (
	defaultHistorySize       = 1024
	defaultKeepaliveInterval = 15 * time.Second
	shutdownTimeout          = 5 * time.Second
	writeTimeout             = 10 * time.Second
)
