package coordinator

import (
	"time"

	"callcoord-backend/pkg/env"
)

// Config holds the coordinator tunables. Defaults follow the product
// configuration: 8-way calls, 30s reconnection grace.
type Config struct {
	// SessionCapacity is the maximum concurrent participants per session
	SessionCapacity int
	// MaxSessions is the global concurrent-session limit; 0 means unlimited
	MaxSessions int
	// ReconnectGrace is how long a DISCONNECTED participant may reconnect
	// before the disconnect is treated as a leave
	ReconnectGrace time.Duration
	// RetireGrace is how long an ENDED session stays in the registry for
	// late analytics flush before it is garbage-collected
	RetireGrace time.Duration
	// OutboundQueueSize bounds each participant's delivery queue
	OutboundQueueSize int
	// CommandQueueSize bounds each session actor's command queue
	CommandQueueSize int
}

// DefaultConfig returns the default product configuration
func DefaultConfig() Config {
	return Config{
		SessionCapacity:   8,
		MaxSessions:       0,
		ReconnectGrace:    30 * time.Second,
		RetireGrace:       5 * time.Second,
		OutboundQueueSize: 64,
		CommandQueueSize:  128,
	}
}

// ConfigFromEnv reads the coordinator configuration from the environment,
// falling back to defaults
func ConfigFromEnv() Config {
	def := DefaultConfig()
	return Config{
		SessionCapacity:   env.GetInt("SESSION_CAPACITY", def.SessionCapacity),
		MaxSessions:       env.GetInt("MAX_SESSIONS", def.MaxSessions),
		ReconnectGrace:    env.GetDuration("RECONNECT_GRACE", def.ReconnectGrace),
		RetireGrace:       env.GetDuration("RETIRE_GRACE", def.RetireGrace),
		OutboundQueueSize: env.GetInt("OUTBOUND_QUEUE_SIZE", def.OutboundQueueSize),
		CommandQueueSize:  env.GetInt("COMMAND_QUEUE_SIZE", def.CommandQueueSize),
	}
}
