package realtime

import "time"

// RateLimit defines the parameters for per-connection envelope rate limiting.
type RateLimit struct {
	Burst          int
	RefillInterval time.Duration
}

// Options holds the tunable parameters of the realtime core. The zero value
// is usable after withDefaults.
type Options struct {
	// HeartbeatInterval is the fixed period between transport-level pings. A
	// connection that leaves a ping unanswered until the next one is due is
	// terminated.
	HeartbeatInterval time.Duration

	// SendBuffer is the per-connection outbound queue length. A client whose
	// queue is full is dropped rather than allowed to stall fan-out.
	SendBuffer int

	// MaxMessageSize bounds inbound envelope size in bytes.
	MaxMessageSize int64

	// AllowedOrigins lists origins accepted during the WebSocket upgrade.
	// "*" allows everything.
	AllowedOrigins []string

	RateLimit RateLimit
}

func (o Options) withDefaults() Options {
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = 30 * time.Second
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 256
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = 4096
	}
	if o.RateLimit.Burst <= 0 {
		o.RateLimit.Burst = 20
	}
	if o.RateLimit.RefillInterval <= 0 {
		o.RateLimit.RefillInterval = time.Second
	}
	return o
}

// pongWait is how long a connection may stay silent before the read side
// gives up on it: two heartbeat intervals.
func (o Options) pongWait() time.Duration {
	return 2 * o.HeartbeatInterval
}
