package transport

import (
	"go.uber.org/zap"

	"msgpack-rpc/protocol"
)

// Config holds the per-connection settings of an Endpoint.
type Config struct {
	Logger *zap.Logger

	// JobLimit caps the number of inbound requests and notifications being
	// handled at once. 0 means unlimited.
	JobLimit int

	// Backlog is the number of decoded inbound calls that may wait for a job
	// slot. The read loop never waits for it: a request arriving while it is
	// full is answered at once with the error "server busy" and a notification
	// is dropped, so responses to our own calls keep flowing.
	Backlog int

	// OutboundQueue is the number of encoded frames that may wait for the writer.
	OutboundQueue int

	// MaxFrameSize bounds the size of a single inbound frame.
	MaxFrameSize int
}

// DefaultConfig returns the settings used when no Option overrides them:
// no job limit, a backlog of 1024 calls and a nop logger.
func DefaultConfig() Config {
	return Config{
		Logger:        zap.NewNop(),
		Backlog:       1024,
		OutboundQueue: 256,
		MaxFrameSize:  protocol.DefaultMaxFrameSize,
	}
}

// Option changes one setting of the Config built by NewEndpoint.
type Option func(*Config)

// WithLogger sets the logger. A nil log keeps the nop logger.
func WithLogger(log *zap.Logger) Option {
	return func(c *Config) {
		if log != nil {
			c.Logger = log
		}
	}
}

// WithJobLimit caps the number of inbound calls handled at once, 0 means no cap.
func WithJobLimit(limit int) Option {
	return func(c *Config) { c.JobLimit = limit }
}

// WithBacklog sets how many inbound calls may wait for a job slot.
func WithBacklog(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.Backlog = n
		}
	}
}

// WithOutboundQueue sets how many encoded frames may wait for the writer.
func WithOutboundQueue(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.OutboundQueue = n
		}
	}
}

// WithMaxFrameSize bounds the size of a single inbound frame.
func WithMaxFrameSize(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.MaxFrameSize = n
		}
	}
}
