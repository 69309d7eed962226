package trainman

import (
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"Assembler-Trainman/internal/observability"
)

const DefaultHandshakeInterval = 500 * time.Millisecond

// Config is shared by Host and Client. Zero fields take their defaults.
type Config struct {
	// HandshakeInterval is the period between HANDSHAKE probes sent by a Host.
	HandshakeInterval time.Duration
	// DebugEnabled turns on delivery of trace lines to Debug.
	DebugEnabled bool
	// Debug receives human-readable trace lines. It is called with the endpoint lock held
	// and must not call back into the endpoint.
	Debug   func(string)
	Logger  *zap.Logger
	Clock   clock.Clock
	Metrics *observability.Metrics
}

func DefaultConfig() Config {
	return Config{HandshakeInterval: DefaultHandshakeInterval}
}

func (c Config) withDefaults() Config {
	if c.HandshakeInterval <= 0 {
		c.HandshakeInterval = DefaultHandshakeInterval
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if c.Clock == nil {
		c.Clock = clock.New()
	}
	return c
}
