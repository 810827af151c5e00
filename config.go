package chatsync

import "time"

// Defaults applied by Config for zero-valued fields.
const (
	DefaultMaxReconnectAttempts = 5
	DefaultReconnectDelay       = 1 * time.Second
	DefaultTypingTimeout        = 5 * time.Second
	DefaultDeleteGraceDelay     = 500 * time.Millisecond
	DefaultDedupCapacity        = 1000
	DefaultEmitRate             = 20
	DefaultEmitBurst            = 40
	DefaultRESTTimeout          = 10 * time.Second
)

// emitTimeout bounds sends that are not tied to a caller context, such as the
// typing stop fired by the inactivity timer.
const emitTimeout = 5 * time.Second

// Config configures the sync engine.
type Config struct {
	// MaxReconnectAttempts bounds consecutive failed dials after a drop.
	MaxReconnectAttempts int
	// ReconnectDelay is the fixed pause between reconnect attempts.
	ReconnectDelay time.Duration

	// TypingTimeout is the local inactivity window before an implicit stop.
	TypingTimeout time.Duration
	// RemoteTypingTTL expires a peer's typing state when no stop arrives.
	// Zero disables the expiry and trusts the remote stop signal.
	RemoteTypingTTL time.Duration

	// DeleteGraceDelay is how long Delete waits for the push path before
	// falling back to REST.
	DeleteGraceDelay time.Duration

	// DedupCapacity is the number of processed message ids remembered.
	DedupCapacity int

	// EmitRate and EmitBurst throttle outbound commands per connection.
	EmitRate  float64
	EmitBurst int

	// RESTTimeout bounds the resync pulls made on every connect.
	RESTTimeout time.Duration
}

func (c *Config) defaults() {
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = DefaultReconnectDelay
	}
	if c.TypingTimeout == 0 {
		c.TypingTimeout = DefaultTypingTimeout
	}
	if c.DeleteGraceDelay == 0 {
		c.DeleteGraceDelay = DefaultDeleteGraceDelay
	}
	if c.DedupCapacity == 0 {
		c.DedupCapacity = DefaultDedupCapacity
	}
	if c.EmitRate == 0 {
		c.EmitRate = DefaultEmitRate
	}
	if c.EmitBurst == 0 {
		c.EmitBurst = DefaultEmitBurst
	}
	if c.RESTTimeout == 0 {
		c.RESTTimeout = DefaultRESTTimeout
	}
}
