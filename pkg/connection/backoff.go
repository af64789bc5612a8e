package connection

import (
	"math/rand"
	"sync"
	"time"
)

// Default backoff parameters.
const (
	// InitialBackoff is the first reconnection delay.
	InitialBackoff = 1 * time.Second

	// MaxBackoff caps the reconnection delay.
	MaxBackoff = 60 * time.Second

	// BackoffMultiplier is the growth factor between attempts.
	BackoffMultiplier = 2.0

	// JitterFactor is the maximum jitter as a fraction of the base delay.
	JitterFactor = 0.25
)

// BackoffConfig customizes a Backoff. Zero fields take the defaults,
// except Jitter, where zero disables jitter.
type BackoffConfig struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	Jitter     float64
}

// DefaultBackoffConfig returns the exponential schedule with jitter.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		Initial:    InitialBackoff,
		Max:        MaxBackoff,
		Multiplier: BackoffMultiplier,
		Jitter:     JitterFactor,
	}
}

// Backoff computes reconnection delays. It is safe for concurrent use.
type Backoff struct {
	mu sync.Mutex

	config   BackoffConfig
	current  time.Duration
	attempts int
	rng      *rand.Rand
}

// NewBackoff creates a backoff with the default exponential schedule.
func NewBackoff() *Backoff {
	return NewBackoffWithConfig(DefaultBackoffConfig())
}

// NewFixedBackoff returns a backoff that always waits d, without jitter.
func NewFixedBackoff(d time.Duration) *Backoff {
	return NewBackoffWithConfig(BackoffConfig{Initial: d, Max: d, Jitter: 0})
}

// NewBackoffWithConfig creates a backoff from cfg.
func NewBackoffWithConfig(cfg BackoffConfig) *Backoff {
	if cfg.Initial <= 0 {
		cfg.Initial = InitialBackoff
	}
	if cfg.Max <= 0 {
		cfg.Max = MaxBackoff
	}
	if cfg.Max < cfg.Initial {
		cfg.Max = cfg.Initial
	}
	if cfg.Multiplier <= 1 {
		cfg.Multiplier = BackoffMultiplier
	}
	if cfg.Jitter < 0 {
		cfg.Jitter = 0
	}

	return &Backoff{
		config:  cfg,
		current: cfg.Initial,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Config returns the effective configuration.
func (b *Backoff) Config() BackoffConfig {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.config
}

// Next returns the next delay (with jitter) and advances the schedule.
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	delay := b.jittered(b.current)
	b.attempts++
	b.current = min(time.Duration(float64(b.current)*b.config.Multiplier), b.config.Max)
	return delay
}

// Peek returns the current delay (with jitter) without advancing.
func (b *Backoff) Peek() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.jittered(b.current)
}

// Reset restarts the schedule. Call it after a successful connection.
func (b *Backoff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.current = b.config.Initial
	b.attempts = 0
}

// Attempts returns the number of delays handed out since the last reset.
func (b *Backoff) Attempts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempts
}

// Current returns the current base delay (without jitter).
func (b *Backoff) Current() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

// Schedule returns the first n base delays of cfg, without jitter.
func Schedule(cfg BackoffConfig, n int) []time.Duration {
	b := NewBackoffWithConfig(cfg)
	out := make([]time.Duration, n)
	for i := range out {
		out[i] = b.Current()
		b.Next()
	}
	return out
}

func (b *Backoff) jittered(d time.Duration) time.Duration {
	if b.config.Jitter <= 0 {
		return d
	}
	return d + time.Duration(float64(d)*b.config.Jitter*b.rng.Float64())
}
