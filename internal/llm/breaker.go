package llm

import (
	"sync"
	"time"

	"github.com/rendis/scenecraft/pkg/schema"
)

// BreakerState is the state of one model's circuit.
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// BreakerConfig configures per-model circuit breaking.
type BreakerConfig struct {
	FailureThreshold int           `json:"failure_threshold"`
	Cooldown         time.Duration `json:"cooldown"`
}

// DefaultBreakerConfig opens after five consecutive failures for 30s.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{FailureThreshold: 5, Cooldown: 30 * time.Second}
}

type circuit struct {
	state    BreakerState
	failures int
	openedAt time.Time
	probing  bool
}

// Breakers tracks one circuit per model id so a failing upstream model does
// not keep every job waiting on retries.
type Breakers struct {
	mu       sync.Mutex
	cfg      BreakerConfig
	circuits map[string]*circuit
	now      func() time.Time
}

// NewBreakers creates an empty set of circuits.
func NewBreakers(cfg BreakerConfig) *Breakers {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultBreakerConfig().FailureThreshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultBreakerConfig().Cooldown
	}
	return &Breakers{cfg: cfg, circuits: make(map[string]*circuit), now: time.Now}
}

// Allow returns nil if a call to model may proceed. After the cooldown one
// probe call is let through; its outcome closes or reopens the circuit.
func (b *Breakers) Allow(model string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.get(model)
	switch c.state {
	case BreakerOpen:
		if b.now().Sub(c.openedAt) < b.cfg.Cooldown {
			return schema.NewErrorf(schema.ErrCodeCircuitOpen,
				"model %s unavailable after %d consecutive failures", model, c.failures).
				WithDetails(map[string]any{
					"model":    model,
					"failures": c.failures,
					"retry_in": (b.cfg.Cooldown - b.now().Sub(c.openedAt)).String(),
				})
		}
		c.state = BreakerHalfOpen
		c.probing = true
		return nil
	case BreakerHalfOpen:
		if c.probing {
			return schema.NewErrorf(schema.ErrCodeCircuitOpen, "model %s is being probed", model)
		}
		c.probing = true
		return nil
	}
	return nil
}

// Success closes the circuit for model.
func (b *Breakers) Success(model string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c := b.get(model)
	c.state = BreakerClosed
	c.failures = 0
	c.probing = false
}

// Failure records a failed call and returns the resulting state.
func (b *Breakers) Failure(model string) BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	c := b.get(model)
	c.failures++
	c.probing = false
	if c.state == BreakerHalfOpen || c.failures >= b.cfg.FailureThreshold {
		c.state = BreakerOpen
		c.openedAt = b.now()
	}
	return c.state
}

// Release ends a call that produced no verdict on the upstream, such as
// one abandoned by its caller. A pending probe slot is freed without
// counting a failure; the next Allow may probe again.
func (b *Breakers) Release(model string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.get(model).probing = false
}

// State returns the current state for model.
func (b *Breakers) State(model string) BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.get(model).state
}

func (b *Breakers) get(model string) *circuit {
	c, ok := b.circuits[model]
	if !ok {
		c = &circuit{}
		b.circuits[model] = c
	}
	return c
}
