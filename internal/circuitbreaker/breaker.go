package circuitbreaker

import (
	"errors"
	"sync"
	"time"
)

// ErrOpen is returned when the breaker rejects a call without running it.
var ErrOpen = errors.New("circuit breaker is open")

type Config struct {
	MaxFailures     int           // Consecutive failures before opening (default 5)
	Timeout         time.Duration // Time open before probing again (default 30s)
	HalfOpenSuccess int           // Successes in half-open to close (default 1)
}

func (c Config) withDefaults() Config {
	if c.MaxFailures <= 0 {
		c.MaxFailures = 5
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.HalfOpenSuccess <= 0 {
		c.HalfOpenSuccess = 1
	}
	return c
}

// Breaker guards one backend target. After MaxFailures consecutive failures
// it opens and fails calls fast; after Timeout it lets a probe through.
type Breaker struct {
	mu              sync.Mutex
	cfg             Config
	state           State
	failures        int
	halfOpenHits    int
	lastFailure     time.Time
	lastStateChange time.Time
}

func New(cfg Config) *Breaker {
	return &Breaker{
		cfg:             cfg.withDefaults(),
		state:           StateClosed,
		lastStateChange: time.Now(),
	}
}

// Call runs fn under the breaker. The breaker is released before fn runs so
// slow backends do not serialize behind the lock.
func (b *Breaker) Call(fn func() error) error {
	b.mu.Lock()
	if b.state == StateOpen {
		if time.Since(b.lastFailure) <= b.cfg.Timeout {
			b.mu.Unlock()
			return ErrOpen
		}
		b.transition(StateHalfOpen)
		b.halfOpenHits = 0
	}
	b.mu.Unlock()

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()

	if err != nil {
		b.onFailure()
		return err
	}
	b.onSuccess()
	return nil
}

func (b *Breaker) onFailure() {
	b.failures++
	b.lastFailure = time.Now()

	if b.state == StateHalfOpen || b.failures >= b.cfg.MaxFailures {
		b.transition(StateOpen)
		b.halfOpenHits = 0
	}
}

func (b *Breaker) onSuccess() {
	switch b.state {
	case StateHalfOpen:
		b.halfOpenHits++
		if b.halfOpenHits >= b.cfg.HalfOpenSuccess {
			b.transition(StateClosed)
			b.failures = 0
		}
	case StateClosed:
		b.failures = 0
	}
}

func (b *Breaker) transition(next State) {
	if b.state != next {
		b.state = next
		b.lastStateChange = time.Now()
	}
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = StateClosed
	b.failures = 0
	b.halfOpenHits = 0
	b.lastStateChange = time.Now()
}

type Metrics struct {
	State           State     `json:"state"`
	Failures        int       `json:"failures"`
	LastFailure     time.Time `json:"last_failure"`
	LastStateChange time.Time `json:"last_state_change"`
}

func (b *Breaker) Metrics() Metrics {
	b.mu.Lock()
	defer b.mu.Unlock()

	return Metrics{
		State:           b.state,
		Failures:        b.failures,
		LastFailure:     b.lastFailure,
		LastStateChange: b.lastStateChange,
	}
}
