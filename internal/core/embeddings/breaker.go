package embeddings

import (
	"sync"
	"time"
)

type breakerState int

const (
	stateClosed breakerState = iota
	stateOpen
	stateHalfOpen
)

const defaultBreakerThreshold = 5

// BreakerConfig controls when a provider is taken out of rotation.
type BreakerConfig struct {
	// Threshold is the number of consecutive failures that opens the breaker.
	Threshold int
	// Cooldown is how long an open breaker rejects calls before one probe is let through.
	Cooldown time.Duration
}

// breaker is a three-state circuit breaker. After the cooldown a single
// probe call is admitted; its outcome closes or reopens the breaker.
type breaker struct {
	mu       sync.Mutex
	cfg      BreakerConfig
	state    breakerState
	failures int
	openedAt time.Time
	now      func() time.Time
}

func newBreaker(cfg BreakerConfig, now func() time.Time) *breaker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = defaultBreakerThreshold
	}

	if cfg.Cooldown <= 0 {
		cfg.Cooldown = time.Minute
	}

	return &breaker{cfg: cfg, now: now}
}

// allow reports whether a call may go out now.
func (b *breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case stateOpen:
		if b.now().Sub(b.openedAt) < b.cfg.Cooldown {
			return false
		}

		b.state = stateHalfOpen

		return true
	case stateHalfOpen:
		// A probe is already in flight.
		return false
	default:
		return true
	}
}

func (b *breaker) success() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = stateClosed
	b.failures = 0
}

// failure records a failed call and reports whether the breaker just opened.
func (b *breaker) failure() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++

	if b.state == stateHalfOpen || b.failures >= b.cfg.Threshold {
		opened := b.state != stateOpen
		b.state = stateOpen
		b.openedAt = b.now()

		return opened
	}

	return false
}

func (b *breaker) open() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.state == stateOpen
}
