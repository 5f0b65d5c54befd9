// Package resilience provides the circuit breaker guarding optional side
// stores. The orchestrator's hot path must never block on a flaky database,
// so archive writes go through a [Breaker] that rejects fast while the
// backend is down and probes it again after a cooldown.
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrOpen is returned by [Breaker.Do] while the breaker rejects calls.
var ErrOpen = errors.New("breaker is open")

// State represents the current operating mode of a [Breaker].
type State int

const (
	// StateClosed is the normal operating state, all calls are forwarded.
	StateClosed State = iota

	// StateOpen means the breaker tripped on consecutive failures. Calls are
	// rejected with [ErrOpen] until the cooldown elapses.
	StateOpen

	// StateHalfOpen is the probe state after the cooldown: one call is let
	// through, and its outcome decides whether the breaker closes or
	// re-opens.
	StateHalfOpen
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Settings holds the tuning knobs for a [Breaker].
type Settings struct {
	// Name is a human-readable label used in log messages.
	Name string

	// MaxFailures is the number of consecutive failures before the breaker
	// opens. Default: 5.
	MaxFailures int

	// Cooldown is how long the breaker stays open before probing again.
	// Default: 30s.
	Cooldown time.Duration
}

// Breaker is a three-state circuit breaker (closed, open, half-open) with a
// single probe call per cooldown cycle.
type Breaker struct {
	name        string
	maxFailures int
	cooldown    time.Duration

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probing  bool
}

// NewBreaker creates a [Breaker]. Zero-value settings fields get defaults.
func NewBreaker(s Settings) *Breaker {
	if s.MaxFailures <= 0 {
		s.MaxFailures = 5
	}
	if s.Cooldown <= 0 {
		s.Cooldown = 30 * time.Second
	}
	return &Breaker{
		name:        s.Name,
		maxFailures: s.MaxFailures,
		cooldown:    s.Cooldown,
	}
}

// Do runs fn if the breaker allows it. While open it returns [ErrOpen]
// without calling fn; once the cooldown has elapsed a single probe call is
// let through.
func (b *Breaker) Do(fn func() error) error {
	b.mu.Lock()
	switch b.state {
	case StateOpen:
		if time.Since(b.openedAt) < b.cooldown {
			b.mu.Unlock()
			return ErrOpen
		}
		b.state = StateHalfOpen
		b.probing = false
		slog.Info("breaker half-open", "name", b.name)
		fallthrough
	case StateHalfOpen:
		if b.probing {
			b.mu.Unlock()
			return ErrOpen
		}
		b.probing = true
	}
	b.mu.Unlock()

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.onFailure()
	} else {
		b.onSuccess()
	}
	return err
}

// onFailure must be called with b.mu held.
func (b *Breaker) onFailure() {
	if b.state == StateHalfOpen {
		b.state = StateOpen
		b.openedAt = time.Now()
		b.probing = false
		slog.Warn("breaker re-opened after failed probe", "name", b.name)
		return
	}

	b.failures++
	if b.failures >= b.maxFailures {
		b.state = StateOpen
		b.openedAt = time.Now()
		slog.Warn("breaker opened",
			"name", b.name,
			"consecutive_failures", b.failures)
	}
}

// onSuccess must be called with b.mu held.
func (b *Breaker) onSuccess() {
	if b.state == StateHalfOpen {
		slog.Info("breaker closed after successful probe", "name", b.name)
	}
	b.state = StateClosed
	b.failures = 0
	b.probing = false
}

// State returns the breaker's current [State]. An open breaker whose
// cooldown has elapsed reports [StateHalfOpen]; the actual transition
// happens on the next [Breaker.Do].
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && time.Since(b.openedAt) >= b.cooldown {
		return StateHalfOpen
	}
	return b.state
}

// Reset forces the breaker back to closed, clearing all failure counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.failures = 0
	b.probing = false
	slog.Info("breaker manually reset", "name", b.name)
}
