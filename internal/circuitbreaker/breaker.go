// Package circuitbreaker guards the LLM provider path. After enough
// consecutive failures the breaker opens and the pipeline fails fast with a
// retryable error instead of burning the job's attempt budget on a provider
// outage. A cooldown later, a single probe decides whether to close again.
package circuitbreaker

import (
	"sync"
	"time"
)

// State is the breaker position.
type State int

const (
	// Closed: calls flow to the provider.
	Closed State = iota
	// Open: calls fail fast until the cooldown elapses.
	Open
	// HalfOpen: exactly one probe call is in flight.
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	}
	return "unknown"
}

const (
	defaultThreshold = 3
	defaultCooldown  = 30 * time.Second
)

// Breaker counts consecutive failures and moves between Closed, Open, and
// HalfOpen. Safe for concurrent use.
type Breaker struct {
	mu          sync.Mutex
	current     State
	consecutive int
	openedAt    time.Time
	notify      func(from, to State)

	failureThreshold int
	cooldown         time.Duration
	nowFunc          func() time.Time // test seam
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithThreshold sets how many consecutive failures trip the breaker.
// Non-positive values keep the default of 3.
func WithThreshold(n int) Option {
	return func(b *Breaker) {
		if n > 0 {
			b.failureThreshold = n
		}
	}
}

// WithCooldown sets the open duration before a probe is permitted.
// Non-positive values keep the default of 30s.
func WithCooldown(d time.Duration) Option {
	return func(b *Breaker) {
		if d > 0 {
			b.cooldown = d
		}
	}
}

// WithOnStateChange registers a transition callback. It runs with the
// breaker's lock held and must not call back into the breaker.
func WithOnStateChange(fn func(from, to State)) Option {
	return func(b *Breaker) { b.notify = fn }
}

// New returns a closed Breaker.
func New(opts ...Option) *Breaker {
	b := &Breaker{
		failureThreshold: defaultThreshold,
		cooldown:         defaultCooldown,
		nowFunc:          time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Allow reports whether the next provider call may be dispatched. While Open
// it returns false until the cooldown has elapsed, at which point it admits a
// single probe and moves to HalfOpen. While HalfOpen, further calls are
// rejected until the probe reports its outcome.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.current {
	case Closed:
		return true
	case Open:
		if b.nowFunc().After(b.openedAt.Add(b.cooldown)) {
			b.transition(HalfOpen)
			return true
		}
	}
	return false
}

// RecordSuccess clears the failure streak. A successful probe closes the
// breaker.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutive = 0
	if b.current == HalfOpen {
		b.transition(Closed)
	}
}

// RecordFailure extends the failure streak, tripping the breaker at the
// threshold. A failed probe reopens it immediately.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutive++
	switch b.current {
	case Closed:
		if b.consecutive >= b.failureThreshold {
			b.trip()
		}
	case HalfOpen:
		b.trip()
	}
}

// CurrentState returns the breaker position without consulting the cooldown
// timer; Allow is the only way to move Open to HalfOpen.
func (b *Breaker) CurrentState() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

func (b *Breaker) trip() {
	b.transition(Open)
	b.openedAt = b.nowFunc()
}

func (b *Breaker) transition(to State) {
	from := b.current
	if from == to {
		return
	}
	b.current = to
	if b.notify != nil {
		b.notify(from, to)
	}
}
