package circuitbreaker

import (
	"sync"
	"time"

	"github.com/pkg/errors"
)

// ErrOpen is returned without calling fn while the breaker is open.
var ErrOpen = errors.New("circuit breaker is open")

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	default:
		return "half-open"
	}
}

// CircuitBreaker opens after more than maxFailures failures within window
// and lets a single probe call through once timeout has passed.
type CircuitBreaker struct {
	maxFailures int
	window      time.Duration
	timeout     time.Duration
	isFailure   func(error) bool
	now         func() time.Time

	mu          sync.Mutex
	state       State
	failures    []time.Time
	openedAt    time.Time
	probeActive bool
}

type Option func(*CircuitBreaker)

// WithWindow sets how far back failures are counted. Default 60s.
func WithWindow(window time.Duration) Option {
	return func(cb *CircuitBreaker) { cb.window = window }
}

// WithFailureFilter decides which errors count against the breaker. By
// default every non-nil error does.
func WithFailureFilter(fn func(error) bool) Option {
	return func(cb *CircuitBreaker) { cb.isFailure = fn }
}

func New(maxFailures int, timeout time.Duration, opts ...Option) *CircuitBreaker {
	cb := &CircuitBreaker{
		maxFailures: maxFailures,
		window:      60 * time.Second,
		timeout:     timeout,
		isFailure:   func(err error) bool { return err != nil },
		now:         time.Now,
		state:       StateClosed,
		failures:    make([]time.Time, 0),
	}
	for _, opt := range opts {
		opt(cb)
	}
	return cb
}

// Execute runs fn unless the breaker is open, in which case fallback runs
// instead (or ErrOpen is returned when fallback is nil).
func (cb *CircuitBreaker) Execute(fn func() error, fallback func() error) error {
	if !cb.allow() {
		if fallback != nil {
			return fallback()
		}
		return ErrOpen
	}

	err := fn()
	cb.record(err)
	return err
}

func (cb *CircuitBreaker) allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if cb.now().Sub(cb.openedAt) < cb.timeout {
			return false
		}
		cb.state = StateHalfOpen
		cb.probeActive = true
		return true
	case StateHalfOpen:
		if cb.probeActive {
			return false
		}
		cb.probeActive = true
		return true
	default:
		return true
	}
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.now()
	if err == nil || !cb.isFailure(err) {
		if cb.state == StateHalfOpen {
			cb.state = StateClosed
			cb.failures = cb.failures[:0]
		}
		cb.probeActive = false
		cb.cleanOldFailures(now)
		return
	}

	cb.failures = append(cb.failures, now)
	cb.cleanOldFailures(now)
	if cb.state == StateHalfOpen || len(cb.failures) > cb.maxFailures {
		cb.state = StateOpen
		cb.openedAt = now
	}
	cb.probeActive = false
}

func (cb *CircuitBreaker) cleanOldFailures(now time.Time) {
	cutoff := now.Add(-cb.window)
	kept := cb.failures[:0]
	for _, at := range cb.failures {
		if at.After(cutoff) {
			kept = append(kept, at)
		}
	}
	cb.failures = kept
}

func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}
