// Package circuitbreaker guards calls to optional dependencies such as the
// Redis cache. While the breaker is open calls fail with ErrCircuitOpen
// immediately and the caller falls back to the primary store.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State of a breaker.
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
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

var (
	// ErrCircuitOpen is returned while the breaker is open.
	ErrCircuitOpen = errors.New("circuit breaker is open")
	// ErrTooManyRequests is returned when every half-open trial slot is taken.
	ErrTooManyRequests = errors.New("too many requests in half-open state")
)

// IsRejected reports whether err came from the breaker rather than the call.
func IsRejected(err error) bool {
	return errors.Is(err, ErrCircuitOpen) || errors.Is(err, ErrTooManyRequests)
}

// ══════════════════════════════════════════════════════════════════════════════
// SETTINGS
// ══════════════════════════════════════════════════════════════════════════════

// Settings configures a breaker. Zero values fall back to defaults.
type Settings struct {
	Name string

	// FailureThreshold consecutive failures open the breaker (default 5).
	FailureThreshold int

	// SuccessThreshold consecutive half-open successes close it (default 2).
	SuccessThreshold int

	// OpenFor is how long the breaker stays open before probing (default 30s).
	OpenFor time.Duration

	// HalfOpenSlots is how many trial calls may run at once (default 1).
	HalfOpenSlots int

	// OnStateChange is called with the breaker lock held; keep it short.
	OnStateChange func(name string, from, to State)

	// IsFailure filters errors; nil counts every error.
	IsFailure func(error) bool
}

func (s *Settings) applyDefaults() {
	if s.FailureThreshold <= 0 {
		s.FailureThreshold = 5
	}
	if s.SuccessThreshold <= 0 {
		s.SuccessThreshold = 2
	}
	if s.OpenFor <= 0 {
		s.OpenFor = 30 * time.Second
	}
	if s.HalfOpenSlots <= 0 {
		s.HalfOpenSlots = 1
	}
}

// Snapshot is a point-in-time view of a breaker.
type Snapshot struct {
	Name                string
	State               State
	Requests            int
	Failures            int
	ConsecutiveFailures int
	OpenedAt            time.Time
}

// ══════════════════════════════════════════════════════════════════════════════
// BREAKER
// ══════════════════════════════════════════════════════════════════════════════

// CircuitBreaker is safe for concurrent use.
type CircuitBreaker struct {
	settings Settings
	now      func() time.Time

	mu       sync.Mutex
	state    State
	requests int
	failures int
	failRun  int // consecutive failures
	okRun    int // consecutive half-open successes
	inFlight int // half-open trial calls running
	openedAt time.Time
}

// New creates a closed breaker.
func New(settings Settings) *CircuitBreaker {
	settings.applyDefaults()
	return &CircuitBreaker{settings: settings, now: time.Now}
}

// CacheBreaker returns the breaker used in front of Redis. Misses and
// caller cancellations are not failures.
func CacheBreaker(isMiss func(error) bool, onStateChange func(name string, from, to State)) *CircuitBreaker {
	return New(Settings{
		Name:             "redis",
		FailureThreshold: 5,
		SuccessThreshold: 2,
		OpenFor:          15 * time.Second,
		HalfOpenSlots:    2,
		OnStateChange:    onStateChange,
		IsFailure: func(err error) bool {
			if errors.Is(err, context.Canceled) {
				return false
			}
			return isMiss == nil || !isMiss(err)
		},
	})
}

// Execute runs fn if the breaker admits it and records the outcome.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	trial, err := cb.admit()
	if err != nil {
		return err
	}
	err = fn(ctx)
	cb.record(trial, err)
	return err
}

// Run is Execute for calls that return a value.
func Run[T any](ctx context.Context, cb *CircuitBreaker, fn func(context.Context) (T, error)) (T, error) {
	var out T
	err := cb.Execute(ctx, func(ctx context.Context) error {
		var err error
		out, err = fn(ctx)
		return err
	})
	return out, err
}

// admit reports whether the call is a half-open trial.
func (cb *CircuitBreaker) admit() (bool, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return false, nil
	case StateOpen:
		if cb.now().Sub(cb.openedAt) < cb.settings.OpenFor {
			return false, ErrCircuitOpen
		}
		cb.transition(StateHalfOpen)
	}

	if cb.inFlight >= cb.settings.HalfOpenSlots {
		return false, ErrTooManyRequests
	}
	cb.inFlight++
	return true, nil
}

func (cb *CircuitBreaker) record(trial bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.requests++
	if trial && cb.inFlight > 0 {
		cb.inFlight--
	}

	failed := err != nil
	if failed && cb.settings.IsFailure != nil {
		failed = cb.settings.IsFailure(err)
	}

	if !failed {
		cb.failRun = 0
		if cb.state == StateHalfOpen {
			cb.okRun++
			if cb.okRun >= cb.settings.SuccessThreshold {
				cb.transition(StateClosed)
			}
		}
		return
	}

	cb.failures++
	cb.failRun++
	switch cb.state {
	case StateClosed:
		if cb.failRun >= cb.settings.FailureThreshold {
			cb.transition(StateOpen)
		}
	case StateHalfOpen:
		cb.transition(StateOpen)
	}
}

// transition must be called with mu held.
func (cb *CircuitBreaker) transition(to State) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	cb.failRun, cb.okRun, cb.inFlight = 0, 0, 0
	if to == StateOpen {
		cb.openedAt = cb.now()
	}
	if cb.settings.OnStateChange != nil {
		cb.settings.OnStateChange(cb.settings.Name, from, to)
	}
}

// State returns the current state. An open breaker whose wait has elapsed
// still reads as open until the next call tries it.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Snapshot returns the state and counters.
func (cb *CircuitBreaker) Snapshot() Snapshot {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return Snapshot{
		Name:                cb.settings.Name,
		State:               cb.state,
		Requests:            cb.requests,
		Failures:            cb.failures,
		ConsecutiveFailures: cb.failRun,
		OpenedAt:            cb.openedAt,
	}
}
