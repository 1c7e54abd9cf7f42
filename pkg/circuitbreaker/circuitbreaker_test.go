package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	errDown = errors.New("connection refused")
	errMiss = errors.New("miss")
)

func fail(context.Context) error    { return errDown }
func succeed(context.Context) error { return nil }

// manualClock lets tests move past OpenFor without sleeping.
type manualClock struct{ t time.Time }

func (c *manualClock) now() time.Time          { return c.t }
func (c *manualClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(s Settings) (*CircuitBreaker, *manualClock) {
	clock := &manualClock{t: time.Date(2025, 3, 10, 19, 0, 0, 0, time.UTC)}
	cb := New(s)
	cb.now = clock.now
	return cb, clock
}

func TestOpensAfterThresholdAndRecovers(t *testing.T) {
	var transitions []string
	cb, clock := newTestBreaker(Settings{
		Name:             "test",
		FailureThreshold: 2,
		SuccessThreshold: 2,
		OpenFor:          time.Second,
		OnStateChange: func(_ string, from, to State) {
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	})
	ctx := context.Background()

	assert.ErrorIs(t, cb.Execute(ctx, fail), errDown)
	assert.ErrorIs(t, cb.Execute(ctx, fail), errDown)
	require.Equal(t, StateOpen, cb.State())

	calls := 0
	err := cb.Execute(ctx, func(context.Context) error { calls++; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.True(t, IsRejected(err))
	assert.Zero(t, calls)

	clock.advance(time.Second)

	// Sequential trial calls share one slot; it is released after each call.
	require.NoError(t, cb.Execute(ctx, succeed))
	assert.Equal(t, StateHalfOpen, cb.State())
	require.NoError(t, cb.Execute(ctx, succeed))
	assert.Equal(t, StateClosed, cb.State())

	assert.Equal(t, []string{"closed->open", "open->half-open", "half-open->closed"}, transitions)
}

func TestHalfOpenFailureReopens(t *testing.T) {
	cb, clock := newTestBreaker(Settings{FailureThreshold: 1, OpenFor: time.Second})
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	opened := cb.Snapshot().OpenedAt
	clock.advance(2 * time.Second)

	assert.ErrorIs(t, cb.Execute(ctx, fail), errDown)
	snap := cb.Snapshot()
	assert.Equal(t, StateOpen, snap.State)
	assert.True(t, snap.OpenedAt.After(opened))
}

func TestHalfOpenLimitsConcurrentProbes(t *testing.T) {
	cb, clock := newTestBreaker(Settings{FailureThreshold: 1, OpenFor: time.Second})
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	clock.advance(time.Second)

	var inner error
	require.NoError(t, cb.Execute(ctx, func(ctx context.Context) error {
		inner = cb.Execute(ctx, succeed)
		return nil
	}))
	assert.ErrorIs(t, inner, ErrTooManyRequests)
}

func TestCacheBreakerIgnoresMisses(t *testing.T) {
	cb := CacheBreaker(func(err error) bool { return errors.Is(err, errMiss) }, nil)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		_ = cb.Execute(ctx, func(context.Context) error { return errMiss })
		_ = cb.Execute(ctx, func(context.Context) error { return context.Canceled })
	}
	snap := cb.Snapshot()
	assert.Equal(t, StateClosed, snap.State)
	assert.Equal(t, 20, snap.Requests)
	assert.Zero(t, snap.Failures)
}

func TestRunReturnsValue(t *testing.T) {
	cb := New(Settings{Name: "test"})
	n, err := Run(context.Background(), cb, func(context.Context) (int, error) { return 42, nil })
	require.NoError(t, err)
	assert.Equal(t, 42, n)
}
