package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kozaktomas/face-finder/internal/logging"
	"github.com/kozaktomas/face-finder/internal/metrics"
	gobreaker "github.com/sony/gobreaker/v2"
)

// lookup carries a Get result through the breaker.
type lookup struct {
	value []byte
	found bool
}

// BreakerBackend short-circuits a failing backend so requests stop waiting on it.
type BreakerBackend struct {
	inner   Backend
	cb      *gobreaker.CircuitBreaker[lookup]
	timeout time.Duration
}

// NewBreakerBackend wraps inner with a circuit breaker.
// The circuit opens after 5 consecutive failures and probes again after 30s.
func NewBreakerBackend(inner Backend, name string, timeout time.Duration) *BreakerBackend {
	metrics.CircuitBreakerState.WithLabelValues(name).Set(0)

	cb := gobreaker.NewCircuitBreaker[lookup](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			// Caller cancellation does not count as a backend failure.
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("cache circuit breaker state change")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
		},
	})

	return &BreakerBackend{inner: inner, cb: cb, timeout: timeout}
}

// stateToFloat converts circuit breaker state to numeric value for metrics
func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

func (b *BreakerBackend) execute(ctx context.Context, fn func(ctx context.Context) (lookup, error)) (lookup, error) {
	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	res, err := b.cb.Execute(func() (lookup, error) {
		return fn(ctx)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return lookup{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return res, err
}

func (b *BreakerBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	res, err := b.execute(ctx, func(ctx context.Context) (lookup, error) {
		v, ok, err := b.inner.Get(ctx, key)
		return lookup{value: v, found: ok}, err
	})
	return res.value, res.found, err
}

func (b *BreakerBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	_, err := b.execute(ctx, func(ctx context.Context) (lookup, error) {
		return lookup{}, b.inner.Set(ctx, key, value, ttl)
	})
	return err
}

func (b *BreakerBackend) Delete(ctx context.Context, key string) error {
	_, err := b.execute(ctx, func(ctx context.Context) (lookup, error) {
		return lookup{}, b.inner.Delete(ctx, key)
	})
	return err
}

// DeletePrefix bypasses the breaker: invalidation must reach the backend whenever it is up.
func (b *BreakerBackend) DeletePrefix(ctx context.Context, prefix string) error {
	return b.inner.DeletePrefix(ctx, prefix)
}

// State returns the current breaker state.
func (b *BreakerBackend) State() gobreaker.State {
	return b.cb.State()
}

func (b *BreakerBackend) Close() error {
	return b.inner.Close()
}

var _ Backend = (*BreakerBackend)(nil)
