package resolver

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/osa030/tunebox/internal/domain/track"
	"github.com/osa030/tunebox/internal/infra/metrics"
)

// Strategy is one way of resolving refs. It returns ErrNotApplicable for
// refs it does not handle.
type Strategy interface {
	Name() string
	Resolve(ctx context.Context, ref track.Ref) (*track.Resolution, error)
}

// GuardConfig configures the breaker and rate limiter around each strategy.
type GuardConfig struct {
	RequestsPerSec  float64       // <= 0 disables rate limiting
	Burst           int           // Limiter burst
	BreakerFailures uint32        // Consecutive failures that open the breaker
	BreakerOpen     time.Duration // How long the breaker stays open
}

type guardedStrategy struct {
	strategy Strategy
	name     string
	breaker  *gobreaker.CircuitBreaker[*track.Resolution]
	limiter  *rate.Limiter
}

// Chain tries strategies in order until one resolves the ref.
type Chain struct {
	strategies []guardedStrategy
	metrics    *metrics.Metrics
}

// NewChain creates a chain that tries strategies in the given order.
func NewChain(strategies []Strategy, guard GuardConfig, m *metrics.Metrics) *Chain {
	c := &Chain{metrics: m}
	for _, s := range strategies {
		c.strategies = append(c.strategies, newGuarded(s, s.Name(), guard))
	}
	return c
}

func newGuarded(s Strategy, name string, guard GuardConfig) guardedStrategy {
	failures := guard.BreakerFailures
	if failures == 0 {
		failures = 5
	}
	openFor := guard.BreakerOpen
	if openFor <= 0 {
		openFor = 30 * time.Second
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if guard.RequestsPerSec > 0 {
		burst := guard.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(guard.RequestsPerSec), burst)
	}

	breaker := gobreaker.NewCircuitBreaker[*track.Resolution](gobreaker.Settings{
		Name:    name,
		Timeout: openFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		// Only infrastructure failures should trip the breaker.
		IsSuccessful: func(err error) bool {
			return err == nil ||
				errors.Is(err, ErrNotApplicable) ||
				errors.Is(err, ErrNotFound) ||
				errors.Is(err, ErrUnplayable) ||
				errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			zlog.Warn().Msgf("resolver breaker state changed: strategy=%s from=%s to=%s", name, from, to)
		},
	})

	return guardedStrategy{
		strategy: s,
		name:     name,
		breaker:  breaker,
		limiter:  limiter,
	}
}

// Resolve tries each strategy in order.
func (c *Chain) Resolve(ctx context.Context, ref track.Ref) (*track.Resolution, error) {
	var lastErr error

	for i, gs := range c.strategies {
		zlog.Debug().Msgf("trying strategy: index=%d total=%d name=%s ref=%s",
			i+1, len(c.strategies), gs.name, ref.Short(40))

		if err := gs.limiter.Wait(ctx); err != nil {
			return nil, Timeout(errors.Wrapf(err, "rate limit wait for %s", gs.name))
		}

		start := time.Now()
		res, err := gs.breaker.Execute(func() (*track.Resolution, error) {
			return gs.strategy.Resolve(ctx, ref)
		})
		elapsed := time.Since(start)

		switch {
		case err == nil:
			c.metrics.Resolve(gs.name, "ok", elapsed)
			return res, nil
		case errors.Is(err, ErrNotApplicable):
			continue
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			c.metrics.Resolve(gs.name, "breaker_open", elapsed)
			zlog.Warn().Msgf("strategy unavailable, trying next: strategy=%s", gs.name)
			continue
		}

		if ctx.Err() != nil {
			c.metrics.Resolve(gs.name, string(ReasonTimeout), elapsed)
			return nil, Timeout(errors.Wrapf(err, "strategy %s", gs.name))
		}

		c.metrics.Resolve(gs.name, string(ReasonOf(err)), elapsed)
		zlog.Warn().Msgf("strategy failed, trying next: strategy=%s error=%v", gs.name, err)
		lastErr = errors.Wrapf(err, "strategy %s", gs.name)
	}

	if lastErr != nil {
		return nil, lastErr
	}
	return nil, Unplayable(errors.Newf("no strategy can resolve %s", ref.Short(40)))
}

// Names returns the strategy names in order.
func (c *Chain) Names() []string {
	names := make([]string, len(c.strategies))
	for i, gs := range c.strategies {
		names[i] = gs.name
	}
	return names
}
