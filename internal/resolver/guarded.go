package resolver

import (
	"context"

	"intent-trader/internal/resilience"
)

// Guarded wraps a resolver with a circuit breaker. While the circuit is
// open, Resolve fails immediately and the caller's cascade moves on.
type Guarded struct {
	inner   Resolver
	breaker *resilience.CircuitBreaker
}

// NewGuarded wraps inner with breaker.
func NewGuarded(inner Resolver, breaker *resilience.CircuitBreaker) *Guarded {
	return &Guarded{inner: inner, breaker: breaker}
}

func (g *Guarded) Name() string             { return g.inner.Name() }
func (g *Guarded) CostPerKTokens() CostRate { return g.inner.CostPerKTokens() }

func (g *Guarded) Resolve(ctx context.Context, req Request) (*Response, error) {
	return resilience.ExecuteWithResult(g.breaker, ctx, func(ctx context.Context) (*Response, error) {
		return g.inner.Resolve(ctx, req)
	})
}

// Health reports unhealthy while the circuit is open without calling through.
func (g *Guarded) Health(ctx context.Context) (bool, error) {
	if g.breaker.State() == resilience.CircuitOpen {
		return false, nil
	}
	return g.inner.Health(ctx)
}

// Breaker exposes the breaker for diagnostics.
func (g *Guarded) Breaker() *resilience.CircuitBreaker {
	return g.breaker
}
