package provider

import (
	"context"

	"github.com/Strikepoint-Media/vapi-endcall-webhook/pkg/circuitbreaker"
)

type CircuitBreakerProvider struct {
	next Provider
	cb   *circuitbreaker.Wrapper
}

func NewCircuitBreakerProvider(next Provider, cfg circuitbreaker.Config) *CircuitBreakerProvider {
	return &CircuitBreakerProvider{
		next: next,
		cb:   circuitbreaker.NewWrapper(cfg),
	}
}

func (p *CircuitBreakerProvider) Name() string {
	return p.next.Name()
}

func (p *CircuitBreakerProvider) Lookup(ctx context.Context, number string) (map[string]interface{}, error) {
	return circuitbreaker.Execute(ctx, p.cb, func() (map[string]interface{}, error) {
		return p.next.Lookup(ctx, number)
	})
}

func (p *CircuitBreakerProvider) State() string {
	return p.cb.State().String()
}

func (p *CircuitBreakerProvider) IsOpen() bool {
	return p.cb.IsOpen()
}
