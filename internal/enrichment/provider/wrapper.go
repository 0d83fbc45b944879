package provider

import (
	"github.com/Strikepoint-Media/vapi-endcall-webhook/internal/config"
	"github.com/Strikepoint-Media/vapi-endcall-webhook/pkg/circuitbreaker"
)

func WrapWithCircuitBreaker(p Provider, name string, cfg config.CircuitBreakerConfig) Provider {
	if !cfg.Enabled {
		return p
	}
	return NewCircuitBreakerProvider(p, circuitbreaker.FromSettings(name, cfg))
}
