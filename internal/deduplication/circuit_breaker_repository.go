package deduplication

import (
	"context"
	"time"

	"github.com/Strikepoint-Media/vapi-endcall-webhook/internal/config"
	"github.com/Strikepoint-Media/vapi-endcall-webhook/pkg/circuitbreaker"
)

type CircuitBreakerRepository struct {
	repo Repository
	cb   *circuitbreaker.Wrapper
}

func NewCircuitBreakerRepository(repo Repository, cfg config.CircuitBreakerConfig) *CircuitBreakerRepository {
	if !cfg.Enabled {
		return &CircuitBreakerRepository{repo: repo}
	}

	return &CircuitBreakerRepository{
		repo: repo,
		cb:   circuitbreaker.NewWrapper(circuitbreaker.FromSettings("redis-claims", cfg)),
	}
}

func (r *CircuitBreakerRepository) SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error) {
	if r.cb == nil {
		return r.repo.SetNX(ctx, key, value, ttl)
	}
	return circuitbreaker.Execute(ctx, r.cb, func() (bool, error) {
		return r.repo.SetNX(ctx, key, value, ttl)
	})
}

func (r *CircuitBreakerRepository) CountKeys(ctx context.Context, prefix string) (int, error) {
	if r.cb == nil {
		return r.repo.CountKeys(ctx, prefix)
	}
	return circuitbreaker.Execute(ctx, r.cb, func() (int, error) {
		return r.repo.CountKeys(ctx, prefix)
	})
}

func (r *CircuitBreakerRepository) State() string {
	if r.cb == nil {
		return "disabled"
	}
	return r.cb.State().String()
}

func (r *CircuitBreakerRepository) IsOpen() bool {
	if r.cb == nil {
		return false
	}
	return r.cb.IsOpen()
}
