package deduplication

import (
	"context"
	"fmt"
	"time"

	"github.com/Strikepoint-Media/vapi-endcall-webhook/internal/config"
	"github.com/Strikepoint-Media/vapi-endcall-webhook/internal/constants"
	"github.com/Strikepoint-Media/vapi-endcall-webhook/internal/logger"
	"github.com/Strikepoint-Media/vapi-endcall-webhook/pkg/errors"
	"github.com/Strikepoint-Media/vapi-endcall-webhook/pkg/metrics"
	"github.com/Strikepoint-Media/vapi-endcall-webhook/pkg/tracing"
)

const claimMetricsInterval = 30 * time.Second

// Service hands out delivery claims. A claim is taken at most once per key
// within the configured TTL, across every process sharing the repository.
type Service struct {
	repo   Repository
	cfg    config.DeduplicationConfig
	logger logger.Logger
}

func NewService(repo Repository, cfg config.DeduplicationConfig, log logger.Logger) *Service {
	if log == nil {
		log = logger.NopLogger()
	}
	return &Service{
		repo:   repo,
		cfg:    cfg,
		logger: log,
	}
}

// Claim reports whether the caller now owns delivery for a call. Id-less
// events cannot be claimed; each of them is its own delivery.
func (s *Service) Claim(ctx context.Context, callID string) (bool, error) {
	ctx, span := tracing.StartCallSpan(ctx, "relay-claims", "deduplication.claim", callID)
	defer span.End()

	if err := ctx.Err(); err != nil {
		return false, err
	}

	if callID == "" {
		return false, errors.ErrValidation.WithDetail("field", "call_id")
	}
	key := constants.CacheKeyPrefixClaim + callID

	start := time.Now()
	claimed, err := s.repo.SetNX(ctx, key, time.Now().Unix(), s.ttl())
	duration := time.Since(start)

	if err != nil {
		metrics.ObserveDeliveryClaim(duration, "error")
		return s.handleRedisError(ctx, err, key)
	}

	status := "claimed"
	if !claimed {
		status = "duplicate"
	}
	metrics.ObserveDeliveryClaim(duration, status)
	return claimed, nil
}

func (s *Service) ttl() time.Duration {
	if s.cfg.TTLSeconds <= 0 {
		return 0
	}
	return time.Duration(s.cfg.TTLSeconds) * time.Second
}

func (s *Service) handleRedisError(ctx context.Context, err error, key string) (bool, error) {
	if s.cfg.OnRedisError == constants.FallbackDeny {
		metrics.IncFallbackUsage("deduplication", "deny_on_error")
		return false, fmt.Errorf("claim store error for %s: %w", key, err)
	}

	metrics.IncFallbackUsage("deduplication", "allow_on_error")
	s.logger.WarnwCtx(ctx, "Claim store error, allowing delivery (fallback: allow)",
		"error", err,
		"key", key,
	)
	return true, nil
}

// Run publishes the number of live claim keys until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	ticker := time.NewTicker(claimMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.updateClaimMetrics(ctx)
		}
	}
}

func (s *Service) updateClaimMetrics(ctx context.Context) {
	n, err := s.repo.CountKeys(ctx, constants.CacheKeyPrefixClaim)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Debugw("Failed to count claim keys", "error", err)
		}
		return
	}
	metrics.SetDeliveryClaimKeys(n)
}
