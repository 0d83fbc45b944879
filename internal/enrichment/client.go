// Package enrichment augments a phone number with third-party line data.
// Lookups are best effort: every failure yields a nil result.
package enrichment

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Strikepoint-Media/vapi-endcall-webhook/internal/config"
	"github.com/Strikepoint-Media/vapi-endcall-webhook/internal/enrichment/provider"
	"github.com/Strikepoint-Media/vapi-endcall-webhook/internal/logger"
	"github.com/Strikepoint-Media/vapi-endcall-webhook/pkg/metrics"
	"github.com/Strikepoint-Media/vapi-endcall-webhook/pkg/phone"
)

const defaultTimeout = 5 * time.Second

type Client struct {
	provider provider.Provider
	enabled  bool
	timeout  time.Duration
	region   string
	logger   logger.Logger

	disabledOnce sync.Once
}

// NewClient builds the lookup chain: HTTP provider, then the circuit
// breaker, then the Redis cache when a client is given.
func NewClient(cfg config.EnrichmentConfig, cbCfg config.CircuitBreakerConfig, cache *redis.Client, log logger.Logger) *Client {
	var p provider.Provider = provider.NewAPIProvider(cfg.APIURL, cfg.APIKey,
		provider.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
		provider.WithRateLimit(cfg.RateLimit.RPS, cfg.RateLimit.Burst),
	)
	p = provider.WrapWithCircuitBreaker(p, "enrichment-api", cbCfg)
	if cache != nil {
		p = provider.NewCacheProvider(p, cache, cfg.CacheTTL, log)
	}

	return NewClientWithProvider(p, Options{
		Enabled: cfg.APIKey != "" && cfg.APIURL != "",
		Timeout: cfg.Timeout,
		Region:  cfg.DefaultRegion,
	}, log)
}

type Options struct {
	Enabled bool
	Timeout time.Duration
	Region  string
}

func NewClientWithProvider(p provider.Provider, opts Options, log logger.Logger) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if log == nil {
		log = logger.NopLogger()
	}
	return &Client{
		provider: p,
		enabled:  opts.Enabled && p != nil,
		timeout:  opts.Timeout,
		region:   opts.Region,
		logger:   log,
	}
}

// Enrich looks up number. It returns nil when number is empty, when lookups
// are not configured, or when the lookup fails for any reason.
func (c *Client) Enrich(ctx context.Context, number string) *Result {
	if number == "" {
		return nil
	}
	if !c.enabled {
		c.disabledOnce.Do(func() {
			c.logger.WarnwCtx(ctx, "Phone enrichment disabled: no lookup access key configured")
		})
		metrics.IncEnrichmentLookup("disabled")
		return nil
	}

	e164 := phone.NormalizeE164(number, c.region)

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	raw, err := c.provider.Lookup(ctx, e164)
	metrics.ObserveEnrichmentProviderDuration(c.provider.Name(), time.Since(start))
	if err != nil {
		status := "error"
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			status = "timeout"
		case provider.IsRejected(err):
			status = "rejected"
		}
		metrics.IncEnrichmentLookup(status)
		c.logger.WarnwCtx(ctx, "Phone enrichment failed",
			"number", e164,
			"status", status,
			"error", err,
		)
		return nil
	}

	result := mapResponse(raw)
	if result == nil {
		metrics.IncEnrichmentLookup("unmapped")
		c.logger.WarnwCtx(ctx, "Phone enrichment response had no recognisable fields",
			"number", e164,
		)
		return nil
	}

	metrics.IncEnrichmentLookup("success")
	c.logger.DebugwCtx(ctx, "Phone enrichment succeeded",
		"number", e164,
		"line_type", result.LineType,
		"carrier", result.Carrier,
	)
	return result
}
