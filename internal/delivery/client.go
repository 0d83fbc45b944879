// Package delivery posts consolidated call records to the downstream
// automation endpoint.
package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"

	"github.com/Strikepoint-Media/vapi-endcall-webhook/internal/config"
	"github.com/Strikepoint-Media/vapi-endcall-webhook/internal/constants"
	"github.com/Strikepoint-Media/vapi-endcall-webhook/internal/logger"
	"github.com/Strikepoint-Media/vapi-endcall-webhook/pkg/metrics"
	"github.com/Strikepoint-Media/vapi-endcall-webhook/pkg/tracing"
)

const (
	defaultTimeout = 10 * time.Second

	ReasonNotConfigured = "delivery url not configured"
)

// Outcome describes a single delivery attempt. Reason is empty on success.
type Outcome struct {
	Delivered  bool          `json:"delivered"`
	StatusCode int           `json:"statusCode,omitempty"`
	Reason     string        `json:"reason,omitempty"`
	Duration   time.Duration `json:"-"`
}

type Client struct {
	url        string
	headers    map[string]string
	httpClient *http.Client
	logger     logger.Logger

	missingURLOnce sync.Once
}

func NewClient(cfg config.DeliveryConfig, log logger.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if log == nil {
		log = logger.NopLogger()
	}
	return &Client{
		url:        strings.TrimSpace(cfg.URL),
		headers:    cfg.Headers,
		httpClient: &http.Client{Timeout: timeout},
		logger:     log,
	}
}

func (c *Client) Configured() bool {
	return c.url != ""
}

// Deliver makes exactly one POST attempt. Failures are reported through the
// returned Outcome, never retried.
func (c *Client) Deliver(ctx context.Context, record any) Outcome {
	if !c.Configured() {
		c.missingURLOnce.Do(func() {
			c.logger.WarnwCtx(ctx, "Delivery URL is not configured, records will not be forwarded")
		})
		metrics.IncDelivery("skipped")
		return Outcome{Reason: ReasonNotConfigured}
	}

	ctx, span := tracing.GetTracer("relay-delivery").Start(ctx, "delivery.post")
	defer span.End()

	start := time.Now()
	out := c.post(ctx, record)
	out.Duration = time.Since(start)

	status := "success"
	if !out.Delivered {
		status = "failed"
		span.SetStatus(codes.Error, out.Reason)
	}
	span.SetAttributes(attribute.Int("http.response.status_code", out.StatusCode))
	metrics.IncDelivery(status)
	metrics.ObserveDeliveryDuration(out.Duration, status)

	if out.Delivered {
		c.logger.InfowCtx(ctx, "Record delivered",
			"status_code", out.StatusCode,
			"duration_ms", out.Duration.Milliseconds(),
		)
	} else {
		c.logger.WarnwCtx(ctx, "Record delivery failed",
			"status_code", out.StatusCode,
			"reason", out.Reason,
			"duration_ms", out.Duration.Milliseconds(),
		)
	}
	return out
}

func (c *Client) post(ctx context.Context, record any) Outcome {
	body, err := json.Marshal(record)
	if err != nil {
		return Outcome{Reason: fmt.Sprintf("failed to encode record: %v", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return Outcome{Reason: fmt.Sprintf("failed to create request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Outcome{Reason: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= constants.HTTPStatusOKMin && resp.StatusCode < constants.HTTPStatusOKMax {
		_, _ = io.Copy(io.Discard, resp.Body)
		return Outcome{Delivered: true, StatusCode: resp.StatusCode}
	}

	return Outcome{
		StatusCode: resp.StatusCode,
		Reason:     failureReason(resp),
	}
}

func failureReason(resp *http.Response) string {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, constants.MaxReasonBodyLen))
	_, _ = io.Copy(io.Discard, resp.Body)

	text := strings.TrimSpace(string(snippet))
	if text == "" {
		return fmt.Sprintf("downstream returned status %d", resp.StatusCode)
	}
	return fmt.Sprintf("downstream returned status %d: %s", resp.StatusCode, text)
}
