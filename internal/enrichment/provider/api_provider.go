package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"github.com/Strikepoint-Media/vapi-endcall-webhook/internal/constants"
	"github.com/Strikepoint-Media/vapi-endcall-webhook/pkg/fieldpath"
	"github.com/Strikepoint-Media/vapi-endcall-webhook/pkg/phone"
)

type APIProvider struct {
	client  *http.Client
	baseURL string
	apiKey  string
	limiter *rate.Limiter
}

type APIOption func(*APIProvider)

func WithHTTPClient(client *http.Client) APIOption {
	return func(p *APIProvider) {
		p.client = client
	}
}

// WithRateLimit caps outgoing lookups to stay inside the provider's quota.
// A non-positive rps disables the limiter.
func WithRateLimit(rps float64, burst int) APIOption {
	return func(p *APIProvider) {
		if rps <= 0 {
			p.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		p.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

func NewAPIProvider(baseURL, apiKey string, opts ...APIOption) *APIProvider {
	p := &APIProvider{
		client:  &http.Client{Timeout: 10 * time.Second},
		baseURL: baseURL,
		apiKey:  apiKey,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *APIProvider) Name() string {
	return constants.ProviderNameAPI
}

func (p *APIProvider) Lookup(ctx context.Context, number string) (map[string]interface{}, error) {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRateLimited, err)
		}
	}

	u, err := url.Parse(p.baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid lookup url: %w", err)
	}
	q := u.Query()
	q.Set("access_key", p.apiKey)
	q.Set("number", phone.Digits(number))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("api request failed: %w", err)
	}
	defer resp.Body.Close()

	body := io.LimitReader(resp.Body, constants.MaxEnrichmentBodyLen)

	if resp.StatusCode < constants.HTTPStatusOKMin || resp.StatusCode >= constants.HTTPStatusOKMax {
		_, _ = io.Copy(io.Discard, body)
		return nil, fmt.Errorf("api returned status: %d", resp.StatusCode)
	}

	var result map[string]interface{}
	if err := json.NewDecoder(body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	if success, ok := result["success"].(bool); ok && !success {
		rejected := &RejectedError{}
		if code, ok := fieldpath.Float(result, "error.code"); ok {
			rejected.Code = int(code)
		}
		rejected.Info, _ = fieldpath.String(result, "error.info", "error.type", "error.message")
		if rejected.Info == "" {
			rejected.Info = "success=false"
		}
		return nil, rejected
	}

	return result, nil
}
