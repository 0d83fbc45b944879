package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Strikepoint-Media/vapi-endcall-webhook/internal/aggregator"
	"github.com/Strikepoint-Media/vapi-endcall-webhook/internal/config"
	"github.com/Strikepoint-Media/vapi-endcall-webhook/internal/constants"
	"github.com/Strikepoint-Media/vapi-endcall-webhook/internal/deduplication"
	"github.com/Strikepoint-Media/vapi-endcall-webhook/internal/delivery"
	"github.com/Strikepoint-Media/vapi-endcall-webhook/internal/enrichment"
	"github.com/Strikepoint-Media/vapi-endcall-webhook/internal/logger"
)

const lookupResponse = `{
	"valid": true,
	"international_format": "+14155552671",
	"country_code": "US",
	"country_name": "United States of America",
	"location": "San Francisco",
	"carrier": "AT&T Mobility LLC",
	"line_type": "mobile"
}`

type pipeline struct {
	dispatcher *Dispatcher
	aggregator *aggregator.Aggregator
	finalizer  *Finalizer
	received   chan map[string]any
}

func newPipeline(t *testing.T, window time.Duration, lookup http.HandlerFunc) *pipeline {
	t.Helper()

	received := make(chan map[string]any, 16)
	downstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var doc map[string]any
		if err := json.NewDecoder(r.Body).Decode(&doc); err == nil {
			received <- doc
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(downstream.Close)

	lookupSrv := httptest.NewServer(lookup)
	t.Cleanup(lookupSrv.Close)

	log := logger.NopLogger()
	enricher := enrichment.NewClient(config.EnrichmentConfig{
		APIURL:        lookupSrv.URL,
		APIKey:        "test-key",
		Timeout:       200 * time.Millisecond,
		DefaultRegion: "US",
	}, config.CircuitBreakerConfig{}, nil, log)
	deliverer := delivery.NewClient(config.DeliveryConfig{URL: downstream.URL, Timeout: time.Second}, log)
	claims := deduplication.NewService(deduplication.NewMemoryRepository(), config.DeduplicationConfig{
		TTLSeconds:   60,
		OnRedisError: constants.FallbackAllow,
	}, log)

	finalizer := NewFinalizer(enricher, deliverer, log, WithClaims(claims))
	agg := aggregator.New(aggregator.Config{
		FallbackWindow: window,
		TombstoneTTL:   time.Minute,
	}, finalizer.Flush, log)
	t.Cleanup(func() { _ = agg.Shutdown(context.Background()) })

	return &pipeline{
		dispatcher: NewDispatcher(agg, log),
		aggregator: agg,
		finalizer:  finalizer,
		received:   received,
	}
}

func (p *pipeline) next(t *testing.T) map[string]any {
	t.Helper()
	select {
	case doc := <-p.received:
		return doc
	case <-time.After(3 * time.Second):
		t.Fatal("no record delivered")
		return nil
	}
}

func (p *pipeline) assertNothingMore(t *testing.T, wait time.Duration) {
	t.Helper()
	select {
	case doc := <-p.received:
		t.Fatalf("unexpected extra delivery: %v", doc)
	case <-time.After(wait):
	}
}

func okLookup(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(lookupResponse))
}

func statusUpdate(callID string) map[string]any {
	return map[string]any{
		"message": map[string]any{
			"type": "status-update",
			"call": map[string]any{
				"id":        callID,
				"startedAt": "2024-05-01T10:00:00Z",
				"customer":  map[string]any{"number": "+14155552671", "name": "Ada"},
			},
		},
	}
}

func endOfCallReport(callID string) map[string]any {
	return map[string]any{
		"message": map[string]any{
			"type":            "end-of-call-report",
			"call":            map[string]any{"id": callID},
			"endedReason":     "customer-ended-call",
			"durationSeconds": 90,
			"analysis":        map[string]any{"summary": "Booked a demo", "successEvaluation": true},
			"artifact":        map[string]any{"transcript": "AI: Hello"},
		},
	}
}

func TestPipeline_StatusThenTerminalDeliversOneMergedRecord(t *testing.T) {
	p := newPipeline(t, time.Minute, okLookup)
	ctx := context.Background()

	assert.Equal(t, aggregator.OutcomeStarted, p.dispatcher.Dispatch(ctx, statusUpdate("call-1")))
	assert.Equal(t, aggregator.OutcomeFlushed, p.dispatcher.Dispatch(ctx, endOfCallReport("call-1")))

	doc := p.next(t)
	assert.Equal(t, "end-of-call-report", doc["eventType"])

	call := doc["call"].(map[string]any)
	assert.Equal(t, "call-1", call["id"])
	assert.Equal(t, "2024-05-01T10:00:00Z", call["startedAt"], "status-update fields survive the merge")
	assert.Equal(t, "customer-ended-call", call["endedReason"])
	assert.Equal(t, 1.5, call["durationMinutes"])

	customer := doc["customer"].(map[string]any)
	assert.Equal(t, "+14155552671", customer["number"])
	assert.Equal(t, "Ada", customer["name"])

	enriched := doc["phoneEnrichment"].(map[string]any)
	assert.Equal(t, "AT&T Mobility LLC", enriched["carrier"])
	assert.Equal(t, "mobile", enriched["lineType"])

	analysis := doc["analysis"].(map[string]any)
	assert.Equal(t, "Booked a demo", analysis["summary"])
	assert.Equal(t, true, analysis["successEvaluation"])
	assert.Equal(t, "AI: Hello", doc["transcript"])

	relayInfo := doc["relay"].(map[string]any)
	assert.Equal(t, "terminal", relayInfo["flushReason"])
	assert.Equal(t, 2.0, relayInfo["eventCount"])

	assert.Equal(t, aggregator.OutcomeSuppressed, p.dispatcher.Dispatch(ctx, endOfCallReport("call-1")))
	p.assertNothingMore(t, 100*time.Millisecond)
}

func TestPipeline_FallbackDeliversWithoutTerminalReport(t *testing.T) {
	p := newPipeline(t, 50*time.Millisecond, okLookup)

	p.dispatcher.Dispatch(context.Background(), statusUpdate("call-2"))

	doc := p.next(t)
	assert.Equal(t, "status-update", doc["eventType"])
	assert.Equal(t, "fallback", doc["relay"].(map[string]any)["flushReason"])
	p.assertNothingMore(t, 150*time.Millisecond)
}

func TestPipeline_EnrichmentOutageDoesNotBlockDelivery(t *testing.T) {
	p := newPipeline(t, time.Minute, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	p.dispatcher.Dispatch(context.Background(), endOfCallReport("call-3"))

	doc := p.next(t)
	assert.Nil(t, doc["phoneEnrichment"])
	assert.Equal(t, "Booked a demo", doc["analysis"].(map[string]any)["summary"])
}

func TestPipeline_SlowEnrichmentIsBoundedByTimeout(t *testing.T) {
	release := make(chan struct{})
	p := newPipeline(t, time.Minute, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	start := time.Now()
	p.dispatcher.Dispatch(context.Background(), map[string]any{
		"message": map[string]any{
			"type":     "end-of-call-report",
			"call":     map[string]any{"id": "call-4"},
			"customer": map[string]any{"number": "+14155552671"},
		},
	})

	doc := p.next(t)
	assert.Nil(t, doc["phoneEnrichment"])
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestPipeline_ReplicasShareClaims(t *testing.T) {
	p := newPipeline(t, time.Minute, okLookup)

	// A second process sharing the claim store would call the same
	// finalizer for the same call.
	flush := terminalFlush("call-5")
	p.finalizer.Flush(context.Background(), flush)
	p.finalizer.Flush(context.Background(), flush)

	p.next(t)
	p.assertNothingMore(t, 100*time.Millisecond)
}

func TestPipeline_InterleavedCallsStaySeparate(t *testing.T) {
	p := newPipeline(t, time.Minute, okLookup)
	ctx := context.Background()

	x := statusUpdate("call-x")
	y := map[string]any{
		"message": map[string]any{
			"type": "status-update",
			"call": map[string]any{"id": "call-y", "customer": map[string]any{"name": "Bob"}},
		},
	}

	p.dispatcher.Dispatch(ctx, x)
	p.dispatcher.Dispatch(ctx, y)
	p.dispatcher.Dispatch(ctx, endOfCallReport("call-y"))
	p.dispatcher.Dispatch(ctx, endOfCallReport("call-x"))

	byID := map[string]map[string]any{}
	for i := 0; i < 2; i++ {
		doc := p.next(t)
		byID[doc["call"].(map[string]any)["id"].(string)] = doc
	}

	require.Contains(t, byID, "call-x")
	require.Contains(t, byID, "call-y")
	assert.Equal(t, "Ada", byID["call-x"]["customer"].(map[string]any)["name"])
	assert.Equal(t, "Bob", byID["call-y"]["customer"].(map[string]any)["name"])
	assert.Nil(t, byID["call-y"]["customer"].(map[string]any)["number"])
}

func TestPipeline_IDLessEventsEachDelivered(t *testing.T) {
	p := newPipeline(t, time.Minute, okLookup)
	ctx := context.Background()

	p.dispatcher.Dispatch(ctx, map[string]any{"type": "status-update", "status": "ringing"})
	p.dispatcher.Dispatch(ctx, map[string]any{"type": "status-update", "status": "in-progress"})
	p.dispatcher.Dispatch(ctx, map[string]any{"type": "status-update", "status": "in-progress"})

	for i := 0; i < 3; i++ {
		doc := p.next(t)
		assert.Equal(t, "no_call_id", doc["relay"].(map[string]any)["flushReason"])
	}
	p.assertNothingMore(t, 100*time.Millisecond)
}
