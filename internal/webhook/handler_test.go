package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Strikepoint-Media/vapi-endcall-webhook/internal/aggregator"
	"github.com/Strikepoint-Media/vapi-endcall-webhook/internal/logger"
	"github.com/Strikepoint-Media/vapi-endcall-webhook/internal/normalizer"
	"github.com/Strikepoint-Media/vapi-endcall-webhook/internal/relay"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type recordingDispatcher struct {
	mu     sync.Mutex
	bodies []map[string]any
}

func (d *recordingDispatcher) Dispatch(_ context.Context, body map[string]any) aggregator.Outcome {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.bodies = append(d.bodies, body)
	return aggregator.OutcomeStarted
}

type staticCalls struct {
	snapshots map[string]aggregator.Snapshot
}

func (s staticCalls) Pending() []aggregator.Snapshot {
	out := make([]aggregator.Snapshot, 0, len(s.snapshots))
	for _, snap := range s.snapshots {
		out = append(out, snap)
	}
	return out
}

func (s staticCalls) Get(id string) (aggregator.Snapshot, bool) {
	snap, ok := s.snapshots[id]
	return snap, ok
}

func newRouter(d Dispatcher, calls CallInspector) *gin.Engine {
	r := gin.New()
	NewHandler(d, calls, logger.NopLogger()).RegisterRoutes(r, "/webhook")
	return r
}

func post(r http.Handler, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	return w
}

func TestReceive_AlwaysAcknowledges(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		dispatched bool
	}{
		{name: "status update", body: `{"message":{"type":"status-update","call":{"id":"c1"}}}`, dispatched: true},
		{name: "empty object", body: `{}`, dispatched: true},
		{name: "not json", body: `hello`, dispatched: false},
		{name: "json array", body: `[1,2,3]`, dispatched: false},
		{name: "json null", body: `null`, dispatched: false},
		{name: "empty body", body: ``, dispatched: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &recordingDispatcher{}
			w := post(newRouter(d, staticCalls{}), tt.body)

			assert.Equal(t, http.StatusOK, w.Code)
			assert.JSONEq(t, `{"received":true}`, w.Body.String())
			assert.Equal(t, tt.dispatched, len(d.bodies) == 1)
		})
	}
}

func TestReceive_OversizedBodyIsDropped(t *testing.T) {
	d := &recordingDispatcher{}
	body := `{"message":{"type":"status-update","transcript":"` + strings.Repeat("x", maxBodyBytes) + `"}}`

	w := post(newRouter(d, staticCalls{}), body)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"received":true}`, w.Body.String())
	assert.Empty(t, d.bodies)
}

func TestCalls_ListAndGet(t *testing.T) {
	id := "call-1"
	calls := staticCalls{snapshots: map[string]aggregator.Snapshot{
		id: {
			CallID:     id,
			Event:      normalizer.Event{Type: normalizer.EventTypeStatusUpdate, CallID: &id},
			EventCount: 2,
		},
	}}
	r := newRouter(&recordingDispatcher{}, calls)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/calls", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var list struct {
		Calls []aggregator.Snapshot `json:"calls"`
		Count int                   `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Equal(t, 1, list.Count)
	assert.Equal(t, id, list.Calls[0].CallID)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/calls/call-1", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var snap aggregator.Snapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	assert.Equal(t, 2, snap.EventCount)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/calls/missing", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	var errBody map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &errBody))
	assert.Equal(t, "NOT_FOUND", errBody["error_code"])
}

func TestReceive_FeedsAggregator(t *testing.T) {
	flushed := make(chan aggregator.Flush, 1)
	agg := aggregator.New(aggregator.Config{FallbackWindow: time.Minute}, func(_ context.Context, f aggregator.Flush) {
		flushed <- f
	}, nil)
	defer agg.Shutdown(context.Background())

	r := newRouter(relay.NewDispatcher(agg, nil), agg)

	post(r, `{"message":{"type":"status-update","call":{"id":"c1","customer":{"number":"+14155552671"}}}}`)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/calls/c1", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, http.StatusOK, post(r, `{"message":{"type":"end-of-call-report","call":{"id":"c1"}}}`).Code)

	select {
	case f := <-flushed:
		assert.Equal(t, "c1", f.CallID)
		assert.Equal(t, 2, f.EventCount)
		assert.Equal(t, "+14155552671", f.Event.Number())
	case <-time.After(2 * time.Second):
		t.Fatal("call was not flushed")
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/calls/c1", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRegisterRoutes_APIMiddlewareSkipsWebhook(t *testing.T) {
	blocked := func(c *gin.Context) {
		c.AbortWithStatus(http.StatusTooManyRequests)
	}
	r := gin.New()
	d := &recordingDispatcher{}
	NewHandler(d, staticCalls{}, nil).RegisterRoutes(r, "/hooks/vapi", blocked)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/calls", nil))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/hooks/vapi", strings.NewReader(`{"type":"status-update"}`)))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, d.bodies, 1)
}
