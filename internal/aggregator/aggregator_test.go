package aggregator

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Strikepoint-Media/vapi-endcall-webhook/internal/constants"
	"github.com/Strikepoint-Media/vapi-endcall-webhook/internal/logger"
	"github.com/Strikepoint-Media/vapi-endcall-webhook/internal/normalizer"
)

type collector struct {
	mu      sync.Mutex
	flushes []Flush
	ch      chan Flush
}

func newCollector() *collector {
	return &collector{ch: make(chan Flush, 1024)}
}

func (c *collector) fn(_ context.Context, f Flush) {
	c.mu.Lock()
	c.flushes = append(c.flushes, f)
	c.mu.Unlock()
	c.ch <- f
}

func (c *collector) wait(t *testing.T, timeout time.Duration) Flush {
	t.Helper()
	select {
	case f := <-c.ch:
		return f
	case <-time.After(timeout):
		t.Fatalf("no flush within %s", timeout)
		return Flush{}
	}
}

func (c *collector) none(t *testing.T, within time.Duration) {
	t.Helper()
	select {
	case f := <-c.ch:
		t.Fatalf("unexpected flush for call %q (reason %s)", f.CallID, f.Reason)
	case <-time.After(within):
	}
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.flushes)
}

func ptr[T any](v T) *T { return &v }

func event(typ normalizer.EventType, callID string) normalizer.Event {
	ev := normalizer.Event{Type: typ}
	if callID != "" {
		ev.CallID = ptr(callID)
	}
	return ev
}

func newAggregator(t *testing.T, cfg Config, c *collector) *Aggregator {
	t.Helper()
	a := New(cfg, c.fn, logger.NopLogger())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = a.Shutdown(ctx)
	})
	return a
}

func TestIngest_TerminalReportFlushesImmediately(t *testing.T) {
	c := newCollector()
	a := newAggregator(t, Config{FallbackWindow: time.Hour, TombstoneTTL: time.Minute}, c)

	ev := event(normalizer.EventTypeEndOfCallReport, "c1")
	ev.EndedReason = ptr("completed")
	ev.CustomerNumber = ptr("+15551234567")

	assert.Equal(t, OutcomeFlushed, a.Ingest(context.Background(), ev))

	f := c.wait(t, time.Second)
	assert.Equal(t, "c1", f.CallID)
	assert.Equal(t, constants.FlushReasonTerminal, f.Reason)
	assert.Equal(t, 1, f.EventCount)
	assert.Equal(t, "completed", *f.Event.EndedReason)
	assert.Equal(t, "+15551234567", f.Event.Number())
	assert.Empty(t, a.Pending())
}

func TestIngest_MergesStatusUpdateThenTerminal(t *testing.T) {
	c := newCollector()
	a := newAggregator(t, Config{FallbackWindow: time.Hour}, c)

	first := event(normalizer.EventTypeStatusUpdate, "c2")
	first.CustomerNumber = ptr("+15550000000")
	second := event(normalizer.EventTypeEndOfCallReport, "c2")
	second.Summary = ptr("ok")

	assert.Equal(t, OutcomeStarted, a.Ingest(context.Background(), first))
	snap, ok := a.Get("c2")
	require.True(t, ok)
	assert.Equal(t, 1, snap.EventCount)

	assert.Equal(t, OutcomeFlushed, a.Ingest(context.Background(), second))

	f := c.wait(t, time.Second)
	assert.Equal(t, "+15550000000", f.Event.Number())
	assert.Equal(t, "ok", *f.Event.Summary)
	assert.Equal(t, 2, f.EventCount)
	assert.Equal(t, normalizer.EventTypeEndOfCallReport, f.Event.Type)

	_, ok = a.Get("c2")
	assert.False(t, ok)
	c.none(t, 50*time.Millisecond)
}

func TestIngest_FallbackFlushWithoutTerminal(t *testing.T) {
	c := newCollector()
	window := 80 * time.Millisecond
	a := newAggregator(t, Config{FallbackWindow: window}, c)

	ev := event(normalizer.EventTypeStatusUpdate, "c3")
	ev.EndedReason = ptr("in-progress")

	start := time.Now()
	assert.Equal(t, OutcomeStarted, a.Ingest(context.Background(), ev))

	f := c.wait(t, 2*time.Second)
	elapsed := time.Since(start)

	assert.Equal(t, "c3", f.CallID)
	assert.Equal(t, constants.FlushReasonFallback, f.Reason)
	assert.Equal(t, "in-progress", *f.Event.EndedReason)
	assert.GreaterOrEqual(t, elapsed, window)
	assert.Less(t, elapsed, window+time.Second)
	c.none(t, 2*window)
}

func TestIngest_FallbackMeasuredFromLatestEvent(t *testing.T) {
	c := newCollector()
	window := 150 * time.Millisecond
	a := newAggregator(t, Config{FallbackWindow: window}, c)

	a.Ingest(context.Background(), event(normalizer.EventTypeStatusUpdate, "c4"))
	time.Sleep(100 * time.Millisecond)

	last := time.Now()
	assert.Equal(t, OutcomeMerged, a.Ingest(context.Background(), event(normalizer.EventTypeStatusUpdate, "c4")))

	f := c.wait(t, 2*time.Second)
	assert.GreaterOrEqual(t, time.Since(last), window)
	assert.Equal(t, 2, f.EventCount)
	assert.Equal(t, 1, c.count())
}

func TestIngest_NoCallIDFlushesSingleEvent(t *testing.T) {
	c := newCollector()
	a := newAggregator(t, Config{FallbackWindow: time.Hour, TombstoneTTL: time.Minute}, c)

	ev := event(normalizer.EventTypeStatusUpdate, "")
	ev.Summary = ptr("orphan")

	assert.Equal(t, OutcomeFlushed, a.Ingest(context.Background(), ev))
	assert.Equal(t, OutcomeFlushed, a.Ingest(context.Background(), ev))

	f := c.wait(t, time.Second)
	assert.Equal(t, "", f.CallID)
	assert.Equal(t, constants.FlushReasonNoCallID, f.Reason)
	assert.Equal(t, "orphan", *f.Event.Summary)
	c.wait(t, time.Second)
	assert.Empty(t, a.Pending())
}

func TestIngest_DuplicateTerminalSuppressedByTombstone(t *testing.T) {
	c := newCollector()
	a := newAggregator(t, Config{FallbackWindow: time.Hour, TombstoneTTL: time.Minute}, c)

	assert.Equal(t, OutcomeFlushed, a.Ingest(context.Background(), event(normalizer.EventTypeEndOfCallReport, "c5")))
	c.wait(t, time.Second)

	assert.Equal(t, OutcomeSuppressed, a.Ingest(context.Background(), event(normalizer.EventTypeEndOfCallReport, "c5")))
	assert.Equal(t, OutcomeSuppressed, a.Ingest(context.Background(), event(normalizer.EventTypeStatusUpdate, "c5")))
	c.none(t, 50*time.Millisecond)
	assert.Empty(t, a.Pending())
}

func TestIngest_TombstoneExpires(t *testing.T) {
	c := newCollector()
	a := newAggregator(t, Config{FallbackWindow: time.Hour, TombstoneTTL: time.Minute}, c)

	base := time.Now()
	a.now = func() time.Time { return base }
	a.Ingest(context.Background(), event(normalizer.EventTypeEndOfCallReport, "c6"))
	c.wait(t, time.Second)

	a.now = func() time.Time { return base.Add(2 * time.Minute) }
	assert.Equal(t, OutcomeFlushed, a.Ingest(context.Background(), event(normalizer.EventTypeEndOfCallReport, "c6")))
	c.wait(t, time.Second)
}

func TestIngest_WithoutTombstonesLateEventStartsFreshCall(t *testing.T) {
	c := newCollector()
	a := newAggregator(t, Config{FallbackWindow: time.Hour}, c)

	a.Ingest(context.Background(), event(normalizer.EventTypeEndOfCallReport, "c7"))
	c.wait(t, time.Second)

	assert.Equal(t, OutcomeFlushed, a.Ingest(context.Background(), event(normalizer.EventTypeEndOfCallReport, "c7")))
	c.wait(t, time.Second)
}

func TestIngest_InterleavedCallsDoNotMix(t *testing.T) {
	c := newCollector()
	a := newAggregator(t, Config{FallbackWindow: time.Hour}, c)

	x1 := event(normalizer.EventTypeStatusUpdate, "x")
	x1.CustomerNumber = ptr("+1000")
	y1 := event(normalizer.EventTypeStatusUpdate, "y")
	y1.CustomerNumber = ptr("+2000")
	x2 := event(normalizer.EventTypeEndOfCallReport, "x")
	x2.Summary = ptr("x summary")
	y2 := event(normalizer.EventTypeEndOfCallReport, "y")
	y2.Summary = ptr("y summary")

	for _, ev := range []normalizer.Event{x1, y1, x2, y2} {
		a.Ingest(context.Background(), ev)
	}

	got := map[string]Flush{}
	for i := 0; i < 2; i++ {
		f := c.wait(t, time.Second)
		got[f.CallID] = f
	}

	assert.Equal(t, "+1000", got["x"].Event.Number())
	assert.Equal(t, "x summary", *got["x"].Event.Summary)
	assert.Equal(t, "+2000", got["y"].Event.Number())
	assert.Equal(t, "y summary", *got["y"].Event.Summary)
}

func TestIngest_ConcurrentEventsSingleFlushPerCall(t *testing.T) {
	c := newCollector()
	a := newAggregator(t, Config{FallbackWindow: 100 * time.Millisecond, TombstoneTTL: time.Minute}, c)

	const calls = 20
	const perCall = 25

	var wg sync.WaitGroup
	for i := 0; i < calls; i++ {
		for j := 0; j < perCall; j++ {
			wg.Add(1)
			go func(call, n int) {
				defer wg.Done()
				typ := normalizer.EventTypeStatusUpdate
				if n%10 == 0 {
					typ = normalizer.EventTypeEndOfCallReport
				}
				a.Ingest(context.Background(), event(typ, fmt.Sprintf("call-%d", call)))
			}(i, j)
		}
	}
	wg.Wait()

	time.Sleep(400 * time.Millisecond)

	seen := map[string]int{}
	c.mu.Lock()
	for _, f := range c.flushes {
		seen[f.CallID]++
	}
	c.mu.Unlock()

	assert.Len(t, seen, calls)
	for id, n := range seen {
		assert.Equal(t, 1, n, "call %s flushed %d times", id, n)
	}
}

func TestIngest_NonTerminalSequenceYieldsOneFlush(t *testing.T) {
	c := newCollector()
	a := newAggregator(t, Config{FallbackWindow: 60 * time.Millisecond}, c)

	for i := 0; i < 5; i++ {
		a.Ingest(context.Background(), event(normalizer.EventTypeUnknown, "many"))
	}

	f := c.wait(t, time.Second)
	assert.Equal(t, 5, f.EventCount)
	c.none(t, 150*time.Millisecond)
}

func TestStaleTimerGenerationIsIgnored(t *testing.T) {
	c := newCollector()
	a := newAggregator(t, Config{FallbackWindow: time.Hour}, c)

	a.Ingest(context.Background(), event(normalizer.EventTypeStatusUpdate, "gen"))
	a.Ingest(context.Background(), event(normalizer.EventTypeStatusUpdate, "gen"))

	a.onFallback("gen", 1)
	c.none(t, 30*time.Millisecond)

	a.onFallback("gen", 2)
	f := c.wait(t, time.Second)
	assert.Equal(t, constants.FlushReasonFallback, f.Reason)

	a.onFallback("gen", 2)
	c.none(t, 30*time.Millisecond)
}

func TestFlushHandlerPanicIsRecovered(t *testing.T) {
	done := make(chan struct{})
	a := New(Config{FallbackWindow: time.Hour}, func(context.Context, Flush) {
		defer close(done)
		panic("boom")
	}, logger.NopLogger())

	assert.NotPanics(t, func() {
		a.Ingest(context.Background(), event(normalizer.EventTypeEndOfCallReport, "p"))
	})
	<-done
	require.NoError(t, a.Shutdown(context.Background()))
}

func TestPendingSnapshots(t *testing.T) {
	c := newCollector()
	a := newAggregator(t, Config{FallbackWindow: time.Hour}, c)

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	a.now = func() time.Time { return base }
	a.Ingest(context.Background(), event(normalizer.EventTypeStatusUpdate, "b"))
	a.now = func() time.Time { return base.Add(time.Second) }
	a.Ingest(context.Background(), event(normalizer.EventTypeStatusUpdate, "a"))

	pending := a.Pending()
	require.Len(t, pending, 2)
	assert.Equal(t, "b", pending[0].CallID)
	assert.Equal(t, "a", pending[1].CallID)
	assert.Equal(t, base.Add(time.Second).Add(time.Hour), pending[1].FallbackDueAt)
}

func TestShutdown_FlushesPending(t *testing.T) {
	c := newCollector()
	a := New(Config{FallbackWindow: time.Hour, FlushOnShutdown: true}, c.fn, logger.NopLogger())

	a.Ingest(context.Background(), event(normalizer.EventTypeStatusUpdate, "s1"))
	a.Ingest(context.Background(), event(normalizer.EventTypeStatusUpdate, "s2"))

	require.NoError(t, a.Shutdown(context.Background()))
	assert.Equal(t, 2, c.count())
	for i := 0; i < 2; i++ {
		assert.Equal(t, constants.FlushReasonShutdown, c.wait(t, time.Second).Reason)
	}

	assert.Equal(t, OutcomeRejected, a.Ingest(context.Background(), event(normalizer.EventTypeEndOfCallReport, "s3")))
}

func TestShutdown_DropsPendingWhenDisabled(t *testing.T) {
	c := newCollector()
	a := New(Config{FallbackWindow: time.Hour}, c.fn, logger.NopLogger())

	a.Ingest(context.Background(), event(normalizer.EventTypeStatusUpdate, "d1"))

	require.NoError(t, a.Shutdown(context.Background()))
	assert.Equal(t, 0, c.count())
	assert.Empty(t, a.Pending())
}

func TestShutdown_TimesOutOnSlowHandler(t *testing.T) {
	release := make(chan struct{})
	a := New(Config{FallbackWindow: time.Hour}, func(context.Context, Flush) {
		<-release
	}, logger.NopLogger())
	defer close(release)

	a.Ingest(context.Background(), event(normalizer.EventTypeEndOfCallReport, "slow"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, a.Shutdown(ctx))
}

func TestSweepRemovesExpiredTombstones(t *testing.T) {
	c := newCollector()
	a := newAggregator(t, Config{FallbackWindow: time.Hour, TombstoneTTL: time.Minute}, c)

	base := time.Now()
	a.now = func() time.Time { return base }
	a.Ingest(context.Background(), event(normalizer.EventTypeEndOfCallReport, "t1"))
	c.wait(t, time.Second)

	a.now = func() time.Time { return base.Add(time.Hour) }
	a.sweep()

	a.mu.Lock()
	defer a.mu.Unlock()
	assert.Empty(t, a.tombstones)
}

func TestRunStopsOnContextCancel(t *testing.T) {
	a := New(Config{FallbackWindow: time.Hour, SweepInterval: 5 * time.Millisecond}, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- a.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
}
