// Package aggregator folds the events of one call into a single record and
// guarantees that each call is flushed at most once.
package aggregator

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Strikepoint-Media/vapi-endcall-webhook/internal/constants"
	"github.com/Strikepoint-Media/vapi-endcall-webhook/internal/logger"
	"github.com/Strikepoint-Media/vapi-endcall-webhook/internal/normalizer"
	"github.com/Strikepoint-Media/vapi-endcall-webhook/pkg/errors"
	"github.com/Strikepoint-Media/vapi-endcall-webhook/pkg/logging"
	"github.com/Strikepoint-Media/vapi-endcall-webhook/pkg/metrics"
)

const defaultSweepInterval = 30 * time.Second

type Config struct {
	// FallbackWindow is the quiet period after the latest non-terminal
	// event before the call is flushed anyway.
	FallbackWindow time.Duration
	// TombstoneTTL is how long a flushed call id keeps suppressing new
	// events. Zero disables tombstones.
	TombstoneTTL    time.Duration
	FlushOnShutdown bool
	SweepInterval   time.Duration
}

type Aggregator struct {
	cfg    Config
	flush  FlushFunc
	logger logger.Logger
	now    func() time.Time

	mu         sync.Mutex
	calls      map[string]*state
	tombstones map[string]time.Time
	closed     bool

	wg sync.WaitGroup
}

func New(cfg Config, flush FlushFunc, log logger.Logger) *Aggregator {
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = defaultSweepInterval
	}
	if log == nil {
		log = logger.NopLogger()
	}
	return &Aggregator{
		cfg:        cfg,
		flush:      flush,
		logger:     log,
		now:        time.Now,
		calls:      make(map[string]*state),
		tombstones: make(map[string]time.Time),
	}
}

// Ingest folds ev into its call's state. It never blocks on I/O: flushes run
// in their own goroutine.
func (a *Aggregator) Ingest(ctx context.Context, ev normalizer.Event) Outcome {
	outcome := a.ingest(ctx, ev)
	metrics.IncAggregatorTransition(string(outcome))
	return outcome
}

func (a *Aggregator) ingest(ctx context.Context, ev normalizer.Event) Outcome {
	ctx = context.WithoutCancel(ctx)
	callID := ev.ID()
	now := a.now()

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		a.logger.WarnwCtx(ctx, "Event received after shutdown, dropping",
			"call_id", callID,
			"event_type", ev.Type,
		)
		return OutcomeRejected
	}

	if callID == "" {
		a.dispatch(ctx, Flush{
			Event:        ev,
			Reason:       constants.FlushReasonNoCallID,
			EventCount:   1,
			FirstEventAt: now,
			LastEventAt:  now,
		})
		return OutcomeFlushed
	}

	ctx = logging.WithCallID(ctx, callID)

	if a.tombstonedLocked(callID, now) {
		a.logger.InfowCtx(ctx, "Event for already flushed call suppressed",
			"call_id", callID,
			"event_type", ev.Type,
		)
		return OutcomeSuppressed
	}

	st, ok := a.calls[callID]
	if !ok {
		st = &state{
			callID:    callID,
			merged:    ev,
			ctx:       ctx,
			events:    1,
			firstSeen: now,
			lastSeen:  now,
		}
		a.calls[callID] = st

		if ev.Type.Terminal() {
			a.flushLocked(st, constants.FlushReasonTerminal)
			return OutcomeFlushed
		}

		a.armLocked(st)
		a.logger.DebugwCtx(ctx, "Call aggregation started",
			"call_id", callID,
			"event_type", ev.Type,
			"fallback_window", a.cfg.FallbackWindow,
		)
		metrics.SetAggregatorPendingCalls(len(a.calls))
		return OutcomeStarted
	}

	st.merged = normalizer.Merge(st.merged, ev)
	st.ctx = ctx
	st.events++
	st.lastSeen = now

	if ev.Type.Terminal() {
		a.flushLocked(st, constants.FlushReasonTerminal)
		return OutcomeFlushed
	}

	a.armLocked(st)
	a.logger.DebugwCtx(ctx, "Event merged into pending call",
		"call_id", callID,
		"event_type", ev.Type,
		"event_count", st.events,
	)
	return OutcomeMerged
}

// armLocked (re)starts the fallback timer. The generation lets a timer that
// already fired but lost the race for the lock recognise it is stale.
func (a *Aggregator) armLocked(st *state) {
	if st.timer != nil {
		st.timer.Stop()
	}
	st.gen++
	gen := st.gen
	callID := st.callID
	st.dueAt = a.now().Add(a.cfg.FallbackWindow)
	st.timer = time.AfterFunc(a.cfg.FallbackWindow, func() {
		a.onFallback(callID, gen)
	})
}

func (a *Aggregator) onFallback(callID string, gen uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	st, ok := a.calls[callID]
	if !ok || st.flushed || st.gen != gen {
		return
	}

	a.logger.InfowCtx(st.ctx, "Fallback window elapsed without terminal report",
		"call_id", callID,
		"event_count", st.events,
	)
	a.flushLocked(st, constants.FlushReasonFallback)
}

// flushLocked is the only way a state leaves the live set. flushed is set
// before the handler goroutine starts.
func (a *Aggregator) flushLocked(st *state, reason string) {
	if st.flushed {
		return
	}
	st.flushed = true
	if st.timer != nil {
		st.timer.Stop()
	}
	delete(a.calls, st.callID)
	if a.cfg.TombstoneTTL > 0 {
		a.tombstones[st.callID] = a.now().Add(a.cfg.TombstoneTTL)
	}
	metrics.SetAggregatorPendingCalls(len(a.calls))
	metrics.SetAggregatorTombstones(len(a.tombstones))

	a.dispatch(st.ctx, Flush{
		CallID:       st.callID,
		Event:        st.merged,
		Reason:       reason,
		EventCount:   st.events,
		FirstEventAt: st.firstSeen,
		LastEventAt:  st.lastSeen,
	})
}

func (a *Aggregator) dispatch(ctx context.Context, f Flush) {
	metrics.ObserveFlush(f.Reason, f.EventCount)
	a.logger.InfowCtx(ctx, "Flushing call",
		"call_id", f.CallID,
		"reason", f.Reason,
		"event_count", f.EventCount,
	)

	if a.flush == nil {
		return
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				a.logger.ErrorwCtx(ctx, "Flush handler panicked",
					"call_id", f.CallID,
					"reason", f.Reason,
					"error", errors.RecoverPanic(r),
				)
			}
		}()
		a.flush(ctx, f)
	}()
}

func (a *Aggregator) tombstonedLocked(callID string, now time.Time) bool {
	until, ok := a.tombstones[callID]
	if !ok {
		return false
	}
	if now.Before(until) {
		return true
	}
	delete(a.tombstones, callID)
	return false
}

// Pending returns snapshots of every call still accumulating, oldest first.
func (a *Aggregator) Pending() []Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]Snapshot, 0, len(a.calls))
	for _, st := range a.calls {
		out = append(out, st.snapshot())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].FirstEventAt.Equal(out[j].FirstEventAt) {
			return out[i].CallID < out[j].CallID
		}
		return out[i].FirstEventAt.Before(out[j].FirstEventAt)
	})
	return out
}

func (a *Aggregator) Get(callID string) (Snapshot, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	st, ok := a.calls[callID]
	if !ok {
		return Snapshot{}, false
	}
	return st.snapshot(), true
}

// Run sweeps expired tombstones until ctx is done.
func (a *Aggregator) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			a.sweep()
		}
	}
}

func (a *Aggregator) sweep() {
	now := a.now()

	a.mu.Lock()
	defer a.mu.Unlock()

	for id, until := range a.tombstones {
		if !now.Before(until) {
			delete(a.tombstones, id)
		}
	}
	metrics.SetAggregatorPendingCalls(len(a.calls))
	metrics.SetAggregatorTombstones(len(a.tombstones))
}

// Shutdown stops accepting events, flushes (or drops) every pending call and
// waits for in-flight flush handlers until ctx is done.
func (a *Aggregator) Shutdown(ctx context.Context) error {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		pending := make([]*state, 0, len(a.calls))
		for _, st := range a.calls {
			pending = append(pending, st)
		}
		for _, st := range pending {
			if a.cfg.FlushOnShutdown {
				a.flushLocked(st, constants.FlushReasonShutdown)
				continue
			}
			st.flushed = true
			if st.timer != nil {
				st.timer.Stop()
			}
			delete(a.calls, st.callID)
			a.logger.WarnwCtx(st.ctx, "Dropping pending call on shutdown",
				"call_id", st.callID,
				"event_count", st.events,
			)
		}
		if len(pending) > 0 {
			a.logger.Infow("Aggregator shut down",
				"pending_calls", len(pending),
				"flushed", a.cfg.FlushOnShutdown,
			)
		}
	}
	a.mu.Unlock()

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.ErrTimeout.WithCause(ctx.Err())
	}
}
