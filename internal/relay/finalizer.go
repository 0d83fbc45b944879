package relay

import (
	"context"
	"time"

	"github.com/Strikepoint-Media/vapi-endcall-webhook/internal/aggregator"
	"github.com/Strikepoint-Media/vapi-endcall-webhook/internal/delivery"
	"github.com/Strikepoint-Media/vapi-endcall-webhook/internal/enrichment"
	"github.com/Strikepoint-Media/vapi-endcall-webhook/internal/logger"
	"github.com/Strikepoint-Media/vapi-endcall-webhook/pkg/models"
	"github.com/Strikepoint-Media/vapi-endcall-webhook/pkg/tracing"
)

type Enricher interface {
	Enrich(ctx context.Context, number string) *enrichment.Result
}

type Deliverer interface {
	Deliver(ctx context.Context, record any) delivery.Outcome
}

// Claimer guards delivery across processes. Claim returns false when the
// call was already claimed.
type Claimer interface {
	Claim(ctx context.Context, callID string) (bool, error)
}

type RecordFilter interface {
	Match(ctx context.Context, record map[string]any, flushReason string) (bool, error)
	Expression() string
}

type Publisher interface {
	Publish(ctx context.Context, topic string, msg models.MessageEnvelope) error
}

type FinalizerOption func(*Finalizer)

func WithClaims(c Claimer) FinalizerOption {
	return func(f *Finalizer) {
		f.claims = c
	}
}

func WithFilter(filter RecordFilter) FinalizerOption {
	return func(f *Finalizer) {
		f.filter = filter
	}
}

// WithArchive publishes every finalized record with its delivery outcome to
// topic.
func WithArchive(p Publisher, topic string) FinalizerOption {
	return func(f *Finalizer) {
		f.publisher = p
		f.archiveTopic = topic
	}
}

// Finalizer is the aggregator's flush callback. None of its steps can fail
// the flush: every error is logged and the pipeline moves on.
type Finalizer struct {
	enricher     Enricher
	deliverer    Deliverer
	claims       Claimer
	filter       RecordFilter
	publisher    Publisher
	archiveTopic string
	logger       logger.Logger
	now          func() time.Time
}

func NewFinalizer(enricher Enricher, deliverer Deliverer, log logger.Logger, opts ...FinalizerOption) *Finalizer {
	if log == nil {
		log = logger.NopLogger()
	}
	f := &Finalizer{
		enricher:  enricher,
		deliverer: deliverer,
		logger:    log,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *Finalizer) Flush(ctx context.Context, fl aggregator.Flush) {
	ctx, span := tracing.StartCallSpan(ctx, "relay-finalizer", "relay.flush", fl.CallID,
		tracing.FlushReasonKey.String(fl.Reason))
	defer span.End()

	if !f.claim(ctx, fl) {
		return
	}

	var enriched *enrichment.Result
	if f.enricher != nil {
		enriched = f.enricher.Enrich(ctx, fl.Event.Number())
	}

	record := BuildRecord(fl, enriched, f.now())

	if !f.allowed(ctx, record, fl.Reason) {
		return
	}

	outcome := f.deliverer.Deliver(ctx, record)
	f.logger.InfowCtx(ctx, "Call finalized",
		"call_id", fl.CallID,
		"flush_reason", fl.Reason,
		"event_count", fl.EventCount,
		"enriched", enriched != nil,
		"delivered", outcome.Delivered,
		"status_code", outcome.StatusCode,
		"reason", outcome.Reason,
	)

	f.archive(ctx, fl, record, outcome)
}

// claim skips id-less flushes: each one is a distinct event with nothing
// to share a claim key with.
func (f *Finalizer) claim(ctx context.Context, fl aggregator.Flush) bool {
	if f.claims == nil || fl.CallID == "" {
		return true
	}

	claimed, err := f.claims.Claim(ctx, fl.CallID)
	if err != nil {
		f.logger.ErrorwCtx(ctx, "Delivery claim failed, skipping delivery",
			"call_id", fl.CallID,
			"error", err,
		)
		return false
	}
	if !claimed {
		f.logger.InfowCtx(ctx, "Call already delivered elsewhere, skipping",
			"call_id", fl.CallID,
			"flush_reason", fl.Reason,
		)
	}
	return claimed
}

// allowed fails open: a filter that cannot be evaluated lets the record
// through.
func (f *Finalizer) allowed(ctx context.Context, record Record, reason string) bool {
	if f.filter == nil {
		return true
	}

	doc, err := record.AsMap()
	if err != nil {
		f.logger.WarnwCtx(ctx, "Record filter skipped", "error", err)
		return true
	}

	match, err := f.filter.Match(ctx, doc, reason)
	if err != nil {
		f.logger.WarnwCtx(ctx, "Record filter evaluation failed, delivering anyway",
			"expression", f.filter.Expression(),
			"error", err,
		)
		return true
	}
	if !match {
		f.logger.InfowCtx(ctx, "Record filtered out, not delivered",
			"expression", f.filter.Expression(),
			"flush_reason", reason,
		)
	}
	return match
}

func (f *Finalizer) archive(ctx context.Context, fl aggregator.Flush, record Record, outcome delivery.Outcome) {
	if f.publisher == nil || f.archiveTopic == "" {
		return
	}

	doc, err := record.AsMap()
	if err != nil {
		f.logger.WarnwCtx(ctx, "Record archive skipped", "error", err)
		return
	}

	envelope := models.NewMessageEnvelopeBuilder().
		WithSource("relay").
		WithTraceID(tracing.TraceIDFromContext(ctx)).
		WithCallID(fl.CallID).
		WithFlushReason(fl.Reason).
		WithPayload(map[string]interface{}{"record": doc}).
		WithDelivery(models.DeliveryInfo{
			Delivered:   outcome.Delivered,
			StatusCode:  outcome.StatusCode,
			Reason:      outcome.Reason,
			DurationMs:  outcome.Duration.Milliseconds(),
			AttemptedAt: record.Relay.FlushedAt,
		}).
		Build()

	if err := f.publisher.Publish(ctx, f.archiveTopic, *envelope); err != nil {
		f.logger.ErrorwCtx(ctx, "Failed to archive call record",
			"call_id", fl.CallID,
			"topic", f.archiveTopic,
			"error", err,
		)
	}
}
