// Package relay connects inbound webhook bodies to the aggregator and turns
// flushed calls into delivered records.
package relay

import (
	"context"
	"fmt"

	"github.com/Strikepoint-Media/vapi-endcall-webhook/internal/aggregator"
	"github.com/Strikepoint-Media/vapi-endcall-webhook/internal/logger"
	"github.com/Strikepoint-Media/vapi-endcall-webhook/internal/normalizer"
	"github.com/Strikepoint-Media/vapi-endcall-webhook/pkg/metrics"
	"github.com/Strikepoint-Media/vapi-endcall-webhook/pkg/models"
	"github.com/Strikepoint-Media/vapi-endcall-webhook/pkg/retry"
)

const (
	SourceHTTP  = "http"
	SourceKafka = "kafka"
)

type Ingester interface {
	Ingest(ctx context.Context, ev normalizer.Event) aggregator.Outcome
}

type Dispatcher struct {
	aggregator Ingester
	logger     logger.Logger
}

func NewDispatcher(agg Ingester, log logger.Logger) *Dispatcher {
	if log == nil {
		log = logger.NopLogger()
	}
	return &Dispatcher{aggregator: agg, logger: log}
}

// Dispatch normalizes body and hands it to the aggregator. It does not wait
// for enrichment or delivery.
func (d *Dispatcher) Dispatch(ctx context.Context, body map[string]any) aggregator.Outcome {
	return d.dispatch(ctx, SourceHTTP, body)
}

// HandleMessage dispatches a webhook body that arrived through the broker.
// It has the signature of broker.HandlerFunc.
func (d *Dispatcher) HandleMessage(ctx context.Context, msg models.MessageEnvelope) error {
	if d.dispatch(ctx, SourceKafka, msg.Payload) == aggregator.OutcomeRejected {
		return retry.NewFatalError(fmt.Errorf("event %s rejected: relay is shutting down", msg.ID))
	}
	return nil
}

func (d *Dispatcher) dispatch(ctx context.Context, source string, body map[string]any) aggregator.Outcome {
	ev := normalizer.Normalize(body)
	outcome := d.aggregator.Ingest(ctx, ev)
	metrics.IncWebhookEvent(source, string(ev.Type), string(outcome))

	d.logger.DebugwCtx(ctx, "Webhook event dispatched",
		"source", source,
		"call_id", ev.ID(),
		"event_type", ev.Type,
		"outcome", outcome,
	)
	return outcome
}
