package models

import (
	"time"

	"github.com/google/uuid"
)

type MessageEnvelopeBuilder struct {
	envelope *MessageEnvelope
}

func NewMessageEnvelopeBuilder() *MessageEnvelopeBuilder {
	return &MessageEnvelopeBuilder{
		envelope: &MessageEnvelope{
			Payload:  make(map[string]interface{}),
			Metadata: Metadata{},
		},
	}
}

func (b *MessageEnvelopeBuilder) WithID(id string) *MessageEnvelopeBuilder {
	b.envelope.ID = id
	return b
}

func (b *MessageEnvelopeBuilder) WithSource(source string) *MessageEnvelopeBuilder {
	b.envelope.Source = source
	return b
}

func (b *MessageEnvelopeBuilder) WithTimestamp(timestamp time.Time) *MessageEnvelopeBuilder {
	b.envelope.Timestamp = timestamp
	return b
}

func (b *MessageEnvelopeBuilder) WithPayload(payload map[string]interface{}) *MessageEnvelopeBuilder {
	b.envelope.Payload = payload
	return b
}

func (b *MessageEnvelopeBuilder) WithMetadata(metadata Metadata) *MessageEnvelopeBuilder {
	b.envelope.Metadata = metadata
	return b
}

func (b *MessageEnvelopeBuilder) WithTraceID(traceID string) *MessageEnvelopeBuilder {
	b.envelope.Metadata.TraceID = traceID
	return b
}

func (b *MessageEnvelopeBuilder) WithCallID(callID string) *MessageEnvelopeBuilder {
	b.envelope.Metadata.CallID = callID
	return b
}

func (b *MessageEnvelopeBuilder) WithFlushReason(reason string) *MessageEnvelopeBuilder {
	b.envelope.Metadata.FlushReason = reason
	return b
}

func (b *MessageEnvelopeBuilder) WithDelivery(info DeliveryInfo) *MessageEnvelopeBuilder {
	b.envelope.Metadata.Delivery = &info
	return b
}

// Build fills in a random id and the current time when they were not set.
func (b *MessageEnvelopeBuilder) Build() *MessageEnvelope {
	if b.envelope.ID == "" {
		b.envelope.ID = uuid.NewString()
	}
	if b.envelope.Timestamp.IsZero() {
		b.envelope.Timestamp = time.Now()
	}
	return b.envelope
}
