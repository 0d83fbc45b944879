package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageEnvelope carries a call event or a consolidated call record over
// the broker.
type MessageEnvelope struct {
	ID        string                 `json:"id"`
	Source    string                 `json:"source"`
	Timestamp time.Time              `json:"timestamp"`
	Payload   map[string]interface{} `json:"payload"`  // Webhook body or call record
	Metadata  Metadata               `json:"metadata"` // Relay metadata (trace_id, delivery outcome)
}

type Metadata struct {
	TraceID     string        `json:"trace_id,omitempty"`
	CallID      string        `json:"call_id,omitempty"`
	FlushReason string        `json:"flush_reason,omitempty"`
	Delivery    *DeliveryInfo `json:"delivery,omitempty"`
	DLQ         *DLQInfo      `json:"dlq,omitempty"`
}

type DeliveryInfo struct {
	Delivered   bool      `json:"delivered"`
	StatusCode  int       `json:"status_code,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	DurationMs  int64     `json:"duration_ms"`
	AttemptedAt time.Time `json:"attempted_at"`
}

type DLQInfo struct {
	Reason      string    `json:"reason"`
	SourceTopic string    `json:"source_topic"`
	Timestamp   time.Time `json:"timestamp"`
}

// DecodeEnvelope accepts either an encoded MessageEnvelope or a bare webhook
// body, which is wrapped as the payload of a new envelope.
func DecodeEnvelope(data []byte) (MessageEnvelope, error) {
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return MessageEnvelope{}, fmt.Errorf("failed to decode message: %w", err)
	}

	if _, ok := raw["payload"].(map[string]interface{}); ok {
		var envelope MessageEnvelope
		if err := json.Unmarshal(data, &envelope); err == nil {
			return envelope, nil
		}
	}

	return *NewMessageEnvelopeBuilder().
		WithSource("kafka").
		WithPayload(raw).
		Build(), nil
}
