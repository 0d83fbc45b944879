package broker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Strikepoint-Media/vapi-endcall-webhook/internal/config"
	"github.com/Strikepoint-Media/vapi-endcall-webhook/internal/logger"
	"github.com/Strikepoint-Media/vapi-endcall-webhook/pkg/models"
	"github.com/Strikepoint-Media/vapi-endcall-webhook/pkg/retry"
)

type recordingProducer struct {
	mu       sync.Mutex
	topics   []string
	messages []models.MessageEnvelope
	err      error
}

func (p *recordingProducer) Publish(_ context.Context, topic string, msg models.MessageEnvelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.topics = append(p.topics, topic)
	p.messages = append(p.messages, msg)
	return nil
}

func (p *recordingProducer) Close() error { return nil }

func newTestConsumer(dlq *recordingProducer) *KafkaConsumer {
	cfg := config.KafkaConfig{
		Brokers:  []string{"localhost:9092"},
		DLQTopic: "relay-dlq",
		Retry: config.RetryConfig{
			MaxAttempts:     3,
			InitialInterval: time.Millisecond,
			MaxInterval:     5 * time.Millisecond,
			Multiplier:      2,
		},
	}
	c := NewKafkaConsumer(cfg, logger.NopLogger())
	c.SetServiceName("relay-test")
	c.dlqProducer = dlq
	return c
}

func TestHandleMessage_Success(t *testing.T) {
	dlq := &recordingProducer{}
	c := newTestConsumer(dlq)

	var got models.MessageEnvelope
	calls := 0
	c.handleMessage(context.Background(), kafka.Message{Value: []byte(`{"message":{"type":"status-update","call":{"id":"c1"}}}`)}, "calls",
		func(_ context.Context, msg models.MessageEnvelope) error {
			calls++
			got = msg
			return nil
		})

	assert.Equal(t, 1, calls)
	assert.Contains(t, got.Payload, "message")
	assert.Empty(t, dlq.messages)
}

func TestHandleMessage_RetriesThenDLQ(t *testing.T) {
	dlq := &recordingProducer{}
	c := newTestConsumer(dlq)

	calls := 0
	c.handleMessage(context.Background(), kafka.Message{Value: []byte(`{"type":"status-update"}`)}, "calls",
		func(context.Context, models.MessageEnvelope) error {
			calls++
			return errors.New("boom")
		})

	assert.Equal(t, 3, calls)
	require.Len(t, dlq.messages, 1)
	assert.Equal(t, "relay-dlq", dlq.topics[0])
	require.NotNil(t, dlq.messages[0].Metadata.DLQ)
	assert.Equal(t, "boom", dlq.messages[0].Metadata.DLQ.Reason)
	assert.Equal(t, "calls", dlq.messages[0].Metadata.DLQ.SourceTopic)
}

func TestHandleMessage_FatalErrorSkipsRetries(t *testing.T) {
	dlq := &recordingProducer{}
	c := newTestConsumer(dlq)

	calls := 0
	c.handleMessage(context.Background(), kafka.Message{Value: []byte(`{}`)}, "calls",
		func(context.Context, models.MessageEnvelope) error {
			calls++
			return retry.NewFatalError(errors.New("bad payload"))
		})

	assert.Equal(t, 1, calls)
	assert.Len(t, dlq.messages, 1)
}

func TestHandleMessage_PanicIsRecovered(t *testing.T) {
	dlq := &recordingProducer{}
	c := newTestConsumer(dlq)

	assert.NotPanics(t, func() {
		c.handleMessage(context.Background(), kafka.Message{Value: []byte(`{}`)}, "calls",
			func(context.Context, models.MessageEnvelope) error {
				panic("handler exploded")
			})
	})
	assert.Len(t, dlq.messages, 1)
}

func TestHandleMessage_UndecodableIsDropped(t *testing.T) {
	dlq := &recordingProducer{}
	c := newTestConsumer(dlq)

	calls := 0
	c.handleMessage(context.Background(), kafka.Message{Value: []byte(`not json`)}, "calls",
		func(context.Context, models.MessageEnvelope) error {
			calls++
			return nil
		})

	assert.Zero(t, calls)
	assert.Empty(t, dlq.messages)
}

func TestRetryPolicy_Defaults(t *testing.T) {
	c := NewKafkaConsumer(config.KafkaConfig{}, logger.NopLogger())
	assert.Nil(t, c.dlqProducer)
	assert.Equal(t, retry.DefaultPolicy(), c.retryPolicy())
}

func TestMessageKey(t *testing.T) {
	assert.Equal(t, "call-1", messageKey(models.MessageEnvelope{ID: "env", Metadata: models.Metadata{CallID: "call-1"}}))
	assert.Equal(t, "env", messageKey(models.MessageEnvelope{ID: "env"}))
}

func TestFactory(t *testing.T) {
	_, err := NewProducer(config.BrokerConfig{Type: "rabbitmq"}, logger.NopLogger())
	assert.Error(t, err)

	_, err = NewConsumer(config.BrokerConfig{Type: "kafka"}, logger.NopLogger())
	assert.Error(t, err)

	p, err := NewProducer(config.BrokerConfig{Type: "kafka", Kafka: config.KafkaConfig{Brokers: []string{"localhost:9092"}}}, logger.NopLogger())
	require.NoError(t, err)
	assert.NoError(t, p.Close())
}
