package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/Strikepoint-Media/vapi-endcall-webhook/internal/config"
	"github.com/Strikepoint-Media/vapi-endcall-webhook/internal/constants"
	"github.com/Strikepoint-Media/vapi-endcall-webhook/internal/logger"
	"github.com/Strikepoint-Media/vapi-endcall-webhook/pkg/errors"
	"github.com/Strikepoint-Media/vapi-endcall-webhook/pkg/logging"
	"github.com/Strikepoint-Media/vapi-endcall-webhook/pkg/metrics"
	"github.com/Strikepoint-Media/vapi-endcall-webhook/pkg/models"
	"github.com/Strikepoint-Media/vapi-endcall-webhook/pkg/retry"
	"github.com/Strikepoint-Media/vapi-endcall-webhook/pkg/tracing"
)

type KafkaProducer struct {
	writer      *kafka.Writer
	logger      logger.Logger
	serviceName string
}

func NewKafkaProducer(cfg config.KafkaConfig, log logger.Logger) *KafkaProducer {
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.Hash{},
		BatchTimeout: constants.KafkaBatchTimeout,
		WriteTimeout: constants.KafkaWriteTimeout,
		Async:        false,
	}
	return &KafkaProducer{writer: w, logger: log, serviceName: constants.ServiceName}
}

// Publish writes msg to topic. Messages for the same call share a key so
// they land on the same partition.
func (p *KafkaProducer) Publish(ctx context.Context, topic string, msg models.MessageEnvelope) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	headers := tracing.InjectTraceContext(ctx, []kafka.Header{})

	start := time.Now()
	err = p.writer.WriteMessages(ctx,
		kafka.Message{
			Topic:   topic,
			Key:     []byte(messageKey(msg)),
			Value:   body,
			Headers: headers,
			Time:    time.Now(),
		},
	)
	metrics.ObserveKafkaWriteDuration(p.serviceName, topic, time.Since(start))

	if err != nil {
		return fmt.Errorf("failed to write kafka message: %w", err)
	}

	metrics.IncKafkaMessagesWritten(p.serviceName, topic)
	return nil
}

func (p *KafkaProducer) Close() error {
	return p.writer.Close()
}

func messageKey(msg models.MessageEnvelope) string {
	if msg.Metadata.CallID != "" {
		return msg.Metadata.CallID
	}
	return msg.ID
}

type KafkaConsumer struct {
	cfg         config.KafkaConfig
	wg          sync.WaitGroup
	reader      *kafka.Reader
	logger      logger.Logger
	dlqProducer Producer
	serviceName string
}

func NewKafkaConsumer(cfg config.KafkaConfig, log logger.Logger) *KafkaConsumer {
	consumer := &KafkaConsumer{
		cfg:         cfg,
		logger:      log,
		serviceName: "unknown",
	}

	if cfg.DLQTopic != "" {
		consumer.dlqProducer = NewKafkaProducer(cfg, log)
	}

	return consumer
}

func (c *KafkaConsumer) SetServiceName(name string) {
	c.serviceName = name
}

// Consume reads topic until ctx is cancelled. Every fetched message is
// committed once it was handled, sent to the DLQ, or found undecodable.
func (c *KafkaConsumer) Consume(ctx context.Context, topic string, handler HandlerFunc) error {
	c.logger.Infow("Creating Kafka reader",
		"topic", topic,
		"brokers", c.cfg.Brokers,
		"group_id", c.cfg.GroupID,
		"service_name", c.serviceName,
	)

	c.reader = kafka.NewReader(kafka.ReaderConfig{
		Brokers:  c.cfg.Brokers,
		GroupID:  c.cfg.GroupID,
		Topic:    topic,
		MinBytes: 10e3,
		MaxBytes: 10e6,
	})

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		consumeCtx := logging.WithServiceName(ctx, c.serviceName)
		c.logger.InfowCtx(consumeCtx, "Started consuming",
			"topic", topic,
		)

		for {
			m, err := c.reader.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					c.logger.InfowCtx(consumeCtx, "Stopped consuming",
						"topic", topic,
						"reason", "context canceled",
					)
					return
				}
				c.logger.ErrorwCtx(consumeCtx, "Error fetching kafka message",
					"error", err,
					"topic", topic,
				)
				time.Sleep(time.Second)
				continue
			}

			metrics.IncKafkaMessagesRead(c.serviceName, topic)
			c.handleMessage(ctx, m, topic, handler)

			if err := c.reader.CommitMessages(ctx, m); err != nil {
				c.logger.ErrorwCtx(consumeCtx, "Failed to commit message",
					"error", err,
					"topic", topic,
				)
			}
		}
	}()

	<-ctx.Done()
	return ctx.Err()
}

func (c *KafkaConsumer) handleMessage(ctx context.Context, m kafka.Message, topic string, handler HandlerFunc) {
	envelope, err := models.DecodeEnvelope(m.Value)
	if err != nil {
		c.logger.ErrorwCtx(ctx, "Failed to unmarshal message",
			"error", err,
			"topic", topic,
			"service_name", c.serviceName,
		)
		return
	}

	msgCtx, span := tracing.StartConsumeSpan(ctx, m)
	defer span.End()

	if envelope.Metadata.TraceID != "" {
		msgCtx = logging.WithTraceID(msgCtx, envelope.Metadata.TraceID)
	}
	msgCtx = logging.WithRequestID(msgCtx, envelope.ID)
	msgCtx = logging.WithServiceName(msgCtx, c.serviceName)

	err = c.processMessageWithRetry(msgCtx, envelope, handler, topic)
	if err == nil {
		return
	}

	c.logger.ErrorwCtx(msgCtx, "Failed to process message after retries",
		"error", err,
		"topic", topic,
	)
	if c.dlqProducer == nil || c.cfg.DLQTopic == "" {
		c.logger.WarnwCtx(msgCtx, "No DLQ configured, committing message to avoid blocking",
			"topic", topic,
		)
		return
	}
	if dlqErr := c.sendToDLQ(msgCtx, envelope, err, topic); dlqErr != nil {
		c.logger.ErrorwCtx(msgCtx, "Failed to send message to DLQ",
			"error", dlqErr,
			"topic", topic,
		)
	}
}

func (c *KafkaConsumer) Close() error {
	var err error
	if c.reader != nil {
		err = c.reader.Close()
	}
	if c.dlqProducer != nil {
		if closeErr := c.dlqProducer.Close(); closeErr != nil {
			if err == nil {
				err = closeErr
			}
		}
	}
	c.wg.Wait()
	return err
}

func (c *KafkaConsumer) retryPolicy() retry.Policy {
	policy := retry.DefaultPolicy()

	if c.cfg.Retry.MaxAttempts > 0 {
		policy.MaxAttempts = c.cfg.Retry.MaxAttempts
	}
	if c.cfg.Retry.InitialInterval > 0 {
		policy.InitialInterval = c.cfg.Retry.InitialInterval
	}
	if c.cfg.Retry.MaxInterval > 0 {
		policy.MaxInterval = c.cfg.Retry.MaxInterval
	}
	if c.cfg.Retry.Multiplier > 0 {
		policy.Multiplier = c.cfg.Retry.Multiplier
	}
	if c.cfg.Retry.MaxElapsedTime > 0 {
		policy.MaxElapsedTime = c.cfg.Retry.MaxElapsedTime
	}
	return policy
}

func (c *KafkaConsumer) processMessageWithRetry(ctx context.Context, envelope models.MessageEnvelope, handler HandlerFunc, topic string) error {
	policy := c.retryPolicy()

	return retry.RetryWithCallback(ctx, policy, func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = errors.RecoverPanic(r)
				c.logger.ErrorwCtx(ctx, "Panic recovered during message processing",
					"error", err,
					"topic", topic,
				)
			}
		}()
		return handler(ctx, envelope)
	}, func(attempt int, err error, nextDelay time.Duration) {
		metrics.IncRetryAttempt(c.serviceName, topic)
		c.logger.WarnwCtx(ctx, "Retrying message processing",
			"attempt", attempt,
			"max_attempts", policy.MaxAttempts,
			"next_delay", nextDelay,
			"error", err,
			"topic", topic,
		)
	})
}

func (c *KafkaConsumer) sendToDLQ(ctx context.Context, envelope models.MessageEnvelope, originalErr error, sourceTopic string) error {
	envelope.Metadata.DLQ = &models.DLQInfo{
		Reason:      originalErr.Error(),
		SourceTopic: sourceTopic,
		Timestamp:   time.Now(),
	}

	if err := c.dlqProducer.Publish(ctx, c.cfg.DLQTopic, envelope); err != nil {
		return fmt.Errorf("failed to publish to DLQ: %w", err)
	}

	metrics.IncDLQMessage(c.serviceName, sourceTopic, "max_retries_exceeded")
	c.logger.InfowCtx(ctx, "Message sent to DLQ",
		"source_topic", sourceTopic,
		"dlq_topic", c.cfg.DLQTopic,
		"reason", originalErr.Error(),
	)

	return nil
}
