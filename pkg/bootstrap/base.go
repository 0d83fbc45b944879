package bootstrap

import (
	"context"
	"fmt"

	"github.com/Strikepoint-Media/vapi-endcall-webhook/internal/broker"
	"github.com/Strikepoint-Media/vapi-endcall-webhook/internal/config"
	"github.com/Strikepoint-Media/vapi-endcall-webhook/internal/logger"
)

type Base struct {
	Config   *config.Config
	Logger   logger.Logger
	Producer broker.Producer
	Consumer broker.Consumer
}

func NewBase(cfg *config.Config, log logger.Logger) *Base {
	return &Base{
		Config: cfg,
		Logger: log,
	}
}

// InitBroker creates the producer when an output topic is configured and the
// consumer when an input topic is configured. Without a broker it does
// nothing.
func (b *Base) InitBroker(serviceName string) error {
	if !b.Config.Broker.Enabled() {
		return nil
	}
	kafkaCfg := b.Config.Broker.Kafka

	if kafkaCfg.OutputTopic != "" {
		producer, err := broker.NewProducer(b.Config.Broker, b.Logger)
		if err != nil {
			return fmt.Errorf("failed to create producer: %w", err)
		}
		b.Producer = producer
	}

	if kafkaCfg.InputTopic != "" {
		consumer, err := broker.NewConsumer(b.Config.Broker, b.Logger)
		if err != nil {
			if b.Producer != nil {
				_ = b.Producer.Close()
				b.Producer = nil
			}
			return fmt.Errorf("failed to create consumer: %w", err)
		}
		if serviceName != "" {
			consumer.SetServiceName(serviceName)
		}
		b.Consumer = consumer
	}

	return nil
}

func (b *Base) ShutdownBroker() []error {
	var errs []error

	if b.Consumer != nil {
		if err := b.Consumer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("consumer close error: %w", err))
		}
	}

	if b.Producer != nil {
		if err := b.Producer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("producer close error: %w", err))
		}
	}

	return errs
}

func (b *Base) Shutdown(ctx context.Context, additionalShutdown func(ctx context.Context) []error) error {
	b.Logger.Info("Shutting down application...")

	var errs []error

	if additionalShutdown != nil {
		errs = append(errs, additionalShutdown(ctx)...)
	}

	errs = append(errs, b.ShutdownBroker()...)

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}

	b.Logger.Info("Application exited successfully")
	return nil
}
