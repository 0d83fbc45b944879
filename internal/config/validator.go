package config

import (
	"fmt"
	"net/url"
	"strings"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

func ValidateStatic(cfg *Config) error {
	var errors []error

	validators := []func() error{
		func() error { return validateServer(cfg.Server) },
		func() error { return validateLogging(cfg.Logging) },
		func() error { return validateRelay(cfg.Relay) },
		func() error { return validateEnrichment(cfg.Enrichment) },
		func() error { return validateDelivery(cfg.Delivery) },
		func() error { return validateBroker(cfg.Broker) },
		func() error { return validateDatabase(cfg.Database) },
		func() error { return validateDeduplication(cfg.Deduplication) },
		func() error { return validateCircuitBreaker(cfg.CircuitBreaker) },
	}
	for _, validate := range validators {
		if err := validate(); err != nil {
			errors = append(errors, err)
		}
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errors)
	}

	return nil
}

func validateServer(cfg ServerConfig) error {
	if cfg.Port < 1 || cfg.Port > 65535 {
		return &ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port),
		}
	}

	if cfg.ReadTimeout <= 0 {
		return &ValidationError{
			Field:   "server.read_timeout",
			Message: "read timeout must be positive",
		}
	}

	if cfg.WriteTimeout <= 0 {
		return &ValidationError{
			Field:   "server.write_timeout",
			Message: "write timeout must be positive",
		}
	}

	if !strings.HasPrefix(cfg.WebhookPath, "/") {
		return &ValidationError{
			Field:   "server.webhook_path",
			Message: fmt.Sprintf("webhook path must start with '/', got %q", cfg.WebhookPath),
		}
	}

	if cfg.APIRateLimit.RPS > 0 && cfg.APIRateLimit.Burst < 1 {
		return &ValidationError{
			Field:   "server.api_rate_limit.burst",
			Message: "burst must be at least 1 when rps is set",
		}
	}

	return nil
}

func validateLogging(cfg LoggingConfig) error {
	switch strings.ToLower(cfg.Format) {
	case "", "json", "console":
	default:
		return &ValidationError{
			Field:   "logging.format",
			Message: fmt.Sprintf("invalid log format: %s (valid: json, console)", cfg.Format),
		}
	}
	return nil
}

func validateRelay(cfg RelayConfig) error {
	if cfg.FallbackWindow <= 0 {
		return &ValidationError{
			Field:   "relay.fallback_window",
			Message: "fallback window must be positive",
		}
	}

	if cfg.TombstoneTTL < 0 {
		return &ValidationError{
			Field:   "relay.tombstone_ttl",
			Message: "tombstone ttl must be non-negative",
		}
	}

	return nil
}

func validateEnrichment(cfg EnrichmentConfig) error {
	if cfg.APIURL != "" {
		if err := validateHTTPURL("enrichment.api_url", cfg.APIURL); err != nil {
			return err
		}
	}

	if cfg.Timeout <= 0 {
		return &ValidationError{
			Field:   "enrichment.timeout",
			Message: "timeout must be positive",
		}
	}

	if cfg.CacheTTL < 0 {
		return &ValidationError{
			Field:   "enrichment.cache_ttl",
			Message: "cache ttl must be non-negative",
		}
	}

	if cfg.RateLimit.RPS < 0 || cfg.RateLimit.Burst < 0 {
		return &ValidationError{
			Field:   "enrichment.rate_limit",
			Message: "rps and burst must be non-negative",
		}
	}

	return nil
}

func validateDelivery(cfg DeliveryConfig) error {
	if cfg.URL != "" {
		if err := validateHTTPURL("delivery.url", cfg.URL); err != nil {
			return err
		}
	}

	if cfg.Timeout <= 0 {
		return &ValidationError{
			Field:   "delivery.timeout",
			Message: "timeout must be positive",
		}
	}

	return nil
}

func validateHTTPURL(field, raw string) error {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return &ValidationError{
			Field:   field,
			Message: fmt.Sprintf("must be an absolute http(s) url, got %q", raw),
		}
	}
	return nil
}

func validateBroker(cfg BrokerConfig) error {
	switch cfg.Type {
	case "", "none":
		return nil
	case "kafka":
		return validateKafka(cfg.Kafka)
	default:
		return &ValidationError{
			Field:   "broker.type",
			Message: fmt.Sprintf("unknown broker type: %s (supported: kafka)", cfg.Type),
		}
	}
}

func validateKafka(cfg KafkaConfig) error {
	if len(cfg.Brokers) == 0 {
		return &ValidationError{
			Field:   "broker.kafka.brokers",
			Message: "at least one Kafka broker is required",
		}
	}

	for i, broker := range cfg.Brokers {
		if broker == "" {
			return &ValidationError{
				Field:   fmt.Sprintf("broker.kafka.brokers[%d]", i),
				Message: "broker address cannot be empty",
			}
		}
	}

	if cfg.InputTopic != "" && cfg.GroupID == "" {
		return &ValidationError{
			Field:   "broker.kafka.group_id",
			Message: "Kafka consumer group ID is required when input_topic is set",
		}
	}

	if cfg.Retry.MaxAttempts < 0 {
		return &ValidationError{
			Field:   "broker.kafka.retry.max_attempts",
			Message: "max_attempts must be non-negative",
		}
	}

	if cfg.Retry.InitialInterval < 0 {
		return &ValidationError{
			Field:   "broker.kafka.retry.initial_interval",
			Message: "initial_interval must be non-negative",
		}
	}

	if cfg.Retry.MaxInterval < 0 {
		return &ValidationError{
			Field:   "broker.kafka.retry.max_interval",
			Message: "max_interval must be non-negative",
		}
	}

	if cfg.Retry.MaxInterval > 0 && cfg.Retry.InitialInterval > 0 && cfg.Retry.MaxInterval < cfg.Retry.InitialInterval {
		return &ValidationError{
			Field:   "broker.kafka.retry.max_interval",
			Message: "max_interval must be greater than or equal to initial_interval",
		}
	}

	if cfg.Retry.Multiplier <= 0 {
		return &ValidationError{
			Field:   "broker.kafka.retry.multiplier",
			Message: "multiplier must be positive",
		}
	}

	return nil
}

func validateDatabase(cfg DatabaseConfig) error {
	if cfg.Redis.Host != "" {
		if err := validateRedis(cfg.Redis); err != nil {
			return err
		}
	}
	return nil
}

func validateRedis(cfg RedisConfig) error {
	if cfg.Port < 1 || cfg.Port > 65535 {
		return &ValidationError{
			Field:   "database.redis.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port),
		}
	}

	if cfg.DB < 0 {
		return &ValidationError{
			Field:   "database.redis.db",
			Message: "db index must be non-negative",
		}
	}

	return nil
}

func validateDeduplication(cfg DeduplicationConfig) error {
	if cfg.TTLSeconds < 0 {
		return &ValidationError{
			Field:   "deduplication.ttl_seconds",
			Message: "TTL must be non-negative",
		}
	}

	validOnError := map[string]bool{
		"allow": true, "deny": true,
	}
	if cfg.OnRedisError != "" && !validOnError[strings.ToLower(cfg.OnRedisError)] {
		return &ValidationError{
			Field:   "deduplication.on_redis_error",
			Message: fmt.Sprintf("invalid on_redis_error value: %s (valid: allow, deny)", cfg.OnRedisError),
		}
	}

	return nil
}

func validateCircuitBreaker(cfg CircuitBreakerConfig) error {
	if !cfg.Enabled {
		return nil
	}

	if cfg.FailureRatio <= 0 || cfg.FailureRatio > 1 {
		return &ValidationError{
			Field:   "circuit_breaker.failure_ratio",
			Message: fmt.Sprintf("failure ratio must be in (0, 1], got %v", cfg.FailureRatio),
		}
	}

	if cfg.Timeout < 0 || cfg.Interval < 0 {
		return &ValidationError{
			Field:   "circuit_breaker",
			Message: "interval and timeout must be non-negative",
		}
	}

	return nil
}
