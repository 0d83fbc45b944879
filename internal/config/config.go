package config

import (
	"time"
)

type Config struct {
	Server         ServerConfig         `mapstructure:"server"`
	Logging        LoggingConfig        `mapstructure:"logging"`
	Relay          RelayConfig          `mapstructure:"relay"`
	Enrichment     EnrichmentConfig     `mapstructure:"enrichment"`
	Delivery       DeliveryConfig       `mapstructure:"delivery"`
	Deduplication  DeduplicationConfig  `mapstructure:"deduplication"`
	Database       DatabaseConfig       `mapstructure:"database"`
	Broker         BrokerConfig         `mapstructure:"broker"`
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`
	Tracing        TracingConfig        `mapstructure:"tracing"`
}

type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	WebhookPath  string        `mapstructure:"webhook_path"`
	// APIRateLimit applies per client IP to the inspection API. A
	// non-positive rps disables it. The webhook endpoint is never limited.
	APIRateLimit RateLimitConfig `mapstructure:"api_rate_limit"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type RelayConfig struct {
	// FallbackWindow is the quiet period after the last non-terminal event
	// before a call is flushed without a terminal report.
	FallbackWindow time.Duration `mapstructure:"fallback_window"`
	// TombstoneTTL suppresses re-aggregation of a flushed call id. Zero
	// disables tombstones.
	TombstoneTTL     time.Duration `mapstructure:"tombstone_ttl"`
	FlushOnShutdown  bool          `mapstructure:"flush_on_shutdown"`
	FilterExpression string        `mapstructure:"filter_expression"`
}

type EnrichmentConfig struct {
	APIURL        string          `mapstructure:"api_url"`
	APIKey        string          `mapstructure:"api_key"`
	Timeout       time.Duration   `mapstructure:"timeout"`
	DefaultRegion string          `mapstructure:"default_region"`
	CacheTTL      time.Duration   `mapstructure:"cache_ttl"`
	RateLimit     RateLimitConfig `mapstructure:"rate_limit"`
}

type RateLimitConfig struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

type DeliveryConfig struct {
	URL     string            `mapstructure:"url"`
	Timeout time.Duration     `mapstructure:"timeout"`
	Headers map[string]string `mapstructure:"headers"`
}

type DeduplicationConfig struct {
	TTLSeconds   int    `mapstructure:"ttl_seconds"`
	OnRedisError string `mapstructure:"on_redis_error"`
}

type DatabaseConfig struct {
	Redis RedisConfig `mapstructure:"redis"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

func (c RedisConfig) Enabled() bool {
	return c.Host != ""
}

type BrokerConfig struct {
	Type  string      `mapstructure:"type"`
	Kafka KafkaConfig `mapstructure:"kafka"`
}

func (c BrokerConfig) Enabled() bool {
	return c.Type != "" && c.Type != "none"
}

type KafkaConfig struct {
	Brokers     []string    `mapstructure:"brokers"`
	GroupID     string      `mapstructure:"group_id"`
	InputTopic  string      `mapstructure:"input_topic"`
	OutputTopic string      `mapstructure:"output_topic"`
	DLQTopic    string      `mapstructure:"dlq_topic"`
	Retry       RetryConfig `mapstructure:"retry"`
}

type RetryConfig struct {
	MaxAttempts     int           `mapstructure:"max_attempts"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
	Multiplier      float64       `mapstructure:"multiplier"`
	MaxElapsedTime  time.Duration `mapstructure:"max_elapsed_time"`
}

type CircuitBreakerConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	MaxRequests  uint32        `mapstructure:"max_requests"`
	Interval     time.Duration `mapstructure:"interval"`
	Timeout      time.Duration `mapstructure:"timeout"`
	FailureRatio float64       `mapstructure:"failure_ratio"`
	MinRequests  uint32        `mapstructure:"min_requests"`
}

type TracingConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	ServiceName string        `mapstructure:"service_name"`
	OTLP        OTLPConfig    `mapstructure:"otlp"`
	Sampler     SamplerConfig `mapstructure:"sampler"`
}

type OTLPConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	Insecure bool   `mapstructure:"insecure"`
}

type SamplerConfig struct {
	Type  string  `mapstructure:"type"`
	Param float64 `mapstructure:"param"`
}

func Load(configFile string) (*Config, error) {
	return LoadConfig(configFile)
}
