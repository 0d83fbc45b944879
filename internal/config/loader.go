package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// LoadConfig reads configFile (optional) and the environment. Without a file
// the defaults plus environment variables make a complete configuration.
func LoadConfig(configFile string) (*Config, error) {
	v := viper.New()

	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	if err := bindEnvVariables(v); err != nil {
		return nil, fmt.Errorf("failed to bind environment variables: %w", err)
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyEnvOverrides(v, &cfg)

	if err := ValidateStatic(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.webhook_path", "/webhook")
	v.SetDefault("server.api_rate_limit.rps", 5.0)
	v.SetDefault("server.api_rate_limit.burst", 10)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("relay.fallback_window", "20s")
	v.SetDefault("relay.tombstone_ttl", "10m")
	v.SetDefault("relay.flush_on_shutdown", true)

	v.SetDefault("enrichment.api_url", "http://apilayer.net/api/validate")
	v.SetDefault("enrichment.timeout", "5s")
	v.SetDefault("enrichment.default_region", "US")
	v.SetDefault("enrichment.cache_ttl", "24h")

	v.SetDefault("delivery.timeout", "10s")

	v.SetDefault("deduplication.ttl_seconds", 86400)
	v.SetDefault("deduplication.on_redis_error", "allow")

	v.SetDefault("database.redis.port", 6379)

	v.SetDefault("broker.kafka.group_id", "call-relay")
	v.SetDefault("broker.kafka.retry.max_attempts", 3)
	v.SetDefault("broker.kafka.retry.initial_interval", "1s")
	v.SetDefault("broker.kafka.retry.max_interval", "30s")
	v.SetDefault("broker.kafka.retry.multiplier", 2.0)

	v.SetDefault("circuit_breaker.enabled", true)
	v.SetDefault("circuit_breaker.max_requests", 3)
	v.SetDefault("circuit_breaker.interval", "60s")
	v.SetDefault("circuit_breaker.timeout", "30s")
	v.SetDefault("circuit_breaker.failure_ratio", 0.5)
	v.SetDefault("circuit_breaker.min_requests", 5)

	v.SetDefault("tracing.service_name", "relay-service")
	v.SetDefault("tracing.sampler.type", "always_on")
}

func bindEnvVariables(v *viper.Viper) error {
	bindings := map[string][]string{
		"server.port":               {"SERVER_PORT", "PORT"},
		"server.webhook_path":       {"SERVER_WEBHOOK_PATH"},
		"logging.level":             {"LOGGING_LEVEL", "LOG_LEVEL"},
		"logging.format":            {"LOGGING_FORMAT"},
		"relay.fallback_window":     {"RELAY_FALLBACK_WINDOW"},
		"relay.tombstone_ttl":       {"RELAY_TOMBSTONE_TTL"},
		"relay.filter_expression":   {"RELAY_FILTER_EXPRESSION"},
		"enrichment.api_url":        {"ENRICHMENT_API_URL"},
		"enrichment.api_key":        {"ENRICHMENT_API_KEY", "NUMVERIFY_API_KEY"},
		"enrichment.default_region": {"ENRICHMENT_DEFAULT_REGION"},
		"delivery.url":              {"DELIVERY_URL", "WEBHOOK_FORWARD_URL"},
		"delivery.timeout":          {"DELIVERY_TIMEOUT"},
		"database.redis.host":       {"DATABASE_REDIS_HOST"},
		"database.redis.port":       {"DATABASE_REDIS_PORT"},
		"database.redis.password":   {"DATABASE_REDIS_PASSWORD"},
		"database.redis.db":         {"DATABASE_REDIS_DB"},
		"broker.type":               {"BROKER_TYPE"},
		"broker.kafka.group_id":     {"BROKER_KAFKA_GROUP_ID"},
		"broker.kafka.input_topic":  {"BROKER_KAFKA_INPUT_TOPIC"},
		"broker.kafka.output_topic": {"BROKER_KAFKA_OUTPUT_TOPIC"},
		"broker.kafka.dlq_topic":    {"BROKER_KAFKA_DLQ_TOPIC"},
		"tracing.enabled":           {"TRACING_ENABLED"},
		"tracing.service_name":      {"TRACING_SERVICE_NAME"},
		"tracing.otlp.endpoint":     {"TRACING_OTLP_ENDPOINT"},
		"tracing.otlp.insecure":     {"TRACING_OTLP_INSECURE"},
	}

	for key, envs := range bindings {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return err
		}
	}
	return nil
}

func applyEnvOverrides(v *viper.Viper, cfg *Config) {
	if brokersEnv := v.GetString("BROKER_KAFKA_BROKERS"); brokersEnv != "" {
		brokers := strings.Split(brokersEnv, ",")
		for i := range brokers {
			brokers[i] = strings.TrimSpace(brokers[i])
		}
		if len(brokers) > 0 && brokers[0] != "" {
			cfg.Broker.Kafka.Brokers = brokers
		}
	}
}
