package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	WebhookEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_webhook_events_total",
			Help: "Total number of inbound call events received (count)",
		},
		[]string{"source", "event_type", "status"},
	)

	RateLimitRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_api_rate_limit_requests_total",
			Help: "Total number of inspection API requests checked by the rate limiter (count)",
		},
		[]string{"status"},
	)

	AggregatorTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_aggregator_transitions_total",
			Help: "Total number of aggregation state transitions by outcome (count)",
		},
		[]string{"outcome"},
	)

	AggregatorPendingCalls = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_aggregator_pending_calls",
			Help: "Number of calls currently accumulating events (count)",
		},
	)

	AggregatorTombstones = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_aggregator_tombstones",
			Help: "Number of recently flushed call ids still suppressed (count)",
		},
	)

	FlushesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_flushes_total",
			Help: "Total number of call flushes by reason (count)",
		},
		[]string{"reason"},
	)

	FlushEventCount = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "relay_flush_event_count",
			Help:    "Number of events merged into a flushed call record",
			Buckets: []float64{1, 2, 3, 5, 8, 13, 21, 50},
		},
	)

	DeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_deliveries_total",
			Help: "Total number of downstream deliveries by status (count)",
		},
		[]string{"status"},
	)

	DeliveryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relay_delivery_duration_ms",
			Help:    "Duration of downstream delivery requests in milliseconds",
			Buckets: []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		},
		[]string{"status"},
	)

	EnrichmentLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_enrichment_lookups_total",
			Help: "Total number of phone enrichment lookups by status (count)",
		},
		[]string{"status"},
	)

	EnrichmentProviderDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relay_enrichment_provider_duration_ms",
			Help:    "Duration of enrichment provider requests in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		},
		[]string{"provider"},
	)

	DeliveryClaimsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_delivery_claims_total",
			Help: "Total number of delivery claims by result (count)",
		},
		[]string{"status"},
	)

	DeliveryClaimDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relay_delivery_claim_duration_ms",
			Help:    "Duration of delivery claim checks in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
		[]string{"status"},
	)

	DeliveryClaimKeys = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_delivery_claim_keys",
			Help: "Approximate number of live delivery claim keys (count)",
		},
	)

	FallbackUsageTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_fallback_usage_total",
			Help: "Total number of times fallback strategies were used (count)",
		},
		[]string{"component", "strategy"},
	)

	RetryAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retry_attempts_total",
			Help: "Total number of retry attempts (count)",
		},
		[]string{"service", "topic"},
	)

	DLQMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dlq_messages_total",
			Help: "Total number of messages sent to DLQ (count)",
		},
		[]string{"service", "topic", "reason"},
	)

	KafkaMessagesReadTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_messages_read_total",
			Help: "Total number of messages read from Kafka (count)",
		},
		[]string{"service", "topic"},
	)

	KafkaMessagesWrittenTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_messages_written_total",
			Help: "Total number of messages written to Kafka (count)",
		},
		[]string{"service", "topic"},
	)

	KafkaWriteDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kafka_write_duration_ms",
			Help:    "Duration of writing messages to Kafka in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
		[]string{"service", "topic"},
	)

	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open) (state code)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker (count)",
		},
		[]string{"name", "state"},
	)

	CircuitBreakerFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_failures_total",
			Help: "Total number of failures through circuit breaker (count)",
		},
		[]string{"name"},
	)
)

var (
	relayOnce          sync.Once
	brokerOnce         sync.Once
	circuitBreakerOnce sync.Once
)

func RegisterRelayMetrics() {
	relayOnce.Do(func() {
		prometheus.MustRegister(
			WebhookEventsTotal,
			RateLimitRequestsTotal,
			AggregatorTransitionsTotal,
			AggregatorPendingCalls,
			AggregatorTombstones,
			FlushesTotal,
			FlushEventCount,
			DeliveriesTotal,
			DeliveryDuration,
			EnrichmentLookupsTotal,
			EnrichmentProviderDuration,
			DeliveryClaimsTotal,
			DeliveryClaimDuration,
			DeliveryClaimKeys,
			FallbackUsageTotal,
		)
	})
}

func RegisterBrokerMetrics() {
	brokerOnce.Do(func() {
		prometheus.MustRegister(
			RetryAttemptsTotal,
			DLQMessagesTotal,
			KafkaMessagesReadTotal,
			KafkaMessagesWrittenTotal,
			KafkaWriteDuration,
		)
	})
}

func RegisterCircuitBreakerMetrics() {
	circuitBreakerOnce.Do(func() {
		prometheus.MustRegister(
			CircuitBreakerState,
			CircuitBreakerRequests,
			CircuitBreakerFailures,
		)
	})
}

func IncWebhookEvent(source, eventType, status string) {
	WebhookEventsTotal.WithLabelValues(source, eventType, status).Inc()
}

func IncRateLimitRequest(status string) {
	RateLimitRequestsTotal.WithLabelValues(status).Inc()
}

func IncAggregatorTransition(outcome string) {
	AggregatorTransitionsTotal.WithLabelValues(outcome).Inc()
}

func SetAggregatorPendingCalls(n int) {
	AggregatorPendingCalls.Set(float64(n))
}

func SetAggregatorTombstones(n int) {
	AggregatorTombstones.Set(float64(n))
}

func ObserveFlush(reason string, events int) {
	FlushesTotal.WithLabelValues(reason).Inc()
	FlushEventCount.Observe(float64(events))
}

func IncDelivery(status string) {
	DeliveriesTotal.WithLabelValues(status).Inc()
}

func ObserveDeliveryDuration(duration time.Duration, status string) {
	DeliveryDuration.WithLabelValues(status).Observe(float64(duration.Milliseconds()))
}

func IncEnrichmentLookup(status string) {
	EnrichmentLookupsTotal.WithLabelValues(status).Inc()
}

func ObserveEnrichmentProviderDuration(provider string, duration time.Duration) {
	EnrichmentProviderDuration.WithLabelValues(provider).Observe(float64(duration.Milliseconds()))
}

func ObserveDeliveryClaim(duration time.Duration, status string) {
	DeliveryClaimsTotal.WithLabelValues(status).Inc()
	DeliveryClaimDuration.WithLabelValues(status).Observe(float64(duration.Milliseconds()))
}

func SetDeliveryClaimKeys(n int) {
	DeliveryClaimKeys.Set(float64(n))
}

func IncFallbackUsage(component, strategy string) {
	FallbackUsageTotal.WithLabelValues(component, strategy).Inc()
}

func IncKafkaMessagesRead(service, topic string) {
	KafkaMessagesReadTotal.WithLabelValues(service, topic).Inc()
}

func IncKafkaMessagesWritten(service, topic string) {
	KafkaMessagesWrittenTotal.WithLabelValues(service, topic).Inc()
}

func ObserveKafkaWriteDuration(service, topic string, duration time.Duration) {
	KafkaWriteDuration.WithLabelValues(service, topic).Observe(float64(duration.Milliseconds()))
}

func IncDLQMessage(service, topic, reason string) {
	DLQMessagesTotal.WithLabelValues(service, topic, reason).Inc()
}

func IncRetryAttempt(service, topic string) {
	RetryAttemptsTotal.WithLabelValues(service, topic).Inc()
}
