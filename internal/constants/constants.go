package constants

import "time"

const (
	KafkaBatchTimeout = 10 * time.Millisecond
	KafkaWriteTimeout = 10 * time.Second
)

const (
	CacheKeyPrefixClaim  = "relay:claim:"
	CacheKeyPrefixEnrich = "relay:enrich:"
)

const (
	ShutdownTimeout = 15 * time.Second
)

const (
	// MaxReasonBodyLen caps how much of a downstream response body is kept
	// in a failed delivery reason.
	MaxReasonBodyLen = 512
	// MaxEnrichmentBodyLen caps how much of a lookup response is read.
	MaxEnrichmentBodyLen = 1 << 20
)

const (
	HTTPStatusOKMin = 200
	HTTPStatusOKMax = 300
)

const (
	FallbackAllow = "allow"
	FallbackDeny  = "deny"
)

const (
	ProviderNameAPI            = "api"
	ProviderNameCache          = "cache"
	ProviderNameCircuitBreaker = "circuit_breaker"
)

const (
	FlushReasonTerminal = "terminal"
	FlushReasonFallback = "fallback"
	FlushReasonNoCallID = "no_call_id"
	FlushReasonShutdown = "shutdown"
)

const (
	ServiceName = "relay-service"
)
