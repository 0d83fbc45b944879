package logging

import (
	"context"
)

type ctxKey string

const (
	TraceIDKey     = "trace_id"
	RequestIDKey   = "request_id"
	CallIDKey      = "call_id"
	ServiceNameKey = "service_name"
)

func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, ctxKey(TraceIDKey), traceID)
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ctxKey(RequestIDKey), requestID)
}

func WithCallID(ctx context.Context, callID string) context.Context {
	return context.WithValue(ctx, ctxKey(CallIDKey), callID)
}

func WithServiceName(ctx context.Context, serviceName string) context.Context {
	return context.WithValue(ctx, ctxKey(ServiceNameKey), serviceName)
}

func GetTraceID(ctx context.Context) string {
	return stringValue(ctx, TraceIDKey)
}

func GetRequestID(ctx context.Context) string {
	return stringValue(ctx, RequestIDKey)
}

func GetCallID(ctx context.Context) string {
	return stringValue(ctx, CallIDKey)
}

func GetServiceName(ctx context.Context) string {
	return stringValue(ctx, ServiceNameKey)
}

func stringValue(ctx context.Context, key string) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxKey(key)).(string); ok {
		return v
	}
	return ""
}

// GetLogFields returns the context values as zap key/value pairs.
func GetLogFields(ctx context.Context) []interface{} {
	fields := make([]interface{}, 0, 8)

	for _, key := range []string{TraceIDKey, RequestIDKey, CallIDKey, ServiceNameKey} {
		if v := stringValue(ctx, key); v != "" {
			fields = append(fields, key, v)
		}
	}

	return fields
}
