package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/Strikepoint-Media/vapi-endcall-webhook/internal/logger"
	"github.com/Strikepoint-Media/vapi-endcall-webhook/pkg/errors"
	"github.com/Strikepoint-Media/vapi-endcall-webhook/pkg/logging"
	"github.com/Strikepoint-Media/vapi-endcall-webhook/pkg/tracing"
)

const RequestIDHeader = "X-Request-ID"

// LoggerMiddleware logs one line per request. Health and metrics scrapes are
// logged at debug level.
func LoggerMiddleware(log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		statusCode := c.Writer.Status()
		errorMessage := c.Errors.ByType(gin.ErrorTypePrivate).String()

		if raw != "" {
			path = path + "?" + raw
		}

		logFields := []interface{}{
			"status", statusCode,
			"latency", latency,
			"client_ip", c.ClientIP(),
			"method", c.Request.Method,
			"path", path,
		}

		if errorMessage != "" {
			logFields = append(logFields, "error", errorMessage)
		}

		ctx := c.Request.Context()
		switch {
		case statusCode >= 500:
			log.ErrorwCtx(ctx, "HTTP Request", logFields...)
		case c.Request.URL.Path == "/health" || c.Request.URL.Path == "/metrics":
			log.DebugwCtx(ctx, "HTTP Request", logFields...)
		default:
			log.InfowCtx(ctx, "HTTP Request", logFields...)
		}
	}
}

func RecoveryMiddleware(log logger.Logger) gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		err := errors.RecoverPanic(recovered)
		log.ErrorwCtx(c.Request.Context(), "Panic recovered",
			"error", err,
			"path", c.Request.URL.Path,
			"method", c.Request.Method,
		)
		c.AbortWithStatusJSON(errors.ToHTTPStatus(err), errors.ToErrorResponse(err))
	})
}

// RequestIDMiddleware propagates or assigns a request id and stores it, with
// the active trace id, in the request context for logging.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set("request_id", requestID)
		c.Header(RequestIDHeader, requestID)

		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		if traceID := tracing.TraceIDFromContext(ctx); traceID != "" {
			ctx = logging.WithTraceID(ctx, traceID)
		}
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}
