// Package webhook exposes the relay over HTTP: the inbound webhook endpoint
// and a read-only view of calls still being aggregated.
package webhook

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Strikepoint-Media/vapi-endcall-webhook/internal/aggregator"
	"github.com/Strikepoint-Media/vapi-endcall-webhook/internal/logger"
	pkgerrors "github.com/Strikepoint-Media/vapi-endcall-webhook/pkg/errors"
	"github.com/Strikepoint-Media/vapi-endcall-webhook/pkg/metrics"
)

const maxBodyBytes = 5 << 20

type Dispatcher interface {
	Dispatch(ctx context.Context, body map[string]any) aggregator.Outcome
}

type CallInspector interface {
	Pending() []aggregator.Snapshot
	Get(callID string) (aggregator.Snapshot, bool)
}

type Handler struct {
	dispatcher Dispatcher
	calls      CallInspector
	logger     logger.Logger
}

func NewHandler(dispatcher Dispatcher, calls CallInspector, log logger.Logger) *Handler {
	if log == nil {
		log = logger.NopLogger()
	}
	return &Handler{
		dispatcher: dispatcher,
		calls:      calls,
		logger:     log,
	}
}

// RegisterRoutes mounts the webhook at webhookPath. apiMiddleware applies to
// the inspection API only.
func (h *Handler) RegisterRoutes(router *gin.Engine, webhookPath string, apiMiddleware ...gin.HandlerFunc) {
	router.POST(webhookPath, h.Receive)

	v1 := router.Group("/api/v1", apiMiddleware...)
	{
		calls := v1.Group("/calls")
		{
			calls.GET("", h.ListCalls)
			calls.GET("/:id", h.GetCall)
		}
	}
}

func (h *Handler) HandleError(c *gin.Context, err error) {
	h.logger.WarnwCtx(c.Request.Context(), "Request error", "error", err, "path", c.Request.URL.Path)
	c.JSON(pkgerrors.ToHTTPStatus(err), pkgerrors.ToErrorResponse(err))
}

// Receive always acknowledges the sender. Bodies that are not a JSON object
// or exceed maxBodyBytes are logged and dropped.
func (h *Handler) Receive(c *gin.Context) {
	ctx := c.Request.Context()
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes)

	var body map[string]any
	if err := c.ShouldBindJSON(&body); err != nil || body == nil {
		status := "invalid"
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			status = "too_large"
		}
		h.logger.WarnwCtx(ctx, "Webhook body is not a JSON object, ignoring",
			"error", err,
			"reason", status,
		)
		metrics.IncWebhookEvent("http", "unknown", status)
		c.JSON(http.StatusOK, gin.H{"received": true})
		return
	}

	h.dispatcher.Dispatch(ctx, body)
	c.JSON(http.StatusOK, gin.H{"received": true})
}

func (h *Handler) ListCalls(c *gin.Context) {
	pending := h.calls.Pending()
	c.JSON(http.StatusOK, gin.H{
		"calls": pending,
		"count": len(pending),
	})
}

func (h *Handler) GetCall(c *gin.Context) {
	id := c.Param("id")
	snap, ok := h.calls.Get(id)
	if !ok {
		h.HandleError(c, pkgerrors.ErrNotFound.WithDetail("call_id", id))
		return
	}
	c.JSON(http.StatusOK, snap)
}
