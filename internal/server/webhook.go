package server

import (
	"errors"
	"io"
	"net/http"

	gatewaydomain "github.com/apploom/apploom/internal/gateway/domain"
	reconciliationdomain "github.com/apploom/apploom/internal/reconciliation/domain"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// maxWebhookBody caps the request body read; gateway payloads are a few
// kilobytes.
const maxWebhookBody = 1 << 20

// handleStripeWebhook verifies, normalizes and persists one delivery.
// Anything persisted (or already persisted) returns 200 so the gateway
// stops redelivering; processing happens asynchronously.
func (s *Server) handleStripeWebhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		s.metrics.RecordWebhookEvent("read_error")
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	if err := s.webhook.Verify(payload, c.Request.Header); err != nil {
		s.log.Warn("webhook signature rejected", zap.Error(err))
		s.metrics.RecordWebhookEvent("bad_signature")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
		return
	}

	event, err := s.webhook.Parse(payload)
	switch {
	case errors.Is(err, reconciliationdomain.ErrEventIgnored):
		// Outside the billing set; acknowledge without persisting.
		s.metrics.RecordWebhookEvent("ignored")
		c.JSON(http.StatusOK, gin.H{"received": true, "ignored": true})
		return
	case errors.Is(err, gatewaydomain.ErrInvalidPayload), errors.Is(err, reconciliationdomain.ErrInvalidEvent):
		s.metrics.RecordWebhookEvent("invalid")
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	case err != nil:
		s.log.Error("webhook parse failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	if _, err := s.ingestor.Ingest(c.Request.Context(), "stripe", event.ID, string(event.Type), payload); err != nil {
		// A 5xx makes the gateway redeliver; the unique index absorbs
		// the duplicate once the insert succeeds.
		s.log.Error("webhook ingest failed",
			zap.String("provider_event_id", event.ID),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}
