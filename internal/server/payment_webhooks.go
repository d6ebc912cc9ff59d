package server

import (
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/copydesk/internal/observability/logger"
	"go.uber.org/zap"
)

const maxWebhookBody = 1 << 20

// HandlePaymentWebhook acknowledges processed, duplicate and ignored
// deliveries with 200. Anything else is 400 so the gateway retries.
func (s *Server) HandlePaymentWebhook(c *gin.Context) {
	provider := strings.TrimSpace(c.Param("provider"))
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	outcome, err := s.reconciler.HandleWebhook(c.Request.Context(), provider, payload, c.Request.Header)
	if err != nil {
		logger.FromContext(c.Request.Context()).Warn("payment webhook rejected",
			zap.String("provider", provider),
			zap.String("outcome", string(outcome)),
			zap.Error(err),
		)
		_ = c.Error(err)
		errType := "webhook_rejected"
		if isSignatureError(err) {
			errType = "invalid_signature"
		}
		c.AbortWithStatusJSON(http.StatusBadRequest, errorResponse{Error: errorPayload{
			Type:    errType,
			Message: "webhook was not processed",
		}})
		return
	}

	c.Set("event_type", string(outcome))
	c.JSON(http.StatusOK, gin.H{"status": "ok", "outcome": outcome})
}
