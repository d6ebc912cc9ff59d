package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	checkoutdomain "github.com/smallbiznis/copydesk/internal/checkout/domain"
	obscontext "github.com/smallbiznis/copydesk/internal/observability/context"
	"github.com/smallbiznis/copydesk/pkg/money"
)

// Amount is a major-unit decimal string ("50.00").
type topUpRequest struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

func (s *Server) GetBalance(c *gin.Context) {
	balance, err := s.balanceSvc.Get(c.Request.Context(), userIDFromContext(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"balance":   balance,
		"formatted": balance.String(),
	}})
}

func (s *Server) ListBalanceEntries(c *gin.Context) {
	limit := 0
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			AbortWithError(c, newValidationError("limit", "invalid_limit", "invalid limit"))
			return
		}
		limit = parsed
	}

	entries, err := s.balanceSvc.ListEntries(c.Request.Context(), userIDFromContext(c), limit)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": entries})
}

func (s *Server) CreateTopUp(c *gin.Context) {
	var req topUpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	currency := money.NormalizeCurrency(req.Currency)
	if currency == "" {
		currency = money.PLN
	}
	amount, err := money.ParseMajor(req.Amount, currency)
	if err != nil {
		AbortWithError(c, newValidationError("amount", "invalid_amount", "amount must be a positive decimal"))
		return
	}

	result, err := s.checkoutSvc.CreateTopUp(c.Request.Context(), checkoutdomain.TopUpRequest{
		UserID:        userIDFromContext(c),
		Amount:        amount,
		CorrelationID: obscontext.CorrelationIDFromContext(c.Request.Context()),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"data": gin.H{
		"checkout_url":  result.Session.URL,
		"session_id":    result.Session.ID,
		"amount":        result.Amount,
		"amount_pln":    result.AmountPLN,
		"exchange_rate": result.ExchangeRate,
	}})
}
