package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	checkoutdomain "github.com/smallbiznis/copydesk/internal/checkout/domain"
	pricingdomain "github.com/smallbiznis/copydesk/internal/pricing/domain"
)

// Quote prices a single item: ?content_type=article&length=2000&currency=USD.
func (s *Server) Quote(c *gin.Context) {
	contentType := strings.TrimSpace(c.Query("content_type"))
	if contentType == "" {
		AbortWithError(c, newValidationError("content_type", "required", "content_type is required"))
		return
	}
	length, err := strconv.Atoi(strings.TrimSpace(c.Query("length")))
	if err != nil {
		AbortWithError(c, newValidationError("length", "invalid_length", "length must be a positive integer"))
		return
	}

	quote, err := s.checkoutSvc.Quote(c.Request.Context(), checkoutdomain.QuoteRequest{
		Items:        []pricingdomain.ItemInput{{ContentType: contentType, Length: length}},
		Currency:     c.Query("currency"),
		DiscountCode: strings.TrimSpace(c.Query("discount_code")),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": quote})
}

func (s *Server) GetFXStatus(c *gin.Context) {
	rate, err := s.fx.GetRate(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"pair":           "USD/PLN",
		"rate":           rate.String(),
		"last_refreshed": s.fx.LastRefreshed(),
	}})
}
