package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	checkoutdomain "github.com/smallbiznis/copydesk/internal/checkout/domain"
	"github.com/smallbiznis/copydesk/internal/notification"
	obscontext "github.com/smallbiznis/copydesk/internal/observability/context"
	orderdomain "github.com/smallbiznis/copydesk/internal/order/domain"
	pricingdomain "github.com/smallbiznis/copydesk/internal/pricing/domain"
	"github.com/smallbiznis/copydesk/pkg/db/pagination"
	"github.com/smallbiznis/copydesk/pkg/money"
)

type orderItemRequest struct {
	Title       string `json:"title"`
	ContentType string `json:"content_type"`
	Length      int    `json:"length"`
}

// Client-side prices are not accepted; the server always reprices.
type createOrderRequest struct {
	Items        []orderItemRequest `json:"items"`
	Currency     string             `json:"currency"`
	DiscountCode string             `json:"discount_code"`
}

type placeOrderResponse struct {
	Order           *orderdomain.Order `json:"order"`
	PaidFromBalance money.Money        `json:"paid_from_balance"`
	MissingAmount   *money.Money       `json:"missing_amount,omitempty"`
	CheckoutURL     string             `json:"checkout_url,omitempty"`
	SessionID       string             `json:"session_id,omitempty"`
	Balance         money.Money        `json:"balance"`
}

func (s *Server) CreateOrder(c *gin.Context) {
	var req createOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if len(req.Items) == 0 {
		AbortWithError(c, newValidationError("items", "required", "at least one item is required"))
		return
	}

	result, err := s.checkoutSvc.PlaceOrder(c.Request.Context(), checkoutdomain.PlaceOrderRequest{
		UserID:        userIDFromContext(c),
		Items:         toItemInputs(req.Items),
		Currency:      req.Currency,
		DiscountCode:  strings.TrimSpace(req.DiscountCode),
		CorrelationID: obscontext.CorrelationIDFromContext(c.Request.Context()),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp := placeOrderResponse{
		Order:           result.Order,
		PaidFromBalance: result.Split.FromBalance,
		MissingAmount:   result.MissingAmount,
		Balance:         result.Balance,
	}
	status := http.StatusCreated
	if result.Session != nil {
		resp.CheckoutURL = result.Session.URL
		resp.SessionID = result.Session.ID
		status = http.StatusAccepted
	}
	c.JSON(status, gin.H{"data": resp})
}

func (s *Server) ListOrders(c *gin.Context) {
	var page pagination.Pagination
	if err := c.ShouldBindQuery(&page); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.orderSvc.ListByUser(c.Request.Context(), orderdomain.ListRequest{
		UserID:     userIDFromContext(c),
		Pagination: page,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.Orders, "page_info": resp.PageInfo})
}

func (s *Server) GetOrder(c *gin.Context) {
	id, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	order, err := s.orderSvc.GetForUser(c.Request.Context(), userIDFromContext(c), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": order})
}

func (s *Server) CancelOrder(c *gin.Context) {
	id, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	order, err := s.orderSvc.Cancel(c.Request.Context(), userIDFromContext(c), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if s.notifier != nil {
		go s.notifier.OrderCancelled(c.Request.Context(), notification.OrderCancelled{
			UserID:      order.UserID,
			OrderID:     order.ID,
			OrderNumber: order.OrderNumber,
		})
	}

	c.JSON(http.StatusOK, gin.H{"data": order})
}

func toItemInputs(items []orderItemRequest) []pricingdomain.ItemInput {
	out := make([]pricingdomain.ItemInput, 0, len(items))
	for _, item := range items {
		out = append(out, pricingdomain.ItemInput{
			Title:       strings.TrimSpace(item.Title),
			ContentType: strings.TrimSpace(item.ContentType),
			Length:      item.Length,
		})
	}
	return out
}
