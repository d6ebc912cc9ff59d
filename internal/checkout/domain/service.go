package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	balancedomain "github.com/smallbiznis/copydesk/internal/balance/domain"
	orderdomain "github.com/smallbiznis/copydesk/internal/order/domain"
	pricingdomain "github.com/smallbiznis/copydesk/internal/pricing/domain"
	"github.com/smallbiznis/copydesk/pkg/money"
)

var ErrInvalidTopUp = errors.New("invalid_top_up_amount")

type QuoteRequest struct {
	Items        []pricingdomain.ItemInput
	Currency     string
	DiscountCode string
}

type PlaceOrderRequest struct {
	UserID        snowflake.ID
	Items         []pricingdomain.ItemInput
	Currency      string
	DiscountCode  string
	CorrelationID string
}

// PlaceOrderResult carries a Session only when the balance did not cover
// the order.
type PlaceOrderResult struct {
	Order         *orderdomain.Order  `json:"order"`
	Split         balancedomain.Split `json:"split"`
	MissingAmount *money.Money        `json:"missing_amount,omitempty"`
	Session       *Session            `json:"session,omitempty"`
	Balance       money.Money         `json:"balance"`
}

type TopUpRequest struct {
	UserID        snowflake.ID
	Amount        money.Money
	CorrelationID string
}

type TopUpResult struct {
	Session      *Session    `json:"session"`
	Amount       money.Money `json:"amount"`
	AmountPLN    money.Money `json:"amount_pln"`
	ExchangeRate string      `json:"exchange_rate"`
}

type Service interface {
	Quote(ctx context.Context, req QuoteRequest) (pricingdomain.OrderQuote, error)
	PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*PlaceOrderResult, error)
	CreateTopUp(ctx context.Context, req TopUpRequest) (*TopUpResult, error)
}
