package domain

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/copydesk/pkg/money"
)

var (
	ErrUnknownContentType  = errors.New("unknown_content_type")
	ErrInvalidLength       = errors.New("invalid_length")
	ErrUnsupportedCurrency = errors.New("unsupported_currency")
	ErrInvalidDiscountCode = errors.New("invalid_discount_code")
	ErrEmptyOrder          = errors.New("empty_order")
)

// ItemInput is one requested piece of content.
type ItemInput struct {
	Title       string `json:"title"`
	ContentType string `json:"content_type"`
	Length      int    `json:"length"`
}

// Quote is the price of a single item in both currencies.
// Quote is one priced item. Price and PricePLN are after any order discount;
// PriceOriginal is the undiscounted price in the order currency.
type Quote struct {
	ContentType   string      `json:"content_type"`
	Length        int         `json:"length"`
	PricePLN      money.Money `json:"price_pln"`
	Price         money.Money `json:"price"`
	PriceOriginal money.Money `json:"price_original"`
}

// OrderQuote is the server-side recomputation of an order.
type OrderQuote struct {
	Items           []Quote         `json:"items"`
	Currency        string          `json:"currency"`
	ExchangeRate    decimal.Decimal `json:"exchange_rate"`
	TotalOriginal   money.Money     `json:"total_original"`
	Total           money.Money     `json:"total"`
	TotalPLN        money.Money     `json:"total_pln"`
	DiscountCode    string          `json:"discount_code,omitempty"`
	AppliedDiscount decimal.Decimal `json:"applied_discount"`
}

type Service interface {
	Price(length int, contentType string, currency string, rate decimal.Decimal) (Quote, error)
	PriceOrder(items []ItemInput, currency string, rate decimal.Decimal, discountCode string) (OrderQuote, error)
	Turnaround(contentType string, length int) (time.Duration, error)
}
