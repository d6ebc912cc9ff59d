package domain

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrRateUnavailable     = errors.New("conversion_unavailable")
	ErrUnsupportedCurrency = errors.New("unsupported_currency")
)

// Source fetches the current PLN price of one unit of currency.
type Source interface {
	FetchRate(ctx context.Context, currency string) (decimal.Decimal, error)
}

// Service serves PLN-per-USD rates from a TTL cache.
type Service interface {
	GetRate(ctx context.Context) (decimal.Decimal, error)
	RateFor(ctx context.Context, currency string) (decimal.Decimal, error)
	LastRefreshed() time.Time
}
