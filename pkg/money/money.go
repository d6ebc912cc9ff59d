// Package money holds fixed-point amounts in minor currency units.
//
// Amounts arriving from the payment gateway (integers), checkout metadata
// (decimal strings) and FX sources (decimals) are normalized here so that no
// float arithmetic touches a balance.
package money

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	// PLN is the canonical currency: balances are always stored in it.
	PLN = "PLN"
	USD = "USD"
)

var (
	ErrInvalidAmount   = errors.New("invalid_amount")
	ErrInvalidCurrency = errors.New("invalid_currency")
	ErrInvalidRate     = errors.New("invalid_exchange_rate")
)

var hundred = decimal.NewFromInt(100)

// Money is an amount in the smallest unit of Currency (grosz, cent).
type Money struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

// New returns a Money value with a normalized currency code.
func New(amount int64, currency string) Money {
	return Money{Amount: amount, Currency: NormalizeCurrency(currency)}
}

// NormalizeCurrency upper-cases and trims an ISO 4217 code.
func NormalizeCurrency(currency string) string {
	return strings.ToUpper(strings.TrimSpace(currency))
}

// Supported reports whether currency is one of the two settlement currencies.
func Supported(currency string) bool {
	switch NormalizeCurrency(currency) {
	case PLN, USD:
		return true
	default:
		return false
	}
}

// FromDecimal converts a major-unit decimal (e.g. 75.005) to minor units,
// rounding half away from zero.
func FromDecimal(value decimal.Decimal, currency string) Money {
	return New(value.Mul(hundred).Round(0).IntPart(), currency)
}

// ParseMajor parses a major-unit string such as "75.00".
func ParseMajor(raw string, currency string) (Money, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Money{}, ErrInvalidAmount
	}
	value, err := decimal.NewFromString(raw)
	if err != nil {
		return Money{}, fmt.Errorf("%w: %q", ErrInvalidAmount, raw)
	}
	if value.IsNegative() {
		return Money{}, ErrInvalidAmount
	}
	return FromDecimal(value, currency), nil
}

// Decimal returns the amount in major units.
func (m Money) Decimal() decimal.Decimal {
	return decimal.NewFromInt(m.Amount).Div(hundred)
}

// FormatMajor renders the amount with exactly two decimals, e.g. "75.00".
func (m Money) FormatMajor() string {
	return m.Decimal().StringFixed(2)
}

func (m Money) String() string {
	return m.FormatMajor() + " " + m.Currency
}

func (m Money) IsZero() bool     { return m.Amount == 0 }
func (m Money) IsPositive() bool { return m.Amount > 0 }
func (m Money) IsNegative() bool { return m.Amount < 0 }

// Add adds two amounts of the same currency.
func (m Money) Add(other Money) Money {
	m.assertSameCurrency(other)
	return Money{Amount: m.Amount + other.Amount, Currency: m.Currency}
}

// Sub subtracts other from m.
func (m Money) Sub(other Money) Money {
	m.assertSameCurrency(other)
	return Money{Amount: m.Amount - other.Amount, Currency: m.Currency}
}

// ClampZero returns m, or zero when m is negative.
func (m Money) ClampZero() Money {
	if m.Amount < 0 {
		return Money{Amount: 0, Currency: m.Currency}
	}
	return m
}

// ApplyPercentOff returns m reduced by percent (0-100), rounded to minor units.
func (m Money) ApplyPercentOff(percent decimal.Decimal) Money {
	if percent.LessThanOrEqual(decimal.Zero) {
		return m
	}
	factor := hundred.Sub(percent).Div(hundred)
	return Money{
		Amount:   decimal.NewFromInt(m.Amount).Mul(factor).Round(0).IntPart(),
		Currency: m.Currency,
	}
}

// ToCanonical converts m into PLN at rate (PLN per one unit of m.Currency).
func ToCanonical(m Money, rate decimal.Decimal) (Money, error) {
	if NormalizeCurrency(m.Currency) == PLN {
		return New(m.Amount, PLN), nil
	}
	if !rate.IsPositive() {
		return Money{}, ErrInvalidRate
	}
	return New(decimal.NewFromInt(m.Amount).Mul(rate).Round(0).IntPart(), PLN), nil
}

// FromCanonical converts a PLN amount into currency at rate. The conversion
// always starts from the canonical amount.
func FromCanonical(pln Money, currency string, rate decimal.Decimal) (Money, error) {
	currency = NormalizeCurrency(currency)
	if NormalizeCurrency(pln.Currency) != PLN {
		return Money{}, ErrInvalidCurrency
	}
	if currency == PLN {
		return New(pln.Amount, PLN), nil
	}
	if !rate.IsPositive() {
		return Money{}, ErrInvalidRate
	}
	return New(decimal.NewFromInt(pln.Amount).Div(rate).Round(0).IntPart(), currency), nil
}

func (m Money) assertSameCurrency(other Money) {
	if NormalizeCurrency(m.Currency) != NormalizeCurrency(other.Currency) {
		panic(fmt.Sprintf("money: currency mismatch: %s != %s", m.Currency, other.Currency))
	}
}
