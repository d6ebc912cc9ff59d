package service

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/copydesk/internal/config"
	"github.com/smallbiznis/copydesk/internal/pricing/domain"
	"github.com/smallbiznis/copydesk/pkg/money"
	"go.uber.org/fx"
)

var thousand = decimal.NewFromInt(1000)

type Params struct {
	fx.In

	Pricing *config.PricingConfigHolder
}

type Service struct {
	pricing *config.PricingConfigHolder
}

func NewService(p Params) domain.Service {
	return New(p.Pricing)
}

func New(holder *config.PricingConfigHolder) *Service {
	return &Service{pricing: holder}
}

// Price returns the item price in PLN and in currency. Per-character types
// bill max(length, minLength) characters; flat types ignore length.
func (s *Service) Price(length int, contentType string, currency string, rate decimal.Decimal) (domain.Quote, error) {
	rule, key, err := s.rule(contentType)
	if err != nil {
		return domain.Quote{}, err
	}
	if length <= 0 {
		return domain.Quote{}, domain.ErrInvalidLength
	}
	currency = money.NormalizeCurrency(currency)
	if !money.Supported(currency) {
		return domain.Quote{}, domain.ErrUnsupportedCurrency
	}

	unit, err := decimal.NewFromString(strings.TrimSpace(rule.Price))
	if err != nil {
		return domain.Quote{}, err
	}

	var plnMajor decimal.Decimal
	switch rule.Mode {
	case config.PricingModeFlat:
		plnMajor = unit
	default:
		billable := length
		if billable < rule.MinLength {
			billable = rule.MinLength
		}
		plnMajor = unit.Mul(decimal.NewFromInt(int64(billable))).Div(thousand)
	}

	pln := money.FromDecimal(plnMajor, money.PLN)
	price, err := money.FromCanonical(pln, currency, rate)
	if err != nil {
		return domain.Quote{}, err
	}

	return domain.Quote{
		ContentType:   key,
		Length:        length,
		PricePLN:      pln,
		Price:         price,
		PriceOriginal: price,
	}, nil
}

// PriceOrder prices every item and sums them. A discount code reduces each
// item by its configured percentage, so the totals stay the sum of the item
// prices.
func (s *Service) PriceOrder(items []domain.ItemInput, currency string, rate decimal.Decimal, discountCode string) (domain.OrderQuote, error) {
	if len(items) == 0 {
		return domain.OrderQuote{}, domain.ErrEmptyOrder
	}
	currency = money.NormalizeCurrency(currency)
	if !money.Supported(currency) {
		return domain.OrderQuote{}, domain.ErrUnsupportedCurrency
	}
	if currency == money.PLN {
		rate = decimal.NewFromInt(1)
	}

	percent, code, err := s.discount(discountCode)
	if err != nil {
		return domain.OrderQuote{}, err
	}

	quotes := make([]domain.Quote, 0, len(items))
	original := money.New(0, currency)
	total := money.New(0, currency)
	totalPLN := money.New(0, money.PLN)
	for _, item := range items {
		quote, err := s.Price(item.Length, item.ContentType, currency, rate)
		if err != nil {
			return domain.OrderQuote{}, err
		}
		quote.Price = quote.Price.ApplyPercentOff(percent)
		quote.PricePLN = quote.PricePLN.ApplyPercentOff(percent)
		quotes = append(quotes, quote)

		original = original.Add(quote.PriceOriginal)
		total = total.Add(quote.Price)
		totalPLN = totalPLN.Add(quote.PricePLN)
	}

	return domain.OrderQuote{
		Items:           quotes,
		Currency:        currency,
		ExchangeRate:    rate,
		TotalOriginal:   original,
		Total:           total,
		TotalPLN:        totalPLN,
		DiscountCode:    code,
		AppliedDiscount: percent,
	}, nil
}

// Turnaround is the estimated time from start to delivery for one item.
func (s *Service) Turnaround(contentType string, length int) (time.Duration, error) {
	rule, _, err := s.rule(contentType)
	if err != nil {
		return 0, err
	}
	d := time.Duration(rule.BaseHours) * time.Hour
	if rule.Mode == config.PricingModePer1000Chars && length > 0 {
		blocks := (length + 999) / 1000
		d += time.Duration(blocks*rule.HoursPer1000) * time.Hour
	}
	return d, nil
}

func (s *Service) rule(contentType string) (config.ContentTypePricing, string, error) {
	key := strings.ToLower(strings.TrimSpace(contentType))
	rule, ok := s.pricing.Get().ContentTypes[key]
	if !ok || key == "" {
		return config.ContentTypePricing{}, "", domain.ErrUnknownContentType
	}
	return rule, key, nil
}

func (s *Service) discount(code string) (decimal.Decimal, string, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return decimal.Zero, "", nil
	}
	raw, ok := s.pricing.Get().Discounts[strings.ToLower(code)]
	if !ok {
		return decimal.Zero, "", domain.ErrInvalidDiscountCode
	}
	percent, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, "", domain.ErrInvalidDiscountCode
	}
	return percent, strings.ToUpper(code), nil
}
