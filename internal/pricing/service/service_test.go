package service

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/copydesk/internal/config"
	"github.com/smallbiznis/copydesk/internal/pricing/domain"
	"github.com/smallbiznis/copydesk/pkg/money"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	cfg := config.DefaultPricingConfig()
	cfg.Discounts = map[string]string{"welcome10": "10"}
	holder, err := config.NewStaticPricingConfigHolder(cfg)
	require.NoError(t, err)
	return New(holder)
}

func TestPricePerThousandChars(t *testing.T) {
	svc := newTestService(t)
	rate := decimal.NewFromInt(4)

	quote, err := svc.Price(2000, "article", money.USD, rate)
	require.NoError(t, err)
	assert.Equal(t, int64(3800), quote.PricePLN.Amount)
	assert.Equal(t, money.New(950, money.USD), quote.Price)
	assert.Equal(t, "9.50", quote.Price.FormatMajor())
}

func TestPriceAppliesMinimumLength(t *testing.T) {
	svc := newTestService(t)

	quote, err := svc.Price(100, "Article", money.PLN, decimal.Zero)
	require.NoError(t, err)
	assert.Equal(t, int64(950), quote.PricePLN.Amount)
	assert.Equal(t, quote.PricePLN, quote.Price)
	assert.Equal(t, "article", quote.ContentType)
}

func TestPriceFlatIgnoresLength(t *testing.T) {
	svc := newTestService(t)
	rate := decimal.NewFromInt(4)

	short, err := svc.Price(10, "seo_audit", money.USD, rate)
	require.NoError(t, err)
	long, err := svc.Price(50000, "seo_audit", money.USD, rate)
	require.NoError(t, err)

	assert.Equal(t, int64(24900), short.PricePLN.Amount)
	assert.Equal(t, short.Price, long.Price)
	assert.Equal(t, "62.25", long.Price.FormatMajor())
}

func TestPriceRejectsInvalidInput(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.Price(1000, "poem", money.PLN, decimal.Zero)
	assert.ErrorIs(t, err, domain.ErrUnknownContentType)

	_, err = svc.Price(0, "article", money.PLN, decimal.Zero)
	assert.ErrorIs(t, err, domain.ErrInvalidLength)

	_, err = svc.Price(1000, "article", "EUR", decimal.NewFromInt(4))
	assert.ErrorIs(t, err, domain.ErrUnsupportedCurrency)

	_, err = svc.Price(1000, "article", money.USD, decimal.Zero)
	assert.ErrorIs(t, err, money.ErrInvalidRate)
}

func TestPriceOrderSumsItemsAndAppliesDiscount(t *testing.T) {
	svc := newTestService(t)
	rate := decimal.NewFromInt(4)
	items := []domain.ItemInput{
		{Title: "Launch post", ContentType: "article", Length: 2000},
		{Title: "Socials", ContentType: "social_pack", Length: 1},
	}

	plain, err := svc.PriceOrder(items, "usd", rate, "")
	require.NoError(t, err)
	require.Len(t, plain.Items, 2)
	assert.Equal(t, int64(950+2475), plain.Total.Amount)
	assert.Equal(t, plain.TotalOriginal, plain.Total)
	assert.Equal(t, int64(13700), plain.TotalPLN.Amount)
	assert.True(t, plain.AppliedDiscount.IsZero())

	var sum int64
	for _, item := range plain.Items {
		sum += item.Price.Amount
	}
	assert.Equal(t, sum, plain.TotalOriginal.Amount)

	discounted, err := svc.PriceOrder(items, money.USD, rate, "WELCOME10")
	require.NoError(t, err)
	assert.Equal(t, int64(3425), discounted.TotalOriginal.Amount)
	assert.Equal(t, int64(3083), discounted.Total.Amount)
	assert.Equal(t, int64(12330), discounted.TotalPLN.Amount)
	assert.Equal(t, "WELCOME10", discounted.DiscountCode)
	assert.Equal(t, "10", discounted.AppliedDiscount.String())
}

func TestDiscountedOrderTotalIsSumOfItemPrices(t *testing.T) {
	svc := newTestService(t)
	items := []domain.ItemInput{
		{ContentType: "article", Length: 2000},
		{ContentType: "social_pack", Length: 1},
		{ContentType: "article", Length: 1333},
	}

	quote, err := svc.PriceOrder(items, money.USD, decimal.NewFromInt(4), "welcome10")
	require.NoError(t, err)

	var sum, sumPLN, sumOriginal int64
	for _, item := range quote.Items {
		sum += item.Price.Amount
		sumPLN += item.PricePLN.Amount
		sumOriginal += item.PriceOriginal.Amount
		assert.LessOrEqual(t, item.Price.Amount, item.PriceOriginal.Amount)
	}
	assert.Equal(t, sum, quote.Total.Amount)
	assert.Equal(t, sumPLN, quote.TotalPLN.Amount)
	assert.Equal(t, sumOriginal, quote.TotalOriginal.Amount)
	assert.Equal(t, int64(855), quote.Items[0].Price.Amount)
	assert.Equal(t, int64(950), quote.Items[0].PriceOriginal.Amount)
}

func TestPriceOrderRejectsUnknownDiscountAndEmptyOrder(t *testing.T) {
	svc := newTestService(t)
	items := []domain.ItemInput{{ContentType: "article", Length: 1000}}

	_, err := svc.PriceOrder(items, money.PLN, decimal.Zero, "NOPE")
	assert.ErrorIs(t, err, domain.ErrInvalidDiscountCode)

	_, err = svc.PriceOrder(nil, money.PLN, decimal.Zero, "")
	assert.ErrorIs(t, err, domain.ErrEmptyOrder)
}

func TestPriceOrderUsesUnitRateForPLN(t *testing.T) {
	svc := newTestService(t)

	quote, err := svc.PriceOrder([]domain.ItemInput{{ContentType: "blog_post", Length: 1000}}, money.PLN, decimal.NewFromInt(4), "")
	require.NoError(t, err)
	assert.True(t, quote.ExchangeRate.Equal(decimal.NewFromInt(1)))
	assert.Equal(t, int64(1500), quote.Total.Amount)
}

func TestTurnaround(t *testing.T) {
	svc := newTestService(t)

	d, err := svc.Turnaround("article", 2500)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Hour, d)

	d, err = svc.Turnaround("seo_audit", 99999)
	require.NoError(t, err)
	assert.Equal(t, 72*time.Hour, d)

	_, err = svc.Turnaround("poem", 10)
	assert.ErrorIs(t, err, domain.ErrUnknownContentType)
}
