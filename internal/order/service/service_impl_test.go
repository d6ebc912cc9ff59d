package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/copydesk/internal/clock"
	"github.com/smallbiznis/copydesk/internal/config"
	"github.com/smallbiznis/copydesk/internal/order/domain"
	"github.com/smallbiznis/copydesk/internal/order/repository"
	pricingdomain "github.com/smallbiznis/copydesk/internal/pricing/domain"
	pricingservice "github.com/smallbiznis/copydesk/internal/pricing/service"
	"github.com/smallbiznis/copydesk/pkg/db/dbtest"
	"github.com/smallbiznis/copydesk/pkg/db/pagination"
	"github.com/smallbiznis/copydesk/pkg/money"
	"github.com/smallbiznis/copydesk/pkg/sequence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	db      *gorm.DB
	svc     domain.Service
	pricing pricingdomain.Service
	clock   *clock.Fake
	node    *snowflake.Node
}

func setup(t *testing.T) fixture {
	t.Helper()
	db := dbtest.Open(t, &domain.Order{}, &domain.Item{}, &sequence.Sequence{})
	node, err := snowflake.NewNode(2)
	require.NoError(t, err)
	holder, err := config.NewStaticPricingConfigHolder(config.DefaultPricingConfig())
	require.NoError(t, err)
	pricing := pricingservice.New(holder)
	clk := clock.NewFake(time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC))

	svc := NewService(Params{
		DB:      db,
		Log:     zap.NewNop(),
		GenID:   node,
		Clock:   clk,
		Repo:    repository.Provide(),
		Pricing: pricing,
	})
	return fixture{db: db, svc: svc, pricing: pricing, clock: clk, node: node}
}

func createOrder(t *testing.T, f fixture, userID snowflake.ID, items ...pricingdomain.ItemInput) *domain.Order {
	t.Helper()
	quote, err := f.pricing.PriceOrder(items, money.PLN, decimal.NewFromInt(1), "")
	require.NoError(t, err)
	order, err := f.svc.Create(context.Background(), nil, domain.CreateRequest{UserID: userID, Items: items, Quote: quote})
	require.NoError(t, err)
	return order
}

func TestCreateAssignsSequentialNumbersAndServerTotals(t *testing.T) {
	f := setup(t)
	userID := f.node.Generate()

	first := createOrder(t, f, userID, pricingdomain.ItemInput{Title: "Post", ContentType: "article", Length: 2000})
	second := createOrder(t, f, userID,
		pricingdomain.ItemInput{ContentType: "blog_post", Length: 1000},
		pricingdomain.ItemInput{ContentType: "seo_audit", Length: 1},
	)

	assert.Equal(t, int64(1), first.OrderNumber)
	assert.Equal(t, int64(2), second.OrderNumber)
	assert.Equal(t, domain.OrderStatusPending, second.Status)
	assert.Equal(t, domain.PaymentStatusPending, second.PaymentStatus)
	assert.Equal(t, int64(1500+24900), second.TotalPrice)
	assert.Equal(t, "blog_post", second.Items[0].Title)

	loaded, err := f.svc.Get(context.Background(), second.ID)
	require.NoError(t, err)
	require.Len(t, loaded.Items, 2)
	var sum int64
	for _, item := range loaded.Items {
		sum += item.Price
		assert.Equal(t, domain.ItemStatusPending, item.Status)
	}
	assert.Equal(t, loaded.TotalPrice, sum)
}

func TestCreateWithDiscountStoresItemSum(t *testing.T) {
	f := setup(t)
	cfg := config.DefaultPricingConfig()
	cfg.Discounts = map[string]string{"spring15": "15"}
	holder, err := config.NewStaticPricingConfigHolder(cfg)
	require.NoError(t, err)

	items := []pricingdomain.ItemInput{
		{ContentType: "article", Length: 2000},
		{ContentType: "blog_post", Length: 1700},
	}
	quote, err := pricingservice.New(holder).PriceOrder(items, money.USD, decimal.NewFromInt(4), "spring15")
	require.NoError(t, err)

	order, err := f.svc.Create(context.Background(), nil, domain.CreateRequest{UserID: f.node.Generate(), Items: items, Quote: quote})
	require.NoError(t, err)

	loaded, err := f.svc.Get(context.Background(), order.ID)
	require.NoError(t, err)
	var sum, sumPLN int64
	for _, item := range loaded.Items {
		sum += item.Price
		sumPLN += item.PricePLN
	}
	assert.Equal(t, loaded.TotalPrice, sum)
	assert.Equal(t, loaded.TotalPricePLN, sumPLN)
	assert.Greater(t, loaded.TotalPriceOriginal, loaded.TotalPrice)
	assert.Equal(t, "SPRING15", loaded.DiscountCode)
}

func TestCreateRejectsMismatchedQuote(t *testing.T) {
	f := setup(t)
	_, err := f.svc.Create(context.Background(), nil, domain.CreateRequest{
		UserID: f.node.Generate(),
		Items:  []pricingdomain.ItemInput{{ContentType: "article", Length: 1000}},
	})
	assert.ErrorIs(t, err, domain.ErrInvalidItems)
}

func TestMarkPaidHappensOnce(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	order := createOrder(t, f, f.node.Generate(), pricingdomain.ItemInput{ContentType: "article", Length: 1000})

	ok, err := f.svc.MarkPaid(ctx, nil, order.ID, f.clock.Now())
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.svc.MarkPaid(ctx, nil, order.ID, f.clock.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, ok)

	loaded, err := f.svc.Get(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusPaid, loaded.PaymentStatus)
	assert.Equal(t, domain.OrderStatusInProgress, loaded.Status)
	require.NotNil(t, loaded.PaidAt)
	assert.True(t, loaded.PaidAt.Equal(f.clock.Now()))
}

func TestStartItemsSetsPolicyETAAndSkipsCompletedItems(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	order := createOrder(t, f, f.node.Generate(),
		pricingdomain.ItemInput{ContentType: "article", Length: 2500},
		pricingdomain.ItemInput{ContentType: "seo_audit", Length: 1},
	)
	now := f.clock.Now()

	_, err := f.svc.MarkPaid(ctx, nil, order.ID, now)
	require.NoError(t, err)
	require.NoError(t, f.svc.StartItems(ctx, nil, order, now))

	loaded, err := f.svc.Get(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, loaded.Items, 2)
	for _, item := range loaded.Items {
		assert.Equal(t, domain.ItemStatusInProgress, item.Status)
		require.NotNil(t, item.StartTime)
		require.NotNil(t, item.EstimatedCompletionTime)
	}
	assert.True(t, loaded.Items[0].EstimatedCompletionTime.Equal(now.Add(30*time.Hour)))
	assert.True(t, loaded.Items[1].EstimatedCompletionTime.Equal(now.Add(72*time.Hour)))

	_, err = f.svc.CompleteItem(ctx, order.ID, loaded.Items[0].ID)
	require.NoError(t, err)

	// A replayed start with a stale snapshot must not touch any started item.
	stale := *loaded
	stale.Items = append([]domain.Item(nil), loaded.Items...)
	for i := range stale.Items {
		stale.Items[i].Status = domain.ItemStatusPending
	}
	f.clock.Advance(time.Hour)
	require.NoError(t, f.svc.StartItems(ctx, nil, &stale, f.clock.Now()))

	again, err := f.svc.Get(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ItemStatusCompleted, again.Items[0].Status)
	assert.Equal(t, 100, again.Items[0].Progress)
	assert.True(t, again.Items[1].StartTime.Equal(now))
}

func TestCancelOnlyWhilePaymentPending(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	userID := f.node.Generate()

	pending := createOrder(t, f, userID, pricingdomain.ItemInput{ContentType: "article", Length: 1000})
	cancelled, err := f.svc.Cancel(ctx, userID, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCancelled, cancelled.Status)
	require.NotNil(t, cancelled.CancelledAt)

	_, err = f.svc.Cancel(ctx, userID, pending.ID)
	assert.ErrorIs(t, err, domain.ErrNotCancellable)

	paid := createOrder(t, f, userID, pricingdomain.ItemInput{ContentType: "article", Length: 1000})
	_, err = f.svc.MarkPaid(ctx, nil, paid.ID, f.clock.Now())
	require.NoError(t, err)
	_, err = f.svc.Cancel(ctx, userID, paid.ID)
	assert.ErrorIs(t, err, domain.ErrNotCancellable)

	_, err = f.svc.Cancel(ctx, f.node.Generate(), paid.ID)
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)

	// A cancelled order can no longer be paid.
	ok, err := f.svc.MarkPaid(ctx, nil, pending.ID, f.clock.Now())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestItemProgressAndCompletion(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	order := createOrder(t, f, f.node.Generate(),
		pricingdomain.ItemInput{ContentType: "article", Length: 1000},
		pricingdomain.ItemInput{ContentType: "blog_post", Length: 1000},
	)
	first, second := order.Items[0].ID, order.Items[1].ID

	_, err := f.svc.UpdateItemProgress(ctx, order.ID, first, 10)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = f.svc.MarkPaid(ctx, nil, order.ID, f.clock.Now())
	require.NoError(t, err)
	require.NoError(t, f.svc.StartItems(ctx, nil, order, f.clock.Now()))

	item, err := f.svc.UpdateItemProgress(ctx, order.ID, first, 40)
	require.NoError(t, err)
	assert.Equal(t, 40, item.Progress)

	item, err = f.svc.UpdateItemProgress(ctx, order.ID, first, 20)
	require.NoError(t, err)
	assert.Equal(t, 40, item.Progress)

	_, err = f.svc.UpdateItemProgress(ctx, order.ID, first, 101)
	assert.ErrorIs(t, err, domain.ErrInvalidProgress)

	item, err = f.svc.UpdateItemProgress(ctx, order.ID, first, 100)
	require.NoError(t, err)
	assert.Equal(t, domain.ItemStatusCompleted, item.Status)

	_, err = f.svc.UpdateItemProgress(ctx, order.ID, first, 50)
	assert.ErrorIs(t, err, domain.ErrItemCompleted)

	loaded, err := f.svc.Get(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusInProgress, loaded.Status)

	_, err = f.svc.CompleteItem(ctx, order.ID, second)
	require.NoError(t, err)
	item, err = f.svc.CompleteItem(ctx, order.ID, second)
	require.NoError(t, err)
	assert.Equal(t, domain.ItemStatusCompleted, item.Status)

	loaded, err = f.svc.Get(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCompleted, loaded.Status)
	assert.NotNil(t, loaded.CompletedAt)

	_, err = f.svc.CompleteItem(ctx, order.ID, f.node.Generate())
	assert.ErrorIs(t, err, domain.ErrItemNotFound)
}

func TestListByUserPaginates(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	userID := f.node.Generate()
	for i := 0; i < 3; i++ {
		createOrder(t, f, userID, pricingdomain.ItemInput{ContentType: "article", Length: 1000})
	}
	createOrder(t, f, f.node.Generate(), pricingdomain.ItemInput{ContentType: "article", Length: 1000})

	page, err := f.svc.ListByUser(ctx, domain.ListRequest{UserID: userID, Pagination: pagination.Pagination{PageSize: 2}})
	require.NoError(t, err)
	require.Len(t, page.Orders, 2)
	assert.True(t, page.PageInfo.HasMore)
	assert.Equal(t, int64(3), page.Orders[0].OrderNumber)
	require.Len(t, page.Orders[0].Items, 1)

	next, err := f.svc.ListByUser(ctx, domain.ListRequest{UserID: userID, Pagination: pagination.Pagination{PageSize: 2, PageToken: page.PageInfo.NextPageToken}})
	require.NoError(t, err)
	require.Len(t, next.Orders, 1)
	assert.False(t, next.PageInfo.HasMore)
	assert.Equal(t, int64(1), next.Orders[0].OrderNumber)
}
