package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/copydesk/internal/balance/domain"
	"github.com/smallbiznis/copydesk/internal/clock"
	obsmetrics "github.com/smallbiznis/copydesk/internal/observability/metrics"
	userdomain "github.com/smallbiznis/copydesk/internal/user/domain"
	userrepo "github.com/smallbiznis/copydesk/internal/user/repository"
	"github.com/smallbiznis/copydesk/pkg/db/dbtest"
	"github.com/smallbiznis/copydesk/pkg/money"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	db   *gorm.DB
	svc  domain.Service
	node *snowflake.Node
}

func setup(t *testing.T) fixture {
	t.Helper()
	db := dbtest.Open(t, &userdomain.User{}, &domain.Entry{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	svc := NewService(Params{
		DB:       db,
		Log:      zap.NewNop(),
		GenID:    node,
		Clock:    clock.NewFake(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)),
		UserRepo: userrepo.Provide(),
	})
	return fixture{db: db, svc: svc, node: node}
}

func seedUser(t *testing.T, f fixture, balance int64) snowflake.ID {
	t.Helper()
	id := f.node.Generate()
	now := time.Now().UTC()
	require.NoError(t, f.db.Create(&userdomain.User{
		ID:        id,
		Email:     fmt.Sprintf("user-%s@example.com", id),
		Balance:   balance,
		CreatedAt: now,
		UpdatedAt: now,
	}).Error)
	return id
}

func pln(amount int64) money.Money { return money.New(amount, money.PLN) }

func TestCreditAndDebit(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	userID := seedUser(t, f, 0)

	after, err := f.svc.Credit(ctx, nil, userID, pln(5000), domain.Source{Type: domain.SourcePayment, ID: "cs_1"})
	require.NoError(t, err)
	assert.Equal(t, int64(5000), after.Amount)

	after, err = f.svc.Debit(ctx, nil, userID, pln(1200), domain.Source{Type: domain.SourceOrder, ID: "ord_1"})
	require.NoError(t, err)
	assert.Equal(t, int64(3800), after.Amount)

	current, err := f.svc.Get(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, pln(3800), current)

	entries, err := f.svc.ListEntries(ctx, userID, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	balances := []int64{entries[0].BalanceAfter, entries[1].BalanceAfter}
	assert.ElementsMatch(t, []int64{5000, 3800}, balances)
}

func TestDebitNeverDrivesBalanceNegative(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	userID := seedUser(t, f, 1000)

	_, err := f.svc.Debit(ctx, nil, userID, pln(1001), domain.Source{Type: domain.SourceOrder, ID: "ord_1"})
	require.ErrorIs(t, err, domain.ErrInsufficientBalance)

	current, err := f.svc.Get(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), current.Amount)

	var entries int64
	require.NoError(t, f.db.Model(&domain.Entry{}).Count(&entries).Error)
	assert.Equal(t, int64(0), entries)
}

func TestMutationIsIdempotentPerSource(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	userID := seedUser(t, f, 0)
	source := domain.Source{Type: domain.SourcePayment, ID: "cs_topup"}

	_, err := f.svc.Credit(ctx, nil, userID, pln(5000), source)
	require.NoError(t, err)
	_, err = f.svc.Credit(ctx, nil, userID, pln(5000), source)
	require.ErrorIs(t, err, domain.ErrDuplicateMutation)

	current, err := f.svc.Get(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(5000), current.Amount)
}

func TestMutationRollsBackWithOuterTransaction(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	userID := seedUser(t, f, 2000)

	err := f.db.Transaction(func(tx *gorm.DB) error {
		if _, err := f.svc.Debit(ctx, tx, userID, pln(2000), domain.Source{Type: domain.SourceOrder, ID: "ord_9"}); err != nil {
			return err
		}
		return fmt.Errorf("invoice failed")
	})
	require.Error(t, err)

	current, err := f.svc.Get(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(2000), current.Amount)
}

func TestConcurrentDebitsCannotOverdraw(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	userID := seedUser(t, f, 3000)

	var wg sync.WaitGroup
	results := make([]error, 5)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = f.svc.Debit(ctx, nil, userID, pln(1000), domain.Source{Type: domain.SourceOrder, ID: fmt.Sprintf("ord_%d", i)})
		}(i)
	}
	wg.Wait()

	var ok, insufficient int
	for _, err := range results {
		switch {
		case err == nil:
			ok++
		case assert.ErrorIs(t, err, domain.ErrInsufficientBalance):
			insufficient++
		}
	}
	assert.Equal(t, 3, ok)
	assert.Equal(t, 2, insufficient)

	current, err := f.svc.Get(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), current.Amount)
}

func TestRejectsInvalidInput(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	userID := seedUser(t, f, 0)

	_, err := f.svc.Credit(ctx, nil, userID, money.New(100, money.USD), domain.Source{Type: domain.SourcePayment, ID: "x"})
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = f.svc.Credit(ctx, nil, userID, pln(-1), domain.Source{Type: domain.SourcePayment, ID: "x"})
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = f.svc.Credit(ctx, nil, userID, pln(100), domain.Source{Type: domain.SourcePayment})
	assert.ErrorIs(t, err, domain.ErrInvalidSource)

	_, err = f.svc.Credit(ctx, nil, f.node.Generate(), pln(100), domain.Source{Type: domain.SourcePayment, ID: "y"})
	assert.ErrorIs(t, err, userdomain.ErrUserNotFound)
}

func mutationCount(t *testing.T, reader *sdkmetric.ManualReader) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "copydesk_balance_mutations_total" {
				continue
			}
			for _, dp := range m.Data.(metricdata.Sum[int64]).DataPoints {
				total += dp.Value
			}
		}
	}
	return total
}

func TestMutationMetricOnlyForOwnTransaction(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	reader := sdkmetric.NewManualReader()
	m, err := obsmetrics.New(obsmetrics.Config{}, sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	require.NoError(t, err)
	svc := NewService(Params{
		DB:         f.db,
		Log:        zap.NewNop(),
		GenID:      f.node,
		Clock:      clock.NewFake(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)),
		UserRepo:   userrepo.Provide(),
		ObsMetrics: m,
	})
	userID := seedUser(t, f, 0)

	_, err = svc.Credit(ctx, nil, userID, pln(1000), domain.Source{Type: domain.SourcePayment, ID: "cs_own"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), mutationCount(t, reader))

	// A savepoint inside a rolled-back transaction must not be counted.
	err = f.db.Transaction(func(tx *gorm.DB) error {
		if _, err := svc.Credit(ctx, tx, userID, pln(500), domain.Source{Type: domain.SourcePayment, ID: "cs_outer"}); err != nil {
			return err
		}
		return fmt.Errorf("abort")
	})
	require.Error(t, err)
	assert.Equal(t, int64(1), mutationCount(t, reader))

	balance, err := svc.Get(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), balance.Amount)
}
