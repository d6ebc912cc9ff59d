package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/copydesk/internal/clock"
	"github.com/smallbiznis/copydesk/internal/config"
	"github.com/smallbiznis/copydesk/internal/fxrate/domain"
	obsmetrics "github.com/smallbiznis/copydesk/internal/observability/metrics"
	"github.com/smallbiznis/copydesk/pkg/money"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	defaultTTL          = time.Hour
	defaultFetchTimeout = 5 * time.Second
)

type Params struct {
	fx.In

	Cfg        config.Config
	Log        *zap.Logger
	Clock      clock.Clock
	Source     domain.Source
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

// Cache keeps the last fetched USD rate for a bounded window. Two callers
// that observe an expired entry may both refetch; the later write wins.
type Cache struct {
	log          *zap.Logger
	clock        clock.Clock
	source       domain.Source
	obsMetrics   *obsmetrics.Metrics
	ttl          time.Duration
	fetchTimeout time.Duration

	mu            sync.RWMutex
	rate          decimal.Decimal
	lastRefreshed time.Time
}

func NewService(p Params) domain.Service {
	return NewCache(p)
}

func NewCache(p Params) *Cache {
	ttl := p.Cfg.FX.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	timeout := p.Cfg.FX.FetchTimeout
	if timeout <= 0 {
		timeout = defaultFetchTimeout
	}
	return &Cache{
		log:          p.Log.Named("fxrate.service"),
		clock:        p.Clock,
		source:       p.Source,
		obsMetrics:   p.ObsMetrics,
		ttl:          ttl,
		fetchTimeout: timeout,
	}
}

// GetRate returns PLN per one USD.
func (c *Cache) GetRate(ctx context.Context) (decimal.Decimal, error) {
	now := c.clock.Now()

	c.mu.RLock()
	rate, refreshed := c.rate, c.lastRefreshed
	c.mu.RUnlock()

	if !refreshed.IsZero() && now.Sub(refreshed) < c.ttl {
		return rate, nil
	}

	fetchCtx, cancel := context.WithTimeout(ctx, c.fetchTimeout)
	defer cancel()

	fetched, err := c.source.FetchRate(fetchCtx, money.USD)
	if err == nil && !fetched.IsPositive() {
		err = fmt.Errorf("non-positive rate %s", fetched.String())
	}
	if err != nil {
		c.obsMetrics.RecordFXRefresh(ctx, "failed")
		c.log.Warn("fx rate refresh failed", zap.Error(err))
		return decimal.Decimal{}, fmt.Errorf("%w: %v", domain.ErrRateUnavailable, err)
	}

	c.mu.Lock()
	c.rate = fetched
	c.lastRefreshed = now
	c.mu.Unlock()

	c.obsMetrics.RecordFXRefresh(ctx, "ok")
	c.log.Debug("fx rate refreshed", zap.String("rate", fetched.String()))
	return fetched, nil
}

// RateFor returns the multiplier that converts one unit of currency into PLN.
func (c *Cache) RateFor(ctx context.Context, currency string) (decimal.Decimal, error) {
	switch money.NormalizeCurrency(currency) {
	case money.PLN:
		return decimal.NewFromInt(1), nil
	case money.USD:
		return c.GetRate(ctx)
	default:
		return decimal.Decimal{}, domain.ErrUnsupportedCurrency
	}
}

func (c *Cache) LastRefreshed() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastRefreshed
}
