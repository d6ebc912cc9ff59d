package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	balancedomain "github.com/smallbiznis/copydesk/internal/balance/domain"
	"github.com/smallbiznis/copydesk/internal/checkout/domain"
	"github.com/smallbiznis/copydesk/internal/clock"
	"github.com/smallbiznis/copydesk/internal/config"
	"github.com/smallbiznis/copydesk/internal/fulfillment"
	fxratedomain "github.com/smallbiznis/copydesk/internal/fxrate/domain"
	"github.com/smallbiznis/copydesk/internal/notification"
	obscontext "github.com/smallbiznis/copydesk/internal/observability/context"
	"github.com/smallbiznis/copydesk/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/copydesk/internal/observability/metrics"
	orderdomain "github.com/smallbiznis/copydesk/internal/order/domain"
	pricingdomain "github.com/smallbiznis/copydesk/internal/pricing/domain"
	userdomain "github.com/smallbiznis/copydesk/internal/user/domain"
	"github.com/smallbiznis/copydesk/pkg/money"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const defaultGatewayTimeout = 10 * time.Second

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Cfg        config.Config
	Clock      clock.Clock
	FX         fxratedomain.Service
	Pricing    pricingdomain.Service
	Balance    balancedomain.Service
	Orders     orderdomain.Service
	UserRepo   userdomain.Repository
	Gateway    domain.Gateway
	Notifier   notification.Notifier
	Dispatcher fulfillment.Dispatcher
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	clock      clock.Clock
	fx         fxratedomain.Service
	pricing    pricingdomain.Service
	balance    balancedomain.Service
	orders     orderdomain.Service
	userRepo   userdomain.Repository
	gateway    domain.Gateway
	notifier   notification.Notifier
	dispatcher fulfillment.Dispatcher
	metrics    *obsmetrics.Metrics

	successURL         string
	cancelURL          string
	gatewayTimeout     time.Duration
	fulfillmentTimeout time.Duration
}

func NewService(p Params) domain.Service {
	timeout := p.Cfg.Stripe.Timeout
	if timeout <= 0 {
		timeout = defaultGatewayTimeout
	}
	return &Service{
		db:                 p.DB,
		log:                p.Log.Named("checkout.service"),
		clock:              p.Clock,
		fx:                 p.FX,
		pricing:            p.Pricing,
		balance:            p.Balance,
		orders:             p.Orders,
		userRepo:           p.UserRepo,
		gateway:            p.Gateway,
		notifier:           p.Notifier,
		dispatcher:         p.Dispatcher,
		metrics:            p.ObsMetrics,
		successURL:         p.Cfg.Checkout.SuccessURL,
		cancelURL:          p.Cfg.Checkout.CancelURL,
		gatewayTimeout:     timeout,
		fulfillmentTimeout: p.Cfg.Fulfillment.Timeout,
	}
}

// Quote prices items at the current rate without creating anything.
func (s *Service) Quote(ctx context.Context, req domain.QuoteRequest) (pricingdomain.OrderQuote, error) {
	currency := normalizeCurrency(req.Currency)
	rate, err := s.fx.RateFor(ctx, currency)
	if err != nil {
		return pricingdomain.OrderQuote{}, err
	}
	return s.pricing.PriceOrder(req.Items, currency, rate, req.DiscountCode)
}

// PlaceOrder prices the items on the server, then either pays the order
// from the balance at once or opens a checkout session for the remainder.
func (s *Service) PlaceOrder(ctx context.Context, req domain.PlaceOrderRequest) (*domain.PlaceOrderResult, error) {
	if req.UserID == 0 {
		return nil, domain.ErrMissingIdentity
	}
	currency := normalizeCurrency(req.Currency)

	rate, err := s.fx.RateFor(ctx, currency)
	if err != nil {
		return nil, err
	}
	quote, err := s.pricing.PriceOrder(req.Items, currency, rate, req.DiscountCode)
	if err != nil {
		return nil, err
	}
	balance, err := s.balance.Get(ctx, req.UserID)
	if err != nil {
		return nil, err
	}

	split := balancedomain.DecidePaymentSplit(quote.TotalPLN, balance)
	if split.FullyFunded() {
		return s.payFromBalance(ctx, req, quote, split)
	}
	return s.payViaGateway(ctx, req, quote, split, balance)
}

func (s *Service) payFromBalance(ctx context.Context, req domain.PlaceOrderRequest, quote pricingdomain.OrderQuote, split balancedomain.Split) (*domain.PlaceOrderResult, error) {
	now := s.clock.Now()

	var (
		orderID snowflake.ID
		after   money.Money
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		order, err := s.orders.Create(ctx, tx, orderdomain.CreateRequest{
			UserID: req.UserID,
			Items:  req.Items,
			Quote:  quote,
		})
		if err != nil {
			return err
		}
		after, err = s.balance.Debit(ctx, tx, req.UserID, split.FromBalance, balancedomain.Source{
			Type: balancedomain.SourceOrder,
			ID:   order.ID.String(),
		})
		if err != nil {
			return err
		}
		paid, err := s.orders.MarkPaid(ctx, tx, order.ID, now)
		if err != nil {
			return err
		}
		if !paid {
			return orderdomain.ErrInvalidTransition
		}
		if err := s.orders.StartItems(ctx, tx, order, now); err != nil {
			return err
		}
		orderID = order.ID
		return nil
	})
	if err != nil {
		return nil, err
	}

	order, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}

	s.metrics.RecordBalanceMutation(ctx, balancedomain.DirectionDebit, balancedomain.SourceOrder)
	logger.WithContext(ctx, s.log).Info("order paid from balance",
		zap.String("order_id", order.ID.String()),
		zap.Int64("order_number", order.OrderNumber),
		zap.Int64("amount_pln", split.FromBalance.Amount),
	)

	fulfillment.Trigger(ctx, s.dispatcher, s.log, order.ID, s.fulfillmentTimeout)
	if s.notifier != nil {
		go s.notifier.OrderPaid(ctx, notification.OrderPaid{
			UserID:      order.UserID,
			OrderID:     order.ID,
			OrderNumber: order.OrderNumber,
			Amount:      order.Total(),
		})
	}

	return &domain.PlaceOrderResult{
		Order:   order,
		Split:   split,
		Balance: after,
	}, nil
}

// abandon cancels an order whose checkout session could not be opened. A
// session the gateway created anyway still settles: payment for a cancelled
// order is credited to the balance.
func (s *Service) abandon(ctx context.Context, order *orderdomain.Order) {
	if _, err := s.orders.Cancel(context.WithoutCancel(ctx), order.UserID, order.ID); err != nil {
		logger.WithContext(ctx, s.log).Error("abandoned order left pending",
			zap.String("order_id", order.ID.String()),
			zap.Error(err),
		)
	}
}

func (s *Service) payViaGateway(ctx context.Context, req domain.PlaceOrderRequest, quote pricingdomain.OrderQuote, split balancedomain.Split, balance money.Money) (*domain.PlaceOrderResult, error) {
	user, err := s.userRepo.FindByID(ctx, s.db, req.UserID)
	if err != nil {
		return nil, err
	}

	missing, err := missingAmount(quote, split)
	if err != nil {
		return nil, err
	}

	order, err := s.orders.Create(ctx, nil, orderdomain.CreateRequest{
		UserID: req.UserID,
		Items:  req.Items,
		Quote:  quote,
	})
	if err != nil {
		return nil, err
	}

	var balancePortion *money.Money
	if split.FromBalance.IsPositive() {
		portion := split.FromBalance
		balancePortion = &portion
	}
	ctx, correlationID := correlationFor(ctx, req.CorrelationID)

	meta, err := domain.BuildMetadata(domain.MetadataInput{
		UserID:           req.UserID,
		Type:             domain.TypeOrderPayment,
		OrderID:          &order.ID,
		Currency:         quote.Currency,
		ExchangeRate:     quote.ExchangeRate,
		TotalPrice:       quote.Total,
		AppliedDiscount:  quote.AppliedDiscount,
		MissingAmount:    &missing,
		BalanceAmountPLN: balancePortion,
		CorrelationID:    correlationID,
	})
	if err != nil {
		s.abandon(ctx, order)
		return nil, err
	}

	description := fmt.Sprintf("Order #%d", order.OrderNumber)
	session, err := s.openSession(ctx, domain.SessionRequest{
		Amount:      missing,
		Description: description,
		Lines: []domain.SessionLine{
			{Name: description, Quantity: 1, UnitAmount: missing.Amount},
		},
		CustomerEmail:  user.Email,
		Metadata:       meta.Encode(),
		SuccessURL:     s.successURL,
		CancelURL:      s.cancelURL,
		IdempotencyKey: "order-" + order.ID.String(),
	})
	if err != nil {
		s.abandon(ctx, order)
		return nil, err
	}

	if err := s.orders.AttachCheckoutSession(ctx, order.ID, session.ID); err != nil {
		return nil, err
	}
	order.CheckoutSessionID = &session.ID

	logger.WithContext(ctx, s.log).Info("checkout session created",
		zap.String("order_id", order.ID.String()),
		zap.String("session_id", session.ID),
		zap.String("missing_amount", missing.String()),
		zap.Int64("balance_portion_pln", split.FromBalance.Amount),
	)

	return &domain.PlaceOrderResult{
		Order:         order,
		Split:         split,
		MissingAmount: &missing,
		Session:       session,
		Balance:       balance,
	}, nil
}

// CreateTopUp opens a session that credits the balance once confirmed.
func (s *Service) CreateTopUp(ctx context.Context, req domain.TopUpRequest) (*domain.TopUpResult, error) {
	if req.UserID == 0 {
		return nil, domain.ErrMissingIdentity
	}
	if !req.Amount.IsPositive() {
		return nil, domain.ErrInvalidTopUp
	}
	currency := normalizeCurrency(req.Amount.Currency)
	amount := money.New(req.Amount.Amount, currency)

	user, err := s.userRepo.FindByID(ctx, s.db, req.UserID)
	if err != nil {
		return nil, err
	}
	rate, err := s.fx.RateFor(ctx, currency)
	if err != nil {
		return nil, err
	}
	amountPLN, err := money.ToCanonical(amount, rate)
	if err != nil {
		return nil, err
	}
	ctx, correlationID := correlationFor(ctx, req.CorrelationID)

	meta, err := domain.BuildMetadata(domain.MetadataInput{
		UserID:          req.UserID,
		Type:            domain.TypeAccountTopUp,
		Currency:        currency,
		ExchangeRate:    rate,
		TotalPrice:      amount,
		AppliedDiscount: decimal.Zero,
		CorrelationID:   correlationID,
	})
	if err != nil {
		return nil, err
	}

	session, err := s.openSession(ctx, domain.SessionRequest{
		Amount:      amount,
		Description: "Account top-up",
		Lines: []domain.SessionLine{
			{Name: "Account top-up", Quantity: 1, UnitAmount: amount.Amount},
		},
		CustomerEmail:  user.Email,
		Metadata:       meta.Encode(),
		SuccessURL:     s.successURL,
		CancelURL:      s.cancelURL,
		IdempotencyKey: "topup-" + correlationID,
	})
	if err != nil {
		return nil, err
	}

	logger.WithContext(ctx, s.log).Info("top-up session created",
		zap.String("session_id", session.ID),
		zap.String("amount", amount.String()),
	)
	return &domain.TopUpResult{
		Session:      session,
		Amount:       amount,
		AmountPLN:    amountPLN,
		ExchangeRate: rate.String(),
	}, nil
}

func (s *Service) openSession(ctx context.Context, req domain.SessionRequest) (*domain.Session, error) {
	if s.gateway == nil {
		return nil, domain.ErrGateway
	}
	gctx, cancel := context.WithTimeout(ctx, s.gatewayTimeout)
	defer cancel()

	session, err := s.gateway.CreateCheckoutSession(gctx, req)
	if err == nil && (session == nil || session.ID == "") {
		err = errors.New("empty checkout session")
	}
	if err != nil {
		logger.WithContext(ctx, s.log).Error("checkout session creation failed",
			zap.String("amount", req.Amount.String()),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%w: %v", domain.ErrGateway, err)
	}
	return session, nil
}

// missingAmount is the gateway-funded part of the order in the payment
// currency. When the balance contributes nothing it is the order total, so
// the session charges exactly what was quoted.
func missingAmount(quote pricingdomain.OrderQuote, split balancedomain.Split) (money.Money, error) {
	if split.FromBalance.IsZero() {
		return quote.Total, nil
	}
	missing, err := money.FromCanonical(split.ViaGateway, quote.Currency, quote.ExchangeRate)
	if err != nil {
		return money.Money{}, err
	}
	if missing.Amount <= 0 {
		missing.Amount = 1
	}
	return missing, nil
}

func correlationFor(ctx context.Context, supplied string) (context.Context, string) {
	if supplied != "" {
		ctx = obscontext.WithCorrelationID(ctx, supplied)
	}
	return obscontext.EnsureCorrelationID(ctx)
}

func normalizeCurrency(currency string) string {
	currency = money.NormalizeCurrency(currency)
	if currency == "" {
		return money.PLN
	}
	return currency
}
