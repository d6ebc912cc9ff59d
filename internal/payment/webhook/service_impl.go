package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	balancedomain "github.com/smallbiznis/copydesk/internal/balance/domain"
	checkoutdomain "github.com/smallbiznis/copydesk/internal/checkout/domain"
	"github.com/smallbiznis/copydesk/internal/clock"
	"github.com/smallbiznis/copydesk/internal/config"
	"github.com/smallbiznis/copydesk/internal/fulfillment"
	invoicedomain "github.com/smallbiznis/copydesk/internal/invoice/domain"
	"github.com/smallbiznis/copydesk/internal/notification"
	obscontext "github.com/smallbiznis/copydesk/internal/observability/context"
	"github.com/smallbiznis/copydesk/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/copydesk/internal/observability/metrics"
	orderdomain "github.com/smallbiznis/copydesk/internal/order/domain"
	"github.com/smallbiznis/copydesk/internal/payment/adapters"
	paymentdomain "github.com/smallbiznis/copydesk/internal/payment/domain"
	"github.com/smallbiznis/copydesk/pkg/money"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const invoiceFetchTimeout = 5 * time.Second

var (
	errDuplicate     = errors.New("duplicate_confirmation")
	errNotApplicable = errors.New("order_not_applicable")
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Cfg        config.Config
	Clock      clock.Clock
	GenID      *snowflake.Node
	Adapter    paymentdomain.PaymentAdapter
	Repo       paymentdomain.Repository
	Balance    balancedomain.Service
	Orders     orderdomain.Service
	Invoices   invoicedomain.Service
	Notifier   notification.Notifier  `optional:"true"`
	Dispatcher fulfillment.Dispatcher `optional:"true"`
	ObsMetrics *obsmetrics.Metrics    `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	clock      clock.Clock
	genID      *snowflake.Node
	adapters   map[string]paymentdomain.PaymentAdapter
	repo       paymentdomain.Repository
	balance    balancedomain.Service
	orders     orderdomain.Service
	invoices   invoicedomain.Service
	notifier   notification.Notifier
	dispatcher fulfillment.Dispatcher
	metrics    *obsmetrics.Metrics

	fulfillmentTimeout time.Duration
}

func NewService(p Params) paymentdomain.Reconciler {
	registered := map[string]paymentdomain.PaymentAdapter{}
	if p.Adapter != nil {
		registered[adapters.DefaultProvider] = p.Adapter
	}
	return &Service{
		db:                 p.DB,
		log:                p.Log.Named("payment.webhook"),
		clock:              p.Clock,
		genID:              p.GenID,
		adapters:           registered,
		repo:               p.Repo,
		balance:            p.Balance,
		orders:             p.Orders,
		invoices:           p.Invoices,
		notifier:           p.Notifier,
		dispatcher:         p.Dispatcher,
		metrics:            p.ObsMetrics,
		fulfillmentTimeout: p.Cfg.Fulfillment.Timeout,
	}
}

// HandleWebhook verifies and settles one delivery. A nil error means the
// gateway should stop retrying; processed, duplicate, expired and ignored
// deliveries all return nil.
func (s *Service) HandleWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) (paymentdomain.Outcome, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		return paymentdomain.OutcomeRejected, paymentdomain.ErrInvalidProvider
	}
	adapter, ok := s.adapters[provider]
	if !ok {
		return paymentdomain.OutcomeRejected, paymentdomain.ErrProviderNotFound
	}

	if err := adapter.Verify(ctx, payload, headers); err != nil {
		logger.WithContext(ctx, s.log).Warn("webhook signature rejected",
			zap.String("provider", provider),
			zap.Error(err),
		)
		s.metrics.RecordPaymentEvent(ctx, "unknown", string(paymentdomain.OutcomeRejected))
		return paymentdomain.OutcomeRejected, paymentdomain.ErrInvalidSignature
	}
	if !json.Valid(payload) {
		s.metrics.RecordPaymentEvent(ctx, "unknown", string(paymentdomain.OutcomeRejected))
		return paymentdomain.OutcomeRejected, paymentdomain.ErrInvalidPayload
	}

	event, err := adapter.Parse(ctx, payload)
	if err != nil {
		if errors.Is(err, paymentdomain.ErrEventIgnored) {
			s.metrics.RecordPaymentEvent(ctx, "unknown", string(paymentdomain.OutcomeIgnored))
			return paymentdomain.OutcomeIgnored, nil
		}
		s.metrics.RecordPaymentEvent(ctx, "unknown", string(paymentdomain.OutcomeRejected))
		return paymentdomain.OutcomeRejected, err
	}

	if cid := strings.TrimSpace(event.Metadata["correlationId"]); cid != "" {
		ctx = obscontext.WithCorrelationID(ctx, cid)
	}
	log := logger.WithContext(ctx, s.log).With(
		zap.String("provider", provider),
		zap.String("event_id", event.EventID),
		zap.String("event_type", event.Type),
		zap.String("session_id", event.SessionID),
	)

	var outcome paymentdomain.Outcome
	switch event.Type {
	case paymentdomain.EventCheckoutCompleted:
		outcome, err = s.reconcile(ctx, adapter, event)
	case paymentdomain.EventCheckoutExpired:
		outcome, err = s.handleExpired(ctx, event)
	default:
		outcome = paymentdomain.OutcomeIgnored
	}
	if err != nil {
		outcome = paymentdomain.OutcomeFailed
		log.Error("webhook processing failed", zap.Error(err))
	} else {
		log.Info("webhook settled", zap.String("outcome", string(outcome)))
	}
	s.metrics.RecordPaymentEvent(ctx, event.Type, string(outcome))
	return outcome, err
}

// confirmation is what a committed reconciliation hands to the post-commit
// side effects.
type confirmation struct {
	payment *paymentdomain.Payment
	invoice *invoicedomain.Invoice
	order   *orderdomain.Order
	applied bool
	balance money.Money
	credit  money.Money
	debit   money.Money
}

func (s *Service) reconcile(ctx context.Context, adapter paymentdomain.PaymentAdapter, event *paymentdomain.CheckoutEvent) (paymentdomain.Outcome, error) {
	if _, err := s.repo.FindBySessionID(ctx, s.db, event.SessionID); err == nil {
		return paymentdomain.OutcomeDuplicate, nil
	} else if !errors.Is(err, paymentdomain.ErrPaymentNotFound) {
		return paymentdomain.OutcomeFailed, err
	}

	meta, err := checkoutdomain.DecodeMetadata(event.Metadata)
	if err != nil {
		return paymentdomain.OutcomeFailed, err
	}
	if event.Currency != meta.Currency {
		return paymentdomain.OutcomeFailed, fmt.Errorf("%w: currency %s, session %s",
			paymentdomain.ErrMetadataMismatch, meta.Currency, event.Currency)
	}
	if event.AmountTotal <= 0 {
		return paymentdomain.OutcomeFailed, fmt.Errorf("%w: amount_total", paymentdomain.ErrInvalidEvent)
	}
	paid := money.New(event.AmountTotal, meta.Currency)
	gatewayInvoice := s.fetchInvoice(ctx, adapter, event.GatewayInvoiceID)

	var result *confirmation
	switch meta.Type {
	case checkoutdomain.TypeAccountTopUp:
		result, err = s.settleTopUp(ctx, event, meta, paid, gatewayInvoice)
	case checkoutdomain.TypeOrderPayment:
		result, err = s.settleOrder(ctx, event, meta, paid, gatewayInvoice)
	default:
		err = checkoutdomain.ErrInvalidMetadata
	}
	if errors.Is(err, errDuplicate) {
		return paymentdomain.OutcomeDuplicate, nil
	}
	if err != nil {
		return paymentdomain.OutcomeFailed, err
	}

	s.afterCommit(ctx, meta, result)
	return paymentdomain.OutcomeProcessed, nil
}

func (s *Service) settleTopUp(ctx context.Context, event *paymentdomain.CheckoutEvent, meta checkoutdomain.Metadata, paid money.Money, gatewayInvoice *paymentdomain.GatewayInvoice) (*confirmation, error) {
	paidPLN, err := money.ToCanonical(paid, meta.ExchangeRate)
	if err != nil {
		return nil, err
	}
	requestedPLN, err := money.ToCanonical(meta.TotalPrice, meta.ExchangeRate)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	result := &confirmation{credit: paidPLN}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		after, err := s.credit(ctx, tx, meta.UserID, paidPLN, event.SessionID)
		if err != nil {
			return err
		}
		result.balance = after

		payment := s.newPayment(event, meta, paymentdomain.PaymentTypeTopUp, now)
		payment.Amount = meta.TotalPrice.Amount
		payment.AmountPLN = requestedPLN.Amount
		payment.PaidAmount = paid.Amount
		payment.PaidAmountPLN = paidPLN.Amount
		if err := s.insertPayment(ctx, tx, payment); err != nil {
			return err
		}
		result.payment = payment

		invoice, err := s.issueInvoice(ctx, tx, payment, nil, paid.Amount, []invoicedomain.LineItem{
			{Description: "Account top-up", Quantity: 1, UnitAmount: paid.Amount, Amount: paid.Amount},
		}, gatewayInvoice, now)
		if err != nil {
			return err
		}
		result.invoice = invoice
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.WithContext(ctx, s.log).Info("top-up credited",
		zap.String("session_id", event.SessionID),
		zap.String("user_id", meta.UserID.String()),
		zap.String("paid", paid.String()),
		zap.Int64("credit_pln", paidPLN.Amount),
	)
	return result, nil
}

// settleOrder applies a confirmed order payment. When the order can no
// longer be paid (cancelled, already paid, balance portion gone, underpaid)
// the whole payment is credited to the balance instead, so confirmed money
// is never dropped.
func (s *Service) settleOrder(ctx context.Context, event *paymentdomain.CheckoutEvent, meta checkoutdomain.Metadata, paid money.Money, gatewayInvoice *paymentdomain.GatewayInvoice) (*confirmation, error) {
	order, err := s.orders.Get(ctx, *meta.OrderID)
	switch {
	case errors.Is(err, orderdomain.ErrOrderNotFound):
		order = nil
	case err != nil:
		return nil, err
	case order.UserID != meta.UserID:
		return nil, fmt.Errorf("%w: order owner", paymentdomain.ErrMetadataMismatch)
	}

	missing := *meta.MissingAmount
	portion := money.New(0, money.PLN)
	if meta.BalanceAmountPLN != nil {
		portion = *meta.BalanceAmountPLN
	}
	paidPLN, err := money.ToCanonical(paid, meta.ExchangeRate)
	if err != nil {
		return nil, err
	}
	missingPLN, err := money.ToCanonical(missing, meta.ExchangeRate)
	if err != nil {
		return nil, err
	}
	surplus := money.New(paid.Amount-missing.Amount, paid.Currency).ClampZero()
	surplusPLN, err := money.ToCanonical(surplus, meta.ExchangeRate)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	result := &confirmation{order: order}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		applied := false
		if order != nil && paid.Amount >= missing.Amount {
			var err error
			applied, err = s.applyOrder(ctx, tx, order, portion, now)
			if err != nil {
				return err
			}
		}
		result.applied = applied

		credit := paidPLN
		if applied {
			credit = surplusPLN
			result.debit = portion
		}
		result.credit = credit
		if credit.IsPositive() {
			after, err := s.credit(ctx, tx, meta.UserID, credit, event.SessionID)
			if err != nil {
				return err
			}
			result.balance = after
		}

		payment := s.newPayment(event, meta, paymentdomain.PaymentTypeOrder, now)
		payment.Amount = missing.Amount
		payment.AmountPLN = missingPLN.Amount
		payment.PaidAmount = paid.Amount
		payment.PaidAmountPLN = paidPLN.Amount
		if applied {
			payment.SurplusPLN = surplusPLN.Amount
		}
		payment.RelatedOrderID = meta.OrderID
		if err := s.insertPayment(ctx, tx, payment); err != nil {
			return err
		}
		result.payment = payment

		amount, lines := orderInvoiceLines(order, applied, missing, paid)
		invoice, err := s.issueInvoice(ctx, tx, payment, meta.OrderID, amount, lines, gatewayInvoice, now)
		if err != nil {
			return err
		}
		result.invoice = invoice
		return nil
	})
	if err != nil {
		return nil, err
	}

	fields := []zap.Field{
		zap.String("session_id", event.SessionID),
		zap.String("order_id", meta.OrderID.String()),
		zap.String("paid", paid.String()),
		zap.Bool("applied", result.applied),
		zap.Int64("credit_pln", result.credit.Amount),
		zap.Int64("debit_pln", result.debit.Amount),
	}
	if result.applied {
		logger.WithContext(ctx, s.log).Info("order payment confirmed", fields...)
	} else {
		logger.WithContext(ctx, s.log).Warn("order payment credited to balance", fields...)
	}
	return result, nil
}

// applyOrder pays the order inside a savepoint. A not-applicable order
// rolls back only its own changes.
func (s *Service) applyOrder(ctx context.Context, tx *gorm.DB, order *orderdomain.Order, portion money.Money, now time.Time) (bool, error) {
	err := tx.WithContext(ctx).Transaction(func(sp *gorm.DB) error {
		paid, err := s.orders.MarkPaid(ctx, sp, order.ID, now)
		if err != nil {
			return err
		}
		if !paid {
			return errNotApplicable
		}
		if portion.IsPositive() {
			_, err := s.balance.Debit(ctx, sp, order.UserID, portion, balancedomain.Source{
				Type: balancedomain.SourceOrder,
				ID:   order.ID.String(),
			})
			if errors.Is(err, balancedomain.ErrInsufficientBalance) || errors.Is(err, balancedomain.ErrDuplicateMutation) {
				return errNotApplicable
			}
			if err != nil {
				return err
			}
		}
		return s.orders.StartItems(ctx, sp, order, now)
	})
	if errors.Is(err, errNotApplicable) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Service) credit(ctx context.Context, tx *gorm.DB, userID snowflake.ID, amount money.Money, sessionID string) (money.Money, error) {
	after, err := s.balance.Credit(ctx, tx, userID, amount, balancedomain.Source{
		Type: balancedomain.SourcePayment,
		ID:   sessionID,
	})
	if errors.Is(err, balancedomain.ErrDuplicateMutation) {
		return money.Money{}, errDuplicate
	}
	return after, err
}

func (s *Service) insertPayment(ctx context.Context, tx *gorm.DB, payment *paymentdomain.Payment) error {
	inserted, err := s.repo.InsertIfAbsent(ctx, tx, payment)
	if err != nil {
		return err
	}
	if !inserted {
		return errDuplicate
	}
	return nil
}

func (s *Service) newPayment(event *paymentdomain.CheckoutEvent, meta checkoutdomain.Metadata, paymentType paymentdomain.PaymentType, now time.Time) *paymentdomain.Payment {
	raw := datatypes.JSONMap{}
	for k, v := range event.Metadata {
		raw[k] = v
	}
	return &paymentdomain.Payment{
		ID:               s.genID.Generate(),
		UserID:           meta.UserID,
		Type:             paymentType,
		Status:           paymentdomain.PaymentStatusPaid,
		Currency:         meta.Currency,
		GatewaySessionID: event.SessionID,
		GatewayInvoiceID: event.GatewayInvoiceID,
		CorrelationID:    meta.CorrelationID,
		Metadata:         raw,
		CreatedAt:        now,
	}
}

func (s *Service) issueInvoice(ctx context.Context, tx *gorm.DB, payment *paymentdomain.Payment, orderID *snowflake.ID, amount int64, lines []invoicedomain.LineItem, gatewayInvoice *paymentdomain.GatewayInvoice, now time.Time) (*invoicedomain.Invoice, error) {
	req := invoicedomain.CreateRequest{
		UserID:           payment.UserID,
		PaymentID:        payment.ID,
		OrderID:          orderID,
		Currency:         payment.Currency,
		Amount:           amount,
		PaidAmount:       payment.PaidAmount,
		LineItems:        lines,
		GatewayInvoiceID: payment.GatewayInvoiceID,
		IssuedAt:         now,
	}
	if gatewayInvoice != nil {
		req.PDFURL = gatewayInvoice.PDFURL
		if req.PDFURL == "" {
			req.PDFURL = gatewayInvoice.HostedInvoiceURL
		}
	}

	invoice, err := s.invoices.CreateInvoice(ctx, tx, req)
	if errors.Is(err, invoicedomain.ErrInvoiceExists) {
		return nil, errDuplicate
	}
	if err != nil {
		return nil, err
	}
	attached, err := s.repo.AttachInvoice(ctx, tx, payment.ID, invoice.ID)
	if err != nil {
		return nil, err
	}
	if !attached {
		return nil, errDuplicate
	}
	payment.InvoiceID = &invoice.ID
	return invoice, nil
}

// orderInvoiceLines returns the invoice amount and lines. Applied orders
// list the items, then the discount and the balance-funded share as
// negative lines, so the lines sum to the charged amount.
func orderInvoiceLines(order *orderdomain.Order, applied bool, missing, paid money.Money) (int64, []invoicedomain.LineItem) {
	if !applied {
		description := "Account credit"
		if order != nil {
			description = fmt.Sprintf("Account credit for order #%d", order.OrderNumber)
		}
		return paid.Amount, []invoicedomain.LineItem{
			{Description: description, Quantity: 1, UnitAmount: paid.Amount, Amount: paid.Amount},
		}
	}

	lines := make([]invoicedomain.LineItem, 0, len(order.Items)+2)
	var itemsTotal int64
	for _, item := range order.Items {
		lines = append(lines, invoicedomain.LineItem{
			Description: fmt.Sprintf("%s (%s, %d chars)", item.Title, item.ContentType, item.Length),
			Quantity:    1,
			UnitAmount:  item.Price,
			Amount:      item.Price,
		})
		itemsTotal += item.Price
	}
	if discount := order.TotalPrice - itemsTotal; discount != 0 {
		lines = append(lines, invoicedomain.LineItem{
			Description: fmt.Sprintf("Discount %s%%", order.AppliedDiscount.StringFixed(2)),
			Quantity:    1,
			UnitAmount:  discount,
			Amount:      discount,
		})
	}
	if fromBalance := missing.Amount - order.TotalPrice; fromBalance != 0 {
		lines = append(lines, invoicedomain.LineItem{
			Description: "Paid from account balance",
			Quantity:    1,
			UnitAmount:  fromBalance,
			Amount:      fromBalance,
		})
	}
	return missing.Amount, lines
}

// fetchInvoice reads the gateway's finalized invoice for the PDF link. The
// link is optional, so failures are logged and ignored.
func (s *Service) fetchInvoice(ctx context.Context, adapter paymentdomain.PaymentAdapter, invoiceID string) *paymentdomain.GatewayInvoice {
	if strings.TrimSpace(invoiceID) == "" {
		return nil
	}
	fctx, cancel := context.WithTimeout(ctx, invoiceFetchTimeout)
	defer cancel()

	invoice, err := adapter.FetchInvoice(fctx, invoiceID)
	if err != nil {
		logger.WithContext(ctx, s.log).Warn("gateway invoice unavailable",
			zap.String("gateway_invoice_id", invoiceID),
			zap.Error(err),
		)
		return nil
	}
	return invoice
}

func (s *Service) afterCommit(ctx context.Context, meta checkoutdomain.Metadata, result *confirmation) {
	if result.credit.IsPositive() {
		s.metrics.RecordBalanceMutation(ctx, balancedomain.DirectionCredit, balancedomain.SourcePayment)
	}
	if result.debit.IsPositive() {
		s.metrics.RecordBalanceMutation(ctx, balancedomain.DirectionDebit, balancedomain.SourceOrder)
	}

	invoiceNumber := ""
	if result.invoice != nil {
		invoiceNumber = result.invoice.InvoiceNumber
	}

	if result.applied {
		fulfillment.Trigger(ctx, s.dispatcher, s.log, result.order.ID, s.fulfillmentTimeout)
		if s.notifier != nil {
			go s.notifier.OrderPaid(ctx, notification.OrderPaid{
				UserID:        meta.UserID,
				OrderID:       result.order.ID,
				OrderNumber:   result.order.OrderNumber,
				Amount:        result.order.Total(),
				InvoiceNumber: invoiceNumber,
			})
		}
		return
	}

	if s.notifier != nil && result.credit.IsPositive() {
		go s.notifier.TopUpReceived(ctx, notification.TopUpReceived{
			UserID:        meta.UserID,
			Amount:        result.credit,
			Balance:       result.balance,
			InvoiceNumber: invoiceNumber,
		})
	}
}

// handleExpired signals an abandoned checkout for an order that is still
// waiting for payment. Nothing is written.
func (s *Service) handleExpired(ctx context.Context, event *paymentdomain.CheckoutEvent) (paymentdomain.Outcome, error) {
	meta, err := checkoutdomain.DecodeMetadata(event.Metadata)
	if err != nil {
		logger.WithContext(ctx, s.log).Warn("expired session without usable metadata",
			zap.String("session_id", event.SessionID),
			zap.Error(err),
		)
		return paymentdomain.OutcomeIgnored, nil
	}
	if meta.Type != checkoutdomain.TypeOrderPayment {
		return paymentdomain.OutcomeIgnored, nil
	}

	order, err := s.orders.Get(ctx, *meta.OrderID)
	if errors.Is(err, orderdomain.ErrOrderNotFound) {
		return paymentdomain.OutcomeIgnored, nil
	}
	if err != nil {
		return paymentdomain.OutcomeFailed, err
	}
	if order.Status != orderdomain.OrderStatusPending || order.PaymentStatus != orderdomain.PaymentStatusPending {
		return paymentdomain.OutcomeIgnored, nil
	}
	if order.CheckoutSessionID != nil && *order.CheckoutSessionID != event.SessionID {
		return paymentdomain.OutcomeIgnored, nil
	}

	if s.notifier != nil {
		go s.notifier.CheckoutExpired(ctx, notification.CheckoutExpired{
			UserID:      order.UserID,
			OrderID:     order.ID,
			OrderNumber: order.OrderNumber,
		})
	}
	return paymentdomain.OutcomeExpired, nil
}
