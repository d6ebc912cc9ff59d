// Package notification sends customer emails and operator signals after a
// financial change has committed. Every method is best effort: failures are
// logged and never returned.
package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/copydesk/internal/invoice/format"
	"github.com/smallbiznis/copydesk/internal/providers/email"
	"github.com/smallbiznis/copydesk/internal/providers/slack"
	userdomain "github.com/smallbiznis/copydesk/internal/user/domain"
	"github.com/smallbiznis/copydesk/pkg/money"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const defaultTimeout = 5 * time.Second

const (
	templateOrderPaid       = "order_paid"
	templateOrderCancelled  = "order_cancelled"
	templateCheckoutExpired = "checkout_expired"
	templateTopUpReceived   = "topup_received"
)

var Module = fx.Module("notification.service",
	fx.Provide(NewService),
)

type OrderPaid struct {
	UserID        snowflake.ID
	OrderID       snowflake.ID
	OrderNumber   int64
	Amount        money.Money
	InvoiceNumber string
}

type TopUpReceived struct {
	UserID        snowflake.ID
	Amount        money.Money
	Balance       money.Money
	InvoiceNumber string
}

type CheckoutExpired struct {
	UserID      snowflake.ID
	OrderID     snowflake.ID
	OrderNumber int64
}

type OrderCancelled struct {
	UserID      snowflake.ID
	OrderID     snowflake.ID
	OrderNumber int64
}

type Notifier interface {
	OrderPaid(ctx context.Context, n OrderPaid)
	OrderCancelled(ctx context.Context, n OrderCancelled)
	TopUpReceived(ctx context.Context, n TopUpReceived)
	CheckoutExpired(ctx context.Context, n CheckoutExpired)
}

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	UserRepo userdomain.Repository
	Email    email.Provider
	Slack    slack.Provider
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	userRepo userdomain.Repository
	email    email.Provider
	slack    slack.Provider
	timeout  time.Duration
}

func NewService(p Params) Notifier {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("notification.service"),
		userRepo: p.UserRepo,
		email:    p.Email,
		slack:    p.Slack,
		timeout:  defaultTimeout,
	}
}

func (s *Service) OrderPaid(ctx context.Context, n OrderPaid) {
	ctx, cancel := s.detach(ctx)
	defer cancel()

	s.sendEmail(ctx, n.UserID, templateOrderPaid, map[string]any{
		"order_number":   n.OrderNumber,
		"amount":         format.FormatAmount(n.Amount.Amount, n.Amount.Currency),
		"invoice_number": n.InvoiceNumber,
	})
	s.signal(ctx, fmt.Sprintf("order #%d paid: %s", n.OrderNumber, n.Amount))
}

// TopUpReceived doubles as the conversion signal for analytics.
func (s *Service) TopUpReceived(ctx context.Context, n TopUpReceived) {
	ctx, cancel := s.detach(ctx)
	defer cancel()

	s.sendEmail(ctx, n.UserID, templateTopUpReceived, map[string]any{
		"amount":         format.FormatAmount(n.Amount.Amount, n.Amount.Currency),
		"balance":        format.FormatAmount(n.Balance.Amount, n.Balance.Currency),
		"invoice_number": n.InvoiceNumber,
	})
	s.log.Info("conversion",
		zap.String("event", "account_top_up"),
		zap.String("user_id", n.UserID.String()),
		zap.Int64("amount", n.Amount.Amount),
		zap.String("currency", n.Amount.Currency),
	)
	s.signal(ctx, fmt.Sprintf("top-up received: %s", n.Amount))
}

func (s *Service) CheckoutExpired(ctx context.Context, n CheckoutExpired) {
	ctx, cancel := s.detach(ctx)
	defer cancel()

	s.sendEmail(ctx, n.UserID, templateCheckoutExpired, map[string]any{
		"order_number": n.OrderNumber,
	})
}

func (s *Service) OrderCancelled(ctx context.Context, n OrderCancelled) {
	ctx, cancel := s.detach(ctx)
	defer cancel()

	s.sendEmail(ctx, n.UserID, templateOrderCancelled, map[string]any{
		"order_number": n.OrderNumber,
	})
	s.signal(ctx, fmt.Sprintf("order #%d cancelled", n.OrderNumber))
}

func (s *Service) detach(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
}

func (s *Service) sendEmail(ctx context.Context, userID snowflake.ID, templateName string, data map[string]any) {
	if s.email == nil {
		return
	}
	user, err := s.userRepo.FindByID(ctx, s.db, userID)
	if err != nil {
		s.log.Warn("notification recipient lookup failed",
			zap.String("user_id", userID.String()),
			zap.String("template", templateName),
			zap.Error(err),
		)
		return
	}
	data["name"] = user.BillingName()
	if err := s.email.SendTemplate(ctx, []string{user.Email}, templateName, data); err != nil {
		s.log.Warn("notification email failed",
			zap.String("user_id", userID.String()),
			zap.String("template", templateName),
			zap.Error(err),
		)
	}
}

func (s *Service) signal(ctx context.Context, message string) {
	if s.slack == nil {
		return
	}
	if err := s.slack.PostMessage(ctx, message); err != nil {
		s.log.Warn("notification slack post failed", zap.Error(err))
	}
}
