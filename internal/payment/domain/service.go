package domain

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	checkoutdomain "github.com/smallbiznis/copydesk/internal/checkout/domain"
	"gorm.io/gorm"
)

type AdapterConfig struct {
	Provider         string
	SecretKey        string
	WebhookSecret    string
	WebhookTolerance time.Duration
	APIBase          string
	Timeout          time.Duration
}

// PaymentAdapter is one payment gateway: it opens sessions and turns signed
// webhook deliveries into CheckoutEvents.
type PaymentAdapter interface {
	checkoutdomain.Gateway
	Verify(ctx context.Context, payload []byte, headers http.Header) error
	Parse(ctx context.Context, payload []byte) (*CheckoutEvent, error)
	FetchInvoice(ctx context.Context, invoiceID string) (*GatewayInvoice, error)
}

type AdapterFactory interface {
	Provider() string
	NewAdapter(cfg AdapterConfig) (PaymentAdapter, error)
}

type Repository interface {
	FindBySessionID(ctx context.Context, db *gorm.DB, sessionID string) (*Payment, error)
	// InsertIfAbsent reports false when a payment for the session exists.
	InsertIfAbsent(ctx context.Context, db *gorm.DB, payment *Payment) (bool, error)
	// AttachInvoice sets invoice_id only while it is still empty.
	AttachInvoice(ctx context.Context, db *gorm.DB, id, invoiceID snowflake.ID) (bool, error)
}

// Reconciler settles gateway webhook deliveries. Deliveries are
// at-least-once; processing the same one again is a no-op.
type Reconciler interface {
	HandleWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) (Outcome, error)
}
