package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type PaymentType string

const (
	PaymentTypeTopUp PaymentType = "top_up"
	PaymentTypeOrder PaymentType = "order_payment"
)

type PaymentStatus string

const PaymentStatusPaid PaymentStatus = "paid"

// Payment records one confirmed gateway session. Amount, PaidAmount and
// Currency are in the payment currency; *PLN fields are canonical. The row
// is written once and afterwards only gains InvoiceID.
type Payment struct {
	ID               snowflake.ID      `json:"id" gorm:"primaryKey"`
	UserID           snowflake.ID      `json:"user_id" gorm:"not null;index"`
	Type             PaymentType       `json:"type" gorm:"type:text;not null"`
	Status           PaymentStatus     `json:"status" gorm:"type:text;not null"`
	Currency         string            `json:"currency" gorm:"type:text;not null"`
	Amount           int64             `json:"amount" gorm:"not null"`
	PaidAmount       int64             `json:"paid_amount" gorm:"not null"`
	AmountPLN        int64             `json:"amount_pln" gorm:"column:amount_pln;not null"`
	PaidAmountPLN    int64             `json:"paid_amount_pln" gorm:"column:paid_amount_pln;not null"`
	SurplusPLN       int64             `json:"surplus_pln" gorm:"column:surplus_pln;not null;default:0"`
	GatewaySessionID string            `json:"gateway_session_id" gorm:"type:text;not null;uniqueIndex"`
	GatewayInvoiceID string            `json:"gateway_invoice_id,omitempty" gorm:"type:text"`
	RelatedOrderID   *snowflake.ID     `json:"related_order_id,omitempty" gorm:"index"`
	InvoiceID        *snowflake.ID     `json:"invoice_id,omitempty"`
	CorrelationID    string            `json:"correlation_id,omitempty" gorm:"type:text"`
	Metadata         datatypes.JSONMap `json:"metadata" gorm:"type:jsonb"`
	CreatedAt        time.Time         `json:"created_at" gorm:"not null"`
}

func (Payment) TableName() string { return "payments" }

const (
	EventCheckoutCompleted = "checkout.session.completed"
	EventCheckoutExpired   = "checkout.session.expired"
)

// CheckoutEvent is the canonical confirmation event parsed by adapters.
type CheckoutEvent struct {
	Provider         string
	EventID          string
	Type             string
	SessionID        string
	Currency         string
	AmountTotal      int64
	GatewayInvoiceID string
	Metadata         map[string]string
	OccurredAt       time.Time
	RawPayload       []byte
}

// GatewayInvoice is the gateway's finalized invoice for a session.
type GatewayInvoice struct {
	ID               string
	Number           string
	HostedInvoiceURL string
	PDFURL           string
}

// Outcome is how a webhook delivery was settled.
type Outcome string

const (
	OutcomeProcessed Outcome = "processed"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeIgnored   Outcome = "ignored"
	OutcomeExpired   Outcome = "expired"
	OutcomeRejected  Outcome = "rejected"
	OutcomeFailed    Outcome = "failed"
)
