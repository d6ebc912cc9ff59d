// Package domain contains persistence models for invoicing.
package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type InvoiceStatus string

// Invoices are issued for confirmed payments only, so paid is the single
// state a stored invoice can have.
const InvoiceStatusPaid InvoiceStatus = "paid"

// LineItem is one printed invoice line, amounts in the invoice currency.
type LineItem struct {
	Description string `json:"description"`
	Quantity    int    `json:"quantity"`
	UnitAmount  int64  `json:"unit_amount"`
	Amount      int64  `json:"amount"`
}

// Invoice is immutable after insert.
type Invoice struct {
	ID               snowflake.ID                   `json:"id" gorm:"primaryKey"`
	InvoiceNumber    string                         `json:"invoice_number" gorm:"type:text;not null;uniqueIndex"`
	Year             int                            `json:"year" gorm:"not null"`
	Sequence         int64                          `json:"sequence" gorm:"not null"`
	UserID           snowflake.ID                   `json:"user_id" gorm:"not null;index"`
	PaymentID        snowflake.ID                   `json:"payment_id" gorm:"not null;uniqueIndex"`
	OrderID          *snowflake.ID                  `json:"order_id,omitempty" gorm:"index"`
	Currency         string                         `json:"currency" gorm:"type:text;not null"`
	Amount           int64                          `json:"amount" gorm:"not null"`
	PaidAmount       int64                          `json:"paid_amount" gorm:"not null"`
	Status           InvoiceStatus                  `json:"status" gorm:"type:text;not null"`
	GatewayInvoiceID string                         `json:"gateway_invoice_id,omitempty" gorm:"type:text"`
	PDFURL           string                         `json:"pdf_url,omitempty" gorm:"column:pdf_url;type:text"`
	LineItems        datatypes.JSONType[[]LineItem] `json:"line_items"`
	IssuedAt         time.Time                      `json:"issued_at" gorm:"not null"`
	CreatedAt        time.Time                      `json:"created_at" gorm:"not null"`
}

func (Invoice) TableName() string { return "invoices" }

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, invoice *Invoice) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Invoice, error)
	FindByPaymentID(ctx context.Context, db *gorm.DB, paymentID snowflake.ID) (*Invoice, error)
	ListByUser(ctx context.Context, db *gorm.DB, userID snowflake.ID, beforeID int64, limit int) ([]Invoice, error)
}
