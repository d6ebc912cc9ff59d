package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/copydesk/pkg/db/pagination"
	"gorm.io/gorm"
)

var (
	ErrInvoiceNotFound = errors.New("invoice_not_found")
	ErrInvoiceExists   = errors.New("invoice_already_issued")
	ErrInvalidInvoice  = errors.New("invalid_invoice")
)

// CreateRequest describes the invoice for one confirmed payment.
type CreateRequest struct {
	UserID           snowflake.ID
	PaymentID        snowflake.ID
	OrderID          *snowflake.ID
	Currency         string
	Amount           int64
	PaidAmount       int64
	LineItems        []LineItem
	GatewayInvoiceID string
	PDFURL           string
	IssuedAt         time.Time
}

type ListRequest struct {
	UserID snowflake.ID
	pagination.Pagination
}

type ListResponse struct {
	Invoices []Invoice          `json:"invoices"`
	PageInfo pagination.PageInfo `json:"page_info"`
}

// Document is a rendered PDF ready to download.
type Document struct {
	FileName string
	Content  []byte
}

type Service interface {
	NextInvoiceNumber(ctx context.Context, tx *gorm.DB, at time.Time) (string, int64, error)
	CreateInvoice(ctx context.Context, tx *gorm.DB, req CreateRequest) (*Invoice, error)
	Get(ctx context.Context, userID, id snowflake.ID) (*Invoice, error)
	List(ctx context.Context, req ListRequest) (ListResponse, error)
	RenderPDF(ctx context.Context, userID, id snowflake.ID) (Document, error)
}
