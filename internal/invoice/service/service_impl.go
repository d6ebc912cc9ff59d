package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/copydesk/internal/clock"
	"github.com/smallbiznis/copydesk/internal/config"
	"github.com/smallbiznis/copydesk/internal/invoice/domain"
	"github.com/smallbiznis/copydesk/internal/invoice/format"
	"github.com/smallbiznis/copydesk/internal/providers/pdf"
	userdomain "github.com/smallbiznis/copydesk/internal/user/domain"
	"github.com/smallbiznis/copydesk/pkg/db"
	"github.com/smallbiznis/copydesk/pkg/db/pagination"
	"github.com/smallbiznis/copydesk/pkg/money"
	"github.com/smallbiznis/copydesk/pkg/sequence"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Cfg      config.Config
	GenID    *snowflake.Node
	Clock    clock.Clock
	Repo     domain.Repository
	UserRepo userdomain.Repository
	PDF      pdf.Provider
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	seller   config.InvoiceConfig
	genID    *snowflake.Node
	clock    clock.Clock
	repo     domain.Repository
	userRepo userdomain.Repository
	pdf      pdf.Provider
}

func NewService(p Params) domain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("invoice.service"),
		seller:   p.Cfg.Invoice,
		genID:    p.GenID,
		clock:    p.Clock,
		repo:     p.Repo,
		userRepo: p.UserRepo,
		pdf:      p.PDF,
	}
}

func sequenceName(year int) string {
	return fmt.Sprintf("invoice:%d", year)
}

// NextInvoiceNumber advances the per-year counter. Within one year numbers
// strictly increase; a rolled back transaction takes its number with it.
func (s *Service) NextInvoiceNumber(ctx context.Context, tx *gorm.DB, at time.Time) (string, int64, error) {
	if tx == nil {
		tx = s.db
	}
	at = at.UTC()

	seq, err := sequence.Next(ctx, tx, sequenceName(at.Year()))
	if err != nil {
		return "", 0, fmt.Errorf("next invoice sequence: %w", err)
	}
	number, err := format.FormatInvoiceNumber(format.DefaultInvoiceNumberTemplate, at, seq)
	if err != nil {
		return "", 0, err
	}
	return number, seq, nil
}

// CreateInvoice issues the single invoice of a payment.
func (s *Service) CreateInvoice(ctx context.Context, tx *gorm.DB, req domain.CreateRequest) (*domain.Invoice, error) {
	if req.UserID == 0 || req.PaymentID == 0 {
		return nil, domain.ErrInvalidInvoice
	}
	if req.Amount < 0 || req.PaidAmount < 0 || !money.Supported(req.Currency) {
		return nil, domain.ErrInvalidInvoice
	}
	if tx == nil {
		tx = s.db
	}

	issuedAt := req.IssuedAt
	if issuedAt.IsZero() {
		issuedAt = s.clock.Now()
	}
	issuedAt = issuedAt.UTC()

	var created *domain.Invoice
	err := tx.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.repo.FindByPaymentID(ctx, tx, req.PaymentID); err == nil {
			return domain.ErrInvoiceExists
		} else if !errors.Is(err, domain.ErrInvoiceNotFound) {
			return err
		}

		number, seq, err := s.NextInvoiceNumber(ctx, tx, issuedAt)
		if err != nil {
			return err
		}

		lines := req.LineItems
		if lines == nil {
			lines = []domain.LineItem{}
		}

		invoice := &domain.Invoice{
			ID:               s.genID.Generate(),
			InvoiceNumber:    number,
			Year:             issuedAt.Year(),
			Sequence:         seq,
			UserID:           req.UserID,
			PaymentID:        req.PaymentID,
			OrderID:          req.OrderID,
			Currency:         money.NormalizeCurrency(req.Currency),
			Amount:           req.Amount,
			PaidAmount:       req.PaidAmount,
			Status:           domain.InvoiceStatusPaid,
			GatewayInvoiceID: req.GatewayInvoiceID,
			PDFURL:           req.PDFURL,
			LineItems:        datatypes.NewJSONType(lines),
			IssuedAt:         issuedAt,
			CreatedAt:        s.clock.Now().UTC(),
		}
		if err := s.repo.Insert(ctx, tx, invoice); err != nil {
			if db.IsUniqueViolation(err) {
				return domain.ErrInvoiceExists
			}
			return err
		}
		created = invoice
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("invoice issued",
		zap.String("invoice_id", created.ID.String()),
		zap.String("invoice_number", created.InvoiceNumber),
		zap.String("payment_id", created.PaymentID.String()),
		zap.Int64("amount", created.Amount),
		zap.String("currency", created.Currency),
	)
	return created, nil
}

func (s *Service) Get(ctx context.Context, userID, id snowflake.ID) (*domain.Invoice, error) {
	invoice, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if invoice.UserID != userID {
		return nil, domain.ErrInvoiceNotFound
	}
	return invoice, nil
}

func (s *Service) List(ctx context.Context, req domain.ListRequest) (domain.ListResponse, error) {
	beforeID, err := req.BeforeID()
	if err != nil {
		return domain.ListResponse{}, err
	}
	limit := req.Limit()

	items, err := s.repo.ListByUser(ctx, s.db, req.UserID, beforeID, limit+1)
	if err != nil {
		return domain.ListResponse{}, err
	}
	items, pageInfo := pagination.Trim(items, limit, func(inv domain.Invoice) string { return inv.ID.String() })
	if items == nil {
		items = []domain.Invoice{}
	}
	return domain.ListResponse{Invoices: items, PageInfo: pageInfo}, nil
}

// RenderPDF produces a local copy of the invoice with the current seller
// block and the buyer's billing data.
func (s *Service) RenderPDF(ctx context.Context, userID, id snowflake.ID) (domain.Document, error) {
	invoice, err := s.Get(ctx, userID, id)
	if err != nil {
		return domain.Document{}, err
	}
	user, err := s.userRepo.FindByID(ctx, s.db, invoice.UserID)
	if err != nil {
		return domain.Document{}, err
	}

	content, err := s.pdf.RenderInvoice(ctx, buildDocument(invoice, user, s.seller))
	if err != nil {
		return domain.Document{}, fmt.Errorf("render invoice %s: %w", invoice.InvoiceNumber, err)
	}
	return domain.Document{
		FileName: pdf.FileName(invoice.InvoiceNumber),
		Content:  content,
	}, nil
}

func buildDocument(invoice *domain.Invoice, user *userdomain.User, seller config.InvoiceConfig) pdf.InvoiceDocument {
	lines := invoice.LineItems.Data()
	docLines := make([]pdf.InvoiceLine, 0, len(lines))
	for _, line := range lines {
		qty := line.Quantity
		if qty <= 0 {
			qty = 1
		}
		docLines = append(docLines, pdf.InvoiceLine{
			Description: line.Description,
			Qty:         qty,
			UnitPrice:   format.FormatAmount(line.UnitAmount, invoice.Currency),
			Amount:      format.FormatAmount(line.Amount, invoice.Currency),
		})
	}

	const dateLayout = "2006-01-02"
	return pdf.InvoiceDocument{
		InvoiceNumber:    invoice.InvoiceNumber,
		IssueDate:        invoice.IssuedAt.Format(dateLayout),
		PaidDate:         invoice.IssuedAt.Format(dateLayout),
		Currency:         invoice.Currency,
		SellerName:       seller.SellerName,
		SellerAddress:    seller.SellerAddress,
		SellerTaxID:      seller.SellerTaxID,
		SellerEmail:      seller.SellerEmail,
		BuyerName:        user.BillingName(),
		BuyerAddress:     user.Address,
		BuyerTaxID:       user.TaxID,
		BuyerEmail:       user.Email,
		Lines:            docLines,
		Total:            format.FormatAmount(invoice.Amount, invoice.Currency),
		Paid:             format.FormatAmount(invoice.PaidAmount, invoice.Currency),
		GatewayReference: invoice.GatewayInvoiceID,
	}
}
