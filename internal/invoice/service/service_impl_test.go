package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/copydesk/internal/clock"
	"github.com/smallbiznis/copydesk/internal/config"
	"github.com/smallbiznis/copydesk/internal/invoice/domain"
	"github.com/smallbiznis/copydesk/internal/invoice/repository"
	"github.com/smallbiznis/copydesk/internal/providers/pdf"
	userdomain "github.com/smallbiznis/copydesk/internal/user/domain"
	userrepository "github.com/smallbiznis/copydesk/internal/user/repository"
	"github.com/smallbiznis/copydesk/pkg/db/dbtest"
	"github.com/smallbiznis/copydesk/pkg/db/pagination"
	"github.com/smallbiznis/copydesk/pkg/sequence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type capturePDF struct {
	doc pdf.InvoiceDocument
}

func (c *capturePDF) RenderInvoice(_ context.Context, doc pdf.InvoiceDocument) ([]byte, error) {
	c.doc = doc
	return []byte("%PDF-1.4"), nil
}

type fixture struct {
	db    *gorm.DB
	svc   domain.Service
	pdf   *capturePDF
	clock *clock.Fake
	node  *snowflake.Node
}

func setup(t *testing.T) fixture {
	t.Helper()
	db := dbtest.Open(t, &domain.Invoice{}, &userdomain.User{}, &sequence.Sequence{})
	node, err := snowflake.NewNode(3)
	require.NoError(t, err)
	clk := clock.NewFake(time.Date(2026, 12, 31, 23, 0, 0, 0, time.UTC))
	renderer := &capturePDF{}

	cfg := config.Config{Invoice: config.InvoiceConfig{
		SellerName:  "Copydesk sp. z o.o.",
		SellerTaxID: "PL5250000000",
	}}
	svc := NewService(Params{
		DB:       db,
		Log:      zap.NewNop(),
		Cfg:      cfg,
		GenID:    node,
		Clock:    clk,
		Repo:     repository.Provide(),
		UserRepo: userrepository.Provide(),
		PDF:      renderer,
	})
	return fixture{db: db, svc: svc, pdf: renderer, clock: clk, node: node}
}

func (f fixture) issue(t *testing.T, userID snowflake.ID) *domain.Invoice {
	t.Helper()
	inv, err := f.svc.CreateInvoice(context.Background(), nil, domain.CreateRequest{
		UserID:     userID,
		PaymentID:  f.node.Generate(),
		Currency:   "usd",
		Amount:     7500,
		PaidAmount: 8000,
		LineItems: []domain.LineItem{
			{Description: "article (2000 chars)", Quantity: 1, UnitAmount: 7500, Amount: 7500},
		},
		PDFURL: "https://pay.example/invoice.pdf",
	})
	require.NoError(t, err)
	return inv
}

func TestInvoiceNumbersIncreaseWithinYear(t *testing.T) {
	f := setup(t)
	userID := f.node.Generate()

	first := f.issue(t, userID)
	second := f.issue(t, userID)
	assert.Equal(t, "FV/2026/000001", first.InvoiceNumber)
	assert.Equal(t, "FV/2026/000002", second.InvoiceNumber)
	assert.Equal(t, domain.InvoiceStatusPaid, second.Status)
	assert.Equal(t, "USD", second.Currency)

	f.clock.Advance(2 * time.Hour)
	next := f.issue(t, userID)
	assert.Equal(t, "FV/2027/000001", next.InvoiceNumber)
	assert.Equal(t, 2027, next.Year)
}

func TestCreateInvoiceOncePerPayment(t *testing.T) {
	f := setup(t)
	req := domain.CreateRequest{
		UserID:     f.node.Generate(),
		PaymentID:  f.node.Generate(),
		Currency:   "PLN",
		Amount:     20000,
		PaidAmount: 20000,
	}

	_, err := f.svc.CreateInvoice(context.Background(), nil, req)
	require.NoError(t, err)
	_, err = f.svc.CreateInvoice(context.Background(), nil, req)
	assert.ErrorIs(t, err, domain.ErrInvoiceExists)

	var counter sequence.Sequence
	require.NoError(t, f.db.First(&counter, "name = ?", "invoice:2026").Error)
	assert.Equal(t, int64(1), counter.Value)
}

func TestRolledBackInvoiceReleasesNumber(t *testing.T) {
	f := setup(t)
	userID := f.node.Generate()
	boom := errors.New("boom")

	err := f.db.Transaction(func(tx *gorm.DB) error {
		_, err := f.svc.CreateInvoice(context.Background(), tx, domain.CreateRequest{
			UserID: userID, PaymentID: f.node.Generate(), Currency: "PLN", Amount: 100, PaidAmount: 100,
		})
		require.NoError(t, err)
		return boom
	})
	require.ErrorIs(t, err, boom)

	inv := f.issue(t, userID)
	assert.Equal(t, "FV/2026/000001", inv.InvoiceNumber)
}

func TestCreateInvoiceValidation(t *testing.T) {
	f := setup(t)
	_, err := f.svc.CreateInvoice(context.Background(), nil, domain.CreateRequest{PaymentID: f.node.Generate(), Currency: "PLN"})
	assert.ErrorIs(t, err, domain.ErrInvalidInvoice)

	_, err = f.svc.CreateInvoice(context.Background(), nil, domain.CreateRequest{
		UserID: f.node.Generate(), PaymentID: f.node.Generate(), Currency: "EUR", Amount: 1,
	})
	assert.ErrorIs(t, err, domain.ErrInvalidInvoice)
}

func TestGetAndListAreScopedToUser(t *testing.T) {
	f := setup(t)
	owner := f.node.Generate()
	other := f.node.Generate()

	var issued []*domain.Invoice
	for i := 0; i < 3; i++ {
		issued = append(issued, f.issue(t, owner))
	}
	f.issue(t, other)

	got, err := f.svc.Get(context.Background(), owner, issued[0].ID)
	require.NoError(t, err)
	assert.Equal(t, issued[0].InvoiceNumber, got.InvoiceNumber)
	require.Len(t, got.LineItems.Data(), 1)
	assert.Equal(t, int64(7500), got.LineItems.Data()[0].Amount)

	_, err = f.svc.Get(context.Background(), other, issued[0].ID)
	assert.ErrorIs(t, err, domain.ErrInvoiceNotFound)

	page, err := f.svc.List(context.Background(), domain.ListRequest{UserID: owner, Pagination: pagination.Pagination{PageSize: 2}})
	require.NoError(t, err)
	require.Len(t, page.Invoices, 2)
	assert.True(t, page.PageInfo.HasMore)
	assert.Equal(t, issued[2].ID, page.Invoices[0].ID)

	rest, err := f.svc.List(context.Background(), domain.ListRequest{
		UserID:     owner,
		Pagination: pagination.Pagination{PageSize: 2, PageToken: page.PageInfo.NextPageToken},
	})
	require.NoError(t, err)
	require.Len(t, rest.Invoices, 1)
	assert.False(t, rest.PageInfo.HasMore)
	assert.Equal(t, issued[0].ID, rest.Invoices[0].ID)
}

func TestRenderPDFUsesBillingData(t *testing.T) {
	f := setup(t)
	user := &userdomain.User{
		ID:          f.node.Generate(),
		Email:       "anna@example.com",
		Name:        "Anna",
		CompanyName: "Anna Media",
		TaxID:       "PL1234567890",
		Address:     "ul. Prosta 1, Warszawa",
		CreatedAt:   f.clock.Now(),
		UpdatedAt:   f.clock.Now(),
	}
	require.NoError(t, userrepository.Provide().Insert(context.Background(), f.db, user))
	inv := f.issue(t, user.ID)

	doc, err := f.svc.RenderPDF(context.Background(), user.ID, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, "fv-2026-000001.pdf", doc.FileName)
	assert.NotEmpty(t, doc.Content)

	assert.Equal(t, "Anna Media", f.pdf.doc.BuyerName)
	assert.Equal(t, "PL1234567890", f.pdf.doc.BuyerTaxID)
	assert.Equal(t, "Copydesk sp. z o.o.", f.pdf.doc.SellerName)
	assert.Equal(t, "75.00 USD", f.pdf.doc.Total)
	assert.Equal(t, "80.00 USD", f.pdf.doc.Paid)
	require.Len(t, f.pdf.doc.Lines, 1)

	_, err = f.svc.RenderPDF(context.Background(), f.node.Generate(), inv.ID)
	assert.ErrorIs(t, err, domain.ErrInvoiceNotFound)
}
