package pdf

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderInvoiceProducesPDF(t *testing.T) {
	out, err := New().RenderInvoice(context.Background(), InvoiceDocument{
		InvoiceNumber: "FV/2026/000001",
		IssueDate:     "2026-03-02",
		PaidDate:      "2026-03-02",
		Currency:      "PLN",
		SellerName:    "Copydesk",
		BuyerName:     "Jan Kowalski",
		Lines: []InvoiceLine{
			{Description: "Article (2000 chars)", Qty: 1, UnitPrice: "38.00", Amount: "38.00"},
		},
		Total: "38.00 PLN",
		Paid:  "38.00 PLN",
	})
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(out, []byte("%PDF")))
}

func TestRenderInvoiceRejectsEmptyDocument(t *testing.T) {
	_, err := New().RenderInvoice(context.Background(), InvoiceDocument{InvoiceNumber: "FV/2026/000001"})
	assert.ErrorIs(t, err, ErrEmptyDocument)
}

func TestFileName(t *testing.T) {
	assert.Equal(t, "fv-2026-000001.pdf", FileName("FV/2026/000001"))
	assert.Equal(t, "invoice.pdf", FileName("  "))
}
