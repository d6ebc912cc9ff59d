package pdf

import (
	"context"
	"strings"

	"github.com/gosimple/slug"
	"go.uber.org/fx"
)

var Module = fx.Module("providers.pdf",
	fx.Provide(New),
)

// Provider renders invoice documents.
type Provider interface {
	RenderInvoice(ctx context.Context, doc InvoiceDocument) ([]byte, error)
}

// FileName turns an invoice number such as FV/2026/000001 into a
// download-safe name.
func FileName(invoiceNumber string) string {
	name := slug.Make(strings.TrimSpace(invoiceNumber))
	if name == "" {
		name = "invoice"
	}
	return name + ".pdf"
}
