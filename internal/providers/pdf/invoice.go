package pdf

import (
	"context"
	"errors"
	"fmt"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/line"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/props"
)

var ErrEmptyDocument = errors.New("empty_invoice_document")

// InvoiceDocument holds preformatted strings; amounts are already rendered
// in the invoice currency.
type InvoiceDocument struct {
	InvoiceNumber string
	IssueDate     string
	PaidDate      string
	Currency      string

	SellerName    string
	SellerAddress string
	SellerTaxID   string
	SellerEmail   string

	BuyerName    string
	BuyerAddress string
	BuyerTaxID   string
	BuyerEmail   string

	Lines []InvoiceLine

	Total            string
	Paid             string
	GatewayReference string
}

type InvoiceLine struct {
	Description string
	Qty         int
	UnitPrice   string
	Amount      string
}

type MarotoProvider struct{}

func New() Provider {
	return &MarotoProvider{}
}

func (p *MarotoProvider) RenderInvoice(ctx context.Context, doc InvoiceDocument) ([]byte, error) {
	if doc.InvoiceNumber == "" || len(doc.Lines) == 0 {
		return nil, ErrEmptyDocument
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cfg := config.NewBuilder().
		WithPageNumber(props.PageNumber{
			Pattern: "Page {current} of {total}",
			Place:   props.RightBottom,
		}).
		Build()

	m := maroto.New(cfg)

	m.AddRow(12,
		text.NewCol(8, "Invoice "+doc.InvoiceNumber, props.Text{
			Size:  18,
			Style: fontstyle.Bold,
			Align: align.Left,
		}),
		text.NewCol(4, "PAID", props.Text{
			Size:  16,
			Style: fontstyle.Bold,
			Align: align.Right,
		}),
	)

	m.AddRow(14,
		col.New(6).Add(
			text.New("Date of issue: "+doc.IssueDate, props.Text{Top: 0}),
			text.New("Date paid: "+doc.PaidDate, props.Text{Top: 5}),
		),
		col.New(6).Add(
			text.New("Currency: "+doc.Currency, props.Text{Top: 0, Align: align.Right}),
		),
	)

	m.AddRow(34,
		col.New(6).Add(
			text.New("Seller", props.Text{Style: fontstyle.Bold}),
			text.New(doc.SellerName, props.Text{Top: 5}),
			text.New(doc.SellerAddress, props.Text{Top: 10}),
			text.New(taxLine(doc.SellerTaxID), props.Text{Top: 15}),
			text.New(doc.SellerEmail, props.Text{Top: 20}),
		),
		col.New(6).Add(
			text.New("Buyer", props.Text{Style: fontstyle.Bold}),
			text.New(doc.BuyerName, props.Text{Top: 5}),
			text.New(doc.BuyerAddress, props.Text{Top: 10}),
			text.New(taxLine(doc.BuyerTaxID), props.Text{Top: 15}),
			text.New(doc.BuyerEmail, props.Text{Top: 20}),
		),
	)

	m.AddRow(8,
		text.NewCol(6, "Description", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(2, "Qty", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
		text.NewCol(2, "Unit price", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
		text.NewCol(2, "Amount", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
	)
	m.AddRow(2, line.NewCol(12))

	for _, item := range doc.Lines {
		m.AddRow(8,
			text.NewCol(6, item.Description, props.Text{Size: 9}),
			text.NewCol(2, fmt.Sprintf("%d", item.Qty), props.Text{Size: 9, Align: align.Right}),
			text.NewCol(2, item.UnitPrice, props.Text{Size: 9, Align: align.Right}),
			text.NewCol(2, item.Amount, props.Text{Size: 9, Align: align.Right}),
		)
	}

	m.AddRow(2, line.NewCol(12))
	m.AddRow(8,
		col.New(8),
		text.NewCol(2, "Total", props.Text{Size: 9}),
		text.NewCol(2, doc.Total, props.Text{Size: 9, Align: align.Right}),
	)
	m.AddRow(8,
		col.New(8),
		text.NewCol(2, "Paid", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(2, doc.Paid, props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
	)
	if doc.GatewayReference != "" {
		m.AddRow(8,
			text.NewCol(12, "Payment reference: "+doc.GatewayReference, props.Text{Size: 8, Top: 2}),
		)
	}

	out, err := m.Generate()
	if err != nil {
		return nil, err
	}
	return out.GetBytes(), nil
}

func taxLine(taxID string) string {
	if taxID == "" {
		return ""
	}
	return "Tax ID: " + taxID
}
