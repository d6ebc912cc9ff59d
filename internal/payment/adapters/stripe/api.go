package stripe

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	checkoutdomain "github.com/smallbiznis/copydesk/internal/checkout/domain"
	paymentdomain "github.com/smallbiznis/copydesk/internal/payment/domain"
)

const maxResponseBytes = 1 << 20

type apiError struct {
	Error struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type sessionResponse struct {
	ID        string `json:"id"`
	URL       string `json:"url"`
	ExpiresAt int64  `json:"expires_at"`
}

type invoiceResponse struct {
	ID               string `json:"id"`
	Number           string `json:"number"`
	HostedInvoiceURL string `json:"hosted_invoice_url"`
	InvoicePDF       string `json:"invoice_pdf"`
}

// CreateCheckoutSession opens a hosted payment-mode session. Metadata is
// copied onto the session and onto the invoice Stripe finalizes for it.
func (a *Adapter) CreateCheckoutSession(ctx context.Context, req checkoutdomain.SessionRequest) (*checkoutdomain.Session, error) {
	if a.secretKey == "" {
		return nil, paymentdomain.ErrInvalidConfig
	}
	if !req.Amount.IsPositive() {
		return nil, fmt.Errorf("checkout session amount must be positive")
	}

	form := sessionForm(req)
	var resp sessionResponse
	if err := a.do(ctx, http.MethodPost, "/v1/checkout/sessions", form, req.IdempotencyKey, &resp); err != nil {
		return nil, err
	}
	if resp.ID == "" {
		return nil, fmt.Errorf("stripe: session response without id")
	}

	session := &checkoutdomain.Session{ID: resp.ID, URL: resp.URL}
	if resp.ExpiresAt > 0 {
		session.ExpiresAt = time.Unix(resp.ExpiresAt, 0).UTC()
	}
	return session, nil
}

func (a *Adapter) FetchInvoice(ctx context.Context, invoiceID string) (*paymentdomain.GatewayInvoice, error) {
	if a.secretKey == "" {
		return nil, paymentdomain.ErrInvalidConfig
	}
	invoiceID = strings.TrimSpace(invoiceID)
	if invoiceID == "" {
		return nil, fmt.Errorf("stripe: empty invoice id")
	}

	var resp invoiceResponse
	if err := a.do(ctx, http.MethodGet, "/v1/invoices/"+url.PathEscape(invoiceID), nil, "", &resp); err != nil {
		return nil, err
	}
	return &paymentdomain.GatewayInvoice{
		ID:               resp.ID,
		Number:           resp.Number,
		HostedInvoiceURL: resp.HostedInvoiceURL,
		PDFURL:           resp.InvoicePDF,
	}, nil
}

func sessionForm(req checkoutdomain.SessionRequest) url.Values {
	form := url.Values{}
	form.Set("mode", "payment")
	form.Set("success_url", req.SuccessURL)
	form.Set("cancel_url", req.CancelURL)
	if req.CustomerEmail != "" {
		form.Set("customer_email", req.CustomerEmail)
	}
	currency := strings.ToLower(req.Amount.Currency)

	lines := req.Lines
	if len(lines) == 0 {
		lines = []checkoutdomain.SessionLine{{Name: req.Description, Quantity: 1, UnitAmount: req.Amount.Amount}}
	}
	for i, line := range lines {
		prefix := "line_items[" + strconv.Itoa(i) + "]"
		qty := line.Quantity
		if qty <= 0 {
			qty = 1
		}
		form.Set(prefix+"[quantity]", strconv.FormatInt(qty, 10))
		form.Set(prefix+"[price_data][currency]", currency)
		form.Set(prefix+"[price_data][unit_amount]", strconv.FormatInt(line.UnitAmount, 10))
		form.Set(prefix+"[price_data][product_data][name]", line.Name)
	}

	form.Set("invoice_creation[enabled]", "true")
	if req.Description != "" {
		form.Set("invoice_creation[invoice_data][description]", req.Description)
	}

	keys := make([]string, 0, len(req.Metadata))
	for k := range req.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		form.Set("metadata["+k+"]", req.Metadata[k])
		form.Set("invoice_creation[invoice_data][metadata]["+k+"]", req.Metadata[k])
	}
	return form
}

func (a *Adapter) do(ctx context.Context, method, path string, form url.Values, idempotencyKey string, out any) error {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, a.apiBase+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+a.secretKey)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("stripe %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("stripe %s %s: read body: %w", method, path, err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		var apiErr apiError
		_ = json.Unmarshal(raw, &apiErr)
		return fmt.Errorf("stripe %s %s: status %d: %s %s",
			method, path, resp.StatusCode, apiErr.Error.Type, apiErr.Error.Message)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("stripe %s %s: decode: %w", method, path, err)
	}
	return nil
}
