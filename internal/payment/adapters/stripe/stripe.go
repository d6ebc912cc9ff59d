package stripe

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	paymentdomain "github.com/smallbiznis/copydesk/internal/payment/domain"
)

const (
	providerName     = "stripe"
	defaultAPIBase   = "https://api.stripe.com"
	defaultTolerance = 5 * time.Minute
	defaultTimeout   = 10 * time.Second
)

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return providerName
}

// NewAdapter accepts an empty configuration: missing keys surface on use,
// as ErrInvalidSignature for webhooks and ErrInvalidConfig for API calls.
func (f *Factory) NewAdapter(cfg paymentdomain.AdapterConfig) (paymentdomain.PaymentAdapter, error) {
	apiBase := strings.TrimRight(strings.TrimSpace(cfg.APIBase), "/")
	if apiBase == "" {
		apiBase = defaultAPIBase
	}
	tolerance := cfg.WebhookTolerance
	if tolerance <= 0 {
		tolerance = defaultTolerance
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Adapter{
		secretKey:     strings.TrimSpace(cfg.SecretKey),
		webhookSecret: strings.TrimSpace(cfg.WebhookSecret),
		tolerance:     tolerance,
		apiBase:       apiBase,
		httpClient:    &http.Client{Timeout: timeout},
		now:           time.Now,
	}, nil
}

type Adapter struct {
	secretKey     string
	webhookSecret string
	tolerance     time.Duration
	apiBase       string
	httpClient    *http.Client
	now           func() time.Time
}

// Verify checks the Stripe-Signature header: an HMAC-SHA256 of
// "<t>.<payload>" with the endpoint secret, with t inside the tolerance
// window.
func (a *Adapter) Verify(ctx context.Context, payload []byte, headers http.Header) error {
	if a.webhookSecret == "" {
		return paymentdomain.ErrInvalidSignature
	}
	sigHeader := strings.TrimSpace(headers.Get("Stripe-Signature"))
	if sigHeader == "" {
		return paymentdomain.ErrInvalidSignature
	}

	ts, signatures, err := parseStripeSignature(sigHeader)
	if err != nil {
		return paymentdomain.ErrInvalidSignature
	}
	sentAt, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return paymentdomain.ErrInvalidSignature
	}
	if age := a.now().Sub(time.Unix(sentAt, 0)); age.Abs() > a.tolerance {
		return paymentdomain.ErrInvalidSignature
	}

	mac := hmac.New(sha256.New, []byte(a.webhookSecret))
	mac.Write([]byte(ts + "."))
	mac.Write(payload)
	expected := mac.Sum(nil)

	for _, signature := range signatures {
		got, err := hex.DecodeString(signature)
		if err == nil && hmac.Equal(got, expected) {
			return nil
		}
	}

	return paymentdomain.ErrInvalidSignature
}

func (a *Adapter) Parse(ctx context.Context, payload []byte) (*paymentdomain.CheckoutEvent, error) {
	var event stripeEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	if strings.TrimSpace(event.ID) == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}

	switch strings.TrimSpace(event.Type) {
	case "checkout.session.completed", "checkout.session.async_payment_succeeded":
		return a.parseSession(event, payload, paymentdomain.EventCheckoutCompleted)
	case "checkout.session.expired":
		return a.parseSession(event, payload, paymentdomain.EventCheckoutExpired)
	default:
		return nil, paymentdomain.ErrEventIgnored
	}
}

type stripeEvent struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Created int64           `json:"created"`
	Data    stripeEventData `json:"data"`
}

type stripeEventData struct {
	Object json.RawMessage `json:"object"`
}

type stripeSession struct {
	ID            string            `json:"id"`
	PaymentStatus string            `json:"payment_status"`
	Currency      string            `json:"currency"`
	AmountTotal   int64             `json:"amount_total"`
	Invoice       json.RawMessage   `json:"invoice"`
	Metadata      map[string]string `json:"metadata"`
	Created       int64             `json:"created"`
}

func (a *Adapter) parseSession(event stripeEvent, payload []byte, eventType string) (*paymentdomain.CheckoutEvent, error) {
	var session stripeSession
	if err := json.Unmarshal(event.Data.Object, &session); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	if strings.TrimSpace(session.ID) == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}
	// Delayed payment methods complete the session before the money moves;
	// those settle on async_payment_succeeded.
	if eventType == paymentdomain.EventCheckoutCompleted && session.PaymentStatus != "paid" {
		return nil, paymentdomain.ErrEventIgnored
	}

	return &paymentdomain.CheckoutEvent{
		Provider:         providerName,
		EventID:          event.ID,
		Type:             eventType,
		SessionID:        session.ID,
		Currency:         strings.ToUpper(strings.TrimSpace(session.Currency)),
		AmountTotal:      session.AmountTotal,
		GatewayInvoiceID: invoiceID(session.Invoice),
		Metadata:         session.Metadata,
		OccurredAt:       timestamp(event.Created, session.Created),
		RawPayload:       payload,
	}, nil
}

// invoiceID accepts both the collapsed ("in_123") and expanded invoice forms.
func invoiceID(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var id string
	if err := json.Unmarshal(raw, &id); err == nil {
		return strings.TrimSpace(id)
	}
	var expanded struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &expanded); err == nil {
		return strings.TrimSpace(expanded.ID)
	}
	return ""
}

// parseStripeSignature splits "t=...,v1=...,v1=..." into the timestamp and
// every v1 signature. Other schemes (v0) are skipped.
func parseStripeSignature(header string) (string, []string, error) {
	var ts string
	var sigs []string
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch key {
		case "t":
			ts = value
		case "v1":
			sigs = append(sigs, value)
		}
	}
	if ts == "" || len(sigs) == 0 {
		return "", nil, errors.New("stripe: malformed signature header")
	}
	return ts, sigs, nil
}

func timestamp(primary int64, fallback int64) time.Time {
	value := primary
	if value == 0 {
		value = fallback
	}
	if value == 0 {
		return time.Now().UTC()
	}
	return time.Unix(value, 0).UTC()
}
