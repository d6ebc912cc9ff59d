package domain

import (
	"context"
	"errors"
	"time"

	"github.com/smallbiznis/copydesk/pkg/money"
)

// ErrGateway hides gateway failure detail from callers; the cause is logged.
var ErrGateway = errors.New("gateway_error")

type SessionLine struct {
	Name       string
	Quantity   int64
	UnitAmount int64
}

type SessionRequest struct {
	Amount         money.Money
	Description    string
	Lines          []SessionLine
	CustomerEmail  string
	Metadata       map[string]string
	SuccessURL     string
	CancelURL      string
	IdempotencyKey string
}

type Session struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Gateway opens hosted checkout sessions.
type Gateway interface {
	CreateCheckoutSession(ctx context.Context, req SessionRequest) (*Session, error)
}
