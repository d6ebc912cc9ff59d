package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	pricingdomain "github.com/smallbiznis/copydesk/internal/pricing/domain"
	"gorm.io/gorm"
)

// CreateRequest builds a pending order from a server-side quote.
type CreateRequest struct {
	UserID snowflake.ID
	Items  []pricingdomain.ItemInput
	Quote  pricingdomain.OrderQuote
}

type Service interface {
	Create(ctx context.Context, tx *gorm.DB, req CreateRequest) (*Order, error)
	Get(ctx context.Context, id snowflake.ID) (*Order, error)
	GetForUser(ctx context.Context, userID, id snowflake.ID) (*Order, error)
	ListByUser(ctx context.Context, req ListRequest) (ListResponse, error)
	MarkPaid(ctx context.Context, tx *gorm.DB, id snowflake.ID, at time.Time) (bool, error)
	StartItems(ctx context.Context, tx *gorm.DB, order *Order, at time.Time) error
	AttachCheckoutSession(ctx context.Context, id snowflake.ID, sessionID string) error
	Cancel(ctx context.Context, userID, id snowflake.ID) (*Order, error)
	UpdateItemProgress(ctx context.Context, orderID, itemID snowflake.ID, progress int) (*Item, error)
	CompleteItem(ctx context.Context, orderID, itemID snowflake.ID) (*Item, error)
}
