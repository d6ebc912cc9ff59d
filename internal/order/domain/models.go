package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/copydesk/pkg/db/pagination"
	"github.com/smallbiznis/copydesk/pkg/money"
	"gorm.io/gorm"
)

type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusInProgress OrderStatus = "in_progress"
	OrderStatusCompleted  OrderStatus = "completed"
	OrderStatusCancelled  OrderStatus = "cancelled"
)

type PaymentStatus string

const (
	PaymentStatusPending PaymentStatus = "pending"
	PaymentStatusPaid    PaymentStatus = "paid"
	PaymentStatusFailed  PaymentStatus = "failed"
)

type ItemStatus string

const (
	ItemStatusPending    ItemStatus = "pending"
	ItemStatusInProgress ItemStatus = "in_progress"
	ItemStatusCompleted  ItemStatus = "completed"
)

// Order amounts are minor units: TotalPrice and TotalPriceOriginal in
// Currency, TotalPricePLN in PLN.
type Order struct {
	ID                 snowflake.ID    `json:"id" gorm:"primaryKey"`
	OrderNumber        int64           `json:"order_number" gorm:"not null;uniqueIndex"`
	UserID             snowflake.ID    `json:"user_id" gorm:"not null;index"`
	Currency           string          `json:"currency" gorm:"type:text;not null"`
	ExchangeRate       decimal.Decimal `json:"exchange_rate" gorm:"type:numeric(18,6);not null"`
	TotalPrice         int64           `json:"total_price" gorm:"not null"`
	TotalPriceOriginal int64           `json:"total_price_original" gorm:"not null"`
	TotalPricePLN      int64           `json:"total_price_pln" gorm:"column:total_price_pln;not null"`
	AppliedDiscount    decimal.Decimal `json:"applied_discount" gorm:"type:numeric(5,2);not null"`
	DiscountCode       string          `json:"discount_code,omitempty" gorm:"type:text"`
	Status             OrderStatus     `json:"status" gorm:"type:text;not null"`
	PaymentStatus      PaymentStatus   `json:"payment_status" gorm:"type:text;not null"`
	CheckoutSessionID  *string         `json:"checkout_session_id,omitempty" gorm:"type:text"`
	PaidAt             *time.Time      `json:"paid_at,omitempty"`
	CancelledAt        *time.Time      `json:"cancelled_at,omitempty"`
	CompletedAt        *time.Time      `json:"completed_at,omitempty"`
	CreatedAt          time.Time       `json:"created_at" gorm:"not null"`
	UpdatedAt          time.Time       `json:"updated_at" gorm:"not null"`

	Items []Item `json:"items" gorm:"-"`
}

func (Order) TableName() string { return "orders" }

func (o Order) Total() money.Money    { return money.New(o.TotalPrice, o.Currency) }
func (o Order) TotalPLN() money.Money { return money.New(o.TotalPricePLN, money.PLN) }

type Item struct {
	ID                      snowflake.ID `json:"id" gorm:"primaryKey"`
	OrderID                 snowflake.ID `json:"order_id" gorm:"not null;index"`
	Title                   string       `json:"title" gorm:"type:text;not null"`
	ContentType             string       `json:"content_type" gorm:"type:text;not null"`
	Length                  int          `json:"length" gorm:"not null"`
	Price                   int64        `json:"price" gorm:"not null"`
	PricePLN                int64        `json:"price_pln" gorm:"column:price_pln;not null"`
	Status                  ItemStatus   `json:"status" gorm:"type:text;not null"`
	Progress                int          `json:"progress" gorm:"not null;default:0"`
	StartTime               *time.Time   `json:"start_time,omitempty"`
	EstimatedCompletionTime *time.Time   `json:"estimated_completion_time,omitempty"`
	CompletedAt             *time.Time   `json:"completed_at,omitempty"`
	CreatedAt               time.Time    `json:"created_at" gorm:"not null"`
	UpdatedAt               time.Time    `json:"updated_at" gorm:"not null"`
}

func (Item) TableName() string { return "order_items" }

// ItemStart carries the policy timestamps for one item leaving pending.
type ItemStart struct {
	ItemID                  snowflake.ID
	StartTime               time.Time
	EstimatedCompletionTime time.Time
}

type ListRequest struct {
	UserID snowflake.ID
	pagination.Pagination
}

type ListResponse struct {
	Orders   []Order             `json:"orders"`
	PageInfo pagination.PageInfo `json:"page_info"`
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, order *Order) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Order, error)
	ListByUser(ctx context.Context, db *gorm.DB, userID snowflake.ID, beforeID int64, limit int) ([]Order, error)
	MarkPaid(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) (bool, error)
	StartItem(ctx context.Context, db *gorm.DB, start ItemStart) (bool, error)
	AttachCheckoutSession(ctx context.Context, db *gorm.DB, id snowflake.ID, sessionID string, at time.Time) (bool, error)
	Cancel(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) (bool, error)
	UpdateItemProgress(ctx context.Context, db *gorm.DB, orderID, itemID snowflake.ID, progress int, at time.Time) (bool, error)
	CompleteItem(ctx context.Context, db *gorm.DB, orderID, itemID snowflake.ID, at time.Time) (bool, error)
	CompleteIfAllItemsDone(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) (bool, error)
}
