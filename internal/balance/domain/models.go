package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/copydesk/pkg/money"
	"gorm.io/gorm"
)

const (
	DirectionCredit = "credit"
	DirectionDebit  = "debit"
)

const (
	// SourceOrder debits the balance-funded share of an order.
	SourceOrder = "order"
	// SourcePayment credits a top-up, an order surplus or a late confirmation.
	SourcePayment = "payment"
)

var (
	ErrInsufficientBalance = errors.New("insufficient_balance")
	ErrInvalidAmount       = errors.New("invalid_amount")
	ErrInvalidSource       = errors.New("invalid_balance_source")
	ErrDuplicateMutation   = errors.New("duplicate_balance_mutation")
)

// Source identifies the business fact behind a balance mutation. At most one
// credit and one debit may exist per source.
type Source struct {
	Type string
	ID   string
}

// Entry is one row of the append-only balance audit trail.
type Entry struct {
	ID           snowflake.ID `json:"id" gorm:"primaryKey"`
	UserID       snowflake.ID `json:"user_id" gorm:"not null;index"`
	Direction    string       `json:"direction" gorm:"type:text;not null;uniqueIndex:ux_balance_entries_source"`
	Amount       int64        `json:"amount" gorm:"not null"`
	BalanceAfter int64        `json:"balance_after" gorm:"not null"`
	SourceType   string       `json:"source_type" gorm:"type:text;not null;uniqueIndex:ux_balance_entries_source"`
	SourceID     string       `json:"source_id" gorm:"type:text;not null;uniqueIndex:ux_balance_entries_source"`
	CreatedAt    time.Time    `json:"created_at" gorm:"not null"`
}

func (Entry) TableName() string { return "balance_entries" }

// Split is how an order total is divided between balance and gateway.
type Split struct {
	FromBalance money.Money
	ViaGateway  money.Money
}

// FullyFunded reports whether no gateway payment is needed.
func (s Split) FullyFunded() bool {
	return s.ViaGateway.Amount == 0
}

// DecidePaymentSplit covers as much of total as the balance allows. Both
// arguments are PLN; a negative balance is treated as empty.
func DecidePaymentSplit(total, balance money.Money) Split {
	available := balance.ClampZero().Amount
	fromBalance := total.ClampZero().Amount
	if available < fromBalance {
		fromBalance = available
	}
	return Split{
		FromBalance: money.New(fromBalance, money.PLN),
		ViaGateway:  money.New(total.ClampZero().Amount-fromBalance, money.PLN),
	}
}

type Service interface {
	Get(ctx context.Context, userID snowflake.ID) (money.Money, error)
	Credit(ctx context.Context, tx *gorm.DB, userID snowflake.ID, amount money.Money, source Source) (money.Money, error)
	Debit(ctx context.Context, tx *gorm.DB, userID snowflake.ID, amount money.Money, source Source) (money.Money, error)
	ListEntries(ctx context.Context, userID snowflake.ID, limit int) ([]Entry, error)
}
