package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

var ErrUserNotFound = errors.New("user_not_found")

// User is a customer account. Balance is held in PLN minor units and is
// mutated only through the balance service.
type User struct {
	ID          snowflake.ID `json:"id" gorm:"primaryKey"`
	Email       string       `json:"email" gorm:"type:text;not null;uniqueIndex"`
	Name        string       `json:"name" gorm:"type:text"`
	CompanyName string       `json:"company_name" gorm:"type:text"`
	TaxID       string       `json:"tax_id" gorm:"type:text"`
	Address     string       `json:"address" gorm:"type:text"`
	Balance     int64        `json:"balance" gorm:"not null;default:0;check:chk_users_balance,balance >= 0"`
	CreatedAt   time.Time    `json:"created_at" gorm:"not null"`
	UpdatedAt   time.Time    `json:"updated_at" gorm:"not null"`
}

func (User) TableName() string { return "users" }

// BillingName is the name printed on invoices.
func (u User) BillingName() string {
	if u.CompanyName != "" {
		return u.CompanyName
	}
	if u.Name != "" {
		return u.Name
	}
	return u.Email
}

type Repository interface {
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*User, error)
	Insert(ctx context.Context, db *gorm.DB, user *User) error
}
