package seed

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	userdomain "github.com/smallbiznis/copydesk/internal/user/domain"
	"gorm.io/gorm"
)

const defaultUserName = "Local Customer"

// EnsureUser creates a customer account with the given email unless one
// exists. Used for local development, where there is no signup flow.
func EnsureUser(db *gorm.DB, email string) (*userdomain.User, error) {
	if db == nil {
		return nil, errors.New("seed database handle is required")
	}
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, errors.New("seed user email is required")
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return nil, err
	}

	ctx := context.Background()
	var user userdomain.User
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Raw(
			`SELECT id, email, name, company_name, tax_id, address, balance, created_at, updated_at
			 FROM users WHERE email = ? LIMIT 1`,
			email,
		).Scan(&user).Error; err != nil {
			return err
		}
		if user.ID != 0 {
			return nil
		}

		now := time.Now().UTC()
		user = userdomain.User{
			ID:        node.Generate(),
			Email:     email,
			Name:      defaultUserName,
			CreatedAt: now,
			UpdatedAt: now,
		}
		return tx.Exec(
			`INSERT INTO users (id, email, name, balance, created_at, updated_at)
			 VALUES (?, ?, ?, 0, ?, ?)
			 ON CONFLICT (email) DO NOTHING`,
			user.ID, user.Email, user.Name, user.CreatedAt, user.UpdatedAt,
		).Error
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}
