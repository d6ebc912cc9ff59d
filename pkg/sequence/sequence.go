// Package sequence implements named, gap-free counters on top of a single
// `sequences` table.
//
// Next performs one atomic upsert-and-increment statement, so two concurrent
// callers can never observe the same value. When it runs inside a transaction
// that later rolls back, the increment rolls back with it.
package sequence

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"
)

var ErrInvalidName = errors.New("invalid_sequence_name")

// Sequence is the persistence model for a named counter.
type Sequence struct {
	Name  string `gorm:"primaryKey;type:text"`
	Value int64  `gorm:"not null;default:0"`
}

func (Sequence) TableName() string { return "sequences" }

// Next increments the named counter and returns the new value. The first call
// for a name returns 1.
func Next(ctx context.Context, tx *gorm.DB, name string) (int64, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return 0, ErrInvalidName
	}

	var value int64
	err := tx.WithContext(ctx).Raw(
		`INSERT INTO sequences (name, value)
		 VALUES (?, 1)
		 ON CONFLICT (name) DO UPDATE SET value = sequences.value + 1
		 RETURNING value`,
		name,
	).Scan(&value).Error
	if err != nil {
		return 0, err
	}
	if value == 0 {
		return 0, errors.New("sequence_not_advanced")
	}
	return value, nil
}
