package db

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// Driver messages for unique violations that gorm's TranslateError misses.
var uniqueViolationMarkers = []string{
	// postgres via lib/pq
	"duplicate key value violates unique constraint",
	// mysql
	"Error 1062",
	// sqlite
	"UNIQUE constraint failed",
}

// IsUniqueViolation reports whether err is an insert colliding with a unique
// index, whichever driver produced it.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	msg := err.Error()
	for _, marker := range uniqueViolationMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
