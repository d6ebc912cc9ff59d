package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/copydesk/internal/balance/domain"
	"github.com/smallbiznis/copydesk/internal/clock"
	obsmetrics "github.com/smallbiznis/copydesk/internal/observability/metrics"
	userdomain "github.com/smallbiznis/copydesk/internal/user/domain"
	"github.com/smallbiznis/copydesk/pkg/money"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const defaultEntryLimit = 50

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	UserRepo   userdomain.Repository
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	userRepo   userdomain.Repository
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("balance.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		userRepo:   p.UserRepo,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) Get(ctx context.Context, userID snowflake.ID) (money.Money, error) {
	user, err := s.userRepo.FindByID(ctx, s.db, userID)
	if err != nil {
		return money.Money{}, err
	}
	return money.New(user.Balance, money.PLN), nil
}

// Credit adds amount (PLN) to the user's balance and returns the new balance.
// With a caller tx the mutation is not counted here; the caller records it
// once its transaction commits.
func (s *Service) Credit(ctx context.Context, tx *gorm.DB, userID snowflake.ID, amount money.Money, source domain.Source) (money.Money, error) {
	return s.mutate(ctx, tx, userID, amount, source, domain.DirectionCredit)
}

// Debit removes amount (PLN) from the user's balance. It never drives the
// balance below zero: an uncovered debit fails with ErrInsufficientBalance.
func (s *Service) Debit(ctx context.Context, tx *gorm.DB, userID snowflake.ID, amount money.Money, source domain.Source) (money.Money, error) {
	return s.mutate(ctx, tx, userID, amount, source, domain.DirectionDebit)
}

func (s *Service) mutate(ctx context.Context, tx *gorm.DB, userID snowflake.ID, amount money.Money, source domain.Source, direction string) (money.Money, error) {
	if money.NormalizeCurrency(amount.Currency) != money.PLN || amount.IsNegative() {
		return money.Money{}, domain.ErrInvalidAmount
	}
	source.Type = strings.TrimSpace(source.Type)
	source.ID = strings.TrimSpace(source.ID)
	if source.Type == "" || source.ID == "" {
		return money.Money{}, domain.ErrInvalidSource
	}
	owned := tx == nil
	if owned {
		tx = s.db
	}
	if amount.IsZero() {
		user, err := s.userRepo.FindByID(ctx, tx, userID)
		if err != nil {
			return money.Money{}, err
		}
		return money.New(user.Balance, money.PLN), nil
	}

	var balance int64
	err := tx.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.clock.Now()
		entryID := s.genID.Generate()
		res := tx.Exec(
			`INSERT INTO balance_entries (id, user_id, direction, amount, balance_after, source_type, source_id, created_at)
			 VALUES (?, ?, ?, ?, 0, ?, ?, ?)
			 ON CONFLICT (source_type, source_id, direction) DO NOTHING`,
			entryID, userID, direction, amount.Amount, source.Type, source.ID, now,
		)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return domain.ErrDuplicateMutation
		}

		if err := applyDelta(tx, userID, amount.Amount, direction, now); err != nil {
			return err
		}

		if err := tx.Raw(`SELECT balance FROM users WHERE id = ?`, userID).Scan(&balance).Error; err != nil {
			return err
		}
		return tx.Exec(`UPDATE balance_entries SET balance_after = ? WHERE id = ?`, balance, entryID).Error
	})
	if err != nil {
		if !errors.Is(err, domain.ErrInsufficientBalance) && !errors.Is(err, domain.ErrDuplicateMutation) {
			s.log.Error("balance mutation failed",
				zap.String("direction", direction),
				zap.String("user_id", userID.String()),
				zap.Error(err),
			)
		}
		return money.Money{}, err
	}

	if owned {
		s.obsMetrics.RecordBalanceMutation(ctx, direction, source.Type)
	}
	s.log.Info("balance mutated",
		zap.String("direction", direction),
		zap.String("user_id", userID.String()),
		zap.Int64("amount", amount.Amount),
		zap.Int64("balance_after", balance),
		zap.String("source_type", source.Type),
		zap.String("source_id", source.ID),
	)
	return money.New(balance, money.PLN), nil
}

// applyDelta runs a single conditional UPDATE. The CASE clamp keeps the
// stored balance non-negative on every path.
func applyDelta(tx *gorm.DB, userID snowflake.ID, amount int64, direction string, now time.Time) error {
	var res *gorm.DB
	switch direction {
	case domain.DirectionCredit:
		res = tx.Exec(
			`UPDATE users
			 SET balance = CASE WHEN balance + ? < 0 THEN 0 ELSE balance + ? END,
			     updated_at = ?
			 WHERE id = ?`,
			amount, amount, now, userID,
		)
	default:
		res = tx.Exec(
			`UPDATE users
			 SET balance = CASE WHEN balance - ? < 0 THEN 0 ELSE balance - ? END,
			     updated_at = ?
			 WHERE id = ? AND balance >= ?`,
			amount, amount, now, userID, amount,
		)
	}
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}

	var count int64
	if err := tx.Raw(`SELECT COUNT(1) FROM users WHERE id = ?`, userID).Scan(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return userdomain.ErrUserNotFound
	}
	return domain.ErrInsufficientBalance
}

func (s *Service) ListEntries(ctx context.Context, userID snowflake.ID, limit int) ([]domain.Entry, error) {
	if limit <= 0 || limit > 200 {
		limit = defaultEntryLimit
	}
	var items []domain.Entry
	err := s.db.WithContext(ctx).Raw(
		`SELECT id, user_id, direction, amount, balance_after, source_type, source_id, created_at
		 FROM balance_entries
		 WHERE user_id = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`,
		userID, limit,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}
