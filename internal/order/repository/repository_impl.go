package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/copydesk/internal/order/domain"
	"gorm.io/gorm"
)

const orderColumns = `id, order_number, user_id, currency, exchange_rate, total_price, total_price_original,
	total_price_pln, applied_discount, discount_code, status, payment_status, checkout_session_id,
	paid_at, cancelled_at, completed_at, created_at, updated_at`

const itemColumns = `id, order_id, title, content_type, length, price, price_pln, status, progress,
	start_time, estimated_completion_time, completed_at, created_at, updated_at`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, order *domain.Order) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(order).Error; err != nil {
			return err
		}
		if len(order.Items) == 0 {
			return nil
		}
		return tx.Create(&order.Items).Error
	})
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Order, error) {
	var item domain.Order
	err := db.WithContext(ctx).Raw(
		`SELECT `+orderColumns+`
		 FROM orders
		 WHERE id = ?
		 LIMIT 1`,
		id,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, domain.ErrOrderNotFound
	}

	items, err := r.itemsFor(ctx, db, []snowflake.ID{item.ID})
	if err != nil {
		return nil, err
	}
	item.Items = items[item.ID]
	return &item, nil
}

func (r *repo) ListByUser(ctx context.Context, db *gorm.DB, userID snowflake.ID, beforeID int64, limit int) ([]domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE user_id = ?`
	args := []any{userID}
	if beforeID > 0 {
		query += ` AND id < ?`
		args = append(args, beforeID)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	var orders []domain.Order
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&orders).Error; err != nil {
		return nil, err
	}
	if len(orders) == 0 {
		return orders, nil
	}

	ids := make([]snowflake.ID, 0, len(orders))
	for _, o := range orders {
		ids = append(ids, o.ID)
	}
	items, err := r.itemsFor(ctx, db, ids)
	if err != nil {
		return nil, err
	}
	for i := range orders {
		orders[i].Items = items[orders[i].ID]
	}
	return orders, nil
}

func (r *repo) itemsFor(ctx context.Context, db *gorm.DB, orderIDs []snowflake.ID) (map[snowflake.ID][]domain.Item, error) {
	var rows []domain.Item
	err := db.WithContext(ctx).Raw(
		`SELECT `+itemColumns+`
		 FROM order_items
		 WHERE order_id IN ?
		 ORDER BY id ASC`,
		orderIDs,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[snowflake.ID][]domain.Item, len(orderIDs))
	for _, row := range rows {
		out[row.OrderID] = append(out[row.OrderID], row)
	}
	return out, nil
}

// MarkPaid moves a pending order to paid+in_progress. It reports false when
// the order already left pending, which makes a repeated call a no-op.
func (r *repo) MarkPaid(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE orders
		 SET payment_status = ?, status = ?, paid_at = ?, updated_at = ?
		 WHERE id = ? AND payment_status = ? AND status = ?`,
		domain.PaymentStatusPaid, domain.OrderStatusInProgress, at, at,
		id, domain.PaymentStatusPending, domain.OrderStatusPending,
	)
	return res.RowsAffected > 0, res.Error
}

func (r *repo) StartItem(ctx context.Context, db *gorm.DB, start domain.ItemStart) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE order_items
		 SET status = ?, start_time = ?, estimated_completion_time = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		domain.ItemStatusInProgress, start.StartTime, start.EstimatedCompletionTime, start.StartTime,
		start.ItemID, domain.ItemStatusPending,
	)
	return res.RowsAffected > 0, res.Error
}

func (r *repo) AttachCheckoutSession(ctx context.Context, db *gorm.DB, id snowflake.ID, sessionID string, at time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE orders
		 SET checkout_session_id = ?, updated_at = ?
		 WHERE id = ? AND payment_status = ? AND status = ?`,
		sessionID, at, id, domain.PaymentStatusPending, domain.OrderStatusPending,
	)
	return res.RowsAffected > 0, res.Error
}

func (r *repo) Cancel(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE orders
		 SET status = ?, cancelled_at = ?, updated_at = ?
		 WHERE id = ? AND payment_status = ? AND status = ?`,
		domain.OrderStatusCancelled, at, at, id, domain.PaymentStatusPending, domain.OrderStatusPending,
	)
	return res.RowsAffected > 0, res.Error
}

// UpdateItemProgress only moves progress forward on an item still in progress.
func (r *repo) UpdateItemProgress(ctx context.Context, db *gorm.DB, orderID, itemID snowflake.ID, progress int, at time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE order_items
		 SET progress = ?, updated_at = ?
		 WHERE id = ? AND order_id = ? AND status = ? AND progress <= ?`,
		progress, at, itemID, orderID, domain.ItemStatusInProgress, progress,
	)
	return res.RowsAffected > 0, res.Error
}

func (r *repo) CompleteItem(ctx context.Context, db *gorm.DB, orderID, itemID snowflake.ID, at time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE order_items
		 SET status = ?, progress = 100, completed_at = ?, updated_at = ?
		 WHERE id = ? AND order_id = ? AND status = ?`,
		domain.ItemStatusCompleted, at, at, itemID, orderID, domain.ItemStatusInProgress,
	)
	return res.RowsAffected > 0, res.Error
}

func (r *repo) CompleteIfAllItemsDone(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE orders
		 SET status = ?, completed_at = ?, updated_at = ?
		 WHERE id = ? AND status = ?
		   AND NOT EXISTS (
			SELECT 1 FROM order_items WHERE order_id = ? AND status <> ?
		   )`,
		domain.OrderStatusCompleted, at, at, id, domain.OrderStatusInProgress,
		id, domain.ItemStatusCompleted,
	)
	return res.RowsAffected > 0, res.Error
}
