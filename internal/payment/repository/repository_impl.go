package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/copydesk/internal/payment/domain"
	"gorm.io/gorm"
)

const paymentColumns = `id, user_id, type, status, currency, amount, paid_amount, amount_pln,
	paid_amount_pln, surplus_pln, gateway_session_id, gateway_invoice_id, related_order_id,
	invoice_id, correlation_id, metadata, created_at`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindBySessionID(ctx context.Context, db *gorm.DB, sessionID string) (*domain.Payment, error) {
	var item domain.Payment
	err := db.WithContext(ctx).Raw(
		`SELECT `+paymentColumns+`
		 FROM payments
		 WHERE gateway_session_id = ?
		 LIMIT 1`,
		sessionID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, domain.ErrPaymentNotFound
	}
	return &item, nil
}

func (r *repo) InsertIfAbsent(ctx context.Context, db *gorm.DB, p *domain.Payment) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`INSERT INTO payments (
			id, user_id, type, status, currency, amount, paid_amount, amount_pln,
			paid_amount_pln, surplus_pln, gateway_session_id, gateway_invoice_id,
			related_order_id, invoice_id, correlation_id, metadata, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (gateway_session_id) DO NOTHING`,
		p.ID,
		p.UserID,
		p.Type,
		p.Status,
		p.Currency,
		p.Amount,
		p.PaidAmount,
		p.AmountPLN,
		p.PaidAmountPLN,
		p.SurplusPLN,
		p.GatewaySessionID,
		p.GatewayInvoiceID,
		p.RelatedOrderID,
		p.InvoiceID,
		p.CorrelationID,
		p.Metadata,
		p.CreatedAt,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) AttachInvoice(ctx context.Context, db *gorm.DB, id, invoiceID snowflake.ID) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE payments
		 SET invoice_id = ?
		 WHERE id = ? AND invoice_id IS NULL`,
		invoiceID,
		id,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
