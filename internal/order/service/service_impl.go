package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/copydesk/internal/clock"
	"github.com/smallbiznis/copydesk/internal/order/domain"
	pricingdomain "github.com/smallbiznis/copydesk/internal/pricing/domain"
	"github.com/smallbiznis/copydesk/pkg/db/pagination"
	"github.com/smallbiznis/copydesk/pkg/sequence"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// OrderNumberSequence is the counter that numbers orders.
const OrderNumberSequence = "order"

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Repo    domain.Repository
	Pricing pricingdomain.Service
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	repo    domain.Repository
	pricing pricingdomain.Service
}

func NewService(p Params) domain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("order.service"),
		genID:   p.GenID,
		clock:   p.Clock,
		repo:    p.Repo,
		pricing: p.Pricing,
	}
}

// Create persists a pending order. Totals come from the quote, which the
// caller computed from the same items on the server.
func (s *Service) Create(ctx context.Context, tx *gorm.DB, req domain.CreateRequest) (*domain.Order, error) {
	if req.UserID == 0 {
		return nil, domain.ErrInvalidItems
	}
	if len(req.Items) == 0 || len(req.Items) != len(req.Quote.Items) {
		return nil, domain.ErrInvalidItems
	}
	if tx == nil {
		tx = s.db
	}

	now := s.clock.Now()
	var created *domain.Order
	err := tx.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		number, err := sequence.Next(ctx, tx, OrderNumberSequence)
		if err != nil {
			return err
		}

		order := &domain.Order{
			ID:                 s.genID.Generate(),
			OrderNumber:        number,
			UserID:             req.UserID,
			Currency:           req.Quote.Currency,
			ExchangeRate:       req.Quote.ExchangeRate,
			TotalPrice:         req.Quote.Total.Amount,
			TotalPriceOriginal: req.Quote.TotalOriginal.Amount,
			TotalPricePLN:      req.Quote.TotalPLN.Amount,
			AppliedDiscount:    req.Quote.AppliedDiscount,
			DiscountCode:       req.Quote.DiscountCode,
			Status:             domain.OrderStatusPending,
			PaymentStatus:      domain.PaymentStatusPending,
			CreatedAt:          now,
			UpdatedAt:          now,
		}
		for i, in := range req.Items {
			quote := req.Quote.Items[i]
			title := strings.TrimSpace(in.Title)
			if title == "" {
				title = quote.ContentType
			}
			order.Items = append(order.Items, domain.Item{
				ID:          s.genID.Generate(),
				OrderID:     order.ID,
				Title:       title,
				ContentType: quote.ContentType,
				Length:      quote.Length,
				Price:       quote.Price.Amount,
				PricePLN:    quote.PricePLN.Amount,
				Status:      domain.ItemStatusPending,
				CreatedAt:   now,
				UpdatedAt:   now,
			})
		}

		if err := s.repo.Insert(ctx, tx, order); err != nil {
			return err
		}
		created = order
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("order created",
		zap.String("order_id", created.ID.String()),
		zap.Int64("order_number", created.OrderNumber),
		zap.String("currency", created.Currency),
		zap.Int64("total_price", created.TotalPrice),
	)
	return created, nil
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*domain.Order, error) {
	return s.repo.FindByID(ctx, s.db, id)
}

// GetForUser hides orders owned by someone else behind ErrOrderNotFound.
func (s *Service) GetForUser(ctx context.Context, userID, id snowflake.ID) (*domain.Order, error) {
	order, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if order.UserID != userID {
		return nil, domain.ErrOrderNotFound
	}
	return order, nil
}

func (s *Service) ListByUser(ctx context.Context, req domain.ListRequest) (domain.ListResponse, error) {
	beforeID, err := req.BeforeID()
	if err != nil {
		return domain.ListResponse{}, err
	}
	limit := req.Limit()
	orders, err := s.repo.ListByUser(ctx, s.db, req.UserID, beforeID, limit+1)
	if err != nil {
		return domain.ListResponse{}, err
	}
	page, info := pagination.Trim(orders, limit, func(o domain.Order) string { return o.ID.String() })
	if page == nil {
		page = []domain.Order{}
	}
	return domain.ListResponse{Orders: page, PageInfo: info}, nil
}

// MarkPaid reports whether this call performed the pending→paid transition.
func (s *Service) MarkPaid(ctx context.Context, tx *gorm.DB, id snowflake.ID, at time.Time) (bool, error) {
	if tx == nil {
		tx = s.db
	}
	return s.repo.MarkPaid(ctx, tx, id, at)
}

// StartItems moves every pending item to in_progress with a start time and
// a policy-derived completion estimate. Items past pending are untouched.
func (s *Service) StartItems(ctx context.Context, tx *gorm.DB, order *domain.Order, at time.Time) error {
	if order == nil {
		return domain.ErrOrderNotFound
	}
	if tx == nil {
		tx = s.db
	}
	for i := range order.Items {
		item := &order.Items[i]
		if item.Status != domain.ItemStatusPending {
			continue
		}
		turnaround, err := s.pricing.Turnaround(item.ContentType, item.Length)
		if err != nil {
			return err
		}
		start := domain.ItemStart{
			ItemID:                  item.ID,
			StartTime:               at,
			EstimatedCompletionTime: at.Add(turnaround),
		}
		started, err := s.repo.StartItem(ctx, tx, start)
		if err != nil {
			return err
		}
		if !started {
			continue
		}
		item.Status = domain.ItemStatusInProgress
		item.StartTime = &start.StartTime
		item.EstimatedCompletionTime = &start.EstimatedCompletionTime
	}
	return nil
}

func (s *Service) AttachCheckoutSession(ctx context.Context, id snowflake.ID, sessionID string) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return domain.ErrInvalidTransition
	}
	ok, err := s.repo.AttachCheckoutSession(ctx, s.db, id, sessionID, s.clock.Now())
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrInvalidTransition
	}
	return nil
}

// Cancel is only allowed while the order is still awaiting payment.
func (s *Service) Cancel(ctx context.Context, userID, id snowflake.ID) (*domain.Order, error) {
	order, err := s.GetForUser(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	ok, err := s.repo.Cancel(ctx, s.db, id, s.clock.Now())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domain.ErrNotCancellable
	}
	s.log.Info("order cancelled", zap.String("order_id", order.ID.String()))
	return s.repo.FindByID(ctx, s.db, id)
}

func (s *Service) UpdateItemProgress(ctx context.Context, orderID, itemID snowflake.ID, progress int) (*domain.Item, error) {
	if progress < 0 || progress > 100 {
		return nil, domain.ErrInvalidProgress
	}
	if progress == 100 {
		return s.CompleteItem(ctx, orderID, itemID)
	}

	item, err := s.findItem(ctx, orderID, itemID)
	if err != nil {
		return nil, err
	}
	switch item.Status {
	case domain.ItemStatusCompleted:
		return nil, domain.ErrItemCompleted
	case domain.ItemStatusPending:
		return nil, domain.ErrInvalidTransition
	}

	ok, err := s.repo.UpdateItemProgress(ctx, s.db, orderID, itemID, progress, s.clock.Now())
	if err != nil {
		return nil, err
	}
	if !ok {
		// Either a concurrent completion or a stale, lower progress value.
		current, err := s.findItem(ctx, orderID, itemID)
		if err != nil {
			return nil, err
		}
		if current.Status == domain.ItemStatusCompleted {
			return nil, domain.ErrItemCompleted
		}
		return current, nil
	}
	return s.findItem(ctx, orderID, itemID)
}

// CompleteItem marks the item completed and closes the order once every
// item is done. Completing an already completed item returns it unchanged.
func (s *Service) CompleteItem(ctx context.Context, orderID, itemID snowflake.ID) (*domain.Item, error) {
	item, err := s.findItem(ctx, orderID, itemID)
	if err != nil {
		return nil, err
	}
	if item.Status == domain.ItemStatusCompleted {
		return item, nil
	}
	if item.Status == domain.ItemStatusPending {
		return nil, domain.ErrInvalidTransition
	}

	now := s.clock.Now()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.repo.CompleteItem(ctx, tx, orderID, itemID, now); err != nil {
			return err
		}
		done, err := s.repo.CompleteIfAllItemsDone(ctx, tx, orderID, now)
		if err != nil {
			return err
		}
		if done {
			s.log.Info("order completed", zap.String("order_id", orderID.String()))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.findItem(ctx, orderID, itemID)
}

func (s *Service) findItem(ctx context.Context, orderID, itemID snowflake.ID) (*domain.Item, error) {
	order, err := s.repo.FindByID(ctx, s.db, orderID)
	if err != nil {
		return nil, err
	}
	for i := range order.Items {
		if order.Items[i].ID == itemID {
			return &order.Items[i], nil
		}
	}
	return nil, domain.ErrItemNotFound
}
