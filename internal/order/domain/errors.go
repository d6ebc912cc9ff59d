package domain

import "errors"

var (
	ErrOrderNotFound     = errors.New("order_not_found")
	ErrItemNotFound      = errors.New("order_item_not_found")
	ErrInvalidTransition = errors.New("invalid_order_transition")
	ErrNotCancellable    = errors.New("order_not_cancellable")
	ErrItemCompleted     = errors.New("order_item_completed")
	ErrInvalidProgress   = errors.New("invalid_progress")
	ErrInvalidItems      = errors.New("invalid_order_items")
)
