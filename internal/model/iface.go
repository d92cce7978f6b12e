package model

import "context"

// OrderLister fetches one page of orders eligible for file cleanup.
type OrderLister interface {
	ListOrdersForDeletion(ctx context.Context, q ListQuery) (OrderPage, error)
}

// FileDeleter irreversibly removes the stored files of one order.
type FileDeleter interface {
	DeleteOrderFiles(ctx context.Context, orderID string) error
}

// OrderAPI is the full backend contract consumed by the console.
type OrderAPI interface {
	OrderLister
	FileDeleter
}
