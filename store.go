package main

import "context"

// Store persists orders and their automation logs. Transition is the only
// way to change status: it applies update only while the order is in one of
// from, and returns ErrStatusConflict otherwise.
type Store interface {
	CreateOrder(ctx context.Context, o *Order) error
	GetOrder(ctx context.Context, id string) (*Order, error)
	// ListOrders returns newest first. An empty status lists every order.
	ListOrders(ctx context.Context, status OrderStatus, limit int) ([]*Order, error)
	Transition(ctx context.Context, id string, from []OrderStatus, update OrderUpdate) (*Order, error)
	CountByStatus(ctx context.Context) (map[OrderStatus]int, error)
	AppendLog(ctx context.Context, entry OrderLog) error
	ListLogs(ctx context.Context, orderID string) ([]OrderLog, error)
	Close()
}

func statusIn(s OrderStatus, set []OrderStatus) bool {
	for _, v := range set {
		if s == v {
			return true
		}
	}
	return false
}
