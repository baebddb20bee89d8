package main

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps everything in process memory. It is used when no
// database is configured and by the tests.
type MemoryStore struct {
	mu     sync.RWMutex
	orders map[string]*Order
	logs   map[string][]OrderLog
	nextID int64
	now    func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders: make(map[string]*Order),
		logs:   make(map[string][]OrderLog),
		now:    time.Now,
	}
}

func copyOrder(o *Order) *Order {
	c := *o
	c.Screenshots = append([]string{}, o.Screenshots...)
	if o.CompletedAt != nil {
		t := *o.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

func (s *MemoryStore) CreateOrder(ctx context.Context, o *Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.orders[o.ID]; ok {
		return ErrDuplicateOrder
	}
	s.orders[o.ID] = copyOrder(o)
	return nil
}

func (s *MemoryStore) GetOrder(ctx context.Context, id string) (*Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, ErrOrderNotFound
	}
	return copyOrder(o), nil
}

func (s *MemoryStore) ListOrders(ctx context.Context, status OrderStatus, limit int) ([]*Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Order, 0, len(s.orders))
	for _, o := range s.orders {
		if status != "" && o.Status != status {
			continue
		}
		out = append(out, copyOrder(o))
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) Transition(ctx context.Context, id string, from []OrderStatus, update OrderUpdate) (*Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, ErrOrderNotFound
	}
	if !statusIn(o.Status, from) {
		return nil, ErrStatusConflict
	}

	update.apply(o, s.now())
	return copyOrder(o), nil
}

func (s *MemoryStore) CountByStatus(ctx context.Context) (map[OrderStatus]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[OrderStatus]int)
	for _, o := range s.orders {
		counts[o.Status]++
	}
	return counts, nil
}

func (s *MemoryStore) AppendLog(ctx context.Context, entry OrderLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.orders[entry.OrderID]; !ok {
		return ErrOrderNotFound
	}
	s.nextID++
	entry.ID = s.nextID
	s.logs[entry.OrderID] = append(s.logs[entry.OrderID], entry)
	return nil
}

func (s *MemoryStore) ListLogs(ctx context.Context, orderID string) ([]OrderLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.orders[orderID]; !ok {
		return nil, ErrOrderNotFound
	}
	return append([]OrderLog{}, s.logs[orderID]...), nil
}

func (s *MemoryStore) Close() {}
