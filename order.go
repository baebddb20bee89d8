package main

import "time"

type OrderStatus string

const (
	StatusQueued        OrderStatus = "queued"
	StatusProcessing    OrderStatus = "processing"
	StatusCompleted     OrderStatus = "completed"
	StatusFailed        OrderStatus = "failed"
	StatusManualPending OrderStatus = "manual_pending"
)

func (s OrderStatus) Valid() bool {
	switch s {
	case StatusQueued, StatusProcessing, StatusCompleted, StatusFailed, StatusManualPending:
		return true
	}
	return false
}

// Terminal reports whether a run has finished with this status.
func (s OrderStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusManualPending
}

// Retryable reports whether an operator may send the order back to the queue.
func (s OrderStatus) Retryable() bool {
	return s == StatusFailed || s == StatusManualPending
}

type Order struct {
	ID          string      `json:"order_id"`
	PlayerID    string      `json:"player_uid"`
	Amount      int         `json:"diamond_amount"`
	Status      OrderStatus `json:"status"`
	Message     string      `json:"message"`
	Screenshots []string    `json:"screenshots"`
	Error       ErrorCode   `json:"error,omitempty"`
	Attempts    int         `json:"attempts"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
}

// OrderUpdate is applied by a status transition. Nil Screenshots keeps the
// current list.
type OrderUpdate struct {
	Status      OrderStatus
	Message     string
	Error       ErrorCode
	Screenshots []string
	IncAttempts bool
}

// apply mutates o as a store would for update at time now.
func (u OrderUpdate) apply(o *Order, now time.Time) {
	o.Status = u.Status
	o.Message = u.Message
	o.Error = u.Error
	if u.Screenshots != nil {
		o.Screenshots = append([]string{}, u.Screenshots...)
	}
	if u.IncAttempts {
		o.Attempts++
	}
	o.UpdatedAt = now
	if u.Status.Terminal() {
		t := now
		o.CompletedAt = &t
	} else {
		o.CompletedAt = nil
	}
}

type OrderLog struct {
	ID        int64     `json:"id"`
	OrderID   string    `json:"order_id"`
	Level     LogLevel  `json:"log_level"`
	State     State     `json:"state,omitempty"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

type Stats struct {
	TotalOrders   int     `json:"total_orders"`
	Completed     int     `json:"completed"`
	Failed        int     `json:"failed"`
	ManualPending int     `json:"manual_pending"`
	Processing    int     `json:"processing"`
	Queued        int     `json:"queued"`
	SuccessRate   float64 `json:"success_rate"`
}
