package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newOrder(id string, status OrderStatus, created time.Time) *Order {
	return &Order{
		ID:        id,
		PlayerID:  "player-" + id,
		Amount:    100,
		Status:    status,
		CreatedAt: created,
		UpdatedAt: created,
	}
}

func TestMemoryStoreCreateAndGet(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	o := newOrder("a", StatusQueued, base)
	o.Screenshots = []string{"one.png"}
	require.NoError(t, s.CreateOrder(ctx, o))
	assert.ErrorIs(t, s.CreateOrder(ctx, o), ErrDuplicateOrder)

	got, err := s.GetOrder(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "player-a", got.PlayerID)

	// Callers get copies.
	got.Screenshots[0] = "changed.png"
	again, _ := s.GetOrder(ctx, "a")
	assert.Equal(t, "one.png", again.Screenshots[0])

	_, err = s.GetOrder(ctx, "missing")
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestMemoryStoreListOrders(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, s.CreateOrder(ctx, newOrder("old", StatusFailed, base)))
	require.NoError(t, s.CreateOrder(ctx, newOrder("mid", StatusCompleted, base.Add(time.Minute))))
	require.NoError(t, s.CreateOrder(ctx, newOrder("new", StatusFailed, base.Add(2*time.Minute))))

	testCases := []struct {
		name   string
		status OrderStatus
		limit  int
		expect []string
	}{
		{"all newest first", "", 0, []string{"new", "mid", "old"}},
		{"limited", "", 2, []string{"new", "mid"}},
		{"by status", StatusFailed, 0, []string{"new", "old"}},
		{"no match", StatusProcessing, 10, []string{}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			orders, err := s.ListOrders(ctx, tc.status, tc.limit)
			require.NoError(t, err)
			ids := make([]string, 0, len(orders))
			for _, o := range orders {
				ids = append(ids, o.ID)
			}
			assert.Equal(t, tc.expect, ids)
		})
	}
}

func TestMemoryStoreTransition(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	require.NoError(t, s.CreateOrder(ctx, newOrder("a", StatusQueued, now.Add(-time.Hour))))

	o, err := s.Transition(ctx, "a", []OrderStatus{StatusQueued}, OrderUpdate{
		Status:      StatusProcessing,
		Message:     "started",
		IncAttempts: true,
	})
	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, o.Status)
	assert.Equal(t, 1, o.Attempts)
	assert.Nil(t, o.CompletedAt)
	assert.Equal(t, now, o.UpdatedAt)

	_, err = s.Transition(ctx, "a", []OrderStatus{StatusQueued}, OrderUpdate{Status: StatusProcessing})
	assert.ErrorIs(t, err, ErrStatusConflict)

	o, err = s.Transition(ctx, "a", []OrderStatus{StatusProcessing}, OrderUpdate{
		Status:      StatusManualPending,
		Error:       CodeOTPRequired,
		Screenshots: []string{"otp.png"},
	})
	require.NoError(t, err)
	require.NotNil(t, o.CompletedAt)
	assert.Equal(t, now, *o.CompletedAt)
	assert.Equal(t, []string{"otp.png"}, o.Screenshots)

	// Re-queueing clears completion but keeps the screenshots.
	o, err = s.Transition(ctx, "a", []OrderStatus{StatusFailed, StatusManualPending}, OrderUpdate{Status: StatusQueued})
	require.NoError(t, err)
	assert.Nil(t, o.CompletedAt)
	assert.Empty(t, o.Error)
	assert.Equal(t, []string{"otp.png"}, o.Screenshots)
	assert.Equal(t, 1, o.Attempts)

	_, err = s.Transition(ctx, "missing", []OrderStatus{StatusQueued}, OrderUpdate{Status: StatusProcessing})
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestMemoryStoreTransitionIsAtomic(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.CreateOrder(ctx, newOrder("a", StatusQueued, time.Now())))

	var (
		wg      sync.WaitGroup
		winners atomic.Int32
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Transition(ctx, "a", []OrderStatus{StatusQueued}, OrderUpdate{Status: StatusProcessing, IncAttempts: true})
			if err == nil {
				winners.Add(1)
			} else if !errors.Is(err, ErrStatusConflict) {
				t.Errorf("Unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), winners.Load())
	o, _ := s.GetOrder(ctx, "a")
	assert.Equal(t, 1, o.Attempts)
}

func TestMemoryStoreCountsAndLogs(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	for i, st := range []OrderStatus{StatusCompleted, StatusCompleted, StatusFailed, StatusQueued} {
		require.NoError(t, s.CreateOrder(ctx, newOrder(fmt.Sprint(i), st, time.Now())))
	}

	counts, err := s.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[OrderStatus]int{StatusCompleted: 2, StatusFailed: 1, StatusQueued: 1}, counts)

	require.NoError(t, s.AppendLog(ctx, OrderLog{OrderID: "0", Level: LevelInfo, Message: "first"}))
	require.NoError(t, s.AppendLog(ctx, OrderLog{OrderID: "0", Level: LevelError, State: StateLogin, Message: "second"}))
	assert.ErrorIs(t, s.AppendLog(ctx, OrderLog{OrderID: "nope"}), ErrOrderNotFound)

	logs, err := s.ListLogs(ctx, "0")
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "first", logs[0].Message)
	assert.Less(t, logs[0].ID, logs[1].ID)
	assert.Equal(t, StateLogin, logs[1].State)

	logs, err = s.ListLogs(ctx, "1")
	require.NoError(t, err)
	assert.Empty(t, logs)

	_, err = s.ListLogs(ctx, "nope")
	assert.ErrorIs(t, err, ErrOrderNotFound)
}
