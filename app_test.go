package main

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestAppRunStopsOnCancel(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.Addr = "127.0.0.1:0"

	app, err := NewApp(context.Background(), cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("NewApp failed: %v", err)
	}
	defer app.Close()

	if _, ok := app.store.(*MemoryStore); !ok {
		t.Errorf("Expected an in-memory store without a DSN, got %T", app.store)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- app.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Expected clean shutdown, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("App did not shut down")
	}

	if err := app.dispatcher.Enqueue("late"); err != ErrDispatcherDone {
		t.Errorf("Expected dispatcher to refuse jobs after shutdown, got %v", err)
	}
}
