package main

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// JobFunc runs one order. It must return only after every resource of the
// run has been released.
type JobFunc func(ctx context.Context, orderID string)

// Dispatcher feeds order ids from a bounded queue to a fixed set of workers.
// An id stays active from Enqueue until its job returns, and an active id
// cannot be enqueued again.
type Dispatcher struct {
	jobs    chan string
	quit    chan struct{}
	handle  JobFunc
	workers int
	log     *zap.Logger
	metrics *Metrics

	mu     sync.Mutex
	active map[string]struct{}
	closed bool
	group  *errgroup.Group
}

func NewDispatcher(workers, queueSize int, handle JobFunc, log *zap.Logger, metrics *Metrics) *Dispatcher {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 1
	}
	return &Dispatcher{
		jobs:    make(chan string, queueSize),
		quit:    make(chan struct{}),
		handle:  handle,
		workers: workers,
		log:     log.Named("dispatcher"),
		metrics: metrics,
		active:  make(map[string]struct{}),
		group:   &errgroup.Group{},
	}
}

// Start launches the workers. Jobs run with ctx, so cancelling it cuts every
// running order short.
func (d *Dispatcher) Start(ctx context.Context) {
	for i := 0; i < d.workers; i++ {
		id := i
		d.group.Go(func() error {
			d.work(ctx, id)
			return nil
		})
	}
	d.log.Info("Dispatcher started", zap.Int("workers", d.workers), zap.Int("queue_size", cap(d.jobs)))
}

// Enqueue schedules orderID. It never blocks.
func (d *Dispatcher) Enqueue(orderID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return ErrDispatcherDone
	}
	if _, ok := d.active[orderID]; ok {
		return ErrAlreadyRunning
	}

	select {
	case d.jobs <- orderID:
		d.active[orderID] = struct{}{}
		d.metrics.SetQueueDepth(len(d.jobs))
		return nil
	default:
		return ErrQueueFull
	}
}

// Active reports whether orderID is queued or running.
func (d *Dispatcher) Active(orderID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.active[orderID]
	return ok
}

// Stop refuses new jobs and tells idle workers to exit. Running jobs finish;
// ids still queued are dropped and stay queued in the store.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.closed = true
	close(d.quit)
}

// Wait blocks until every worker has returned.
func (d *Dispatcher) Wait() {
	_ = d.group.Wait()
}

func (d *Dispatcher) work(ctx context.Context, worker int) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.quit:
			return
		case id := <-d.jobs:
			d.metrics.SetQueueDepth(len(d.jobs))
			d.run(ctx, worker, id)
		}
	}
}

func (d *Dispatcher) run(ctx context.Context, worker int, orderID string) {
	defer func() {
		if p := recover(); p != nil {
			d.log.Error("Job panicked", zap.String("order_id", orderID), zap.Any("panic", p), zap.Stack("stack"))
		}
		d.mu.Lock()
		delete(d.active, orderID)
		d.mu.Unlock()
		d.metrics.RunFinished()
	}()

	d.metrics.RunStarted()
	d.log.Debug("Job picked up", zap.String("order_id", orderID), zap.Int("worker", worker))
	d.handle(ctx, orderID)
}
