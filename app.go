package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownGrace = 30 * time.Second

// App is the long-running service: HTTP API, dispatcher and their backends.
type App struct {
	cfg             *Config
	log             *zap.Logger
	registry        *prometheus.Registry
	metrics         *Metrics
	store           Store
	events          EventPublisher
	tracker         *Tracker
	dispatcher      *Dispatcher
	server          *http.Server
	shutdownTracing func(context.Context) error
}

func newSequencer(cfg *Config, log *zap.Logger, metrics *Metrics) *Sequencer {
	return NewSequencer(cfg,
		NewRodConnector(cfg.Browser, log),
		func() CaptchaService { return NewCaptchaSolver(cfg.Captcha, log) },
		log,
		WithMetrics(metrics),
	)
}

func openStore(ctx context.Context, cfg DatabaseConfig, log *zap.Logger) (Store, error) {
	if cfg.DSN == "" {
		log.Warn("No database configured, orders are kept in memory only")
		return NewMemoryStore(), nil
	}
	return OpenPGStore(ctx, cfg.DSN, log)
}

func NewApp(ctx context.Context, cfg *Config, log *zap.Logger) (*App, error) {
	a := &App{cfg: cfg, log: log, registry: prometheus.NewRegistry()}
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = NewMetrics(a.registry)

	shutdown, err := InitTracer(ctx, cfg.Tracing, log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.shutdownTracing = shutdown

	if a.store, err = openStore(ctx, cfg.Database, log); err != nil {
		a.Close()
		return nil, err
	}
	if a.events, err = NewEventPublisher(cfg.Kafka, log); err != nil {
		a.Close()
		return nil, err
	}

	a.tracker = NewTracker(a.store, newSequencer(cfg, log, a.metrics), a.events, cfg.RunTimeout(), log, a.metrics)
	a.dispatcher = NewDispatcher(cfg.Automation.Workers, cfg.Automation.QueueSize, a.tracker.Execute, log, a.metrics)
	a.tracker.SetScheduler(a.dispatcher)

	a.server = NewHTTPServer(cfg.Server, NewRouter(a.tracker, a.registry, cfg.Server.CORSOrigins, log))
	return a, nil
}

// Run serves until ctx is cancelled. Running jobs get shutdownGrace to finish
// before their contexts are cancelled.
func (a *App) Run(ctx context.Context) error {
	jobsCtx, cancelJobs := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelJobs()

	a.dispatcher.Start(jobsCtx)
	if err := a.tracker.Recover(ctx); err != nil {
		a.log.Warn("Startup reconciliation failed", zap.Error(err))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.log.Info("HTTP API listening", zap.String("addr", a.server.Addr))
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.log.Info("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		err := a.server.Shutdown(shutdownCtx)

		a.dispatcher.Stop()
		done := make(chan struct{})
		go func() {
			a.dispatcher.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-shutdownCtx.Done():
			a.log.Warn("Cancelling runs still in progress")
			cancelJobs()
			<-done
		}
		return err
	})

	return g.Wait()
}

func (a *App) Close() {
	if a.events != nil {
		a.events.Close()
	}
	if a.store != nil {
		a.store.Close()
	}
	if a.shutdownTracing != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.shutdownTracing(ctx); err != nil {
			a.log.Warn("Failed to flush traces", zap.Error(err))
		}
	}
}
