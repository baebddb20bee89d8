package main

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const sessionCloseTimeout = 10 * time.Second

// Connector opens a fresh browser session for one run.
type Connector interface {
	Connect(ctx context.Context) (*Session, error)
}

type closer struct {
	name string
	fn   func(ctx context.Context) error
}

// Session owns one page inside one browser context of one browser connection.
// Close releases them page first, then context, then browser, then any
// auxiliary clients attached with AddCloser.
type Session struct {
	Page Page

	mu      sync.Mutex
	closers []closer
	aux     []closer
	closed  bool
	log     *zap.Logger
}

func NewSession(page Page, log *zap.Logger) *Session {
	return &Session{Page: page, log: log}
}

func (s *Session) addResource(name string, fn func(ctx context.Context) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closers = append(s.closers, closer{name: name, fn: fn})
}

// AddCloser registers an auxiliary client released after the browser.
func (s *Session) AddCloser(name string, fn func(ctx context.Context) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.aux = append(s.aux, closer{name: name, fn: fn})
}

// Close is safe to call more than once and from any exit path. It does not
// use the run's context, which may already be cancelled.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	all := append(append([]closer{}, s.closers...), s.aux...)
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), sessionCloseTimeout)
	defer cancel()

	var errs []error
	for _, c := range all {
		if err := c.fn(ctx); err != nil {
			s.log.Warn("Failed to release session resource", zap.String("resource", c.name), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", c.name, err))
			continue
		}
		s.log.Debug("Released session resource", zap.String("resource", c.name))
	}
	return errors.Join(errs...)
}

func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// RodConnector connects to the remote browser provider over CDP, or launches
// a local Chromium when configured to.
type RodConnector struct {
	cfg      BrowserConfig
	lifetime time.Duration
	limiter  *rate.Limiter
	log      *zap.Logger
}

func NewRodConnector(cfg BrowserConfig, log *zap.Logger) *RodConnector {
	limit := rate.Inf
	if cfg.ConnectRatePerMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(cfg.ConnectRatePerMinute))
	}

	return &RodConnector{
		cfg:      cfg,
		lifetime: time.Duration(cfg.SessionLifetimeSeconds) * time.Second,
		limiter:  rate.NewLimiter(limit, 1),
		log:      log.Named("session"),
	}
}

func (c *RodConnector) Connect(ctx context.Context) (*Session, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("waiting for a browser slot: %w", err)
	}

	var l *launcher.Launcher
	controlURL := c.cfg.Endpoint
	if c.cfg.LaunchLocal {
		// Leakless deadlocks on Windows, see go-rod/rod#853
		l = launcher.New().
			Leakless(runtime.GOOS != "windows").
			Headless(c.cfg.Headless)
		if path, ok := launcher.LookPath(); ok {
			l = l.Bin(path)
		}

		u, err := l.Context(ctx).Launch()
		if err != nil {
			return nil, fmt.Errorf("failed to launch browser: %w", err)
		}
		controlURL = u
	}
	if controlURL == "" {
		return nil, errors.New("no browser endpoint configured")
	}

	var deadline time.Time
	if c.lifetime > 0 {
		deadline = time.Now().Add(c.lifetime)
	}

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		if l != nil {
			l.Kill()
		}
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}

	sess := NewSession(nil, c.log)
	sess.addResource("browser", func(ctx context.Context) error {
		err := browser.Context(ctx).Close()
		if l != nil {
			l.Cleanup()
		}
		return err
	})

	incognito, err := browser.Incognito()
	if err != nil {
		sess.Close()
		return nil, fmt.Errorf("failed to create browser context: %w", err)
	}

	page, err := stealth.Page(incognito)
	if err != nil {
		incognito.Close()
		sess.Close()
		return nil, fmt.Errorf("failed to create stealth page: %w", err)
	}

	// page -> context -> browser
	sess.closers = append([]closer{
		{name: "page", fn: func(ctx context.Context) error { return page.Context(ctx).Close() }},
		{name: "context", fn: func(ctx context.Context) error { return incognito.Context(ctx).Close() }},
	}, sess.closers...)

	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             c.cfg.ViewportWidth,
		Height:            c.cfg.ViewportHeight,
		DeviceScaleFactor: 1,
	}); err != nil {
		sess.Close()
		return nil, fmt.Errorf("failed to set viewport: %w", err)
	}

	if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: c.cfg.UserAgent}); err != nil {
		c.log.Warn("Failed to set User-Agent", zap.Error(err))
	}

	sess.Page = newRodPage(page, deadline,
		time.Duration(c.cfg.DefaultTimeoutSeconds)*time.Second,
		time.Duration(c.cfg.NavigationTimeoutSeconds)*time.Second,
	)

	c.log.Debug("Browser session ready", zap.Bool("local", c.cfg.LaunchLocal), zap.Time("deadline", deadline))
	return sess, nil
}
