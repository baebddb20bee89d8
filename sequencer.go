package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// State names one position in the purchase flow.
type State string

const (
	StateConnectBrowser       State = "connect_browser"
	StateNavigateShop         State = "navigate_shop"
	StateSelectProduct        State = "select_product"
	StateClickRedeem          State = "click_redeem"
	StateLogin                State = "login"
	StateProceedToPayment     State = "proceed_to_payment"
	StateSelectAmount         State = "select_amount"
	StateSelectPaymentChannel State = "select_payment_channel"
	StateSelectSubchannel     State = "select_subchannel"
	StateProviderSignin       State = "provider_signin"
	StateOTPCheck             State = "otp_check"
	StatePinConfirm           State = "pin_confirm"
	StateVerifyResult         State = "verify_result"
)

type LogLevel string

const (
	LevelInfo    LogLevel = "info"
	LevelWarning LogLevel = "warning"
	LevelError   LogLevel = "error"
)

// StepResult is the outcome of one run.
type StepResult struct {
	Success     bool          `json:"success"`
	Message     string        `json:"message"`
	Error       ErrorCode     `json:"error,omitempty"`
	Screenshots []string      `json:"screenshots"`
	State       State         `json:"state"`
	Duration    time.Duration `json:"duration"`
}

type RunRequest struct {
	OrderID  string
	PlayerID string
	Amount   int
}

// StepEvent is a progress note emitted while a run moves through its states.
type StepEvent struct {
	OrderID string
	State   State
	Level   LogLevel
	Message string
	At      time.Time
}

type StepObserver func(StepEvent)

type step struct {
	state        State
	code         ErrorCode
	probeCaptcha bool
	delayMin     time.Duration
	delayMax     time.Duration
	screenshot   string
	run          func(r *run, ctx context.Context) error
}

// Sequencer drives one purchase through the fixed state order. It holds no
// per-run state and is safe for concurrent runs.
type Sequencer struct {
	cfg        *Config
	connector  Connector
	newCaptcha func() CaptchaService
	resolver   *Resolver
	metrics    *Metrics
	tracer     trace.Tracer
	log        *zap.Logger
	seed       func() int64
	steps      []step
}

type SequencerOption func(*Sequencer)

func WithMetrics(m *Metrics) SequencerOption {
	return func(s *Sequencer) { s.metrics = m }
}

// WithSeed fixes the random source of each run's delays.
func WithSeed(seed func() int64) SequencerOption {
	return func(s *Sequencer) { s.seed = seed }
}

func NewSequencer(cfg *Config, connector Connector, newCaptcha func() CaptchaService, log *zap.Logger, opts ...SequencerOption) *Sequencer {
	s := &Sequencer{
		cfg:        cfg,
		connector:  connector,
		newCaptcha: newCaptcha,
		resolver:   NewResolver(cfg.SelectorTimeout(), log),
		tracer:     otel.Tracer("topup/sequencer"),
		log:        log.Named("sequencer"),
		seed:       func() int64 { return time.Now().UnixNano() },
	}
	for _, opt := range opts {
		opt(s)
	}
	s.steps = defaultSteps()
	return s
}

// States lists the flow in execution order.
func (s *Sequencer) States() []State {
	states := make([]State, len(s.steps))
	for i, st := range s.steps {
		states[i] = st.state
	}
	return states
}

// run is the mutable state of a single pass through the flow.
type run struct {
	seq     *Sequencer
	req     RunRequest
	log     *zap.Logger
	delay   *Delayer
	session *Session
	page    Page
	captcha CaptchaService
	shots   *screenshotRecorder
	observe StepObserver
	state   State
}

func (r *run) cfg() *Config {
	return r.seq.cfg
}

func (r *run) emit(level LogLevel, msg string) {
	if r.observe == nil {
		return
	}
	r.observe(StepEvent{
		OrderID: r.req.OrderID,
		State:   r.state,
		Level:   level,
		Message: msg,
		At:      time.Now(),
	})
}

// Run executes every state in order and stops at the first failure. The
// session is closed on every exit path, panics included. When ctx expires the
// run reports timeout whatever state it was in.
func (s *Sequencer) Run(ctx context.Context, req RunRequest, observe StepObserver) (result StepResult) {
	start := time.Now()
	r := &run{
		seq:     s,
		req:     req,
		log:     s.log.With(zap.String("order_id", req.OrderID)),
		delay:   NewDelayer(s.seed(), s.cfg.Automation.DelayScale),
		shots:   newScreenshotRecorder(s.cfg.Automation.ScreenshotDir, req.OrderID),
		observe: observe,
	}

	ctx, span := s.tracer.Start(ctx, "topup.run", trace.WithAttributes(
		attribute.String("order.id", req.OrderID),
		attribute.Int("order.amount", req.Amount),
	))
	defer span.End()

	defer func() {
		if r.session == nil {
			return
		}
		if err := r.session.Close(); err != nil {
			r.log.Warn("Session cleanup incomplete", zap.Error(err))
		}
	}()

	defer func() {
		if p := recover(); p != nil {
			r.log.Error("Run panicked", zap.Any("panic", p), zap.Stack("stack"))
			result = r.fail(ctx, CodeAutomationException, fmt.Errorf("panic: %v", p))
			result.Message = T("run_exception", p)
		}
		result.Duration = time.Since(start)
		if !result.Success {
			span.SetStatus(codes.Error, string(result.Error))
		}
		s.metrics.ObserveRun(result)
		r.log.Info("Run finished",
			zap.Bool("success", result.Success),
			zap.String("state", string(result.State)),
			zap.String("error", string(result.Error)),
			zap.Duration("duration", result.Duration))
	}()

	for _, st := range s.steps {
		if err := s.runStep(ctx, r, st); err != nil {
			code := st.code
			var stepErr *StepError
			if errors.As(err, &stepErr) && stepErr.Code != "" {
				code = stepErr.Code
			}
			switch {
			case errors.Is(ctx.Err(), context.DeadlineExceeded):
				code = CodeTimeout
			case ctx.Err() != nil:
				code = CodeAutomationException
			}
			return r.fail(ctx, code, err)
		}
	}

	return StepResult{
		Success:     true,
		Message:     T("run_success", req.Amount, req.PlayerID),
		Screenshots: r.shots.Paths(),
		State:       r.state,
	}
}

func (s *Sequencer) runStep(ctx context.Context, r *run, st step) (err error) {
	r.state = st.state
	ctx, span := s.tracer.Start(ctx, "topup.step."+string(st.state))
	start := time.Now()
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		s.metrics.ObserveStep(st.state, err, time.Since(start))
	}()

	if err := ctx.Err(); err != nil {
		return err
	}

	r.emit(LevelInfo, T("step_started", st.state))
	r.log.Debug("Step started", zap.String("state", string(st.state)))

	if st.probeCaptcha && r.page != nil {
		if err := r.handleCaptcha(ctx); err != nil {
			return err
		}
	}

	if err := st.run(r, ctx); err != nil {
		return err
	}

	if st.screenshot != "" {
		r.capture(ctx, st.screenshot)
	}
	r.emit(LevelInfo, T("step_completed", st.state))

	if st.delayMax > 0 {
		return r.delay.Between(ctx, st.delayMin, st.delayMax)
	}
	return nil
}

// fail builds the result of a halted run and captures the page as it was
// when the run stopped.
func (r *run) fail(ctx context.Context, code ErrorCode, err error) StepResult {
	r.emit(LevelError, T("step_failed", r.state, err))
	r.log.Warn("Step failed", zap.String("state", string(r.state)), zap.String("code", string(code)), zap.Error(err))

	shotCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
	defer cancel()
	if code != CodeOTPRequired {
		r.capture(shotCtx, "error_"+string(r.state))
	}

	return StepResult{
		Success:     false,
		Message:     failureMessage(code),
		Error:       code,
		Screenshots: r.shots.Paths(),
		State:       r.state,
	}
}
