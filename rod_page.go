package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// rodPage adapts a go-rod page to Page. Every call is bounded by the caller's
// context, the session deadline and, for calls that do not carry their own
// budget, the default timeout.
type rodPage struct {
	page              *rod.Page
	deadline          time.Time
	defaultTimeout    time.Duration
	navigationTimeout time.Duration
}

func newRodPage(page *rod.Page, deadline time.Time, defaultTimeout, navigationTimeout time.Duration) *rodPage {
	return &rodPage{
		page:              page,
		deadline:          deadline,
		defaultTimeout:    defaultTimeout,
		navigationTimeout: navigationTimeout,
	}
}

func (p *rodPage) scope(ctx context.Context, timeout time.Duration) (*rod.Page, context.CancelFunc) {
	if !p.deadline.IsZero() {
		var cancelDeadline context.CancelFunc
		ctx, cancelDeadline = context.WithDeadline(ctx, p.deadline)
		if timeout > 0 {
			var cancelTimeout context.CancelFunc
			ctx, cancelTimeout = context.WithTimeout(ctx, timeout)
			return p.page.Context(ctx), func() { cancelTimeout(); cancelDeadline() }
		}
		return p.page.Context(ctx), cancelDeadline
	}
	if timeout > 0 {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		return p.page.Context(ctx), cancel
	}
	return p.page.Context(ctx), func() {}
}

func (p *rodPage) Navigate(ctx context.Context, url string) error {
	page, cancel := p.scope(ctx, p.navigationTimeout)
	defer cancel()

	if err := page.Navigate(url); err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	if err := page.WaitLoad(); err != nil {
		return fmt.Errorf("page failed to load: %w", err)
	}
	return nil
}

func (p *rodPage) Find(ctx context.Context, m Matcher) (Element, error) {
	page, cancel := p.scope(ctx, 0)
	defer cancel()

	var (
		el  *rod.Element
		err error
	)
	switch m.Kind {
	case MatchText:
		el, err = page.ElementR(m.Selector, m.Pattern)
	case MatchXPath:
		el, err = page.ElementX(m.Selector)
	default:
		el, err = page.Element(m.Selector)
	}
	if err != nil {
		return nil, err
	}
	return &rodElement{el: el, defaultTimeout: p.defaultTimeout}, nil
}

func (p *rodPage) Lookup(ctx context.Context, m Matcher) (Element, error) {
	page, cancel := p.scope(ctx, p.defaultTimeout)
	defer cancel()

	var (
		has bool
		el  *rod.Element
		err error
	)
	switch m.Kind {
	case MatchText:
		has, el, err = page.HasR(m.Selector, m.Pattern)
	case MatchXPath:
		has, el, err = page.HasX(m.Selector)
	default:
		has, el, err = page.Has(m.Selector)
	}
	if err != nil {
		return nil, err
	}
	if !has {
		return nil, ErrElementNotFound
	}
	return &rodElement{el: el, defaultTimeout: p.defaultTimeout}, nil
}

func (p *rodPage) FindAll(ctx context.Context, m Matcher) ([]Element, error) {
	page, cancel := p.scope(ctx, p.defaultTimeout)
	defer cancel()

	var (
		els rod.Elements
		err error
	)
	switch m.Kind {
	case MatchXPath:
		els, err = page.ElementsX(m.Selector)
	default:
		els, err = page.Elements(m.Selector)
	}
	if err != nil {
		return nil, err
	}

	out := make([]Element, 0, len(els))
	for _, el := range els {
		out = append(out, &rodElement{el: el, defaultTimeout: p.defaultTimeout})
	}
	return out, nil
}

func (p *rodPage) Text(ctx context.Context) (string, error) {
	page, cancel := p.scope(ctx, p.defaultTimeout)
	defer cancel()

	res, err := page.Eval(`() => document.body ? document.body.innerText : ""`)
	if err != nil {
		return "", err
	}
	return res.Value.Str(), nil
}

func (p *rodPage) URL(ctx context.Context) (string, error) {
	page, cancel := p.scope(ctx, p.defaultTimeout)
	defer cancel()

	info, err := page.Info()
	if err != nil {
		return "", err
	}
	return info.URL, nil
}

func (p *rodPage) Screenshot(ctx context.Context) ([]byte, error) {
	page, cancel := p.scope(ctx, p.defaultTimeout)
	defer cancel()

	return page.Screenshot(true, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
}

func (p *rodPage) Eval(ctx context.Context, js string, args ...interface{}) error {
	page, cancel := p.scope(ctx, p.defaultTimeout)
	defer cancel()

	_, err := page.Eval(js, args...)
	return err
}

func (p *rodPage) Mouse() Mouse {
	return &rodMouse{send: p.dispatchMouse}
}

// dispatchMouse sends a raw input event on the scoped page. rod's Page.Mouse
// stays bound to the unscoped page, so its helpers would ignore ctx.
func (p *rodPage) dispatchMouse(ctx context.Context, ev proto.InputDispatchMouseEvent) error {
	page, cancel := p.scope(ctx, p.defaultTimeout)
	defer cancel()

	return ev.Call(page)
}

type rodElement struct {
	el             *rod.Element
	defaultTimeout time.Duration
}

func (e *rodElement) scope(ctx context.Context) (*rod.Element, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok || e.defaultTimeout <= 0 {
		return e.el.Context(ctx), func() {}
	}
	ctx, cancel := context.WithTimeout(ctx, e.defaultTimeout)
	return e.el.Context(ctx), cancel
}

func (e *rodElement) Click(ctx context.Context) error {
	el, cancel := e.scope(ctx)
	defer cancel()

	return el.Click(proto.InputMouseButtonLeft, 1)
}

func (e *rodElement) Fill(ctx context.Context, value string) error {
	el, cancel := e.scope(ctx)
	defer cancel()

	if err := el.SelectAllText(); err != nil {
		return err
	}
	return el.Input(value)
}

func (e *rodElement) Text(ctx context.Context) (string, error) {
	el, cancel := e.scope(ctx)
	defer cancel()

	return el.Text()
}

func (e *rodElement) Attribute(ctx context.Context, name string) (string, error) {
	el, cancel := e.scope(ctx)
	defer cancel()

	v, err := el.Attribute(name)
	if err != nil {
		return "", err
	}
	if v == nil {
		return "", nil
	}
	return *v, nil
}

func (e *rodElement) Box(ctx context.Context) (Box, error) {
	el, cancel := e.scope(ctx)
	defer cancel()

	shape, err := el.Shape()
	if err != nil {
		return Box{}, err
	}
	rect := shape.Box()
	if rect == nil {
		return Box{}, fmt.Errorf("element has no layout box")
	}
	return Box{X: rect.X, Y: rect.Y, Width: rect.Width, Height: rect.Height}, nil
}

// rodMouse drives the left button. It tracks the cursor itself because press
// and release events carry coordinates.
type rodMouse struct {
	send func(context.Context, proto.InputDispatchMouseEvent) error

	mu      sync.Mutex
	pos     proto.Point
	pressed bool
}

func (m *rodMouse) event(typ proto.InputDispatchMouseEventType, at proto.Point, pressed bool) proto.InputDispatchMouseEvent {
	ev := proto.InputDispatchMouseEvent{Type: typ, X: at.X, Y: at.Y, Button: proto.InputMouseButtonNone}
	buttons := 0
	if pressed {
		buttons = 1
		ev.Button = proto.InputMouseButtonLeft
	}
	ev.Buttons = &buttons
	if typ != proto.InputDispatchMouseEventTypeMouseMoved {
		ev.Button = proto.InputMouseButtonLeft
		ev.ClickCount = 1
	}
	return ev
}

func (m *rodMouse) MoveTo(ctx context.Context, x, y float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	to := proto.Point{X: x, Y: y}
	if err := m.send(ctx, m.event(proto.InputDispatchMouseEventTypeMouseMoved, to, m.pressed)); err != nil {
		return err
	}
	m.pos = to
	return nil
}

func (m *rodMouse) Down(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.send(ctx, m.event(proto.InputDispatchMouseEventTypeMousePressed, m.pos, true)); err != nil {
		return err
	}
	m.pressed = true
	return nil
}

func (m *rodMouse) Up(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.send(ctx, m.event(proto.InputDispatchMouseEventTypeMouseReleased, m.pos, false)); err != nil {
		return err
	}
	m.pressed = false
	return nil
}
