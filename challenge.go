package main

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

type CaptchaKind string

const (
	CaptchaNone      CaptchaKind = "none"
	CaptchaRecaptcha CaptchaKind = "recaptcha"
	CaptchaSlider    CaptchaKind = "slider"
	CaptchaUnknown   CaptchaKind = "unknown"
)

var (
	captchaIndicators = []Matcher{
		Text("div, span, p, label", textPattern("Slide right to complete")),
		CSS(".captcha"),
		CSS("#captcha"),
		CSS(`iframe[src*="recaptcha"]`),
		CSS(`iframe[src*="captcha"]`),
		CSS(".slider-captcha"),
	}
	recaptchaMarkers = []Matcher{
		CSS("[data-sitekey]"),
		CSS(`iframe[src*="recaptcha"]`),
		CSS("#g-recaptcha-response"),
	}
	sliderHandles = []Matcher{
		CSS(".slider-btn"),
		CSS(`[class*="slider-handle"]`),
		CSS(`[class*="drag"]`),
	}
	sliderTracks = []Matcher{
		CSS(".slider-track"),
		CSS(`[class*="slider-track"]`),
	}
)

const injectTokenJS = `(token) => {
	const fields = document.querySelectorAll('#g-recaptcha-response, textarea[name="g-recaptcha-response"]');
	fields.forEach((f) => {
		f.style.display = 'block';
		f.value = token;
		f.innerHTML = token;
	});
	return fields.length;
}`

// detectCaptcha looks for a challenge on the current page without waiting.
func (r *run) detectCaptcha(ctx context.Context) CaptchaKind {
	res := r.seq.resolver
	if !res.Probe(ctx, r.page, captchaIndicators...).Found() {
		return CaptchaNone
	}
	if res.Probe(ctx, r.page, recaptchaMarkers...).Found() {
		return CaptchaRecaptcha
	}
	if res.Probe(ctx, r.page, sliderHandles...).Found() && res.Probe(ctx, r.page, sliderTracks...).Found() {
		return CaptchaSlider
	}
	return CaptchaUnknown
}

// handleCaptcha clears a challenge blocking the current state. Anything it
// cannot clear stops the run for an operator.
func (r *run) handleCaptcha(ctx context.Context) error {
	kind := r.detectCaptcha(ctx)
	if kind == CaptchaNone {
		return nil
	}

	r.emit(LevelWarning, T("captcha_detected", r.state, kind))
	r.log.Info("CAPTCHA detected", zap.String("state", string(r.state)), zap.String("kind", string(kind)))

	var err error
	switch kind {
	case CaptchaRecaptcha:
		err = r.solveRecaptcha(ctx)
	case CaptchaSlider:
		err = r.solveSlider(ctx)
	default:
		err = errors.New("unrecognized CAPTCHA type")
	}
	if err != nil {
		return &StepError{State: r.state, Code: CodeCaptchaFailed, Err: err}
	}

	r.emit(LevelInfo, T("captcha_solved", r.state))
	return nil
}

func (r *run) solveRecaptcha(ctx context.Context) error {
	m := r.seq.resolver.Probe(ctx, r.page, CSS("[data-sitekey]"))
	if !m.Found() {
		return errors.New("reCAPTCHA site key not found")
	}
	siteKey, err := m.Element.Attribute(ctx, "data-sitekey")
	if err != nil {
		return fmt.Errorf("failed to read site key: %w", err)
	}
	if siteKey == "" {
		return errors.New("reCAPTCHA site key is empty")
	}

	pageURL, err := r.page.URL(ctx)
	if err != nil {
		return fmt.Errorf("failed to read page URL: %w", err)
	}

	if r.captcha == nil {
		return errors.New("no CAPTCHA solving service configured")
	}
	token, ok := r.captcha.Solve(ctx, siteKey, pageURL, r.cfg().CaptchaMaxWait())
	if !ok {
		return errors.New("solving service returned no token")
	}

	if err := r.page.Eval(ctx, injectTokenJS, token); err != nil {
		return fmt.Errorf("failed to inject token: %w", err)
	}
	r.capture(ctx, "captcha_solved")
	return nil
}

// solveSlider drags the handle to the end of its track. The page is not
// checked afterwards; the next state fails if the challenge is still up.
func (r *run) solveSlider(ctx context.Context) error {
	handle := r.seq.resolver.Probe(ctx, r.page, sliderHandles...)
	track := r.seq.resolver.Probe(ctx, r.page, sliderTracks...)
	if !handle.Found() || !track.Found() {
		return errors.New("slider handle or track disappeared")
	}

	hb, err := handle.Element.Box(ctx)
	if err != nil {
		return fmt.Errorf("failed to measure slider handle: %w", err)
	}
	tb, err := track.Element.Box(ctx)
	if err != nil {
		return fmt.Errorf("failed to measure slider track: %w", err)
	}

	if err := dragSlider(ctx, r.page.Mouse(), hb, tb, r.delay); err != nil {
		return err
	}
	r.capture(ctx, "slider_captcha")
	return nil
}
