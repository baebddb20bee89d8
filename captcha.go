package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// The solving service reports an unfinished challenge with this exact string.
const captchaNotReady = "CAPCHA_NOT_READY"

type PollStatus int

const (
	PollPending PollStatus = iota
	PollReady
	PollFailed
)

func (s PollStatus) String() string {
	switch s {
	case PollReady:
		return "ready"
	case PollFailed:
		return "failed"
	default:
		return "pending"
	}
}

type PollResult struct {
	Status PollStatus
	Token  string
	Reason string
}

// CaptchaChallenge is the lifetime of one solve.
type CaptchaChallenge struct {
	SiteKey string
	PageURL string
	ID      string
	Token   string
}

// CaptchaService solves reCAPTCHA challenges for a page. Solve never returns
// an error: any problem ends as ("", false).
type CaptchaService interface {
	Solve(ctx context.Context, siteKey, pageURL string, maxWait time.Duration) (string, bool)
	Close()
}

// CaptchaSolver talks to a 2captcha-compatible in.php/res.php API.
type CaptchaSolver struct {
	client      *http.Client
	baseURL     string
	apiKey      string
	interval    time.Duration
	maxAttempts int
	log         *zap.Logger
}

type captchaResponse struct {
	Status  int    `json:"status"`
	Request string `json:"request"`
}

func NewCaptchaSolver(cfg CaptchaConfig, log *zap.Logger) *CaptchaSolver {
	return &CaptchaSolver{
		client:      &http.Client{Timeout: 30 * time.Second},
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:      cfg.APIKey,
		interval:    time.Duration(cfg.PollIntervalSeconds) * time.Second,
		maxAttempts: cfg.MaxAttempts,
		log:         log.Named("captcha"),
	}
}

// Submit registers a challenge and returns the service's id for it.
func (s *CaptchaSolver) Submit(ctx context.Context, siteKey, pageURL string) (string, error) {
	if s.apiKey == "" {
		return "", errors.New("captcha.api_key is not configured")
	}

	q := url.Values{}
	q.Set("key", s.apiKey)
	q.Set("method", "userrecaptcha")
	q.Set("googlekey", siteKey)
	q.Set("pageurl", pageURL)
	q.Set("json", "1")

	resp, err := s.call(ctx, "/in.php", q)
	if err != nil {
		return "", err
	}
	if resp.Status != 1 {
		return "", fmt.Errorf("captcha submit rejected: %s", resp.Request)
	}
	return resp.Request, nil
}

// Poll asks once for the solution of challenge id.
func (s *CaptchaSolver) Poll(ctx context.Context, id string) (PollResult, error) {
	q := url.Values{}
	q.Set("key", s.apiKey)
	q.Set("action", "get")
	q.Set("id", id)
	q.Set("json", "1")

	resp, err := s.call(ctx, "/res.php", q)
	if err != nil {
		return PollResult{}, err
	}

	switch {
	case resp.Status == 1:
		return PollResult{Status: PollReady, Token: resp.Request}, nil
	case resp.Request == captchaNotReady:
		return PollResult{Status: PollPending}, nil
	default:
		return PollResult{Status: PollFailed, Reason: resp.Request}, nil
	}
}

// Solve submits the challenge and polls at a fixed interval. The number of
// polls is capped by the configured attempt budget even when maxWait would
// allow more.
func (s *CaptchaSolver) Solve(ctx context.Context, siteKey, pageURL string, maxWait time.Duration) (string, bool) {
	challenge := &CaptchaChallenge{SiteKey: siteKey, PageURL: pageURL}

	id, err := s.Submit(ctx, challenge.SiteKey, challenge.PageURL)
	if err != nil {
		s.log.Warn("CAPTCHA submit failed", zap.Error(err))
		return "", false
	}
	challenge.ID = id
	s.log.Info("CAPTCHA submitted", zap.String("challenge_id", id))

	for attempt := 1; attempt <= s.attempts(maxWait); attempt++ {
		if err := sleepCtx(ctx, s.interval); err != nil {
			return "", false
		}

		res, err := s.Poll(ctx, challenge.ID)
		if err != nil {
			s.log.Warn("CAPTCHA poll failed", zap.String("challenge_id", id), zap.Error(err))
			return "", false
		}

		switch res.Status {
		case PollReady:
			challenge.Token = res.Token
			s.log.Info("CAPTCHA solved", zap.String("challenge_id", id), zap.Int("attempt", attempt))
			return challenge.Token, true
		case PollFailed:
			s.log.Warn("CAPTCHA solving failed", zap.String("challenge_id", id), zap.String("reason", res.Reason))
			return "", false
		}
	}

	s.log.Warn("CAPTCHA solving timed out", zap.String("challenge_id", id))
	return "", false
}

func (s *CaptchaSolver) attempts(maxWait time.Duration) int {
	n := s.maxAttempts
	if maxWait > 0 && s.interval > 0 {
		if byWait := int(maxWait / s.interval); byWait < n {
			n = byWait
		}
	}
	if n < 1 {
		n = 1
	}
	return n
}

func (s *CaptchaSolver) call(ctx context.Context, path string, q url.Values) (*captchaResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("HTTP error %d: %s", resp.StatusCode, string(body))
	}

	var out captchaResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("failed to parse captcha response: %w", err)
	}
	return &out, nil
}

// Close drops idle keep-alive connections to the solving service.
func (s *CaptchaSolver) Close() {
	s.client.CloseIdleConnections()
}
