package main

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
)

type MatcherKind int

const (
	MatchCSS MatcherKind = iota
	// MatchText matches elements selected by CSS whose text matches a JS regex.
	MatchText
	MatchXPath
)

// Matcher is one strategy for locating an element.
type Matcher struct {
	Kind     MatcherKind
	Selector string
	Pattern  string
}

func CSS(selector string) Matcher {
	return Matcher{Kind: MatchCSS, Selector: selector}
}

// Text selects elements matching selector whose text matches pattern, a JS
// regex literal such as "/redeem/i".
func Text(selector, pattern string) Matcher {
	return Matcher{Kind: MatchText, Selector: selector, Pattern: pattern}
}

func XPath(expr string) Matcher {
	return Matcher{Kind: MatchXPath, Selector: expr}
}

func (m Matcher) String() string {
	switch m.Kind {
	case MatchText:
		return fmt.Sprintf("text(%s ~ %s)", m.Selector, m.Pattern)
	case MatchXPath:
		return "xpath(" + m.Selector + ")"
	default:
		return "css(" + m.Selector + ")"
	}
}

// textPattern turns a literal label into a case-insensitive JS regex that
// tolerates any run of whitespace between words.
func textPattern(label string) string {
	words := strings.Fields(label)
	for i, w := range words {
		words[i] = regexp.QuoteMeta(w)
	}
	return "/" + strings.Join(words, `\s*`) + "/i"
}

// exactTextPattern is textPattern anchored to the whole element text.
func exactTextPattern(label string) string {
	p := textPattern(label)
	return `/^\s*` + p[1:len(p)-2] + `\s*$/i`
}

// xpathLiteral quotes s for use inside an XPath expression.
func xpathLiteral(s string) string {
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	if !strings.Contains(s, "'") {
		return "'" + s + "'"
	}
	parts := strings.Split(s, `"`)
	return `concat("` + strings.Join(parts, `", '"', "`) + `")`
}

// Match is the outcome of resolving a matcher list. A zero Match means no
// matcher resolved.
type Match struct {
	Element Element
	Matcher Matcher
	Index   int
}

func (m Match) Found() bool {
	return m.Element != nil
}

// Resolver tries matcher lists in order against a page, giving each attempt
// its own timeout. Running out of matchers is reported through Match, never
// as an error.
type Resolver struct {
	timeout time.Duration
	log     *zap.Logger
}

func NewResolver(timeout time.Duration, log *zap.Logger) *Resolver {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Resolver{timeout: timeout, log: log.Named("selector")}
}

// Resolve waits for the first matcher that finds an element.
func (r *Resolver) Resolve(ctx context.Context, page Page, matchers ...Matcher) Match {
	return r.resolve(ctx, page, matchers, "find", nil)
}

// Click resolves and clicks. A matcher whose element cannot be clicked counts
// as a miss and the next one is tried.
func (r *Resolver) Click(ctx context.Context, page Page, matchers ...Matcher) Match {
	return r.resolve(ctx, page, matchers, "click", func(ctx context.Context, el Element) error {
		return el.Click(ctx)
	})
}

// Fill resolves an input and replaces its value.
func (r *Resolver) Fill(ctx context.Context, page Page, value string, matchers ...Matcher) Match {
	return r.resolve(ctx, page, matchers, "fill", func(ctx context.Context, el Element) error {
		return el.Fill(ctx, value)
	})
}

// Probe checks the matchers without waiting for any of them to appear.
func (r *Resolver) Probe(ctx context.Context, page Page, matchers ...Matcher) Match {
	for i, m := range matchers {
		if ctx.Err() != nil {
			return Match{}
		}
		el, err := page.Lookup(ctx, m)
		if err != nil || el == nil {
			continue
		}
		return Match{Element: el, Matcher: m, Index: i}
	}
	return Match{}
}

func (r *Resolver) resolve(ctx context.Context, page Page, matchers []Matcher, op string, act func(context.Context, Element) error) Match {
	for i, m := range matchers {
		if ctx.Err() != nil {
			return Match{}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, r.timeout)
		el, err := page.Find(attemptCtx, m)
		if err == nil && act != nil {
			err = act(attemptCtx, el)
		}
		cancel()

		if err != nil {
			r.log.Debug("Matcher missed", zap.String("op", op), zap.Int("index", i), zap.Stringer("matcher", m), zap.Error(err))
			continue
		}

		r.log.Debug("Matcher resolved", zap.String("op", op), zap.Int("index", i), zap.Stringer("matcher", m))
		return Match{Element: el, Matcher: m, Index: i}
	}

	r.log.Debug("All matchers exhausted", zap.String("op", op), zap.Int("count", len(matchers)))
	return Match{}
}
