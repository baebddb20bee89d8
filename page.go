package main

import "context"

// Page is the slice of a browser tab the automation drives. The rod adapter
// implements it against a live browser; tests script it.
type Page interface {
	Navigate(ctx context.Context, url string) error
	// Find waits until an element matching m appears or ctx is done.
	Find(ctx context.Context, m Matcher) (Element, error)
	// Lookup returns immediately, with ErrElementNotFound when nothing matches.
	Lookup(ctx context.Context, m Matcher) (Element, error)
	FindAll(ctx context.Context, m Matcher) ([]Element, error)
	// Text is the rendered text of the whole document body.
	Text(ctx context.Context) (string, error)
	URL(ctx context.Context) (string, error)
	Screenshot(ctx context.Context) ([]byte, error)
	Eval(ctx context.Context, js string, args ...interface{}) error
	Mouse() Mouse
}

type Element interface {
	Click(ctx context.Context) error
	// Fill replaces the current value of an input.
	Fill(ctx context.Context, value string) error
	Text(ctx context.Context) (string, error)
	Attribute(ctx context.Context, name string) (string, error)
	Box(ctx context.Context) (Box, error)
}

type Mouse interface {
	MoveTo(ctx context.Context, x, y float64) error
	Down(ctx context.Context) error
	Up(ctx context.Context) error
}

// Box is an element's border box in viewport coordinates.
type Box struct {
	X, Y, Width, Height float64
}

func (b Box) Center() (float64, float64) {
	return b.X + b.Width/2, b.Y + b.Height/2
}
