package main

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const (
	sliderSteps  = 20
	sliderMargin = 10
	sliderJitter = 2.0
)

type point struct {
	X, Y float64
}

// sliderDistance is how far the handle travels to reach the end of the track.
func sliderDistance(handle, track Box) float64 {
	return track.Width - handle.Width - sliderMargin
}

// sliderPath returns the pointer positions of a drag from the handle centre
// to the end of the track. Every point but the last is jittered vertically by
// up to sliderJitter pixels; the last lands exactly on the target.
func sliderPath(handle, track Box, jitter func() float64) ([]point, error) {
	distance := sliderDistance(handle, track)
	if distance <= 0 {
		return nil, fmt.Errorf("slider track too short: track %.0fpx, handle %.0fpx", track.Width, handle.Width)
	}

	startX, startY := handle.Center()
	path := make([]point, 0, sliderSteps)
	for i := 1; i <= sliderSteps; i++ {
		p := point{X: startX + distance*float64(i)/sliderSteps, Y: startY}
		if i < sliderSteps {
			p.Y += jitter()
		}
		path = append(path, p)
	}
	return path, nil
}

// dragSlider presses on the handle, walks the path and releases. The button is
// released even when a move fails so the page is not left mid-drag.
func dragSlider(ctx context.Context, mouse Mouse, handle, track Box, d *Delayer) (err error) {
	path, err := sliderPath(handle, track, func() float64 {
		return d.Float64()*2*sliderJitter - sliderJitter
	})
	if err != nil {
		return err
	}

	startX, startY := handle.Center()
	if err := mouse.MoveTo(ctx, startX, startY); err != nil {
		return fmt.Errorf("failed to move to slider handle: %w", err)
	}
	if err := mouse.Down(ctx); err != nil {
		return fmt.Errorf("failed to press slider handle: %w", err)
	}

	released := false
	defer func() {
		if released {
			return
		}
		upCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
		defer cancel()
		if upErr := mouse.Up(upCtx); upErr != nil {
			err = errors.Join(err, fmt.Errorf("failed to release slider: %w", upErr))
		}
	}()

	for _, p := range path {
		if err := mouse.MoveTo(ctx, p.X, p.Y); err != nil {
			return fmt.Errorf("slider drag interrupted: %w", err)
		}
		if err := d.Between(ctx, 15*time.Millisecond, 25*time.Millisecond); err != nil {
			return err
		}
	}

	released = true
	if err := mouse.Up(ctx); err != nil {
		return fmt.Errorf("failed to release slider: %w", err)
	}
	return nil
}
