package main

import (
	"context"
	"math/rand"
	"time"
)

// sleepCtx waits for d or until ctx is done, whichever comes first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Delayer inserts the human-paced pauses between page interactions. Each run
// gets its own so concurrent runs never share a random source.
type Delayer struct {
	rand  *rand.Rand
	scale float64
	sleep func(ctx context.Context, d time.Duration) error
}

func NewDelayer(seed int64, scale float64) *Delayer {
	return &Delayer{
		rand:  rand.New(rand.NewSource(seed)),
		scale: scale,
		sleep: sleepCtx,
	}
}

// Draw returns a duration uniformly distributed over [min, max].
func (d *Delayer) Draw(min, max time.Duration) time.Duration {
	if max < min {
		min, max = max, min
	}
	if max == min {
		return min
	}
	return min + time.Duration(d.rand.Int63n(int64(max-min)+1))
}

// Between sleeps for a uniform draw over [min, max], scaled by the configured
// factor.
func (d *Delayer) Between(ctx context.Context, min, max time.Duration) error {
	wait := time.Duration(float64(d.Draw(min, max)) * d.scale)
	return d.sleep(ctx, wait)
}

// Intn exposes the run's random source to callers that need jitter.
func (d *Delayer) Intn(n int) int {
	return d.rand.Intn(n)
}

func (d *Delayer) Float64() float64 {
	return d.rand.Float64()
}
