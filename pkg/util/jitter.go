package util

import (
	"context"
	"math/rand"
	"time"
)

const jitterScale = 2

// Jitter returns d perturbed by up to +/- percent.
func Jitter(d time.Duration, percent float64) time.Duration {
	if percent <= 0 {
		return d
	}
	delta := time.Duration(float64(d) * percent)
	if delta <= 0 {
		return d
	}
	n := int64(delta)*jitterScale + 1
	offset := time.Duration(rand.Int63n(n)) - delta //nolint:gosec
	return d + offset
}

// SleepJittered blocks for a jittered duration, returning early with the
// context error if ctx ends first.
func SleepJittered(ctx context.Context, base time.Duration, percent float64) error {
	timer := time.NewTimer(Jitter(base, percent))
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
