// Package pacing provides randomized delays used between automated actions.
// Fixed timing is a bot signature; every outbound action and remote call in
// the relay goes through one of these helpers.
package pacing

import (
	"context"
	"math/rand/v2"
	"time"
)

// Jitter returns a random duration in [min, max]. If max <= min it returns min.
func Jitter(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + rand.N(max-min+1)
}

// Sleep waits for d or until ctx is cancelled, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
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

// Delay sleeps a jittered duration in [min, max].
func Delay(ctx context.Context, min, max time.Duration) error {
	return Sleep(ctx, Jitter(min, max))
}

// HumanDelay sleeps a jittered duration scaled by the local hour: slower at
// night, slightly faster during commute/evening peaks.
func HumanDelay(ctx context.Context, min, max time.Duration) error {
	min, max = ScaleForHour(min, max, time.Now().Hour())
	return Sleep(ctx, Jitter(min, max))
}

// ScaleForHour adjusts a delay range for the hour of day (0–23).
func ScaleForHour(min, max time.Duration, hour int) (time.Duration, time.Duration) {
	switch {
	case hour >= 0 && hour <= 6:
		// sleepy hours
		min = time.Duration(float64(min) * 1.4)
		max = time.Duration(float64(max) * 1.6)
	case (hour >= 7 && hour <= 10) || (hour >= 17 && hour <= 20):
		// busy hours
		min = time.Duration(float64(min) * 0.85)
		max = time.Duration(float64(max) * 0.85)
	}
	return min, max
}

// TypingDuration estimates how long a human would type text, at a random
// 30–70ms per character, clamped to 0.7x–1.4x of target.
func TypingDuration(text string, target time.Duration) time.Duration {
	chars := len([]rune(text))
	if chars == 0 {
		chars = 10
	}
	perChar := Jitter(30*time.Millisecond, 70*time.Millisecond)
	d := time.Duration(chars) * perChar

	lo := time.Duration(float64(target) * 0.7)
	hi := time.Duration(float64(target) * 1.4)
	if d < lo {
		d = lo
	}
	if d > hi {
		d = hi
	}
	return d
}
