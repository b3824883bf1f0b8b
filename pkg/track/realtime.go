// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package track

import (
	"context"
	"time"
)

// Pacing limits for RunRealtime
const (
	minSleep   = time.Millisecond
	maxBacklog = 100 * time.Millisecond
)

// RunRealtime calls step repeatedly, pacing the returned durations against
// the wall clock. Steps are batched between sleeps of at least a
// millisecond; if the loop falls further behind than maxBacklog the
// schedule is rebased instead of bursting to catch up.
func RunRealtime(ctx context.Context, step func() time.Duration) error {
	next := time.Now()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		next = next.Add(step())
		now := time.Now()
		switch wait := next.Sub(now); {
		case wait > minSleep:
			time.Sleep(wait)
		case wait < -maxBacklog:
			next = now
		}
	}
}

// Run drives the track in real time until ctx is cancelled
func (d *Driver) Run(ctx context.Context) error {
	return RunRealtime(ctx, d.Step)
}
