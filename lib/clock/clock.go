// Copyright 2026 The Docstore Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import "time"

// Clock is the subset of the time package that node components use.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After delivers the time on the returned channel once d has
	// elapsed. A non-positive d delivers immediately.
	After(d time.Duration) <-chan time.Time

	// AfterFunc calls f once d has elapsed. The returned Timer has a
	// nil C.
	AfterFunc(d time.Duration, f func()) *Timer

	// NewTicker delivers ticks every d. It panics if d <= 0.
	NewTicker(d time.Duration) *Ticker
}

// Ticker delivers periodic ticks on C. C holds at most one pending
// tick; slow readers miss ticks instead of queueing them.
type Ticker struct {
	C <-chan time.Time

	stop  func()
	reset func(time.Duration)
}

// Stop turns the ticker off. C is not closed.
func (t *Ticker) Stop() { t.stop() }

// Reset changes the interval and restarts the period from now.
func (t *Ticker) Reset(d time.Duration) { t.reset(d) }

// Timer is a pending AfterFunc call.
type Timer struct {
	C <-chan time.Time

	stop  func() bool
	reset func(time.Duration) bool
}

// Stop cancels the call. It reports whether the timer was still
// pending.
func (t *Timer) Stop() bool { return t.stop() }

// Reset reschedules the call d from now. It reports whether the timer
// was still pending.
func (t *Timer) Reset(d time.Duration) bool { return t.reset(d) }
