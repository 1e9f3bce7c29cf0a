// Copyright 2026 The Docstore Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import "time"

// Real returns the wall clock.
func Real() Clock { return wallClock{} }

type wallClock struct{}

func (wallClock) Now() time.Time                         { return time.Now() }
func (wallClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

func (wallClock) AfterFunc(d time.Duration, f func()) *Timer {
	timer := time.AfterFunc(d, f)
	return &Timer{stop: timer.Stop, reset: timer.Reset}
}

func (wallClock) NewTicker(d time.Duration) *Ticker {
	ticker := time.NewTicker(d)
	return &Ticker{C: ticker.C, stop: ticker.Stop, reset: ticker.Reset}
}
