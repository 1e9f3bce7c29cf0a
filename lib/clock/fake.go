// Copyright 2026 The Docstore Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"slices"
	"sync"
	"time"
)

// FakeClock is a Clock that moves only when Advance is called. It is
// safe for concurrent use.
//
// AfterFunc callbacks run on the goroutine calling Advance, in deadline
// order. A callback must not call Advance.
type FakeClock struct {
	mu      sync.Mutex
	now     time.Time
	pending []*alarm
	armed   *sync.Cond
}

// alarm is one registered After, AfterFunc or ticker deadline.
type alarm struct {
	at       time.Time
	period   time.Duration // non-zero for tickers
	channel  chan time.Time
	callback func()
}

// Fake returns a FakeClock reading start.
func Fake(start time.Time) *FakeClock {
	clock := &FakeClock{now: start}
	clock.armed = sync.NewCond(&clock.mu)
	return clock
}

// Now returns the fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// After returns a channel that fires once the clock passes d from now.
func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	channel := make(chan time.Time, 1)
	c.mu.Lock()
	defer c.mu.Unlock()
	if d <= 0 {
		channel <- c.now
		return channel
	}
	c.arm(&alarm{at: c.now.Add(d), channel: channel})
	return channel
}

// AfterFunc runs f once the clock passes d from now. A non-positive d
// runs f before AfterFunc returns.
func (c *FakeClock) AfterFunc(d time.Duration, f func()) *Timer {
	if d <= 0 {
		f()
		return &Timer{
			stop:  func() bool { return false },
			reset: func(time.Duration) bool { return false },
		}
	}

	c.mu.Lock()
	entry := &alarm{at: c.now.Add(d), callback: f}
	c.arm(entry)
	c.mu.Unlock()

	return &Timer{
		stop: func() bool {
			c.mu.Lock()
			defer c.mu.Unlock()
			return c.disarm(entry)
		},
		reset: func(d time.Duration) bool {
			c.mu.Lock()
			defer c.mu.Unlock()
			wasActive := c.disarm(entry)
			entry.at = c.now.Add(d)
			c.arm(entry)
			return wasActive
		},
	}
}

// NewTicker returns a ticker firing every d of fake time.
func (c *FakeClock) NewTicker(d time.Duration) *Ticker {
	if d <= 0 {
		panic("clock: NewTicker needs a positive interval")
	}
	channel := make(chan time.Time, 1)

	c.mu.Lock()
	entry := &alarm{at: c.now.Add(d), period: d, channel: channel}
	c.arm(entry)
	c.mu.Unlock()

	return &Ticker{
		C: channel,
		stop: func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.disarm(entry)
		},
		reset: func(d time.Duration) {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.disarm(entry)
			entry.period = d
			entry.at = c.now.Add(d)
			c.arm(entry)
		},
	}
}

// Advance moves the clock forward by d, firing every deadline reached
// on the way in time order. A ticker spanning several periods fires
// once per period, subject to its one-slot channel.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	for {
		entry := c.nextDueLocked(target)
		if entry == nil {
			break
		}
		c.now = entry.at
		if entry.period > 0 {
			entry.at = entry.at.Add(entry.period)
			c.pending = append(c.pending, entry)
		}
		fireTime := c.now

		c.mu.Unlock()
		if entry.callback != nil {
			entry.callback()
		} else {
			select {
			case entry.channel <- fireTime:
			default:
			}
		}
		c.mu.Lock()
	}
	c.now = target
	c.mu.Unlock()
}

// WaitForTimers blocks until at least n deadlines are armed. Tests
// call it before Advance so a goroutine that has not yet reached its
// timer does not miss the advance.
func (c *FakeClock) WaitForTimers(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for len(c.pending) < n {
		c.armed.Wait()
	}
}

// PendingCount returns the number of armed deadlines.
func (c *FakeClock) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *FakeClock) arm(entry *alarm) {
	c.pending = append(c.pending, entry)
	c.armed.Broadcast()
}

// disarm removes entry and reports whether it was armed.
func (c *FakeClock) disarm(entry *alarm) bool {
	index := slices.Index(c.pending, entry)
	if index < 0 {
		return false
	}
	c.pending = slices.Delete(c.pending, index, index+1)
	return true
}

// nextDueLocked removes and returns the earliest alarm due at or
// before target, or nil.
func (c *FakeClock) nextDueLocked(target time.Time) *alarm {
	best := -1
	for index, entry := range c.pending {
		if entry.at.After(target) {
			continue
		}
		if best < 0 || entry.at.Before(c.pending[best].at) {
			best = index
		}
	}
	if best < 0 {
		return nil
	}
	entry := c.pending[best]
	c.pending = slices.Delete(c.pending, best, best+1)
	return entry
}
