// Copyright 2026 The Docstore Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/simplep2p/docstore/lib/clock"
	"github.com/simplep2p/docstore/node"
)

// DefaultPollInterval is the cadence UIs poll the current session at.
const DefaultPollInterval = 100 * time.Millisecond

// ErrNoSession is returned by Holder operations that need a session
// when none is connected.
var ErrNoSession = errors.New("no active session")

// Holder is the single shared slot for the active session. Connecting
// replaces (and closes) whatever session was there, so at most one is
// live at a time.
type Holder struct {
	options Options
	clock   clock.Clock

	mu      sync.Mutex
	current *Session
}

// NewHolder returns an empty holder. Sessions it opens use options.
func NewHolder(options Options) *Holder {
	clk := options.Clock
	if clk == nil {
		clk = clock.Real()
	}
	return &Holder{options: options, clock: clk}
}

// Connect closes the current session, if any, and opens a new one to
// serverAddress. On failure the slot is left empty.
func (h *Holder) Connect(ctx context.Context, serverAddress string) (*Session, error) {
	h.mu.Lock()
	previous := h.current
	h.current = nil
	h.mu.Unlock()
	if previous != nil {
		previous.Close()
	}

	opened, err := Open(ctx, serverAddress, h.options)
	if err != nil {
		return nil, err
	}

	h.mu.Lock()
	displaced := h.current
	h.current = opened
	h.mu.Unlock()
	if displaced != nil {
		displaced.Close()
	}
	return opened, nil
}

// Current returns the active session, or nil.
func (h *Holder) Current() *Session {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.current
}

// Disconnect closes and clears the active session.
func (h *Holder) Disconnect() error {
	h.mu.Lock()
	current := h.current
	h.current = nil
	h.mu.Unlock()
	if current == nil {
		return ErrNoSession
	}
	return current.Close()
}

// Poll drains the active session's events into sink every cadence until
// ctx is cancelled. A session whose queue is closed and drained is
// cleared from the slot.
func (h *Holder) Poll(ctx context.Context, cadence time.Duration, sink func(node.Event)) error {
	if cadence <= 0 {
		cadence = DefaultPollInterval
	}
	ticker := h.clock.NewTicker(cadence)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			h.Drain(sink)
		}
	}
}

// Drain delivers every queued event of the active session to sink
// without blocking and returns how many it delivered. UIs with their
// own tick loop call it instead of Poll.
func (h *Holder) Drain(sink func(node.Event)) int {
	current := h.Current()
	if current == nil {
		return 0
	}
	delivered := 0
	for {
		event, ok, err := current.TryNextEvent()
		if errors.Is(err, ErrClosed) {
			h.mu.Lock()
			if h.current == current {
				h.current = nil
			}
			h.mu.Unlock()
			return delivered
		}
		if !ok {
			return delivered
		}
		sink(event)
		delivered++
	}
}
