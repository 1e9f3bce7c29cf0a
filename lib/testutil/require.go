// Copyright 2026 The Docstore Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"fmt"
	"testing"
	"time"
)

// RequireReceive returns the next value from ch, failing the test if
// none arrives within timeout or ch is closed first.
//
//	event := testutil.RequireReceive(t, events, 5*time.Second, "connected event from %s", peer)
func RequireReceive[T any](t testing.TB, ch <-chan T, timeout time.Duration, what ...any) T {
	t.Helper()
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case value, ok := <-ch:
		if !ok {
			t.Fatalf("%s: channel closed", describe(what))
		}
		return value
	case <-timer.C:
		t.Fatalf("%s: nothing received within %v", describe(what), timeout)
	}
	var zero T
	return zero
}

// RequireClosed waits for ch to close, or to deliver a value, within
// timeout. Readiness and shutdown channels signal this way.
//
//	testutil.RequireClosed(t, node.Done(), 5*time.Second, "node shutdown")
func RequireClosed(t testing.TB, ch <-chan struct{}, timeout time.Duration, what ...any) {
	t.Helper()
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ch:
	case <-timer.C:
		t.Fatalf("%s: channel still open after %v", describe(what), timeout)
	}
}

// describe renders the optional description: a plain value, or a format
// string and its arguments.
func describe(what []any) string {
	switch {
	case len(what) == 0:
		return "waiting on channel"
	case len(what) == 1:
		return fmt.Sprint(what[0])
	}
	if format, ok := what[0].(string); ok {
		return fmt.Sprintf(format, what[1:]...)
	}
	return fmt.Sprint(what...)
}
