// Copyright 2026 The Docstore Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"context"
	"log/slog"
	"strings"
	"testing"
)

// Logger returns a logger that writes through t.Log, so output only
// appears for failing tests or with -v. Records logged after the test
// finishes are dropped.
func Logger(t testing.TB) *slog.Logger {
	return slog.New(&testHandler{t: t, level: slog.LevelDebug})
}

// DiscardLogger returns a logger that drops everything.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

type testHandler struct {
	t      testing.TB
	level  slog.Level
	prefix string
	attrs  []slog.Attr
}

func (h *testHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *testHandler) Handle(_ context.Context, record slog.Record) error {
	var builder strings.Builder
	builder.WriteString(record.Level.String())
	builder.WriteString(" ")
	builder.WriteString(record.Message)
	write := func(attr slog.Attr) bool {
		builder.WriteString(" ")
		builder.WriteString(h.prefix)
		builder.WriteString(attr.String())
		return true
	}
	for _, attr := range h.attrs {
		write(attr)
	}
	record.Attrs(write)

	defer func() {
		// t.Log panics once the test has completed.
		recover()
	}()
	h.t.Log(builder.String())
	return nil
}

func (h *testHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.attrs = append(append([]slog.Attr(nil), h.attrs...), attrs...)
	return &clone
}

func (h *testHandler) WithGroup(name string) slog.Handler {
	clone := *h
	clone.prefix = h.prefix + name + "."
	return &clone
}
