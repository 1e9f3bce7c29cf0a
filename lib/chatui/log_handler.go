// Copyright 2026 The Docstore Authors
// SPDX-License-Identifier: Apache-2.0

package chatui

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// logRecordMsg carries a slog record into the model for the status
// line.
type logRecordMsg struct {
	Summary string
	Level   slog.Level
}

// logRecordFadeMsg clears a log record from the status line. Seq
// matches the record it fades so a newer record is not cleared early.
type logRecordFadeMsg struct{ Seq int }

const logRecordFadeDelay = 5 * time.Second

// LogHandler routes slog records into a bubbletea program so log output
// does not tear the alternate screen. Records below the level, and
// records arriving before SetProgram, are dropped.
//
// Handlers derived with WithAttrs or WithGroup share the program
// pointer of the root handler.
type LogHandler struct {
	level   slog.Leveler
	program *atomic.Pointer[tea.Program]
	attrs   []slog.Attr
	group   string
}

// NewLogHandler returns a handler delivering records at or above level.
func NewLogHandler(level slog.Leveler) *LogHandler {
	return &LogHandler{level: level, program: &atomic.Pointer[tea.Program]{}}
}

// SetProgram starts delivery to program.
func (handler *LogHandler) SetProgram(program *tea.Program) {
	handler.program.Store(program)
}

func (handler *LogHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= handler.level.Level()
}

func (handler *LogHandler) Handle(_ context.Context, record slog.Record) error {
	program := handler.program.Load()
	if program == nil {
		return nil
	}
	program.Send(logRecordMsg{Summary: handler.summarize(record), Level: record.Level})
	return nil
}

// summarize renders "message (key=value, ...)".
func (handler *LogHandler) summarize(record slog.Record) string {
	var parts []string
	for _, attr := range handler.attrs {
		parts = append(parts, handler.formatAttr(attr))
	}
	record.Attrs(func(attr slog.Attr) bool {
		parts = append(parts, handler.formatAttr(attr))
		return true
	})
	if len(parts) == 0 {
		return record.Message
	}
	return record.Message + " (" + strings.Join(parts, ", ") + ")"
}

func (handler *LogHandler) formatAttr(attr slog.Attr) string {
	key := attr.Key
	if handler.group != "" {
		key = handler.group + "." + key
	}
	return fmt.Sprintf("%s=%s", key, attr.Value)
}

func (handler *LogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	derived := *handler
	derived.attrs = append(append([]slog.Attr(nil), handler.attrs...), attrs...)
	return &derived
}

func (handler *LogHandler) WithGroup(name string) slog.Handler {
	derived := *handler
	if derived.group == "" {
		derived.group = name
	} else {
		derived.group += "." + name
	}
	return &derived
}
