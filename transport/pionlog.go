// Copyright 2026 The Docstore Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pion/logging"
)

// slogLoggerFactory routes pion's internal logging (ICE, DTLS, SCTP)
// into slog, one logger per pion scope. pion's trace level maps below
// slog's debug level so it stays hidden unless explicitly enabled.
type slogLoggerFactory struct {
	logger *slog.Logger
}

// levelTrace is below slog.LevelDebug.
const levelTrace = slog.LevelDebug - 4

func newSlogLoggerFactory(logger *slog.Logger) logging.LoggerFactory {
	return slogLoggerFactory{logger: logger}
}

func (f slogLoggerFactory) NewLogger(scope string) logging.LeveledLogger {
	return slogLeveledLogger{logger: f.logger.With("pion", scope)}
}

type slogLeveledLogger struct {
	logger *slog.Logger
}

func (l slogLeveledLogger) log(level slog.Level, message string) {
	l.logger.Log(context.Background(), level, message)
}

func (l slogLeveledLogger) logf(level slog.Level, format string, args ...any) {
	if !l.logger.Enabled(context.Background(), level) {
		return
	}
	l.logger.Log(context.Background(), level, fmt.Sprintf(format, args...))
}

func (l slogLeveledLogger) Trace(message string) { l.log(levelTrace, message) }
func (l slogLeveledLogger) Tracef(format string, args ...any) {
	l.logf(levelTrace, format, args...)
}
func (l slogLeveledLogger) Debug(message string) { l.log(slog.LevelDebug, message) }
func (l slogLeveledLogger) Debugf(format string, args ...any) {
	l.logf(slog.LevelDebug, format, args...)
}
func (l slogLeveledLogger) Info(message string) { l.log(slog.LevelInfo, message) }
func (l slogLeveledLogger) Infof(format string, args ...any) {
	l.logf(slog.LevelInfo, format, args...)
}
func (l slogLeveledLogger) Warn(message string) { l.log(slog.LevelWarn, message) }
func (l slogLeveledLogger) Warnf(format string, args ...any) {
	l.logf(slog.LevelWarn, format, args...)
}
func (l slogLeveledLogger) Error(message string) { l.log(slog.LevelError, message) }
func (l slogLeveledLogger) Errorf(format string, args ...any) {
	l.logf(slog.LevelError, format, args...)
}
