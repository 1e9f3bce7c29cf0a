// Copyright 2026 The Docstore Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
)

// ErrUsage marks errors caused by bad command-line input. Fatal exits
// with status 2 for them.
var ErrUsage = errors.New("usage error")

// Usagef returns an error wrapping ErrUsage.
func Usagef(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrUsage, fmt.Sprintf(format, args...))
}

// Fatal prints err to stderr and exits. Binaries call it from main with
// the result of run, before or after the logger exists.
func Fatal(err error) {
	os.Exit(report(os.Stderr, err))
}

// report writes err and returns the exit status for it.
func report(output io.Writer, err error) int {
	fmt.Fprintf(output, "error: %v\n", err)
	if errors.Is(err, ErrUsage) {
		return 2
	}
	return 1
}

// SignalContext returns a context cancelled on SIGINT or SIGTERM.
func SignalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
