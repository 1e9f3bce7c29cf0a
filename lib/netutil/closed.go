// Copyright 2026 The Docstore Authors
// SPDX-License-Identifier: Apache-2.0

package netutil

import (
	"errors"
	"io"
	"net"
	"syscall"
)

// teardownErrors are returned by reads and writes racing a close on
// either side of a link.
var teardownErrors = []error{
	io.EOF,
	io.ErrUnexpectedEOF,
	io.ErrClosedPipe,
	net.ErrClosed,
	syscall.EPIPE,
	syscall.ECONNRESET,
	syscall.ECONNABORTED,
}

// IsExpectedCloseError reports whether err is how a link ends when the
// remote peer goes away or the local side closes it. Link loops return
// quietly on these instead of logging them.
func IsExpectedCloseError(err error) bool {
	if err == nil {
		return false
	}
	for _, target := range teardownErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
