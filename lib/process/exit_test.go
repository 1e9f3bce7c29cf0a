// Copyright 2026 The Docstore Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"bytes"
	"errors"
	"fmt"
	"testing"
)

func TestReport(t *testing.T) {
	var output bytes.Buffer
	if status := report(&output, errors.New("listen udp :9090: address in use")); status != 1 {
		t.Errorf("status = %d, want 1", status)
	}
	if output.String() != "error: listen udp :9090: address in use\n" {
		t.Errorf("output = %q", output.String())
	}

	output.Reset()
	usage := fmt.Errorf("parsing flags: %w", Usagef("unknown role %q", "leader"))
	if status := report(&output, usage); status != 2 {
		t.Errorf("usage status = %d, want 2", status)
	}
}
