// Copyright 2026 The Docstore Authors
// SPDX-License-Identifier: Apache-2.0

package version

import (
	"strings"
	"testing"
)

func TestAgent(t *testing.T) {
	if got := Agent("docstore-node"); got != "docstore-node/"+Version {
		t.Errorf("Agent = %q", got)
	}
}

func TestCommitPrefersLinkTimeValue(t *testing.T) {
	saved := GitCommit
	defer func() { GitCommit = saved }()

	GitCommit = "abc1234"
	if got := Commit(); got != "abc1234" {
		t.Errorf("Commit = %q, want abc1234", got)
	}
	if info := Info(); !strings.Contains(info, "abc1234") || !strings.HasPrefix(info, Version) {
		t.Errorf("Info = %q", info)
	}
	if full := Full(); !strings.Contains(full, "Go: ") {
		t.Errorf("Full = %q lacks the Go version", full)
	}
}
