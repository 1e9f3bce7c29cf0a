// Copyright 2026 The Docstore Authors
// SPDX-License-Identifier: Apache-2.0

package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// Set with -ldflags "-X github.com/simplep2p/docstore/lib/version.Version=...".
var (
	Version   = "0.1.0-dev"
	GitCommit = ""
	BuildTime = ""
)

// Commit returns the build's VCS revision: GitCommit when set at link
// time, otherwise the revision the Go toolchain stamped, otherwise
// "unknown".
func Commit() string {
	if GitCommit != "" {
		return GitCommit
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		revision, modified := "", false
		for _, setting := range info.Settings {
			switch setting.Key {
			case "vcs.revision":
				revision = setting.Value
			case "vcs.modified":
				modified = setting.Value == "true"
			}
		}
		if len(revision) > 12 {
			revision = revision[:12]
		}
		if revision != "" {
			if modified {
				revision += "-dirty"
			}
			return revision
		}
	}
	return "unknown"
}

// Info is the one-line form printed by --version.
func Info() string {
	built := BuildTime
	if built == "" {
		built = "unknown build time"
	}
	return fmt.Sprintf("%s (%s, %s)", Version, Commit(), built)
}

// Full adds the Go toolchain and platform to Info.
func Full() string {
	return fmt.Sprintf("%s\n  Go: %s\n  Platform: %s/%s", Info(), runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

// Agent is the agent string a binary reports in identify, for example
// "docstore-node/0.1.0-dev".
func Agent(program string) string {
	return program + "/" + Version
}
