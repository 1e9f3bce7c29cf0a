// Copyright 2026 The Docstore Authors
// SPDX-License-Identifier: Apache-2.0

// Package version reports the build version of docstore binaries, for
// --version output and for the agent string nodes exchange in identify.
package version
