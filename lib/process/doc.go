// Copyright 2026 The Docstore Authors
// SPDX-License-Identifier: Apache-2.0

// Package process holds the entrypoint helpers shared by the docstore
// binaries: shutdown on signals, and reporting the error returned by
// run() with the right exit status.
package process
