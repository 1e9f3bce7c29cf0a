// Copyright 2026 The Docstore Authors
// SPDX-License-Identifier: Apache-2.0

// Package secret keeps passphrases out of the Go heap.
//
// A [Buffer] is an anonymous mmap region, locked against swap and
// excluded from core dumps, that is zeroed and unmapped on Close. The
// identity key passphrase is read into one by [ReadFromPath] (a file,
// or stdin for "-"), [FromEnvironment], or [Prompt] (an interactive
// terminal prompt with echo disabled) and handed to lib/identity, which
// borrows it for age encryption.
package secret
