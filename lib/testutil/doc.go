// Copyright 2026 The Docstore Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil holds test helpers shared across docstore packages.
//
// [RequireReceive] and [RequireClosed] bound channel waits with a
// timeout so a broken test fails instead of hanging. Heartbeats and
// expiry inside the code under test run on lib/clock; these are the
// only wall-clock timeouts in most tests.
//
// [Logger] routes slog output through t.Log; [DiscardLogger] drops it.
package testutil
