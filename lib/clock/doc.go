// Copyright 2026 The Docstore Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock lets time-driven components (the gossip heartbeat, the
// seen-message cache, link keepalives, the session poller) run against
// either the wall clock or a manually advanced fake.
//
// Components take a Clock field. Production wiring passes Real(); tests
// pass Fake(start), wait for the component to arm its timers with
// WaitForTimers, and then call Advance to fire them deterministically.
package clock
