// Copyright 2026 The Docstore Authors
// SPDX-License-Identifier: Apache-2.0

// Package chatui is the terminal client for docstore: a bubbletea
// model that prompts for a server address, connects a session through
// a [session.Holder], publishes each line typed as an update and shows
// everything the session reports in a scrolling log.
//
// The model drains the holder on a fixed tick rather than blocking on
// the session. JSON payloads are pretty-printed with syntax
// highlighting; other payloads render as markdown.
//
// Slash commands: /connect, /reconnect, /disconnect, /find, /status,
// /help and /quit. [LogHandler] routes slog output into the status line
// so logging does not corrupt the screen.
package chatui
