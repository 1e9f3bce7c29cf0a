// Copyright 2026 The Docstore Authors
// SPDX-License-Identifier: Apache-2.0

// Package web is a node's HTTP surface. One listener carries the
// embedded browser harness, the WebRTC signaling endpoint browsers POST
// offers to, a websocket stream of node events and JSON status.
//
// The listener binds the TCP port numbered like the node's WebRTC UDP
// port, which is where /webrtc-direct dialers look for /signal.
package web
