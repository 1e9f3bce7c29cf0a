// Copyright 2026 The Docstore Authors
// SPDX-License-Identifier: Apache-2.0

// Package peerstore is the node's persistent address book: the peers it
// has connected to or learned about, the addresses they listen on, and
// what they reported in identify. A restarted node seeds its routing
// table from here before bootstrapping.
package peerstore
