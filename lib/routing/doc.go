// Copyright 2026 The Docstore Authors
// SPDX-License-Identifier: Apache-2.0

// Package routing keeps the peers a node knows about in Kademlia-style
// k-buckets ordered by XOR distance from the local peer.
//
// Peer IDs map to 256-bit keys with SHA-256 so distances are uniform
// regardless of the peer ID encoding. Bucket i holds peers whose key
// shares exactly i leading bits with the local key. Each bucket is an
// LRU list capped at the bucket size: refreshing a peer moves it to the
// tail, and a full bucket rejects newcomers so long-lived peers stay.
package routing
