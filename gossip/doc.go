// Copyright 2026 The Docstore Authors
// SPDX-License-Identifier: Apache-2.0

// Package gossip implements topic-based publish/subscribe across the
// links of a node.
//
// A Router tracks which topics this node and each connected peer are
// subscribed to. Subscription changes are announced to every peer as
// "subscriptions" frames. Published messages are signed by the author,
// identified by a content ID over their signing bytes, and flooded: each
// router that has not seen a message before delivers it locally (when
// subscribed) and forwards it to every other peer subscribed to the
// topic, excluding the peer it came from and the author.
//
// The router does not own links. The node registers a Sender per peer
// with AddPeer, feeds inbound frames to HandleFrame, and removes the
// peer when its link closes. Run drives the heartbeat that expires the
// seen-message cache.
package gossip
