// Copyright 2026 The Docstore Authors
// SPDX-License-Identifier: Apache-2.0

// Package node assembles a docstore peer: identity, transports, the
// gossip router, the routing table and the persistent address book.
//
// Every authenticated link, inbound or outbound, gets the same loop.
// Both sides first send identify (protocol version, agent, listen
// addresses, the address they observe for the other side). Then frames
// are dispatched: subscription and message frames go to the gossip
// router; ping frames are answered; find_peer frames are answered from
// the routing table by relay and full nodes; peers frames resolve this
// node's pending lookups. A keepalive ping runs every 15 seconds and the
// link is dropped after three pings go unanswered.
//
// Everything observable is published as an [Event] and logged. Event
// subscribers that fall behind miss events rather than stall the node.
package node
