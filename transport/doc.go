// Copyright 2026 The Docstore Authors
// SPDX-License-Identifier: Apache-2.0

// Package transport provides authenticated, frame-oriented links between
// docstore nodes and between browsers and nodes.
//
// The package defines two interfaces: [Listener] accepts inbound links
// (Serve, Addresses, Close), and [Dialer] opens outbound links (Dial).
// Both hand out [Link] values: one remote peer, one frame stream, with
// the remote identity already proven.
//
// [WebRTCTransport] carries links over pion/webrtc data channels and
// implements both Listener and Dialer on a single instance. Each remote
// peer gets one PeerConnection with two channels: "auth", where both
// sides complete a mutual Ed25519 challenge-response against the keys
// embedded in their peer IDs, and "gossip", whose protocol string selects
// the frame codec (CBOR between nodes, JSON for the browser harness).
// When the transport owns a UDP socket, every PeerConnection shares it
// through an ICE UDP mux, so the node listens on one fixed port and its
// webrtc-direct addresses are dialable. The DTLS certificate is supplied
// by the node, and dialers check the answer's fingerprint against the
// /certhash component of the address they dialed.
//
// Signaling is abstracted behind the [Signaler] interface: one offer in,
// one answer out, with all ICE candidates gathered first (vanilla ICE).
// [HTTPSignaler] POSTs offers to the target's /signal endpoint, served by
// [SignalHandler]. [MemorySignaler] connects transports in one process
// for tests. When two nodes offer to each other at the same time, the
// peer with the lexicographically smaller peer ID is the canonical
// offerer and the other offer is rejected with [ErrOfferConflict].
//
// [TCPListener] and [TCPDialer] carry the same links over TCP for
// server-to-server traffic: an X25519 key exchange sets up
// ChaCha20-Poly1305 records, then the same challenge-response runs bound
// to the exchange transcript.
//
// [ICEConfig] holds STUN/TURN server configuration. [DataChannelConn]
// wraps a detached data channel as a net.Conn with deadline support.
package transport
