// Copyright 2026 The Docstore Authors
// SPDX-License-Identifier: Apache-2.0

// Package identity manages a node's Ed25519 keypair and the peer ID
// derived from it.
//
// Peer IDs use the libp2p encoding: an identity multihash over the
// protobuf-framed public key, printed in base58btc. Because the key is
// embedded, any node can check a signature given only the signer's
// peer ID ([PeerID.Verify]); transport authentication and gossip
// message signing both rely on this.
//
// Key files hold the protobuf-framed private key. [LoadOrCreate] keeps a
// server's address stable across restarts: it reuses the key at the
// configured path or writes a new one with mode 0600. When a passphrase
// is configured the file is encrypted with an age scrypt recipient.
package identity
