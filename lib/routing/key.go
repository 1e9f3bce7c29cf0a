// Copyright 2026 The Docstore Authors
// SPDX-License-Identifier: Apache-2.0

package routing

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"math/bits"

	"github.com/simplep2p/docstore/lib/identity"
)

// KeySize is the length of a routing key in bytes.
const KeySize = sha256.Size

// Key is a position in the routing keyspace.
type Key [KeySize]byte

// KeyFor maps a peer ID into the keyspace.
func KeyFor(peer identity.PeerID) Key {
	return Key(sha256.Sum256([]byte(peer)))
}

// Distance is the XOR of a and b.
func Distance(a, b Key) Key {
	var distance Key
	for i := range distance {
		distance[i] = a[i] ^ b[i]
	}
	return distance
}

// CommonPrefixLen counts the leading bits a and b share.
func CommonPrefixLen(a, b Key) int {
	for i := range a {
		if x := a[i] ^ b[i]; x != 0 {
			return i*8 + bits.LeadingZeros8(x)
		}
	}
	return KeySize * 8
}

// Closer reports whether a is strictly closer to target than b.
func Closer(a, b, target Key) bool {
	distanceA := Distance(a, target)
	distanceB := Distance(b, target)
	return bytes.Compare(distanceA[:], distanceB[:]) < 0
}

func (k Key) String() string { return hex.EncodeToString(k[:]) }
