// Copyright 2026 The Docstore Authors
// SPDX-License-Identifier: Apache-2.0

package gossip

import (
	"encoding/binary"
	"fmt"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
	"github.com/zeebo/blake3"

	"github.com/simplep2p/docstore/lib/identity"
	"github.com/simplep2p/docstore/lib/wire"
)

// MessageID identifies a message across the overlay: the string form
// of a CIDv1 (raw codec) over the BLAKE3 multihash of the message's
// signing bytes.
type MessageID string

func (id MessageID) String() string { return string(id) }

// ComputeMessageID derives the ID of message.
func ComputeMessageID(message *wire.Message) (MessageID, error) {
	digest := blake3.Sum256(message.SigningBytes())
	hash, err := multihash.Encode(digest[:], multihash.BLAKE3)
	if err != nil {
		return "", fmt.Errorf("encoding message multihash: %w", err)
	}
	return MessageID(cid.NewCidV1(cid.Raw, hash).String()), nil
}

// Message is a validated message as delivered to the application.
type Message struct {
	ID     MessageID
	Author identity.PeerID
	Topic  string
	Data   []byte
	Seqno  uint64

	// ReceivedFrom is the peer that forwarded the message to this node.
	// It equals Author when the author is a direct neighbour.
	ReceivedFrom identity.PeerID
}

func seqnoBytes(seqno uint64) []byte {
	return binary.BigEndian.AppendUint64(make([]byte, 0, wire.SeqnoSize), seqno)
}
