// Copyright 2026 The Docstore Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"errors"
	"fmt"

	"github.com/multiformats/go-varint"
)

// FrameType discriminates link frames.
type FrameType string

const (
	TypeIdentify      FrameType = "identify"
	TypeSubscriptions FrameType = "subscriptions"
	TypeMessage       FrameType = "message"
	TypePing          FrameType = "ping"
	TypePong          FrameType = "pong"
	TypeFindPeer      FrameType = "find_peer"
	TypePeers         FrameType = "peers"
	TypeError         FrameType = "error"
)

// ErrMalformedFrame is returned when a frame decodes but its body does
// not match its type.
var ErrMalformedFrame = errors.New("malformed frame")

// Frame is one unit on a link. Exactly the section named by Type is set.
type Frame struct {
	Type FrameType `json:"type"`

	Identify      *Identify         `json:"identify,omitempty"`
	Subscriptions []SubscriptionOpt `json:"subscriptions,omitempty"`
	Message       *Message          `json:"message,omitempty"`
	FindPeer      *FindPeer         `json:"find_peer,omitempty"`
	Peers         *Peers            `json:"peers,omitempty"`

	// Nonce pairs a pong with its ping.
	Nonce uint64 `json:"nonce,omitempty"`

	// Error carries the reason for TypeError frames.
	Error string `json:"error,omitempty"`
}

// Identify announces what a node is and where it listens. It is the
// first frame each side sends on a new link.
type Identify struct {
	ProtocolVersion string   `json:"protocol_version"`
	AgentVersion    string   `json:"agent_version"`
	Role            string   `json:"role,omitempty"`
	ListenAddrs     []string `json:"listen_addrs,omitempty"`

	// ObservedAddr is the sender's view of the receiver's address.
	ObservedAddr string   `json:"observed_addr,omitempty"`
	Protocols    []string `json:"protocols,omitempty"`
}

// SubscriptionOpt announces joining or leaving a topic.
type SubscriptionOpt struct {
	Topic     string `json:"topic"`
	Subscribe bool   `json:"subscribe"`
}

// Message is a signed pub/sub message. From is the author's peer ID in
// text form; the signature covers [Message.SigningBytes].
type Message struct {
	From      string `json:"from"`
	Seqno     []byte `json:"seqno"`
	Topic     string `json:"topic"`
	Data      []byte `json:"data"`
	Signature []byte `json:"signature"`
}

// signingPrefix domain-separates pub/sub signatures from every other
// use of the node key.
const signingPrefix = "docstore:pubsub:"

// SeqnoSize is the length of a message sequence number.
const SeqnoSize = 8

// SigningBytes is the byte string an author signs:
//
//	"docstore:pubsub:" || uvarint(len(from)) || from ||
//	uvarint(len(topic)) || topic || seqno || data
func (m *Message) SigningBytes() []byte {
	fromLength := varint.ToUvarint(uint64(len(m.From)))
	topicLength := varint.ToUvarint(uint64(len(m.Topic)))
	output := make([]byte, 0, len(signingPrefix)+len(fromLength)+len(topicLength)+len(m.From)+len(m.Topic)+len(m.Seqno)+len(m.Data))
	output = append(output, signingPrefix...)
	output = append(output, fromLength...)
	output = append(output, m.From...)
	output = append(output, topicLength...)
	output = append(output, m.Topic...)
	output = append(output, m.Seqno...)
	return append(output, m.Data...)
}

// FindPeer asks the receiver for the peers it knows closest to Target.
type FindPeer struct {
	QueryID string `json:"query_id"`
	Target  string `json:"target"`
}

// Peers answers a FindPeer.
type Peers struct {
	QueryID string     `json:"query_id"`
	Peers   []PeerInfo `json:"peers"`
}

// PeerInfo is a peer ID with the addresses it can be dialed at.
type PeerInfo struct {
	ID    string   `json:"id"`
	Addrs []string `json:"addrs,omitempty"`
}

// Validate checks that the section required by Type is present.
func (f *Frame) Validate() error {
	var missing string
	switch f.Type {
	case TypeIdentify:
		if f.Identify == nil {
			missing = "identify"
		}
	case TypeSubscriptions:
		if len(f.Subscriptions) == 0 {
			missing = "subscriptions"
		}
	case TypeMessage:
		if f.Message == nil {
			missing = "message"
		} else if len(f.Message.Seqno) != SeqnoSize {
			return fmt.Errorf("%w: seqno is %d bytes, want %d", ErrMalformedFrame, len(f.Message.Seqno), SeqnoSize)
		}
	case TypeFindPeer:
		if f.FindPeer == nil {
			missing = "find_peer"
		}
	case TypePeers:
		if f.Peers == nil {
			missing = "peers"
		}
	case TypePing, TypePong, TypeError:
	default:
		return fmt.Errorf("%w: unknown type %q", ErrMalformedFrame, f.Type)
	}
	if missing != "" {
		return fmt.Errorf("%w: %s frame without %s", ErrMalformedFrame, f.Type, missing)
	}
	return nil
}
