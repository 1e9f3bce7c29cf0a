// Copyright 2026 The Docstore Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"errors"

	"github.com/simplep2p/docstore/lib/address"
	"github.com/simplep2p/docstore/lib/identity"
)

// ErrOfferConflict is returned when both peers offered at the same time
// and the receiving side is the canonical offerer. The dialer should
// drop its attempt and wait for the other side's offer.
var ErrOfferConflict = errors.New("simultaneous offer: remote peer is the canonical offerer")

// Signal types.
const (
	SignalOffer  = "offer"
	SignalAnswer = "answer"
)

// Signaler carries one SDP offer to the node behind target and returns
// its answer.
//
// The signaling model is vanilla ICE: every candidate is gathered before
// the SDP is sent, so a connection needs exactly one signaling round
// trip (offer, answer).
type Signaler interface {
	Exchange(ctx context.Context, target address.Address, offer SignalMessage) (SignalMessage, error)
}

// OfferAcceptor answers offers. WebRTCTransport implements it; signalers
// deliver offers to it.
type OfferAcceptor interface {
	AcceptOffer(ctx context.Context, offer SignalMessage) (SignalMessage, error)
}

// SignalMessage is an offer or answer. It is also the JSON body of the
// HTTP signaling exchange, which browsers speak directly.
type SignalMessage struct {
	// Peer is the sender: the offerer for offers and the answerer for
	// answers. It is a claim until the auth channel proves it.
	Peer identity.PeerID `json:"peer_id"`

	// Type is SignalOffer or SignalAnswer.
	Type string `json:"type"`

	// SDP is the complete session description with all ICE candidates
	// embedded.
	SDP string `json:"sdp"`
}

// validate checks the fields every signal needs.
func (m SignalMessage) validate(wantType string) error {
	if m.Type != wantType {
		return errors.New("signal type is " + m.Type + ", want " + wantType)
	}
	if m.SDP == "" {
		return errors.New("signal has no SDP")
	}
	if _, err := m.Peer.PublicKey(); err != nil {
		return err
	}
	return nil
}
