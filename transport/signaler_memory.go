// Copyright 2026 The Docstore Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/simplep2p/docstore/lib/address"
	"github.com/simplep2p/docstore/lib/identity"
)

// Compile-time interface check.
var _ Signaler = (*MemorySignaler)(nil)

// MemorySignaler is an in-process Signaler for tests. Offers are handed
// straight to the registered acceptor, bypassing HTTP. Two
// WebRTCTransport instances sharing one MemorySignaler can establish
// PeerConnections without any network signaling.
type MemorySignaler struct {
	mu     sync.Mutex
	byPeer map[identity.PeerID]OfferAcceptor
	byHost map[string]OfferAcceptor
}

// NewMemorySignaler creates an empty in-process signaler.
func NewMemorySignaler() *MemorySignaler {
	return &MemorySignaler{
		byPeer: make(map[identity.PeerID]OfferAcceptor),
		byHost: make(map[string]OfferAcceptor),
	}
}

// Register makes acceptor reachable at each of addresses. Targets are
// looked up by peer ID first and by host:port when the dialed address
// names no peer.
func (s *MemorySignaler) Register(acceptor OfferAcceptor, addresses ...address.Address) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, registered := range addresses {
		if registered.Peer != "" {
			s.byPeer[registered.Peer] = acceptor
		}
		if registered.Port != 0 {
			s.byHost[registered.HostPort()] = acceptor
		}
	}
}

func (s *MemorySignaler) Exchange(ctx context.Context, target address.Address, offer SignalMessage) (SignalMessage, error) {
	s.mu.Lock()
	acceptor, ok := s.byPeer[target.Peer]
	if !ok || target.Peer == "" {
		acceptor, ok = s.byHost[target.HostPort()]
	}
	s.mu.Unlock()
	if !ok {
		return SignalMessage{}, fmt.Errorf("no acceptor registered for %s", target)
	}
	return acceptor.AcceptOffer(ctx, offer)
}
