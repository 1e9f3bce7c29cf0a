// Copyright 2026 The Docstore Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"errors"

	"github.com/simplep2p/docstore/lib/address"
	"github.com/simplep2p/docstore/lib/identity"
	"github.com/simplep2p/docstore/lib/wire"
)

// ErrClosed is returned by operations on a closed transport or link.
var ErrClosed = errors.New("transport closed")

// ErrPeerMismatch is returned when the peer that answers a dial is not
// the peer named in the address.
var ErrPeerMismatch = errors.New("remote peer does not match the dialed address")

// Link is an authenticated, frame-oriented connection to one remote
// peer. Before a Link is handed out, the remote side has proven it holds
// the key behind RemotePeer. WriteFrame is safe for concurrent use;
// ReadFrame must be called from a single goroutine.
type Link interface {
	RemotePeer() identity.PeerID

	// RemoteAddr is the remote endpoint as the transport sees it, in
	// locator form when the transport can express it.
	RemoteAddr() string

	// Protocol is the negotiated frame protocol (see lib/wire).
	Protocol() string

	// Outbound reports whether this side dialed.
	Outbound() bool

	ReadFrame() (*wire.Frame, error)
	WriteFrame(frame *wire.Frame) error

	// Done is closed once the link is closed from either side.
	Done() <-chan struct{}
	Close() error
}

// LinkHandler receives each inbound link. It owns the link and must
// close it.
type LinkHandler func(Link)

// Listener accepts inbound links.
type Listener interface {
	// Serve dispatches inbound links to handler, each on its own
	// goroutine. Blocks until ctx is cancelled or Close is called and
	// returns nil on clean shutdown.
	Serve(ctx context.Context, handler LinkHandler) error

	// Addresses lists the locators peers can dial, including this
	// node's peer ID.
	Addresses() []address.Address

	Close() error
}

// Dialer opens outbound links.
type Dialer interface {
	// Dial connects to target. When target names a peer, the link is
	// only returned if that peer authenticates; otherwise any
	// authenticated peer is accepted.
	Dial(ctx context.Context, target address.Address) (Link, error)
}
