// Copyright 2026 The Docstore Authors
// SPDX-License-Identifier: Apache-2.0

package node

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/simplep2p/docstore/gossip"
	"github.com/simplep2p/docstore/lib/address"
	"github.com/simplep2p/docstore/lib/identity"
	"github.com/simplep2p/docstore/lib/netutil"
	"github.com/simplep2p/docstore/lib/routing"
	"github.com/simplep2p/docstore/lib/wire"
	"github.com/simplep2p/docstore/transport"
)

const (
	pingInterval   = 15 * time.Second
	maxMissedPings = 3

	// sendQueueSize bounds frames waiting to be written to one link.
	sendQueueSize = 128

	// crossedDialWindow is how far apart two opposite-direction links
	// to one peer may be attached and still count as a simultaneous
	// dial.
	crossedDialWindow = 2 * pingInterval
)

var errSendQueueFull = errors.New("link send queue is full")

// peerLink is the node's side of one authenticated link.
type peerLink struct {
	node *Node
	link transport.Link
	peer identity.PeerID

	queue    chan *wire.Frame
	attached time.Time

	mu        sync.Mutex
	identify  *wire.Identify
	awaiting  uint64 // nonce of the unanswered ping, 0 when none
	pingSent  time.Time
	missed    int
	roundTrip time.Duration
}

var _ gossip.Sender = (*peerLink)(nil)

func newPeerLink(node *Node, link transport.Link) *peerLink {
	return &peerLink{
		node:  node,
		link:  link,
		peer:  link.RemotePeer(),
		queue: make(chan *wire.Frame, sendQueueSize),
	}
}

// SendFrame queues frame for the writer. It never blocks: a link that
// cannot keep up loses frames.
func (p *peerLink) SendFrame(frame *wire.Frame) error {
	select {
	case <-p.link.Done():
		return transport.ErrClosed
	default:
	}
	select {
	case p.queue <- frame:
		return nil
	default:
		return errSendQueueFull
	}
}

func (p *peerLink) writeLoop() {
	for {
		select {
		case <-p.link.Done():
			return
		case frame := <-p.queue:
			err := p.link.WriteFrame(frame)
			if errors.Is(err, wire.ErrUnencodable) {
				p.node.logger.Warn("dropping frame", "peer", p.peer, "type", frame.Type, "error", err)
				continue
			}
			if err != nil {
				if !netutil.IsExpectedCloseError(err) {
					p.node.logger.Warn("writing frame failed", "peer", p.peer, "type", frame.Type, "error", err)
				}
				p.link.Close()
				return
			}
		}
	}
}

func (p *peerLink) readLoop() {
	for {
		frame, err := p.link.ReadFrame()
		if err != nil {
			if !netutil.IsExpectedCloseError(err) && !errors.Is(err, transport.ErrClosed) {
				p.node.logger.Debug("link read ended", "peer", p.peer, "error", err)
			}
			return
		}
		p.handleFrame(frame)
	}
}

func (p *peerLink) pingLoop() {
	ticker := p.node.clock.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.link.Done():
			return
		case now := <-ticker.C:
			if !p.ping(now) {
				p.node.logger.Warn("closing unresponsive link",
					"peer", p.peer,
					"missed_pings", maxMissedPings,
				)
				p.link.Close()
				return
			}
		}
	}
}

// ping sends the next keepalive. It returns false once too many pings
// in a row went unanswered.
func (p *peerLink) ping(now time.Time) bool {
	var nonceBytes [8]byte
	rand.Read(nonceBytes[:])
	nonce := binary.BigEndian.Uint64(nonceBytes[:]) | 1

	p.mu.Lock()
	if p.awaiting != 0 {
		p.missed++
	}
	if p.missed >= maxMissedPings {
		p.mu.Unlock()
		return false
	}
	p.awaiting = nonce
	p.pingSent = now
	p.mu.Unlock()

	if err := p.SendFrame(&wire.Frame{Type: wire.TypePing, Nonce: nonce}); err != nil {
		p.node.logger.Debug("sending ping failed", "peer", p.peer, "error", err)
	}
	return true
}

func (p *peerLink) handlePong(nonce uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if nonce == 0 || nonce != p.awaiting {
		return
	}
	p.awaiting = 0
	p.missed = 0
	p.roundTrip = p.node.clock.Now().Sub(p.pingSent)
}

func (p *peerLink) sendIdentify() {
	identify := &wire.Identify{
		ProtocolVersion: ProtocolVersion,
		AgentVersion:    p.node.config.AgentVersion,
		Role:            string(p.node.config.Role),
		ListenAddrs:     address.Strings(p.node.Addresses()),
		ObservedAddr:    p.link.RemoteAddr(),
		Protocols:       []string{wire.ProtocolCBOR, wire.ProtocolJSON},
	}
	if err := p.SendFrame(&wire.Frame{Type: wire.TypeIdentify, Identify: identify}); err != nil {
		p.node.logger.Warn("sending identify failed", "peer", p.peer, "error", err)
	}
}

func (p *peerLink) handleFrame(frame *wire.Frame) {
	node := p.node
	switch frame.Type {
	case wire.TypeIdentify:
		p.handleIdentify(frame.Identify)

	case wire.TypeSubscriptions, wire.TypeMessage:
		if err := node.router.HandleFrame(p.peer, frame); err != nil {
			node.logger.Warn("dropping gossip frame", "peer", p.peer, "type", frame.Type, "error", err)
		}

	case wire.TypePing:
		p.SendFrame(&wire.Frame{Type: wire.TypePong, Nonce: frame.Nonce})

	case wire.TypePong:
		p.handlePong(frame.Nonce)

	case wire.TypeFindPeer:
		p.answerFindPeer(frame.FindPeer)

	case wire.TypePeers:
		node.lookups.resolve(p.peer, frame.Peers)

	case wire.TypeError:
		node.logger.Warn("peer reported an error", "peer", p.peer, "error", frame.Error)
	}
}

func (p *peerLink) handleIdentify(identify *wire.Identify) {
	node := p.node
	if identify.ProtocolVersion != ProtocolVersion {
		node.logger.Warn("peer speaks a different protocol version",
			"peer", p.peer,
			"protocol_version", identify.ProtocolVersion,
		)
	}
	p.mu.Lock()
	p.identify = identify
	p.mu.Unlock()

	var listen []address.Address
	for _, text := range identify.ListenAddrs {
		parsed, err := address.Parse(text)
		if err != nil {
			node.logger.Debug("ignoring unparsable listen address", "peer", p.peer, "address", text, "error", err)
			continue
		}
		if parsed.IsUnspecified() || (parsed.Peer != "" && parsed.Peer != p.peer) {
			continue
		}
		listen = append(listen, parsed.WithPeer(p.peer))
	}
	node.learnAddresses(p.peer, listen)
	if node.store != nil {
		if err := node.store.SetIdentify(context.Background(), p.peer, identify.AgentVersion, identify.ProtocolVersion); err != nil {
			node.logger.Warn("persisting identify failed", "peer", p.peer, "error", err)
		}
	}
	if identify.ObservedAddr != "" {
		node.logger.Debug("peer observed our address", "peer", p.peer, "observed", identify.ObservedAddr)
	}

	node.emit(Event{
		Type:            EventIdentify,
		PeerID:          p.peer.String(),
		Addrs:           address.Strings(listen),
		AgentVersion:    identify.AgentVersion,
		ProtocolVersion: identify.ProtocolVersion,
	})
}

func (p *peerLink) answerFindPeer(request *wire.FindPeer) {
	node := p.node
	response := &wire.Peers{QueryID: request.QueryID, Peers: []wire.PeerInfo{}}
	if node.config.Role.servesLookups() {
		target, err := identity.ParsePeerID(request.Target)
		if err != nil {
			p.SendFrame(&wire.Frame{Type: wire.TypeError, Error: fmt.Sprintf("find_peer: %v", err)})
			return
		}
		for _, entry := range node.table.Closest(routing.KeyFor(target), routing.DefaultBucketSize+1) {
			if entry.Peer == p.peer {
				continue
			}
			response.Peers = append(response.Peers, wire.PeerInfo{
				ID:    entry.Peer.String(),
				Addrs: address.Strings(entry.Addresses),
			})
			if len(response.Peers) == routing.DefaultBucketSize {
				break
			}
		}
	}
	if err := p.SendFrame(&wire.Frame{Type: wire.TypePeers, Peers: response}); err != nil {
		node.logger.Debug("answering find_peer failed", "peer", p.peer, "error", err)
	}
}

func (p *peerLink) agentVersion() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.identify == nil {
		return ""
	}
	return p.identify.AgentVersion
}
