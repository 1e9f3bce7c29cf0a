// Copyright 2026 The Docstore Authors
// SPDX-License-Identifier: Apache-2.0

package node

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"slices"
	"strconv"
	"sync"

	"github.com/simplep2p/docstore/gossip"
	"github.com/simplep2p/docstore/lib/address"
	"github.com/simplep2p/docstore/lib/clock"
	"github.com/simplep2p/docstore/lib/identity"
	"github.com/simplep2p/docstore/lib/peerstore"
	"github.com/simplep2p/docstore/lib/routing"
	"github.com/simplep2p/docstore/transport"
)

// ErrClosed is returned by operations on a closed node.
var ErrClosed = errors.New("node closed")

// ErrNoListener is returned by AcceptOffer when the node does not
// listen for WebRTC links.
var ErrNoListener = errors.New("node is not listening for webrtc links")

// seedLimit bounds how many stored peers seed the routing table.
const seedLimit = 200

// Node joins the gossip overlay: it owns the transports, the router, the
// routing table and the links to connected peers.
type Node struct {
	config Config
	clock  clock.Clock
	logger *slog.Logger

	router *gossip.Router
	table  *routing.Table
	store  *peerstore.Store

	webrtc    *transport.WebRTCTransport
	listening bool // webrtc has a UDP socket and accepts offers
	tcp       *transport.TCPListener
	tcpDialer *transport.TCPDialer

	hub     *eventHub
	lookups *lookupTracker

	mu         sync.Mutex
	peers      map[identity.PeerID]*peerLink
	discovered map[identity.PeerID][]address.Address
	closed     bool

	done      chan struct{}
	closeOnce sync.Once
}

// New binds the node's listeners and wires its components. Nothing is
// served until Run.
func New(config Config) (*Node, error) {
	if err := config.applyDefaults(); err != nil {
		return nil, err
	}
	logger := config.Logger.With("peer_id", config.Keypair.PeerID().ShortString())

	n := &Node{
		config:     config,
		clock:      config.Clock,
		logger:     logger,
		table:      routing.NewTable(config.Keypair.PeerID(), routing.DefaultBucketSize, config.Clock),
		store:      config.PeerStore,
		hub:        newEventHub(logger),
		peers:      make(map[identity.PeerID]*peerLink),
		discovered: make(map[identity.PeerID][]address.Address),
		done:       make(chan struct{}),
		tcpDialer: &transport.TCPDialer{
			Keypair:     config.Keypair,
			Compression: config.Compression,
			Timeout:     config.DialTimeout,
		},
	}
	n.lookups = newLookupTracker()

	router, err := gossip.NewRouter(gossip.Config{
		Keypair: config.Keypair,
		OnEvent: n.handleRouterEvent,
		Clock:   config.Clock,
		Logger:  logger.With("component", "gossip"),
	})
	if err != nil {
		return nil, err
	}
	n.router = router

	listen := config.Role != RoleClient
	var udpConn net.PacketConn
	if listen && !config.DisableWebRTCListener {
		udpConn, err = net.ListenPacket("udp4", net.JoinHostPort(config.ListenHost, strconv.Itoa(config.WebRTCPort)))
		if err != nil {
			return nil, fmt.Errorf("binding webrtc port %d: %w", config.WebRTCPort, err)
		}
		n.listening = true
	}
	n.webrtc, err = transport.NewWebRTCTransport(transport.WebRTCConfig{
		Keypair:         config.Keypair,
		Certificate:     config.Certificate,
		Signaler:        config.Signaler,
		ICE:             config.ICE,
		UDPConn:         udpConn,
		PublicIPs:       config.PublicIPs,
		IncludeLoopback: config.IncludeLoopback,
		Protocol:        config.Protocol,
		Compression:     config.Compression,
		Logger:          logger.With("component", "webrtc"),
	})
	if err != nil {
		if udpConn != nil {
			udpConn.Close()
		}
		return nil, err
	}

	if listen && !config.DisableTCPListener {
		n.tcp, err = transport.NewTCPListener(
			net.JoinHostPort(config.ListenHost, strconv.Itoa(config.TCPPort)),
			config.Keypair, config.Compression, logger.With("component", "tcp"),
		)
		if err != nil {
			n.webrtc.Close()
			return nil, fmt.Errorf("binding tcp port %d: %w", config.TCPPort, err)
		}
	}
	return n, nil
}

// LocalPeer returns the node's peer ID.
func (n *Node) LocalPeer() identity.PeerID { return n.config.Keypair.PeerID() }

// Topic returns the topic the node joins.
func (n *Node) Topic() string { return n.config.Topic }

// Role returns the node's role.
func (n *Node) Role() Role { return n.config.Role }

// Done is closed when the node shuts down.
func (n *Node) Done() <-chan struct{} { return n.done }

// Addresses returns the node's dialable locators, each ending in its
// peer ID. Empty for client nodes.
func (n *Node) Addresses() []address.Address {
	var addresses []address.Address
	if n.listening {
		addresses = append(addresses, n.webrtc.Addresses()...)
	}
	if n.tcp != nil {
		addresses = append(addresses, n.tcp.Addresses()...)
	}
	return addresses
}

// Run serves the transports, subscribes to the topic and bootstraps. It
// blocks until ctx is cancelled or Close is called, then closes the node.
func (n *Node) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer n.Close()

	select {
	case <-n.done:
		return ErrClosed
	default:
	}
	go func() {
		select {
		case <-n.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	n.seedFromStore(ctx)
	if err := n.router.Subscribe(n.config.Topic); err != nil {
		return err
	}

	var wg sync.WaitGroup
	wg.Go(func() { n.router.Run(ctx) })
	if n.listening {
		wg.Go(func() {
			if err := n.webrtc.Serve(ctx, n.handleInbound); err != nil {
				n.reportError(fmt.Errorf("webrtc listener: %w", err))
			}
		})
	}
	if n.tcp != nil {
		wg.Go(func() {
			if err := n.tcp.Serve(ctx, n.handleInbound); err != nil {
				n.reportError(fmt.Errorf("tcp listener: %w", err))
			}
		})
	}
	if addresses := n.Addresses(); len(addresses) > 0 {
		n.emit(Event{Type: EventListening, PeerID: n.LocalPeer().String(), Addrs: address.Strings(addresses)})
	}
	wg.Go(func() { n.bootstrap(ctx) })

	<-ctx.Done()
	n.Close()
	wg.Wait()
	return nil
}

// Close shuts down the transports and every link, then closes event
// subscriptions.
func (n *Node) Close() error {
	var err error
	n.closeOnce.Do(func() {
		n.mu.Lock()
		n.closed = true
		links := make([]*peerLink, 0, len(n.peers))
		for _, link := range n.peers {
			links = append(links, link)
		}
		n.mu.Unlock()

		var errs []error
		if n.tcp != nil {
			errs = append(errs, n.tcp.Close())
		}
		errs = append(errs, n.webrtc.Close())
		for _, link := range links {
			link.link.Close()
		}
		n.lookups.cancelAll()
		close(n.done)
		n.hub.closeAll()
		err = errors.Join(errs...)
	})
	return err
}

// AcceptOffer answers a WebRTC offer. It is the node's signaling
// endpoint, served over HTTP by the web package.
func (n *Node) AcceptOffer(ctx context.Context, offer transport.SignalMessage) (transport.SignalMessage, error) {
	if !n.listening {
		return transport.SignalMessage{}, ErrNoListener
	}
	return n.webrtc.AcceptOffer(ctx, offer)
}

// UpdateICEConfig replaces the ICE servers used by new connections.
func (n *Node) UpdateICEConfig(config transport.ICEConfig) {
	n.webrtc.UpdateICEConfig(config)
}

// Dial connects to target and returns the remote peer. A /dnsaddr
// target is resolved and its entries tried in order. A target without
// a peer ID accepts whichever peer answers.
func (n *Node) Dial(ctx context.Context, target address.Address) (identity.PeerID, error) {
	if target.Peer == n.LocalPeer() {
		return "", fmt.Errorf("dial %s: refusing to dial self", target)
	}
	if target.Peer != "" {
		if existing := n.link(target.Peer); existing != nil {
			return target.Peer, nil
		}
	}

	candidates, err := address.Resolve(ctx, target, n.config.DNSResolver)
	if err != nil {
		return "", fmt.Errorf("dial %s: %w", target, err)
	}
	var errs []error
	for _, candidate := range candidates {
		peer, err := n.dialOne(ctx, candidate)
		if err == nil {
			return peer, nil
		}
		errs = append(errs, err)
		if ctx.Err() != nil {
			break
		}
	}
	if len(errs) == 0 {
		return "", fmt.Errorf("dial %s: no addresses", target)
	}
	return "", errors.Join(errs...)
}

func (n *Node) dialOne(ctx context.Context, target address.Address) (identity.PeerID, error) {
	select {
	case <-n.done:
		return "", ErrClosed
	default:
	}

	ctx, cancel := context.WithTimeout(ctx, n.config.DialTimeout)
	defer cancel()

	var dialer transport.Dialer
	switch target.Transport() {
	case address.TransportWebRTCDirect:
		dialer = n.webrtc
	case address.TransportTCP:
		dialer = n.tcpDialer
	default:
		return "", fmt.Errorf("dial %s: %w: no dialable transport", target, address.ErrInvalidAddress)
	}

	n.logger.Debug("dialing", "address", target.String())
	link, err := dialer.Dial(ctx, target)
	if err != nil {
		return "", fmt.Errorf("dial %s: %w", target, err)
	}
	peer := n.attach(link)
	if peer == "" {
		return "", ErrClosed
	}
	n.learnAddresses(peer, []address.Address{target.WithPeer(peer)})
	return peer, nil
}

// Publish sends data on the node's topic. Success and failure are both
// reported as events as well as returned.
func (n *Node) Publish(data []byte) (gossip.MessageID, error) {
	id, err := n.router.Publish(n.config.Topic, data)
	if err != nil {
		n.reportError(fmt.Errorf("publish: %w", err))
		return "", err
	}
	n.emit(Event{
		Type:      EventMessagePublished,
		Topic:     n.config.Topic,
		MessageID: id.String(),
		Author:    n.LocalPeer().String(),
		Data:      string(data),
	})
	return id, nil
}

// Subscribe returns a channel of node events with room for buffer
// pending events, and a function that cancels the subscription. The
// channel is closed when the node closes.
func (n *Node) Subscribe(buffer int) (<-chan Event, func()) {
	return n.hub.subscribe(buffer)
}

// Status is a snapshot of the node's network state.
type Status struct {
	PeerID          string              `json:"peer_id"`
	Role            Role                `json:"role"`
	ListenAddrs     []string            `json:"listen_addrs"`
	ConnectedPeers  map[string][]string `json:"connected_peers"`
	DiscoveredPeers map[string][]string `json:"discovered_peers"`
	Subscriptions   []string            `json:"subscriptions"`
	RoutingTable    int                 `json:"routing_table_size"`
}

// Status reports listen addresses, connected peers with the remote
// address of each link, peers found by lookups, and subscriptions.
func (n *Node) Status() Status {
	status := Status{
		PeerID:          n.LocalPeer().String(),
		Role:            n.config.Role,
		ListenAddrs:     address.Strings(n.Addresses()),
		ConnectedPeers:  make(map[string][]string),
		DiscoveredPeers: make(map[string][]string),
		Subscriptions:   n.router.Subscriptions(),
		RoutingTable:    n.table.Len(),
	}
	n.mu.Lock()
	for peer, link := range n.peers {
		status.ConnectedPeers[peer.String()] = []string{link.link.RemoteAddr()}
	}
	for peer, addresses := range n.discovered {
		status.DiscoveredPeers[peer.String()] = address.Strings(addresses)
	}
	n.mu.Unlock()
	return status
}

// ConnectedPeers returns the peers with an open link, sorted.
func (n *Node) ConnectedPeers() []identity.PeerID {
	n.mu.Lock()
	peers := make([]identity.PeerID, 0, len(n.peers))
	for peer := range n.peers {
		peers = append(peers, peer)
	}
	n.mu.Unlock()
	slices.Sort(peers)
	return peers
}

// TopicPeers returns the connected peers subscribed to the node's topic.
func (n *Node) TopicPeers() []identity.PeerID {
	return n.router.TopicPeers(n.config.Topic)
}

func (n *Node) handleInbound(link transport.Link) {
	n.attach(link)
}

// attach registers link and starts its loops. A newer link to the same
// peer replaces the older one. It returns "" when the node is closed.
func (n *Node) attach(link transport.Link) identity.PeerID {
	peer := link.RemotePeer()
	pl := newPeerLink(n, link)

	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		link.Close()
		return ""
	}
	pl.attached = n.clock.Now()
	previous := n.peers[peer]
	if previous != nil && n.keepExisting(previous, pl) {
		n.mu.Unlock()
		n.logger.Debug("dropping crossed link", "peer", peer, "kept", previous.link.RemoteAddr())
		link.Close()
		return peer
	}
	n.peers[peer] = pl
	n.mu.Unlock()

	if previous != nil {
		n.logger.Debug("replacing existing link", "peer", peer, "previous", previous.link.RemoteAddr())
		previous.link.Close()
	}

	go pl.writeLoop()
	pl.sendIdentify()
	n.router.AddPeer(peer, pl)
	n.table.Add(peer)

	n.emit(Event{Type: EventConnected, PeerID: peer.String(), Addrs: []string{link.RemoteAddr()}})

	go n.run(pl)
	return peer
}

// keepExisting decides between two links to one peer. A newer link
// normally replaces the older one. When the two were dialed in opposite
// directions at about the same time, both ends instead keep the link
// dialed by the peer with the lower ID, so they agree on the survivor.
func (n *Node) keepExisting(existing, incoming *peerLink) bool {
	select {
	case <-existing.link.Done():
		return false
	default:
	}
	if existing.link.Outbound() == incoming.link.Outbound() {
		return false
	}
	if incoming.attached.Sub(existing.attached) > crossedDialWindow {
		return false
	}
	localIsLower := n.LocalPeer().String() < incoming.peer.String()
	return existing.link.Outbound() == localIsLower
}

func (n *Node) run(pl *peerLink) {
	go pl.pingLoop()
	pl.readLoop()
	pl.link.Close()

	n.mu.Lock()
	current := n.peers[pl.peer] == pl
	if current {
		delete(n.peers, pl.peer)
	}
	closed := n.closed
	n.mu.Unlock()

	if !current {
		return
	}
	n.router.RemovePeer(pl.peer)
	if !closed {
		n.emit(Event{Type: EventDisconnected, PeerID: pl.peer.String(), Addrs: []string{pl.link.RemoteAddr()}})
	}
}

func (n *Node) link(peer identity.PeerID) *peerLink {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.peers[peer]
}

// learnAddresses records addresses for peer in the routing table and
// the peer store.
func (n *Node) learnAddresses(peer identity.PeerID, addresses []address.Address) {
	if peer == n.LocalPeer() {
		return
	}
	if !n.table.Add(peer, addresses...) {
		n.logger.Debug("routing table bucket full", "peer", peer)
	}
	if n.store != nil && len(addresses) > 0 {
		if err := n.store.AddAddresses(context.Background(), peer, addresses); err != nil {
			n.logger.Warn("persisting peer addresses failed", "peer", peer, "error", err)
		}
	}
}

// seedFromStore adds recently seen stored peers to the routing table.
func (n *Node) seedFromStore(ctx context.Context) {
	if n.store == nil {
		return
	}
	records, err := n.store.Recent(ctx, seedLimit)
	if err != nil {
		n.logger.Warn("loading stored peers failed", "error", err)
		return
	}
	for _, record := range records {
		if record.Peer != n.LocalPeer() {
			n.table.Add(record.Peer, record.Addresses...)
		}
	}
	if len(records) > 0 {
		n.logger.Info("routing table seeded from peer store", "peers", len(records))
	}
}

func (n *Node) handleRouterEvent(event gossip.Event) {
	switch event.Type {
	case gossip.EventMessage:
		message := event.Message
		n.emit(Event{
			Type:      EventMessageReceived,
			PeerID:    message.ReceivedFrom.String(),
			Topic:     message.Topic,
			MessageID: message.ID.String(),
			Author:    message.Author.String(),
			Data:      string(message.Data),
		})
	case gossip.EventSubscribed:
		n.emit(Event{Type: EventSubscribed, PeerID: event.Peer.String(), Topic: event.Topic})
	case gossip.EventUnsubscribed:
		n.emit(Event{Type: EventUnsubscribed, PeerID: event.Peer.String(), Topic: event.Topic})
	}
}

func (n *Node) reportError(err error) {
	n.emit(Event{Type: EventError, Message: err.Error()})
}

func (n *Node) emit(event Event) {
	if event.Time.IsZero() {
		event.Time = n.clock.Now()
	}
	logEvent(n.logger, event)
	n.hub.publish(event)
}
