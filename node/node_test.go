// Copyright 2026 The Docstore Authors
// SPDX-License-Identifier: Apache-2.0

package node

import (
	"bytes"
	"context"
	"errors"
	"net"
	"slices"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/simplep2p/docstore/gossip"
	"github.com/simplep2p/docstore/lib/address"
	"github.com/simplep2p/docstore/lib/identity"
	"github.com/simplep2p/docstore/lib/peerstore"
	"github.com/simplep2p/docstore/lib/testutil"
	"github.com/simplep2p/docstore/lib/wire"
	"github.com/simplep2p/docstore/transport"
)

const eventTimeout = 15 * time.Second

type testNode struct {
	*Node
	events <-chan Event
}

func newTestKeypair(t *testing.T) *identity.Keypair {
	t.Helper()
	keypair, err := identity.Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	return keypair
}

// startNode creates a node listening on loopback TCP only, subscribes to
// its events and runs it until the test ends.
func startNode(t *testing.T, config Config) *testNode {
	t.Helper()
	if config.Keypair == nil {
		config.Keypair = newTestKeypair(t)
	}
	if config.ListenHost == "" {
		config.ListenHost = "127.0.0.1"
	}
	if config.Signaler == nil {
		config.DisableWebRTCListener = true
	}
	config.DialTimeout = 10 * time.Second
	config.Logger = testutil.Logger(t)

	n, err := New(config)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	events, cancelEvents := n.Subscribe(256)

	ctx, cancel := context.WithCancel(context.Background())
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		if err := n.Run(ctx); err != nil {
			t.Errorf("Run: %v", err)
		}
	}()
	t.Cleanup(func() {
		cancel()
		testutil.RequireClosed(t, finished, eventTimeout, "node shutdown")
		cancelEvents()
	})

	if config.Role != RoleClient {
		waitEvent(t, events, "listening", func(event Event) bool { return event.Type == EventListening })
	}
	return &testNode{Node: n, events: events}
}

// waitEvent reads events until match accepts one.
func waitEvent(t *testing.T, events <-chan Event, description string, match func(Event) bool) Event {
	t.Helper()
	deadline := time.After(eventTimeout)
	for {
		select {
		case event, ok := <-events:
			if !ok {
				t.Fatalf("event stream closed waiting for %s", description)
			}
			if match(event) {
				return event
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", description)
		}
	}
}

// waitUntil polls condition until it holds.
func waitUntil(t *testing.T, description string, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(eventTimeout)
	for !condition() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", description)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func tcpAddress(t *testing.T, n *Node) address.Address {
	t.Helper()
	for _, candidate := range n.Addresses() {
		if candidate.Transport() == address.TransportTCP {
			return candidate
		}
	}
	t.Fatalf("node %s has no tcp address", n.LocalPeer())
	return address.Address{}
}

func dialContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// connect dials b from a and waits until each side sees the other
// subscribed to the topic.
func connect(t *testing.T, a, b *testNode) {
	t.Helper()
	peer, err := a.Dial(dialContext(t), tcpAddress(t, b.Node))
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	if peer != b.LocalPeer() {
		t.Fatalf("Dial returned %s, want %s", peer, b.LocalPeer())
	}
	waitUntil(t, "topic subscriptions", func() bool {
		return slices.Contains(a.TopicPeers(), b.LocalPeer()) && slices.Contains(b.TopicPeers(), a.LocalPeer())
	})
}

func TestNode_PublishAndReceive(t *testing.T) {
	server := startNode(t, Config{})
	client := startNode(t, Config{})
	connect(t, client, server)

	waitEvent(t, server.events, "connected", func(event Event) bool {
		return event.Type == EventConnected && event.PeerID == client.LocalPeer().String()
	})

	id, err := client.Publish([]byte("hello overlay"))
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	published := waitEvent(t, client.events, "messagePublished", func(event Event) bool {
		return event.Type == EventMessagePublished
	})
	if published.MessageID != id.String() || published.Data != "hello overlay" || published.Topic != DefaultTopic {
		t.Errorf("published event = %+v", published)
	}

	received := waitEvent(t, server.events, "messageReceived", func(event Event) bool {
		return event.Type == EventMessageReceived
	})
	if received.MessageID != id.String() {
		t.Errorf("received msg_id = %s, want %s", received.MessageID, id)
	}
	if received.Author != client.LocalPeer().String() || received.PeerID != client.LocalPeer().String() {
		t.Errorf("received author/from = %s/%s", received.Author, received.PeerID)
	}
	if received.Data != "hello overlay" {
		t.Errorf("received data = %q", received.Data)
	}
}

func TestNode_RelaysBetweenClients(t *testing.T) {
	server := startNode(t, Config{})
	alice := startNode(t, Config{})
	bob := startNode(t, Config{})
	connect(t, alice, server)
	connect(t, bob, server)

	if _, err := alice.Publish([]byte("via the server")); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	received := waitEvent(t, bob.events, "relayed message", func(event Event) bool {
		return event.Type == EventMessageReceived
	})
	if received.Author != alice.LocalPeer().String() {
		t.Errorf("author = %s, want alice", received.Author)
	}
	if received.PeerID != server.LocalPeer().String() {
		t.Errorf("propagation source = %s, want the server", received.PeerID)
	}
}

func TestNode_PublishWithoutPeers(t *testing.T) {
	n := startNode(t, Config{})

	_, err := n.Publish([]byte("nobody listens"))
	if !errors.Is(err, gossip.ErrInsufficientPeers) {
		t.Fatalf("Publish error = %v, want ErrInsufficientPeers", err)
	}
	event := waitEvent(t, n.events, "error event", func(event Event) bool { return event.Type == EventError })
	if event.Message == "" {
		t.Error("error event has no message")
	}
}

func TestNode_IdentifyRecordsListenAddresses(t *testing.T) {
	store, err := peerstore.Open(t.TempDir()+"/peers.db", nil, testutil.DiscardLogger())
	if err != nil {
		t.Fatalf("peerstore.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	server := startNode(t, Config{PeerStore: store})
	client := startNode(t, Config{AgentVersion: "docstore-test/1"})
	connect(t, client, server)

	identify := waitEvent(t, server.events, "identify", func(event Event) bool {
		return event.Type == EventIdentify && event.PeerID == client.LocalPeer().String()
	})
	if identify.AgentVersion != "docstore-test/1" || identify.ProtocolVersion != ProtocolVersion {
		t.Errorf("identify = %+v", identify)
	}
	want := tcpAddress(t, client.Node).String()
	if !slices.Contains(identify.Addrs, want) {
		t.Errorf("identify addrs = %v, want %s", identify.Addrs, want)
	}

	entry, ok := server.table.Find(client.LocalPeer())
	if !ok || len(entry.Addresses) == 0 {
		t.Fatalf("routing table entry = %+v, %v", entry, ok)
	}
	record, ok, err := store.Get(t.Context(), client.LocalPeer())
	if err != nil || !ok {
		t.Fatalf("store.Get = %v, %v", ok, err)
	}
	if record.AgentVersion != "docstore-test/1" {
		t.Errorf("stored agent = %q", record.AgentVersion)
	}
}

func TestNode_FindPeer(t *testing.T) {
	server := startNode(t, Config{})
	alice := startNode(t, Config{})
	bob := startNode(t, Config{Role: RoleClient, DisableTCPListener: true})
	connect(t, alice, server)
	waitEvent(t, server.events, "alice identify", func(event Event) bool {
		return event.Type == EventIdentify && event.PeerID == alice.LocalPeer().String()
	})

	if _, err := bob.Dial(dialContext(t), tcpAddress(t, server.Node)); err != nil {
		t.Fatalf("Dial: %v", err)
	}

	addresses, err := bob.FindPeer(dialContext(t), alice.LocalPeer())
	if err != nil {
		t.Fatalf("FindPeer: %v", err)
	}
	want := tcpAddress(t, alice.Node)
	if !slices.ContainsFunc(addresses, want.Equal) {
		t.Errorf("FindPeer = %v, want %s", addresses, want)
	}
	discovery := waitEvent(t, bob.events, "peerDiscovery", func(event Event) bool {
		return event.Type == EventPeerDiscovery && event.PeerID == alice.LocalPeer().String()
	})
	if len(discovery.Addrs) == 0 {
		t.Error("peerDiscovery carries no addresses")
	}
	if _, ok := bob.Status().DiscoveredPeers[alice.LocalPeer().String()]; !ok {
		t.Error("Status does not list the discovered peer")
	}
}

func TestNode_ClientAnswersLookupsEmpty(t *testing.T) {
	server := startNode(t, Config{})
	client := startNode(t, Config{Role: RoleClient, DisableTCPListener: true})
	other := startNode(t, Config{})

	// The client knows other; a full node would return it.
	client.learnAddresses(other.LocalPeer(), other.Addresses())
	if _, err := client.Dial(dialContext(t), tcpAddress(t, server.Node)); err != nil {
		t.Fatalf("Dial: %v", err)
	}
	waitUntil(t, "server link", func() bool { return server.link(client.LocalPeer()) != nil })

	_, err := server.FindPeer(dialContext(t), other.LocalPeer())
	if !errors.Is(err, ErrPeerNotFound) {
		t.Fatalf("FindPeer error = %v, want ErrPeerNotFound", err)
	}
}

func TestNode_ClientDoesNotListen(t *testing.T) {
	n, err := New(Config{
		Keypair: newTestKeypair(t),
		Role:    RoleClient,
		Logger:  testutil.DiscardLogger(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer n.Close()

	if addresses := n.Addresses(); len(addresses) != 0 {
		t.Errorf("client Addresses = %v, want none", addresses)
	}
	if _, err := n.AcceptOffer(t.Context(), transport.SignalMessage{}); !errors.Is(err, ErrNoListener) {
		t.Errorf("AcceptOffer error = %v, want ErrNoListener", err)
	}
}

func TestNode_Bootstrap(t *testing.T) {
	server := startNode(t, Config{})
	withoutPeer := tcpAddress(t, server.Node).WithoutPeer()
	client := startNode(t, Config{
		BootstrapPeers: []address.Address{withoutPeer},
	})

	connected := waitEvent(t, client.events, "bootstrap connection", func(event Event) bool {
		return event.Type == EventConnected
	})
	if connected.PeerID != server.LocalPeer().String() {
		t.Errorf("connected to %s, want %s", connected.PeerID, server.LocalPeer())
	}
	waitUntil(t, "routing table entry", func() bool {
		entry, ok := client.table.Find(server.LocalPeer())
		return ok && len(entry.Addresses) > 0
	})
}

func TestNode_BootstrapReportsBadEntry(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	port := listener.Addr().(*net.TCPAddr).Port
	listener.Close()

	unreachable := address.MustParse("/ip4/127.0.0.1/tcp/" + strconv.Itoa(port))
	n := startNode(t, Config{BootstrapPeers: []address.Address{unreachable}})
	event := waitEvent(t, n.events, "bootstrap error", func(event Event) bool { return event.Type == EventError })
	if event.Message == "" {
		t.Error("error event has no message")
	}
}

func TestNode_DisconnectEvent(t *testing.T) {
	server := startNode(t, Config{})
	client := startNode(t, Config{})
	connect(t, client, server)

	client.link(server.LocalPeer()).link.Close()

	waitEvent(t, server.events, "disconnected", func(event Event) bool {
		return event.Type == EventDisconnected && event.PeerID == client.LocalPeer().String()
	})
	waitUntil(t, "peer removed", func() bool { return server.link(client.LocalPeer()) == nil })
	if slices.Contains(server.TopicPeers(), client.LocalPeer()) {
		t.Error("disconnected peer still counted as subscribed")
	}
}

func TestNode_Status(t *testing.T) {
	server := startNode(t, Config{})
	client := startNode(t, Config{})
	connect(t, client, server)

	status := client.Status()
	if status.PeerID != client.LocalPeer().String() || status.Role != RoleFull {
		t.Errorf("status identity = %s/%s", status.PeerID, status.Role)
	}
	if len(status.ListenAddrs) == 0 {
		t.Error("status has no listen addresses")
	}
	if remote, ok := status.ConnectedPeers[server.LocalPeer().String()]; !ok || len(remote) != 1 {
		t.Errorf("connected peers = %v", status.ConnectedPeers)
	}
	if !slices.Equal(status.Subscriptions, []string{DefaultTopic}) {
		t.Errorf("subscriptions = %v", status.Subscriptions)
	}
}

func TestNode_DialSelf(t *testing.T) {
	n := startNode(t, Config{})
	if _, err := n.Dial(dialContext(t), tcpAddress(t, n.Node)); err == nil {
		t.Fatal("dialing self succeeded")
	}
}

func TestNode_WebRTC(t *testing.T) {
	signaler := transport.NewMemorySignaler()
	server := startNode(t, Config{Signaler: signaler, IncludeLoopback: true, DisableTCPListener: true})
	signaler.Register(server.Node, server.Addresses()...)

	client := startNode(t, Config{Role: RoleClient, Signaler: signaler, IncludeLoopback: true})

	var target address.Address
	for _, candidate := range server.Addresses() {
		if candidate.Transport() == address.TransportWebRTCDirect {
			target = candidate
		}
	}
	if target.Transport() == "" {
		t.Fatalf("server addresses = %v, want a webrtc-direct one", server.Addresses())
	}
	if len(target.CertHash) == 0 {
		t.Errorf("webrtc address %s has no certhash", target)
	}

	if _, err := client.Dial(dialContext(t), target); err != nil {
		t.Fatalf("Dial: %v", err)
	}
	waitUntil(t, "topic subscriptions", func() bool {
		return slices.Contains(client.TopicPeers(), server.LocalPeer())
	})
	if _, err := client.Publish([]byte("over webrtc")); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	received := waitEvent(t, server.events, "messageReceived", func(event Event) bool {
		return event.Type == EventMessageReceived
	})
	if received.Data != "over webrtc" {
		t.Errorf("data = %q", received.Data)
	}
}

func TestNode_PublishLargestMessageOverJSON(t *testing.T) {
	signaler := transport.NewMemorySignaler()
	server := startNode(t, Config{Signaler: signaler, IncludeLoopback: true, DisableTCPListener: true})
	signaler.Register(server.Node, server.Addresses()...)
	client := startNode(t, Config{
		Role:            RoleClient,
		Signaler:        signaler,
		IncludeLoopback: true,
		Protocol:        wire.ProtocolJSON,
	})

	var target address.Address
	for _, candidate := range server.Addresses() {
		if candidate.Transport() == address.TransportWebRTCDirect {
			target = candidate
		}
	}
	if _, err := client.Dial(dialContext(t), target); err != nil {
		t.Fatalf("Dial: %v", err)
	}
	waitUntil(t, "topic subscriptions", func() bool {
		return slices.Contains(client.TopicPeers(), server.LocalPeer())
	})

	if _, err := client.Publish(bytes.Repeat([]byte("d"), gossip.DefaultMaxMessageSize+1)); !errors.Is(err, gossip.ErrMessageTooLarge) {
		t.Fatalf("Publish above the limit = %v, want ErrMessageTooLarge", err)
	}

	largest := strings.Repeat("d", gossip.DefaultMaxMessageSize)
	id, err := client.Publish([]byte(largest))
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	received := waitEvent(t, server.events, "messageReceived", func(event Event) bool {
		return event.Type == EventMessageReceived
	})
	if received.MessageID != id.String() || len(received.Data) != len(largest) {
		t.Errorf("received %s with %d bytes, want %s with %d", received.MessageID, len(received.Data), id, len(largest))
	}
	if !slices.Contains(client.TopicPeers(), server.LocalPeer()) {
		t.Error("link dropped after the largest message")
	}
}

func TestParseRole(t *testing.T) {
	for _, name := range []string{"client", "relay", "full"} {
		if role, err := ParseRole(name); err != nil || string(role) != name {
			t.Errorf("ParseRole(%q) = %q, %v", name, role, err)
		}
	}
	if _, err := ParseRole("server"); err == nil {
		t.Error("ParseRole accepted an unknown role")
	}
}
