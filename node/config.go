// Copyright 2026 The Docstore Authors
// SPDX-License-Identifier: Apache-2.0

package node

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/simplep2p/docstore/lib/address"
	"github.com/simplep2p/docstore/lib/clock"
	"github.com/simplep2p/docstore/lib/codec"
	"github.com/simplep2p/docstore/lib/identity"
	"github.com/simplep2p/docstore/lib/peerstore"
	"github.com/simplep2p/docstore/transport"
)

// DefaultTopic is the topic every docstore node joins.
const DefaultTopic = "docstore/v1/updates"

// ProtocolVersion is announced in identify.
const ProtocolVersion = "docstore/0.1"

// DefaultSignalingPort is the UDP port for webrtc-direct (and the TCP
// port for HTTP signaling) when SIGNALING_PORT is not set.
const DefaultSignalingPort = 9090

// Role selects what a node does beyond gossip.
type Role string

const (
	// RoleClient only dials. It does not listen and answers lookups
	// with an empty result.
	RoleClient Role = "client"

	// RoleRelay listens and answers lookups. Circuit relaying is not
	// implemented; the role exists so deployments can name it.
	RoleRelay Role = "relay"

	// RoleFull listens and answers lookups.
	RoleFull Role = "full"
)

// ParseRole validates a role name.
func ParseRole(name string) (Role, error) {
	switch role := Role(name); role {
	case RoleClient, RoleRelay, RoleFull:
		return role, nil
	default:
		return "", fmt.Errorf("unknown node role %q (want client, relay or full)", name)
	}
}

// servesLookups reports whether the role answers find_peer from its
// routing table and dials lookup candidates.
func (r Role) servesLookups() bool { return r != RoleClient }

// Config configures a Node. Keypair is required; every other field has
// a default.
type Config struct {
	Keypair *identity.Keypair
	Role    Role

	// Topic defaults to DefaultTopic.
	Topic string

	// AgentVersion is reported in identify.
	AgentVersion string

	// ListenHost is the address listeners bind to. Default "0.0.0.0".
	ListenHost string

	// WebRTCPort is the UDP port for webrtc-direct. Zero picks a free
	// port. DisableWebRTCListener turns the listener off; the node can
	// still dial webrtc-direct addresses.
	WebRTCPort            int
	DisableWebRTCListener bool

	// TCPPort is the TCP port for native links. Zero picks a free port.
	TCPPort            int
	DisableTCPListener bool

	// PublicIPs are advertised in webrtc-direct addresses instead of
	// interface addresses.
	PublicIPs []string

	// IncludeLoopback gathers loopback ICE candidates.
	IncludeLoopback bool

	// Certificate is the DTLS certificate. Nil generates one per run.
	Certificate *webrtc.Certificate

	ICE transport.ICEConfig

	// Signaler exchanges WebRTC offers. Nil uses HTTP signaling.
	Signaler transport.Signaler

	// Protocol is the frame protocol requested on outbound WebRTC links.
	Protocol    string
	Compression codec.Compression

	// BootstrapPeers are dialed by Run.
	BootstrapPeers []address.Address

	// DNSResolver resolves /dnsaddr bootstrap entries.
	DNSResolver address.TXTResolver

	// PeerStore, when set, persists learned addresses and seeds the
	// routing table on start.
	PeerStore *peerstore.Store

	// DialTimeout bounds each dial. Default 30s.
	DialTimeout time.Duration

	Clock  clock.Clock
	Logger *slog.Logger
}

func (c *Config) applyDefaults() error {
	if c.Keypair == nil {
		return fmt.Errorf("node config: keypair is required")
	}
	if c.Role == "" {
		c.Role = RoleFull
	}
	if _, err := ParseRole(string(c.Role)); err != nil {
		return err
	}
	if c.Topic == "" {
		c.Topic = DefaultTopic
	}
	if c.AgentVersion == "" {
		c.AgentVersion = "docstore"
	}
	if c.ListenHost == "" {
		c.ListenHost = "0.0.0.0"
	}
	if c.Signaler == nil {
		c.Signaler = &transport.HTTPSignaler{}
	}
	if c.DNSResolver == nil {
		c.DNSResolver = &address.DNSResolver{}
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 30 * time.Second
	}
	if c.Clock == nil {
		c.Clock = clock.Real()
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.DiscardHandler)
	}
	return nil
}
