// Copyright 2026 The Docstore Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/simplep2p/docstore/lib/address"
	"github.com/simplep2p/docstore/lib/codec"
	"github.com/simplep2p/docstore/lib/identity"
	"github.com/simplep2p/docstore/lib/netutil"
	"github.com/simplep2p/docstore/lib/wire"
)

// Compile-time interface checks.
var (
	_ Listener = (*TCPListener)(nil)
	_ Dialer   = (*TCPDialer)(nil)
)

// TCPListener accepts native peer links over TCP. Browsers cannot dial
// it; it carries server-to-server traffic on networks with direct
// reachability.
type TCPListener struct {
	listener    net.Listener
	keypair     *identity.Keypair
	compression codec.Compression
	logger      *slog.Logger

	closeOnce sync.Once
}

// NewTCPListener listens on listenAddress (for example ":0" for a random
// port, or "192.168.1.10:4001").
func NewTCPListener(listenAddress string, keypair *identity.Keypair, compression codec.Compression, logger *slog.Logger) (*TCPListener, error) {
	listener, err := net.Listen("tcp", listenAddress)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &TCPListener{
		listener:    listener,
		keypair:     keypair,
		compression: compression,
		logger:      logger,
	}, nil
}

// Serve accepts connections, runs the handshake on each, and dispatches
// authenticated links to handler. Blocks until ctx is cancelled or
// Close is called.
func (l *TCPListener) Serve(ctx context.Context, handler LinkHandler) error {
	go func() {
		<-ctx.Done()
		l.Close()
	}()

	for {
		conn, err := l.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		go func() {
			link, err := upgradeTCP(conn, l.keypair, l.compression, false, "")
			if err != nil {
				if !netutil.IsExpectedCloseError(err) {
					l.logger.Warn("inbound tcp handshake failed",
						"remote", conn.RemoteAddr().String(),
						"error", err,
					)
				}
				conn.Close()
				return
			}
			l.logger.Info("tcp link established",
				"peer", link.RemotePeer(),
				"direction", "inbound",
			)
			handler(link)
		}()
	}
}

// Addresses returns the tcp locators of the listening socket, one per
// interface address when bound to an unspecified host.
func (l *TCPListener) Addresses() []address.Address {
	local, ok := l.listener.Addr().(*net.TCPAddr)
	if !ok {
		return nil
	}
	hosts := listenHosts(local.AddrPort().Addr())
	addresses := make([]address.Address, 0, len(hosts))
	for _, host := range hosts {
		addresses = append(addresses, address.FromIP(host, "tcp", local.Port).WithPeer(l.keypair.PeerID()))
	}
	return addresses
}

// Close shuts down the TCP listener. Established links stay open.
func (l *TCPListener) Close() error {
	var err error
	l.closeOnce.Do(func() {
		err = l.listener.Close()
	})
	return err
}

// TCPDialer opens native peer links over TCP.
type TCPDialer struct {
	Keypair     *identity.Keypair
	Compression codec.Compression

	// Timeout bounds connection establishment. Zero means only the
	// context deadline applies.
	Timeout time.Duration
}

// Dial connects to a tcp address and runs the handshake. When target
// names a peer, the remote side must be that peer.
func (d *TCPDialer) Dial(ctx context.Context, target address.Address) (Link, error) {
	if target.Transport() != address.TransportTCP {
		return nil, fmt.Errorf("tcp dialer cannot dial %s", target)
	}
	conn, err := (&net.Dialer{Timeout: d.Timeout}).DialContext(ctx, "tcp", target.HostPort())
	if err != nil {
		return nil, err
	}

	// Cancelling ctx aborts the handshake.
	stop := context.AfterFunc(ctx, func() { conn.SetDeadline(time.Now()) })
	defer stop()

	link, err := upgradeTCP(conn, d.Keypair, d.Compression, true, target.Peer)
	if err != nil {
		conn.Close()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	return link, nil
}

// upgradeTCP runs the key exchange and peer authentication on conn. When
// expected is set, the remote hello must claim that peer.
func upgradeTCP(conn net.Conn, keypair *identity.Keypair, compression codec.Compression, initiator bool, expected identity.PeerID) (*frameLink, error) {
	conn.SetDeadline(time.Now().Add(authTimeout))

	secure, remote, transcript, err := secureHandshake(conn, keypair.PeerID(), initiator)
	if err != nil {
		return nil, err
	}
	if expected != "" && remote != expected {
		return nil, fmt.Errorf("%w: hello from %s", ErrPeerMismatch, remote)
	}
	if err := runPeerAuth(secure, KeyAuthenticator{Keypair: keypair}, keypair.PeerID(), remote, transcript); err != nil {
		return nil, err
	}
	conn.SetDeadline(time.Time{})

	remoteAddr := conn.RemoteAddr().String()
	if tcpAddr, ok := conn.RemoteAddr().(*net.TCPAddr); ok {
		remoteAddr = address.FromIP(tcpAddr.AddrPort().Addr(), "tcp", tcpAddr.Port).WithPeer(remote).String()
	}
	return newFrameLink(secure, wire.CBORCodec{Compression: compression}, remote, remoteAddr, initiator, nil), nil
}
