// Copyright 2026 The Docstore Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/simplep2p/docstore/lib/address"
	"github.com/simplep2p/docstore/lib/codec"
	"github.com/simplep2p/docstore/lib/identity"
	"github.com/simplep2p/docstore/lib/testutil"
	"github.com/simplep2p/docstore/lib/wire"
)

func newTestTCPListener(t *testing.T, keypair *identity.Keypair) (*TCPListener, <-chan Link) {
	t.Helper()
	listener, err := NewTCPListener("127.0.0.1:0", keypair, codec.CompressAuto, testutil.Logger(t))
	if err != nil {
		t.Fatalf("NewTCPListener() error: %v", err)
	}
	t.Cleanup(func() { listener.Close() })

	links := make(chan Link, 4)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go listener.Serve(ctx, func(link Link) { links <- link })
	return listener, links
}

func TestTCPListener_Addresses(t *testing.T) {
	keypair := newTestKeypair(t)
	listener, _ := newTestTCPListener(t, keypair)

	addresses := listener.Addresses()
	if len(addresses) != 1 {
		t.Fatalf("Addresses = %v, want one", addresses)
	}
	if addresses[0].Transport() != address.TransportTCP {
		t.Errorf("Transport = %q", addresses[0].Transport())
	}
	if addresses[0].Peer != keypair.PeerID() || addresses[0].Port == 0 {
		t.Errorf("address = %s", addresses[0])
	}
}

func TestTCPRoundTrip(t *testing.T) {
	serverKey := newTestKeypair(t)
	listener, inbound := newTestTCPListener(t, serverKey)
	dialer := &TCPDialer{Keypair: newTestKeypair(t), Compression: codec.CompressAuto, Timeout: 5 * time.Second}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	outbound, err := dialer.Dial(ctx, listener.Addresses()[0])
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer outbound.Close()
	if outbound.RemotePeer() != serverKey.PeerID() {
		t.Errorf("RemotePeer = %s, want %s", outbound.RemotePeer(), serverKey.PeerID())
	}

	accepted := testutil.RequireReceive(t, inbound, 10*time.Second, "waiting for inbound link")
	defer accepted.Close()
	if accepted.RemotePeer() != dialer.Keypair.PeerID() {
		t.Errorf("inbound RemotePeer = %s, want %s", accepted.RemotePeer(), dialer.Keypair.PeerID())
	}

	// A large, compressible payload exercises the compression envelope
	// inside an encrypted record.
	data := bytes.Repeat([]byte("docstore update "), 4096)
	frame := &wire.Frame{Type: wire.TypeMessage, Message: &wire.Message{
		From:  dialer.Keypair.PeerID().String(),
		Seqno: make([]byte, wire.SeqnoSize),
		Topic: "docstore/v1/updates",
		Data:  data,
	}}
	if err := outbound.WriteFrame(frame); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	received, err := accepted.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if !bytes.Equal(received.Message.Data, data) {
		t.Error("message data changed in transit")
	}

	if err := accepted.WriteFrame(&wire.Frame{Type: wire.TypePong, Nonce: 3}); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	received, err = outbound.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if received.Type != wire.TypePong || received.Nonce != 3 {
		t.Errorf("received %+v", received)
	}

	outbound.Close()
	if _, err := accepted.ReadFrame(); err == nil {
		t.Error("ReadFrame succeeded after the remote closed")
	}
}

func TestTCPDialer_PeerMismatch(t *testing.T) {
	listener, _ := newTestTCPListener(t, newTestKeypair(t))
	dialer := &TCPDialer{Keypair: newTestKeypair(t)}

	target := listener.Addresses()[0].WithPeer(newTestKeypair(t).PeerID())
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := dialer.Dial(ctx, target); !errors.Is(err, ErrPeerMismatch) {
		t.Fatalf("Dial error = %v, want ErrPeerMismatch", err)
	}
}

func TestTCPDialer_ConnectionRefused(t *testing.T) {
	// Bind and immediately close to get a port nothing listens on.
	reserved, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen: %v", err)
	}
	port := reserved.Addr().(*net.TCPAddr).Port
	reserved.Close()

	dialer := &TCPDialer{Keypair: newTestKeypair(t), Timeout: 2 * time.Second}
	target := address.MustParse("/ip4/127.0.0.1/tcp/" + strconv.Itoa(port))
	if _, err := dialer.Dial(context.Background(), target); err == nil {
		t.Fatal("expected error dialing a closed port")
	}
}

func TestTCPListener_RejectsGarbage(t *testing.T) {
	listener, inbound := newTestTCPListener(t, newTestKeypair(t))

	conn, err := net.Dial("tcp", listener.Addresses()[0].HostPort())
	if err != nil {
		t.Fatalf("net.Dial: %v", err)
	}
	defer conn.Close()
	conn.Write(bytes.Repeat([]byte{0xff}, 64))

	// The listener closes the connection without producing a link.
	conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	if _, err := io.ReadAll(conn); err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			t.Fatal("listener kept a garbage connection open")
		}
	}
	select {
	case link := <-inbound:
		link.Close()
		t.Fatal("garbage connection produced a link")
	default:
	}
}

func TestSecureConn_TamperedRecord(t *testing.T) {
	alpha, beta := newTestKeypair(t), newTestKeypair(t)
	left, right := net.Pipe()
	defer left.Close()
	defer right.Close()

	type result struct {
		conn *secureConn
		peer identity.PeerID
		err  error
	}
	results := make(chan result, 1)
	go func() {
		conn, peer, _, err := secureHandshake(right, beta.PeerID(), false)
		results <- result{conn, peer, err}
	}()
	initiator, claimed, _, err := secureHandshake(left, alpha.PeerID(), true)
	if err != nil {
		t.Fatalf("initiator handshake: %v", err)
	}
	responder := testutil.RequireReceive(t, results, 5*time.Second, "responder handshake")
	if responder.err != nil {
		t.Fatalf("responder handshake: %v", responder.err)
	}
	if claimed != beta.PeerID() || responder.peer != alpha.PeerID() {
		t.Fatalf("hello peers = %s / %s", claimed, responder.peer)
	}

	go func() {
		// Flip one ciphertext bit on the way through.
		record := make([]byte, 4, 64)
		record = initiator.sendAEAD.Seal(record, recordNonce(0), []byte("payload"), nil)
		record[0], record[1], record[2], record[3] = 0, 0, 0, byte(len(record)-4)
		record[len(record)-1] ^= 0x01
		left.Write(record)
	}()
	if _, err := responder.conn.ReadPayload(); err == nil {
		t.Fatal("tampered record was accepted")
	}
}
