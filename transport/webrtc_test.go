// Copyright 2026 The Docstore Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/simplep2p/docstore/lib/address"
	"github.com/simplep2p/docstore/lib/identity"
	"github.com/simplep2p/docstore/lib/testutil"
	"github.com/simplep2p/docstore/lib/wire"
)

// newListeningTransport creates a transport bound to a loopback UDP
// socket and registers it with signaler.
func newListeningTransport(t *testing.T, signaler *MemorySignaler, keypair *identity.Keypair) *WebRTCTransport {
	t.Helper()
	packetConn, err := net.ListenPacket("udp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listening on UDP: %v", err)
	}
	transport, err := NewWebRTCTransport(WebRTCConfig{
		Keypair:         keypair,
		Signaler:        signaler,
		UDPConn:         packetConn,
		IncludeLoopback: true,
		Logger:          testutil.Logger(t),
	})
	if err != nil {
		t.Fatalf("NewWebRTCTransport: %v", err)
	}
	t.Cleanup(func() { transport.Close() })
	signaler.Register(transport, transport.Addresses()...)
	return transport
}

// newDialingTransport creates a transport without a listening socket,
// the way the client session runs.
func newDialingTransport(t *testing.T, signaler Signaler, protocol string) *WebRTCTransport {
	t.Helper()
	transport, err := NewWebRTCTransport(WebRTCConfig{
		Keypair:         newTestKeypair(t),
		Signaler:        signaler,
		IncludeLoopback: true,
		Protocol:        protocol,
		Logger:          testutil.Logger(t),
	})
	if err != nil {
		t.Fatalf("NewWebRTCTransport: %v", err)
	}
	t.Cleanup(func() { transport.Close() })
	return transport
}

// serveLinks runs Serve and forwards inbound links to the returned
// channel.
func serveLinks(t *testing.T, transport *WebRTCTransport) <-chan Link {
	t.Helper()
	links := make(chan Link, 4)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go transport.Serve(ctx, func(link Link) { links <- link })
	return links
}

func dialContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// TestWebRTCTransport_DialAndServe connects two transports through an
// in-process MemorySignaler and exchanges frames in both directions.
func TestWebRTCTransport_DialAndServe(t *testing.T) {
	signaler := NewMemorySignaler()
	server := newListeningTransport(t, signaler, newTestKeypair(t))
	client := newDialingTransport(t, signaler, "")
	inbound := serveLinks(t, server)

	addresses := server.Addresses()
	if len(addresses) == 0 {
		t.Fatal("listening transport has no addresses")
	}

	outbound, err := client.Dial(dialContext(t), addresses[0])
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer outbound.Close()

	if outbound.RemotePeer() != server.LocalPeer() {
		t.Errorf("outbound RemotePeer = %s, want %s", outbound.RemotePeer(), server.LocalPeer())
	}
	if !outbound.Outbound() {
		t.Error("dialed link does not report Outbound")
	}
	if outbound.Protocol() != wire.ProtocolCBOR {
		t.Errorf("Protocol = %q, want %q", outbound.Protocol(), wire.ProtocolCBOR)
	}

	accepted := testutil.RequireReceive(t, inbound, 30*time.Second, "waiting for inbound link")
	defer accepted.Close()
	if accepted.RemotePeer() != client.LocalPeer() {
		t.Errorf("inbound RemotePeer = %s, want %s", accepted.RemotePeer(), client.LocalPeer())
	}
	if accepted.Outbound() {
		t.Error("accepted link reports Outbound")
	}

	if err := outbound.WriteFrame(&wire.Frame{Type: wire.TypePing, Nonce: 7}); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	frame, err := accepted.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if frame.Type != wire.TypePing || frame.Nonce != 7 {
		t.Errorf("received %+v, want ping 7", frame)
	}

	if err := accepted.WriteFrame(&wire.Frame{Type: wire.TypePong, Nonce: 7}); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	frame, err = outbound.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if frame.Type != wire.TypePong {
		t.Errorf("received %+v, want pong", frame)
	}
}

// TestWebRTCTransport_JSONProtocol verifies that the gossip channel's
// protocol string selects the codec on the answering side, which is how
// the browser harness gets JSON frames.
func TestWebRTCTransport_JSONProtocol(t *testing.T) {
	signaler := NewMemorySignaler()
	server := newListeningTransport(t, signaler, newTestKeypair(t))
	client := newDialingTransport(t, signaler, wire.ProtocolJSON)
	inbound := serveLinks(t, server)

	outbound, err := client.Dial(dialContext(t), server.Addresses()[0])
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer outbound.Close()

	accepted := testutil.RequireReceive(t, inbound, 30*time.Second, "waiting for inbound link")
	defer accepted.Close()
	if accepted.Protocol() != wire.ProtocolJSON {
		t.Errorf("accepted Protocol = %q, want %q", accepted.Protocol(), wire.ProtocolJSON)
	}

	message := &wire.Message{
		From:  client.LocalPeer().String(),
		Seqno: make([]byte, wire.SeqnoSize),
		Topic: "docstore/v1/updates",
		Data:  []byte("hello"),
	}
	if err := outbound.WriteFrame(&wire.Frame{Type: wire.TypeMessage, Message: message}); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	frame, err := accepted.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if frame.Message == nil || string(frame.Message.Data) != "hello" {
		t.Errorf("received %+v", frame)
	}
}

// TestWebRTCTransport_Addresses verifies the advertised locators: the
// bound port, the certificate hash and this node's peer ID.
func TestWebRTCTransport_Addresses(t *testing.T) {
	keypair := newTestKeypair(t)
	transport := newListeningTransport(t, NewMemorySignaler(), keypair)

	addresses := transport.Addresses()
	if len(addresses) != 1 {
		t.Fatalf("Addresses = %v, want one loopback address", addresses)
	}
	listen := addresses[0]
	if listen.Transport() != address.TransportWebRTCDirect {
		t.Errorf("Transport = %q", listen.Transport())
	}
	if listen.Host != "127.0.0.1" || listen.Port == 0 {
		t.Errorf("host/port = %s:%d", listen.Host, listen.Port)
	}
	if listen.Peer != keypair.PeerID() {
		t.Errorf("Peer = %s, want %s", listen.Peer, keypair.PeerID())
	}
	if len(listen.CertHash) == 0 {
		t.Error("address carries no certhash")
	}

	reparsed, err := address.Parse(listen.String())
	if err != nil {
		t.Fatalf("advertised address does not parse: %v", err)
	}
	if !reparsed.Equal(listen) {
		t.Errorf("reparsed %s, want %s", reparsed, listen)
	}
}

// TestWebRTCTransport_NoListenerHasNoAddresses verifies that a dial-only
// transport advertises nothing.
func TestWebRTCTransport_NoListenerHasNoAddresses(t *testing.T) {
	transport := newDialingTransport(t, NewMemorySignaler(), "")
	if addresses := transport.Addresses(); len(addresses) != 0 {
		t.Errorf("Addresses = %v, want none", addresses)
	}
}

// TestWebRTCTransport_CertHashMismatch verifies that a dial aborts when
// the answering node's certificate is not the one the address pins.
func TestWebRTCTransport_CertHashMismatch(t *testing.T) {
	signaler := NewMemorySignaler()
	server := newListeningTransport(t, signaler, newTestKeypair(t))
	client := newDialingTransport(t, signaler, "")

	target := server.Addresses()[0]
	target.CertHash = address.CertHashFromDER([]byte("some other certificate"))

	_, err := client.Dial(dialContext(t), target)
	if !errors.Is(err, ErrFingerprintMismatch) {
		t.Fatalf("Dial error = %v, want ErrFingerprintMismatch", err)
	}
}

// TestWebRTCTransport_PeerMismatch verifies that the answering peer must
// be the peer named in the dialed address.
func TestWebRTCTransport_PeerMismatch(t *testing.T) {
	signaler := NewMemorySignaler()
	server := newListeningTransport(t, signaler, newTestKeypair(t))
	client := newDialingTransport(t, signaler, "")

	target := server.Addresses()[0].WithPeer(newTestKeypair(t).PeerID())

	_, err := client.Dial(dialContext(t), target)
	if !errors.Is(err, ErrPeerMismatch) {
		t.Fatalf("Dial error = %v, want ErrPeerMismatch", err)
	}
}

// TestWebRTCTransport_DialWithoutPeerID verifies that an address without
// /p2p is dialable and the remote identity is learned from the answer.
func TestWebRTCTransport_DialWithoutPeerID(t *testing.T) {
	signaler := NewMemorySignaler()
	server := newListeningTransport(t, signaler, newTestKeypair(t))
	client := newDialingTransport(t, signaler, "")
	serveLinks(t, server)

	link, err := client.Dial(dialContext(t), server.Addresses()[0].WithoutPeer())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer link.Close()
	if link.RemotePeer() != server.LocalPeer() {
		t.Errorf("RemotePeer = %s, want %s", link.RemotePeer(), server.LocalPeer())
	}
}

// TestWebRTCTransport_CloseEndsLink verifies that closing one end of a
// link is observed by the other end.
func TestWebRTCTransport_CloseEndsLink(t *testing.T) {
	signaler := NewMemorySignaler()
	server := newListeningTransport(t, signaler, newTestKeypair(t))
	client := newDialingTransport(t, signaler, "")
	inbound := serveLinks(t, server)

	outbound, err := client.Dial(dialContext(t), server.Addresses()[0])
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	accepted := testutil.RequireReceive(t, inbound, 30*time.Second, "waiting for inbound link")

	readErrors := make(chan error, 1)
	go func() {
		_, err := accepted.ReadFrame()
		readErrors <- err
	}()

	outbound.Close()
	testutil.RequireClosed(t, outbound.Done(), 5*time.Second, "outbound Done after Close")

	if err := testutil.RequireReceive(t, readErrors, 60*time.Second, "waiting for remote close"); err == nil {
		t.Fatal("ReadFrame succeeded on a closed link")
	}
	testutil.RequireClosed(t, accepted.Done(), 5*time.Second, "accepted Done after remote close")
}

// TestWebRTCTransport_DialAfterClose verifies that a closed transport
// refuses to dial and to answer.
func TestWebRTCTransport_DialAfterClose(t *testing.T) {
	signaler := NewMemorySignaler()
	server := newListeningTransport(t, signaler, newTestKeypair(t))
	client := newDialingTransport(t, signaler, "")
	client.Close()

	if _, err := client.Dial(context.Background(), server.Addresses()[0]); !errors.Is(err, ErrClosed) {
		t.Errorf("Dial after Close = %v, want ErrClosed", err)
	}
	if _, err := client.AcceptOffer(context.Background(), SignalMessage{}); !errors.Is(err, ErrClosed) {
		t.Errorf("AcceptOffer after Close = %v, want ErrClosed", err)
	}
}

// TestWebRTCTransport_RejectsTCPAddress verifies transport selection.
func TestWebRTCTransport_RejectsTCPAddress(t *testing.T) {
	client := newDialingTransport(t, NewMemorySignaler(), "")
	if _, err := client.Dial(context.Background(), address.MustParse("/ip4/127.0.0.1/tcp/4001")); err == nil {
		t.Fatal("expected an error dialing a tcp address")
	}
}

// TestWebRTCTransport_OfferConflict verifies the simultaneous-offer
// tie break: while dialing a peer, the node with the smaller peer ID
// rejects that peer's offer, and the node with the larger one does not.
func TestWebRTCTransport_OfferConflict(t *testing.T) {
	first, second := newTestKeypair(t), newTestKeypair(t)
	if first.PeerID() > second.PeerID() {
		first, second = second, first
	}
	smaller := newListeningTransport(t, NewMemorySignaler(), first)
	larger := newListeningTransport(t, NewMemorySignaler(), second)

	smaller.dialing[second.PeerID()] = 1
	larger.dialing[first.PeerID()] = 1

	_, err := smaller.AcceptOffer(context.Background(), SignalMessage{Peer: second.PeerID(), Type: SignalOffer, SDP: "v=0"})
	if !errors.Is(err, ErrOfferConflict) {
		t.Errorf("smaller peer answered the larger peer's offer: %v", err)
	}

	_, err = larger.AcceptOffer(context.Background(), SignalMessage{Peer: first.PeerID(), Type: SignalOffer, SDP: "v=0"})
	if errors.Is(err, ErrOfferConflict) {
		t.Error("larger peer rejected the canonical offer")
	}
}

// TestWebRTCTransport_RejectsMalformedOffer verifies offer validation.
func TestWebRTCTransport_RejectsMalformedOffer(t *testing.T) {
	keypair := newTestKeypair(t)
	transport := newListeningTransport(t, NewMemorySignaler(), keypair)
	other := newTestKeypair(t).PeerID()

	tests := []struct {
		name  string
		offer SignalMessage
	}{
		{"wrong type", SignalMessage{Peer: other, Type: SignalAnswer, SDP: "v=0"}},
		{"no sdp", SignalMessage{Peer: other, Type: SignalOffer}},
		{"bad peer", SignalMessage{Peer: "not-a-peer", Type: SignalOffer, SDP: "v=0"}},
		{"own peer", SignalMessage{Peer: keypair.PeerID(), Type: SignalOffer, SDP: "v=0"}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if _, err := transport.AcceptOffer(context.Background(), test.offer); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

// TestWebRTCTransport_HTTPSignaling runs the full path a browser or a
// second node uses: the offer is POSTed to http://host:port/signal on the
// TCP port numbered like the listening UDP port.
func TestWebRTCTransport_HTTPSignaling(t *testing.T) {
	tcpListener, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listening on TCP: %v", err)
	}
	port := tcpListener.Addr().(*net.TCPAddr).Port
	packetConn, err := net.ListenPacket("udp4", "127.0.0.1:"+strconv.Itoa(port))
	if err != nil {
		tcpListener.Close()
		t.Skipf("UDP port %d matching the TCP port is unavailable: %v", port, err)
	}

	server, err := NewWebRTCTransport(WebRTCConfig{
		Keypair:         newTestKeypair(t),
		UDPConn:         packetConn,
		IncludeLoopback: true,
		Logger:          testutil.Logger(t),
	})
	if err != nil {
		t.Fatalf("NewWebRTCTransport: %v", err)
	}
	defer server.Close()
	inbound := serveLinks(t, server)

	mux := http.NewServeMux()
	mux.Handle("/signal", SignalHandler(server, testutil.Logger(t)))
	httpServer := &http.Server{Handler: mux}
	go httpServer.Serve(tcpListener)
	defer httpServer.Close()

	client := newDialingTransport(t, &HTTPSignaler{}, "")
	outbound, err := client.Dial(dialContext(t), server.Addresses()[0])
	if err != nil {
		t.Fatalf("Dial over HTTP signaling: %v", err)
	}
	defer outbound.Close()

	accepted := testutil.RequireReceive(t, inbound, 30*time.Second, "waiting for inbound link")
	defer accepted.Close()
	if accepted.RemotePeer() != client.LocalPeer() {
		t.Errorf("inbound RemotePeer = %s, want %s", accepted.RemotePeer(), client.LocalPeer())
	}
	if !strings.Contains(accepted.RemoteAddr(), "127.0.0.1") {
		t.Errorf("inbound RemoteAddr = %q, want the loopback candidate", accepted.RemoteAddr())
	}
}

// TestWebRTCTransport_UpdateICEConfig verifies that UpdateICEConfig
// replaces the configuration used for new PeerConnections.
func TestWebRTCTransport_UpdateICEConfig(t *testing.T) {
	transport := newDialingTransport(t, NewMemorySignaler(), "")

	config := ICEConfigFromURLs([]string{"turn:turn.example.org:3478"}, "user", "pass")
	transport.UpdateICEConfig(config)

	transport.configMu.RLock()
	defer transport.configMu.RUnlock()
	if len(transport.iceConfig.Servers) != 1 {
		t.Fatalf("expected 1 ICE server after update, got %d", len(transport.iceConfig.Servers))
	}
	if transport.iceConfig.Servers[0].Username != "user" {
		t.Errorf("username = %q, want %q", transport.iceConfig.Servers[0].Username, "user")
	}
}

func TestVerifyFingerprint(t *testing.T) {
	certificate, err := GenerateCertificate()
	if err != nil {
		t.Fatalf("GenerateCertificate: %v", err)
	}
	fingerprints, err := certificate.GetFingerprints()
	if err != nil {
		t.Fatalf("GetFingerprints: %v", err)
	}
	certHash, err := CertHash(certificate)
	if err != nil {
		t.Fatalf("CertHash: %v", err)
	}

	answer := "v=0\r\n" +
		"o=- 1 1 IN IP4 127.0.0.1\r\n" +
		"s=-\r\n" +
		"t=0 0\r\n" +
		"a=fingerprint:sha-256 " + fingerprints[0].Value + "\r\n"

	target := address.MustParse("/ip4/127.0.0.1/udp/9090/webrtc-direct")
	if err := verifyFingerprint(answer, target); err != nil {
		t.Errorf("address without certhash: %v", err)
	}

	target.CertHash = certHash
	if err := verifyFingerprint(answer, target); err != nil {
		t.Errorf("matching certhash: %v", err)
	}

	target.CertHash = address.CertHashFromDER([]byte("other"))
	if err := verifyFingerprint(answer, target); !errors.Is(err, ErrFingerprintMismatch) {
		t.Errorf("mismatched certhash = %v, want ErrFingerprintMismatch", err)
	}

	noFingerprint := "v=0\r\no=- 1 1 IN IP4 127.0.0.1\r\ns=-\r\nt=0 0\r\n"
	if err := verifyFingerprint(noFingerprint, target); !errors.Is(err, ErrFingerprintMismatch) {
		t.Errorf("missing fingerprint = %v, want ErrFingerprintMismatch", err)
	}
}

func TestLoadOrCreateCertificate(t *testing.T) {
	path := t.TempDir() + "/webrtc/certificate.pem"
	logger := testutil.DiscardLogger()

	first, err := LoadOrCreateCertificate(path, logger)
	if err != nil {
		t.Fatalf("first LoadOrCreateCertificate: %v", err)
	}
	second, err := LoadOrCreateCertificate(path, logger)
	if err != nil {
		t.Fatalf("second LoadOrCreateCertificate: %v", err)
	}
	firstHash, _ := CertHash(first)
	secondHash, _ := CertHash(second)
	if string(firstHash) != string(secondHash) {
		t.Error("reloaded certificate has a different certhash")
	}
	if time.Until(first.Expires()) < 300*24*time.Hour {
		t.Errorf("certificate expires %s, want about a year out", first.Expires())
	}
}
