// Copyright 2026 The Docstore Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/netip"
	"strings"
	"sync"
	"time"

	"github.com/pion/datachannel"
	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v4"

	"github.com/simplep2p/docstore/lib/address"
	"github.com/simplep2p/docstore/lib/codec"
	"github.com/simplep2p/docstore/lib/identity"
	"github.com/simplep2p/docstore/lib/wire"
)

// Compile-time interface checks.
var (
	_ Listener      = (*WebRTCTransport)(nil)
	_ Dialer        = (*WebRTCTransport)(nil)
	_ OfferAcceptor = (*WebRTCTransport)(nil)
)

// iceGatherTimeout is the maximum time to wait for ICE candidate
// gathering to complete before sending the SDP.
const iceGatherTimeout = 15 * time.Second

// iceConnectTimeout is the maximum time to wait for both data channels
// to open after the remote description is set.
const iceConnectTimeout = 30 * time.Second

// gossipChannelLabel names the frame channel. Its protocol string
// selects the frame codec.
const gossipChannelLabel = "gossip"

// sctpMaxMessageSize leaves room for the compression envelope around
// the largest frame.
const sctpMaxMessageSize = wire.MaxFrameSize + 1024

// ErrFingerprintMismatch is returned when the answering peer's DTLS
// certificate does not match the certhash in the dialed address.
var ErrFingerprintMismatch = errors.New("DTLS fingerprint does not match the address certhash")

// WebRTCConfig configures a WebRTCTransport.
type WebRTCConfig struct {
	Keypair *identity.Keypair

	// Certificate is the DTLS certificate. Its hash is advertised as
	// /certhash, so it should be stable across restarts (see
	// LoadOrCreateCertificate). Nil generates an ephemeral one.
	Certificate *webrtc.Certificate

	// Signaler carries offers for Dial. Nil disables dialing.
	Signaler Signaler

	ICE ICEConfig

	// UDPConn, when set, carries every PeerConnection's ICE traffic
	// through one socket, which is what makes the listening port fixed
	// and the transport dialable. The transport closes it on Close.
	UDPConn net.PacketConn

	// PublicIPs are advertised as host candidates in place of local
	// interface addresses (NAT 1:1) and added to Addresses.
	PublicIPs []string

	// IncludeLoopback gathers loopback candidates, needed when both
	// ends run on one machine.
	IncludeLoopback bool

	// Protocol is the frame protocol requested on outbound gossip
	// channels. Empty means wire.ProtocolCBOR.
	Protocol string

	// Compression applies to CBOR frames.
	Compression codec.Compression

	Logger *slog.Logger
}

// WebRTCTransport carries peer links over WebRTC data channels. It
// implements both Listener and Dialer because both directions share the
// same PeerConnection settings and link table.
//
// Each remote peer gets one PeerConnection with two data channels: the
// auth channel for the identity handshake and the gossip channel for
// frames. Signaling uses vanilla ICE: all candidates are gathered before
// the SDP is sent, so establishment takes one offer/answer round trip.
type WebRTCTransport struct {
	keypair     *identity.Keypair
	certificate webrtc.Certificate
	certHash    []byte
	signaler    Signaler
	protocol    string
	compression codec.Compression
	logger      *slog.Logger

	api      *webrtc.API
	udpConn  net.PacketConn
	udpMux   io.Closer
	publicIP []string

	// iceConfig is protected by configMu because the node replaces it
	// when its configuration is reloaded.
	configMu  sync.RWMutex
	iceConfig ICEConfig

	mu sync.Mutex
	// links holds every established link. Two links to one peer can
	// coexist; the node decides which of them survives.
	links map[*frameLink]struct{}
	// dialing holds peers with an outbound attempt in progress, for
	// simultaneous-offer tie breaking.
	dialing map[identity.PeerID]int

	inbound chan Link

	closed    chan struct{}
	closeOnce sync.Once
}

// NewWebRTCTransport creates a WebRTC transport.
func NewWebRTCTransport(config WebRTCConfig) (*WebRTCTransport, error) {
	if config.Keypair == nil {
		return nil, errors.New("webrtc transport needs a keypair")
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	certificate := config.Certificate
	if certificate == nil {
		generated, err := GenerateCertificate()
		if err != nil {
			return nil, err
		}
		certificate = generated
	}
	certHash, err := CertHash(certificate)
	if err != nil {
		return nil, fmt.Errorf("hashing DTLS certificate: %w", err)
	}
	protocol := config.Protocol
	if protocol == "" {
		protocol = wire.ProtocolCBOR
	}
	if _, err := wire.ForProtocol(protocol, config.Compression); err != nil {
		return nil, err
	}

	wt := &WebRTCTransport{
		keypair:     config.Keypair,
		certificate: *certificate,
		certHash:    certHash,
		signaler:    config.Signaler,
		protocol:    protocol,
		compression: config.Compression,
		logger:      logger,
		udpConn:     config.UDPConn,
		publicIP:    config.PublicIPs,
		iceConfig:   config.ICE,
		links:       make(map[*frameLink]struct{}),
		dialing:     make(map[identity.PeerID]int),
		inbound:     make(chan Link, 16),
		closed:      make(chan struct{}),
	}

	// Detached data channels give message-level ReadWriteCloser access.
	// The UDP mux pins every PeerConnection to the listening socket.
	loggerFactory := newSlogLoggerFactory(logger)
	settingEngine := webrtc.SettingEngine{LoggerFactory: loggerFactory}
	settingEngine.DetachDataChannels()
	settingEngine.SetIncludeLoopbackCandidate(config.IncludeLoopback)
	settingEngine.SetSCTPMaxMessageSize(sctpMaxMessageSize)
	if len(config.PublicIPs) > 0 {
		settingEngine.SetNAT1To1IPs(config.PublicIPs, webrtc.ICECandidateTypeHost)
	}
	if config.UDPConn != nil {
		mux := webrtc.NewICEUDPMux(loggerFactory.NewLogger("ice-udp-mux"), config.UDPConn)
		settingEngine.SetICEUDPMux(mux)
		settingEngine.SetNetworkTypes([]webrtc.NetworkType{webrtc.NetworkTypeUDP4, webrtc.NetworkTypeUDP6})
		wt.udpMux = mux
	}
	wt.api = webrtc.NewAPI(webrtc.WithSettingEngine(settingEngine))
	return wt, nil
}

// LocalPeer returns this node's peer ID.
func (wt *WebRTCTransport) LocalPeer() identity.PeerID {
	return wt.keypair.PeerID()
}

// CertHash returns the certhash multihash of the DTLS certificate.
func (wt *WebRTCTransport) CertHash() []byte {
	return bytes.Clone(wt.certHash)
}

// Addresses returns the webrtc-direct locators of the UDP socket, one
// per interface address when it is bound to an unspecified host, plus
// the configured public IPs. Empty when the transport has no socket.
func (wt *WebRTCTransport) Addresses() []address.Address {
	if wt.udpConn == nil {
		return nil
	}
	local, ok := wt.udpConn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return nil
	}
	port := local.Port

	var hosts []netip.Addr
	for _, public := range wt.publicIP {
		if parsed, err := netip.ParseAddr(public); err == nil {
			hosts = append(hosts, parsed)
		}
	}
	if len(hosts) == 0 {
		hosts = listenHosts(local.AddrPort().Addr())
	}

	addresses := make([]address.Address, 0, len(hosts))
	for _, host := range hosts {
		listen := address.FromIP(host, "udp", port)
		listen.WebRTCDirect = true
		listen.CertHash = bytes.Clone(wt.certHash)
		addresses = append(addresses, listen.WithPeer(wt.keypair.PeerID()))
	}
	return addresses
}

// listenHosts expands an unspecified bind address into the interface
// addresses of the matching family.
func listenHosts(bound netip.Addr) []netip.Addr {
	bound = bound.Unmap()
	if !bound.IsUnspecified() {
		return []netip.Addr{bound}
	}
	interfaceAddrs, err := net.InterfaceAddrs()
	if err != nil {
		return []netip.Addr{netip.IPv4Unspecified()}
	}
	var hosts []netip.Addr
	for _, interfaceAddr := range interfaceAddrs {
		prefix, err := netip.ParsePrefix(interfaceAddr.String())
		if err != nil {
			continue
		}
		host := prefix.Addr()
		if host.IsLinkLocalUnicast() || (bound.Is4() && !host.Is4()) {
			continue
		}
		hosts = append(hosts, host)
	}
	return hosts
}

// UpdateICEConfig replaces the ICE configuration for new
// PeerConnections. Existing connections keep their configuration.
func (wt *WebRTCTransport) UpdateICEConfig(config ICEConfig) {
	wt.configMu.Lock()
	defer wt.configMu.Unlock()
	wt.iceConfig = config
}

// Serve dispatches inbound links to handler until ctx is cancelled or
// the transport is closed.
func (wt *WebRTCTransport) Serve(ctx context.Context, handler LinkHandler) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-wt.closed:
			return nil
		case link := <-wt.inbound:
			go handler(link)
		}
	}
}

// Close tears down every PeerConnection and the UDP socket.
func (wt *WebRTCTransport) Close() error {
	wt.closeOnce.Do(func() {
		close(wt.closed)
	})

	wt.mu.Lock()
	links := make([]*frameLink, 0, len(wt.links))
	for link := range wt.links {
		links = append(links, link)
	}
	wt.mu.Unlock()
	for _, link := range links {
		link.Close()
	}

	var errs []error
	if wt.udpMux != nil {
		errs = append(errs, wt.udpMux.Close())
	}
	if wt.udpConn != nil {
		if err := wt.udpConn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Dial establishes a PeerConnection to the webrtc-direct address
// target. The offer goes through the Signaler; the answer's DTLS
// fingerprint is checked against target's certhash when it has one, and
// the answering peer must then prove its identity on the auth channel.
func (wt *WebRTCTransport) Dial(ctx context.Context, target address.Address) (Link, error) {
	select {
	case <-wt.closed:
		return nil, ErrClosed
	default:
	}
	if target.Transport() != address.TransportWebRTCDirect {
		return nil, fmt.Errorf("webrtc transport cannot dial %s", target)
	}
	if wt.signaler == nil {
		return nil, errors.New("webrtc transport has no signaler")
	}
	if target.Peer == wt.LocalPeer() {
		return nil, errors.New("refusing to dial self")
	}

	if target.Peer != "" {
		wt.mu.Lock()
		wt.dialing[target.Peer]++
		wt.mu.Unlock()
		defer func() {
			wt.mu.Lock()
			if wt.dialing[target.Peer]--; wt.dialing[target.Peer] <= 0 {
				delete(wt.dialing, target.Peer)
			}
			wt.mu.Unlock()
		}()
	}

	conn, err := wt.newConnection()
	if err != nil {
		return nil, err
	}
	link, err := wt.establishOutbound(ctx, conn, target)
	if err != nil {
		conn.pc.Close()
		return nil, err
	}
	return link, nil
}

func (wt *WebRTCTransport) establishOutbound(ctx context.Context, conn *connection, target address.Address) (*frameLink, error) {
	ordered := true
	authProtocol := authChannelProtocol
	authChannel, err := conn.pc.CreateDataChannel(authChannelLabel, &webrtc.DataChannelInit{
		Ordered:  &ordered,
		Protocol: &authProtocol,
	})
	if err != nil {
		return nil, fmt.Errorf("creating auth channel: %w", err)
	}
	conn.watch(authChannel)

	gossipProtocol := wt.protocol
	gossipChannel, err := conn.pc.CreateDataChannel(gossipChannelLabel, &webrtc.DataChannelInit{
		Ordered:  &ordered,
		Protocol: &gossipProtocol,
	})
	if err != nil {
		return nil, fmt.Errorf("creating gossip channel: %w", err)
	}
	conn.watch(gossipChannel)

	offer, err := conn.pc.CreateOffer(nil)
	if err != nil {
		return nil, fmt.Errorf("creating SDP offer: %w", err)
	}
	if err := wt.setLocalAndGather(ctx, conn.pc, offer); err != nil {
		return nil, err
	}

	answer, err := wt.signaler.Exchange(ctx, target, SignalMessage{
		Peer: wt.LocalPeer(),
		Type: SignalOffer,
		SDP:  conn.pc.LocalDescription().SDP,
	})
	if err != nil {
		return nil, err
	}
	if err := answer.validate(SignalAnswer); err != nil {
		return nil, fmt.Errorf("answer from %s: %w", target, err)
	}
	if target.Peer != "" && answer.Peer != target.Peer {
		return nil, fmt.Errorf("%w: answered by %s", ErrPeerMismatch, answer.Peer)
	}
	if err := verifyFingerprint(answer.SDP, target); err != nil {
		return nil, err
	}
	conn.remote = answer.Peer

	if err := conn.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  answer.SDP,
	}); err != nil {
		return nil, fmt.Errorf("setting remote description: %w", err)
	}

	link, err := wt.finishConnection(ctx, conn, true, target.WithPeer(answer.Peer).String())
	if err != nil {
		return nil, err
	}
	wt.logger.Info("webrtc link established",
		"peer", answer.Peer,
		"direction", "outbound",
		"protocol", link.Protocol(),
	)
	return link, nil
}

// AcceptOffer answers an inbound offer. It returns once the answer SDP
// is complete; the connection finishes in the background and the
// authenticated link is delivered through Serve.
//
// When both sides offer at the same time, the lexicographically smaller
// peer ID is the canonical offerer: its offer is answered and the other
// is rejected with ErrOfferConflict.
func (wt *WebRTCTransport) AcceptOffer(ctx context.Context, offer SignalMessage) (SignalMessage, error) {
	select {
	case <-wt.closed:
		return SignalMessage{}, ErrClosed
	default:
	}
	if err := offer.validate(SignalOffer); err != nil {
		return SignalMessage{}, err
	}
	local := wt.LocalPeer()
	if offer.Peer == local {
		return SignalMessage{}, errors.New("offer claims this node's own peer ID")
	}

	wt.mu.Lock()
	_, dialing := wt.dialing[offer.Peer]
	wt.mu.Unlock()
	if dialing && local < offer.Peer {
		wt.logger.Debug("rejecting simultaneous offer, local peer is the canonical offerer",
			"peer", offer.Peer,
		)
		return SignalMessage{}, ErrOfferConflict
	}

	conn, err := wt.newConnection()
	if err != nil {
		return SignalMessage{}, err
	}
	conn.remote = offer.Peer
	conn.pc.OnDataChannel(conn.watch)

	if err := conn.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  offer.SDP,
	}); err != nil {
		conn.pc.Close()
		return SignalMessage{}, fmt.Errorf("setting remote description: %w", err)
	}
	answer, err := conn.pc.CreateAnswer(nil)
	if err != nil {
		conn.pc.Close()
		return SignalMessage{}, fmt.Errorf("creating SDP answer: %w", err)
	}
	if err := wt.setLocalAndGather(ctx, conn.pc, answer); err != nil {
		conn.pc.Close()
		return SignalMessage{}, err
	}

	go func() {
		connectContext, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() {
			select {
			case <-wt.closed:
				cancel()
			case <-connectContext.Done():
			}
		}()
		link, err := wt.finishConnection(connectContext, conn, false, "")
		if err != nil {
			wt.logger.Warn("inbound webrtc connection failed",
				"peer", offer.Peer,
				"error", err,
			)
			conn.pc.Close()
			return
		}
		wt.logger.Info("webrtc link established",
			"peer", offer.Peer,
			"direction", "inbound",
			"protocol", link.Protocol(),
		)
		select {
		case wt.inbound <- link:
		case <-wt.closed:
			link.Close()
		}
	}()

	return SignalMessage{
		Peer: local,
		Type: SignalAnswer,
		SDP:  conn.pc.LocalDescription().SDP,
	}, nil
}

// setLocalAndGather sets description and waits for ICE gathering to
// complete (vanilla ICE).
func (wt *WebRTCTransport) setLocalAndGather(ctx context.Context, pc *webrtc.PeerConnection, description webrtc.SessionDescription) error {
	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(description); err != nil {
		return fmt.Errorf("setting local description: %w", err)
	}
	timer := time.NewTimer(iceGatherTimeout)
	defer timer.Stop()
	select {
	case <-gatherComplete:
		return nil
	case <-timer.C:
		return fmt.Errorf("ICE gathering timed out after %s", iceGatherTimeout)
	case <-ctx.Done():
		return ctx.Err()
	case <-wt.closed:
		return ErrClosed
	}
}

// finishConnection waits for both data channels, authenticates the
// remote peer on the auth channel and registers the link.
func (wt *WebRTCTransport) finishConnection(ctx context.Context, conn *connection, outbound bool, remoteAddr string) (*frameLink, error) {
	authRaw, gossip, err := conn.waitChannels(ctx)
	if err != nil {
		return nil, err
	}

	authConn := NewDataChannelConn(authRaw, "auth/"+wt.LocalPeer().ShortString(), "auth/"+conn.remote.ShortString())
	authConn.SetDeadline(time.Now().Add(authTimeout))
	if err := runPeerAuth(authConn, KeyAuthenticator{Keypair: wt.keypair}, wt.LocalPeer(), conn.remote, nil); err != nil {
		authConn.Close()
		gossip.rwc.Close()
		return nil, err
	}
	authConn.SetDeadline(time.Time{})

	frameCodec, err := wire.ForProtocol(gossip.protocol, wt.compression)
	if err != nil {
		authConn.Close()
		gossip.rwc.Close()
		return nil, err
	}
	gossipConn := NewDataChannelConn(gossip.rwc, gossipChannelLabel+"/"+wt.LocalPeer().ShortString(), gossipChannelLabel+"/"+conn.remote.ShortString())
	gossipConn.SetTextMessages(gossip.protocol == wire.ProtocolJSON)

	if remoteAddr == "" {
		remoteAddr = selectedRemoteAddress(conn.pc, conn.remote)
	}

	var link *frameLink
	link = newFrameLink(gossipConn, frameCodec, conn.remote, remoteAddr, outbound, func() {
		authConn.Close()
		conn.pc.Close()
		wt.mu.Lock()
		delete(wt.links, link)
		wt.mu.Unlock()
	})
	conn.setLink(link)

	wt.mu.Lock()
	wt.links[link] = struct{}{}
	wt.mu.Unlock()
	return link, nil
}

// selectedRemoteAddress renders the remote end of the nominated ICE
// candidate pair as a locator.
func selectedRemoteAddress(pc *webrtc.PeerConnection, peer identity.PeerID) string {
	sctp := pc.SCTP()
	if sctp == nil || sctp.Transport() == nil {
		return ""
	}
	pair, err := sctp.Transport().ICETransport().GetSelectedCandidatePair()
	if err != nil || pair == nil || pair.Remote == nil {
		return ""
	}
	host, err := netip.ParseAddr(pair.Remote.Address)
	if err != nil {
		// mDNS candidates from browsers hide the address.
		return pair.Remote.Address
	}
	remote := address.FromIP(host, "udp", int(pair.Remote.Port))
	remote.WebRTCDirect = true
	return remote.WithPeer(peer).String()
}

// newConnection creates a PeerConnection with the current ICE config and
// starts watching its state.
func (wt *WebRTCTransport) newConnection() (*connection, error) {
	wt.configMu.RLock()
	config := webrtc.Configuration{
		ICEServers:   wt.iceConfig.Servers,
		Certificates: []webrtc.Certificate{wt.certificate},
	}
	wt.configMu.RUnlock()

	pc, err := wt.api.NewPeerConnection(config)
	if err != nil {
		return nil, fmt.Errorf("creating PeerConnection: %w", err)
	}
	conn := &connection{
		pc:     pc,
		opened: make(chan openedChannel, 4),
		failed: make(chan struct{}),
		logger: wt.logger,
	}
	pc.OnConnectionStateChange(conn.handleStateChange)
	return conn, nil
}

// connection tracks one PeerConnection from creation until its link
// closes.
type connection struct {
	pc     *webrtc.PeerConnection
	remote identity.PeerID
	logger *slog.Logger

	opened chan openedChannel

	failed   chan struct{}
	failOnce sync.Once

	mu   sync.Mutex
	link *frameLink
}

type openedChannel struct {
	label    string
	protocol string
	rwc      datachannel.ReadWriteCloser
	err      error
}

// watch detaches channel once it opens and reports it on c.opened.
func (c *connection) watch(channel *webrtc.DataChannel) {
	channel.OnOpen(func() {
		rwc, err := channel.Detach()
		opened := openedChannel{
			label:    channel.Label(),
			protocol: channel.Protocol(),
			rwc:      rwc,
			err:      err,
		}
		select {
		case c.opened <- opened:
		default:
			// Only the auth and gossip channels are expected.
			c.logger.Warn("closing unexpected data channel", "peer", c.remote, "label", channel.Label())
			if rwc != nil {
				rwc.Close()
			}
		}
	})
}

// waitChannels returns the detached auth and gossip channels.
func (c *connection) waitChannels(ctx context.Context) (datachannel.ReadWriteCloser, openedChannel, error) {
	var auth datachannel.ReadWriteCloser
	var gossip openedChannel
	closeAll := func() {
		if auth != nil {
			auth.Close()
		}
		if gossip.rwc != nil {
			gossip.rwc.Close()
		}
	}

	timer := time.NewTimer(iceConnectTimeout)
	defer timer.Stop()
	for auth == nil || gossip.rwc == nil {
		select {
		case opened := <-c.opened:
			if opened.err != nil {
				closeAll()
				return nil, openedChannel{}, fmt.Errorf("detaching %s channel: %w", opened.label, opened.err)
			}
			switch {
			case opened.label == authChannelLabel && auth == nil:
				auth = opened.rwc
			case opened.label == gossipChannelLabel && gossip.rwc == nil:
				gossip = opened
			default:
				c.logger.Warn("closing unexpected data channel", "peer", c.remote, "label", opened.label)
				opened.rwc.Close()
			}
		case <-c.failed:
			closeAll()
			return nil, openedChannel{}, errors.New("peer connection failed before data channels opened")
		case <-timer.C:
			closeAll()
			return nil, openedChannel{}, fmt.Errorf("data channels did not open within %s", iceConnectTimeout)
		case <-ctx.Done():
			closeAll()
			return nil, openedChannel{}, ctx.Err()
		}
	}
	return auth, gossip, nil
}

func (c *connection) setLink(link *frameLink) {
	c.mu.Lock()
	c.link = link
	c.mu.Unlock()
	select {
	case <-c.failed:
		link.Close()
	default:
	}
}

// handleStateChange closes the link when the PeerConnection fails or
// closes. Disconnected is left alone because ICE may recover from it.
func (c *connection) handleStateChange(state webrtc.PeerConnectionState) {
	c.logger.Debug("peer connection state change", "peer", c.remote, "state", state.String())
	switch state {
	case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
		c.failOnce.Do(func() { close(c.failed) })
		c.mu.Lock()
		link := c.link
		c.mu.Unlock()
		if link != nil {
			go link.Close()
		} else if state == webrtc.PeerConnectionStateFailed {
			go c.pc.Close()
		}
	}
}

// verifyFingerprint checks the answer's DTLS fingerprint against the
// certhash pinned in target. Addresses without a certhash are not
// checked.
func verifyFingerprint(answerSDP string, target address.Address) error {
	want, err := target.CertDigest()
	if err != nil {
		return fmt.Errorf("reading certhash of %s: %w", target, err)
	}
	if want == nil {
		return nil
	}

	var description sdp.SessionDescription
	if err := description.UnmarshalString(answerSDP); err != nil {
		return fmt.Errorf("parsing answer SDP: %w", err)
	}
	values := make([]string, 0, 1+len(description.MediaDescriptions))
	if value, ok := description.Attribute("fingerprint"); ok {
		values = append(values, value)
	}
	for _, media := range description.MediaDescriptions {
		if value, ok := media.Attribute("fingerprint"); ok {
			values = append(values, value)
		}
	}
	if len(values) == 0 {
		return fmt.Errorf("%w: answer carries no fingerprint", ErrFingerprintMismatch)
	}
	for _, value := range values {
		algorithm, hexValue, found := strings.Cut(value, " ")
		if !found || !strings.EqualFold(algorithm, "sha-256") {
			continue
		}
		got, err := parseFingerprint(hexValue)
		if err != nil {
			return err
		}
		if !bytes.Equal(got, want) {
			return ErrFingerprintMismatch
		}
		return nil
	}
	return fmt.Errorf("%w: answer has no sha-256 fingerprint", ErrFingerprintMismatch)
}
