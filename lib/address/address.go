// Copyright 2026 The Docstore Authors
// SPDX-License-Identifier: Apache-2.0

package address

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"strings"

	"github.com/multiformats/go-multiaddr"

	"github.com/simplep2p/docstore/lib/identity"
)

// ErrInvalidAddress wraps every parse failure.
var ErrInvalidAddress = errors.New("invalid address")

// Host protocols.
const (
	IP4     = "ip4"
	IP6     = "ip6"
	DNS4    = "dns4"
	DNS6    = "dns6"
	DNSAddr = "dnsaddr"
)

// Transport names reported by [Address.Transport].
const (
	TransportWebRTCDirect = "webrtc-direct"
	TransportTCP          = "tcp"
)

// Address is a parsed network locator such as
//
//	/ip4/203.0.113.7/udp/9090/webrtc-direct/certhash/uEiD.../p2p/12D3KooW...
//	/ip4/203.0.113.7/tcp/4001/p2p/12D3KooW...
//	/dnsaddr/bootstrap.example.org/p2p/12D3KooW...
//
// The zero value is not a valid address.
type Address struct {
	// HostProtocol is one of IP4, IP6, DNS4, DNS6 or DNSAddr.
	HostProtocol string
	Host         string

	// Network is "udp" or "tcp". Empty for dnsaddr locators, which
	// carry no port.
	Network string
	Port    int

	WebRTCDirect bool

	// CertHash is the binary multihash of the server's DTLS
	// certificate. Empty when the locator does not pin a certificate.
	CertHash []byte

	Peer identity.PeerID
}

// Parse reads a locator. The text must be a valid multiaddr, and
// components must appear in the order host, port, transport, certhash,
// peer; an address may stop after any of them except that a port
// requires a host.
func Parse(text string) (Address, error) {
	fail := func(format string, args ...any) (Address, error) {
		return Address{}, fmt.Errorf("%w %q: %s", ErrInvalidAddress, text, fmt.Sprintf(format, args...))
	}
	if !strings.HasPrefix(text, "/") {
		return fail("must start with /")
	}
	components, err := multiaddr.NewMultiaddr(text)
	if err != nil {
		return fail("%v", err)
	}
	if len(components) == 0 {
		return fail("empty")
	}

	var address Address
	for index, component := range components {
		protocol := component.Protocol()
		value := component.Value()
		if address.Peer != "" {
			return fail("/p2p must be the last component")
		}
		if index == 0 {
			switch protocol.Code {
			case multiaddr.P_IP4, multiaddr.P_IP6, multiaddr.P_DNS4, multiaddr.P_DNS6, multiaddr.P_DNSADDR:
				address.HostProtocol = protocol.Name
				address.Host = value
			default:
				return fail("unsupported protocol %q", protocol.Name)
			}
			continue
		}

		switch protocol.Code {
		case multiaddr.P_UDP, multiaddr.P_TCP:
			if address.Network != "" || address.HostProtocol == DNSAddr {
				return fail("unexpected /%s", protocol.Name)
			}
			port, err := strconv.ParseUint(value, 10, 16)
			if err != nil {
				return fail("bad port %q", value)
			}
			address.Network = protocol.Name
			address.Port = int(port)
		case multiaddr.P_WEBRTC_DIRECT:
			if address.Network != "udp" || address.WebRTCDirect {
				return fail("/webrtc-direct must follow /udp/<port>")
			}
			address.WebRTCDirect = true
		case multiaddr.P_CERTHASH:
			if !address.WebRTCDirect || address.CertHash != nil {
				return fail("/certhash must follow /webrtc-direct")
			}
			hash, err := decodeCertHashMultihash(value)
			if err != nil {
				return fail("certhash: %v", err)
			}
			address.CertHash = hash
		case multiaddr.P_P2P:
			peer, err := identity.ParsePeerID(value)
			if err != nil {
				return fail("%v", err)
			}
			address.Peer = peer
		default:
			return fail("unsupported component %q", protocol.Name)
		}
	}

	if address.Network == "udp" && !address.WebRTCDirect {
		return fail("udp addresses must use /webrtc-direct")
	}
	return address, nil
}

// MustParse is Parse for constants in tests and defaults. It panics on
// error.
func MustParse(text string) Address {
	address, err := Parse(text)
	if err != nil {
		panic(err)
	}
	return address
}

// String formats the address in canonical locator form.
func (a Address) String() string {
	var builder strings.Builder
	builder.WriteString("/" + a.HostProtocol + "/" + a.Host)
	if a.Network != "" {
		builder.WriteString("/" + a.Network + "/" + strconv.Itoa(a.Port))
	}
	if a.WebRTCDirect {
		builder.WriteString("/" + TransportWebRTCDirect)
	}
	if len(a.CertHash) > 0 {
		encoded, err := encodeCertHashMultihash(a.CertHash)
		if err == nil {
			builder.WriteString("/certhash/" + encoded)
		}
	}
	if a.Peer != "" {
		builder.WriteString("/p2p/" + a.Peer.String())
	}
	return builder.String()
}

// Transport reports how the address is dialed: TransportWebRTCDirect,
// TransportTCP, or "" for locators that must be resolved first.
func (a Address) Transport() string {
	switch {
	case a.WebRTCDirect:
		return TransportWebRTCDirect
	case a.Network == "tcp":
		return TransportTCP
	default:
		return ""
	}
}

// HostPort returns "host:port" suitable for net.Dial.
func (a Address) HostPort() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
}

// SignalingURL is where a webrtc-direct listener accepts SDP offers:
// HTTP on the TCP port with the same number as the UDP port.
func (a Address) SignalingURL() string {
	return "http://" + a.HostPort() + "/signal"
}

// WithPeer returns a copy of a naming peer.
func (a Address) WithPeer(peer identity.PeerID) Address {
	a.Peer = peer
	a.CertHash = bytes.Clone(a.CertHash)
	return a
}

// WithoutPeer returns a copy of a with the /p2p component removed.
func (a Address) WithoutPeer() Address {
	return a.WithPeer("")
}

// Equal reports whether two addresses format identically.
func (a Address) Equal(other Address) bool {
	return a.String() == other.String()
}

// IsUnspecified reports whether the host is 0.0.0.0 or ::, which is
// what listeners bind to but never what peers should dial.
func (a Address) IsUnspecified() bool {
	if a.HostProtocol != IP4 && a.HostProtocol != IP6 {
		return false
	}
	parsed, err := netip.ParseAddr(a.Host)
	return err == nil && parsed.IsUnspecified()
}

// FromIP builds an address for ip, choosing ip4 or ip6.
func FromIP(ip netip.Addr, network string, port int) Address {
	protocol := IP4
	if ip.Is6() && !ip.Is4In6() {
		protocol = IP6
	}
	return Address{
		HostProtocol: protocol,
		Host:         ip.Unmap().String(),
		Network:      network,
		Port:         port,
	}
}

// ParseList parses a comma-separated list, as found in BOOTSTRAP_PEERS.
// Empty entries are skipped. Entries that fail to parse are returned
// joined in the error; valid entries are still returned.
func ParseList(text string) ([]Address, error) {
	var addresses []Address
	var errs []error
	for entry := range strings.SplitSeq(text, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		address, err := Parse(entry)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		addresses = append(addresses, address)
	}
	return addresses, errors.Join(errs...)
}

// ListErrors splits an error returned by ParseList into one error per
// rejected entry.
func ListErrors(err error) []error {
	if err == nil {
		return nil
	}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		return joined.Unwrap()
	}
	return []error{err}
}

// Strings formats a list of addresses.
func Strings(addresses []Address) []string {
	texts := make([]string, len(addresses))
	for index, address := range addresses {
		texts[index] = address.String()
	}
	return texts
}
