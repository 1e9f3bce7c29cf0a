// Copyright 2026 The Docstore Authors
// SPDX-License-Identifier: Apache-2.0

package address

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/miekg/dns"
)

// maxDNSAddrDepth bounds recursive dnsaddr indirection.
const maxDNSAddrDepth = 4

// TXTResolver looks up TXT records.
type TXTResolver interface {
	LookupTXT(ctx context.Context, name string) ([]string, error)
}

// DNSResolver queries a DNS server directly with miekg/dns.
type DNSResolver struct {
	// Server is "host:port" of the DNS server. Empty uses the first
	// nameserver in /etc/resolv.conf, falling back to 1.1.1.1:53.
	Server  string
	Timeout time.Duration
}

func (r *DNSResolver) server() string {
	if r.Server != "" {
		return r.Server
	}
	config, err := dns.ClientConfigFromFile("/etc/resolv.conf")
	if err != nil || len(config.Servers) == 0 {
		return "1.1.1.1:53"
	}
	return net.JoinHostPort(config.Servers[0], config.Port)
}

// LookupTXT returns the concatenated strings of every TXT record at name.
func (r *DNSResolver) LookupTXT(ctx context.Context, name string) ([]string, error) {
	timeout := r.Timeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	client := &dns.Client{Timeout: timeout}
	query := new(dns.Msg)
	query.SetQuestion(dns.Fqdn(name), dns.TypeTXT)
	query.RecursionDesired = true

	response, _, err := client.ExchangeContext(ctx, query, r.server())
	if err != nil {
		return nil, fmt.Errorf("querying TXT %s: %w", name, err)
	}
	if response.Rcode != dns.RcodeSuccess && response.Rcode != dns.RcodeNameError {
		return nil, fmt.Errorf("querying TXT %s: %s", name, dns.RcodeToString[response.Rcode])
	}

	var records []string
	for _, answer := range response.Answer {
		if txt, ok := answer.(*dns.TXT); ok {
			records = append(records, strings.Join(txt.Txt, ""))
		}
	}
	return records, nil
}

// Resolve expands a /dnsaddr locator into concrete addresses by reading
// "dnsaddr=<locator>" TXT records at _dnsaddr.<domain>. Nested dnsaddr
// records are followed. When the locator names a peer, only records for
// that peer are kept. Other addresses are returned unchanged.
func Resolve(ctx context.Context, address Address, resolver TXTResolver) ([]Address, error) {
	return resolve(ctx, address, resolver, 0)
}

func resolve(ctx context.Context, address Address, resolver TXTResolver, depth int) ([]Address, error) {
	if address.HostProtocol != DNSAddr {
		return []Address{address}, nil
	}
	if depth >= maxDNSAddrDepth {
		return nil, fmt.Errorf("dnsaddr %s: recursion limit reached", address.Host)
	}

	records, err := resolver.LookupTXT(ctx, "_dnsaddr."+address.Host)
	if err != nil {
		return nil, err
	}

	var resolved []Address
	var errs []error
	for _, record := range records {
		text, ok := strings.CutPrefix(record, "dnsaddr=")
		if !ok {
			continue
		}
		candidate, err := Parse(text)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if address.Peer != "" && candidate.Peer != "" && candidate.Peer != address.Peer {
			continue
		}
		if address.Peer != "" && candidate.Peer == "" {
			candidate = candidate.WithPeer(address.Peer)
		}
		nested, err := resolve(ctx, candidate, resolver, depth+1)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		resolved = append(resolved, nested...)
	}
	if len(resolved) == 0 {
		if err := errors.Join(errs...); err != nil {
			return nil, fmt.Errorf("dnsaddr %s: %w", address.Host, err)
		}
		return nil, fmt.Errorf("dnsaddr %s: no matching records", address.Host)
	}
	return resolved, nil
}
