// Copyright 2026 The Docstore Authors
// SPDX-License-Identifier: Apache-2.0

package address

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/miekg/dns"
)

type staticResolver map[string][]string

func (r staticResolver) LookupTXT(_ context.Context, name string) ([]string, error) {
	return r[name], nil
}

func TestResolveFiltersByPeer(t *testing.T) {
	wanted := testPeer(t)
	other := testPeer(t)
	resolver := staticResolver{
		"_dnsaddr.bootstrap.example.org": {
			"dnsaddr=/ip4/10.0.0.1/tcp/4001/p2p/" + wanted.String(),
			"dnsaddr=/ip4/10.0.0.2/tcp/4001/p2p/" + other.String(),
			"dnsaddr=/dnsaddr/nested.example.org",
			"unrelated=value",
		},
		"_dnsaddr.nested.example.org": {
			"dnsaddr=/ip4/10.0.0.3/udp/9090/webrtc-direct",
		},
	}

	resolved, err := Resolve(context.Background(), MustParse("/dnsaddr/bootstrap.example.org/p2p/"+wanted.String()), resolver)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(resolved) != 2 {
		t.Fatalf("Resolve returned %v, want two addresses", resolved)
	}
	for _, address := range resolved {
		if address.Peer != wanted {
			t.Errorf("resolved %s does not name the wanted peer", address)
		}
	}
	if resolved[1].Transport() != TransportWebRTCDirect {
		t.Errorf("nested record resolved to %s", resolved[1])
	}
}

func TestResolvePassesThroughConcreteAddresses(t *testing.T) {
	concrete := MustParse("/ip4/10.0.0.1/tcp/4001")
	resolved, err := Resolve(context.Background(), concrete, staticResolver{})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(resolved) != 1 || !resolved[0].Equal(concrete) {
		t.Errorf("Resolve = %v", resolved)
	}
}

func TestResolveNoRecords(t *testing.T) {
	if _, err := Resolve(context.Background(), MustParse("/dnsaddr/empty.example.org"), staticResolver{}); err == nil {
		t.Fatal("expected error for a domain without records")
	}
}

func TestResolveLoop(t *testing.T) {
	resolver := staticResolver{
		"_dnsaddr.loop.example.org": {"dnsaddr=/dnsaddr/loop.example.org"},
	}
	if _, err := Resolve(context.Background(), MustParse("/dnsaddr/loop.example.org"), resolver); err == nil {
		t.Fatal("expected error for a self-referencing record")
	}
}

func TestDNSResolverAgainstLocalServer(t *testing.T) {
	peer := testPeer(t)
	record := "dnsaddr=/ip4/192.0.2.10/tcp/4001/p2p/" + peer.String()

	packetConn, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listening: %v", err)
	}
	mux := dns.NewServeMux()
	mux.HandleFunc("_dnsaddr.docs.test.", func(writer dns.ResponseWriter, request *dns.Msg) {
		response := new(dns.Msg)
		response.SetReply(request)
		response.Answer = append(response.Answer, &dns.TXT{
			Hdr: dns.RR_Header{Name: request.Question[0].Name, Rrtype: dns.TypeTXT, Class: dns.ClassINET, Ttl: 60},
			Txt: []string{record},
		})
		writer.WriteMsg(response)
	})
	started := make(chan struct{})
	server := &dns.Server{PacketConn: packetConn, Handler: mux, NotifyStartedFunc: func() { close(started) }}
	go server.ActivateAndServe()
	t.Cleanup(func() { server.Shutdown() })

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("DNS server did not start")
	}

	resolver := &DNSResolver{Server: packetConn.LocalAddr().String(), Timeout: 2 * time.Second}
	resolved, err := Resolve(context.Background(), MustParse("/dnsaddr/docs.test"), resolver)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(resolved) != 1 || resolved[0].String() != record[len("dnsaddr="):] {
		t.Errorf("Resolve = %v", resolved)
	}
}
