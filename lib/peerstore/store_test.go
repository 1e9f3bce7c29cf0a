// Copyright 2026 The Docstore Authors
// SPDX-License-Identifier: Apache-2.0

package peerstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/simplep2p/docstore/lib/address"
	"github.com/simplep2p/docstore/lib/clock"
	"github.com/simplep2p/docstore/lib/identity"
	"github.com/simplep2p/docstore/lib/testutil"
)

func openTestStore(t *testing.T, clk clock.Clock) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "peers.db")
	store, err := Open(path, clk, testutil.DiscardLogger())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store, path
}

func testPeer(t *testing.T) identity.PeerID {
	t.Helper()
	keypair, err := identity.Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	return keypair.PeerID()
}

func TestStore_AddressesAndIdentify(t *testing.T) {
	ctx := context.Background()
	fake := clock.Fake(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	store, _ := openTestStore(t, fake)
	peer := testPeer(t)

	webrtc := address.MustParse("/ip4/198.51.100.4/udp/9090/webrtc-direct")
	tcp := address.MustParse("/ip4/198.51.100.4/tcp/9090")
	if err := store.AddAddresses(ctx, peer, []address.Address{webrtc}); err != nil {
		t.Fatalf("AddAddresses: %v", err)
	}
	fake.Advance(time.Minute)
	if err := store.AddAddresses(ctx, peer, []address.Address{tcp, webrtc.WithPeer(peer)}); err != nil {
		t.Fatalf("AddAddresses: %v", err)
	}
	if err := store.SetIdentify(ctx, peer, "docstore-node/1.2.0", "docstore/0.1"); err != nil {
		t.Fatalf("SetIdentify: %v", err)
	}

	record, found, err := store.Get(ctx, peer)
	if err != nil || !found {
		t.Fatalf("Get: found=%v err=%v", found, err)
	}
	if record.AgentVersion != "docstore-node/1.2.0" || record.ProtocolVersion != "docstore/0.1" {
		t.Errorf("identify fields = %q %q", record.AgentVersion, record.ProtocolVersion)
	}
	if len(record.Addresses) != 2 {
		t.Fatalf("addresses = %v, want two distinct", record.Addresses)
	}
	for _, addr := range record.Addresses {
		if addr.Peer != peer {
			t.Errorf("stored address %s does not name the peer", addr)
		}
	}
	if !record.LastSeen.Equal(fake.Now()) {
		t.Errorf("LastSeen = %v, want %v", record.LastSeen, fake.Now())
	}

	if _, found, err := store.Get(ctx, testPeer(t)); err != nil || found {
		t.Errorf("Get unknown peer: found=%v err=%v", found, err)
	}
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "peers.db")
	peer := testPeer(t)

	store, err := Open(path, nil, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := store.AddAddresses(ctx, peer, []address.Address{address.MustParse("/dns4/node.example.org/tcp/4001")}); err != nil {
		t.Fatalf("AddAddresses: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := Open(path, nil, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	records, err := reopened.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(records) != 1 || records[0].Peer != peer || len(records[0].Addresses) != 1 {
		t.Fatalf("records after reopen = %+v", records)
	}
}

func TestStore_RecentOrderAndLimit(t *testing.T) {
	ctx := context.Background()
	fake := clock.Fake(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	store, _ := openTestStore(t, fake)

	var peers []identity.PeerID
	for range 4 {
		peer := testPeer(t)
		peers = append(peers, peer)
		if err := store.AddAddresses(ctx, peer, nil); err != nil {
			t.Fatalf("AddAddresses: %v", err)
		}
		fake.Advance(time.Second)
	}

	records, err := store.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(records) != 2 || records[0].Peer != peers[3] || records[1].Peer != peers[2] {
		t.Fatalf("Recent(2) = %+v, want the last two added, newest first", records)
	}
}

func TestStore_ForgetAndPrune(t *testing.T) {
	ctx := context.Background()
	fake := clock.Fake(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	store, _ := openTestStore(t, fake)

	stale, fresh, forgotten := testPeer(t), testPeer(t), testPeer(t)
	addr := []address.Address{address.MustParse("/ip4/10.1.1.1/tcp/4001")}
	for _, peer := range []identity.PeerID{stale, forgotten} {
		if err := store.AddAddresses(ctx, peer, addr); err != nil {
			t.Fatalf("AddAddresses: %v", err)
		}
	}
	fake.Advance(48 * time.Hour)
	if err := store.AddAddresses(ctx, fresh, addr); err != nil {
		t.Fatalf("AddAddresses: %v", err)
	}

	if err := store.Forget(ctx, forgotten); err != nil {
		t.Fatalf("Forget: %v", err)
	}
	removed, err := store.Prune(ctx, fake.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if removed != 1 {
		t.Errorf("Prune removed %d peers, want 1", removed)
	}

	records, err := store.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(records) != 1 || records[0].Peer != fresh {
		t.Fatalf("remaining records = %+v, want only the fresh peer", records)
	}
}
