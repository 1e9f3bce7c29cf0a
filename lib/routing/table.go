// Copyright 2026 The Docstore Authors
// SPDX-License-Identifier: Apache-2.0

package routing

import (
	"bytes"
	"slices"
	"sync"
	"time"

	"github.com/simplep2p/docstore/lib/address"
	"github.com/simplep2p/docstore/lib/clock"
	"github.com/simplep2p/docstore/lib/identity"
)

// DefaultBucketSize is k, the number of peers per bucket and the
// number of results a lookup converges on.
const DefaultBucketSize = 20

// Entry is one known peer.
type Entry struct {
	Peer      identity.PeerID
	Key       Key
	Addresses []address.Address
	LastSeen  time.Time
}

// Table is a routing table for one local peer. It is safe for
// concurrent use.
type Table struct {
	local      identity.PeerID
	localKey   Key
	bucketSize int
	clock      clock.Clock

	mu      sync.Mutex
	buckets [KeySize*8 + 1][]*Entry
	byPeer  map[identity.PeerID]*Entry
}

// NewTable returns an empty table. bucketSize <= 0 selects
// DefaultBucketSize; a nil clock selects the wall clock.
func NewTable(local identity.PeerID, bucketSize int, clk clock.Clock) *Table {
	if bucketSize <= 0 {
		bucketSize = DefaultBucketSize
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &Table{
		local:      local,
		localKey:   KeyFor(local),
		bucketSize: bucketSize,
		clock:      clk,
		byPeer:     make(map[identity.PeerID]*Entry),
	}
}

// Local returns the peer the table is centred on.
func (t *Table) Local() identity.PeerID { return t.local }

// Add inserts peer or refreshes it. New addresses are merged into the
// ones already known. It reports whether the peer is in the table
// afterwards: false for the local peer or when its bucket is full.
func (t *Table) Add(peer identity.PeerID, addresses ...address.Address) bool {
	if peer == t.local || peer == "" {
		return false
	}
	now := t.clock.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	key := KeyFor(peer)
	index := CommonPrefixLen(t.localKey, key)
	bucket := t.buckets[index]

	if entry, ok := t.byPeer[peer]; ok {
		entry.LastSeen = now
		entry.Addresses = mergeAddresses(entry.Addresses, addresses)
		position := slices.Index(bucket, entry)
		t.buckets[index] = append(slices.Delete(bucket, position, position+1), entry)
		return true
	}
	if len(bucket) >= t.bucketSize {
		return false
	}
	entry := &Entry{
		Peer:      peer,
		Key:       key,
		Addresses: mergeAddresses(nil, addresses),
		LastSeen:  now,
	}
	t.buckets[index] = append(bucket, entry)
	t.byPeer[peer] = entry
	return true
}

// Remove drops peer. It reports whether the peer was present.
func (t *Table) Remove(peer identity.PeerID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.byPeer[peer]
	if !ok {
		return false
	}
	delete(t.byPeer, peer)
	index := CommonPrefixLen(t.localKey, entry.Key)
	t.buckets[index] = slices.DeleteFunc(t.buckets[index], func(candidate *Entry) bool {
		return candidate == entry
	})
	return true
}

// Find returns a copy of the entry for peer.
func (t *Table) Find(peer identity.PeerID) (Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.byPeer[peer]
	if !ok {
		return Entry{}, false
	}
	return entry.clone(), true
}

// Closest returns up to count entries ordered by distance to target,
// nearest first.
func (t *Table) Closest(target Key, count int) []Entry {
	t.mu.Lock()
	entries := make([]Entry, 0, len(t.byPeer))
	for _, entry := range t.byPeer {
		entries = append(entries, entry.clone())
	}
	t.mu.Unlock()

	SortByDistance(entries, target)
	if count >= 0 && len(entries) > count {
		entries = entries[:count]
	}
	return entries
}

// SortByDistance orders entries by XOR distance to target, nearest
// first.
func SortByDistance(entries []Entry, target Key) {
	slices.SortFunc(entries, func(a, b Entry) int {
		distanceA := Distance(a.Key, target)
		distanceB := Distance(b.Key, target)
		return bytes.Compare(distanceA[:], distanceB[:])
	})
}

// Peers returns every entry, nearest to the local peer first.
func (t *Table) Peers() []Entry {
	return t.Closest(t.localKey, -1)
}

// Len returns the number of peers in the table.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.byPeer)
}

func (e *Entry) clone() Entry {
	copied := *e
	copied.Addresses = slices.Clone(e.Addresses)
	return copied
}

func mergeAddresses(known, added []address.Address) []address.Address {
	for _, candidate := range added {
		if !slices.ContainsFunc(known, candidate.Equal) {
			known = append(known, candidate)
		}
	}
	return known
}
