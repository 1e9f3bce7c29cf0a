// Copyright 2026 The Docstore Authors
// SPDX-License-Identifier: Apache-2.0

package gossip

import "time"

// seenCache remembers message IDs for ttl so a message that loops back
// through the overlay is neither delivered nor forwarded twice.
type seenCache struct {
	ttl     time.Duration
	entries map[MessageID]time.Time
}

func newSeenCache(ttl time.Duration) *seenCache {
	return &seenCache{ttl: ttl, entries: make(map[MessageID]time.Time)}
}

// add records id as seen at now and reports whether it was new.
func (c *seenCache) add(id MessageID, now time.Time) bool {
	if _, exists := c.entries[id]; exists {
		return false
	}
	c.entries[id] = now
	return true
}

func (c *seenCache) has(id MessageID) bool {
	_, exists := c.entries[id]
	return exists
}

// expire forgets IDs first seen at least ttl before now and returns
// how many were dropped.
func (c *seenCache) expire(now time.Time) int {
	dropped := 0
	for id, seenAt := range c.entries {
		if now.Sub(seenAt) >= c.ttl {
			delete(c.entries, id)
			dropped++
		}
	}
	return dropped
}

func (c *seenCache) len() int { return len(c.entries) }
