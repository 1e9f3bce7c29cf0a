// Copyright 2026 The Docstore Authors
// SPDX-License-Identifier: Apache-2.0

package node

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// EventType is the "type" field of an event.
type EventType string

const (
	EventListening        EventType = "listening"
	EventConnected        EventType = "connected"
	EventDisconnected     EventType = "disconnected"
	EventMessageReceived  EventType = "messageReceived"
	EventMessagePublished EventType = "messagePublished"
	EventSubscribed       EventType = "subscribed"
	EventUnsubscribed     EventType = "unsubscribed"
	EventPeerDiscovery    EventType = "peerDiscovery"
	EventIdentify         EventType = "identify"
	EventError            EventType = "error"
)

// Event is something the node did or observed. Which fields are set
// depends on Type. Data carries message payloads as text.
type Event struct {
	Type EventType `json:"type"`
	Time time.Time `json:"time"`

	PeerID string   `json:"peer_id,omitempty"`
	Addrs  []string `json:"addrs,omitempty"`
	Topic  string   `json:"topic,omitempty"`

	MessageID string `json:"msg_id,omitempty"`
	Author    string `json:"author,omitempty"`
	Data      string `json:"data,omitempty"`

	AgentVersion    string `json:"agent_version,omitempty"`
	ProtocolVersion string `json:"protocol_version,omitempty"`

	// Message is the error text for EventError.
	Message string `json:"msg,omitempty"`
}

// eventHub fans events out to subscribers.
type eventHub struct {
	logger *slog.Logger

	mu          sync.Mutex
	subscribers map[*subscriber]struct{}
}

type subscriber struct {
	channel chan Event
	dropped int
}

func newEventHub(logger *slog.Logger) *eventHub {
	return &eventHub{logger: logger, subscribers: make(map[*subscriber]struct{})}
}

// subscribe registers a subscriber with room for buffer pending
// events. The cancel function unregisters it and closes the channel.
func (h *eventHub) subscribe(buffer int) (<-chan Event, func()) {
	entry := &subscriber{channel: make(chan Event, buffer)}
	h.mu.Lock()
	h.subscribers[entry] = struct{}{}
	h.mu.Unlock()

	return entry.channel, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := h.subscribers[entry]; ok {
			delete(h.subscribers, entry)
			close(entry.channel)
		}
	}
}

// publish delivers event to every subscriber with room for it.
func (h *eventHub) publish(event Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for entry := range h.subscribers {
		select {
		case entry.channel <- event:
		default:
			entry.dropped++
			// Warn on the first drop and then every hundredth.
			if entry.dropped%100 == 1 {
				h.logger.Warn("event subscriber is not keeping up, dropping events",
					"type", event.Type,
					"dropped", entry.dropped,
				)
			}
		}
	}
}

// closeAll unregisters and closes every subscriber.
func (h *eventHub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for entry := range h.subscribers {
		delete(h.subscribers, entry)
		close(entry.channel)
	}
}

// logEvent writes event to the node log the way the server reports
// activity: one line per event, warn level for errors.
func logEvent(logger *slog.Logger, event Event) {
	level := slog.LevelInfo
	switch event.Type {
	case EventError:
		level = slog.LevelWarn
	case EventIdentify, EventSubscribed, EventUnsubscribed:
		level = slog.LevelDebug
	}
	attrs := []slog.Attr{slog.String("event", string(event.Type))}
	if event.PeerID != "" {
		attrs = append(attrs, slog.String("peer", event.PeerID))
	}
	if event.Topic != "" {
		attrs = append(attrs, slog.String("topic", event.Topic))
	}
	if len(event.Addrs) > 0 {
		attrs = append(attrs, slog.Any("addrs", event.Addrs))
	}
	if event.MessageID != "" {
		attrs = append(attrs, slog.String("msg_id", event.MessageID))
	}
	if event.Author != "" && event.Author != event.PeerID {
		attrs = append(attrs, slog.String("author", event.Author))
	}
	if event.Data != "" {
		attrs = append(attrs, slog.String("data", event.Data))
	}
	if event.AgentVersion != "" {
		attrs = append(attrs, slog.String("agent", event.AgentVersion))
	}
	if event.Message != "" {
		attrs = append(attrs, slog.String("error", event.Message))
	}
	logger.LogAttrs(context.Background(), level, eventSummary(event.Type), attrs...)
}

func eventSummary(eventType EventType) string {
	switch eventType {
	case EventListening:
		return "listening"
	case EventConnected:
		return "connection established"
	case EventDisconnected:
		return "connection closed"
	case EventMessageReceived:
		return "gossip message received"
	case EventMessagePublished:
		return "gossip message published"
	case EventSubscribed:
		return "peer subscribed"
	case EventUnsubscribed:
		return "peer unsubscribed"
	case EventPeerDiscovery:
		return "peer discovered"
	case EventIdentify:
		return "identify received"
	default:
		return "node error"
	}
}
