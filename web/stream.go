// Copyright 2026 The Docstore Authors
// SPDX-License-Identifier: Apache-2.0

package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/simplep2p/docstore/lib/netutil"
	"github.com/simplep2p/docstore/node"
)

const (
	// writeWait bounds one websocket write.
	writeWait = 10 * time.Second

	// pongWait is how long a client may stay silent before its
	// connection is dropped. Browsers answer pings automatically.
	pongWait = 60 * time.Second

	// pingPeriod must be shorter than pongWait.
	pingPeriod = pongWait * 9 / 10

	// clientQueueSize is the number of encoded events buffered per
	// client. A client that falls this far behind is disconnected.
	clientQueueSize = 256

	// maxClientMessage caps what a client may send. The stream is one
	// way; anything larger than a control frame is a misbehaving client.
	maxClientMessage = 512

	// nodeEventBuffer is the stream's own subscription depth on the
	// node.
	nodeEventBuffer = 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The harness may be served from a different origin than the node.
	CheckOrigin: func(*http.Request) bool { return true },
}

// streamClient is one websocket connection receiving events.
type streamClient struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// eventStream fans node events out to websocket clients. It holds a
// single subscription on the node and encodes each event once.
type eventStream struct {
	logger *slog.Logger

	mu      sync.Mutex
	clients map[*streamClient]struct{}
	closed  bool
}

func newEventStream(logger *slog.Logger) *eventStream {
	return &eventStream{logger: logger, clients: make(map[*streamClient]struct{})}
}

// run forwards events until ctx is cancelled or the node closes the
// subscription, then disconnects every client.
func (s *eventStream) run(ctx context.Context, source Node) {
	events, cancel := source.Subscribe(nodeEventBuffer)
	defer cancel()
	defer s.closeAll()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			s.broadcast(event)
		}
	}
}

func (s *eventStream) broadcast(event node.Event) {
	encoded, err := json.Marshal(event)
	if err != nil {
		s.logger.Error("encoding event for stream", "type", event.Type, "error", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for client := range s.clients {
		select {
		case client.send <- encoded:
		default:
			s.logger.Warn("event stream client too slow, disconnecting", "client", client.id)
			delete(s.clients, client)
			close(client.send)
		}
	}
}

// register adds a client. It returns false once the stream has shut
// down.
func (s *eventStream) register(client *streamClient) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.clients[client] = struct{}{}
	return true
}

func (s *eventStream) unregister(client *streamClient) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[client]; ok {
		delete(s.clients, client)
		close(client.send)
	}
}

func (s *eventStream) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for client := range s.clients {
		delete(s.clients, client)
		close(client.send)
	}
}

// clientCount is the number of connected clients.
func (s *eventStream) clientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// ServeHTTP upgrades the request and streams events to it as JSON text
// messages.
func (s *eventStream) ServeHTTP(writer http.ResponseWriter, request *http.Request) {
	conn, err := upgrader.Upgrade(writer, request, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		s.logger.Debug("event stream upgrade failed", "remote", request.RemoteAddr, "error", err)
		return
	}

	client := &streamClient{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, clientQueueSize),
	}
	if !s.register(client) {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(writeWait))
		conn.Close()
		return
	}
	s.logger.Debug("event stream client connected", "client", client.id, "remote", request.RemoteAddr)

	go s.writePump(client)
	s.readPump(client)
}

// readPump discards client messages and keeps the read deadline moving
// on pongs. It returns when the connection fails or closes.
func (s *eventStream) readPump(client *streamClient) {
	defer func() {
		s.unregister(client)
		client.conn.Close()
		s.logger.Debug("event stream client disconnected", "client", client.id)
	}()

	client.conn.SetReadLimit(maxClientMessage)
	client.conn.SetReadDeadline(time.Now().Add(pongWait))
	client.conn.SetPongHandler(func(string) error {
		return client.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			if !netutil.IsExpectedCloseError(err) &&
				websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("event stream read failed", "client", client.id, "error", err)
			}
			return
		}
	}
}

// writePump sends queued events and periodic pings. A closed send
// channel ends the connection with a close frame.
func (s *eventStream) writePump(client *streamClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.conn.Close()
	}()

	for {
		select {
		case message, ok := <-client.send:
			client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				client.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
