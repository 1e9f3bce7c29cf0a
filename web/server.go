// Copyright 2026 The Docstore Authors
// SPDX-License-Identifier: Apache-2.0

package web

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/simplep2p/docstore/lib/address"
	"github.com/simplep2p/docstore/lib/netutil"
	"github.com/simplep2p/docstore/node"
	"github.com/simplep2p/docstore/transport"
)

//go:embed static
var staticFiles embed.FS

// Node is what the HTTP surface needs from a running node.
type Node interface {
	transport.OfferAcceptor
	Subscribe(buffer int) (<-chan node.Event, func())
	Status() node.Status
	Addresses() []address.Address
}

// Config configures a Server.
type Config struct {
	// Address is the TCP listen address, e.g. ":9090". Required.
	Address string

	// Node answers offers and supplies events and status. Required.
	Node Node

	// ShutdownTimeout bounds graceful shutdown. Defaults to 10 seconds.
	ShutdownTimeout time.Duration

	// Logger is required.
	Logger *slog.Logger
}

// Server is the node's HTTP surface: the browser harness, the
// signaling endpoint, the event stream and status.
type Server struct {
	node            Node
	address         string
	logger          *slog.Logger
	shutdownTimeout time.Duration
	stream          *eventStream
	handler         http.Handler

	// ready is closed once the listener is bound.
	ready chan struct{}
	addr  net.Addr
}

// NewServer creates a server. Call Serve to start it.
func NewServer(config Config) (*Server, error) {
	var errs []error
	if config.Address == "" {
		errs = append(errs, errors.New("web: Address is required"))
	}
	if config.Node == nil {
		errs = append(errs, errors.New("web: Node is required"))
	}
	if config.Logger == nil {
		errs = append(errs, errors.New("web: Logger is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	timeout := config.ShutdownTimeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	server := &Server{
		node:            config.Node,
		address:         config.Address,
		logger:          config.Logger,
		shutdownTimeout: timeout,
		stream:          newEventStream(config.Logger),
		ready:           make(chan struct{}),
	}
	handler, err := server.routes()
	if err != nil {
		return nil, err
	}
	server.handler = handler
	return server, nil
}

// Handler returns the routing handler. Serve uses it; tests can mount
// it on httptest servers.
func (s *Server) Handler() http.Handler { return s.handler }

// Ready is closed once the server is bound and accepting connections.
func (s *Server) Ready() <-chan struct{} { return s.ready }

// Addr is the resolved listen address. Only valid after Ready is
// closed.
func (s *Server) Addr() net.Addr { return s.addr }

func (s *Server) routes() (http.Handler, error) {
	static, err := fs.Sub(staticFiles, "static")
	if err != nil {
		return nil, fmt.Errorf("web: embedded assets: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("GET /", http.FileServerFS(static))
	mux.Handle("/signal", transport.SignalHandler(s.node, s.logger))
	mux.Handle("GET /events", s.stream)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /address", s.handleAddress)
	return mux, nil
}

func (s *Server) handleStatus(writer http.ResponseWriter, _ *http.Request) {
	writer.Header().Set("Access-Control-Allow-Origin", "*")
	netutil.WriteJSON(writer, http.StatusOK, s.node.Status())
}

// addressResponse lists the node's dialable locators. WebRTC and TCP
// hold the first locator of each transport for the harness to prefill.
type addressResponse struct {
	WebRTC string   `json:"webrtc,omitempty"`
	TCP    string   `json:"tcp,omitempty"`
	All    []string `json:"all"`
}

func (s *Server) handleAddress(writer http.ResponseWriter, _ *http.Request) {
	writer.Header().Set("Access-Control-Allow-Origin", "*")
	response := addressResponse{All: []string{}}
	for _, candidate := range s.node.Addresses() {
		text := candidate.String()
		response.All = append(response.All, text)
		switch candidate.Transport() {
		case address.TransportWebRTCDirect:
			if response.WebRTC == "" {
				response.WebRTC = text
			}
		case address.TransportTCP:
			if response.TCP == "" {
				response.TCP = text
			}
		}
	}
	netutil.WriteJSON(writer, http.StatusOK, response)
}

// Serve binds the listener and serves until ctx is cancelled, then
// shuts down gracefully: the event stream disconnects its clients and
// in-flight requests get up to ShutdownTimeout to finish.
func (s *Server) Serve(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.address)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.address, err)
	}
	s.addr = listener.Addr()
	close(s.ready)

	streamCtx, stopStream := context.WithCancel(ctx)
	defer stopStream()
	streamDone := make(chan struct{})
	go func() {
		defer close(streamDone)
		s.stream.run(streamCtx, s.node)
	}()

	server := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		// Signaling waits for ICE gathering, so writes get more room
		// than reads. Hijacked websocket connections are not affected.
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("http server listening", "address", s.addr.String())

	serveDone := make(chan error, 1)
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveDone <- err
		}
		close(serveDone)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("http server shutting down")
	case err := <-serveDone:
		stopStream()
		<-streamDone
		return err
	}

	stopStream()
	<-streamDone

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("http server shutdown error", "error", err)
		return fmt.Errorf("http server shutdown: %w", err)
	}

	s.logger.Info("http server stopped")
	return nil
}
