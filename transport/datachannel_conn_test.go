// Copyright 2026 The Docstore Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"bytes"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/pion/datachannel"
)

// messageChannel is an in-memory datachannel.ReadWriteCloser pair end.
// Every write is delivered as one message, with its text flag.
type messageChannel struct {
	incoming <-chan channelMessage
	outgoing chan<- channelMessage

	closeOnce sync.Once
	closed    chan struct{}
	peer      *messageChannel
}

type channelMessage struct {
	data   []byte
	isText bool
}

var _ datachannel.ReadWriteCloser = (*messageChannel)(nil)

func newMessageChannelPair() (*messageChannel, *messageChannel) {
	forward := make(chan channelMessage, 16)
	backward := make(chan channelMessage, 16)
	left := &messageChannel{incoming: backward, outgoing: forward, closed: make(chan struct{})}
	right := &messageChannel{incoming: forward, outgoing: backward, closed: make(chan struct{})}
	left.peer, right.peer = right, left
	return left, right
}

func (m *messageChannel) ReadDataChannel(buffer []byte) (int, bool, error) {
	select {
	case message := <-m.incoming:
		if len(message.data) > len(buffer) {
			return 0, false, io.ErrShortBuffer
		}
		return copy(buffer, message.data), message.isText, nil
	case <-m.closed:
		return 0, false, io.EOF
	case <-m.peer.closed:
		return 0, false, io.EOF
	}
}

func (m *messageChannel) WriteDataChannel(data []byte, isText bool) (int, error) {
	select {
	case <-m.closed:
		return 0, io.ErrClosedPipe
	default:
	}
	m.outgoing <- channelMessage{data: bytes.Clone(data), isText: isText}
	return len(data), nil
}

func (m *messageChannel) Read(buffer []byte) (int, error) {
	count, _, err := m.ReadDataChannel(buffer)
	return count, err
}

func (m *messageChannel) Write(data []byte) (int, error) {
	return m.WriteDataChannel(data, false)
}

func (m *messageChannel) Close() error {
	m.closeOnce.Do(func() { close(m.closed) })
	return nil
}

func TestDataChannelConn_Payloads(t *testing.T) {
	left, right := newMessageChannelPair()
	sender := NewDataChannelConn(left, "local/gossip", "remote/gossip")
	receiver := NewDataChannelConn(right, "remote/gossip", "local/gossip")
	defer sender.Close()
	defer receiver.Close()

	if err := sender.WritePayload([]byte("binary frame")); err != nil {
		t.Fatalf("WritePayload: %v", err)
	}
	sender.SetTextMessages(true)
	if err := sender.WritePayload([]byte(`{"type":"ping"}`)); err != nil {
		t.Fatalf("WritePayload: %v", err)
	}

	first := <-right.incoming
	if first.isText || string(first.data) != "binary frame" {
		t.Errorf("first message = %q text=%v, want binary", first.data, first.isText)
	}
	second := <-right.incoming
	if !second.isText {
		t.Error("second message was not sent as text")
	}

	// Put the second message back and read it through the conn.
	left.outgoing <- second
	payload, err := receiver.ReadPayload()
	if err != nil {
		t.Fatalf("ReadPayload: %v", err)
	}
	if string(payload) != `{"type":"ping"}` {
		t.Errorf("ReadPayload = %q", payload)
	}
}

func TestDataChannelConn_ReadPayloadAfterClose(t *testing.T) {
	left, right := newMessageChannelPair()
	receiver := NewDataChannelConn(right, "remote", "local")
	left.Close()

	if _, err := receiver.ReadPayload(); err == nil {
		t.Fatal("expected error reading from a closed channel")
	}
}

func TestDataChannelConn_StreamFallback(t *testing.T) {
	// A plain io.ReadWriteCloser without message framing still works:
	// each Write is read back by one ReadPayload.
	clientReader, serverWriter := io.Pipe()
	serverReader, clientWriter := io.Pipe()

	clientConn := NewDataChannelConn(&pipeReadWriteCloser{Reader: clientReader, Writer: clientWriter}, "client", "server")
	serverConn := NewDataChannelConn(&pipeReadWriteCloser{Reader: serverReader, Writer: serverWriter}, "server", "client")
	defer clientConn.Close()
	defer serverConn.Close()

	go func() {
		if err := clientConn.WritePayload([]byte("hello from client")); err != nil {
			t.Errorf("WritePayload: %v", err)
		}
	}()

	payload, err := serverConn.ReadPayload()
	if err != nil {
		t.Fatalf("ReadPayload: %v", err)
	}
	if string(payload) != "hello from client" {
		t.Errorf("read = %q, want %q", payload, "hello from client")
	}
}

func TestDataChannelConn_Addresses(t *testing.T) {
	left, _ := newMessageChannelPair()
	var conn net.Conn = NewDataChannelConn(left, "auth/…abc123", "auth/…def456")

	if conn.LocalAddr().Network() != "webrtc" {
		t.Errorf("LocalAddr().Network() = %q, want %q", conn.LocalAddr().Network(), "webrtc")
	}
	if conn.LocalAddr().String() != "auth/…abc123" {
		t.Errorf("LocalAddr().String() = %q", conn.LocalAddr().String())
	}
	if conn.RemoteAddr().String() != "auth/…def456" {
		t.Errorf("RemoteAddr().String() = %q", conn.RemoteAddr().String())
	}
}

func TestDataChannelConn_DeadlineClosesStream(t *testing.T) {
	left, _ := newMessageChannelPair()
	conn := NewDataChannelConn(left, "local", "remote")

	conn.SetReadDeadline(time.Now().Add(-1 * time.Second))

	if _, err := conn.Read(make([]byte, 10)); err == nil {
		t.Fatal("expected error from Read after expired deadline, got nil")
	}
}

func TestDataChannelConn_ClearDeadline(t *testing.T) {
	left, right := newMessageChannelPair()
	clientConn := NewDataChannelConn(left, "client", "server")
	serverConn := NewDataChannelConn(right, "server", "client")
	defer clientConn.Close()
	defer serverConn.Close()

	// Set and then clear a deadline. The clear (zero time) should prevent
	// the deadline from firing.
	clientConn.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
	clientConn.SetReadDeadline(time.Time{})
	time.Sleep(100 * time.Millisecond)

	if _, err := serverConn.Write([]byte("still alive")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	buffer := make([]byte, 256)
	bytesRead, err := clientConn.Read(buffer)
	if err != nil {
		t.Fatalf("Read error after clearing deadline: %v", err)
	}
	if string(buffer[:bytesRead]) != "still alive" {
		t.Errorf("read = %q, want %q", buffer[:bytesRead], "still alive")
	}
}

func TestDataChannelConn_CloseStopsTimers(t *testing.T) {
	reader, writer := io.Pipe()
	conn := NewDataChannelConn(&pipeReadWriteCloser{Reader: reader, Writer: writer}, "local", "remote")

	conn.SetDeadline(time.Now().Add(1 * time.Hour))
	conn.Close()

	if _, err := reader.Read(make([]byte, 1)); err == nil {
		t.Fatal("expected error after Close, got nil")
	}
}

// pipeReadWriteCloser combines separate io.Reader and io.Writer into an
// io.ReadWriteCloser. Closing closes the reader (if closable) and writer
// (if closable).
type pipeReadWriteCloser struct {
	io.Reader
	io.Writer
	closed bool
}

func (p *pipeReadWriteCloser) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	var firstError error
	if closer, ok := p.Reader.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			firstError = err
		}
	}
	if closer, ok := p.Writer.(io.Closer); ok {
		if err := closer.Close(); err != nil && firstError == nil {
			firstError = err
		}
	}
	return firstError
}
