// Copyright 2026 The Docstore Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/pion/datachannel"

	"github.com/simplep2p/docstore/lib/wire"
)

// DataChannelConn wraps a detached pion data channel. It is a net.Conn
// for the authentication handshake and a payloadConn for frames: a data
// channel preserves message boundaries, so each frame is one message.
//
// Deadlines close the underlying channel when they fire, which unblocks
// any pending Read or Write, as with net.Pipe.
type DataChannelConn struct {
	rwc        io.ReadWriteCloser
	localLabel string
	peerLabel  string

	// textMessages sends payloads as string messages. Browsers hand
	// string messages to JavaScript as text, which is what the JSON
	// codec wants.
	textMessages bool

	mu             sync.Mutex
	readTimer      *time.Timer
	writeTimer     *time.Timer
	deadlineClosed bool
}

var (
	_ net.Conn    = (*DataChannelConn)(nil)
	_ payloadConn = (*DataChannelConn)(nil)
)

// NewDataChannelConn wraps a detached data channel. rwc is normally a
// datachannel.ReadWriteCloser; any io.ReadWriteCloser that preserves
// write boundaries works.
func NewDataChannelConn(rwc io.ReadWriteCloser, localLabel, peerLabel string) *DataChannelConn {
	return &DataChannelConn{
		rwc:        rwc,
		localLabel: localLabel,
		peerLabel:  peerLabel,
	}
}

// SetTextMessages selects string (true) or binary (false) messages for
// WritePayload.
func (c *DataChannelConn) SetTextMessages(text bool) {
	c.textMessages = text
}

func (c *DataChannelConn) Read(buffer []byte) (int, error) {
	return c.rwc.Read(buffer)
}

func (c *DataChannelConn) Write(buffer []byte) (int, error) {
	return c.rwc.Write(buffer)
}

// ReadPayload returns the next message. Messages larger than
// wire.MaxFrameSize plus the compression envelope are an error.
func (c *DataChannelConn) ReadPayload() ([]byte, error) {
	buffer := make([]byte, wire.MaxFrameSize+16)
	var (
		count int
		err   error
	)
	if channel, ok := c.rwc.(datachannel.ReadWriteCloser); ok {
		count, _, err = channel.ReadDataChannel(buffer)
	} else {
		count, err = c.rwc.Read(buffer)
	}
	if errors.Is(err, io.ErrShortBuffer) {
		return nil, fmt.Errorf("data channel message exceeds %d bytes", len(buffer))
	}
	if err != nil {
		return nil, err
	}
	return buffer[:count], nil
}

// WritePayload sends payload as one message.
func (c *DataChannelConn) WritePayload(payload []byte) error {
	if channel, ok := c.rwc.(datachannel.ReadWriteCloser); ok {
		_, err := channel.WriteDataChannel(payload, c.textMessages)
		return err
	}
	_, err := c.rwc.Write(payload)
	return err
}

func (c *DataChannelConn) Close() error {
	c.mu.Lock()
	c.stopTimersLocked()
	c.mu.Unlock()
	return c.rwc.Close()
}

func (c *DataChannelConn) LocalAddr() net.Addr {
	return &dataChannelAddr{label: c.localLabel}
}

func (c *DataChannelConn) RemoteAddr() net.Addr {
	return &dataChannelAddr{label: c.peerLabel}
}

// SetDeadline sets both deadlines. A zero value clears them.
func (c *DataChannelConn) SetDeadline(deadline time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readTimer = c.armLocked(c.readTimer, deadline)
	c.writeTimer = c.armLocked(c.writeTimer, deadline)
	return nil
}

func (c *DataChannelConn) SetReadDeadline(deadline time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readTimer = c.armLocked(c.readTimer, deadline)
	return nil
}

func (c *DataChannelConn) SetWriteDeadline(deadline time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writeTimer = c.armLocked(c.writeTimer, deadline)
	return nil
}

// armLocked replaces timer with one that closes the channel at
// deadline. Must be called with c.mu held.
func (c *DataChannelConn) armLocked(timer *time.Timer, deadline time.Time) *time.Timer {
	if timer != nil {
		timer.Stop()
	}
	if deadline.IsZero() || c.deadlineClosed {
		return nil
	}
	duration := time.Until(deadline)
	if duration <= 0 {
		c.closeFromDeadline()
		return nil
	}
	return time.AfterFunc(duration, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.closeFromDeadline()
	})
}

// closeFromDeadline must be called with c.mu held. Once a deadline has
// closed the channel the conn stays broken.
func (c *DataChannelConn) closeFromDeadline() {
	if c.deadlineClosed {
		return
	}
	c.deadlineClosed = true
	c.rwc.Close()
}

func (c *DataChannelConn) stopTimersLocked() {
	if c.readTimer != nil {
		c.readTimer.Stop()
		c.readTimer = nil
	}
	if c.writeTimer != nil {
		c.writeTimer.Stop()
		c.writeTimer = nil
	}
}

// dataChannelAddr is a synthetic net.Addr naming a data channel.
type dataChannelAddr struct {
	label string
}

func (a *dataChannelAddr) Network() string { return "webrtc" }
func (a *dataChannelAddr) String() string  { return a.label }
