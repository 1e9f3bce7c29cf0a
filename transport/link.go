// Copyright 2026 The Docstore Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"fmt"
	"sync"

	"github.com/simplep2p/docstore/lib/identity"
	"github.com/simplep2p/docstore/lib/wire"
)

// payloadConn moves whole payloads: one data channel message, or one
// encrypted TCP record.
type payloadConn interface {
	ReadPayload() ([]byte, error)
	WritePayload(payload []byte) error
	Close() error
}

// frameLink implements Link over any payloadConn.
type frameLink struct {
	conn       payloadConn
	codec      wire.Codec
	remotePeer identity.PeerID
	remoteAddr string
	outbound   bool

	writeMu sync.Mutex

	closeOnce sync.Once
	closeErr  error
	done      chan struct{}

	// onClose runs once after conn is closed, for transport-level
	// cleanup such as tearing down the PeerConnection.
	onClose func()
}

func newFrameLink(conn payloadConn, codec wire.Codec, remotePeer identity.PeerID, remoteAddr string, outbound bool, onClose func()) *frameLink {
	return &frameLink{
		conn:       conn,
		codec:      codec,
		remotePeer: remotePeer,
		remoteAddr: remoteAddr,
		outbound:   outbound,
		done:       make(chan struct{}),
		onClose:    onClose,
	}
}

func (l *frameLink) RemotePeer() identity.PeerID { return l.remotePeer }
func (l *frameLink) RemoteAddr() string          { return l.remoteAddr }
func (l *frameLink) Protocol() string            { return l.codec.Protocol() }
func (l *frameLink) Outbound() bool              { return l.outbound }
func (l *frameLink) Done() <-chan struct{}       { return l.done }

func (l *frameLink) ReadFrame() (*wire.Frame, error) {
	payload, err := l.conn.ReadPayload()
	if err != nil {
		l.Close()
		return nil, err
	}
	frame, err := l.codec.Decode(payload)
	if err != nil {
		return nil, fmt.Errorf("frame from %s: %w", l.remotePeer.ShortString(), err)
	}
	return frame, nil
}

func (l *frameLink) WriteFrame(frame *wire.Frame) error {
	payload, err := l.codec.Encode(frame)
	if err != nil {
		return err
	}

	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	select {
	case <-l.done:
		return ErrClosed
	default:
	}
	if err := l.conn.WritePayload(payload); err != nil {
		return fmt.Errorf("writing %s frame to %s: %w", frame.Type, l.remotePeer.ShortString(), err)
	}
	return nil
}

func (l *frameLink) Close() error {
	l.closeOnce.Do(func() {
		close(l.done)
		l.closeErr = l.conn.Close()
		if l.onClose != nil {
			l.onClose()
		}
	})
	return l.closeErr
}
