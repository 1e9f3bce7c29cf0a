// Copyright 2026 The Docstore Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"bufio"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/multiformats/go-varint"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/simplep2p/docstore/lib/identity"
	"github.com/simplep2p/docstore/lib/wire"
)

// hkdfInfoTCPLink separates TCP link keys from every other use of
// HKDF. Changing it breaks compatibility with older nodes.
var hkdfInfoTCPLink = []byte("docstore.tcp.link.v1")

// maxRecordSize bounds one encrypted record's plaintext.
const maxRecordSize = wire.MaxFrameSize + 1024

// maxHelloPeerIDLength bounds the peer ID in a hello. Ed25519 peer IDs
// are 52 characters.
const maxHelloPeerIDLength = 128

// secureConn encrypts a TCP connection with one ChaCha20-Poly1305 key
// per direction. Each record on the wire is:
//
//	[Length: 4 bytes, big endian] [Ciphertext+Tag: Length bytes]
//
// Nonces are per-direction record counters, so records cannot be
// reordered, replayed or dropped without failing authentication.
//
// secureConn is an io.ReadWriter (for the authentication handshake,
// where each Write is one record) and a payloadConn (for frames, one
// record per frame).
type secureConn struct {
	conn   net.Conn
	reader *bufio.Reader

	readMu    sync.Mutex
	recvAEAD  cipher.AEAD
	recvCount uint64
	pending   []byte

	writeMu   sync.Mutex
	sendAEAD  cipher.AEAD
	sendCount uint64
}

var _ payloadConn = (*secureConn)(nil)

// helloMessage is the cleartext opening of a TCP link:
//
//	[X25519 public key: 32 bytes] [uvarint peer ID length] [peer ID]
type helloMessage struct {
	ephemeral []byte
	peer      identity.PeerID
}

func (h helloMessage) marshal() []byte {
	output := make([]byte, 0, len(h.ephemeral)+varint.UvarintSize(uint64(len(h.peer)))+len(h.peer))
	output = append(output, h.ephemeral...)
	output = append(output, varint.ToUvarint(uint64(len(h.peer)))...)
	return append(output, h.peer...)
}

func readHello(reader *bufio.Reader) (helloMessage, error) {
	ephemeral := make([]byte, 32)
	if _, err := io.ReadFull(reader, ephemeral); err != nil {
		return helloMessage{}, fmt.Errorf("reading hello key: %w", err)
	}
	length, err := varint.ReadUvarint(reader)
	if err != nil {
		return helloMessage{}, fmt.Errorf("reading hello peer ID length: %w", err)
	}
	if length == 0 || length > maxHelloPeerIDLength {
		return helloMessage{}, fmt.Errorf("hello peer ID length %d out of range", length)
	}
	peerText := make([]byte, length)
	if _, err := io.ReadFull(reader, peerText); err != nil {
		return helloMessage{}, fmt.Errorf("reading hello peer ID: %w", err)
	}
	peer, err := identity.ParsePeerID(string(peerText))
	if err != nil {
		return helloMessage{}, err
	}
	return helloMessage{ephemeral: ephemeral, peer: peer}, nil
}

// secureHandshake exchanges hellos over conn and derives the record
// keys. It returns the encrypted connection, the peer ID the remote side
// claims, and the handshake transcript hash that peer authentication
// binds to. The claimed peer ID is not yet proven.
func secureHandshake(conn net.Conn, local identity.PeerID, initiator bool) (*secureConn, identity.PeerID, []byte, error) {
	ephemeral, err := ecdh.X25519().GenerateKey(rand.Reader)
	if err != nil {
		return nil, "", nil, fmt.Errorf("generating ephemeral key: %w", err)
	}
	localHello := helloMessage{ephemeral: ephemeral.PublicKey().Bytes(), peer: local}

	writeDone := make(chan error, 1)
	go func() {
		_, err := conn.Write(localHello.marshal())
		writeDone <- err
	}()

	reader := bufio.NewReader(conn)
	remoteHello, err := readHello(reader)
	if err != nil {
		return nil, "", nil, err
	}
	if err := <-writeDone; err != nil {
		return nil, "", nil, fmt.Errorf("sending hello: %w", err)
	}
	if remoteHello.peer == local {
		return nil, "", nil, errors.New("remote hello claims this node's own peer ID")
	}

	remoteKey, err := ecdh.X25519().NewPublicKey(remoteHello.ephemeral)
	if err != nil {
		return nil, "", nil, fmt.Errorf("remote ephemeral key: %w", err)
	}
	shared, err := ephemeral.ECDH(remoteKey)
	if err != nil {
		return nil, "", nil, fmt.Errorf("key agreement: %w", err)
	}

	initiatorHello, responderHello := localHello, remoteHello
	if !initiator {
		initiatorHello, responderHello = remoteHello, localHello
	}
	transcript := sha256.New()
	transcript.Write(initiatorHello.marshal())
	transcript.Write(responderHello.marshal())
	transcriptHash := transcript.Sum(nil)

	keys := make([]byte, 2*chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, shared, transcriptHash, hkdfInfoTCPLink), keys); err != nil {
		return nil, "", nil, fmt.Errorf("deriving link keys: %w", err)
	}
	defer clear(keys)
	initiatorKey, responderKey := keys[:chacha20poly1305.KeySize], keys[chacha20poly1305.KeySize:]
	sendKey, recvKey := initiatorKey, responderKey
	if !initiator {
		sendKey, recvKey = responderKey, initiatorKey
	}

	sendAEAD, err := chacha20poly1305.New(sendKey)
	if err != nil {
		return nil, "", nil, fmt.Errorf("creating send cipher: %w", err)
	}
	recvAEAD, err := chacha20poly1305.New(recvKey)
	if err != nil {
		return nil, "", nil, fmt.Errorf("creating receive cipher: %w", err)
	}
	return &secureConn{
		conn:     conn,
		reader:   reader,
		sendAEAD: sendAEAD,
		recvAEAD: recvAEAD,
	}, remoteHello.peer, transcriptHash, nil
}

func recordNonce(counter uint64) []byte {
	nonce := make([]byte, chacha20poly1305.NonceSize)
	binary.BigEndian.PutUint64(nonce[chacha20poly1305.NonceSize-8:], counter)
	return nonce
}

// WritePayload encrypts payload as one record.
func (c *secureConn) WritePayload(payload []byte) error {
	if len(payload) > maxRecordSize {
		return fmt.Errorf("record of %d bytes exceeds %d", len(payload), maxRecordSize)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	record := make([]byte, 4, 4+len(payload)+c.sendAEAD.Overhead())
	record = c.sendAEAD.Seal(record, recordNonce(c.sendCount), payload, nil)
	binary.BigEndian.PutUint32(record[:4], uint32(len(record)-4))
	c.sendCount++
	_, err := c.conn.Write(record)
	return err
}

// ReadPayload reads and decrypts the next record.
func (c *secureConn) ReadPayload() ([]byte, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()
	return c.readRecordLocked()
}

func (c *secureConn) readRecordLocked() ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(c.reader, header[:]); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(header[:])
	if length < uint32(c.recvAEAD.Overhead()) || length > uint32(maxRecordSize+c.recvAEAD.Overhead()) {
		return nil, fmt.Errorf("record length %d out of range", length)
	}
	ciphertext := make([]byte, length)
	if _, err := io.ReadFull(c.reader, ciphertext); err != nil {
		return nil, err
	}
	plaintext, err := c.recvAEAD.Open(ciphertext[:0], recordNonce(c.recvCount), ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("record %d failed authentication: %w", c.recvCount, err)
	}
	c.recvCount++
	return plaintext, nil
}

// Read serves decrypted bytes as a stream, reading records as needed.
func (c *secureConn) Read(buffer []byte) (int, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()
	for len(c.pending) == 0 {
		record, err := c.readRecordLocked()
		if err != nil {
			return 0, err
		}
		c.pending = record
	}
	count := copy(buffer, c.pending)
	c.pending = c.pending[count:]
	return count, nil
}

// Write sends buffer as one record.
func (c *secureConn) Write(buffer []byte) (int, error) {
	if err := c.WritePayload(buffer); err != nil {
		return 0, err
	}
	return len(buffer), nil
}

func (c *secureConn) Close() error {
	return c.conn.Close()
}
