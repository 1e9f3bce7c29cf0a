// Copyright 2026 The Docstore Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"crypto/rand"
	"fmt"
	"io"
	"time"

	"github.com/simplep2p/docstore/lib/identity"
)

// authChannelLabel is the data channel carrying the handshake. The
// frame channel is only read after it succeeds.
const authChannelLabel = "auth"

// authChannelProtocol versions the handshake on the auth channel.
const authChannelProtocol = "docstore/auth/1.0.0"

const authNonceSize = 32

const authSignatureSize = 64

// authTimeout bounds the whole handshake. A peer that has not proven
// its identity by then is disconnected.
const authTimeout = 10 * time.Second

// PeerAuthenticator signs handshake challenges with the local key and
// checks the remote peer's responses.
type PeerAuthenticator interface {
	// Sign returns the local node's Ed25519 signature of message.
	Sign(message []byte) []byte

	// VerifyPeer checks that signature over message was made by peer.
	VerifyPeer(peer identity.PeerID, message, signature []byte) error
}

// KeyAuthenticator authenticates with a node keypair. Peers are verified
// against the public key embedded in their peer ID, so no key directory
// is needed.
type KeyAuthenticator struct {
	Keypair *identity.Keypair
}

func (a KeyAuthenticator) Sign(message []byte) []byte {
	return a.Keypair.Sign(message)
}

func (a KeyAuthenticator) VerifyPeer(peer identity.PeerID, message, signature []byte) error {
	return peer.Verify(message, signature)
}

// runPeerAuth executes the mutual challenge-response on channel. Both
// sides run it at the same time:
//
//  1. Send a 32-byte random nonce
//  2. Read the peer's nonce
//  3. Sign (peerNonce || binding || peer) and send the 64-byte signature
//  4. Read the peer's signature and verify it against
//     (ownNonce || binding || local) with the peer's key
//
// Naming the challenger in the signed message stops a signature made
// for one node from being replayed to another. binding ties the
// handshake to the underlying channel (the key exchange transcript for
// TCP links) and may be nil.
//
// Writes happen on a background goroutine so that synchronous channels
// such as net.Pipe, where Write blocks until the peer reads, cannot
// deadlock with both sides writing first.
func runPeerAuth(channel io.ReadWriter, authenticator PeerAuthenticator, local, peer identity.PeerID, binding []byte) error {
	nonce := make([]byte, authNonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("generating auth nonce: %w", err)
	}

	writeErrors := make(chan error, 1)
	signatureToSend := make(chan []byte, 1)

	go func() {
		if _, err := channel.Write(nonce); err != nil {
			writeErrors <- fmt.Errorf("sending auth nonce: %w", err)
			return
		}
		signature, ok := <-signatureToSend
		if !ok {
			writeErrors <- nil
			return
		}
		if _, err := channel.Write(signature); err != nil {
			writeErrors <- fmt.Errorf("sending auth signature: %w", err)
			return
		}
		writeErrors <- nil
	}()

	peerNonce := make([]byte, authNonceSize)
	if _, err := io.ReadFull(channel, peerNonce); err != nil {
		close(signatureToSend)
		return fmt.Errorf("reading peer nonce: %w", err)
	}

	signatureToSend <- authenticator.Sign(challengeMessage(peerNonce, binding, peer))

	peerSignature := make([]byte, authSignatureSize)
	if _, err := io.ReadFull(channel, peerSignature); err != nil {
		return fmt.Errorf("reading peer signature: %w", err)
	}

	if err := <-writeErrors; err != nil {
		return err
	}

	if err := authenticator.VerifyPeer(peer, challengeMessage(nonce, binding, local), peerSignature); err != nil {
		return fmt.Errorf("peer %s failed authentication: %w", peer, err)
	}
	return nil
}

func challengeMessage(nonce, binding []byte, challenger identity.PeerID) []byte {
	message := make([]byte, 0, len(nonce)+len(binding)+len(challenger))
	message = append(message, nonce...)
	message = append(message, binding...)
	return append(message, challenger...)
}
