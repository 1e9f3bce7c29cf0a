// Copyright 2026 The Docstore Authors
// SPDX-License-Identifier: Apache-2.0

package identity

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/libp2p/go-libp2p/core/crypto"
	cryptopb "github.com/libp2p/go-libp2p/core/crypto/pb"
	"github.com/libp2p/go-libp2p/core/peer"
)

// ErrInvalidPeerID is returned when a string is not a peer ID with an
// embedded Ed25519 public key.
var ErrInvalidPeerID = errors.New("invalid peer ID")

// ErrBadSignature is returned by [PeerID.Verify] when a signature does
// not verify against the key embedded in the peer ID.
var ErrBadSignature = errors.New("signature verification failed")

// PeerID is the stable network identity of a node: the base58btc text of
// an identity multihash over the protobuf-framed Ed25519 public key. IDs
// derived from Ed25519 keys always begin with "12D3KooW".
type PeerID string

// String returns the base58 text form.
func (id PeerID) String() string { return string(id) }

// ShortString returns the last six characters, which is how log lines
// and the chat UI abbreviate peers.
func (id PeerID) ShortString() string {
	if len(id) <= 6 {
		return string(id)
	}
	return "…" + string(id[len(id)-6:])
}

func (id PeerID) decode() (peer.ID, error) {
	decoded, err := peer.Decode(string(id))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidPeerID, err)
	}
	return decoded, nil
}

// Bytes returns the binary multihash form of the peer ID.
func (id PeerID) Bytes() ([]byte, error) {
	decoded, err := id.decode()
	if err != nil {
		return nil, err
	}
	return []byte(decoded), nil
}

// embeddedKey extracts the libp2p public key, which must be Ed25519.
func (id PeerID) embeddedKey() (crypto.PubKey, error) {
	decoded, err := id.decode()
	if err != nil {
		return nil, err
	}
	publicKey, err := decoded.ExtractPublicKey()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPeerID, err)
	}
	if publicKey.Type() != cryptopb.KeyType_Ed25519 {
		return nil, fmt.Errorf("%w: embedded key is %s, not Ed25519", ErrInvalidPeerID, publicKey.Type())
	}
	return publicKey, nil
}

// PublicKey extracts the Ed25519 public key embedded in the peer ID.
func (id PeerID) PublicKey() (ed25519.PublicKey, error) {
	publicKey, err := id.embeddedKey()
	if err != nil {
		return nil, err
	}
	raw, err := publicKey.Raw()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPeerID, err)
	}
	return ed25519.PublicKey(raw), nil
}

// Verify checks that signature is a valid Ed25519 signature of message
// made by the key this peer ID names.
func (id PeerID) Verify(message, signature []byte) error {
	publicKey, err := id.embeddedKey()
	if err != nil {
		return err
	}
	valid, err := publicKey.Verify(message, signature)
	if err != nil || !valid {
		return fmt.Errorf("%w for %s", ErrBadSignature, id.ShortString())
	}
	return nil
}

// ParsePeerID validates s and returns it as a PeerID in base58 form.
// CID-encoded peer IDs are accepted and converted.
func ParsePeerID(s string) (PeerID, error) {
	id := PeerID(s)
	if _, err := id.embeddedKey(); err != nil {
		return "", err
	}
	decoded, _ := id.decode()
	return PeerID(decoded.String()), nil
}

// PeerIDFromBytes converts a binary multihash back to a PeerID.
func PeerIDFromBytes(raw []byte) (PeerID, error) {
	decoded, err := peer.IDFromBytes(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidPeerID, err)
	}
	return ParsePeerID(decoded.String())
}

// PeerIDFromPublicKey derives the peer ID for an Ed25519 public key.
func PeerIDFromPublicKey(publicKey ed25519.PublicKey) (PeerID, error) {
	if len(publicKey) != ed25519.PublicKeySize {
		return "", fmt.Errorf("public key is %d bytes, want %d", len(publicKey), ed25519.PublicKeySize)
	}
	libp2pKey, err := crypto.UnmarshalEd25519PublicKey(publicKey)
	if err != nil {
		return "", err
	}
	derived, err := peer.IDFromPublicKey(libp2pKey)
	if err != nil {
		return "", fmt.Errorf("deriving peer ID: %w", err)
	}
	return PeerID(derived.String()), nil
}

// Keypair is a node's Ed25519 signing key together with its derived
// peer ID.
type Keypair struct {
	private ed25519.PrivateKey
	peerID  PeerID
}

// Generate creates a fresh random keypair.
func Generate() (*Keypair, error) {
	_, private, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generating ed25519 key: %w", err)
	}
	return FromPrivateKey(private)
}

// FromPrivateKey wraps an existing Ed25519 private key.
func FromPrivateKey(private ed25519.PrivateKey) (*Keypair, error) {
	if len(private) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("private key is %d bytes, want %d", len(private), ed25519.PrivateKeySize)
	}
	peerID, err := PeerIDFromPublicKey(private.Public().(ed25519.PublicKey))
	if err != nil {
		return nil, err
	}
	return &Keypair{private: private, peerID: peerID}, nil
}

// PeerID returns the identity derived from the public key.
func (k *Keypair) PeerID() PeerID { return k.peerID }

// Public returns the Ed25519 public key.
func (k *Keypair) Public() ed25519.PublicKey {
	return k.private.Public().(ed25519.PublicKey)
}

// Sign returns the 64-byte Ed25519 signature of message.
func (k *Keypair) Sign(message []byte) []byte {
	return ed25519.Sign(k.private, message)
}

// MarshalPrivateKey returns the protobuf-framed private key (seed
// followed by public key) as stored in key files.
func (k *Keypair) MarshalPrivateKey() []byte {
	libp2pKey, err := crypto.UnmarshalEd25519PrivateKey(k.private)
	if err != nil {
		// k.private always has the Ed25519 private key size.
		panic(fmt.Sprintf("wrapping ed25519 private key: %v", err))
	}
	encoded, err := crypto.MarshalPrivateKey(libp2pKey)
	if err != nil {
		panic(fmt.Sprintf("marshaling ed25519 private key: %v", err))
	}
	return encoded
}

// UnmarshalPrivateKey parses the output of [Keypair.MarshalPrivateKey].
// The trailing public key half must match the seed.
func UnmarshalPrivateKey(data []byte) (*Keypair, error) {
	libp2pKey, err := crypto.UnmarshalPrivateKey(data)
	if err != nil {
		return nil, fmt.Errorf("not a protobuf-encoded private key: %w", err)
	}
	if libp2pKey.Type() != cryptopb.KeyType_Ed25519 {
		return nil, fmt.Errorf("identity key is %s, want Ed25519", libp2pKey.Type())
	}
	raw, err := libp2pKey.Raw()
	if err != nil {
		return nil, err
	}
	if len(raw) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("ed25519 private key is %d bytes, want %d", len(raw), ed25519.PrivateKeySize)
	}
	private := ed25519.NewKeyFromSeed(raw[:ed25519.SeedSize])
	if !bytes.Equal(private[ed25519.SeedSize:], raw[ed25519.SeedSize:]) {
		return nil, errors.New("private key public half does not match its seed")
	}
	return FromPrivateKey(private)
}
