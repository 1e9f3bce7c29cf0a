// Copyright 2026 The Docstore Authors
// SPDX-License-Identifier: Apache-2.0

package address

import (
	"crypto/sha256"
	"fmt"

	"github.com/multiformats/go-multibase"
	"github.com/multiformats/go-multihash"
)

// CertHashFromDER hashes a DER certificate into the binary multihash
// carried in /certhash components.
func CertHashFromDER(der []byte) []byte {
	digest := sha256.Sum256(der)
	return CertHashFromDigest(digest[:])
}

// CertHashFromDigest wraps a SHA-256 digest as a binary multihash.
func CertHashFromDigest(digest []byte) []byte {
	hash, err := multihash.Encode(digest, multihash.SHA2_256)
	if err != nil {
		// Encode only fails for unknown codes or oversized digests.
		panic(fmt.Sprintf("encoding sha2-256 multihash: %v", err))
	}
	return hash
}

// CertDigest returns the SHA-256 digest pinned by the address, or nil
// when it carries no certhash.
func (a Address) CertDigest() ([]byte, error) {
	if len(a.CertHash) == 0 {
		return nil, nil
	}
	decoded, err := multihash.Decode(a.CertHash)
	if err != nil {
		return nil, err
	}
	if decoded.Code != multihash.SHA2_256 {
		return nil, fmt.Errorf("certhash uses %s, only sha2-256 is supported", decoded.Name)
	}
	return decoded.Digest, nil
}

// encodeCertHashMultihash renders a binary multihash as base64url
// multibase text ("u" prefix), the form browsers and other
// implementations produce.
func encodeCertHashMultihash(hash []byte) (string, error) {
	return multibase.Encode(multibase.Base64url, hash)
}

func decodeCertHashMultihash(text string) ([]byte, error) {
	_, data, err := multibase.Decode(text)
	if err != nil {
		return nil, err
	}
	decoded, err := multihash.Decode(data)
	if err != nil {
		return nil, err
	}
	if decoded.Code != multihash.SHA2_256 {
		return nil, fmt.Errorf("unsupported hash %s", decoded.Name)
	}
	return data, nil
}
