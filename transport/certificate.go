// Copyright 2026 The Docstore Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/simplep2p/docstore/lib/address"
)

// certificateValidity is how long a generated DTLS certificate lasts.
// The certhash in this node's addresses changes when it is replaced.
const certificateValidity = 365 * 24 * time.Hour

// certificateRenewBefore regenerates a stored certificate this long
// before it expires.
const certificateRenewBefore = 7 * 24 * time.Hour

// GenerateCertificate creates a self-signed ECDSA P-256 DTLS
// certificate valid for certificateValidity.
func GenerateCertificate() (*webrtc.Certificate, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generating certificate key: %w", err)
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 127))
	if err != nil {
		return nil, fmt.Errorf("generating certificate serial: %w", err)
	}
	now := time.Now()
	certificate, err := webrtc.NewCertificate(key, x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: "docstore"},
		NotBefore:    now.Add(-time.Hour),
		NotAfter:     now.Add(certificateValidity),
	})
	if err != nil {
		return nil, fmt.Errorf("creating certificate: %w", err)
	}
	return certificate, nil
}

// LoadOrCreateCertificate returns the PEM certificate stored at path,
// generating and saving a new one when the file is missing, unreadable
// as a certificate, or close to expiry. Keeping the certificate across
// restarts keeps the certhash in this node's addresses stable.
func LoadOrCreateCertificate(path string, logger *slog.Logger) (*webrtc.Certificate, error) {
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		certificate, parseErr := webrtc.CertificateFromPEM(string(data))
		if parseErr != nil {
			logger.Warn("stored DTLS certificate is unreadable, generating a new one",
				"path", path,
				"error", parseErr,
			)
			break
		}
		if time.Until(certificate.Expires()) < certificateRenewBefore {
			logger.Info("stored DTLS certificate is expiring, generating a new one",
				"path", path,
				"expires", certificate.Expires(),
			)
			break
		}
		return certificate, nil
	case errors.Is(err, fs.ErrNotExist):
	default:
		return nil, fmt.Errorf("reading certificate %s: %w", path, err)
	}

	certificate, err := GenerateCertificate()
	if err != nil {
		return nil, err
	}
	encoded, err := certificate.PEM()
	if err != nil {
		return nil, fmt.Errorf("encoding certificate: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating certificate directory: %w", err)
	}
	temporary := path + ".tmp"
	if err := os.WriteFile(temporary, []byte(encoded), 0o600); err != nil {
		return nil, fmt.Errorf("writing certificate: %w", err)
	}
	if err := os.Rename(temporary, path); err != nil {
		os.Remove(temporary)
		return nil, fmt.Errorf("installing certificate: %w", err)
	}
	logger.Info("generated DTLS certificate", "path", path, "expires", certificate.Expires())
	return certificate, nil
}

// CertHash returns the certhash multihash of certificate, the value
// advertised in /certhash address components.
func CertHash(certificate *webrtc.Certificate) ([]byte, error) {
	fingerprints, err := certificate.GetFingerprints()
	if err != nil {
		return nil, err
	}
	for _, fingerprint := range fingerprints {
		if !strings.EqualFold(fingerprint.Algorithm, "sha-256") {
			continue
		}
		digest, err := parseFingerprint(fingerprint.Value)
		if err != nil {
			return nil, err
		}
		return address.CertHashFromDigest(digest), nil
	}
	return nil, errors.New("certificate has no sha-256 fingerprint")
}

// parseFingerprint decodes the colon-separated hex form used in SDP
// ("AB:CD:...").
func parseFingerprint(value string) ([]byte, error) {
	digest, err := hex.DecodeString(strings.ReplaceAll(value, ":", ""))
	if err != nil {
		return nil, fmt.Errorf("malformed fingerprint %q: %w", value, err)
	}
	return digest, nil
}
