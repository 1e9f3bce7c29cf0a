// Copyright 2026 The Docstore Authors
// SPDX-License-Identifier: Apache-2.0

package identity

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"filippo.io/age"

	"github.com/simplep2p/docstore/lib/secret"
)

// ageHeader is the first line of every binary age file. Key files that
// start with it are encrypted with a passphrase.
var ageHeader = []byte("age-encryption.org/v1\n")

// maxKeyFileSize bounds how much of a key file is read. Plaintext key
// files are 68 bytes; encrypted ones stay under a kilobyte.
const maxKeyFileSize = 64 << 10

// ErrPassphraseRequired is returned when a key file is encrypted and no
// passphrase was supplied.
var ErrPassphraseRequired = errors.New("identity key file is encrypted; a passphrase is required")

// KeyFileOptions control how key files are read and written.
type KeyFileOptions struct {
	// Passphrase encrypts newly written key files and decrypts existing
	// encrypted ones. Nil keeps key files in plaintext. The buffer is
	// borrowed, not closed.
	Passphrase *secret.Buffer

	// WorkFactor is the scrypt log2(N) used when encrypting. Zero uses
	// age's default. Decryption accepts any work factor up to
	// max(WorkFactor, 22).
	WorkFactor int

	// Logger receives the warning emitted when an unreadable plaintext
	// key file is replaced. Nil discards it.
	Logger *slog.Logger
}

func (o KeyFileOptions) logger() *slog.Logger {
	if o.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return o.Logger
}

// KeyPathEnv names the environment variable that overrides the key
// file location.
const KeyPathEnv = "IDENTITY_KEY_PATH"

// DefaultKeyPath is where the server keeps its identity when no path is
// configured: $IDENTITY_KEY_PATH, or .p2p/identity.key under the
// working directory.
func DefaultKeyPath() string {
	if path := os.Getenv(KeyPathEnv); path != "" {
		return path
	}
	workingDirectory, err := os.Getwd()
	if err != nil {
		return filepath.Join(".p2p", "identity.key")
	}
	return filepath.Join(workingDirectory, ".p2p", "identity.key")
}

// LoadOrCreate returns the identity stored at path, generating and
// persisting a new one when the file does not exist. A plaintext file
// that cannot be parsed is replaced with a new identity after logging
// a warning. Encrypted files are never replaced: a missing or wrong
// passphrase is an error.
func LoadOrCreate(path string, options KeyFileOptions) (*Keypair, error) {
	keypair, err := Load(path, options)
	switch {
	case err == nil:
		options.logger().Info("loaded identity", "path", path, "peer_id", keypair.PeerID())
		return keypair, nil
	case errors.Is(err, os.ErrNotExist):
	case errors.Is(err, errCorruptKeyFile):
		options.logger().Warn("identity key file is unreadable, generating a new identity",
			"path", path,
			"error", err,
		)
	default:
		return nil, err
	}

	keypair, err = Generate()
	if err != nil {
		return nil, err
	}
	if err := Save(path, keypair, options); err != nil {
		return nil, err
	}
	options.logger().Info("generated identity", "path", path, "peer_id", keypair.PeerID())
	return keypair, nil
}

var errCorruptKeyFile = errors.New("corrupt key file")

// Load reads the identity stored at path. A missing file returns an
// error wrapping os.ErrNotExist.
func Load(path string, options KeyFileOptions) (*Keypair, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening identity key file: %w", err)
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxKeyFileSize))
	if err != nil {
		return nil, fmt.Errorf("reading identity key file %s: %w", path, err)
	}

	if bytes.HasPrefix(data, ageHeader) {
		if options.Passphrase == nil {
			return nil, fmt.Errorf("%s: %w", path, ErrPassphraseRequired)
		}
		data, err = decryptKey(data, options)
		if err != nil {
			return nil, fmt.Errorf("decrypting identity key file %s: %w", path, err)
		}
		keypair, err := UnmarshalPrivateKey(data)
		if err != nil {
			return nil, fmt.Errorf("decrypted identity key file %s: %w", path, err)
		}
		return keypair, nil
	}

	keypair, err := UnmarshalPrivateKey(data)
	if err != nil {
		return nil, fmt.Errorf("%w %s: %v", errCorruptKeyFile, path, err)
	}
	return keypair, nil
}

// Save writes keypair to path with mode 0600, creating parent
// directories as needed. The file is written to a temporary name and
// renamed so a crash never leaves a truncated key behind.
func Save(path string, keypair *Keypair, options KeyFileOptions) error {
	data := keypair.MarshalPrivateKey()
	if options.Passphrase != nil {
		encrypted, err := encryptKey(data, options)
		if err != nil {
			return fmt.Errorf("encrypting identity key: %w", err)
		}
		data = encrypted
	}

	directory := filepath.Dir(path)
	if err := os.MkdirAll(directory, 0o700); err != nil {
		return fmt.Errorf("creating identity directory %s: %w", directory, err)
	}

	temporary, err := os.CreateTemp(directory, ".identity-*")
	if err != nil {
		return fmt.Errorf("creating temporary key file: %w", err)
	}
	temporaryPath := temporary.Name()
	defer os.Remove(temporaryPath)

	if err := temporary.Chmod(0o600); err != nil {
		temporary.Close()
		return fmt.Errorf("restricting key file permissions: %w", err)
	}
	if _, err := temporary.Write(data); err != nil {
		temporary.Close()
		return fmt.Errorf("writing key file: %w", err)
	}
	if err := temporary.Sync(); err != nil {
		temporary.Close()
		return fmt.Errorf("syncing key file: %w", err)
	}
	if err := temporary.Close(); err != nil {
		return fmt.Errorf("closing key file: %w", err)
	}
	if err := os.Rename(temporaryPath, path); err != nil {
		return fmt.Errorf("installing key file %s: %w", path, err)
	}
	return nil
}

func encryptKey(plaintext []byte, options KeyFileOptions) ([]byte, error) {
	recipient, err := age.NewScryptRecipient(options.Passphrase.String())
	if err != nil {
		return nil, err
	}
	if options.WorkFactor > 0 {
		recipient.SetWorkFactor(options.WorkFactor)
	}

	var output bytes.Buffer
	writer, err := age.Encrypt(&output, recipient)
	if err != nil {
		return nil, err
	}
	if _, err := writer.Write(plaintext); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}
	return output.Bytes(), nil
}

func decryptKey(ciphertext []byte, options KeyFileOptions) ([]byte, error) {
	ageIdentity, err := age.NewScryptIdentity(options.Passphrase.String())
	if err != nil {
		return nil, err
	}
	if options.WorkFactor > 22 {
		ageIdentity.SetMaxWorkFactor(options.WorkFactor)
	}

	reader, err := age.Decrypt(bytes.NewReader(ciphertext), ageIdentity)
	if err != nil {
		return nil, err
	}
	return io.ReadAll(io.LimitReader(reader, maxKeyFileSize))
}
