// Copyright 2026 The Docstore Authors
// SPDX-License-Identifier: Apache-2.0

package secret

import (
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// Buffer keeps a passphrase or key in an anonymous mapping that is
// locked into RAM and excluded from core dumps. Do not copy a Buffer.
// Reading it after Close panics.
type Buffer struct {
	mu       sync.Mutex
	region   []byte
	released bool
}

// New returns a zero-filled Buffer of size bytes.
func New(size int) (*Buffer, error) {
	if size <= 0 {
		return nil, fmt.Errorf("secret: size %d is not positive", size)
	}
	region, err := mapLocked(size)
	if err != nil {
		return nil, err
	}
	return &Buffer{region: region}, nil
}

// mapLocked maps size private bytes, locks them and marks them
// MADV_DONTDUMP. On failure nothing stays mapped.
func mapLocked(size int) ([]byte, error) {
	region, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("secret: mapping %d bytes: %w", size, err)
	}
	if err := unix.Mlock(region); err != nil {
		unix.Munmap(region)
		return nil, fmt.Errorf("secret: locking %d bytes (check RLIMIT_MEMLOCK): %w", size, err)
	}
	if err := unix.Madvise(region, unix.MADV_DONTDUMP); err != nil {
		unix.Munlock(region)
		unix.Munmap(region)
		return nil, fmt.Errorf("secret: excluding buffer from core dumps: %w", err)
	}
	return region, nil
}

// NewFromBytes moves source into a new Buffer. source is zeroed whether
// or not the move succeeds.
func NewFromBytes(source []byte) (*Buffer, error) {
	defer Zero(source)
	if len(source) == 0 {
		return nil, ErrEmpty
	}
	buffer, err := New(len(source))
	if err != nil {
		return nil, err
	}
	copy(buffer.region, source)
	return buffer, nil
}

// Bytes aliases the locked region; the slice is invalid after Close.
func (b *Buffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.released {
		panic("secret: buffer used after Close")
	}
	return b.region
}

// String copies the secret onto the Go heap. age's scrypt recipients
// take the passphrase as a string, which is the only caller.
func (b *Buffer) String() string {
	return string(b.Bytes())
}

// Len is the secret's length, zero once closed.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.region)
}

// Close wipes and unmaps the region. Later calls do nothing.
func (b *Buffer) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.released {
		return nil
	}
	b.released = true
	Zero(b.region)
	err := errors.Join(unix.Munlock(b.region), unix.Munmap(b.region))
	b.region = nil
	if err != nil {
		return fmt.Errorf("secret: releasing buffer: %w", err)
	}
	return nil
}

// Zero overwrites data with zeros.
func Zero(data []byte) {
	clear(data)
}
