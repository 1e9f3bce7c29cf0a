// Copyright 2026 The Docstore Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// CompressionTag is the first byte of a packed frame. The values are
// wire constants.
type CompressionTag uint8

const (
	CompressionNone CompressionTag = 0
	CompressionLZ4  CompressionTag = 1
	CompressionZstd CompressionTag = 2
)

func (tag CompressionTag) String() string {
	switch tag {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", tag)
	}
}

// Compression is the configured packing policy: "none", "lz4", "zstd"
// or "auto" (try zstd on each payload).
type Compression string

const (
	CompressNever Compression = "none"
	CompressLZ4   Compression = "lz4"
	CompressZstd  Compression = "zstd"
	CompressAuto  Compression = "auto"
)

// ParseCompression validates a configured compression policy. The empty
// string selects auto.
func ParseCompression(name string) (Compression, error) {
	switch Compression(name) {
	case "":
		return CompressAuto, nil
	case CompressNever, CompressLZ4, CompressZstd, CompressAuto:
		return Compression(name), nil
	default:
		return "", fmt.Errorf("unknown compression %q (want none, lz4, zstd or auto)", name)
	}
}

// MaxPayloadSize caps what Unpack will produce regardless of the
// caller's limit. The zstd decoder never allocates past it.
const MaxPayloadSize = 256 << 10

// MinCompressSize is the payload size below which Pack never
// compresses. Pings and subscription frames stay uncompressed.
const MinCompressSize = 512

// ErrOversize is returned by Unpack when the declared size exceeds the
// caller's limit.
var ErrOversize = errors.New("packed payload exceeds size limit")

var errIncompressible = errors.New("data is incompressible")

var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("codec: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil,
		zstd.WithDecoderConcurrency(0),
		zstd.WithDecoderMaxMemory(MaxPayloadSize),
		zstd.WithDecodeAllCapLimit(true),
	)
	if err != nil {
		panic("codec: zstd decoder initialization failed: " + err.Error())
	}
}

// Pack wraps payload in the compression envelope according to policy.
func Pack(payload []byte, policy Compression) ([]byte, error) {
	tag := selectCompression(payload, policy)
	body := payload
	if tag != CompressionNone {
		compressed, err := compress(payload, tag)
		switch {
		case errors.Is(err, errIncompressible):
			tag = CompressionNone
		case err != nil:
			return nil, err
		default:
			body = compressed
		}
	}

	output := make([]byte, 1, 1+binary.MaxVarintLen64+len(body))
	output[0] = byte(tag)
	output = binary.AppendUvarint(output, uint64(len(payload)))
	return append(output, body...), nil
}

// Unpack reverses Pack. Payloads declaring more than maxSize bytes, or
// more than MaxPayloadSize, are rejected before any decompression
// happens, and decompression stops at the declared size.
func Unpack(packed []byte, maxSize int) ([]byte, error) {
	maxSize = min(maxSize, MaxPayloadSize)
	if len(packed) < 2 {
		return nil, fmt.Errorf("packed frame is %d bytes, too short", len(packed))
	}
	tag := CompressionTag(packed[0])
	size, length := binary.Uvarint(packed[1:])
	if length <= 0 {
		return nil, errors.New("packed frame has a malformed size")
	}
	if size > uint64(maxSize) {
		return nil, fmt.Errorf("%w: %d > %d", ErrOversize, size, maxSize)
	}
	body := packed[1+length:]

	switch tag {
	case CompressionNone:
		if len(body) != int(size) {
			return nil, fmt.Errorf("uncompressed frame is %d bytes, header says %d", len(body), size)
		}
		return body, nil
	case CompressionLZ4:
		destination := make([]byte, size)
		read, err := lz4.UncompressBlock(body, destination)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		if read != int(size) {
			return nil, fmt.Errorf("lz4 decompress: got %d bytes, expected %d", read, size)
		}
		return destination, nil
	case CompressionZstd:
		// The cap limit makes DecodeAll fail instead of growing past size.
		result, err := zstdDecoder.DecodeAll(body, make([]byte, 0, size))
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		if len(result) != int(size) {
			return nil, fmt.Errorf("zstd decompress: got %d bytes, expected %d", len(result), size)
		}
		return result, nil
	default:
		return nil, fmt.Errorf("unsupported compression tag %s", tag)
	}
}

func selectCompression(payload []byte, policy Compression) CompressionTag {
	if len(payload) < MinCompressSize {
		return CompressionNone
	}
	switch policy {
	case CompressLZ4:
		return CompressionLZ4
	case CompressZstd:
		return CompressionZstd
	case CompressAuto:
		// Try zstd first: a good ratio keeps zstd, a modest one
		// prefers the cheaper lz4, anything else goes uncompressed.
		compressed := zstdEncoder.EncodeAll(payload, nil)
		ratio := float64(len(payload)) / float64(len(compressed))
		switch {
		case ratio >= 1.5:
			return CompressionZstd
		case ratio >= 1.1:
			return CompressionLZ4
		}
	}
	return CompressionNone
}

func compress(payload []byte, tag CompressionTag) ([]byte, error) {
	switch tag {
	case CompressionLZ4:
		destination := make([]byte, lz4.CompressBlockBound(len(payload)))
		written, err := lz4.CompressBlock(payload, destination, nil)
		if err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		if written == 0 || written >= len(payload) {
			return nil, errIncompressible
		}
		return destination[:written], nil
	case CompressionZstd:
		compressed := zstdEncoder.EncodeAll(payload, nil)
		if len(compressed) >= len(payload) {
			return nil, errIncompressible
		}
		return compressed, nil
	default:
		return nil, fmt.Errorf("unsupported compression tag %s", tag)
	}
}
