// Copyright 2026 The Docstore Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/simplep2p/docstore/lib/codec"
)

// Data channel protocol strings. The suffix names the frame codec.
const (
	ProtocolCBOR = "docstore/gossip/1.0.0+cbor"
	ProtocolJSON = "docstore/gossip/1.0.0+json"
)

// MaxFrameSize bounds an encoded frame in either direction.
const MaxFrameSize = codec.MaxPayloadSize

// MaxMessageData is the largest message payload that fits a frame in
// both codecs. JSON carries bytes as base64, four characters for every
// three bytes, and the rest of a message frame fits in messageOverhead
// while its topic is at most MaxTopicLength bytes.
const (
	MaxTopicLength  = 256
	messageOverhead = 4096
	MaxMessageData  = (MaxFrameSize - messageOverhead) / 4 * 3
)

// ErrUnencodable is wrapped by Encode failures. The frame is unusable
// but the link that was asked to carry it is not.
var ErrUnencodable = errors.New("frame cannot be encoded")

// Codec converts frames to and from link payloads.
type Codec interface {
	Protocol() string
	Encode(frame *Frame) ([]byte, error)
	Decode(payload []byte) (*Frame, error)
}

// ForProtocol returns the codec negotiated by a data channel protocol
// string. compression applies to the CBOR codec only.
func ForProtocol(protocol string, compression codec.Compression) (Codec, error) {
	switch protocol {
	case ProtocolCBOR:
		return CBORCodec{Compression: compression}, nil
	case ProtocolJSON:
		return JSONCodec{}, nil
	default:
		return nil, fmt.Errorf("unsupported link protocol %q", protocol)
	}
}

// CBORCodec encodes deterministic CBOR inside the compression envelope.
type CBORCodec struct {
	Compression codec.Compression
}

func (CBORCodec) Protocol() string { return ProtocolCBOR }

func (c CBORCodec) Encode(frame *Frame) ([]byte, error) {
	encoded, err := codec.Marshal(frame)
	if err != nil {
		return nil, fmt.Errorf("%w: %s frame: %w", ErrUnencodable, frame.Type, err)
	}
	if len(encoded) > MaxFrameSize {
		return nil, fmt.Errorf("%w: %s frame is %d bytes, limit is %d", ErrUnencodable, frame.Type, len(encoded), MaxFrameSize)
	}
	packed, err := codec.Pack(encoded, c.Compression)
	if err != nil {
		return nil, fmt.Errorf("%w: %s frame: %w", ErrUnencodable, frame.Type, err)
	}
	return packed, nil
}

func (CBORCodec) Decode(payload []byte) (*Frame, error) {
	encoded, err := codec.Unpack(payload, MaxFrameSize)
	if err != nil {
		return nil, err
	}
	var frame Frame
	if err := codec.Unmarshal(encoded, &frame); err != nil {
		return nil, fmt.Errorf("decoding CBOR frame %s: %w", codec.Describe(encoded), err)
	}
	if err := frame.Validate(); err != nil {
		return nil, err
	}
	return &frame, nil
}

// JSONCodec is the text codec spoken by the browser harness. Byte
// fields travel as standard base64.
type JSONCodec struct{}

func (JSONCodec) Protocol() string { return ProtocolJSON }

func (JSONCodec) Encode(frame *Frame) ([]byte, error) {
	encoded, err := json.Marshal(frame)
	if err != nil {
		return nil, fmt.Errorf("%w: %s frame: %w", ErrUnencodable, frame.Type, err)
	}
	if len(encoded) > MaxFrameSize {
		return nil, fmt.Errorf("%w: %s frame is %d bytes, limit is %d", ErrUnencodable, frame.Type, len(encoded), MaxFrameSize)
	}
	return encoded, nil
}

func (JSONCodec) Decode(payload []byte) (*Frame, error) {
	if len(payload) > MaxFrameSize {
		return nil, fmt.Errorf("frame is %d bytes, limit is %d", len(payload), MaxFrameSize)
	}
	var frame Frame
	if err := json.Unmarshal(payload, &frame); err != nil {
		return nil, fmt.Errorf("decoding JSON frame: %w", err)
	}
	if err := frame.Validate(); err != nil {
		return nil, err
	}
	return &frame, nil
}
