// Copyright 2026 The Docstore Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// Frames hold at most a handful of addresses, peers and topics; these
// bounds reject hostile nesting long before MaxFrameSize would.
const (
	maxArrayElements = 1024
	maxMapPairs      = 64
	maxNestedLevels  = 8
)

// diagnoseLimit caps the diagnostic text Describe returns.
const diagnoseLimit = 256

var (
	frameEncoder cbor.EncMode
	frameDecoder cbor.DecMode
)

func init() {
	encodeOptions := cbor.CoreDetEncOptions()
	encodeOptions.TextMarshaler = cbor.TextMarshalerTextString
	encoder, err := encodeOptions.EncMode()
	if err != nil {
		panic("codec: building CBOR encoder: " + err.Error())
	}

	decoder, err := cbor.DecOptions{
		DefaultMapType:   reflect.TypeOf(map[string]any(nil)),
		TextUnmarshaler:  cbor.TextUnmarshalerTextString,
		MaxArrayElements: maxArrayElements,
		MaxMapPairs:      maxMapPairs,
		MaxNestedLevels:  maxNestedLevels,
		DupMapKey:        cbor.DupMapKeyEnforcedAPF,
	}.DecMode()
	if err != nil {
		panic("codec: building CBOR decoder: " + err.Error())
	}
	frameEncoder, frameDecoder = encoder, decoder
}

// Marshal encodes v with Core Deterministic Encoding, so two nodes
// encoding the same frame produce the same bytes.
func Marshal(v any) ([]byte, error) {
	return frameEncoder.Marshal(v)
}

// Unmarshal decodes CBOR data into v. Unknown fields are ignored;
// duplicate map keys are an error.
func Unmarshal(data []byte, v any) error {
	return frameDecoder.Unmarshal(data, v)
}

// Diagnose renders data in CBOR diagnostic notation (RFC 8949 §8).
func Diagnose(data []byte) (string, error) {
	return cbor.Diagnose(data)
}

// Describe is Diagnose for error messages: it never fails and its
// output is truncated.
func Describe(data []byte) string {
	text, err := cbor.Diagnose(data)
	if err != nil {
		text = "undiagnosable: " + err.Error()
	}
	if len(text) > diagnoseLimit {
		text = text[:diagnoseLimit] + "..."
	}
	return text
}
