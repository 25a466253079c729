// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides the CBOR encoding used on every enclaved wire
// protocol: the broker control protocol, the per-application storage
// protocol, and the persistence-service protocol.
package codec

import (
	"io"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// Encoder is a CBOR stream encoder. Type alias so callers never import
// fxamacker/cbor directly.
type Encoder = cbor.Encoder

// Decoder is a CBOR stream decoder.
type Decoder = cbor.Decoder

// RawMessage is an undecoded CBOR item. Sessions decode each incoming
// request into one first and defer field decoding until the action is
// known.
type RawMessage = cbor.RawMessage

// Encoding follows RFC 8949 §4.2 Core Deterministic Encoding: sorted
// map keys, shortest integer forms, no indefinite-length items. The
// same logical message is always the same bytes, which keeps encrypted
// record payloads stable across runs.
var encMode = mustEncMode()

// Decoding accepts standard CBOR and ignores unknown fields, so an
// older manager tolerates requests from a newer broker.
var decMode = mustDecMode()

func mustEncMode() cbor.EncMode {
	mode, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("codec: building CBOR encoder: " + err.Error())
	}
	return mode
}

func mustDecMode() cbor.DecMode {
	options := cbor.DecOptions{
		// Protocol map keys are always text strings. Decoding into an
		// any-typed target must therefore produce map[string]any, not
		// the cbor default map[any]any, or generic request handling
		// would need key-type assertions everywhere. Struct targets
		// are unaffected.
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}
	mode, err := options.DecMode()
	if err != nil {
		panic("codec: building CBOR decoder: " + err.Error())
	}
	return mode
}

// Marshal encodes v deterministically.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes one CBOR item into v.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// NewEncoder returns a deterministic stream encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return encMode.NewEncoder(w)
}

// NewDecoder returns a stream decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	return decMode.NewDecoder(r)
}
