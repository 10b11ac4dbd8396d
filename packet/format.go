// Copyright (C) 2025 Michael J. Fromberger. All Rights Reserved.

package packet

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// A Format encodes envelopes to and from bytes.
type Format interface {
	// Name returns the name of the format, e.g., "json".
	Name() string

	// Marshal encodes env in the format.
	Marshal(env *Envelope) ([]byte, error)

	// Unmarshal decodes and validates an envelope from data.
	Unmarshal(data []byte) (*Envelope, error)
}

var (
	// JSON is the default envelope format. Numbers in the packet data are
	// decoded as json.Number so that no precision is lost before conversion.
	JSON Format = jsonFormat{}

	// CBOR encodes envelopes in the Concise Binary Object Representation
	// (RFC 8949).
	CBOR Format = newCBORFormat()
)

// FormatByName returns the format with the given name.
func FormatByName(name string) (Format, error) {
	switch name {
	case "", "json":
		return JSON, nil
	case "cbor":
		return CBOR, nil
	}
	return nil, fmt.Errorf("unknown envelope format %q", name)
}

type jsonFormat struct{}

func (jsonFormat) Name() string { return "json" }

func (jsonFormat) Marshal(env *Envelope) ([]byte, error) { return json.Marshal(env) }

func (jsonFormat) Unmarshal(data []byte) (*Envelope, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var env Envelope
	if err := dec.Decode(&env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}
	if err := env.Validate(); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}
	return &env, nil
}

type cborFormat struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

func newCBORFormat() cborFormat {
	enc, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("cbor encoder: %v", err))
	}
	dec, err := cbor.DecOptions{
		DefaultMapType: reflect.TypeFor[map[string]any](),
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("cbor decoder: %v", err))
	}
	return cborFormat{enc: enc, dec: dec}
}

func (cborFormat) Name() string { return "cbor" }

func (f cborFormat) Marshal(env *Envelope) ([]byte, error) { return f.enc.Marshal(env) }

func (f cborFormat) Unmarshal(data []byte) (*Envelope, error) {
	var env Envelope
	if err := f.dec.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}
	if err := env.Validate(); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}
	return &env, nil
}
