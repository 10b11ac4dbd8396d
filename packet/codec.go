// Copyright (C) 2025 Michael J. Fromberger. All Rights Reserved.

package packet

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/creachadair/chirpbus/catalog"
)

// A Codec encodes packet values to envelopes and decodes envelopes to packet
// values, using the schemas and converters registered in a catalog.  Packet
// types must be registered with the catalog before they are encoded; the
// codec never builds a schema from a value.
//
// A Codec is safe for concurrent use by multiple goroutines.
type Codec struct {
	cat *catalog.Catalog
}

// NewCodec constructs a codec that uses the tables of cat.
func NewCodec(cat *catalog.Catalog) *Codec { return &Codec{cat: cat} }

// Encode encodes pkt with the metadata from h. The packet may be a struct or
// a pointer to a struct whose type is registered as a packet.  If it is not,
// Encode reports an error wrapping catalog.ErrUnknownType.
func (c *Codec) Encode(pkt any, h Header) (*Envelope, error) {
	v := reflect.ValueOf(pkt)
	if v.Kind() == reflect.Pointer && !v.IsNil() {
		v = v.Elem()
	}
	if !v.IsValid() || v.Kind() != reflect.Struct {
		return nil, fmt.Errorf("encode %T: %w", pkt, catalog.ErrUnknownType)
	}
	s := c.cat.PacketFor(v.Type())
	if s == nil {
		return nil, fmt.Errorf("encode %v: %w", v.Type(), catalog.ErrUnknownType)
	}
	data, err := c.encodeFields(s, v)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", s.Name, err)
	}
	env := &Envelope{
		PacketID:   h.ID,
		Type:       s.Name,
		Origin:     h.Origin,
		Responding: h.Responding,
		Self:       h.Self,
		Sent:       h.Sent.UnixMilli(),
		Data:       data,
	}
	if h.Responding {
		id := h.RespondingTo
		env.RespondingTo = &id
	}
	return env, nil
}

// Decode decodes the packet carried by env. The result is a pointer to a new
// value of the registered packet type. Fields that are missing or null in the
// envelope data keep their zero values. If the type named by env is not
// registered, Decode reports an error wrapping catalog.ErrUnknownType.
func (c *Codec) Decode(env *Envelope) (any, error) {
	s := c.cat.Packet(env.Type)
	if s == nil {
		return nil, fmt.Errorf("decode %q: %w", env.Type, catalog.ErrUnknownType)
	}
	p := s.New()
	if err := c.decodeFields(s, env.Data, p.Elem()); err != nil {
		return nil, fmt.Errorf("decode %s: %w", s.Name, err)
	}
	return p.Interface(), nil
}

func (c *Codec) encodeFields(s *catalog.Schema, v reflect.Value) (map[string]any, error) {
	out := make(map[string]any, len(s.Fields))
	for _, f := range s.Fields {
		w, err := c.EncodeValue(f.Get(v), f.Type)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", f.Name, err)
		}
		out[f.Name] = w
	}
	return out, nil
}

func (c *Codec) decodeFields(s *catalog.Schema, data map[string]any, v reflect.Value) error {
	for _, f := range s.Fields {
		w, ok := data[f.Name]
		if !ok || w == nil {
			continue
		}
		x, err := c.DecodeValue(w, f.Type)
		if err != nil {
			return fmt.Errorf("field %q: %w", f.Name, err)
		}
		f.Set(v, x)
	}
	return nil
}

// EncodeValue encodes v, whose declared type is t, to its wire form.  A nil
// value encodes as nil. Otherwise the converter for t is used if one exists,
// or the object schema for t if t is a struct type. EncodeValue implements
// part of the catalog.Coder interface.
func (c *Codec) EncodeValue(v reflect.Value, t reflect.Type) (any, error) {
	if isNil(v) {
		return nil, nil
	}
	if conv := c.cat.ConverterFor(t); conv != nil {
		return conv.Encode(c, v, t)
	}
	if t.Kind() == reflect.Struct {
		if s := c.cat.Object(catalog.TypeKey(t)); s != nil {
			return c.encodeFields(s, v)
		}
	}
	return nil, fmt.Errorf("%v: %w", t, catalog.ErrNoConverter)
}

// DecodeValue decodes a value of type t from its wire form w.  A nil wire
// value decodes as the zero value of t. DecodeValue implements part of the
// catalog.Coder interface.
func (c *Codec) DecodeValue(w any, t reflect.Type) (reflect.Value, error) {
	if w == nil {
		return reflect.Zero(t), nil
	}
	if conv := c.cat.ConverterFor(t); conv != nil {
		x, err := conv.Decode(c, w, t)
		if err != nil {
			return reflect.Value{}, err
		}
		return fitType(x, t)
	}
	if t.Kind() == reflect.Struct {
		if s := c.cat.Object(catalog.TypeKey(t)); s != nil {
			obj, ok := w.(map[string]any)
			if !ok {
				return reflect.Value{}, fmt.Errorf("object %v: got %T, want object", t, w)
			}
			v := reflect.New(t).Elem()
			if err := c.decodeFields(s, obj, v); err != nil {
				return reflect.Value{}, err
			}
			return v, nil
		}
	}
	return reflect.Value{}, fmt.Errorf("%v: %w", t, catalog.ErrNoConverter)
}

// fitType returns x as a value of type t.
func fitType(x reflect.Value, t reflect.Type) (reflect.Value, error) {
	switch {
	case !x.IsValid():
		return reflect.Value{}, errors.New("converter returned no value")
	case x.Type() == t || x.Type().AssignableTo(t):
		return x, nil
	case x.Type().ConvertibleTo(t):
		return x.Convert(t), nil
	}
	return reflect.Value{}, fmt.Errorf("converter returned %v, want %v", x.Type(), t)
}

func isNil(v reflect.Value) bool {
	if !v.IsValid() {
		return true
	}
	switch v.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface:
		return v.IsNil()
	}
	return false
}
