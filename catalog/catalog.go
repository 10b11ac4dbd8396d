// Copyright (C) 2023 Michael J. Fromberger. All Rights Reserved.

// Package catalog defines the type tables shared by the components of a
// chirpbus node: a mapping from logical packet names to packet schemas, a
// mapping from normalized type keys to nested object schemas, and a mapping
// from type keys to value converters.
//
// # Usage
//
// Construct a new empty catalog and register packet types with it:
//
//	cat := catalog.New()
//	if _, err := cat.RegisterPacket(reflect.TypeFor[Ping]()); err != nil {
//	   log.Fatalf("Register: %v", err)
//	}
//
// Registering a packet type computes its schema once, and recursively
// registers object schemas for the struct types its fields refer to, and enum
// converters for the enum types its fields refer to. To look up a schema by
// the logical name of the packet, use Packet:
//
//	s := cat.Packet("PING")
//
// Converters map values of a particular type to and from their wire form.
// To add a converter, use RegisterConverter with the normalized key of the
// type it governs:
//
//	err := cat.RegisterConverter(catalog.TypeKey(reflect.TypeFor[Point]()), pointConverter)
//
// A catalog does not provide any converters by default; the packet package
// registers the standard set.
package catalog

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/creachadair/mds/mapset"
)

var (
	// ErrDuplicate is reported when a registration conflicts with an
	// existing entry.
	ErrDuplicate = errors.New("duplicate registration")

	// ErrInvalidType is reported when a type cannot be used as a packet or
	// object type.
	ErrInvalidType = errors.New("invalid type")

	// ErrUnknownType is reported when a packet type is not registered.
	ErrUnknownType = errors.New("unknown packet type")

	// ErrNoConverter is reported when a value has neither a converter nor an
	// object schema.
	ErrNoConverter = errors.New("no converter or schema for type")
)

// A Converter maps values of a Go type to and from their wire form.  The wire
// form of a value is nil, a bool, a number, a string, a []any, or a
// map[string]any.
//
// A converter must be stateless. Converters for container types use the
// Coder to encode and decode their elements, based on the declared element
// type and not the type of the runtime value.
type Converter interface {
	// Encode returns the wire form of v, whose declared type is t.
	// The value v is never nil.
	Encode(c Coder, v reflect.Value, t reflect.Type) (any, error)

	// Decode returns a value of type t from its wire form w.
	// The value w is never nil.
	Decode(c Coder, w any, t reflect.Type) (reflect.Value, error)
}

// A Coder encodes and decodes values of arbitrary declared type using the
// converters and schemas of a catalog.
type Coder interface {
	EncodeValue(v reflect.Value, t reflect.Type) (any, error)
	DecodeValue(w any, t reflect.Type) (reflect.Value, error)
}

// A Catalog holds the converter and schema tables for a node.  A zero
// Catalog is not ready for use; call New to construct one.  The methods of a
// Catalog are safe for concurrent use by multiple goroutines.
type Catalog struct {
	// Must hold build to construct schemas. This serializes registration
	// without blocking lookups, which only take μ.
	build   sync.Mutex
	pending mapset.Set[string] // object keys being built

	μ       sync.RWMutex
	convs   map[string]Converter
	packets map[string]*Schema       // logical name → schema
	byType  map[reflect.Type]*Schema // packet type → schema
	objects map[string]*Schema       // type key → object schema
}

// New creates a new empty catalog.
func New() *Catalog {
	c := new(Catalog)
	c.resetLocked()
	return c
}

func (c *Catalog) resetLocked() {
	c.pending = mapset.New[string]()
	c.convs = make(map[string]Converter)
	c.packets = make(map[string]*Schema)
	c.byType = make(map[reflect.Type]*Schema)
	c.objects = make(map[string]*Schema)
}

// Clear discards all the converters and schemas registered with c.
// Values previously returned by lookups remain valid.
func (c *Catalog) Clear() {
	c.build.Lock()
	defer c.build.Unlock()
	c.μ.Lock()
	defer c.μ.Unlock()
	c.resetLocked()
}

// RegisterConverter adds conv as the converter for the specified type key.
// It reports ErrDuplicate if a converter is already registered for key.
func (c *Catalog) RegisterConverter(key string, conv Converter) error {
	if key == "" || conv == nil {
		return errors.New("register converter: empty key or nil converter")
	}
	c.μ.Lock()
	defer c.μ.Unlock()
	if _, ok := c.convs[key]; ok {
		return fmt.Errorf("converter for %q: %w", key, ErrDuplicate)
	}
	c.convs[key] = conv
	return nil
}

// Converter returns the converter registered for key, or nil.
func (c *Catalog) Converter(key string) Converter {
	c.μ.RLock()
	defer c.μ.RUnlock()
	return c.convs[key]
}

// ConverterFor returns the converter that governs values of type t: the
// converter registered for TypeKey(t) if there is one, otherwise the
// converter registered for RawKey(t). It returns nil if neither exists.
func (c *Catalog) ConverterFor(t reflect.Type) Converter {
	c.μ.RLock()
	defer c.μ.RUnlock()
	return c.converterForLocked(t)
}

func (c *Catalog) converterForLocked(t reflect.Type) Converter {
	if conv, ok := c.convs[TypeKey(t)]; ok {
		return conv
	}
	if raw := RawKey(t); raw != "" {
		return c.convs[raw]
	}
	return nil
}

// Packet returns the packet schema registered for the given logical name,
// or nil.
func (c *Catalog) Packet(name string) *Schema {
	c.μ.RLock()
	defer c.μ.RUnlock()
	return c.packets[name]
}

// PacketFor returns the packet schema registered for type t, or nil.
// If t is a pointer type, its element type is used.
func (c *Catalog) PacketFor(t reflect.Type) *Schema {
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	c.μ.RLock()
	defer c.μ.RUnlock()
	return c.byType[t]
}

// Object returns the object schema registered for the given type key, or nil.
func (c *Catalog) Object(key string) *Schema {
	c.μ.RLock()
	defer c.μ.RUnlock()
	return c.objects[key]
}

// Packets returns the logical names of all registered packet types in
// lexicographic order.
func (c *Catalog) Packets() []string {
	c.μ.RLock()
	defer c.μ.RUnlock()
	names := make([]string, 0, len(c.packets))
	for name := range c.packets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
