// Copyright (C) 2025 Michael J. Fromberger. All Rights Reserved.

package catalog

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/creachadair/mds/mapset"
)

// A Field describes one serializable field of a packet or object type.
type Field struct {
	Name  string       // the name of the field on the wire
	Type  reflect.Type // the declared type of the field
	Index []int        // the index sequence for reflect.Value.FieldByIndex
}

// Get returns the value of f in v, which must be a struct of the schema type.
func (f Field) Get(v reflect.Value) reflect.Value { return v.FieldByIndex(f.Index) }

// Set sets the value of f in v, which must be an addressable struct of the
// schema type, to x.
func (f Field) Set(v, x reflect.Value) { v.FieldByIndex(f.Index).Set(x) }

// A Schema describes the serializable fields of a struct type. A schema is
// computed once when its type is registered, and is not modified thereafter.
type Schema struct {
	Name   string       // logical packet name, or the type key for objects
	Key    string       // the normalized type key
	Type   reflect.Type // the struct type described
	Fields []Field      // in declaration order
}

// New returns a pointer to a new zero value of the schema type.
func (s *Schema) New() reflect.Value { return reflect.New(s.Type) }

// RegisterPacket computes and registers the packet schema for t, which must
// be a struct type or a pointer to a struct type. The logical name of the
// packet is given by PacketName. Object schemas for the struct types
// referenced by the fields of t are registered recursively, as are enum
// converters for the enum types it references.
//
// Registering the same type more than once returns the existing schema.
// It reports ErrDuplicate if a different type is already registered with the
// same logical name.
//
// Fields are taken from the exported fields of the struct in declaration
// order. The wire name of a field is its Go name with the leading capitals
// lowered, or the name given by a struct tag:
//
//	Value int    `chirp:"v"`    // encoded as "v"
//	Debug string `chirp:"-"`    // not encoded
//
// Promoted fields are not flattened: an exported embedded struct is encoded
// as a nested object under its own field name, and an unexported embedded
// field is reported as ErrInvalidType.
func (c *Catalog) RegisterPacket(t reflect.Type) (*Schema, error) {
	if t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil || t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("packet type %v: not a struct: %w", t, ErrInvalidType)
	}
	name := PacketName(t)
	if name == "" {
		return nil, fmt.Errorf("packet type %v: no name: %w", t, ErrInvalidType)
	}

	c.build.Lock()
	defer c.build.Unlock()

	if old := c.Packet(name); old != nil {
		if old.Type == t {
			return old, nil
		}
		return nil, fmt.Errorf("packet %q: %v conflicts with %v: %w", name, t, old.Type, ErrDuplicate)
	}
	fields, err := c.scanFields(t)
	if err != nil {
		return nil, fmt.Errorf("packet %q: %w", name, err)
	}
	s := &Schema{Name: name, Key: TypeKey(t), Type: t, Fields: fields}

	// Commit the schema before visiting nested types, so that a cycle back to
	// this type finds it.
	c.μ.Lock()
	c.packets[name] = s
	c.byType[t] = s
	c.μ.Unlock()

	for _, f := range fields {
		if err := c.buildNested(f.Type); err != nil {
			c.μ.Lock()
			delete(c.packets, name)
			delete(c.byType, t)
			c.μ.Unlock()
			return nil, fmt.Errorf("packet %q field %q: %w", name, f.Name, err)
		}
	}
	return s, nil
}

// buildNested ensures that the converters and schemas needed to encode
// values of type t are registered. The caller must hold c.build.
func (c *Catalog) buildNested(t reflect.Type) error {
	if IsEnum(t) {
		return c.ensureEnum(t)
	}
	key := TypeKey(t)
	if c.Converter(key) != nil {
		return nil
	}
	switch t.Kind() {
	case reflect.Slice, reflect.Array, reflect.Pointer:
		return c.buildNested(t.Elem())
	case reflect.Map:
		if err := c.buildNested(t.Key()); err != nil {
			return err
		}
		return c.buildNested(t.Elem())
	case reflect.Struct:
		return c.buildObject(t, key)
	}
	return nil
}

// buildObject computes and registers the object schema for struct type t.
// The caller must hold c.build.
func (c *Catalog) buildObject(t reflect.Type, key string) error {
	if old := c.Object(key); old != nil {
		if old.Type != t {
			return fmt.Errorf("object key %q: %v conflicts with %v: %w", key, t, old.Type, ErrDuplicate)
		}
		return nil
	} else if c.pending.Has(key) {
		return nil // under construction further up the stack
	}
	c.pending.Add(key)
	defer c.pending.Remove(key)

	fields, err := c.scanFields(t)
	if err != nil {
		return fmt.Errorf("object %v: %w", t, err)
	}
	c.μ.Lock()
	c.objects[key] = &Schema{Name: key, Key: key, Type: t, Fields: fields}
	c.μ.Unlock()

	for _, f := range fields {
		if err := c.buildNested(f.Type); err != nil {
			return fmt.Errorf("object %v field %q: %w", t, f.Name, err)
		}
	}
	return nil
}

// ensureEnum registers an EnumConverter for t unless t already has a
// converter.
func (c *Catalog) ensureEnum(t reflect.Type) error {
	key := TypeKey(t)
	c.μ.Lock()
	defer c.μ.Unlock()
	if _, ok := c.convs[key]; !ok {
		c.convs[key] = EnumConverter{}
	}
	return nil
}

// scanFields returns the serializable fields of struct type t.
func (c *Catalog) scanFields(t reflect.Type) ([]Field, error) {
	var fields []Field
	names := mapset.New[string]()
	for i := range t.NumField() {
		sf := t.Field(i)
		if sf.Anonymous && !sf.IsExported() {
			return nil, fmt.Errorf("unexported embedded field %v: %w", sf.Type, ErrInvalidType)
		} else if !sf.IsExported() {
			continue
		}
		name := fieldName(sf.Name)
		if tag, ok := sf.Tag.Lookup("chirp"); ok {
			tag, _, _ = strings.Cut(tag, ",")
			if tag == "-" {
				continue
			} else if tag != "" {
				name = tag
			}
		}
		if names.Has(name) {
			return nil, fmt.Errorf("duplicate field name %q: %w", name, ErrInvalidType)
		}
		switch sf.Type.Kind() {
		case reflect.Func, reflect.Chan, reflect.UnsafePointer:
			return nil, fmt.Errorf("field %q has unsupported type %v: %w", name, sf.Type, ErrInvalidType)
		}
		names.Add(name)
		fields = append(fields, Field{Name: name, Type: sf.Type, Index: sf.Index})
	}
	return fields, nil
}
