// Copyright (C) 2025 Michael J. Fromberger. All Rights Reserved.

package catalog

import (
	"fmt"
	"reflect"
)

// An Enum is a type with a fixed set of named values. Values of an enum type
// are encoded by name, and decoded by matching the name against the values
// reported by EnumValues.
//
// For example:
//
//	type Color int
//
//	const (
//	   Red Color = iota
//	   Green
//	)
//
//	func (c Color) String() string { return [...]string{"RED", "GREEN"}[c] }
//
//	func (Color) EnumValues() []catalog.Enum { return []catalog.Enum{Red, Green} }
type Enum interface {
	fmt.Stringer

	// EnumValues returns every value of the type. The result must not depend
	// on the receiver, and each value must have a distinct String.
	EnumValues() []Enum
}

var enumType = reflect.TypeFor[Enum]()

// IsEnum reports whether t is an enum type.
func IsEnum(t reflect.Type) bool {
	return t.Kind() != reflect.Interface && t.Kind() != reflect.Pointer && t.Implements(enumType)
}

// EnumConverter is the converter for enum types. It is registered
// automatically for each enum type reachable from a registered packet.
type EnumConverter struct{}

// Encode implements part of Converter.
func (EnumConverter) Encode(_ Coder, v reflect.Value, t reflect.Type) (any, error) {
	e, ok := v.Interface().(Enum)
	if !ok {
		return nil, fmt.Errorf("type %v is not an enum", t)
	}
	return e.String(), nil
}

// Decode implements part of Converter.
func (EnumConverter) Decode(_ Coder, w any, t reflect.Type) (reflect.Value, error) {
	name, ok := w.(string)
	if !ok {
		return reflect.Value{}, fmt.Errorf("enum %v: got %T, want string", t, w)
	}
	zero, ok := reflect.Zero(t).Interface().(Enum)
	if !ok {
		return reflect.Value{}, fmt.Errorf("type %v is not an enum", t)
	}
	for _, e := range zero.EnumValues() {
		if e.String() == name {
			return reflect.ValueOf(e).Convert(t), nil
		}
	}
	return reflect.Value{}, fmt.Errorf("enum %v has no value %q", t, name)
}
