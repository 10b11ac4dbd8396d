// Copyright (C) 2025 Michael J. Fromberger. All Rights Reserved.

package catalog

import (
	"fmt"
	"reflect"
)

// Funcs adapts a pair of functions to a Converter for values of type T.
// The encode function must return a wire value (nil, bool, a number, a
// string, []any, or map[string]any).
//
// For example:
//
//	cat.RegisterConverter(catalog.KeyOf[netip.Addr](), catalog.Funcs(
//	   func(a netip.Addr) (any, error) { return a.String(), nil },
//	   func(w any) (netip.Addr, error) { s, _ := w.(string); return netip.ParseAddr(s) },
//	))
func Funcs[T any](encode func(T) (any, error), decode func(any) (T, error)) Converter {
	return funcs[T]{encode: encode, decode: decode}
}

// KeyOf returns the normalized type key of T.
func KeyOf[T any]() string { return TypeKey(reflect.TypeFor[T]()) }

type funcs[T any] struct {
	encode func(T) (any, error)
	decode func(any) (T, error)
}

func (f funcs[T]) Encode(_ Coder, v reflect.Value, t reflect.Type) (any, error) {
	x, ok := v.Interface().(T)
	if !ok {
		return nil, fmt.Errorf("converter for %v: got %v", reflect.TypeFor[T](), t)
	}
	return f.encode(x)
}

func (f funcs[T]) Decode(_ Coder, w any, t reflect.Type) (reflect.Value, error) {
	x, err := f.decode(w)
	if err != nil {
		return reflect.Value{}, err
	}
	return reflect.ValueOf(&x).Elem().Convert(t), nil
}
