// Copyright (C) 2025 Michael J. Fromberger. All Rights Reserved.

package packet

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"time"

	"github.com/creachadair/chirpbus/catalog"
	"github.com/google/uuid"
)

// ErrMapKey is reported when a map key does not encode to a string.
var ErrMapKey = errors.New("map key does not encode to a string")

// A Binding pairs a type key with the converter that governs it.
type Binding struct {
	Key  string
	Conv catalog.Converter
}

// Defaults returns the standard converter bindings: the predeclared scalar
// types, []byte, uuid.UUID, time.Time, and the LIST, ARRAY, SET, MAP and
// OPTIONAL container converters.
func Defaults() []Binding {
	return []Binding{
		{"BOOLEAN", boolConv{}},
		{"STRING", stringConv{}},
		{"INT", intConv{}},
		{"BYTE", intConv{}},
		{"SHORT", intConv{}},
		{"INTEGER", intConv{}},
		{"LONG", intConv{}},
		{"UINT", uintConv{}},
		{"UBYTE", uintConv{}},
		{"USHORT", uintConv{}},
		{"UINTEGER", uintConv{}},
		{"ULONG", uintConv{}},
		{"UINTPTR", uintConv{}},
		{"FLOAT", floatConv{}},
		{"DOUBLE", floatConv{}},
		{catalog.KeyOf[[]byte](), bytesConv{}},
		{catalog.KeyOf[uuid.UUID](), uuidConv{}},
		{catalog.KeyOf[time.Time](), timeConv{}},
		{catalog.ListKey, listConv{}},
		{catalog.ArrayKey, arrayConv{}},
		{catalog.SetKey, setConv{}},
		{catalog.MapKey, mapConv{}},
		{catalog.OptionalKey, optionalConv{}},
	}
}

// RegisterDefaults registers the converters from Defaults with cat.
func RegisterDefaults(cat *catalog.Catalog) error {
	for _, b := range Defaults() {
		if err := cat.RegisterConverter(b.Key, b.Conv); err != nil {
			return err
		}
	}
	return nil
}

func wantType(t reflect.Type, w any, want string) error {
	return fmt.Errorf("%v: got %T, want %s", t, w, want)
}

type boolConv struct{}

func (boolConv) Encode(_ catalog.Coder, v reflect.Value, _ reflect.Type) (any, error) {
	return v.Bool(), nil
}

func (boolConv) Decode(_ catalog.Coder, w any, t reflect.Type) (reflect.Value, error) {
	b, ok := w.(bool)
	if !ok {
		return reflect.Value{}, wantType(t, w, "bool")
	}
	v := reflect.New(t).Elem()
	v.SetBool(b)
	return v, nil
}

type stringConv struct{}

func (stringConv) Encode(_ catalog.Coder, v reflect.Value, _ reflect.Type) (any, error) {
	return v.String(), nil
}

func (stringConv) Decode(_ catalog.Coder, w any, t reflect.Type) (reflect.Value, error) {
	s, ok := w.(string)
	if !ok {
		return reflect.Value{}, wantType(t, w, "string")
	}
	v := reflect.New(t).Elem()
	v.SetString(s)
	return v, nil
}

type intConv struct{}

func (intConv) Encode(_ catalog.Coder, v reflect.Value, _ reflect.Type) (any, error) {
	return v.Int(), nil
}

func (intConv) Decode(_ catalog.Coder, w any, t reflect.Type) (reflect.Value, error) {
	n, err := wireInt(w)
	if err != nil {
		return reflect.Value{}, fmt.Errorf("%v: %w", t, err)
	}
	v := reflect.New(t).Elem()
	if v.OverflowInt(n) {
		return reflect.Value{}, fmt.Errorf("%v: %d: %w", t, n, ErrRange)
	}
	v.SetInt(n)
	return v, nil
}

type uintConv struct{}

func (uintConv) Encode(_ catalog.Coder, v reflect.Value, _ reflect.Type) (any, error) {
	return v.Uint(), nil
}

func (uintConv) Decode(_ catalog.Coder, w any, t reflect.Type) (reflect.Value, error) {
	n, err := wireUint(w)
	if err != nil {
		return reflect.Value{}, fmt.Errorf("%v: %w", t, err)
	}
	v := reflect.New(t).Elem()
	if v.OverflowUint(n) {
		return reflect.Value{}, fmt.Errorf("%v: %d: %w", t, n, ErrRange)
	}
	v.SetUint(n)
	return v, nil
}

type floatConv struct{}

func (floatConv) Encode(_ catalog.Coder, v reflect.Value, _ reflect.Type) (any, error) {
	return v.Float(), nil
}

func (floatConv) Decode(_ catalog.Coder, w any, t reflect.Type) (reflect.Value, error) {
	f, err := wireFloat(w)
	if err != nil {
		return reflect.Value{}, fmt.Errorf("%v: %w", t, err)
	}
	v := reflect.New(t).Elem()
	if v.OverflowFloat(f) {
		return reflect.Value{}, fmt.Errorf("%v: %g: %w", t, f, ErrRange)
	}
	v.SetFloat(f)
	return v, nil
}

// bytesConv encodes a []byte as a base64 string.
type bytesConv struct{}

func (bytesConv) Encode(_ catalog.Coder, v reflect.Value, _ reflect.Type) (any, error) {
	return base64.StdEncoding.EncodeToString(v.Bytes()), nil
}

func (bytesConv) Decode(_ catalog.Coder, w any, t reflect.Type) (reflect.Value, error) {
	s, ok := w.(string)
	if !ok {
		return reflect.Value{}, wantType(t, w, "base64 string")
	}
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return reflect.Value{}, fmt.Errorf("%v: %w", t, err)
	}
	return reflect.ValueOf(b), nil
}

type uuidConv struct{}

func (uuidConv) Encode(_ catalog.Coder, v reflect.Value, _ reflect.Type) (any, error) {
	return v.Interface().(uuid.UUID).String(), nil
}

func (uuidConv) Decode(_ catalog.Coder, w any, t reflect.Type) (reflect.Value, error) {
	s, ok := w.(string)
	if !ok {
		return reflect.Value{}, wantType(t, w, "UUID string")
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return reflect.Value{}, fmt.Errorf("%v: %w", t, err)
	}
	return reflect.ValueOf(id), nil
}

// timeConv encodes a time.Time as an RFC 3339 string with nanoseconds.
type timeConv struct{}

func (timeConv) Encode(_ catalog.Coder, v reflect.Value, _ reflect.Type) (any, error) {
	return v.Interface().(time.Time).Format(time.RFC3339Nano), nil
}

func (timeConv) Decode(_ catalog.Coder, w any, t reflect.Type) (reflect.Value, error) {
	s, ok := w.(string)
	if !ok {
		return reflect.Value{}, wantType(t, w, "time string")
	}
	ts, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return reflect.Value{}, fmt.Errorf("%v: %w", t, err)
	}
	return reflect.ValueOf(ts), nil
}

// listConv encodes a slice as a list of its elements.
type listConv struct{}

func (listConv) Encode(c catalog.Coder, v reflect.Value, t reflect.Type) (any, error) {
	return encodeElems(c, v, t.Elem())
}

func (listConv) Decode(c catalog.Coder, w any, t reflect.Type) (reflect.Value, error) {
	ws, ok := w.([]any)
	if !ok {
		return reflect.Value{}, wantType(t, w, "list")
	}
	v := reflect.MakeSlice(t, len(ws), len(ws))
	if err := decodeElems(c, ws, v, t.Elem()); err != nil {
		return reflect.Value{}, err
	}
	return v, nil
}

// arrayConv encodes an array as a list of its elements.
type arrayConv struct{}

func (arrayConv) Encode(c catalog.Coder, v reflect.Value, t reflect.Type) (any, error) {
	return encodeElems(c, v, t.Elem())
}

func (arrayConv) Decode(c catalog.Coder, w any, t reflect.Type) (reflect.Value, error) {
	ws, ok := w.([]any)
	if !ok {
		return reflect.Value{}, wantType(t, w, "list")
	} else if len(ws) != t.Len() {
		return reflect.Value{}, fmt.Errorf("%v: got %d elements, want %d", t, len(ws), t.Len())
	}
	v := reflect.New(t).Elem()
	if err := decodeElems(c, ws, v, t.Elem()); err != nil {
		return reflect.Value{}, err
	}
	return v, nil
}

func encodeElems(c catalog.Coder, v reflect.Value, et reflect.Type) ([]any, error) {
	out := make([]any, v.Len())
	for i := range v.Len() {
		w, err := c.EncodeValue(v.Index(i), et)
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		out[i] = w
	}
	return out, nil
}

func decodeElems(c catalog.Coder, ws []any, v reflect.Value, et reflect.Type) error {
	for i, w := range ws {
		x, err := c.DecodeValue(w, et)
		if err != nil {
			return fmt.Errorf("element %d: %w", i, err)
		}
		v.Index(i).Set(x)
	}
	return nil
}

// setConv encodes a map[K]struct{} as a list of its keys. The list is
// ordered by the text of the encoded keys, so equal sets encode equally.
type setConv struct{}

func (setConv) Encode(c catalog.Coder, v reflect.Value, t reflect.Type) (any, error) {
	out := make([]any, 0, v.Len())
	for it := v.MapRange(); it.Next(); {
		w, err := c.EncodeValue(it.Key(), t.Key())
		if err != nil {
			return nil, fmt.Errorf("set element: %w", err)
		}
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return fmt.Sprint(out[i]) < fmt.Sprint(out[j]) })
	return out, nil
}

func (setConv) Decode(c catalog.Coder, w any, t reflect.Type) (reflect.Value, error) {
	ws, ok := w.([]any)
	if !ok {
		return reflect.Value{}, wantType(t, w, "list")
	}
	v := reflect.MakeMapWithSize(t, len(ws))
	for i, e := range ws {
		k, err := c.DecodeValue(e, t.Key())
		if err != nil {
			return reflect.Value{}, fmt.Errorf("element %d: %w", i, err)
		}
		v.SetMapIndex(k, reflect.Zero(t.Elem()))
	}
	return v, nil
}

// mapConv encodes a map as an object. Each key must encode to a string, or
// to an integer which is written in decimal.
type mapConv struct{}

func (mapConv) Encode(c catalog.Coder, v reflect.Value, t reflect.Type) (any, error) {
	out := make(map[string]any, v.Len())
	for it := v.MapRange(); it.Next(); {
		kw, err := c.EncodeValue(it.Key(), t.Key())
		if err != nil {
			return nil, fmt.Errorf("map key: %w", err)
		}
		key, err := keyString(kw)
		if err != nil {
			return nil, fmt.Errorf("%v: %w", t, err)
		}
		w, err := c.EncodeValue(it.Value(), t.Elem())
		if err != nil {
			return nil, fmt.Errorf("map value %q: %w", key, err)
		}
		out[key] = w
	}
	return out, nil
}

func (mapConv) Decode(c catalog.Coder, w any, t reflect.Type) (reflect.Value, error) {
	obj, ok := w.(map[string]any)
	if !ok {
		return reflect.Value{}, wantType(t, w, "object")
	}
	v := reflect.MakeMapWithSize(t, len(obj))
	for key, ew := range obj {
		k, err := c.DecodeValue(key, t.Key())
		if err != nil {
			// Integer keys are written in decimal. Try again as a number.
			if _, perr := strconv.ParseInt(key, 10, 64); perr != nil {
				if _, perr := strconv.ParseUint(key, 10, 64); perr != nil {
					return reflect.Value{}, fmt.Errorf("map key %q: %w", key, err)
				}
			}
			k, err = c.DecodeValue(json.Number(key), t.Key())
			if err != nil {
				return reflect.Value{}, fmt.Errorf("map key %q: %w", key, err)
			}
		}
		x, err := c.DecodeValue(ew, t.Elem())
		if err != nil {
			return reflect.Value{}, fmt.Errorf("map value %q: %w", key, err)
		}
		v.SetMapIndex(k, x)
	}
	return v, nil
}

func keyString(w any) (string, error) {
	switch k := w.(type) {
	case string:
		return k, nil
	case int64:
		return strconv.FormatInt(k, 10), nil
	case uint64:
		return strconv.FormatUint(k, 10), nil
	}
	return "", fmt.Errorf("key of wire type %T: %w", w, ErrMapKey)
}

// optionalConv encodes a non-nil pointer as the value it points to.
// A nil pointer encodes as nil, and is handled by the codec.
type optionalConv struct{}

func (optionalConv) Encode(c catalog.Coder, v reflect.Value, t reflect.Type) (any, error) {
	return c.EncodeValue(v.Elem(), t.Elem())
}

func (optionalConv) Decode(c catalog.Coder, w any, t reflect.Type) (reflect.Value, error) {
	x, err := c.DecodeValue(w, t.Elem())
	if err != nil {
		return reflect.Value{}, err
	}
	p := reflect.New(t.Elem())
	p.Elem().Set(x)
	return p, nil
}
