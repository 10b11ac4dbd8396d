// Copyright (C) 2025 Michael J. Fromberger. All Rights Reserved.

package catalog

import (
	"reflect"
	"strings"
	"unicode"
)

// Tokens for the predeclared Go types. Kinds without an entry here are
// rendered structurally by TypeKey.
var kindToken = map[reflect.Kind]string{
	reflect.Bool:       "BOOLEAN",
	reflect.Int:        "INT",
	reflect.Int8:       "BYTE",
	reflect.Int16:      "SHORT",
	reflect.Int32:      "INTEGER",
	reflect.Int64:      "LONG",
	reflect.Uint:       "UINT",
	reflect.Uint8:      "UBYTE",
	reflect.Uint16:     "USHORT",
	reflect.Uint32:     "UINTEGER",
	reflect.Uint64:     "ULONG",
	reflect.Uintptr:    "UINTPTR",
	reflect.Float32:    "FLOAT",
	reflect.Float64:    "DOUBLE",
	reflect.Complex64:  "COMPLEX64",
	reflect.Complex128: "COMPLEX128",
	reflect.String:     "STRING",
}

// Raw keys for parameterized container types. Converters for these keys
// receive the full declared type and resolve their arguments from it.
const (
	ListKey     = "LIST"
	ArrayKey    = "ARRAY"
	SetKey      = "SET"
	MapKey      = "MAP"
	OptionalKey = "OPTIONAL"
)

var emptyStruct = reflect.TypeFor[struct{}]()

// TypeKey returns the normalized key for t. Predeclared types map to fixed
// tokens (for example int32 is "INTEGER"), named types map to their import
// path and name, upper-cased with separators replaced by "_", and unnamed
// composite types render as RAW<ARG,...>, for example "MAP<STRING,LIST<INT>>".
//
// TypeKey is total: every type has a key, and the key for a given type is the
// same on every call.
func TypeKey(t reflect.Type) string {
	if t.Name() != "" && t.PkgPath() == "" {
		if tok, ok := kindToken[t.Kind()]; ok {
			return tok // predeclared, e.g., int, string
		}
	}
	if t.Name() != "" && !(isGenericName(t.Name()) && RawKey(t) != "") {
		return qualifiedKey(t.PkgPath(), t.Name())
	}
	switch t.Kind() {
	case reflect.Slice:
		return ListKey + "<" + TypeKey(t.Elem()) + ">"
	case reflect.Array:
		return ArrayKey + "<" + TypeKey(t.Elem()) + ">"
	case reflect.Map:
		if t.Elem() == emptyStruct {
			return SetKey + "<" + TypeKey(t.Key()) + ">"
		}
		return MapKey + "<" + TypeKey(t.Key()) + "," + TypeKey(t.Elem()) + ">"
	case reflect.Pointer:
		return OptionalKey + "<" + TypeKey(t.Elem()) + ">"
	case reflect.Chan:
		return "CHAN<" + TypeKey(t.Elem()) + ">"
	case reflect.Func:
		return "FUNC"
	case reflect.Interface:
		return "INTERFACE"
	case reflect.Struct:
		args := make([]string, t.NumField())
		for i := range t.NumField() {
			f := t.Field(i)
			args[i] = normalizeName(f.Name) + ":" + TypeKey(f.Type)
		}
		return "STRUCT<" + strings.Join(args, ",") + ">"
	case reflect.UnsafePointer:
		return "UNSAFE_POINTER"
	}
	if tok, ok := kindToken[t.Kind()]; ok {
		return tok
	}
	return normalizeName(t.String())
}

// RawKey returns the key of the converter that governs t when no converter is
// registered for TypeKey(t). For container kinds this is the raw container
// key ("LIST", "SET", "MAP", "OPTIONAL", "ARRAY"); for named types whose
// underlying kind is predeclared it is the token for that kind. Otherwise
// RawKey returns "".
func RawKey(t reflect.Type) string {
	switch t.Kind() {
	case reflect.Slice:
		return ListKey
	case reflect.Array:
		return ArrayKey
	case reflect.Map:
		if t.Elem() == emptyStruct {
			return SetKey
		}
		return MapKey
	case reflect.Pointer:
		return OptionalKey
	}
	return kindToken[t.Kind()]
}

// isGenericName reports whether name is the name of an instantiated generic
// type such as "Set[int]". Generic container types are rendered structurally,
// so mapset.Set[int] and map[int]struct{} share the key "SET<INT>".
func isGenericName(name string) bool { return strings.ContainsRune(name, '[') }

func qualifiedKey(pkgPath, name string) string {
	if pkgPath == "" {
		return normalizeName(name)
	}
	return normalizeName(pkgPath + "." + name)
}

// normalizeName upper-cases s and replaces each run of non-alphanumeric
// characters with a single underscore.
func normalizeName(s string) string {
	var sb strings.Builder
	sep := false
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if sep && sb.Len() != 0 {
				sb.WriteByte('_')
			}
			sep = false
			sb.WriteRune(unicode.ToUpper(r))
		} else {
			sep = true
		}
	}
	return sb.String()
}

// PacketName returns the logical packet type name for t. If t (or a pointer
// to t) implements Namer, its PacketType method determines the name;
// otherwise the name is derived from the Go type name by converting camel
// case to upper snake case, so "PingPacket" becomes "PING_PACKET".
func PacketName(t reflect.Type) string {
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Implements(namerType) {
		return reflect.Zero(t).Interface().(Namer).PacketType()
	} else if pt := reflect.PointerTo(t); pt.Implements(namerType) {
		return reflect.New(t).Interface().(Namer).PacketType()
	}
	return SnakeName(t.Name())
}

// A Namer is implemented by packet types that choose their own logical name.
type Namer interface {
	PacketType() string
}

var namerType = reflect.TypeFor[Namer]()

// SnakeName converts a camel-case identifier to upper snake case.
// A run of capitals is treated as one word, so "HTTPRequest" becomes
// "HTTP_REQUEST".
func SnakeName(name string) string {
	rs := []rune(name)
	var sb strings.Builder
	for i, r := range rs {
		if i > 0 && unicode.IsUpper(r) {
			prev := rs[i-1]
			nextLower := i+1 < len(rs) && unicode.IsLower(rs[i+1])
			if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
				sb.WriteByte('_')
			}
		}
		sb.WriteRune(unicode.ToUpper(r))
	}
	return sb.String()
}

// fieldName returns the default wire name for a struct field: the Go name
// with its leading run of capitals lowered, so "Value" is "value", "ID" is
// "id" and "URLPath" is "urlPath".
func fieldName(name string) string {
	rs := []rune(name)
	n := 0
	for n < len(rs) && unicode.IsUpper(rs[n]) {
		n++
	}
	switch {
	case n == 0:
		return name
	case n == 1 || n == len(rs):
		// Lower the whole run.
	default:
		n-- // keep the capital that starts the next word
	}
	for i := range n {
		rs[i] = unicode.ToLower(rs[i])
	}
	return string(rs)
}
