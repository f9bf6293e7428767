// Package contract describes the closed set of remote interfaces shared by
// both ends of a connection, and resolves Envelope type identifiers back to
// concrete Go types.
//
// A Type is built once per Go type with Of. Its ID is a stable, package
// qualified name, so the caller can tag an argument with IDOf(value) and the
// receiver can look the same string up in its Registry. Decoding never
// guesses: an ID missing from the Registry is an error.
package contract

import (
	"fmt"
	"hubrpc/codec"
	"reflect"
)

// Type is a resolvable type descriptor.
type Type struct {
	ID      string
	decode  func(c codec.Codec, data []byte) (any, error)
	accepts func(v any) bool
}

// Of returns the descriptor for T.
func Of[T any]() Type {
	return Type{
		ID: typeID(reflect.TypeFor[T]()),
		decode: func(c codec.Codec, data []byte) (any, error) {
			var v T
			if err := c.Decode(data, &v); err != nil {
				return nil, err
			}
			return v, nil
		},
		accepts: func(v any) bool {
			_, ok := v.(T)
			return ok
		},
	}
}

// Decode deserializes data as the described type.
func (t Type) Decode(c codec.Codec, data []byte) (any, error) {
	if t.decode == nil {
		return nil, fmt.Errorf("contract: type %q has no decoder", t.ID)
	}
	return t.decode(c, data)
}

// Accepts reports whether v can be passed where the described type is
// expected.
func (t Type) Accepts(v any) bool {
	return t.accepts != nil && t.accepts(v)
}

// IDOf returns the type identifier of the concrete runtime type of v, or ""
// for an untyped nil.
func IDOf(v any) string {
	if v == nil {
		return ""
	}
	return typeID(reflect.TypeOf(v))
}

// typeID spells a type with full package paths so that two packages
// declaring the same short name never collide.
func typeID(t reflect.Type) string {
	if t.Name() != "" {
		if pkg := t.PkgPath(); pkg != "" {
			return pkg + "." + t.Name()
		}
		return t.Name()
	}
	switch t.Kind() {
	case reflect.Pointer:
		return "*" + typeID(t.Elem())
	case reflect.Slice:
		return "[]" + typeID(t.Elem())
	case reflect.Array:
		return fmt.Sprintf("[%d]%s", t.Len(), typeID(t.Elem()))
	case reflect.Map:
		return "map[" + typeID(t.Key()) + "]" + typeID(t.Elem())
	}
	return t.String()
}
