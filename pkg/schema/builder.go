package schema

import (
	"fmt"
	"reflect"
	"strings"
	"unicode"

	"github.com/vk/hyperstate/pkg/lazy"
	"github.com/vk/hyperstate/pkg/node"
)

// Enumerated is the capability interface for enum types: a named string
// type that declares its closed set of variants. The method must use a
// value receiver so variants can be read off the zero value.
type Enumerated interface {
	Variants() []string
}

var (
	enumeratedType = reflect.TypeOf((*Enumerated)(nil)).Elem()
	versionedType  = reflect.TypeOf((*Versioned)(nil)).Elem()
)

// Materialize builds the struct descriptor for a record type. It is a pure
// function of the type definition and is intended to be called once, ahead
// of use; the result drives every later encode, decode, and diff.
//
// Cyclic struct definitions are rejected: a struct may not contain itself,
// directly or transitively, even through Option or Blob indirection.
func Materialize(v any) (*Struct, error) {
	rt := reflect.TypeOf(v)
	for rt != nil && rt.Kind() == reflect.Pointer {
		rt = rt.Elem()
	}
	if rt == nil || rt.Kind() != reflect.Struct {
		return nil, &Error{Type: fmt.Sprintf("%T", v), Msg: "record type must be a struct"}
	}
	t, err := materializeType(rt, map[reflect.Type]bool{})
	if err != nil {
		return nil, err
	}
	return t.(*Struct), nil
}

func materializeType(rt reflect.Type, active map[reflect.Type]bool) (Type, error) {
	if lazy.IsHandleType(rt) {
		name, err := lazy.InnerTypeName(rt)
		if err != nil {
			return nil, &Error{Type: rt.String(), Msg: err.Error()}
		}
		return &Blob{Name: name}, nil
	}
	if rt.Kind() == reflect.String && rt.Implements(enumeratedType) {
		variants := reflect.Zero(rt).Interface().(Enumerated).Variants()
		if len(variants) == 0 {
			return nil, &Error{Type: rt.String(), Msg: "enum declares no variants"}
		}
		return &Enum{Name: rt.Name(), Variants: variants}, nil
	}

	switch rt.Kind() {
	case reflect.Bool:
		return &Primitive{Name: "bool"}, nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return &Primitive{Name: "int"}, nil
	case reflect.Float32, reflect.Float64:
		return &Primitive{Name: "float"}, nil
	case reflect.String:
		return &Primitive{Name: "string"}, nil
	case reflect.Pointer:
		elem, err := materializeType(rt.Elem(), active)
		if err != nil {
			return nil, err
		}
		return &Option{Elem: elem}, nil
	case reflect.Slice:
		elem, err := materializeType(rt.Elem(), active)
		if err != nil {
			return nil, err
		}
		if containsBlob(elem) {
			return nil, &Error{Type: rt.String(), Msg: "blob fields cannot appear inside collections"}
		}
		return &List{Elem: elem}, nil
	case reflect.Array:
		elem, err := materializeType(rt.Elem(), active)
		if err != nil {
			return nil, err
		}
		if containsBlob(elem) {
			return nil, &Error{Type: rt.String(), Msg: "blob fields cannot appear inside collections"}
		}
		elems := make([]Type, rt.Len())
		for i := range elems {
			elems[i] = elem
		}
		return &Tuple{Elems: elems}, nil
	case reflect.Map:
		key, err := materializeType(rt.Key(), active)
		if err != nil {
			return nil, err
		}
		// Map keys become field names in the record grammar, so only
		// strings can survive a round trip.
		kp, ok := key.(*Primitive)
		if !ok || kp.Name != "string" {
			return nil, &Error{Type: rt.String(), Msg: "map keys must be strings"}
		}
		value, err := materializeType(rt.Elem(), active)
		if err != nil {
			return nil, err
		}
		if containsBlob(value) {
			return nil, &Error{Type: rt.String(), Msg: "blob fields cannot appear inside collections"}
		}
		return &Map{Key: key, Value: value}, nil
	case reflect.Struct:
		return materializeStruct(rt, active)
	}
	return nil, &Error{Type: rt.String(), Msg: fmt.Sprintf("unsupported kind %s", rt.Kind())}
}

func materializeStruct(rt reflect.Type, active map[reflect.Type]bool) (Type, error) {
	if active[rt] {
		return nil, &Error{Type: rt.String(), Msg: "cyclic struct reference"}
	}
	active[rt] = true
	defer delete(active, rt)

	s := &Struct{Name: rt.Name()}
	seenNames := map[string]bool{}
	for i := 0; i < rt.NumField(); i++ {
		f := rt.Field(i)
		if !f.IsExported() {
			continue
		}
		name := fieldName(f)
		if name == "-" {
			continue
		}
		if seenNames[name] {
			return nil, &Error{Type: rt.String(), Msg: fmt.Sprintf("duplicate field name %q", name)}
		}
		seenNames[name] = true

		ft, err := materializeType(f.Type, active)
		if err != nil {
			return nil, err
		}

		field := Field{Name: name, Type: ft}
		if raw, ok := f.Tag.Lookup("default"); ok {
			def, err := parseDefault(raw, ft)
			if err != nil {
				return nil, &Error{Type: rt.String(), Msg: fmt.Sprintf("field %q: %v", name, err)}
			}
			field.Default = def
			field.HasDefault = true
		}
		s.Fields = append(s.Fields, field)
	}

	if err := attachVersion(rt, s); err != nil {
		return nil, err
	}
	return s, nil
}

// containsBlob reports whether a descriptor reaches a Blob anywhere below
// it. Every blob field owns exactly one backing file, named by the field's
// dotted path, so a blob inside a collection would alias one file across
// all elements.
func containsBlob(t Type) bool {
	switch t := t.(type) {
	case *Blob:
		return true
	case *Option:
		return containsBlob(t.Elem)
	case *List:
		return containsBlob(t.Elem)
	case *Map:
		return containsBlob(t.Value)
	case *Tuple:
		for _, e := range t.Elems {
			if containsBlob(e) {
				return true
			}
		}
	case *Struct:
		for i := range t.Fields {
			if containsBlob(t.Fields[i].Type) {
				return true
			}
		}
	}
	return false
}

// attachVersion reads the version and rewrite-rule table off types that
// implement the Versioned capability. Non-versioned structs stay at
// version 0 with no rules.
func attachVersion(rt reflect.Type, s *Struct) error {
	if !reflect.PointerTo(rt).Implements(versionedType) {
		return nil
	}
	inst := reflect.New(rt).Interface().(Versioned)
	s.Version = inst.Version()
	if s.Version < 0 {
		return &Error{Type: rt.String(), Msg: "version must not be negative"}
	}
	s.UpgradeRules = inst.UpgradeRules()
	for v := range s.UpgradeRules {
		if v < 0 || v >= s.Version {
			return &Error{
				Type: rt.String(),
				Msg:  fmt.Sprintf("upgrade rules registered for version %d, outside 0..%d", v, s.Version-1),
			}
		}
	}
	return nil
}

// GoFieldName maps a Go struct field to its record field name, following
// the same rules the descriptor builder uses. The second result is false
// for fields the descriptor skips entirely.
func GoFieldName(f reflect.StructField) (string, bool) {
	if !f.IsExported() {
		return "", false
	}
	name := fieldName(f)
	if name == "-" {
		return "", false
	}
	return name, true
}

// fieldName maps a Go field to its record field name: the `hs` tag when
// present, otherwise the snake_case form of the Go name.
func fieldName(f reflect.StructField) string {
	if tag, ok := f.Tag.Lookup("hs"); ok {
		if name, _, _ := strings.Cut(tag, ","); name != "" {
			return name
		}
	}
	return snakeCase(f.Name)
}

func snakeCase(name string) string {
	var b strings.Builder
	runes := []rune(name)
	for i, r := range runes {
		if unicode.IsUpper(r) {
			boundary := i > 0 &&
				(unicode.IsLower(runes[i-1]) || (i+1 < len(runes) && unicode.IsLower(runes[i+1])))
			if boundary {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// parseDefault interprets a `default` struct tag. String and enum fields
// take the tag text verbatim; every other type parses it with the same
// literal grammar overrides use.
func parseDefault(raw string, ft Type) (*node.Node, error) {
	switch t := unwrapOption(ft).(type) {
	case *Primitive:
		if t.Name == "string" {
			return node.String(raw), nil
		}
	case *Enum:
		if !t.HasVariant(raw) {
			return nil, fmt.Errorf("default %q is not a variant of %s", raw, t.Name)
		}
		return node.String(raw), nil
	case *Blob:
		return nil, fmt.Errorf("blob fields cannot declare defaults")
	}
	return node.ParseLiteral(raw)
}
