package schema

import (
	"fmt"
	"strings"

	"github.com/vk/hyperstate/pkg/node"
)

// Type is the closed set of descriptor kinds. Implementations live in this
// package only; the codec and checker switch exhaustively over them.
type Type interface {
	fmt.Stringer
	isType()
}

// Primitive describes one of the scalar kinds: "int", "float", "bool",
// "string".
type Primitive struct {
	Name string
}

// Enum describes a closed set of named variants, serialized by name.
type Enum struct {
	Name     string
	Variants []string
}

// List describes a variable-length sequence of one element type.
type List struct {
	Elem Type
}

// Map describes a keyed collection. Keys are restricted to strings so they
// can serve as record field names on disk.
type Map struct {
	Key   Type
	Value Type
}

// Tuple describes a fixed-length sequence with per-position element types.
type Tuple struct {
	Elems []Type
}

// Option describes a value that may be absent.
type Option struct {
	Elem Type
}

// Blob describes an opaque, custom-coded sub-object persisted in its own
// backing file and addressed through a lazy handle.
type Blob struct {
	Name string
}

// Field is one named member of a struct descriptor, in declaration order.
type Field struct {
	Name       string
	Type       Type
	Default    *node.Node
	HasDefault bool
}

// Struct describes a record type: its ordered fields, its current version,
// and the rewrite rules that upgrade data recorded at older versions.
// UpgradeRules[v] transforms data recorded at version v into version v+1.
type Struct struct {
	Name         string
	Fields       []Field
	Version      int
	UpgradeRules map[int][]RewriteRule
}

func (*Primitive) isType() {}
func (*Enum) isType()      {}
func (*List) isType()      {}
func (*Map) isType()       {}
func (*Tuple) isType()     {}
func (*Option) isType()    {}
func (*Blob) isType()      {}
func (*Struct) isType()    {}

func (t *Primitive) String() string { return t.Name }
func (t *Enum) String() string      { return t.Name }
func (t *List) String() string      { return fmt.Sprintf("list(%s)", t.Elem) }
func (t *Map) String() string       { return fmt.Sprintf("map(%s, %s)", t.Key, t.Value) }
func (t *Option) String() string    { return fmt.Sprintf("option(%s)", t.Elem) }
func (t *Blob) String() string      { return fmt.Sprintf("blob(%s)", t.Name) }
func (t *Struct) String() string    { return t.Name }

func (t *Tuple) String() string {
	parts := make([]string, len(t.Elems))
	for i, e := range t.Elems {
		parts[i] = e.String()
	}
	return fmt.Sprintf("tuple(%s)", strings.Join(parts, ", "))
}

// FieldByName returns the named field of the struct.
func (t *Struct) FieldByName(name string) (*Field, bool) {
	for i := range t.Fields {
		if t.Fields[i].Name == name {
			return &t.Fields[i], true
		}
	}
	return nil, false
}

// FindField resolves a dotted path against nested struct descriptors,
// looking through Option wrappers on intermediate segments.
func (t *Struct) FindField(path node.Path) (*Field, bool) {
	cur := t
	for _, seg := range path[:len(path)-1] {
		f, ok := cur.FieldByName(seg)
		if !ok {
			return nil, false
		}
		inner := unwrapOption(f.Type)
		s, ok := inner.(*Struct)
		if !ok {
			return nil, false
		}
		cur = s
	}
	return cur.FieldByName(path.Leaf())
}

// HasVariant reports whether the enum declares the named variant.
func (t *Enum) HasVariant(name string) bool {
	for _, v := range t.Variants {
		if v == name {
			return true
		}
	}
	return false
}

// AllFieldsDefaulted reports whether every field of the struct has a
// default, directly or through a nested struct whose fields all do. Such
// structs can be constructed from an entirely absent record node.
func (t *Struct) AllFieldsDefaulted() bool {
	for _, f := range t.Fields {
		if f.HasDefault {
			continue
		}
		if s, ok := unwrapOption(f.Type).(*Struct); ok && s.AllFieldsDefaulted() {
			continue
		}
		if _, ok := f.Type.(*Option); ok {
			continue
		}
		return false
	}
	return true
}

func unwrapOption(t Type) Type {
	for {
		o, ok := t.(*Option)
		if !ok {
			return t
		}
		t = o.Elem
	}
}

// TypesEqual reports structural equality of two descriptor types. Struct
// comparison covers name, version, and field shapes; rewrite-rule tables
// are history, not shape, and are excluded.
func TypesEqual(a, b Type) bool {
	switch at := a.(type) {
	case *Primitive:
		bt, ok := b.(*Primitive)
		return ok && at.Name == bt.Name
	case *Enum:
		bt, ok := b.(*Enum)
		if !ok || at.Name != bt.Name || len(at.Variants) != len(bt.Variants) {
			return false
		}
		for i := range at.Variants {
			if at.Variants[i] != bt.Variants[i] {
				return false
			}
		}
		return true
	case *List:
		bt, ok := b.(*List)
		return ok && TypesEqual(at.Elem, bt.Elem)
	case *Map:
		bt, ok := b.(*Map)
		return ok && TypesEqual(at.Key, bt.Key) && TypesEqual(at.Value, bt.Value)
	case *Tuple:
		bt, ok := b.(*Tuple)
		if !ok || len(at.Elems) != len(bt.Elems) {
			return false
		}
		for i := range at.Elems {
			if !TypesEqual(at.Elems[i], bt.Elems[i]) {
				return false
			}
		}
		return true
	case *Option:
		bt, ok := b.(*Option)
		return ok && TypesEqual(at.Elem, bt.Elem)
	case *Blob:
		bt, ok := b.(*Blob)
		return ok && at.Name == bt.Name
	case *Struct:
		bt, ok := b.(*Struct)
		if !ok || at.Name != bt.Name || at.Version != bt.Version || len(at.Fields) != len(bt.Fields) {
			return false
		}
		for i := range at.Fields {
			af, bf := at.Fields[i], bt.Fields[i]
			if af.Name != bf.Name || af.HasDefault != bf.HasDefault || !TypesEqual(af.Type, bf.Type) {
				return false
			}
			if af.HasDefault && !af.Default.Equal(bf.Default) {
				return false
			}
		}
		return true
	}
	return false
}

// CloneType returns a deep copy of a descriptor type.
func CloneType(t Type) Type {
	switch tt := t.(type) {
	case *Primitive:
		c := *tt
		return &c
	case *Enum:
		c := Enum{Name: tt.Name, Variants: append([]string(nil), tt.Variants...)}
		return &c
	case *List:
		return &List{Elem: CloneType(tt.Elem)}
	case *Map:
		return &Map{Key: CloneType(tt.Key), Value: CloneType(tt.Value)}
	case *Tuple:
		elems := make([]Type, len(tt.Elems))
		for i, e := range tt.Elems {
			elems[i] = CloneType(e)
		}
		return &Tuple{Elems: elems}
	case *Option:
		return &Option{Elem: CloneType(tt.Elem)}
	case *Blob:
		c := *tt
		return &c
	case *Struct:
		return tt.Clone()
	}
	panic(fmt.Sprintf("schema: unhandled type %T", t))
}

// Clone returns a deep copy of the struct descriptor. The rewrite-rule
// table is shared: rules are immutable once registered.
func (t *Struct) Clone() *Struct {
	fields := make([]Field, len(t.Fields))
	for i, f := range t.Fields {
		fields[i] = Field{
			Name:       f.Name,
			Type:       CloneType(f.Type),
			Default:    f.Default.Clone(),
			HasDefault: f.HasDefault,
		}
	}
	return &Struct{Name: t.Name, Fields: fields, Version: t.Version, UpgradeRules: t.UpgradeRules}
}
