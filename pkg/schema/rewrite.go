package schema

import (
	"fmt"

	"github.com/vk/hyperstate/pkg/node"
)

// RewriteRule is a pure transformation on a record node, used to upgrade
// data from one version to the next. The set of rule kinds is closed so
// the upgrade engine and the checker can match them exhaustively; rule
// tables stay auditable because every kind is declarative.
type RewriteRule interface {
	// Apply transforms the record node in place. Applying a rule is total:
	// paths that are already gone or already present are not errors.
	Apply(n *node.Node) error
	// applyToSchema replays the rule onto a struct descriptor, so an old
	// snapshot can be brought forward before diffing.
	applyToSchema(s *Struct)
	fmt.Stringer
}

// RenameField moves a value from one qualified path to another.
type RenameField struct {
	Old node.Path
	New node.Path
}

func (r RenameField) Apply(n *node.Node) error {
	v, ok := n.Remove(r.Old)
	if !ok {
		return nil
	}
	return n.Insert(r.New, v)
}

func (r RenameField) applyToSchema(s *Struct) {
	f, ok := removeSchemaField(s, r.Old)
	if !ok {
		return
	}
	f.Name = r.New.Leaf()
	insertSchemaField(s, r.New, f)
}

func (r RenameField) String() string {
	return fmt.Sprintf("RenameField(%q, %q)", r.Old, r.New)
}

// AddField inserts a default value at a path when the record has none.
type AddField struct {
	Path    node.Path
	Default *node.Node
}

func (r AddField) Apply(n *node.Node) error {
	if _, ok := n.Lookup(r.Path); ok {
		return nil
	}
	return n.Insert(r.Path, r.Default.Clone())
}

func (r AddField) applyToSchema(s *Struct) {
	f, ok := removeSchemaField(s, r.Path)
	if !ok {
		f = Field{Name: r.Path.Leaf(), Type: inferType(r.Default)}
	}
	f.Default = r.Default.Clone()
	f.HasDefault = true
	insertSchemaField(s, r.Path, f)
}

func (r AddField) String() string {
	return fmt.Sprintf("AddField(%q, %s)", r.Path, r.Default)
}

// RemoveField deletes a path from the record if present.
type RemoveField struct {
	Path node.Path
}

func (r RemoveField) Apply(n *node.Node) error {
	n.Remove(r.Path)
	return nil
}

func (r RemoveField) applyToSchema(s *Struct) {
	removeSchemaField(s, r.Path)
}

func (r RemoveField) String() string {
	return fmt.Sprintf("RemoveField(%q)", r.Path)
}

// ChangeDefault records that the declared default of a field changed.
// Records that omitted the field materialize the new default.
type ChangeDefault struct {
	Path  node.Path
	Value *node.Node
}

func (r ChangeDefault) Apply(n *node.Node) error {
	if _, ok := n.Lookup(r.Path); ok {
		return nil
	}
	return n.Insert(r.Path, r.Value.Clone())
}

func (r ChangeDefault) applyToSchema(s *Struct) {
	f, ok := removeSchemaField(s, r.Path)
	if !ok {
		return
	}
	f.Default = r.Value.Clone()
	f.HasDefault = true
	insertSchemaField(s, r.Path, f)
}

func (r ChangeDefault) String() string {
	return fmt.Sprintf("ChangeDefault(%q, %s)", r.Path, r.Value)
}

// MapOp is the closed set of value mappings available to MapField.
// Arbitrary functions are not allowed: rules must be serializable and
// auditable, so only named, total mappings are supported.
type MapOp int

const (
	// OpIntToFloat widens an integer value to a float.
	OpIntToFloat MapOp = iota + 1
	// OpWrapInList replaces a scalar with a one-element sequence.
	OpWrapInList
)

func (op MapOp) String() string {
	switch op {
	case OpIntToFloat:
		return "IntToFloat"
	case OpWrapInList:
		return "WrapInList"
	}
	return fmt.Sprintf("MapOp(%d)", int(op))
}

// MapField applies a named value mapping to the value at a path.
type MapField struct {
	Path node.Path
	Op   MapOp
}

func (r MapField) Apply(n *node.Node) error {
	v, ok := n.Remove(r.Path)
	if !ok {
		return nil
	}
	switch r.Op {
	case OpIntToFloat:
		if v.Kind() == node.KindInt {
			v = node.Float(float64(v.AsInt()))
		}
	case OpWrapInList:
		v = node.Seq(v)
	default:
		return fmt.Errorf("unknown map op %s for field %q", r.Op, r.Path)
	}
	return n.Insert(r.Path, v)
}

func (r MapField) applyToSchema(s *Struct) {
	f, ok := removeSchemaField(s, r.Path)
	if !ok {
		return
	}
	switch r.Op {
	case OpIntToFloat:
		f.Type = &Primitive{Name: "float"}
	case OpWrapInList:
		f.Type = &List{Elem: f.Type}
	}
	insertSchemaField(s, r.Path, f)
}

func (r MapField) String() string {
	return fmt.Sprintf("MapField(%q, %s)", r.Path, r.Op)
}

// removeSchemaField deletes the field addressed by path from nested struct
// descriptors and returns it.
func removeSchemaField(s *Struct, path node.Path) (Field, bool) {
	cur := s
	for _, seg := range path[:len(path)-1] {
		f, ok := cur.FieldByName(seg)
		if !ok {
			return Field{}, false
		}
		inner, ok := unwrapOption(f.Type).(*Struct)
		if !ok {
			return Field{}, false
		}
		cur = inner
	}
	leaf := path.Leaf()
	for i := range cur.Fields {
		if cur.Fields[i].Name == leaf {
			f := cur.Fields[i]
			cur.Fields = append(cur.Fields[:i], cur.Fields[i+1:]...)
			return f, true
		}
	}
	return Field{}, false
}

// insertSchemaField places the field at the addressed position, creating
// empty intermediate structs for unknown parents.
func insertSchemaField(s *Struct, path node.Path, field Field) {
	cur := s
	for _, seg := range path[:len(path)-1] {
		f, ok := cur.FieldByName(seg)
		if !ok {
			nested := &Struct{Name: ""}
			cur.Fields = append(cur.Fields, Field{Name: seg, Type: nested})
			cur = nested
			continue
		}
		inner, ok := unwrapOption(f.Type).(*Struct)
		if !ok {
			return
		}
		cur = inner
	}
	leaf := path.Leaf()
	for i := range cur.Fields {
		if cur.Fields[i].Name == leaf {
			cur.Fields[i] = field
			return
		}
	}
	cur.Fields = append(cur.Fields, field)
}

// inferType derives a descriptor type from a default value node, used when
// a replayed AddField introduces a field the old snapshot never had.
func inferType(n *node.Node) Type {
	switch n.Kind() {
	case node.KindBool:
		return &Primitive{Name: "bool"}
	case node.KindInt:
		return &Primitive{Name: "int"}
	case node.KindFloat:
		return &Primitive{Name: "float"}
	case node.KindString:
		return &Primitive{Name: "string"}
	case node.KindSeq:
		items := n.Items()
		if len(items) == 0 {
			return &List{Elem: &Primitive{Name: "string"}}
		}
		return &List{Elem: inferType(items[0])}
	case node.KindRecord:
		s := &Struct{Name: ""}
		for _, f := range n.Fields() {
			s.Fields = append(s.Fields, Field{Name: f.Name, Type: inferType(f.Value)})
		}
		return s
	}
	return &Option{Elem: &Primitive{Name: "string"}}
}
