package schema

import (
	"fmt"

	"github.com/vk/hyperstate/pkg/node"
)

// SaveSnapshot writes the descriptor to a schema file, so a later build of
// the program can diff its live types against what was deployed.
// Rewrite rules are not part of the snapshot: they live in code.
func SaveSnapshot(path string, s *Struct) error {
	return node.WriteFile(path, SnapshotNode(s))
}

// SnapshotNode renders the descriptor as a value tree without touching
// disk, for callers that print schemas instead of storing them.
func SnapshotNode(s *Struct) *node.Node {
	return structToNode(s)
}

// LoadSnapshot reads a schema file written by SaveSnapshot.
func LoadSnapshot(path string) (*Struct, error) {
	n, err := node.ParseFile(path)
	if err != nil {
		return nil, fmt.Errorf("loading schema snapshot: %w", err)
	}
	t, err := nodeToType(n)
	if err != nil {
		return nil, err
	}
	s, ok := t.(*Struct)
	if !ok {
		return nil, &Error{Type: path, Msg: "schema snapshot does not describe a struct"}
	}
	return s, nil
}

// typeToNode renders a descriptor as a value tree. Primitives collapse to
// their bare name; every other type is a record tagged with a kind field.
func typeToNode(t Type) *node.Node {
	switch t := t.(type) {
	case *Primitive:
		return node.String(t.Name)
	case *Enum:
		variants := make([]*node.Node, len(t.Variants))
		for i, v := range t.Variants {
			variants[i] = node.String(v)
		}
		return node.Record(
			node.Field{Name: "kind", Value: node.String("enum")},
			node.Field{Name: "name", Value: node.String(t.Name)},
			node.Field{Name: "variants", Value: node.Seq(variants...)},
		)
	case *List:
		return node.Record(
			node.Field{Name: "kind", Value: node.String("list")},
			node.Field{Name: "elem", Value: typeToNode(t.Elem)},
		)
	case *Map:
		return node.Record(
			node.Field{Name: "kind", Value: node.String("map")},
			node.Field{Name: "key", Value: typeToNode(t.Key)},
			node.Field{Name: "value", Value: typeToNode(t.Value)},
		)
	case *Tuple:
		elems := make([]*node.Node, len(t.Elems))
		for i, e := range t.Elems {
			elems[i] = typeToNode(e)
		}
		return node.Record(
			node.Field{Name: "kind", Value: node.String("tuple")},
			node.Field{Name: "elems", Value: node.Seq(elems...)},
		)
	case *Option:
		return node.Record(
			node.Field{Name: "kind", Value: node.String("option")},
			node.Field{Name: "elem", Value: typeToNode(t.Elem)},
		)
	case *Blob:
		return node.Record(
			node.Field{Name: "kind", Value: node.String("blob")},
			node.Field{Name: "name", Value: node.String(t.Name)},
		)
	case *Struct:
		return structToNode(t)
	}
	panic(fmt.Sprintf("unhandled descriptor type %T", t))
}

func structToNode(s *Struct) *node.Node {
	fields := make([]*node.Node, len(s.Fields))
	for i, f := range s.Fields {
		fields[i] = fieldToNode(f)
	}
	return node.Record(
		node.Field{Name: "kind", Value: node.String("struct")},
		node.Field{Name: "name", Value: node.String(s.Name)},
		node.Field{Name: "version", Value: node.Int(int64(s.Version))},
		node.Field{Name: "fields", Value: node.Seq(fields...)},
	)
}

// fieldToNode encodes one struct field. An absent default (valid for
// Option fields) would be elided by the text form, so its presence is
// tracked by a separate marker.
func fieldToNode(f Field) *node.Node {
	r := node.Record(
		node.Field{Name: "name", Value: node.String(f.Name)},
		node.Field{Name: "type", Value: typeToNode(f.Type)},
	)
	if f.HasDefault {
		r.Set("has_default", node.Bool(true))
		if f.Default.Kind() != node.KindAbsent {
			r.Set("default", f.Default.Clone())
		}
	}
	return r
}

func nodeToType(n *node.Node) (Type, error) {
	if n.Kind() == node.KindString {
		name := n.AsString()
		switch name {
		case "bool", "int", "float", "string":
			return &Primitive{Name: name}, nil
		}
		return nil, &Error{Type: name, Msg: "unknown primitive in schema snapshot"}
	}
	if n.Kind() != node.KindRecord {
		return nil, &Error{Type: n.Kind().String(), Msg: "schema snapshot type must be a string or record"}
	}

	kind, err := snapshotString(n, "kind")
	if err != nil {
		return nil, err
	}
	switch kind {
	case "enum":
		name, err := snapshotString(n, "name")
		if err != nil {
			return nil, err
		}
		raw, ok := n.Get("variants")
		if !ok || raw.Kind() != node.KindSeq {
			return nil, &Error{Type: name, Msg: "enum snapshot missing variants"}
		}
		e := &Enum{Name: name}
		for _, v := range raw.Items() {
			if v.Kind() != node.KindString {
				return nil, &Error{Type: name, Msg: "enum variants must be strings"}
			}
			e.Variants = append(e.Variants, v.AsString())
		}
		return e, nil
	case "list":
		elem, err := snapshotElem(n, "elem")
		if err != nil {
			return nil, err
		}
		return &List{Elem: elem}, nil
	case "map":
		key, err := snapshotElem(n, "key")
		if err != nil {
			return nil, err
		}
		value, err := snapshotElem(n, "value")
		if err != nil {
			return nil, err
		}
		return &Map{Key: key, Value: value}, nil
	case "tuple":
		raw, ok := n.Get("elems")
		if !ok || raw.Kind() != node.KindSeq {
			return nil, &Error{Type: "tuple", Msg: "tuple snapshot missing elems"}
		}
		t := &Tuple{}
		for _, e := range raw.Items() {
			elem, err := nodeToType(e)
			if err != nil {
				return nil, err
			}
			t.Elems = append(t.Elems, elem)
		}
		return t, nil
	case "option":
		elem, err := snapshotElem(n, "elem")
		if err != nil {
			return nil, err
		}
		return &Option{Elem: elem}, nil
	case "blob":
		name, err := snapshotString(n, "name")
		if err != nil {
			return nil, err
		}
		return &Blob{Name: name}, nil
	case "struct":
		return nodeToStruct(n)
	}
	return nil, &Error{Type: kind, Msg: "unknown kind in schema snapshot"}
}

func nodeToStruct(n *node.Node) (*Struct, error) {
	name, err := snapshotString(n, "name")
	if err != nil {
		return nil, err
	}
	s := &Struct{Name: name}
	if v, ok := n.Get("version"); ok {
		if v.Kind() != node.KindInt {
			return nil, &Error{Type: name, Msg: "struct version must be an integer"}
		}
		s.Version = int(v.AsInt())
	}
	raw, ok := n.Get("fields")
	if !ok || raw.Kind() != node.KindSeq {
		return nil, &Error{Type: name, Msg: "struct snapshot missing fields"}
	}
	for _, fn := range raw.Items() {
		if fn.Kind() != node.KindRecord {
			return nil, &Error{Type: name, Msg: "struct field snapshot must be a record"}
		}
		fname, err := snapshotString(fn, "name")
		if err != nil {
			return nil, err
		}
		tn, ok := fn.Get("type")
		if !ok {
			return nil, &Error{Type: name, Msg: fmt.Sprintf("field %q missing type", fname)}
		}
		ft, err := nodeToType(tn)
		if err != nil {
			return nil, err
		}
		field := Field{Name: fname, Type: ft}
		if hd, ok := fn.Get("has_default"); ok && hd.Kind() == node.KindBool && hd.AsBool() {
			field.HasDefault = true
			if def, ok := fn.Get("default"); ok {
				field.Default = def.Clone()
			} else {
				field.Default = node.Absent()
			}
		}
		s.Fields = append(s.Fields, field)
	}
	return s, nil
}

func snapshotString(n *node.Node, field string) (string, error) {
	v, ok := n.Get(field)
	if !ok || v.Kind() != node.KindString {
		return "", &Error{Type: "snapshot", Msg: fmt.Sprintf("missing or non-string %q field", field)}
	}
	return v.AsString(), nil
}

func snapshotElem(n *node.Node, field string) (Type, error) {
	v, ok := n.Get(field)
	if !ok {
		return nil, &Error{Type: "snapshot", Msg: fmt.Sprintf("missing %q field", field)}
	}
	return nodeToType(v)
}
