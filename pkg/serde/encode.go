package serde

import (
	"fmt"
	"reflect"
	"sort"

	"github.com/vk/hyperstate/pkg/lazy"
	"github.com/vk/hyperstate/pkg/node"
	"github.com/vk/hyperstate/pkg/schedule"
	"github.com/vk/hyperstate/pkg/schema"
)

// EncodeOptions tunes the node produced by Encode.
type EncodeOptions struct {
	// ElideDefaults omits fields whose encoded value equals their declared
	// default, keeping rewritten record files minimal.
	ElideDefaults bool
	// Schedules maps field paths to schedules that are re-emitted as their
	// source text instead of the numeric value they last evaluated to.
	Schedules map[string]*schedule.Schedule
}

// Encoded is the result of encoding a record: the value tree plus the blob
// handles reached during the walk. Blob payloads are not inlined; writing
// their backing files is the checkpoint layer's job.
type Encoded struct {
	Node  *node.Node
	Blobs []lazy.Handle
}

// Encode renders a typed record struct as a value tree, directed by its
// descriptor. Fields appear in declaration order; a struct version greater
// than zero is emitted as an implicit leading version field.
func Encode(v any, desc *schema.Struct, opts EncodeOptions) (*Encoded, error) {
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil, fmt.Errorf("encode: nil %T", v)
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return nil, fmt.Errorf("encode: %T is not a record struct", v)
	}
	e := &encoder{opts: opts}
	n, err := e.encodeStruct(rv, desc, nil)
	if err != nil {
		return nil, err
	}
	return &Encoded{Node: n, Blobs: e.blobs}, nil
}

type encoder struct {
	opts  EncodeOptions
	blobs []lazy.Handle
}

func (e *encoder) encodeStruct(rv reflect.Value, desc *schema.Struct, path node.Path) (*node.Node, error) {
	out := node.Record()
	if desc.Version > 0 {
		out.Set("version", node.Int(int64(desc.Version)))
	}

	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		name, ok := schema.GoFieldName(rt.Field(i))
		if !ok {
			continue
		}
		field, ok := desc.FieldByName(name)
		if !ok {
			return nil, fmt.Errorf("encode: descriptor %s has no field %q", desc.Name, name)
		}
		fpath := path.Child(name)

		if sch, ok := e.opts.Schedules[fpath.String()]; ok {
			out.Set(name, node.String(sch.Source()))
			continue
		}

		fn, err := e.encodeValue(rv.Field(i), field.Type, fpath)
		if err != nil {
			return nil, err
		}
		if e.opts.ElideDefaults && field.HasDefault && field.Default.Equal(fn) {
			continue
		}
		out.Set(name, fn)
	}
	return out, nil
}

func (e *encoder) encodeValue(rv reflect.Value, t schema.Type, path node.Path) (*node.Node, error) {
	switch t := t.(type) {
	case *schema.Primitive:
		switch t.Name {
		case "bool":
			return node.Bool(rv.Bool()), nil
		case "int":
			if rv.CanUint() {
				return node.Int(int64(rv.Uint())), nil
			}
			return node.Int(rv.Int()), nil
		case "float":
			return node.Float(rv.Float()), nil
		case "string":
			return node.String(rv.String()), nil
		}
		return nil, fmt.Errorf("encode %s: unknown primitive %q", path, t.Name)

	case *schema.Enum:
		v := rv.String()
		if !t.HasVariant(v) {
			return nil, fmt.Errorf("encode %s: %q is not a variant of %s", path, v, t.Name)
		}
		return node.String(v), nil

	case *schema.Option:
		if rv.IsNil() {
			return node.Absent(), nil
		}
		return e.encodeValue(rv.Elem(), t.Elem, path)

	case *schema.List:
		items := make([]*node.Node, rv.Len())
		for i := range items {
			item, err := e.encodeValue(rv.Index(i), t.Elem, path)
			if err != nil {
				return nil, err
			}
			items[i] = item
		}
		return node.Seq(items...), nil

	case *schema.Tuple:
		if rv.Len() != len(t.Elems) {
			return nil, fmt.Errorf("encode %s: tuple wants %d elements, value has %d", path, len(t.Elems), rv.Len())
		}
		items := make([]*node.Node, rv.Len())
		for i := range items {
			item, err := e.encodeValue(rv.Index(i), t.Elems[i], path)
			if err != nil {
				return nil, err
			}
			items[i] = item
		}
		return node.Seq(items...), nil

	case *schema.Map:
		keys := make([]string, 0, rv.Len())
		for _, kv := range rv.MapKeys() {
			keys = append(keys, kv.String())
		}
		sort.Strings(keys)
		out := node.Record()
		for _, k := range keys {
			kv := reflect.ValueOf(k).Convert(rv.Type().Key())
			v, err := e.encodeValue(rv.MapIndex(kv), t.Value, path.Child(k))
			if err != nil {
				return nil, err
			}
			out.Set(k, v)
		}
		return out, nil

	case *schema.Blob:
		if rv.Kind() != reflect.Pointer || rv.IsNil() {
			return nil, fmt.Errorf("encode %s: blob handle is not set", path)
		}
		h, ok := rv.Interface().(lazy.Handle)
		if !ok {
			return nil, fmt.Errorf("encode %s: %s is not a blob handle", path, rv.Type())
		}
		h.BindPath(path.String())
		e.blobs = append(e.blobs, h)
		return node.String(lazy.Marker), nil

	case *schema.Struct:
		return e.encodeStruct(rv, t, path)
	}
	return nil, fmt.Errorf("encode %s: unhandled descriptor type %T", path, t)
}
