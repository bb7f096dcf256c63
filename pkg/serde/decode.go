package serde

import (
	"fmt"
	"reflect"

	"github.com/vk/hyperstate/pkg/lazy"
	"github.com/vk/hyperstate/pkg/node"
	"github.com/vk/hyperstate/pkg/schedule"
	"github.com/vk/hyperstate/pkg/schema"
)

// DecodeOptions tunes how Decode maps a value tree onto a record struct.
type DecodeOptions struct {
	// DisallowExtraFields turns node fields the descriptor does not know
	// into decode errors. By default they are collected, not fatal: data
	// written by a newer schema stays loadable.
	DisallowExtraFields bool
	// BlobDir and BlobStem locate the backing files of blob fields.
	BlobDir  string
	BlobStem string
	// ScheduleKey is the current value of the key variable that schedule
	// strings are evaluated against.
	ScheduleKey float64
}

// Decoded reports the side products of a decode.
type Decoded struct {
	// Schedules maps field paths to the schedules found in them.
	Schedules map[string]*schedule.Schedule
	// Blobs are the unresolved handles created for blob fields.
	Blobs []lazy.Handle
	// Extra lists node fields the descriptor does not know about.
	Extra []node.Path
}

// Decode populates a record struct from a value tree, directed by its
// descriptor. The node must already be at the descriptor's version;
// Decode never performs upgrades.
func Decode(n *node.Node, desc *schema.Struct, out any, opts DecodeOptions) (*Decoded, error) {
	rv := reflect.ValueOf(out)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return nil, fmt.Errorf("decode: out must be a non-nil pointer, got %T", out)
	}
	rv = rv.Elem()
	if rv.Kind() != reflect.Struct {
		return nil, fmt.Errorf("decode: out must point at a struct, got %T", out)
	}
	d := &decoder{
		opts:   opts,
		result: &Decoded{Schedules: map[string]*schedule.Schedule{}},
	}
	if err := d.decodeStruct(n, desc, rv, nil); err != nil {
		return nil, err
	}
	return d.result, nil
}

type decoder struct {
	opts   DecodeOptions
	result *Decoded
}

func (d *decoder) decodeStruct(n *node.Node, desc *schema.Struct, rv reflect.Value, path node.Path) error {
	if n.Kind() != node.KindRecord {
		return &DecodeError{Path: path, Msg: fmt.Sprintf("expected record, got %s", n.Kind())}
	}
	recorded, err := schema.RecordedVersion(n)
	if err != nil {
		return &DecodeError{Path: path, Msg: err.Error()}
	}
	if recorded != desc.Version {
		return &DecodeError{
			Path: path,
			Msg:  fmt.Sprintf("record at version %d but %s is at version %d; upgrade before decoding", recorded, desc.Name, desc.Version),
		}
	}

	known := map[string]bool{"version": true}
	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		name, ok := schema.GoFieldName(rt.Field(i))
		if !ok {
			continue
		}
		field, ok := desc.FieldByName(name)
		if !ok {
			return &DecodeError{Path: path.Child(name), Msg: fmt.Sprintf("descriptor %s has no field %q", desc.Name, name)}
		}
		known[name] = true

		if err := d.decodeField(n, field, rv.Field(i), path.Child(name)); err != nil {
			return err
		}
	}

	for _, f := range n.Fields() {
		if known[f.Name] {
			continue
		}
		if d.opts.DisallowExtraFields {
			return &DecodeError{Path: path.Child(f.Name), Msg: "unknown field"}
		}
		d.result.Extra = append(d.result.Extra, path.Child(f.Name))
	}
	return nil
}

func (d *decoder) decodeField(parent *node.Node, field *schema.Field, rv reflect.Value, path node.Path) error {
	child, ok := parent.Get(field.Name)
	if ok && !child.IsAbsent() {
		return d.decodeValue(child, field.Type, rv, path)
	}

	switch {
	case field.HasDefault:
		if field.Default.IsAbsent() {
			rv.Set(reflect.Zero(rv.Type()))
			return nil
		}
		return d.decodeValue(field.Default, field.Type, rv, path)
	case isOption(field.Type):
		rv.Set(reflect.Zero(rv.Type()))
		return nil
	}
	// A nested struct whose fields all carry defaults can be built out of
	// thin air, so omitting the whole block stays legal.
	if s, ok := field.Type.(*schema.Struct); ok && s.AllFieldsDefaulted() {
		return d.decodeStruct(node.Record(), s, rv, path)
	}
	return &DecodeError{Path: path, Msg: "missing required field with no default"}
}

func (d *decoder) decodeValue(n *node.Node, t schema.Type, rv reflect.Value, path node.Path) error {
	switch t := t.(type) {
	case *schema.Primitive:
		return d.decodePrimitive(n, t, rv, path)

	case *schema.Enum:
		if n.Kind() != node.KindString {
			return &DecodeError{Path: path, Msg: fmt.Sprintf("expected %s variant, got %s", t.Name, n.Kind())}
		}
		v := n.AsString()
		if !t.HasVariant(v) {
			return &DecodeError{Path: path, Msg: fmt.Sprintf("%q is not a variant of %s", v, t.Name)}
		}
		rv.SetString(v)
		return nil

	case *schema.Option:
		if n.IsAbsent() {
			rv.Set(reflect.Zero(rv.Type()))
			return nil
		}
		elem := reflect.New(rv.Type().Elem())
		if err := d.decodeValue(n, t.Elem, elem.Elem(), path); err != nil {
			return err
		}
		rv.Set(elem)
		return nil

	case *schema.List:
		if n.Kind() != node.KindSeq {
			return &DecodeError{Path: path, Msg: fmt.Sprintf("expected sequence, got %s", n.Kind())}
		}
		items := n.Items()
		s := reflect.MakeSlice(rv.Type(), len(items), len(items))
		for i, item := range items {
			if err := d.decodeValue(item, t.Elem, s.Index(i), path); err != nil {
				return err
			}
		}
		rv.Set(s)
		return nil

	case *schema.Tuple:
		if n.Kind() != node.KindSeq {
			return &DecodeError{Path: path, Msg: fmt.Sprintf("expected sequence, got %s", n.Kind())}
		}
		items := n.Items()
		if len(items) != len(t.Elems) {
			return &DecodeError{Path: path, Msg: fmt.Sprintf("tuple wants %d elements, got %d", len(t.Elems), len(items))}
		}
		for i, item := range items {
			if err := d.decodeValue(item, t.Elems[i], rv.Index(i), path); err != nil {
				return err
			}
		}
		return nil

	case *schema.Map:
		if n.Kind() != node.KindRecord {
			return &DecodeError{Path: path, Msg: fmt.Sprintf("expected record, got %s", n.Kind())}
		}
		m := reflect.MakeMapWithSize(rv.Type(), len(n.Fields()))
		for _, f := range n.Fields() {
			ev := reflect.New(rv.Type().Elem()).Elem()
			if err := d.decodeValue(f.Value, t.Value, ev, path.Child(f.Name)); err != nil {
				return err
			}
			m.SetMapIndex(reflect.ValueOf(f.Name).Convert(rv.Type().Key()), ev)
		}
		rv.Set(m)
		return nil

	case *schema.Blob:
		if n.Kind() != node.KindString || n.AsString() != lazy.Marker {
			return &DecodeError{Path: path, Msg: fmt.Sprintf("expected blob marker %q", lazy.Marker)}
		}
		file := lazy.BackingFileName(d.opts.BlobStem, path.String())
		hv, err := lazy.NewDecodedHandle(rv.Type(), path.String(), d.opts.BlobDir, file)
		if err != nil {
			return &DecodeError{Path: path, Msg: err.Error()}
		}
		rv.Set(hv)
		d.result.Blobs = append(d.result.Blobs, hv.Interface().(lazy.Handle))
		return nil

	case *schema.Struct:
		return d.decodeStruct(n, t, rv, path)
	}
	return &DecodeError{Path: path, Msg: fmt.Sprintf("unhandled descriptor type %T", t)}
}

func (d *decoder) decodePrimitive(n *node.Node, t *schema.Primitive, rv reflect.Value, path node.Path) error {
	switch t.Name {
	case "bool":
		if n.Kind() != node.KindBool {
			return &DecodeError{Path: path, Msg: fmt.Sprintf("expected bool, got %s", n.Kind())}
		}
		rv.SetBool(n.AsBool())
	case "int":
		// Floats never narrow into int fields.
		if n.Kind() != node.KindInt {
			return &DecodeError{Path: path, Msg: fmt.Sprintf("expected int, got %s", n.Kind())}
		}
		if rv.CanUint() {
			rv.SetUint(uint64(n.AsInt()))
		} else {
			rv.SetInt(n.AsInt())
		}
	case "float":
		if n.Kind() == node.KindString {
			sch, err := schedule.Parse(n.AsString())
			if err != nil {
				return &DecodeError{Path: path, Msg: fmt.Sprintf("expected float or schedule: %v", err)}
			}
			d.result.Schedules[path.String()] = sch
			rv.SetFloat(sch.At(d.opts.ScheduleKey))
			return nil
		}
		if n.Kind() != node.KindInt && n.Kind() != node.KindFloat {
			return &DecodeError{Path: path, Msg: fmt.Sprintf("expected float, got %s", n.Kind())}
		}
		rv.SetFloat(n.AsFloat())
	case "string":
		if n.Kind() != node.KindString {
			return &DecodeError{Path: path, Msg: fmt.Sprintf("expected string, got %s", n.Kind())}
		}
		rv.SetString(n.AsString())
	default:
		return &DecodeError{Path: path, Msg: fmt.Sprintf("unknown primitive %q", t.Name)}
	}
	return nil
}

func isOption(t schema.Type) bool {
	_, ok := t.(*schema.Option)
	return ok
}
