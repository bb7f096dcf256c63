package node

import (
	"fmt"

	"github.com/zclconf/go-cty/cty"
)

// FromCty converts an evaluated cty value into a node. Numbers collapse to
// an int node when they are integral, so "2" and "2.0" read identically;
// the codec widens ints into float fields on demand.
func FromCty(v cty.Value) (*Node, error) {
	if v.IsNull() {
		return Absent(), nil
	}
	if !v.IsKnown() {
		return nil, fmt.Errorf("cannot convert unknown value")
	}
	ty := v.Type()
	switch {
	case ty == cty.Bool:
		return Bool(v.True()), nil
	case ty == cty.Number:
		bf := v.AsBigFloat()
		if bf.IsInt() {
			if i, acc := bf.Int64(); acc == 0 {
				return Int(i), nil
			}
		}
		f, _ := bf.Float64()
		return Float(f), nil
	case ty == cty.String:
		return String(v.AsString()), nil
	case ty.IsTupleType() || ty.IsListType() || ty.IsSetType():
		var items []*Node
		for it := v.ElementIterator(); it.Next(); {
			_, ev := it.Element()
			item, err := FromCty(ev)
			if err != nil {
				return nil, err
			}
			items = append(items, item)
		}
		return Seq(items...), nil
	case ty.IsObjectType() || ty.IsMapType():
		var fields []Field
		for it := v.ElementIterator(); it.Next(); {
			kv, ev := it.Element()
			value, err := FromCty(ev)
			if err != nil {
				return nil, err
			}
			fields = append(fields, Field{Name: kv.AsString(), Value: value})
		}
		return Record(fields...), nil
	}
	return nil, fmt.Errorf("cannot convert value of type %s", ty.FriendlyName())
}

// ToCty converts a node into a cty value for printing. Records become
// object values and sequences become tuple values, which lets sequences
// mix element types the same way the node model does.
func ToCty(n *Node) cty.Value {
	switch n.Kind() {
	case KindAbsent:
		return cty.NullVal(cty.DynamicPseudoType)
	case KindBool:
		return cty.BoolVal(n.AsBool())
	case KindInt:
		return cty.NumberIntVal(n.AsInt())
	case KindFloat:
		return cty.NumberFloatVal(n.AsFloat())
	case KindString:
		return cty.StringVal(n.AsString())
	case KindSeq:
		items := n.Items()
		if len(items) == 0 {
			return cty.EmptyTupleVal
		}
		vals := make([]cty.Value, len(items))
		for i, it := range items {
			vals[i] = ToCty(it)
		}
		return cty.TupleVal(vals)
	case KindRecord:
		fields := n.Fields()
		if len(fields) == 0 {
			return cty.EmptyObjectVal
		}
		vals := make(map[string]cty.Value, len(fields))
		for _, f := range fields {
			vals[f.Name] = ToCty(f.Value)
		}
		return cty.ObjectVal(vals)
	}
	panic(fmt.Sprintf("node: unhandled kind %s", n.Kind()))
}
