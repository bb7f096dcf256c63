package serde

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/vk/hyperstate/pkg/node"
	"github.com/vk/hyperstate/pkg/schedule"
	"github.com/vk/hyperstate/pkg/schema"
)

// ApplyOverrides applies path=value assignments to a record node before
// typed decoding, resolving each path against the descriptor and creating
// intermediate records where a parent block was omitted. Overrides are
// order-sensitive: later assignments to the same path win.
//
// The input node is not modified. Any failure aborts the whole set, so a
// load never sees a partially overridden tree.
func ApplyOverrides(n *node.Node, desc *schema.Struct, overrides []string) (*node.Node, error) {
	if len(overrides) == 0 {
		return n, nil
	}
	out := n.Clone()
	for _, raw := range overrides {
		if err := applyOverride(out, desc, raw); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func applyOverride(n *node.Node, desc *schema.Struct, raw string) error {
	pathStr, lit, ok := strings.Cut(raw, "=")
	if !ok {
		return &OverrideError{Override: raw, Msg: "expected path=value"}
	}
	path, err := node.ParsePath(strings.TrimSpace(pathStr))
	if err != nil {
		return &OverrideError{Override: raw, Msg: "malformed path", Err: err}
	}
	field, ok := desc.FindField(path)
	if !ok {
		return &OverrideError{Override: raw, Msg: fmt.Sprintf("%s has no field %s", desc.Name, path)}
	}
	v, err := parseOverrideValue(strings.TrimSpace(lit), field.Type)
	if err != nil {
		return &OverrideError{Override: raw, Msg: "malformed value", Err: err}
	}
	if err := n.Insert(path, v); err != nil {
		return &OverrideError{Override: raw, Msg: "cannot set value", Err: err}
	}
	return nil
}

// parseOverrideValue interprets the literal under the field's type.
// Strings and enum variants are taken verbatim, so no shell-hostile
// quoting is needed; everything else uses the record literal grammar.
func parseOverrideValue(lit string, t schema.Type) (*node.Node, error) {
	if o, ok := t.(*schema.Option); ok {
		if lit == "null" || lit == "none" {
			return node.Absent(), nil
		}
		t = o.Elem
	}

	switch t := t.(type) {
	case *schema.Primitive:
		switch t.Name {
		case "string":
			return node.String(lit), nil
		case "bool":
			b, err := strconv.ParseBool(lit)
			if err != nil {
				return nil, fmt.Errorf("not a bool: %q", lit)
			}
			return node.Bool(b), nil
		case "float":
			// A float field accepts a schedule string in place of a value.
			if strings.Contains(lit, "@") {
				if _, err := schedule.Parse(lit); err != nil {
					return nil, err
				}
				return node.String(lit), nil
			}
		}
	case *schema.Enum:
		if !t.HasVariant(lit) {
			return nil, fmt.Errorf("%q is not a variant of %s", lit, t.Name)
		}
		return node.String(lit), nil
	case *schema.Blob:
		return nil, fmt.Errorf("blob fields cannot be overridden")
	}
	return node.ParseLiteral(lit)
}
