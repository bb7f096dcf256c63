package node

import (
	"fmt"
	"os"
	"sort"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/hashicorp/hcl/v2/hclwrite"
)

// Parse reads a record file body into a record node. Attributes become leaf
// or collection fields, nested blocks become nested records, and source
// order is preserved so rewritten files keep their shape.
func Parse(src []byte, filename string) (*Node, error) {
	file, diags := hclsyntax.ParseConfig(src, filename, hcl.InitialPos)
	if diags.HasErrors() {
		return nil, fmt.Errorf("parse %s: %w", filename, diags)
	}
	body, ok := file.Body.(*hclsyntax.Body)
	if !ok {
		return nil, fmt.Errorf("parse %s: unexpected body type %T", filename, file.Body)
	}
	return bodyToRecord(body)
}

// ParseFile reads and parses a record file from disk.
func ParseFile(path string) (*Node, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(src, path)
}

// bodyEntry pairs a record field with its source position, so attributes
// and blocks can be merged back into declaration order.
type bodyEntry struct {
	field Field
	pos   int
}

func bodyToRecord(body *hclsyntax.Body) (*Node, error) {
	var entries []bodyEntry

	for name, attr := range body.Attributes {
		val, diags := attr.Expr.Value(nil)
		if diags.HasErrors() {
			return nil, fmt.Errorf("attribute %q: %w", name, diags)
		}
		n, err := FromCty(val)
		if err != nil {
			return nil, fmt.Errorf("attribute %q: %w", name, err)
		}
		entries = append(entries, bodyEntry{
			field: Field{Name: name, Value: n},
			pos:   attr.SrcRange.Start.Byte,
		})
	}

	for _, block := range body.Blocks {
		if len(block.Labels) > 0 {
			return nil, fmt.Errorf("block %q: labels are not part of the record grammar", block.Type)
		}
		n, err := bodyToRecord(block.Body)
		if err != nil {
			return nil, fmt.Errorf("block %q: %w", block.Type, err)
		}
		entries = append(entries, bodyEntry{
			field: Field{Name: block.Type, Value: n},
			pos:   block.TypeRange.Start.Byte,
		})
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].pos < entries[j].pos })

	fields := make([]Field, len(entries))
	for i, e := range entries {
		fields[i] = e.field
	}
	return Record(fields...), nil
}

// Print renders a record node as a formatted record file. Nested records
// print as blocks; absent fields are omitted entirely.
func Print(n *Node) ([]byte, error) {
	if n.Kind() != KindRecord {
		return nil, fmt.Errorf("top-level node must be a record, got %s", n.Kind())
	}
	file := hclwrite.NewEmptyFile()
	writeRecord(file.Body(), n)
	return hclwrite.Format(file.Bytes()), nil
}

// WriteFile prints the record node to the named file.
func WriteFile(path string, n *Node) error {
	data, err := Print(n)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func writeRecord(body *hclwrite.Body, n *Node) {
	for _, f := range n.Fields() {
		if f.Value.IsAbsent() {
			continue
		}
		if f.Value.Kind() == KindRecord {
			block := body.AppendNewBlock(f.Name, nil)
			writeRecord(block.Body(), f.Value)
			continue
		}
		body.SetAttributeValue(f.Name, ToCty(f.Value))
	}
}

// ParseLiteral parses a single value literal, the grammar used for override
// values and field defaults: numbers, bools, quoted strings, null, and
// bracketed sequences or object literals.
func ParseLiteral(raw string) (*Node, error) {
	expr, diags := hclsyntax.ParseExpression([]byte(raw), "<literal>", hcl.InitialPos)
	if diags.HasErrors() {
		return nil, fmt.Errorf("malformed literal %q: %w", raw, diags)
	}
	val, diags := expr.Value(nil)
	if diags.HasErrors() {
		return nil, fmt.Errorf("malformed literal %q: %w", raw, diags)
	}
	return FromCty(val)
}
