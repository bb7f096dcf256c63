package schema

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/vk/hyperstate/pkg/node"
)

// FieldMatch is one result of a field search: the field's dotted path, the
// field itself, and how closely its name resembles the query.
type FieldMatch struct {
	Path       node.Path
	Field      *Field
	Similarity float64
}

// FindFields walks the struct descriptor and ranks every field, at any
// nesting depth, by name similarity to the query, best first. The ranking
// uses the same similarity measure the checker uses for rename candidates.
func FindFields(s *Struct, query string) []FieldMatch {
	var out []FieldMatch
	collectFields(s, query, nil, &out)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	return out
}

func collectFields(s *Struct, query string, prefix node.Path, out *[]FieldMatch) {
	for i := range s.Fields {
		f := &s.Fields[i]
		p := append(append(node.Path{}, prefix...), f.Name)
		*out = append(*out, FieldMatch{Path: p, Field: f, Similarity: nameSimilarity(f.Name, query)})
		if nested, ok := unwrapOption(f.Type).(*Struct); ok {
			collectFields(nested, query, p, out)
		}
	}
}

// WriteSchema prints the field tree of a struct descriptor, one field per
// line with type and default, nested blocks indented.
func WriteSchema(w io.Writer, s *Struct) {
	writeStructFields(w, s, 0)
}

func writeStructFields(w io.Writer, s *Struct, depth int) {
	indent := strings.Repeat("  ", depth)
	for i := range s.Fields {
		f := &s.Fields[i]
		if nested, ok := unwrapOption(f.Type).(*Struct); ok {
			fmt.Fprintf(w, "%s%s: %s\n", indent, f.Name, f.Type)
			writeStructFields(w, nested, depth+1)
			continue
		}
		fmt.Fprintf(w, "%s%s\n", indent, FieldLine(f))
	}
}

// FieldLine renders one field as "name: type" plus its default when it has
// one.
func FieldLine(f *Field) string {
	line := fmt.Sprintf("%s: %s", f.Name, f.Type)
	if f.HasDefault && f.Default != nil && f.Default.Kind() != node.KindAbsent {
		line += " = " + f.Default.String()
	}
	return line
}
