package node

import (
	"fmt"
	"regexp"
	"strings"
)

// Path addresses a field in nested records, e.g. ["optimizer", "lr"] for
// the dotted path "optimizer.lr". The same grammar is shared by overrides
// and rewrite rules.
type Path []string

// segmentRegex validates a single path segment: an identifier as it may
// appear as a record field name.
var segmentRegex = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ParsePath parses a dotted field path into its segments.
func ParsePath(raw string) (Path, error) {
	if raw == "" {
		return nil, fmt.Errorf("field path cannot be empty")
	}

	var path Path
	for _, seg := range strings.Split(raw, ".") {
		if seg == "" {
			return nil, fmt.Errorf("field path %q contains empty segment", raw)
		}
		if !segmentRegex.MatchString(seg) {
			return nil, fmt.Errorf("invalid path segment %q in %q", seg, raw)
		}
		path = append(path, seg)
	}
	return path, nil
}

// MustPath is ParsePath for statically known paths, typically rewrite-rule
// tables. Panics on malformed input.
func MustPath(raw string) Path {
	p, err := ParsePath(raw)
	if err != nil {
		panic(err)
	}
	return p
}

// String renders the dotted form of the path.
func (p Path) String() string { return strings.Join(p, ".") }

// Equal reports whether two paths address the same field.
func (p Path) Equal(other Path) bool {
	if len(p) != len(other) {
		return false
	}
	for i := range p {
		if p[i] != other[i] {
			return false
		}
	}
	return true
}

// Child returns the path extended by one segment.
func (p Path) Child(seg string) Path {
	out := make(Path, len(p)+1)
	copy(out, p)
	out[len(p)] = seg
	return out
}

// Leaf returns the final segment, or "" for the empty path.
func (p Path) Leaf() string {
	if len(p) == 0 {
		return ""
	}
	return p[len(p)-1]
}
