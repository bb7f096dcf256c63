package node

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind discriminates the variants of the value tree.
type Kind int

const (
	// KindAbsent marks a missing optional value. It is a real node so that
	// rewrite rules and overrides can address it like any other value.
	KindAbsent Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindSeq
	KindRecord
)

// String returns the lower-case name of the kind.
func (k Kind) String() string {
	switch k {
	case KindAbsent:
		return "absent"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindSeq:
		return "seq"
	case KindRecord:
		return "record"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Field is one named entry of a record node. Order is significant: records
// preserve the order fields were written in, so emitted files stay stable.
type Field struct {
	Name  string
	Value *Node
}

// Node is a tagged union over the kinds above. The zero value is the absent
// marker. Nodes are mutable; callers that need to keep an unmodified copy
// use Clone.
type Node struct {
	kind   Kind
	b      bool
	i      int64
	f      float64
	s      string
	items  []*Node
	fields []Field
}

// Absent returns the marker for a missing optional value.
func Absent() *Node { return &Node{kind: KindAbsent} }

// Bool returns a boolean leaf.
func Bool(v bool) *Node { return &Node{kind: KindBool, b: v} }

// Int returns an integer leaf.
func Int(v int64) *Node { return &Node{kind: KindInt, i: v} }

// Float returns a float leaf.
func Float(v float64) *Node { return &Node{kind: KindFloat, f: v} }

// String returns a string leaf.
func String(v string) *Node { return &Node{kind: KindString, s: v} }

// Seq returns a sequence node over the given items.
func Seq(items ...*Node) *Node { return &Node{kind: KindSeq, items: items} }

// Record returns a record node with the given fields, in order.
func Record(fields ...Field) *Node { return &Node{kind: KindRecord, fields: fields} }

// Kind reports the variant of the node.
func (n *Node) Kind() Kind { return n.kind }

// IsAbsent reports whether the node is the absent marker.
func (n *Node) IsAbsent() bool { return n == nil || n.kind == KindAbsent }

// AsBool returns the boolean payload. Panics on other kinds.
func (n *Node) AsBool() bool {
	n.mustBe(KindBool)
	return n.b
}

// AsInt returns the integer payload. Panics on other kinds.
func (n *Node) AsInt() int64 {
	n.mustBe(KindInt)
	return n.i
}

// AsFloat returns the numeric payload of an int or float node.
func (n *Node) AsFloat() float64 {
	if n.kind == KindInt {
		return float64(n.i)
	}
	n.mustBe(KindFloat)
	return n.f
}

// AsString returns the string payload. Panics on other kinds.
func (n *Node) AsString() string {
	n.mustBe(KindString)
	return n.s
}

// Items returns the elements of a sequence node.
func (n *Node) Items() []*Node {
	n.mustBe(KindSeq)
	return n.items
}

// Fields returns the ordered fields of a record node.
func (n *Node) Fields() []Field {
	n.mustBe(KindRecord)
	return n.fields
}

func (n *Node) mustBe(k Kind) {
	if n.kind != k {
		panic(fmt.Sprintf("node: %s accessed as %s", n.kind, k))
	}
}

// Get returns the value of the named field of a record node.
func (n *Node) Get(name string) (*Node, bool) {
	n.mustBe(KindRecord)
	for _, f := range n.fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return nil, false
}

// Set replaces the named field if present, or appends it.
func (n *Node) Set(name string, v *Node) {
	n.mustBe(KindRecord)
	for i, f := range n.fields {
		if f.Name == name {
			n.fields[i].Value = v
			return
		}
	}
	n.fields = append(n.fields, Field{Name: name, Value: v})
}

// SetFirst inserts the named field at the front of the record, replacing an
// existing entry. Used to keep the version field at the top of emitted files.
func (n *Node) SetFirst(name string, v *Node) {
	n.mustBe(KindRecord)
	n.Delete(name)
	n.fields = append([]Field{{Name: name, Value: v}}, n.fields...)
}

// Delete removes the named field and reports whether it was present.
func (n *Node) Delete(name string) bool {
	n.mustBe(KindRecord)
	for i, f := range n.fields {
		if f.Name == name {
			n.fields = append(n.fields[:i], n.fields[i+1:]...)
			return true
		}
	}
	return false
}

// Lookup resolves a dotted field path against nested records.
func (n *Node) Lookup(path Path) (*Node, bool) {
	cur := n
	for _, seg := range path {
		if cur == nil || cur.kind != KindRecord {
			return nil, false
		}
		next, ok := cur.Get(seg)
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

// Insert sets the value at the given path, creating intermediate records
// for any missing parent segment.
func (n *Node) Insert(path Path, v *Node) error {
	if len(path) == 0 {
		return fmt.Errorf("node: cannot insert at empty path")
	}
	cur := n
	for _, seg := range path[:len(path)-1] {
		if cur.kind != KindRecord {
			return fmt.Errorf("node: path %q traverses a %s node", path, cur.kind)
		}
		next, ok := cur.Get(seg)
		if !ok {
			next = Record()
			cur.Set(seg, next)
		}
		cur = next
	}
	if cur.kind != KindRecord {
		return fmt.Errorf("node: path %q traverses a %s node", path, cur.kind)
	}
	cur.Set(path[len(path)-1], v)
	return nil
}

// Remove deletes the value at the given path and returns it. The second
// result reports whether the path was present.
func (n *Node) Remove(path Path) (*Node, bool) {
	if len(path) == 0 {
		return nil, false
	}
	parent, ok := n.Lookup(path[:len(path)-1])
	if !ok || parent.kind != KindRecord {
		return nil, false
	}
	v, ok := parent.Get(path[len(path)-1])
	if !ok {
		return nil, false
	}
	parent.Delete(path[len(path)-1])
	return v, true
}

// Clone returns a deep copy of the node.
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	out := &Node{kind: n.kind, b: n.b, i: n.i, f: n.f, s: n.s}
	if n.items != nil {
		out.items = make([]*Node, len(n.items))
		for i, it := range n.items {
			out.items[i] = it.Clone()
		}
	}
	if n.fields != nil {
		out.fields = make([]Field, len(n.fields))
		for i, f := range n.fields {
			out.fields[i] = Field{Name: f.Name, Value: f.Value.Clone()}
		}
	}
	return out
}

// Equal reports deep structural equality, including record field order.
func (n *Node) Equal(other *Node) bool {
	if n == nil || other == nil {
		return n == other
	}
	if n.kind != other.kind {
		return false
	}
	switch n.kind {
	case KindAbsent:
		return true
	case KindBool:
		return n.b == other.b
	case KindInt:
		return n.i == other.i
	case KindFloat:
		return n.f == other.f
	case KindString:
		return n.s == other.s
	case KindSeq:
		if len(n.items) != len(other.items) {
			return false
		}
		for i := range n.items {
			if !n.items[i].Equal(other.items[i]) {
				return false
			}
		}
		return true
	case KindRecord:
		if len(n.fields) != len(other.fields) {
			return false
		}
		for i := range n.fields {
			if n.fields[i].Name != other.fields[i].Name {
				return false
			}
			if !n.fields[i].Value.Equal(other.fields[i].Value) {
				return false
			}
		}
		return true
	}
	return false
}

// String renders a compact single-line form, for diagnostics and tests.
func (n *Node) String() string {
	if n == nil {
		return "<nil>"
	}
	switch n.kind {
	case KindAbsent:
		return "null"
	case KindBool:
		return strconv.FormatBool(n.b)
	case KindInt:
		return strconv.FormatInt(n.i, 10)
	case KindFloat:
		return strconv.FormatFloat(n.f, 'g', -1, 64)
	case KindString:
		return strconv.Quote(n.s)
	case KindSeq:
		parts := make([]string, len(n.items))
		for i, it := range n.items {
			parts[i] = it.String()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case KindRecord:
		parts := make([]string, len(n.fields))
		for i, f := range n.fields {
			parts[i] = f.Name + " = " + f.Value.String()
		}
		return "{" + strings.Join(parts, ", ") + "}"
	}
	return "<invalid>"
}
