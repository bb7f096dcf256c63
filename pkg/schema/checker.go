package schema

import (
	"fmt"
	"io"
	"sort"

	"github.com/agext/levenshtein"

	"github.com/vk/hyperstate/pkg/node"
)

// renameThreshold is the minimum name similarity for matching a removed
// field (or enum variant) to an added one of the same type.
const renameThreshold = 0.1

// Report is the outcome of diffing a stored schema snapshot against the
// live type definition.
type Report struct {
	Record     string
	OldVersion int
	NewVersion int
	Changes    []SchemaChange
}

// Severity returns the highest severity among the detected changes, or
// INFO when the schemas match.
func (r *Report) Severity() Severity {
	max := SeverityInfo
	for _, c := range r.Changes {
		if s := c.Severity(); s > max {
			max = s
		}
	}
	return max
}

// ProposedRules collects the mechanical fixes of all changes that have one.
func (r *Report) ProposedRules() []RewriteRule {
	var rules []RewriteRule
	for _, c := range r.Changes {
		if fix := c.ProposedFix(); fix != nil {
			rules = append(rules, fix)
		}
	}
	return rules
}

// Write renders the report for humans: one line per change, then the
// verdict, then the mitigation block when rules or a version bump would
// reconcile the schemas.
func (r *Report) Write(w io.Writer) {
	for _, c := range r.Changes {
		if p := c.Path(); len(p) > 0 {
			fmt.Fprintf(w, "%-5s %s: %s\n", c.Severity(), p, c.Diagnostic())
		} else {
			fmt.Fprintf(w, "%-5s %s\n", c.Severity(), c.Diagnostic())
		}
	}
	switch {
	case len(r.Changes) == 0:
		fmt.Fprintf(w, "Schema unchanged at version %d.\n", r.NewVersion)
	case r.Severity() < SeverityError:
		fmt.Fprintf(w, "Schema compatible with recorded data.\n")
	default:
		fmt.Fprintf(w, "Schema incompatible with recorded data.\n")
	}

	rules := r.ProposedRules()
	bump := r.needsBump()
	if len(rules) == 0 && !bump {
		return
	}
	fmt.Fprintf(w, "\nProposed mitigations:\n")
	if len(rules) > 0 {
		fmt.Fprintf(w, "- add upgrade rules:\n")
		fmt.Fprintf(w, "    %d: [\n", r.NewVersion)
		for _, rule := range rules {
			fmt.Fprintf(w, "        %s,\n", rule)
		}
		fmt.Fprintf(w, "    ],\n")
	}
	if bump {
		fmt.Fprintf(w, "- bump version to %d\n", r.NewVersion+1)
	}
}

func (r *Report) needsBump() bool {
	for _, c := range r.Changes {
		if _, ok := c.(VersionUnchanged); ok {
			return true
		}
	}
	return false
}

// Check diffs a stored schema snapshot against the live descriptor of the
// same record type. Rewrite rules the live type already registers for
// versions at or past the snapshot are replayed onto a copy of the
// snapshot first, so registered fixes do not resurface as changes.
func Check(old, live *Struct) *Report {
	r := &Report{Record: live.Name, OldVersion: old.Version, NewVersion: live.Version}

	replayed := old.Clone()
	for v := old.Version; v < live.Version; v++ {
		for _, rule := range live.UpgradeRules[v] {
			rule.applyToSchema(replayed)
		}
	}

	c := &checker{}
	c.compare(replayed, live, nil)
	c.matchFieldRenames()
	c.matchVariantRenames()
	r.Changes = c.changes

	if r.Severity() > SeverityInfo && old.Version == live.Version {
		r.Changes = append(r.Changes, VersionUnchanged{Version: live.Version})
	}
	return r
}

type checker struct {
	changes []SchemaChange
}

func (c *checker) add(change SchemaChange) {
	c.changes = append(c.changes, change)
}

func (c *checker) compare(old, new Type, path node.Path) {
	if o, ok := old.(*Option); ok {
		if n, ok := new.(*Option); ok {
			c.compare(o.Elem, n.Elem, path)
			return
		}
	}

	switch n := new.(type) {
	case *Primitive:
		if !TypesEqual(old, new) {
			c.add(TypeChanged{FieldPath: path, Old: old, New: new})
		}
	case *Enum:
		o, ok := old.(*Enum)
		if !ok {
			c.add(TypeChanged{FieldPath: path, Old: old, New: new})
			return
		}
		c.compareEnums(o, n, path)
	case *Option:
		// Old is not an Option here: wrapping is a widening, so only the
		// element types need to agree.
		c.compare(old, n.Elem, path)
	case *List:
		if o, ok := old.(*List); ok {
			c.compare(o.Elem, n.Elem, path.Child("[]"))
			return
		}
		c.add(TypeChanged{FieldPath: path, Old: old, New: new})
	case *Map:
		o, ok := old.(*Map)
		if !ok || !TypesEqual(o.Key, n.Key) {
			c.add(TypeChanged{FieldPath: path, Old: old, New: new})
			return
		}
		c.compare(o.Value, n.Value, path.Child("{}"))
	case *Tuple:
		o, ok := old.(*Tuple)
		if !ok || len(o.Elems) != len(n.Elems) {
			c.add(TypeChanged{FieldPath: path, Old: old, New: new})
			return
		}
		for i := range n.Elems {
			c.compare(o.Elems[i], n.Elems[i], path.Child(fmt.Sprintf("[%d]", i)))
		}
	case *Blob:
		if o, ok := old.(*Blob); !ok || o.Name != n.Name {
			c.add(TypeChanged{FieldPath: path, Old: old, New: new})
		}
	case *Struct:
		o, ok := old.(*Struct)
		if !ok {
			c.add(TypeChanged{FieldPath: path, Old: old, New: new})
			return
		}
		c.compareStructs(o, n, path)
	}
}

func (c *checker) compareStructs(old, new *Struct, path node.Path) {
	oldByName := map[string]Field{}
	for _, f := range old.Fields {
		oldByName[f.Name] = f
	}

	for _, nf := range new.Fields {
		fpath := path.Child(nf.Name)
		of, ok := oldByName[nf.Name]
		if !ok {
			c.allAdded(nf.Type, nf, fpath)
			continue
		}
		delete(oldByName, nf.Name)

		// A field turning into a struct (or back) is reported as the leaf
		// disappearing and every nested leaf appearing, not as one opaque
		// type change. That gives renames across nesting a chance to match.
		oldStruct := isStructType(of.Type)
		newStruct := isStructType(nf.Type)
		switch {
		case oldStruct != newStruct && newStruct:
			c.add(FieldRemoved{FieldPath: fpath, Type: of.Type, Default: of.Default, HasDefault: of.HasDefault})
			c.allAdded(nf.Type, nf, fpath)
			continue
		case oldStruct != newStruct && oldStruct:
			c.allRemoved(of.Type, of, fpath)
			c.add(FieldAdded{FieldPath: fpath, Type: nf.Type, Default: nf.Default, HasDefault: nf.HasDefault})
			continue
		}

		c.compare(of.Type, nf.Type, fpath)
		c.compareDefaults(of, nf, fpath)
	}

	removed := make([]Field, 0, len(oldByName))
	for _, f := range oldByName {
		removed = append(removed, f)
	}
	sort.Slice(removed, func(i, j int) bool { return removed[i].Name < removed[j].Name })
	for _, of := range removed {
		c.allRemoved(of.Type, of, path.Child(of.Name))
	}
}

func (c *checker) compareDefaults(old, new Field, path node.Path) {
	switch {
	case old.HasDefault && !new.HasDefault:
		c.add(DefaultRemoved{FieldPath: path, Old: old.Default})
	case old.HasDefault && new.HasDefault && !old.Default.Equal(new.Default):
		c.add(DefaultChanged{FieldPath: path, Old: old.Default, New: new.Default})
	}
}

// allAdded records every leaf of a new subtree as an added field, so a
// struct of three fields reports three additions rather than one.
func (c *checker) allAdded(t Type, f Field, path node.Path) {
	if s, ok := unwrapOption(t).(*Struct); ok {
		for _, nf := range s.Fields {
			c.allAdded(nf.Type, nf, path.Child(nf.Name))
		}
		return
	}
	c.add(FieldAdded{FieldPath: path, Type: t, Default: f.Default, HasDefault: f.HasDefault || defaultable(t, f)})
}

func (c *checker) allRemoved(t Type, f Field, path node.Path) {
	if s, ok := unwrapOption(t).(*Struct); ok {
		for _, of := range s.Fields {
			c.allRemoved(of.Type, of, path.Child(of.Name))
		}
		return
	}
	c.add(FieldRemoved{FieldPath: path, Type: t, Default: f.Default, HasDefault: f.HasDefault})
}

// defaultable treats a struct whose fields all carry defaults as having an
// implicit default itself.
func defaultable(t Type, f Field) bool {
	if f.HasDefault {
		return true
	}
	if s, ok := unwrapOption(t).(*Struct); ok {
		return s.AllFieldsDefaulted()
	}
	return false
}

func isStructType(t Type) bool {
	_, ok := unwrapOption(t).(*Struct)
	return ok
}

// matchFieldRenames pairs removed fields with added fields of identical
// type and default, greedily by name similarity, and folds each pair into
// a single FieldRenamed change.
func (c *checker) matchFieldRenames() {
	for {
		bestScore := renameThreshold
		bestAdd, bestRem := -1, -1
		for i, ci := range c.changes {
			rem, ok := ci.(FieldRemoved)
			if !ok {
				continue
			}
			for j, cj := range c.changes {
				add, ok := cj.(FieldAdded)
				if !ok {
					continue
				}
				if !TypesEqual(rem.Type, add.Type) {
					continue
				}
				if rem.HasDefault != add.HasDefault {
					continue
				}
				if rem.HasDefault && !rem.Default.Equal(add.Default) {
					continue
				}
				if score := nameSimilarity(rem.FieldPath.Leaf(), add.FieldPath.Leaf()); score > bestScore {
					bestScore, bestRem, bestAdd = score, i, j
				}
			}
		}
		if bestRem < 0 {
			return
		}
		rem := c.changes[bestRem].(FieldRemoved)
		add := c.changes[bestAdd].(FieldAdded)
		c.drop(bestRem, bestAdd)
		c.add(FieldRenamed{FieldPath: rem.FieldPath, NewPath: add.FieldPath})
	}
}

// matchVariantRenames does the same pairing for enum variants within one
// enum type.
func (c *checker) matchVariantRenames() {
	for {
		bestScore := renameThreshold
		bestAdd, bestRem := -1, -1
		for i, ci := range c.changes {
			rem, ok := ci.(EnumVariantRemoved)
			if !ok {
				continue
			}
			for j, cj := range c.changes {
				add, ok := cj.(EnumVariantAdded)
				if !ok || add.Enum != rem.Enum || !add.FieldPath.Equal(rem.FieldPath) {
					continue
				}
				if score := nameSimilarity(rem.Variant, add.Variant); score > bestScore {
					bestScore, bestRem, bestAdd = score, i, j
				}
			}
		}
		if bestRem < 0 {
			return
		}
		rem := c.changes[bestRem].(EnumVariantRemoved)
		add := c.changes[bestAdd].(EnumVariantAdded)
		c.drop(bestRem, bestAdd)
		c.add(EnumVariantRenamed{
			FieldPath:  rem.FieldPath,
			Enum:       rem.Enum,
			OldVariant: rem.Variant,
			NewVariant: add.Variant,
		})
	}
}

func (c *checker) drop(i, j int) {
	if i > j {
		i, j = j, i
	}
	c.changes = append(c.changes[:j], c.changes[j+1:]...)
	c.changes = append(c.changes[:i], c.changes[i+1:]...)
}

func (c *checker) compareEnums(old, new *Enum, path node.Path) {
	oldSet := map[string]bool{}
	for _, v := range old.Variants {
		oldSet[v] = true
	}
	for _, v := range new.Variants {
		if oldSet[v] {
			delete(oldSet, v)
			continue
		}
		c.add(EnumVariantAdded{FieldPath: path, Enum: new.Name, Variant: v})
	}
	removed := make([]string, 0, len(oldSet))
	for v := range oldSet {
		removed = append(removed, v)
	}
	sort.Strings(removed)
	for _, v := range removed {
		c.add(EnumVariantRemoved{FieldPath: path, Enum: new.Name, Variant: v})
	}
}

// nameSimilarity scores how likely two field names denote the same thing.
// Exact matches modulo underscores and initialisms score highest, then
// Levenshtein similarity of the raw names.
func nameSimilarity(a, b string) float64 {
	if a == b {
		return 1.1
	}
	if stripUnderscores(a) == stripUnderscores(b) {
		return 1.0
	}
	if isInitialism(a, b) || isInitialism(b, a) {
		return 1.0
	}
	return levenshtein.Match(a, b, nil)
}

func stripUnderscores(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != '_' {
			out = append(out, s[i])
		}
	}
	return string(out)
}

// isInitialism reports whether short is the first letters of long's
// underscore-separated words, e.g. "lr" for "learning_rate".
func isInitialism(short, long string) bool {
	var initials []byte
	for i := 0; i < len(long); i++ {
		if i == 0 || long[i-1] == '_' {
			if long[i] != '_' {
				initials = append(initials, long[i])
			}
		}
	}
	return len(initials) >= 2 && short == string(initials)
}
