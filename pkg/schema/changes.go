package schema

import (
	"fmt"

	"github.com/vk/hyperstate/pkg/node"
)

// Severity classifies a detected schema change. Severities are ordered:
// INFO < WARN < ERROR.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarn
	SeverityError
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "INFO"
	case SeverityWarn:
		return "WARN"
	case SeverityError:
		return "ERROR"
	}
	return fmt.Sprintf("Severity(%d)", int(s))
}

// SchemaChange is one detected difference between a stored snapshot and
// the live type. ProposedFix returns a rewrite rule that would reconcile
// the stored data, or nil when no mechanical fix exists.
type SchemaChange interface {
	Path() node.Path
	Severity() Severity
	Diagnostic() string
	ProposedFix() RewriteRule
}

// FieldAdded reports a field present only in the live schema.
type FieldAdded struct {
	FieldPath  node.Path
	Type       Type
	Default    *node.Node
	HasDefault bool
}

func (c FieldAdded) Path() node.Path { return c.FieldPath }

func (c FieldAdded) Severity() Severity {
	if c.HasDefault || c.ProposedFix() != nil {
		if c.HasDefault {
			return SeverityInfo
		}
		return SeverityWarn
	}
	return SeverityError
}

func (c FieldAdded) Diagnostic() string {
	if c.HasDefault {
		return "field added"
	}
	return "required field added without default"
}

func (c FieldAdded) ProposedFix() RewriteRule {
	if c.HasDefault {
		return nil
	}
	switch c.Type.(type) {
	case *Option:
		return AddField{Path: c.FieldPath, Default: node.Absent()}
	case *List:
		return AddField{Path: c.FieldPath, Default: node.Seq()}
	}
	return nil
}

// FieldRemoved reports a field present only in the stored snapshot.
type FieldRemoved struct {
	FieldPath  node.Path
	Type       Type
	Default    *node.Node
	HasDefault bool
}

func (c FieldRemoved) Path() node.Path     { return c.FieldPath }
func (c FieldRemoved) Severity() Severity  { return SeverityError }
func (c FieldRemoved) Diagnostic() string  { return "field removed" }
func (c FieldRemoved) ProposedFix() RewriteRule {
	return RemoveField{Path: c.FieldPath}
}

// FieldRenamed reports an old field matched to a new one of the same type.
type FieldRenamed struct {
	FieldPath node.Path
	NewPath   node.Path
}

func (c FieldRenamed) Path() node.Path    { return c.FieldPath }
func (c FieldRenamed) Severity() Severity { return SeverityWarn }
func (c FieldRenamed) Diagnostic() string {
	return fmt.Sprintf("field renamed to %s", c.NewPath)
}
func (c FieldRenamed) ProposedFix() RewriteRule {
	return RenameField{Old: c.FieldPath, New: c.NewPath}
}

// TypeChanged reports a field whose type differs between the schemas.
type TypeChanged struct {
	FieldPath node.Path
	Old       Type
	New       Type
}

func (c TypeChanged) Path() node.Path { return c.FieldPath }

func (c TypeChanged) Severity() Severity {
	if isWidening(c.Old, c.New) {
		return SeverityInfo
	}
	if c.ProposedFix() != nil {
		return SeverityWarn
	}
	return SeverityError
}

func (c TypeChanged) Diagnostic() string {
	return fmt.Sprintf("type changed from %s to %s", c.Old, c.New)
}

func (c TypeChanged) ProposedFix() RewriteRule {
	if l, ok := c.New.(*List); ok && TypesEqual(l.Elem, c.Old) {
		return MapField{Path: c.FieldPath, Op: OpWrapInList}
	}
	return nil
}

// isWidening reports type changes every stored record already satisfies:
// int to float, and wrapping the old type in an Option.
func isWidening(old, new Type) bool {
	if op, ok := old.(*Primitive); ok {
		if np, ok := new.(*Primitive); ok && op.Name == "int" && np.Name == "float" {
			return true
		}
	}
	if o, ok := new.(*Option); ok && TypesEqual(o.Elem, old) {
		return true
	}
	return false
}

// DefaultChanged reports a field whose declared default changed.
type DefaultChanged struct {
	FieldPath node.Path
	Old       *node.Node
	New       *node.Node
}

func (c DefaultChanged) Path() node.Path    { return c.FieldPath }
func (c DefaultChanged) Severity() Severity { return SeverityWarn }
func (c DefaultChanged) Diagnostic() string {
	return fmt.Sprintf("default value changed from %s to %s", c.Old, c.New)
}
func (c DefaultChanged) ProposedFix() RewriteRule {
	return ChangeDefault{Path: c.FieldPath, Value: c.New}
}

// DefaultRemoved reports a field that lost its declared default.
type DefaultRemoved struct {
	FieldPath node.Path
	Old       *node.Node
}

func (c DefaultRemoved) Path() node.Path    { return c.FieldPath }
func (c DefaultRemoved) Severity() Severity { return SeverityWarn }
func (c DefaultRemoved) Diagnostic() string {
	return fmt.Sprintf("default value removed: %s", c.Old)
}
func (c DefaultRemoved) ProposedFix() RewriteRule {
	return AddField{Path: c.FieldPath, Default: c.Old}
}

// EnumVariantAdded reports a new enum variant.
type EnumVariantAdded struct {
	FieldPath node.Path
	Enum      string
	Variant   string
}

func (c EnumVariantAdded) Path() node.Path        { return c.FieldPath }
func (c EnumVariantAdded) Severity() Severity     { return SeverityInfo }
func (c EnumVariantAdded) ProposedFix() RewriteRule { return nil }
func (c EnumVariantAdded) Diagnostic() string {
	return fmt.Sprintf("variant %s of %s added", c.Variant, c.Enum)
}

// EnumVariantRemoved reports a removed enum variant; stored records may
// still carry it, so there is no mechanical fix.
type EnumVariantRemoved struct {
	FieldPath node.Path
	Enum      string
	Variant   string
}

func (c EnumVariantRemoved) Path() node.Path        { return c.FieldPath }
func (c EnumVariantRemoved) Severity() Severity     { return SeverityError }
func (c EnumVariantRemoved) ProposedFix() RewriteRule { return nil }
func (c EnumVariantRemoved) Diagnostic() string {
	return fmt.Sprintf("variant %s of %s removed", c.Variant, c.Enum)
}

// EnumVariantRenamed reports a removed variant matched to an added one by
// name similarity.
type EnumVariantRenamed struct {
	FieldPath  node.Path
	Enum       string
	OldVariant string
	NewVariant string
}

func (c EnumVariantRenamed) Path() node.Path        { return c.FieldPath }
func (c EnumVariantRenamed) Severity() Severity     { return SeverityWarn }
func (c EnumVariantRenamed) ProposedFix() RewriteRule { return nil }
func (c EnumVariantRenamed) Diagnostic() string {
	return fmt.Sprintf("variant %s of %s renamed to %s", c.OldVariant, c.Enum, c.NewVariant)
}

// VersionUnchanged reports that the schema changed without a version bump.
type VersionUnchanged struct {
	Version int
}

func (c VersionUnchanged) Path() node.Path        { return nil }
func (c VersionUnchanged) Severity() Severity     { return SeverityWarn }
func (c VersionUnchanged) ProposedFix() RewriteRule { return nil }
func (c VersionUnchanged) Diagnostic() string {
	return "schema changed but version identical"
}
