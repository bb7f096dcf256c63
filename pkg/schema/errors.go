package schema

import "fmt"

// Error reports that a descriptor could not be built from a Go type:
// an unsupported field type, a blob type without the Serializable
// capability, or a cyclic struct reference.
type Error struct {
	Type string
	Msg  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("schema for %s: %s", e.Type, e.Msg)
}

// VersionError reports that recorded data cannot be brought to the version
// the current descriptor expects: either the record is newer than the code
// (downgrade, unsupported), or the upgrade chain has a version with no
// registered rule list.
type VersionError struct {
	Record   string
	Recorded int
	Current  int
	// Gap is the version whose rule list is missing, or -1.
	Gap int
}

func (e *VersionError) Error() string {
	if e.Recorded > e.Current {
		return fmt.Sprintf(
			"%s: recorded version %d is newer than current version %d (downgrade unsupported)",
			e.Record, e.Recorded, e.Current,
		)
	}
	if e.Gap >= 0 {
		return fmt.Sprintf(
			"%s: no rewrite rules registered for version %d (upgrading %d -> %d)",
			e.Record, e.Gap, e.Recorded, e.Current,
		)
	}
	return fmt.Sprintf("%s: cannot upgrade version %d to %d", e.Record, e.Recorded, e.Current)
}
