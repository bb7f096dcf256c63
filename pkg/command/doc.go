// Package command provides the schema tooling command tree that binaries
// embed: dump-schema, check-schema, upgrade-schema, and upgrade-config,
// parameterized by the application's config record type. The process exit
// code reflects the highest severity a check reported: 0 only when the
// schemas are compatible.
package command
