// Package schema describes record types and their history. A type
// descriptor is built once per record type by reflection, carries the
// struct's version and rewrite-rule table, and drives the codec, the
// version upgrade engine, and the schema checker. Descriptors can be
// serialized as snapshots and diffed against the live type to detect
// breaking changes before they corrupt stored records.
package schema
