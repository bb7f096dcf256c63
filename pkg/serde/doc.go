// Package serde converts between typed Go record structs and value-tree
// nodes, directed by a schema descriptor. Encode and Decode walk the Go
// value and the descriptor in lockstep: the descriptor decides what each
// field means, the node carries the data, and neither side ever touches
// the text format directly.
//
// Decode applies declared defaults, widens ints into float fields, leaves
// blob fields as unresolved lazy handles, and records schedule strings
// found in numeric fields. It never upgrades versioned data: a node whose
// recorded version does not match the descriptor is rejected, upgrade it
// first.
package serde
