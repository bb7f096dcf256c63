// Package node defines the generic value tree that sits between typed
// record objects and their textual form. Every load and save goes through
// a *Node: the HCL bridge in this package turns record files into nodes,
// the serde package turns nodes into typed objects, and the version engine
// and override applier rewrite nodes without ever touching typed objects.
package node
