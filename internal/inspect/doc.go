// Package inspect reads a pstore file without the persist layer, for
// debugging and consistency checks.
//
// Snapshot decodes every table into a Dump. Object references render as
// {"$ref": oid}. Verify recomputes incoming reference counts from the root
// and object rows and reports where they disagree with the stored table.
// Nothing in this package writes to the store.
package inspect
