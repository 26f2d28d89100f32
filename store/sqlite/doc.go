// Package sqlite provides a durable core.Store backed by a single SQLite
// database file (pure Go driver, no cgo). Use it when conversation state has
// to survive restarts; the zero-setup file format keeps operational cost at
// the level of the in-memory store.
//
// The single-ACTIVE-per-group rule is anchored in the schema itself via a
// partial unique index, so even writers outside this package cannot violate
// it.
package sqlite
