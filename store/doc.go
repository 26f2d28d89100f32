// Package store houses concrete implementations of the core.Store contract.
// The interface itself (and the record types) live in the core package to
// centralize domain contracts. Keeping only implementations here prevents
// higher level packages (scheduler, engine) from depending on concrete
// storage.
//
// Add additional backends (see the sqlite sub-package for a durable one) in
// sub-packages without changing any calling code – only the wiring layer
// needs to decide which implementation to instantiate.
package store
