// Package conversation implements the lifecycle state machine for group
// conversations: no record, ACTIVE, and the terminal ENDED state.
//
// The Manager layers policy (inactivity window, message ceiling) over the
// bare store operations. ShouldEnd stays a pure query and Reconcile performs
// the sweep, so callers control exactly when terminal transitions happen.
// Conflict and not-found conditions surface as core.ErrConflict and
// core.ErrNotFound for errors.Is matching.
package conversation
