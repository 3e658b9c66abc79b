// Package session holds the pairing session record and the process-wide store
// that owns its lifecycle.
//
// A Session is created in StatusWaiting, mutated only by the orchestrator that
// owns it (through the typed mutation methods on Store) and removed either by
// the expiry reaper or by process exit. Mutations of an id that is no longer
// present return ErrNotFound and never recreate the record.
package session
