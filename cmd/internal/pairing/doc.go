// Package pairing drives one pairing session from connect to export.
//
// Each session is owned by exactly one run goroutine: an explicit state
// machine fed by the connection's event stream and by clock timers
// (settle delay, pairing window, restart backoff, flush delay). All failures
// are encoded into the session record, never returned past the run.
//
//	Waiting -> Connecting -> CodeRequested -> AwaitingLink -> Completed
//	                                            |    ^
//	                                            v    |
//	                                          Restarting
//
// Error and TimedOut are reachable from every non-terminal state.
package pairing
