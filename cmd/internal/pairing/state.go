package pairing

// State is the orchestrator's internal phase. It is finer than session.Status.
type State int

const (
	StateWaiting State = iota
	StateConnecting
	StateCodeRequested
	StateAwaitingLink
	StateRestarting
	StateCompleted
	StateError
	StateTimedOut
)

func (s State) String() string {
	switch s {
	case StateWaiting:
		return "waiting"
	case StateConnecting:
		return "connecting"
	case StateCodeRequested:
		return "code_requested"
	case StateAwaitingLink:
		return "awaiting_link"
	case StateRestarting:
		return "restarting"
	case StateCompleted:
		return "completed"
	case StateError:
		return "error"
	case StateTimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// Final reports whether the run has reached an exit state.
func (s State) Final() bool {
	return s == StateCompleted || s == StateError || s == StateTimedOut
}
