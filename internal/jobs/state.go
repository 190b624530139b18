package jobs

// State is the lifecycle position of one job.
type State string

const (
	StateIdle         State = "idle"
	StatePreparing    State = "preparing"
	StateNormalizing  State = "normalizing"
	StateTranscribing State = "transcribing"
	StateCompleted    State = "completed"
	StateFailed       State = "failed"
	StateCancelled    State = "cancelled"
)

func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCancelled:
		return true
	default:
		return false
	}
}

// isValidTransition enforces the forward-only job state machine.
func isValidTransition(from, to State) bool {
	switch from {
	case StateIdle:
		return to == StatePreparing || to == StateFailed || to == StateCancelled
	case StatePreparing:
		return to == StateNormalizing || to == StateTranscribing || to == StateFailed || to == StateCancelled
	case StateNormalizing:
		return to == StateTranscribing || to == StateFailed || to == StateCancelled
	case StateTranscribing:
		return to == StateCompleted || to == StateFailed || to == StateCancelled
	default:
		return false
	}
}
