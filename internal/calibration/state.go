package calibration

// State is the step the engine is waiting to complete.
type State int

const (
	StateAwaitingPrimary State = iota
	StateAwaitingLatency
	StateAwaitingSecondary
	StateDone
)

func (s State) String() string {
	switch s {
	case StateAwaitingPrimary:
		return "awaiting-primary"
	case StateAwaitingLatency:
		return "awaiting-latency"
	case StateAwaitingSecondary:
		return "awaiting-secondary"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}
