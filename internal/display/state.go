package display

// State is the adapter's position in a display operation.
type State int32

const (
	Idle State = iota
	Initializing
	Clearing
	Transmitting
	Sleeping
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Initializing:
		return "initializing"
	case Clearing:
		return "clearing"
	case Transmitting:
		return "transmitting"
	case Sleeping:
		return "sleeping"
	default:
		return "unknown"
	}
}
