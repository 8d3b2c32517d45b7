package lifecycle

// State is the lifecycle state of a module boundary
type State int32

const (
	// StateCreated is the initial state, before Start
	StateCreated State = iota
	// StateStarted means the boundary exists and the module runs
	StateStarted
	// StateStopping means reclamation is in progress
	StateStopping
	// StateStopped is terminal
	StateStopped
)

// String returns the string representation of a State
func (s State) String() string {
	switch s {
	case StateCreated:
		return "Created"
	case StateStarted:
		return "Started"
	case StateStopping:
		return "Stopping"
	case StateStopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}
