package worker

// State is the lifecycle state of a worker.
type State int32

const (
	StateParsed State = iota
	StateInstalling
	StateInstalled
	StateActivating
	StateActivated
)

func (s State) String() string {
	switch s {
	case StateParsed:
		return "parsed"
	case StateInstalling:
		return "installing"
	case StateInstalled:
		return "installed"
	case StateActivating:
		return "activating"
	case StateActivated:
		return "activated"
	default:
		return "unknown"
	}
}
