package session

// State of a session.
type State int32

const (
	Idle State = iota
	Building
	Serving
	Rebuilding
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Building:
		return "building"
	case Serving:
		return "serving"
	case Rebuilding:
		return "rebuilding"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}
