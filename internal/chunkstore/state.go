package chunkstore

// State is where a Store is in its lifecycle. Transitions only move forward:
// Opening to Ready or Failed, any of those to Closed, Closed to Destroyed.
type State int32

const (
	StateOpening State = iota
	StateReady
	StateFailed
	StateClosed
	StateDestroyed
)

func (s State) String() string {
	switch s {
	case StateOpening:
		return "opening"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	case StateDestroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

func (s State) closed() bool {
	return s == StateClosed || s == StateDestroyed
}
