package pool

import "fmt"

// State tracks where the controller is in the generation lifecycle.
type State int

const (
	StateEmpty State = iota
	StateSeeded
	StateAwaitingGeneration
	StateDrainedUnacked
	StateBreeding
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateSeeded:
		return "seeded"
	case StateAwaitingGeneration:
		return "awaiting_generation"
	case StateDrainedUnacked:
		return "drained_unacked"
	case StateBreeding:
		return "breeding"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}
