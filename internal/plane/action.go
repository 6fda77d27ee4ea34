package plane

import "fmt"

// Action is a discrete player control.
type Action uint8

const (
	ActionThrust Action = iota
	ActionReverse
	ActionLeft
	ActionRight
	ActionPrimary
	ActionSecondary
	ActionSpecial
	ActionSuicide

	actionCount
)

var actionNames = [actionCount]string{
	"thrust",
	"reverse",
	"left",
	"right",
	"primary",
	"secondary",
	"special",
	"suicide",
}

// Actions lists every action in declaration order.
func Actions() []Action {
	out := make([]Action, 0, actionCount)
	for a := Action(0); a < actionCount; a++ {
		out = append(out, a)
	}
	return out
}

// Valid reports whether a is a known action.
func (a Action) Valid() bool { return a < actionCount }

func (a Action) String() string {
	if !a.Valid() {
		return fmt.Sprintf("action(%d)", uint8(a))
	}
	return actionNames[a]
}

// ParseAction maps a name such as "thrust" back to its Action.
func ParseAction(name string) (Action, bool) {
	for i, candidate := range actionNames {
		if candidate == name {
			return Action(i), true
		}
	}
	return 0, false
}

// Movement is the net direction of a pair of opposing controls.
type Movement int

const (
	MovementDown Movement = -1
	MovementNone Movement = 0
	MovementUp   Movement = 1
)

func addMovement(down, up bool) Movement {
	switch {
	case up && !down:
		return MovementUp
	case down && !up:
		return MovementDown
	default:
		return MovementNone
	}
}

// Controls is the set of actions currently held.
type Controls uint16

// ControlsMask covers every valid action bit.
const ControlsMask = Controls(1<<actionCount - 1)

// Set changes the state of one action.
func (c *Controls) Set(action Action, state bool) {
	if !action.Valid() {
		return
	}
	if state {
		*c |= 1 << action
	} else {
		*c &^= 1 << action
	}
}

// Get reports whether action is held.
func (c Controls) Get(action Action) bool {
	return action.Valid() && c&(1<<action) != 0
}

// RotMovement combines left (down) and right (up).
func (c Controls) RotMovement() Movement {
	return addMovement(c.Get(ActionLeft), c.Get(ActionRight))
}

// ThrottleMovement combines reverse (down) and thrust (up).
func (c Controls) ThrottleMovement() Movement {
	return addMovement(c.Get(ActionReverse), c.Get(ActionThrust))
}
