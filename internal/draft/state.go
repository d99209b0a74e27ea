package draft

import (
	"errors"
	"fmt"

	"github.com/kiwari-pos/tableorder/internal/enum"
)

var ErrInvalidTransition = errors.New("invalid draft state transition")

// allowedTransitions defines the draft lifecycle.
// Key is current state, value is the set of states it can move to.
var allowedTransitions = map[enum.DraftState][]enum.DraftState{
	enum.DraftStateHydrating:  {enum.DraftStateEditing},
	enum.DraftStateEditing:    {enum.DraftStateEditing, enum.DraftStateValidating},
	enum.DraftStateValidating: {enum.DraftStateEditing, enum.DraftStateSubmitting},
	enum.DraftStateSubmitting: {enum.DraftStateCleared, enum.DraftStateEditing},
}

// Transition checks if the move from current to next is allowed.
// An unset current state is treated as EDITING (a fresh draft).
func Transition(current, next enum.DraftState) error {
	if current == "" {
		current = enum.DraftStateEditing
	}
	for _, s := range allowedTransitions[current] {
		if s == next {
			return nil
		}
	}
	return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, current, next)
}
