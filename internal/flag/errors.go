package flag

import (
	"errors"
	"fmt"

	"github.com/ctfmode/extension/pkg/core"
)

var (
	// ErrInvalidTransition is matched by every rejected state transition.
	ErrInvalidTransition = errors.New("invalid flag transition")

	// ErrInvariant is matched by every violation CheckInvariants reports.
	ErrInvariant = errors.New("flag invariant violated")
)

// TransitionError describes an operation attempted from a state that does
// not allow it.
type TransitionError struct {
	Team   core.Team
	Op     string
	State  core.FlagState
	Reason string
}

func (e *TransitionError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("cannot %s %s flag: %s", e.Op, e.Team, e.Reason)
	}
	return fmt.Sprintf("cannot %s %s flag: state is %s", e.Op, e.Team, e.State)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}
