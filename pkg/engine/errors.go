package engine

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sovereignrag/process/pkg/models"
)

var ErrIllegalTransition = errors.New("illegal transition")

// TransitionError reports an event that has no rule from the observed state.
type TransitionError struct {
	PublicID uuid.UUID
	State    models.ProcessState
	Event    models.ProcessEvent
	Err      error
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("process %s: %s from %s: %v", e.PublicID, e.Event, e.State, e.Err)
}

func (e *TransitionError) Unwrap() error {
	return e.Err
}

func (e *TransitionError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

func IsIllegalTransition(err error) bool {
	return errors.Is(err, ErrIllegalTransition)
}
