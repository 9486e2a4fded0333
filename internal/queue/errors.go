package queue

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when no row matches the requested identifier.
var ErrNotFound = errors.New("queue: not found")

// ErrRepairPending blocks export while a repair request is outstanding.
var ErrRepairPending = errors.New("queue: repair pending, export blocked")

// InvalidTransitionError reports an attempted move that is not part of the
// lifecycle graph.
type InvalidTransitionError struct {
	ItemID int64
	From   Status
	To     Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("queue: invalid transition for item %d: %s -> %s", e.ItemID, e.From, e.To)
}

// IsInvalidTransition reports whether err wraps an InvalidTransitionError.
func IsInvalidTransition(err error) bool {
	var target *InvalidTransitionError
	return errors.As(err, &target)
}
