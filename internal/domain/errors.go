package domain

import (
	"errors"
	"fmt"
)

// ErrNoHistory is returned by LocationHistory when an entity has no prior
// location record. A first-ever transaction must still be scorable, so
// callers skip the geography signal rather than fail.
var ErrNoHistory = errors.New("no location history for entity")

// InvalidStateError reports an illegal lifecycle transition. It indicates a
// caller bug or a race and is never silently swallowed.
type InvalidStateError struct {
	Entity string // "transaction", "alert", "action"
	ID     string
	From   string
	To     string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("invalid %s state transition for %s: %s -> %s",
		e.Entity, e.ID, e.From, e.To)
}

// IsInvalidState reports whether err is an InvalidStateError.
func IsInvalidState(err error) bool {
	var ise *InvalidStateError
	return errors.As(err, &ise)
}
