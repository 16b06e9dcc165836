package correlate

import (
	"errors"
	"fmt"
)

// ErrIncidentClosed is returned when a mutation targets a closed incident.
var ErrIncidentClosed = errors.New("incident is closed")

// InvariantError reports a broken correlation invariant. It indicates a
// programming error, never bad input, and must not be swallowed.
type InvariantError struct {
	IncidentID string
	Op         string
	Err        error
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("correlation invariant violated: %s incident %s: %v", e.Op, e.IncidentID, e.Err)
}

func (e *InvariantError) Unwrap() error { return e.Err }
