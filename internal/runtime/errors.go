package runtime

import (
	"errors"
	"fmt"
)

// ErrEmptyMessage is returned when an inbound event carries no content.
var ErrEmptyMessage = errors.New("runtime: empty message")

// ErrMissingTenant is returned when an inbound event has no tenant.
var ErrMissingTenant = errors.New("runtime: missing tenant id")

// HopBudgetError reports that a run hit its hop budget before reaching
// a reply. The run is still recorded with whatever partial results were
// gathered.
type HopBudgetError struct {
	TraceID string
	MaxHops int
}

func (e *HopBudgetError) Error() string {
	return fmt.Sprintf("runtime: run %s exceeded hop budget of %d", e.TraceID, e.MaxHops)
}

// IsHopBudget reports whether err is a hop budget exhaustion.
func IsHopBudget(err error) bool {
	var hbe *HopBudgetError
	return errors.As(err, &hbe)
}
