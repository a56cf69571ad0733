package column

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidDof is returned when an unresolved dof reaches a point that needs a resolved one
	ErrInvalidDof = errors.New("unresolved dof id")
	// ErrDofElevation is returned when a dof is reported at two different elevations in one column
	ErrDofElevation = errors.New("dof reported at a different elevation")
	// ErrInvalidTarget is returned for top/bottom targets that cannot be applied
	ErrInvalidTarget = errors.New("invalid elevation target")
)

// ConflictError reports two distinct resolved dofs found at the same elevation.
// The column keeps both nodes so the owning rank can reconcile them later.
type ConflictError struct {
	Key  Key
	Dofs [2]int
	Z    float64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("column %s: dofs %d and %d both at elevation %g",
		e.Key, e.Dofs[0], e.Dofs[1], e.Z)
}

// StaleColumnError is returned when elevations are updated on a column
// whose topology changed since its last resort.
type StaleColumnError struct {
	Key    Key
	Reason string
}

func (e *StaleColumnError) Error() string {
	return fmt.Sprintf("column %s is stale: %s", e.Key, e.Reason)
}

// UnresolvedAnchorError is returned when a hanging node is interpolated from
// an anchor whose elevation has not been set in this pass.
type UnresolvedAnchorError struct {
	Key       Key
	Dof       int
	AnchorDof int
}

func (e *UnresolvedAnchorError) Error() string {
	return fmt.Sprintf("column %s: dof %d depends on anchor %d which is not final",
		e.Key, e.Dof, e.AnchorDof)
}
