package voxel

import (
	"errors"
	"fmt"
)

// Sentinel errors for the engine's failure taxonomy. Packages wrap these so
// callers can classify failures with errors.Is regardless of where in the
// pipeline they originated.
var (
	// ErrShape indicates a volume with the wrong dimensionality or shape.
	ErrShape = errors.New("volume shape mismatch")

	// ErrResample indicates a raw volume that cannot be fitted to the
	// requested target shape.
	ErrResample = errors.New("cannot resample volume")

	// ErrUnknownStructure indicates a structure name or id that is absent
	// from the ontology.
	ErrUnknownStructure = errors.New("unknown structure")

	// ErrEmptySelection indicates that no source voxel was selected for
	// inference.
	ErrEmptySelection = errors.New("no source voxels selected")

	// ErrConfiguration indicates an invalid configuration value or an
	// invalid normalization/label combination.
	ErrConfiguration = errors.New("invalid configuration")
)

// ShapeError wraps ErrShape with the operation and the offending shapes.
type ShapeError struct {
	Op   string
	Want Shape
	Got  Shape
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("%s: %v: want shape %v, got %v", e.Op, ErrShape, e.Want, e.Got)
}

func (e *ShapeError) Unwrap() error { return ErrShape }
