package voxel

import (
	"fmt"

	"github.com/nbingo/Mouse-voxel-connectivity-simplified/pkg/interpolation"
)

// AlignParams holds the fixed geometric parameters that bring a native-frame
// volume into the reference annotation frame. The pad offsets are
// configuration constants derived from the difference between the reference
// annotation's full shape and the expected intermediate shape; they are never
// computed from the data content.
type AlignParams struct {
	// IntermediateShape is the shape the raw volume must have (or be
	// resampled to) before the axis permutation and padding are applied.
	IntermediateShape Shape

	// ReferenceShape is the fixed shape of the reference annotation space.
	ReferenceShape Shape

	// PadBefore and PadAfter are the asymmetric zero-padding offsets applied
	// per axis after the axis permutation.
	PadBefore Shape
	PadAfter  Shape

	// Resample enables trilinear resampling of raw volumes whose shape does
	// not match IntermediateShape. Without it a mismatched shape is an error.
	Resample bool

	// Mirror additionally reflects the volume across the median plane, used
	// when source data came from a single hemisphere.
	Mirror bool
}

// DefaultAlignParams returns the alignment parameters for the 100um mouse
// reference annotation: 65x88x88 acquisition volumes mapped into the
// 132x80x114 annotation space.
func DefaultAlignParams() AlignParams {
	return AlignParams{
		IntermediateShape: Shape{65, 88, 88},
		ReferenceShape:    Shape{132, 80, 114},
		PadBefore:         Shape{0, 5, 13},
		PadAfter:          Shape{44, 10, 13},
	}
}

// validate checks that the permuted intermediate shape plus padding reaches
// the reference shape.
func (p AlignParams) validate() error {
	if !p.IntermediateShape.Valid() || !p.ReferenceShape.Valid() {
		return fmt.Errorf("voxel: align params: %w: degenerate shape", ErrConfiguration)
	}
	permuted := Shape{p.IntermediateShape[1], p.IntermediateShape[0], p.IntermediateShape[2]}
	for axis := 0; axis < 3; axis++ {
		got := p.PadBefore[axis] + permuted[axis] + p.PadAfter[axis]
		if got != p.ReferenceShape[axis] {
			return fmt.Errorf("voxel: align params: %w: axis %d pads to %d, reference is %d",
				ErrConfiguration, axis, got, p.ReferenceShape[axis])
		}
	}
	return nil
}

// Align transforms a raw native-frame volume into the reference frame:
// resample (optional), permute the first two axes, zero-pad with the fixed
// offsets, flip the first two axes, and optionally mirror across the median
// plane. The caller's volume is never mutated; the result is always a new
// volume of ReferenceShape.
func Align(raw *Volume, p AlignParams) (*Volume, error) {
	if raw == nil || len(raw.Data) == 0 {
		return nil, &ShapeError{Op: "voxel: align", Want: p.IntermediateShape, Got: Shape{}}
	}
	if !raw.Dims.Valid() {
		return nil, &ShapeError{Op: "voxel: align", Want: p.IntermediateShape, Got: raw.Dims}
	}
	if err := p.validate(); err != nil {
		return nil, err
	}

	v := raw
	if raw.Dims != p.IntermediateShape {
		if !p.Resample {
			return nil, &ShapeError{Op: "voxel: align", Want: p.IntermediateShape, Got: raw.Dims}
		}
		data, err := interpolation.ResampleTrilinear(raw.Data, [3]int(raw.Dims), [3]int(p.IntermediateShape))
		if err != nil {
			return nil, fmt.Errorf("voxel: align: %w: %v", ErrResample, err)
		}
		v = &Volume{Data: data, Dims: p.IntermediateShape}
	}

	v = v.Transpose102()
	v = v.Pad(p.PadBefore, p.PadAfter)
	v = v.Flip(0)
	v = v.Flip(1)
	if p.Mirror {
		v = v.Flip(1)
	}

	if v.Dims != p.ReferenceShape {
		return nil, &ShapeError{Op: "voxel: align", Want: p.ReferenceShape, Got: v.Dims}
	}
	return v, nil
}
