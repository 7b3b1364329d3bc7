// Package voxel provides the 3D volume data model shared by the projection
// pipeline, together with the geometric alignment operations that bring an
// arbitrarily-oriented input volume into the reference atlas frame.
package voxel

import (
	"fmt"
	"math"
)

// Shape describes the extent of a volume along each of its three axes.
type Shape [3]int

// Size returns the total number of voxels for the shape.
func (s Shape) Size() int {
	return s[0] * s[1] * s[2]
}

// Valid reports whether every axis has a positive extent.
func (s Shape) Valid() bool {
	return s[0] > 0 && s[1] > 0 && s[2] > 0
}

func (s Shape) String() string {
	return fmt.Sprintf("(%d, %d, %d)", s[0], s[1], s[2])
}

// Volume is a 3D numeric array stored as a flat slice in C order, with axis 0
// varying slowest. Binary volumes hold {0,1} values; density volumes hold
// arbitrary floating point values.
type Volume struct {
	// Data is the voxel data as a 1D array in C order
	Data []float64

	// Dims is the shape of the volume along each axis
	Dims Shape
}

// New creates a zero-filled volume with the given shape.
func New(dims Shape) *Volume {
	return &Volume{
		Data: make([]float64, dims.Size()),
		Dims: dims,
	}
}

// FromData wraps an existing flat data slice as a volume. The data length
// must match the shape.
func FromData(data []float64, dims Shape) (*Volume, error) {
	if !dims.Valid() {
		return nil, &ShapeError{Op: "voxel: wrap data", Want: dims, Got: dims}
	}
	if len(data) != dims.Size() {
		return nil, fmt.Errorf("voxel: wrap data: %w: %d values for shape %v",
			ErrShape, len(data), dims)
	}
	return &Volume{Data: data, Dims: dims}, nil
}

// Index converts (i, j, k) axis coordinates to the flat C-order index.
func (v *Volume) Index(i, j, k int) int {
	return (i*v.Dims[1]+j)*v.Dims[2] + k
}

// At returns the value at (i, j, k).
func (v *Volume) At(i, j, k int) float64 {
	return v.Data[v.Index(i, j, k)]
}

// Set stores a value at (i, j, k).
func (v *Volume) Set(i, j, k int, value float64) {
	v.Data[v.Index(i, j, k)] = value
}

// Clone returns a deep copy of the volume.
func (v *Volume) Clone() *Volume {
	out := New(v.Dims)
	copy(out.Data, v.Data)
	return out
}

// Sum returns the sum of all voxel values. For a binary volume this is the
// number of selected voxels.
func (v *Volume) Sum() float64 {
	total := 0.0
	for _, value := range v.Data {
		total += value
	}
	return total
}

// CountNonzero returns the number of voxels with a nonzero value.
func (v *Volume) CountNonzero() int {
	n := 0
	for _, value := range v.Data {
		if value != 0 {
			n++
		}
	}
	return n
}

// IsBinary reports whether every voxel is exactly 0 or 1.
func (v *Volume) IsBinary() bool {
	for _, value := range v.Data {
		if value != 0 && value != 1 {
			return false
		}
	}
	return true
}

// Max returns the largest voxel value, or 0 for an empty volume.
func (v *Volume) Max() float64 {
	max := math.Inf(-1)
	for _, value := range v.Data {
		if value > max {
			max = value
		}
	}
	if math.IsInf(max, -1) {
		return 0
	}
	return max
}

// Threshold returns a binary volume with 1 wherever the value is strictly
// greater than t.
func (v *Volume) Threshold(t float64) *Volume {
	out := New(v.Dims)
	for i, value := range v.Data {
		if value > t {
			out.Data[i] = 1
		}
	}
	return out
}

// Mul returns the element-wise product of the volume with a mask of the same
// shape. Voxels outside the mask are zeroed.
func (v *Volume) Mul(mask *Volume) (*Volume, error) {
	if v.Dims != mask.Dims {
		return nil, &ShapeError{Op: "voxel: multiply mask", Want: v.Dims, Got: mask.Dims}
	}
	out := New(v.Dims)
	for i := range v.Data {
		out.Data[i] = v.Data[i] * mask.Data[i]
	}
	return out, nil
}

// MaskedSum returns the sum of the element-wise product with a mask without
// materializing the product volume.
func (v *Volume) MaskedSum(mask *Volume) (float64, error) {
	if v.Dims != mask.Dims {
		return 0, &ShapeError{Op: "voxel: masked sum", Want: v.Dims, Got: mask.Dims}
	}
	total := 0.0
	for i := range v.Data {
		total += v.Data[i] * mask.Data[i]
	}
	return total, nil
}

// Transpose102 swaps the first two axes, returning a new volume. This matches
// the orientation convention difference between the imaging pipeline and the
// reference annotation.
func (v *Volume) Transpose102() *Volume {
	out := New(Shape{v.Dims[1], v.Dims[0], v.Dims[2]})
	for i := 0; i < v.Dims[0]; i++ {
		for j := 0; j < v.Dims[1]; j++ {
			for k := 0; k < v.Dims[2]; k++ {
				out.Set(j, i, k, v.At(i, j, k))
			}
		}
	}
	return out
}

// Pad zero-pads the volume with the given number of voxels before and after
// each axis, returning a new volume.
func (v *Volume) Pad(before, after Shape) *Volume {
	dims := Shape{
		before[0] + v.Dims[0] + after[0],
		before[1] + v.Dims[1] + after[1],
		before[2] + v.Dims[2] + after[2],
	}
	out := New(dims)
	for i := 0; i < v.Dims[0]; i++ {
		for j := 0; j < v.Dims[1]; j++ {
			// Rows along axis 2 are contiguous in both volumes
			src := v.Index(i, j, 0)
			dst := out.Index(before[0]+i, before[1]+j, before[2])
			copy(out.Data[dst:dst+v.Dims[2]], v.Data[src:src+v.Dims[2]])
		}
	}
	return out
}

// Flip reverses the voxel order along the given axis, returning a new volume.
func (v *Volume) Flip(axis int) *Volume {
	out := New(v.Dims)
	for i := 0; i < v.Dims[0]; i++ {
		for j := 0; j < v.Dims[1]; j++ {
			for k := 0; k < v.Dims[2]; k++ {
				si, sj, sk := i, j, k
				switch axis {
				case 0:
					si = v.Dims[0] - 1 - i
				case 1:
					sj = v.Dims[1] - 1 - j
				case 2:
					sk = v.Dims[2] - 1 - k
				}
				out.Set(i, j, k, v.At(si, sj, sk))
			}
		}
	}
	return out
}

// Equal reports whether two volumes have identical shape and bit-identical
// voxel values.
func (v *Volume) Equal(other *Volume) bool {
	if v.Dims != other.Dims {
		return false
	}
	for i := range v.Data {
		if v.Data[i] != other.Data[i] {
			return false
		}
	}
	return true
}
