// Package interpolation provides volumetric resampling used to fit
// variably-sized acquisition volumes to the aligner's expected shape.
package interpolation

import (
	"errors"
	"fmt"
)

// ErrDegenerateShape indicates a source or target shape with a non-positive
// axis extent.
var ErrDegenerateShape = errors.New("degenerate shape")

// ResampleTrilinear resamples a flat C-order 3D array from the source shape
// to the destination shape using trilinear interpolation. Sample positions
// are voxel-center aligned, so a constant volume resamples to the same
// constant and an identity resample returns an exact copy.
func ResampleTrilinear(data []float64, src, dst [3]int) ([]float64, error) {
	for axis := 0; axis < 3; axis++ {
		if src[axis] < 1 || dst[axis] < 1 {
			return nil, fmt.Errorf("interpolation: resample %v to %v: %w", src, dst, ErrDegenerateShape)
		}
	}
	if len(data) != src[0]*src[1]*src[2] {
		return nil, fmt.Errorf("interpolation: resample: %d values for shape %v", len(data), src)
	}

	if src == dst {
		out := make([]float64, len(data))
		copy(out, data)
		return out, nil
	}

	out := make([]float64, dst[0]*dst[1]*dst[2])

	// Precompute per-axis neighbor indices and fractional weights.
	lo := [3][]int{}
	hi := [3][]int{}
	frac := [3][]float64{}
	for axis := 0; axis < 3; axis++ {
		lo[axis] = make([]int, dst[axis])
		hi[axis] = make([]int, dst[axis])
		frac[axis] = make([]float64, dst[axis])
		scale := float64(src[axis]) / float64(dst[axis])
		for i := 0; i < dst[axis]; i++ {
			// Voxel-center mapping, clamped to the source extent
			pos := (float64(i)+0.5)*scale - 0.5
			if pos < 0 {
				pos = 0
			}
			if pos > float64(src[axis]-1) {
				pos = float64(src[axis] - 1)
			}
			l := int(pos)
			h := l + 1
			if h > src[axis]-1 {
				h = src[axis] - 1
			}
			lo[axis][i] = l
			hi[axis][i] = h
			frac[axis][i] = pos - float64(l)
		}
	}

	stride0 := src[1] * src[2]
	stride1 := src[2]
	idx := 0
	for i := 0; i < dst[0]; i++ {
		i0, i1, fi := lo[0][i], hi[0][i], frac[0][i]
		for j := 0; j < dst[1]; j++ {
			j0, j1, fj := lo[1][j], hi[1][j], frac[1][j]
			for k := 0; k < dst[2]; k++ {
				k0, k1, fk := lo[2][k], hi[2][k], frac[2][k]

				c000 := data[i0*stride0+j0*stride1+k0]
				c001 := data[i0*stride0+j0*stride1+k1]
				c010 := data[i0*stride0+j1*stride1+k0]
				c011 := data[i0*stride0+j1*stride1+k1]
				c100 := data[i1*stride0+j0*stride1+k0]
				c101 := data[i1*stride0+j0*stride1+k1]
				c110 := data[i1*stride0+j1*stride1+k0]
				c111 := data[i1*stride0+j1*stride1+k1]

				c00 := c000 + (c001-c000)*fk
				c01 := c010 + (c011-c010)*fk
				c10 := c100 + (c101-c100)*fk
				c11 := c110 + (c111-c110)*fk

				c0 := c00 + (c01-c00)*fj
				c1 := c10 + (c11-c10)*fj

				out[idx] = c0 + (c1-c0)*fi
				idx++
			}
		}
	}

	return out, nil
}
