// Package connectivity holds the precomputed voxel-to-voxel connectivity
// model: a dense weight matrix together with the source and target masks
// that map between reference-frame volumes and the matrix index spaces.
// The model is loaded once and treated as read-only shared state.
package connectivity

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/nbingo/Mouse-voxel-connectivity-simplified/pkg/voxel"
)

// Mask is a boolean reference-frame volume paired with the flat C-order
// index of every selected voxel. Position i in the matrix index space
// corresponds to the i-th selected voxel in scan order.
type Mask struct {
	vol   *voxel.Volume
	index []int
}

// NewMask builds a mask from a binary reference-frame volume.
func NewMask(v *voxel.Volume) (*Mask, error) {
	if v == nil || !v.Dims.Valid() {
		return nil, &voxel.ShapeError{Op: "connectivity: new mask", Want: voxel.Shape{1, 1, 1}, Got: voxel.Shape{}}
	}
	if !v.IsBinary() {
		return nil, fmt.Errorf("connectivity: new mask: %w: mask volume must be binary", voxel.ErrShape)
	}
	m := &Mask{vol: v.Clone()}
	for i, value := range v.Data {
		if value == 1 {
			m.index = append(m.index, i)
		}
	}
	return m, nil
}

// Len returns the size of the mask's flat index space.
func (m *Mask) Len() int {
	return len(m.index)
}

// Shape returns the reference-frame shape of the mask.
func (m *Mask) Shape() voxel.Shape {
	return m.vol.Dims
}

// MaskVolume flattens a reference-frame volume into the mask's index space,
// returning the volume's value at each masked voxel in scan order.
func (m *Mask) MaskVolume(v *voxel.Volume) ([]float64, error) {
	if v.Dims != m.vol.Dims {
		return nil, &voxel.ShapeError{Op: "connectivity: mask volume", Want: m.vol.Dims, Got: v.Dims}
	}
	out := make([]float64, len(m.index))
	for i, flat := range m.index {
		out[i] = v.Data[flat]
	}
	return out, nil
}

// MapToVolume expands a flat index-space row back into a reference-frame
// volume, placing each value at its annotated voxel and zero elsewhere.
func (m *Mask) MapToVolume(row []float64) (*voxel.Volume, error) {
	if len(row) != len(m.index) {
		return nil, fmt.Errorf("connectivity: map to volume: %w: %d values for %d masked voxels",
			voxel.ErrShape, len(row), len(m.index))
	}
	out := voxel.New(m.vol.Dims)
	for i, flat := range m.index {
		out.Data[flat] = row[i]
	}
	return out, nil
}

// Model is the immutable precomputed connectivity triple. Rows of the weight
// matrix are source voxels, columns are target voxels.
type Model struct {
	Weights *mat.Dense
	Source  *Mask
	Target  *Mask
	Version string
}

// Rows returns the number of source voxels in the matrix.
func (m *Model) Rows() int {
	r, _ := m.Weights.Dims()
	return r
}

// Cols returns the number of target voxels in the matrix.
func (m *Model) Cols() int {
	_, c := m.Weights.Dims()
	return c
}

// Shape returns the reference-frame shape shared by both masks.
func (m *Model) Shape() voxel.Shape {
	return m.Source.Shape()
}

// New assembles a model from its parts, validating that the matrix
// dimensions match the mask index spaces and that the masks share a frame.
func New(weights *mat.Dense, source, target *Mask, version string) (*Model, error) {
	rows, cols := weights.Dims()
	if rows != source.Len() {
		return nil, fmt.Errorf("connectivity: new model: %w: %d matrix rows for %d source voxels",
			voxel.ErrShape, rows, source.Len())
	}
	if cols != target.Len() {
		return nil, fmt.Errorf("connectivity: new model: %w: %d matrix columns for %d target voxels",
			voxel.ErrShape, cols, target.Len())
	}
	if source.Shape() != target.Shape() {
		return nil, &voxel.ShapeError{Op: "connectivity: new model", Want: source.Shape(), Got: target.Shape()}
	}
	return &Model{Weights: weights, Source: source, Target: target, Version: version}, nil
}
