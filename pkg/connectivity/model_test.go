package connectivity

import (
	"errors"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/nbingo/Mouse-voxel-connectivity-simplified/pkg/voxel"
)

// binaryVolume builds a small binary volume from a flat value list.
func binaryVolume(t *testing.T, dims voxel.Shape, values []float64) *voxel.Volume {
	t.Helper()
	v, err := voxel.FromData(values, dims)
	if err != nil {
		t.Fatalf("Failed to build volume: %v", err)
	}
	return v
}

// TestNewMask verifies index construction in flat scan order
func TestNewMask(t *testing.T) {
	v := binaryVolume(t, voxel.Shape{1, 2, 3}, []float64{0, 1, 0, 1, 1, 0})

	m, err := NewMask(v)
	if err != nil {
		t.Fatalf("Failed to build mask: %v", err)
	}
	if m.Len() != 3 {
		t.Errorf("Expected 3 masked voxels, got %d", m.Len())
	}
	if m.Shape() != v.Dims {
		t.Errorf("Expected shape %v, got %v", v.Dims, m.Shape())
	}

	// The mask clones its volume, so later mutation has no effect
	v.Data[0] = 1
	if m.Len() != 3 {
		t.Error("Expected mask to be independent of the input volume")
	}
}

// TestNewMaskRejectsNonBinary verifies the binary requirement
func TestNewMaskRejectsNonBinary(t *testing.T) {
	v := binaryVolume(t, voxel.Shape{1, 1, 2}, []float64{0, 0.5})
	if _, err := NewMask(v); !errors.Is(err, voxel.ErrShape) {
		t.Errorf("Expected ErrShape for non-binary mask, got %v", err)
	}
	if _, err := NewMask(nil); !errors.Is(err, voxel.ErrShape) {
		t.Errorf("Expected ErrShape for nil volume, got %v", err)
	}
}

// TestMaskRoundTrip verifies that flattening and expansion are inverse on the
// masked voxels
func TestMaskRoundTrip(t *testing.T) {
	maskVol := binaryVolume(t, voxel.Shape{1, 2, 3}, []float64{0, 1, 0, 1, 1, 0})
	m, err := NewMask(maskVol)
	if err != nil {
		t.Fatalf("Failed to build mask: %v", err)
	}

	dense := binaryVolume(t, voxel.Shape{1, 2, 3}, []float64{9, 1, 9, 2, 3, 9})
	flat, err := m.MaskVolume(dense)
	if err != nil {
		t.Fatalf("Failed to flatten volume: %v", err)
	}
	want := []float64{1, 2, 3}
	for i, expected := range want {
		if flat[i] != expected {
			t.Errorf("Index %d: expected %v, got %v", i, expected, flat[i])
		}
	}

	back, err := m.MapToVolume(flat)
	if err != nil {
		t.Fatalf("Failed to expand row: %v", err)
	}
	wantVol := []float64{0, 1, 0, 2, 3, 0}
	for i, expected := range wantVol {
		if back.Data[i] != expected {
			t.Errorf("Voxel %d: expected %v, got %v", i, expected, back.Data[i])
		}
	}
}

// TestMaskShapeErrors verifies the shape checks on both directions
func TestMaskShapeErrors(t *testing.T) {
	m, err := NewMask(binaryVolume(t, voxel.Shape{1, 2, 3}, []float64{0, 1, 0, 1, 0, 0}))
	if err != nil {
		t.Fatalf("Failed to build mask: %v", err)
	}

	if _, err := m.MaskVolume(voxel.New(voxel.Shape{2, 2, 3})); !errors.Is(err, voxel.ErrShape) {
		t.Errorf("Expected ErrShape for mismatched volume, got %v", err)
	}
	if _, err := m.MapToVolume([]float64{1, 2, 3}); !errors.Is(err, voxel.ErrShape) {
		t.Errorf("Expected ErrShape for wrong row length, got %v", err)
	}
}

// TestNewModel verifies the dimension checks between matrix and masks
func TestNewModel(t *testing.T) {
	source, err := NewMask(binaryVolume(t, voxel.Shape{1, 2, 3}, []float64{1, 1, 0, 0, 0, 0}))
	if err != nil {
		t.Fatalf("Failed to build source mask: %v", err)
	}
	target, err := NewMask(binaryVolume(t, voxel.Shape{1, 2, 3}, []float64{0, 0, 0, 1, 1, 1}))
	if err != nil {
		t.Fatalf("Failed to build target mask: %v", err)
	}

	model, err := New(mat.NewDense(2, 3, nil), source, target, "v1")
	if err != nil {
		t.Fatalf("Failed to build model: %v", err)
	}
	if model.Rows() != 2 || model.Cols() != 3 {
		t.Errorf("Expected 2x3 model, got %dx%d", model.Rows(), model.Cols())
	}
	if model.Shape() != (voxel.Shape{1, 2, 3}) {
		t.Errorf("Expected shape (1, 2, 3), got %v", model.Shape())
	}

	if _, err := New(mat.NewDense(3, 3, nil), source, target, "v1"); !errors.Is(err, voxel.ErrShape) {
		t.Errorf("Expected ErrShape for row mismatch, got %v", err)
	}
	if _, err := New(mat.NewDense(2, 2, nil), source, target, "v1"); !errors.Is(err, voxel.ErrShape) {
		t.Errorf("Expected ErrShape for column mismatch, got %v", err)
	}
}
