package voxel

import (
	"errors"
	"testing"
)

// TestShapeSize verifies voxel counting and validity checks on shapes
func TestShapeSize(t *testing.T) {
	s := Shape{3, 4, 5}
	if s.Size() != 60 {
		t.Errorf("Expected size 60, got %d", s.Size())
	}
	if !s.Valid() {
		t.Error("Expected shape to be valid")
	}

	degenerate := Shape{3, 0, 5}
	if degenerate.Valid() {
		t.Error("Expected zero-extent shape to be invalid")
	}
}

// TestFromData verifies wrapping a flat slice as a volume
func TestFromData(t *testing.T) {
	data := make([]float64, 24)
	v, err := FromData(data, Shape{2, 3, 4})
	if err != nil {
		t.Fatalf("Failed to wrap data: %v", err)
	}
	if v.Dims != (Shape{2, 3, 4}) {
		t.Errorf("Expected shape (2, 3, 4), got %v", v.Dims)
	}

	// Mismatched length must be rejected with the shape sentinel
	_, err = FromData(make([]float64, 23), Shape{2, 3, 4})
	if !errors.Is(err, ErrShape) {
		t.Errorf("Expected ErrShape for short data, got %v", err)
	}
}

// TestIndexing verifies the C-order flat index convention, with axis 0 slowest
func TestIndexing(t *testing.T) {
	v := New(Shape{2, 3, 4})

	if idx := v.Index(0, 0, 1); idx != 1 {
		t.Errorf("Expected axis 2 to be contiguous, got index %d", idx)
	}
	if idx := v.Index(0, 1, 0); idx != 4 {
		t.Errorf("Expected stride 4 along axis 1, got index %d", idx)
	}
	if idx := v.Index(1, 0, 0); idx != 12 {
		t.Errorf("Expected stride 12 along axis 0, got index %d", idx)
	}

	v.Set(1, 2, 3, 7.5)
	if v.At(1, 2, 3) != 7.5 {
		t.Errorf("Expected 7.5 at (1,2,3), got %f", v.At(1, 2, 3))
	}
	if v.Data[23] != 7.5 {
		t.Errorf("Expected value at flat index 23, got %f", v.Data[23])
	}
}

// TestCloneIndependence verifies that a clone does not share storage
func TestCloneIndependence(t *testing.T) {
	v := New(Shape{2, 2, 2})
	v.Set(0, 0, 0, 1)

	clone := v.Clone()
	clone.Set(0, 0, 0, 9)

	if v.At(0, 0, 0) != 1 {
		t.Errorf("Expected original to be unchanged, got %f", v.At(0, 0, 0))
	}
}

// TestSumAndCount verifies the summary statistics on a small volume
func TestSumAndCount(t *testing.T) {
	v := New(Shape{2, 2, 2})
	v.Data = []float64{0, 1, 0, 2.5, 0, 0, 1, 0}

	if v.Sum() != 4.5 {
		t.Errorf("Expected sum 4.5, got %f", v.Sum())
	}
	if v.CountNonzero() != 3 {
		t.Errorf("Expected 3 nonzero voxels, got %d", v.CountNonzero())
	}
	if v.Max() != 2.5 {
		t.Errorf("Expected max 2.5, got %f", v.Max())
	}
	if v.IsBinary() {
		t.Error("Expected volume with 2.5 not to be binary")
	}

	b := v.Threshold(0.5)
	if !b.IsBinary() {
		t.Error("Expected thresholded volume to be binary")
	}
}

// TestThresholdStrict verifies that thresholding is strictly greater-than
func TestThresholdStrict(t *testing.T) {
	v := New(Shape{1, 1, 4})
	v.Data = []float64{0.1, 0.2, 0.3, 0.9}

	b := v.Threshold(0.2)
	want := []float64{0, 0, 1, 1}
	for i, expected := range want {
		if b.Data[i] != expected {
			t.Errorf("Voxel %d: expected %v, got %v", i, expected, b.Data[i])
		}
	}
}

// TestMulAndMaskedSum verifies masking and that the two formulations agree
func TestMulAndMaskedSum(t *testing.T) {
	v := New(Shape{1, 2, 2})
	v.Data = []float64{1, 2, 3, 4}

	mask := New(Shape{1, 2, 2})
	mask.Data = []float64{1, 0, 1, 0}

	masked, err := v.Mul(mask)
	if err != nil {
		t.Fatalf("Failed to mask volume: %v", err)
	}
	if masked.Sum() != 4 {
		t.Errorf("Expected masked sum 4, got %f", masked.Sum())
	}

	direct, err := v.MaskedSum(mask)
	if err != nil {
		t.Fatalf("Failed to compute masked sum: %v", err)
	}
	if direct != masked.Sum() {
		t.Errorf("Expected MaskedSum to equal Mul().Sum(), got %f vs %f", direct, masked.Sum())
	}

	// Shape mismatches are shape errors
	if _, err := v.Mul(New(Shape{2, 2, 2})); !errors.Is(err, ErrShape) {
		t.Errorf("Expected ErrShape for mismatched mask, got %v", err)
	}
	if _, err := v.MaskedSum(New(Shape{2, 2, 2})); !errors.Is(err, ErrShape) {
		t.Errorf("Expected ErrShape for mismatched mask, got %v", err)
	}
}

// TestTranspose102 verifies that the first two axes swap and values follow
func TestTranspose102(t *testing.T) {
	v := New(Shape{2, 3, 4})
	for i := range v.Data {
		v.Data[i] = float64(i)
	}

	out := v.Transpose102()
	if out.Dims != (Shape{3, 2, 4}) {
		t.Fatalf("Expected shape (3, 2, 4), got %v", out.Dims)
	}

	for i := 0; i < 2; i++ {
		for j := 0; j < 3; j++ {
			for k := 0; k < 4; k++ {
				if out.At(j, i, k) != v.At(i, j, k) {
					t.Fatalf("Transpose mismatch at (%d,%d,%d)", i, j, k)
				}
			}
		}
	}

	// Transposing twice restores the original
	if !v.Equal(out.Transpose102()) {
		t.Error("Expected double transpose to restore the volume")
	}
}

// TestPad verifies asymmetric zero-padding offsets and content placement
func TestPad(t *testing.T) {
	v := New(Shape{1, 2, 2})
	v.Data = []float64{1, 2, 3, 4}

	out := v.Pad(Shape{0, 1, 2}, Shape{1, 0, 1})
	if out.Dims != (Shape{2, 3, 5}) {
		t.Fatalf("Expected shape (2, 3, 5), got %v", out.Dims)
	}
	if out.Sum() != v.Sum() {
		t.Errorf("Expected padding to preserve mass, got %f vs %f", out.Sum(), v.Sum())
	}
	if out.At(0, 1, 2) != 1 || out.At(0, 2, 3) != 4 {
		t.Error("Expected content shifted by the before offsets")
	}
	if out.At(0, 0, 0) != 0 || out.At(1, 2, 4) != 0 {
		t.Error("Expected zero values in the padded region")
	}
}

// TestFlip verifies axis reversal and the involution property
func TestFlip(t *testing.T) {
	v := New(Shape{2, 3, 2})
	for i := range v.Data {
		v.Data[i] = float64(i)
	}

	for axis := 0; axis < 3; axis++ {
		flipped := v.Flip(axis)
		if flipped.Equal(v) {
			t.Errorf("Expected flip along axis %d to change the volume", axis)
		}
		if !flipped.Flip(axis).Equal(v) {
			t.Errorf("Expected double flip along axis %d to restore the volume", axis)
		}
	}

	f := v.Flip(1)
	if f.At(0, 0, 0) != v.At(0, 2, 0) {
		t.Error("Expected flipped axis 1 to read from the far row")
	}
}

// TestShapeError verifies the shape error wrapping used across the pipeline
func TestShapeError(t *testing.T) {
	err := &ShapeError{Op: "voxel: test", Want: Shape{1, 2, 3}, Got: Shape{3, 2, 1}}
	if !errors.Is(err, ErrShape) {
		t.Error("Expected ShapeError to unwrap to ErrShape")
	}

	var shapeErr *ShapeError
	if !errors.As(error(err), &shapeErr) {
		t.Error("Expected errors.As to recover the ShapeError")
	}
	if shapeErr.Want != (Shape{1, 2, 3}) {
		t.Errorf("Expected want shape (1, 2, 3), got %v", shapeErr.Want)
	}
}
