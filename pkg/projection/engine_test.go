package projection

import (
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"strings"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/nbingo/Mouse-voxel-connectivity-simplified/pkg/connectivity"
	"github.com/nbingo/Mouse-voxel-connectivity-simplified/pkg/tiffvol"
	"github.com/nbingo/Mouse-voxel-connectivity-simplified/pkg/voxel"
)

// fakeResolver is an in-memory Resolver over a fixed name catalog, with each
// structure mapped to a set of flat voxel indices.
type fakeResolver struct {
	shape voxel.Shape
	ids   map[string]int
	masks map[int][]int
}

func (r *fakeResolver) NamesToIDs(names []string) ([]int, error) {
	ids := make([]int, 0, len(names))
	var missing []string
	for _, name := range names {
		id, ok := r.ids[name]
		if !ok {
			missing = append(missing, name)
			continue
		}
		ids = append(ids, id)
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", voxel.ErrUnknownStructure, strings.Join(missing, ", "))
	}
	return ids, nil
}

func (r *fakeResolver) IDsToMask(ids []int) (*voxel.Volume, error) {
	mask := voxel.New(r.shape)
	for _, id := range ids {
		flats, ok := r.masks[id]
		if !ok {
			return nil, fmt.Errorf("%w: id %d", voxel.ErrUnknownStructure, id)
		}
		for _, flat := range flats {
			mask.Data[flat] = 1
		}
	}
	return mask, nil
}

func (r *fakeResolver) ValidateNames(names []string) error {
	_, err := r.NamesToIDs(names)
	return err
}

// testModel builds a 1x2x3 frame with source voxels at flat indices 0 and 1,
// target voxels at 3, 4 and 5, and the weight matrix
//
//	row 0: [1, 2, 3]
//	row 1: [10, 20, 30]
func testModel(t *testing.T, weights []float64) *connectivity.Model {
	t.Helper()

	shape := voxel.Shape{1, 2, 3}
	sourceVol, err := voxel.FromData([]float64{1, 1, 0, 0, 0, 0}, shape)
	if err != nil {
		t.Fatalf("Failed to build source volume: %v", err)
	}
	targetVol, err := voxel.FromData([]float64{0, 0, 0, 1, 1, 1}, shape)
	if err != nil {
		t.Fatalf("Failed to build target volume: %v", err)
	}

	source, err := connectivity.NewMask(sourceVol)
	if err != nil {
		t.Fatalf("Failed to build source mask: %v", err)
	}
	target, err := connectivity.NewMask(targetVol)
	if err != nil {
		t.Fatalf("Failed to build target mask: %v", err)
	}

	if weights == nil {
		weights = []float64{1, 2, 3, 10, 20, 30}
	}
	model, err := connectivity.New(mat.NewDense(2, 3, weights), source, target, "test")
	if err != nil {
		t.Fatalf("Failed to build model: %v", err)
	}
	return model
}

func testResolver() *fakeResolver {
	return &fakeResolver{
		shape: voxel.Shape{1, 2, 3},
		ids: map[string]int{
			"Alpha nucleus": 1,
			"Beta field":    2,
			"Source region": 3,
			"Empty region":  4,
		},
		masks: map[int][]int{
			1: {3},
			2: {4, 5},
			3: {0},
			4: {},
		},
	}
}

// testEngine builds an engine over the small fixture model with alignment
// parameters matching the 1x2x3 frame: 2x1x3 inputs, no padding.
func testEngine(t *testing.T, cfg Config) *Engine {
	t.Helper()

	if cfg.Align.ReferenceShape == (voxel.Shape{}) {
		cfg.Align = voxel.AlignParams{
			IntermediateShape: voxel.Shape{2, 1, 3},
			ReferenceShape:    voxel.Shape{1, 2, 3},
		}
	}
	engine, err := New(testModel(t, nil), testResolver(), cfg)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	return engine
}

// sourceVolume builds a binary reference-frame source volume from flat voxel
// indices.
func sourceVolume(flats ...int) *voxel.Volume {
	v := voxel.New(voxel.Shape{1, 2, 3})
	for _, flat := range flats {
		v.Data[flat] = 1
	}
	return v
}

// TestNewValidation verifies the constructor's configuration checks
func TestNewValidation(t *testing.T) {
	model := testModel(t, nil)
	resolver := testResolver()
	align := voxel.AlignParams{
		IntermediateShape: voxel.Shape{2, 1, 3},
		ReferenceShape:    voxel.Shape{1, 2, 3},
	}

	if _, err := New(nil, resolver, Config{Align: align}); !errors.Is(err, voxel.ErrConfiguration) {
		t.Errorf("Expected ErrConfiguration for nil model, got %v", err)
	}
	if _, err := New(model, resolver, Config{Align: align, Reduction: "median"}); !errors.Is(err, voxel.ErrConfiguration) {
		t.Errorf("Expected ErrConfiguration for unknown reduction, got %v", err)
	}
	if _, err := New(model, resolver, Config{Align: align, OutputBits: 24}); !errors.Is(err, voxel.ErrConfiguration) {
		t.Errorf("Expected ErrConfiguration for bad bit depth, got %v", err)
	}

	mismatched := align
	mismatched.ReferenceShape = voxel.Shape{2, 2, 3}
	if _, err := New(model, resolver, Config{Align: mismatched}); !errors.Is(err, voxel.ErrConfiguration) {
		t.Errorf("Expected ErrConfiguration for frame mismatch, got %v", err)
	}

	engine, err := New(model, resolver, Config{Align: align})
	if err != nil {
		t.Fatalf("Failed to create engine with defaults: %v", err)
	}
	if engine.Reduction() != ReductionSum {
		t.Errorf("Expected default reduction sum, got %q", engine.Reduction())
	}
}

// TestInferSum verifies summed row reduction over the selected source voxels
func TestInferSum(t *testing.T) {
	engine := testEngine(t, Config{})

	proj, err := engine.Infer(sourceVolume(0, 1))
	if err != nil {
		t.Fatalf("Failed to infer: %v", err)
	}

	want := []float64{0, 0, 0, 11, 22, 33}
	for i, expected := range want {
		if proj.Data[i] != expected {
			t.Errorf("Voxel %d: expected %v, got %v", i, expected, proj.Data[i])
		}
	}

	// A single selected voxel picks out its matrix row
	single, err := engine.Infer(sourceVolume(1))
	if err != nil {
		t.Fatalf("Failed to infer: %v", err)
	}
	wantSingle := []float64{0, 0, 0, 10, 20, 30}
	for i, expected := range wantSingle {
		if single.Data[i] != expected {
			t.Errorf("Voxel %d: expected %v, got %v", i, expected, single.Data[i])
		}
	}
}

// TestInferMean verifies averaged row reduction
func TestInferMean(t *testing.T) {
	engine := testEngine(t, Config{Reduction: ReductionMean})

	proj, err := engine.Infer(sourceVolume(0, 1))
	if err != nil {
		t.Fatalf("Failed to infer: %v", err)
	}

	want := []float64{0, 0, 0, 5.5, 11, 16.5}
	for i, expected := range want {
		if proj.Data[i] != expected {
			t.Errorf("Voxel %d: expected %v, got %v", i, expected, proj.Data[i])
		}
	}
}

// TestInferDeterminism verifies that repeated inference is bit-identical
func TestInferDeterminism(t *testing.T) {
	engine := testEngine(t, Config{})
	source := sourceVolume(0, 1)

	first, err := engine.Infer(source)
	if err != nil {
		t.Fatalf("Failed to infer: %v", err)
	}
	second, err := engine.Infer(source)
	if err != nil {
		t.Fatalf("Failed to infer again: %v", err)
	}
	if !first.Equal(second) {
		t.Error("Expected repeated inference to be bit-identical")
	}
}

// TestInferNaNWeights verifies that NaN matrix entries become zero in the
// projection volume
func TestInferNaNWeights(t *testing.T) {
	model := testModel(t, []float64{math.NaN(), 2, 3, 10, 20, 30})
	engine, err := New(model, testResolver(), Config{Align: voxel.AlignParams{
		IntermediateShape: voxel.Shape{2, 1, 3},
		ReferenceShape:    voxel.Shape{1, 2, 3},
	}})
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}

	proj, err := engine.Infer(sourceVolume(0))
	if err != nil {
		t.Fatalf("Failed to infer: %v", err)
	}
	want := []float64{0, 0, 0, 0, 2, 3}
	for i, expected := range want {
		if proj.Data[i] != expected {
			t.Errorf("Voxel %d: expected %v, got %v", i, expected, proj.Data[i])
		}
	}
}

// TestInferEmptySelection verifies both empty-selection policies
func TestInferEmptySelection(t *testing.T) {
	t.Run("zero volume by default", func(t *testing.T) {
		engine := testEngine(t, Config{})
		proj, err := engine.Infer(sourceVolume())
		if err != nil {
			t.Fatalf("Expected a zero volume, got error %v", err)
		}
		if proj.Sum() != 0 {
			t.Errorf("Expected an all-zero projection volume, got sum %f", proj.Sum())
		}
		if proj.Dims != (voxel.Shape{1, 2, 3}) {
			t.Errorf("Expected reference shape, got %v", proj.Dims)
		}
	})

	t.Run("fail when configured", func(t *testing.T) {
		engine := testEngine(t, Config{FailOnEmptySource: true})
		if _, err := engine.Infer(sourceVolume()); !errors.Is(err, voxel.ErrEmptySelection) {
			t.Errorf("Expected ErrEmptySelection, got %v", err)
		}
	})

	t.Run("voxels outside the source mask do not count", func(t *testing.T) {
		engine := testEngine(t, Config{FailOnEmptySource: true})
		// Flat index 2 is outside the model's source mask
		if _, err := engine.Infer(sourceVolume(2)); !errors.Is(err, voxel.ErrEmptySelection) {
			t.Errorf("Expected ErrEmptySelection, got %v", err)
		}
	})
}

// TestInferRejectsBadSource verifies the shape and binarity checks
func TestInferRejectsBadSource(t *testing.T) {
	engine := testEngine(t, Config{})

	if _, err := engine.Infer(voxel.New(voxel.Shape{2, 2, 3})); !errors.Is(err, voxel.ErrShape) {
		t.Errorf("Expected ErrShape for wrong frame, got %v", err)
	}

	fuzzy := sourceVolume(0)
	fuzzy.Data[1] = 0.7
	if _, err := engine.Infer(fuzzy); !errors.Is(err, voxel.ErrShape) {
		t.Errorf("Expected ErrShape for non-binary source, got %v", err)
	}
}

// TestProjectionsCache verifies caching and its invalidation on every source
// mutation
func TestProjectionsCache(t *testing.T) {
	engine := testEngine(t, Config{})

	if _, err := engine.Projections(); !errors.Is(err, voxel.ErrConfiguration) {
		t.Fatalf("Expected ErrConfiguration without a source, got %v", err)
	}

	if err := engine.SetSource(sourceVolume(0)); err != nil {
		t.Fatalf("Failed to set source: %v", err)
	}
	first, err := engine.Projections()
	if err != nil {
		t.Fatalf("Failed to compute projections: %v", err)
	}
	cached, err := engine.Projections()
	if err != nil {
		t.Fatalf("Failed to read cached projections: %v", err)
	}
	if first != cached {
		t.Error("Expected the cached volume to be returned")
	}

	// Replacing the source invalidates the cache
	if err := engine.SetSource(sourceVolume(1)); err != nil {
		t.Fatalf("Failed to replace source: %v", err)
	}
	second, err := engine.Projections()
	if err != nil {
		t.Fatalf("Failed to recompute projections: %v", err)
	}
	if second.Equal(first) {
		t.Error("Expected new projections after the source changed")
	}
	if second.At(0, 1, 0) != 10 {
		t.Errorf("Expected recomputed projection 10, got %v", second.At(0, 1, 0))
	}
}

// TestThreshold verifies binarization of a loaded density volume
func TestThreshold(t *testing.T) {
	engine := testEngine(t, Config{})

	density := voxel.New(voxel.Shape{1, 2, 3})
	density.Data = []float64{0.1, 0.9, 0, 0, 0, 0}
	if err := engine.SetSource(density); err != nil {
		t.Fatalf("Failed to set source: %v", err)
	}

	if err := engine.Threshold(0.2); err != nil {
		t.Fatalf("Failed to threshold: %v", err)
	}
	if !engine.Source().IsBinary() {
		t.Error("Expected a binary source after thresholding")
	}
	if engine.Source().Sum() != 1 {
		t.Errorf("Expected one voxel above threshold, got %f", engine.Source().Sum())
	}

	proj, err := engine.Projections()
	if err != nil {
		t.Fatalf("Failed to compute projections: %v", err)
	}
	// Only flat voxel 1 survived, so the projection is matrix row 1
	if proj.At(0, 1, 2) != 30 {
		t.Errorf("Expected projection 30, got %v", proj.At(0, 1, 2))
	}

	fresh := testEngine(t, Config{})
	if err := fresh.Threshold(0.2); !errors.Is(err, voxel.ErrConfiguration) {
		t.Errorf("Expected ErrConfiguration without a source, got %v", err)
	}
}

// TestFilterByNames verifies structure filtering of the source volume
func TestFilterByNames(t *testing.T) {
	engine := testEngine(t, Config{})

	if err := engine.SetSource(sourceVolume(0, 1)); err != nil {
		t.Fatalf("Failed to set source: %v", err)
	}

	// "Source region" covers only flat voxel 0
	if err := engine.FilterByNames([]string{"Source region"}); err != nil {
		t.Fatalf("Failed to filter: %v", err)
	}
	if engine.Source().Sum() != 1 {
		t.Errorf("Expected one voxel after filtering, got %f", engine.Source().Sum())
	}
	if engine.FilterArea() != "Source region" {
		t.Errorf("Expected filter label to be recorded, got %q", engine.FilterArea())
	}

	proj, err := engine.Projections()
	if err != nil {
		t.Fatalf("Failed to compute projections: %v", err)
	}
	want := []float64{0, 0, 0, 1, 2, 3}
	for i, expected := range want {
		if proj.Data[i] != expected {
			t.Errorf("Voxel %d: expected %v, got %v", i, expected, proj.Data[i])
		}
	}

	// Unknown names fail and leave the source untouched
	if err := engine.FilterByNames([]string{"Nonexistent area"}); !errors.Is(err, voxel.ErrUnknownStructure) {
		t.Errorf("Expected ErrUnknownStructure, got %v", err)
	}
	if engine.Source().Sum() != 1 {
		t.Error("Expected the source to survive a failed filter")
	}
}

// TestSetSourceArea verifies the source-area label validation
func TestSetSourceArea(t *testing.T) {
	engine := testEngine(t, Config{})

	if err := engine.SetSourceArea("Alpha nucleus"); err != nil {
		t.Fatalf("Failed to set source area: %v", err)
	}
	if engine.SourceArea() != "Alpha nucleus" {
		t.Errorf("Expected source area to be recorded, got %q", engine.SourceArea())
	}

	if err := engine.SetSourceArea("Nonexistent area"); !errors.Is(err, voxel.ErrUnknownStructure) {
		t.Errorf("Expected ErrUnknownStructure, got %v", err)
	}
	if engine.SourceArea() != "Alpha nucleus" {
		t.Error("Expected the label to survive a failed update")
	}
}

// TestLoadSource verifies the load and align path from a TIFF file
func TestLoadSource(t *testing.T) {
	engine := testEngine(t, Config{})
	dir := t.TempDir()

	// Native-frame 2x1x3 volume with one marked voxel at (0,0,1)
	raw := voxel.New(voxel.Shape{2, 1, 3})
	raw.Set(0, 0, 1, 1)
	path := filepath.Join(dir, "input.tiff")
	if err := tiffvol.Write(path, raw, 32); err != nil {
		t.Fatalf("Failed to write input: %v", err)
	}

	err := engine.LoadSource(path, LoadOptions{SourceArea: "Alpha nucleus"})
	if err != nil {
		t.Fatalf("Failed to load source: %v", err)
	}
	if engine.SourceArea() != "Alpha nucleus" {
		t.Errorf("Expected source area to be set, got %q", engine.SourceArea())
	}

	// (0,0,1) transposes to (0,0,1) and the axis 1 flip moves it to (0,1,1)
	src := engine.Source()
	if src.Dims != (voxel.Shape{1, 2, 3}) {
		t.Fatalf("Expected reference shape, got %v", src.Dims)
	}
	if src.At(0, 1, 1) != 1 || src.Sum() != 1 {
		t.Errorf("Expected the marked voxel at (0,1,1), got sum %f", src.Sum())
	}
}

// TestLoadSourceFailureKeepsState verifies that a failed load leaves the
// previous source in place
func TestLoadSourceFailureKeepsState(t *testing.T) {
	engine := testEngine(t, Config{})
	if err := engine.SetSource(sourceVolume(0)); err != nil {
		t.Fatalf("Failed to set source: %v", err)
	}

	raw := voxel.New(voxel.Shape{2, 1, 3})
	path := filepath.Join(t.TempDir(), "input.tiff")
	if err := tiffvol.Write(path, raw, 32); err != nil {
		t.Fatalf("Failed to write input: %v", err)
	}

	err := engine.LoadSource(path, LoadOptions{SourceArea: "Nonexistent area"})
	if !errors.Is(err, voxel.ErrUnknownStructure) {
		t.Fatalf("Expected ErrUnknownStructure, got %v", err)
	}
	if engine.Source() == nil || engine.Source().Sum() != 1 {
		t.Error("Expected the previous source to survive the failed load")
	}
}

// TestSaveProjections verifies the projection volume round-trips through the
// configured output file
func TestSaveProjections(t *testing.T) {
	engine := testEngine(t, Config{})
	if err := engine.SetSource(sourceVolume(0, 1)); err != nil {
		t.Fatalf("Failed to set source: %v", err)
	}

	path := filepath.Join(t.TempDir(), "proj.tiff")
	if err := engine.SaveProjections(path); err != nil {
		t.Fatalf("Failed to save projections: %v", err)
	}

	saved, err := tiffvol.Read(path)
	if err != nil {
		t.Fatalf("Failed to read saved projections: %v", err)
	}
	proj, err := engine.Projections()
	if err != nil {
		t.Fatalf("Failed to get projections: %v", err)
	}
	if !saved.Equal(proj) {
		t.Error("Expected the saved volume to match the projections")
	}
}

// TestSetProjections verifies loading precomputed projections into the cache
func TestSetProjections(t *testing.T) {
	engine := testEngine(t, Config{})

	precomputed := voxel.New(voxel.Shape{1, 2, 3})
	precomputed.Data = []float64{0, 0, 0, 1, 2, 3}
	if err := engine.SetProjections(precomputed); err != nil {
		t.Fatalf("Failed to set projections: %v", err)
	}

	proj, err := engine.Projections()
	if err != nil {
		t.Fatalf("Failed to read projections: %v", err)
	}
	if !proj.Equal(precomputed) {
		t.Error("Expected the injected projections to be returned")
	}

	if err := engine.SetProjections(voxel.New(voxel.Shape{2, 2, 3})); !errors.Is(err, voxel.ErrShape) {
		t.Errorf("Expected ErrShape for mismatched projections, got %v", err)
	}
}
