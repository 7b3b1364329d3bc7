// Package projection implements the projection-inference engine: it aligns
// binary source volumes into the reference frame, restricts them to
// anatomical structures, applies the precomputed voxel connectivity model,
// and aggregates the resulting density volume into per-target-area strength
// reports.
//
// The pipeline is a sequence of explicit stages, load -> align -> filter ->
// infer -> aggregate, each returning a new volume. The one piece of cached
// state is the projection volume, recomputed on demand by Projections and
// invalidated whenever the source volume changes; the cache is only ever
// written after a fully successful inference.
package projection

import (
	"fmt"
	"io"
	"log/slog"
	"math"
	"strings"

	"gonum.org/v1/gonum/floats"

	"github.com/nbingo/Mouse-voxel-connectivity-simplified/pkg/connectivity"
	"github.com/nbingo/Mouse-voxel-connectivity-simplified/pkg/tiffvol"
	"github.com/nbingo/Mouse-voxel-connectivity-simplified/pkg/voxel"
)

// Resolver is the structure ontology surface the engine depends on. It is
// satisfied by ontology.Store and by in-memory test doubles.
type Resolver interface {
	// NamesToIDs maps structure names to ids, order-preserving, failing on
	// any unknown name.
	NamesToIDs(names []string) ([]int, error)

	// IDsToMask unions the structure masks into one boolean volume.
	IDsToMask(ids []int) (*voxel.Volume, error)

	// ValidateNames checks names against the catalog under the configured
	// strictness policy.
	ValidateNames(names []string) error
}

// ReductionMode selects how the selected weight matrix rows are collapsed
// into one projection row.
type ReductionMode string

const (
	// ReductionSum answers "total projection mass from all selected source
	// voxels". This matches the historical behavior and is the default.
	ReductionSum ReductionMode = "sum"

	// ReductionMean answers "average per-voxel projection strength".
	ReductionMean ReductionMode = "mean"
)

// Config holds the engine's explicit policy choices.
type Config struct {
	// Align is the geometric normalization applied by LoadSource.
	Align voxel.AlignParams

	// Reduction selects sum or mean row reduction during inference.
	Reduction ReductionMode

	// FailOnEmptySource makes inference fail with ErrEmptySelection when no
	// source voxel is selected. When false (the default) inference returns
	// an all-zero projection volume instead.
	FailOnEmptySource bool

	// OutputBits is the float bit depth for saved projection volumes:
	// 16, 32 or 64. Zero selects 32.
	OutputBits int

	// Logger receives progress messages; nil disables them.
	Logger *slog.Logger
}

// Engine ties the connectivity model and structure resolver together with
// the per-sample volume state. The model and resolver are shared read-only;
// everything else is replaced per processed sample.
type Engine struct {
	model    *connectivity.Model
	resolver Resolver
	cfg      Config
	log      *slog.Logger

	source      *voxel.Volume
	sourceArea  string
	filterArea  string
	projections *voxel.Volume
}

// New creates an engine around a loaded connectivity model and resolver.
func New(model *connectivity.Model, resolver Resolver, cfg Config) (*Engine, error) {
	if model == nil || resolver == nil {
		return nil, fmt.Errorf("projection: new engine: %w: model and resolver are required",
			voxel.ErrConfiguration)
	}
	switch cfg.Reduction {
	case "":
		cfg.Reduction = ReductionSum
	case ReductionSum, ReductionMean:
	default:
		return nil, fmt.Errorf("projection: new engine: %w: unknown reduction %q",
			voxel.ErrConfiguration, cfg.Reduction)
	}
	switch cfg.OutputBits {
	case 0:
		cfg.OutputBits = 32
	case 16, 32, 64:
	default:
		return nil, fmt.Errorf("projection: new engine: %w: unsupported output bit depth %d",
			voxel.ErrConfiguration, cfg.OutputBits)
	}
	if cfg.Align.ReferenceShape == (voxel.Shape{}) {
		cfg.Align = voxel.AlignParams{
			IntermediateShape: voxel.DefaultAlignParams().IntermediateShape,
			ReferenceShape:    voxel.DefaultAlignParams().ReferenceShape,
			PadBefore:         voxel.DefaultAlignParams().PadBefore,
			PadAfter:          voxel.DefaultAlignParams().PadAfter,
			Resample:          cfg.Align.Resample,
			Mirror:            cfg.Align.Mirror,
		}
	}
	if cfg.Align.ReferenceShape != model.Shape() {
		return nil, fmt.Errorf("projection: new engine: %w: alignment reference shape %v, model shape %v",
			voxel.ErrConfiguration, cfg.Align.ReferenceShape, model.Shape())
	}
	log := cfg.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Engine{model: model, resolver: resolver, cfg: cfg, log: log}, nil
}

// Reduction exposes the configured row reduction, since downstream
// normalization semantics depend on it.
func (e *Engine) Reduction() ReductionMode {
	return e.cfg.Reduction
}

// Source returns the current reference-frame source volume, or nil.
func (e *Engine) Source() *voxel.Volume {
	return e.source
}

// SourceArea returns the current source-area label.
func (e *Engine) SourceArea() string {
	return e.sourceArea
}

// FilterArea returns the label of the structure filter applied to the
// current source volume, empty when none was applied.
func (e *Engine) FilterArea() string {
	return e.filterArea
}

// SetSourceArea validates and records the source-area label attached to
// subsequent reports.
func (e *Engine) SetSourceArea(name string) error {
	if err := e.resolver.ValidateNames([]string{name}); err != nil {
		return err
	}
	e.sourceArea = name
	return nil
}

// SetSource replaces the current source volume with a reference-frame
// volume, invalidating the cached projections and the filter label.
func (e *Engine) SetSource(v *voxel.Volume) error {
	if v.Dims != e.model.Shape() {
		return &voxel.ShapeError{Op: "projection: set source", Want: e.model.Shape(), Got: v.Dims}
	}
	e.source = v.Clone()
	e.filterArea = ""
	e.projections = nil
	return nil
}

// LoadOptions control how LoadSource brings a raw volume into the reference
// frame.
type LoadOptions struct {
	// Reshape enables resampling of inputs whose shape does not match the
	// aligner's expected intermediate shape.
	Reshape bool

	// Mirror reflects the volume across the median plane, for single
	// hemisphere acquisitions.
	Mirror bool

	// SourceArea optionally sets the source-area label in the same call.
	SourceArea string
}

// LoadSource reads a raw volume from a multi-page TIFF and aligns it into
// the reference frame. The engine state is only updated once every step has
// succeeded.
func (e *Engine) LoadSource(path string, opts LoadOptions) error {
	e.log.Info("loading source volume", "path", path)
	raw, err := tiffvol.Read(path)
	if err != nil {
		return err
	}

	params := e.cfg.Align
	params.Resample = params.Resample || opts.Reshape
	params.Mirror = opts.Mirror

	e.log.Info("aligning source volume", "shape", raw.Dims, "mirror", params.Mirror)
	aligned, err := voxel.Align(raw, params)
	if err != nil {
		return err
	}

	if opts.SourceArea != "" {
		if err := e.resolver.ValidateNames([]string{opts.SourceArea}); err != nil {
			return err
		}
	}

	if err := e.SetSource(aligned); err != nil {
		return err
	}
	if opts.SourceArea != "" {
		e.sourceArea = opts.SourceArea
	}
	return nil
}

// Threshold binarizes the current source volume, keeping voxels strictly
// above t. The cached projections are invalidated.
func (e *Engine) Threshold(t float64) error {
	if e.source == nil {
		return fmt.Errorf("projection: threshold: %w: no source volume loaded", voxel.ErrConfiguration)
	}
	e.source = e.source.Threshold(t)
	e.projections = nil
	return nil
}

// FilterByNames restricts the source volume to voxels inside the union of
// the named structures and records the filter label for reports.
func (e *Engine) FilterByNames(names []string) error {
	if e.source == nil {
		return fmt.Errorf("projection: filter: %w: no source volume loaded", voxel.ErrConfiguration)
	}
	ids, err := e.resolver.NamesToIDs(names)
	if err != nil {
		return err
	}
	mask, err := e.resolver.IDsToMask(ids)
	if err != nil {
		return err
	}
	filtered, err := e.source.Mul(mask)
	if err != nil {
		return err
	}
	e.log.Info("filtered source volume by structures", "names", names,
		"voxels", filtered.CountNonzero())
	e.source = filtered
	e.filterArea = strings.Join(names, ", ")
	e.projections = nil
	return nil
}

// Infer applies the connectivity model to a binary reference-frame source
// volume and returns the target-space projection density volume. The model
// is never mutated and the result is deterministic for a given source.
//
// When no source voxel is selected the engine either returns an all-zero
// volume (the default) or fails with ErrEmptySelection, per configuration.
func (e *Engine) Infer(source *voxel.Volume) (*voxel.Volume, error) {
	if source.Dims != e.model.Shape() {
		return nil, &voxel.ShapeError{Op: "projection: infer", Want: e.model.Shape(), Got: source.Dims}
	}
	if !source.IsBinary() {
		return nil, fmt.Errorf("projection: infer: %w: source volume must be binary {0,1}",
			voxel.ErrShape)
	}

	flat, err := e.model.Source.MaskVolume(source)
	if err != nil {
		return nil, err
	}

	row := make([]float64, e.model.Cols())
	selected := 0
	for i, value := range flat {
		if value == 1 {
			floats.Add(row, e.model.Weights.RawRowView(i))
			selected++
		}
	}

	if selected == 0 {
		if e.cfg.FailOnEmptySource {
			return nil, fmt.Errorf("projection: infer: %w", voxel.ErrEmptySelection)
		}
		e.log.Warn("no source voxels selected, returning zero projection volume")
		return voxel.New(e.model.Shape()), nil
	}

	if e.cfg.Reduction == ReductionMean {
		floats.Scale(1/float64(selected), row)
	}
	for i, value := range row {
		if math.IsNaN(value) {
			row[i] = 0
		}
	}

	e.log.Info("inferred projections", "sourceVoxels", selected, "reduction", e.cfg.Reduction)
	return e.model.Target.MapToVolume(row)
}

// Projections returns the cached projection volume, computing it from the
// current source volume when absent. The cache is written only after a
// successful inference and is invalidated by any change to the source.
func (e *Engine) Projections() (*voxel.Volume, error) {
	if e.projections != nil {
		return e.projections, nil
	}
	if e.source == nil {
		return nil, fmt.Errorf("projection: projections: %w: no source volume loaded",
			voxel.ErrConfiguration)
	}
	proj, err := e.Infer(e.source)
	if err != nil {
		return nil, err
	}
	e.projections = proj
	return proj, nil
}

// SetProjections replaces the cached projection volume, for workflows that
// reload previously computed projections instead of recomputing them.
func (e *Engine) SetProjections(v *voxel.Volume) error {
	if v.Dims != e.model.Shape() {
		return &voxel.ShapeError{Op: "projection: set projections", Want: e.model.Shape(), Got: v.Dims}
	}
	e.projections = v.Clone()
	return nil
}

// SaveProjections writes the projection volume as a floating point TIFF at
// the engine's configured bit depth, computing the projections first if
// needed.
func (e *Engine) SaveProjections(path string) error {
	proj, err := e.Projections()
	if err != nil {
		return err
	}
	e.log.Info("saving projection volume", "path", path, "bits", e.cfg.OutputBits)
	return tiffvol.Write(path, proj, e.cfg.OutputBits)
}
