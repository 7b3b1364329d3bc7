// Package batch drives the projection engine over a directory of brain
// samples: one group directory per source nucleus, one subdirectory per
// sample, with the input volume at a fixed relative path inside each sample
// directory. Samples are processed sequentially; the connectivity model and
// ontology are shared read-only across the whole run.
package batch

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/stat"

	"github.com/nbingo/Mouse-voxel-connectivity-simplified/internal/models"
	"github.com/nbingo/Mouse-voxel-connectivity-simplified/pkg/projection"
)

// Config controls one batch run.
type Config struct {
	// Root is the directory containing one subdirectory per group
	Root string

	// ImageRelPath is the input volume path inside each sample directory
	ImageRelPath string

	// Groups maps group directory names to source-area labels; groups not
	// listed are ignored
	Groups map[string]string

	// OutputDir receives the projection volumes and reports
	OutputDir string

	// Threshold binarizes the loaded probability volumes
	Threshold float64

	// FilterAreas restricts source voxels before inference; empty disables
	FilterAreas []string

	// TargetAreas is the target list for the per-area reports
	TargetAreas []string

	// NormalizeSource and NormalizeTarget select the report normalization
	NormalizeSource bool
	NormalizeTarget bool

	// WriteCSV additionally exports each report as CSV
	WriteCSV bool

	// ContinueOnError skips failed samples instead of aborting the run
	ContinueOnError bool

	// Mirror reflects single-hemisphere acquisitions across the median plane
	Mirror bool
}

// Driver runs the engine over every sample under the configured root.
type Driver struct {
	engine *projection.Engine
	cfg    Config
	log    *slog.Logger
}

// NewDriver creates a batch driver around a ready engine.
func NewDriver(engine *projection.Engine, cfg Config, log *slog.Logger) *Driver {
	if log == nil {
		log = slog.Default()
	}
	return &Driver{engine: engine, cfg: cfg, log: log}
}

// DiscoverSamples enumerates the samples of every configured group, sorted
// by group then sample id for a stable processing order.
func (d *Driver) DiscoverSamples() ([]models.Sample, error) {
	var samples []models.Sample

	groups := make([]string, 0, len(d.cfg.Groups))
	for group := range d.cfg.Groups {
		groups = append(groups, group)
	}
	sort.Strings(groups)

	for _, group := range groups {
		groupDir := filepath.Join(d.cfg.Root, group)
		entries, err := os.ReadDir(groupDir)
		if err != nil {
			return nil, fmt.Errorf("batch: read group %s: %w", group, err)
		}

		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}
			id := entry.Name()
			samples = append(samples, models.Sample{
				ID:             id,
				Group:          group,
				SourceArea:     d.cfg.Groups[group],
				ImagePath:      filepath.Join(groupDir, id, d.cfg.ImageRelPath),
				ProjectionsOut: filepath.Join(d.cfg.OutputDir, fmt.Sprintf("%s_%s_proj.tiff", group, id)),
				ReportOut:      filepath.Join(d.cfg.OutputDir, fmt.Sprintf("%s_%s_proj_by_area.db", group, id)),
			})
		}
	}

	return samples, nil
}

// Run processes every discovered sample in order. Per-sample failures are
// skipped or abort the run according to ContinueOnError; the engine performs
// no cross-sample recovery of its own.
func (d *Driver) Run() (*models.BatchResult, error) {
	samples, err := d.DiscoverSamples()
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(d.cfg.OutputDir, 0755); err != nil {
		return nil, fmt.Errorf("batch: create output directory: %w", err)
	}

	result := &models.BatchResult{RunID: uuid.NewString()}
	d.log.Info("starting batch run", "runID", result.RunID, "samples", len(samples))

	var masses []float64
	for i, sample := range samples {
		d.log.Info("processing sample", "group", sample.Group, "sample", sample.ID,
			"progress", fmt.Sprintf("%d/%d", i+1, len(samples)))

		mass, err := d.processSample(sample)
		if err != nil {
			if !d.cfg.ContinueOnError {
				return nil, fmt.Errorf("batch: sample %s/%s: %w", sample.Group, sample.ID, err)
			}
			d.log.Warn("skipping failed sample", "group", sample.Group, "sample", sample.ID, "err", err)
			result.Skipped++
			result.Failures = append(result.Failures, models.SampleError{Sample: sample, Err: err})
			continue
		}

		result.Processed++
		masses = append(masses, mass)
	}

	if len(masses) > 0 {
		result.MeanMass = stat.Mean(masses, nil)
		result.StdDevMass = stat.StdDev(masses, nil)
	}

	d.log.Info("batch run finished", "runID", result.RunID,
		"processed", result.Processed, "skipped", result.Skipped)
	return result, nil
}

// processSample runs the full per-sample pipeline: load and align, threshold,
// filter, infer, save the projection volume and the per-area report. It
// returns the total projection mass of the sample.
func (d *Driver) processSample(sample models.Sample) (float64, error) {
	err := d.engine.LoadSource(sample.ImagePath, projection.LoadOptions{
		Reshape:    true,
		Mirror:     d.cfg.Mirror,
		SourceArea: sample.SourceArea,
	})
	if err != nil {
		return 0, err
	}

	if err := d.engine.Threshold(d.cfg.Threshold); err != nil {
		return 0, err
	}

	if len(d.cfg.FilterAreas) > 0 {
		if err := d.engine.FilterByNames(d.cfg.FilterAreas); err != nil {
			return 0, err
		}
	}

	proj, err := d.engine.Projections()
	if err != nil {
		return 0, err
	}

	if err := d.engine.SaveProjections(sample.ProjectionsOut); err != nil {
		return 0, err
	}

	rep, err := d.engine.SaveProjByArea(sample.ReportOut, d.cfg.TargetAreas,
		d.cfg.NormalizeSource, d.cfg.NormalizeTarget)
	if err != nil {
		return 0, err
	}
	if d.cfg.WriteCSV {
		csvPath := sample.ReportOut[:len(sample.ReportOut)-len(filepath.Ext(sample.ReportOut))] + ".csv"
		if err := rep.WriteCSV(csvPath); err != nil {
			return 0, err
		}
	}

	return proj.Sum(), nil
}
