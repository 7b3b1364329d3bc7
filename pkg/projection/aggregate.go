package projection

import (
	"fmt"

	"github.com/nbingo/Mouse-voxel-connectivity-simplified/pkg/report"
	"github.com/nbingo/Mouse-voxel-connectivity-simplified/pkg/voxel"
)

// Aggregate reduces a projection volume into per-target-structure scalar
// strengths, one row per target name in the given order.
//
// For each target, strength is the sum of the projection density inside the
// target's structure mask. normalizeTarget divides by the target's voxel
// count, converting total mass to density; normalizeSource divides by the
// number of selected source voxels, converting to a per-source-voxel rate.
// Target normalization applies before source normalization and the two may
// be combined freely; each row records which were applied.
//
// Aggregation is all-or-nothing: every target name is resolved up front and
// no partial report is produced on failure.
func (e *Engine) Aggregate(proj, source *voxel.Volume, sourceArea string,
	targets []string, normalizeSource, normalizeTarget bool) (*report.AreaReport, error) {

	if len(targets) == 0 {
		return nil, fmt.Errorf("projection: aggregate: %w: no target areas given", voxel.ErrConfiguration)
	}
	if proj.Dims != e.model.Shape() {
		return nil, &voxel.ShapeError{Op: "projection: aggregate", Want: e.model.Shape(), Got: proj.Dims}
	}

	ids, err := e.resolver.NamesToIDs(targets)
	if err != nil {
		return nil, err
	}

	sourceVoxels := 0.0
	if normalizeSource {
		if source == nil {
			return nil, fmt.Errorf("projection: aggregate: %w: source normalization requires a source volume",
				voxel.ErrConfiguration)
		}
		sourceVoxels = source.Sum()
		if sourceVoxels == 0 {
			return nil, fmt.Errorf("projection: aggregate: %w: cannot normalize by an empty source",
				voxel.ErrEmptySelection)
		}
	}

	rows := make([]report.Row, 0, len(targets))
	for i, id := range ids {
		mask, err := e.resolver.IDsToMask([]int{id})
		if err != nil {
			return nil, err
		}

		strength, err := proj.MaskedSum(mask)
		if err != nil {
			return nil, err
		}
		if normalizeTarget {
			voxels := mask.Sum()
			if voxels == 0 {
				return nil, fmt.Errorf("projection: aggregate: %w: target %q has no voxels in the reference frame",
					voxel.ErrConfiguration, targets[i])
			}
			strength /= voxels
		}
		if normalizeSource {
			strength /= sourceVoxels
		}

		rows = append(rows, report.Row{
			SourceArea:         sourceArea,
			TargetArea:         targets[i],
			Strength:           strength,
			NormalizedBySource: normalizeSource,
			NormalizedByTarget: normalizeTarget,
			FilterArea:         e.filterArea,
		})
	}

	e.log.Info("aggregated projections by area", "targets", len(targets),
		"normalizeSource", normalizeSource, "normalizeTarget", normalizeTarget)
	return report.New(rows), nil
}

// SaveProjByArea aggregates the cached projections over the target list and
// persists the report to the SQLite database at path, returning the report.
func (e *Engine) SaveProjByArea(path string, targets []string,
	normalizeSource, normalizeTarget bool) (*report.AreaReport, error) {

	proj, err := e.Projections()
	if err != nil {
		return nil, err
	}
	rep, err := e.Aggregate(proj, e.source, e.sourceArea, targets, normalizeSource, normalizeTarget)
	if err != nil {
		return nil, err
	}
	if err := rep.WriteSQLite(path); err != nil {
		return nil, err
	}
	e.log.Info("saved projections by area", "path", path, "rows", len(rep.Rows))
	return rep, nil
}
