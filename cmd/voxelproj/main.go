package main

import (
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/nbingo/Mouse-voxel-connectivity-simplified/internal/batch"
	"github.com/nbingo/Mouse-voxel-connectivity-simplified/pkg/config"
	"github.com/nbingo/Mouse-voxel-connectivity-simplified/pkg/connectivity"
	"github.com/nbingo/Mouse-voxel-connectivity-simplified/pkg/ontology"
	"github.com/nbingo/Mouse-voxel-connectivity-simplified/pkg/projection"
	"github.com/nbingo/Mouse-voxel-connectivity-simplified/pkg/tiffvol"
	"github.com/nbingo/Mouse-voxel-connectivity-simplified/pkg/visualization"
)

func main() {
	// Optional .env next to the binary, ignored when absent
	_ = godotenv.Load()

	// Parse command line arguments
	configPath := flag.String("config", envOr("VOXELPROJ_CONFIG", "voxelproj.yaml"), "Configuration file (YAML)")
	inputFile := flag.String("input", "", "Input binary volume (multi-page TIFF); empty runs batch mode")
	sourceArea := flag.String("source-area", "", "Full structure name of the source area")
	targetList := flag.String("targets", "", "Comma-separated target area names (overrides config)")
	filterList := flag.String("filter", "", "Comma-separated filter area names (overrides config)")
	mirror := flag.Bool("mirror", false, "Mirror the volume across the median plane")
	threshold := flag.Float64("threshold", -1, "Binarization threshold; negative keeps the config value")
	outputDir := flag.String("output", "", "Output directory (overrides config)")
	exportSlices := flag.Bool("export-slices", false, "Export projection slices as JPEG sequences")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	applyOverrides(cfg, *targetList, *filterList, *threshold, *outputDir)

	level := slog.LevelWarn
	if cfg.Output.Verbose {
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	fmt.Println("================================")
	fmt.Println("VOXEL-MODEL PROJECTION PREDICTION")
	fmt.Println("================================")

	// Load the shared read-only context: annotation, ontology, model
	fmt.Println("Loading reference annotation...")
	annotation, err := tiffvol.Read(cfg.Ontology.AnnotationPath)
	if err != nil {
		log.Fatalf("Failed to load annotation volume: %v", err)
	}

	fmt.Println("Opening structure catalog...")
	opts := []ontology.Option{ontology.WithLogger(logger)}
	if cfg.Ontology.WarnOnUnknown {
		opts = append(opts, ontology.WithWarnOnUnknown())
	}
	store, err := ontology.Open(cfg.Ontology.DBPath, annotation, opts...)
	if err != nil {
		log.Fatalf("Failed to open structure catalog: %v", err)
	}
	defer store.Close()

	fmt.Println("Loading voxel connectivity model...")
	model, err := connectivity.Load(cfg.Model.ManifestPath)
	if err != nil {
		log.Fatalf("Failed to load connectivity model: %v", err)
	}
	fmt.Printf("Loaded model version %q: %d source voxels, %d target voxels\n",
		model.Version, model.Rows(), model.Cols())

	engine, err := projection.New(model, store, projection.Config{
		Align:             cfg.AlignParams(),
		Reduction:         projection.ReductionMode(cfg.Inference.Reduction),
		FailOnEmptySource: cfg.Inference.FailOnEmptySource,
		OutputBits:        cfg.Output.Bits,
		Logger:            logger,
	})
	if err != nil {
		log.Fatalf("Failed to create projection engine: %v", err)
	}

	startTime := time.Now()
	if *inputFile != "" {
		runSingle(engine, cfg, *inputFile, *sourceArea, *mirror, *exportSlices)
	} else {
		runBatch(engine, cfg, logger, *mirror)
	}
	fmt.Printf("\nCompleted in %.2f seconds\n", time.Since(startTime).Seconds())
}

// runSingle processes one input volume through the full pipeline.
func runSingle(engine *projection.Engine, cfg *config.Config, inputFile, sourceArea string, mirror, exportSlices bool) {
	err := engine.LoadSource(inputFile, projection.LoadOptions{
		Reshape:    cfg.Alignment.ResampleInputs,
		Mirror:     mirror,
		SourceArea: sourceArea,
	})
	if err != nil {
		log.Fatalf("Failed to load source volume: %v", err)
	}

	if err := engine.Threshold(cfg.Batch.Threshold); err != nil {
		log.Fatalf("Failed to threshold source volume: %v", err)
	}

	if len(cfg.Aggregation.FilterAreas) > 0 {
		if err := engine.FilterByNames(cfg.Aggregation.FilterAreas); err != nil {
			log.Fatalf("Failed to filter source volume: %v", err)
		}
	}

	base := strings.TrimSuffix(filepath.Base(inputFile), filepath.Ext(inputFile))
	projPath := filepath.Join(cfg.Output.Dir, base+"_proj.tiff")
	reportPath := filepath.Join(cfg.Output.Dir, base+"_proj_by_area.db")

	if err := os.MkdirAll(cfg.Output.Dir, 0755); err != nil {
		log.Fatalf("Failed to create output directory: %v", err)
	}
	if err := engine.SaveProjections(projPath); err != nil {
		log.Fatalf("Failed to save projection volume: %v", err)
	}
	fmt.Printf("Projection volume saved to: %s\n", projPath)

	rep, err := engine.SaveProjByArea(reportPath, cfg.Aggregation.TargetAreas,
		cfg.Aggregation.NormalizeSource, cfg.Aggregation.NormalizeTarget)
	if err != nil {
		log.Fatalf("Failed to save area report: %v", err)
	}
	fmt.Printf("Area report saved to: %s (%d rows)\n", reportPath, len(rep.Rows))

	if cfg.Output.WriteCSV {
		csvPath := filepath.Join(cfg.Output.Dir, base+"_proj_by_area.csv")
		if err := rep.WriteCSV(csvPath); err != nil {
			log.Fatalf("Failed to export CSV report: %v", err)
		}
		fmt.Printf("CSV report saved to: %s\n", csvPath)
	}

	for _, row := range rep.Rows {
		fmt.Printf("  %-40s %g\n", row.TargetArea, row.Strength)
	}

	if exportSlices {
		proj, err := engine.Projections()
		if err != nil {
			log.Fatalf("Failed to get projections: %v", err)
		}
		viewer := visualization.NewViewer(proj)
		for axis := 0; axis < 3; axis++ {
			axisDir := filepath.Join(cfg.Output.Dir, fmt.Sprintf("%s_slices_axis%d", base, axis))
			fmt.Printf("Saving axis %d slices to: %s\n", axis, axisDir)
			if err := viewer.SaveSliceSequence(axis, axisDir); err != nil {
				log.Printf("Warning: failed to save axis %d slices: %v", axis, err)
			}
		}
	}
}

// runBatch processes every sample under the configured batch root.
func runBatch(engine *projection.Engine, cfg *config.Config, logger *slog.Logger, mirror bool) {
	if cfg.Batch.Root == "" {
		log.Fatalf("Batch mode requires batch.root in the configuration (or pass -input for single mode)")
	}

	driver := batch.NewDriver(engine, batch.Config{
		Root:            cfg.Batch.Root,
		ImageRelPath:    cfg.Batch.ImageRelPath,
		Groups:          cfg.Batch.Groups,
		OutputDir:       cfg.Output.Dir,
		Threshold:       cfg.Batch.Threshold,
		FilterAreas:     cfg.Aggregation.FilterAreas,
		TargetAreas:     cfg.Aggregation.TargetAreas,
		NormalizeSource: cfg.Aggregation.NormalizeSource,
		NormalizeTarget: cfg.Aggregation.NormalizeTarget,
		WriteCSV:        cfg.Output.WriteCSV,
		ContinueOnError: cfg.Batch.ContinueOnError,
		Mirror:          mirror,
	}, logger)

	result, err := driver.Run()
	if err != nil {
		log.Fatalf("Batch run failed: %v", err)
	}

	fmt.Printf("\nBatch run %s finished\n", result.RunID)
	fmt.Printf("Processed: %d samples\n", result.Processed)
	fmt.Printf("Skipped:   %d samples\n", result.Skipped)
	if result.Processed > 0 {
		fmt.Printf("Projection mass: mean %.4g, stddev %.4g\n", result.MeanMass, result.StdDevMass)
	}
	for _, failure := range result.Failures {
		fmt.Printf("  failed %s/%s: %v\n", failure.Sample.Group, failure.Sample.ID, failure.Err)
	}
}

// applyOverrides folds command line overrides into the loaded configuration.
func applyOverrides(cfg *config.Config, targets, filters string, threshold float64, outputDir string) {
	if targets != "" {
		cfg.Aggregation.TargetAreas = splitList(targets)
	}
	if filters != "" {
		cfg.Aggregation.FilterAreas = splitList(filters)
	}
	if threshold >= 0 {
		cfg.Batch.Threshold = threshold
	}
	if outputDir != "" {
		cfg.Output.Dir = outputDir
	}
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func envOr(key, def string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return def
}
