// Package config provides configuration loading and management for the
// projection prediction pipeline. It handles loading configuration from YAML
// files and provides default values matching the 100um mouse reference space.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/nbingo/Mouse-voxel-connectivity-simplified/pkg/voxel"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Model locates the precomputed voxel connectivity model
	Model struct {
		// ManifestPath points at the model manifest file
		ManifestPath string `yaml:"manifestPath"`
	} `yaml:"model"`

	// Ontology locates the structure catalog and annotation volume
	Ontology struct {
		// DBPath is the SQLite structure catalog
		DBPath string `yaml:"dbPath"`

		// AnnotationPath is the reference-frame annotation volume (TIFF)
		AnnotationPath string `yaml:"annotationPath"`

		// WarnOnUnknown downgrades unknown structure names during
		// validation from errors to logged warnings
		WarnOnUnknown bool `yaml:"warnOnUnknown"`
	} `yaml:"ontology"`

	// Alignment holds the fixed geometric normalization parameters
	Alignment struct {
		// IntermediateShape is the expected acquisition shape
		IntermediateShape [3]int `yaml:"intermediateShape"`

		// ReferenceShape is the full reference annotation shape
		ReferenceShape [3]int `yaml:"referenceShape"`

		// PadBefore and PadAfter are the per-axis zero-padding offsets
		PadBefore [3]int `yaml:"padBefore"`
		PadAfter  [3]int `yaml:"padAfter"`

		// ResampleInputs enables trilinear resampling of variably-sized inputs
		ResampleInputs bool `yaml:"resampleInputs"`
	} `yaml:"alignment"`

	// Inference controls how the connectivity matrix rows are reduced
	Inference struct {
		// Reduction is "sum" or "mean" across the selected source rows
		Reduction string `yaml:"reduction"`

		// FailOnEmptySource fails inference instead of returning zeros
		// when no source voxel is selected
		FailOnEmptySource bool `yaml:"failOnEmptySource"`
	} `yaml:"inference"`

	// Aggregation controls the per-area strength reports
	Aggregation struct {
		// TargetAreas is the list of target structure names to report on
		TargetAreas []string `yaml:"targetAreas"`

		// FilterAreas restricts source voxels to these structures before
		// inference; empty disables filtering
		FilterAreas []string `yaml:"filterAreas"`

		// NormalizeSource divides strengths by the source voxel count
		NormalizeSource bool `yaml:"normalizeSource"`

		// NormalizeTarget divides strengths by the target voxel count
		NormalizeTarget bool `yaml:"normalizeTarget"`
	} `yaml:"aggregation"`

	// Output parameters
	Output struct {
		// Bits is the float bit depth for saved projection volumes (16/32/64)
		Bits int `yaml:"bits"`

		// Dir is the directory where projections and reports are written
		Dir string `yaml:"dir"`

		// WriteCSV additionally exports reports as CSV
		WriteCSV bool `yaml:"writeCSV"`

		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose"`
	} `yaml:"output"`

	// Batch parameters for directory-driven runs
	Batch struct {
		// Root is the directory containing one subdirectory per sample group
		Root string `yaml:"root"`

		// ImageRelPath is the path of the input volume inside each sample
		// directory
		ImageRelPath string `yaml:"imageRelPath"`

		// Groups maps group directory names to source-area labels
		Groups map[string]string `yaml:"groups"`

		// Threshold binarizes probability volumes before inference
		Threshold float64 `yaml:"threshold"`

		// ContinueOnError skips failed samples instead of aborting the batch
		ContinueOnError bool `yaml:"continueOnError"`
	} `yaml:"batch"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	// Set default alignment parameters for the 100um reference space
	p := voxel.DefaultAlignParams()
	cfg.Alignment.IntermediateShape = p.IntermediateShape
	cfg.Alignment.ReferenceShape = p.ReferenceShape
	cfg.Alignment.PadBefore = p.PadBefore
	cfg.Alignment.PadAfter = p.PadAfter
	cfg.Alignment.ResampleInputs = true

	// Set default inference parameters
	cfg.Inference.Reduction = "sum"
	cfg.Inference.FailOnEmptySource = false

	// Set default output parameters
	cfg.Output.Bits = 32
	cfg.Output.Dir = "."
	cfg.Output.Verbose = true

	// Set default batch parameters
	cfg.Batch.Threshold = 0.2
	cfg.Batch.ContinueOnError = true

	return cfg
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	// Read config file
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	// Parse YAML
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	// Marshal config to YAML
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	// Write to file
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// Validate checks the configuration for invalid value combinations
func (c *Config) Validate() error {
	switch c.Inference.Reduction {
	case "sum", "mean":
	default:
		return fmt.Errorf("config: %w: reduction must be \"sum\" or \"mean\", got %q",
			voxel.ErrConfiguration, c.Inference.Reduction)
	}

	switch c.Output.Bits {
	case 16, 32, 64:
	default:
		return fmt.Errorf("config: %w: output bits must be 16, 32 or 64, got %d",
			voxel.ErrConfiguration, c.Output.Bits)
	}

	if !voxel.Shape(c.Alignment.ReferenceShape).Valid() {
		return fmt.Errorf("config: %w: degenerate reference shape %v",
			voxel.ErrConfiguration, c.Alignment.ReferenceShape)
	}
	if !voxel.Shape(c.Alignment.IntermediateShape).Valid() {
		return fmt.Errorf("config: %w: degenerate intermediate shape %v",
			voxel.ErrConfiguration, c.Alignment.IntermediateShape)
	}

	return nil
}

// AlignParams converts the alignment section to voxel aligner parameters
func (c *Config) AlignParams() voxel.AlignParams {
	return voxel.AlignParams{
		IntermediateShape: c.Alignment.IntermediateShape,
		ReferenceShape:    c.Alignment.ReferenceShape,
		PadBefore:         c.Alignment.PadBefore,
		PadAfter:          c.Alignment.PadAfter,
		Resample:          c.Alignment.ResampleInputs,
	}
}
