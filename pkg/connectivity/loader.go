package connectivity

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/mat"
	"gopkg.in/yaml.v3"

	"github.com/nbingo/Mouse-voxel-connectivity-simplified/pkg/voxel"
)

// Manifest describes the on-disk layout of a connectivity model. Paths are
// relative to the manifest file. The weight matrix is raw row-major
// little-endian float32; the masks are raw uint8 volumes of the reference
// shape in C order.
type Manifest struct {
	Version string `yaml:"version"`
	Shape   [3]int `yaml:"shape"`

	Weights struct {
		Path string `yaml:"path"`
		Rows int    `yaml:"rows"`
		Cols int    `yaml:"cols"`
	} `yaml:"weights"`

	SourceMask struct {
		Path string `yaml:"path"`
	} `yaml:"sourceMask"`

	TargetMask struct {
		Path string `yaml:"path"`
	} `yaml:"targetMask"`
}

// LoadManifest reads and parses a model manifest file.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("connectivity: read manifest: %w", err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("connectivity: parse manifest %s: %w", path, err)
	}
	return &m, nil
}

// Load reads a complete connectivity model from the manifest at the given
// path. Any failure is fatal to construction; there is no retry logic.
func Load(manifestPath string) (*Model, error) {
	m, err := LoadManifest(manifestPath)
	if err != nil {
		return nil, err
	}

	shape := voxel.Shape(m.Shape)
	if !shape.Valid() {
		return nil, fmt.Errorf("connectivity: load %s: %w: manifest shape %v",
			manifestPath, voxel.ErrConfiguration, m.Shape)
	}

	dir := filepath.Dir(manifestPath)

	source, err := loadMask(filepath.Join(dir, m.SourceMask.Path), shape)
	if err != nil {
		return nil, fmt.Errorf("connectivity: load source mask: %w", err)
	}
	target, err := loadMask(filepath.Join(dir, m.TargetMask.Path), shape)
	if err != nil {
		return nil, fmt.Errorf("connectivity: load target mask: %w", err)
	}

	weights, err := loadWeights(filepath.Join(dir, m.Weights.Path), m.Weights.Rows, m.Weights.Cols)
	if err != nil {
		return nil, fmt.Errorf("connectivity: load weights: %w", err)
	}

	return New(weights, source, target, m.Version)
}

// loadMask reads a raw uint8 volume of the given shape and builds its mask.
func loadMask(path string, shape voxel.Shape) (*Mask, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(raw) != shape.Size() {
		return nil, fmt.Errorf("%s: %w: %d bytes for shape %v",
			path, voxel.ErrShape, len(raw), shape)
	}

	vol := voxel.New(shape)
	for i, b := range raw {
		if b > 1 {
			return nil, fmt.Errorf("%s: %w: mask byte %d at voxel %d", path, voxel.ErrShape, b, i)
		}
		vol.Data[i] = float64(b)
	}
	return NewMask(vol)
}

// loadWeights reads a raw row-major little-endian float32 matrix.
func loadWeights(path string, rows, cols int) (*mat.Dense, error) {
	if rows <= 0 || cols <= 0 {
		return nil, fmt.Errorf("%s: %w: %dx%d weight matrix", path, voxel.ErrConfiguration, rows, cols)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	want := rows * cols * 4
	if len(raw) != want {
		return nil, fmt.Errorf("%s: %w: %d bytes for %dx%d float32 matrix (want %d)",
			path, voxel.ErrShape, len(raw), rows, cols, want)
	}

	data := make([]float64, rows*cols)
	for i := range data {
		bits := binary.LittleEndian.Uint32(raw[i*4 : i*4+4])
		data[i] = float64(math.Float32frombits(bits))
	}
	return mat.NewDense(rows, cols, data), nil
}
