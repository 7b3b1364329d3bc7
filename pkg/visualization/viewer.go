// Package visualization exports 2D slice sequences from source and
// projection volumes for quality-control inspection. It replaces interactive
// viewing: slices are written as grayscale JPEG files that can be flipped
// through with any image browser.
package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"

	"github.com/nbingo/Mouse-voxel-connectivity-simplified/pkg/voxel"
)

// Viewer renders planes of a 3D volume as grayscale images. Density volumes
// are scaled so the brightest voxel maps to white; binary volumes therefore
// render as pure black and white.
type Viewer struct {
	vol *voxel.Volume

	// scale maps voxel values into the 16-bit grayscale range
	scale float64
}

// NewViewer creates a viewer for the given volume.
func NewViewer(vol *voxel.Volume) *Viewer {
	scale := 0.0
	if max := vol.Max(); max > 0 {
		scale = 65535.0 / max
	}
	return &Viewer{vol: vol, scale: scale}
}

// ExtractSlice extracts the 2D plane at the given position along the given
// axis (0, 1 or 2).
func (v *Viewer) ExtractSlice(axis, position int) (image.Image, error) {
	if axis < 0 || axis > 2 {
		return nil, fmt.Errorf("visualization: invalid axis %d (must be 0, 1 or 2)", axis)
	}
	if position < 0 || position >= v.vol.Dims[axis] {
		return nil, fmt.Errorf("visualization: position %d out of range for axis %d (extent %d)",
			position, axis, v.vol.Dims[axis])
	}

	// The remaining two axes become the image rows and columns
	rowAxis, colAxis := (axis+1)%3, (axis+2)%3
	rows, cols := v.vol.Dims[rowAxis], v.vol.Dims[colAxis]

	img := image.NewGray16(image.Rect(0, 0, cols, rows))
	coord := [3]int{}
	coord[axis] = position
	for r := 0; r < rows; r++ {
		coord[rowAxis] = r
		for c := 0; c < cols; c++ {
			coord[colAxis] = c
			value := v.vol.At(coord[0], coord[1], coord[2]) * v.scale
			if value < 0 {
				value = 0
			}
			if value > 65535 {
				value = 65535
			}
			img.SetGray16(c, r, color.Gray16{Y: uint16(value)})
		}
	}
	return img, nil
}

// SaveSlice saves an extracted slice as a JPEG image.
func (v *Viewer) SaveSlice(img image.Image, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	return jpeg.Encode(file, img, &jpeg.Options{Quality: 90})
}

// SaveSliceSequence extracts and saves every slice along the specified axis.
func (v *Viewer) SaveSliceSequence(axis int, outputDir string) error {
	if axis < 0 || axis > 2 {
		return fmt.Errorf("visualization: invalid axis %d (must be 0, 1 or 2)", axis)
	}
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return err
	}

	for pos := 0; pos < v.vol.Dims[axis]; pos++ {
		img, err := v.ExtractSlice(axis, pos)
		if err != nil {
			return err
		}

		filename := filepath.Join(outputDir, fmt.Sprintf("slice_%d_%03d.jpg", axis, pos))
		if err := v.SaveSlice(img, filename); err != nil {
			return err
		}
	}

	return nil
}
