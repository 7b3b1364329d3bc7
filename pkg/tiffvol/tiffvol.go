// Package tiffvol reads and writes 3D volumes as multi-page grayscale TIFF
// files, the interchange format used by the imaging pipeline. Each page is
// one plane along axis 0 of the volume, stored uncompressed with a single
// sample per pixel.
//
// The reader accepts unsigned 8/16/32-bit and floating point 16/32/64-bit
// pages in either byte order. The writer emits little-endian floating point
// pages at a configurable bit depth (16, 32 or 64; default 32).
package tiffvol

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/nbingo/Mouse-voxel-connectivity-simplified/pkg/voxel"
)

// TIFF tag ids used by the codec.
const (
	tagImageWidth      = 256
	tagImageLength     = 257
	tagBitsPerSample   = 258
	tagCompression     = 259
	tagPhotometric     = 262
	tagStripOffsets    = 273
	tagSamplesPerPixel = 277
	tagRowsPerStrip    = 278
	tagStripByteCounts = 279
	tagSampleFormat    = 339
)

const (
	sampleFormatUint  = 1
	sampleFormatFloat = 3

	typeShort = 3
	typeLong  = 4
)

// Write saves the volume as a little-endian multi-page floating point TIFF.
// bits selects the sample depth and must be 16, 32 or 64; 0 selects the
// 32-bit default.
func Write(path string, v *voxel.Volume, bits int) error {
	if bits == 0 {
		bits = 32
	}
	if bits != 16 && bits != 32 && bits != 64 {
		return fmt.Errorf("tiffvol: write %s: %w: unsupported bit depth %d",
			path, voxel.ErrConfiguration, bits)
	}
	if !v.Dims.Valid() {
		return &voxel.ShapeError{Op: "tiffvol: write", Want: voxel.Shape{1, 1, 1}, Got: v.Dims}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("tiffvol: write %s: %w", path, err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)

	pages := v.Dims[0]
	rows := v.Dims[1]
	cols := v.Dims[2]
	stripSize := rows * cols * bits / 8
	// 10 fixed entries per IFD: count + entries + next pointer
	const ifdSize = 2 + 10*12 + 4
	pageSize := stripSize + ifdSize

	// Header: byte order, magic, offset of the first IFD (after page 0's strip)
	if _, err := w.Write([]byte{'I', 'I', 42, 0}); err != nil {
		return fmt.Errorf("tiffvol: write %s: %w", path, err)
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(8+stripSize)); err != nil {
		return fmt.Errorf("tiffvol: write %s: %w", path, err)
	}

	for p := 0; p < pages; p++ {
		stripOffset := 8 + p*pageSize
		plane := v.Data[p*rows*cols : (p+1)*rows*cols]

		if err := writeSamples(w, plane, bits); err != nil {
			return fmt.Errorf("tiffvol: write %s: %w", path, err)
		}

		next := uint32(0)
		if p < pages-1 {
			next = uint32(8 + (p+1)*pageSize + stripSize)
		}
		if err := writeIFD(w, cols, rows, bits, uint32(stripOffset), uint32(stripSize), next); err != nil {
			return fmt.Errorf("tiffvol: write %s: %w", path, err)
		}
	}

	if err := w.Flush(); err != nil {
		return fmt.Errorf("tiffvol: write %s: %w", path, err)
	}
	return nil
}

// writeSamples encodes one plane of float64 values at the requested depth.
func writeSamples(w io.Writer, plane []float64, bits int) error {
	switch bits {
	case 16:
		buf := make([]uint16, len(plane))
		for i, value := range plane {
			buf[i] = float16bits(value)
		}
		return binary.Write(w, binary.LittleEndian, buf)
	case 32:
		buf := make([]float32, len(plane))
		for i, value := range plane {
			buf[i] = float32(value)
		}
		return binary.Write(w, binary.LittleEndian, buf)
	default:
		return binary.Write(w, binary.LittleEndian, plane)
	}
}

// writeIFD emits one image file directory with the fixed set of tags the
// codec uses. TIFF requires directory entries in ascending tag order.
func writeIFD(w io.Writer, width, height, bits int, stripOffset, stripBytes, next uint32) error {
	type entry struct {
		tag   uint16
		typ   uint16
		value uint32
	}
	entries := []entry{
		{tagImageWidth, typeLong, uint32(width)},
		{tagImageLength, typeLong, uint32(height)},
		{tagBitsPerSample, typeShort, uint32(bits)},
		{tagCompression, typeShort, 1},
		{tagPhotometric, typeShort, 1},
		{tagStripOffsets, typeLong, stripOffset},
		{tagSamplesPerPixel, typeShort, 1},
		{tagRowsPerStrip, typeLong, uint32(height)},
		{tagStripByteCounts, typeLong, stripBytes},
		{tagSampleFormat, typeShort, sampleFormatFloat},
	}

	if err := binary.Write(w, binary.LittleEndian, uint16(len(entries))); err != nil {
		return err
	}
	for _, e := range entries {
		if err := binary.Write(w, binary.LittleEndian, e.tag); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, e.typ); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, uint32(1)); err != nil {
			return err
		}
		// SHORT values sit in the low half of the 4-byte value field
		if err := binary.Write(w, binary.LittleEndian, e.value); err != nil {
			return err
		}
	}
	return binary.Write(w, binary.LittleEndian, next)
}

// Read loads a multi-page grayscale TIFF as a volume with axis 0 indexing
// the pages. Values are returned as raw float64 without rescaling.
func Read(path string) (*voxel.Volume, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("tiffvol: read %s: %w", path, err)
	}

	d, err := newDecoder(raw)
	if err != nil {
		return nil, fmt.Errorf("tiffvol: read %s: %w", path, err)
	}

	var planes [][]float64
	width, height := 0, 0
	for _, ifd := range d.ifds {
		w, h, plane, err := d.decodePage(ifd)
		if err != nil {
			return nil, fmt.Errorf("tiffvol: read %s: %w", path, err)
		}
		if len(planes) == 0 {
			width, height = w, h
		} else if w != width || h != height {
			return nil, fmt.Errorf("tiffvol: read %s: %w: page %d is %dx%d, expected %dx%d",
				path, voxel.ErrShape, len(planes), w, h, width, height)
		}
		planes = append(planes, plane)
	}
	if len(planes) == 0 {
		return nil, fmt.Errorf("tiffvol: read %s: no pages", path)
	}

	dims := voxel.Shape{len(planes), height, width}
	out := voxel.New(dims)
	for p, plane := range planes {
		copy(out.Data[p*height*width:(p+1)*height*width], plane)
	}
	return out, nil
}
