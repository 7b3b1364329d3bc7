package tiffvol

import (
	"encoding/binary"
	"fmt"
	"math"
)

// decoder walks the IFD chain of an in-memory TIFF file.
type decoder struct {
	raw   []byte
	order binary.ByteOrder
	ifds  []map[uint16]ifdEntry
}

type ifdEntry struct {
	typ    uint16
	count  uint32
	value  uint32 // inline value field, also the offset for out-of-line data
	inline [4]byte
}

func newDecoder(raw []byte) (*decoder, error) {
	if len(raw) < 8 {
		return nil, fmt.Errorf("file too short for TIFF header")
	}

	var order binary.ByteOrder
	switch {
	case raw[0] == 'I' && raw[1] == 'I':
		order = binary.LittleEndian
	case raw[0] == 'M' && raw[1] == 'M':
		order = binary.BigEndian
	default:
		return nil, fmt.Errorf("not a TIFF file")
	}
	if order.Uint16(raw[2:4]) != 42 {
		return nil, fmt.Errorf("bad TIFF magic")
	}

	d := &decoder{raw: raw, order: order}
	offset := order.Uint32(raw[4:8])
	seen := map[uint32]bool{}
	for offset != 0 {
		if seen[offset] {
			return nil, fmt.Errorf("IFD cycle at offset %d", offset)
		}
		seen[offset] = true

		ifd, next, err := d.readIFD(offset)
		if err != nil {
			return nil, err
		}
		d.ifds = append(d.ifds, ifd)
		offset = next
	}
	return d, nil
}

func (d *decoder) readIFD(offset uint32) (map[uint16]ifdEntry, uint32, error) {
	if int(offset)+2 > len(d.raw) {
		return nil, 0, fmt.Errorf("IFD offset %d out of range", offset)
	}
	count := int(d.order.Uint16(d.raw[offset : offset+2]))
	base := int(offset) + 2
	if base+count*12+4 > len(d.raw) {
		return nil, 0, fmt.Errorf("truncated IFD at offset %d", offset)
	}

	ifd := make(map[uint16]ifdEntry, count)
	for i := 0; i < count; i++ {
		p := base + i*12
		e := ifdEntry{
			typ:   d.order.Uint16(d.raw[p+2 : p+4]),
			count: d.order.Uint32(d.raw[p+4 : p+8]),
			value: d.order.Uint32(d.raw[p+8 : p+12]),
		}
		copy(e.inline[:], d.raw[p+8:p+12])
		ifd[d.order.Uint16(d.raw[p:p+2])] = e
	}
	next := d.order.Uint32(d.raw[base+count*12 : base+count*12+4])
	return ifd, next, nil
}

// scalar returns a single SHORT/LONG tag value, with a default when the tag
// is absent.
func (d *decoder) scalar(ifd map[uint16]ifdEntry, tag uint16, def uint32) (uint32, error) {
	e, ok := ifd[tag]
	if !ok {
		return def, nil
	}
	values, err := d.values(e)
	if err != nil {
		return 0, err
	}
	if len(values) != 1 {
		return 0, fmt.Errorf("tag %d: expected one value, got %d", tag, len(values))
	}
	return values[0], nil
}

// values returns all SHORT/LONG values of an entry, reading out-of-line data
// when the values do not fit the inline field.
func (d *decoder) values(e ifdEntry) ([]uint32, error) {
	var size int
	switch e.typ {
	case typeShort:
		size = 2
	case typeLong:
		size = 4
	default:
		return nil, fmt.Errorf("unsupported tag type %d", e.typ)
	}

	total := size * int(e.count)
	var data []byte
	if total <= 4 {
		data = e.inline[:total]
	} else {
		start := int(e.value)
		if start+total > len(d.raw) {
			return nil, fmt.Errorf("tag data at %d out of range", start)
		}
		data = d.raw[start : start+total]
	}

	out := make([]uint32, e.count)
	for i := range out {
		if e.typ == typeShort {
			out[i] = uint32(d.order.Uint16(data[i*2 : i*2+2]))
		} else {
			out[i] = d.order.Uint32(data[i*4 : i*4+4])
		}
	}
	return out, nil
}

// decodePage decodes one IFD into a row-major float64 plane.
func (d *decoder) decodePage(ifd map[uint16]ifdEntry) (width, height int, plane []float64, err error) {
	w, err := d.scalar(ifd, tagImageWidth, 0)
	if err != nil {
		return 0, 0, nil, err
	}
	h, err := d.scalar(ifd, tagImageLength, 0)
	if err != nil {
		return 0, 0, nil, err
	}
	if w == 0 || h == 0 {
		return 0, 0, nil, fmt.Errorf("page with zero dimension %dx%d", w, h)
	}

	compression, err := d.scalar(ifd, tagCompression, 1)
	if err != nil {
		return 0, 0, nil, err
	}
	if compression != 1 {
		return 0, 0, nil, fmt.Errorf("unsupported compression %d", compression)
	}
	samples, err := d.scalar(ifd, tagSamplesPerPixel, 1)
	if err != nil {
		return 0, 0, nil, err
	}
	if samples != 1 {
		return 0, 0, nil, fmt.Errorf("unsupported samples per pixel %d", samples)
	}
	bits, err := d.scalar(ifd, tagBitsPerSample, 8)
	if err != nil {
		return 0, 0, nil, err
	}
	format, err := d.scalar(ifd, tagSampleFormat, sampleFormatUint)
	if err != nil {
		return 0, 0, nil, err
	}

	offsetsEntry, ok := ifd[tagStripOffsets]
	if !ok {
		return 0, 0, nil, fmt.Errorf("page without strip offsets")
	}
	offsets, err := d.values(offsetsEntry)
	if err != nil {
		return 0, 0, nil, err
	}
	countsEntry, ok := ifd[tagStripByteCounts]
	if !ok {
		return 0, 0, nil, fmt.Errorf("page without strip byte counts")
	}
	counts, err := d.values(countsEntry)
	if err != nil {
		return 0, 0, nil, err
	}
	if len(offsets) != len(counts) {
		return 0, 0, nil, fmt.Errorf("%d strip offsets but %d byte counts", len(offsets), len(counts))
	}

	var strip []byte
	for i := range offsets {
		start, n := int(offsets[i]), int(counts[i])
		if start+n > len(d.raw) {
			return 0, 0, nil, fmt.Errorf("strip %d at %d out of range", i, start)
		}
		strip = append(strip, d.raw[start:start+n]...)
	}

	expected := int(w) * int(h) * int(bits) / 8
	if len(strip) < expected {
		return 0, 0, nil, fmt.Errorf("page has %d bytes of samples, expected %d", len(strip), expected)
	}
	strip = strip[:expected]

	plane = make([]float64, int(w)*int(h))
	switch {
	case format == sampleFormatUint && bits == 8:
		for i := range plane {
			plane[i] = float64(strip[i])
		}
	case format == sampleFormatUint && bits == 16:
		for i := range plane {
			plane[i] = float64(d.order.Uint16(strip[i*2 : i*2+2]))
		}
	case format == sampleFormatUint && bits == 32:
		for i := range plane {
			plane[i] = float64(d.order.Uint32(strip[i*4 : i*4+4]))
		}
	case format == sampleFormatFloat && bits == 16:
		for i := range plane {
			plane[i] = float16frombits(d.order.Uint16(strip[i*2 : i*2+2]))
		}
	case format == sampleFormatFloat && bits == 32:
		for i := range plane {
			plane[i] = float64(math.Float32frombits(d.order.Uint32(strip[i*4 : i*4+4])))
		}
	case format == sampleFormatFloat && bits == 64:
		for i := range plane {
			plane[i] = math.Float64frombits(d.order.Uint64(strip[i*8 : i*8+8]))
		}
	default:
		return 0, 0, nil, fmt.Errorf("unsupported sample format %d with %d bits", format, bits)
	}

	return int(w), int(h), plane, nil
}
