package raster

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/klauspost/compress/zlib"
	"gonum.org/v1/gonum/mat"

	"snowline/internal/services"
)

// maxSamples bounds allocations driven by header values.
const maxSamples = 1 << 28

type rawEntry struct {
	typ     uint16
	count   uint32
	payload []byte
}

type decoder struct {
	data  []byte
	order binary.ByteOrder
	tags  map[uint16]rawEntry
}

func typeSize(typ uint16) int {
	switch typ {
	case 1, 2, 6, 7:
		return 1
	case 3, 8:
		return 2
	case 4, 9, 11:
		return 4
	case 5, 10, 12:
		return 8
	default:
		return 0
	}
}

func corrupt(format string, args ...any) error {
	return services.Wrap(services.ErrIO, "raster", "decode", fmt.Sprintf(format, args...), nil)
}

// Decode reads the first image of a TIFF stream.
func Decode(r io.Reader) (*Image, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, services.Wrap(services.ErrIO, "raster", "read", "", err)
	}
	d := &decoder{data: data, tags: make(map[uint16]rawEntry)}
	if err := d.parseHeader(); err != nil {
		return nil, err
	}
	return d.image()
}

func (d *decoder) parseHeader() error {
	if len(d.data) < headerSize {
		return corrupt("file too short")
	}
	switch string(d.data[:2]) {
	case "II":
		d.order = binary.LittleEndian
	case "MM":
		d.order = binary.BigEndian
	default:
		return corrupt("not a TIFF file")
	}
	if magic := d.order.Uint16(d.data[2:]); magic != 42 {
		if magic == 43 {
			return corrupt("BigTIFF is not supported")
		}
		return corrupt("bad magic %d", magic)
	}

	offset := int(d.order.Uint32(d.data[4:]))
	if offset < headerSize || offset+2 > len(d.data) {
		return corrupt("IFD offset %d out of range", offset)
	}
	n := int(d.order.Uint16(d.data[offset:]))
	end := offset + 2 + n*ifdEntrySize
	if end > len(d.data) {
		return corrupt("IFD with %d entries truncated", n)
	}
	for i := 0; i < n; i++ {
		raw := d.data[offset+2+i*ifdEntrySize:]
		tag := d.order.Uint16(raw[0:])
		typ := d.order.Uint16(raw[2:])
		count := d.order.Uint32(raw[4:])
		size := typeSize(typ)
		if size == 0 {
			// Unknown field types are skipped.
			continue
		}
		total := uint64(size) * uint64(count)
		var payload []byte
		if total <= 4 {
			payload = raw[8 : 8+total]
		} else {
			at := uint64(d.order.Uint32(raw[8:]))
			if at+total > uint64(len(d.data)) {
				return corrupt("tag %d value out of range", tag)
			}
			payload = d.data[at : at+total]
		}
		d.tags[tag] = rawEntry{typ: typ, count: count, payload: payload}
	}
	return nil
}

func (d *decoder) uints(tag uint16) ([]uint64, bool) {
	e, ok := d.tags[tag]
	if !ok {
		return nil, false
	}
	out := make([]uint64, e.count)
	for i := range out {
		switch e.typ {
		case typeByte:
			out[i] = uint64(e.payload[i])
		case typeShort:
			out[i] = uint64(d.order.Uint16(e.payload[2*i:]))
		case typeLong:
			out[i] = uint64(d.order.Uint32(e.payload[4*i:]))
		default:
			return nil, false
		}
	}
	return out, true
}

func (d *decoder) uint(tag uint16, fallback uint64) (uint64, error) {
	values, ok := d.uints(tag)
	if !ok {
		if _, present := d.tags[tag]; present {
			return 0, corrupt("tag %d has unexpected type", tag)
		}
		return fallback, nil
	}
	if len(values) == 0 {
		return 0, corrupt("tag %d is empty", tag)
	}
	return values[0], nil
}

func (d *decoder) doubles(tag uint16) []float64 {
	e, ok := d.tags[tag]
	if !ok || e.typ != typeDouble {
		return nil
	}
	out := make([]float64, e.count)
	for i := range out {
		out[i] = math.Float64frombits(d.order.Uint64(e.payload[8*i:]))
	}
	return out
}

func (d *decoder) shorts(tag uint16) []uint16 {
	e, ok := d.tags[tag]
	if !ok || e.typ != typeShort {
		return nil
	}
	out := make([]uint16, e.count)
	for i := range out {
		out[i] = d.order.Uint16(e.payload[2*i:])
	}
	return out
}

func (d *decoder) ascii(tag uint16) string {
	e, ok := d.tags[tag]
	if !ok || e.typ != typeASCII {
		return ""
	}
	return strings.TrimRight(string(e.payload), "\x00")
}

func (d *decoder) image() (*Image, error) {
	width, err := d.uint(tagImageWidth, 0)
	if err != nil {
		return nil, err
	}
	height, err := d.uint(tagImageLength, 0)
	if err != nil {
		return nil, err
	}
	if width == 0 || height == 0 {
		return nil, corrupt("image has no pixels")
	}
	spp, err := d.uint(tagSamplesPerPixel, 1)
	if err != nil {
		return nil, err
	}
	if spp == 0 || width > maxSamples || height > maxSamples || width*height*spp > maxSamples {
		return nil, corrupt("unsupported size %dx%dx%d", width, height, spp)
	}
	if _, tiled := d.tags[tagTileWidth]; tiled {
		return nil, corrupt("tiled images are not supported")
	}
	if planar, err := d.uint(tagPlanarConfig, planarChunky); err != nil || planar != planarChunky {
		return nil, corrupt("only chunky planar configuration is supported")
	}

	bits, ok := d.uints(tagBitsPerSample)
	if !ok || uint64(len(bits)) < spp {
		return nil, corrupt("missing bits per sample")
	}
	depth := Depth(bits[0])
	for _, b := range bits[:spp] {
		if Depth(b) != depth {
			return nil, corrupt("mixed sample depths")
		}
	}
	if depth != Uint8 && depth != Uint16 {
		return nil, corrupt("unsupported bit depth %d", depth)
	}
	if formats, ok := d.uints(tagSampleFormat); ok {
		for _, f := range formats {
			if f != sampleFormatUint {
				return nil, corrupt("only unsigned integer samples are supported")
			}
		}
	}

	compression, err := d.uint(tagCompression, uint64(CompressionNone))
	if err != nil {
		return nil, err
	}
	predictor, err := d.uint(tagPredictor, predictorNone)
	if err != nil {
		return nil, err
	}
	if predictor != predictorNone && predictor != predictorHorizontal {
		return nil, corrupt("unsupported predictor %d", predictor)
	}

	pix, err := d.readStrips(int(width), int(height), int(spp), depth, Compression(compression))
	if err != nil {
		return nil, err
	}
	samples := make([]uint16, int(width*height*spp))
	if depth == Uint8 {
		for i := range samples {
			samples[i] = uint16(pix[i])
		}
	} else {
		for i := range samples {
			samples[i] = d.order.Uint16(pix[2*i:])
		}
	}
	if predictor == predictorHorizontal {
		undoPredictor(samples, int(width), int(height), int(spp), depth)
	}

	img := &Image{
		Width:  int(width),
		Height: int(height),
		Depth:  depth,
		Bands:  make([]*mat.Dense, spp),
		Georef: Georef{
			PixelScale:      d.doubles(tagModelPixelScale),
			Tiepoint:        d.doubles(tagModelTiepoint),
			GeoKeyDirectory: d.shorts(tagGeoKeyDirectory),
			GeoDoubleParams: d.doubles(tagGeoDoubleParams),
			GeoASCIIParams:  d.ascii(tagGeoASCIIParams),
		},
	}
	for b := range img.Bands {
		values := make([]float64, img.Width*img.Height)
		for i := range values {
			values[i] = float64(samples[i*int(spp)+b])
		}
		img.Bands[b] = mat.NewDense(img.Height, img.Width, values)
	}
	return img, nil
}

func (d *decoder) readStrips(width, height, spp int, depth Depth, compression Compression) ([]byte, error) {
	offsets, ok := d.uints(tagStripOffsets)
	if !ok {
		return nil, corrupt("missing strip offsets")
	}
	counts, ok := d.uints(tagStripByteCounts)
	if !ok || len(counts) != len(offsets) {
		return nil, corrupt("missing or mismatched strip byte counts")
	}
	rowsPerStrip, err := d.uint(tagRowsPerStrip, uint64(height))
	if err != nil {
		return nil, err
	}
	if rowsPerStrip == 0 || rowsPerStrip > uint64(height) {
		rowsPerStrip = uint64(height)
	}
	rowBytes := width * spp * int(depth) / 8
	strips := (height + int(rowsPerStrip) - 1) / int(rowsPerStrip)
	if len(offsets) < strips {
		return nil, corrupt("expected %d strips, found %d", strips, len(offsets))
	}

	pix := make([]byte, 0, rowBytes*height)
	for s := 0; s < strips; s++ {
		start, size := offsets[s], counts[s]
		if start+size > uint64(len(d.data)) {
			return nil, corrupt("strip %d out of range", s)
		}
		raw := d.data[start : start+size]
		rows := min(int(rowsPerStrip), height-s*int(rowsPerStrip))
		want := rows * rowBytes

		switch compression {
		case CompressionNone:
		case CompressionDeflate, compressionDeflateLegacy:
			zr, err := zlib.NewReader(bytes.NewReader(raw))
			if err != nil {
				return nil, services.Wrap(services.ErrIO, "raster", "inflate", fmt.Sprintf("strip %d", s), err)
			}
			raw, err = io.ReadAll(io.LimitReader(zr, int64(want)))
			zr.Close()
			if err != nil {
				return nil, services.Wrap(services.ErrIO, "raster", "inflate", fmt.Sprintf("strip %d", s), err)
			}
		default:
			return nil, corrupt("unsupported compression %d", compression)
		}
		if len(raw) < want {
			return nil, corrupt("strip %d holds %d bytes, expected %d", s, len(raw), want)
		}
		pix = append(pix, raw[:want]...)
	}
	return pix, nil
}
