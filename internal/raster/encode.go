package raster

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"sort"

	"github.com/klauspost/compress/zlib"

	"snowline/internal/services"
)

// Baseline TIFF tags.
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
	tagPlanarConfig    = 284
	tagPredictor       = 317
	tagTileWidth       = 322
	tagExtraSamples    = 338
	tagSampleFormat    = 339
)

// Field types.
const (
	typeByte   = 1
	typeASCII  = 2
	typeShort  = 3
	typeLong   = 4
	typeDouble = 12
)

const (
	headerSize          = 8
	ifdEntrySize        = 12
	photometricMinBlack = 1
	planarChunky        = 1
	predictorNone       = 1
	predictorHorizontal = 2
	sampleFormatUint    = 1
)

var order = binary.LittleEndian

type ifdEntry struct {
	tag   uint16
	typ   uint16
	count uint32
	data  []byte
}

func shortEntry(tag uint16, values ...uint16) ifdEntry {
	data := make([]byte, 2*len(values))
	for i, v := range values {
		order.PutUint16(data[2*i:], v)
	}
	return ifdEntry{tag: tag, typ: typeShort, count: uint32(len(values)), data: data}
}

func longEntry(tag uint16, values ...uint32) ifdEntry {
	data := make([]byte, 4*len(values))
	for i, v := range values {
		order.PutUint32(data[4*i:], v)
	}
	return ifdEntry{tag: tag, typ: typeLong, count: uint32(len(values)), data: data}
}

func doubleEntry(tag uint16, values ...float64) ifdEntry {
	data := make([]byte, 8*len(values))
	for i, v := range values {
		order.PutUint64(data[8*i:], math.Float64bits(v))
	}
	return ifdEntry{tag: tag, typ: typeDouble, count: uint32(len(values)), data: data}
}

func asciiEntry(tag uint16, value string) ifdEntry {
	data := append([]byte(value), 0)
	return ifdEntry{tag: tag, typ: typeASCII, count: uint32(len(data)), data: data}
}

// Encode writes img as a little-endian GeoTIFF with a single strip.
func Encode(w io.Writer, img *Image, opts EncodeOptions) error {
	if err := img.validate(); err != nil {
		return err
	}
	compression := opts.Compression
	switch compression {
	case 0:
		compression = CompressionDeflate
	case CompressionNone, CompressionDeflate:
	default:
		return services.Wrap(services.ErrValidation, "raster", "encode",
			fmt.Sprintf("unsupported compression %d", compression), nil)
	}

	samples, err := packSamples(img)
	if err != nil {
		return err
	}
	spp := len(img.Bands)
	if opts.Predictor {
		applyPredictor(samples, img.Width, img.Height, spp, img.Depth)
	}
	strip := sampleBytes(samples, img.Depth)
	if compression == CompressionDeflate {
		var buf bytes.Buffer
		zw := zlib.NewWriter(&buf)
		if _, err := zw.Write(strip); err != nil {
			return services.Wrap(services.ErrIO, "raster", "deflate", "", err)
		}
		if err := zw.Close(); err != nil {
			return services.Wrap(services.ErrIO, "raster", "deflate", "", err)
		}
		strip = buf.Bytes()
	}
	if uint64(len(strip)) > math.MaxUint32/2 {
		return services.Wrap(services.ErrValidation, "raster", "encode", "image exceeds classic TIFF size", nil)
	}

	bits := make([]uint16, spp)
	formats := make([]uint16, spp)
	for i := range bits {
		bits[i] = uint16(img.Depth)
		formats[i] = sampleFormatUint
	}
	predictor := uint16(predictorNone)
	if opts.Predictor {
		predictor = predictorHorizontal
	}
	entries := []ifdEntry{
		longEntry(tagImageWidth, uint32(img.Width)),
		longEntry(tagImageLength, uint32(img.Height)),
		shortEntry(tagBitsPerSample, bits...),
		shortEntry(tagCompression, uint16(compression)),
		shortEntry(tagPhotometric, photometricMinBlack),
		longEntry(tagStripOffsets, headerSize),
		shortEntry(tagSamplesPerPixel, uint16(spp)),
		longEntry(tagRowsPerStrip, uint32(img.Height)),
		longEntry(tagStripByteCounts, uint32(len(strip))),
		shortEntry(tagPlanarConfig, planarChunky),
		shortEntry(tagPredictor, predictor),
		shortEntry(tagSampleFormat, formats...),
	}
	if spp > 1 {
		entries = append(entries, shortEntry(tagExtraSamples, make([]uint16, spp-1)...))
	}
	entries = append(entries, georefEntries(img.Georef)...)
	sort.Slice(entries, func(i, j int) bool { return entries[i].tag < entries[j].tag })

	_, err = w.Write(layout(strip, entries))
	if err != nil {
		return services.Wrap(services.ErrIO, "raster", "write", "", err)
	}
	return nil
}

func georefEntries(g Georef) []ifdEntry {
	var entries []ifdEntry
	if len(g.PixelScale) > 0 {
		entries = append(entries, doubleEntry(tagModelPixelScale, g.PixelScale...))
	}
	if len(g.Tiepoint) > 0 {
		entries = append(entries, doubleEntry(tagModelTiepoint, g.Tiepoint...))
	}
	if len(g.GeoKeyDirectory) > 0 {
		entries = append(entries, shortEntry(tagGeoKeyDirectory, g.GeoKeyDirectory...))
	}
	if len(g.GeoDoubleParams) > 0 {
		entries = append(entries, doubleEntry(tagGeoDoubleParams, g.GeoDoubleParams...))
	}
	if g.GeoASCIIParams != "" {
		entries = append(entries, asciiEntry(tagGeoASCIIParams, g.GeoASCIIParams))
	}
	return entries
}

// layout places the header, the strip, the IFD and any out-of-line values
// in that order. Offsets stay word aligned.
func layout(strip []byte, entries []ifdEntry) []byte {
	ifdOffset := headerSize + len(strip)
	ifdOffset += ifdOffset & 1
	extOffset := ifdOffset + 2 + ifdEntrySize*len(entries) + 4

	var ext []byte
	ifd := make([]byte, 2, 2+ifdEntrySize*len(entries)+4)
	order.PutUint16(ifd, uint16(len(entries)))
	for _, e := range entries {
		var raw [ifdEntrySize]byte
		order.PutUint16(raw[0:], e.tag)
		order.PutUint16(raw[2:], e.typ)
		order.PutUint32(raw[4:], e.count)
		if len(e.data) <= 4 {
			copy(raw[8:], e.data)
		} else {
			order.PutUint32(raw[8:], uint32(extOffset+len(ext)))
			ext = append(ext, e.data...)
			if len(ext)&1 == 1 {
				ext = append(ext, 0)
			}
		}
		ifd = append(ifd, raw[:]...)
	}
	ifd = append(ifd, 0, 0, 0, 0)

	out := make([]byte, 0, extOffset+len(ext))
	out = append(out, 'I', 'I')
	out = order.AppendUint16(out, 42)
	out = order.AppendUint32(out, uint32(ifdOffset))
	out = append(out, strip...)
	for len(out) < ifdOffset {
		out = append(out, 0)
	}
	out = append(out, ifd...)
	return append(out, ext...)
}

// packSamples interleaves the bands into chunky order.
func packSamples(img *Image) ([]uint16, error) {
	spp := len(img.Bands)
	limit := img.Depth.max()
	samples := make([]uint16, img.Width*img.Height*spp)
	for b, band := range img.Bands {
		for y := 0; y < img.Height; y++ {
			for x := 0; x < img.Width; x++ {
				v := math.Round(band.At(y, x))
				if math.IsNaN(v) || v < 0 || v > limit {
					return nil, services.Wrap(services.ErrValidation, "raster", "encode",
						fmt.Sprintf("band %d value %v at (%d,%d) outside 0..%v", b, band.At(y, x), y, x, limit), nil)
				}
				samples[(y*img.Width+x)*spp+b] = uint16(v)
			}
		}
	}
	return samples, nil
}

func sampleBytes(samples []uint16, depth Depth) []byte {
	if depth == Uint8 {
		out := make([]byte, len(samples))
		for i, v := range samples {
			out[i] = byte(v)
		}
		return out
	}
	out := make([]byte, 2*len(samples))
	for i, v := range samples {
		order.PutUint16(out[2*i:], v)
	}
	return out
}

func sampleMask(depth Depth) uint16 {
	if depth == Uint8 {
		return 0xff
	}
	return 0xffff
}

func applyPredictor(samples []uint16, width, height, spp int, depth Depth) {
	mask := sampleMask(depth)
	stride := width * spp
	for y := 0; y < height; y++ {
		row := samples[y*stride : (y+1)*stride]
		for i := len(row) - 1; i >= spp; i-- {
			row[i] = (row[i] - row[i-spp]) & mask
		}
	}
}

func undoPredictor(samples []uint16, width, height, spp int, depth Depth) {
	mask := sampleMask(depth)
	stride := width * spp
	for y := 0; y < height; y++ {
		row := samples[y*stride : (y+1)*stride]
		for i := spp; i < len(row); i++ {
			row[i] = (row[i] + row[i-spp]) & mask
		}
	}
}
