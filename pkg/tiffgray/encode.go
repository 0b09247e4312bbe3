// Package tiffgray encodes 8-bit grayscale images as uncompressed,
// single-strip TIFF files. Radargram snapshots are intensity data, not
// photographs: analysis tools expect a plain grayscale TIFF whose pixel
// values survive round-tripping, so no compression and no color model.
package tiffgray

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"image"
	"io"
	"sort"
)

const (
	dtByte     = 1
	dtASCII    = 2
	dtShort    = 3
	dtLong     = 4
	dtRational = 5

	tagImageWidth       = 256
	tagImageLength      = 257
	tagBitsPerSample    = 258
	tagCompression      = 259
	tagPhotometric      = 262
	tagImageDescription = 270
	tagStripOffsets     = 273
	tagSamplesPerPixel  = 277
	tagRowsPerStrip     = 278
	tagStripByteCounts  = 279
	tagXResolution      = 282
	tagYResolution      = 283
	tagResolutionUnit   = 296
	tagSoftware         = 305
)

// software is written into every file's Software tag
const software = "radargram-desktop"

var enc = binary.LittleEndian

type ifdEntry struct {
	tag      uint16
	datatype uint16
	count    uint32
	data     []byte
}

// Encode writes img to w as an uncompressed 8-bit grayscale TIFF with a
// single strip. description, when non-empty, is stored in the
// ImageDescription tag so the provenance of a snapshot travels with the file.
func Encode(w io.Writer, img *image.Gray, description string) error {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width <= 0 || height <= 0 {
		return fmt.Errorf("cannot encode empty image %dx%d", width, height)
	}

	// Header: little-endian marker, magic 42, first IFD at offset 8
	if _, err := w.Write([]byte{'I', 'I', 0x2A, 0x00, 0x08, 0x00, 0x00, 0x00}); err != nil {
		return err
	}

	// Pack pixel rows contiguously; image.Gray strides may exceed width
	pixels := make([]byte, 0, width*height)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		rowStart := img.PixOffset(bounds.Min.X, y)
		pixels = append(pixels, img.Pix[rowStart:rowStart+width]...)
	}

	var entries []ifdEntry
	add := func(tag, datatype uint16, count uint32, data []byte) {
		entries = append(entries, ifdEntry{tag, datatype, count, data})
	}

	add(tagImageWidth, dtShort, 1, enc16(uint16(width)))
	add(tagImageLength, dtShort, 1, enc16(uint16(height)))
	add(tagBitsPerSample, dtShort, 1, enc16(8))
	add(tagCompression, dtShort, 1, enc16(1)) // none
	add(tagPhotometric, dtShort, 1, enc16(1)) // black is zero
	add(tagSamplesPerPixel, dtShort, 1, enc16(1))
	add(tagRowsPerStrip, dtShort, 1, enc16(uint16(height)))
	add(tagXResolution, dtRational, 1, encRational(72, 1))
	add(tagYResolution, dtRational, 1, encRational(72, 1))
	add(tagResolutionUnit, dtShort, 1, enc16(2)) // inch
	add(tagStripOffsets, dtLong, 1, make([]byte, 4))
	add(tagStripByteCounts, dtLong, 1, enc32(uint32(len(pixels))))

	if description != "" {
		b := append([]byte(description), 0)
		add(tagImageDescription, dtASCII, uint32(len(b)), b)
	}
	sw := append([]byte(software), 0)
	add(tagSoftware, dtASCII, uint32(len(sw)), sw)

	sort.Slice(entries, func(i, j int) bool { return entries[i].tag < entries[j].tag })

	// IFD layout: count + 12 bytes per entry + next-IFD offset, then any
	// values too large for the inline 4-byte field, then the pixel strip
	ifdSize := 2 + 12*len(entries) + 4
	valueDataOffset := 8 + ifdSize

	var largeData bytes.Buffer
	for i := range entries {
		e := &entries[i]
		if len(e.data) > 4 {
			offset := uint32(valueDataOffset + largeData.Len())
			largeData.Write(e.data)
			e.data = enc32(offset)
		}
	}

	pixelsOffset := uint32(valueDataOffset + largeData.Len())
	for i := range entries {
		if entries[i].tag == tagStripOffsets {
			entries[i].data = enc32(pixelsOffset)
		}
	}

	if err := binary.Write(w, enc, uint16(len(entries))); err != nil {
		return err
	}
	for _, e := range entries {
		if err := binary.Write(w, enc, e.tag); err != nil {
			return err
		}
		if err := binary.Write(w, enc, e.datatype); err != nil {
			return err
		}
		if err := binary.Write(w, enc, e.count); err != nil {
			return err
		}
		var val [4]byte
		copy(val[:], e.data)
		if _, err := w.Write(val[:]); err != nil {
			return err
		}
	}
	if err := binary.Write(w, enc, uint32(0)); err != nil {
		return err
	}

	if _, err := largeData.WriteTo(w); err != nil {
		return err
	}
	if _, err := w.Write(pixels); err != nil {
		return err
	}
	return nil
}

func enc16(v uint16) []byte {
	b := make([]byte, 2)
	enc.PutUint16(b, v)
	return b
}

func enc32(v uint32) []byte {
	b := make([]byte, 4)
	enc.PutUint32(b, v)
	return b
}

func encRational(num, den uint32) []byte {
	b := make([]byte, 8)
	enc.PutUint32(b[:4], num)
	enc.PutUint32(b[4:], den)
	return b
}
