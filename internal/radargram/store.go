package radargram

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"sync"
)

// Files smaller than this are loaded whole on first read: one sequential
// read beats many positioned reads when the matrix fits comfortably in
// memory anyway.
const smallFileBytes = 32 << 20

// Store exposes lazy, windowed access to one radargram container.
// Memory use is bounded by the requested window, not by file size.
// Window reads are safe to call concurrently; the store never mutates
// the underlying file.
type Store struct {
	f    *os.File
	path string

	traceCount  int
	sampleCount int
	minVal      float32
	maxVal      float32

	fixes []TraceFix

	// Whole-matrix fast path for small files, populated lazily
	loadOnce sync.Once
	loadErr  error
	all      []float32

	closeOnce sync.Once
}

// Open validates a radargram container and returns a store over it.
// Returns ErrFormat when the file's declared dimensions are inconsistent
// with its actual size, or the header is unreadable.
func Open(path string) (*Store, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open radargram: %w", err)
	}

	s := &Store{f: f, path: path}
	if err := s.readHeader(); err != nil {
		f.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) readHeader() error {
	header := make([]byte, headerSize)
	if _, err := io.ReadFull(s.f, header); err != nil {
		return fmt.Errorf("%w: short header: %v", ErrFormat, err)
	}

	if string(header[:4]) != magic {
		return fmt.Errorf("%w: bad magic %q", ErrFormat, header[:4])
	}
	if v := binary.LittleEndian.Uint16(header[4:6]); v != version {
		return fmt.Errorf("%w: unsupported version %d", ErrFormat, v)
	}

	s.traceCount = int(binary.LittleEndian.Uint32(header[8:12]))
	s.sampleCount = int(binary.LittleEndian.Uint32(header[12:16]))
	s.minVal = math.Float32frombits(binary.LittleEndian.Uint32(header[16:20]))
	s.maxVal = math.Float32frombits(binary.LittleEndian.Uint32(header[20:24]))

	if s.traceCount <= 0 || s.sampleCount <= 0 {
		return fmt.Errorf("%w: degenerate dimensions %dx%d", ErrFormat, s.traceCount, s.sampleCount)
	}

	info, err := s.f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat radargram: %w", err)
	}
	if want := fileSize(s.traceCount, s.sampleCount); info.Size() != want {
		return fmt.Errorf("%w: file is %d bytes, declared dimensions require %d",
			ErrFormat, info.Size(), want)
	}

	// Geolocation block stays resident: it is 24 bytes per trace and both
	// the viewer crosshair and the map overlay need random access to it.
	geo := make([]byte, s.traceCount*bytesPerFix)
	if _, err := io.ReadFull(s.f, geo); err != nil {
		return fmt.Errorf("%w: short geolocation block: %v", ErrFormat, err)
	}
	s.fixes = make([]TraceFix, s.traceCount)
	for i := range s.fixes {
		off := i * bytesPerFix
		s.fixes[i] = TraceFix{
			Lat:        math.Float64frombits(binary.LittleEndian.Uint64(geo[off:])),
			Lon:        math.Float64frombits(binary.LittleEndian.Uint64(geo[off+8:])),
			AlongTrack: math.Float64frombits(binary.LittleEndian.Uint64(geo[off+16:])),
		}
	}

	return nil
}

// TraceCount returns the number of traces (matrix width)
func (s *Store) TraceCount() int { return s.traceCount }

// SampleCount returns the number of samples per trace (matrix height)
func (s *Store) SampleCount() int { return s.sampleCount }

// ValueRange returns the minimum and maximum sample value in the file,
// used to initialize the viewer's intensity bounds.
func (s *Store) ValueRange() (float32, float32) { return s.minVal, s.maxVal }

// TraceGeolocation returns the geolocation of a single trace
func (s *Store) TraceGeolocation(trace int) (TraceFix, error) {
	if trace < 0 || trace >= s.traceCount {
		return TraceFix{}, fmt.Errorf("%w: trace %d of %d", ErrBounds, trace, s.traceCount)
	}
	return s.fixes[trace], nil
}

// Geolocations returns the fixes for a half-open trace range
func (s *Store) Geolocations(start, end int) ([]TraceFix, error) {
	if start < 0 || end > s.traceCount || start >= end {
		return nil, fmt.Errorf("%w: traces [%d, %d) of %d", ErrBounds, start, end, s.traceCount)
	}
	return s.fixes[start:end], nil
}

// ReadWindow reads the sub-rectangle [traceStart, traceEnd) x
// [sampleStart, sampleEnd) of the sample matrix. Only the requested
// rectangle is read from disk.
func (s *Store) ReadWindow(traceStart, traceEnd, sampleStart, sampleEnd int) (*Window, error) {
	if traceStart < 0 || traceEnd > s.traceCount || traceStart >= traceEnd ||
		sampleStart < 0 || sampleEnd > s.sampleCount || sampleStart >= sampleEnd {
		return nil, fmt.Errorf("%w: traces [%d, %d) samples [%d, %d) of %dx%d",
			ErrBounds, traceStart, traceEnd, sampleStart, sampleEnd, s.traceCount, s.sampleCount)
	}

	w := &Window{
		TraceStart:  traceStart,
		SampleStart: sampleStart,
		Traces:      traceEnd - traceStart,
		Samples:     sampleEnd - sampleStart,
	}
	w.Data = make([]float32, w.Traces*w.Samples)

	if all, ok := s.wholeMatrix(); ok {
		for i := 0; i < w.Traces; i++ {
			src := (traceStart+i)*s.sampleCount + sampleStart
			copy(w.Data[i*w.Samples:(i+1)*w.Samples], all[src:src+w.Samples])
		}
		return w, nil
	}

	buf := make([]byte, w.Samples*sampleSize)
	for i := 0; i < w.Traces; i++ {
		off := s.sampleOffset(traceStart+i, sampleStart)
		if _, err := s.f.ReadAt(buf, off); err != nil {
			return nil, fmt.Errorf("failed to read trace %d: %w", traceStart+i, err)
		}
		for j := 0; j < w.Samples; j++ {
			w.Data[i*w.Samples+j] = math.Float32frombits(binary.LittleEndian.Uint32(buf[j*sampleSize:]))
		}
	}
	return w, nil
}

// ReadTrace reads one trace's samples over a half-open sample range.
// Renderers use this to read decimated columns without pulling the
// traces they skip.
func (s *Store) ReadTrace(trace, sampleStart, sampleEnd int, dst []float32) error {
	if trace < 0 || trace >= s.traceCount ||
		sampleStart < 0 || sampleEnd > s.sampleCount || sampleStart >= sampleEnd {
		return fmt.Errorf("%w: trace %d samples [%d, %d) of %dx%d",
			ErrBounds, trace, sampleStart, sampleEnd, s.traceCount, s.sampleCount)
	}
	n := sampleEnd - sampleStart
	if len(dst) < n {
		return fmt.Errorf("destination buffer too small: %d < %d", len(dst), n)
	}

	if all, ok := s.wholeMatrix(); ok {
		src := trace*s.sampleCount + sampleStart
		copy(dst[:n], all[src:src+n])
		return nil
	}

	buf := make([]byte, n*sampleSize)
	if _, err := s.f.ReadAt(buf, s.sampleOffset(trace, sampleStart)); err != nil {
		return fmt.Errorf("failed to read trace %d: %w", trace, err)
	}
	for j := 0; j < n; j++ {
		dst[j] = math.Float32frombits(binary.LittleEndian.Uint32(buf[j*sampleSize:]))
	}
	return nil
}

func (s *Store) sampleOffset(trace, sample int) int64 {
	return dataOffset(s.traceCount) + (int64(trace)*int64(s.sampleCount)+int64(sample))*sampleSize
}

// wholeMatrix loads and returns the full matrix when the file is small
// enough that whole-file loading is cheaper than windowed I/O.
func (s *Store) wholeMatrix() ([]float32, bool) {
	total := int64(s.traceCount) * int64(s.sampleCount) * sampleSize
	if total > smallFileBytes {
		return nil, false
	}

	s.loadOnce.Do(func() {
		buf := make([]byte, total)
		if _, err := s.f.ReadAt(buf, dataOffset(s.traceCount)); err != nil {
			s.loadErr = err
			return
		}
		s.all = make([]float32, s.traceCount*s.sampleCount)
		for i := range s.all {
			s.all[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*sampleSize:]))
		}
	})

	if s.loadErr != nil || s.all == nil {
		return nil, false
	}
	return s.all, true
}

// Close releases the underlying file. Idempotent.
func (s *Store) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.f.Close()
	})
	return err
}
