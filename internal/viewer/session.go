// Package viewer holds the interactive radargram viewing state: a viewport
// into one open radargram, appearance settings, and the rendering that turns
// a viewport window into an image for the host to display. All mutation is
// local viewport/appearance state plus read-only store access; the viewer
// never touches the network and never writes radargram files.
package viewer

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"sync"

	"radargram-desktop/internal/common"
	"radargram-desktop/internal/radargram"
)

// ErrSessionClosed is returned from operations on a closed session
var ErrSessionClosed = errors.New("viewer session is closed")

// Appearance holds display configuration. Changing it never moves the
// viewport; the next render simply reflects the new bounds.
type Appearance struct {
	Colormap     string  `json:"colormap"`
	IntensityMin float32 `json:"intensityMin"`
	IntensityMax float32 `json:"intensityMax"`
}

// CursorInfo is the result of mapping a viewport position back to the matrix
// and the ground: the basis for crosshair synchronization with the host map.
type CursorInfo struct {
	Trace  int                `json:"trace"`
	Sample int                `json:"sample"`
	Fix    radargram.TraceFix `json:"fix"`
}

// Session owns one open radargram store and the viewport into it.
// A session is single-owner: the viewport is never shared across sessions,
// and closing the session releases the store.
type Session struct {
	ID        string `json:"id"`
	SegmentID string `json:"segmentId"`

	store *radargram.Store

	mu         sync.Mutex
	viewport   Viewport
	appearance Appearance
	overlap    float64
	closed     bool
}

// NewSession opens a viewer session over a store. The viewport starts at
// full extent and the intensity bounds are fitted to the file's value range.
func NewSession(id, segmentID string, store *radargram.Store, colormap string, overlap float64) (*Session, error) {
	if _, err := ColormapByName(colormap); err != nil {
		return nil, err
	}
	if overlap <= 0 || overlap >= 1 {
		overlap = DefaultOverlap
	}

	minVal, maxVal := store.ValueRange()
	return &Session{
		ID:        id,
		SegmentID: segmentID,
		store:     store,
		viewport:  fullExtent(store.TraceCount(), store.SampleCount()),
		appearance: Appearance{
			Colormap:     colormap,
			IntensityMin: minVal,
			IntensityMax: maxVal,
		},
		overlap: overlap,
	}, nil
}

// Extent returns the matrix dimensions of the underlying radargram
func (s *Session) Extent() (traceCount, sampleCount int) {
	return s.store.TraceCount(), s.store.SampleCount()
}

// Viewport returns the current viewport
func (s *Session) Viewport() (Viewport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Viewport{}, ErrSessionClosed
	}
	return s.viewport, nil
}

// Appearance returns the current appearance settings
func (s *Session) Appearance() (Appearance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Appearance{}, ErrSessionClosed
	}
	return s.appearance, nil
}

// SetAppearance updates colormap and intensity bounds. Pure configuration:
// the viewport is untouched.
func (s *Session) SetAppearance(colormap string, intensityMin, intensityMax float32) error {
	if _, err := ColormapByName(colormap); err != nil {
		return err
	}
	if intensityMin >= intensityMax {
		return fmt.Errorf("intensity bounds inverted: min %g, max %g", intensityMin, intensityMax)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	s.appearance = Appearance{
		Colormap:     colormap,
		IntensityMin: intensityMin,
		IntensityMax: intensityMax,
	}
	return nil
}

// ZoomIn sets the viewport to the given fractional rectangle of the current
// view, clamped to valid bounds and never smaller than 1 trace x 1 sample
func (s *Session) ZoomIn(rect FractRect) (Viewport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Viewport{}, ErrSessionClosed
	}

	next, err := zoomInRect(s.viewport, rect, s.store.TraceCount(), s.store.SampleCount())
	if err != nil {
		return s.viewport, err
	}
	s.viewport = next
	return s.viewport, nil
}

// ZoomOut expands the viewport symmetrically around its center
func (s *Session) ZoomOut(factor float64) (Viewport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Viewport{}, ErrSessionClosed
	}

	next, err := zoomOut(s.viewport, factor, s.store.TraceCount(), s.store.SampleCount())
	if err != nil {
		return s.viewport, err
	}
	s.viewport = next
	return s.viewport, nil
}

// FullExtent resets the viewport to the entire matrix
func (s *Session) FullExtent() (Viewport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Viewport{}, ErrSessionClosed
	}

	s.viewport = fullExtent(s.store.TraceCount(), s.store.SampleCount())
	return s.viewport, nil
}

// Step shifts the trace window prev/next with the configured overlap
func (s *Session) Step(dir StepDirection) (Viewport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Viewport{}, ErrSessionClosed
	}

	next, err := step(s.viewport, dir, s.overlap, s.store.TraceCount())
	if err != nil {
		return s.viewport, err
	}
	s.viewport = next
	return s.viewport, nil
}

// CursorGeolocation maps fractional viewport coordinates (x along the trace
// axis, y along the sample axis, both in [0, 1]) back to a trace/sample
// index and that trace's geolocation. Monotonic and continuous as the
// cursor sweeps across the viewport.
func (s *Session) CursorGeolocation(fx, fy float64) (CursorInfo, error) {
	s.mu.Lock()
	vp := s.viewport
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return CursorInfo{}, ErrSessionClosed
	}

	trace := vp.Trace.Start + int(clamp01(fx)*float64(vp.Trace.Width()))
	if trace >= vp.Trace.End {
		trace = vp.Trace.End - 1
	}
	sample := vp.Sample.Start + int(clamp01(fy)*float64(vp.Sample.Width()))
	if sample >= vp.Sample.End {
		sample = vp.Sample.End - 1
	}

	fix, err := s.store.TraceGeolocation(trace)
	if err != nil {
		return CursorInfo{}, err
	}
	return CursorInfo{Trace: trace, Sample: sample, Fix: fix}, nil
}

// AlongTrackRange returns the along-track distance in meters spanned by the
// current trace window, for the viewer's horizontal axis labels
func (s *Session) AlongTrackRange() (start, end float64, err error) {
	s.mu.Lock()
	vp := s.viewport
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return 0, 0, ErrSessionClosed
	}

	first, err := s.store.TraceGeolocation(vp.Trace.Start)
	if err != nil {
		return 0, 0, err
	}
	last, err := s.store.TraceGeolocation(vp.Trace.End - 1)
	if err != nil {
		return 0, 0, err
	}
	return first.AlongTrack, last.AlongTrack, nil
}

// GeographicBounds returns the bounding box of the groundtrack under the
// current trace window, for the host to draw as a map annotation
func (s *Session) GeographicBounds() (common.BoundingBox, error) {
	s.mu.Lock()
	vp := s.viewport
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return common.BoundingBox{}, ErrSessionClosed
	}

	fixes, err := s.store.Geolocations(vp.Trace.Start, vp.Trace.End)
	if err != nil {
		return common.BoundingBox{}, err
	}

	points := make([]common.Point, len(fixes))
	for i, fix := range fixes {
		points[i] = common.Point{Lat: fix.Lat, Lon: fix.Lon}
	}
	return common.BoundsOf(points)
}

// FullBounds returns the bounding box of the entire groundtrack
func (s *Session) FullBounds() (common.BoundingBox, error) {
	fixes, err := s.store.Geolocations(0, s.store.TraceCount())
	if err != nil {
		return common.BoundingBox{}, err
	}

	points := make([]common.Point, len(fixes))
	for i, fix := range fixes {
		points[i] = common.Point{Lat: fix.Lat, Lon: fix.Lon}
	}
	return common.BoundsOf(points)
}

// Render draws the current viewport into a width x height image. Traces and
// samples are decimated by stride when the window is larger than the output,
// so render cost and memory are bounded by the output size, not the window.
func (s *Session) Render(width, height int) (*image.RGBA, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("render size must be positive, got %dx%d", width, height)
	}

	s.mu.Lock()
	vp := s.viewport
	app := s.appearance
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, ErrSessionClosed
	}

	cmap, err := ColormapByName(app.Colormap)
	if err != nil {
		return nil, err
	}

	span := float64(app.IntensityMax - app.IntensityMin)
	if span <= 0 {
		span = 1
	}

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	buf := make([]float32, vp.Sample.Width())
	lastTrace := -1

	for px := 0; px < width; px++ {
		trace := vp.Trace.Start + int((float64(px)+0.5)/float64(width)*float64(vp.Trace.Width()))
		if trace >= vp.Trace.End {
			trace = vp.Trace.End - 1
		}

		// Upsampled views repeat traces; skip the re-read
		if trace != lastTrace {
			if err := s.store.ReadTrace(trace, vp.Sample.Start, vp.Sample.End, buf); err != nil {
				return nil, err
			}
			lastTrace = trace
		}

		for py := 0; py < height; py++ {
			sample := int((float64(py) + 0.5) / float64(height) * float64(vp.Sample.Width()))
			if sample >= vp.Sample.Width() {
				sample = vp.Sample.Width() - 1
			}
			norm := (float64(buf[sample]) - float64(app.IntensityMin)) / span
			img.SetRGBA(px, py, cmap.At(norm))
		}
	}

	return img, nil
}

// snapshotMaxDim caps snapshot exports on either axis. Full-resolution
// windows can reach hundreds of thousands of traces; a snapshot is for
// inspection and sharing, not for re-deriving the data.
const snapshotMaxDim = 8192

// RenderGray renders the current viewport as an 8-bit grayscale image at
// native window resolution, decimated when the window exceeds the snapshot
// cap. Intensity normalization follows the current appearance bounds; the
// colormap is ignored so exported pixel values stay interpretable.
func (s *Session) RenderGray() (*image.Gray, Viewport, error) {
	s.mu.Lock()
	vp := s.viewport
	app := s.appearance
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, Viewport{}, ErrSessionClosed
	}

	width := vp.Trace.Width()
	if width > snapshotMaxDim {
		width = snapshotMaxDim
	}
	height := vp.Sample.Width()
	if height > snapshotMaxDim {
		height = snapshotMaxDim
	}

	span := float64(app.IntensityMax - app.IntensityMin)
	if span <= 0 {
		span = 1
	}

	img := image.NewGray(image.Rect(0, 0, width, height))
	buf := make([]float32, vp.Sample.Width())
	lastTrace := -1

	for px := 0; px < width; px++ {
		trace := vp.Trace.Start + int((float64(px)+0.5)/float64(width)*float64(vp.Trace.Width()))
		if trace >= vp.Trace.End {
			trace = vp.Trace.End - 1
		}
		if trace != lastTrace {
			if err := s.store.ReadTrace(trace, vp.Sample.Start, vp.Sample.End, buf); err != nil {
				return nil, Viewport{}, err
			}
			lastTrace = trace
		}

		for py := 0; py < height; py++ {
			sample := int((float64(py) + 0.5) / float64(height) * float64(vp.Sample.Width()))
			if sample >= vp.Sample.Width() {
				sample = vp.Sample.Width() - 1
			}
			norm := clamp01((float64(buf[sample]) - float64(app.IntensityMin)) / span)
			img.SetGray(px, py, color.Gray{Y: uint8(norm*255 + 0.5)})
		}
	}

	return img, vp, nil
}

// Close releases the session and its store. Idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	return s.store.Close()
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
