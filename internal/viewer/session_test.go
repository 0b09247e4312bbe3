package viewer

import (
	"image/color"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"radargram-desktop/internal/radargram"
)

// openTestStore writes a small radargram and opens a store over it.
// Sample values ramp linearly from 0 at the first trace to traceCount-1 at
// the last, constant down each trace.
func openTestStore(t *testing.T, traceCount, sampleCount int) *radargram.Store {
	t.Helper()

	fixes := make([]radargram.TraceFix, traceCount)
	for i := range fixes {
		fixes[i] = radargram.TraceFix{
			Lat:        -75.0 + 0.01*float64(i),
			Lon:        110.0 + 0.02*float64(i),
			AlongTrack: 25.0 * float64(i),
		}
	}
	samples := make([]float32, traceCount*sampleCount)
	for tr := 0; tr < traceCount; tr++ {
		for sa := 0; sa < sampleCount; sa++ {
			samples[tr*sampleCount+sa] = float32(tr)
		}
	}

	path := filepath.Join(t.TempDir(), "session.rgram")
	require.NoError(t, radargram.WriteFile(path, fixes, sampleCount, samples))

	store, err := radargram.Open(path)
	require.NoError(t, err)
	return store
}

func newTestSession(t *testing.T, traceCount, sampleCount int) *Session {
	t.Helper()
	store := openTestStore(t, traceCount, sampleCount)
	s, err := NewSession("session_1", "UTIG_ICP3_X45a", store, ColormapGrayscale, 0.2)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestNewSessionStartsAtFullExtent(t *testing.T) {
	s := newTestSession(t, 100, 40)

	vp, err := s.Viewport()
	require.NoError(t, err)
	assert.Equal(t, Range{0, 100}, vp.Trace)
	assert.Equal(t, Range{0, 40}, vp.Sample)

	app, err := s.Appearance()
	require.NoError(t, err)
	assert.Equal(t, ColormapGrayscale, app.Colormap)
	assert.Equal(t, float32(0), app.IntensityMin, "intensity bounds start at the file's value range")
	assert.Equal(t, float32(99), app.IntensityMax)
}

func TestNewSessionRejectsUnknownColormap(t *testing.T) {
	store := openTestStore(t, 10, 10)
	defer store.Close()

	_, err := NewSession("s", "seg", store, "plasma", 0.2)
	assert.Error(t, err)
}

func TestSetAppearanceDoesNotMoveViewport(t *testing.T) {
	s := newTestSession(t, 100, 40)

	_, err := s.ZoomIn(FractRect{X0: 0.2, Y0: 0.2, X1: 0.8, Y1: 0.8})
	require.NoError(t, err)
	before, err := s.Viewport()
	require.NoError(t, err)

	require.NoError(t, s.SetAppearance(ColormapViridis, 10, 50))

	after, err := s.Viewport()
	require.NoError(t, err)
	assert.Equal(t, before, after)

	app, err := s.Appearance()
	require.NoError(t, err)
	assert.Equal(t, ColormapViridis, app.Colormap)
}

func TestSetAppearanceRejectsInvertedBounds(t *testing.T) {
	s := newTestSession(t, 100, 40)
	assert.Error(t, s.SetAppearance(ColormapGrayscale, 50, 50))
	assert.Error(t, s.SetAppearance(ColormapGrayscale, 60, 40))
}

func TestCursorGeolocationRoundTrip(t *testing.T) {
	s := newTestSession(t, 100, 40)

	_, err := s.ZoomIn(FractRect{X0: 0.3, Y0: 0.0, X1: 0.7, Y1: 1.0})
	require.NoError(t, err)
	vp, err := s.Viewport()
	require.NoError(t, err)

	// Every trace in the viewport maps back to itself through the pixel center
	width := float64(vp.Trace.Width())
	for trace := vp.Trace.Start; trace < vp.Trace.End; trace++ {
		fx := (float64(trace-vp.Trace.Start) + 0.5) / width
		info, err := s.CursorGeolocation(fx, 0.5)
		require.NoError(t, err)
		assert.Equal(t, trace, info.Trace)
		assert.InDelta(t, -75.0+0.01*float64(trace), info.Fix.Lat, 1e-9)
	}
}

func TestCursorGeolocationMonotonic(t *testing.T) {
	s := newTestSession(t, 200, 40)

	prev := -1
	for i := 0; i <= 100; i++ {
		info, err := s.CursorGeolocation(float64(i)/100, 0.5)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, info.Trace, prev, "cursor sweep must be monotonic")
		prev = info.Trace
	}
	assert.Equal(t, 199, prev, "sweep ends at the last trace")
}

func TestCursorGeolocationClampsInput(t *testing.T) {
	s := newTestSession(t, 100, 40)

	low, err := s.CursorGeolocation(-0.5, -0.5)
	require.NoError(t, err)
	assert.Equal(t, 0, low.Trace)
	assert.Equal(t, 0, low.Sample)

	high, err := s.CursorGeolocation(1.5, 1.5)
	require.NoError(t, err)
	assert.Equal(t, 99, high.Trace)
	assert.Equal(t, 39, high.Sample)
}

func TestGeographicBoundsFollowViewport(t *testing.T) {
	s := newTestSession(t, 100, 40)

	full, err := s.GeographicBounds()
	require.NoError(t, err)

	_, err = s.ZoomIn(FractRect{X0: 0.0, Y0: 0.0, X1: 0.25, Y1: 1.0})
	require.NoError(t, err)

	zoomed, err := s.GeographicBounds()
	require.NoError(t, err)
	assert.Less(t, zoomed.East-zoomed.West, full.East-full.West)
	assert.Equal(t, full.West, zoomed.West, "zoom to the start keeps the western edge")
}

func TestAlongTrackRangeFollowsViewport(t *testing.T) {
	s := newTestSession(t, 100, 40)

	start, end, err := s.AlongTrackRange()
	require.NoError(t, err)
	assert.Equal(t, 0.0, start)
	assert.Equal(t, 25.0*99, end, "full extent spans the whole groundtrack")

	_, err = s.ZoomIn(FractRect{X0: 0.25, Y0: 0.0, X1: 0.75, Y1: 1.0})
	require.NoError(t, err)

	start, end, err = s.AlongTrackRange()
	require.NoError(t, err)
	assert.Equal(t, 25.0*25, start)
	assert.Equal(t, 25.0*74, end)
}

func TestRenderDimensionsAndShading(t *testing.T) {
	s := newTestSession(t, 100, 40)

	img, err := s.Render(50, 20)
	require.NoError(t, err)
	assert.Equal(t, 50, img.Rect.Dx())
	assert.Equal(t, 20, img.Rect.Dy())

	// Values ramp left to right, so grayscale shading must too
	left := img.RGBAAt(0, 10)
	right := img.RGBAAt(49, 10)
	assert.Less(t, left.R, right.R)
	assert.Equal(t, left.R, left.G, "grayscale channels match")
	assert.Equal(t, left.R, left.B)
}

func TestRenderUpsampledView(t *testing.T) {
	s := newTestSession(t, 10, 4)

	// Output larger than the window repeats traces instead of failing
	img, err := s.Render(64, 32)
	require.NoError(t, err)
	assert.Equal(t, 64, img.Rect.Dx())
}

func TestRenderRejectsBadSize(t *testing.T) {
	s := newTestSession(t, 10, 4)
	_, err := s.Render(0, 10)
	assert.Error(t, err)
	_, err = s.Render(10, -1)
	assert.Error(t, err)
}

func TestRenderGraySnapshot(t *testing.T) {
	s := newTestSession(t, 100, 40)

	img, vp, err := s.RenderGray()
	require.NoError(t, err)
	assert.Equal(t, 100, img.Rect.Dx(), "snapshot is native window resolution")
	assert.Equal(t, 40, img.Rect.Dy())
	assert.Equal(t, Range{0, 100}, vp.Trace)

	// Darkest at the first trace, brightest at the last
	assert.Equal(t, color.Gray{Y: 0}, img.GrayAt(0, 0))
	assert.Equal(t, color.Gray{Y: 255}, img.GrayAt(99, 0))
}

func TestClosedSessionRejectsOperations(t *testing.T) {
	s := newTestSession(t, 10, 4)
	require.NoError(t, s.Close())

	_, err := s.Viewport()
	assert.ErrorIs(t, err, ErrSessionClosed)
	_, err = s.ZoomOut(2)
	assert.ErrorIs(t, err, ErrSessionClosed)
	_, err = s.Step(StepNext)
	assert.ErrorIs(t, err, ErrSessionClosed)
	_, err = s.CursorGeolocation(0.5, 0.5)
	assert.ErrorIs(t, err, ErrSessionClosed)
	_, err = s.Render(10, 10)
	assert.ErrorIs(t, err, ErrSessionClosed)

	require.NoError(t, s.Close(), "close is idempotent")
}
