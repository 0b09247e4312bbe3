package radargram

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeTestFile builds a radargram whose sample at (trace, sample) equals
// trace*1000 + sample, so window reads are easy to verify
func writeTestFile(t *testing.T, traceCount, sampleCount int) string {
	t.Helper()

	fixes := make([]TraceFix, traceCount)
	for i := range fixes {
		fixes[i] = TraceFix{
			Lat:        -75.0 + 0.001*float64(i),
			Lon:        110.0 + 0.002*float64(i),
			AlongTrack: 10.0 * float64(i),
		}
	}

	samples := make([]float32, traceCount*sampleCount)
	for tr := 0; tr < traceCount; tr++ {
		for sa := 0; sa < sampleCount; sa++ {
			samples[tr*sampleCount+sa] = float32(tr*1000 + sa)
		}
	}

	path := filepath.Join(t.TempDir(), "test.rgram")
	require.NoError(t, WriteFile(path, fixes, sampleCount, samples))
	return path
}

func TestOpenReadsDimensionsAndRange(t *testing.T) {
	path := writeTestFile(t, 20, 30)

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, 20, s.TraceCount())
	assert.Equal(t, 30, s.SampleCount())

	minVal, maxVal := s.ValueRange()
	assert.Equal(t, float32(0), minVal)
	assert.Equal(t, float32(19*1000+29), maxVal)
}

func TestTraceGeolocation(t *testing.T) {
	path := writeTestFile(t, 10, 5)

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	fix, err := s.TraceGeolocation(3)
	require.NoError(t, err)
	assert.InDelta(t, -75.0+0.003, fix.Lat, 1e-9)
	assert.InDelta(t, 110.0+0.006, fix.Lon, 1e-9)
	assert.InDelta(t, 30.0, fix.AlongTrack, 1e-9)

	_, err = s.TraceGeolocation(10)
	assert.ErrorIs(t, err, ErrBounds)
	_, err = s.TraceGeolocation(-1)
	assert.ErrorIs(t, err, ErrBounds)
}

func TestReadWindowValues(t *testing.T) {
	path := writeTestFile(t, 20, 30)

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	w, err := s.ReadWindow(5, 8, 10, 14)
	require.NoError(t, err)

	assert.Equal(t, 3, w.Traces)
	assert.Equal(t, 4, w.Samples)
	for tr := 0; tr < w.Traces; tr++ {
		for sa := 0; sa < w.Samples; sa++ {
			want := float32((5+tr)*1000 + 10 + sa)
			assert.Equal(t, want, w.At(tr, sa), "trace %d sample %d", tr, sa)
		}
	}
}

func TestReadWindowBounds(t *testing.T) {
	path := writeTestFile(t, 10, 10)

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	cases := []struct {
		name                   string
		t0, t1, s0, s1 int
	}{
		{"trace past end", 0, 11, 0, 10},
		{"negative trace", -1, 5, 0, 10},
		{"empty trace range", 5, 5, 0, 10},
		{"sample past end", 0, 10, 0, 11},
		{"inverted samples", 0, 10, 6, 3},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := s.ReadWindow(tc.t0, tc.t1, tc.s0, tc.s1)
			assert.ErrorIs(t, err, ErrBounds)
		})
	}
}

func TestReadTrace(t *testing.T) {
	path := writeTestFile(t, 10, 20)

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	dst := make([]float32, 5)
	require.NoError(t, s.ReadTrace(7, 10, 15, dst))
	for i, v := range dst {
		assert.Equal(t, float32(7*1000+10+i), v)
	}

	assert.ErrorIs(t, s.ReadTrace(10, 0, 5, dst), ErrBounds)
	assert.Error(t, s.ReadTrace(0, 0, 10, dst)) // buffer too small
}

func TestOpenRejectsBadMagic(t *testing.T) {
	path := writeTestFile(t, 4, 4)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	copy(data[:4], "NOPE")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	_, err = Open(path)
	assert.ErrorIs(t, err, ErrFormat)
}

func TestOpenRejectsTruncatedFile(t *testing.T) {
	path := writeTestFile(t, 8, 8)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data[:len(data)-16], 0o644))

	_, err = Open(path)
	assert.ErrorIs(t, err, ErrFormat)
}

func TestOpenRejectsOversizedFile(t *testing.T) {
	path := writeTestFile(t, 8, 8)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.Write(make([]byte, 100))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, err = Open(path)
	assert.ErrorIs(t, err, ErrFormat)
}

func TestCloseIsIdempotent(t *testing.T) {
	path := writeTestFile(t, 4, 4)

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
}
