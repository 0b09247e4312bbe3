// Package radargram provides windowed access to radargram container files.
//
// A container holds one transect's full-resolution sample matrix plus a
// per-trace geolocation block. The layout is flat and little-endian so a
// viewer can read arbitrary sub-rectangles with positioned reads instead of
// holding the matrix in memory:
//
//	offset 0   magic "RGRM"
//	offset 4   uint16 version (currently 1)
//	offset 6   uint16 reserved
//	offset 8   uint32 trace count
//	offset 12  uint32 sample count (per trace)
//	offset 16  float32 minimum sample value
//	offset 20  float32 maximum sample value
//	offset 24  geolocation block: trace count * (lat float64, lon float64,
//	           along-track distance float64 in meters)
//	then       sample matrix: trace count * sample count float32,
//	           trace-major (each trace's samples are contiguous)
//
// The geolocation block length is implied by the trace count, so a file
// whose size disagrees with its declared dimensions is rejected as corrupt.
package radargram

import "errors"

const (
	magic   = "RGRM"
	version = 1

	headerSize  = 24
	bytesPerFix = 3 * 8 // lat, lon, along-track distance
	sampleSize  = 4
)

// ErrFormat reports a malformed or corrupt container file. Callers surface
// this as "cannot open", distinct from "not yet downloaded".
var ErrFormat = errors.New("malformed radargram file")

// ErrBounds reports a window request outside the matrix extent
var ErrBounds = errors.New("requested window outside matrix bounds")

// TraceFix is the geolocation of a single trace
type TraceFix struct {
	Lat        float64 `json:"lat"`
	Lon        float64 `json:"lon"`
	AlongTrack float64 `json:"alongTrack"` // meters from the start of the transect
}

// Window is a sub-rectangle of the sample matrix. Data is trace-major:
// Data[i*Samples+j] is sample j of trace TraceStart+i.
type Window struct {
	TraceStart  int
	SampleStart int
	Traces      int
	Samples     int
	Data        []float32
}

// At returns the sample at window-relative coordinates
func (w *Window) At(trace, sample int) float32 {
	return w.Data[trace*w.Samples+sample]
}

func dataOffset(traceCount int) int64 {
	return headerSize + int64(traceCount)*bytesPerFix
}

func fileSize(traceCount, sampleCount int) int64 {
	return dataOffset(traceCount) + int64(traceCount)*int64(sampleCount)*sampleSize
}
