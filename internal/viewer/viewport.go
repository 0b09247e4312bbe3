package viewer

import "fmt"

// Range is a half-open index interval [Start, End)
type Range struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Width returns the number of indices covered by the range
func (r Range) Width() int { return r.End - r.Start }

// Viewport is the currently rendered trace/sample sub-rectangle of a radar
// matrix. Always non-degenerate and clamped to the matrix extent.
type Viewport struct {
	Trace  Range `json:"trace"`
	Sample Range `json:"sample"`
}

// FractRect is a rectangle in fractional viewport coordinates: x runs along
// the trace axis and y along the sample axis, both in [0, 1] relative to the
// current viewport. This is what the host sends for a drag-to-zoom gesture.
type FractRect struct {
	X0 float64 `json:"x0"`
	Y0 float64 `json:"y0"`
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
}

// StepDirection selects which way a prev/next step moves the trace window
type StepDirection string

const (
	StepPrev StepDirection = "prev"
	StepNext StepDirection = "next"
)

// DefaultOverlap is the fraction of the window shared by consecutive
// prev/next views. The overlap guarantees a feature near a window edge
// appears in both views and cannot slip past unseen, so stepping shifts
// by (1 - overlap) * width.
const DefaultOverlap = 0.2

// fullExtent returns the viewport covering the whole matrix
func fullExtent(traceCount, sampleCount int) Viewport {
	return Viewport{
		Trace:  Range{Start: 0, End: traceCount},
		Sample: Range{Start: 0, End: sampleCount},
	}
}

// clampRange confines r to [0, max) while keeping at least one index
func clampRange(r Range, max int) Range {
	if r.Start > r.End {
		r.Start, r.End = r.End, r.Start
	}
	if r.End-r.Start < 1 {
		r.End = r.Start + 1
	}
	if r.Start < 0 {
		r.End -= r.Start
		r.Start = 0
	}
	if r.End > max {
		r.Start -= r.End - max
		r.End = max
	}
	if r.Start < 0 {
		r.Start = 0
	}
	return r
}

// zoomInRect maps a fractional rectangle within vp to a new viewport.
// The result never inverts and never degenerates below 1x1.
func zoomInRect(vp Viewport, rect FractRect, traceCount, sampleCount int) (Viewport, error) {
	if rect.X0 > rect.X1 {
		rect.X0, rect.X1 = rect.X1, rect.X0
	}
	if rect.Y0 > rect.Y1 {
		rect.Y0, rect.Y1 = rect.Y1, rect.Y0
	}
	if rect.X0 < 0 || rect.X1 > 1 || rect.Y0 < 0 || rect.Y1 > 1 {
		return vp, fmt.Errorf("zoom rectangle outside viewport: %+v", rect)
	}

	tw := float64(vp.Trace.Width())
	sw := float64(vp.Sample.Width())

	next := Viewport{
		Trace: Range{
			Start: vp.Trace.Start + int(rect.X0*tw),
			End:   vp.Trace.Start + int(rect.X1*tw+0.5),
		},
		Sample: Range{
			Start: vp.Sample.Start + int(rect.Y0*sw),
			End:   vp.Sample.Start + int(rect.Y1*sw+0.5),
		},
	}
	next.Trace = clampRange(next.Trace, traceCount)
	next.Sample = clampRange(next.Sample, sampleCount)
	return next, nil
}

// zoomOut expands vp symmetrically around its center by factor, clamped to
// the full extent
func zoomOut(vp Viewport, factor float64, traceCount, sampleCount int) (Viewport, error) {
	if factor <= 1 {
		return vp, fmt.Errorf("zoom-out factor must exceed 1, got %g", factor)
	}

	expand := func(r Range, max int) Range {
		width := float64(r.Width()) * factor
		center := float64(r.Start+r.End) / 2
		out := Range{
			Start: int(center - width/2),
			End:   int(center + width/2 + 0.5),
		}
		return clampRange(out, max)
	}

	return Viewport{
		Trace:  expand(vp.Trace, traceCount),
		Sample: expand(vp.Sample, sampleCount),
	}, nil
}

// step shifts the trace window by (1 - overlap) * width in the requested
// direction, clamped at the matrix edges. The sample window is untouched.
func step(vp Viewport, dir StepDirection, overlap float64, traceCount int) (Viewport, error) {
	if overlap <= 0 || overlap >= 1 {
		return vp, fmt.Errorf("overlap must be in (0, 1), got %g", overlap)
	}

	width := vp.Trace.Width()
	shift := int(float64(width)*(1-overlap) + 0.5)

	switch dir {
	case StepNext:
		if room := traceCount - vp.Trace.End; shift > room {
			shift = room
		}
		vp.Trace.Start += shift
		vp.Trace.End += shift
	case StepPrev:
		if shift > vp.Trace.Start {
			shift = vp.Trace.Start
		}
		vp.Trace.Start -= shift
		vp.Trace.End -= shift
	default:
		return vp, fmt.Errorf("unknown step direction %q", dir)
	}

	return vp, nil
}
