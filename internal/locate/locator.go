// Package locate ranks transects by distance from a clicked map point.
// The computation is pure: it reads a snapshot of the geometry index and
// has no side effects, so any number of locate calls may run concurrently.
package locate

import (
	"math"
	"sort"

	"radargram-desktop/internal/common"
	"radargram-desktop/internal/geoindex"
)

const (
	// DefaultMaxCandidates bounds how many nearby transects are offered to
	// the user after a click.
	DefaultMaxCandidates = 5

	// DefaultCutoffMeters drops candidates so far from the click that the
	// user cannot have meant them.
	DefaultCutoffMeters = 100_000.0

	earthRadiusMeters = 6_371_000.0
)

// Candidate pairs a segment with its distance from the clicked point and the
// nearest point on its groundtrack. Candidates are ephemeral; a fresh set is
// produced per locate call.
type Candidate struct {
	Segment  *geoindex.Segment `json:"segment"`
	Distance float64           `json:"distance"` // meters
	Nearest  common.Point      `json:"nearest"`
}

// SegmentProvider is the slice of the geometry index the locator needs
type SegmentProvider interface {
	SegmentsWithin(ids []string) []*geoindex.Segment
}

// Locator finds the transects nearest a clicked point
type Locator struct {
	provider SegmentProvider
	cutoff   float64
}

// NewLocator creates a locator backed by the given segment provider
func NewLocator(provider SegmentProvider) *Locator {
	return &Locator{
		provider: provider,
		cutoff:   DefaultCutoffMeters,
	}
}

// Locate returns up to maxCandidates transects ordered by ascending distance
// from the click point. Only segments named in visibleIDs are considered:
// the host excludes hidden map layers, and offering a hidden transect would
// mislead the user even if it is geometrically closer. An empty result is
// not an error.
func (l *Locator) Locate(click common.Point, visibleIDs []string, maxCandidates int) []Candidate {
	if maxCandidates <= 0 {
		maxCandidates = DefaultMaxCandidates
	}

	segments := l.provider.SegmentsWithin(visibleIDs)
	candidates := make([]Candidate, 0, len(segments))

	for _, seg := range segments {
		dist, nearest := distanceToPolyline(click, seg.Groundtrack)
		if dist > l.cutoff {
			continue
		}
		candidates = append(candidates, Candidate{
			Segment:  seg,
			Distance: dist,
			Nearest:  nearest,
		})
	}

	// Ties break by segment id so repeated clicks give a stable ordering
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Distance != candidates[j].Distance {
			return candidates[i].Distance < candidates[j].Distance
		}
		return candidates[i].Segment.ID < candidates[j].Segment.ID
	})

	if len(candidates) > maxCandidates {
		candidates = candidates[:maxCandidates]
	}
	return candidates
}

// distanceToPolyline computes the minimum distance in meters from a point to
// a groundtrack, and the nearest point on the groundtrack. Distances are
// measured in a local equirectangular plane centered on the click, which is
// accurate to well under a percent at the scales a user clicks at (the
// cutoff is 100 km) and cheap enough to run over every visible transect.
func distanceToPolyline(p common.Point, polyline []common.Point) (float64, common.Point) {
	if len(polyline) == 0 {
		return math.Inf(1), common.Point{}
	}

	cosLat := math.Cos(p.Lat * math.Pi / 180)
	project := func(q common.Point) (float64, float64) {
		x := (q.Lon - p.Lon) * cosLat * math.Pi / 180 * earthRadiusMeters
		y := (q.Lat - p.Lat) * math.Pi / 180 * earthRadiusMeters
		return x, y
	}

	best := math.Inf(1)
	var bestPoint common.Point

	if len(polyline) == 1 {
		x, y := project(polyline[0])
		return math.Hypot(x, y), polyline[0]
	}

	for i := 0; i+1 < len(polyline); i++ {
		a, b := polyline[i], polyline[i+1]
		ax, ay := project(a)
		bx, by := project(b)

		dx, dy := bx-ax, by-ay
		segLenSq := dx*dx + dy*dy

		// Closest point on the segment, as a fraction t in [0, 1]
		t := 0.0
		if segLenSq > 0 {
			// Click projects to origin in the local plane
			t = -(ax*dx + ay*dy) / segLenSq
			t = math.Max(0, math.Min(1, t))
		}

		cx := ax + t*dx
		cy := ay + t*dy
		dist := math.Hypot(cx, cy)

		if dist < best {
			best = dist
			bestPoint = common.Point{
				Lat: a.Lat + t*(b.Lat-a.Lat),
				Lon: a.Lon + t*(b.Lon-a.Lon),
			}
		}
	}

	return best, bestPoint
}
