package common

import "fmt"

// Point represents a geographic coordinate in WGS84
type Point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// BoundingBox represents a geographic bounding box
type BoundingBox struct {
	South float64 `json:"south"`
	West  float64 `json:"west"`
	North float64 `json:"north"`
	East  float64 `json:"east"`
}

// Validate checks if the bounding box is valid
func (b BoundingBox) Validate() error {
	if b.South > b.North {
		return fmt.Errorf("south (%f) must not exceed north (%f)", b.South, b.North)
	}
	if b.West > b.East {
		return fmt.Errorf("west (%f) must not exceed east (%f)", b.West, b.East)
	}
	if b.South < -90 || b.North > 90 {
		return fmt.Errorf("latitude out of range [-90, 90]: south=%f, north=%f", b.South, b.North)
	}
	if b.West < -180 || b.East > 180 {
		return fmt.Errorf("longitude out of range [-180, 180]: west=%f, east=%f", b.West, b.East)
	}
	return nil
}

// BoundsOf computes the bounding box enclosing a set of points
func BoundsOf(points []Point) (BoundingBox, error) {
	if len(points) == 0 {
		return BoundingBox{}, fmt.Errorf("no points provided")
	}

	bounds := BoundingBox{
		South: points[0].Lat,
		North: points[0].Lat,
		West:  points[0].Lon,
		East:  points[0].Lon,
	}

	for _, p := range points[1:] {
		if p.Lat < bounds.South {
			bounds.South = p.Lat
		}
		if p.Lat > bounds.North {
			bounds.North = p.Lat
		}
		if p.Lon < bounds.West {
			bounds.West = p.Lon
		}
		if p.Lon > bounds.East {
			bounds.East = p.Lon
		}
	}

	return bounds, nil
}
