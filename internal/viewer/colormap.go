package viewer

import (
	"fmt"
	"image/color"
)

// Colormap maps a normalized intensity in [0, 1] to a display color
type Colormap struct {
	Name  string
	table [256]color.RGBA
}

// At returns the color for a normalized intensity, clamping out-of-range input
func (c *Colormap) At(v float64) color.RGBA {
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	return c.table[int(v*255+0.5)]
}

// Colormaps supported by the viewer
const (
	ColormapGrayscale         = "grayscale"
	ColormapGrayscaleInverted = "grayscale_inverted"
	ColormapViridis           = "viridis"
)

// ColormapByName returns a named colormap
func ColormapByName(name string) (*Colormap, error) {
	switch name {
	case ColormapGrayscale:
		return grayscale, nil
	case ColormapGrayscaleInverted:
		return grayscaleInverted, nil
	case ColormapViridis:
		return viridis, nil
	default:
		return nil, fmt.Errorf("unknown colormap %q", name)
	}
}

var (
	grayscale         = makeGrayscale(false)
	grayscaleInverted = makeGrayscale(true)
	viridis           = makeViridis()
)

func makeGrayscale(inverted bool) *Colormap {
	name := ColormapGrayscale
	if inverted {
		name = ColormapGrayscaleInverted
	}
	c := &Colormap{Name: name}
	for i := range c.table {
		v := uint8(i)
		if inverted {
			v = uint8(255 - i)
		}
		c.table[i] = color.RGBA{R: v, G: v, B: v, A: 255}
	}
	return c
}

// makeViridis builds an approximation of matplotlib's viridis from a small
// set of anchor colors with linear interpolation between them
func makeViridis() *Colormap {
	anchors := []color.RGBA{
		{68, 1, 84, 255},
		{71, 44, 122, 255},
		{59, 81, 139, 255},
		{44, 113, 142, 255},
		{33, 144, 141, 255},
		{39, 173, 129, 255},
		{92, 200, 99, 255},
		{170, 220, 50, 255},
		{253, 231, 37, 255},
	}

	c := &Colormap{Name: ColormapViridis}
	spans := len(anchors) - 1
	for i := range c.table {
		pos := float64(i) / 255 * float64(spans)
		k := int(pos)
		if k >= spans {
			k = spans - 1
		}
		t := pos - float64(k)
		a, b := anchors[k], anchors[k+1]
		c.table[i] = color.RGBA{
			R: uint8(float64(a.R) + t*(float64(b.R)-float64(a.R)) + 0.5),
			G: uint8(float64(a.G) + t*(float64(b.G)-float64(a.G)) + 0.5),
			B: uint8(float64(a.B) + t*(float64(b.B)-float64(a.B)) + 0.5),
			A: 255,
		}
	}
	return c
}
