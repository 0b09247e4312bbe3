package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBoundsOf(t *testing.T) {
	points := []Point{
		{Lat: -75.0, Lon: 110.0},
		{Lat: -74.5, Lon: 111.2},
		{Lat: -75.3, Lon: 110.6},
	}

	bbox, err := BoundsOf(points)
	require.NoError(t, err)
	assert.Equal(t, -75.3, bbox.South)
	assert.Equal(t, -74.5, bbox.North)
	assert.Equal(t, 110.0, bbox.West)
	assert.Equal(t, 111.2, bbox.East)
}

func TestBoundsOfEmptyIsError(t *testing.T) {
	_, err := BoundsOf(nil)
	assert.Error(t, err)
}

func TestBoundingBoxValidate(t *testing.T) {
	valid := BoundingBox{South: -75, West: 110, North: -74, East: 111}
	assert.NoError(t, valid.Validate())

	inverted := BoundingBox{South: -74, West: 110, North: -75, East: 111}
	assert.Error(t, inverted.Validate())

	outOfRange := BoundingBox{South: -95, West: 110, North: -74, East: 111}
	assert.Error(t, outOfRange.Validate())
}
