package geometry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func square(lng, lat, sideDeg float64) Ring {
	return Ring{
		{Lng: lng, Lat: lat},
		{Lng: lng, Lat: lat + sideDeg},
		{Lng: lng + sideDeg, Lat: lat + sideDeg},
		{Lng: lng + sideDeg, Lat: lat},
		{Lng: lng, Lat: lat},
	}
}

func TestAreaOfKnownSquare(t *testing.T) {
	// ~1km square at the equator: 0.009 degrees is roughly 1000m there.
	p := Polygon{Outer: square(0, 0, 0.009)}
	assert.InDelta(t, 1_000_000, p.Area(), 100_000)
}

func TestAreaSubtractsHoles(t *testing.T) {
	outer := Polygon{Outer: square(0, 0, 0.02)}
	withHole := Polygon{Outer: square(0, 0, 0.02), Holes: []Ring{square(0.005, 0.005, 0.005)}}
	assert.Less(t, withHole.Area(), outer.Area())
}

func TestBoundingBoxIntersects(t *testing.T) {
	a := BoundingBox{MinLng: 0, MinLat: 0, MaxLng: 10, MaxLat: 10}
	b := BoundingBox{MinLng: 5, MinLat: 5, MaxLng: 15, MaxLat: 15}
	c := BoundingBox{MinLng: 20, MinLat: 20, MaxLng: 30, MaxLat: 30}

	assert.True(t, a.Intersects(b), "expected overlapping boxes to intersect")
	assert.False(t, a.Intersects(c), "expected disjoint boxes not to intersect")
}

func TestRingEqualWithinEpsilon(t *testing.T) {
	r1 := square(0, 0, 0.01)
	r2 := r1.Translate(1e-8, -1e-8)
	assert.True(t, r1.Equal(r2, 1e-6), "rings within epsilon should be equal")

	r3 := r1.Translate(1e-3, 0)
	assert.False(t, r1.Equal(r3, 1e-6), "rings far outside epsilon should not be equal")
}

func TestMeanOffsetAndStdDev(t *testing.T) {
	r1 := square(0, 0, 0.01)
	r2 := r1.Translate(0.001, 0.002)

	dLng, dLat, ok := r1.MeanOffset(r2)
	require.True(t, ok, "expected MeanOffset to succeed for equal-length rings")
	assert.InDelta(t, 0.001, dLng, 1e-9)
	assert.InDelta(t, 0.002, dLat, 1e-9)

	stdLng, stdLat, ok := r1.OffsetStdDev(r2, dLng, dLat)
	require.True(t, ok, "expected OffsetStdDev to succeed")
	assert.Less(t, stdLng, 1e-9)
	assert.Less(t, stdLat, 1e-9)
}

func TestMeanOffsetMismatchedLengths(t *testing.T) {
	r1 := square(0, 0, 0.01)
	r2 := Ring{{Lng: 0, Lat: 0}}
	_, _, ok := r1.MeanOffset(r2)
	assert.False(t, ok, "expected MeanOffset to fail for mismatched ring lengths")
}
