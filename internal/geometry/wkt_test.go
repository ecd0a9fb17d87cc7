package geometry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWKTRoundTrip(t *testing.T) {
	poly := Polygon{
		Outer: Ring{
			{Lng: -0.1, Lat: 51.5},
			{Lng: -0.1, Lat: 51.6},
			{Lng: 0.1, Lat: 51.6},
			{Lng: 0.1, Lat: 51.5},
			{Lng: -0.1, Lat: 51.5},
		},
	}

	wkt := poly.ToWKT()
	got, err := ParseWKT(wkt)
	require.NoError(t, err)
	assert.True(t, got.Outer.Equal(poly.Outer, 1e-9), "round-tripped outer ring = %v, want %v", got.Outer, poly.Outer)
}

func TestWKTRoundTripWithHole(t *testing.T) {
	poly := Polygon{
		Outer: Ring{{Lng: 0, Lat: 0}, {Lng: 0, Lat: 10}, {Lng: 10, Lat: 10}, {Lng: 10, Lat: 0}, {Lng: 0, Lat: 0}},
		Holes: []Ring{{{Lng: 2, Lat: 2}, {Lng: 2, Lat: 4}, {Lng: 4, Lat: 4}, {Lng: 4, Lat: 2}, {Lng: 2, Lat: 2}}},
	}

	got, err := ParseWKT(poly.ToWKT())
	require.NoError(t, err)
	require.Len(t, got.Holes, 1)
	assert.True(t, got.Holes[0].Equal(poly.Holes[0], 1e-9))
}

func TestParseWKTRejectsMultiPolygon(t *testing.T) {
	_, err := ParseWKT("MULTIPOLYGON(((0 0,0 1,1 1,1 0,0 0)))")
	assert.Error(t, err)
}

func TestParseWKTRejectsGarbage(t *testing.T) {
	_, err := ParseWKT("not a polygon")
	assert.Error(t, err)
}
