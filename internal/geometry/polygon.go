// Package geometry implements the planar polygon operations the Match
// Classifier needs: area, intersection, union, difference, centroid,
// bounding box, and buffer. Inputs are WGS84 degree coordinates
// (longitude, latitude); areas are returned in square metres using a local
// equirectangular projection centred on the polygon, which is accurate
// enough at parcel scale (tens to low thousands of metres across).
//
// No geometry library in the retrieval pack offers planar boolean
// operations (golang/geo is spherical/S2; paulmach/go.geojson is a
// marshal-only GeoJSON model), so this package is implemented on the
// standard library. See DESIGN.md for the justification.
package geometry

import (
	"math"
)

// Point is a single (longitude, latitude) coordinate pair in WGS84 degrees.
type Point struct {
	Lng float64
	Lat float64
}

// Ring is a closed sequence of points: the first and last points are equal.
type Ring []Point

// Polygon is a simple polygon: one outer ring and zero or more hole rings.
// The Match Classifier only operates on simple (single outer ring, no holes)
// polygons; multi-polygon inputs are rejected upstream in the reconciler.
type Polygon struct {
	Outer Ring
	Holes []Ring
}

// CoordinatePrecision is the number of decimal places coordinates are
// truncated to before any geometry operation, per §9 of the design notes.
const CoordinatePrecision = 6

// Truncate cuts a coordinate toward zero to CoordinatePrecision decimal places,
// matching the source's practice of feeding truncated coordinates into
// geometry operations to keep near-colinear edges numerically stable.
func Truncate(v float64) float64 {
	scale := math.Pow(10, CoordinatePrecision)
	return math.Trunc(v*scale) / scale
}

// TruncateRing truncates every coordinate in a ring.
func TruncateRing(r Ring) Ring {
	out := make(Ring, len(r))
	for i, p := range r {
		out[i] = Point{Lng: Truncate(p.Lng), Lat: Truncate(p.Lat)}
	}
	return out
}

// metresPerDegree returns the approximate metres-per-degree scale factors at
// the given latitude, used to project WGS84 degrees onto a local planar
// frame for area/distance calculations.
func metresPerDegree(lat float64) (lngScale, latScale float64) {
	const earthRadius = 6378137.0 // WGS84 equatorial radius, metres
	latRad := lat * math.Pi / 180
	latScale = earthRadius * math.Pi / 180
	lngScale = latScale * math.Cos(latRad)
	return lngScale, latScale
}

// projected converts a ring's degree coordinates into local metres, scaled
// at the mean latitude of the ring's vertices, preserving shape well enough for
// area/overlap comparisons at parcel scale.
func projected(r Ring) []point2 {
	if len(r) == 0 {
		return nil
	}
	var sumLat float64
	for _, p := range r {
		sumLat += p.Lat
	}
	meanLat := sumLat / float64(len(r))
	lngScale, latScale := metresPerDegree(meanLat)

	out := make([]point2, len(r))
	for i, p := range r {
		out[i] = point2{x: p.Lng * lngScale, y: p.Lat * latScale}
	}
	return out
}

type point2 struct{ x, y float64 }

// Area returns the polygon's area in square metres (shoelace formula over
// the outer ring, minus the area of any holes).
func (p Polygon) Area() float64 {
	area := math.Abs(ringArea(p.Outer))
	for _, h := range p.Holes {
		area -= math.Abs(ringArea(h))
	}
	if area < 0 {
		return -area
	}
	return area
}

func ringArea(r Ring) float64 {
	pts := projected(r)
	if len(pts) < 3 {
		return 0
	}
	var sum float64
	for i := 0; i < len(pts); i++ {
		j := (i + 1) % len(pts)
		sum += pts[i].x*pts[j].y - pts[j].x*pts[i].y
	}
	return sum / 2
}

// Centroid returns the polygon outer ring's area-weighted centroid in
// WGS84 degrees.
func (p Polygon) Centroid() Point {
	r := p.Outer
	if len(r) < 3 {
		if len(r) == 0 {
			return Point{}
		}
		return r[0]
	}

	var cx, cy, signedArea float64
	for i := 0; i < len(r); i++ {
		j := (i + 1) % len(r)
		cross := r[i].Lng*r[j].Lat - r[j].Lng*r[i].Lat
		signedArea += cross
		cx += (r[i].Lng + r[j].Lng) * cross
		cy += (r[i].Lat + r[j].Lat) * cross
	}
	signedArea /= 2
	if signedArea == 0 {
		return r[0]
	}
	cx /= 6 * signedArea
	cy /= 6 * signedArea
	return Point{Lng: cx, Lat: cy}
}

// BoundingBox is an axis-aligned bounding box in WGS84 degrees.
type BoundingBox struct {
	MinLng, MinLat, MaxLng, MaxLat float64
}

// BoundingBox returns the polygon's outer-ring axis-aligned bounding box.
func (p Polygon) BoundingBox() BoundingBox {
	return ringBBox(p.Outer)
}

func ringBBox(r Ring) BoundingBox {
	if len(r) == 0 {
		return BoundingBox{}
	}
	bb := BoundingBox{MinLng: r[0].Lng, MaxLng: r[0].Lng, MinLat: r[0].Lat, MaxLat: r[0].Lat}
	for _, p := range r[1:] {
		bb.MinLng = math.Min(bb.MinLng, p.Lng)
		bb.MaxLng = math.Max(bb.MaxLng, p.Lng)
		bb.MinLat = math.Min(bb.MinLat, p.Lat)
		bb.MaxLat = math.Max(bb.MaxLat, p.Lat)
	}
	return bb
}

// Intersects reports whether two bounding boxes overlap; used for
// bbox-based candidate pruning before exact geometry operations.
func (bb BoundingBox) Intersects(other BoundingBox) bool {
	return bb.MinLng <= other.MaxLng && bb.MaxLng >= other.MinLng &&
		bb.MinLat <= other.MaxLat && bb.MaxLat >= other.MinLat
}

// Translate returns a copy of the ring with every vertex shifted by
// (dLng, dLat).
func (r Ring) Translate(dLng, dLat float64) Ring {
	out := make(Ring, len(r))
	for i, p := range r {
		out[i] = Point{Lng: p.Lng + dLng, Lat: p.Lat + dLat}
	}
	return out
}

// Equal reports whether two rings have the same vertex count and every
// corresponding vertex lies within epsilon degrees on each axis.
func (r Ring) Equal(other Ring, epsilon float64) bool {
	if len(r) != len(other) {
		return false
	}
	for i := range r {
		if math.Abs(r[i].Lng-other[i].Lng) > epsilon || math.Abs(r[i].Lat-other[i].Lat) > epsilon {
			return false
		}
	}
	return true
}

// MeanOffset returns the per-axis mean of (other[i] - r[i]) across
// corresponding vertices, and requires equal vertex counts.
func (r Ring) MeanOffset(other Ring) (dLng, dLat float64, ok bool) {
	if len(r) != len(other) || len(r) == 0 {
		return 0, 0, false
	}
	var sumLng, sumLat float64
	for i := range r {
		sumLng += other[i].Lng - r[i].Lng
		sumLat += other[i].Lat - r[i].Lat
	}
	n := float64(len(r))
	return sumLng / n, sumLat / n, true
}

// OffsetStdDev returns the per-axis standard deviation of (other[i] -
// r[i] - mean) across corresponding vertices.
func (r Ring) OffsetStdDev(other Ring, meanLng, meanLat float64) (stdLng, stdLat float64, ok bool) {
	if len(r) != len(other) || len(r) == 0 {
		return 0, 0, false
	}
	var varLng, varLat float64
	for i := range r {
		dLng := (other[i].Lng - r[i].Lng) - meanLng
		dLat := (other[i].Lat - r[i].Lat) - meanLat
		varLng += dLng * dLng
		varLat += dLat * dLat
	}
	n := float64(len(r))
	return math.Sqrt(varLng / n), math.Sqrt(varLat / n), true
}
