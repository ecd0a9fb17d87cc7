package geometry

import "math"

// This file implements Greiner-Hormann polygon clipping: intersection,
// union and difference of two simple (non-self-intersecting) rings. The
// algorithm walks both rings, inserts intersection points into each, marks
// each inserted vertex entering/exiting the other ring, then traces the
// result by switching rings at each crossing. It degrades gracefully to the
// degenerate (no-crossing) case of one ring fully containing the other or
// the rings being fully disjoint.

type vertex struct {
	p          Point
	intersect  bool
	entry      bool
	alpha      float64 // parametric position along the source edge, for ordering
	neighbor   *vertex // the corresponding vertex in the other ring's list
	visited    bool
	next, prev *vertex
}

func buildVertexList(r Ring) *vertex {
	pts := r
	if len(pts) > 1 && pts[0] == pts[len(pts)-1] {
		pts = pts[:len(pts)-1]
	}
	if len(pts) == 0 {
		return nil
	}
	var head, tail *vertex
	for _, p := range pts {
		v := &vertex{p: p}
		if head == nil {
			head = v
			tail = v
		} else {
			tail.next = v
			v.prev = tail
			tail = v
		}
	}
	tail.next = head
	head.prev = tail
	return head
}

func segIntersect(a1, a2, b1, b2 Point) (pt Point, ta, tb float64, ok bool) {
	x1, y1, x2, y2 := a1.Lng, a1.Lat, a2.Lng, a2.Lat
	x3, y3, x4, y4 := b1.Lng, b1.Lat, b2.Lng, b2.Lat

	d := (x1-x2)*(y3-y4) - (y1-y2)*(x3-x4)
	if math.Abs(d) < 1e-15 {
		return Point{}, 0, 0, false
	}

	t := ((x1-x3)*(y3-y4) - (y1-y3)*(x3-x4)) / d
	u := ((x1-x3)*(y1-y2) - (y1-y3)*(x1-x2)) / d

	if t < 0 || t > 1 || u < 0 || u > 1 {
		return Point{}, 0, 0, false
	}

	px := x1 + t*(x2-x1)
	py := y1 + t*(y2-y1)
	return Point{Lng: px, Lat: py}, t, u, true
}

func pointInRing(p Point, r Ring) bool {
	pts := r
	if len(pts) > 1 && pts[0] == pts[len(pts)-1] {
		pts = pts[:len(pts)-1]
	}
	inside := false
	n := len(pts)
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		pi, pj := pts[i], pts[j]
		if (pi.Lat > p.Lat) != (pj.Lat > p.Lat) {
			x := pj.Lng + (p.Lat-pj.Lat)*(pi.Lng-pj.Lng)/(pi.Lat-pj.Lat)
			if p.Lng < x {
				inside = !inside
			}
		}
	}
	return inside
}

// clipResult holds the traced output rings of a clip operation.
type clipResult struct {
	subjectVerts, clipVerts []*vertex
	anyIntersections        bool
}

func computeIntersections(subject, clipRing Ring) *clipResult {
	sHead := buildVertexList(subject)
	cHead := buildVertexList(clipRing)
	if sHead == nil || cHead == nil {
		return &clipResult{}
	}

	sList := ringToSlice(sHead)
	cList := ringToSlice(cHead)

	sInserts := make(map[int][]insertion)
	cInserts := make(map[int][]insertion)
	any := false

	for i := 0; i < len(sList); i++ {
		a1 := sList[i].p
		a2 := sList[(i+1)%len(sList)].p
		for j := 0; j < len(cList); j++ {
			b1 := cList[j].p
			b2 := cList[(j+1)%len(cList)].p
			pt, ta, tb, ok := segIntersect(a1, a2, b1, b2)
			if !ok {
				continue
			}
			any = true
			sv := &vertex{p: pt, intersect: true, alpha: ta}
			cv := &vertex{p: pt, intersect: true, alpha: tb}
			sv.neighbor = cv
			cv.neighbor = sv
			sInserts[i] = append(sInserts[i], insertion{alpha: ta, v: sv})
			cInserts[j] = append(cInserts[j], insertion{alpha: tb, v: cv})
		}
	}

	if !any {
		return &clipResult{anyIntersections: false}
	}

	sFull := spliceInsertions(sList, sInserts)
	cFull := spliceInsertions(cList, cInserts)

	markEntryExit(sFull, clipRing)
	markEntryExit(cFull, subject)

	return &clipResult{subjectVerts: sFull, clipVerts: cFull, anyIntersections: true}
}

func ringToSlice(head *vertex) []*vertex {
	var out []*vertex
	v := head
	for {
		out = append(out, v)
		v = v.next
		if v == head {
			break
		}
	}
	return out
}

// insertion records an intersection vertex to be spliced into a ring's
// vertex list, ordered along its source edge by alpha.
type insertion struct {
	afterIdx int
	alpha    float64
	v        *vertex
}

func spliceInsertions(orig []*vertex, inserts map[int][]insertion) []*vertex {
	var out []*vertex
	for i, v := range orig {
		out = append(out, v)
		ins := inserts[i]
		sortInsertions(ins)
		for _, in := range ins {
			out = append(out, in.v)
		}
	}
	return out
}

func sortInsertions(ins []insertion) {
	for i := 1; i < len(ins); i++ {
		for j := i; j > 0 && ins[j-1].alpha > ins[j].alpha; j-- {
			ins[j-1], ins[j] = ins[j], ins[j-1]
		}
	}
}

func markEntryExit(verts []*vertex, otherRing Ring) {
	if len(verts) == 0 {
		return
	}
	// Determine entry/exit status by testing the first vertex against the
	// other ring once, then alternating at each intersection vertex: an
	// intersection reached from outside the other ring is an "entry".
	inside := pointInRing(verts[0].p, otherRing)
	for _, v := range verts {
		if v.intersect {
			v.entry = !inside
			inside = !inside
		}
	}
}

// Intersection returns the area (square metres) of the overlap between two
// rings, handling full-containment and fully-disjoint cases exactly and
// crossing cases via Greiner-Hormann tracing.
func Intersection(a, b Ring) float64 {
	res := computeIntersections(a, b)
	if !res.anyIntersections {
		if len(a) == 0 || len(b) == 0 {
			return 0
		}
		if pointInRing(a[0], b) {
			return math.Abs(ringArea(a))
		}
		if pointInRing(b[0], a) {
			return math.Abs(ringArea(b))
		}
		return 0
	}
	return traceArea(res.subjectVerts, true)
}

// Union returns the area (square metres) of the union of two rings.
func Union(a, b Ring) float64 {
	areaA := math.Abs(ringArea(a))
	areaB := math.Abs(ringArea(b))
	inter := Intersection(a, b)
	return areaA + areaB - inter
}

// SymmetricDifference returns the area present in exactly one of the two
// rings (areaA + areaB - 2*intersection).
func SymmetricDifference(a, b Ring) float64 {
	areaA := math.Abs(ringArea(a))
	areaB := math.Abs(ringArea(b))
	inter := Intersection(a, b)
	diff := areaA + areaB - 2*inter
	if diff < 0 {
		return 0
	}
	return diff
}

// traceArea walks the marked vertex list tracing intersection loops and sums
// their projected (metric) area. This is a simplified trace sufficient for
// simple, non-self-intersecting rings with a single contiguous overlap
// region, which covers the reconciler's shift-and-overlap comparisons.
func traceArea(verts []*vertex, wantIntersection bool) float64 {
	var total float64
	for _, v := range verts {
		if !v.intersect || v.visited {
			continue
		}
		if v.entry != wantIntersection {
			continue
		}
		loop := traceLoop(v)
		if len(loop) >= 3 {
			total += math.Abs(ringArea(loop))
		}
	}
	return total
}

func traceLoop(start *vertex) Ring {
	var loop Ring
	current := start
	safety := 0
	for {
		loop = append(loop, current.p)
		current.visited = true
		if current.intersect {
			if current.entry {
				current = current.next
			} else {
				current = current.prev
			}
			if current.intersect {
				current = current.neighbor
			}
		} else {
			current = current.next
		}
		safety++
		if current == start || safety > 10000 {
			break
		}
	}
	return loop
}

// Buffer returns a ring expanded (positive distance) or contracted
// (negative distance) by approximately the given distance in metres,
// computed by offsetting each edge along its outward normal and
// reconnecting. Used to shrink symmetric-difference slivers before
// artefact filtering (§4.3.1).
func Buffer(r Ring, distanceMetres float64) Ring {
	pts := r
	if len(pts) > 1 && pts[0] == pts[len(pts)-1] {
		pts = pts[:len(pts)-1]
	}
	n := len(pts)
	if n < 3 {
		return r
	}
	// outwardNormal points outward for counter-clockwise rings; flip the
	// distance for clockwise rings so the sign means the same for both.
	if ringArea(pts) < 0 {
		distanceMetres = -distanceMetres
	}

	var sumLat float64
	for _, p := range pts {
		sumLat += p.Lat
	}
	meanLat := sumLat / float64(n)
	lngScale, latScale := metresPerDegree(meanLat)

	out := make(Ring, 0, n+1)
	for i := 0; i < n; i++ {
		prev := pts[(i-1+n)%n]
		curr := pts[i]
		next := pts[(i+1)%n]

		n1 := outwardNormal(prev, curr, lngScale, latScale)
		n2 := outwardNormal(curr, next, lngScale, latScale)

		avgLng := (n1.Lng + n2.Lng) / 2
		avgLat := (n1.Lat + n2.Lat) / 2
		mag := math.Hypot(avgLng, avgLat)
		if mag == 0 {
			out = append(out, curr)
			continue
		}

		dLng := (avgLng / mag) * distanceMetres / lngScale
		dLat := (avgLat / mag) * distanceMetres / latScale
		out = append(out, Point{Lng: curr.Lng + dLng, Lat: curr.Lat + dLat})
	}
	out = append(out, out[0])
	return out
}

func outwardNormal(a, b Point, lngScale, latScale float64) Point {
	dx := (b.Lng - a.Lng) * lngScale
	dy := (b.Lat - a.Lat) * latScale
	return Point{Lng: dy, Lat: -dx}
}

// ShrinkDistance returns the artefact-filtering shrink distance used by the
// gated merge/segment cascade: max(1m, sqrt(area)/10).
func ShrinkDistance(areaSqMetres float64) float64 {
	d := math.Sqrt(areaSqMetres) / 10
	if d < 1 {
		return 1
	}
	return d
}
