// Package classifier implements the Match Classifier decision cascade: the
// first-matching-rule-wins comparison between a pending polygon and its
// previously accepted boundary (§4.3.1 of the reconciliation design).
package classifier

import (
	"context"
	"fmt"
	"math"

	"github.com/landregistry/inspire-reconciler/internal/geocoder"
	"github.com/landregistry/inspire-reconciler/internal/geometry"
)

// Tag is the classifier's verdict on a pending polygon.
type Tag string

const (
	TagExact               Tag = "Exact"
	TagExactOffset         Tag = "ExactOffset"
	TagHighOverlap         Tag = "HighOverlap"
	TagMoved               Tag = "Moved"
	TagNewBoundary         Tag = "NewBoundary"
	TagBoundariesShifted   Tag = "BoundariesShifted"
	TagMerged              Tag = "Merged"
	TagMergedIncomplete    Tag = "MergedIncomplete"
	TagSegmented           Tag = "Segmented"
	TagSegmentedIncomplete Tag = "SegmentedIncomplete"
	TagMergedAndSegmented  Tag = "MergedAndSegmented"
	TagNewSegment          Tag = "NewSegment"
	TagFail                Tag = "Fail"
)

// Thresholds holds the constants the cascade compares against. These are
// exactly the values specified in §4.3.1 and must not be tuned per
// environment.
type Thresholds struct {
	CoordinateEqualityEpsilon float64 // degrees, ~11cm at UK latitudes
	OffsetMeanThreshold       float64 // degrees, ~13m
	OffsetStdDevThreshold     float64 // degrees
	PercentageIntersect       float64 // percent, e.g. 95
	AbsoluteDifferenceMetres2 float64 // m^2
	ZeroAreaArtefactMetres2   float64 // m^2
	MovedTitleDistanceMetres  float64 // metres
}

// DefaultThresholds returns the production threshold constants.
func DefaultThresholds() Thresholds {
	return Thresholds{
		CoordinateEqualityEpsilon: 1e-6,
		OffsetMeanThreshold:       1e-4,
		OffsetStdDevThreshold:     5e-8,
		PercentageIntersect:       95,
		AbsoluteDifferenceMetres2: 100,
		ZeroAreaArtefactMetres2:   2,
		MovedTitleDistanceMetres:  50,
	}
}

// Offset is a per-council (longitude, latitude) translation learned from the
// most recent ExactOffset match (§9 "sticky per-council offset").
type Offset struct {
	DLng, DLat float64
}

// Result is the classifier's full verdict, including data needed to apply
// the accept/reject policy (§4.3.2).
type Result struct {
	Tag               Tag
	PercentIntersect  float64 // 0-100, populated for Exact/HighOverlap comparisons
	MeanOffset        Offset  // populated on ExactOffset
	OffsetStdDev      Offset
	GeocodedDistanceM float64 // populated on Moved
	AbsorbedPolyIDs   []string // Merged/MergedIncomplete/MergedAndSegmented: accepted rows absorbed into this one
	SiblingPolyIDs    []string // Segmented/SegmentedIncomplete/MergedAndSegmented: pending rows identified as the rest of the split
	Reason            string
}

// CandidatePolygon is a sibling boundary the gated merge/segment cascade may
// match a pending row against.
type CandidatePolygon struct {
	PolyID   string
	Geometry geometry.Polygon
}

// MergeSegmentCandidates supplies the sibling accepted/pending boundaries
// the gated cascade (§4.3.1 "designed-but-gated tags") needs to detect
// merges and splits: AcceptedNearby for territory the pending row may have
// absorbed, PendingNearby for sibling rows that may together replace the
// accepted row's lost territory. Callers populate this only when the
// cascade is enabled; a zero value disables absorption/sibling detection
// even on a Classifier constructed with the cascade on.
type MergeSegmentCandidates struct {
	AcceptedNearby []CandidatePolygon
	PendingNearby  []CandidatePolygon
}

// Classifier holds per-run state: the sticky per-council offset map and an
// optional geocoder used for the Moved fallback. It is not safe for
// concurrent use from multiple goroutines against the same council.
type Classifier struct {
	thresholds     Thresholds
	stickyOffsets  map[string]Offset // keyed by council name
	geocoder       geocoder.Client   // nil disables the Moved tag
	enableCascade  bool              // gates Merged/Segmented/BoundariesShifted tags
}

// New creates a Classifier. geocoderClient may be nil, in which case Moved
// is never returned (§6: geocoder API key is optional and gates this tag).
func New(thresholds Thresholds, geocoderClient geocoder.Client, enableMergeSegmentCascade bool) *Classifier {
	return &Classifier{
		thresholds:    thresholds,
		stickyOffsets: make(map[string]Offset),
		geocoder:      geocoderClient,
		enableCascade: enableMergeSegmentCascade,
	}
}

// StickyOffset returns the current sticky offset for a council (zero value
// if none has been learned yet).
func (c *Classifier) StickyOffset(council string) Offset {
	return c.stickyOffsets[council]
}

// CascadeEnabled reports whether this Classifier was constructed with the
// merge/segment cascade on, so callers know whether it is worth fetching
// MergeSegmentCandidates before calling Classify.
func (c *Classifier) CascadeEnabled() bool {
	return c.enableCascade
}

// Classify compares a pending polygon against its previously accepted
// boundary for the same poly_id, returning the first matching rule in the
// cascade. titleAddress is the address of any title linked to the accepted
// boundary, used only for the Moved fallback; an empty string disables it.
// candidates is ignored unless the cascade is enabled.
func (c *Classifier) Classify(ctx context.Context, council string, oldPoly, newPoly geometry.Polygon, titleAddress string, candidates MergeSegmentCandidates) Result {
	old := geometry.TruncateRing(oldPoly.Outer)
	new_ := geometry.TruncateRing(newPoly.Outer)

	if result, ok := c.tryExact(old, new_); ok {
		return result
	}

	if result, ok := c.tryExactOffset(council, old, new_); ok {
		return result
	}

	if result, ok := c.tryShiftAndOverlap(council, old, new_); ok {
		return result
	}

	if result, ok := c.tryMergeSegment(old, new_, candidates); ok {
		return result
	}

	if result, ok := c.tryMoved(ctx, geometry.Intersection(old, new_), newPoly, titleAddress); ok {
		return result
	}

	return Result{Tag: TagFail, Reason: "no rule matched"}
}

func (c *Classifier) tryExact(old, new_ geometry.Ring) (Result, bool) {
	if old.Equal(new_, c.thresholds.CoordinateEqualityEpsilon) {
		return Result{Tag: TagExact, PercentIntersect: 100}, true
	}
	return Result{}, false
}

func (c *Classifier) tryExactOffset(council string, old, new_ geometry.Ring) (Result, bool) {
	meanLng, meanLat, ok := old.MeanOffset(new_)
	if !ok {
		return Result{}, false
	}
	if math.Abs(meanLng) >= c.thresholds.OffsetMeanThreshold || math.Abs(meanLat) >= c.thresholds.OffsetMeanThreshold {
		return Result{}, false
	}
	stdLng, stdLat, ok := old.OffsetStdDev(new_, meanLng, meanLat)
	if !ok || stdLng >= c.thresholds.OffsetStdDevThreshold || stdLat >= c.thresholds.OffsetStdDevThreshold {
		return Result{}, false
	}

	offset := Offset{DLng: meanLng, DLat: meanLat}
	c.stickyOffsets[council] = offset

	return Result{
		Tag:          TagExactOffset,
		MeanOffset:   offset,
		OffsetStdDev: Offset{DLng: stdLng, DLat: stdLat},
	}, true
}

func (c *Classifier) tryShiftAndOverlap(council string, old, new_ geometry.Ring) (Result, bool) {
	sticky := c.stickyOffsets[council]
	shifted := old.Translate(sticky.DLng, sticky.DLat)

	symDiff := geometry.SymmetricDifference(shifted, new_)
	union := geometry.Union(shifted, new_)
	inter := geometry.Intersection(shifted, new_)

	if symDiff >= c.thresholds.AbsoluteDifferenceMetres2 {
		return Result{}, false
	}
	if union == 0 {
		return Result{}, false
	}

	pctIntersect := inter / union * 100
	if pctIntersect <= c.thresholds.PercentageIntersect {
		return Result{}, false
	}

	return Result{Tag: TagHighOverlap, PercentIntersect: pctIntersect}, true
}

// tryMergeSegment implements the gated "designed-but-gated tags" cascade
// (§4.3.1): once shift-and-overlap has ruled out a simple same-parcel match,
// check whether the pending row absorbed other accepted boundaries
// (Merged/MergedIncomplete), whether it is one of several pending rows
// splitting an accepted boundary (Segmented/SegmentedIncomplete), both at
// once, or — if neither — whether it is the same parcel with only its
// shared edges redrawn (BoundariesShifted). An intersection between old and
// new no larger than ZeroAreaArtefactMetres2 means there is nothing to merge
// or segment; that case falls through to tryMoved/Fail instead.
func (c *Classifier) tryMergeSegment(old, new_ geometry.Ring, candidates MergeSegmentCandidates) (Result, bool) {
	if !c.enableCascade {
		return Result{}, false
	}

	inter := geometry.Intersection(old, new_)
	if inter <= c.thresholds.ZeroAreaArtefactMetres2 {
		return Result{}, false
	}

	var absorbed, siblings []string
	absorbedArea := inter
	for _, cand := range candidates.AcceptedNearby {
		candArea := geometry.Polygon{Outer: cand.Geometry.Outer}.Area()
		if candArea <= c.thresholds.ZeroAreaArtefactMetres2 {
			continue
		}
		overlap := geometry.Intersection(cand.Geometry.Outer, new_)
		if overlap/candArea*100 >= c.thresholds.PercentageIntersect {
			absorbed = append(absorbed, cand.PolyID)
			absorbedArea += overlap
		}
	}

	siblingArea := inter
	for _, cand := range candidates.PendingNearby {
		candArea := geometry.Polygon{Outer: cand.Geometry.Outer}.Area()
		if candArea <= c.thresholds.ZeroAreaArtefactMetres2 {
			continue
		}
		overlap := geometry.Intersection(old, cand.Geometry.Outer)
		if overlap/candArea*100 >= c.thresholds.PercentageIntersect {
			siblings = append(siblings, cand.PolyID)
			siblingArea += overlap
		}
	}

	if len(absorbed) == 0 && len(siblings) == 0 {
		return c.tryBoundariesShifted(old, new_)
	}

	newArea := geometry.Polygon{Outer: new_}.Area()
	oldArea := geometry.Polygon{Outer: old}.Area()
	mergeComplete := newArea-absorbedArea <= c.thresholds.AbsoluteDifferenceMetres2
	segmentComplete := oldArea-siblingArea <= c.thresholds.AbsoluteDifferenceMetres2

	switch {
	case len(absorbed) > 0 && len(siblings) > 0:
		return Result{Tag: TagMergedAndSegmented, AbsorbedPolyIDs: absorbed, SiblingPolyIDs: siblings,
			Reason: mergeSegmentReason(absorbed, siblings)}, true
	case len(absorbed) > 0 && mergeComplete:
		return Result{Tag: TagMerged, AbsorbedPolyIDs: absorbed, Reason: mergeSegmentReason(absorbed, nil)}, true
	case len(absorbed) > 0:
		return Result{Tag: TagMergedIncomplete, AbsorbedPolyIDs: absorbed, Reason: mergeSegmentReason(absorbed, nil)}, true
	case segmentComplete:
		return Result{Tag: TagSegmented, SiblingPolyIDs: siblings, Reason: mergeSegmentReason(nil, siblings)}, true
	default:
		return Result{Tag: TagSegmentedIncomplete, SiblingPolyIDs: siblings, Reason: mergeSegmentReason(nil, siblings)}, true
	}
}

// tryBoundariesShifted applies the shrink-then-reintersect artefact filter
// (§4.3.1: "a shrinkage-by-max(1m, sqrt(area)/10) buffer filters artefacts
// around long thin edges") once no absorbed or sibling boundary was found,
// to decide whether old and new are the same parcel with only a shared
// edge redrawn by a neighbour's resurvey.
func (c *Classifier) tryBoundariesShifted(old, new_ geometry.Ring) (Result, bool) {
	area := geometry.Polygon{Outer: old}.Area()
	shrunkOld := geometry.Buffer(old, -geometry.ShrinkDistance(area))
	shrunkNew := geometry.Buffer(new_, -geometry.ShrinkDistance(area))

	shrunkUnion := geometry.Union(shrunkOld, shrunkNew)
	if shrunkUnion <= c.thresholds.ZeroAreaArtefactMetres2 {
		return Result{}, false
	}
	pctIntersect := geometry.Intersection(shrunkOld, shrunkNew) / shrunkUnion * 100
	if pctIntersect <= c.thresholds.PercentageIntersect {
		return Result{}, false
	}
	return Result{Tag: TagBoundariesShifted, PercentIntersect: pctIntersect}, true
}

func mergeSegmentReason(absorbed, siblings []string) string {
	switch {
	case len(absorbed) > 0 && len(siblings) > 0:
		return fmt.Sprintf("absorbed %v, split into %v", absorbed, siblings)
	case len(absorbed) > 0:
		return fmt.Sprintf("absorbed %v", absorbed)
	default:
		return fmt.Sprintf("split into %v", siblings)
	}
}

// tryMoved only fires when old and new share no area at all: any nonzero
// overlap belongs to shift-and-overlap, the merge/segment cascade, or a
// straight Fail, never to a moved-title guess (§4.3.1 rule 4).
func (c *Classifier) tryMoved(ctx context.Context, intersection float64, newPoly geometry.Polygon, titleAddress string) (Result, bool) {
	if intersection != 0 {
		return Result{}, false
	}
	if c.geocoder == nil || titleAddress == "" {
		return Result{}, false
	}

	centroid := newPoly.Centroid()
	candidates, err := c.geocoder.Geocode(ctx, titleAddress)
	if err != nil || len(candidates) == 0 {
		return Result{}, false
	}

	best := math.MaxFloat64
	for _, cand := range candidates {
		d := haversineMetres(centroid.Lat, centroid.Lng, cand.Lat, cand.Lng)
		if d < best {
			best = d
		}
	}

	if best > c.thresholds.MovedTitleDistanceMetres {
		return Result{}, false
	}

	return Result{Tag: TagMoved, GeocodedDistanceM: best}, true
}

// haversineMetres returns the great-circle distance between two WGS84
// points in metres.
func haversineMetres(lat1, lng1, lat2, lng2 float64) float64 {
	const earthRadius = 6371000.0
	toRad := func(d float64) float64 { return d * math.Pi / 180 }

	dLat := toRad(lat2 - lat1)
	dLng := toRad(lng2 - lng1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadius * c
}

// ClassifyNewBoundary implements §4.3 step 4: when no accepted boundary
// shares the pending polygon's poly_id, check whether the pending area
// overlaps any accepted polygon at all. overlapsAny is computed by the
// caller via a bbox-pruned spatial query against AcceptedBoundary.
func ClassifyNewBoundary(overlapsAny bool) Result {
	if overlapsAny {
		return Result{Tag: TagFail, Reason: "no existing boundary, but overlaps an accepted polygon"}
	}
	return Result{Tag: TagNewBoundary}
}

// IsAccepted reports whether a tag represents an accepted match per the
// accept/reject policy table (§4.3.2).
func IsAccepted(tag Tag) bool {
	switch tag {
	case TagFail:
		return false
	default:
		return true
	}
}
