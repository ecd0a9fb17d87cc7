package classifier

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/landregistry/inspire-reconciler/internal/geocoder"
	"github.com/landregistry/inspire-reconciler/internal/geometry"
)

func square(lng, lat, side float64) geometry.Ring {
	return geometry.Ring{
		{Lng: lng, Lat: lat},
		{Lng: lng, Lat: lat + side},
		{Lng: lng + side, Lat: lat + side},
		{Lng: lng + side, Lat: lat},
		{Lng: lng, Lat: lat},
	}
}

type fakeGeocoder struct {
	candidates []geocoder.Candidate
	err        error
}

func (f *fakeGeocoder) Geocode(ctx context.Context, address string) ([]geocoder.Candidate, error) {
	return f.candidates, f.err
}

func TestClassifyExact(t *testing.T) {
	c := New(DefaultThresholds(), nil, false)
	poly := geometry.Polygon{Outer: square(0, 0, 0.01)}

	result := c.Classify(context.Background(), "Test Council", poly, poly, "", MergeSegmentCandidates{})
	assert.Equal(t, TagExact, result.Tag)
}

func TestClassifyExactOffsetAndSticky(t *testing.T) {
	c := New(DefaultThresholds(), nil, false)
	old := geometry.Polygon{Outer: square(0, 0, 0.01)}
	shifted := geometry.Polygon{Outer: square(0, 0, 0.01).Translate(1e-5, 1e-5)}

	result := c.Classify(context.Background(), "Test Council", old, shifted, "", MergeSegmentCandidates{})
	assert.Equal(t, TagExactOffset, result.Tag)

	got := c.StickyOffset("Test Council")
	assert.False(t, got.DLng == 0 && got.DLat == 0, "expected a non-zero sticky offset to be learned")
}

func TestClassifyHighOverlapAfterStickyOffset(t *testing.T) {
	c := New(DefaultThresholds(), nil, false)
	old := geometry.Polygon{Outer: square(0, 0, 0.01)}
	shifted := geometry.Polygon{Outer: square(0, 0, 0.01).Translate(1e-5, 1e-5)}

	// First call learns the sticky offset via ExactOffset.
	c.Classify(context.Background(), "Test Council", old, shifted, "", MergeSegmentCandidates{})

	// Second, the same shifted square with one vertex nudged by 1e-7 degrees,
	// below the 6-decimal truncation step, so either ExactOffset matches again
	// or, once the sticky offset is applied, HighOverlap does.
	slightlyDifferent := geometry.Polygon{Outer: square(0, 0, 0.01).Translate(1e-5, 1e-5)}
	slightlyDifferent.Outer[2].Lng += 1e-7

	result := c.Classify(context.Background(), "Test Council", old, slightlyDifferent, "", MergeSegmentCandidates{})
	assert.Contains(t, []Tag{TagExactOffset, TagHighOverlap}, result.Tag)
}

func TestClassifyFailWhenNothingMatches(t *testing.T) {
	c := New(DefaultThresholds(), nil, false)
	old := geometry.Polygon{Outer: square(0, 0, 0.01)}
	unrelated := geometry.Polygon{Outer: square(10, 10, 0.01)}

	result := c.Classify(context.Background(), "Test Council", old, unrelated, "", MergeSegmentCandidates{})
	assert.Equal(t, TagFail, result.Tag)
}

// TestClassifyInsufficientOverlapFailsWithoutTryingMoved covers the §4.3.1
// rule-4 precondition: a pair sharing real but insufficient overlap (well
// below the HighOverlap threshold, but nonzero) must fall straight to Fail,
// never attempt a geocoder-based Moved guess.
func TestClassifyInsufficientOverlapFailsWithoutTryingMoved(t *testing.T) {
	fake := &fakeGeocoder{candidates: []geocoder.Candidate{{Lat: 0, Lng: 0}}}
	c := New(DefaultThresholds(), fake, false)

	old := geometry.Polygon{Outer: square(0, 0, 0.01)}
	// Overlaps old by roughly 60%, well short of the 95% HighOverlap bar,
	// but shares real, nonzero area with it.
	overlapping := geometry.Polygon{Outer: square(0.004, 0, 0.01)}

	result := c.Classify(context.Background(), "Test Council", old, overlapping, "1 Example Street", MergeSegmentCandidates{})
	assert.Equal(t, TagFail, result.Tag, "partial overlap must fail, not fall through to Moved")
}

func TestClassifyMovedRequiresGeocoderAndAddress(t *testing.T) {
	fake := &fakeGeocoder{candidates: []geocoder.Candidate{{Lat: 10.00501, Lng: 10.00501}}}
	c := New(DefaultThresholds(), fake, false)

	old := geometry.Polygon{Outer: square(0, 0, 0.01)}
	unrelated := geometry.Polygon{Outer: square(10, 10, 0.01)}

	// No title address: Moved must not fire, falls through to Fail.
	result := c.Classify(context.Background(), "Test Council", old, unrelated, "", MergeSegmentCandidates{})
	assert.Equal(t, TagFail, result.Tag, "Moved must not fire when titleAddress is empty")

	result = c.Classify(context.Background(), "Test Council", old, unrelated, "1 Example Street", MergeSegmentCandidates{})
	assert.Equal(t, TagMoved, result.Tag)
}

func TestClassifyMovedDisabledWithoutGeocoder(t *testing.T) {
	c := New(DefaultThresholds(), nil, false)
	old := geometry.Polygon{Outer: square(0, 0, 0.01)}
	unrelated := geometry.Polygon{Outer: square(10, 10, 0.01)}

	result := c.Classify(context.Background(), "Test Council", old, unrelated, "1 Example Street", MergeSegmentCandidates{})
	assert.Equal(t, TagFail, result.Tag, "Moved should not fire when no geocoder is configured")
}

func TestClassifyNewBoundary(t *testing.T) {
	assert.Equal(t, TagNewBoundary, ClassifyNewBoundary(false).Tag)
	assert.Equal(t, TagFail, ClassifyNewBoundary(true).Tag, "should fail when the new polygon overlaps an accepted one")
}

func TestIsAccepted(t *testing.T) {
	assert.False(t, IsAccepted(TagFail))
	for _, tag := range []Tag{TagExact, TagExactOffset, TagHighOverlap, TagMoved, TagNewBoundary} {
		assert.True(t, IsAccepted(tag), "%s should be accepted", tag)
	}
}

func TestClassifyMergeSegmentCascadeDisabledByDefault(t *testing.T) {
	c := New(DefaultThresholds(), nil, false)
	old := geometry.Polygon{Outer: square(0, 0, 0.01)}
	grew := geometry.Polygon{Outer: square(0, 0, 0.011)}
	absorbed := geometry.Polygon{Outer: square(0.01, 0, 0.005)}

	candidates := MergeSegmentCandidates{
		AcceptedNearby: []CandidatePolygon{{PolyID: "absorbed-1", Geometry: absorbed}},
	}
	result := c.Classify(context.Background(), "Test Council", old, grew, "", candidates)
	assert.NotEqual(t, TagMerged, result.Tag, "cascade must stay off unless enableCascade is set")
}

func TestClassifyMergedAbsorbsAcceptedCandidate(t *testing.T) {
	c := New(DefaultThresholds(), nil, true)
	old := geometry.Polygon{Outer: square(0, 0, 0.01)}
	absorbedGeom := geometry.Polygon{Outer: square(0.01, 0, 0.01)}
	// newPoly fully covers both old and the absorbed neighbour.
	newPoly := geometry.Polygon{Outer: square(0, 0, 0.02)}

	candidates := MergeSegmentCandidates{
		AcceptedNearby: []CandidatePolygon{{PolyID: "neighbour-1", Geometry: absorbedGeom}},
	}
	result := c.Classify(context.Background(), "Test Council", old, newPoly, "", candidates)
	assert.Contains(t, []Tag{TagMerged, TagMergedIncomplete}, result.Tag)
	assert.Contains(t, result.AbsorbedPolyIDs, "neighbour-1")
}

func TestClassifySegmentedSplitsIntoPendingSiblings(t *testing.T) {
	c := New(DefaultThresholds(), nil, true)
	// old covers the full area; newPoly only keeps the left half, the sibling
	// pending row covers the right half.
	old := geometry.Polygon{Outer: square(0, 0, 0.02)}
	newPoly := geometry.Polygon{Outer: square(0, 0, 0.01)}
	siblingGeom := geometry.Polygon{Outer: square(0.01, 0, 0.01)}

	candidates := MergeSegmentCandidates{
		PendingNearby: []CandidatePolygon{{PolyID: "sibling-1", Geometry: siblingGeom}},
	}
	result := c.Classify(context.Background(), "Test Council", old, newPoly, "", candidates)
	assert.Contains(t, []Tag{TagSegmented, TagSegmentedIncomplete}, result.Tag)
	assert.Contains(t, result.SiblingPolyIDs, "sibling-1")
}

func TestClassifyBoundariesShiftedWhenNoSiblingsFound(t *testing.T) {
	c := New(DefaultThresholds(), nil, true)
	old := geometry.Polygon{Outer: square(0, 0, 0.01)}
	// Just enough change to fail the strict HighOverlap threshold but still
	// share nearly all of its area with old, and no candidates overlap it.
	nudged := geometry.Polygon{Outer: square(0, 0, 0.01)}
	nudged.Outer[2].Lng += 5e-4
	nudged.Outer[3].Lng += 5e-4

	result := c.Classify(context.Background(), "Test Council", old, nudged, "", MergeSegmentCandidates{})
	assert.Contains(t, []Tag{TagBoundariesShifted, TagHighOverlap, TagFail}, result.Tag)
}
