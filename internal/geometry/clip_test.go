package geometry

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIntersectionOfIdenticalSquares(t *testing.T) {
	a := square(0, 0, 0.01)
	b := square(0, 0, 0.01)

	areaA := ringArea(a)
	inter := Intersection(a, b)
	assert.InDelta(t, math.Abs(areaA), inter, 1)
}

func TestIntersectionOfDisjointSquares(t *testing.T) {
	a := square(0, 0, 0.01)
	b := square(10, 10, 0.01)
	assert.Zero(t, Intersection(a, b))
}

func TestUnionIsSumMinusIntersection(t *testing.T) {
	a := square(0, 0, 0.01)
	b := square(10, 10, 0.01)
	union := Union(a, b)
	want := math.Abs(ringArea(a)) + math.Abs(ringArea(b))
	assert.InDelta(t, want, union, 1)
}

func TestShrinkDistanceHasOneMetreFloor(t *testing.T) {
	assert.Equal(t, 1.0, ShrinkDistance(1))
	assert.Greater(t, ShrinkDistance(10000), 1.0)
}
