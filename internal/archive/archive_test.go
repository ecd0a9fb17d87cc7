package archive

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestArchivePathForSanitizesCouncilName(t *testing.T) {
	got := ArchivePathFor("downloads", "Barnet-on-Sea!", "2026-03")
	want := filepath.Join("downloads", "Barnet_on_Sea_2026-03.zip")
	assert.Equal(t, want, got)
}

func TestGeoJSONPathForSanitizesCouncilName(t *testing.T) {
	got := GeoJSONPathFor("geojson", "Kingston upon Thames", "2026-03")
	want := filepath.Join("geojson", "Kingston_upon_Thames_2026-03.geojson")
	assert.Equal(t, want, got)
}
