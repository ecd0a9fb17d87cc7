package ingestion

import (
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseIndexLinks(t *testing.T) {
	html := `<html><body>
		<a href="/files/Barnet.zip">Barnet Council</a>
		<a href="/files/Camden_Council.zip"></a>
		<a href="/files/readme.pdf">Not an archive</a>
	</body></html>`

	base, _ := url.Parse("https://example.test/inspire/index.html")
	links, err := parseIndexLinks(strings.NewReader(html), base)
	require.NoError(t, err)
	require.Len(t, links, 2)

	assert.Equal(t, "Barnet Council", links[0].Council)
	assert.Equal(t, "https://example.test/files/Barnet.zip", links[0].URL)

	assert.Equal(t, "Camden Council", links[1].Council, "derived name from filename")
}

func TestFilterCouncilsAfterAndMax(t *testing.T) {
	links := []CouncilLink{
		{Council: "Barnet"}, {Council: "Camden"}, {Council: "Durham"}, {Council: "Exeter"},
	}

	got := FilterCouncils(links, "Camden", 0)
	require.Len(t, got, 2)
	assert.Equal(t, "Durham", got[0].Council)

	got = FilterCouncils(links, "", 2)
	require.Len(t, got, 2)
	assert.Equal(t, "Camden", got[1].Council)
}

func TestFilterCouncilsAfterLastIsEmpty(t *testing.T) {
	links := []CouncilLink{{Council: "Barnet"}, {Council: "Camden"}}
	got := FilterCouncils(links, "Zetland", 0)
	assert.Empty(t, got)
}
