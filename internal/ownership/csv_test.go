package ownership

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// changeFileWidth is the column count of a change-only row, including the
// leading change-indicator column; full-snapshot rows omit that column.
const changeFileWidth = colCountryFlag + 1

// csvRow builds a change-file row with the given change indicator and title
// number, leaving every other column blank except country flag (UK).
func csvRow(indicator, titleNo string) string {
	cols := make([]string, changeFileWidth)
	cols[colChangeIndicator] = indicator
	cols[colTitleNo] = titleNo
	cols[colCountryFlag] = "UK"
	return strings.Join(cols, ",")
}

func TestStreamCSVChangeFileBucketsByIndicator(t *testing.T) {
	header := "Change Indicator,Title Number," + strings.Repeat(",", changeFileWidth-3)
	body := strings.Join([]string{
		header,
		csvRow("A", "TT1"),
		csvRow("D", "TT2"),
		"Row Count: 2",
	}, "\n")

	batch, err := StreamCSV(strings.NewReader(body))
	require.NoError(t, err)
	require.Len(t, batch.Additions, 1)
	assert.Equal(t, "TT1", batch.Additions[0].TitleNo)
	require.Len(t, batch.Deletions, 1)
	assert.Equal(t, "TT2", batch.Deletions[0])
}

func TestStreamCSVFullSnapshotHasNoIndicatorColumn(t *testing.T) {
	snapshotWidth := changeFileWidth - 1
	header := "Title Number,Tenure" + strings.Repeat(",", snapshotWidth-2)
	row := "TT3,Freehold" + strings.Repeat(",", snapshotWidth-2)
	body := header + "\n" + row + "\nRow Count: 1"

	batch, err := StreamCSV(strings.NewReader(body))
	require.NoError(t, err)
	require.Len(t, batch.Additions, 1)
	assert.Equal(t, "TT3", batch.Additions[0].TitleNo)
	assert.Empty(t, batch.Deletions)
}

func TestStreamCSVDropsRowsMissingTitleNumber(t *testing.T) {
	header := "Change Indicator,Title Number," + strings.Repeat(",", changeFileWidth-3)
	body := header + "\n" + csvRow("A", "") + "\nRow Count: 0"

	batch, err := StreamCSV(strings.NewReader(body))
	require.NoError(t, err)
	assert.Empty(t, batch.Additions)
}

func TestStreamCSVEmptyFile(t *testing.T) {
	batch, err := StreamCSV(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, batch.Additions)
	assert.Empty(t, batch.Deletions)
}

func TestStreamCSVParsesAllThreeProprietorAddressLines(t *testing.T) {
	cols := make([]string, changeFileWidth)
	cols[colChangeIndicator] = "A"
	cols[colTitleNo] = "TT4"
	cols[colCountryFlag] = "UK"
	base := proprietorBlockStart
	cols[base] = "Jane Smith"
	cols[base+1] = "12345"
	cols[base+2] = "Individual"
	cols[base+3] = "1 High Street"
	cols[base+4] = "Some Town"
	cols[base+5] = "Some County"
	header := "Change Indicator,Title Number," + strings.Repeat(",", changeFileWidth-3)
	body := header + "\n" + strings.Join(cols, ",") + "\nRow Count: 1"

	batch, err := StreamCSV(strings.NewReader(body))
	require.NoError(t, err)
	require.Len(t, batch.Additions, 1)
	prop := batch.Additions[0].Proprietors[0]
	assert.Equal(t, "1 High Street", prop.AddressLine1)
	assert.Equal(t, "Some Town", prop.AddressLine2)
	assert.Equal(t, "Some County", prop.AddressLine3)
}
