package ingestion

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFirstSundayOfMonth(t *testing.T) {
	cases := []struct {
		year  int
		month time.Month
		want  string
	}{
		{2026, time.March, "2026-03-01"}, // 1 March 2026 is a Sunday
		{2026, time.April, "2026-04-05"},
		{2024, time.February, "2024-02-04"},
	}
	for _, tc := range cases {
		got := firstSundayOfMonth(tc.year, tc.month, londonLocation)
		assert.Equal(t, time.Sunday, got.Weekday())
		assert.Equal(t, tc.want, got.Format("2006-01-02"))
	}
}

func TestLatestPublishMonthBeforeThisMonthsSunday(t *testing.T) {
	// 2026-03-01 is the first Sunday of March 2026; a day before it falls
	// back to February's first Sunday.
	now := time.Date(2026, 2, 28, 12, 0, 0, 0, londonLocation)
	got, err := LatestPublishMonth(now)
	require.NoError(t, err)
	want := time.Date(2026, 2, 1, 0, 0, 0, 0, londonLocation)
	assert.True(t, got.Equal(want), "LatestPublishMonth = %s, want %s", got, want)
}

func TestLatestPublishMonthAfterThisMonthsSunday(t *testing.T) {
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, londonLocation)
	got, err := LatestPublishMonth(now)
	require.NoError(t, err)
	want := time.Date(2026, 3, 1, 0, 0, 0, 0, londonLocation)
	assert.True(t, got.Equal(want), "LatestPublishMonth = %s, want %s", got, want)
}

func TestLatestPublishMonthRefusesOnPublishDay(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, londonLocation)
	_, err := LatestPublishMonth(now)
	assert.Error(t, err, "expected an error when called exactly on the publish day")
}
