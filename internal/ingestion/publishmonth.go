package ingestion

import (
	"time"

	"github.com/landregistry/inspire-reconciler/internal/errors"
)

// londonLocation loads Europe/London once; the INSPIRE publish-day rule is
// defined in local UK time, not UTC, since it tracks the data publisher's
// own calendar.
var londonLocation = func() *time.Location {
	loc, err := time.LoadLocation("Europe/London")
	if err != nil {
		return time.UTC
	}
	return loc
}()

// firstSundayOfMonth returns the first Sunday of the given year/month in loc.
func firstSundayOfMonth(year int, month time.Month, loc *time.Location) time.Time {
	d := time.Date(year, month, 1, 0, 0, 0, 0, loc)
	for d.Weekday() != time.Sunday {
		d = d.AddDate(0, 0, 1)
	}
	return d
}

// LatestPublishMonth computes the most recent first-Sunday-of-the-month that
// is strictly before "now" in Europe/London (§4.2: "the most recent first-
// Sunday-of-the-month that is strictly before 'today'"). If now falls
// exactly on that first Sunday, the stage refuses to start: the data is
// still being published and running now risks inconsistency.
func LatestPublishMonth(now time.Time) (time.Time, error) {
	local := now.In(londonLocation)
	today := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, londonLocation)

	thisMonth := firstSundayOfMonth(today.Year(), today.Month(), londonLocation)
	if today.Equal(thisMonth) {
		return time.Time{}, errors.New(errors.ErrorTypeTask, errors.SeverityMedium,
			"today is the INSPIRE publish day; refusing to start the Polygon Ingestor until publication completes")
	}
	if today.Before(thisMonth) {
		prevMonth := thisMonth.AddDate(0, -1, 0)
		return firstSundayOfMonth(prevMonth.Year(), prevMonth.Month(), londonLocation), nil
	}
	return thisMonth, nil
}
