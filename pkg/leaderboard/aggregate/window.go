package aggregate

import (
	"time"

	"github.com/classhall/standings/pkg/leaderboard"
	"github.com/classhall/standings/pkg/utils"
)

// Window is a half-open aggregation interval [Start, End). A zero Start means
// no lower bound (ALL_TIME).
type Window struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	if !w.Start.IsZero() && t.Before(w.Start) {
		return false
	}
	return t.Before(w.End)
}

// ResolveWindow maps (granularity, asOf) onto a concrete window in UTC.
// Every granularity shares this single code path; there are deliberately no
// per-period query variants.
//
//   - DAILY: the UTC calendar day containing asOf
//   - WEEKLY: the ISO week (Monday 00:00 UTC) containing asOf
//   - MONTHLY: the calendar month containing asOf
//   - TERM: the academic term containing asOf (see termStart)
//   - ALL_TIME: unbounded start, cut at asOf
func ResolveWindow(g leaderboard.Granularity, asOf time.Time) Window {
	asOf = asOf.UTC()

	switch g {
	case leaderboard.Daily:
		start := time.Date(asOf.Year(), asOf.Month(), asOf.Day(), 0, 0, 0, 0, time.UTC)
		return Window{Start: start, End: start.AddDate(0, 0, 1)}

	case leaderboard.Weekly:
		// Monday-start ISO week.
		day := time.Date(asOf.Year(), asOf.Month(), asOf.Day(), 0, 0, 0, 0, time.UTC)
		offset := (int(day.Weekday()) + 6) % 7
		start := day.AddDate(0, 0, -offset)
		return Window{Start: start, End: start.AddDate(0, 0, 7)}

	case leaderboard.Monthly:
		start := time.Date(asOf.Year(), asOf.Month(), 1, 0, 0, 0, 0, time.UTC)
		return Window{Start: start, End: start.AddDate(0, 1, 0)}

	case leaderboard.Term:
		start, end := termBounds(asOf)
		return Window{Start: start, End: end}

	default: // ALL_TIME
		return Window{End: asOf}
	}
}

// termBounds returns the academic term containing asOf. Default boundaries
// are Aug 1 and Jan 15; TERM_START (date, "2006-01-02") overrides the start
// of the current term for deployments with different calendars.
func termBounds(asOf time.Time) (time.Time, time.Time) {
	if v := utils.Env("TERM_START", ""); v != "" {
		if start, err := time.ParseInLocation("2006-01-02", v, time.UTC); err == nil && !start.After(asOf) {
			return start, nextDefaultBoundary(start)
		}
	}

	boundaries := []time.Time{
		time.Date(asOf.Year()-1, time.August, 1, 0, 0, 0, 0, time.UTC),
		time.Date(asOf.Year(), time.January, 15, 0, 0, 0, 0, time.UTC),
		time.Date(asOf.Year(), time.August, 1, 0, 0, 0, 0, time.UTC),
	}
	start := boundaries[0]
	for _, b := range boundaries {
		if !b.After(asOf) {
			start = b
		}
	}
	return start, nextDefaultBoundary(start)
}

func nextDefaultBoundary(after time.Time) time.Time {
	jan := time.Date(after.Year()+1, time.January, 15, 0, 0, 0, 0, time.UTC)
	aug := time.Date(after.Year(), time.August, 1, 0, 0, 0, 0, time.UTC)
	if aug.After(after) {
		return aug
	}
	return jan
}
