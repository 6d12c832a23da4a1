// Package schedule computes the set of calendar dates a sync run must
// process, given the stored checkpoint, optional explicit bounds, and today.
package schedule

import "time"

// Day truncates t to midnight UTC.
func Day(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// ResolveWindow resolves the inclusive ascending list of dates to process.
//
// Precedence:
//  1. both bounds given: used verbatim;
//  2. only start: start through today;
//  3. only end: checkpoint through end;
//  4. neither: checkpoint through today — empty when the checkpoint already
//     equals today, unless revisitToday is set (single-date test and force
//     modes intentionally reprocess the current day).
//
// A missing checkpoint falls back to the window's upper bound, so a first
// run processes exactly one day instead of an unbounded history.
func ResolveWindow(start, end, checkpoint *time.Time, today time.Time, revisitToday bool) []time.Time {
	today = Day(today)

	var lo, hi time.Time
	switch {
	case start != nil && end != nil:
		lo, hi = Day(*start), Day(*end)
	case start != nil:
		lo, hi = Day(*start), today
	case end != nil:
		hi = Day(*end)
		if checkpoint != nil {
			lo = Day(*checkpoint)
		} else {
			lo = hi
		}
	default:
		hi = today
		if checkpoint != nil {
			lo = Day(*checkpoint)
			if lo.Equal(today) && !revisitToday {
				return nil
			}
		} else {
			lo = today
		}
	}

	if lo.After(hi) {
		return nil
	}
	var dates []time.Time
	for d := lo; !d.After(hi); d = d.AddDate(0, 0, 1) {
		dates = append(dates, d)
	}
	return dates
}
