package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func d(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func dp(s string) *time.Time {
	t := d(s)
	return &t
}

func TestResolveWindowExplicitBounds(t *testing.T) {
	t.Parallel()

	got := ResolveWindow(dp("2026-08-01"), dp("2026-08-03"), dp("2026-01-01"), d("2026-08-30"), false)
	require.Equal(t, []time.Time{d("2026-08-01"), d("2026-08-02"), d("2026-08-03")}, got)
}

func TestResolveWindowStartOnlyRunsThroughToday(t *testing.T) {
	t.Parallel()

	got := ResolveWindow(dp("2026-08-28"), nil, nil, d("2026-08-30"), false)
	require.Equal(t, []time.Time{d("2026-08-28"), d("2026-08-29"), d("2026-08-30")}, got)
}

func TestResolveWindowEndOnlyStartsAtCheckpoint(t *testing.T) {
	t.Parallel()

	got := ResolveWindow(nil, dp("2026-08-29"), dp("2026-08-27"), d("2026-08-30"), false)
	require.Equal(t, []time.Time{d("2026-08-27"), d("2026-08-28"), d("2026-08-29")}, got)
}

func TestResolveWindowDefaultResumesFromCheckpoint(t *testing.T) {
	t.Parallel()

	got := ResolveWindow(nil, nil, dp("2026-08-28"), d("2026-08-30"), false)
	require.Equal(t, []time.Time{d("2026-08-28"), d("2026-08-29"), d("2026-08-30")}, got)
}

func TestResolveWindowCheckpointAtTodayShortCircuits(t *testing.T) {
	t.Parallel()

	require.Nil(t, ResolveWindow(nil, nil, dp("2026-08-30"), d("2026-08-30"), false))

	// Force mode reprocesses the current day anyway.
	got := ResolveWindow(nil, nil, dp("2026-08-30"), d("2026-08-30"), true)
	require.Equal(t, []time.Time{d("2026-08-30")}, got)
}

func TestResolveWindowMissingCheckpointProcessesSingleDay(t *testing.T) {
	t.Parallel()

	require.Equal(t, []time.Time{d("2026-08-30")}, ResolveWindow(nil, nil, nil, d("2026-08-30"), false))
	require.Equal(t, []time.Time{d("2026-08-20")}, ResolveWindow(nil, dp("2026-08-20"), nil, d("2026-08-30"), false))
}

func TestResolveWindowInvertedBoundsEmpty(t *testing.T) {
	t.Parallel()

	require.Nil(t, ResolveWindow(dp("2026-08-05"), dp("2026-08-01"), nil, d("2026-08-30"), false))
}

func TestDayTruncatesToMidnightUTC(t *testing.T) {
	t.Parallel()

	in := time.Date(2026, 8, 30, 17, 42, 9, 12345, time.FixedZone("BRT", -3*3600))
	out := Day(in)
	require.Equal(t, time.UTC, out.Location())
	require.Equal(t, 0, out.Hour())
	require.Equal(t, 30, out.Day())
}
