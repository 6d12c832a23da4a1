package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/licitabr/pncp-mirror/internal/store"
)

// scriptedDataset plays back canned per-date results so orchestration can be
// tested without the real syncers.
type scriptedDataset struct {
	results map[string]DateResult
	errs    map[string]error
	calls   []string
}

func (d *scriptedDataset) Name() string          { return "contratacoes" }
func (d *scriptedDataset) CheckpointKey() string { return store.KeyNoticesLastDate }
func (d *scriptedDataset) CheckpointDescription() string {
	return "última data de publicação de contratações processada"
}

func (d *scriptedDataset) SyncDate(_ context.Context, day time.Time) (DateResult, error) {
	dateRef := day.Format(dateLayout)
	d.calls = append(d.calls, dateRef)
	return d.results[dateRef], d.errs[dateRef]
}

func TestRunAdvancesCheckpointPerDate(t *testing.T) {
	t.Parallel()

	fx, deps := newFixture(testDay)
	fx.cps.values[store.KeyNoticesLastDate] = "2026-08-28"
	ds := &scriptedDataset{
		results: map[string]DateResult{
			"2026-08-28": {Parents: 10, Children: 30},
			"2026-08-29": {Parents: 20, Children: 60},
			"2026-08-30": {Parents: 5, Children: 15},
		},
	}

	o := NewOrchestrator(deps, noticesOpts(), ds)
	summary, err := o.Run(context.Background(), nil, nil, nil)
	require.NoError(t, err)
	require.Equal(t, []string{"2026-08-28", "2026-08-29", "2026-08-30"}, ds.calls)
	require.Equal(t, []string{"2026-08-28", "2026-08-29", "2026-08-30"}, fx.cps.sets)
	require.Equal(t, "2026-08-30", fx.cps.values[store.KeyNoticesLastDate])
	require.EqualValues(t, 35, summary.Parents)
	require.EqualValues(t, 105, summary.Children)
	require.Empty(t, summary.FailedDates)

	require.Len(t, fx.stats.records, 3)
	require.Equal(t, "contratacoes_sync", fx.stats.records[0].stage)
	require.EqualValues(t, 10, fx.stats.records[0].parents)
}

func TestRunFailedDateDoesNotAdvanceCursorAndContinues(t *testing.T) {
	t.Parallel()

	fx, deps := newFixture(testDay)
	fx.cps.values[store.KeyNoticesLastDate] = "2026-08-29"
	ds := &scriptedDataset{
		results: map[string]DateResult{"2026-08-30": {Parents: 7}},
		errs:    map[string]error{"2026-08-29": errors.New("count phase failed")},
	}

	o := NewOrchestrator(deps, noticesOpts(), ds)
	summary, err := o.Run(context.Background(), nil, nil, nil)
	require.NoError(t, err)
	require.Equal(t, []string{"2026-08-29", "2026-08-30"}, ds.calls)
	require.Equal(t, []string{"2026-08-30"}, fx.cps.sets)
	require.Equal(t, []string{"2026-08-29"}, summary.FailedDates)
	require.False(t, summary.AllFailed())
	require.Len(t, fx.stats.records, 1)
}

func TestRunCheckpointMismatchAbortsRun(t *testing.T) {
	t.Parallel()

	fx, deps := newFixture(testDay)
	fx.cps.values[store.KeyNoticesLastDate] = "2026-08-28"
	fx.cps.mismatch = true
	ds := &scriptedDataset{results: map[string]DateResult{}}

	o := NewOrchestrator(deps, noticesOpts(), ds)
	summary, err := o.Run(context.Background(), nil, nil, nil)
	require.ErrorIs(t, err, ErrCheckpointMismatch)
	require.Equal(t, []string{"2026-08-28"}, ds.calls)
	require.Equal(t, []string{"2026-08-28"}, summary.FailedDates)
}

func TestRunNothingToDoWhenCheckpointCoversToday(t *testing.T) {
	t.Parallel()

	fx, deps := newFixture(testDay)
	fx.cps.values[store.KeyNoticesLastDate] = "2026-08-30"
	ds := &scriptedDataset{}

	o := NewOrchestrator(deps, noticesOpts(), ds)
	summary, err := o.Run(context.Background(), nil, nil, nil)
	require.NoError(t, err)
	require.Empty(t, ds.calls)
	require.Empty(t, summary.Dates)
}

func TestRunTestDateProcessesExactlyOneDay(t *testing.T) {
	t.Parallel()

	fx, deps := newFixture(testDay)
	fx.cps.values[store.KeyNoticesLastDate] = "2026-08-30"
	ds := &scriptedDataset{results: map[string]DateResult{"2026-08-15": {Parents: 3}}}

	test := time.Date(2026, 8, 15, 9, 30, 0, 0, time.UTC)
	o := NewOrchestrator(deps, noticesOpts(), ds)
	summary, err := o.Run(context.Background(), nil, nil, &test)
	require.NoError(t, err)
	require.Equal(t, []string{"2026-08-15"}, ds.calls)
	require.EqualValues(t, 3, summary.Parents)
	require.Equal(t, "2026-08-15", fx.cps.values[store.KeyNoticesLastDate])
}

func TestRunUnparsableCheckpointErrors(t *testing.T) {
	t.Parallel()

	fx, deps := newFixture(testDay)
	fx.cps.values[store.KeyNoticesLastDate] = "30/08/2026"
	ds := &scriptedDataset{}

	o := NewOrchestrator(deps, noticesOpts(), ds)
	_, err := o.Run(context.Background(), nil, nil, nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "unparsable date")
	require.Empty(t, ds.calls)
}

func TestRunIsIdempotentAcrossRepeats(t *testing.T) {
	t.Parallel()

	fx, deps := newFixture(testDay)
	fx.cps.values[store.KeyNoticesLastDate] = "2026-08-29"
	ds := &scriptedDataset{results: map[string]DateResult{}}

	o := NewOrchestrator(deps, noticesOpts(), ds)
	_, err := o.Run(context.Background(), nil, nil, nil)
	require.NoError(t, err)
	require.Equal(t, "2026-08-30", fx.cps.values[store.KeyNoticesLastDate])

	// second run resumes from the advanced cursor and finds nothing to do
	summary, err := o.Run(context.Background(), nil, nil, nil)
	require.NoError(t, err)
	require.Empty(t, summary.Dates)
}

func TestSummaryAllFailed(t *testing.T) {
	t.Parallel()

	require.False(t, Summary{}.AllFailed())
	require.False(t, Summary{
		Dates:       []DateReport{{DateRef: "a"}, {DateRef: "b"}},
		FailedDates: []string{"a"},
	}.AllFailed())
	require.True(t, Summary{
		Dates:       []DateReport{{DateRef: "a"}},
		FailedDates: []string{"a"},
	}.AllFailed())
}
