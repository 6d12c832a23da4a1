package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/licitabr/pncp-mirror/internal/progress"
	"github.com/licitabr/pncp-mirror/internal/schedule"
)

// ErrCheckpointMismatch means the post-commit re-read of the cursor did not
// return the value just written. Continuing would risk silently skipping
// data on the next run, so the whole run stops.
var ErrCheckpointMismatch = errors.New("ingest: checkpoint confirmation mismatch")

// Dataset is one dataset family driven by the Orchestrator.
type Dataset interface {
	Name() string
	CheckpointKey() string
	CheckpointDescription() string
	SyncDate(ctx context.Context, day time.Time) (DateResult, error)
}

// DateResult aggregates what one date's sync wrote and skipped.
type DateResult struct {
	Parents      int64
	Children     int64
	SkippedPages int
	SkippedUnits int
}

// DateReport pairs a date with its outcome for the end-of-run summary.
type DateReport struct {
	DateRef string
	Result  DateResult
	Err     error
}

// Summary is the end-of-run report the operator acts on.
type Summary struct {
	Dataset      string
	Dates        []DateReport
	FailedDates  []string
	Parents      int64
	Children     int64
	SkippedUnits int
}

// AllFailed reports whether every attempted date failed outright. Only then
// does the process exit non-zero.
func (s Summary) AllFailed() bool {
	return len(s.Dates) > 0 && len(s.FailedDates) == len(s.Dates)
}

// Orchestrator drives one dataset family: resolve the window, process dates
// strictly in order, advance the checkpoint only after each date is durably
// committed and confirmed.
type Orchestrator struct {
	deps    Deps
	opts    Options
	dataset Dataset
}

// NewOrchestrator builds an Orchestrator.
func NewOrchestrator(deps Deps, opts Options, dataset Dataset) *Orchestrator {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Orchestrator{deps: deps, opts: opts.normalized(), dataset: dataset}
}

// Run executes the sync over the resolved window. A failed date is recorded
// and the next date proceeds; only a checkpoint confirmation mismatch aborts
// the run early.
func (o *Orchestrator) Run(ctx context.Context, start, end, testDate *time.Time) (Summary, error) {
	summary := Summary{Dataset: o.dataset.Name()}
	key := o.dataset.CheckpointKey()

	cpValue, hasCp, err := o.deps.Checkpoints.Get(ctx, key)
	if err != nil {
		return summary, err
	}
	var checkpoint *time.Time
	if hasCp {
		parsed, err := time.Parse(dateLayout, cpValue)
		if err != nil {
			return summary, fmt.Errorf("checkpoint %q holds unparsable date %q: %w", key, cpValue, err)
		}
		checkpoint = &parsed
	}

	var window []time.Time
	if testDate != nil {
		window = []time.Time{schedule.Day(*testDate)}
	} else {
		window = schedule.ResolveWindow(start, end, checkpoint, o.deps.Clock.Now(), o.opts.ForceItems)
	}
	if len(window) == 0 {
		o.deps.Logger.Info("nothing to do: checkpoint already covers today",
			zap.String("dataset", o.dataset.Name()),
			zap.String("checkpoint", cpValue),
		)
		return summary, nil
	}

	for _, day := range window {
		dateRef := day.Format(dateLayout)
		result, err := o.dataset.SyncDate(ctx, day)
		if err == nil {
			err = o.advanceCheckpoint(ctx, key, dateRef)
			if errors.Is(err, ErrCheckpointMismatch) {
				summary.Dates = append(summary.Dates, DateReport{DateRef: dateRef, Result: result, Err: err})
				summary.FailedDates = append(summary.FailedDates, dateRef)
				return summary, err
			}
		}
		summary.Dates = append(summary.Dates, DateReport{DateRef: dateRef, Result: result, Err: err})
		if err != nil {
			summary.FailedDates = append(summary.FailedDates, dateRef)
			o.deps.Reporter.Emit(progress.Event{
				Dataset: o.dataset.Name(), Stage: progress.StageDateFailed, DateRef: dateRef,
				Note: err.Error(),
			})
			o.deps.Logger.Error("date failed; continuing with next date",
				zap.String("dataset", o.dataset.Name()),
				zap.String("date", dateRef),
				zap.Error(err),
			)
			continue
		}

		summary.Parents += result.Parents
		summary.Children += result.Children
		summary.SkippedUnits += result.SkippedUnits
		o.recordStats(ctx, dateRef, result)
		o.deps.Reporter.Emit(progress.Event{
			Dataset: o.dataset.Name(), Stage: progress.StageDateDone, DateRef: dateRef,
			Done: result.Parents + result.Children,
		})
	}

	o.logSummary(summary)
	return summary, nil
}

// advanceCheckpoint writes the cursor in its own transaction once the
// date's data writes have committed, then re-reads to confirm durability.
func (o *Orchestrator) advanceCheckpoint(ctx context.Context, key, dateRef string) error {
	tx, err := o.deps.DB.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin checkpoint tx: %w", err)
	}
	if err := o.deps.Checkpoints.Set(ctx, tx, key, dateRef, o.dataset.CheckpointDescription()); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit checkpoint: %w", err)
	}
	ok, err := o.deps.Checkpoints.Confirm(ctx, key, dateRef)
	if err != nil {
		return fmt.Errorf("confirm checkpoint: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: key %q expected %q", ErrCheckpointMismatch, key, dateRef)
	}
	return nil
}

// recordStats appends the per-date audit row. Stat failures are logged and
// swallowed so they never undo or fail a committed date.
func (o *Orchestrator) recordStats(ctx context.Context, dateRef string, result DateResult) {
	stage := o.dataset.Name() + "_sync"
	if err := o.deps.Stats.Record(ctx, stage, dateRef, result.Parents, result.Children); err != nil {
		o.deps.Logger.Warn("run stat append failed",
			zap.String("stage", stage),
			zap.String("date", dateRef),
			zap.Error(err),
		)
	}
}

func (o *Orchestrator) logSummary(s Summary) {
	o.deps.Logger.Info("sync finished",
		zap.String("dataset", s.Dataset),
		zap.Int("dates_attempted", len(s.Dates)),
		zap.Strings("dates_failed", s.FailedDates),
		zap.Int64("parents_written", s.Parents),
		zap.Int64("children_written", s.Children),
		zap.Int("units_skipped", s.SkippedUnits),
	)
}
