package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/licitabr/pncp-mirror/internal/pncp"
	"github.com/licitabr/pncp-mirror/internal/progress"
	"github.com/licitabr/pncp-mirror/internal/skiplog"
	"github.com/licitabr/pncp-mirror/internal/store"
)

// PlansSyncer ingests the annual-planning dataset (PCA). The update listing
// is a single time-window partition; items usually arrive inline with each
// entry, with the per-user endpoint as fallback for entries that omit them.
type PlansSyncer struct {
	deps Deps
	opts Options
}

// NewPlansSyncer builds the syncer for the planning dataset family.
func NewPlansSyncer(deps Deps, opts Options) *PlansSyncer {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &PlansSyncer{deps: deps, opts: opts.normalized()}
}

// Name identifies the dataset family.
func (s *PlansSyncer) Name() string { return "pca" }

// CheckpointKey returns the cursor key for this family.
func (s *PlansSyncer) CheckpointKey() string { return store.KeyPlansLastDate }

// CheckpointDescription documents the cursor row.
func (s *PlansSyncer) CheckpointDescription() string {
	return "última data de atualização de PCA processada"
}

// SyncDate processes one calendar day of planning updates. The upstream
// endpoint returns nothing for an equal-bounds window, so the client always
// requests [day, day+1); the checkpoint still records day itself.
func (s *PlansSyncer) SyncDate(ctx context.Context, day time.Time) (DateResult, error) {
	dateRef := day.Format(dateLayout)

	probe, err := s.deps.API.PlanUpdatesPage(ctx, day, 1, 1)
	if err != nil {
		return DateResult{}, fmt.Errorf("plan count phase %s: %w", dateRef, err)
	}
	total := probe.Envelope.TotalRegistros
	have, err := s.deps.Counts.CountPlans(ctx, dateRef)
	if err != nil {
		return DateResult{}, err
	}
	missing := total - have
	if missing < 0 {
		missing = 0
	}
	s.deps.Reporter.Emit(progress.Event{
		Dataset: s.Name(), Stage: progress.StageCount, DateRef: dateRef,
		Done: 1, Total: 1, Note: fmt.Sprintf("missing=%d", missing),
	})

	result := DateResult{}
	if missing > 0 {
		result, err = s.streamPages(ctx, day, dateRef, total, missing)
		if err != nil {
			return result, err
		}
	}

	children, skips, err := s.fallbackItemPhase(ctx, dateRef)
	if err != nil {
		return result, err
	}
	result.Children += children
	result.SkippedUnits = result.SkippedPages + skips
	return result, nil
}

// streamPages walks the update listing sequentially (single partition),
// upserting headers and any inline items page by page.
func (s *PlansSyncer) streamPages(ctx context.Context, day time.Time, dateRef string, total, missing int64) (DateResult, error) {
	result := DateResult{}
	pageSize := s.opts.PageSize
	totalPages := ceilDiv(total, pageSize)
	var writtenSoFar int64

	for pageNum := 1; pageNum <= totalPages; pageNum++ {
		page, parseAttempts, err := fetchWithParseRetry(s.opts.ParseRetries, func() (pncp.Page, error) {
			return s.deps.API.PlanUpdatesPage(ctx, day, pageNum, pageSize)
		})
		if err != nil {
			result.SkippedPages++
			windowEnd := day.AddDate(0, 0, 1).Format(dateLayout)
			s.recordSkip(dateRef, windowEnd, page, pageNum, pageSize, parseAttempts, err)
			continue
		}
		if tp := page.Envelope.TotalPaginas; tp > 0 && tp != totalPages {
			totalPages = tp
		}
		if page.NoContent || len(page.Envelope.Data) == 0 {
			continue
		}

		entries := dedupeByKey(page.Envelope.Data, func(o map[string]any) string {
			return stringField(o, planKeyField)
		})
		headerRows := make([][]any, len(entries))
		var itemRows [][]any
		for i, entry := range entries {
			headerRows[i] = planFields.Apply(entry)
			itemRows = append(itemRows, s.inlineItemRows(entry)...)
		}

		n, err := s.deps.Writer.Upsert(ctx, planSpec, headerRows)
		if err != nil {
			return result, err
		}
		result.Parents += n
		writtenSoFar += n
		if len(itemRows) > 0 {
			cn, err := s.deps.Writer.Upsert(ctx, planItemSpec, itemRows)
			if err != nil {
				return result, err
			}
			result.Children += cn
		}
		s.deps.Reporter.Emit(progress.Event{
			Dataset: s.Name(), Stage: progress.StagePages, DateRef: dateRef,
			Done: writtenSoFar, Total: missing, Rows: n,
		})
	}
	return result, nil
}

// inlineItemRows extracts the entry's inline item list, if present, with
// the parent key injected into each raw object.
func (s *PlansSyncer) inlineItemRows(entry map[string]any) [][]any {
	planID := stringField(entry, planKeyField)
	rawItems, ok := entry["itens"].([]any)
	if !ok || planID == "" {
		return nil
	}
	objs := make([]map[string]any, 0, len(rawItems))
	for _, raw := range rawItems {
		obj, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		obj[planKeyField] = planID
		objs = append(objs, obj)
	}
	objs = dedupeByKey(objs, func(o map[string]any) string {
		return fmt.Sprintf("%s#%v", planID, o[itemNumField])
	})
	rows := make([][]any, len(objs))
	for i, obj := range objs {
		rows[i] = planItemFields.Apply(obj)
	}
	return rows
}

type planItemOutcome struct {
	written    int64
	fetchSkips int
	err        error
}

// fallbackItemPhase resolves items for planning entries that still have
// none, via the per-user listing endpoint, in bounded chunks of pending
// entries. Entries run concurrently; pages within one entry stay sequential.
func (s *PlansSyncer) fallbackItemPhase(ctx context.Context, dateRef string) (int64, int, error) {
	pending, err := s.deps.Counts.PlansWithoutItems(ctx, dateRef)
	if err != nil {
		return 0, 0, err
	}
	if len(pending) == 0 {
		return 0, 0, nil
	}

	total := int64(len(pending))
	var resolved atomic.Int64
	var written int64
	skips := 0
	for start := 0; start < len(pending); start += s.opts.ItemChunk {
		end := start + s.opts.ItemChunk
		if end > len(pending) {
			end = len(pending)
		}
		outcomes := runPool(ctx, s.opts.Workers, pending[start:end], func(ctx context.Context, ref store.PlanRef) planItemOutcome {
			defer func() {
				s.deps.Reporter.Emit(progress.Event{
					Dataset: s.Name(), Stage: progress.StageItems, DateRef: dateRef,
					Done: resolved.Add(1), Total: total,
				})
			}()
			return s.resolvePlanItems(ctx, dateRef, ref)
		})

		for _, o := range outcomes {
			if o.err != nil {
				return written, skips, o.err
			}
			written += o.written
			skips += o.fetchSkips
		}
	}
	return written, skips, nil
}

func (s *PlansSyncer) resolvePlanItems(ctx context.Context, dateRef string, ref store.PlanRef) planItemOutcome {
	out := planItemOutcome{}
	pageSize := s.opts.PageSize
	totalPages := 1

	for pageNum := 1; pageNum <= totalPages; pageNum++ {
		page, parseAttempts, err := fetchWithParseRetry(s.opts.ParseRetries, func() (pncp.Page, error) {
			return s.deps.API.PlanUserItemsPage(ctx, ref.AnoPca, ref.IDUsuario, pageNum, pageSize)
		})
		if err != nil {
			// The per-user listing is not date-windowed, so both bounds
			// record the reference date being synced.
			s.recordSkip(dateRef, dateRef, page, pageNum, pageSize, parseAttempts, err)
			out.fetchSkips++
			return out
		}
		if tp := page.Envelope.TotalPaginas; tp > 0 {
			totalPages = tp
		}
		if page.NoContent || len(page.Envelope.Data) == 0 {
			break
		}

		// The user listing spans every plan of that user/year; keep only
		// items belonging to the pending entry.
		var objs []map[string]any
		for _, obj := range page.Envelope.Data {
			if stringField(obj, planKeyField) != ref.ID {
				continue
			}
			objs = append(objs, obj)
		}
		objs = dedupeByKey(objs, func(o map[string]any) string {
			return fmt.Sprintf("%s#%v", ref.ID, o[itemNumField])
		})
		if len(objs) == 0 {
			continue
		}
		rows := make([][]any, len(objs))
		for i, obj := range objs {
			rows[i] = planItemFields.Apply(obj)
		}
		n, err := s.deps.Writer.Upsert(ctx, planItemSpec, rows)
		if err != nil {
			out.err = err
			return out
		}
		out.written += n
	}
	return out
}

func (s *PlansSyncer) recordSkip(dateRef, windowEnd string, page pncp.Page, pageNum, pageSize, parseAttempts int, err error) {
	attempts := page.Attempts
	if errors.Is(err, pncp.ErrMalformed) {
		attempts = parseAttempts
	}
	entry := skiplog.Entry{
		URL:         page.URL,
		WindowStart: dateRef,
		WindowEnd:   windowEnd,
		Page:        pageNum,
		PageSize:    pageSize,
		Status:      page.Status,
		Attempts:    attempts,
	}
	if logErr := s.deps.SkipLog.Record(entry); logErr != nil {
		s.deps.Logger.Error("skip log write failed", zap.Error(logErr))
	}
	s.deps.Reporter.Emit(progress.Event{
		Dataset: s.Name(), Stage: progress.StagePageSkip, DateRef: dateRef,
		Note: err.Error(),
	})
	s.deps.Logger.Warn("page abandoned after retries",
		zap.String("url", page.URL),
		zap.Int("page", pageNum),
		zap.Int("attempts", attempts),
		zap.Error(err),
	)
}
