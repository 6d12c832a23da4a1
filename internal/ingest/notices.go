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

// NoticesSyncer ingests the procurement-notice dataset: one partition per
// modality code, line items resolved per notice afterwards.
type NoticesSyncer struct {
	deps Deps
	opts Options
}

// NewNoticesSyncer builds the syncer for the notices dataset family.
func NewNoticesSyncer(deps Deps, opts Options) *NoticesSyncer {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &NoticesSyncer{deps: deps, opts: opts.normalized()}
}

// Name identifies the dataset family.
func (s *NoticesSyncer) Name() string { return "contratacoes" }

// CheckpointKey returns the cursor key for this family.
func (s *NoticesSyncer) CheckpointKey() string { return store.KeyNoticesLastDate }

// CheckpointDescription documents the cursor row.
func (s *NoticesSyncer) CheckpointDescription() string {
	return "última data de publicação de contratações processada"
}

type partitionPlan struct {
	modality int
	total    int64
	have     int64
	missing  int64
	err      error
}

type partitionOutcome struct {
	modality int
	written  int64
	skipped  int
	err      error
}

// SyncDate runs the three phases for one calendar day. Page-level failures
// are skip-logged and never fail the date; storage errors do.
func (s *NoticesSyncer) SyncDate(ctx context.Context, day time.Time) (DateResult, error) {
	dateRef := day.Format(dateLayout)

	plans, err := s.countPhase(ctx, day, dateRef)
	if err != nil {
		return DateResult{}, err
	}

	var toStream []partitionPlan
	var missingTotal int64
	for _, p := range plans {
		if p.missing > 0 {
			toStream = append(toStream, p)
			missingTotal += p.missing
		}
	}

	result := DateResult{}
	if len(toStream) > 0 {
		outcomes := s.pagePhase(ctx, day, dateRef, toStream, missingTotal)
		for _, o := range outcomes {
			if o.err != nil {
				return result, fmt.Errorf("partition %d: %w", o.modality, o.err)
			}
			result.Parents += o.written
			result.SkippedPages += o.skipped
		}
	}

	children, skippedItems, err := s.itemPhase(ctx, dateRef)
	if err != nil {
		return result, err
	}
	result.Children = children
	result.SkippedUnits = result.SkippedPages + skippedItems
	return result, nil
}

// countPhase reads the upstream total per modality partition with a minimal
// page and compares it against stored counts. All partitions run
// concurrently; progress is the fraction of partitions counted.
func (s *NoticesSyncer) countPhase(ctx context.Context, day time.Time, dateRef string) ([]partitionPlan, error) {
	totalPartitions := int64(len(s.opts.Modalities))
	var counted atomic.Int64

	plans := runPool(ctx, s.opts.Workers, s.opts.Modalities, func(ctx context.Context, modality int) partitionPlan {
		defer func() {
			s.deps.Reporter.Emit(progress.Event{
				Dataset: s.Name(), Stage: progress.StageCount, DateRef: dateRef,
				Partition: modality, Done: counted.Add(1), Total: totalPartitions,
			})
		}()

		page, err := s.deps.API.NoticesPage(ctx, day, modality, 1, 1)
		if err != nil {
			return partitionPlan{modality: modality, err: err}
		}
		total := page.Envelope.TotalRegistros
		have, err := s.deps.Counts.CountNotices(ctx, dateRef, modality)
		if err != nil {
			return partitionPlan{modality: modality, err: err}
		}
		missing := total - have
		if missing < 0 {
			missing = 0
		}
		return partitionPlan{modality: modality, total: total, have: have, missing: missing}
	})

	failed := 0
	for _, p := range plans {
		if p.err != nil {
			failed++
			s.deps.Logger.Warn("count phase failed for partition; skipping it this run",
				zap.String("date", dateRef),
				zap.Int("modality", p.modality),
				zap.Error(p.err),
			)
		}
	}
	if failed == len(plans) {
		return nil, fmt.Errorf("count phase failed for all %d partitions on %s", failed, dateRef)
	}

	ok := plans[:0:0]
	for _, p := range plans {
		if p.err == nil {
			ok = append(ok, p)
		}
	}
	return ok, nil
}

// pagePhase streams every partition with missing work concurrently; pages
// within one partition stay sequential because the upstream cursor is the
// page number. Progress is rows written over the missing-count snapshot.
func (s *NoticesSyncer) pagePhase(ctx context.Context, day time.Time, dateRef string, plans []partitionPlan, missingTotal int64) []partitionOutcome {
	var writtenSoFar atomic.Int64
	return runPool(ctx, s.opts.Workers, plans, func(ctx context.Context, plan partitionPlan) partitionOutcome {
		return s.streamPartition(ctx, day, dateRef, plan, func(delta int64) {
			s.deps.Reporter.Emit(progress.Event{
				Dataset: s.Name(), Stage: progress.StagePages, DateRef: dateRef,
				Partition: plan.modality,
				Done:      writtenSoFar.Add(delta), Total: missingTotal, Rows: delta,
			})
		})
	})
}

func (s *NoticesSyncer) streamPartition(ctx context.Context, day time.Time, dateRef string, plan partitionPlan, onWrite func(delta int64)) partitionOutcome {
	out := partitionOutcome{modality: plan.modality}
	pageSize := s.opts.PageSize
	totalPages := ceilDiv(plan.total, pageSize)

	for pageNum := 1; pageNum <= totalPages; pageNum++ {
		page, parseAttempts, err := fetchWithParseRetry(s.opts.ParseRetries, func() (pncp.Page, error) {
			return s.deps.API.NoticesPage(ctx, day, plan.modality, pageNum, pageSize)
		})
		if err != nil {
			out.skipped++
			s.recordSkip(dateRef, page, pageNum, pageSize, parseAttempts, err)
			continue
		}
		// The portal is live: page envelopes are authoritative over the
		// count-phase snapshot, so the loop bound follows them.
		if tp := page.Envelope.TotalPaginas; tp > 0 && tp != totalPages {
			totalPages = tp
		}
		if page.NoContent || len(page.Envelope.Data) == 0 {
			continue
		}

		objs := dedupeByKey(page.Envelope.Data, func(o map[string]any) string {
			return stringField(o, noticeKeyField)
		})
		rows := make([][]any, len(objs))
		for i, obj := range objs {
			rows[i] = noticeFields.Apply(obj)
		}
		n, err := s.deps.Writer.Upsert(ctx, noticeSpec, rows)
		if err != nil {
			out.err = err
			return out
		}
		out.written += n
		onWrite(n)
		s.deps.Logger.Debug("notice page written",
			zap.String("date", dateRef),
			zap.Int("modality", plan.modality),
			zap.Int("page", pageNum),
			zap.Int64("rows", n),
		)
	}
	return out
}

func (s *NoticesSyncer) recordSkip(dateRef string, page pncp.Page, pageNum, pageSize, parseAttempts int, err error) {
	attempts := page.Attempts
	if errors.Is(err, pncp.ErrMalformed) {
		attempts = parseAttempts
	}
	entry := skiplog.Entry{
		URL:         page.URL,
		WindowStart: dateRef,
		WindowEnd:   dateRef,
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

type itemOutcome struct {
	written    int64
	fetchSkips int
	err        error
}

// itemPhase fetches line items for notices that still have none, in bounded
// chunks of pending parents. It runs strictly after the page phase has
// committed, since it queries the store for pending parents. A 404 from the
// item endpoint means a notice with zero items and is not an error.
func (s *NoticesSyncer) itemPhase(ctx context.Context, dateRef string) (int64, int, error) {
	pending, err := s.deps.Counts.NoticesWithoutItems(ctx, dateRef)
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
		outcomes := runPool(ctx, s.opts.Workers, pending[start:end], func(ctx context.Context, controlNumber string) itemOutcome {
			defer func() {
				s.deps.Reporter.Emit(progress.Event{
					Dataset: s.Name(), Stage: progress.StageItems, DateRef: dateRef,
					Done: resolved.Add(1), Total: total,
				})
			}()

			items, err := s.deps.API.NoticeItems(ctx, controlNumber)
			if err != nil {
				s.recordItemSkip(dateRef, controlNumber, err)
				return itemOutcome{fetchSkips: 1}
			}
			if len(items) == 0 {
				return itemOutcome{}
			}
			for _, it := range items {
				it[noticeKeyField] = controlNumber
			}
			items = dedupeByKey(items, func(o map[string]any) string {
				return fmt.Sprintf("%s#%v", controlNumber, o[itemNumField])
			})
			rows := make([][]any, len(items))
			for i, it := range items {
				rows[i] = noticeItemFields.Apply(it)
			}
			n, err := s.deps.Writer.Upsert(ctx, noticeItemSpec, rows)
			if err != nil {
				return itemOutcome{err: err}
			}
			return itemOutcome{written: n}
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

// recordItemSkip appends the skip-log entry for an abandoned item fetch so
// the operator can re-run the parent later. The entry carries the item
// endpoint URL when the client reported it, falling back to the control
// number itself.
func (s *NoticesSyncer) recordItemSkip(dateRef, controlNumber string, err error) {
	entry := skiplog.Entry{
		URL:         controlNumber,
		WindowStart: dateRef,
		WindowEnd:   dateRef,
	}
	var itemsErr *pncp.ItemsError
	if errors.As(err, &itemsErr) {
		entry.URL = itemsErr.URL
		entry.Status = itemsErr.Status
		entry.Attempts = itemsErr.Attempts
	}
	if logErr := s.deps.SkipLog.Record(entry); logErr != nil {
		s.deps.Logger.Error("skip log write failed", zap.Error(logErr))
	}
	s.deps.Logger.Warn("item fetch abandoned",
		zap.String("notice", controlNumber),
		zap.Error(err),
	)
}

func stringField(obj map[string]any, field string) string {
	s, _ := obj[field].(string)
	return s
}
