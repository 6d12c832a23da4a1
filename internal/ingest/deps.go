// Package ingest implements the incremental sync pipeline: window
// resolution, the three-phase partitioned fetch/aggregate cycle, and
// checkpoint advancement.
package ingest

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/licitabr/pncp-mirror/internal/pncp"
	"github.com/licitabr/pncp-mirror/internal/progress"
	"github.com/licitabr/pncp-mirror/internal/skiplog"
	"github.com/licitabr/pncp-mirror/internal/store"
	"go.uber.org/zap"
)

// API is the upstream surface the pipeline consumes; *pncp.Client satisfies
// it, tests use fakes.
type API interface {
	NoticesPage(ctx context.Context, day time.Time, modality, page, pageSize int) (pncp.Page, error)
	NoticeItems(ctx context.Context, controlNumber string) ([]map[string]any, error)
	PlanUpdatesPage(ctx context.Context, day time.Time, page, pageSize int) (pncp.Page, error)
	PlanUserItemsPage(ctx context.Context, anoPca, idUsuario int64, page, pageSize int) (pncp.Page, error)
}

// Upserter performs idempotent bulk writes; *store.Writer satisfies it.
type Upserter interface {
	Upsert(ctx context.Context, spec store.TableSpec, rows [][]any) (int64, error)
}

// CountReader answers store-count and pending-parent queries.
type CountReader interface {
	CountNotices(ctx context.Context, dateRef string, modality int) (int64, error)
	NoticesWithoutItems(ctx context.Context, dateRef string) ([]string, error)
	CountPlans(ctx context.Context, dateRef string) (int64, error)
	PlansWithoutItems(ctx context.Context, dateRef string) ([]store.PlanRef, error)
}

// Checkpoints persists the last-processed-date cursor.
type Checkpoints interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, tx pgx.Tx, key, value, description string) error
	Confirm(ctx context.Context, key, expected string) (bool, error)
}

// Stats appends per-run audit counters.
type Stats interface {
	Record(ctx context.Context, stage, dateRef string, parents, children int64) error
}

// SkipLogger records abandoned pages for operator follow-up.
type SkipLogger interface {
	Record(e skiplog.Entry) error
}

// TxBeginner opens the transaction the checkpoint advance runs in.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Clock abstracts "today" so the scheduler is testable.
type Clock interface {
	Now() time.Time
}

// Deps bundles every collaborator a syncer needs. Built once at process
// start and passed explicitly; there is no package-level mutable state.
type Deps struct {
	API         API
	Writer      Upserter
	Counts      CountReader
	Checkpoints Checkpoints
	Stats       Stats
	SkipLog     SkipLogger
	DB          TxBeginner
	Reporter    *progress.Reporter
	Logger      *zap.Logger
	Clock       Clock
}

// Options are the per-run tuning knobs.
type Options struct {
	Workers      int
	PageSize     int
	ParseRetries int
	Modalities   []int
	// ItemChunk bounds how many pending parents are handed to the worker
	// pool at once during the dependent-record phase.
	ItemChunk int
	// ForceItems re-runs the dependent-record phase (and revisits today)
	// even when the count phase reports nothing missing.
	ForceItems bool
}

func (o Options) normalized() Options {
	if o.Workers <= 0 {
		o.Workers = 8
	}
	if o.PageSize <= 0 {
		o.PageSize = 50
	}
	if o.ParseRetries <= 0 {
		o.ParseRetries = 3
	}
	if o.ItemChunk <= 0 {
		o.ItemChunk = 25
	}
	return o
}

const dateLayout = "2006-01-02"
