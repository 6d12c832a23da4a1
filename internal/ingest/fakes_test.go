package ingest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/licitabr/pncp-mirror/internal/pncp"
	"github.com/licitabr/pncp-mirror/internal/progress"
	"github.com/licitabr/pncp-mirror/internal/skiplog"
	"github.com/licitabr/pncp-mirror/internal/store"
)

// fakeAPI routes each upstream method to a test-supplied closure.
type fakeAPI struct {
	noticesPage       func(ctx context.Context, day time.Time, modality, page, pageSize int) (pncp.Page, error)
	noticeItems       func(ctx context.Context, controlNumber string) ([]map[string]any, error)
	planUpdatesPage   func(ctx context.Context, day time.Time, page, pageSize int) (pncp.Page, error)
	planUserItemsPage func(ctx context.Context, anoPca, idUsuario int64, page, pageSize int) (pncp.Page, error)
}

func (f *fakeAPI) NoticesPage(ctx context.Context, day time.Time, modality, page, pageSize int) (pncp.Page, error) {
	return f.noticesPage(ctx, day, modality, page, pageSize)
}

func (f *fakeAPI) NoticeItems(ctx context.Context, controlNumber string) ([]map[string]any, error) {
	return f.noticeItems(ctx, controlNumber)
}

func (f *fakeAPI) PlanUpdatesPage(ctx context.Context, day time.Time, page, pageSize int) (pncp.Page, error) {
	return f.planUpdatesPage(ctx, day, page, pageSize)
}

func (f *fakeAPI) PlanUserItemsPage(ctx context.Context, anoPca, idUsuario int64, page, pageSize int) (pncp.Page, error) {
	return f.planUserItemsPage(ctx, anoPca, idUsuario, page, pageSize)
}

type upsertCall struct {
	table string
	rows  [][]any
}

type fakeWriter struct {
	mu     sync.Mutex
	calls  []upsertCall
	failOn map[string]error
}

func (f *fakeWriter) Upsert(_ context.Context, spec store.TableSpec, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.failOn[spec.Name]; ok {
		return 0, err
	}
	f.calls = append(f.calls, upsertCall{table: spec.Name, rows: rows})
	return int64(len(rows)), nil
}

func (f *fakeWriter) callsFor(table string) []upsertCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []upsertCall
	for _, c := range f.calls {
		if c.table == table {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeWriter) rowsFor(table string) int {
	total := 0
	for _, c := range f.callsFor(table) {
		total += len(c.rows)
	}
	return total
}

type fakeCounts struct {
	notices        map[int]int64
	noticesPending []string
	plans          int64
	plansPending   []store.PlanRef
}

func (f *fakeCounts) CountNotices(_ context.Context, _ string, modality int) (int64, error) {
	return f.notices[modality], nil
}

func (f *fakeCounts) NoticesWithoutItems(_ context.Context, _ string) ([]string, error) {
	return f.noticesPending, nil
}

func (f *fakeCounts) CountPlans(_ context.Context, _ string) (int64, error) {
	return f.plans, nil
}

func (f *fakeCounts) PlansWithoutItems(_ context.Context, _ string) ([]store.PlanRef, error) {
	return f.plansPending, nil
}

// fakeTx satisfies pgx.Tx for the two methods the checkpoint advance uses;
// anything else panics, which is what a test wants.
type fakeTx struct{ pgx.Tx }

func (fakeTx) Commit(context.Context) error   { return nil }
func (fakeTx) Rollback(context.Context) error { return nil }

type fakeBeginner struct{}

func (fakeBeginner) Begin(context.Context) (pgx.Tx, error) { return fakeTx{}, nil }

type fakeCheckpoints struct {
	mu       sync.Mutex
	values   map[string]string
	sets     []string
	mismatch bool
}

func newFakeCheckpoints() *fakeCheckpoints {
	return &fakeCheckpoints{values: map[string]string{}}
}

func (f *fakeCheckpoints) Get(_ context.Context, key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.values[key]
	return v, ok, nil
}

func (f *fakeCheckpoints) Set(_ context.Context, _ pgx.Tx, key, value, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values[key] = value
	f.sets = append(f.sets, value)
	return nil
}

func (f *fakeCheckpoints) Confirm(_ context.Context, key, expected string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.mismatch {
		return false, nil
	}
	return f.values[key] == expected, nil
}

type statRecord struct {
	stage    string
	dateRef  string
	parents  int64
	children int64
}

type fakeStats struct {
	mu      sync.Mutex
	records []statRecord
}

func (f *fakeStats) Record(_ context.Context, stage, dateRef string, parents, children int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, statRecord{stage, dateRef, parents, children})
	return nil
}

type fakeSkipLog struct {
	mu      sync.Mutex
	entries []skiplog.Entry
}

func (f *fakeSkipLog) Record(e skiplog.Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, e)
	return nil
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type testFixture struct {
	api    *fakeAPI
	writer *fakeWriter
	counts *fakeCounts
	cps    *fakeCheckpoints
	stats  *fakeStats
	skips  *fakeSkipLog
	clock  fixedClock
}

func newFixture(today time.Time) (*testFixture, Deps) {
	fx := &testFixture{
		api:    &fakeAPI{},
		writer: &fakeWriter{},
		counts: &fakeCounts{notices: map[int]int64{}},
		cps:    newFakeCheckpoints(),
		stats:  &fakeStats{},
		skips:  &fakeSkipLog{},
		clock:  fixedClock{now: today},
	}
	deps := Deps{
		API:         fx.api,
		Writer:      fx.writer,
		Counts:      fx.counts,
		Checkpoints: fx.cps,
		Stats:       fx.stats,
		SkipLog:     fx.skips,
		DB:          fakeBeginner{},
		Reporter:    progress.NewReporter(uuid.New()),
		Clock:       fx.clock,
	}
	return fx, deps
}

// noticePayload fabricates n raw notice objects with distinct control numbers.
func noticePayload(modality, offset, n int) []map[string]any {
	objs := make([]map[string]any, n)
	for i := 0; i < n; i++ {
		objs[i] = map[string]any{
			noticeKeyField:       fmt.Sprintf("00394460000141-1-%06d/2026", offset+i+1),
			"objetoCompra":       fmt.Sprintf("objeto %d", offset+i+1),
			"modalidadeId":       float64(modality),
			"valorTotalEstimado": 1000.50,
		}
	}
	return objs
}

func listingPage(objs []map[string]any, total int64, totalPages, pageNum int) pncp.Page {
	return pncp.Page{
		Envelope: pncp.Envelope{
			Data:           objs,
			TotalRegistros: total,
			TotalPaginas:   totalPages,
			NumeroPagina:   pageNum,
		},
		Status:   200,
		Attempts: 1,
	}
}
