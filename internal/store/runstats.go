package store

import (
	"context"
	"fmt"
	"time"
)

// RunStat is one append-only audit row: how many parent and child records a
// stage wrote for a given reference date.
type RunStat struct {
	Stage            string    `json:"stage"`
	DateRef          string    `json:"date_ref"`
	InsertedParents  int64     `json:"inserted_parents"`
	InsertedChildren int64     `json:"inserted_children"`
	RecordedAt       time.Time `json:"recorded_at"`
}

// RunStatStore appends run statistics. Each Record call is its own implicit
// transaction, so a failure here never rolls back data already committed by
// the upsert writer; callers log and swallow errors.
type RunStatStore struct {
	db DB
}

// NewRunStatStore creates a RunStatStore over the given pool.
func NewRunStatStore(db DB) *RunStatStore {
	return &RunStatStore{db: db}
}

// Record appends one (stage, date) row.
func (s *RunStatStore) Record(ctx context.Context, stage, dateRef string, parents, children int64) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO sync_runs (stage, date_ref, inserted_parents, inserted_children, recorded_at)
		VALUES ($1, $2, $3, $4, now())`,
		stage, dateRef, parents, children,
	)
	if err != nil {
		return fmt.Errorf("record run stat %s/%s: %w", stage, dateRef, err)
	}
	return nil
}

// ListRecent returns the latest rows for the ops API, newest first.
func (s *RunStatStore) ListRecent(ctx context.Context, limit int) ([]RunStat, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(ctx, `
		SELECT stage, date_ref, inserted_parents, inserted_children, recorded_at
		FROM sync_runs
		ORDER BY recorded_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list run stats: %w", err)
	}
	defer rows.Close()

	var out []RunStat
	for rows.Next() {
		var rs RunStat
		if err := rows.Scan(&rs.Stage, &rs.DateRef, &rs.InsertedParents, &rs.InsertedChildren, &rs.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan run stat row: %w", err)
		}
		out = append(out, rs)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate run stats: %w", err)
	}
	return out, nil
}
