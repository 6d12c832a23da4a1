package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// Checkpoint keys, one per dataset family.
const (
	KeyNoticesLastDate = "contratacoes_last_date"
	KeyPlansLastDate   = "pca_last_date"
)

// Checkpoint is one row of the sync_checkpoints table.
type Checkpoint struct {
	Key         string    `json:"key"`
	Value       string    `json:"value"`
	Description string    `json:"description"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// CheckpointStore persists the last-processed-date cursor per dataset
// family. Set deliberately runs inside the caller's transaction so a cursor
// can never outlive the data write it certifies; Confirm re-reads after
// commit to catch failures between the statement and the commit.
type CheckpointStore struct {
	db DB
}

// NewCheckpointStore creates a CheckpointStore over the given pool.
func NewCheckpointStore(db DB) *CheckpointStore {
	return &CheckpointStore{db: db}
}

// Get returns the stored value for key, with ok=false when absent.
func (s *CheckpointStore) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRow(ctx,
		`SELECT value FROM sync_checkpoints WHERE key = $1`, key,
	).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("get checkpoint %q: %w", key, err)
	}
	return value, true, nil
}

// Set writes key=value as part of tx. The caller owns the commit.
func (s *CheckpointStore) Set(ctx context.Context, tx pgx.Tx, key, value, description string) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO sync_checkpoints (key, value, description, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (key) DO UPDATE
		SET value = EXCLUDED.value, description = EXCLUDED.description, updated_at = now()`,
		key, value, description,
	)
	if err != nil {
		return fmt.Errorf("set checkpoint %q: %w", key, err)
	}
	return nil
}

// Confirm re-reads key after the caller committed and reports whether the
// durable value matches expected. A false result must be treated as fatal
// for the run: advancing past an unconfirmed cursor risks silently skipping
// data on the next run.
func (s *CheckpointStore) Confirm(ctx context.Context, key, expected string) (bool, error) {
	value, ok, err := s.Get(ctx, key)
	if err != nil {
		return false, err
	}
	return ok && value == expected, nil
}

// List returns every checkpoint row, for the ops API.
func (s *CheckpointStore) List(ctx context.Context) ([]Checkpoint, error) {
	rows, err := s.db.Query(ctx,
		`SELECT key, value, description, updated_at FROM sync_checkpoints ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	defer rows.Close()

	var out []Checkpoint
	for rows.Next() {
		var cp Checkpoint
		if err := rows.Scan(&cp.Key, &cp.Value, &cp.Description, &cp.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan checkpoint row: %w", err)
		}
		out = append(out, cp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate checkpoints: %w", err)
	}
	return out, nil
}
