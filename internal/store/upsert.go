package store

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

var validIdent = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ConflictPolicy selects what a bulk insert does when the natural key
// already exists.
type ConflictPolicy int

const (
	// DoNothing keeps the existing row untouched.
	DoNothing ConflictPolicy = iota
	// UpdateAll overwrites every non-key column with the new observation.
	UpdateAll
)

// TableSpec describes one upsert destination.
type TableSpec struct {
	Name       string
	Columns    []string
	KeyColumns []string
	Policy     ConflictPolicy
}

// Validate checks identifiers so specs can be built from configuration
// without opening an injection hole.
func (t TableSpec) Validate() error {
	if !validIdent.MatchString(t.Name) {
		return fmt.Errorf("invalid table name %q", t.Name)
	}
	if len(t.Columns) == 0 {
		return fmt.Errorf("table %s: no columns", t.Name)
	}
	for _, c := range append(append([]string{}, t.Columns...), t.KeyColumns...) {
		if !validIdent.MatchString(c) {
			return fmt.Errorf("table %s: invalid column name %q", t.Name, c)
		}
	}
	if len(t.KeyColumns) == 0 {
		return fmt.Errorf("table %s: no key columns", t.Name)
	}
	return nil
}

// Writer performs idempotent bulk upserts using one multi-row statement per
// chunk rather than one statement per row.
type Writer struct {
	db        DB
	chunkSize int
}

// NewWriter creates a Writer. chunkSize bounds rows per statement so large
// batches stay inside the server's statement limits.
func NewWriter(db DB, chunkSize int) *Writer {
	if chunkSize <= 0 {
		chunkSize = 2000
	}
	return &Writer{db: db, chunkSize: chunkSize}
}

// Upsert writes rows into spec.Name and returns the number of rows actually
// affected. An empty row list is a no-op. Every row must match
// len(spec.Columns).
func (w *Writer) Upsert(ctx context.Context, spec TableSpec, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if err := spec.Validate(); err != nil {
		return 0, err
	}

	var affected int64
	for start := 0; start < len(rows); start += w.chunkSize {
		end := start + w.chunkSize
		if end > len(rows) {
			end = len(rows)
		}
		n, err := w.upsertChunk(ctx, spec, rows[start:end])
		if err != nil {
			return affected, err
		}
		affected += n
	}
	return affected, nil
}

func (w *Writer) upsertChunk(ctx context.Context, spec TableSpec, rows [][]any) (int64, error) {
	ncols := len(spec.Columns)
	args := make([]any, 0, len(rows)*ncols)
	placeholders := make([]string, 0, len(rows))
	for i, row := range rows {
		if len(row) != ncols {
			return 0, fmt.Errorf("table %s: row %d has %d values, want %d", spec.Name, i, len(row), ncols)
		}
		marks := make([]string, ncols)
		for j := range row {
			marks[j] = fmt.Sprintf("$%d", i*ncols+j+1)
		}
		placeholders = append(placeholders, "("+strings.Join(marks, ",")+")")
		args = append(args, row...)
	}

	sql := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s %s",
		spec.Name,
		strings.Join(spec.Columns, ", "),
		strings.Join(placeholders, ", "),
		conflictClause(spec),
	)

	tag, err := w.db.Exec(ctx, sql, args...)
	if err != nil {
		return 0, fmt.Errorf("upsert into %s: %w", spec.Name, err)
	}
	return tag.RowsAffected(), nil
}

func conflictClause(spec TableSpec) string {
	keys := strings.Join(spec.KeyColumns, ", ")
	if spec.Policy == DoNothing {
		return fmt.Sprintf("ON CONFLICT (%s) DO NOTHING", keys)
	}
	keySet := make(map[string]struct{}, len(spec.KeyColumns))
	for _, k := range spec.KeyColumns {
		keySet[k] = struct{}{}
	}
	var sets []string
	for _, c := range spec.Columns {
		if _, isKey := keySet[c]; isKey {
			continue
		}
		sets = append(sets, fmt.Sprintf("%s = EXCLUDED.%s", c, c))
	}
	if len(sets) == 0 {
		return fmt.Sprintf("ON CONFLICT (%s) DO NOTHING", keys)
	}
	return fmt.Sprintf("ON CONFLICT (%s) DO UPDATE SET %s", keys, strings.Join(sets, ", "))
}
