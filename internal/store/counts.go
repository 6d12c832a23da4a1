package store

import (
	"context"
	"fmt"
)

// Counter answers the "how many rows do we already hold" questions the
// count phase asks before deciding whether a partition has missing work,
// plus the pending-parent queries driving the dependent-record phase.
type Counter struct {
	db DB
}

// NewCounter creates a Counter over the given pool.
func NewCounter(db DB) *Counter {
	return &Counter{db: db}
}

// CountNotices returns the stored notice count for one publication date and
// modality partition. dateRef is formatted YYYY-MM-DD.
func (c *Counter) CountNotices(ctx context.Context, dateRef string, modality int) (int64, error) {
	var n int64
	err := c.db.QueryRow(ctx, `
		SELECT count(*) FROM contratacoes
		WHERE data_publicacao_pncp::date = $1::date AND modalidade_id = $2`,
		dateRef, modality,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count notices %s modality %d: %w", dateRef, modality, err)
	}
	return n, nil
}

// NoticesWithoutItems lists notice control numbers published on dateRef that
// have zero line items, in stable order.
func (c *Counter) NoticesWithoutItems(ctx context.Context, dateRef string) ([]string, error) {
	rows, err := c.db.Query(ctx, `
		SELECT numero_controle_pncp FROM contratacoes c
		WHERE c.data_publicacao_pncp::date = $1::date
		  AND NOT EXISTS (
			SELECT 1 FROM contratacao_itens i
			WHERE i.numero_controle_pncp = c.numero_controle_pncp
		  )
		ORDER BY numero_controle_pncp`,
		dateRef,
	)
	if err != nil {
		return nil, fmt.Errorf("pending notices %s: %w", dateRef, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan pending notice: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending notices: %w", err)
	}
	return ids, nil
}

// CountPlans returns how many planning entries the mirror holds with an
// upstream update date of dateRef.
func (c *Counter) CountPlans(ctx context.Context, dateRef string) (int64, error) {
	var n int64
	err := c.db.QueryRow(ctx, `
		SELECT count(*) FROM pca WHERE data_atualizacao::date = $1::date`,
		dateRef,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count plans %s: %w", dateRef, err)
	}
	return n, nil
}

// PlanRef identifies a planning entry plus the keys its fallback item
// endpoint needs.
type PlanRef struct {
	ID        string
	AnoPca    int64
	IDUsuario int64
}

// PlansWithoutItems lists planning entries updated on dateRef that have zero
// line items.
func (c *Counter) PlansWithoutItems(ctx context.Context, dateRef string) ([]PlanRef, error) {
	rows, err := c.db.Query(ctx, `
		SELECT id_pca_pncp, ano_pca, COALESCE(id_usuario, 0) FROM pca p
		WHERE p.data_atualizacao::date = $1::date
		  AND NOT EXISTS (
			SELECT 1 FROM pca_itens i WHERE i.id_pca_pncp = p.id_pca_pncp
		  )
		ORDER BY id_pca_pncp`,
		dateRef,
	)
	if err != nil {
		return nil, fmt.Errorf("pending plans %s: %w", dateRef, err)
	}
	defer rows.Close()

	var refs []PlanRef
	for rows.Next() {
		var ref PlanRef
		if err := rows.Scan(&ref.ID, &ref.AnoPca, &ref.IDUsuario); err != nil {
			return nil, fmt.Errorf("scan pending plan: %w", err)
		}
		refs = append(refs, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending plans: %w", err)
	}
	return refs, nil
}
