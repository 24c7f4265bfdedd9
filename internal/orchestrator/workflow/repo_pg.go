package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// RepoPG is the Postgres-backed Repository. Definitions are stored as a
// JSONB document keyed by id; the engine only ever loads and saves whole
// definitions, so no relational decomposition is needed.
type RepoPG struct{ pool *pgxpool.Pool }

// NewRepoPG creates a Postgres-backed workflow repository.
func NewRepoPG(pool *pgxpool.Pool) *RepoPG {
	return &RepoPG{pool: pool}
}

// Migrate creates the backing table if it does not exist.
func (r *RepoPG) Migrate(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS workflow_definition (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			doc JSONB NOT NULL,
			version INT NOT NULL DEFAULT 1,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`)
	return err
}

func (r *RepoPG) Create(ctx context.Context, w *Workflow) error {
	doc, err := json.Marshal(w)
	if err != nil {
		return fmt.Errorf("marshal workflow: %w", err)
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO workflow_definition (id, name, doc, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		w.ID, w.Name, doc, w.Version, w.CreatedAt, w.UpdatedAt)
	return err
}

func (r *RepoPG) GetByID(ctx context.Context, id string) (*Workflow, error) {
	var doc []byte
	err := r.pool.QueryRow(ctx,
		`SELECT doc FROM workflow_definition WHERE id = $1`, id).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	var w Workflow
	if err := json.Unmarshal(doc, &w); err != nil {
		return nil, fmt.Errorf("unmarshal workflow %s: %w", id, err)
	}
	return &w, nil
}

func (r *RepoPG) List(ctx context.Context, limit, offset int) ([]*Workflow, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM workflow_definition`).Scan(&total); err != nil {
		return nil, 0, err
	}
	if limit <= 0 {
		limit = total
	}
	rows, err := r.pool.Query(ctx,
		`SELECT doc FROM workflow_definition ORDER BY created_at ASC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*Workflow
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, 0, err
		}
		var w Workflow
		if err := json.Unmarshal(doc, &w); err != nil {
			return nil, 0, fmt.Errorf("unmarshal workflow: %w", err)
		}
		items = append(items, &w)
	}
	return items, total, rows.Err()
}

func (r *RepoPG) Update(ctx context.Context, w *Workflow) error {
	doc, err := json.Marshal(w)
	if err != nil {
		return fmt.Errorf("marshal workflow: %w", err)
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE workflow_definition
		SET name = $2, doc = $3, version = $4, updated_at = NOW()
		WHERE id = $1`,
		w.ID, w.Name, doc, w.Version)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, w.ID)
	}
	return nil
}
