package execution

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// RepoPG is the Postgres-backed Repository. Execution records are audit
// documents read and written whole, so they are stored as JSONB with the
// columns the queries filter on lifted out.
type RepoPG struct{ pool *pgxpool.Pool }

// NewRepoPG creates a Postgres-backed execution repository.
func NewRepoPG(pool *pgxpool.Pool) *RepoPG {
	return &RepoPG{pool: pool}
}

// Migrate creates the backing table if it does not exist.
func (r *RepoPG) Migrate(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS workflow_execution (
			id TEXT PRIMARY KEY,
			workflow_id TEXT NOT NULL,
			status TEXT NOT NULL,
			start_time TIMESTAMPTZ NOT NULL,
			doc JSONB NOT NULL,
			seq BIGSERIAL
		);
		CREATE INDEX IF NOT EXISTS idx_workflow_execution_workflow
			ON workflow_execution (workflow_id, seq)`)
	return err
}

func (r *RepoPG) Create(ctx context.Context, e *Execution) error {
	doc, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal execution: %w", err)
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO workflow_execution (id, workflow_id, status, start_time, doc)
		VALUES ($1, $2, $3, $4, $5)`,
		e.ID, e.WorkflowID, string(e.Status), e.StartTime, doc)
	return err
}

func (r *RepoPG) GetByID(ctx context.Context, id string) (*Execution, error) {
	var doc []byte
	err := r.pool.QueryRow(ctx,
		`SELECT doc FROM workflow_execution WHERE id = $1`, id).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	var e Execution
	if err := json.Unmarshal(doc, &e); err != nil {
		return nil, fmt.Errorf("unmarshal execution %s: %w", id, err)
	}
	return &e, nil
}

func (r *RepoPG) Update(ctx context.Context, e *Execution) error {
	doc, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal execution: %w", err)
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE workflow_execution SET status = $2, doc = $3 WHERE id = $1`,
		e.ID, string(e.Status), doc)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, e.ID)
	}
	return nil
}

func (r *RepoPG) ListByWorkflow(ctx context.Context, workflowID string) ([]*Execution, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT doc FROM workflow_execution
		WHERE workflow_id = $1 ORDER BY seq ASC`, workflowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*Execution
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var e Execution
		if err := json.Unmarshal(doc, &e); err != nil {
			return nil, fmt.Errorf("unmarshal execution: %w", err)
		}
		items = append(items, &e)
	}
	return items, rows.Err()
}

func (r *RepoPG) CountByStatus(ctx context.Context) (map[Status]int, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT status, COUNT(*) FROM workflow_execution GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[Status]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[Status(status)] = n
	}
	return counts, rows.Err()
}

func (r *RepoPG) Prune(ctx context.Context, workflowID string, olderThan time.Time, keepFailed bool) (int, error) {
	terminal := []string{string(StatusCompleted), string(StatusCancelled)}
	if !keepFailed {
		terminal = append(terminal, string(StatusFailed), string(StatusTimeout))
	}
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM workflow_execution
		WHERE workflow_id = $1 AND start_time < $2 AND status = ANY($3)`,
		workflowID, olderThan, terminal)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}
