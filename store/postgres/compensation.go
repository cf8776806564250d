package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	coordinator "github.com/aksrustagi/coordinator"
	"github.com/aksrustagi/coordinator/compensation"
	"github.com/aksrustagi/coordinator/id"
)

const compensationColumns = `id, run_id, workflow, step, kind, key, error, attempts,
	failed_at, resolved_at, note, created_at`

// PushUnresolved records a failed compensation.
func (s *Store) PushUnresolved(ctx context.Context, e *compensation.Entry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO coordinator_compensations (`+compensationColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		e.ID.String(), e.RunID.String(), e.Workflow, e.Step, string(e.Kind), e.Key,
		e.Error, e.Attempts, e.FailedAt, e.ResolvedAt, e.Note, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("coordinator/postgres: push compensation: %w", err)
	}
	return nil
}

// ListUnresolved returns entries matching the options, oldest first.
func (s *Store) ListUnresolved(ctx context.Context, opts compensation.ListOpts) ([]*compensation.Entry, error) {
	q := `SELECT ` + compensationColumns + ` FROM coordinator_compensations WHERE TRUE`
	var args []any
	if !opts.IncludeResolved {
		q += " AND resolved_at IS NULL"
	}
	if !opts.RunID.IsNil() {
		args = append(args, opts.RunID.String())
		q += fmt.Sprintf(" AND run_id = $%d", len(args))
	}
	q += " ORDER BY failed_at ASC, id ASC"
	q, args = pageClause(q, args, opts.Limit, opts.Offset)

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("coordinator/postgres: list compensations: %w", err)
	}
	defer rows.Close()

	var out []*compensation.Entry
	for rows.Next() {
		e, scanErr := scanEntry(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("coordinator/postgres: scan compensation: %w", scanErr)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// GetUnresolved retrieves an entry by ID.
func (s *Store) GetUnresolved(ctx context.Context, entryID id.CompensationID) (*compensation.Entry, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+compensationColumns+` FROM coordinator_compensations WHERE id = $1`, entryID.String())
	e, err := scanEntry(row)
	if err != nil {
		if isNoRows(err) {
			return nil, coordinator.ErrUnresolvedNotFound
		}
		return nil, fmt.Errorf("coordinator/postgres: get compensation: %w", err)
	}
	return e, nil
}

// ResolveUnresolved marks an entry as handled.
func (s *Store) ResolveUnresolved(ctx context.Context, entryID id.CompensationID, note string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE coordinator_compensations SET resolved_at = NOW(), note = $2 WHERE id = $1`,
		entryID.String(), note)
	if err != nil {
		return fmt.Errorf("coordinator/postgres: resolve compensation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return coordinator.ErrUnresolvedNotFound
	}
	return nil
}

// CountUnresolved returns the number of open entries.
func (s *Store) CountUnresolved(ctx context.Context) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM coordinator_compensations WHERE resolved_at IS NULL`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("coordinator/postgres: count compensations: %w", err)
	}
	return n, nil
}

func scanEntry(row pgx.Row) (*compensation.Entry, error) {
	var (
		e          compensation.Entry
		eID, runID string
		kind       string
	)
	err := row.Scan(&eID, &runID, &e.Workflow, &e.Step, &kind, &e.Key, &e.Error,
		&e.Attempts, &e.FailedAt, &e.ResolvedAt, &e.Note, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	if e.ID, err = id.ParseCompensationID(eID); err != nil {
		return nil, err
	}
	if e.RunID, err = id.ParseRunID(runID); err != nil {
		return nil, err
	}
	e.Kind = compensation.Kind(kind)
	return &e, nil
}
