package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	coordinator "github.com/aksrustagi/coordinator"
	"github.com/aksrustagi/coordinator/id"
	"github.com/aksrustagi/coordinator/workflow"
)

const runColumns = `id, name, version, state, phase, input, output, snapshot, error,
	failure_reason, compensation, continuations, restarts, started_at, completed_at,
	created_at, updated_at`

// CreateRun persists a new workflow run.
func (s *Store) CreateRun(ctx context.Context, run *workflow.Run) error {
	comp, err := encodeReport(run.Compensation)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO coordinator_runs (`+runColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`,
		run.ID.String(), run.Name, run.Version, string(run.State), run.Phase,
		run.Input, run.Output, run.Snapshot, run.Error, run.FailureReason, comp,
		run.Continuations, run.Restarts, run.StartedAt, run.CompletedAt,
		run.CreatedAt, run.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return coordinator.ErrRunAlreadyExists
		}
		return fmt.Errorf("coordinator/postgres: create run: %w", err)
	}
	return nil
}

// GetRun retrieves a workflow run by ID.
func (s *Store) GetRun(ctx context.Context, runID id.RunID) (*workflow.Run, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+runColumns+` FROM coordinator_runs WHERE id = $1`, runID.String())
	r, err := scanRun(row)
	if err != nil {
		if isNoRows(err) {
			return nil, coordinator.ErrRunNotFound
		}
		return nil, fmt.Errorf("coordinator/postgres: get run: %w", err)
	}
	return r, nil
}

// UpdateRun persists changes to an existing workflow run.
func (s *Store) UpdateRun(ctx context.Context, run *workflow.Run) error {
	comp, err := encodeReport(run.Compensation)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE coordinator_runs SET
			version = $2, state = $3, phase = $4, input = $5, output = $6,
			snapshot = $7, error = $8, failure_reason = $9, compensation = $10,
			continuations = $11, restarts = $12, completed_at = $13, updated_at = $14
		WHERE id = $1`,
		run.ID.String(), run.Version, string(run.State), run.Phase, run.Input,
		run.Output, run.Snapshot, run.Error, run.FailureReason, comp,
		run.Continuations, run.Restarts, run.CompletedAt, run.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("coordinator/postgres: update run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return coordinator.ErrRunNotFound
	}
	return nil
}

// ListRuns returns workflow runs matching the given options, oldest first.
func (s *Store) ListRuns(ctx context.Context, opts workflow.ListOpts) ([]*workflow.Run, error) {
	q := `SELECT ` + runColumns + ` FROM coordinator_runs WHERE TRUE`
	var args []any
	if opts.State != "" {
		args = append(args, string(opts.State))
		q += fmt.Sprintf(" AND state = $%d", len(args))
	}
	if opts.Name != "" {
		args = append(args, opts.Name)
		q += fmt.Sprintf(" AND name = $%d", len(args))
	}
	q += " ORDER BY created_at ASC, id ASC"
	q, args = pageClause(q, args, opts.Limit, opts.Offset)

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("coordinator/postgres: list runs: %w", err)
	}
	defer rows.Close()

	var runs []*workflow.Run
	for rows.Next() {
		r, scanErr := scanRun(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("coordinator/postgres: scan run: %w", scanErr)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// SaveCheckpoint persists checkpoint data for a workflow step. Replacing a
// checkpoint keeps its ID and creation time.
func (s *Store) SaveCheckpoint(ctx context.Context, runID id.RunID, stepName string, data []byte) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO coordinator_checkpoints (id, run_id, step_name, data, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (run_id, step_name) DO UPDATE SET data = EXCLUDED.data`,
		id.NewCheckpointID().String(), runID.String(), stepName, data, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("coordinator/postgres: save checkpoint: %w", err)
	}
	return nil
}

// GetCheckpoint retrieves checkpoint data for a specific workflow step.
func (s *Store) GetCheckpoint(ctx context.Context, runID id.RunID, stepName string) ([]byte, error) {
	var data []byte
	err := s.pool.QueryRow(ctx,
		`SELECT data FROM coordinator_checkpoints WHERE run_id = $1 AND step_name = $2`,
		runID.String(), stepName,
	).Scan(&data)
	if err != nil {
		if isNoRows(err) {
			return nil, nil // no checkpoint is not an error
		}
		return nil, fmt.Errorf("coordinator/postgres: get checkpoint: %w", err)
	}
	return data, nil
}

// ListCheckpoints returns all checkpoints for a workflow run, oldest first.
func (s *Store) ListCheckpoints(ctx context.Context, runID id.RunID) ([]*workflow.Checkpoint, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, step_name, data, created_at FROM coordinator_checkpoints
		WHERE run_id = $1 ORDER BY created_at ASC, step_name ASC`, runID.String())
	if err != nil {
		return nil, fmt.Errorf("coordinator/postgres: list checkpoints: %w", err)
	}
	defer rows.Close()

	var out []*workflow.Checkpoint
	for rows.Next() {
		cp := &workflow.Checkpoint{RunID: runID}
		var cpID string
		if err := rows.Scan(&cpID, &cp.StepName, &cp.Data, &cp.CreatedAt); err != nil {
			return nil, fmt.Errorf("coordinator/postgres: scan checkpoint: %w", err)
		}
		if cp.ID, err = id.ParseCheckpointID(cpID); err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, rows.Err()
}

// DeleteCheckpoints removes every checkpoint of a run.
func (s *Store) DeleteCheckpoints(ctx context.Context, runID id.RunID) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM coordinator_checkpoints WHERE run_id = $1`, runID.String())
	if err != nil {
		return fmt.Errorf("coordinator/postgres: delete checkpoints: %w", err)
	}
	return nil
}

// ── helpers ──

func encodeReport(rep *workflow.CompensationReport) ([]byte, error) {
	if rep == nil {
		return nil, nil
	}
	data, err := json.Marshal(rep)
	if err != nil {
		return nil, fmt.Errorf("coordinator/postgres: marshal compensation report: %w", err)
	}
	return data, nil
}

func scanRun(row pgx.Row) (*workflow.Run, error) {
	var (
		r     workflow.Run
		rID   string
		state string
		comp  []byte
	)
	err := row.Scan(&rID, &r.Name, &r.Version, &state, &r.Phase, &r.Input, &r.Output,
		&r.Snapshot, &r.Error, &r.FailureReason, &comp, &r.Continuations, &r.Restarts,
		&r.StartedAt, &r.CompletedAt, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if r.ID, err = id.ParseRunID(rID); err != nil {
		return nil, err
	}
	r.State = workflow.RunState(state)
	if len(comp) > 0 {
		r.Compensation = new(workflow.CompensationReport)
		if err := json.Unmarshal(comp, r.Compensation); err != nil {
			return nil, fmt.Errorf("decode compensation report: %w", err)
		}
	}
	return &r, nil
}
