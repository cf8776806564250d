package postgres_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coordinator "github.com/aksrustagi/coordinator"
	"github.com/aksrustagi/coordinator/compensation"
	"github.com/aksrustagi/coordinator/id"
	"github.com/aksrustagi/coordinator/signal"
	pgstore "github.com/aksrustagi/coordinator/store/postgres"
	"github.com/aksrustagi/coordinator/workflow"
)

// setupStore connects to COORDINATOR_TEST_POSTGRES_DSN, migrates and
// truncates every table. Tests are skipped when the variable is unset.
func setupStore(t *testing.T) *pgstore.Store {
	t.Helper()
	dsn := os.Getenv("COORDINATOR_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("COORDINATOR_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	s, err := pgstore.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.Migrate(ctx))
	_, err = s.Pool().Exec(ctx, `TRUNCATE coordinator_runs, coordinator_checkpoints,
		coordinator_signals, coordinator_compensations, coordinator_locks`)
	require.NoError(t, err)
	return s
}

func newRun(name string, created time.Time) *workflow.Run {
	return &workflow.Run{
		ID:        id.NewRunID(),
		Name:      name,
		State:     workflow.RunStateRunning,
		Input:     []byte(`{"league_id":"lg_1"}`),
		StartedAt: created,
		CreatedAt: created,
		UpdatedAt: created,
	}
}

func TestStore_MigrateIdempotent(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	require.NoError(t, s.Migrate(ctx))
	require.NoError(t, s.Ping(ctx))
}

func TestStore_RunRoundTrip(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	run := newRun("waiver-batch", time.Now().UTC())
	require.NoError(t, s.CreateRun(ctx, run))
	assert.ErrorIs(t, s.CreateRun(ctx, run), coordinator.ErrRunAlreadyExists)

	got, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, run.ID.String(), got.ID.String())
	assert.Nil(t, got.CompletedAt)
	assert.Nil(t, got.Compensation)

	done := time.Now().UTC()
	got.State = workflow.RunStateFailed
	got.FailureReason = "settle_positions"
	got.CompletedAt = &done
	got.Compensation = &workflow.CompensationReport{
		Attempted:  2,
		Unresolved: []workflow.UnresolvedCompensation{{Step: "settle_position", Kind: compensation.KindRemediation}},
	}
	require.NoError(t, s.UpdateRun(ctx, got))

	again, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, workflow.RunStateFailed, again.State)
	assert.Equal(t, "settle_positions", again.FailureReason)
	require.NotNil(t, again.CompletedAt)
	require.NotNil(t, again.Compensation)
	assert.Equal(t, []string{"settle_position"}, again.Compensation.Steps())

	_, err = s.GetRun(ctx, id.NewRunID())
	assert.ErrorIs(t, err, coordinator.ErrRunNotFound)
	assert.ErrorIs(t, s.UpdateRun(ctx, newRun("x", time.Now())), coordinator.ErrRunNotFound)
}

func TestStore_ListRuns(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	base := time.Now().UTC()

	a := newRun("draft", base)
	b := newRun("resolution", base.Add(time.Second))
	c := newRun("draft", base.Add(2*time.Second))
	c.State = workflow.RunStateCompleted
	for _, r := range []*workflow.Run{c, a, b} {
		require.NoError(t, s.CreateRun(ctx, r))
	}

	all, err := s.ListRuns(ctx, workflow.ListOpts{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, a.ID.String(), all[0].ID.String())

	drafts, err := s.ListRuns(ctx, workflow.ListOpts{Name: "draft", State: workflow.RunStateRunning})
	require.NoError(t, err)
	require.Len(t, drafts, 1)
	assert.Equal(t, a.ID.String(), drafts[0].ID.String())

	page, err := s.ListRuns(ctx, workflow.ListOpts{Offset: 1, Limit: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, b.ID.String(), page[0].ID.String())
}

func TestStore_Checkpoints(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	runID := id.NewRunID()

	data, err := s.GetCheckpoint(ctx, runID, "collect_claims")
	require.NoError(t, err)
	assert.Nil(t, data)

	require.NoError(t, s.SaveCheckpoint(ctx, runID, "collect_claims", []byte(`1`)))
	require.NoError(t, s.SaveCheckpoint(ctx, runID, "collect_claims", []byte(`2`)))
	data, err = s.GetCheckpoint(ctx, runID, "collect_claims")
	require.NoError(t, err)
	assert.Equal(t, `2`, string(data))

	cps, err := s.ListCheckpoints(ctx, runID)
	require.NoError(t, err)
	assert.Len(t, cps, 1)

	require.NoError(t, s.DeleteCheckpoints(ctx, runID))
	cps, err = s.ListCheckpoints(ctx, runID)
	require.NoError(t, err)
	assert.Empty(t, cps)
}

func TestStore_SignalsInPublishOrder(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	runID := id.NewRunID()

	var first *signal.Signal
	for _, typ := range []string{"makePick", "skipTurn", "pauseDraft"} {
		sig := &signal.Signal{ID: id.NewSignalID(), RunID: runID, Type: typ, CreatedAt: time.Now().UTC()}
		require.NoError(t, s.PublishSignal(ctx, sig))
		if first == nil {
			first = sig
		}
	}

	require.NoError(t, s.AckSignal(ctx, first.ID))
	require.NoError(t, s.AckSignal(ctx, id.NewSignalID()))

	pending, err := s.PendingSignals(ctx, runID)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "skipTurn", pending[0].Type)
	assert.Equal(t, "pauseDraft", pending[1].Type)
}

func TestStore_Compensations(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	runID := id.NewRunID()

	e := &compensation.Entry{
		ID:        id.NewCompensationID(),
		RunID:     runID,
		Workflow:  "resolution",
		Step:      "settle_position",
		Kind:      compensation.KindRemediation,
		FailedAt:  time.Now().UTC(),
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, s.PushUnresolved(ctx, e))

	n, err := s.CountUnresolved(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	list, err := s.ListUnresolved(ctx, compensation.ListOpts{RunID: runID})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, compensation.KindRemediation, list[0].Kind)

	require.NoError(t, s.ResolveUnresolved(ctx, e.ID, "settled manually"))
	got, err := s.GetUnresolved(ctx, e.ID)
	require.NoError(t, err)
	assert.True(t, got.Resolved())

	open, err := s.ListUnresolved(ctx, compensation.ListOpts{})
	require.NoError(t, err)
	assert.Empty(t, open)

	_, err = s.GetUnresolved(ctx, id.NewCompensationID())
	assert.ErrorIs(t, err, coordinator.ErrUnresolvedNotFound)
}

func TestStore_AcquireLock(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	ok, err := s.AcquireLock(ctx, "cron:waiver:lg_1:1", "node-a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.AcquireLock(ctx, "cron:waiver:lg_1:1", "node-b", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.AcquireLock(ctx, "cron:waiver:lg_1:2", "node-b", -time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.AcquireLock(ctx, "cron:waiver:lg_1:2", "node-a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "expired lock is taken over")
}
