package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coordinator "github.com/aksrustagi/coordinator"
	"github.com/aksrustagi/coordinator/compensation"
	"github.com/aksrustagi/coordinator/id"
	"github.com/aksrustagi/coordinator/signal"
	redisstore "github.com/aksrustagi/coordinator/store/redis"
	"github.com/aksrustagi/coordinator/workflow"
)

func setupStore(t *testing.T) (*redisstore.Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	s := redisstore.New(client)
	t.Cleanup(func() { _ = s.Close() })
	return s, mr
}

func newRun(name string, created time.Time) *workflow.Run {
	return &workflow.Run{
		ID:        id.NewRunID(),
		Name:      name,
		State:     workflow.RunStateRunning,
		Input:     []byte(`{"listing_id":"lst_1"}`),
		StartedAt: created,
		CreatedAt: created,
		UpdatedAt: created,
	}
}

func TestStore_Lifecycle(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()
	require.NoError(t, s.Migrate(ctx))
	require.NoError(t, s.Ping(ctx))
}

func TestStore_RunRoundTrip(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()

	run := newRun("purchase-saga", time.Now().UTC())
	require.NoError(t, s.CreateRun(ctx, run))
	assert.ErrorIs(t, s.CreateRun(ctx, run), coordinator.ErrRunAlreadyExists)

	got, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, run.ID.String(), got.ID.String())
	assert.Equal(t, "purchase-saga", got.Name)
	assert.JSONEq(t, `{"listing_id":"lst_1"}`, string(got.Input))

	got.State = workflow.RunStateCompleted
	got.Phase = "completed"
	got.Compensation = &workflow.CompensationReport{Attempted: 1}
	require.NoError(t, s.UpdateRun(ctx, got))

	again, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, workflow.RunStateCompleted, again.State)
	require.NotNil(t, again.Compensation)
	assert.Equal(t, 1, again.Compensation.Attempted)

	_, err = s.GetRun(ctx, id.NewRunID())
	assert.ErrorIs(t, err, coordinator.ErrRunNotFound)
	assert.ErrorIs(t, s.UpdateRun(ctx, newRun("x", time.Now())), coordinator.ErrRunNotFound)
}

func TestStore_ListRunsOrderedAndFiltered(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()
	base := time.Now().UTC()

	a := newRun("draft", base)
	b := newRun("waiver", base.Add(time.Second))
	c := newRun("draft", base.Add(2*time.Second))
	c.State = workflow.RunStateCompleted
	for _, r := range []*workflow.Run{c, a, b} {
		require.NoError(t, s.CreateRun(ctx, r))
	}

	all, err := s.ListRuns(ctx, workflow.ListOpts{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, a.ID.String(), all[0].ID.String())
	assert.Equal(t, c.ID.String(), all[2].ID.String())

	drafts, err := s.ListRuns(ctx, workflow.ListOpts{Name: "draft"})
	require.NoError(t, err)
	assert.Len(t, drafts, 2)

	done, err := s.ListRuns(ctx, workflow.ListOpts{State: workflow.RunStateCompleted})
	require.NoError(t, err)
	require.Len(t, done, 1)
	assert.Equal(t, c.ID.String(), done[0].ID.String())

	page, err := s.ListRuns(ctx, workflow.ListOpts{Offset: 1, Limit: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, b.ID.String(), page[0].ID.String())
}

func TestStore_ListRunsByStateIndex(t *testing.T) {
	s, mr := setupStore(t)
	ctx := context.Background()
	base := time.Now().UTC()

	a := newRun("draft", base)
	b := newRun("purchase-saga", base.Add(time.Second))
	require.NoError(t, s.CreateRun(ctx, a))
	require.NoError(t, s.CreateRun(ctx, b))

	a.State = workflow.RunStateSuspended
	require.NoError(t, s.UpdateRun(ctx, a))
	b.State = workflow.RunStateCompleted
	require.NoError(t, s.UpdateRun(ctx, b))

	running, err := mr.ZMembers("coordinator:runs:state:running")
	require.NoError(t, err)
	assert.Empty(t, running)
	suspended, err := mr.ZMembers("coordinator:runs:state:suspended")
	require.NoError(t, err)
	assert.Equal(t, []string{a.ID.String()}, suspended)

	got, err := s.ListRuns(ctx, workflow.ListOpts{State: workflow.RunStateSuspended})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, a.ID.String(), got[0].ID.String())

	got, err = s.ListRuns(ctx, workflow.ListOpts{State: workflow.RunStateRunning})
	require.NoError(t, err)
	assert.Empty(t, got)

	// A terminal run is not read when listing non-terminal states.
	mr.Del("coordinator:run:" + b.ID.String())
	got, err = s.ListRuns(ctx, workflow.ListOpts{State: workflow.RunStateSuspended})
	require.NoError(t, err)
	assert.Len(t, got, 1)

	done, err := s.ListRuns(ctx, workflow.ListOpts{State: workflow.RunStateCompleted})
	require.NoError(t, err)
	assert.Empty(t, done)
}

func TestStore_Checkpoints(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()
	runID := id.NewRunID()

	data, err := s.GetCheckpoint(ctx, runID, "validate")
	require.NoError(t, err)
	assert.Nil(t, data)

	require.NoError(t, s.SaveCheckpoint(ctx, runID, "validate", []byte(`1`)))
	require.NoError(t, s.SaveCheckpoint(ctx, runID, "reserve_shares", []byte(`2`)))
	first, err := s.ListCheckpoints(ctx, runID)
	require.NoError(t, err)
	require.Len(t, first, 2)

	require.NoError(t, s.SaveCheckpoint(ctx, runID, "validate", []byte(`3`)))
	data, err = s.GetCheckpoint(ctx, runID, "validate")
	require.NoError(t, err)
	assert.Equal(t, `3`, string(data))

	replaced, err := s.ListCheckpoints(ctx, runID)
	require.NoError(t, err)
	for _, cp := range replaced {
		if cp.StepName == "validate" {
			for _, orig := range first {
				if orig.StepName == "validate" {
					assert.Equal(t, orig.ID.String(), cp.ID.String(), "replacing keeps the checkpoint id")
				}
			}
		}
	}

	require.NoError(t, s.DeleteCheckpoints(ctx, runID))
	left, err := s.ListCheckpoints(ctx, runID)
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestStore_SignalsInPublishOrder(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()
	runID := id.NewRunID()
	other := id.NewRunID()

	var sigs []*signal.Signal
	for _, typ := range []string{"makePick", "pauseDraft", "resumeDraft"} {
		sig := &signal.Signal{ID: id.NewSignalID(), RunID: runID, Type: typ, CreatedAt: time.Now().UTC()}
		require.NoError(t, s.PublishSignal(ctx, sig))
		sigs = append(sigs, sig)
	}
	require.NoError(t, s.PublishSignal(ctx, &signal.Signal{ID: id.NewSignalID(), RunID: other, Type: "cancel"}))

	pending, err := s.PendingSignals(ctx, runID)
	require.NoError(t, err)
	require.Len(t, pending, 3)
	assert.Equal(t, "makePick", pending[0].Type)
	assert.Equal(t, "resumeDraft", pending[2].Type)

	require.NoError(t, s.AckSignal(ctx, sigs[0].ID))
	require.NoError(t, s.AckSignal(ctx, sigs[0].ID))
	require.NoError(t, s.AckSignal(ctx, id.NewSignalID()))

	pending, err = s.PendingSignals(ctx, runID)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "pauseDraft", pending[0].Type)
}

func TestStore_Compensations(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()
	runID := id.NewRunID()
	now := time.Now().UTC()

	first := &compensation.Entry{ID: id.NewCompensationID(), RunID: runID, Step: "release_reservation", FailedAt: now}
	second := &compensation.Entry{ID: id.NewCompensationID(), RunID: id.NewRunID(), Step: "release_funds", FailedAt: now.Add(time.Second)}
	require.NoError(t, s.PushUnresolved(ctx, second))
	require.NoError(t, s.PushUnresolved(ctx, first))

	n, err := s.CountUnresolved(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	open, err := s.ListUnresolved(ctx, compensation.ListOpts{})
	require.NoError(t, err)
	require.Len(t, open, 2)
	assert.Equal(t, "release_reservation", open[0].Step)

	byRun, err := s.ListUnresolved(ctx, compensation.ListOpts{RunID: runID})
	require.NoError(t, err)
	require.Len(t, byRun, 1)

	require.NoError(t, s.ResolveUnresolved(ctx, first.ID, "released by hand"))
	got, err := s.GetUnresolved(ctx, first.ID)
	require.NoError(t, err)
	assert.True(t, got.Resolved())
	assert.Equal(t, "released by hand", got.Note)

	n, err = s.CountUnresolved(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	withResolved, err := s.ListUnresolved(ctx, compensation.ListOpts{IncludeResolved: true})
	require.NoError(t, err)
	assert.Len(t, withResolved, 2)

	assert.ErrorIs(t, s.ResolveUnresolved(ctx, id.NewCompensationID(), ""), coordinator.ErrUnresolvedNotFound)
}

func TestStore_AcquireLock(t *testing.T) {
	s, mr := setupStore(t)
	ctx := context.Background()

	ok, err := s.AcquireLock(ctx, "cron:waiver:lg_1:100", "node-a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.AcquireLock(ctx, "cron:waiver:lg_1:100", "node-b", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	mr.FastForward(2 * time.Minute)
	ok, err = s.AcquireLock(ctx, "cron:waiver:lg_1:100", "node-b", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestStore_Prefix(t *testing.T) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	s := redisstore.New(client, redisstore.WithPrefix("tenant-a:"))
	defer func() { _ = s.Close() }()

	run := newRun("listing-saga", time.Now().UTC())
	require.NoError(t, s.CreateRun(context.Background(), run))
	assert.True(t, mr.Exists("tenant-a:run:"+run.ID.String()))
}
