// Package draft runs a turn-based player draft. Teams pick in snake or
// linear order against a per-turn clock; a team that misses its turn, or
// is skipped by an administrator, gets an automatic pick. Long drafts
// continue as new every few picks to keep their history bounded.
package draft

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/qmuntal/stateless"

	"github.com/aksrustagi/coordinator/collab"
	"github.com/aksrustagi/coordinator/turn"
	"github.com/aksrustagi/coordinator/workflow"
)

const (
	// WorkflowName is the registered name of the draft.
	WorkflowName = "draft"
	// QueryState returns the draft View.
	QueryState = "getDraftState"
)

// DefaultCheckpointEvery is the number of picks between continuations.
const DefaultCheckpointEvery = 50

// Status is the draft's lifecycle state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusPaused     Status = "paused"
	StatusCompleted  Status = "completed"
)

const (
	triggerStart    = "start"
	triggerPause    = "pause"
	triggerResume   = "resume"
	triggerComplete = "complete"
)

// Config describes a draft.
type Config struct {
	DraftID        string     `json:"draft_id"`
	TeamIDs        []string   `json:"team_ids"`
	Rounds         int        `json:"rounds"`
	SecondsPerPick int        `json:"seconds_per_pick"`
	Order          turn.Order `json:"order,omitempty"`
}

// State is the draft's input. A new draft starts from a zero State with
// its Config; continuations carry the state forward.
type State struct {
	Config

	Status          Status        `json:"status,omitempty"`
	CompletedPicks  int           `json:"completed_picks"`
	Picks           []collab.Pick `json:"picks,omitempty"`
	TimerGeneration int           `json:"timer_generation"`
}

// View is the getDraftState snapshot. Its shape is the same before and
// after a continuation.
type View struct {
	DraftID         string        `json:"draft_id"`
	Status          Status        `json:"status"`
	Order           turn.Order    `json:"order"`
	TeamIDs         []string      `json:"team_ids"`
	Rounds          int           `json:"rounds"`
	TotalPicks      int           `json:"total_picks"`
	CompletedPicks  int           `json:"completed_picks"`
	CurrentRound    int           `json:"current_round"`
	CurrentPick     int           `json:"current_pick"`
	OnTheClock      string        `json:"on_the_clock,omitempty"`
	TurnDeadline    *time.Time    `json:"turn_deadline,omitempty"`
	TimerGeneration int           `json:"timer_generation"`
	Picks           []collab.Pick `json:"picks"`
}

type options struct {
	turnUnit        time.Duration
	checkpointEvery int
}

// Option configures the draft.
type Option func(*options)

// WithTurnUnit sets the duration of one unit of SecondsPerPick. It
// defaults to one second.
func WithTurnUnit(d time.Duration) Option {
	return func(o *options) { o.turnUnit = d }
}

// WithCheckpointEvery sets how many picks a run makes before it continues
// as new.
func WithCheckpointEvery(n int) Option {
	return func(o *options) { o.checkpointEvery = n }
}

// New returns the draft's workflow definition.
func New(board collab.DraftBoard, opts ...Option) *workflow.Definition[State] {
	o := options{turnUnit: time.Second, checkpointEvery: DefaultCheckpointEvery}
	for _, opt := range opts {
		opt(&o)
	}
	return workflow.NewWorkflow(WorkflowName, func(wf *workflow.Workflow, st State) error {
		if err := validate(st.Config); err != nil {
			return workflow.Reject(err.Error())
		}
		st = withDefaults(st)
		d := &draft{wf: wf, board: board, opts: o, state: st, start: st.CompletedPicks}
		d.configure()
		wf.OnSignal(TypeMakePick, d.handle(TypeMakePick))
		wf.OnSignal(TypePauseDraft, d.handle(TypePauseDraft))
		wf.OnSignal(TypeResumeDraft, d.handle(TypeResumeDraft))
		wf.OnSignal(TypeSkipPick, d.handle(TypeSkipPick))
		return d.run()
	}).WithQueries(QueryState).WithInitialSnapshot(func(st State) any {
		d := &draft{state: withDefaults(st)}
		return d.view()
	})
}

func withDefaults(st State) State {
	if st.Order == "" {
		st.Order = turn.OrderSnake
	}
	if st.Status == "" {
		st.Status = StatusPending
	}
	return st
}

func validate(c Config) error {
	if c.DraftID == "" {
		return errors.New("draft id is required")
	}
	if len(c.TeamIDs) == 0 {
		return errors.New("draft needs at least one team")
	}
	if c.Rounds <= 0 {
		return errors.New("rounds must be positive")
	}
	seen := make(map[string]struct{}, len(c.TeamIDs))
	for _, t := range c.TeamIDs {
		if _, dup := seen[t]; dup {
			return fmt.Errorf("team %s listed twice", t)
		}
		seen[t] = struct{}{}
	}
	if _, err := turn.ParseOrder(string(c.Order)); err != nil {
		return err
	}
	return nil
}

type draft struct {
	wf    *workflow.Workflow
	board collab.DraftBoard
	opts  options
	fsm   *stateless.StateMachine
	state State
	start int

	onClock  string
	deadline *time.Time
	chosen   string
	skipped  bool
}

func (d *draft) configure() {
	d.fsm = stateless.NewStateMachineWithExternalStorage(
		func(context.Context) (stateless.State, error) { return d.state.Status, nil },
		func(_ context.Context, s stateless.State) error {
			d.state.Status = s.(Status)
			return nil
		},
		stateless.FiringImmediate,
	)
	d.fsm.Configure(StatusPending).
		Permit(triggerStart, StatusInProgress)
	d.fsm.Configure(StatusInProgress).
		Permit(triggerPause, StatusPaused).
		Permit(triggerComplete, StatusCompleted)
	d.fsm.Configure(StatusPaused).
		Permit(triggerResume, StatusInProgress)
}

func (d *draft) fire(trigger string) bool {
	return d.fsm.Fire(trigger) == nil
}

// handle applies a signal. Signals that do not apply to the current turn
// or status are ignored.
func (d *draft) handle(signalType string) workflow.SignalHandler {
	return func(payload []byte) bool {
		sig, err := Decode(signalType, payload)
		if err != nil {
			d.wf.Logger().Warn("ignoring malformed draft signal",
				slog.String("type", signalType),
				slog.String("error", err.Error()),
			)
			return false
		}
		switch s := sig.(type) {
		case PauseDraft:
			return d.fire(triggerPause)
		case ResumeDraft:
			return d.fire(triggerResume)
		case MakePick:
			if !d.open() || s.TeamID != d.onClock || d.drafted(s.PlayerID) {
				return false
			}
			d.chosen = s.PlayerID
			return true
		case SkipPick:
			if !d.open() || s.TeamID != d.onClock {
				return false
			}
			d.skipped = true
			return true
		default:
			return false
		}
	}
}

// open reports whether the team on the clock may still act.
func (d *draft) open() bool {
	return d.state.Status == StatusInProgress && d.onClock != "" && d.chosen == "" && !d.skipped
}

func (d *draft) drafted(playerID string) bool {
	for _, p := range d.state.Picks {
		if p.PlayerID == playerID {
			return true
		}
	}
	return false
}

func (d *draft) total() int { return turn.Total(len(d.state.TeamIDs), d.state.Rounds) }

func (d *draft) run() error {
	if d.state.Status == StatusPending {
		d.fire(triggerStart)
	}
	for d.state.CompletedPicks < d.total() {
		if d.state.CompletedPicks-d.start >= d.opts.checkpointEvery {
			d.wf.Logger().Info("draft continuing as new",
				slog.String("draft_id", d.state.DraftID),
				slog.Int("completed_picks", d.state.CompletedPicks),
			)
			return d.wf.ContinueAsNew(d.state)
		}
		if err := d.turn(); err != nil {
			return err
		}
	}

	if err := d.wf.Step("finalize", func(ctx context.Context, key string) error {
		return d.board.Finalize(ctx, key, d.state.DraftID)
	}); err != nil {
		return err
	}
	d.fire(triggerComplete)
	d.onClock, d.deadline = "", nil
	return d.publish()
}

// turn runs one slot: it waits for the team on the clock, a skip, a pause
// or the turn timer, then records the pick.
func (d *draft) turn() error {
	slot := turn.SlotFor(d.state.Order, d.state.CompletedPicks, len(d.state.TeamIDs))
	team := d.state.TeamIDs[slot.TeamIndex]

	if d.state.Status == StatusPaused {
		d.onClock, d.deadline = team, nil
		if err := d.publish(); err != nil {
			return err
		}
		if _, err := d.wf.Await(fmt.Sprintf("paused:%d", d.state.TimerGeneration), 0, func() bool {
			return d.state.Status != StatusPaused
		}); err != nil {
			return err
		}
		d.state.TimerGeneration++
		return nil
	}

	d.onClock, d.chosen, d.skipped = team, "", false
	timeout := time.Duration(d.state.SecondsPerPick) * d.opts.turnUnit
	if timeout > 0 {
		deadline := d.wf.Now().Add(timeout)
		d.deadline = &deadline
	} else {
		d.deadline = nil
	}
	if err := d.publish(); err != nil {
		return err
	}

	name := fmt.Sprintf("pick:%d:%d", slot.Overall, d.state.TimerGeneration)
	timedOut, err := d.wf.Await(name, timeout, func() bool {
		return d.chosen != "" || d.skipped || d.state.Status != StatusInProgress
	})
	if err != nil {
		return err
	}
	if d.state.Status == StatusPaused && d.chosen == "" && !d.skipped {
		return d.publish()
	}

	// The deadline wins over a pick that arrived with it.
	player := d.chosen
	auto := timedOut || d.skipped || player == ""
	if auto {
		player, err = workflow.Activity(d.wf, fmt.Sprintf("auto_select:%d", slot.Overall), func(ctx context.Context, _ string) (string, error) {
			return d.board.AutoSelect(ctx, d.state.DraftID, team, d.draftedPlayers())
		})
		if err != nil {
			return err
		}
	}

	pick, err := workflow.Activity(d.wf, fmt.Sprintf("record_pick:%d", slot.Overall), func(ctx context.Context, key string) (collab.Pick, error) {
		p := collab.Pick{
			DraftID:    d.state.DraftID,
			Overall:    slot.Overall,
			Round:      slot.Round + 1,
			TeamID:     team,
			PlayerID:   player,
			IsAutoPick: auto,
			PickedAt:   d.wf.Now(),
		}
		return p, d.board.RecordPick(ctx, key, p)
	})
	if err != nil {
		return err
	}
	d.state.Picks = append(d.state.Picks, pick)
	d.state.CompletedPicks++
	d.onClock, d.chosen, d.skipped, d.deadline = "", "", false, nil
	return nil
}

func (d *draft) draftedPlayers() []string {
	out := make([]string, len(d.state.Picks))
	for i, p := range d.state.Picks {
		out[i] = p.PlayerID
	}
	return out
}

func (d *draft) view() View {
	v := View{
		DraftID:         d.state.DraftID,
		Status:          d.state.Status,
		Order:           d.state.Order,
		TeamIDs:         d.state.TeamIDs,
		Rounds:          d.state.Rounds,
		TotalPicks:      d.total(),
		CompletedPicks:  d.state.CompletedPicks,
		OnTheClock:      d.onClock,
		TurnDeadline:    d.deadline,
		TimerGeneration: d.state.TimerGeneration,
		Picks:           append([]collab.Pick{}, d.state.Picks...),
	}
	if d.state.CompletedPicks < v.TotalPicks {
		slot := turn.SlotFor(d.state.Order, d.state.CompletedPicks, len(d.state.TeamIDs))
		v.CurrentRound = slot.Round + 1
		v.CurrentPick = slot.Overall
	}
	return v
}

func (d *draft) publish() error { return d.wf.Publish(d.view()) }
