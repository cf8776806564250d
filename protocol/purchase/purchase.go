// Package purchase implements the purchase saga: a buyer takes shares of
// an active listing. Funds and shares are reserved first and released on
// failure; once the buyer's funds are captured the saga only moves
// forward.
package purchase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aksrustagi/coordinator/activity"
	"github.com/aksrustagi/coordinator/collab"
	"github.com/aksrustagi/coordinator/id"
	"github.com/aksrustagi/coordinator/saga"
	"github.com/aksrustagi/coordinator/workflow"
)

const (
	// WorkflowName is the registered name of the purchase saga.
	WorkflowName = "purchase-saga"
	// QueryStatus returns the purchase Status.
	QueryStatus = "getPurchaseStatus"
)

// Phases of the purchase saga.
const (
	PhaseValidating            = "validating"
	PhaseVerifyingEligibility  = "verifying_eligibility"
	PhaseReservingResource     = "reserving_resource"
	PhaseHoldingFunds          = "holding_funds"
	PhaseExecuting             = "executing"
	PhaseTransferringOwnership = "transferring_ownership"
	PhaseFinalizing            = "finalizing"
	PhaseCompleted             = "completed"
)

// Definition is the purchase saga's phase graph.
var Definition = saga.Definition{
	Name: WorkflowName,
	Phases: []string{
		PhaseValidating,
		PhaseVerifyingEligibility,
		PhaseReservingResource,
		PhaseHoldingFunds,
		PhaseExecuting,
		PhaseTransferringOwnership,
		PhaseFinalizing,
		PhaseCompleted,
	},
	Compensable:     PhaseReservingResource,
	PointOfNoReturn: PhaseExecuting,
	Terminal:        []string{PhaseCompleted},
}

// Compensation and remediation step names.
const (
	stepReleaseReservation = "release_reservation"
	stepReleaseFunds       = "release_funds"
	stepSettleExecution    = "settle_execution"
)

// Input starts a purchase.
type Input struct {
	ListingID string     `json:"listing_id"`
	BuyerID   string     `json:"buyer_id"`
	Shares    int64      `json:"shares"`
	Deadline  *time.Time `json:"deadline,omitempty"`
}

// Status is the getPurchaseStatus snapshot.
type Status struct {
	saga.Status

	ListingID     string `json:"listing_id"`
	BuyerID       string `json:"buyer_id"`
	SellerID      string `json:"seller_id,omitempty"`
	AssetID       string `json:"asset_id,omitempty"`
	Shares        int64  `json:"shares"`
	PricePerShare int64  `json:"price_per_share,omitempty"`
	Total         int64  `json:"total,omitempty"`
	FundsHeld     int64  `json:"funds_held"`
	ReservationID string `json:"reservation_id,omitempty"`
	HoldID        string `json:"hold_id,omitempty"`
	TradeID       string `json:"trade_id,omitempty"`
}

// Deps are the collaborators of the purchase saga.
type Deps struct {
	Listings  collab.Listings
	Inventory collab.Inventory
	Balances  collab.Balances
	Ownership collab.Ownership
	KYC       collab.KYC
	Trades    collab.Trades
	Notifier  collab.Notifier
	Audit     collab.Audit
}

// New returns the purchase saga's workflow definition.
func New(deps Deps) *workflow.Definition[Input] {
	return workflow.NewWorkflow(WorkflowName, func(wf *workflow.Workflow, in Input) error {
		p := &purchase{deps: deps, in: in, status: initialStatus(in)}
		s, err := saga.New(wf, Definition, p.view)
		if err != nil {
			return err
		}
		p.saga = s
		return s.Finish(p.run())
	}).WithQueries(QueryStatus).WithInitialSnapshot(func(in Input) any {
		return initialStatus(in)
	})
}

func initialStatus(in Input) Status {
	return Status{
		Status:    Definition.Initial(),
		ListingID: in.ListingID,
		BuyerID:   in.BuyerID,
		Shares:    in.Shares,
	}
}

type purchase struct {
	deps    Deps
	in      Input
	saga    *saga.Saga
	status  Status
	holding bool
}

func (p *purchase) view(st saga.Status) any {
	out := p.status
	out.Status = st
	if p.holding && !p.fundsSettled(st) {
		out.FundsHeld = p.status.Total
	}
	return out
}

// fundsSettled reports whether a concluded saga no longer holds the
// buyer's funds: they were captured, released or settled.
func (p *purchase) fundsSettled(st saga.Status) bool {
	if st.Outcome == saga.OutcomeRunning {
		return false
	}
	for _, name := range st.UnresolvedCompensations {
		if name == stepReleaseFunds || name == stepSettleExecution {
			return false
		}
	}
	return true
}

func (p *purchase) run() error {
	s := p.saga
	rt := s.Runtime()

	if err := s.Enter(PhaseValidating); err != nil {
		return err
	}
	listing, err := saga.Activity(s, "validate", func(ctx context.Context, _ string) (collab.Listing, error) {
		return p.validate(ctx, rt.Now())
	})
	if err != nil {
		return err
	}
	p.status.SellerID = listing.SellerID
	p.status.AssetID = listing.AssetID
	p.status.PricePerShare = listing.PricePerShare
	p.status.Total = listing.PricePerShare * p.in.Shares
	if err := s.Publish(); err != nil {
		return err
	}

	if err := s.Step(PhaseVerifyingEligibility, func(ctx context.Context, _ string) error {
		return p.verifyEligibility(ctx)
	}); err != nil {
		return err
	}

	if err := s.Enter(PhaseReservingResource); err != nil {
		return err
	}
	res, err := saga.Activity(s, "reserve_shares", func(ctx context.Context, key string) (collab.Reservation, error) {
		return p.deps.Inventory.Reserve(ctx, key, p.in.ListingID, p.in.BuyerID, p.in.Shares)
	})
	if err != nil {
		return err
	}
	p.status.ReservationID = res.ID
	s.Compensate(stepReleaseReservation, func(ctx context.Context, key string) error {
		return p.deps.Inventory.Release(ctx, key, res.ID)
	})
	if res.Shares != p.in.Shares {
		return fmt.Errorf("reserved %d shares, requested %d", res.Shares, p.in.Shares)
	}

	if err := s.Enter(PhaseHoldingFunds); err != nil {
		return err
	}
	hold, err := saga.Activity(s, "hold_funds", func(ctx context.Context, key string) (collab.Hold, error) {
		return p.deps.Balances.Hold(ctx, key, p.in.BuyerID, p.status.Total)
	})
	if err != nil {
		return err
	}
	p.status.HoldID = hold.ID
	p.holding = true
	s.Compensate(stepReleaseFunds, func(ctx context.Context, key string) error {
		return p.deps.Balances.Release(ctx, key, hold.ID)
	})
	if hold.Amount != p.status.Total {
		return fmt.Errorf("held %d, expected %d", hold.Amount, p.status.Total)
	}

	// Entering executing seals the rollbacks above. From here a failure
	// settles the trade forward instead.
	if err := s.Enter(PhaseExecuting); err != nil {
		return err
	}
	s.Remediate(stepSettleExecution, p.settle(rt.RunID(), res.ID, hold.ID))
	if err := rt.Step("capture_funds", func(ctx context.Context, key string) error {
		return p.deps.Balances.Capture(ctx, key, hold.ID, p.status.SellerID)
	}); err != nil {
		return err
	}

	if err := s.Enter(PhaseTransferringOwnership); err != nil {
		return err
	}
	if err := rt.Step("commit_inventory", func(ctx context.Context, key string) error {
		return p.deps.Inventory.Commit(ctx, key, res.ID)
	}); err != nil {
		return err
	}
	if err := rt.Step("transfer_ownership", p.transfer()); err != nil {
		return err
	}

	if err := s.Enter(PhaseFinalizing); err != nil {
		return err
	}
	trade, err := saga.Activity(s, "record_trade", func(ctx context.Context, key string) (collab.Trade, error) {
		return p.deps.Trades.Record(ctx, key, collab.Trade{
			ListingID:     p.in.ListingID,
			BuyerID:       p.in.BuyerID,
			SellerID:      p.status.SellerID,
			Shares:        p.in.Shares,
			PricePerShare: p.status.PricePerShare,
			ExecutedAt:    rt.Now(),
		})
	})
	if err != nil {
		return err
	}
	p.status.TradeID = trade.ID
	p.notify(trade)

	return s.Enter(PhaseCompleted)
}

// validate runs inside an activity so the deadline check is recorded.
func (p *purchase) validate(ctx context.Context, now time.Time) (collab.Listing, error) {
	if p.in.Shares <= 0 {
		return collab.Listing{}, saga.Reject("shares must be positive")
	}
	if p.in.Deadline != nil && now.After(*p.in.Deadline) {
		return collab.Listing{}, saga.Reject("deadline passed")
	}
	listing, err := p.deps.Listings.Get(ctx, p.in.ListingID)
	if errors.Is(err, collab.ErrNotFound) {
		return collab.Listing{}, saga.Rejectf("listing %s not found", p.in.ListingID)
	}
	if err != nil {
		return collab.Listing{}, err
	}
	if listing.Status != collab.ListingActive {
		return collab.Listing{}, saga.Rejectf("listing %s is %s", listing.ID, listing.Status)
	}
	if listing.ExpiresAt != nil && now.After(*listing.ExpiresAt) {
		return collab.Listing{}, saga.Rejectf("listing %s expired", listing.ID)
	}
	if listing.SellerID == p.in.BuyerID {
		return collab.Listing{}, saga.Reject("duplicate self-trade")
	}
	return listing, nil
}

func (p *purchase) verifyEligibility(ctx context.Context) error {
	el, err := p.deps.KYC.Check(ctx, p.in.BuyerID)
	if err != nil {
		return err
	}
	if !el.Eligible {
		return saga.Rejectf("not eligible: %s", el.Reason)
	}
	available, err := p.deps.Inventory.Available(ctx, p.in.ListingID)
	if err != nil {
		return err
	}
	if available < p.in.Shares {
		return saga.Reject("insufficient inventory")
	}
	balance, err := p.deps.Balances.Available(ctx, p.in.BuyerID)
	if err != nil {
		return err
	}
	if balance < p.status.Total {
		return saga.Reject("insufficient buying power")
	}
	return nil
}

func (p *purchase) transfer() func(ctx context.Context, key string) error {
	return func(ctx context.Context, key string) error {
		return p.deps.Ownership.Transfer(ctx, key, p.status.AssetID, p.status.SellerID, p.in.BuyerID, p.in.Shares)
	}
}

// settle resolves a trade interrupted past the point of no return. If the
// capture went through, the shares are delivered under the same keys the
// forward steps use; otherwise the reservation is returned and the hold is
// released by Settle. Each collaborator call gets its own key.
func (p *purchase) settle(runID id.RunID, reservationID, holdID string) func(ctx context.Context, key string) error {
	return func(ctx context.Context, _ string) error {
		captured, err := p.deps.Balances.Settle(ctx, activity.Key(runID, stepSettleExecution, "settle"), holdID)
		if err != nil {
			return err
		}
		if !captured {
			return p.deps.Inventory.Release(ctx, activity.Key(runID, stepSettleExecution, "release"), reservationID)
		}
		if err := p.deps.Inventory.Commit(ctx, activity.Key(runID, "commit_inventory"), reservationID); err != nil {
			return err
		}
		return p.transfer()(ctx, activity.Key(runID, "transfer_ownership"))
	}
}

func (p *purchase) notify(trade collab.Trade) {
	s := p.saga
	data := map[string]any{
		"trade_id": trade.ID,
		"shares":   trade.Shares,
		"total":    p.status.Total,
	}
	s.SideEffect("notify_buyer", func(ctx context.Context, key string) error {
		return p.deps.Notifier.Notify(ctx, key, collab.Notification{Recipient: p.in.BuyerID, Template: "purchase_completed", Data: data})
	})
	s.SideEffect("notify_seller", func(ctx context.Context, key string) error {
		return p.deps.Notifier.Notify(ctx, key, collab.Notification{Recipient: p.status.SellerID, Template: "shares_sold", Data: data})
	})
	s.SideEffect("audit_trade", func(ctx context.Context, key string) error {
		return p.deps.Audit.Append(ctx, key, collab.AuditEntry{
			Actor:  p.in.BuyerID,
			Action: "trade.executed",
			Target: trade.ID,
			Data:   data,
		})
	})
}
