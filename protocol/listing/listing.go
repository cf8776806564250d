// Package listing implements the listing saga: a seller offers shares of a
// certified asset at a price close to its reference price. Once created,
// a listing with a time to live stays active until it is cancelled or
// expires.
package listing

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/aksrustagi/coordinator/collab"
	"github.com/aksrustagi/coordinator/saga"
	"github.com/aksrustagi/coordinator/signal"
	"github.com/aksrustagi/coordinator/workflow"
)

const (
	// WorkflowName is the registered name of the listing saga.
	WorkflowName = "listing-saga"
	// QueryStatus returns the listing Status.
	QueryStatus = "getListingStatus"
)

// Phases of the listing saga.
const (
	PhaseValidating             = "validating"
	PhaseVerifyingOwnership     = "verifying_ownership"
	PhaseVerifyingCertification = "verifying_certification"
	PhasePricing                = "pricing"
	PhaseCreatingListing        = "creating_listing"
	PhaseNotifying              = "notifying_interested_parties"
	PhaseActive                 = "active"
	PhaseWithdrawn              = "withdrawn"
	PhaseExpired                = "expired"
)

// Definition is the listing saga's phase graph. Creating the listing is
// both the first failure that is not a rejection and the last point a
// cancel is honored outright.
var Definition = saga.Definition{
	Name: WorkflowName,
	Phases: []string{
		PhaseValidating,
		PhaseVerifyingOwnership,
		PhaseVerifyingCertification,
		PhasePricing,
		PhaseCreatingListing,
		PhaseNotifying,
		PhaseActive,
	},
	Compensable:     PhaseCreatingListing,
	PointOfNoReturn: PhaseCreatingListing,
	Terminal:        []string{PhaseWithdrawn, PhaseExpired},
	Extra: []saga.Edge{
		{From: PhaseActive, To: PhaseWithdrawn},
		{From: PhaseActive, To: PhaseExpired},
	},
}

// DefaultPriceBand is the allowed relative deviation from the asset's
// reference price.
const DefaultPriceBand = 0.5

// Input starts a listing.
type Input struct {
	AssetID       string        `json:"asset_id"`
	SellerID      string        `json:"seller_id"`
	Shares        int64         `json:"shares"`
	PricePerShare int64         `json:"price_per_share"`
	TTL           time.Duration `json:"ttl,omitempty"`
}

// Status is the getListingStatus snapshot.
type Status struct {
	saga.Status

	ListingID      string     `json:"listing_id,omitempty"`
	AssetID        string     `json:"asset_id"`
	SellerID       string     `json:"seller_id"`
	Shares         int64      `json:"shares"`
	PricePerShare  int64      `json:"price_per_share"`
	ReferencePrice int64      `json:"reference_price,omitempty"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	WithdrawReason string     `json:"withdraw_reason,omitempty"`
}

// Deps are the collaborators of the listing saga.
type Deps struct {
	Ownership collab.Ownership
	Assets    collab.Assets
	Listings  collab.Listings
	Notifier  collab.Notifier
	Audit     collab.Audit
}

type config struct {
	priceBand float64
}

// Option configures the listing saga.
type Option func(*config)

// WithPriceBand sets the allowed relative deviation from the reference
// price, e.g. 0.2 for ±20%.
func WithPriceBand(band float64) Option {
	return func(c *config) { c.priceBand = band }
}

// New returns the listing saga's workflow definition.
func New(deps Deps, opts ...Option) *workflow.Definition[Input] {
	cfg := config{priceBand: DefaultPriceBand}
	for _, o := range opts {
		o(&cfg)
	}
	return workflow.NewWorkflow(WorkflowName, func(wf *workflow.Workflow, in Input) error {
		l := &listing{deps: deps, cfg: cfg, in: in, status: initialStatus(in)}
		s, err := saga.New(wf, Definition, l.view)
		if err != nil {
			return err
		}
		l.saga = s
		wf.OnSignal(TypeCancelListing, l.onSignal(TypeCancelListing))
		wf.OnSignal(signal.TypeCancel, l.onSignal(signal.TypeCancel))
		return s.Finish(l.run())
	}).WithQueries(QueryStatus).WithInitialSnapshot(func(in Input) any {
		return initialStatus(in)
	})
}

func initialStatus(in Input) Status {
	return Status{
		Status:        Definition.Initial(),
		AssetID:       in.AssetID,
		SellerID:      in.SellerID,
		Shares:        in.Shares,
		PricePerShare: in.PricePerShare,
	}
}

type listing struct {
	deps   Deps
	cfg    config
	in     Input
	saga   *saga.Saga
	status Status

	withdrawRequested bool
}

func (l *listing) view(st saga.Status) any {
	out := l.status
	out.Status = st
	return out
}

// onSignal routes a cancel to the saga while the listing does not exist
// yet and to a withdrawal once it is active.
func (l *listing) onSignal(signalType string) workflow.SignalHandler {
	return func(payload []byte) bool {
		sig, err := Decode(signalType, payload)
		if err != nil {
			l.saga.Logger().Warn("ignoring malformed listing signal", slog.String("error", err.Error()))
			return false
		}
		if !l.saga.Sealed() {
			return l.saga.RequestCancel(reason(sig))
		}
		// Without a TTL the run ends at active and nothing would withdraw.
		if l.in.TTL <= 0 || l.status.ListingID == "" || l.withdrawRequested {
			return false
		}
		l.withdrawRequested = true
		l.status.WithdrawReason = reason(sig)
		return true
	}
}

func (l *listing) run() error {
	s := l.saga
	rt := s.Runtime()

	if err := s.Step(PhaseValidating, func(context.Context, string) error {
		if l.in.Shares <= 0 {
			return saga.Reject("shares must be positive")
		}
		if l.in.PricePerShare <= 0 {
			return saga.Reject("price must be positive")
		}
		return nil
	}); err != nil {
		return err
	}

	if err := s.Step(PhaseVerifyingOwnership, func(ctx context.Context, _ string) error {
		owned, err := l.deps.Ownership.Owned(ctx, l.in.AssetID, l.in.SellerID)
		if err != nil {
			return err
		}
		if owned < l.in.Shares {
			return saga.Rejectf("seller owns %d shares, listing %d", owned, l.in.Shares)
		}
		return nil
	}); err != nil {
		return err
	}

	if err := s.Step(PhaseVerifyingCertification, func(ctx context.Context, _ string) error {
		ok, err := l.deps.Assets.Certified(ctx, l.in.AssetID)
		if err != nil {
			return err
		}
		if !ok {
			return saga.Reject("asset not certified")
		}
		return nil
	}); err != nil {
		return err
	}

	if err := s.Enter(PhasePricing); err != nil {
		return err
	}
	ref, err := saga.Activity(s, "check_price", func(ctx context.Context, _ string) (int64, error) {
		ref, err := l.deps.Assets.ReferencePrice(ctx, l.in.AssetID)
		if err != nil {
			return 0, err
		}
		if !withinBand(l.in.PricePerShare, ref, l.cfg.priceBand) {
			return 0, saga.Rejectf("price %d outside %.0f%% of reference price %d", l.in.PricePerShare, l.cfg.priceBand*100, ref)
		}
		return ref, nil
	})
	if err != nil {
		return err
	}
	l.status.ReferencePrice = ref

	if err := s.Enter(PhaseCreatingListing); err != nil {
		return err
	}
	created, err := saga.Activity(s, "create_listing", func(ctx context.Context, key string) (collab.Listing, error) {
		var expires *time.Time
		if l.in.TTL > 0 {
			t := rt.Now().Add(l.in.TTL)
			expires = &t
		}
		return l.deps.Listings.Create(ctx, key, collab.Listing{
			AssetID:       l.in.AssetID,
			SellerID:      l.in.SellerID,
			Shares:        l.in.Shares,
			PricePerShare: l.in.PricePerShare,
			ExpiresAt:     expires,
		})
	})
	if err != nil {
		return err
	}
	l.status.ListingID = created.ID
	l.status.ExpiresAt = created.ExpiresAt

	if err := s.Enter(PhaseNotifying); err != nil {
		return err
	}
	l.notify(created)

	if err := s.Enter(PhaseActive); err != nil {
		return err
	}
	if l.in.TTL <= 0 {
		return nil
	}
	return l.awaitClose(created.ID)
}

// awaitClose keeps the listing active until it is withdrawn or expires.
// The wait's deadline is the listing's expiry.
func (l *listing) awaitClose(listingID string) error {
	s := l.saga
	rt := s.Runtime()

	timedOut, err := s.Await(PhaseActive, l.in.TTL, func() bool { return l.withdrawRequested })
	if err != nil {
		return err
	}
	if timedOut {
		if err := rt.Step("expire_listing", func(ctx context.Context, key string) error {
			return l.deps.Listings.Expire(ctx, key, listingID)
		}); err != nil {
			return err
		}
		return s.Conclude(PhaseExpired, saga.OutcomeCompleted, "")
	}

	if err := rt.Step("withdraw_listing", func(ctx context.Context, key string) error {
		return l.deps.Listings.Withdraw(ctx, key, listingID)
	}); err != nil {
		return err
	}
	return s.Conclude(PhaseWithdrawn, saga.OutcomeCancelled, l.status.WithdrawReason)
}

func (l *listing) notify(created collab.Listing) {
	s := l.saga
	s.SideEffect("notify_interested_parties", func(ctx context.Context, key string) error {
		return l.deps.Notifier.Notify(ctx, key, collab.Notification{
			Recipient: "watchers:" + created.AssetID,
			Template:  "listing_created",
			Data: map[string]any{
				"listing_id":      created.ID,
				"shares":          created.Shares,
				"price_per_share": created.PricePerShare,
			},
		})
	})
	s.SideEffect("audit_listing", func(ctx context.Context, key string) error {
		return l.deps.Audit.Append(ctx, key, collab.AuditEntry{
			Actor:  created.SellerID,
			Action: "listing.created",
			Target: created.ID,
		})
	})
}

// withinBand reports whether price deviates from ref by at most band.
func withinBand(price, ref int64, band float64) bool {
	if ref <= 0 {
		return true
	}
	return math.Abs(float64(price-ref)) <= band*float64(ref)
}
