package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aksrustagi/coordinator/activity"
	"github.com/aksrustagi/coordinator/collab"
)

type reservationState string

const (
	reservationHeld      reservationState = "held"
	reservationReleased  reservationState = "released"
	reservationCommitted reservationState = "committed"
)

type reservation struct {
	collab.Reservation
	buyerID string
	state   reservationState
}

type asset struct {
	certified bool
	reference int64
}

// Market is an in-memory listing venue. It implements collab.Listings,
// collab.Inventory, collab.Ownership, collab.Assets, collab.Trades and
// collab.KYC.
type Market struct {
	Faults

	mu           sync.Mutex
	assets       map[string]asset
	owners       map[string]map[string]int64
	listings     map[string]*collab.Listing
	available    map[string]int64
	reservations map[string]*reservation
	trades       []collab.Trade
	blocked      map[string]string
	applied      ledger
	ids          seq
}

var (
	_ collab.Listings  = (*Market)(nil)
	_ collab.Inventory = (*Market)(nil)
	_ collab.Ownership = (*Market)(nil)
	_ collab.Assets    = (*Market)(nil)
	_ collab.Trades    = (*Market)(nil)
	_ collab.KYC       = (*Market)(nil)
)

// NewMarket creates an empty market.
func NewMarket() *Market {
	return &Market{
		assets:       make(map[string]asset),
		owners:       make(map[string]map[string]int64),
		listings:     make(map[string]*collab.Listing),
		available:    make(map[string]int64),
		reservations: make(map[string]*reservation),
		blocked:      make(map[string]string),
		applied:      make(ledger),
	}
}

// AddAsset registers an asset with its reference price.
func (m *Market) AddAsset(assetID string, certified bool, referencePrice int64) {
	m.mu.Lock()
	m.assets[assetID] = asset{certified: certified, reference: referencePrice}
	m.mu.Unlock()
}

// Grant gives ownerID shares of an asset.
func (m *Market) Grant(assetID, ownerID string, shares int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.owners[assetID] == nil {
		m.owners[assetID] = make(map[string]int64)
	}
	m.owners[assetID][ownerID] += shares
}

// Block makes KYC reject the user with reason.
func (m *Market) Block(userID, reason string) {
	m.mu.Lock()
	m.blocked[userID] = reason
	m.mu.Unlock()
}

// PutListing stores an active listing directly.
func (m *Market) PutListing(l collab.Listing) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l.Status == "" {
		l.Status = collab.ListingActive
	}
	m.listings[l.ID] = &l
	m.available[l.ID] = l.Shares
}

// AvailableShares returns the unreserved shares of a listing.
func (m *Market) AvailableShares(listingID string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.available[listingID]
}

// TradeCount returns the number of recorded trades.
func (m *Market) TradeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.trades)
}

// Listing returns a copy of a stored listing.
func (m *Market) Listing(listingID string) (collab.Listing, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.listings[listingID]
	if !ok {
		return collab.Listing{}, false
	}
	return *l, true
}

func (m *Market) Check(_ context.Context, userID string) (collab.Eligibility, error) {
	if err := m.check("kyc"); err != nil {
		return collab.Eligibility{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if reason, ok := m.blocked[userID]; ok {
		return collab.Eligibility{Reason: reason}, nil
	}
	return collab.Eligibility{Eligible: true}, nil
}

func (m *Market) Certified(_ context.Context, assetID string) (bool, error) {
	if err := m.check("certified"); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.assets[assetID]
	if !ok {
		return false, activity.Terminal(fmt.Errorf("asset %s: %w", assetID, collab.ErrNotFound))
	}
	return a.certified, nil
}

func (m *Market) ReferencePrice(_ context.Context, assetID string) (int64, error) {
	if err := m.check("reference_price"); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.assets[assetID]
	if !ok {
		return 0, activity.Terminal(fmt.Errorf("asset %s: %w", assetID, collab.ErrNotFound))
	}
	return a.reference, nil
}

func (m *Market) Owned(_ context.Context, assetID, ownerID string) (int64, error) {
	if err := m.check("owned"); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.owners[assetID][ownerID], nil
}

// Shares returns ownerID's shares of an asset.
func (m *Market) Shares(assetID, ownerID string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.owners[assetID][ownerID]
}

func (m *Market) Transfer(_ context.Context, key, assetID, fromID, toID string, shares int64) error {
	if err := m.check("transfer"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	_, err := once(m.applied, key, func() (struct{}, error) {
		if m.owners[assetID][fromID] < shares {
			return struct{}{}, activity.Terminalf("%s owns fewer than %d shares of %s", fromID, shares, assetID)
		}
		if m.owners[assetID] == nil {
			m.owners[assetID] = make(map[string]int64)
		}
		m.owners[assetID][fromID] -= shares
		m.owners[assetID][toID] += shares
		return struct{}{}, nil
	})
	return err
}

func (m *Market) Get(_ context.Context, listingID string) (collab.Listing, error) {
	if err := m.check("get_listing"); err != nil {
		return collab.Listing{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.listings[listingID]
	if !ok {
		return collab.Listing{}, activity.Terminal(fmt.Errorf("listing %s: %w", listingID, collab.ErrNotFound))
	}
	return *l, nil
}

func (m *Market) Create(_ context.Context, key string, l collab.Listing) (collab.Listing, error) {
	if err := m.check("create_listing"); err != nil {
		return collab.Listing{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return once(m.applied, key, func() (collab.Listing, error) {
		l.ID = m.ids.next("lst")
		l.Status = collab.ListingActive
		m.listings[l.ID] = &l
		m.available[l.ID] = l.Shares
		return l, nil
	})
}

func (m *Market) Withdraw(_ context.Context, key, listingID string) error {
	return m.close(key, listingID, collab.ListingWithdrawn, "withdraw_listing")
}

func (m *Market) Expire(_ context.Context, key, listingID string) error {
	return m.close(key, listingID, collab.ListingExpired, "expire_listing")
}

func (m *Market) close(key, listingID, status, op string) error {
	if err := m.check(op); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	_, err := once(m.applied, key, func() (struct{}, error) {
		l, ok := m.listings[listingID]
		if !ok {
			return struct{}{}, activity.Terminal(fmt.Errorf("listing %s: %w", listingID, collab.ErrNotFound))
		}
		if l.Status == collab.ListingActive {
			l.Status = status
		}
		return struct{}{}, nil
	})
	return err
}

func (m *Market) Available(_ context.Context, listingID string) (int64, error) {
	if err := m.check("available"); err != nil {
		return 0, err
	}
	return m.AvailableShares(listingID), nil
}

func (m *Market) Reserve(_ context.Context, key, listingID, buyerID string, shares int64) (collab.Reservation, error) {
	if err := m.check("reserve"); err != nil {
		return collab.Reservation{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return once(m.applied, key, func() (collab.Reservation, error) {
		if m.available[listingID] < shares {
			return collab.Reservation{}, activity.Terminalf("insufficient inventory on %s", listingID)
		}
		m.available[listingID] -= shares
		r := collab.Reservation{ID: m.ids.next("rsv"), ListingID: listingID, Shares: shares}
		m.reservations[r.ID] = &reservation{Reservation: r, buyerID: buyerID, state: reservationHeld}
		return r, nil
	})
}

func (m *Market) Release(_ context.Context, key, reservationID string) error {
	if err := m.check("release"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	_, err := once(m.applied, key, func() (struct{}, error) {
		r, ok := m.reservations[reservationID]
		if !ok {
			return struct{}{}, nil
		}
		if r.state == reservationHeld {
			r.state = reservationReleased
			m.available[r.ListingID] += r.Shares
		}
		return struct{}{}, nil
	})
	return err
}

func (m *Market) Commit(_ context.Context, key, reservationID string) error {
	if err := m.check("commit"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	_, err := once(m.applied, key, func() (struct{}, error) {
		r, ok := m.reservations[reservationID]
		if !ok {
			return struct{}{}, activity.Terminal(fmt.Errorf("reservation %s: %w", reservationID, collab.ErrNotFound))
		}
		if r.state == reservationReleased {
			return struct{}{}, activity.Terminalf("reservation %s was released", reservationID)
		}
		r.state = reservationCommitted
		return struct{}{}, nil
	})
	return err
}

func (m *Market) Record(_ context.Context, key string, t collab.Trade) (collab.Trade, error) {
	if err := m.check("record_trade"); err != nil {
		return collab.Trade{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return once(m.applied, key, func() (collab.Trade, error) {
		t.ID = m.ids.next("trd")
		if t.ExecutedAt.IsZero() {
			t.ExecutedAt = time.Now().UTC()
		}
		m.trades = append(m.trades, t)
		return t, nil
	})
}
