// Package collab declares the external collaborators the coordinators call
// as durable steps: balances, inventory, ownership, eligibility, listings,
// notifications, audit, market data, positions and rosters.
//
// Every mutating call takes the step's idempotency key. Implementations
// must dedupe on it: a call repeated with the same key returns the first
// call's result and applies nothing twice.
//
// Amounts are integer cents.
package collab

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned for unknown entities. Coordinators classify it as
// terminal.
var ErrNotFound = errors.New("collab: not found")

// ──────────────────────────────────────────────────
// Money and inventory
// ──────────────────────────────────────────────────

// Hold is a reservation of funds on an account.
type Hold struct {
	ID        string `json:"id"`
	AccountID string `json:"account_id"`
	Amount    int64  `json:"amount"`
}

// Balances holds, captures and releases buyer funds.
type Balances interface {
	// Available returns the spendable balance, excluding held funds.
	Available(ctx context.Context, accountID string) (int64, error)
	// Hold reserves amount on the account.
	Hold(ctx context.Context, key, accountID string, amount int64) (Hold, error)
	// Release returns held funds to the account. Releasing a released
	// hold is a no-op.
	Release(ctx context.Context, key, holdID string) error
	// Capture moves held funds to the payee.
	Capture(ctx context.Context, key, holdID, payeeID string) error
	// Settle resolves a hold whose capture outcome is unknown: a captured
	// hold stays captured, anything else is released. It reports whether
	// the funds moved.
	Settle(ctx context.Context, key, holdID string) (captured bool, err error)
	// Credit adds amount to the account.
	Credit(ctx context.Context, key, accountID string, amount int64) error
}

// Reservation is shares of a listing set aside for one buyer.
type Reservation struct {
	ID        string `json:"id"`
	ListingID string `json:"listing_id"`
	Shares    int64  `json:"shares"`
}

// Inventory reserves listing shares with an atomic check-and-decrement.
type Inventory interface {
	Available(ctx context.Context, listingID string) (int64, error)
	Reserve(ctx context.Context, key, listingID, buyerID string, shares int64) (Reservation, error)
	// Release returns reserved shares. Releasing a committed or released
	// reservation is a no-op.
	Release(ctx context.Context, key, reservationID string) error
	// Commit consumes reserved shares permanently.
	Commit(ctx context.Context, key, reservationID string) error
}

// Ownership records who holds shares of an asset.
type Ownership interface {
	Owned(ctx context.Context, assetID, ownerID string) (int64, error)
	Transfer(ctx context.Context, key, assetID, fromID, toID string, shares int64) error
}

// Eligibility is the outcome of a KYC check.
type Eligibility struct {
	Eligible bool   `json:"eligible"`
	Reason   string `json:"reason,omitempty"`
}

// KYC checks whether a user may trade.
type KYC interface {
	Check(ctx context.Context, userID string) (Eligibility, error)
}

// ──────────────────────────────────────────────────
// Listings and assets
// ──────────────────────────────────────────────────

// Listing statuses.
const (
	ListingActive    = "active"
	ListingWithdrawn = "withdrawn"
	ListingExpired   = "expired"
)

// Listing offers shares of an asset at a fixed price.
type Listing struct {
	ID            string     `json:"id"`
	AssetID       string     `json:"asset_id"`
	SellerID      string     `json:"seller_id"`
	Shares        int64      `json:"shares"`
	PricePerShare int64      `json:"price_per_share"`
	Status        string     `json:"status"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
}

// Listings stores listings.
type Listings interface {
	Get(ctx context.Context, listingID string) (Listing, error)
	Create(ctx context.Context, key string, l Listing) (Listing, error)
	Withdraw(ctx context.Context, key, listingID string) error
	Expire(ctx context.Context, key, listingID string) error
}

// Assets describes tradable assets.
type Assets interface {
	Certified(ctx context.Context, assetID string) (bool, error)
	ReferencePrice(ctx context.Context, assetID string) (int64, error)
}

// Trade is an executed purchase.
type Trade struct {
	ID            string    `json:"id"`
	ListingID     string    `json:"listing_id"`
	BuyerID       string    `json:"buyer_id"`
	SellerID      string    `json:"seller_id"`
	Shares        int64     `json:"shares"`
	PricePerShare int64     `json:"price_per_share"`
	ExecutedAt    time.Time `json:"executed_at"`
}

// Trades records executed trades.
type Trades interface {
	Record(ctx context.Context, key string, t Trade) (Trade, error)
}

// ──────────────────────────────────────────────────
// Side-effect sinks
// ──────────────────────────────────────────────────

// Notification is a message to one recipient.
type Notification struct {
	Recipient string         `json:"recipient"`
	Template  string         `json:"template"`
	Data      map[string]any `json:"data,omitempty"`
}

// Notifier sends notifications.
type Notifier interface {
	Notify(ctx context.Context, key string, n Notification) error
}

// AuditEntry is one line of the audit log.
type AuditEntry struct {
	Actor  string         `json:"actor"`
	Action string         `json:"action"`
	Target string         `json:"target"`
	Data   map[string]any `json:"data,omitempty"`
}

// Audit appends to the audit log.
type Audit interface {
	Append(ctx context.Context, key string, e AuditEntry) error
}

// ──────────────────────────────────────────────────
// Markets
// ──────────────────────────────────────────────────

// MarketData reads external data feeds.
type MarketData interface {
	// Fetch returns the feed's value; ok is false while the value is not
	// yet available.
	Fetch(ctx context.Context, feedID string) (value float64, ok bool, err error)
}

// Position is a holding on one side of a binary market.
type Position struct {
	ID       string `json:"id"`
	MarketID string `json:"market_id"`
	OwnerID  string `json:"owner_id"`
	Side     bool   `json:"side"`
	Quantity int64  `json:"quantity"`
}

// Positions lists and closes market positions.
type Positions interface {
	Open(ctx context.Context, marketID string) ([]Position, error)
	Close(ctx context.Context, key, positionID string, payout int64) error
}

// Markets records market outcomes.
type Markets interface {
	Resolve(ctx context.Context, key, marketID string, outcome bool) error
}

// ──────────────────────────────────────────────────
// Leagues
// ──────────────────────────────────────────────────

// Pick is one draft selection.
type Pick struct {
	DraftID    string    `json:"draft_id"`
	Overall    int       `json:"overall"`
	Round      int       `json:"round"`
	TeamID     string    `json:"team_id"`
	PlayerID   string    `json:"player_id"`
	IsAutoPick bool      `json:"is_auto_pick"`
	PickedAt   time.Time `json:"picked_at"`
}

// DraftBoard stores draft picks and chooses players for absent teams.
type DraftBoard interface {
	// AutoSelect deterministically chooses a player for the team, never
	// one of the drafted players.
	AutoSelect(ctx context.Context, draftID, teamID string, drafted []string) (string, error)
	RecordPick(ctx context.Context, key string, p Pick) error
	Finalize(ctx context.Context, key, draftID string) error
}

// Claim is a waiver request to add one player, optionally dropping another.
type Claim struct {
	ID           string    `json:"id"`
	LeagueID     string    `json:"league_id"`
	TeamID       string    `json:"team_id"`
	AddPlayerID  string    `json:"add_player_id"`
	DropPlayerID string    `json:"drop_player_id,omitempty"`
	Bid          int64     `json:"bid,omitempty"`
	Priority     int       `json:"priority"`
	SubmittedAt  time.Time `json:"submitted_at"`
}

// Rosters processes waiver claims against league rosters.
type Rosters interface {
	PendingClaims(ctx context.Context, leagueID, batchID string) ([]Claim, error)
	IsAvailable(ctx context.Context, leagueID, playerID string) (bool, error)
	HasRoomFor(ctx context.Context, leagueID, teamID, dropPlayerID string) (bool, error)
	// CommitClaim adds the player, drops the optional player and, for a
	// FAAB claim, deducts the bid.
	CommitClaim(ctx context.Context, key string, c Claim, faab bool) error
	// Priorities returns each team's waiver priority; lower goes first.
	Priorities(ctx context.Context, leagueID string) (map[string]int, error)
	SetPriorities(ctx context.Context, key, leagueID string, priorities map[string]int) error
}
