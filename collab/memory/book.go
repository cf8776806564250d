package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/aksrustagi/coordinator/activity"
	"github.com/aksrustagi/coordinator/collab"
)

// Feed is an in-memory collab.MarketData.
type Feed struct {
	Faults

	mu     sync.Mutex
	values map[string]float64
	reads  map[string]int
}

var _ collab.MarketData = (*Feed)(nil)

// NewFeed creates a feed with no values.
func NewFeed() *Feed {
	return &Feed{values: make(map[string]float64), reads: make(map[string]int)}
}

// Set publishes a feed value.
func (f *Feed) Set(feedID string, v float64) {
	f.mu.Lock()
	f.values[feedID] = v
	f.mu.Unlock()
}

// Reads returns how many times a feed was fetched.
func (f *Feed) Reads(feedID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reads[feedID]
}

func (f *Feed) Fetch(_ context.Context, feedID string) (float64, bool, error) {
	if err := f.check("fetch"); err != nil {
		return 0, false, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads[feedID]++
	v, ok := f.values[feedID]
	return v, ok, nil
}

type position struct {
	collab.Position
	closed bool
	payout int64
}

// Book is an in-memory position book. It implements collab.Positions and
// collab.Markets.
type Book struct {
	Faults

	mu        sync.Mutex
	positions map[string]*position
	outcomes  map[string]bool
	applied   ledger
	closes    map[string]int
}

var (
	_ collab.Positions = (*Book)(nil)
	_ collab.Markets   = (*Book)(nil)
)

// NewBook creates an empty book.
func NewBook() *Book {
	return &Book{
		positions: make(map[string]*position),
		outcomes:  make(map[string]bool),
		applied:   make(ledger),
		closes:    make(map[string]int),
	}
}

// AddPosition adds an open position.
func (b *Book) AddPosition(p collab.Position) {
	b.mu.Lock()
	b.positions[p.ID] = &position{Position: p}
	b.mu.Unlock()
}

// Payout returns the payout a position was closed with.
func (b *Book) Payout(positionID string) (int64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.positions[positionID]
	if !ok || !p.closed {
		return 0, false
	}
	return p.payout, true
}

// Closes returns how many times Close applied to a position.
func (b *Book) Closes(positionID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closes[positionID]
}

// Outcome returns the recorded outcome of a market.
func (b *Book) Outcome(marketID string) (bool, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	o, ok := b.outcomes[marketID]
	return o, ok
}

func (b *Book) Open(_ context.Context, marketID string) ([]collab.Position, error) {
	if err := b.check("open_positions"); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []collab.Position
	for _, p := range b.positions {
		if p.MarketID == marketID && !p.closed {
			out = append(out, p.Position)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (b *Book) Close(_ context.Context, key, positionID string, payout int64) error {
	if err := b.check("close_position"); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	_, err := once(b.applied, key, func() (struct{}, error) {
		p, ok := b.positions[positionID]
		if !ok {
			return struct{}{}, activity.Terminal(fmt.Errorf("position %s: %w", positionID, collab.ErrNotFound))
		}
		if !p.closed {
			p.closed = true
			p.payout = payout
			b.closes[positionID]++
		}
		return struct{}{}, nil
	})
	return err
}

func (b *Book) Resolve(_ context.Context, key, marketID string, outcome bool) error {
	if err := b.check("resolve_market"); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	_, err := once(b.applied, key, func() (struct{}, error) {
		b.outcomes[marketID] = outcome
		return struct{}{}, nil
	})
	return err
}
