package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/aksrustagi/coordinator/activity"
	"github.com/aksrustagi/coordinator/collab"
)

type holdState string

const (
	holdHeld     holdState = "held"
	holdReleased holdState = "released"
	holdCaptured holdState = "captured"
)

type hold struct {
	collab.Hold
	state holdState
}

// Bank is an in-memory collab.Balances.
type Bank struct {
	Faults

	mu       sync.Mutex
	balances map[string]int64
	holds    map[string]*hold
	applied  ledger
	ids      seq
}

var _ collab.Balances = (*Bank)(nil)

// NewBank creates a bank with no accounts.
func NewBank() *Bank {
	return &Bank{
		balances: make(map[string]int64),
		holds:    make(map[string]*hold),
		applied:  make(ledger),
	}
}

// Deposit sets up an account balance.
func (b *Bank) Deposit(accountID string, amount int64) {
	b.mu.Lock()
	b.balances[accountID] += amount
	b.mu.Unlock()
}

// Balance returns the account's balance, excluding held funds.
func (b *Bank) Balance(accountID string) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.balances[accountID]
}

// Held returns the funds currently held on the account.
func (b *Bank) Held(accountID string) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	var total int64
	for _, h := range b.holds {
		if h.AccountID == accountID && h.state == holdHeld {
			total += h.Amount
		}
	}
	return total
}

func (b *Bank) Available(_ context.Context, accountID string) (int64, error) {
	if err := b.check("available"); err != nil {
		return 0, err
	}
	return b.Balance(accountID), nil
}

func (b *Bank) Hold(_ context.Context, key, accountID string, amount int64) (collab.Hold, error) {
	if err := b.check("hold"); err != nil {
		return collab.Hold{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return once(b.applied, key, func() (collab.Hold, error) {
		if b.balances[accountID] < amount {
			return collab.Hold{}, activity.Terminalf("insufficient funds on %s", accountID)
		}
		b.balances[accountID] -= amount
		h := collab.Hold{ID: b.ids.next("hold"), AccountID: accountID, Amount: amount}
		b.holds[h.ID] = &hold{Hold: h, state: holdHeld}
		return h, nil
	})
}

func (b *Bank) Release(_ context.Context, key, holdID string) error {
	if err := b.check("release"); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	_, err := once(b.applied, key, func() (struct{}, error) {
		h, ok := b.holds[holdID]
		if !ok {
			return struct{}{}, fmt.Errorf("hold %s: %w", holdID, collab.ErrNotFound)
		}
		if h.state == holdHeld {
			h.state = holdReleased
			b.balances[h.AccountID] += h.Amount
		}
		return struct{}{}, nil
	})
	return err
}

func (b *Bank) Capture(_ context.Context, key, holdID, payeeID string) error {
	if err := b.check("capture"); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	_, err := once(b.applied, key, func() (struct{}, error) {
		h, ok := b.holds[holdID]
		if !ok {
			return struct{}{}, activity.Terminal(fmt.Errorf("hold %s: %w", holdID, collab.ErrNotFound))
		}
		switch h.state {
		case holdReleased:
			return struct{}{}, activity.Terminalf("hold %s was released", holdID)
		case holdHeld:
			h.state = holdCaptured
			b.balances[payeeID] += h.Amount
		}
		return struct{}{}, nil
	})
	return err
}

func (b *Bank) Settle(_ context.Context, key, holdID string) (bool, error) {
	if err := b.check("settle"); err != nil {
		return false, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return once(b.applied, key, func() (bool, error) {
		h, ok := b.holds[holdID]
		if !ok {
			return false, nil
		}
		if h.state == holdHeld {
			h.state = holdReleased
			b.balances[h.AccountID] += h.Amount
		}
		return h.state == holdCaptured, nil
	})
}

func (b *Bank) Credit(_ context.Context, key, accountID string, amount int64) error {
	if err := b.check("credit"); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	_, err := once(b.applied, key, func() (struct{}, error) {
		b.balances[accountID] += amount
		return struct{}{}, nil
	})
	return err
}
