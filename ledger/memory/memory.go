// Package memory implements ledger.Ledger in memory. It is safe for
// concurrent access and intended for unit testing and development.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/xraph/genqueue"
	"github.com/xraph/genqueue/id"
	"github.com/xraph/genqueue/ledger"
)

var _ ledger.Ledger = (*Ledger)(nil)

// Ledger is a fully in-memory ledger.Ledger.
type Ledger struct {
	mu       sync.Mutex
	balances map[string]int64
	txns     map[string][]*ledger.Transaction
	now      func() time.Time
}

// New returns an empty Ledger.
func New() *Ledger {
	return &Ledger{
		balances: make(map[string]int64),
		txns:     make(map[string][]*ledger.Transaction),
		now:      time.Now,
	}
}

// Debit subtracts amount when the balance covers it.
func (l *Ledger) Debit(_ context.Context, userID string, amount int64, ref, description string) (*ledger.Transaction, error) {
	if amount <= 0 {
		return nil, genqueue.ErrInvalidAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	bal, ok := l.balances[userID]
	if !ok || bal < amount {
		return nil, genqueue.ErrInsufficientBalance
	}
	l.balances[userID] = bal - amount
	return l.appendLocked(userID, amount, ledger.TypeDebit, ref, description), nil
}

// Credit adds amount, opening the account if needed.
func (l *Ledger) Credit(_ context.Context, userID string, amount int64, ref, description string) (*ledger.Transaction, error) {
	if amount <= 0 {
		return nil, genqueue.ErrInvalidAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.balances[userID] += amount
	return l.appendLocked(userID, amount, ledger.TypeCredit, ref, description), nil
}

// Balance returns the user's balance.
func (l *Ledger) Balance(_ context.Context, userID string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	bal, ok := l.balances[userID]
	if !ok {
		return 0, genqueue.ErrAccountNotFound
	}
	return bal, nil
}

// Transactions returns the user's transactions, newest first.
func (l *Ledger) Transactions(_ context.Context, userID string, limit int) ([]*ledger.Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	all := l.txns[userID]
	out := make([]*ledger.Transaction, 0, len(all))
	for i := len(all) - 1; i >= 0; i-- {
		if limit > 0 && len(out) >= limit {
			break
		}
		cp := *all[i]
		out = append(out, &cp)
	}
	return out, nil
}

func (l *Ledger) appendLocked(userID string, amount int64, typ ledger.Type, ref, description string) *ledger.Transaction {
	tx := &ledger.Transaction{
		ID:          id.NewTxnID(),
		UserID:      userID,
		Amount:      amount,
		Type:        typ,
		Description: description,
		Ref:         ref,
		CreatedAt:   l.now().UTC(),
	}
	l.txns[userID] = append(l.txns[userID], tx)
	cp := *tx
	return &cp
}
