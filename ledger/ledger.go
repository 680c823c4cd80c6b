package ledger

import (
	"context"
	"time"

	"github.com/xraph/genqueue/id"
)

// Type distinguishes debits from credits.
type Type string

const (
	// TypeDebit decreases a balance.
	TypeDebit Type = "debit"
	// TypeCredit increases a balance.
	TypeCredit Type = "credit"
)

// Transaction is one append-only ledger entry.
type Transaction struct {
	ID          id.TxnID  `json:"id"`
	UserID      string    `json:"user_id"`
	Amount      int64     `json:"amount"`
	Type        Type      `json:"type"`
	Description string    `json:"description"`
	Ref         string    `json:"ref,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Ledger is a balance store. Every implementation changes the balance and
// appends the transaction atomically, and decrements with a conditional
// update rather than a read followed by a write.
type Ledger interface {
	// Debit subtracts amount from the user's balance. It returns
	// genqueue.ErrInsufficientBalance when the balance is lower than
	// amount or the user has no account.
	Debit(ctx context.Context, userID string, amount int64, ref, description string) (*Transaction, error)

	// Credit adds amount to the user's balance, opening the account if
	// needed.
	Credit(ctx context.Context, userID string, amount int64, ref, description string) (*Transaction, error)

	// Balance returns the user's balance or genqueue.ErrAccountNotFound.
	Balance(ctx context.Context, userID string) (int64, error)

	// Transactions returns up to limit of the user's most recent
	// transactions, newest first. Zero means no limit.
	Transactions(ctx context.Context, userID string, limit int) ([]*Transaction, error)
}
