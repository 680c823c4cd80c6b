// Package sqlite implements ledger.Ledger on an embedded SQLite database
// using the pure-Go modernc.org/sqlite driver. It suits single-host
// deployments and development.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/xraph/genqueue"
	"github.com/xraph/genqueue/id"
	"github.com/xraph/genqueue/ledger"
)

var _ ledger.Ledger = (*Ledger)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS genqueue_accounts (
	user_id    TEXT PRIMARY KEY,
	balance    INTEGER NOT NULL DEFAULT 0 CHECK (balance >= 0),
	updated_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS genqueue_transactions (
	seq         INTEGER PRIMARY KEY AUTOINCREMENT,
	id          TEXT NOT NULL UNIQUE,
	user_id     TEXT NOT NULL,
	amount      INTEGER NOT NULL CHECK (amount > 0),
	type        TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	ref         TEXT NOT NULL DEFAULT '',
	created_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_genqueue_transactions_user
	ON genqueue_transactions (user_id, seq DESC);
`

// Ledger is a SQLite ledger.Ledger.
type Ledger struct {
	db     *sql.DB
	logger *slog.Logger
}

// Option configures the Ledger.
type Option func(*Ledger)

// WithLogger sets the logger for the ledger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) { l.logger = logger }
}

// Open opens (or creates) the database at path and applies the schema.
// Use ":memory:" for a throwaway ledger.
func Open(ctx context.Context, path string, opts ...Option) (*Ledger, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("genqueue/sqlite: open: %w", err)
	}
	// One connection serialises writers and keeps ":memory:" databases
	// shared across calls.
	db.SetMaxOpenConns(1)

	l := &Ledger{db: db, logger: slog.Default()}
	for _, opt := range opts {
		opt(l)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("genqueue/sqlite: apply schema: %w", err)
	}
	l.logger.Debug("sqlite ledger opened", slog.String("path", path))
	return l, nil
}

// Debit subtracts amount only when the balance covers it.
func (l *Ledger) Debit(ctx context.Context, userID string, amount int64, ref, description string) (*ledger.Transaction, error) {
	if amount <= 0 {
		return nil, genqueue.ErrInvalidAmount
	}

	var t *ledger.Transaction
	err := l.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE genqueue_accounts SET balance = balance - ?, updated_at = ?
			 WHERE user_id = ? AND balance >= ?`,
			amount, time.Now().UnixMilli(), userID, amount,
		)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return genqueue.ErrInsufficientBalance
		}
		t, err = insertTransaction(ctx, tx, userID, amount, ledger.TypeDebit, ref, description)
		return err
	})
	if errors.Is(err, genqueue.ErrInsufficientBalance) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("genqueue/sqlite: debit: %w", err)
	}
	return t, nil
}

// Credit adds amount, opening the account if needed.
func (l *Ledger) Credit(ctx context.Context, userID string, amount int64, ref, description string) (*ledger.Transaction, error) {
	if amount <= 0 {
		return nil, genqueue.ErrInvalidAmount
	}

	var t *ledger.Transaction
	err := l.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO genqueue_accounts (user_id, balance, updated_at) VALUES (?, ?, ?)
			 ON CONFLICT(user_id) DO UPDATE
			 SET balance = balance + excluded.balance, updated_at = excluded.updated_at`,
			userID, amount, time.Now().UnixMilli(),
		)
		if err != nil {
			return err
		}
		t, err = insertTransaction(ctx, tx, userID, amount, ledger.TypeCredit, ref, description)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("genqueue/sqlite: credit: %w", err)
	}
	return t, nil
}

// Balance returns the user's balance.
func (l *Ledger) Balance(ctx context.Context, userID string) (int64, error) {
	var bal int64
	err := l.db.QueryRowContext(ctx,
		`SELECT balance FROM genqueue_accounts WHERE user_id = ?`, userID,
	).Scan(&bal)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, genqueue.ErrAccountNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("genqueue/sqlite: balance: %w", err)
	}
	return bal, nil
}

// Transactions returns the user's transactions, newest first.
func (l *Ledger) Transactions(ctx context.Context, userID string, limit int) ([]*ledger.Transaction, error) {
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, user_id, amount, type, description, ref, created_at
		 FROM genqueue_transactions WHERE user_id = ?
		 ORDER BY seq DESC LIMIT ?`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("genqueue/sqlite: transactions: %w", err)
	}
	defer rows.Close()

	out := make([]*ledger.Transaction, 0)
	for rows.Next() {
		var (
			t       ledger.Transaction
			rawID   string
			typ     string
			created int64
		)
		if err := rows.Scan(&rawID, &t.UserID, &t.Amount, &typ, &t.Description, &t.Ref, &created); err != nil {
			return nil, fmt.Errorf("genqueue/sqlite: scan transaction: %w", err)
		}
		if t.ID, err = id.ParseTxnID(rawID); err != nil {
			return nil, fmt.Errorf("genqueue/sqlite: scan transaction: %w", err)
		}
		t.Type = ledger.Type(typ)
		t.CreatedAt = time.UnixMilli(created).UTC()
		out = append(out, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("genqueue/sqlite: transactions: %w", err)
	}
	return out, nil
}

// Ping checks database connectivity.
func (l *Ledger) Ping(ctx context.Context) error {
	return l.db.PingContext(ctx)
}

// Close closes the database.
func (l *Ledger) Close() error {
	return l.db.Close()
}

func (l *Ledger) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func insertTransaction(ctx context.Context, tx *sql.Tx, userID string, amount int64, typ ledger.Type, ref, description string) (*ledger.Transaction, error) {
	t := &ledger.Transaction{
		ID:          id.NewTxnID(),
		UserID:      userID,
		Amount:      amount,
		Type:        typ,
		Description: description,
		Ref:         ref,
		CreatedAt:   time.Now().UTC(),
	}
	_, err := tx.ExecContext(ctx,
		`INSERT INTO genqueue_transactions (id, user_id, amount, type, description, ref, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.ID.String(), t.UserID, t.Amount, string(t.Type), t.Description, t.Ref, t.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return nil, err
	}
	return t, nil
}
