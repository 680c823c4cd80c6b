// Package ledgertest provides a conformance suite every ledger.Ledger
// implementation must pass.
package ledgertest

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/xraph/genqueue"
	"github.com/xraph/genqueue/ledger"
)

// Run exercises l against the ledger contract. newLedger must return an
// empty ledger on each call.
func Run(t *testing.T, newLedger func(t *testing.T) ledger.Ledger) {
	t.Helper()

	t.Run("CreditOpensAccount", func(t *testing.T) {
		l := newLedger(t)
		ctx := context.Background()

		if _, err := l.Balance(ctx, "u1"); !errors.Is(err, genqueue.ErrAccountNotFound) {
			t.Fatalf("expected ErrAccountNotFound, got %v", err)
		}

		tx, err := l.Credit(ctx, "u1", 10, "topup", "initial credit")
		if err != nil {
			t.Fatalf("Credit: %v", err)
		}
		if tx.Type != ledger.TypeCredit || tx.Amount != 10 || tx.UserID != "u1" {
			t.Errorf("unexpected transaction %+v", tx)
		}
		if tx.ID.IsNil() {
			t.Error("transaction ID should be set")
		}

		bal, err := l.Balance(ctx, "u1")
		if err != nil || bal != 10 {
			t.Fatalf("Balance = %d, %v; want 10", bal, err)
		}
	})

	t.Run("DebitWithinBalance", func(t *testing.T) {
		l := newLedger(t)
		ctx := context.Background()
		mustCredit(t, l, "u1", 5)

		tx, err := l.Debit(ctx, "u1", 3, "job_x", "generation job")
		if err != nil {
			t.Fatalf("Debit: %v", err)
		}
		if tx.Type != ledger.TypeDebit || tx.Ref != "job_x" {
			t.Errorf("unexpected transaction %+v", tx)
		}

		bal, _ := l.Balance(ctx, "u1")
		if bal != 2 {
			t.Fatalf("Balance = %d, want 2", bal)
		}
	})

	t.Run("DebitExactBalance", func(t *testing.T) {
		l := newLedger(t)
		ctx := context.Background()
		mustCredit(t, l, "u1", 4)

		if _, err := l.Debit(ctx, "u1", 4, "", ""); err != nil {
			t.Fatalf("Debit: %v", err)
		}
		bal, _ := l.Balance(ctx, "u1")
		if bal != 0 {
			t.Fatalf("Balance = %d, want 0", bal)
		}
	})

	t.Run("InsufficientBalance", func(t *testing.T) {
		l := newLedger(t)
		ctx := context.Background()
		mustCredit(t, l, "u1", 2)

		if _, err := l.Debit(ctx, "u1", 3, "", ""); !errors.Is(err, genqueue.ErrInsufficientBalance) {
			t.Fatalf("expected ErrInsufficientBalance, got %v", err)
		}
		bal, _ := l.Balance(ctx, "u1")
		if bal != 2 {
			t.Fatalf("failed debit changed balance to %d", bal)
		}

		if _, err := l.Debit(ctx, "nobody", 1, "", ""); !errors.Is(err, genqueue.ErrInsufficientBalance) {
			t.Fatalf("unknown account: expected ErrInsufficientBalance, got %v", err)
		}
	})

	t.Run("InvalidAmount", func(t *testing.T) {
		l := newLedger(t)
		ctx := context.Background()

		for _, amount := range []int64{0, -1} {
			if _, err := l.Credit(ctx, "u1", amount, "", ""); !errors.Is(err, genqueue.ErrInvalidAmount) {
				t.Errorf("Credit(%d): expected ErrInvalidAmount, got %v", amount, err)
			}
			if _, err := l.Debit(ctx, "u1", amount, "", ""); !errors.Is(err, genqueue.ErrInvalidAmount) {
				t.Errorf("Debit(%d): expected ErrInvalidAmount, got %v", amount, err)
			}
		}
	})

	t.Run("TransactionsNewestFirst", func(t *testing.T) {
		l := newLedger(t)
		ctx := context.Background()
		mustCredit(t, l, "u1", 10)
		_, _ = l.Debit(ctx, "u1", 1, "job_a", "")
		_, _ = l.Debit(ctx, "u1", 2, "job_b", "")
		mustCredit(t, l, "u2", 7)

		all, err := l.Transactions(ctx, "u1", 0)
		if err != nil {
			t.Fatalf("Transactions: %v", err)
		}
		if len(all) != 3 {
			t.Fatalf("got %d transactions, want 3", len(all))
		}
		if all[0].Ref != "job_b" || all[2].Type != ledger.TypeCredit {
			t.Errorf("unexpected order: %s, %s", all[0].Ref, all[2].Type)
		}

		limited, _ := l.Transactions(ctx, "u1", 2)
		if len(limited) != 2 {
			t.Fatalf("limit 2 returned %d", len(limited))
		}

		none, err := l.Transactions(ctx, "nobody", 0)
		if err != nil || len(none) != 0 {
			t.Fatalf("unknown user: %v, %v", none, err)
		}
	})

	t.Run("ConcurrentDebitsNeverOverdraw", func(t *testing.T) {
		l := newLedger(t)
		ctx := context.Background()
		mustCredit(t, l, "u1", 10)

		var (
			wg sync.WaitGroup
			mu sync.Mutex
			ok int
		)
		for range 25 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := l.Debit(ctx, "u1", 1, "", ""); err == nil {
					mu.Lock()
					ok++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		if ok != 10 {
			t.Errorf("%d debits succeeded, want 10", ok)
		}
		bal, _ := l.Balance(ctx, "u1")
		if bal != 0 {
			t.Errorf("Balance = %d, want 0", bal)
		}
	})
}

func mustCredit(t *testing.T, l ledger.Ledger, userID string, amount int64) {
	t.Helper()
	if _, err := l.Credit(context.Background(), userID, amount, "", "test credit"); err != nil {
		t.Fatalf("Credit(%s, %d): %v", userID, amount, err)
	}
}
