package memory_test

import (
	"testing"

	"github.com/xraph/genqueue/ledger"
	"github.com/xraph/genqueue/ledger/ledgertest"
	"github.com/xraph/genqueue/ledger/memory"
)

func TestLedger(t *testing.T) {
	ledgertest.Run(t, func(*testing.T) ledger.Ledger { return memory.New() })
}

func TestTransactionsAreCopies(t *testing.T) {
	l := memory.New()
	tx, err := l.Credit(t.Context(), "u1", 3, "", "")
	if err != nil {
		t.Fatalf("Credit: %v", err)
	}
	tx.Amount = 999

	all, _ := l.Transactions(t.Context(), "u1", 0)
	if all[0].Amount != 3 {
		t.Fatalf("stored transaction was mutated: %d", all[0].Amount)
	}
}
