package database

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
)

func setupTestDb(t *testing.T) (*SubledgerService, func()) {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	db.SetMaxOpenConns(1)

	service := NewSubledgerService(db)

	// Use the actual schema initialization
	if err := service.InitSchema(); err != nil {
		t.Fatalf("Failed to create test schema: %v", err)
	}

	cleanup := func() {
		db.Close()
	}

	return service, cleanup
}

func TestProcessTransaction_Funding(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	ctx := context.Background()
	account := "escrows:evm:0xabc"
	asset := "native"
	amount := decimal.NewFromInt(1500)

	result, err := service.ProcessTransaction(ctx, ProcessTransactionParams{account, asset, "escrow_funding", amount, "0xabc:create", "0xabc", "0xorder", "source"})
	if err != nil {
		t.Fatalf("ProcessTransaction failed: %v", err)
	}

	if result.Account != account {
		t.Errorf("Expected account %s, got %s", account, result.Account)
	}
	if result.Asset != asset {
		t.Errorf("Expected asset %s, got %s", asset, result.Asset)
	}
	if !result.Amount.Equal(amount) {
		t.Errorf("Expected amount %s, got %s", amount.String(), result.Amount.String())
	}
	if !result.BalanceAfter.Equal(amount) {
		t.Errorf("Expected balance %s, got %s", amount.String(), result.BalanceAfter.String())
	}
	if result.EscrowId != "0xabc" || result.OrderHash != "0xorder" {
		t.Errorf("Expected escrow 0xabc and order 0xorder, got %s and %s", result.EscrowId, result.OrderHash)
	}
}

func TestProcessTransaction_Payout(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	ctx := context.Background()
	account := "escrows:evm:0xabc"
	asset := "native"

	_, err := service.ProcessTransaction(ctx, ProcessTransactionParams{account, asset, "escrow_funding", decimal.NewFromInt(2000), "0xabc:create", "0xabc", "", ""})
	if err != nil {
		t.Fatalf("Initial funding failed: %v", err)
	}

	result, err := service.ProcessTransaction(ctx, ProcessTransactionParams{account, asset, "withdraw", decimal.NewFromInt(-500), "0xabc:withdraw", "0xabc", "", "asset"})
	if err != nil {
		t.Fatalf("ProcessTransaction payout failed: %v", err)
	}

	// 2000 + (-500) = 1500
	expectedBalance := decimal.NewFromInt(1500)
	if !result.BalanceAfter.Equal(expectedBalance) {
		t.Errorf("Expected balance %s, got %s", expectedBalance.String(), result.BalanceAfter.String())
	}
	if !result.BalanceBefore.Equal(decimal.NewFromInt(2000)) {
		t.Errorf("Expected balance before 2000, got %s", result.BalanceBefore.String())
	}
}

func TestProcessTransaction_DuplicateHandling(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	ctx := context.Background()
	amount := decimal.NewFromInt(1)
	reference := "0xabc:withdraw"

	_, err := service.ProcessTransaction(ctx, ProcessTransactionParams{"parties:evm:0x1", "native", "withdraw", amount, reference, "0xabc", "", ""})
	if err != nil {
		t.Fatalf("First ProcessTransaction failed: %v", err)
	}

	_, err = service.ProcessTransaction(ctx, ProcessTransactionParams{"parties:evm:0x1", "native", "withdraw", amount, reference, "0xabc", "", ""})
	if err == nil {
		t.Fatalf("Expected duplicate transaction error, got nil")
	}
	if !errors.Is(err, ErrDuplicateTransaction) {
		t.Errorf("Expected duplicate transaction error, got: %v", err)
	}
}

func TestProcessTransaction_NegativeBalanceAllowed(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	ctx := context.Background()

	// Party accounts go negative when they fund an escrow
	amount := decimal.NewFromInt(-1000)
	result, err := service.ProcessTransaction(ctx, ProcessTransactionParams{"parties:evm:0xmaker", "native", "escrow_funding", amount, "e1:create", "e1", "", ""})
	if err != nil {
		t.Fatalf("ProcessTransaction with negative balance failed: %v", err)
	}

	if !result.BalanceAfter.Equal(amount) {
		t.Errorf("Expected negative balance %s, got %s", amount.String(), result.BalanceAfter.String())
	}
}

func TestProcessBatch_AllLegsShareReference(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	ctx := context.Background()
	legs := []ProcessTransactionParams{
		{"parties:utxo:maker", "lovelace", "escrow_funding", decimal.NewFromInt(-10), "", "e1", "0xorder", ""},
		{"escrows:utxo:e1", "lovelace", "escrow_funding", decimal.NewFromInt(10), "", "e1", "0xorder", ""},
	}

	entries, err := service.ProcessBatch(ctx, "e1:create", legs)
	if err != nil {
		t.Fatalf("ProcessBatch failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(entries))
	}
	for _, e := range entries {
		if e.Reference != "e1:create" {
			t.Errorf("Expected reference e1:create, got %s", e.Reference)
		}
	}

	journal, err := service.GetEscrowTransactions(ctx, "e1")
	if err != nil {
		t.Fatalf("GetEscrowTransactions failed: %v", err)
	}
	if len(journal) != 2 {
		t.Fatalf("Expected 2 journal legs, got %d", len(journal))
	}
	sum := decimal.Zero
	for _, e := range journal {
		sum = sum.Add(e.Amount)
	}
	if !sum.IsZero() {
		t.Errorf("Expected legs to net to zero, got %s", sum.String())
	}

	// Replaying the batch must not move anything
	if _, err := service.ProcessBatch(ctx, "e1:create", legs); !errors.Is(err, ErrDuplicateTransaction) {
		t.Errorf("Expected duplicate transaction error, got: %v", err)
	}
	balance, err := service.GetBalance(ctx, "escrows:utxo:e1", "lovelace")
	if err != nil {
		t.Fatalf("GetBalance failed: %v", err)
	}
	if !balance.Equal(decimal.NewFromInt(10)) {
		t.Errorf("Expected balance 10 after replay, got %s", balance.String())
	}
}

func TestAddJournalEntries_DebitCredit(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	ctx := context.Background()
	_, err := service.ProcessBatch(ctx, "e2:create", []ProcessTransactionParams{
		{"parties:evm:0xmaker", "native", "escrow_funding", decimal.NewFromInt(-7), "", "e2", "", ""},
		{"escrows:evm:e2", "native", "escrow_funding", decimal.NewFromInt(7), "", "e2", "", ""},
	})
	if err != nil {
		t.Fatalf("ProcessBatch failed: %v", err)
	}

	rows, err := service.db.QueryContext(ctx, `SELECT account_type, debit_amount, credit_amount FROM journal_entries ORDER BY account_type`)
	if err != nil {
		t.Fatalf("Failed to query journal entries: %v", err)
	}
	defer rows.Close()

	type entry struct{ accountType, debit, credit string }
	var got []entry
	for rows.Next() {
		var e entry
		if err := rows.Scan(&e.accountType, &e.debit, &e.credit); err != nil {
			t.Fatalf("Failed to scan journal entry: %v", err)
		}
		got = append(got, e)
	}

	want := []entry{
		{"escrows", "7", "0"},
		{"parties", "0", "7"},
	}
	if len(got) != len(want) {
		t.Fatalf("Expected %d journal entries, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Entry %d: expected %+v, got %+v", i, want[i], got[i])
		}
	}
}
