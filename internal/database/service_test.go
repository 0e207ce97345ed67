package database

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/ronakgupta11/cardano-swap/internal/escrow"
	"github.com/ronakgupta11/cardano-swap/internal/hashlock"
	"github.com/ronakgupta11/cardano-swap/internal/models"
	"github.com/ronakgupta11/cardano-swap/internal/store"
)

func testOrderRecord(hash string) models.OrderRecord {
	return models.OrderRecord{
		SignedOrder: models.SignedOrder{
			Order: models.Order{
				Maker:            common.HexToAddress("0x1111111111111111111111111111111111111111"),
				MakerSource:      "0x1111111111111111111111111111111111111111",
				Receiver:         "addr_test1receiver",
				SrcLedger:        "evm",
				DstLedger:        "utxo",
				SrcAsset:         models.NativeAsset,
				DstAsset:         "lovelace",
				SrcAmount:        big.NewInt(1000),
				DstAmount:        big.NewInt(2000),
				SrcSafetyDeposit: big.NewInt(10),
				DstSafetyDeposit: big.NewInt(20),
				Hashlock:         hashlock.Commit(hashlock.Secret{1}),
				Salt:             big.NewInt(42),
				Expiration:       time.Date(2025, 6, 1, 13, 0, 0, 0, time.UTC),
			},
			Signature: []byte{1, 2, 3},
			Hash:      common.HexToHash(hash),
		},
	}
}

func TestOrders_SaveAndGet(t *testing.T) {
	service, cleanup := setupBalanceTestDB(t)
	defer cleanup()

	ctx := context.Background()
	rec := testOrderRecord("0xaa")

	if err := service.SaveOrder(ctx, rec); err != nil {
		t.Fatalf("SaveOrder failed: %v", err)
	}

	got, err := service.GetOrder(ctx, rec.Hash.Hex())
	if err != nil {
		t.Fatalf("GetOrder failed: %v", err)
	}
	if got.Status != models.StatusPending {
		t.Errorf("Expected status pending, got %s", got.Status)
	}
	if got.Version != 1 {
		t.Errorf("Expected version 1, got %d", got.Version)
	}
	if got.Order.Hashlock != rec.Order.Hashlock {
		t.Errorf("Expected hashlock %s, got %s", rec.Order.Hashlock, got.Order.Hashlock)
	}
	if got.Order.SrcAmount.Cmp(rec.Order.SrcAmount) != 0 {
		t.Errorf("Expected src amount %s, got %s", rec.Order.SrcAmount, got.Order.SrcAmount)
	}
	if got.DisclosedAt != nil {
		t.Errorf("Expected no disclosure, got %v", got.DisclosedAt)
	}

	if err := service.SaveOrder(ctx, rec); !errors.Is(err, store.ErrDuplicateTransaction) {
		t.Errorf("Expected duplicate error, got: %v", err)
	}

	if _, err := service.GetOrder(ctx, "0xmissing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Expected not found, got: %v", err)
	}
}

func TestOrders_TakeOrder(t *testing.T) {
	service, cleanup := setupBalanceTestDB(t)
	defer cleanup()

	ctx := context.Background()
	rec := testOrderRecord("0xbb")
	if err := service.SaveOrder(ctx, rec); err != nil {
		t.Fatalf("SaveOrder failed: %v", err)
	}
	hash := rec.Hash.Hex()

	if err := service.TakeOrder(ctx, hash, "resolver-1"); err != nil {
		t.Fatalf("TakeOrder failed: %v", err)
	}
	// Same resolver again is a no-op
	if err := service.TakeOrder(ctx, hash, "resolver-1"); err != nil {
		t.Errorf("Expected retake by same resolver to succeed, got: %v", err)
	}
	if err := service.TakeOrder(ctx, hash, "resolver-2"); !errors.Is(err, store.ErrOrderTaken) {
		t.Errorf("Expected order taken, got: %v", err)
	}
	if err := service.TakeOrder(ctx, "0xmissing", "resolver-2"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Expected not found, got: %v", err)
	}

	got, err := service.GetOrder(ctx, hash)
	if err != nil {
		t.Fatalf("GetOrder failed: %v", err)
	}
	if got.Resolver != "resolver-1" {
		t.Errorf("Expected resolver-1, got %s", got.Resolver)
	}
}

func TestOrders_UpdateStatusOptimistic(t *testing.T) {
	service, cleanup := setupBalanceTestDB(t)
	defer cleanup()

	ctx := context.Background()
	rec := testOrderRecord("0xcc")
	if err := service.SaveOrder(ctx, rec); err != nil {
		t.Fatalf("SaveOrder failed: %v", err)
	}
	hash := rec.Hash.Hex()

	err := service.UpdateStatus(ctx, store.StatusUpdate{OrderHash: hash, Status: models.StatusDepositing, Reason: "", Version: 1})
	if err != nil {
		t.Fatalf("UpdateStatus failed: %v", err)
	}

	// Stale version loses
	err = service.UpdateStatus(ctx, store.StatusUpdate{OrderHash: hash, Status: models.StatusFailed, Reason: "stale", Version: 1})
	if !errors.Is(err, store.ErrConcurrentModification) {
		t.Errorf("Expected concurrent modification, got: %v", err)
	}

	got, err := service.GetOrder(ctx, hash)
	if err != nil {
		t.Fatalf("GetOrder failed: %v", err)
	}
	if got.Status != models.StatusDepositing || got.Version != 2 {
		t.Errorf("Expected depositing at version 2, got %s at %d", got.Status, got.Version)
	}

	err = service.UpdateStatus(ctx, store.StatusUpdate{OrderHash: "0xmissing", Status: models.StatusFailed, Reason: "", Version: 1})
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Expected not found, got: %v", err)
	}
}

func TestOrders_MarkDisclosedKeepsFirst(t *testing.T) {
	service, cleanup := setupBalanceTestDB(t)
	defer cleanup()

	ctx := context.Background()
	rec := testOrderRecord("0xdd")
	if err := service.SaveOrder(ctx, rec); err != nil {
		t.Fatalf("SaveOrder failed: %v", err)
	}
	hash := rec.Hash.Hex()

	first := time.Date(2025, 6, 1, 12, 5, 0, 0, time.UTC)
	if err := service.MarkDisclosed(ctx, hash, first); err != nil {
		t.Fatalf("MarkDisclosed failed: %v", err)
	}
	if err := service.MarkDisclosed(ctx, hash, first.Add(time.Minute)); err != nil {
		t.Fatalf("Second MarkDisclosed failed: %v", err)
	}

	got, err := service.GetOrder(ctx, hash)
	if err != nil {
		t.Fatalf("GetOrder failed: %v", err)
	}
	if got.DisclosedAt == nil || !got.DisclosedAt.Equal(first) {
		t.Errorf("Expected disclosure at %v, got %v", first, got.DisclosedAt)
	}
}

func TestOrders_ListActiveAndPurge(t *testing.T) {
	service, cleanup := setupBalanceTestDB(t)
	defer cleanup()

	ctx := context.Background()
	for _, h := range []string{"0x01", "0x02", "0x03"} {
		if err := service.SaveOrder(ctx, testOrderRecord(h)); err != nil {
			t.Fatalf("SaveOrder %s failed: %v", h, err)
		}
	}
	done := common.HexToHash("0x02").Hex()
	if err := service.UpdateStatus(ctx, store.StatusUpdate{OrderHash: done, Status: models.StatusCompleted, Reason: "", Version: 1}); err != nil {
		t.Fatalf("UpdateStatus failed: %v", err)
	}
	if err := service.UpsertEscrow(ctx, models.EscrowRecord{ID: "e-done", Ledger: "evm", OrderHash: done, Side: models.SideSource}); err != nil {
		t.Fatalf("UpsertEscrow failed: %v", err)
	}

	all, err := service.ListOrders(ctx, store.ListOrdersParams{})
	if err != nil {
		t.Fatalf("ListOrders failed: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("Expected 3 orders, got %d", len(all))
	}

	completed, err := service.ListOrders(ctx, store.ListOrdersParams{Status: models.StatusCompleted})
	if err != nil {
		t.Fatalf("ListOrders failed: %v", err)
	}
	if len(completed) != 1 || completed[0].Hash.Hex() != done {
		t.Errorf("Expected only %s completed, got %d orders", done, len(completed))
	}

	active, err := service.ActiveOrders(ctx)
	if err != nil {
		t.Fatalf("ActiveOrders failed: %v", err)
	}
	if len(active) != 2 {
		t.Errorf("Expected 2 active orders, got %d", len(active))
	}

	purged, err := service.PurgeFinal(ctx, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("PurgeFinal failed: %v", err)
	}
	if purged != 1 {
		t.Errorf("Expected 1 purged order, got %d", purged)
	}
	if _, err := service.GetOrder(ctx, done); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Expected purged order to be gone, got: %v", err)
	}
	escrows, err := service.GetEscrows(ctx, done)
	if err != nil {
		t.Fatalf("GetEscrows failed: %v", err)
	}
	if len(escrows) != 0 {
		t.Errorf("Expected purged escrows to be gone, got %d", len(escrows))
	}
}

func TestEscrows_UpsertReplacesState(t *testing.T) {
	service, cleanup := setupBalanceTestDB(t)
	defer cleanup()

	ctx := context.Background()
	dst := models.EscrowRecord{ID: "d1", Ledger: "utxo", OrderHash: "0xorder", Side: models.SideDestination, State: models.StateFunded}
	src := models.EscrowRecord{ID: "s1", Ledger: "evm", OrderHash: "0xorder", Side: models.SideSource, State: models.StateFunded}
	for _, rec := range []models.EscrowRecord{dst, src} {
		if err := service.UpsertEscrow(ctx, rec); err != nil {
			t.Fatalf("UpsertEscrow failed: %v", err)
		}
	}
	src.State = models.StateWithdrawn
	if err := service.UpsertEscrow(ctx, src); err != nil {
		t.Fatalf("UpsertEscrow failed: %v", err)
	}

	escrows, err := service.GetEscrows(ctx, "0xorder")
	if err != nil {
		t.Fatalf("GetEscrows failed: %v", err)
	}
	if len(escrows) != 2 {
		t.Fatalf("Expected 2 escrows, got %d", len(escrows))
	}
	if escrows[0].Side != models.SideSource || escrows[0].State != models.StateWithdrawn {
		t.Errorf("Expected withdrawn source first, got %s %s", escrows[0].Side, escrows[0].State)
	}
}

func TestJournal_FundingAndSettlement(t *testing.T) {
	service, cleanup := setupBalanceTestDB(t)
	defer cleanup()

	ctx := context.Background()
	rec := models.EscrowRecord{
		ID:            "0xescrow",
		Ledger:        "evm",
		Side:          models.SideSource,
		OrderHash:     "0xorder",
		Maker:         "0xmaker",
		Resolver:      "0xresolver",
		Asset:         "0xToken",
		Amount:        big.NewInt(1000),
		SafetyDeposit: big.NewInt(50),
	}

	if err := service.RecordFunding(ctx, rec); err != nil {
		t.Fatalf("RecordFunding failed: %v", err)
	}
	if err := service.RecordFunding(ctx, rec); !errors.Is(err, store.ErrDuplicateTransaction) {
		t.Errorf("Expected duplicate funding, got: %v", err)
	}

	escrowAccount := store.EscrowAccount("evm", "0xescrow")
	assertBalance(t, service, escrowAccount, "0xToken", 1000)
	assertBalance(t, service, escrowAccount, string(models.NativeAsset), 50)
	assertBalance(t, service, store.PartyAccount("evm", "0xmaker"), "0xToken", -1000)
	assertBalance(t, service, store.PartyAccount("evm", "0xresolver"), string(models.NativeAsset), -50)

	settlement := escrow.Settlement{
		EscrowID: rec.ID,
		Action:   models.ActionWithdraw,
		State:    models.StateWithdrawn,
		Payouts: []models.Payout{
			{To: "0xresolver", Asset: "0xToken", Amount: big.NewInt(1000), Kind: models.PayoutAsset},
			{To: "0xresolver", Asset: models.NativeAsset, Amount: big.NewInt(50), Kind: models.PayoutSafetyDeposit},
		},
	}
	if err := service.RecordSettlement(ctx, rec, settlement); err != nil {
		t.Fatalf("RecordSettlement failed: %v", err)
	}
	if err := service.RecordSettlement(ctx, rec, settlement); !errors.Is(err, store.ErrDuplicateTransaction) {
		t.Errorf("Expected duplicate settlement, got: %v", err)
	}

	assertBalance(t, service, escrowAccount, "0xToken", 0)
	assertBalance(t, service, escrowAccount, string(models.NativeAsset), 0)
	assertBalance(t, service, store.PartyAccount("evm", "0xresolver"), "0xToken", 1000)
	assertBalance(t, service, store.PartyAccount("evm", "0xresolver"), string(models.NativeAsset), 0)

	entries, err := service.GetEntries(ctx, rec.ID)
	if err != nil {
		t.Fatalf("GetEntries failed: %v", err)
	}
	if len(entries) != 8 {
		t.Errorf("Expected 8 journal legs, got %d", len(entries))
	}
}

func assertBalance(t *testing.T, service *Service, account, asset string, want int64) {
	t.Helper()
	got, err := service.GetBalance(context.Background(), account, asset)
	if err != nil {
		t.Fatalf("GetBalance %s/%s failed: %v", account, asset, err)
	}
	if !got.Equal(decimal.NewFromInt(want)) {
		t.Errorf("Expected %s/%s balance %d, got %s", account, asset, want, got.String())
	}
}
