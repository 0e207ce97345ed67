package coordinator

import (
	"context"
	"math/big"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/ronakgupta11/cardano-swap/internal/database"
	"github.com/ronakgupta11/cardano-swap/internal/escrow"
	"github.com/ronakgupta11/cardano-swap/internal/hashlock"
	"github.com/ronakgupta11/cardano-swap/internal/models"
	"github.com/ronakgupta11/cardano-swap/internal/order"
	"github.com/ronakgupta11/cardano-swap/internal/relay"
	"github.com/ronakgupta11/cardano-swap/internal/secrets"
	"github.com/ronakgupta11/cardano-swap/internal/store"
)

var (
	testDomain = order.Domain{
		Name:              "HTLC Swap",
		Version:           "1",
		ChainID:           11155111,
		VerifyingContract: common.HexToAddress("0x00000000000000000000000000000000000000e5"),
	}
	start = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
)

type fakeFeed struct {
	mu   sync.Mutex
	recs []models.EscrowRecord
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{}
}

// set adds rec or replaces the record with the same ID.
func (f *fakeFeed) set(rec models.EscrowRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.recs {
		if f.recs[i].ID == rec.ID {
			f.recs[i] = rec
			return
		}
	}
	f.recs = append(f.recs, rec)
}

func (f *fakeFeed) FindByHashlock(_ context.Context, side models.Side, h hashlock.Hashlock) ([]models.EscrowRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.EscrowRecord
	for _, rec := range f.recs {
		if rec.Side == side && rec.Hashlock == h {
			out = append(out, rec.Clone())
		}
	}
	if len(out) == 0 {
		return nil, escrow.ErrEscrowNotFound
	}
	escrow.SortCandidates(out)
	return out, nil
}

type recordingRelay struct {
	mu   sync.Mutex
	sent []relay.Message
}

func (r *recordingRelay) Publish(_ context.Context, m relay.Message) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, m)
	return len(r.sent) == 1, nil
}

func (r *recordingRelay) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

type harness struct {
	coord  *Coordinator
	db     *database.Service
	src    *fakeFeed
	dst    *fakeFeed
	relay  *recordingRelay
	order  models.SignedOrder
	secret hashlock.Secret
	now    time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()

	db, err := database.NewService(ctx, models.DatabaseConfig{
		Path:         filepath.Join(t.TempDir(), "swaps.db"),
		MaxOpenConns: 1,
		PingTimeout:  time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(db.Close)

	vault, err := secrets.Open(filepath.Join(t.TempDir(), "secrets"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = vault.Close() })

	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	secret, err := hashlock.GenerateSecret()
	require.NoError(t, err)

	o := models.Order{
		Maker:            ethcrypto.PubkeyToAddress(key.PublicKey),
		Receiver:         "addr_test1maker",
		SrcLedger:        "sepolia",
		DstLedger:        "preprod",
		SrcAsset:         "0x0000000000000000000000000000000000000abc",
		DstAsset:         models.NativeAsset,
		SrcAmount:        big.NewInt(1_000_000),
		DstAmount:        big.NewInt(100_000_000),
		SrcSafetyDeposit: big.NewInt(10_000),
		DstSafetyDeposit: big.NewInt(2_000_000),
		Hashlock:         hashlock.Commit(secret),
		Salt:             big.NewInt(7),
		Expiration:       start.Add(time.Hour),
	}
	so, err := order.Sign(testDomain, o, key)
	require.NoError(t, err)
	require.NoError(t, db.SaveOrder(ctx, models.OrderRecord{SignedOrder: *so}))
	require.NoError(t, vault.Put(so.Hash.Hex(), secret))

	h := &harness{
		db:     db,
		src:    newFakeFeed(),
		dst:    newFakeFeed(),
		relay:  &recordingRelay{},
		order:  *so,
		secret: secret,
		now:    start,
	}
	h.coord = New(Config{
		Store:       db,
		Feeds:       map[string]escrow.Feed{"sepolia": h.src, "preprod": h.dst},
		Secrets:     vault,
		Relay:       h.relay,
		ExpiryGrace: time.Minute,
		Clock:       func() time.Time { return h.now },
	})
	return h
}

func (h *harness) srcEscrow() models.EscrowRecord {
	o := h.order.Order
	rec := models.EscrowRecord{
		ID:            "0x00000000000000000000000000000000000005c1",
		Ledger:        o.SrcLedger,
		Side:          models.SideSource,
		OrderHash:     h.order.Hash.Hex(),
		Hashlock:      o.Hashlock,
		Maker:         order.Identity(o.Maker),
		Resolver:      "0x00000000000000000000000000000000000000aa",
		Asset:         o.SrcAsset,
		Amount:        new(big.Int).Set(o.SrcAmount),
		SafetyDeposit: new(big.Int).Set(o.SrcSafetyDeposit),
		Cascade: models.Cascade{
			ResolverExclusive: start.Add(10 * time.Minute),
			ResolverCancel:    start.Add(30 * time.Minute),
			Public:            start.Add(45 * time.Minute),
		},
		State:     models.StateFunded,
		CreatedAt: start,
	}
	rec.Balance = rec.Deposited()
	return rec
}

func (h *harness) dstEscrow() models.EscrowRecord {
	o := h.order.Order
	rec := models.EscrowRecord{
		ID:            "txid0000#0",
		Ledger:        o.DstLedger,
		Side:          models.SideDestination,
		Hashlock:      o.Hashlock,
		Maker:         "addr_test1maker",
		Resolver:      "addr_test1resolver",
		Receiver:      o.Receiver,
		Asset:         o.DstAsset,
		Amount:        new(big.Int).Set(o.DstAmount),
		SafetyDeposit: new(big.Int).Set(o.DstSafetyDeposit),
		Cascade: models.Cascade{
			ResolverExclusive: start.Add(5 * time.Minute),
			ResolverCancel:    start.Add(15 * time.Minute),
			Public:            start.Add(25 * time.Minute),
		},
		State:     models.StateFunded,
		CreatedAt: start,
	}
	rec.Balance = rec.Deposited()
	return rec
}

func withdrawn(rec models.EscrowRecord, at time.Time) models.EscrowRecord {
	rec.State = models.StateWithdrawn
	rec.SettledBy = models.ActionWithdraw
	rec.SettledAt = at
	rec.Balance = models.Value{}
	rec.Payouts = []models.Payout{
		{To: rec.AssetRecipient(), Asset: rec.Asset, Amount: new(big.Int).Set(rec.Amount), Kind: models.PayoutAsset},
		{To: rec.NonRecipient(), Asset: models.NativeAsset, Amount: new(big.Int).Set(rec.SafetyDeposit), Kind: models.PayoutSafetyDeposit},
	}
	return rec
}

func cancelled(rec models.EscrowRecord, at time.Time) models.EscrowRecord {
	rec.State = models.StateCancelled
	rec.SettledBy = models.ActionCancel
	rec.SettledAt = at
	rec.Balance = models.Value{}
	rec.Payouts = []models.Payout{
		{To: rec.Depositor(), Asset: rec.Asset, Amount: new(big.Int).Set(rec.Amount), Kind: models.PayoutAsset},
		{To: rec.Resolver, Asset: models.NativeAsset, Amount: new(big.Int).Set(rec.SafetyDeposit), Kind: models.PayoutSafetyDeposit},
	}
	return rec
}

func (h *harness) sync(t *testing.T) *models.OrderRecord {
	t.Helper()
	_, err := h.coord.Sync(context.Background())
	require.NoError(t, err)
	rec, err := h.db.GetOrder(context.Background(), h.order.Hash.Hex())
	require.NoError(t, err)
	return rec
}

func TestCoordinator_NoDisclosureBeforeBothFunded(t *testing.T) {
	h := newHarness(t)

	rec := h.sync(t)
	require.Equal(t, models.StatusPending, rec.Status)
	require.Zero(t, h.relay.count())

	h.src.set(h.srcEscrow())
	rec = h.sync(t)
	require.Equal(t, models.StatusDepositing, rec.Status)
	require.Nil(t, rec.DisclosedAt)
	require.Zero(t, h.relay.count())

	// created but not yet funded
	pending := h.dstEscrow()
	pending.State = models.StateUninitialized
	pending.Balance = nil
	h.dst.set(pending)
	h.sync(t)
	require.Zero(t, h.relay.count())

	h.dst.set(h.dstEscrow())
	rec = h.sync(t)
	require.Equal(t, models.StatusWithdrawing, rec.Status)
	require.NotNil(t, rec.DisclosedAt)
	require.Equal(t, 1, h.relay.count())
	require.Equal(t, h.secret, h.relay.sent[0].Secret)
	require.Equal(t, h.order.Order.Hashlock, h.relay.sent[0].Hashlock)

	h.sync(t)
	require.Equal(t, 1, h.relay.count(), "secret must be disclosed once")
}

func TestCoordinator_UnderfundedEscrowWithholdsSecret(t *testing.T) {
	h := newHarness(t)

	src := h.srcEscrow()
	src.Balance = models.NewValue(src.Asset, src.Amount)
	h.src.set(src)
	h.dst.set(h.dstEscrow())

	rec := h.sync(t)
	require.Equal(t, models.StatusDepositing, rec.Status)
	require.Contains(t, rec.Reason, "source")
	require.Zero(t, h.relay.count())

	// the resolver tops the deposit up and the swap proceeds
	h.src.set(h.srcEscrow())
	rec = h.sync(t)
	require.Equal(t, models.StatusWithdrawing, rec.Status)
	require.Equal(t, 1, h.relay.count())
}

func TestCoordinator_CrossSideViolationWithholdsSecret(t *testing.T) {
	h := newHarness(t)

	dst := h.dstEscrow()
	dst.Cascade.ResolverCancel = start.Add(40 * time.Minute)
	dst.Cascade.Public = start.Add(50 * time.Minute)
	h.src.set(h.srcEscrow())
	h.dst.set(dst)

	rec := h.sync(t)
	require.Equal(t, models.StatusDepositing, rec.Status)
	require.Contains(t, rec.Reason, "secret withheld")
	require.Zero(t, h.relay.count())

	active, err := h.db.ActiveOrders(context.Background())
	require.NoError(t, err)
	require.Len(t, active, 1)
}

func TestCoordinator_CopycatEscrowDoesNotBlockSwap(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// a stranger locks a smaller amount to the same hashlock first
	copycat := h.dstEscrow()
	copycat.ID = "txidc0c0#0"
	copycat.Resolver = "addr_test1stranger"
	copycat.Amount = big.NewInt(1)
	copycat.Balance = copycat.Deposited()
	copycat.CreatedAt = start.Add(-time.Minute)
	h.dst.set(copycat)
	h.src.set(h.srcEscrow())

	rec := h.sync(t)
	require.Equal(t, models.StatusDepositing, rec.Status)
	require.Zero(t, h.relay.count())

	h.dst.set(h.dstEscrow())
	rec = h.sync(t)
	require.Equal(t, models.StatusWithdrawing, rec.Status)
	require.Equal(t, 1, h.relay.count())

	stored, err := h.db.GetEscrows(ctx, h.order.Hash.Hex())
	require.NoError(t, err)
	for _, e := range stored {
		require.NotEqual(t, copycat.ID, e.ID)
	}
	entries, err := h.db.GetEntries(ctx, copycat.ID)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestCoordinator_StalledEscrowIsStillJournaled(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	src := h.srcEscrow()
	h.src.set(src)
	h.sync(t)

	// nobody acts before the public deadline
	h.now = src.Cascade.Public.Add(2 * time.Minute)
	rec := h.sync(t)
	require.Equal(t, models.StatusDepositing, rec.Status)
	require.Contains(t, rec.Reason, "stalled")
	require.True(t, rec.Status.Watched())

	h.coord.cleanup(ctx)
	_, err := h.db.GetOrder(ctx, h.order.Hash.Hex())
	require.NoError(t, err)

	h.now = h.now.Add(time.Minute)
	h.src.set(cancelled(src, h.now))
	rec = h.sync(t)
	require.Equal(t, models.StatusCancelled, rec.Status)

	for _, asset := range []models.Asset{src.Asset, models.NativeAsset} {
		bal, err := h.db.GetBalance(ctx, store.EscrowAccount(src.Ledger, src.ID), string(asset))
		require.NoError(t, err)
		require.True(t, bal.IsZero(), "escrow still holds %s %s", bal, asset)
	}
}

func TestCoordinator_CompletedSwapIsJournaled(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	src, dst := h.srcEscrow(), h.dstEscrow()
	h.src.set(src)
	h.dst.set(dst)
	h.sync(t)

	h.now = start.Add(6 * time.Minute)
	h.dst.set(withdrawn(dst, h.now))
	rec := h.sync(t)
	require.Equal(t, models.StatusWithdrawing, rec.Status)

	h.src.set(withdrawn(src, h.now))
	rec = h.sync(t)
	require.Equal(t, models.StatusCompleted, rec.Status)

	for _, e := range []models.EscrowRecord{src, dst} {
		entries, err := h.db.GetEntries(ctx, e.ID)
		require.NoError(t, err)
		require.NotEmpty(t, entries)

		for _, asset := range []models.Asset{e.Asset, models.NativeAsset} {
			bal, err := h.db.GetBalance(ctx, store.EscrowAccount(e.Ledger, e.ID), string(asset))
			require.NoError(t, err)
			require.True(t, bal.IsZero(), "escrow %s still holds %s %s", e.ID, bal, asset)
		}
	}

	stored, err := h.db.GetEscrows(ctx, h.order.Hash.Hex())
	require.NoError(t, err)
	require.Len(t, stored, 2)
	require.Equal(t, models.SideSource, stored[0].Side)
	require.Equal(t, models.StateWithdrawn, stored[1].State)
	require.Equal(t, h.order.Hash.Hex(), stored[1].OrderHash)
}

func TestCoordinator_ReplayedPollDoesNotDoubleJournal(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	src := h.srcEscrow()
	h.src.set(src)
	h.sync(t)

	// a second coordinator over the same store starts with an empty cache
	again := New(Config{
		Store: h.db,
		Feeds: map[string]escrow.Feed{"sepolia": h.src, "preprod": h.dst},
		Clock: func() time.Time { return h.now },
	})
	_, err := again.Sync(ctx)
	require.NoError(t, err)

	bal, err := h.db.GetBalance(ctx, store.EscrowAccount(src.Ledger, src.ID), string(src.Asset))
	require.NoError(t, err)
	require.Equal(t, "1000000", bal.String())
}

func TestCoordinator_CancelledSwap(t *testing.T) {
	h := newHarness(t)

	src, dst := h.srcEscrow(), h.dstEscrow()
	h.src.set(src)
	h.dst.set(h.dstEscrow())
	h.sync(t)

	h.now = start.Add(16 * time.Minute)
	h.dst.set(cancelled(dst, h.now))
	rec := h.sync(t)
	require.Equal(t, models.StatusDepositing, rec.Status)
	require.Contains(t, rec.Reason, "destination cancelled")

	h.now = start.Add(31 * time.Minute)
	h.src.set(cancelled(src, h.now))
	rec = h.sync(t)
	require.Equal(t, models.StatusCancelled, rec.Status)
}

func TestCoordinator_ExpiresUnfundedOrder(t *testing.T) {
	h := newHarness(t)

	h.now = start.Add(time.Hour + 2*time.Minute)
	rec := h.sync(t)
	require.Equal(t, models.StatusExpired, rec.Status)
}

func TestCoordinator_UnknownLedgerFails(t *testing.T) {
	h := newHarness(t)
	delete(h.coord.feeds, "preprod")

	h.src.set(h.srcEscrow())
	rec := h.sync(t)
	require.Equal(t, models.StatusFailed, rec.Status)
	require.Contains(t, rec.Reason, "preprod")
}

func TestCoordinator_CleanupPurgesFinishedOrders(t *testing.T) {
	h := newHarness(t)

	h.now = start.Add(2 * time.Hour)
	h.sync(t)

	h.coord.markJournaled("stale")
	h.now = time.Now().UTC().Add(48 * time.Hour)
	h.coord.cleanup(context.Background())

	require.False(t, h.coord.isJournaled("stale"))
	_, err := h.db.GetOrder(context.Background(), h.order.Hash.Hex())
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestCoordinator_StartRequiresFeeds(t *testing.T) {
	c := New(Config{})
	require.Error(t, c.Start(context.Background()))
}
