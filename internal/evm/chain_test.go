package evm

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/ronakgupta11/cardano-swap/internal/escrow"
	"github.com/ronakgupta11/cardano-swap/internal/escrow/escrowtest"
	"github.com/ronakgupta11/cardano-swap/internal/hashlock"
	"github.com/ronakgupta11/cardano-swap/internal/models"
	"github.com/ronakgupta11/cardano-swap/internal/order"
)

var (
	testFactory = Factory{
		Address:      common.HexToAddress("0x00000000000000000000000000000000000000f0"),
		InitCodeHash: ethcrypto.Keccak256Hash([]byte("escrow init code")),
	}
	testDomain = order.Domain{
		Name:              "HTLC Swap",
		Version:           "1",
		ChainID:           11155111,
		VerifyingContract: testFactory.Address,
	}
	tokenA = models.Asset(common.HexToAddress("0x000000000000000000000000000000000000aaaa").Hex())
	tokenB = models.Asset(common.HexToAddress("0x000000000000000000000000000000000000bbbb").Hex())

	srcAmount  = big.NewInt(1_000_000)
	dstAmount  = big.NewInt(100_000_000)
	srcDeposit = big.NewInt(10_000)
	dstDeposit = big.NewInt(20_000)
)

type harness struct {
	t        *testing.T
	chain    *Chain
	makerKey *ecdsa.PrivateKey
	parties  escrowtest.Parties
	now      time.Time
}

func newHarness(t *testing.T) escrowtest.Harness {
	return newTestHarness(t)
}

func newTestHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{t: t, now: escrowtest.Start}
	h.chain = NewChain("sepolia", testFactory, testDomain, WithClock(func() time.Time { return h.now }))

	var err error
	h.makerKey, err = ethcrypto.GenerateKey()
	require.NoError(t, err)
	resolverKey, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	relayerKey, err := ethcrypto.GenerateKey()
	require.NoError(t, err)

	h.parties = escrowtest.Parties{
		Maker:    Identity(ethcrypto.PubkeyToAddress(h.makerKey.PublicKey)),
		Resolver: Identity(ethcrypto.PubkeyToAddress(resolverKey.PublicKey)),
		Relayer:  Identity(ethcrypto.PubkeyToAddress(relayerKey.PublicKey)),
	}
	ether := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	require.NoError(t, h.chain.Credit(h.parties.Maker, tokenA, ether))
	require.NoError(t, h.chain.Credit(h.parties.Resolver, tokenB, ether))
	require.NoError(t, h.chain.Credit(h.parties.Resolver, models.NativeAsset, ether))
	return h
}

func (h *harness) Ledger() escrow.Ledger { return h.chain }
func (h *harness) Parties() escrowtest.Parties { return h.parties }
func (h *harness) SetNow(now time.Time) { h.now = now }

func (h *harness) signedOrder(lock hashlock.Hashlock) *models.SignedOrder {
	return h.signedOrderExpiring(lock, escrowtest.OrderExpiration)
}

func (h *harness) signedOrderExpiring(lock hashlock.Hashlock, expiration time.Time) *models.SignedOrder {
	h.t.Helper()
	salt, err := order.NewSalt()
	require.NoError(h.t, err)
	o := models.Order{
		Maker:            ethcrypto.PubkeyToAddress(h.makerKey.PublicKey),
		Receiver:         "addr_test1qmaker",
		SrcLedger:        "sepolia",
		DstLedger:        "preprod",
		SrcAsset:         tokenA,
		DstAsset:         models.NativeAsset,
		SrcAmount:        srcAmount,
		DstAmount:        dstAmount,
		SrcSafetyDeposit: srcDeposit,
		DstSafetyDeposit: dstDeposit,
		Hashlock:         lock,
		Salt:             salt,
		Expiration:       expiration,
	}
	so, err := order.Sign(testDomain, o, h.makerKey)
	require.NoError(h.t, err)
	return so
}

func (h *harness) prefund(terms models.EscrowRecord) error {
	addr, err := h.chain.EscrowAddress(terms)
	if err != nil {
		return err
	}
	return h.chain.Transfer(context.Background(), terms.Resolver, addr, models.NativeAsset, terms.SafetyDeposit)
}

// Gift sends value from the resolver straight to a live escrow.
func (h *harness) Gift(escrowID string, asset models.Asset, amount *big.Int) error {
	return h.chain.Transfer(context.Background(), h.parties.Resolver, models.Identity(escrowID), asset, amount)
}

func (h *harness) Create(side models.Side, lock hashlock.Hashlock, cascade models.Cascade) (models.EscrowRecord, error) {
	return h.CreateExpiring(side, lock, cascade, escrowtest.OrderExpiration)
}

func (h *harness) CreateExpiring(side models.Side, lock hashlock.Hashlock, cascade models.Cascade, expiration time.Time) (models.EscrowRecord, error) {
	ctx := context.Background()
	if side == models.SideSource {
		so := h.signedOrderExpiring(lock, expiration)
		terms, err := h.chain.SourceTerms(*so, h.parties.Resolver, cascade)
		if err != nil {
			return models.EscrowRecord{}, err
		}
		if err := h.prefund(terms); err != nil {
			return models.EscrowRecord{}, err
		}
		rec, err := h.chain.CreateSourceEscrow(ctx, *so, h.parties.Resolver, cascade)
		if err != nil {
			return models.EscrowRecord{}, err
		}
		return *rec, nil
	}

	terms := h.destinationTerms(lock, cascade)
	if err := h.prefund(terms); err != nil {
		return models.EscrowRecord{}, err
	}
	rec, err := h.chain.CreateDestinationEscrow(ctx, terms, time.Time{})
	if err != nil {
		return models.EscrowRecord{}, err
	}
	return *rec, nil
}

func (h *harness) destinationTerms(lock hashlock.Hashlock, cascade models.Cascade) models.EscrowRecord {
	return models.EscrowRecord{
		OrderHash:     common.BytesToHash(lock[:]).Hex(),
		Side:          models.SideDestination,
		Hashlock:      lock,
		Maker:         h.parties.Maker,
		Resolver:      h.parties.Resolver,
		Asset:         tokenB,
		Amount:        dstAmount,
		SafetyDeposit: dstDeposit,
		Cascade:       cascade,
	}
}

func TestChainOracle(t *testing.T) {
	escrowtest.Run(t, newHarness)
}

func newLock(t *testing.T) (hashlock.Secret, hashlock.Hashlock) {
	t.Helper()
	s, err := hashlock.GenerateSecret()
	require.NoError(t, err)
	return s, hashlock.Commit(s)
}

func TestAddressIsDeterministic(t *testing.T) {
	h := newTestHarness(t)
	_, lock := newLock(t)
	terms := h.destinationTerms(lock, escrowtest.DefaultCascade())

	a1, err := testFactory.AddressOf(terms)
	require.NoError(t, err)
	a2, err := testFactory.AddressOf(terms.Clone())
	require.NoError(t, err)
	require.Equal(t, a1, a2)

	salt, err := ImmutablesHash(terms)
	require.NoError(t, err)
	require.Equal(t, ethcrypto.CreateAddress2(testFactory.Address, salt, testFactory.InitCodeHash.Bytes()), a1)

	changed := terms.Clone()
	changed.Amount = big.NewInt(1)
	a3, err := testFactory.AddressOf(changed)
	require.NoError(t, err)
	require.NotEqual(t, a1, a3)

	later := terms.Clone()
	later.Cascade.Public = later.Cascade.Public.Add(time.Second)
	a4, err := testFactory.AddressOf(later)
	require.NoError(t, err)
	require.NotEqual(t, a1, a4)

	// a sub-second shift would otherwise land on the same address
	blurred := terms.Clone()
	blurred.Cascade.Public = blurred.Cascade.Public.Add(500 * time.Millisecond)
	_, err = ImmutablesHash(blurred)
	require.ErrorIs(t, err, escrow.ErrInvalidTerms)
	_, err = h.chain.EscrowAddress(blurred)
	require.ErrorIs(t, err, escrow.ErrInvalidTerms)
}

func TestCreateRequiresPrefundedDeposit(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	_, lock := newLock(t)
	terms := h.destinationTerms(lock, escrowtest.DefaultCascade())

	_, err := h.chain.CreateDestinationEscrow(ctx, terms, time.Time{})
	require.ErrorIs(t, err, escrow.ErrInsufficientFunding)

	addr, err := h.chain.EscrowAddress(terms)
	require.NoError(t, err)
	require.NoError(t, h.chain.Transfer(ctx, h.parties.Resolver, addr, models.NativeAsset, big.NewInt(1)))
	_, err = h.chain.CreateDestinationEscrow(ctx, terms, time.Time{})
	require.ErrorIs(t, err, escrow.ErrInsufficientFunding)
	require.ErrorIs(t, h.chain.CheckPrefunded(ctx, terms), escrow.ErrInsufficientFunding)

	require.NoError(t, h.chain.Transfer(ctx, h.parties.Resolver, addr, models.NativeAsset, dstDeposit))
	_, err = h.chain.CreateDestinationEscrow(ctx, terms, time.Time{})
	require.ErrorIs(t, err, escrow.ErrAmountMismatch)
}

func TestCreateSourceRejectsStaleOrder(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	_, lock := newLock(t)
	so := h.signedOrder(lock)
	terms, err := h.chain.SourceTerms(*so, h.parties.Resolver, escrowtest.DefaultCascade())
	require.NoError(t, err)
	require.NoError(t, h.prefund(terms))

	makerBefore, err := h.chain.BalanceOf(ctx, h.parties.Maker, tokenA)
	require.NoError(t, err)

	h.SetNow(so.Order.Expiration.Add(time.Second))
	_, err = h.chain.CreateSourceEscrow(ctx, *so, h.parties.Resolver, escrowtest.DefaultCascade())
	require.ErrorIs(t, err, order.ErrExpired)

	makerAfter, err := h.chain.BalanceOf(ctx, h.parties.Maker, tokenA)
	require.NoError(t, err)
	require.Equal(t, makerBefore.String(), makerAfter.String())
}

func TestCreateSourceConsumesOrder(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	_, lock := newLock(t)
	so := h.signedOrder(lock)
	terms, err := h.chain.SourceTerms(*so, h.parties.Resolver, escrowtest.DefaultCascade())
	require.NoError(t, err)
	require.NoError(t, h.prefund(terms))

	_, err = h.chain.CreateSourceEscrow(ctx, *so, h.parties.Resolver, escrowtest.DefaultCascade())
	require.NoError(t, err)

	// different cascade, different address: the order still cannot be reused
	other := escrowtest.DefaultCascade()
	other.Public = other.Public.Add(time.Minute)
	terms2, err := h.chain.SourceTerms(*so, h.parties.Resolver, other)
	require.NoError(t, err)
	require.NoError(t, h.prefund(terms2))
	_, err = h.chain.CreateSourceEscrow(ctx, *so, h.parties.Resolver, other)
	require.ErrorIs(t, err, order.ErrConsumed)
}

func TestCreateSourceRejectsForgedSignature(t *testing.T) {
	h := newTestHarness(t)
	_, lock := newLock(t)
	so := h.signedOrder(lock)
	so.Order.SrcAmount = new(big.Int).Mul(srcAmount, big.NewInt(2))

	_, err := h.chain.CreateSourceEscrow(context.Background(), *so, h.parties.Resolver, escrowtest.DefaultCascade())
	require.ErrorIs(t, err, order.ErrBadSignature)
}

func TestCreateDestinationChecksCrossSide(t *testing.T) {
	h := newTestHarness(t)
	_, lock := newLock(t)
	cascade := escrowtest.DefaultCascade()
	terms := h.destinationTerms(lock, cascade)
	require.NoError(t, h.prefund(terms))

	_, err := h.chain.CreateDestinationEscrow(context.Background(), terms, cascade.ResolverCancel)
	require.ErrorIs(t, err, escrow.ErrCascadeMismatch)

	rec, err := h.chain.CreateDestinationEscrow(context.Background(), terms, cascade.ResolverCancel.Add(time.Minute))
	require.NoError(t, err)
	require.Equal(t, models.StateFunded, rec.State)
}

func TestCreateTwiceAtSameAddress(t *testing.T) {
	h := newTestHarness(t)
	_, lock := newLock(t)
	terms := h.destinationTerms(lock, escrowtest.DefaultCascade())
	require.NoError(t, h.prefund(terms))
	_, err := h.chain.CreateDestinationEscrow(context.Background(), terms, time.Time{})
	require.NoError(t, err)

	_, err = h.chain.CreateDestinationEscrow(context.Background(), terms, time.Time{})
	require.ErrorIs(t, err, escrow.ErrEscrowExists)
}

func TestTransitionRejectsNonAddressCaller(t *testing.T) {
	h := newTestHarness(t)
	_, lock := newLock(t)
	rec, err := h.Create(models.SideDestination, lock, escrowtest.DefaultCascade())
	require.NoError(t, err)

	h.SetNow(rec.Cascade.Public.Add(time.Second))
	_, err = h.chain.PublicCancel(context.Background(), rec.ID, "addr_test1notanaccount")
	require.ErrorIs(t, err, escrow.ErrUnauthorized)
}

func TestTransitionSweepsUnsolicitedValue(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	secret, lock := newLock(t)
	rec, err := h.Create(models.SideDestination, lock, escrowtest.DefaultCascade())
	require.NoError(t, err)

	require.NoError(t, h.Gift(rec.ID, models.NativeAsset, big.NewInt(7)))
	live, err := h.chain.Escrow(ctx, rec.ID)
	require.NoError(t, err)
	require.True(t, live.Balance.Covers(rec.Deposited()))
	require.False(t, live.Balance.Equal(rec.Deposited()))

	relayerBefore, err := h.chain.BalanceOf(ctx, h.parties.Relayer, models.NativeAsset)
	require.NoError(t, err)

	h.SetNow(rec.Cascade.ResolverExclusive.Add(time.Second))
	s, err := h.chain.PublicWithdraw(ctx, rec.ID, h.parties.Relayer, secret)
	require.NoError(t, err)
	require.True(t, s.Disbursed().Equal(rec.Deposited()))

	relayerAfter, err := h.chain.BalanceOf(ctx, h.parties.Relayer, models.NativeAsset)
	require.NoError(t, err)
	want := new(big.Int).Add(relayerBefore, new(big.Int).Add(rec.SafetyDeposit, big.NewInt(7)))
	require.Equal(t, want.String(), relayerAfter.String())

	final, err := h.chain.Escrow(ctx, rec.ID)
	require.NoError(t, err)
	require.Equal(t, models.StateWithdrawn, final.State)
	require.True(t, final.Balance.IsZero())
}
