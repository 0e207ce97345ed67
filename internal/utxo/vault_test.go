package utxo

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ronakgupta11/cardano-swap/internal/escrow/escrowtest"
	"github.com/ronakgupta11/cardano-swap/internal/models"
	"github.com/ronakgupta11/cardano-swap/internal/order"
)

func lockVault(t *testing.T, h *harness) OutRef {
	t.Helper()
	ref, err := h.wallet.Lock(context.Background(), h.maker, tokenA, srcAmount, escrowtest.OrderExpiration)
	require.NoError(t, err)
	return ref
}

// releaseTx spends the vault into out, with the resolver covering deposit.
func releaseTx(t *testing.T, h *harness, vault OutRef, out Output, deposit *big.Int) *Tx {
	t.Helper()
	tx, err := h.wallet.build([]Output{out}, Funding{Key: h.resolver, Value: models.NewValue(models.NativeAsset, deposit)})
	require.NoError(t, err)
	tx.Inputs = append(tx.Inputs, vault)
	tx.Redeemers = map[OutRef]Redeemer{vault: &VaultRelease{Resolver: h.resolver.Identity(), SafetyDeposit: srcDeposit}}
	require.NoError(t, tx.Sign(h.resolver))
	return tx
}

func TestVaultReleaseCreatesSourceEscrow(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	vault := lockVault(t, h)
	require.Len(t, h.ledger.UTxOsAt(h.ledger.VaultAddress()), 1)

	secret, lock := newLock(t)
	terms := h.terms(models.SideSource, lock, escrowtest.DefaultCascade())
	rec, err := h.wallet.CreateFromVault(ctx, h.resolver, vault, terms)
	require.NoError(t, err)
	require.Equal(t, models.StateFunded, rec.State)
	require.Equal(t, h.maker.Identity(), rec.Maker)
	require.True(t, rec.Balance.Equal(rec.Deposited()))
	require.Empty(t, h.ledger.UTxOsAt(h.ledger.VaultAddress()))

	_, err = h.wallet.Withdraw(ctx, rec.ID, h.resolver.Identity(), secret)
	require.NoError(t, err)

	// consumed vaults cannot be released again
	_, err = h.wallet.CreateFromVault(ctx, h.resolver, vault, terms)
	require.ErrorIs(t, err, ErrUnknownInput)
}

func TestVaultRejectsOutputWithoutDeposit(t *testing.T) {
	h := newTestHarness(t)
	vault := lockVault(t, h)
	_, lock := newLock(t)
	terms := h.terms(models.SideSource, lock, escrowtest.DefaultCascade())
	terms.SafetyDeposit = new(big.Int)

	out := Output{Address: h.ledger.escrowAddress(), Value: terms.Deposited(), Datum: &EscrowDatum{Terms: terms, Expiration: escrowtest.OrderExpiration}}
	tx := &Tx{
		Inputs:    []OutRef{vault},
		Outputs:   []Output{out},
		Redeemers: map[OutRef]Redeemer{vault: &VaultRelease{Resolver: h.resolver.Identity(), SafetyDeposit: srcDeposit}},
	}
	require.NoError(t, tx.Sign(h.resolver))

	makerBefore, _ := h.ledger.BalanceOf(context.Background(), h.maker.Identity(), tokenA)
	_, err := h.ledger.Submit(context.Background(), tx)
	require.ErrorIs(t, err, ErrVaultOutputMismatch)

	_, still := h.ledger.Output(vault)
	require.True(t, still)
	makerAfter, _ := h.ledger.BalanceOf(context.Background(), h.maker.Identity(), tokenA)
	require.Equal(t, makerBefore.String(), makerAfter.String())
}

func TestVaultRejectsOtherScript(t *testing.T) {
	h := newTestHarness(t)
	vault := lockVault(t, h)
	_, lock := newLock(t)
	terms := h.terms(models.SideSource, lock, escrowtest.DefaultCascade())

	decoy := ScriptHash(hash224([]byte("resolver-controlled")))
	out := Output{Address: ScriptAddress(Testnet, decoy), Value: terms.Deposited()}
	_, err := h.ledger.Submit(context.Background(), releaseTx(t, h, vault, out, srcDeposit))
	require.ErrorIs(t, err, ErrVaultOutputMismatch)

	_, still := h.ledger.Output(vault)
	require.True(t, still)
}

func TestVaultRejectsRewrittenTerms(t *testing.T) {
	h := newTestHarness(t)
	vault := lockVault(t, h)
	_, lock := newLock(t)
	terms := h.terms(models.SideSource, lock, escrowtest.DefaultCascade())
	terms.Maker = h.resolver.Identity()

	out := Output{Address: h.ledger.escrowAddress(), Value: terms.Deposited(), Datum: &EscrowDatum{Terms: terms, Expiration: escrowtest.OrderExpiration}}
	_, err := h.ledger.Submit(context.Background(), releaseTx(t, h, vault, out, srcDeposit))
	require.ErrorIs(t, err, ErrVaultOutputMismatch)
}

func TestVaultRejectsTwoEscrowOutputs(t *testing.T) {
	h := newTestHarness(t)
	vault := lockVault(t, h)
	_, lock := newLock(t)
	terms := h.terms(models.SideSource, lock, escrowtest.DefaultCascade())
	half := new(big.Int).Div(srcAmount, big.NewInt(2))
	depositHalf := new(big.Int).Div(srcDeposit, big.NewInt(2))
	terms.Amount, terms.SafetyDeposit = half, depositHalf

	out := Output{Address: h.ledger.escrowAddress(), Value: terms.Deposited(), Datum: &EscrowDatum{Terms: terms, Expiration: escrowtest.OrderExpiration}}
	tx, err := h.wallet.build([]Output{out, out}, Funding{Key: h.resolver, Value: models.NewValue(models.NativeAsset, srcDeposit)})
	require.NoError(t, err)
	tx.Inputs = append(tx.Inputs, vault)
	tx.Redeemers = map[OutRef]Redeemer{vault: &VaultRelease{Resolver: h.resolver.Identity(), SafetyDeposit: srcDeposit}}
	require.NoError(t, tx.Sign(h.resolver))

	_, err = h.ledger.Submit(context.Background(), tx)
	require.ErrorIs(t, err, ErrVaultOutputMismatch)
}

func TestVaultLockNeedsMakerSignature(t *testing.T) {
	h := newTestHarness(t)
	datum := &VaultDatum{Maker: h.maker.Identity(), ExpectedEscrow: EscrowScript, Asset: models.NativeAsset, Amount: big.NewInt(10)}
	out := Output{Address: h.ledger.VaultAddress(), Value: models.NewValue(models.NativeAsset, big.NewInt(10)), Datum: datum}
	tx, err := h.wallet.build([]Output{out}, Funding{Key: h.resolver, Value: out.Value})
	require.NoError(t, err)
	require.NoError(t, tx.Sign(h.resolver))

	_, err = h.ledger.Submit(context.Background(), tx)
	require.ErrorIs(t, err, ErrMissingSignature)
}

func TestVaultReleaseRejectsExpiredOrder(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	vault := lockVault(t, h)
	_, lock := newLock(t)
	terms := h.terms(models.SideSource, lock, escrowtest.DefaultCascade())

	h.SetNow(escrowtest.OrderExpiration)
	_, err := h.wallet.CreateFromVault(ctx, h.resolver, vault, terms)
	require.ErrorIs(t, err, order.ErrExpired)

	_, still := h.ledger.Output(vault)
	require.True(t, still)
	require.Empty(t, h.ledger.UTxOsAt(h.ledger.escrowAddress()))
}

func TestVaultRejectsExtendedExpiration(t *testing.T) {
	h := newTestHarness(t)
	vault := lockVault(t, h)
	_, lock := newLock(t)
	terms := h.terms(models.SideSource, lock, escrowtest.DefaultCascade())

	// a resolver cannot stretch the maker's order past its expiration
	h.SetNow(escrowtest.OrderExpiration)
	datum := &EscrowDatum{Terms: terms, Expiration: escrowtest.OrderExpiration.Add(time.Hour)}
	out := Output{Address: h.ledger.escrowAddress(), Value: terms.Deposited(), Datum: datum}
	_, err := h.ledger.Submit(context.Background(), releaseTx(t, h, vault, out, srcDeposit))
	require.ErrorIs(t, err, ErrVaultOutputMismatch)

	_, still := h.ledger.Output(vault)
	require.True(t, still)
}
