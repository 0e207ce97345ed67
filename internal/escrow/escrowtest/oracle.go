/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package escrowtest is a behavioural oracle run against every ledger
// rendition of the escrow state machine.
package escrowtest

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ronakgupta11/cardano-swap/internal/escrow"
	"github.com/ronakgupta11/cardano-swap/internal/hashlock"
	"github.com/ronakgupta11/cardano-swap/internal/models"
	"github.com/ronakgupta11/cardano-swap/internal/order"
)

// Parties are the identities a harness has funded.
type Parties struct {
	Maker    models.Identity
	Resolver models.Identity
	Relayer  models.Identity
}

// Harness adapts one ledger rendition to the oracle.
type Harness interface {
	Ledger() escrow.Ledger
	Parties() Parties
	SetNow(now time.Time)
	// Create builds and funds an escrow on side with the harness's default
	// amounts, for an order expiring at OrderExpiration. Errors come straight
	// from the ledger.
	Create(side models.Side, h hashlock.Hashlock, cascade models.Cascade) (models.EscrowRecord, error)
	// CreateExpiring is Create for an order that expires at expiration.
	CreateExpiring(side models.Side, h hashlock.Hashlock, cascade models.Cascade, expiration time.Time) (models.EscrowRecord, error)
}

// Gifter is implemented by harnesses whose ledger lets anyone send value to
// a live escrow's address.
type Gifter interface {
	Gift(escrowID string, asset models.Asset, amount *big.Int) error
}

var (
	// Start is the instant every harness clock begins at.
	Start = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	// OrderExpiration is when the orders behind Create expire.
	OrderExpiration = Start.Add(time.Hour)
)

// DefaultCascade is relative to Start.
func DefaultCascade() models.Cascade {
	return models.Cascade{
		ResolverExclusive: Start.Add(10 * time.Minute),
		ResolverCancel:    Start.Add(20 * time.Minute),
		Public:            Start.Add(30 * time.Minute),
	}
}

// Run executes every property against fresh harnesses from newHarness.
func Run(t *testing.T, newHarness func(t *testing.T) Harness) {
	t.Run("Conservation", func(t *testing.T) { testConservation(t, newHarness) })
	t.Run("TerminalExclusivity", func(t *testing.T) { testExclusivity(t, newHarness) })
	t.Run("RejectsBadCascade", func(t *testing.T) { testBadCascade(t, newHarness) })
	t.Run("WrongSecretMovesNothing", func(t *testing.T) { testWrongSecret(t, newHarness) })
	t.Run("HappyPath", func(t *testing.T) { testHappyPath(t, newHarness) })
	t.Run("ResolverAbandons", func(t *testing.T) { testAbandon(t, newHarness) })
	t.Run("PublicWithdrawRescue", func(t *testing.T) { testPublicRescue(t, newHarness) })
	t.Run("PublicCancel", func(t *testing.T) { testPublicCancel(t, newHarness) })
	t.Run("UnsolicitedValue", func(t *testing.T) { testUnsolicitedValue(t, newHarness) })
	t.Run("StaleOrder", func(t *testing.T) { testStaleOrder(t, newHarness) })
}

type step struct {
	name string
	at   func(c models.Cascade) time.Time
	run  func(ctx context.Context, l escrow.Ledger, id string, p Parties, s hashlock.Secret) (*escrow.Settlement, error)
}

func steps() []step {
	return []step{
		{"withdraw", func(c models.Cascade) time.Time { return Start },
			func(ctx context.Context, l escrow.Ledger, id string, p Parties, s hashlock.Secret) (*escrow.Settlement, error) {
				return l.Withdraw(ctx, id, p.Resolver, s)
			}},
		{"public_withdraw", func(c models.Cascade) time.Time { return c.ResolverExclusive.Add(time.Second) },
			func(ctx context.Context, l escrow.Ledger, id string, p Parties, s hashlock.Secret) (*escrow.Settlement, error) {
				return l.PublicWithdraw(ctx, id, p.Relayer, s)
			}},
		{"cancel", func(c models.Cascade) time.Time { return c.ResolverCancel.Add(time.Second) },
			func(ctx context.Context, l escrow.Ledger, id string, p Parties, _ hashlock.Secret) (*escrow.Settlement, error) {
				return l.Cancel(ctx, id, p.Resolver)
			}},
		{"public_cancel", func(c models.Cascade) time.Time { return c.Public.Add(time.Second) },
			func(ctx context.Context, l escrow.Ledger, id string, p Parties, _ hashlock.Secret) (*escrow.Settlement, error) {
				return l.PublicCancel(ctx, id, p.Relayer)
			}},
	}
}

type snapshot map[models.Identity]models.Value

func takeSnapshot(t *testing.T, l escrow.Ledger, p Parties, assets ...models.Asset) snapshot {
	t.Helper()
	out := snapshot{}
	for _, who := range []models.Identity{p.Maker, p.Resolver, p.Relayer} {
		v := models.Value{}
		for _, a := range assets {
			bal, err := l.BalanceOf(context.Background(), who, a)
			require.NoError(t, err)
			v.Add(a, bal)
		}
		out[who] = v
	}
	return out
}

func gained(before, after snapshot) models.Value {
	total := models.Value{}
	for who, v := range after {
		assets := map[models.Asset]struct{}{}
		for _, a := range v.Assets() {
			assets[a] = struct{}{}
		}
		for _, a := range before[who].Assets() {
			assets[a] = struct{}{}
		}
		for a := range assets {
			total.Add(a, new(big.Int).Sub(v.Get(a), before[who].Get(a)))
		}
	}
	return total
}

func newSecret(t *testing.T) hashlock.Secret {
	t.Helper()
	s, err := hashlock.GenerateSecret()
	require.NoError(t, err)
	return s
}

func testConservation(t *testing.T, newHarness func(t *testing.T) Harness) {
	for _, st := range steps() {
		st := st
		t.Run(st.name, func(t *testing.T) {
			h := newHarness(t)
			ctx := context.Background()
			p := h.Parties()
			secret := newSecret(t)
			h.SetNow(Start)

			rec, err := h.Create(models.SideSource, hashlock.Commit(secret), DefaultCascade())
			require.NoError(t, err)
			require.Equal(t, models.StateFunded, rec.State)

			before := takeSnapshot(t, h.Ledger(), p, rec.Asset, models.NativeAsset)
			h.SetNow(st.at(rec.Cascade))
			settlement, err := st.run(ctx, h.Ledger(), rec.ID, p, secret)
			require.NoError(t, err)
			after := takeSnapshot(t, h.Ledger(), p, rec.Asset, models.NativeAsset)

			require.True(t, settlement.Disbursed().Equal(rec.Deposited()))
			require.True(t, gained(before, after).Equal(rec.Deposited()),
				"parties gained %v, escrow held %v", gained(before, after), rec.Deposited())

			final, err := h.Ledger().Escrow(ctx, rec.ID)
			require.NoError(t, err)
			require.True(t, final.State.Terminal())
			require.True(t, final.Balance.IsZero(), "escrow still holds %v", final.Balance)
		})
	}
}

func testExclusivity(t *testing.T, newHarness func(t *testing.T) Harness) {
	for i, first := range steps() {
		first := first
		t.Run(first.name+"_first", func(t *testing.T) {
			h := newHarness(t)
			ctx := context.Background()
			p := h.Parties()
			secret := newSecret(t)
			h.SetNow(Start)

			rec, err := h.Create(models.SideSource, hashlock.Commit(secret), DefaultCascade())
			require.NoError(t, err)

			h.SetNow(first.at(rec.Cascade))
			_, err = first.run(ctx, h.Ledger(), rec.ID, p, secret)
			require.NoError(t, err)

			for j, other := range steps() {
				h.SetNow(other.at(rec.Cascade))
				_, err := other.run(ctx, h.Ledger(), rec.ID, p, secret)
				require.Error(t, err, "step %d after step %d must fail", j, i)
			}
		})
	}
}

func testBadCascade(t *testing.T, newHarness func(t *testing.T) Harness) {
	h := newHarness(t)
	h.SetNow(Start)
	c := DefaultCascade()
	c.ResolverCancel = c.ResolverExclusive

	before := takeSnapshot(t, h.Ledger(), h.Parties(), models.NativeAsset)
	_, err := h.Create(models.SideSource, hashlock.Commit(newSecret(t)), c)
	require.ErrorIs(t, err, escrow.ErrInvalidTerms)
	require.True(t, gained(before, takeSnapshot(t, h.Ledger(), h.Parties(), models.NativeAsset)).IsZero())
}

func testWrongSecret(t *testing.T, newHarness func(t *testing.T) Harness) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.Parties()
	secret := newSecret(t)
	h.SetNow(Start)

	rec, err := h.Create(models.SideSource, hashlock.Commit(secret), DefaultCascade())
	require.NoError(t, err)

	before := takeSnapshot(t, h.Ledger(), p, rec.Asset, models.NativeAsset)
	_, err = h.Ledger().Withdraw(ctx, rec.ID, p.Resolver, newSecret(t))
	require.ErrorIs(t, err, escrow.ErrInvalidSecret)
	after := takeSnapshot(t, h.Ledger(), p, rec.Asset, models.NativeAsset)
	require.True(t, gained(before, after).IsZero())

	still, err := h.Ledger().Escrow(ctx, rec.ID)
	require.NoError(t, err)
	require.Equal(t, models.StateFunded, still.State)
	require.True(t, still.Balance.Equal(rec.Deposited()))
}

func testHappyPath(t *testing.T, newHarness func(t *testing.T) Harness) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.Parties()
	secret := newSecret(t)
	lock := hashlock.Commit(secret)
	h.SetNow(Start)

	src, err := h.Create(models.SideSource, lock, DefaultCascade())
	require.NoError(t, err)
	dstCascade := DefaultCascade()
	dstCascade.ResolverCancel = dstCascade.ResolverCancel.Add(-5 * time.Minute)
	dst, err := h.Create(models.SideDestination, lock, dstCascade)
	require.NoError(t, err)

	found, err := h.Ledger().FindByHashlock(ctx, models.SideDestination, lock)
	require.NoError(t, err)
	require.Len(t, found, 1)
	require.Equal(t, dst.ID, found[0].ID)

	makerSrcBefore, _ := h.Ledger().BalanceOf(ctx, p.Maker, src.Asset)
	resolverDstBefore, _ := h.Ledger().BalanceOf(ctx, p.Resolver, dst.Asset)

	h.SetNow(Start.Add(time.Minute))
	_, err = h.Ledger().Withdraw(ctx, dst.ID, p.Maker, secret)
	require.NoError(t, err)
	_, err = h.Ledger().Withdraw(ctx, src.ID, p.Resolver, secret)
	require.NoError(t, err)

	srcFinal, _ := h.Ledger().Escrow(ctx, src.ID)
	dstFinal, _ := h.Ledger().Escrow(ctx, dst.ID)
	require.Equal(t, models.StateWithdrawn, srcFinal.State)
	require.Equal(t, models.StateWithdrawn, dstFinal.State)

	// maker receives the destination asset, resolver the source asset
	makerDst, _ := h.Ledger().BalanceOf(ctx, p.Maker, dst.Asset)
	resolverSrc, _ := h.Ledger().BalanceOf(ctx, p.Resolver, src.Asset)
	require.True(t, makerDst.Sign() > 0)
	require.True(t, resolverSrc.Sign() > 0)
	if src.Asset != dst.Asset && src.Asset != models.NativeAsset && dst.Asset != models.NativeAsset {
		makerSrcAfter, _ := h.Ledger().BalanceOf(ctx, p.Maker, src.Asset)
		require.Equal(t, makerSrcBefore.String(), makerSrcAfter.String())
		resolverDstAfter, _ := h.Ledger().BalanceOf(ctx, p.Resolver, dst.Asset)
		require.Equal(t, resolverDstBefore.String(), resolverDstAfter.String())
	}
}

func testAbandon(t *testing.T, newHarness func(t *testing.T) Harness) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.Parties()
	secret := newSecret(t)
	h.SetNow(Start)

	src, err := h.Create(models.SideSource, hashlock.Commit(secret), DefaultCascade())
	require.NoError(t, err)

	h.SetNow(src.Cascade.ResolverCancel)
	_, err = h.Ledger().Cancel(ctx, src.ID, p.Resolver)
	require.ErrorIs(t, err, escrow.ErrOutsideWindow)

	makerBefore, _ := h.Ledger().BalanceOf(ctx, p.Maker, src.Asset)
	h.SetNow(src.Cascade.ResolverCancel.Add(time.Second))
	s, err := h.Ledger().Cancel(ctx, src.ID, p.Resolver)
	require.NoError(t, err)
	require.Equal(t, models.StateCancelled, s.State)

	makerAfter, _ := h.Ledger().BalanceOf(ctx, p.Maker, src.Asset)
	require.Equal(t, new(big.Int).Add(makerBefore, src.Amount).String(), makerAfter.String())
}

func testPublicRescue(t *testing.T, newHarness func(t *testing.T) Harness) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.Parties()
	secret := newSecret(t)
	h.SetNow(Start)

	dst, err := h.Create(models.SideDestination, hashlock.Commit(secret), DefaultCascade())
	require.NoError(t, err)

	h.SetNow(dst.Cascade.ResolverExclusive)
	_, err = h.Ledger().PublicWithdraw(ctx, dst.ID, p.Relayer, secret)
	require.ErrorIs(t, err, escrow.ErrOutsideWindow)

	makerBefore, _ := h.Ledger().BalanceOf(ctx, p.Maker, dst.Asset)
	relayerBefore, _ := h.Ledger().BalanceOf(ctx, p.Relayer, models.NativeAsset)

	h.SetNow(dst.Cascade.ResolverExclusive.Add(time.Second))
	_, err = h.Ledger().PublicWithdraw(ctx, dst.ID, p.Relayer, secret)
	require.NoError(t, err)

	makerAfter, _ := h.Ledger().BalanceOf(ctx, p.Maker, dst.Asset)
	relayerAfter, _ := h.Ledger().BalanceOf(ctx, p.Relayer, models.NativeAsset)
	require.Equal(t, new(big.Int).Add(makerBefore, dst.Amount).String(), makerAfter.String())
	require.Equal(t, new(big.Int).Add(relayerBefore, dst.SafetyDeposit).String(), relayerAfter.String())
}

func testPublicCancel(t *testing.T, newHarness func(t *testing.T) Harness) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.Parties()
	h.SetNow(Start)

	src, err := h.Create(models.SideSource, hashlock.Commit(newSecret(t)), DefaultCascade())
	require.NoError(t, err)

	h.SetNow(src.Cascade.Public)
	_, err = h.Ledger().PublicCancel(ctx, src.ID, p.Relayer)
	require.ErrorIs(t, err, escrow.ErrOutsideWindow)

	h.SetNow(src.Cascade.Public.Add(time.Second))
	_, err = h.Ledger().PublicCancel(ctx, src.ID, p.Relayer)
	require.NoError(t, err)

	_, err = h.Ledger().Cancel(ctx, src.ID, p.Resolver)
	require.ErrorIs(t, err, escrow.ErrNotFunded)
}

// testUnsolicitedValue sends extra value to a live escrow and checks every
// terminal step still settles, paying the terms and leaving nothing behind.
func testUnsolicitedValue(t *testing.T, newHarness func(t *testing.T) Harness) {
	if _, ok := newHarness(t).(Gifter); !ok {
		t.Skip("ledger cannot add value to a live escrow")
	}
	dust := big.NewInt(1)

	for _, st := range steps() {
		st := st
		t.Run(st.name, func(t *testing.T) {
			h := newHarness(t)
			ctx := context.Background()
			p := h.Parties()
			secret := newSecret(t)
			h.SetNow(Start)

			rec, err := h.Create(models.SideSource, hashlock.Commit(secret), DefaultCascade())
			require.NoError(t, err)

			before := takeSnapshot(t, h.Ledger(), p, rec.Asset, models.NativeAsset)
			require.NoError(t, h.(Gifter).Gift(rec.ID, models.NativeAsset, dust))

			h.SetNow(st.at(rec.Cascade))
			settlement, err := st.run(ctx, h.Ledger(), rec.ID, p, secret)
			require.NoError(t, err)
			require.True(t, settlement.Disbursed().Equal(rec.Deposited()))

			final, err := h.Ledger().Escrow(ctx, rec.ID)
			require.NoError(t, err)
			require.True(t, final.State.Terminal())
			left, err := h.Ledger().BalanceOf(ctx, models.Identity(rec.ID), models.NativeAsset)
			require.NoError(t, err)
			require.Zero(t, left.Sign(), "escrow address still holds %s", left)

			// the gift came from a party and went back to one
			after := takeSnapshot(t, h.Ledger(), p, rec.Asset, models.NativeAsset)
			require.True(t, gained(before, after).Equal(rec.Deposited()),
				"parties gained %v, escrow held %v", gained(before, after), rec.Deposited())
		})
	}
}

func testStaleOrder(t *testing.T, newHarness func(t *testing.T) Harness) {
	h := newHarness(t)
	ctx := context.Background()
	lock := hashlock.Commit(newSecret(t))
	h.SetNow(Start)

	_, err := h.CreateExpiring(models.SideSource, lock, DefaultCascade(), Start)
	require.ErrorIs(t, err, order.ErrExpired)
	_, err = h.Ledger().FindByHashlock(ctx, models.SideSource, lock)
	require.ErrorIs(t, err, escrow.ErrEscrowNotFound)

	live := hashlock.Commit(newSecret(t))
	rec, err := h.CreateExpiring(models.SideSource, live, DefaultCascade(), Start.Add(time.Second))
	require.NoError(t, err)
	require.Equal(t, models.StateFunded, rec.State)
}
