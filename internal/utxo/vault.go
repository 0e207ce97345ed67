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

package utxo

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ronakgupta11/cardano-swap/internal/models"
)

// releaseVault admits a vault spend only when the transaction produces
// exactly one output at the committed script holding the committed amount
// plus the resolver's safety deposit.
func (l *Ledger) releaseVault(tx *Tx, ref OutRef, signers map[KeyHash]struct{}) error {
	d, ok := l.utxos[ref].Datum.(*VaultDatum)
	if !ok {
		return fmt.Errorf("%w: vault input %s has no vault datum", ErrBadDatum, ref)
	}
	r, ok := tx.Redeemers[ref].(*VaultRelease)
	if !ok {
		return fmt.Errorf("%w: %s", ErrMissingRedeemer, ref)
	}
	if err := l.signedBy(signers, r.Resolver); err != nil {
		return err
	}
	if r.SafetyDeposit == nil || r.SafetyDeposit.Sign() <= 0 {
		return fmt.Errorf("%w: safety deposit must be positive", ErrVaultOutputMismatch)
	}

	target := ScriptAddress(l.net, d.ExpectedEscrow)
	var into []Output
	for _, out := range tx.Outputs {
		if out.Address == target {
			into = append(into, out)
		}
	}
	if len(into) != 1 {
		return fmt.Errorf("%w: %d outputs at the committed script", ErrVaultOutputMismatch, len(into))
	}
	want := models.NewValue(d.Asset, d.Amount)
	want.Add(models.NativeAsset, r.SafetyDeposit)
	if !into[0].Value.Equal(want) {
		return fmt.Errorf("%w: output holds %v, expected %v", ErrVaultOutputMismatch, into[0].Value, want)
	}

	if ed, ok := into[0].Datum.(*EscrowDatum); ok {
		t := ed.Terms
		switch {
		case t.Side != models.SideSource,
			t.Maker != d.Maker,
			t.Resolver != r.Resolver,
			t.Asset != d.Asset,
			t.Amount.Cmp(d.Amount) != 0,
			t.SafetyDeposit.Cmp(r.SafetyDeposit) != 0,
			!ed.Expiration.Equal(d.Expiration):
			return fmt.Errorf("%w: escrow terms differ from the authorization", ErrVaultOutputMismatch)
		}
	}
	return nil
}

// Lock creates a vault holding amount of asset that any resolver may later
// release into a source escrow for maker, until the order expires.
func (w *Wallet) Lock(ctx context.Context, maker *Key, asset models.Asset, amount *big.Int, expiration time.Time) (OutRef, error) {
	datum := &VaultDatum{
		Maker:          maker.Identity(),
		ExpectedEscrow: EscrowScript,
		Asset:          asset,
		Amount:         new(big.Int).Set(amount),
		Expiration:     expiration,
	}
	vault := Output{Address: w.ledger.VaultAddress(), Value: models.NewValue(asset, amount), Datum: datum}

	tx, err := w.build([]Output{vault}, Funding{Key: maker, Value: vault.Value})
	if err != nil {
		return OutRef{}, err
	}
	if err := tx.Sign(maker); err != nil {
		return OutRef{}, err
	}
	receipt, err := w.ledger.Submit(ctx, tx)
	if err != nil {
		return OutRef{}, err
	}
	return OutRef{TxID: receipt.TxID, Index: 0}, nil
}

// CreateFromVault releases the vault at ref into a source escrow with terms,
// adding the resolver's safety deposit. The maker does not sign.
func (w *Wallet) CreateFromVault(ctx context.Context, resolver *Key, ref OutRef, terms models.EscrowRecord) (*models.EscrowRecord, error) {
	vaultOut, ok := w.ledger.Output(ref)
	if !ok {
		return nil, fmt.Errorf("%w: vault %s", ErrUnknownInput, ref)
	}
	d, ok := vaultOut.Datum.(*VaultDatum)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not a vault", ErrBadDatum, ref)
	}

	terms.Side = models.SideSource
	terms.Maker = d.Maker
	terms.Resolver = resolver.Identity()
	terms.Asset = d.Asset
	terms.Amount = new(big.Int).Set(d.Amount)
	escrowOut := Output{
		Address: w.ledger.escrowAddress(),
		Value:   terms.Deposited(),
		Datum:   &EscrowDatum{Terms: terms, Expiration: d.Expiration},
	}

	deposit := models.NewValue(models.NativeAsset, terms.SafetyDeposit)
	tx, err := w.build([]Output{escrowOut}, Funding{Key: resolver, Value: deposit})
	if err != nil {
		return nil, err
	}
	tx.Inputs = append(tx.Inputs, ref)
	tx.Redeemers = map[OutRef]Redeemer{ref: &VaultRelease{Resolver: resolver.Identity(), SafetyDeposit: terms.SafetyDeposit}}
	return w.submitCreate(ctx, tx, resolver)
}
