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
	"sort"
	"sync"
	"time"

	"github.com/ronakgupta11/cardano-swap/internal/escrow"
	"github.com/ronakgupta11/cardano-swap/internal/hashlock"
	"github.com/ronakgupta11/cardano-swap/internal/models"
)

// Funding is one party's contribution to a transaction.
type Funding struct {
	Key   *Key
	Value models.Value
}

// Wallet builds and signs transactions for the keys it holds. It is the
// escrow.Ledger view of an output ledger: callers name an identity and the
// wallet signs as that identity.
type Wallet struct {
	ledger *Ledger

	mu   sync.RWMutex
	keys map[models.Identity]*Key
}

func NewWallet(l *Ledger, keys ...*Key) *Wallet {
	w := &Wallet{ledger: l, keys: make(map[models.Identity]*Key)}
	for _, k := range keys {
		w.Add(k)
	}
	return w
}

func (w *Wallet) Add(k *Key) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.keys[k.Identity()] = k
}

func (w *Wallet) Ledger() *Ledger { return w.ledger }

func (w *Wallet) key(id models.Identity) (*Key, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	k, ok := w.keys[id]
	if !ok {
		return nil, fmt.Errorf("%w: no key for %s", escrow.ErrUnauthorized, id)
	}
	return k, nil
}

// build selects inputs from each funder to cover its share and returns any
// change to it.
func (w *Wallet) build(outputs []Output, parts ...Funding) (*Tx, error) {
	tx := &Tx{Outputs: append([]Output(nil), outputs...)}
	for _, part := range parts {
		if part.Value.IsZero() {
			continue
		}
		owner := part.Key.Identity()
		selected := models.Value{}
		for _, u := range w.ledger.UTxOsAt(owner) {
			if selected.Covers(part.Value) {
				break
			}
			tx.Inputs = append(tx.Inputs, u.Ref)
			selected = selected.Plus(u.Output.Value)
		}
		if !selected.Covers(part.Value) {
			return nil, fmt.Errorf("%w: %s cannot cover %v", escrow.ErrInsufficientFunding, owner, part.Value)
		}
		change, err := selected.Minus(part.Value)
		if err != nil {
			return nil, err
		}
		if !change.IsZero() {
			tx.Outputs = append(tx.Outputs, Output{Address: owner, Value: change})
		}
	}
	return tx, nil
}

func (w *Wallet) submitCreate(ctx context.Context, tx *Tx, signers ...*Key) (*models.EscrowRecord, error) {
	if err := tx.Sign(signers...); err != nil {
		return nil, err
	}
	receipt, err := w.ledger.Submit(ctx, tx)
	if err != nil {
		return nil, err
	}
	if len(receipt.Escrows) != 1 {
		return nil, fmt.Errorf("utxo: transaction %s created %d escrows", receipt.TxID, len(receipt.Escrows))
	}
	return &receipt.Escrows[0], nil
}

// CreateEscrow creates and funds an escrow in one transaction. The resolver
// signs; every funder signs for the inputs it contributes. expiration is the
// order's expiration and is required for a source escrow.
func (w *Wallet) CreateEscrow(ctx context.Context, terms models.EscrowRecord, expiration time.Time, resolver *Key, funders ...Funding) (*models.EscrowRecord, error) {
	terms.Resolver = resolver.Identity()
	if err := escrow.ValidateTerms(terms); err != nil {
		return nil, err
	}
	total := models.Value{}
	for _, f := range funders {
		total = total.Plus(f.Value)
	}
	if err := escrow.CheckFunding(terms, total); err != nil {
		return nil, err
	}

	out := Output{Address: w.ledger.escrowAddress(), Value: terms.Deposited(), Datum: &EscrowDatum{Terms: terms, Expiration: expiration}}
	tx, err := w.build([]Output{out}, funders...)
	if err != nil {
		return nil, err
	}
	signers := []*Key{resolver}
	for _, f := range funders {
		if f.Key != resolver {
			signers = append(signers, f.Key)
		}
	}
	return w.submitCreate(ctx, tx, signers...)
}

func (w *Wallet) Name() string { return w.ledger.Name() }

func (w *Wallet) Escrow(ctx context.Context, id string) (*models.EscrowRecord, error) {
	return w.ledger.Escrow(ctx, id)
}

func (w *Wallet) FindByHashlock(ctx context.Context, side models.Side, h hashlock.Hashlock) ([]models.EscrowRecord, error) {
	return w.ledger.FindByHashlock(ctx, side, h)
}

func (w *Wallet) BalanceOf(ctx context.Context, who models.Identity, asset models.Asset) (*big.Int, error) {
	return w.ledger.BalanceOf(ctx, who, asset)
}

func (w *Wallet) Withdraw(ctx context.Context, id string, caller models.Identity, secret hashlock.Secret) (*escrow.Settlement, error) {
	return w.settle(ctx, id, escrow.Request{Action: models.ActionWithdraw, Caller: caller, Secret: &secret})
}

func (w *Wallet) PublicWithdraw(ctx context.Context, id string, caller models.Identity, secret hashlock.Secret) (*escrow.Settlement, error) {
	return w.settle(ctx, id, escrow.Request{Action: models.ActionPublicWithdraw, Caller: caller, Secret: &secret})
}

func (w *Wallet) Cancel(ctx context.Context, id string, caller models.Identity) (*escrow.Settlement, error) {
	return w.settle(ctx, id, escrow.Request{Action: models.ActionCancel, Caller: caller})
}

func (w *Wallet) PublicCancel(ctx context.Context, id string, caller models.Identity) (*escrow.Settlement, error) {
	return w.settle(ctx, id, escrow.Request{Action: models.ActionPublicCancel, Caller: caller})
}

// settle previews the transition to learn the payouts, builds a transaction
// paying them and submits it. The ledger re-evaluates every guard.
func (w *Wallet) settle(ctx context.Context, id string, req escrow.Request) (*escrow.Settlement, error) {
	key, err := w.key(req.Caller)
	if err != nil {
		return nil, err
	}
	ref, err := ParseOutRef(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", escrow.ErrEscrowNotFound, err)
	}
	rec, err := w.ledger.Escrow(ctx, id)
	if err != nil {
		return nil, err
	}
	req.Now = w.ledger.Now()
	preview, err := w.ledger.Rules().Evaluate(*rec, req)
	if err != nil {
		return nil, err
	}

	owed := make(map[models.Identity]models.Value)
	for _, p := range preview.Payouts {
		if owed[p.To] == nil {
			owed[p.To] = models.Value{}
		}
		owed[p.To].Add(p.Asset, p.Amount)
	}
	recipients := make([]models.Identity, 0, len(owed))
	for to := range owed {
		recipients = append(recipients, to)
	}
	sort.Slice(recipients, func(i, j int) bool { return recipients[i] < recipients[j] })

	tx := &Tx{
		Inputs:    []OutRef{ref},
		Redeemers: map[OutRef]Redeemer{ref: &EscrowSpend{Action: req.Action, Caller: req.Caller, Secret: req.Secret}},
	}
	for _, to := range recipients {
		tx.Outputs = append(tx.Outputs, Output{Address: to, Value: owed[to]})
	}
	if err := tx.Sign(key); err != nil {
		return nil, err
	}
	receipt, err := w.ledger.Submit(ctx, tx)
	if err != nil {
		return nil, err
	}
	return receipt.Settlement, nil
}

var _ escrow.Ledger = (*Wallet)(nil)
