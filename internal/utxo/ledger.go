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
	"crypto/ed25519"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"

	"github.com/ronakgupta11/cardano-swap/internal/escrow"
	"github.com/ronakgupta11/cardano-swap/internal/hashlock"
	"github.com/ronakgupta11/cardano-swap/internal/models"
	"github.com/ronakgupta11/cardano-swap/internal/order"
)

var (
	ErrEmptyTx             = errors.New("utxo: transaction spends nothing")
	ErrUnknownInput        = errors.New("utxo: input does not exist or is already spent")
	ErrDuplicateInput      = errors.New("utxo: input spent twice")
	ErrBadWitness          = errors.New("utxo: witness signature does not verify")
	ErrMissingSignature    = errors.New("utxo: missing required signature")
	ErrMissingRedeemer     = errors.New("utxo: script input without a matching redeemer")
	ErrScriptInputs        = errors.New("utxo: at most one escrow and one vault input per transaction")
	ErrUnknownScript       = errors.New("utxo: input locked by an unknown script")
	ErrBadDatum            = errors.New("utxo: output datum does not fit its script")
	ErrBadValue            = errors.New("utxo: output value must be non-empty and positive")
	ErrValueNotConserved   = errors.New("utxo: inputs and outputs do not balance")
	ErrPayoutMissing       = errors.New("utxo: transaction does not pay what the escrow releases")
	ErrVaultOutputMismatch = errors.New("utxo: vault release does not produce the committed escrow output")
)

// UTxO is an unspent output with its reference.
type UTxO struct {
	Ref    OutRef
	Output Output
}

// Receipt is what Submit returns for an accepted transaction.
type Receipt struct {
	TxID       TxID
	Settlement *escrow.Settlement
	Escrows    []models.EscrowRecord
}

// Ledger validates and applies transactions one at a time. The clock is read
// once per transaction, inside the lock that also guards validation.
type Ledger struct {
	name  string
	net   Network
	rules escrow.Rules

	mu      sync.Mutex
	now     func() time.Time
	utxos   map[OutRef]Output
	escrows map[OutRef]*models.EscrowRecord
	minted  uint64
}

type Option func(*Ledger)

func WithRules(r escrow.Rules) Option { return func(l *Ledger) { l.rules = r } }

func WithClock(now func() time.Time) Option { return func(l *Ledger) { l.now = now } }

func NewLedger(name string, net Network, opts ...Option) *Ledger {
	l := &Ledger{
		name:    name,
		net:     net,
		now:     time.Now,
		utxos:   make(map[OutRef]Output),
		escrows: make(map[OutRef]*models.EscrowRecord),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Ledger) Name() string { return l.name }

func (l *Ledger) Network() Network { return l.net }

func (l *Ledger) Rules() escrow.Rules { return l.rules }

func (l *Ledger) Now() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.now()
}

func (l *Ledger) SetClock(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
}

// Credit mints an output to who. It stands in for genesis allocations.
func (l *Ledger) Credit(who models.Identity, v models.Value) (OutRef, error) {
	if _, err := ParseAddress(l.net, who); err != nil {
		return OutRef{}, err
	}
	if err := checkValue(v); err != nil {
		return OutRef{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	l.minted++
	var seed [8]byte
	binary.BigEndian.PutUint64(seed[:], l.minted)
	ref := OutRef{TxID: TxID(blake2b.Sum256(append([]byte("genesis/"+l.name+"/"), seed[:]...)))}
	l.utxos[ref] = Output{Address: who, Value: v.Clone()}
	return ref, nil
}

// Submit validates tx against the current state and applies it atomically.
// A rejected transaction changes nothing.
func (l *Ledger) Submit(ctx context.Context, tx *Tx) (*Receipt, error) {
	id, err := tx.ID()
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	v, err := l.validate(tx, id, now)
	if err != nil {
		return nil, err
	}

	for _, in := range tx.Inputs {
		delete(l.utxos, in)
	}
	receipt := &Receipt{TxID: id, Settlement: v.settlement}
	if v.settlement != nil {
		rec := l.escrows[*v.escrowIn]
		rec.State = v.settlement.State
		rec.Balance = models.Value{}
		rec.SettledAt = now
		rec.SettledBy = v.settlement.Action
		rec.Payouts = v.settlement.Payouts
		zap.L().Debug("Escrow settled",
			zap.String("ledger", l.name),
			zap.String("escrow_id", rec.ID),
			zap.String("action", string(v.settlement.Action)),
			zap.String("state", rec.State.String()))
	}
	for i, out := range tx.Outputs {
		ref := OutRef{TxID: id, Index: uint32(i)}
		out.Value = out.Value.Clone()
		l.utxos[ref] = out
		if d, ok := out.Datum.(*EscrowDatum); ok && out.Address == l.escrowAddress() {
			rec := d.Terms.Clone()
			rec.ID = ref.String()
			rec.Ledger = l.name
			rec.State = models.StateFunded
			rec.Balance = out.Value.Clone()
			rec.CreatedAt = now
			l.escrows[ref] = &rec
			receipt.Escrows = append(receipt.Escrows, rec.Clone())
			zap.L().Debug("Escrow funded",
				zap.String("ledger", l.name),
				zap.String("escrow_id", rec.ID),
				zap.String("side", rec.Side.String()),
				zap.String("hashlock", rec.Hashlock.Hex()))
		}
	}
	return receipt, nil
}

type validation struct {
	escrowIn   *OutRef
	vaultIn    *OutRef
	settlement *escrow.Settlement
}

func (l *Ledger) validate(tx *Tx, id TxID, now time.Time) (*validation, error) {
	if len(tx.Inputs) == 0 {
		return nil, ErrEmptyTx
	}
	signers, err := verifyWitnesses(tx, id)
	if err != nil {
		return nil, err
	}

	v := &validation{}
	consumed := models.Value{}
	seen := make(map[OutRef]struct{}, len(tx.Inputs))
	for _, ref := range tx.Inputs {
		if _, dup := seen[ref]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateInput, ref)
		}
		seen[ref] = struct{}{}

		out, ok := l.utxos[ref]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownInput, ref)
		}
		consumed = consumed.Plus(out.Value)

		cred, err := ParseAddress(l.net, out.Address)
		if err != nil {
			return nil, err
		}
		if !cred.Script {
			if _, ok := signers[KeyHash(cred.Hash)]; !ok {
				return nil, fmt.Errorf("%w: owner of %s", ErrMissingSignature, ref)
			}
			continue
		}
		ref := ref
		switch ScriptHash(cred.Hash) {
		case EscrowScript:
			if v.escrowIn != nil {
				return nil, ErrScriptInputs
			}
			v.escrowIn = &ref
		case VaultScript:
			if v.vaultIn != nil {
				return nil, ErrScriptInputs
			}
			v.vaultIn = &ref
		default:
			return nil, fmt.Errorf("%w: %s", ErrUnknownScript, ref)
		}
	}

	produced := models.Value{}
	for i, out := range tx.Outputs {
		if err := l.checkOutput(out, signers, now); err != nil {
			return nil, fmt.Errorf("output %d: %w", i, err)
		}
		produced = produced.Plus(out.Value)
	}
	if !consumed.Equal(produced) {
		return nil, fmt.Errorf("%w: in %v, out %v", ErrValueNotConserved, consumed, produced)
	}

	if v.escrowIn != nil {
		v.settlement, err = l.spendEscrow(tx, *v.escrowIn, signers, now)
		if err != nil {
			return nil, err
		}
	}
	if v.vaultIn != nil {
		if err := l.releaseVault(tx, *v.vaultIn, signers); err != nil {
			return nil, err
		}
	}
	return v, nil
}

func verifyWitnesses(tx *Tx, id TxID) (map[KeyHash]struct{}, error) {
	signers := make(map[KeyHash]struct{}, len(tx.Witnesses))
	for _, w := range tx.Witnesses {
		if len(w.PubKey) != ed25519.PublicKeySize || !ed25519.Verify(w.PubKey, id[:], w.Signature) {
			return nil, ErrBadWitness
		}
		signers[KeyHash(hash224(w.PubKey))] = struct{}{}
	}
	return signers, nil
}

func (l *Ledger) signedBy(signers map[KeyHash]struct{}, who models.Identity) error {
	cred, err := ParseAddress(l.net, who)
	if err != nil {
		return err
	}
	if cred.Script {
		return fmt.Errorf("%w: %s is a script", ErrMissingSignature, who)
	}
	if _, ok := signers[KeyHash(cred.Hash)]; !ok {
		return fmt.Errorf("%w: %s", ErrMissingSignature, who)
	}
	return nil
}

func (l *Ledger) checkOutput(out Output, signers map[KeyHash]struct{}, now time.Time) error {
	if err := checkValue(out.Value); err != nil {
		return err
	}
	cred, err := ParseAddress(l.net, out.Address)
	if err != nil {
		return err
	}
	if !cred.Script {
		if out.Datum != nil {
			return fmt.Errorf("%w: key outputs carry no datum", ErrBadDatum)
		}
		return nil
	}

	switch ScriptHash(cred.Hash) {
	case EscrowScript:
		d, ok := out.Datum.(*EscrowDatum)
		if !ok {
			return fmt.Errorf("%w: escrow output needs an escrow datum", ErrBadDatum)
		}
		if err := escrow.ValidateTerms(d.Terms); err != nil {
			return err
		}
		for _, id := range []models.Identity{d.Terms.Maker, d.Terms.Resolver} {
			if _, err := ParseAddress(l.net, id); err != nil {
				return fmt.Errorf("%w: %v", escrow.ErrInvalidTerms, err)
			}
		}
		if d.Terms.Receiver != "" {
			if _, err := ParseAddress(l.net, d.Terms.Receiver); err != nil {
				return fmt.Errorf("%w: %v", escrow.ErrInvalidTerms, err)
			}
		}
		if err := escrow.CheckFunding(d.Terms, out.Value); err != nil {
			return err
		}
		if d.Terms.Side == models.SideSource {
			if d.Expiration.IsZero() {
				return fmt.Errorf("%w: source escrow must carry the order expiration", ErrBadDatum)
			}
			if err := order.CheckLive(models.Order{Expiration: d.Expiration}, now); err != nil {
				return err
			}
		}
		return l.signedBy(signers, d.Terms.Resolver)

	case VaultScript:
		d, ok := out.Datum.(*VaultDatum)
		if !ok {
			return fmt.Errorf("%w: vault output needs a vault datum", ErrBadDatum)
		}
		if d.Amount == nil || d.Amount.Sign() <= 0 || d.Asset == "" {
			return fmt.Errorf("%w: vault must commit a positive amount", ErrBadDatum)
		}
		if !out.Value.Equal(models.NewValue(d.Asset, d.Amount)) {
			return fmt.Errorf("%w: vault holds %v, commits %s %s", ErrBadDatum, out.Value, d.Amount, d.Asset)
		}
		return l.signedBy(signers, d.Maker)
	}
	return nil
}

func (l *Ledger) spendEscrow(tx *Tx, ref OutRef, signers map[KeyHash]struct{}, now time.Time) (*escrow.Settlement, error) {
	rec, ok := l.escrows[ref]
	if !ok {
		return nil, fmt.Errorf("%w: %s", escrow.ErrEscrowNotFound, ref)
	}
	r, ok := tx.Redeemers[ref].(*EscrowSpend)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingRedeemer, ref)
	}
	if err := l.signedBy(signers, r.Caller); err != nil {
		return nil, fmt.Errorf("%w: %v", escrow.ErrUnauthorized, err)
	}
	settlement, err := l.rules.Evaluate(*rec, escrow.Request{
		Action: r.Action,
		Caller: r.Caller,
		Secret: r.Secret,
		Now:    now,
	})
	if err != nil {
		return nil, err
	}

	owed := make(map[models.Identity]models.Value)
	for _, p := range settlement.Payouts {
		if owed[p.To] == nil {
			owed[p.To] = models.Value{}
		}
		owed[p.To].Add(p.Asset, p.Amount)
	}
	paid := make(map[models.Identity]models.Value)
	for _, out := range tx.Outputs {
		paid[out.Address] = paid[out.Address].Plus(out.Value)
	}
	for to, want := range owed {
		if !paid[to].Covers(want) {
			return nil, fmt.Errorf("%w: %s is owed %v", ErrPayoutMissing, to, want)
		}
	}
	return settlement, nil
}

func (l *Ledger) escrowAddress() models.Identity { return ScriptAddress(l.net, EscrowScript) }

func (l *Ledger) VaultAddress() models.Identity { return ScriptAddress(l.net, VaultScript) }

func (l *Ledger) EscrowAddress(models.EscrowRecord) (models.Identity, error) {
	return l.escrowAddress(), nil
}

// CheckPrefunded is trivially satisfied: an escrow output is created and
// funded by the same transaction.
func (l *Ledger) CheckPrefunded(context.Context, models.EscrowRecord) error { return nil }

func (l *Ledger) Escrow(ctx context.Context, id string) (*models.EscrowRecord, error) {
	ref, err := ParseOutRef(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", escrow.ErrEscrowNotFound, err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.escrows[ref]
	if !ok {
		return nil, fmt.Errorf("%w: %s", escrow.ErrEscrowNotFound, id)
	}
	out := rec.Clone()
	return &out, nil
}

// FindByHashlock returns every escrow on side locked to h, oldest first.
func (l *Ledger) FindByHashlock(ctx context.Context, side models.Side, h hashlock.Hashlock) ([]models.EscrowRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var found []models.EscrowRecord
	for _, rec := range l.escrows {
		if rec.Side == side && rec.Hashlock == h {
			found = append(found, rec.Clone())
		}
	}
	if len(found) == 0 {
		return nil, fmt.Errorf("%w: %s hashlock %s", escrow.ErrEscrowNotFound, side, h.Hex())
	}
	escrow.SortCandidates(found)
	return found, nil
}

func (l *Ledger) BalanceOf(ctx context.Context, who models.Identity, asset models.Asset) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	total := new(big.Int)
	for _, out := range l.utxos {
		if out.Address == who {
			total.Add(total, out.Value.Get(asset))
		}
	}
	return total, nil
}

// UTxOsAt lists the unspent outputs at addr in a stable order.
func (l *Ledger) UTxOsAt(addr models.Identity) []UTxO {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []UTxO
	for ref, o := range l.utxos {
		if o.Address == addr {
			o.Value = o.Value.Clone()
			out = append(out, UTxO{Ref: ref, Output: o})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ref.String() < out[j].Ref.String() })
	return out
}

// Output returns the unspent output at ref.
func (l *Ledger) Output(ref OutRef) (Output, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	o, ok := l.utxos[ref]
	if ok {
		o.Value = o.Value.Clone()
	}
	return o, ok
}

func checkValue(v models.Value) error {
	if v.IsZero() {
		return ErrBadValue
	}
	for a, amt := range v {
		if amt != nil && amt.Sign() < 0 {
			return fmt.Errorf("%w: %s is negative", ErrBadValue, a)
		}
	}
	return nil
}

var (
	_ escrow.Feed      = (*Ledger)(nil)
	_ escrow.Prefunder = (*Ledger)(nil)
)
