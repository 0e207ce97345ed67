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
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/rlp"
	"golang.org/x/crypto/blake2b"

	"github.com/ronakgupta11/cardano-swap/internal/hashlock"
	"github.com/ronakgupta11/cardano-swap/internal/models"
)

type TxID [32]byte

func (id TxID) String() string { return hex.EncodeToString(id[:]) }

// OutRef points at one output of a transaction.
type OutRef struct {
	TxID  TxID
	Index uint32
}

func (r OutRef) String() string { return fmt.Sprintf("%s#%d", r.TxID, r.Index) }

func ParseOutRef(s string) (OutRef, error) {
	txHex, idx, ok := strings.Cut(s, "#")
	if !ok {
		return OutRef{}, fmt.Errorf("utxo: out ref %q has no index", s)
	}
	raw, err := hex.DecodeString(txHex)
	if err != nil || len(raw) != 32 {
		return OutRef{}, fmt.Errorf("utxo: out ref %q has a bad tx id", s)
	}
	n, err := strconv.ParseUint(idx, 10, 32)
	if err != nil {
		return OutRef{}, fmt.Errorf("utxo: out ref %q: %w", s, err)
	}
	var ref OutRef
	copy(ref.TxID[:], raw)
	ref.Index = uint32(n)
	return ref, nil
}

// Datum is the typed payload attached to a script output.
type Datum interface {
	fields() []interface{}
}

// EscrowDatum carries the immutables of one escrow. Expiration is the
// order's expiration; source escrows must carry it.
type EscrowDatum struct {
	Terms      models.EscrowRecord
	Expiration time.Time
}

// VaultDatum is a maker's standing authorization to release Amount of Asset
// into an output locked by ExpectedEscrow, for an order that expires at
// Expiration.
type VaultDatum struct {
	Maker          models.Identity
	ExpectedEscrow ScriptHash
	Asset          models.Asset
	Amount         *big.Int
	Expiration     time.Time
}

func (d *EscrowDatum) fields() []interface{} {
	t := d.Terms
	return []interface{}{
		"escrow",
		t.OrderHash,
		t.Hashlock[:],
		uint64(t.Side),
		string(t.Maker),
		string(t.Resolver),
		string(t.Receiver),
		string(t.Asset),
		nonNeg(t.Amount),
		nonNeg(t.SafetyDeposit),
		unix(t.Cascade.ResolverExclusive),
		unix(t.Cascade.ResolverCancel),
		unix(t.Cascade.Public),
		unix(d.Expiration),
	}
}

func (d *VaultDatum) fields() []interface{} {
	return []interface{}{"vault", string(d.Maker), d.ExpectedEscrow[:], string(d.Asset), nonNeg(d.Amount), unix(d.Expiration)}
}

// Redeemer is the argument a spender passes to a script input.
type Redeemer interface {
	fields() []interface{}
}

// VaultRelease consumes a vault into a new escrow.
type VaultRelease struct {
	Resolver      models.Identity
	SafetyDeposit *big.Int
}

// EscrowSpend drives one terminal transition of an escrow.
type EscrowSpend struct {
	Action models.Action
	Caller models.Identity
	Secret *hashlock.Secret
}

func (r *VaultRelease) fields() []interface{} {
	return []interface{}{"release", string(r.Resolver), nonNeg(r.SafetyDeposit)}
}

func (r *EscrowSpend) fields() []interface{} {
	var secret []byte
	if r.Secret != nil {
		secret = r.Secret[:]
	}
	return []interface{}{string(r.Action), string(r.Caller), secret}
}

type Output struct {
	Address models.Identity
	Value   models.Value
	Datum   Datum
}

type Witness struct {
	PubKey    ed25519.PublicKey
	Signature []byte
}

// Tx is a transaction. Redeemers are keyed by the script input they unlock.
type Tx struct {
	Inputs    []OutRef
	Outputs   []Output
	Redeemers map[OutRef]Redeemer
	Witnesses []Witness
}

// ID hashes everything but the witnesses.
func (tx *Tx) ID() (TxID, error) {
	body := make([]interface{}, 0, 3)

	inputs := make([]interface{}, 0, len(tx.Inputs))
	redeemers := make([]interface{}, 0, len(tx.Redeemers))
	for _, in := range tx.Inputs {
		inputs = append(inputs, []interface{}{in.TxID[:], uint64(in.Index)})
		if r, ok := tx.Redeemers[in]; ok {
			redeemers = append(redeemers, []interface{}{in.TxID[:], uint64(in.Index), r.fields()})
		}
	}
	outputs := make([]interface{}, 0, len(tx.Outputs))
	for _, out := range tx.Outputs {
		assets := make([]interface{}, 0, len(out.Value))
		for _, a := range out.Value.Assets() {
			assets = append(assets, []interface{}{string(a), out.Value.Get(a)})
		}
		var datum []interface{}
		if out.Datum != nil {
			datum = out.Datum.fields()
		}
		outputs = append(outputs, []interface{}{string(out.Address), assets, datum})
	}
	body = append(body, inputs, outputs, redeemers)

	encoded, err := rlp.EncodeToBytes(body)
	if err != nil {
		return TxID{}, fmt.Errorf("encode tx body: %w", err)
	}
	return TxID(blake2b.Sum256(encoded)), nil
}

// Sign appends a witness from each key.
func (tx *Tx) Sign(keys ...*Key) error {
	id, err := tx.ID()
	if err != nil {
		return err
	}
	for _, k := range keys {
		tx.Witnesses = append(tx.Witnesses, k.Sign(id))
	}
	return nil
}

func nonNeg(v *big.Int) *big.Int {
	if v == nil || v.Sign() < 0 {
		return new(big.Int)
	}
	return v
}

func unix(t time.Time) uint64 {
	if t.Unix() < 0 {
		return 0
	}
	return uint64(t.Unix())
}
