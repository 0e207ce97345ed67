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

package models

import (
	"errors"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/ronakgupta11/cardano-swap/internal/hashlock"
)

var ErrInvalidCascade = errors.New("deadline cascade must be strictly increasing")

// Identity is a ledger-native party identifier: a 0x account on account
// ledgers, a bech32 key address on output ledgers.
type Identity string

// Asset is a ledger-native asset identifier. NativeAsset denotes the host
// ledger's fee/native unit, in which safety deposits are denominated.
type Asset string

const NativeAsset Asset = "native"

// Value is a multi-asset amount in base units.
type Value map[Asset]*big.Int

// NewValue builds a Value holding amount of asset.
func NewValue(asset Asset, amount *big.Int) Value {
	v := Value{}
	v.Add(asset, amount)
	return v
}

// Get returns the amount of asset, zero if absent.
func (v Value) Get(asset Asset) *big.Int {
	if amt, ok := v[asset]; ok && amt != nil {
		return new(big.Int).Set(amt)
	}
	return new(big.Int)
}

// Add increases the amount of asset in place.
func (v Value) Add(asset Asset, amount *big.Int) {
	if amount == nil || amount.Sign() == 0 {
		return
	}
	cur := v.Get(asset)
	v[asset] = cur.Add(cur, amount)
}

// Plus returns v + o without modifying either.
func (v Value) Plus(o Value) Value {
	out := v.Clone()
	for a, amt := range o {
		out.Add(a, amt)
	}
	return out
}

// Minus returns v - o, failing if any asset would go negative.
func (v Value) Minus(o Value) (Value, error) {
	out := v.Clone()
	for a, amt := range o {
		cur := out.Get(a)
		cur.Sub(cur, amt)
		if cur.Sign() < 0 {
			return nil, fmt.Errorf("insufficient %s: short by %s", a, new(big.Int).Neg(cur))
		}
		if cur.Sign() == 0 {
			delete(out, a)
		} else {
			out[a] = cur
		}
	}
	return out, nil
}

func (v Value) Clone() Value {
	out := make(Value, len(v))
	for a, amt := range v {
		if amt != nil && amt.Sign() != 0 {
			out[a] = new(big.Int).Set(amt)
		}
	}
	return out
}

// Equal compares two values ignoring zero entries.
func (v Value) Equal(o Value) bool {
	return v.Covers(o) && o.Covers(v)
}

// Covers reports whether v holds at least o of every asset.
func (v Value) Covers(o Value) bool {
	for a, amt := range o {
		if amt == nil {
			continue
		}
		if v.Get(a).Cmp(amt) < 0 {
			return false
		}
	}
	return true
}

func (v Value) IsZero() bool {
	for _, amt := range v {
		if amt != nil && amt.Sign() != 0 {
			return false
		}
	}
	return true
}

// Assets lists the non-zero assets in a stable order.
func (v Value) Assets() []Asset {
	out := make([]Asset, 0, len(v))
	for a, amt := range v {
		if amt != nil && amt.Sign() != 0 {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Side distinguishes the escrow holding the maker's asset from the one
// holding the resolver's asset.
type Side uint8

const (
	SideSource Side = iota + 1
	SideDestination
)

func (s Side) String() string {
	switch s {
	case SideSource:
		return "source"
	case SideDestination:
		return "destination"
	default:
		return "unknown"
	}
}

// ParseSide accepts "source"/"src" and "destination"/"dst".
func ParseSide(s string) (Side, error) {
	switch s {
	case "source", "src":
		return SideSource, nil
	case "destination", "dst":
		return SideDestination, nil
	}
	return 0, fmt.Errorf("unknown escrow side %q", s)
}

type EscrowState uint8

const (
	StateUninitialized EscrowState = iota
	StateFunded
	StateWithdrawn
	StateCancelled
)

func (s EscrowState) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateFunded:
		return "funded"
	case StateWithdrawn:
		return "withdrawn"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

func (s EscrowState) Terminal() bool {
	return s == StateWithdrawn || s == StateCancelled
}

// Window is the deadline interval that contains a given instant.
type Window uint8

const (
	// WindowResolverExclusive: now <= resolverExclusiveDeadline.
	WindowResolverExclusive Window = iota + 1
	// WindowPublicWithdraw: resolverExclusiveDeadline < now <= resolverCancelDeadline.
	WindowPublicWithdraw
	// WindowResolverCancel: resolverCancelDeadline < now <= publicDeadline.
	WindowResolverCancel
	// WindowPublicCancel: now > publicDeadline.
	WindowPublicCancel
)

func (w Window) String() string {
	switch w {
	case WindowResolverExclusive:
		return "resolver_exclusive"
	case WindowPublicWithdraw:
		return "public_withdraw"
	case WindowResolverCancel:
		return "resolver_cancel"
	case WindowPublicCancel:
		return "public_cancel"
	default:
		return "unknown"
	}
}

// Action names an escrow transition.
type Action string

const (
	ActionCreate         Action = "create"
	ActionWithdraw       Action = "withdraw"
	ActionPublicWithdraw Action = "public_withdraw"
	ActionCancel         Action = "cancel"
	ActionPublicCancel   Action = "public_cancel"
)

// Cascade holds the absolute deadlines fixed when an escrow is created.
type Cascade struct {
	ResolverExclusive time.Time `json:"resolverExclusiveDeadline" toml:"resolver_exclusive"`
	ResolverCancel    time.Time `json:"resolverCancelDeadline" toml:"resolver_cancel"`
	Public            time.Time `json:"publicDeadline" toml:"public"`
}

// Validate enforces resolverExclusive < resolverCancel < public.
func (c Cascade) Validate() error {
	if c.ResolverExclusive.IsZero() {
		return fmt.Errorf("%w: resolver exclusive deadline unset", ErrInvalidCascade)
	}
	if !c.ResolverExclusive.Before(c.ResolverCancel) {
		return fmt.Errorf("%w: exclusive %s not before cancel %s", ErrInvalidCascade,
			c.ResolverExclusive.UTC().Format(time.RFC3339), c.ResolverCancel.UTC().Format(time.RFC3339))
	}
	if !c.ResolverCancel.Before(c.Public) {
		return fmt.Errorf("%w: cancel %s not before public %s", ErrInvalidCascade,
			c.ResolverCancel.UTC().Format(time.RFC3339), c.Public.UTC().Format(time.RFC3339))
	}
	return nil
}

// WindowAt maps now onto the cascade. A deadline instant belongs to the
// window it closes.
func (c Cascade) WindowAt(now time.Time) Window {
	switch {
	case !now.After(c.ResolverExclusive):
		return WindowResolverExclusive
	case !now.After(c.ResolverCancel):
		return WindowPublicWithdraw
	case !now.After(c.Public):
		return WindowResolverCancel
	default:
		return WindowPublicCancel
	}
}

// CascadePolicy derives absolute cascades from offsets relative to creation.
type CascadePolicy struct {
	ResolverExclusive time.Duration `toml:"resolver_exclusive"`
	ResolverCancel    time.Duration `toml:"resolver_cancel"`
	Public            time.Duration `toml:"public"`
}

// DefaultCascadePolicy is used when the topology file leaves the policy empty.
var DefaultCascadePolicy = CascadePolicy{
	ResolverExclusive: 10 * time.Minute,
	ResolverCancel:    30 * time.Minute,
	Public:            45 * time.Minute,
}

// Build anchors the policy at start. Every deadline is truncated to whole
// seconds.
func (p CascadePolicy) Build(start time.Time) Cascade {
	start = start.UTC().Truncate(time.Second)
	return Cascade{
		ResolverExclusive: start.Add(p.ResolverExclusive).Truncate(time.Second),
		ResolverCancel:    start.Add(p.ResolverCancel).Truncate(time.Second),
		Public:            start.Add(p.Public).Truncate(time.Second),
	}
}

// EscrowRecord is the authoritative state of one side of a swap.
type EscrowRecord struct {
	ID            string            `json:"id"`
	Ledger        string            `json:"ledger"`
	Side          Side              `json:"side"`
	OrderHash     string            `json:"orderHash"`
	Hashlock      hashlock.Hashlock `json:"hashlock"`
	Maker         Identity          `json:"maker"`
	Resolver      Identity          `json:"resolver"`
	Receiver      Identity          `json:"receiver,omitempty"`
	Asset         Asset             `json:"asset"`
	Amount        *big.Int          `json:"amount"`
	SafetyDeposit *big.Int          `json:"safetyDeposit"`
	Cascade       Cascade           `json:"cascade"`
	State         EscrowState       `json:"state"`
	Balance       Value             `json:"balance,omitempty"`
	CreatedAt     time.Time         `json:"createdAt"`
	SettledAt     time.Time         `json:"settledAt,omitempty"`
	SettledBy     Action            `json:"settledBy,omitempty"`
	Payouts       []Payout          `json:"payouts,omitempty"`
}

// Clone returns a deep copy.
func (r EscrowRecord) Clone() EscrowRecord {
	out := r
	if r.Amount != nil {
		out.Amount = new(big.Int).Set(r.Amount)
	}
	if r.SafetyDeposit != nil {
		out.SafetyDeposit = new(big.Int).Set(r.SafetyDeposit)
	}
	if r.Balance != nil {
		out.Balance = r.Balance.Clone()
	}
	if r.Payouts != nil {
		out.Payouts = make([]Payout, len(r.Payouts))
		for i, p := range r.Payouts {
			p.Amount = new(big.Int).Set(p.Amount)
			out.Payouts[i] = p
		}
	}
	return out
}

// Deposited is the exact value locked at creation: amount of the escrowed
// asset plus the safety deposit in the native unit.
func (r EscrowRecord) Deposited() Value {
	v := NewValue(r.Asset, r.Amount)
	v.Add(NativeAsset, r.SafetyDeposit)
	return v
}

// AssetRecipient is who receives the escrowed asset on a withdraw: the
// resolver on the source side, the order's receiver on the destination side.
func (r EscrowRecord) AssetRecipient() Identity {
	if r.Side == SideSource {
		return r.Resolver
	}
	if r.Receiver != "" {
		return r.Receiver
	}
	return r.Maker
}

// Depositor is who put the escrowed asset in and gets it back on a cancel.
func (r EscrowRecord) Depositor() Identity {
	if r.Side == SideSource {
		return r.Maker
	}
	return r.Resolver
}

// NonRecipient is the party on the other end of AssetRecipient.
func (r EscrowRecord) NonRecipient() Identity {
	if r.Side == SideSource {
		return r.Maker
	}
	return r.Resolver
}

type PayoutKind string

const (
	PayoutAsset         PayoutKind = "asset"
	PayoutSafetyDeposit PayoutKind = "safety_deposit"
)

// Payout is one value movement out of an escrow on a terminal transition.
type Payout struct {
	To     Identity   `json:"to"`
	Asset  Asset      `json:"asset"`
	Amount *big.Int   `json:"amount"`
	Kind   PayoutKind `json:"kind"`
}

// SwapStatus is the operator-facing summary over both escrows.
type SwapStatus string

const (
	StatusPending     SwapStatus = "pending"
	StatusDepositing  SwapStatus = "depositing"
	StatusWithdrawing SwapStatus = "withdrawing"
	StatusCompleted   SwapStatus = "completed"
	StatusFailed      SwapStatus = "failed"
	StatusExpired     SwapStatus = "expired"
	StatusCancelled   SwapStatus = "cancelled"
)

// Final reports whether no further escrow activity is expected.
func (s SwapStatus) Final() bool {
	return s == StatusCompleted || s == StatusExpired || s == StatusCancelled
}

// Watched reports whether the coordinator still follows the swap. A failed
// swap is never disclosed, so it is not followed either.
func (s SwapStatus) Watched() bool {
	return !s.Final() && s != StatusFailed
}

// ParseSwapStatus validates a status string.
func ParseSwapStatus(s string) (SwapStatus, error) {
	switch st := SwapStatus(s); st {
	case StatusPending, StatusDepositing, StatusWithdrawing, StatusCompleted,
		StatusFailed, StatusExpired, StatusCancelled:
		return st, nil
	}
	return "", fmt.Errorf("unknown swap status %q", s)
}
