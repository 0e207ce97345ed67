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

package escrow

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ronakgupta11/cardano-swap/internal/hashlock"
	"github.com/ronakgupta11/cardano-swap/internal/models"
)

var (
	ErrNotFunded           = errors.New("escrow: not in funded state")
	ErrInvalidSecret       = errors.New("escrow: secret does not open hashlock")
	ErrUnauthorized        = errors.New("escrow: caller not permitted for this transition")
	ErrOutsideWindow       = errors.New("escrow: transition not allowed at this time")
	ErrInvalidTerms        = errors.New("escrow: invalid escrow terms")
	ErrInsufficientFunding = errors.New("escrow: deposited value below amount plus safety deposit")
	ErrAmountMismatch      = errors.New("escrow: deposited value differs from amount plus safety deposit")
	ErrCascadeMismatch     = errors.New("escrow: destination cancellation must precede source cancellation")
	ErrUnknownAction       = errors.New("escrow: unknown action")
	ErrEscrowNotFound      = errors.New("escrow: not found")
	ErrEscrowExists        = errors.New("escrow: already exists")
)

// DepositPolicy decides who receives the safety deposit on a private Withdraw.
type DepositPolicy uint8

const (
	// RefundNonRecipient pays the party that does not receive the asset.
	RefundNonRecipient DepositPolicy = iota
	// RefundCaller pays whoever executed the withdraw.
	RefundCaller
)

func (p DepositPolicy) String() string {
	if p == RefundCaller {
		return "caller"
	}
	return "non_recipient"
}

// ParseDepositPolicy accepts "non_recipient" (default on empty) and "caller".
func ParseDepositPolicy(s string) (DepositPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "non_recipient", "non-recipient":
		return RefundNonRecipient, nil
	case "caller":
		return RefundCaller, nil
	}
	return 0, fmt.Errorf("unknown deposit policy %q", s)
}

// Credentials recognises third parties allowed to PublicWithdraw.
type Credentials interface {
	CanRelay(id models.Identity) bool
}

// Allowlist is a static Credentials set. An empty allowlist admits everyone.
type Allowlist map[models.Identity]struct{}

func NewAllowlist(ids ...models.Identity) Allowlist {
	a := make(Allowlist, len(ids))
	for _, id := range ids {
		a[id] = struct{}{}
	}
	return a
}

func (a Allowlist) CanRelay(id models.Identity) bool {
	if len(a) == 0 {
		return true
	}
	_, ok := a[id]
	return ok
}

// Request is one attempted transition against a funded escrow. Now is the
// ledger's clock read under the same lock as the guard evaluation.
type Request struct {
	Action models.Action
	Caller models.Identity
	Secret *hashlock.Secret
	Now    time.Time
}

// Settlement is the outcome of a successful terminal transition.
type Settlement struct {
	EscrowID string             `json:"escrowId"`
	Action   models.Action      `json:"action"`
	State    models.EscrowState `json:"state"`
	Payouts  []models.Payout    `json:"payouts"`
	At       time.Time          `json:"at"`
}

// Disbursed sums the payouts.
func (s Settlement) Disbursed() models.Value {
	v := models.Value{}
	for _, p := range s.Payouts {
		v.Add(p.Asset, p.Amount)
	}
	return v
}

// Rules is the ledger-independent state machine. Both ledger renditions
// evaluate every transition through it and only differ in how the
// resulting payouts are enforced.
type Rules struct {
	Policy      DepositPolicy
	Credentials Credentials
}

// Evaluate checks every guard of req against rec and returns the payouts the
// host ledger must perform atomically. It never mutates rec.
func (r Rules) Evaluate(rec models.EscrowRecord, req Request) (*Settlement, error) {
	if rec.State != models.StateFunded {
		return nil, fmt.Errorf("%w: state is %s", ErrNotFunded, rec.State)
	}

	var (
		assetTo   models.Identity
		depositTo models.Identity
		state     models.EscrowState
	)

	switch req.Action {
	case models.ActionWithdraw:
		if !privateWithdrawer(rec, req.Caller) {
			return nil, fmt.Errorf("%w: %s cannot withdraw %s escrow", ErrUnauthorized, req.Caller, rec.Side)
		}
		if req.Now.After(rec.Cascade.ResolverCancel) {
			return nil, fmt.Errorf("%w: private withdraw closed at %s", ErrOutsideWindow, rec.Cascade.ResolverCancel.UTC().Format(time.RFC3339))
		}
		if err := checkSecret(rec, req.Secret); err != nil {
			return nil, err
		}
		assetTo = rec.AssetRecipient()
		depositTo = rec.NonRecipient()
		if r.Policy == RefundCaller {
			depositTo = req.Caller
		}
		state = models.StateWithdrawn

	case models.ActionPublicWithdraw:
		if r.Credentials != nil && !r.Credentials.CanRelay(req.Caller) {
			return nil, fmt.Errorf("%w: %s holds no relay credential", ErrUnauthorized, req.Caller)
		}
		if w := rec.Cascade.WindowAt(req.Now); w != models.WindowPublicWithdraw {
			return nil, fmt.Errorf("%w: public withdraw needs %s window, now in %s", ErrOutsideWindow, models.WindowPublicWithdraw, w)
		}
		if err := checkSecret(rec, req.Secret); err != nil {
			return nil, err
		}
		assetTo = rec.AssetRecipient()
		depositTo = req.Caller
		state = models.StateWithdrawn

	case models.ActionCancel:
		if req.Caller != rec.Resolver {
			return nil, fmt.Errorf("%w: only the resolver may cancel", ErrUnauthorized)
		}
		if !req.Now.After(rec.Cascade.ResolverCancel) {
			return nil, fmt.Errorf("%w: cancel opens after %s", ErrOutsideWindow, rec.Cascade.ResolverCancel.UTC().Format(time.RFC3339))
		}
		assetTo = rec.Depositor()
		depositTo = rec.Resolver
		state = models.StateCancelled

	case models.ActionPublicCancel:
		if req.Caller == "" {
			return nil, fmt.Errorf("%w: anonymous caller", ErrUnauthorized)
		}
		if !req.Now.After(rec.Cascade.Public) {
			return nil, fmt.Errorf("%w: public cancel opens after %s", ErrOutsideWindow, rec.Cascade.Public.UTC().Format(time.RFC3339))
		}
		assetTo = rec.Depositor()
		depositTo = req.Caller
		state = models.StateCancelled

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, req.Action)
	}

	payouts := []models.Payout{{
		To:     assetTo,
		Asset:  rec.Asset,
		Amount: new(big.Int).Set(rec.Amount),
		Kind:   models.PayoutAsset,
	}}
	if rec.SafetyDeposit != nil && rec.SafetyDeposit.Sign() > 0 {
		payouts = append(payouts, models.Payout{
			To:     depositTo,
			Asset:  models.NativeAsset,
			Amount: new(big.Int).Set(rec.SafetyDeposit),
			Kind:   models.PayoutSafetyDeposit,
		})
	}

	return &Settlement{
		EscrowID: rec.ID,
		Action:   req.Action,
		State:    state,
		Payouts:  payouts,
		At:       req.Now,
	}, nil
}

// privateWithdrawer: the resolver on either side, and on the destination
// side also the maker or its receiver.
func privateWithdrawer(rec models.EscrowRecord, caller models.Identity) bool {
	if caller == "" {
		return false
	}
	if caller == rec.Resolver {
		return true
	}
	return rec.Side == models.SideDestination && (caller == rec.Maker || caller == rec.AssetRecipient())
}

func checkSecret(rec models.EscrowRecord, secret *hashlock.Secret) error {
	if secret == nil {
		return fmt.Errorf("%w: no secret presented", ErrInvalidSecret)
	}
	if !hashlock.Verify(*secret, rec.Hashlock) {
		return ErrInvalidSecret
	}
	return nil
}

// ValidateTerms checks the immutables of an escrow about to be created.
func ValidateTerms(rec models.EscrowRecord) error {
	switch {
	case rec.Side != models.SideSource && rec.Side != models.SideDestination:
		return fmt.Errorf("%w: unknown side", ErrInvalidTerms)
	case rec.Hashlock.IsZero():
		return fmt.Errorf("%w: empty hashlock", ErrInvalidTerms)
	case rec.Maker == "" || rec.Resolver == "":
		return fmt.Errorf("%w: maker and resolver are required", ErrInvalidTerms)
	case rec.Asset == "":
		return fmt.Errorf("%w: asset is required", ErrInvalidTerms)
	case rec.Amount == nil || rec.Amount.Sign() <= 0:
		return fmt.Errorf("%w: amount must be positive", ErrInvalidTerms)
	case rec.SafetyDeposit == nil || rec.SafetyDeposit.Sign() < 0:
		return fmt.Errorf("%w: safety deposit must be non-negative", ErrInvalidTerms)
	}
	if err := rec.Cascade.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTerms, err)
	}
	// deadlines are committed at one-second resolution
	for _, d := range []time.Time{rec.Cascade.ResolverExclusive, rec.Cascade.ResolverCancel, rec.Cascade.Public} {
		if d.Nanosecond() != 0 {
			return fmt.Errorf("%w: deadline %s is not a whole second", ErrInvalidTerms, d.Format(time.RFC3339Nano))
		}
	}
	return nil
}

// CheckFunding requires held to equal the record's deposit exactly.
func CheckFunding(rec models.EscrowRecord, held models.Value) error {
	want := rec.Deposited()
	if !held.Covers(want) {
		return fmt.Errorf("%w: need %v", ErrInsufficientFunding, formatValue(want))
	}
	if !want.Covers(held) {
		return fmt.Errorf("%w: holds %v, expected %v", ErrAmountMismatch, formatValue(held), formatValue(want))
	}
	return nil
}

// CheckCovered requires held to hold at least the record's deposit. Value
// above it does not belong to the escrow terms.
func CheckCovered(rec models.EscrowRecord, held models.Value) error {
	want := rec.Deposited()
	if !held.Covers(want) {
		return fmt.Errorf("%w: holds %v, need %v", ErrInsufficientFunding, formatValue(held), formatValue(want))
	}
	return nil
}

// CheckCrossSide requires the destination escrow to become cancellable
// strictly before the source escrow does.
func CheckCrossSide(dst models.Cascade, srcCancel time.Time) error {
	if srcCancel.IsZero() {
		return nil
	}
	if !dst.ResolverCancel.Before(srcCancel) {
		return fmt.Errorf("%w: dst %s, src %s", ErrCascadeMismatch,
			dst.ResolverCancel.UTC().Format(time.RFC3339), srcCancel.UTC().Format(time.RFC3339))
	}
	return nil
}

func formatValue(v models.Value) string {
	parts := make([]string, 0, len(v))
	for _, a := range v.Assets() {
		parts = append(parts, fmt.Sprintf("%s %s", v.Get(a), a))
	}
	return strings.Join(parts, " + ")
}
