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

package coordinator

import (
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"

	"github.com/ronakgupta11/cardano-swap/internal/escrow"
	"github.com/ronakgupta11/cardano-swap/internal/models"
	"github.com/ronakgupta11/cardano-swap/internal/order"
)

var ErrPairMismatch = errors.New("coordinator: escrow pair does not match order")

// ValidatePair checks that src and dst are the two escrows the order asked
// for and that each funded one holds at least its deposit. Only a pair that
// passes may see the secret.
func ValidatePair(so models.SignedOrder, src, dst *models.EscrowRecord) error {
	if src == nil || dst == nil {
		return fmt.Errorf("%w: both escrows required", ErrPairMismatch)
	}
	if err := checkSource(so, src); err != nil {
		return err
	}
	if err := checkDestination(so, dst); err != nil {
		return err
	}
	for _, rec := range []*models.EscrowRecord{src, dst} {
		if err := checkHolding(rec); err != nil {
			return err
		}
	}

	if err := escrow.CheckCrossSide(dst.Cascade, src.Cascade.ResolverCancel); err != nil {
		return fmt.Errorf("%w: %v", ErrPairMismatch, err)
	}
	return nil
}

// Selection is the escrow pair chosen for an order among every escrow
// locked to its hashlock.
type Selection struct {
	Src *models.EscrowRecord
	Dst *models.EscrowRecord
	// Ignored lists candidates whose terms are not the order's.
	Ignored []string
	// Rejected is why the chosen pair fails ValidatePair, if it does.
	Rejected error
}

// SelectPair picks the order's escrows from the candidates of both sides.
// Anyone can lock to a public hashlock, so candidates with foreign terms are
// ignored rather than rejected. Escrows already tracked for the order come
// first, then the oldest. The first pair that passes ValidatePair wins;
// otherwise the first candidate of each side is kept and the reason lands
// in Rejected.
func SelectPair(so models.SignedOrder, srcs, dsts []models.EscrowRecord, tracked func(models.EscrowRecord) bool) Selection {
	var sel Selection
	src := bound(srcs, tracked, &sel.Ignored, func(r *models.EscrowRecord) error { return checkSource(so, r) })
	dst := bound(dsts, tracked, &sel.Ignored, func(r *models.EscrowRecord) error { return checkDestination(so, r) })

	for i := range src {
		for j := range dst {
			if ValidatePair(so, &src[i], &dst[j]) == nil {
				sel.Src, sel.Dst = &src[i], &dst[j]
				return sel
			}
		}
	}

	if len(src) > 0 {
		sel.Src = &src[0]
	}
	if len(dst) > 0 {
		sel.Dst = &dst[0]
	}
	if sel.Src != nil && sel.Dst != nil {
		sel.Rejected = ValidatePair(so, sel.Src, sel.Dst)
	}
	return sel
}

// bound keeps the candidates that pass check, tracked ones first.
func bound(recs []models.EscrowRecord, tracked func(models.EscrowRecord) bool, ignored *[]string, check func(*models.EscrowRecord) error) []models.EscrowRecord {
	var out []models.EscrowRecord
	for i := range recs {
		if err := check(&recs[i]); err != nil {
			*ignored = append(*ignored, recs[i].ID)
			continue
		}
		out = append(out, recs[i])
	}
	if tracked != nil {
		sort.SliceStable(out, func(i, j int) bool { return tracked(out[i]) && !tracked(out[j]) })
	}
	return out
}

func checkSource(so models.SignedOrder, rec *models.EscrowRecord) error {
	o := so.Order
	if err := checkSide(so, rec, models.SideSource, o.SrcLedger, o.SrcAsset, o.SrcAmount, o.SrcSafetyDeposit); err != nil {
		return err
	}
	if !makerOf(o, rec.Maker) {
		return fmt.Errorf("%w: source maker %s is not the order maker", ErrPairMismatch, rec.Maker)
	}
	return nil
}

func checkDestination(so models.SignedOrder, rec *models.EscrowRecord) error {
	o := so.Order
	if err := checkSide(so, rec, models.SideDestination, o.DstLedger, o.DstAsset, o.DstAmount, o.DstSafetyDeposit); err != nil {
		return err
	}
	if !receives(o, rec.AssetRecipient()) {
		return fmt.Errorf("%w: destination pays %s, not the order receiver", ErrPairMismatch, rec.AssetRecipient())
	}
	return nil
}

func checkSide(so models.SignedOrder, rec *models.EscrowRecord, side models.Side, ledger string, asset models.Asset, amount, deposit *big.Int) error {
	switch {
	case rec.Side != side:
		return fmt.Errorf("%w: %s escrow reported as %s", ErrPairMismatch, side, rec.Side)
	case rec.Hashlock != so.Order.Hashlock:
		return fmt.Errorf("%w: %s hashlock %s", ErrPairMismatch, side, rec.Hashlock.Hex())
	case rec.Ledger != "" && rec.Ledger != ledger:
		return fmt.Errorf("%w: %s escrow on %s, order names %s", ErrPairMismatch, side, rec.Ledger, ledger)
	case rec.OrderHash != "" && !strings.EqualFold(rec.OrderHash, so.Hash.Hex()):
		return fmt.Errorf("%w: %s escrow bound to order %s", ErrPairMismatch, side, rec.OrderHash)
	case !strings.EqualFold(string(rec.Asset), string(asset)):
		return fmt.Errorf("%w: %s asset %s, order wants %s", ErrPairMismatch, side, rec.Asset, asset)
	case cmp(rec.Amount, amount) != 0:
		return fmt.Errorf("%w: %s amount %s, order wants %s", ErrPairMismatch, side, orZero(rec.Amount), orZero(amount))
	case cmp(rec.SafetyDeposit, deposit) != 0:
		return fmt.Errorf("%w: %s safety deposit %s, order wants %s", ErrPairMismatch, side, orZero(rec.SafetyDeposit), orZero(deposit))
	}
	return nil
}

// checkHolding requires a funded escrow to hold at least its deposit.
// Value above it is not part of the terms.
func checkHolding(rec *models.EscrowRecord) error {
	if rec.State != models.StateFunded || rec.Balance == nil {
		return nil
	}
	if err := escrow.CheckCovered(*rec, rec.Balance); err != nil {
		return fmt.Errorf("%w: %s %v", ErrPairMismatch, rec.Side, err)
	}
	return nil
}

// makerOf accepts either of the maker's identities: the signing account or
// the key address it funds from on an output ledger.
func makerOf(o models.Order, id models.Identity) bool {
	if sameIdentity(id, order.Identity(o.Maker)) {
		return true
	}
	return o.MakerSource != "" && sameIdentity(id, o.MakerSource)
}

// receives checks the destination payee. Without an explicit receiver the
// maker collects under any of its identities.
func receives(o models.Order, id models.Identity) bool {
	if o.Receiver != "" {
		return sameIdentity(id, o.Receiver)
	}
	return makerOf(o, id)
}

func sameIdentity(a, b models.Identity) bool {
	return strings.EqualFold(string(a), string(b))
}

func cmp(a, b *big.Int) int { return orZero(a).Cmp(orZero(b)) }

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
