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
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ronakgupta11/cardano-swap/internal/escrow"
	"github.com/ronakgupta11/cardano-swap/internal/hashlock"
	"github.com/ronakgupta11/cardano-swap/internal/models"
	"github.com/ronakgupta11/cardano-swap/internal/relay"
	"github.com/ronakgupta11/cardano-swap/internal/secrets"
	"github.com/ronakgupta11/cardano-swap/internal/store"
)

var ErrUnknownLedger = errors.New("coordinator: no feed for ledger")

// processOrder reads every candidate escrow fresh from the feeds, picks the
// pair bound to the order, journals what changed, discloses if the pair is
// funded and valid, then updates status.
func (c *Coordinator) processOrder(ctx context.Context, rec models.OrderRecord) error {
	o := rec.Order
	orderHash := rec.Hash.Hex()
	pollId := uuid.New().String()

	srcs, err := c.fetch(ctx, o.SrcLedger, models.SideSource, o.Hashlock)
	if err != nil {
		return c.failOnUnknownLedger(ctx, rec, err)
	}
	dsts, err := c.fetch(ctx, o.DstLedger, models.SideDestination, o.Hashlock)
	if err != nil {
		return c.failOnUnknownLedger(ctx, rec, err)
	}

	known, err := c.knownStates(ctx, orderHash)
	if err != nil {
		return err
	}
	sel := SelectPair(rec.SignedOrder, srcs, dsts, func(e models.EscrowRecord) bool {
		_, ok := known[escrowKey(e.Ledger, e.ID)]
		return ok
	})
	if len(sel.Ignored) > 0 {
		zap.L().Debug("Ignoring escrows not bound to the order",
			zap.String("order_hash", orderHash),
			zap.Strings("escrow_ids", sel.Ignored))
	}
	for _, e := range []*models.EscrowRecord{sel.Src, sel.Dst} {
		if e == nil {
			continue
		}
		if err := c.observe(ctx, orderHash, pollId, *e, known); err != nil {
			return err
		}
	}

	obs := Observation{
		Previous:   rec.Status,
		Src:        sel.Src,
		Dst:        sel.Dst,
		Disclosed:  rec.DisclosedAt != nil,
		Expiration: o.Expiration,
		Now:        c.now(),
		Grace:      c.grace,
		Rejected:   sel.Rejected,
	}

	if bothFunded(sel.Src, sel.Dst) {
		if sel.Rejected != nil {
			zap.L().Warn("Escrow pair rejected, secret withheld",
				zap.String("order_hash", orderHash),
				zap.Error(sel.Rejected))
		} else if rec.DisclosedAt == nil {
			disclosed, err := c.disclose(ctx, rec)
			if err != nil {
				zap.L().Error("Failed to disclose secret",
					zap.String("order_hash", orderHash),
					zap.Error(err))
			}
			obs.Disclosed = disclosed
		}
	}

	return c.applyStatus(ctx, rec, obs)
}

func bothFunded(src, dst *models.EscrowRecord) bool {
	return src != nil && dst != nil && src.State == models.StateFunded && dst.State == models.StateFunded
}

// fetch returns nil, nil while no escrow exists yet.
func (c *Coordinator) fetch(ctx context.Context, ledger string, side models.Side, h hashlock.Hashlock) ([]models.EscrowRecord, error) {
	feed, ok := c.feeds[ledger]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownLedger, ledger)
	}

	recs, err := feed.FindByHashlock(ctx, side, h)
	if errors.Is(err, escrow.ErrEscrowNotFound) {
		c.metrics.ObservePoll(ledger, nil)
		return nil, nil
	}
	c.metrics.ObservePoll(ledger, err)
	if err != nil {
		return nil, fmt.Errorf("failed to poll %s escrow on %s: %w", side, ledger, err)
	}
	for i := range recs {
		if recs[i].Ledger == "" {
			recs[i].Ledger = ledger
		}
	}
	return recs, nil
}

func (c *Coordinator) failOnUnknownLedger(ctx context.Context, rec models.OrderRecord, err error) error {
	if !errors.Is(err, ErrUnknownLedger) {
		return err
	}
	return c.applyStatus(ctx, rec, Observation{Previous: rec.Status, Fault: err})
}

func escrowKey(ledger, id string) string { return ledger + "/" + id }

func (c *Coordinator) knownStates(ctx context.Context, orderHash string) (map[string]models.EscrowState, error) {
	stored, err := c.store.GetEscrows(ctx, orderHash)
	if err != nil {
		return nil, fmt.Errorf("failed to load escrows: %w", err)
	}
	known := make(map[string]models.EscrowState, len(stored))
	for _, e := range stored {
		known[escrowKey(e.Ledger, e.ID)] = e.State
	}
	return known, nil
}

// observe journals the escrow's funding and settlement and stores its
// latest state. Journal failures are retried on the next poll.
func (c *Coordinator) observe(ctx context.Context, orderHash, pollId string, rec models.EscrowRecord, known map[string]models.EscrowState) error {
	if rec.OrderHash == "" {
		rec.OrderHash = orderHash
	}

	jctx := models.WithObservationContext(ctx, &models.ObservationContext{
		Ledger:     rec.Ledger,
		ObservedAt: c.now(),
		PollId:     pollId,
	})

	if rec.State != models.StateUninitialized {
		c.journal(string(models.ActionCreate), store.FundingReference(rec.ID), func() error {
			return c.store.RecordFunding(jctx, rec)
		})
	}
	if rec.State.Terminal() && rec.SettledBy != "" {
		settlement := escrow.Settlement{
			EscrowID: rec.ID,
			Action:   rec.SettledBy,
			State:    rec.State,
			Payouts:  rec.Payouts,
			At:       rec.SettledAt,
		}
		c.journal(string(rec.SettledBy), store.SettlementReference(rec.ID, rec.SettledBy), func() error {
			return c.store.RecordSettlement(jctx, rec, settlement)
		})
	}

	prev, seen := known[escrowKey(rec.Ledger, rec.ID)]
	if seen && prev == rec.State {
		return nil
	}
	if err := c.store.UpsertEscrow(ctx, rec); err != nil {
		return fmt.Errorf("failed to store escrow %s: %w", rec.ID, err)
	}
	c.metrics.ObserveTransition(rec.Ledger, rec.Side.String(), rec.State.String())

	zap.L().Info("Escrow state observed",
		zap.String("order_hash", orderHash),
		zap.String("ledger", rec.Ledger),
		zap.String("escrow_id", rec.ID),
		zap.String("side", rec.Side.String()),
		zap.String("state", rec.State.String()))
	return nil
}

func (c *Coordinator) journal(action, ref string, write func() error) {
	if c.isJournaled(ref) {
		return
	}
	err := write()
	switch {
	case err == nil:
		c.metrics.ObserveJournal(action, "recorded")
	case errors.Is(err, store.ErrDuplicateTransaction):
		c.metrics.ObserveJournal(action, "duplicate")
	default:
		c.metrics.ObserveJournal(action, "error")
		zap.L().Error("Failed to journal escrow transition",
			zap.String("reference", ref),
			zap.Error(err))
		return
	}
	c.markJournaled(ref)
}

// disclose hands the maker's secret to the relay. It is only reached with a
// validated, fully funded pair. It reports false when this coordinator does
// not hold the secret.
func (c *Coordinator) disclose(ctx context.Context, rec models.OrderRecord) (bool, error) {
	if c.secrets == nil || c.relay == nil {
		return false, nil
	}
	orderHash := rec.Hash.Hex()

	secret, err := c.secrets.ByOrder(orderHash)
	if errors.Is(err, secrets.ErrNotFound) {
		zap.L().Debug("No secret held for order", zap.String("order_hash", orderHash))
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read secret: %w", err)
	}
	if !hashlock.Verify(secret, rec.Order.Hashlock) {
		return false, fmt.Errorf("held secret does not open hashlock %s", rec.Order.Hashlock.Hex())
	}

	fresh, err := c.relay.Publish(ctx, relay.NewMessage(orderHash, secret))
	if err != nil {
		return false, fmt.Errorf("failed to publish secret: %w", err)
	}
	c.metrics.ObserveDisclosure(fresh)

	if err := c.store.MarkDisclosed(ctx, orderHash, c.now()); err != nil {
		return true, fmt.Errorf("failed to mark disclosed: %w", err)
	}

	zap.L().Info("Secret disclosed",
		zap.String("order_hash", orderHash),
		zap.String("hashlock", rec.Order.Hashlock.Hex()),
		zap.Bool("fresh", fresh))
	return true, nil
}

func (c *Coordinator) applyStatus(ctx context.Context, rec models.OrderRecord, obs Observation) error {
	status, reason := DeriveStatus(obs)
	if status == rec.Status && (reason == rec.Reason || reason == "") {
		return nil
	}

	err := c.store.UpdateStatus(ctx, store.StatusUpdate{
		OrderHash: rec.Hash.Hex(),
		Status:    status,
		Reason:    reason,
		Version:   rec.Version,
	})
	if errors.Is(err, store.ErrConcurrentModification) {
		zap.L().Debug("Order changed during poll, retrying next round",
			zap.String("order_hash", rec.Hash.Hex()))
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to update status: %w", err)
	}
	c.metrics.ObserveStatus(string(status))

	zap.L().Info("Swap status changed",
		zap.String("order_hash", rec.Hash.Hex()),
		zap.String("from", string(rec.Status)),
		zap.String("to", string(status)),
		zap.String("reason", reason))
	return nil
}
