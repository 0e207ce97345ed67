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

package formance

import (
	"context"
	"fmt"
	"strings"

	"github.com/formancehq/formance-sdk-go/v3/pkg/models/operations"
	"github.com/formancehq/formance-sdk-go/v3/pkg/models/shared"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ronakgupta11/cardano-swap/internal/escrow"
	"github.com/ronakgupta11/cardano-swap/internal/models"
	"github.com/ronakgupta11/cardano-swap/internal/store"
)

// ---------------------------------------------------------------------------
// Numscript templates. All metadata is set inside the script via
// set_tx_meta() so every Formance transaction is self-describing.
// ---------------------------------------------------------------------------

const numscriptEscrowFunding = `vars {
  asset $asset
  number $amount
  account $depositor
  account $escrow
  string $escrow_id
  string $order_hash
  string $side
  string $hashlock
  string $asset_id
}

send [$asset $amount] (
  source = $depositor allowing unbounded overdraft
  destination = $escrow
)

set_tx_meta("event_type", "escrow_funded")
set_tx_meta("escrow_id", $escrow_id)
set_tx_meta("order_hash", $order_hash)
set_tx_meta("side", $side)
set_tx_meta("hashlock", $hashlock)
set_tx_meta("asset_id", $asset_id)
`

const numscriptEscrowFundingWithDeposit = `vars {
  asset $asset
  number $amount
  account $depositor
  account $escrow
  asset $deposit_asset
  number $deposit_amount
  account $resolver
  string $escrow_id
  string $order_hash
  string $side
  string $hashlock
  string $asset_id
}

send [$asset $amount] (
  source = $depositor allowing unbounded overdraft
  destination = $escrow
)

send [$deposit_asset $deposit_amount] (
  source = $resolver allowing unbounded overdraft
  destination = $escrow
)

set_tx_meta("event_type", "escrow_funded")
set_tx_meta("escrow_id", $escrow_id)
set_tx_meta("order_hash", $order_hash)
set_tx_meta("side", $side)
set_tx_meta("hashlock", $hashlock)
set_tx_meta("asset_id", $asset_id)
`

// settlementScript pays n payouts out of one escrow in a single transaction.
func settlementScript(n int) string {
	var b strings.Builder
	b.WriteString("vars {\n  account $escrow\n  string $escrow_id\n  string $order_hash\n  string $action\n")
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "  asset $asset_%d\n  number $amount_%d\n  account $to_%d\n", i, i, i)
	}
	b.WriteString("}\n")
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "\nsend [$asset_%d $amount_%d] (\n  source = $escrow\n  destination = $to_%d\n)\n", i, i, i)
	}
	b.WriteString(`
set_tx_meta("event_type", "escrow_settled")
set_tx_meta("escrow_id", $escrow_id)
set_tx_meta("order_hash", $order_hash)
set_tx_meta("action", $action)
`)
	return b.String()
}

// RecordFunding posts the escrowed amount and the safety deposit into the
// escrow account.
func (s *Service) RecordFunding(ctx context.Context, rec models.EscrowRecord) error {
	vars := map[string]string{
		"asset":      s.formanceAsset(rec.Ledger, rec.Asset),
		"amount":     rec.Amount.String(),
		"depositor":  formanceAccount(store.PartyAccount(rec.Ledger, rec.Depositor())),
		"escrow":     formanceAccount(store.EscrowAccount(rec.Ledger, rec.ID)),
		"escrow_id":  rec.ID,
		"order_hash": rec.OrderHash,
		"side":       rec.Side.String(),
		"hashlock":   rec.Hashlock.Hex(),
		"asset_id":   string(rec.Asset),
	}
	script := numscriptEscrowFunding
	if rec.SafetyDeposit != nil && rec.SafetyDeposit.Sign() > 0 {
		script = numscriptEscrowFundingWithDeposit
		vars["deposit_asset"] = s.formanceAsset(rec.Ledger, models.NativeAsset)
		vars["deposit_amount"] = rec.SafetyDeposit.String()
		vars["resolver"] = formanceAccount(store.PartyAccount(rec.Ledger, rec.Resolver))
	}

	reference := store.FundingReference(rec.ID)
	if err := s.post(ctx, reference, script, vars); err != nil {
		return fmt.Errorf("error recording escrow funding: %w", err)
	}
	if err := s.TagEscrowAccount(ctx, rec); err != nil {
		zap.L().Warn("Escrow account left untagged", zap.String("escrow_id", rec.ID), zap.Error(err))
	}

	zap.L().Info("Escrow funding recorded in Formance",
		zap.String("escrow_id", rec.ID),
		zap.String("ledger", rec.Ledger),
		zap.String("amount", rec.Amount.String()))
	return nil
}

// RecordSettlement posts every payout of a terminal transition.
func (s *Service) RecordSettlement(ctx context.Context, rec models.EscrowRecord, settlement escrow.Settlement) error {
	if len(settlement.Payouts) == 0 {
		return fmt.Errorf("settlement of %s has no payouts", rec.ID)
	}
	vars := map[string]string{
		"escrow":     formanceAccount(store.EscrowAccount(rec.Ledger, rec.ID)),
		"escrow_id":  rec.ID,
		"order_hash": rec.OrderHash,
		"action":     string(settlement.Action),
	}
	for i, p := range settlement.Payouts {
		vars[fmt.Sprintf("asset_%d", i)] = s.formanceAsset(rec.Ledger, p.Asset)
		vars[fmt.Sprintf("amount_%d", i)] = p.Amount.String()
		vars[fmt.Sprintf("to_%d", i)] = formanceAccount(store.PartyAccount(rec.Ledger, p.To))
	}

	reference := store.SettlementReference(rec.ID, settlement.Action)
	if err := s.post(ctx, reference, settlementScript(len(settlement.Payouts)), vars); err != nil {
		return fmt.Errorf("error recording escrow settlement: %w", err)
	}

	zap.L().Info("Escrow settlement recorded in Formance",
		zap.String("escrow_id", rec.ID),
		zap.String("action", string(settlement.Action)),
		zap.Int("payouts", len(settlement.Payouts)))
	return nil
}

func (s *Service) post(ctx context.Context, reference, script string, vars map[string]string) error {
	postTx := shared.V2PostTransaction{
		Reference: strPtr(reference),
		Script: &shared.V2PostTransactionScript{
			Plain: script,
			Vars:  vars,
		},
	}
	if oc := models.GetObservationContext(ctx); oc != nil && !oc.ObservedAt.IsZero() {
		postTx.Timestamp = &oc.ObservedAt
	}

	_, err := s.client.Ledger.V2.CreateTransaction(ctx, operations.V2CreateTransactionRequest{
		Ledger:            s.ledger,
		V2PostTransaction: postTx,
	})
	if err != nil {
		if isConflictError(err) {
			return fmt.Errorf("%w: reference %s already exists", store.ErrDuplicateTransaction, reference)
		}
		return err
	}
	return nil
}

// GetEntries lists the journal legs of an escrow. Every posting yields a
// debit leg on its source and a credit leg on its destination. Running
// balances are not tracked per leg by Formance and stay zero.
func (s *Service) GetEntries(ctx context.Context, escrowId string) ([]models.JournalTransaction, error) {
	pageSize := int64(100)
	resp, err := s.client.Ledger.V2.ListTransactions(ctx, operations.V2ListTransactionsRequest{
		Ledger:   s.ledger,
		PageSize: &pageSize,
		RequestBody: map[string]any{
			"$match": map[string]any{
				"metadata[escrow_id]": escrowId,
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list escrow transactions: %w", err)
	}

	var entries []models.JournalTransaction
	for _, tx := range resp.V2TransactionsCursorResponse.Cursor.Data {
		ref := ""
		if tx.Reference != nil {
			ref = *tx.Reference
		}
		entryType := tx.Metadata["action"]
		if entryType == "" {
			entryType = tx.Metadata["event_type"]
		}
		for i, p := range tx.Postings {
			amount := decimal.NewFromBigInt(p.Amount, 0)
			base := models.JournalTransaction{
				Asset:     p.Asset,
				EntryType: entryType,
				Reference: ref,
				EscrowId:  escrowId,
				OrderHash: tx.Metadata["order_hash"],
				CreatedAt: tx.Timestamp,
			}
			out, in := base, base
			out.Id = fmt.Sprintf("%d-%d-out", tx.ID, i)
			out.Account, out.Amount = p.Source, amount.Neg()
			in.Id = fmt.Sprintf("%d-%d-in", tx.ID, i)
			in.Account, in.Amount = p.Destination, amount
			entries = append(entries, out, in)
		}
	}
	return entries, nil
}
