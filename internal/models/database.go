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
	"time"

	"github.com/shopspring/decimal"
)

// AccountBalance is the running journal balance of one account and asset
type AccountBalance struct {
	Id                string          `db:"id"`
	Account           string          `db:"account"`
	Asset             string          `db:"asset"`
	Balance           decimal.Decimal `db:"balance"`
	LastTransactionId string          `db:"last_transaction_id"`
	Version           int64           `db:"version"`
	UpdatedAt         time.Time       `db:"updated_at"`
}

// JournalTransaction is one immutable leg of an escrow funding or disbursement
type JournalTransaction struct {
	Id            string          `db:"id" json:"id"`
	Account       string          `db:"account" json:"account"`
	Asset         string          `db:"asset" json:"asset"`
	EntryType     string          `db:"entry_type" json:"entryType"`
	Amount        decimal.Decimal `db:"amount" json:"amount"`
	BalanceBefore decimal.Decimal `db:"balance_before" json:"balanceBefore"`
	BalanceAfter  decimal.Decimal `db:"balance_after" json:"balanceAfter"`
	Reference     string          `db:"reference" json:"reference"`
	EscrowId      string          `db:"escrow_id" json:"escrowId"`
	OrderHash     string          `db:"order_hash" json:"orderHash"`
	Memo          string          `db:"memo" json:"memo,omitempty"`
	CreatedAt     time.Time       `db:"created_at" json:"createdAt"`
}
