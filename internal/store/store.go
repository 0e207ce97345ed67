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

package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ronakgupta11/cardano-swap/internal/escrow"
	"github.com/ronakgupta11/cardano-swap/internal/models"
)

// Sentinel errors shared by all backends.
var (
	ErrDuplicateTransaction   = errors.New("duplicate transaction")
	ErrConcurrentModification = errors.New("concurrent modification detected")
	ErrNotFound               = errors.New("not found")
	ErrOrderTaken             = errors.New("order already taken by another resolver")
)

// ListOrdersParams filters and pages the order book. An empty Status lists
// every order.
type ListOrdersParams struct {
	Status models.SwapStatus
	Limit  int
	Offset int
}

// StatusUpdate moves an order to a new status if it is still at Version.
type StatusUpdate struct {
	OrderHash string
	Status    models.SwapStatus
	Reason    string
	Version   int64
}

// OrderStore persists signed orders and their operator-facing status.
type OrderStore interface {
	SaveOrder(ctx context.Context, rec models.OrderRecord) error
	GetOrder(ctx context.Context, orderHash string) (*models.OrderRecord, error)
	ListOrders(ctx context.Context, params ListOrdersParams) ([]models.OrderRecord, error)
	// TakeOrder records the single resolver committed to an order.
	TakeOrder(ctx context.Context, orderHash string, resolver models.Identity) error
	UpdateStatus(ctx context.Context, update StatusUpdate) error
	MarkDisclosed(ctx context.Context, orderHash string, at time.Time) error
	// ActiveOrders are orders the coordinator still watches.
	ActiveOrders(ctx context.Context) ([]models.OrderRecord, error)
	// PurgeFinal drops final and failed orders last updated before cutoff.
	PurgeFinal(ctx context.Context, cutoff time.Time) (int64, error)
}

// EscrowStore keeps the last observed state of each escrow.
type EscrowStore interface {
	UpsertEscrow(ctx context.Context, rec models.EscrowRecord) error
	GetEscrows(ctx context.Context, orderHash string) ([]models.EscrowRecord, error)
}

// Journal is the disbursement journal. Every entry is idempotent on the
// escrow id and action, so replays return ErrDuplicateTransaction.
type Journal interface {
	RecordFunding(ctx context.Context, rec models.EscrowRecord) error
	RecordSettlement(ctx context.Context, rec models.EscrowRecord, settlement escrow.Settlement) error
	GetEntries(ctx context.Context, escrowId string) ([]models.JournalTransaction, error)
	GetBalance(ctx context.Context, account, asset string) (decimal.Decimal, error)
	Close()
}

// Store is everything the coordinator and the order API need.
type Store interface {
	OrderStore
	EscrowStore
	Journal
}

// FundingReference and SettlementReference key journal entries.
func FundingReference(escrowId string) string { return escrowId + ":" + string(models.ActionCreate) }

func SettlementReference(escrowId string, action models.Action) string {
	return escrowId + ":" + string(action)
}

// EscrowAccount and PartyAccount name journal accounts.
func EscrowAccount(ledger, escrowId string) string { return "escrows:" + ledger + ":" + escrowId }

func PartyAccount(ledger string, who models.Identity) string {
	return "parties:" + ledger + ":" + string(who)
}

// Composite serves orders and escrows from one backend and the journal from
// another.
type Composite struct {
	OrderStore
	EscrowStore
	Journal
}

var _ Store = Composite{}
