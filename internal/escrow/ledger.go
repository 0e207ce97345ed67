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
	"context"
	"math/big"
	"sort"

	"github.com/ronakgupta11/cardano-swap/internal/hashlock"
	"github.com/ronakgupta11/cardano-swap/internal/models"
)

// Feed is the minimum a ledger collaborator exposes to the coordinator:
// every escrow locked to a hashlock on a given side, oldest first, with
// current balances filled in. Anyone can lock to a public hashlock, so
// callers pick among the candidates. It returns ErrEscrowNotFound when no
// such escrow exists yet.
type Feed interface {
	FindByHashlock(ctx context.Context, side models.Side, h hashlock.Hashlock) ([]models.EscrowRecord, error)
}

// SortCandidates orders escrows by creation time, then by ID.
func SortCandidates(recs []models.EscrowRecord) {
	sort.Slice(recs, func(i, j int) bool {
		if !recs[i].CreatedAt.Equal(recs[j].CreatedAt) {
			return recs[i].CreatedAt.Before(recs[j].CreatedAt)
		}
		return recs[i].ID < recs[j].ID
	})
}

// Ledger is the contract both ledger renditions implement for the terminal
// transitions. Creation differs per ledger and is not part of it.
type Ledger interface {
	Feed

	Name() string
	Escrow(ctx context.Context, id string) (*models.EscrowRecord, error)
	BalanceOf(ctx context.Context, who models.Identity, asset models.Asset) (*big.Int, error)

	Withdraw(ctx context.Context, id string, caller models.Identity, secret hashlock.Secret) (*Settlement, error)
	PublicWithdraw(ctx context.Context, id string, caller models.Identity, secret hashlock.Secret) (*Settlement, error)
	Cancel(ctx context.Context, id string, caller models.Identity) (*Settlement, error)
	PublicCancel(ctx context.Context, id string, caller models.Identity) (*Settlement, error)
}

// Prefunder lets a counterparty fund an escrow before it exists. Ledgers
// where creation and funding are one transaction implement it trivially.
type Prefunder interface {
	// EscrowAddress is where an escrow with these terms will live.
	EscrowAddress(terms models.EscrowRecord) (models.Identity, error)
	// CheckPrefunded fails with ErrInsufficientFunding when the address does
	// not yet hold the safety deposit.
	CheckPrefunded(ctx context.Context, terms models.EscrowRecord) error
}
