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
	"math/big"
	"time"

	v3 "github.com/formancehq/formance-sdk-go/v3"
	"github.com/formancehq/formance-sdk-go/v3/pkg/models/operations"
	"github.com/formancehq/formance-sdk-go/v3/pkg/models/shared"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ronakgupta11/cardano-swap/internal/models"
	"github.com/ronakgupta11/cardano-swap/internal/store"
)

// GetBalance returns the base-unit balance of a journal account for an asset.
func (s *Service) GetBalance(ctx context.Context, account, asset string) (decimal.Decimal, error) {
	zap.L().Debug("Getting account balance from Formance",
		zap.String("account", account), zap.String("asset", asset))

	fAsset := s.formanceAsset(ledgerOf(account), models.Asset(asset))
	vols, err := s.getAccountVolumes(ctx, formanceAccount(account))
	if err != nil {
		return decimal.Zero, err
	}
	if bal := volumeBalance(vols, fAsset); bal != nil {
		return decimal.NewFromBigInt(bal, 0), nil
	}
	return decimal.Zero, nil
}

// GetAllBalances returns all non-zero balances of a journal account, keyed by
// Formance asset.
func (s *Service) GetAllBalances(ctx context.Context, account string) ([]models.AccountBalance, error) {
	addr := formanceAccount(account)
	vols, err := s.getAccountVolumes(ctx, addr)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	var balances []models.AccountBalance
	for fAsset, vol := range vols {
		bal := volumeBalance(map[string]shared.V2Volume{fAsset: vol}, fAsset)
		if bal == nil || bal.Sign() == 0 {
			continue
		}
		balances = append(balances, models.AccountBalance{
			Id:        addr,
			Account:   account,
			Asset:     fAsset,
			Balance:   decimal.NewFromBigInt(bal, 0),
			UpdatedAt: now,
		})
	}
	return balances, nil
}

// TagEscrowAccount attaches the swap identifiers to an escrow account so it
// can be found from the Formance console.
func (s *Service) TagEscrowAccount(ctx context.Context, rec models.EscrowRecord) error {
	_, err := s.client.Ledger.V2.AddMetadataToAccount(ctx, operations.V2AddMetadataToAccountRequest{
		Ledger:  s.ledger,
		Address: formanceAccount(store.EscrowAccount(rec.Ledger, rec.ID)),
		RequestBody: map[string]string{
			"entity_type": "escrow",
			"escrow_id":   rec.ID,
			"order_hash":  rec.OrderHash,
			"side":        rec.Side.String(),
			"hashlock":    rec.Hashlock.Hex(),
			"deadline":    rec.Cascade.Public.UTC().Format(time.RFC3339),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to tag escrow account: %w", err)
	}
	return nil
}

// getAccountVolumes fetches volumes for a single account. An account that was
// never used has no volumes.
func (s *Service) getAccountVolumes(ctx context.Context, address string) (map[string]shared.V2Volume, error) {
	resp, err := s.client.Ledger.V2.GetAccount(ctx, operations.V2GetAccountRequest{
		Ledger:  s.ledger,
		Address: address,
		Expand:  v3.Pointer("volumes"),
	})
	if err != nil {
		if isNotFoundError(err) {
			return nil, nil
		}
		zap.L().Warn("Failed to get account volumes", zap.String("address", address), zap.Error(err))
		return nil, fmt.Errorf("failed to get account volumes: %w", err)
	}
	return resp.V2AccountResponse.Data.Volumes, nil
}

// volumeBalance extracts the balance for a specific asset from volumes.
func volumeBalance(vols map[string]shared.V2Volume, fAsset string) *big.Int {
	vol, ok := vols[fAsset]
	if !ok {
		return nil
	}
	if vol.Balance != nil {
		return vol.Balance
	}
	if vol.Input == nil {
		return nil
	}
	result := new(big.Int).Set(vol.Input)
	if vol.Output != nil {
		result.Sub(result, vol.Output)
	}
	return result
}
