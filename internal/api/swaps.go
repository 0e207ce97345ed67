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

package api

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ronakgupta11/cardano-swap/internal/models"
)

// GetSwap returns the order's status together with both observed escrows
func (s *OrderService) GetSwap(ctx context.Context, orderHash string) (*models.SwapView, error) {
	rec, err := s.GetOrder(ctx, orderHash)
	if err != nil {
		return nil, err
	}
	escrows, err := s.store.GetEscrows(ctx, rec.Hash.Hex())
	if err != nil {
		zap.L().Error("Failed to get escrows",
			zap.String("order_hash", rec.Hash.Hex()),
			zap.Error(err))
		return nil, fmt.Errorf("failed to retrieve escrows")
	}
	if escrows == nil {
		escrows = []models.EscrowRecord{}
	}

	return &models.SwapView{
		OrderHash:   rec.Hash.Hex(),
		Status:      rec.Status,
		Reason:      rec.Reason,
		Resolver:    rec.Resolver,
		DisclosedAt: rec.DisclosedAt,
		Escrows:     escrows,
	}, nil
}

// GetJournal returns the disbursement journal legs of one escrow
func (s *OrderService) GetJournal(ctx context.Context, escrowId string) ([]models.JournalTransaction, error) {
	if escrowId == "" {
		return nil, fmt.Errorf("%w: escrow id is required", ErrInvalidRequest)
	}
	entries, err := s.store.GetEntries(ctx, escrowId)
	if err != nil {
		zap.L().Error("Failed to get journal entries",
			zap.String("escrow_id", escrowId),
			zap.Error(err))
		return nil, fmt.Errorf("failed to retrieve journal")
	}
	if entries == nil {
		entries = []models.JournalTransaction{}
	}
	return entries, nil
}
