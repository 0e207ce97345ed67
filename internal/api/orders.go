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
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/ronakgupta11/cardano-swap/internal/hashlock"
	"github.com/ronakgupta11/cardano-swap/internal/models"
	"github.com/ronakgupta11/cardano-swap/internal/order"
	"github.com/ronakgupta11/cardano-swap/internal/store"
)

// SubmitOrder verifies the maker's signature and liveness and stores the
// order. The returned hash is recomputed, never taken from the request.
func (s *OrderService) SubmitOrder(ctx context.Context, so models.SignedOrder) (*models.SubmitOrderResponse, error) {
	if err := order.Validate(so.Order); err != nil {
		return nil, err
	}
	hash, err := order.Verify(s.domain, so)
	if err != nil {
		zap.L().Warn("Rejected order with bad signature",
			zap.String("maker", so.Order.Maker.Hex()),
			zap.Error(err))
		return nil, err
	}
	if err := order.CheckLive(so.Order, s.now()); err != nil {
		return nil, err
	}
	so.Hash = hash

	if err := s.store.SaveOrder(ctx, models.OrderRecord{SignedOrder: so, Status: models.StatusPending}); err != nil {
		if errors.Is(err, store.ErrDuplicateTransaction) {
			zap.L().Info("Duplicate order submission", zap.String("order_hash", hash.Hex()))
		} else {
			zap.L().Error("Order submission failed",
				zap.String("order_hash", hash.Hex()),
				zap.Error(err))
		}
		return nil, err
	}

	zap.L().Info("Order accepted",
		zap.String("order_hash", hash.Hex()),
		zap.String("maker", so.Order.Maker.Hex()),
		zap.String("src_ledger", so.Order.SrcLedger),
		zap.String("dst_ledger", so.Order.DstLedger),
		zap.String("hashlock", so.Order.Hashlock.Hex()))

	return &models.SubmitOrderResponse{OrderHash: hash.Hex(), Status: models.StatusPending}, nil
}

func (s *OrderService) GetOrder(ctx context.Context, orderHash string) (*models.OrderRecord, error) {
	orderHash, err := normalizeHash(orderHash)
	if err != nil {
		return nil, err
	}
	return s.store.GetOrder(ctx, orderHash)
}

// ListOrders returns a page of the order book, newest first
func (s *OrderService) ListOrders(ctx context.Context, status string, limit, offset int) ([]models.OrderRecord, error) {
	params := store.ListOrdersParams{Limit: limit, Offset: offset}
	if status != "" {
		st, err := models.ParseSwapStatus(status)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
		params.Status = st
	}
	if params.Limit <= 0 || params.Limit > 100 {
		params.Limit = 20
	}
	if params.Offset < 0 {
		params.Offset = 0
	}

	orders, err := s.store.ListOrders(ctx, params)
	if err != nil {
		zap.L().Error("Failed to list orders", zap.Error(err))
		return nil, fmt.Errorf("failed to retrieve orders")
	}
	return orders, nil
}

// TakeOrder commits a resolver to a live, untaken order
func (s *OrderService) TakeOrder(ctx context.Context, orderHash string, resolver models.Identity) (*models.OrderRecord, error) {
	if strings.TrimSpace(string(resolver)) == "" {
		return nil, fmt.Errorf("%w: resolver is required", ErrInvalidRequest)
	}
	rec, err := s.GetOrder(ctx, orderHash)
	if err != nil {
		return nil, err
	}
	if err := order.CheckLive(rec.Order, s.now()); err != nil {
		return nil, err
	}
	if !rec.Status.Watched() {
		return nil, fmt.Errorf("%w: order is %s", ErrInvalidRequest, rec.Status)
	}

	if err := s.store.TakeOrder(ctx, rec.Hash.Hex(), resolver); err != nil {
		zap.L().Info("Order take refused",
			zap.String("order_hash", rec.Hash.Hex()),
			zap.String("resolver", string(resolver)),
			zap.Error(err))
		return nil, err
	}

	zap.L().Info("Order taken",
		zap.String("order_hash", rec.Hash.Hex()),
		zap.String("resolver", string(resolver)))
	return s.store.GetOrder(ctx, rec.Hash.Hex())
}

// DepositSecret stores the secret for later disclosure. Only the secret that
// opens the order's hashlock is accepted.
func (s *OrderService) DepositSecret(ctx context.Context, orderHash string, secret hashlock.Secret) error {
	if s.secrets == nil {
		return fmt.Errorf("%w: secret deposits are disabled", ErrInvalidRequest)
	}
	rec, err := s.GetOrder(ctx, orderHash)
	if err != nil {
		return err
	}
	if !hashlock.Verify(secret, rec.Order.Hashlock) {
		return fmt.Errorf("%w: secret does not open hashlock %s", ErrInvalidRequest, rec.Order.Hashlock.Hex())
	}
	if err := s.secrets.Put(rec.Hash.Hex(), secret); err != nil {
		zap.L().Error("Failed to store secret",
			zap.String("order_hash", rec.Hash.Hex()),
			zap.Error(err))
		return fmt.Errorf("failed to store secret")
	}

	zap.L().Info("Secret deposited",
		zap.String("order_hash", rec.Hash.Hex()),
		zap.String("hashlock", rec.Order.Hashlock.Hex()))
	return nil
}

// normalizeHash lowercases a 0x-prefixed 32-byte hex hash.
func normalizeHash(h string) (string, error) {
	h = strings.ToLower(strings.TrimSpace(h))
	if !strings.HasPrefix(h, "0x") {
		h = "0x" + h
	}
	if len(h) != 66 {
		return "", fmt.Errorf("%w: malformed order hash", ErrInvalidRequest)
	}
	for _, c := range h[2:] {
		if !strings.ContainsRune("0123456789abcdef", c) {
			return "", fmt.Errorf("%w: malformed order hash", ErrInvalidRequest)
		}
	}
	return h, nil
}
