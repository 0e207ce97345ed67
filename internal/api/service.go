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
	"time"

	"github.com/ronakgupta11/cardano-swap/internal/hashlock"
	"github.com/ronakgupta11/cardano-swap/internal/order"
	"github.com/ronakgupta11/cardano-swap/internal/store"
)

var ErrInvalidRequest = errors.New("api: invalid request")

// SecretKeeper stores secrets handed in by makers.
type SecretKeeper interface {
	Put(orderHash string, s hashlock.Secret) error
}

// OrderService is the order book and swap status surface
type OrderService struct {
	store   store.Store
	domain  order.Domain
	secrets SecretKeeper
	now     func() time.Time
}

func NewOrderService(s store.Store, domain order.Domain) *OrderService {
	return &OrderService{
		store:  s,
		domain: domain,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// WithSecrets enables secret deposits.
func (s *OrderService) WithSecrets(k SecretKeeper) *OrderService {
	s.secrets = k
	return s
}

func (s *OrderService) HealthCheck(ctx context.Context) error {
	_, err := s.store.ListOrders(ctx, store.ListOrdersParams{Limit: 1})
	if err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}
