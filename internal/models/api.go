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

	"github.com/ronakgupta11/cardano-swap/internal/hashlock"
)

// SubmitOrderResponse is returned after an order is accepted
type SubmitOrderResponse struct {
	OrderHash string     `json:"orderHash"`
	Status    SwapStatus `json:"status"`
}

// TakeOrderRequest commits a resolver to an order
type TakeOrderRequest struct {
	Resolver Identity `json:"resolver"`
}

// DepositSecretRequest hands the maker's secret to the coordinator, which
// holds it until both escrows are funded
type DepositSecretRequest struct {
	Secret hashlock.Secret `json:"secret"`
}

// SwapView is the status of one swap with both escrow sides
type SwapView struct {
	OrderHash   string         `json:"orderHash"`
	Status      SwapStatus     `json:"status"`
	Reason      string         `json:"reason,omitempty"`
	Resolver    Identity       `json:"resolver,omitempty"`
	DisclosedAt *time.Time     `json:"disclosedAt,omitempty"`
	Escrows     []EscrowRecord `json:"escrows"`
}

// ErrorResponse is the body of every non-2xx API answer
type ErrorResponse struct {
	Error string `json:"error"`
}
