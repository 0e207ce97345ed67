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
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/ronakgupta11/cardano-swap/internal/hashlock"
)

// Order is the maker's signed intent. It is never mutated after signing.
type Order struct {
	Maker            common.Address    `json:"maker"`
	MakerSource      Identity          `json:"makerSource"`
	Receiver         Identity          `json:"receiver"`
	SrcLedger        string            `json:"srcLedger"`
	DstLedger        string            `json:"dstLedger"`
	SrcAsset         Asset             `json:"srcAsset"`
	DstAsset         Asset             `json:"dstAsset"`
	SrcAmount        *big.Int          `json:"srcAmount"`
	DstAmount        *big.Int          `json:"dstAmount"`
	SrcSafetyDeposit *big.Int          `json:"srcSafetyDeposit"`
	DstSafetyDeposit *big.Int          `json:"dstSafetyDeposit"`
	Hashlock         hashlock.Hashlock `json:"hashlock"`
	Salt             *big.Int          `json:"salt"`
	Expiration       time.Time         `json:"expiration"`
}

// SignedOrder pairs an order with the maker's signature and its order hash.
type SignedOrder struct {
	Order     Order         `json:"order"`
	Signature hexutil.Bytes `json:"signature"`
	Hash      common.Hash   `json:"hash"`
}

// OrderRecord is an order as tracked by the order book and coordinator.
type OrderRecord struct {
	SignedOrder
	Status      SwapStatus `json:"status"`
	Reason      string     `json:"reason,omitempty"`
	Resolver    Identity   `json:"resolver,omitempty"`
	DisclosedAt *time.Time `json:"disclosedAt,omitempty"`
	Version     int64      `json:"version"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}
