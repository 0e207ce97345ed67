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

package order

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Book remembers which order hashes have instantiated an escrow.
type Book struct {
	mu       sync.Mutex
	consumed map[common.Hash]struct{}
}

func NewBook() *Book {
	return &Book{consumed: make(map[common.Hash]struct{})}
}

// Consume marks hash used, failing with ErrConsumed the second time.
func (b *Book) Consume(hash common.Hash) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.consumed[hash]; ok {
		return ErrConsumed
	}
	b.consumed[hash] = struct{}{}
	return nil
}

// Consumed reports whether hash has been used.
func (b *Book) Consumed(hash common.Hash) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.consumed[hash]
	return ok
}
