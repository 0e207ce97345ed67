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

// Package relay carries disclosed secrets from the party that holds them to
// the party that needs them. Delivery is at-least-once; receipt is
// idempotent per hashlock.
package relay

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ronakgupta11/cardano-swap/internal/hashlock"
)

var (
	ErrInvalidSecret = errors.New("relay: secret does not open hashlock")
	ErrMissingOrder  = errors.New("relay: order hash required")
	ErrNotFound      = errors.New("relay: no message for order")
)

// Message is the one payload the relay carries.
type Message struct {
	ID        uuid.UUID         `json:"id"`
	OrderHash string            `json:"orderHash"`
	Hashlock  hashlock.Hashlock `json:"hashlock"`
	Secret    hashlock.Secret   `json:"secret"`
	SentAt    time.Time         `json:"sentAt"`
}

func NewMessage(orderHash string, s hashlock.Secret) Message {
	return Message{
		ID:        uuid.New(),
		OrderHash: normalizeOrder(orderHash),
		Hashlock:  hashlock.Commit(s),
		Secret:    s,
		SentAt:    time.Now().UTC(),
	}
}

// Validate checks the secret against the carried hashlock.
func (m Message) Validate() error {
	if strings.TrimSpace(m.OrderHash) == "" {
		return ErrMissingOrder
	}
	if !hashlock.Verify(m.Secret, m.Hashlock) {
		return fmt.Errorf("%w: %s", ErrInvalidSecret, m.Hashlock.Hex())
	}
	return nil
}

func normalizeOrder(orderHash string) string {
	return strings.ToLower(strings.TrimSpace(orderHash))
}
