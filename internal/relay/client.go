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

package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"github.com/ronakgupta11/cardano-swap/internal/hashlock"
)

// Client waits for a secret on a hub and records it in a local inbox.
type Client struct {
	baseURL string
	inbox   *Inbox
}

// NewClient takes the hub's base URL, e.g. ws://localhost:8080.
func NewClient(baseURL string, inbox *Inbox) *Client {
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), inbox: inbox}
}

// Await blocks until the secret opening h arrives for orderHash, or ctx ends.
// A secret already in the local inbox is returned without dialing.
func (c *Client) Await(ctx context.Context, orderHash string, h hashlock.Hashlock) (hashlock.Secret, error) {
	if m, err := c.inbox.ByHashlock(h); err == nil {
		return m.Secret, nil
	} else if !errors.Is(err, ErrNotFound) {
		return hashlock.Secret{}, err
	}

	url := c.baseURL + "/relay/" + normalizeOrder(orderHash)
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return hashlock.Secret{}, fmt.Errorf("dial relay %s: %w", url, err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return hashlock.Secret{}, fmt.Errorf("read relay: %w", err)
		}
		var m Message
		if err := json.Unmarshal(data, &m); err != nil {
			zap.L().Warn("Dropping malformed relay message", zap.Error(err))
			continue
		}
		if m.Hashlock != h {
			continue
		}
		if _, err := c.inbox.Accept(m); err != nil {
			zap.L().Warn("Dropping invalid relay message",
				zap.String("hashlock", h.Hex()), zap.Error(err))
			continue
		}
		return m.Secret, nil
	}
}
