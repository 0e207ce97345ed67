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
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

const (
	wsWriteTimeout = 10 * time.Second
	subscriberBuf  = 4
)

// Hub fans disclosed secrets out to websocket subscribers of an order and
// replays the stored message to late subscribers.
type Hub struct {
	inbox *Inbox

	mu   sync.Mutex
	subs map[string]map[chan Message]struct{}
}

func NewHub(inbox *Inbox) *Hub {
	return &Hub{inbox: inbox, subs: make(map[string]map[chan Message]struct{})}
}

// Publish records m and pushes it to current subscribers. It reports
// whether m was a new disclosure. Redeliveries are still pushed.
func (h *Hub) Publish(ctx context.Context, m Message) (bool, error) {
	fresh, err := h.inbox.Accept(m)
	if err != nil {
		return false, err
	}
	m.OrderHash = normalizeOrder(m.OrderHash)

	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs[m.OrderHash] {
		select {
		case ch <- m:
		case <-ctx.Done():
			return fresh, ctx.Err()
		default:
			// a slow subscriber gets the message on reconnect
		}
	}
	return fresh, nil
}

// Subscribe registers for messages on orderHash. The backlog holds the
// stored message, if any.
func (h *Hub) Subscribe(orderHash string) (<-chan Message, func(), []Message) {
	orderHash = normalizeOrder(orderHash)
	ch := make(chan Message, subscriberBuf)

	h.mu.Lock()
	if h.subs[orderHash] == nil {
		h.subs[orderHash] = make(map[chan Message]struct{})
	}
	h.subs[orderHash][ch] = struct{}{}
	h.mu.Unlock()

	var backlog []Message
	if m, err := h.inbox.ByOrder(orderHash); err == nil {
		backlog = append(backlog, m)
	} else if !errors.Is(err, ErrNotFound) {
		zap.L().Warn("Failed to load relay backlog", zap.String("order_hash", orderHash), zap.Error(err))
	}

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.subs[orderHash], ch)
		if len(h.subs[orderHash]) == 0 {
			delete(h.subs, orderHash)
		}
	}
	return ch, cancel, backlog
}

// Subscribers counts live subscriptions for orderHash.
func (h *Hub) Subscribers(orderHash string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[normalizeOrder(orderHash)])
}

// ServeWS streams messages for the {orderHash} route parameter.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	orderHash := chi.URLParam(r, "orderHash")
	if orderHash == "" {
		http.Error(w, "order hash required", http.StatusBadRequest)
		return
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")

	ctx := conn.CloseRead(r.Context())
	if err := h.stream(ctx, conn, orderHash); err != nil {
		if status := websocket.CloseStatus(err); status == -1 && !errors.Is(err, context.Canceled) {
			zap.L().Debug("Relay stream ended", zap.String("order_hash", orderHash), zap.Error(err))
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func (h *Hub) stream(ctx context.Context, conn *websocket.Conn, orderHash string) error {
	updates, cancel, backlog := h.Subscribe(orderHash)
	defer cancel()

	for _, m := range backlog {
		if err := writeMessage(ctx, conn, m); err != nil {
			return err
		}
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m := <-updates:
			if err := writeMessage(ctx, conn, m); err != nil {
				return err
			}
		}
	}
}

func writeMessage(ctx context.Context, conn *websocket.Conn, m Message) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
