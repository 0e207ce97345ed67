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
	"encoding/json"
	"errors"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"

	"github.com/ronakgupta11/cardano-swap/internal/hashlock"
)

var (
	bucketMessages = []byte("messages")
	bucketOrders   = []byte("orders")
)

// Inbox persists the first valid message seen per hashlock.
type Inbox struct {
	db *bolt.DB
}

// OpenInbox initialises the BoltDB-backed inbox.
func OpenInbox(path string, options *bolt.Options) (*Inbox, error) {
	if options == nil {
		options = &bolt.Options{Timeout: time.Second}
	} else if options.Timeout == 0 {
		options.Timeout = time.Second
	}
	db, err := bolt.Open(path, 0o600, options)
	if err != nil {
		return nil, fmt.Errorf("open relay inbox: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketMessages, bucketOrders} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Inbox{db: db}, nil
}

func (i *Inbox) Close() error {
	if i == nil || i.db == nil {
		return nil
	}
	return i.db.Close()
}

// Accept stores m if its hashlock was never seen. It reports whether m was
// new. A redelivery is not an error.
func (i *Inbox) Accept(m Message) (bool, error) {
	m.OrderHash = normalizeOrder(m.OrderHash)
	if err := m.Validate(); err != nil {
		return false, err
	}
	encoded, err := json.Marshal(m)
	if err != nil {
		return false, err
	}

	fresh := false
	err = i.db.Update(func(tx *bolt.Tx) error {
		messages := tx.Bucket(bucketMessages)
		if messages.Get(m.Hashlock[:]) != nil {
			return nil
		}
		if err := messages.Put(m.Hashlock[:], encoded); err != nil {
			return err
		}
		if err := tx.Bucket(bucketOrders).Put([]byte(m.OrderHash), m.Hashlock[:]); err != nil {
			return err
		}
		fresh = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("store relay message: %w", err)
	}
	if fresh {
		zap.L().Info("Relay message accepted",
			zap.String("order_hash", m.OrderHash),
			zap.String("hashlock", m.Hashlock.Hex()),
			zap.String("message_id", m.ID.String()))
	}
	return fresh, nil
}

// ByHashlock returns the stored message for h.
func (i *Inbox) ByHashlock(h hashlock.Hashlock) (Message, error) {
	var m Message
	err := i.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketMessages).Get(h[:])
		if raw == nil {
			return ErrNotFound
		}
		return json.Unmarshal(raw, &m)
	})
	if errors.Is(err, ErrNotFound) {
		return Message{}, fmt.Errorf("%w: hashlock %s", ErrNotFound, h.Hex())
	}
	return m, err
}

// ByOrder returns the stored message for an order.
func (i *Inbox) ByOrder(orderHash string) (Message, error) {
	var m Message
	err := i.db.View(func(tx *bolt.Tx) error {
		h := tx.Bucket(bucketOrders).Get([]byte(normalizeOrder(orderHash)))
		if h == nil {
			return ErrNotFound
		}
		raw := tx.Bucket(bucketMessages).Get(h)
		if raw == nil {
			return ErrNotFound
		}
		return json.Unmarshal(raw, &m)
	})
	if errors.Is(err, ErrNotFound) {
		return Message{}, fmt.Errorf("%w: %s", ErrNotFound, orderHash)
	}
	return m, err
}
