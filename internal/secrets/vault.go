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

// Package secrets keeps the maker's swap secrets in a local LevelDB vault
// keyed by hashlock, with an index from order hash to hashlock.
package secrets

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
	"go.uber.org/zap"

	"github.com/ronakgupta11/cardano-swap/internal/hashlock"
)

const (
	secretKeyPrefix = "secret:"
	orderKeyPrefix  = "order:"
)

var (
	ErrNotFound = errors.New("secrets: not found")
	// ErrConflict means the order is already bound to a different hashlock.
	ErrConflict = errors.New("secrets: order bound to another hashlock")
	ErrCorrupt  = errors.New("secrets: stored secret does not open its hashlock")
)

// Vault is a LevelDB-backed secret store.
type Vault struct {
	db *leveldb.DB
}

// Open opens (or creates) the vault at path.
func Open(path string) (*Vault, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, fmt.Errorf("secret vault path required")
	}
	abs, err := filepath.Abs(trimmed)
	if err != nil {
		return nil, fmt.Errorf("resolve secret vault path: %w", err)
	}
	db, err := leveldb.OpenFile(abs, nil)
	if err != nil {
		return nil, fmt.Errorf("open secret vault: %w", err)
	}
	zap.L().Info("Secret vault opened", zap.String("path", abs))
	return &Vault{db: db}, nil
}

func (v *Vault) Close() error {
	if v == nil || v.db == nil {
		return nil
	}
	return v.db.Close()
}

// Generate draws a fresh secret for orderHash, stores it and returns its
// hashlock.
func (v *Vault) Generate(orderHash string) (hashlock.Secret, hashlock.Hashlock, error) {
	s, err := hashlock.GenerateSecret()
	if err != nil {
		return hashlock.Secret{}, hashlock.Hashlock{}, err
	}
	h := hashlock.Commit(s)
	if err := v.Put(orderHash, s); err != nil {
		return hashlock.Secret{}, hashlock.Hashlock{}, err
	}
	return s, h, nil
}

// Put stores s under its hashlock. An empty orderHash stores the secret
// without an order index, which lets a maker generate the hashlock before
// the order hash exists and Bind it afterwards.
func (v *Vault) Put(orderHash string, s hashlock.Secret) error {
	h := hashlock.Commit(s)
	if orderHash != "" {
		if err := v.checkBinding(orderHash, h); err != nil {
			return err
		}
	}

	batch := new(leveldb.Batch)
	batch.Put(secretKey(h), s[:])
	if orderHash != "" {
		batch.Put(orderKey(orderHash), h[:])
	}
	if err := v.db.Write(batch, nil); err != nil {
		return fmt.Errorf("store secret: %w", err)
	}
	zap.L().Debug("Secret stored", zap.String("hashlock", h.Hex()), zap.String("order_hash", orderHash))
	return nil
}

// Bind indexes an already stored secret under orderHash.
func (v *Vault) Bind(orderHash string, h hashlock.Hashlock) error {
	if _, err := v.Get(h); err != nil {
		return err
	}
	if err := v.checkBinding(orderHash, h); err != nil {
		return err
	}
	if err := v.db.Put(orderKey(orderHash), h[:], nil); err != nil {
		return fmt.Errorf("bind secret: %w", err)
	}
	return nil
}

func (v *Vault) checkBinding(orderHash string, h hashlock.Hashlock) error {
	existing, err := v.db.Get(orderKey(orderHash), nil)
	switch {
	case errors.Is(err, leveldb.ErrNotFound):
		return nil
	case err != nil:
		return fmt.Errorf("load order binding: %w", err)
	}
	if string(existing) != string(h[:]) {
		return fmt.Errorf("%w: %s", ErrConflict, orderHash)
	}
	return nil
}

// Get returns the secret behind h.
func (v *Vault) Get(h hashlock.Hashlock) (hashlock.Secret, error) {
	raw, err := v.db.Get(secretKey(h), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return hashlock.Secret{}, fmt.Errorf("%w: hashlock %s", ErrNotFound, h.Hex())
	}
	if err != nil {
		return hashlock.Secret{}, fmt.Errorf("load secret: %w", err)
	}
	var s hashlock.Secret
	if len(raw) != len(s) {
		return hashlock.Secret{}, fmt.Errorf("%w: hashlock %s", ErrCorrupt, h.Hex())
	}
	copy(s[:], raw)
	if !hashlock.Verify(s, h) {
		return hashlock.Secret{}, fmt.Errorf("%w: hashlock %s", ErrCorrupt, h.Hex())
	}
	return s, nil
}

// ByOrder returns the secret bound to orderHash.
func (v *Vault) ByOrder(orderHash string) (hashlock.Secret, error) {
	raw, err := v.db.Get(orderKey(orderHash), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return hashlock.Secret{}, fmt.Errorf("%w: order %s", ErrNotFound, orderHash)
	}
	if err != nil {
		return hashlock.Secret{}, fmt.Errorf("load order binding: %w", err)
	}
	var h hashlock.Hashlock
	if len(raw) != len(h) {
		return hashlock.Secret{}, fmt.Errorf("%w: order %s", ErrCorrupt, orderHash)
	}
	copy(h[:], raw)
	return v.Get(h)
}

// Forget drops the order binding and its secret.
func (v *Vault) Forget(orderHash string) error {
	raw, err := v.db.Get(orderKey(orderHash), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load order binding: %w", err)
	}
	batch := new(leveldb.Batch)
	batch.Delete(orderKey(orderHash))
	batch.Delete(append([]byte(secretKeyPrefix), raw...))
	if err := v.db.Write(batch, nil); err != nil {
		return fmt.Errorf("forget secret: %w", err)
	}
	return nil
}

// Orders lists every order hash with a bound secret.
func (v *Vault) Orders() ([]string, error) {
	iter := v.db.NewIterator(util.BytesPrefix([]byte(orderKeyPrefix)), nil)
	defer iter.Release()

	var out []string
	for iter.Next() {
		out = append(out, strings.TrimPrefix(string(iter.Key()), orderKeyPrefix))
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("iterate order bindings: %w", err)
	}
	return out, nil
}

func secretKey(h hashlock.Hashlock) []byte {
	return append([]byte(secretKeyPrefix), h[:]...)
}

func orderKey(orderHash string) []byte {
	return []byte(orderKeyPrefix + strings.ToLower(orderHash))
}
