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

package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ronakgupta11/cardano-swap/internal/escrow"
	"github.com/ronakgupta11/cardano-swap/internal/hashlock"
	"github.com/ronakgupta11/cardano-swap/internal/metrics"
	"github.com/ronakgupta11/cardano-swap/internal/models"
	"github.com/ronakgupta11/cardano-swap/internal/relay"
	"github.com/ronakgupta11/cardano-swap/internal/store"
)

// SecretSource hands out the maker's secret for an order it holds.
type SecretSource interface {
	ByOrder(orderHash string) (hashlock.Secret, error)
}

// Publisher delivers a disclosed secret. It reports false for a redelivery.
type Publisher interface {
	Publish(ctx context.Context, m relay.Message) (bool, error)
}

// Config contains configuration for Coordinator
type Config struct {
	Store           store.Store
	Feeds           map[string]escrow.Feed
	Secrets         SecretSource
	Relay           Publisher
	Metrics         *metrics.SwapMetrics
	PollingInterval time.Duration
	CleanupInterval time.Duration
	Retention       time.Duration
	ExpiryGrace     time.Duration
	Clock           func() time.Time
}

// Coordinator watches both escrows of every live order, journals what it
// sees and discloses the secret once both sides are funded.
type Coordinator struct {
	store   store.Store
	feeds   map[string]escrow.Feed
	secrets SecretSource
	relay   Publisher
	metrics *metrics.SwapMetrics
	now     func() time.Time

	// journal references already written, so replays skip the backend
	journaled map[string]time.Time
	mutex     sync.RWMutex

	pollingInterval time.Duration
	cleanupInterval time.Duration
	retention       time.Duration
	grace           time.Duration

	stopChan chan struct{}
	doneChan chan struct{}
}

func New(cfg Config) *Coordinator {
	c := &Coordinator{
		store:           cfg.Store,
		feeds:           cfg.Feeds,
		secrets:         cfg.Secrets,
		relay:           cfg.Relay,
		metrics:         cfg.Metrics,
		now:             cfg.Clock,
		journaled:       make(map[string]time.Time),
		pollingInterval: cfg.PollingInterval,
		cleanupInterval: cfg.CleanupInterval,
		retention:       cfg.Retention,
		grace:           cfg.ExpiryGrace,
		stopChan:        make(chan struct{}),
		doneChan:        make(chan struct{}),
	}
	if c.now == nil {
		c.now = func() time.Time { return time.Now().UTC() }
	}
	if c.pollingInterval <= 0 {
		c.pollingInterval = 5 * time.Second
	}
	if c.cleanupInterval <= 0 {
		c.cleanupInterval = 15 * time.Minute
	}
	if c.retention <= 0 {
		c.retention = 24 * time.Hour
	}
	return c
}

// Start runs a recovery pass over every watched order and then keeps
// polling in the background until Stop.
func (c *Coordinator) Start(ctx context.Context) error {
	zap.L().Info("Starting swap coordinator", zap.Int("ledgers", len(c.feeds)))

	if len(c.feeds) == 0 {
		return fmt.Errorf("no escrow feeds configured")
	}

	if err := c.performStartupRecovery(ctx); err != nil {
		zap.L().Error("Startup recovery failed", zap.Error(err))
		return fmt.Errorf("startup recovery failed: %w", err)
	}

	go c.pollLoop(ctx)
	go c.cleanupLoop(ctx)

	zap.L().Info("Swap coordinator started",
		zap.Duration("polling_interval", c.pollingInterval),
		zap.Duration("retention", c.retention))
	return nil
}

// Stop waits for the poll loop to exit.
func (c *Coordinator) Stop() {
	zap.L().Info("Stopping swap coordinator")
	close(c.stopChan)
	<-c.doneChan
	zap.L().Info("Swap coordinator stopped")
}

func (c *Coordinator) pollLoop(ctx context.Context) {
	defer close(c.doneChan)

	ticker := time.NewTicker(c.pollingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := c.Sync(ctx); err != nil {
				zap.L().Error("Failed to poll orders", zap.Error(err))
			}
		case <-c.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

// performStartupRecovery replays every watched order once before the loop
// starts, so transitions seen while the daemon was down get journaled.
func (c *Coordinator) performStartupRecovery(ctx context.Context) error {
	zap.L().Info("Starting startup recovery process")

	n, err := c.Sync(ctx)
	if err != nil {
		return err
	}

	zap.L().Info("Startup recovery completed", zap.Int("orders", n))
	return nil
}

// Sync polls every watched order once, concurrently, and returns how many
// orders it looked at. Per-order failures are logged, not returned.
func (c *Coordinator) Sync(ctx context.Context) (int, error) {
	orders, err := c.store.ActiveOrders(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load active orders: %w", err)
	}
	c.metrics.SetActive(len(orders))

	var wg sync.WaitGroup
	for _, rec := range orders {
		wg.Add(1)

		go func(rec models.OrderRecord) {
			defer wg.Done()

			if err := c.processOrder(ctx, rec); err != nil {
				zap.L().Error("Failed to process order",
					zap.String("order_hash", rec.Hash.Hex()),
					zap.Error(err))
			}
		}(rec)
	}

	wg.Wait()
	return len(orders), nil
}

func (c *Coordinator) isJournaled(ref string) bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	_, ok := c.journaled[ref]
	return ok
}

func (c *Coordinator) markJournaled(ref string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.journaled[ref] = c.now()
}

func (c *Coordinator) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(c.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.cleanup(ctx)
		case <-c.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

// cleanup forgets old journal references and purges finished orders.
func (c *Coordinator) cleanup(ctx context.Context) {
	cutoff := c.now().Add(-c.retention)

	c.mutex.Lock()
	before := len(c.journaled)
	for ref, at := range c.journaled {
		if at.Before(cutoff) {
			delete(c.journaled, ref)
		}
	}
	after := len(c.journaled)
	c.mutex.Unlock()

	purged, err := c.store.PurgeFinal(ctx, cutoff)
	if err != nil {
		zap.L().Error("Failed to purge finished orders", zap.Error(err))
	}

	if before != after || purged > 0 {
		zap.L().Debug("Cleaned up coordinator state",
			zap.Int("references_removed", before-after),
			zap.Int64("orders_purged", purged))
	}
}
