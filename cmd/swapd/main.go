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

package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/ronakgupta11/cardano-swap/internal/api"
	"github.com/ronakgupta11/cardano-swap/internal/common"
	"github.com/ronakgupta11/cardano-swap/internal/config"
	"github.com/ronakgupta11/cardano-swap/internal/coordinator"
	"github.com/ronakgupta11/cardano-swap/internal/metrics"
	"github.com/ronakgupta11/cardano-swap/internal/models"
	"github.com/ronakgupta11/cardano-swap/internal/relay"
)

func main() {
	topologyFlag := flag.String("topology", "", "Path to the ledger topology file (default: TOPOLOGY_FILE)")
	assetsFlag := flag.String("assets", "", "Path to assets.yaml (default: ASSETS_FILE)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		_, _ = zap.NewProduction()
		zap.L().Fatal("Failed to load configuration", zap.Error(err))
	}

	_, loggerCleanup := common.InitializeLogger(cfg.Log)
	defer loggerCleanup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	zap.L().Info("Starting swap daemon")

	topologyFile := cfg.Coordinator.TopologyFile
	if *topologyFlag != "" {
		topologyFile = *topologyFlag
	}
	topo, err := config.LoadTopology(topologyFile)
	if err != nil {
		zap.L().Fatal("Failed to load topology", zap.Error(err))
	}

	assetsFile := cfg.Coordinator.AssetsFile
	if *assetsFlag != "" {
		assetsFile = *assetsFlag
	}
	assets, err := config.LoadAssets(assetsFile)
	if err != nil {
		zap.L().Warn("No asset registry, amounts will print in base units", zap.Error(err))
		assets = &models.AssetRegistry{}
	}

	domain, err := common.OrderDomain(cfg.OrderDomain)
	if err != nil {
		zap.L().Fatal("Invalid order domain", zap.Error(err))
	}

	services, err := common.InitializeServices(ctx, cfg, assets)
	if err != nil {
		zap.L().Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	feeds, err := common.InitializeFeeds(topo)
	if err != nil {
		zap.L().Fatal("Failed to initialize escrow feeds", zap.Error(err))
	}

	hub := relay.NewHub(services.Inbox)
	coord := coordinator.New(coordinator.Config{
		Store:           services.Store,
		Feeds:           feeds,
		Secrets:         services.Secrets,
		Relay:           hub,
		Metrics:         metrics.Swap(),
		PollingInterval: cfg.Coordinator.PollingInterval,
		CleanupInterval: cfg.Coordinator.CleanupInterval,
		Retention:       cfg.Coordinator.Retention,
		ExpiryGrace:     cfg.Coordinator.ExpiryGrace,
	})
	if err := coord.Start(ctx); err != nil {
		zap.L().Fatal("Failed to start coordinator", zap.Error(err))
	}

	server := &http.Server{
		Addr: cfg.Server.ListenAddr,
		Handler: api.NewRouter(api.RouterConfig{
			Orders: api.NewOrderService(services.Store, domain).WithSecrets(services.Secrets),
			Relay:  hub,
		}),
		ReadTimeout: cfg.Server.ReadTimeout,
	}
	go func() {
		zap.L().Info("HTTP server listening", zap.String("addr", cfg.Server.ListenAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zap.L().Error("HTTP server failed", zap.Error(err))
			cancel()
		}
	}()

	zap.L().Info("Swap daemon running", zap.Int("ledgers", len(feeds)))
	zap.L().Info("Press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigChan:
		zap.L().Info("Shutdown signal received, stopping...")
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		zap.L().Warn("Forced HTTP shutdown after timeout", zap.Error(err))
	}

	done := make(chan struct{})
	go func() {
		coord.Stop()
		close(done)
	}()

	select {
	case <-done:
		zap.L().Info("Swap daemon stopped gracefully")
	case <-shutdownCtx.Done():
		zap.L().Warn("Forced shutdown after timeout")
	}
}
