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

package common

import (
	"context"
	"fmt"
	"log"
	"strings"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/ronakgupta11/cardano-swap/internal/database"
	"github.com/ronakgupta11/cardano-swap/internal/escrow"
	"github.com/ronakgupta11/cardano-swap/internal/feed"
	"github.com/ronakgupta11/cardano-swap/internal/formance"
	"github.com/ronakgupta11/cardano-swap/internal/models"
	"github.com/ronakgupta11/cardano-swap/internal/order"
	"github.com/ronakgupta11/cardano-swap/internal/relay"
	"github.com/ronakgupta11/cardano-swap/internal/secrets"
	"github.com/ronakgupta11/cardano-swap/internal/store"
)

// init loads environment variables from .env file if it exists
func init() {
	if err := godotenv.Load(); err != nil {
		log.Printf("Note: No .env file found or unable to load it: %v\n", err)
		log.Println("Make sure to set environment variables via export or other means")
	} else {
		log.Println("✓ Loaded environment variables from .env file")
	}
}

type Services struct {
	DbService *database.Service
	// Store is DbService, or DbService with the Formance journal in front.
	Store   store.Store
	Journal store.Journal
	Secrets *secrets.Vault
	Inbox   *relay.Inbox
}

// InitializeLogger installs the global logger. With cfg.File set, entries
// are also written as JSON to a rotating file.
func InitializeLogger(cfg models.LogConfig) (*zap.Logger, func()) {
	var logger *zap.Logger
	var err error
	if cfg.Development {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	var sink *lumberjack.Logger
	if cfg.File != "" {
		sink = &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   true,
		}
		fileCore := zapcore.NewCore(
			zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
			zapcore.AddSync(sink),
			zap.InfoLevel,
		)
		logger = logger.WithOptions(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
			return zapcore.NewTee(core, fileCore)
		}))
	}

	zap.ReplaceGlobals(logger)

	cleanup := func() {
		if err := logger.Sync(); err != nil {
			if !isIgnorableSyncError(err) {
				log.Printf("Failed to sync logger: %v\n", err)
			}
		}
		if sink != nil {
			if err := sink.Close(); err != nil {
				log.Printf("Failed to close log file: %v\n", err)
			}
		}
	}

	return logger, cleanup
}

// InitializeServices opens everything the daemon persists to.
func InitializeServices(ctx context.Context, cfg *models.Config, assets *models.AssetRegistry) (*Services, error) {
	dbService, err := database.NewService(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	services := &Services{DbService: dbService, Store: dbService, Journal: dbService}

	if cfg.Journal.Backend == "formance" {
		zap.L().Info("Using Formance journal", zap.String("ledger", cfg.Formance.LedgerName))
		journal, err := formance.NewService(ctx, cfg.Formance, assets)
		if err != nil {
			services.Close()
			return nil, err
		}
		services.Journal = journal
		services.Store = store.Composite{OrderStore: dbService, EscrowStore: dbService, Journal: journal}
	}

	services.Secrets, err = secrets.Open(cfg.Storage.SecretsPath)
	if err != nil {
		services.Close()
		return nil, err
	}

	services.Inbox, err = relay.OpenInbox(cfg.Storage.RelayInboxPath, nil)
	if err != nil {
		services.Close()
		return nil, err
	}

	return services, nil
}

// InitializeDatabaseOnly initializes just the database service
// Useful for read-only operations like status reports
func InitializeDatabaseOnly(ctx context.Context, cfg *models.Config) (*database.Service, error) {
	dbService, err := database.NewService(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	return dbService, nil
}

// InitializeFeeds builds a polling client for every ledger in the topology.
func InitializeFeeds(topo *models.Topology) (map[string]escrow.Feed, error) {
	feeds := make(map[string]escrow.Feed, len(topo.Ledgers))
	for _, l := range topo.Ledgers {
		if l.FeedURL == "" {
			return nil, fmt.Errorf("ledger %q has no feed_url", l.Name)
		}
		client, err := feed.NewClient(l)
		if err != nil {
			return nil, fmt.Errorf("ledger %q: %w", l.Name, err)
		}
		feeds[l.Name] = client
		zap.L().Info("Watching ledger",
			zap.String("ledger", l.Name),
			zap.String("kind", string(l.Kind)),
			zap.String("feed_url", l.FeedURL))
	}
	return feeds, nil
}

// OrderDomain turns the configured signing domain into an order.Domain.
func OrderDomain(cfg models.OrderDomainConfig) (order.Domain, error) {
	if !ethcommon.IsHexAddress(cfg.VerifyingContract) {
		return order.Domain{}, fmt.Errorf("invalid ORDER_VERIFYING_CONTRACT %q", cfg.VerifyingContract)
	}
	return order.Domain{
		Name:              cfg.Name,
		Version:           cfg.Version,
		ChainID:           cfg.ChainId,
		VerifyingContract: ethcommon.HexToAddress(cfg.VerifyingContract),
	}, nil
}

func (cs *Services) Close() {
	if cs.Inbox != nil {
		if err := cs.Inbox.Close(); err != nil {
			zap.L().Warn("Failed to close relay inbox", zap.Error(err))
		}
	}
	if cs.Secrets != nil {
		if err := cs.Secrets.Close(); err != nil {
			zap.L().Warn("Failed to close secret vault", zap.Error(err))
		}
	}
	if cs.Journal != nil && cs.Journal != store.Journal(cs.DbService) {
		cs.Journal.Close()
	}
	if cs.DbService != nil {
		cs.DbService.Close()
	}
}

func isIgnorableSyncError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "sync /dev/stderr: inappropriate ioctl for device") ||
		strings.Contains(msg, "sync /dev/stdout: inappropriate ioctl for device")
}
