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

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v2"

	"github.com/ronakgupta11/cardano-swap/internal/models"
)

func Load() (*models.Config, error) {
	pollingInterval, err := getEnvDuration("COORDINATOR_POLLING_INTERVAL", 5*time.Second)
	if err != nil {
		return nil, err
	}

	cleanupInterval, err := getEnvDuration("COORDINATOR_CLEANUP_INTERVAL", 15*time.Minute)
	if err != nil {
		return nil, err
	}

	retention, err := getEnvDuration("COORDINATOR_RETENTION", 24*time.Hour)
	if err != nil {
		return nil, err
	}

	expiryGrace, err := getEnvDuration("COORDINATOR_EXPIRY_GRACE", time.Minute)
	if err != nil {
		return nil, err
	}

	connMaxLifetime, err := getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute)
	if err != nil {
		return nil, err
	}

	connMaxIdleTime, err := getEnvDuration("DB_CONN_MAX_IDLE_TIME", 30*time.Second)
	if err != nil {
		return nil, err
	}

	pingTimeout, err := getEnvDuration("DB_PING_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, err
	}

	readTimeout, err := getEnvDuration("HTTP_READ_TIMEOUT", 15*time.Second)
	if err != nil {
		return nil, err
	}

	shutdownTimeout, err := getEnvDuration("HTTP_SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, err
	}

	journal := strings.ToLower(getEnvString("JOURNAL_BACKEND", "sqlite"))
	if journal != "sqlite" && journal != "formance" {
		return nil, fmt.Errorf("invalid JOURNAL_BACKEND %q: want sqlite or formance", journal)
	}

	chainId, err := strconv.ParseInt(getEnvString("ORDER_CHAIN_ID", "11155111"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid ORDER_CHAIN_ID: %w", err)
	}

	return &models.Config{
		Database: models.DatabaseConfig{
			Path:            getEnvString("DATABASE_PATH", "swaps.db"),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: connMaxLifetime,
			ConnMaxIdleTime: connMaxIdleTime,
			PingTimeout:     pingTimeout,
		},
		Coordinator: models.CoordinatorConfig{
			PollingInterval: pollingInterval,
			CleanupInterval: cleanupInterval,
			Retention:       retention,
			ExpiryGrace:     expiryGrace,
			TopologyFile:    getEnvString("TOPOLOGY_FILE", "swapd.toml"),
			AssetsFile:      getEnvString("ASSETS_FILE", "assets.yaml"),
		},
		Journal: models.JournalConfig{
			Backend: journal,
		},
		Formance: models.FormanceConfig{
			StackURL:     os.Getenv("FORMANCE_STACK_URL"),
			ClientID:     os.Getenv("FORMANCE_CLIENT_ID"),
			ClientSecret: os.Getenv("FORMANCE_CLIENT_SECRET"),
			LedgerName:   getEnvString("FORMANCE_LEDGER", "htlc-swap-journal"),
		},
		Storage: models.StorageConfig{
			SecretsPath:    getEnvString("SECRETS_PATH", "secrets.ldb"),
			RelayInboxPath: getEnvString("RELAY_INBOX_PATH", "relay.db"),
		},
		Server: models.ServerConfig{
			ListenAddr:      getEnvString("HTTP_LISTEN_ADDR", ":8080"),
			ReadTimeout:     readTimeout,
			WriteTimeout:    readTimeout,
			ShutdownTimeout: shutdownTimeout,
		},
		OrderDomain: models.OrderDomainConfig{
			Name:              getEnvString("ORDER_DOMAIN_NAME", "HTLC Swap"),
			Version:           getEnvString("ORDER_DOMAIN_VERSION", "1"),
			ChainId:           chainId,
			VerifyingContract: getEnvString("ORDER_VERIFYING_CONTRACT", "0x0000000000000000000000000000000000000000"),
		},
		Log: models.LogConfig{
			File:       os.Getenv("LOG_FILE"),
			MaxSizeMB:  getEnvInt("LOG_MAX_SIZE_MB", 100),
			MaxBackups: getEnvInt("LOG_MAX_BACKUPS", 5),
			MaxAgeDays: getEnvInt("LOG_MAX_AGE_DAYS", 28),

			Development: getEnvBool("LOG_DEVELOPMENT", false),
		},
	}, nil
}

// LoadTopology decodes the ledger topology file and fills defaults.
func LoadTopology(path string) (*models.Topology, error) {
	var topo models.Topology
	meta, err := toml.DecodeFile(resolvePath(path), &topo)
	if err != nil {
		return nil, fmt.Errorf("unable to parse %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("unknown keys in %s: %v", path, undecoded)
	}

	if len(topo.Ledgers) == 0 {
		return nil, fmt.Errorf("%s declares no ledgers", path)
	}
	seen := make(map[string]bool)
	for i, l := range topo.Ledgers {
		if l.Name == "" {
			return nil, fmt.Errorf("ledger at index %d missing name", i)
		}
		if seen[l.Name] {
			return nil, fmt.Errorf("ledger %q declared twice", l.Name)
		}
		seen[l.Name] = true
		switch l.Kind {
		case models.LedgerAccount, models.LedgerOutput:
		default:
			return nil, fmt.Errorf("ledger %q has unknown kind %q", l.Name, l.Kind)
		}
	}

	if topo.Cascade == (models.CascadePolicy{}) {
		topo.Cascade = models.DefaultCascadePolicy
	}
	if err := topo.Cascade.Build(time.Unix(0, 0)).Validate(); err != nil {
		return nil, fmt.Errorf("invalid cascade policy in %s: %w", path, err)
	}
	return &topo, nil
}

// LoadAssets reads the asset registry.
func LoadAssets(path string) (*models.AssetRegistry, error) {
	data, err := os.ReadFile(resolvePath(path))
	if err != nil {
		return nil, fmt.Errorf("unable to read %s: %w", path, err)
	}

	var file struct {
		Assets []models.AssetConfig `yaml:"assets"`
	}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("unable to parse %s: %w", path, err)
	}

	for i, asset := range file.Assets {
		if asset.Symbol == "" {
			return nil, fmt.Errorf("asset at index %d missing symbol", i)
		}
		if asset.Ledger == "" {
			return nil, fmt.Errorf("asset at index %d missing ledger", i)
		}
		if asset.AssetId == "" {
			return nil, fmt.Errorf("asset at index %d missing asset_id", i)
		}
		if asset.Decimals < 0 || asset.Decimals > 36 {
			return nil, fmt.Errorf("asset %s has invalid decimals %d", asset.Symbol, asset.Decimals)
		}
	}

	return &models.AssetRegistry{Assets: file.Assets}, nil
}

func resolvePath(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if wd, err := os.Getwd(); err == nil {
		return filepath.Join(wd, path)
	}
	return path
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	if value := os.Getenv(key); value != "" {
		duration, err := time.ParseDuration(value)
		if err != nil {
			return 0, fmt.Errorf("invalid duration for %s: %q (%w)", key, value, err)
		}
		return duration, nil
	}
	return defaultValue, nil
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
