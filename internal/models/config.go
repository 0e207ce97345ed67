package models

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Config represents the application configuration
type Config struct {
	Database    DatabaseConfig
	Coordinator CoordinatorConfig
	Journal     JournalConfig
	Formance    FormanceConfig
	Storage     StorageConfig
	Server      ServerConfig
	OrderDomain OrderDomainConfig
	Log         LogConfig
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	PingTimeout     time.Duration
}

// CoordinatorConfig holds swap watcher settings
type CoordinatorConfig struct {
	PollingInterval time.Duration
	CleanupInterval time.Duration
	Retention       time.Duration
	ExpiryGrace     time.Duration
	TopologyFile    string
	AssetsFile      string
}

// JournalConfig selects the settlement journal backend ("sqlite" or "formance")
type JournalConfig struct {
	Backend string
}

// FormanceConfig holds Formance Stack credentials for the journal backend
type FormanceConfig struct {
	StackURL     string
	ClientID     string
	ClientSecret string
	LedgerName   string
}

// StorageConfig locates the maker secret vault and the relay inbox
type StorageConfig struct {
	SecretsPath    string
	RelayInboxPath string
}

// ServerConfig holds the HTTP surface settings
type ServerConfig struct {
	ListenAddr      string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// OrderDomainConfig is the signing domain orders are bound to
type OrderDomainConfig struct {
	Name              string
	Version           string
	ChainId           int64
	VerifyingContract string
}

// LogConfig enables an optional rotating file sink next to stdout
type LogConfig struct {
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	// Development switches to zap's human-readable console encoder
	Development bool
}

// LedgerKind tells how a ledger holds value
type LedgerKind string

const (
	LedgerAccount LedgerKind = "account"
	LedgerOutput  LedgerKind = "output"
)

// LedgerConfig describes one ledger collaborator in the topology file
type LedgerConfig struct {
	Name         string     `toml:"name"`
	Kind         LedgerKind `toml:"kind"`
	FeedURL      string     `toml:"feed_url"`
	FeedRate     float64    `toml:"feed_rate"`
	FeedBurst    int        `toml:"feed_burst"`
	Factory      string     `toml:"factory"`
	InitCodeHash string     `toml:"init_code_hash"`
	Network      string     `toml:"network"`
	RPCURL       string     `toml:"rpc_url"`
}

// Topology is the decoded swapd.toml
type Topology struct {
	Ledgers       []LedgerConfig `toml:"ledger"`
	Cascade       CascadePolicy  `toml:"cascade"`
	DepositPolicy string         `toml:"deposit_policy"`
	Relayers      []Identity     `toml:"relayers"`
}

// Ledger returns the named ledger entry.
func (t Topology) Ledger(name string) (LedgerConfig, bool) {
	for _, l := range t.Ledgers {
		if l.Name == name {
			return l, true
		}
	}
	return LedgerConfig{}, false
}

// AssetConfig is one entry of assets.yaml
type AssetConfig struct {
	Symbol   string `yaml:"symbol"`
	Ledger   string `yaml:"ledger"`
	AssetId  string `yaml:"asset_id"`
	Decimals int    `yaml:"decimals"`
}

// AssetRegistry resolves ledger asset ids to display symbols and precision.
type AssetRegistry struct {
	Assets []AssetConfig
}

// Lookup finds the entry for asset on ledger.
func (r *AssetRegistry) Lookup(ledger string, asset Asset) (AssetConfig, bool) {
	if r == nil {
		return AssetConfig{}, false
	}
	for _, a := range r.Assets {
		if a.Ledger == ledger && Asset(a.AssetId) == asset {
			return a, true
		}
	}
	return AssetConfig{}, false
}

// Human renders a base-unit amount with the registry's precision, falling
// back to the raw integer for unknown assets.
func (r *AssetRegistry) Human(ledger string, asset Asset, amount decimal.Decimal) string {
	if a, ok := r.Lookup(ledger, asset); ok {
		return fmt.Sprintf("%s %s", amount.Shift(-int32(a.Decimals)).String(), a.Symbol)
	}
	return fmt.Sprintf("%s %s", amount.String(), asset)
}

// Resolve maps a registry symbol on ledger to its asset id. Anything else is
// taken as an asset id already.
func (r *AssetRegistry) Resolve(ledger, symbolOrId string) Asset {
	if r != nil {
		for _, a := range r.Assets {
			if a.Ledger == ledger && strings.EqualFold(a.Symbol, symbolOrId) {
				return Asset(a.AssetId)
			}
		}
	}
	return Asset(symbolOrId)
}

// BaseUnits converts a human amount to base units, rejecting amounts finer
// than the asset's precision.
func (r *AssetRegistry) BaseUnits(ledger string, asset Asset, amount decimal.Decimal) (*big.Int, error) {
	decimals := 0
	if a, ok := r.Lookup(ledger, asset); ok {
		decimals = a.Decimals
	}
	v := amount.Shift(int32(decimals))
	if !v.Equal(v.Truncate(0)) {
		return nil, fmt.Errorf("%s has more than %d decimals", amount.String(), decimals)
	}
	return v.BigInt(), nil
}
