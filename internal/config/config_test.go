package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ronakgupta11/cardano-swap/internal/models"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Database.Path != "swaps.db" {
		t.Errorf("Expected default database path, got %s", cfg.Database.Path)
	}
	if cfg.Coordinator.PollingInterval != 5*time.Second {
		t.Errorf("Expected 5s polling interval, got %v", cfg.Coordinator.PollingInterval)
	}
	if cfg.Journal.Backend != "sqlite" {
		t.Errorf("Expected sqlite journal, got %s", cfg.Journal.Backend)
	}
	if cfg.OrderDomain.ChainId != 11155111 {
		t.Errorf("Expected default chain id, got %d", cfg.OrderDomain.ChainId)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("COORDINATOR_POLLING_INTERVAL", "250ms")
	t.Setenv("JOURNAL_BACKEND", "Formance")
	t.Setenv("LOG_DEVELOPMENT", "true")
	t.Setenv("DB_MAX_OPEN_CONNS", "not-a-number")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Coordinator.PollingInterval != 250*time.Millisecond {
		t.Errorf("Expected 250ms, got %v", cfg.Coordinator.PollingInterval)
	}
	if cfg.Journal.Backend != "formance" {
		t.Errorf("Expected formance, got %s", cfg.Journal.Backend)
	}
	if !cfg.Log.Development {
		t.Errorf("Expected development logging")
	}
	if cfg.Database.MaxOpenConns != 25 {
		t.Errorf("Expected fallback to default on bad int, got %d", cfg.Database.MaxOpenConns)
	}
}

func TestLoad_Invalid(t *testing.T) {
	t.Setenv("COORDINATOR_RETENTION", "forever")
	if _, err := Load(); err == nil {
		t.Errorf("Expected error for bad duration")
	}

	t.Setenv("COORDINATOR_RETENTION", "1h")
	t.Setenv("JOURNAL_BACKEND", "postgres")
	if _, err := Load(); err == nil {
		t.Errorf("Expected error for unknown journal backend")
	}
}

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("Failed to write %s: %v", name, err)
	}
	return path
}

func TestLoadTopology(t *testing.T) {
	path := writeFile(t, "swapd.toml", `
deposit_policy = "refund_non_recipient"
relayers = ["0x00000000000000000000000000000000000000aa"]

[cascade]
resolver_exclusive = "5m"
resolver_cancel = "20m"
public = "40m"

[[ledger]]
name = "sepolia"
kind = "account"
feed_url = "http://localhost:8081/feeds/sepolia"
feed_rate = 2.5
factory = "0x00000000000000000000000000000000000000f0"
init_code_hash = "0x1111111111111111111111111111111111111111111111111111111111111111"
rpc_url = "http://localhost:8545"

[[ledger]]
name = "preprod"
kind = "output"
feed_url = "http://localhost:8081/feeds/preprod"
network = "addr_test"
`)

	topo, err := LoadTopology(path)
	if err != nil {
		t.Fatalf("LoadTopology failed: %v", err)
	}
	if len(topo.Ledgers) != 2 {
		t.Fatalf("Expected 2 ledgers, got %d", len(topo.Ledgers))
	}
	if topo.Cascade.ResolverCancel != 20*time.Minute {
		t.Errorf("Expected 20m cancel offset, got %v", topo.Cascade.ResolverCancel)
	}
	l, ok := topo.Ledger("preprod")
	if !ok || l.Kind != models.LedgerOutput || l.Network != "addr_test" {
		t.Errorf("Unexpected preprod entry: %+v", l)
	}
	if len(topo.Relayers) != 1 {
		t.Errorf("Expected one relayer, got %d", len(topo.Relayers))
	}
}

func TestLoadTopology_Rejects(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"no ledgers", `deposit_policy = "refund_caller"`},
		{"unknown kind", "[[ledger]]\nname = \"x\"\nkind = \"dag\"\n"},
		{"duplicate", "[[ledger]]\nname = \"x\"\nkind = \"account\"\n[[ledger]]\nname = \"x\"\nkind = \"output\"\n"},
		{"unknown key", "colour = \"blue\"\n[[ledger]]\nname = \"x\"\nkind = \"account\"\n"},
		{"bad cascade", "[cascade]\nresolver_exclusive = \"30m\"\nresolver_cancel = \"10m\"\npublic = \"40m\"\n[[ledger]]\nname = \"x\"\nkind = \"account\"\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := LoadTopology(writeFile(t, "swapd.toml", tt.body)); err == nil {
				t.Errorf("Expected error")
			}
		})
	}
}

func TestLoadTopology_DefaultCascade(t *testing.T) {
	topo, err := LoadTopology(writeFile(t, "swapd.toml", "[[ledger]]\nname = \"x\"\nkind = \"account\"\n"))
	if err != nil {
		t.Fatalf("LoadTopology failed: %v", err)
	}
	if topo.Cascade != models.DefaultCascadePolicy {
		t.Errorf("Expected default cascade policy, got %+v", topo.Cascade)
	}
}

func TestLoadAssets(t *testing.T) {
	path := writeFile(t, "assets.yaml", `
assets:
  - symbol: USDC
    ledger: sepolia
    asset_id: "0x0000000000000000000000000000000000000abc"
    decimals: 6
  - symbol: ADA
    ledger: preprod
    asset_id: native
    decimals: 6
`)
	reg, err := LoadAssets(path)
	if err != nil {
		t.Fatalf("LoadAssets failed: %v", err)
	}
	a, ok := reg.Lookup("preprod", models.NativeAsset)
	if !ok || a.Symbol != "ADA" {
		t.Errorf("Expected ADA for preprod native, got %+v", a)
	}

	if _, err := LoadAssets(writeFile(t, "bad.yaml", "assets:\n  - symbol: X\n")); err == nil {
		t.Errorf("Expected error for missing ledger")
	}
	if _, err := LoadAssets(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Errorf("Expected error for missing file")
	}
}
