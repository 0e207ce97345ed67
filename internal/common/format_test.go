package common

import (
	"math/big"
	"testing"
	"time"

	"github.com/ronakgupta11/cardano-swap/internal/models"
)

func TestFormatAmount(t *testing.T) {
	reg := &models.AssetRegistry{Assets: []models.AssetConfig{
		{Symbol: "ADA", Ledger: "preprod", AssetId: "native", Decimals: 6},
	}}

	if got := FormatAmount(reg, "preprod", models.NativeAsset, big.NewInt(1_500_000)); got != "1.5 ADA" {
		t.Errorf("Expected 1.5 ADA, got %q", got)
	}
	if got := FormatAmount(reg, "sepolia", models.NativeAsset, big.NewInt(7)); got != "7 native" {
		t.Errorf("Expected raw amount for unknown asset, got %q", got)
	}
	if got := FormatAmount(nil, "preprod", "tok", nil); got != "0 tok" {
		t.Errorf("Expected zero for nil amount, got %q", got)
	}
}

func TestFormatValue(t *testing.T) {
	v := models.NewValue("tok", big.NewInt(5))
	v.Add(models.NativeAsset, big.NewInt(2))
	if got := FormatValue(nil, "x", v); got != "2 native + 5 tok" {
		t.Errorf("Unexpected value rendering %q", got)
	}
	if got := FormatValue(nil, "x", models.Value{}); got != "0" {
		t.Errorf("Expected 0 for empty value, got %q", got)
	}
}

func TestShortId(t *testing.T) {
	if got := ShortId("0x1234"); got != "0x1234" {
		t.Errorf("Short ids must pass through, got %q", got)
	}
	if got := ShortId("0x00000000000000000000000000000000000005c1"); got != "0x000000…05c1" {
		t.Errorf("Unexpected abbreviation %q", got)
	}
}

func TestFormatDeadline(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	if got := FormatDeadline(now.Add(90*time.Second), now); got != "2025-06-01T12:01:30Z (in 1m30s)" {
		t.Errorf("Unexpected future deadline %q", got)
	}
	if got := FormatDeadline(now.Add(-time.Minute), now); got != "2025-06-01T11:59:00Z (1m0s ago)" {
		t.Errorf("Unexpected past deadline %q", got)
	}
	if got := FormatDeadline(time.Time{}, now); got != "-" {
		t.Errorf("Expected dash for unset deadline, got %q", got)
	}
}
