package models

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func testRegistry() *AssetRegistry {
	return &AssetRegistry{Assets: []AssetConfig{
		{Symbol: "USDC", Ledger: "sepolia", AssetId: "0x0000000000000000000000000000000000000abc", Decimals: 6},
		{Symbol: "ADA", Ledger: "preprod", AssetId: "native", Decimals: 6},
	}}
}

func TestAssetRegistryResolve(t *testing.T) {
	reg := testRegistry()
	require.Equal(t, Asset("0x0000000000000000000000000000000000000abc"), reg.Resolve("sepolia", "usdc"))
	require.Equal(t, NativeAsset, reg.Resolve("preprod", "ADA"))
	require.Equal(t, Asset("USDC"), reg.Resolve("preprod", "USDC"))
	require.Equal(t, Asset("x"), (*AssetRegistry)(nil).Resolve("any", "x"))
}

func TestAssetRegistryBaseUnits(t *testing.T) {
	reg := testRegistry()

	v, err := reg.BaseUnits("preprod", NativeAsset, decimal.RequireFromString("1.25"))
	require.NoError(t, err)
	require.Equal(t, "1250000", v.String())

	_, err = reg.BaseUnits("preprod", NativeAsset, decimal.RequireFromString("0.0000001"))
	require.Error(t, err)

	v, err = reg.BaseUnits("unknown", "tok", decimal.NewFromInt(42))
	require.NoError(t, err)
	require.Equal(t, "42", v.String())
}

func TestAssetRegistryHuman(t *testing.T) {
	reg := testRegistry()
	require.Equal(t, "2.5 ADA", reg.Human("preprod", NativeAsset, decimal.NewFromInt(2_500_000)))
	require.Equal(t, "9 tok", reg.Human("preprod", "tok", decimal.NewFromInt(9)))
}
