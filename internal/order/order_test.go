package order

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/ronakgupta11/cardano-swap/internal/hashlock"
	"github.com/ronakgupta11/cardano-swap/internal/models"
)

var testDomain = Domain{
	Name:              "HTLC Swap",
	Version:           "1",
	ChainID:           11155111,
	VerifyingContract: common.HexToAddress("0x00000000000000000000000000000000000000e5"),
}

func testOrder(t *testing.T) models.Order {
	t.Helper()
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	secret, err := hashlock.GenerateSecret()
	require.NoError(t, err)
	salt, err := NewSalt()
	require.NoError(t, err)

	o := models.Order{
		Maker:            ethcrypto.PubkeyToAddress(key.PublicKey),
		Receiver:         "addr_test1maker",
		SrcLedger:        "sepolia",
		DstLedger:        "preprod",
		SrcAsset:         "0x0000000000000000000000000000000000000abc",
		DstAsset:         models.NativeAsset,
		SrcAmount:        big.NewInt(1_000_000),
		DstAmount:        big.NewInt(100_000_000),
		SrcSafetyDeposit: big.NewInt(10_000),
		DstSafetyDeposit: big.NewInt(2_000_000),
		Hashlock:         hashlock.Commit(secret),
		Salt:             salt,
		Expiration:       time.Date(2025, 6, 1, 13, 0, 0, 0, time.UTC),
	}
	return o
}

func TestSignAndVerify(t *testing.T) {
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	o := testOrder(t)
	o.Maker = ethcrypto.PubkeyToAddress(key.PublicKey)

	signed, err := Sign(testDomain, o, key)
	require.NoError(t, err)
	require.Len(t, signed.Signature, 65)
	require.True(t, signed.Signature[64] == 27 || signed.Signature[64] == 28)

	hash, err := Verify(testDomain, *signed)
	require.NoError(t, err)
	require.Equal(t, signed.Hash, hash)
}

func TestHashIsDeterministicAndDomainSeparated(t *testing.T) {
	o := testOrder(t)

	h1, err := Hash(testDomain, o)
	require.NoError(t, err)
	h2, err := Hash(testDomain, o)
	require.NoError(t, err)
	require.Equal(t, h1, h2)

	other := testDomain
	other.ChainID = 1
	h3, err := Hash(other, o)
	require.NoError(t, err)
	require.NotEqual(t, h1, h3)

	o.Salt = new(big.Int).Add(o.Salt, big.NewInt(1))
	h4, err := Hash(testDomain, o)
	require.NoError(t, err)
	require.NotEqual(t, h1, h4)
}

func TestVerifyRejectsTampering(t *testing.T) {
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	o := testOrder(t)
	o.Maker = ethcrypto.PubkeyToAddress(key.PublicKey)
	signed, err := Sign(testDomain, o, key)
	require.NoError(t, err)

	tampered := *signed
	tampered.Order.DstAmount = big.NewInt(1)
	_, err = Verify(testDomain, tampered)
	require.ErrorIs(t, err, ErrBadSignature)

	replayed := *signed
	other := testDomain
	other.VerifyingContract = common.HexToAddress("0x00000000000000000000000000000000000000e6")
	_, err = Verify(other, replayed)
	require.ErrorIs(t, err, ErrBadSignature)

	short := *signed
	short.Signature = short.Signature[:64]
	_, err = Verify(testDomain, short)
	require.ErrorIs(t, err, ErrBadSignature)
}

func TestSignRequiresMakerKey(t *testing.T) {
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	o := testOrder(t)

	_, err = Sign(testDomain, o, key)
	require.ErrorIs(t, err, ErrInvalidOrder)
}

func TestValidate(t *testing.T) {
	o := testOrder(t)
	require.NoError(t, Validate(o))

	bad := o
	bad.SrcAmount = big.NewInt(0)
	require.ErrorIs(t, Validate(bad), ErrInvalidOrder)

	bad = o
	bad.Hashlock = hashlock.Hashlock{}
	require.ErrorIs(t, Validate(bad), ErrInvalidOrder)

	bad = o
	bad.DstSafetyDeposit = big.NewInt(-1)
	require.ErrorIs(t, Validate(bad), ErrInvalidOrder)
}

func TestCheckLive(t *testing.T) {
	o := testOrder(t)
	require.NoError(t, CheckLive(o, o.Expiration.Add(-time.Second)))
	require.ErrorIs(t, CheckLive(o, o.Expiration), ErrExpired)
	require.ErrorIs(t, CheckLive(o, o.Expiration.Add(time.Second)), ErrExpired)
}

func TestBookConsumesOnce(t *testing.T) {
	b := NewBook()
	h := common.HexToHash("0x01")
	require.False(t, b.Consumed(h))
	require.NoError(t, b.Consume(h))
	require.True(t, b.Consumed(h))
	require.ErrorIs(t, b.Consume(h), ErrConsumed)
}

func TestLoadKey(t *testing.T) {
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	hexKey := "0x" + common.Bytes2Hex(ethcrypto.FromECDSA(key))

	loaded, err := LoadKey(hexKey)
	require.NoError(t, err)
	require.Equal(t, key.D, loaded.D)

	_, err = LoadKey("")
	require.Error(t, err)
}
