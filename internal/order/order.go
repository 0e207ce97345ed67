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

package order

import (
	"crypto/ecdsa"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/ronakgupta11/cardano-swap/internal/models"
)

var (
	ErrBadSignature = errors.New("order: signature does not recover the maker")
	ErrExpired      = errors.New("order: expired")
	ErrConsumed     = errors.New("order: already consumed")
	ErrInvalidOrder = errors.New("order: invalid")
)

// Domain separates order hashes between protocol deployments.
type Domain struct {
	Name              string
	Version           string
	ChainID           int64
	VerifyingContract common.Address
}

var orderTypes = apitypes.Types{
	"EIP712Domain": {
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	},
	"Order": {
		{Name: "maker", Type: "address"},
		{Name: "makerSource", Type: "string"},
		{Name: "receiver", Type: "string"},
		{Name: "srcLedger", Type: "string"},
		{Name: "dstLedger", Type: "string"},
		{Name: "srcAsset", Type: "string"},
		{Name: "dstAsset", Type: "string"},
		{Name: "srcAmount", Type: "uint256"},
		{Name: "dstAmount", Type: "uint256"},
		{Name: "srcSafetyDeposit", Type: "uint256"},
		{Name: "dstSafetyDeposit", Type: "uint256"},
		{Name: "hashlock", Type: "bytes32"},
		{Name: "salt", Type: "uint256"},
		{Name: "expiration", Type: "uint256"},
	},
}

// Validate checks the fields an order hash cannot be computed without.
func Validate(o models.Order) error {
	switch {
	case o.Maker == (common.Address{}):
		return fmt.Errorf("%w: maker required", ErrInvalidOrder)
	case o.SrcLedger == "" || o.DstLedger == "":
		return fmt.Errorf("%w: both ledgers required", ErrInvalidOrder)
	case o.SrcAsset == "" || o.DstAsset == "":
		return fmt.Errorf("%w: both assets required", ErrInvalidOrder)
	case !positive(o.SrcAmount) || !positive(o.DstAmount):
		return fmt.Errorf("%w: amounts must be positive", ErrInvalidOrder)
	case negative(o.SrcSafetyDeposit) || negative(o.DstSafetyDeposit):
		return fmt.Errorf("%w: safety deposits must be non-negative", ErrInvalidOrder)
	case o.Hashlock.IsZero():
		return fmt.Errorf("%w: hashlock required", ErrInvalidOrder)
	case o.Salt == nil || o.Salt.Sign() < 0:
		return fmt.Errorf("%w: salt required", ErrInvalidOrder)
	case o.Expiration.IsZero():
		return fmt.Errorf("%w: expiration required", ErrInvalidOrder)
	}
	return nil
}

// Hash is the EIP-712 structured-data hash of o under d.
func Hash(d Domain, o models.Order) (common.Hash, error) {
	if err := Validate(o); err != nil {
		return common.Hash{}, err
	}
	typed := apitypes.TypedData{
		Types:       orderTypes,
		PrimaryType: "Order",
		Domain: apitypes.TypedDataDomain{
			Name:              d.Name,
			Version:           d.Version,
			ChainId:           math.NewHexOrDecimal256(d.ChainID),
			VerifyingContract: d.VerifyingContract.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"maker":            o.Maker.Hex(),
			"makerSource":      string(o.MakerSource),
			"receiver":         string(o.Receiver),
			"srcLedger":        o.SrcLedger,
			"dstLedger":        o.DstLedger,
			"srcAsset":         string(o.SrcAsset),
			"dstAsset":         string(o.DstAsset),
			"srcAmount":        o.SrcAmount.String(),
			"dstAmount":        o.DstAmount.String(),
			"srcSafetyDeposit": orZero(o.SrcSafetyDeposit).String(),
			"dstSafetyDeposit": orZero(o.DstSafetyDeposit).String(),
			"hashlock":         o.Hashlock.Hex(),
			"salt":             o.Salt.String(),
			"expiration":       fmt.Sprintf("%d", o.Expiration.Unix()),
		},
	}
	digest, _, err := apitypes.TypedDataAndHash(typed)
	if err != nil {
		return common.Hash{}, fmt.Errorf("hash order: %w", err)
	}
	return common.BytesToHash(digest), nil
}

// Sign hashes and signs o with the maker key. The recovery byte is 27/28.
func Sign(d Domain, o models.Order, key *ecdsa.PrivateKey) (*models.SignedOrder, error) {
	if ethcrypto.PubkeyToAddress(key.PublicKey) != o.Maker {
		return nil, fmt.Errorf("%w: key does not belong to maker %s", ErrInvalidOrder, o.Maker.Hex())
	}
	hash, err := Hash(d, o)
	if err != nil {
		return nil, err
	}
	sig, err := ethcrypto.Sign(hash.Bytes(), key)
	if err != nil {
		return nil, fmt.Errorf("sign order: %w", err)
	}
	sig[64] += 27
	return &models.SignedOrder{Order: o, Signature: sig, Hash: hash}, nil
}

// Verify recomputes the order hash and checks the signature recovers the
// maker. It returns the recomputed hash; a stale Hash field is ignored.
func Verify(d Domain, so models.SignedOrder) (common.Hash, error) {
	hash, err := Hash(d, so.Order)
	if err != nil {
		return common.Hash{}, err
	}
	if len(so.Signature) != 65 {
		return common.Hash{}, fmt.Errorf("%w: signature is %d bytes", ErrBadSignature, len(so.Signature))
	}
	sig := make([]byte, 65)
	copy(sig, so.Signature)
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	pub, err := ethcrypto.SigToPub(hash.Bytes(), sig)
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	if ethcrypto.PubkeyToAddress(*pub) != so.Order.Maker {
		return common.Hash{}, ErrBadSignature
	}
	return hash, nil
}

// CheckLive rejects an order whose expiration is at or before now.
func CheckLive(o models.Order, now time.Time) error {
	if !now.Before(o.Expiration) {
		return fmt.Errorf("%w at %s", ErrExpired, o.Expiration.UTC().Format(time.RFC3339))
	}
	return nil
}

// NewSalt draws a random 256-bit salt.
func NewSalt() (*big.Int, error) {
	max := new(big.Int).Lsh(big.NewInt(1), 256)
	return rand.Int(rand.Reader, max)
}

// LoadKey parses a hex secp256k1 private key, with or without 0x.
func LoadKey(hexKey string) (*ecdsa.PrivateKey, error) {
	hexKey = strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	if hexKey == "" {
		return nil, fmt.Errorf("empty private key")
	}
	key, err := ethcrypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("load private key: %w", err)
	}
	return key, nil
}

// Identity is how the maker's account appears on an account ledger.
func Identity(addr common.Address) models.Identity {
	return models.Identity(addr.Hex())
}

func positive(v *big.Int) bool { return v != nil && v.Sign() > 0 }
func negative(v *big.Int) bool { return v != nil && v.Sign() < 0 }

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
