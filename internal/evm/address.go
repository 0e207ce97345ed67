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

package evm

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"github.com/ronakgupta11/cardano-swap/internal/escrow"
	"github.com/ronakgupta11/cardano-swap/internal/models"
)

// Factory is the deployer every escrow address is derived from.
type Factory struct {
	Address      common.Address
	InitCodeHash common.Hash
}

// ImmutablesHash packs the terms fixed at creation into 32-byte words and
// hashes them. It is the CREATE2 salt of the escrow.
func ImmutablesHash(rec models.EscrowRecord) (common.Hash, error) {
	words := make([][]byte, 0, 13)

	orderHash := common.HexToHash(rec.OrderHash)
	words = append(words, orderHash.Bytes(), rec.Hashlock[:])
	words = append(words, common.LeftPadBytes([]byte{byte(rec.Side)}, 32))

	for _, id := range []models.Identity{rec.Maker, rec.Resolver, rec.Receiver} {
		w, err := identityWord(id)
		if err != nil {
			return common.Hash{}, err
		}
		words = append(words, w)
	}
	words = append(words, assetWord(rec.Asset))

	for _, v := range []*big.Int{rec.Amount, rec.SafetyDeposit} {
		w, err := amountWord(v)
		if err != nil {
			return common.Hash{}, err
		}
		words = append(words, w)
	}
	for _, d := range []time.Time{
		rec.Cascade.ResolverExclusive,
		rec.Cascade.ResolverCancel,
		rec.Cascade.Public,
	} {
		if d.Unix() < 0 {
			return common.Hash{}, fmt.Errorf("%w: negative timestamp", escrow.ErrInvalidTerms)
		}
		if d.Nanosecond() != 0 {
			return common.Hash{}, fmt.Errorf("%w: deadline %s is not a whole second", escrow.ErrInvalidTerms, d.Format(time.RFC3339Nano))
		}
		word := uint256.NewInt(uint64(d.Unix())).Bytes32()
		words = append(words, word[:])
	}
	return ethcrypto.Keccak256Hash(words...), nil
}

// AddressOf is where the escrow with these terms is, or will be, deployed.
func (f Factory) AddressOf(rec models.EscrowRecord) (common.Address, error) {
	salt, err := ImmutablesHash(rec)
	if err != nil {
		return common.Address{}, err
	}
	return ethcrypto.CreateAddress2(f.Address, salt, f.InitCodeHash.Bytes()), nil
}

func identityWord(id models.Identity) ([]byte, error) {
	if id == "" {
		return make([]byte, 32), nil
	}
	addr, err := ParseAddress(id)
	if err != nil {
		return nil, err
	}
	return common.LeftPadBytes(addr.Bytes(), 32), nil
}

func assetWord(a models.Asset) []byte {
	if a == models.NativeAsset {
		return make([]byte, 32)
	}
	return common.LeftPadBytes(common.HexToAddress(string(a)).Bytes(), 32)
}

func amountWord(v *big.Int) ([]byte, error) {
	if v == nil {
		return make([]byte, 32), nil
	}
	u, overflow := uint256.FromBig(v)
	if overflow || v.Sign() < 0 {
		return nil, fmt.Errorf("%w: amount %s out of range", escrow.ErrInvalidTerms, v)
	}
	word := u.Bytes32()
	return word[:], nil
}

// ParseAddress accepts a 0x-prefixed 20-byte hex identity.
func ParseAddress(id models.Identity) (common.Address, error) {
	if !common.IsHexAddress(string(id)) {
		return common.Address{}, fmt.Errorf("%w: %q", ErrBadIdentity, id)
	}
	return common.HexToAddress(string(id)), nil
}

// Identity renders addr the way the ledger reports it.
func Identity(addr common.Address) models.Identity {
	return models.Identity(addr.Hex())
}

// NormalizeAsset maps token addresses to checksummed form and leaves the
// native unit alone.
func NormalizeAsset(a models.Asset) (models.Asset, error) {
	if a == models.NativeAsset || strings.EqualFold(string(a), string(models.NativeAsset)) {
		return models.NativeAsset, nil
	}
	if !common.IsHexAddress(string(a)) {
		return "", fmt.Errorf("%w: token %q is not an address", escrow.ErrInvalidTerms, a)
	}
	return models.Asset(common.HexToAddress(string(a)).Hex()), nil
}
