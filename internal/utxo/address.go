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

// Package utxo is an in-memory unspent-output ledger with two validators:
// the escrow state machine and the pre-authorization vault. Validators see
// a whole transaction at once and accept or reject it without side effects.
package utxo

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/btcsuite/btcutil/bech32"
	"golang.org/x/crypto/blake2b"

	"github.com/ronakgupta11/cardano-swap/internal/models"
)

const HashSize = 28

type Network byte

const (
	Testnet Network = 0
	Mainnet Network = 1
)

func (n Network) hrp() string {
	if n == Mainnet {
		return "addr"
	}
	return "addr_test"
}

const (
	headerKey    byte = 0x60
	headerScript byte = 0x70
)

var (
	ErrBadAddress = errors.New("utxo: malformed address")
	ErrBadNetwork = errors.New("utxo: address is for another network")
)

// KeyHash identifies a payment key; ScriptHash identifies a validator.
type (
	KeyHash    [HashSize]byte
	ScriptHash [HashSize]byte
)

func hash224(parts ...[]byte) [HashSize]byte {
	h, _ := blake2b.New(HashSize, nil)
	for _, p := range parts {
		h.Write(p)
	}
	var out [HashSize]byte
	copy(out[:], h.Sum(nil))
	return out
}

// Validator script hashes. A vault names the escrow validator it may
// release into by this hash.
var (
	EscrowScript = ScriptHash(hash224([]byte("htlc-escrow/v1")))
	VaultScript  = ScriptHash(hash224([]byte("htlc-vault/v1")))
)

// Credential is the payment part of an address.
type Credential struct {
	Script bool
	Hash   [HashSize]byte
}

func KeyAddress(net Network, kh KeyHash) models.Identity {
	return encodeAddress(net, Credential{Hash: kh})
}

func ScriptAddress(net Network, sh ScriptHash) models.Identity {
	return encodeAddress(net, Credential{Script: true, Hash: sh})
}

func encodeAddress(net Network, c Credential) models.Identity {
	header := headerKey
	if c.Script {
		header = headerScript
	}
	raw := append([]byte{header | byte(net)}, c.Hash[:]...)
	conv, err := bech32.ConvertBits(raw, 8, 5, true)
	if err != nil {
		panic(fmt.Sprintf("utxo: convert address bits: %v", err))
	}
	encoded, err := bech32.Encode(net.hrp(), conv)
	if err != nil {
		panic(fmt.Sprintf("utxo: encode address: %v", err))
	}
	return models.Identity(encoded)
}

// ParseAddress decodes an enterprise address on net.
func ParseAddress(net Network, id models.Identity) (Credential, error) {
	hrp, data, err := bech32.Decode(string(id))
	if err != nil {
		return Credential{}, fmt.Errorf("%w: %v", ErrBadAddress, err)
	}
	raw, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		return Credential{}, fmt.Errorf("%w: %v", ErrBadAddress, err)
	}
	if len(raw) != 1+HashSize {
		return Credential{}, fmt.Errorf("%w: payload is %d bytes", ErrBadAddress, len(raw))
	}
	if hrp != net.hrp() || Network(raw[0]&0x0f) != net {
		return Credential{}, fmt.Errorf("%w: %s", ErrBadNetwork, id)
	}
	var c Credential
	switch raw[0] & 0xf0 {
	case headerKey:
	case headerScript:
		c.Script = true
	default:
		return Credential{}, fmt.Errorf("%w: unsupported header %#x", ErrBadAddress, raw[0])
	}
	copy(c.Hash[:], raw[1:])
	return c, nil
}

// Key is a payment signing key.
type Key struct {
	priv ed25519.PrivateKey
	net  Network
}

func NewKey(net Network) (*Key, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return &Key{priv: priv, net: net}, nil
}

// KeyFromSeed derives a key from a 32-byte seed.
func KeyFromSeed(net Network, seed []byte) (*Key, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("utxo: seed must be %d bytes", ed25519.SeedSize)
	}
	return &Key{priv: ed25519.NewKeyFromSeed(seed), net: net}, nil
}

func (k *Key) Public() ed25519.PublicKey { return k.priv.Public().(ed25519.PublicKey) }

func (k *Key) Hash() KeyHash { return KeyHash(hash224(k.Public())) }

func (k *Key) Identity() models.Identity { return KeyAddress(k.net, k.Hash()) }

func (k *Key) Sign(id TxID) Witness {
	return Witness{PubKey: k.Public(), Signature: ed25519.Sign(k.priv, id[:])}
}
