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

package hashlock

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// Size is the length in bytes of both a secret and its commitment.
const Size = 32

var (
	ErrInvalidLength = errors.New("hashlock: value must be 32 bytes")
	ErrInvalidHex    = errors.New("hashlock: invalid hex encoding")
)

// Secret is the preimage a maker keeps private until both escrows are funded.
type Secret [Size]byte

// Hashlock is the SHA-256 commitment to a Secret shared by both escrows of a swap.
type Hashlock [Size]byte

// GenerateSecret draws a fresh secret from the operating system's CSPRNG.
func GenerateSecret() (Secret, error) {
	var s Secret
	if _, err := rand.Read(s[:]); err != nil {
		return Secret{}, fmt.Errorf("failed to read random secret: %w", err)
	}
	return s, nil
}

// Commit returns the hashlock for s.
func Commit(s Secret) Hashlock {
	return Hashlock(sha256.Sum256(s[:]))
}

// Verify reports whether s opens h. A mismatch is an ordinary negative result.
func Verify(s Secret, h Hashlock) bool {
	c := Commit(s)
	return subtle.ConstantTimeCompare(c[:], h[:]) == 1
}

// Hex returns the 0x-prefixed encoding of the secret. Callers must treat the
// result as sensitive.
func (s Secret) Hex() string { return "0x" + hex.EncodeToString(s[:]) }

// String never reveals the secret so it is safe in logs and fmt verbs.
func (s Secret) String() string { return "[REDACTED]" }

// IsZero reports whether the secret is unset.
func (s Secret) IsZero() bool { return s == Secret{} }

func (s Secret) MarshalText() ([]byte, error) { return []byte(s.Hex()), nil }

func (s *Secret) UnmarshalText(text []byte) error {
	b, err := decode(string(text))
	if err != nil {
		return err
	}
	copy(s[:], b)
	return nil
}

func (h Hashlock) Hex() string    { return "0x" + hex.EncodeToString(h[:]) }
func (h Hashlock) String() string { return h.Hex() }
func (h Hashlock) IsZero() bool   { return h == Hashlock{} }

func (h Hashlock) MarshalText() ([]byte, error) { return []byte(h.Hex()), nil }

func (h *Hashlock) UnmarshalText(text []byte) error {
	b, err := decode(string(text))
	if err != nil {
		return err
	}
	copy(h[:], b)
	return nil
}

// ParseSecret decodes a hex secret with or without the 0x prefix.
func ParseSecret(s string) (Secret, error) {
	var out Secret
	err := out.UnmarshalText([]byte(s))
	return out, err
}

// ParseHashlock decodes a hex hashlock with or without the 0x prefix.
func ParseHashlock(s string) (Hashlock, error) {
	var out Hashlock
	err := out.UnmarshalText([]byte(s))
	return out, err
}

func decode(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(s), "0x"), "0X")
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidHex, err)
	}
	if len(b) != Size {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidLength, len(b))
	}
	return b, nil
}
