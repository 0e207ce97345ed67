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

package common

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ronakgupta11/cardano-swap/internal/models"
)

const DefaultWidth = 80

func PrintSeparator(char string, width int) {
	fmt.Println(strings.Repeat(char, width))
}

// PrintHeader prints a formatted header with title and separators
func PrintHeader(title string, width int) {
	fmt.Println("\n" + strings.Repeat("=", width))
	fmt.Println(title)
	PrintSeparator("=", width)
}

// PrintFooter prints a formatted footer with message and separators
func PrintFooter(message string, width int) {
	fmt.Println("\n" + strings.Repeat("=", width))
	fmt.Println(message)
	fmt.Println(strings.Repeat("=", width) + "\n")
}

// PrintBoxSeparator prints a box-drawing separator line (for sub-sections)
func PrintBoxSeparator(width int) {
	fmt.Println("├" + strings.Repeat("─", width))
}

// BoxPrefix returns the appropriate box-drawing prefix for list items
func BoxPrefix(isLast bool) string {
	if isLast {
		return "└  "
	}
	return "├  "
}

// BoxDetailPrefix returns the prefix for detail lines under list items
func BoxDetailPrefix(isLast bool) string {
	if isLast {
		return "   "
	}
	return "│  "
}

// FormatAmount renders base units through the asset registry, e.g.
// "1.5 USDC". Unknown assets print as raw integers.
func FormatAmount(reg *models.AssetRegistry, ledger string, asset models.Asset, amount *big.Int) string {
	if amount == nil {
		amount = new(big.Int)
	}
	return reg.Human(ledger, asset, decimal.NewFromBigInt(amount, 0))
}

// FormatValue renders every asset of v on ledger, joined by " + ".
func FormatValue(reg *models.AssetRegistry, ledger string, v models.Value) string {
	assets := v.Assets()
	if len(assets) == 0 {
		return "0"
	}
	parts := make([]string, 0, len(assets))
	for _, a := range assets {
		parts = append(parts, FormatAmount(reg, ledger, a, v.Get(a)))
	}
	return strings.Join(parts, " + ")
}

// ShortId abbreviates long hashes and addresses for console tables.
func ShortId(id string) string {
	if len(id) <= 14 {
		return id
	}
	return id[:8] + "…" + id[len(id)-4:]
}

// FormatDeadline prints t in UTC with how far it is from now.
func FormatDeadline(t, now time.Time) string {
	if t.IsZero() {
		return "-"
	}
	d := t.Sub(now).Round(time.Second)
	if d >= 0 {
		return fmt.Sprintf("%s (in %s)", t.UTC().Format(time.RFC3339), d)
	}
	return fmt.Sprintf("%s (%s ago)", t.UTC().Format(time.RFC3339), -d)
}
