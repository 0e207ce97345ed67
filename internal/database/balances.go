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

package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ronakgupta11/cardano-swap/internal/models"
)

// GetBalance returns the journal balance of an account for an asset
func (s *SubledgerService) GetBalance(ctx context.Context, account, asset string) (decimal.Decimal, error) {
	var balanceStr string
	err := s.db.QueryRowContext(ctx, queryGetBalance, account, asset).Scan(&balanceStr)
	if err == sql.ErrNoRows {
		// No balance record means zero balance
		return decimal.Zero, nil
	}
	if err != nil {
		zap.L().Error("Failed to get balance", zap.String("account", account), zap.String("asset", asset), zap.Error(err))
		return decimal.Zero, fmt.Errorf("failed to get balance: %w", err)
	}

	balance, err := decimal.NewFromString(balanceStr)
	if err != nil {
		zap.L().Error("Failed to parse balance", zap.String("balance_str", balanceStr), zap.Error(err))
		return decimal.Zero, fmt.Errorf("failed to parse balance: %w", err)
	}

	zap.L().Debug("Retrieved balance", zap.String("account", account), zap.String("asset", asset), zap.String("balance", balance.String()))
	return balance, nil
}

// GetAllBalances returns all non-zero balances of an account
func (s *SubledgerService) GetAllBalances(ctx context.Context, account string) ([]models.AccountBalance, error) {
	zap.L().Debug("Getting all balances", zap.String("account", account))

	rows, err := s.db.QueryContext(ctx, queryGetAllAccountBalances, account)
	if err != nil {
		zap.L().Error("Failed to get all balances", zap.String("account", account), zap.Error(err))
		return nil, fmt.Errorf("failed to get all balances: %w", err)
	}
	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			zap.L().Warn("Failed to close rows", zap.Error(err))
		}
	}(rows)

	var balances []models.AccountBalance
	for rows.Next() {
		var balance models.AccountBalance
		var balanceStr string
		err := rows.Scan(&balance.Id, &balance.Account, &balance.Asset, &balanceStr,
			&balance.LastTransactionId, &balance.Version, &balance.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan balance: %w", err)
		}

		balance.Balance, err = decimal.NewFromString(balanceStr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse balance '%s': %w", balanceStr, err)
		}

		balances = append(balances, balance)
	}

	// Check for errors during iteration
	if err := rows.Err(); err != nil {
		zap.L().Error("Error during balance row iteration", zap.Error(err))
		return nil, fmt.Errorf("error iterating balance rows: %w", err)
	}

	zap.L().Debug("Retrieved all balances", zap.String("account", account), zap.Int("count", len(balances)))
	return balances, nil
}

// ReconcileBalance verifies that current balance matches sum of all legs
func (s *SubledgerService) ReconcileBalance(ctx context.Context, account, asset string) error {
	zap.L().Info("Reconciling balance", zap.String("account", account), zap.String("asset", asset))

	currentBalance, err := s.GetBalance(ctx, account, asset)
	if err != nil {
		return fmt.Errorf("failed to get current balance: %w", err)
	}

	// Amounts are stored as text to keep base units exact, so sum in Go
	rows, err := s.db.QueryContext(ctx, queryReconcileAmounts, account, asset)
	if err != nil {
		return fmt.Errorf("failed to load transactions: %w", err)
	}
	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			zap.L().Warn("Failed to close rows", zap.Error(err))
		}
	}(rows)

	calculatedBalance := decimal.Zero
	for rows.Next() {
		var amountStr string
		if err := rows.Scan(&amountStr); err != nil {
			return fmt.Errorf("failed to scan amount: %w", err)
		}
		amount, err := decimal.NewFromString(amountStr)
		if err != nil {
			return fmt.Errorf("failed to parse amount '%s': %w", amountStr, err)
		}
		calculatedBalance = calculatedBalance.Add(amount)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating transaction rows: %w", err)
	}

	if !currentBalance.Equal(calculatedBalance) {
		zap.L().Error("Balance reconciliation failed",
			zap.String("account", account),
			zap.String("asset", asset),
			zap.String("current_balance", currentBalance.String()),
			zap.String("calculated_balance", calculatedBalance.String()),
			zap.String("difference", currentBalance.Sub(calculatedBalance).String()))
		return fmt.Errorf("balance mismatch: current=%s, calculated=%s", currentBalance.String(), calculatedBalance.String())
	}

	zap.L().Info("Balance reconciliation successful",
		zap.String("account", account),
		zap.String("asset", asset),
		zap.String("balance", currentBalance.String()))
	return nil
}
