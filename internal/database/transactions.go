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
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ronakgupta11/cardano-swap/internal/models"
)

// ProcessTransactionParams contains the parameters for one journal leg
type ProcessTransactionParams struct {
	Account   string
	Asset     string
	EntryType string
	Amount    decimal.Decimal
	Reference string
	EscrowId  string
	OrderHash string
	Memo      string
}

// ProcessTransaction atomically updates one balance and records the leg
func (s *SubledgerService) ProcessTransaction(ctx context.Context, params ProcessTransactionParams) (*models.JournalTransaction, error) {
	legs, err := s.ProcessBatch(ctx, params.Reference, []ProcessTransactionParams{params})
	if err != nil {
		return nil, err
	}
	return &legs[0], nil
}

// ProcessBatch applies every leg in one database transaction. A non-empty
// reference that was already recorded fails the whole batch with
// ErrDuplicateTransaction.
func (s *SubledgerService) ProcessBatch(ctx context.Context, reference string, legs []ProcessTransactionParams) ([]models.JournalTransaction, error) {
	zap.L().Info("Processing journal batch",
		zap.String("reference", reference),
		zap.Int("legs", len(legs)))

	// Check for duplicate reference
	if reference != "" {
		var existingTxId string
		err := s.db.QueryRowContext(ctx, queryCheckDuplicateTransaction, reference).Scan(&existingTxId)
		if err == nil {
			zap.L().Warn("Duplicate journal reference detected, skipping",
				zap.String("reference", reference),
				zap.String("existing_internal_tx_id", existingTxId))
			return nil, fmt.Errorf("%w: reference %s already exists", ErrDuplicateTransaction, reference)
		} else if err != sql.ErrNoRows {
			return nil, fmt.Errorf("failed to check for duplicate transaction: %w", err)
		}
	}

	// Start database transaction for atomicity
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	out := make([]models.JournalTransaction, 0, len(legs))
	for _, leg := range legs {
		leg.Reference = reference
		transaction, err := s.applyLeg(ctx, tx, leg, now)
		if err != nil {
			return nil, err
		}
		out = append(out, *transaction)
	}

	// Commit transaction
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	zap.L().Info("Journal batch processed successfully",
		zap.String("reference", reference),
		zap.Int("legs", len(out)))

	return out, nil
}

func (s *SubledgerService) applyLeg(ctx context.Context, tx *sql.Tx, params ProcessTransactionParams, now time.Time) (*models.JournalTransaction, error) {
	// Get current balance
	var currentBalanceStr string
	var accountId string
	var version int64

	err := tx.QueryRowContext(ctx, queryGetAccountBalance, params.Account, params.Asset).Scan(&accountId, &currentBalanceStr, &version)

	var currentBalance decimal.Decimal
	if err == sql.ErrNoRows {
		accountId = uuid.New().String()
		currentBalance = decimal.Zero
		version = 1

		_, err = tx.ExecContext(ctx, queryInsertAccountBalance, accountId, params.Account, params.Asset, "0", 1)
		if err != nil {
			return nil, fmt.Errorf("failed to create account balance: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("failed to get current balance: %w", err)
	} else {
		currentBalance, err = decimal.NewFromString(currentBalanceStr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse current balance '%s': %w", currentBalanceStr, err)
		}
	}

	newBalance := currentBalance.Add(params.Amount)

	transactionId := uuid.New().String()
	transaction := &models.JournalTransaction{}

	var amountStr, balanceBeforeStr, balanceAfterStr string
	err = tx.QueryRowContext(ctx, queryInsertTransaction,
		transactionId, params.Account, params.Asset, params.EntryType,
		params.Amount.String(), currentBalance.String(), newBalance.String(),
		params.Reference, params.EscrowId, params.OrderHash, params.Memo, now).
		Scan(&transaction.Id, &transaction.Account, &transaction.Asset, &transaction.EntryType,
			&amountStr, &balanceBeforeStr, &balanceAfterStr,
			&transaction.Reference, &transaction.EscrowId, &transaction.OrderHash,
			&transaction.Memo, &transaction.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert transaction: %w", err)
	}

	if err := parseAmounts(transaction, amountStr, balanceBeforeStr, balanceAfterStr); err != nil {
		return nil, err
	}

	// Update account balance (with optimistic locking)
	result, err := tx.ExecContext(ctx, queryUpdateAccountBalance, newBalance.String(), transactionId, params.Account, params.Asset, version)
	if err != nil {
		return nil, fmt.Errorf("failed to update balance: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return nil, fmt.Errorf("balance update failed - %w", ErrConcurrentModification)
	}

	if err := s.addJournalEntries(ctx, tx, transaction); err != nil {
		return nil, fmt.Errorf("failed to add journal entries: %w", err)
	}

	zap.L().Debug("Journal leg applied",
		zap.String("transaction_id", transactionId),
		zap.String("account", params.Account),
		zap.String("asset", params.Asset),
		zap.String("old_balance", currentBalance.String()),
		zap.String("new_balance", newBalance.String()))

	return transaction, nil
}

// addJournalEntries debits the account on an increase and credits it on a
// decrease.
func (s *SubledgerService) addJournalEntries(ctx context.Context, tx *sql.Tx, transaction *models.JournalTransaction) error {
	accountType, _, _ := strings.Cut(transaction.Account, ":")

	debit, credit := decimal.Zero, decimal.Zero
	if transaction.Amount.IsNegative() {
		credit = transaction.Amount.Neg()
	} else {
		debit = transaction.Amount
	}

	_, err := tx.ExecContext(ctx, queryInsertJournalEntry,
		uuid.New().String(), transaction.Id, accountType, transaction.Account, debit.String(), credit.String())
	return err
}

// GetEscrowTransactions returns every journal leg recorded for an escrow
func (s *SubledgerService) GetEscrowTransactions(ctx context.Context, escrowId string) ([]models.JournalTransaction, error) {
	zap.L().Debug("Getting escrow journal", zap.String("escrow_id", escrowId))

	rows, err := s.db.QueryContext(ctx, queryGetEscrowTransactions, escrowId)
	if err != nil {
		return nil, fmt.Errorf("failed to get escrow journal: %w", err)
	}
	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			zap.L().Warn("Failed to close rows", zap.Error(err))
		}
	}(rows)

	var transactions []models.JournalTransaction
	for rows.Next() {
		var tx models.JournalTransaction
		var amountStr, balanceBeforeStr, balanceAfterStr string
		err := rows.Scan(&tx.Id, &tx.Account, &tx.Asset, &tx.EntryType,
			&amountStr, &balanceBeforeStr, &balanceAfterStr,
			&tx.Reference, &tx.EscrowId, &tx.OrderHash, &tx.Memo, &tx.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		if err := parseAmounts(&tx, amountStr, balanceBeforeStr, balanceAfterStr); err != nil {
			return nil, err
		}
		transactions = append(transactions, tx)
	}

	// Check for errors during iteration
	if err := rows.Err(); err != nil {
		zap.L().Error("Error during transaction row iteration", zap.Error(err))
		return nil, fmt.Errorf("error iterating transaction rows: %w", err)
	}

	return transactions, nil
}

func parseAmounts(tx *models.JournalTransaction, amount, before, after string) error {
	var err error
	tx.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return fmt.Errorf("failed to parse amount '%s': %w", amount, err)
	}
	tx.BalanceBefore, err = decimal.NewFromString(before)
	if err != nil {
		return fmt.Errorf("failed to parse balance before '%s': %w", before, err)
	}
	tx.BalanceAfter, err = decimal.NewFromString(after)
	if err != nil {
		return fmt.Errorf("failed to parse balance after '%s': %w", after, err)
	}
	return nil
}
