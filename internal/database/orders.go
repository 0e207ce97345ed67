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
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/ronakgupta11/cardano-swap/internal/models"
	"github.com/ronakgupta11/cardano-swap/internal/store"
)

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Service) SaveOrder(ctx context.Context, rec models.OrderRecord) error {
	orderJson, err := json.Marshal(rec.SignedOrder)
	if err != nil {
		return fmt.Errorf("error encoding order: %w", err)
	}

	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.Status == "" {
		rec.Status = models.StatusPending
	}
	if rec.Version == 0 {
		rec.Version = 1
	}

	o := rec.Order
	_, err = s.db.ExecContext(ctx, queryInsertOrder,
		rec.Hash.Hex(), o.Maker.Hex(), o.SrcLedger, o.DstLedger, o.Hashlock.Hex(), string(orderJson),
		string(rec.Status), rec.Reason, string(rec.Resolver), rec.Version, rec.CreatedAt.UTC(), now)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
			return fmt.Errorf("%w: order %s already submitted", store.ErrDuplicateTransaction, rec.Hash.Hex())
		}
		return fmt.Errorf("error inserting order: %w", err)
	}

	zap.L().Info("Order saved",
		zap.String("order_hash", rec.Hash.Hex()),
		zap.String("src_ledger", o.SrcLedger),
		zap.String("dst_ledger", o.DstLedger))
	return nil
}

func (s *Service) GetOrder(ctx context.Context, orderHash string) (*models.OrderRecord, error) {
	rec, err := scanOrder(s.db.QueryRowContext(ctx, queryGetOrder, orderHash))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: order %s", store.ErrNotFound, orderHash)
	}
	if err != nil {
		return nil, fmt.Errorf("error getting order: %w", err)
	}
	return rec, nil
}

func (s *Service) ListOrders(ctx context.Context, params store.ListOrdersParams) ([]models.OrderRecord, error) {
	limit := params.Limit
	if limit <= 0 {
		limit = 100
	}
	offset := params.Offset
	if offset < 0 {
		offset = 0
	}
	status := string(params.Status)
	return s.queryOrders(ctx, queryListOrders, status, status, limit, offset)
}

func (s *Service) ActiveOrders(ctx context.Context) ([]models.OrderRecord, error) {
	return s.queryOrders(ctx, queryActiveOrders)
}

func (s *Service) queryOrders(ctx context.Context, query string, args ...any) ([]models.OrderRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error querying orders: %w", err)
	}
	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			zap.L().Warn("Failed to close rows", zap.Error(err))
		}
	}(rows)

	var orders []models.OrderRecord
	for rows.Next() {
		rec, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning order: %w", err)
		}
		orders = append(orders, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating orders: %w", err)
	}
	return orders, nil
}

func scanOrder(row rowScanner) (*models.OrderRecord, error) {
	var (
		rec         models.OrderRecord
		orderHash   string
		orderJson   string
		status      string
		resolver    string
		disclosedAt sql.NullTime
	)
	if err := row.Scan(&orderHash, &orderJson, &status, &rec.Reason, &resolver, &disclosedAt,
		&rec.Version, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(orderJson), &rec.SignedOrder); err != nil {
		return nil, fmt.Errorf("error decoding order %s: %w", orderHash, err)
	}
	rec.Status = models.SwapStatus(status)
	rec.Resolver = models.Identity(resolver)
	if disclosedAt.Valid {
		at := disclosedAt.Time.UTC()
		rec.DisclosedAt = &at
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	return &rec, nil
}

// TakeOrder is idempotent for the resolver that already holds the order.
func (s *Service) TakeOrder(ctx context.Context, orderHash string, resolver models.Identity) error {
	if resolver == "" {
		return fmt.Errorf("resolver cannot be empty")
	}
	result, err := s.db.ExecContext(ctx, queryTakeOrder, string(resolver), time.Now().UTC(), orderHash, string(resolver))
	if err != nil {
		return fmt.Errorf("error taking order: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		if _, err := s.GetOrder(ctx, orderHash); err != nil {
			return err
		}
		return fmt.Errorf("%w: %s", store.ErrOrderTaken, orderHash)
	}

	zap.L().Info("Order taken",
		zap.String("order_hash", orderHash),
		zap.String("resolver", string(resolver)))
	return nil
}

func (s *Service) UpdateStatus(ctx context.Context, update store.StatusUpdate) error {
	result, err := s.db.ExecContext(ctx, queryUpdateOrderStatus,
		string(update.Status), update.Reason, time.Now().UTC(), update.OrderHash, update.Version)
	if err != nil {
		return fmt.Errorf("error updating order status: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		if _, err := s.GetOrder(ctx, update.OrderHash); err != nil {
			return err
		}
		return fmt.Errorf("status update failed - %w", store.ErrConcurrentModification)
	}

	zap.L().Info("Order status updated",
		zap.String("order_hash", update.OrderHash),
		zap.String("status", string(update.Status)),
		zap.String("reason", update.Reason))
	return nil
}

// MarkDisclosed keeps the first disclosure time.
func (s *Service) MarkDisclosed(ctx context.Context, orderHash string, at time.Time) error {
	result, err := s.db.ExecContext(ctx, queryMarkDisclosed, at.UTC(), time.Now().UTC(), orderHash)
	if err != nil {
		return fmt.Errorf("error marking order disclosed: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: order %s", store.ErrNotFound, orderHash)
	}
	return nil
}

// PurgeFinal removes final orders and their escrow snapshots. Journal
// entries are kept.
func (s *Service) PurgeFinal(ctx context.Context, cutoff time.Time) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	cutoff = cutoff.UTC()
	if _, err := tx.ExecContext(ctx, queryPurgeEscrows, cutoff); err != nil {
		return 0, fmt.Errorf("error purging escrows: %w", err)
	}
	result, err := tx.ExecContext(ctx, queryPurgeOrders, cutoff)
	if err != nil {
		return 0, fmt.Errorf("error purging orders: %w", err)
	}
	purged, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to check rows affected: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	if purged > 0 {
		zap.L().Info("Purged final orders", zap.Int64("count", purged))
	}
	return purged, nil
}
