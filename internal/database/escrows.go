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
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ronakgupta11/cardano-swap/internal/models"
)

func (s *Service) UpsertEscrow(ctx context.Context, rec models.EscrowRecord) error {
	recordJson, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("error encoding escrow: %w", err)
	}
	_, err = s.db.ExecContext(ctx, queryUpsertEscrow,
		rec.Ledger, rec.ID, rec.OrderHash, int(rec.Side), rec.Hashlock.Hex(), rec.State.String(),
		string(recordJson), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("error saving escrow: %w", err)
	}
	return nil
}

// GetEscrows returns the known escrows of an order, source side first.
func (s *Service) GetEscrows(ctx context.Context, orderHash string) ([]models.EscrowRecord, error) {
	rows, err := s.db.QueryContext(ctx, queryGetEscrows, orderHash)
	if err != nil {
		return nil, fmt.Errorf("error querying escrows: %w", err)
	}
	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			zap.L().Warn("Failed to close rows", zap.Error(err))
		}
	}(rows)

	var escrows []models.EscrowRecord
	for rows.Next() {
		var recordJson string
		if err := rows.Scan(&recordJson); err != nil {
			return nil, fmt.Errorf("error scanning escrow: %w", err)
		}
		var rec models.EscrowRecord
		if err := json.Unmarshal([]byte(recordJson), &rec); err != nil {
			return nil, fmt.Errorf("error decoding escrow: %w", err)
		}
		escrows = append(escrows, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating escrows: %w", err)
	}
	return escrows, nil
}
