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

	"github.com/ronakgupta11/cardano-swap/internal/escrow"
	"github.com/ronakgupta11/cardano-swap/internal/models"
	"github.com/ronakgupta11/cardano-swap/internal/store"

	_ "github.com/mattn/go-sqlite3"
)

// Compile-time check: *Service must satisfy store.Store.
var _ store.Store = (*Service)(nil)

type Service struct {
	db        *sql.DB
	subledger *SubledgerService
}

func NewService(ctx context.Context, cfg models.DatabaseConfig) (*Service, error) {
	// Validate configuration
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path cannot be empty")
	}
	if cfg.MaxOpenConns <= 0 {
		return nil, fmt.Errorf("max open connections must be positive, got %d", cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns < 0 {
		return nil, fmt.Errorf("max idle connections cannot be negative, got %d", cfg.MaxIdleConns)
	}
	if cfg.PingTimeout <= 0 {
		return nil, fmt.Errorf("ping timeout must be positive, got %v", cfg.PingTimeout)
	}

	zap.L().Info("Opening SQLite database", zap.String("file", cfg.Path))
	db, err := sql.Open("sqlite3", cfg.Path+"?_journal_mode=WAL&_synchronous=NORMAL&_cache_size=1000")
	if err != nil {
		return nil, fmt.Errorf("unable to open database: %w", err)
	}

	// Set connection timeouts and limits
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	// Test connection with timeout
	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		if cerr := db.Close(); cerr != nil {
			return nil, cerr
		}
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	service, err := newService(db)
	if err != nil {
		if cerr := db.Close(); cerr != nil {
			return nil, cerr
		}
		return nil, err
	}

	zap.L().Info("Database service initialized successfully")
	return service, nil
}

func newService(db *sql.DB) (*Service, error) {
	subledger := NewSubledgerService(db)
	service := &Service{db: db, subledger: subledger}
	if err := service.initSchema(); err != nil {
		return nil, fmt.Errorf("unable to initialize schema: %w", err)
	}
	if err := subledger.InitSchema(); err != nil {
		return nil, fmt.Errorf("unable to initialize subledger schema: %w", err)
	}
	return service, nil
}

func (s *Service) Close() {
	if err := s.db.Close(); err != nil {
		zap.L().Warn("Failed to close database connection", zap.Error(err))
	}
}

func (s *Service) initSchema() error {
	schema := `
	-- Signed orders and their swap status
	CREATE TABLE IF NOT EXISTS orders (
		order_hash TEXT PRIMARY KEY,
		maker TEXT NOT NULL,
		src_ledger TEXT NOT NULL,
		dst_ledger TEXT NOT NULL,
		hashlock TEXT NOT NULL,
		order_json TEXT NOT NULL,
		status TEXT NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		resolver TEXT NOT NULL DEFAULT '',
		disclosed_at TIMESTAMP,
		version INTEGER NOT NULL DEFAULT 1,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status);
	CREATE INDEX IF NOT EXISTS idx_orders_hashlock ON orders(hashlock);
	CREATE INDEX IF NOT EXISTS idx_orders_created_at ON orders(created_at);

	-- Last observed state of each escrow
	CREATE TABLE IF NOT EXISTS escrows (
		ledger TEXT NOT NULL,
		id TEXT NOT NULL,
		order_hash TEXT NOT NULL,
		side INTEGER NOT NULL,
		hashlock TEXT NOT NULL,
		state TEXT NOT NULL,
		record_json TEXT NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		PRIMARY KEY (ledger, id)
	);

	CREATE INDEX IF NOT EXISTS idx_escrows_order_hash ON escrows(order_hash);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Journal methods

func (s *Service) RecordFunding(ctx context.Context, rec models.EscrowRecord) error {
	_, err := s.subledger.ProcessBatch(ctx, store.FundingReference(rec.ID), fundingLegs(rec))
	if err != nil {
		return fmt.Errorf("error recording escrow funding: %w", err)
	}
	return nil
}

func (s *Service) RecordSettlement(ctx context.Context, rec models.EscrowRecord, settlement escrow.Settlement) error {
	_, err := s.subledger.ProcessBatch(ctx, store.SettlementReference(rec.ID, settlement.Action), settlementLegs(rec, settlement))
	if err != nil {
		return fmt.Errorf("error recording escrow settlement: %w", err)
	}
	return nil
}

func (s *Service) GetEntries(ctx context.Context, escrowId string) ([]models.JournalTransaction, error) {
	return s.subledger.GetEscrowTransactions(ctx, escrowId)
}

func (s *Service) GetBalance(ctx context.Context, account, asset string) (decimal.Decimal, error) {
	return s.subledger.GetBalance(ctx, account, asset)
}

func (s *Service) GetAllBalances(ctx context.Context, account string) ([]models.AccountBalance, error) {
	return s.subledger.GetAllBalances(ctx, account)
}

func (s *Service) ReconcileBalance(ctx context.Context, account, asset string) error {
	return s.subledger.ReconcileBalance(ctx, account, asset)
}

// fundingLegs moves the escrowed asset from its depositor and the safety
// deposit from the resolver into the escrow account.
func fundingLegs(rec models.EscrowRecord) []ProcessTransactionParams {
	escrowAccount := store.EscrowAccount(rec.Ledger, rec.ID)
	leg := func(account string, asset models.Asset, amount decimal.Decimal, entryType string) ProcessTransactionParams {
		return ProcessTransactionParams{
			Account:   account,
			Asset:     string(asset),
			EntryType: entryType,
			Amount:    amount,
			EscrowId:  rec.ID,
			OrderHash: rec.OrderHash,
			Memo:      rec.Side.String(),
		}
	}

	amount := decimal.NewFromBigInt(rec.Amount, 0)
	legs := []ProcessTransactionParams{
		leg(store.PartyAccount(rec.Ledger, rec.Depositor()), rec.Asset, amount.Neg(), "escrow_funding"),
		leg(escrowAccount, rec.Asset, amount, "escrow_funding"),
	}
	if rec.SafetyDeposit != nil && rec.SafetyDeposit.Sign() > 0 {
		deposit := decimal.NewFromBigInt(rec.SafetyDeposit, 0)
		legs = append(legs,
			leg(store.PartyAccount(rec.Ledger, rec.Resolver), models.NativeAsset, deposit.Neg(), "safety_deposit"),
			leg(escrowAccount, models.NativeAsset, deposit, "safety_deposit"))
	}
	return legs
}

// settlementLegs pays every payout out of the escrow account.
func settlementLegs(rec models.EscrowRecord, settlement escrow.Settlement) []ProcessTransactionParams {
	escrowAccount := store.EscrowAccount(rec.Ledger, rec.ID)
	legs := make([]ProcessTransactionParams, 0, 2*len(settlement.Payouts))
	for _, p := range settlement.Payouts {
		amount := decimal.NewFromBigInt(p.Amount, 0)
		base := ProcessTransactionParams{
			Asset:     string(p.Asset),
			EntryType: string(settlement.Action),
			EscrowId:  rec.ID,
			OrderHash: rec.OrderHash,
			Memo:      string(p.Kind),
		}
		out, in := base, base
		out.Account, out.Amount = escrowAccount, amount.Neg()
		in.Account, in.Amount = store.PartyAccount(rec.Ledger, p.To), amount
		legs = append(legs, out, in)
	}
	return legs
}
