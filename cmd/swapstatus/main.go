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

package main

import (
	"context"
	"flag"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ronakgupta11/cardano-swap/internal/common"
	"github.com/ronakgupta11/cardano-swap/internal/config"
	"github.com/ronakgupta11/cardano-swap/internal/database"
	"github.com/ronakgupta11/cardano-swap/internal/models"
	"github.com/ronakgupta11/cardano-swap/internal/store"
)

type reportStats struct {
	orders   int
	escrows  int
	byStatus map[models.SwapStatus]int
}

func printEscrow(reg *models.AssetRegistry, e models.EscrowRecord, now time.Time, isLast bool) {
	prefix := common.BoxPrefix(isLast)
	detail := common.BoxDetailPrefix(isLast)

	fmt.Printf("%s %-11s %-9s %s on %s (%s)\n",
		prefix,
		e.Side,
		e.State,
		common.FormatAmount(reg, e.Ledger, e.Asset, e.Amount),
		e.Ledger,
		common.ShortId(e.ID))
	fmt.Printf("%s   deposit %s, maker %s, resolver %s\n",
		detail,
		common.FormatAmount(reg, e.Ledger, models.NativeAsset, e.SafetyDeposit),
		common.ShortId(string(e.Maker)),
		common.ShortId(string(e.Resolver)))
	if e.State == models.StateFunded {
		fmt.Printf("%s   window %s, cancel %s\n",
			detail,
			e.Cascade.WindowAt(now),
			common.FormatDeadline(e.Cascade.ResolverCancel, now))
	} else if e.State.Terminal() {
		fmt.Printf("%s   %s at %s\n", detail, e.SettledBy, e.SettledAt.UTC().Format(time.RFC3339))
	}
}

func printJournal(ctx context.Context, db *database.Service, reg *models.AssetRegistry, e models.EscrowRecord, isLast bool) error {
	balances, err := db.GetAllBalances(ctx, store.EscrowAccount(e.Ledger, e.ID))
	if err != nil {
		return err
	}
	detail := common.BoxDetailPrefix(isLast)
	for _, b := range balances {
		fmt.Printf("%s   journal %s\n", detail, reg.Human(e.Ledger, models.Asset(b.Asset), b.Balance))
	}
	return nil
}

func processOrder(ctx context.Context, db *database.Service, reg *models.AssetRegistry, rec models.OrderRecord, showJournal bool, now time.Time) (int, error) {
	escrows, err := db.GetEscrows(ctx, rec.Hash.Hex())
	if err != nil {
		return 0, fmt.Errorf("failed to get escrows: %w", err)
	}

	o := rec.Order
	fmt.Printf("\n┌─ Order %s  [%s]\n", rec.Hash.Hex(), rec.Status)
	fmt.Printf("│  %s on %s  ->  %s on %s\n",
		common.FormatAmount(reg, o.SrcLedger, o.SrcAsset, o.SrcAmount), o.SrcLedger,
		common.FormatAmount(reg, o.DstLedger, o.DstAsset, o.DstAmount), o.DstLedger)
	fmt.Printf("│  Maker: %s  Resolver: %s\n", o.Maker.Hex(), orNone(string(rec.Resolver)))
	if rec.Reason != "" {
		fmt.Printf("│  Reason: %s\n", rec.Reason)
	}
	if rec.DisclosedAt != nil {
		fmt.Printf("│  Secret disclosed: %s\n", rec.DisclosedAt.UTC().Format(time.RFC3339))
	}
	common.PrintBoxSeparator(78)

	if len(escrows) == 0 {
		fmt.Printf("└  no escrows observed, order %s\n", common.FormatDeadline(o.Expiration, now))
	}
	for i, e := range escrows {
		isLast := i == len(escrows)-1
		printEscrow(reg, e, now, isLast)
		if showJournal {
			if err := printJournal(ctx, db, reg, e, isLast); err != nil {
				return i, fmt.Errorf("failed to read journal: %w", err)
			}
		}
	}
	return len(escrows), nil
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}

func main() {
	ctx := context.Background()

	orderFlag := flag.String("order", "", "Report a single order hash (optional)")
	statusFlag := flag.String("status", "", "Filter by swap status (optional)")
	limitFlag := flag.Int("limit", 50, "Maximum orders to report")
	journalFlag := flag.Bool("journal", false, "Show journal balances per escrow")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		_, _ = zap.NewProduction()
		zap.L().Fatal("Failed to load config", zap.Error(err))
	}

	logger, loggerCleanup := common.InitializeLogger(cfg.Log)
	defer loggerCleanup()

	assets, err := config.LoadAssets(cfg.Coordinator.AssetsFile)
	if err != nil {
		logger.Debug("No asset registry", zap.Error(err))
		assets = &models.AssetRegistry{}
	}

	logger.Info("Connecting to database", zap.String("path", cfg.Database.Path))
	dbService, err := common.InitializeDatabaseOnly(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer dbService.Close()

	var orders []models.OrderRecord
	if *orderFlag != "" {
		rec, err := dbService.GetOrder(ctx, strings.ToLower(*orderFlag))
		if err != nil {
			logger.Fatal("Order not found", zap.String("order_hash", *orderFlag), zap.Error(err))
		}
		orders = append(orders, *rec)
	} else {
		params := store.ListOrdersParams{Limit: *limitFlag}
		if *statusFlag != "" {
			if params.Status, err = models.ParseSwapStatus(*statusFlag); err != nil {
				logger.Fatal("Invalid status filter", zap.Error(err))
			}
		}
		if orders, err = dbService.ListOrders(ctx, params); err != nil {
			logger.Fatal("Failed to list orders", zap.Error(err))
		}
	}

	common.PrintHeader("SWAP STATUS REPORT", common.DefaultWidth)

	now := time.Now().UTC()
	stats := reportStats{byStatus: make(map[models.SwapStatus]int)}
	for _, rec := range orders {
		n, err := processOrder(ctx, dbService, assets, rec, *journalFlag, now)
		if err != nil {
			logger.Error("Failed to report order",
				zap.String("order_hash", rec.Hash.Hex()),
				zap.Error(err))
		}
		stats.orders++
		stats.escrows += n
		stats.byStatus[rec.Status]++
	}

	summary := fmt.Sprintf("SUMMARY: %d orders, %d escrows observed", stats.orders, stats.escrows)
	for _, st := range []models.SwapStatus{models.StatusPending, models.StatusDepositing, models.StatusWithdrawing,
		models.StatusCompleted, models.StatusFailed, models.StatusExpired, models.StatusCancelled} {
		if n := stats.byStatus[st]; n > 0 {
			summary += fmt.Sprintf(", %d %s", n, st)
		}
	}
	common.PrintFooter(summary, common.DefaultWidth)
}
