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
	"math/big"
	"strings"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	"github.com/ronakgupta11/cardano-swap/internal/common"
	"github.com/ronakgupta11/cardano-swap/internal/config"
	"github.com/ronakgupta11/cardano-swap/internal/evm"
	"github.com/ronakgupta11/cardano-swap/internal/models"
	"github.com/ronakgupta11/cardano-swap/internal/order"
)

// buildTerms lays out the immutables of one side of the swap the same way
// the ledger does when it instantiates the escrow.
func buildTerms(rec models.OrderRecord, side models.Side, resolver models.Identity, cascade models.Cascade) (models.EscrowRecord, error) {
	o := rec.Order
	terms := models.EscrowRecord{
		Side:      side,
		OrderHash: rec.Hash.Hex(),
		Hashlock:  o.Hashlock,
		Maker:     order.Identity(o.Maker),
		Resolver:  resolver,
		Cascade:   cascade,
	}
	var asset models.Asset
	switch side {
	case models.SideSource:
		terms.Ledger = o.SrcLedger
		asset = o.SrcAsset
		terms.Amount = new(big.Int).Set(o.SrcAmount)
		terms.SafetyDeposit = new(big.Int).Set(o.SrcSafetyDeposit)
	case models.SideDestination:
		terms.Ledger = o.DstLedger
		terms.Receiver = o.Receiver
		asset = o.DstAsset
		terms.Amount = new(big.Int).Set(o.DstAmount)
		terms.SafetyDeposit = new(big.Int).Set(o.DstSafetyDeposit)
	default:
		return models.EscrowRecord{}, fmt.Errorf("unknown side %v", side)
	}
	normalized, err := evm.NormalizeAsset(asset)
	if err != nil {
		return models.EscrowRecord{}, err
	}
	terms.Asset = normalized
	return terms, nil
}

func factoryFor(ledger models.LedgerConfig) (evm.Factory, error) {
	if ledger.Kind != models.LedgerAccount {
		return evm.Factory{}, fmt.Errorf("ledger %q holds %s value, escrow addresses are derived on account ledgers only", ledger.Name, ledger.Kind)
	}
	if !ethcommon.IsHexAddress(ledger.Factory) {
		return evm.Factory{}, fmt.Errorf("ledger %q has no factory address", ledger.Name)
	}
	if ledger.InitCodeHash == "" {
		return evm.Factory{}, fmt.Errorf("ledger %q has no init code hash", ledger.Name)
	}
	return evm.Factory{
		Address:      ethcommon.HexToAddress(ledger.Factory),
		InitCodeHash: ethcommon.HexToHash(ledger.InitCodeHash),
	}, nil
}

func fetchBalance(ctx context.Context, rpcURL string, addr ethcommon.Address) (*big.Int, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", rpcURL, err)
	}
	defer client.Close()

	return client.BalanceAt(ctx, addr, nil)
}

func main() {
	ctx := context.Background()

	orderFlag := flag.String("order", "", "Order hash (required)")
	sideFlag := flag.String("side", "source", "Escrow side: source or destination")
	resolverFlag := flag.String("resolver", "", "Resolver address (defaults to the order's taker)")
	startFlag := flag.String("start", "", "Escrow creation time, RFC3339 (defaults to now)")
	topologyFlag := flag.String("topology", "", "Topology file (defaults to TOPOLOGY_FILE)")
	offline := flag.Bool("offline", false, "Skip the on-chain balance lookup")
	flag.Parse()

	if *orderFlag == "" {
		fmt.Println("Usage: escrowaddr -order <hash> [-side source|destination] [-resolver 0x..] [-start RFC3339]")
		return
	}

	cfg, err := config.Load()
	if err != nil {
		_, _ = zap.NewProduction()
		zap.L().Fatal("Failed to load config", zap.Error(err))
	}

	logger, loggerCleanup := common.InitializeLogger(cfg.Log)
	defer loggerCleanup()

	topologyPath := cfg.Coordinator.TopologyFile
	if *topologyFlag != "" {
		topologyPath = *topologyFlag
	}
	topo, err := config.LoadTopology(topologyPath)
	if err != nil {
		logger.Fatal("Failed to load topology", zap.String("path", topologyPath), zap.Error(err))
	}
	assets, err := config.LoadAssets(cfg.Coordinator.AssetsFile)
	if err != nil {
		logger.Debug("No asset registry", zap.Error(err))
		assets = &models.AssetRegistry{}
	}

	side, err := models.ParseSide(*sideFlag)
	if err != nil {
		logger.Fatal("Invalid side", zap.Error(err))
	}

	start := time.Now().UTC()
	if *startFlag != "" {
		if start, err = time.Parse(time.RFC3339, *startFlag); err != nil {
			logger.Fatal("Invalid start time", zap.String("start", *startFlag), zap.Error(err))
		}
	}

	dbService, err := common.InitializeDatabaseOnly(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer dbService.Close()

	rec, err := dbService.GetOrder(ctx, strings.ToLower(*orderFlag))
	if err != nil {
		logger.Fatal("Order not found", zap.String("order_hash", *orderFlag), zap.Error(err))
	}

	resolver := models.Identity(*resolverFlag)
	if resolver == "" {
		resolver = rec.Resolver
	}
	if _, err := evm.ParseAddress(resolver); err != nil {
		logger.Fatal("A resolver address is required once the order is untaken", zap.Error(err))
	}

	terms, err := buildTerms(*rec, side, resolver, topo.Cascade.Build(start))
	if err != nil {
		logger.Fatal("Failed to build escrow terms", zap.Error(err))
	}

	ledger, ok := topo.Ledger(terms.Ledger)
	if !ok {
		logger.Fatal("Ledger not in topology", zap.String("ledger", terms.Ledger))
	}
	factory, err := factoryFor(ledger)
	if err != nil {
		logger.Fatal("Cannot derive escrow address", zap.Error(err))
	}
	salt, err := evm.ImmutablesHash(terms)
	if err != nil {
		logger.Fatal("Failed to hash immutables", zap.Error(err))
	}
	addr, err := factory.AddressOf(terms)
	if err != nil {
		logger.Fatal("Failed to derive escrow address", zap.Error(err))
	}

	common.PrintHeader("ESCROW ADDRESS", common.DefaultWidth)
	fmt.Printf("Order:      %s\n", rec.Hash.Hex())
	fmt.Printf("Side:       %s on %s\n", terms.Side, terms.Ledger)
	fmt.Printf("Factory:    %s\n", factory.Address.Hex())
	fmt.Printf("Salt:       %s\n", salt.Hex())
	fmt.Printf("Amount:     %s\n", common.FormatAmount(assets, terms.Ledger, terms.Asset, terms.Amount))
	fmt.Printf("Deposit:    %s\n", common.FormatAmount(assets, terms.Ledger, models.NativeAsset, terms.SafetyDeposit))
	fmt.Printf("Cascade:    exclusive %s, cancel %s, public %s\n",
		terms.Cascade.ResolverExclusive.Format(time.RFC3339),
		terms.Cascade.ResolverCancel.Format(time.RFC3339),
		terms.Cascade.Public.Format(time.RFC3339))
	fmt.Printf("Address:    %s\n", addr.Hex())

	footer := "Pre-fund the address with exactly the safety deposit before creating the escrow"
	if !*offline && ledger.RPCURL != "" {
		held, err := fetchBalance(ctx, ledger.RPCURL, addr)
		if err != nil {
			logger.Warn("Balance lookup failed", zap.String("rpc_url", ledger.RPCURL), zap.Error(err))
		} else {
			fmt.Printf("Holds:      %s\n", common.FormatAmount(assets, terms.Ledger, models.NativeAsset, held))
			switch held.Cmp(terms.SafetyDeposit) {
			case 0:
				footer = "Address is pre-funded with the safety deposit"
			case 1:
				footer = "Address holds more than the safety deposit, creation will be rejected"
			default:
				footer = "Address is not yet pre-funded"
			}
		}
	}
	common.PrintFooter(footer, common.DefaultWidth)
}
