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
	"crypto/ecdsa"
	"errors"
	"flag"
	"fmt"
	"math/big"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"github.com/ronakgupta11/cardano-swap/internal/api"
	"github.com/ronakgupta11/cardano-swap/internal/common"
	"github.com/ronakgupta11/cardano-swap/internal/config"
	"github.com/ronakgupta11/cardano-swap/internal/coordinator"
	"github.com/ronakgupta11/cardano-swap/internal/database"
	"github.com/ronakgupta11/cardano-swap/internal/escrow"
	"github.com/ronakgupta11/cardano-swap/internal/evm"
	"github.com/ronakgupta11/cardano-swap/internal/feed"
	"github.com/ronakgupta11/cardano-swap/internal/hashlock"
	"github.com/ronakgupta11/cardano-swap/internal/metrics"
	"github.com/ronakgupta11/cardano-swap/internal/models"
	"github.com/ronakgupta11/cardano-swap/internal/order"
	"github.com/ronakgupta11/cardano-swap/internal/relay"
	"github.com/ronakgupta11/cardano-swap/internal/secrets"
	"github.com/ronakgupta11/cardano-swap/internal/utxo"
)

const (
	srcLedger = "sepolia"
	dstLedger = "preprod"
)

var (
	srcToken = models.Asset(ethcommon.HexToAddress("0x000000000000000000000000000000000000aaaa").Hex())

	srcPolicy = models.DefaultCascadePolicy
	dstPolicy = models.CascadePolicy{
		ResolverExclusive: 5 * time.Minute,
		ResolverCancel:    15 * time.Minute,
		Public:            25 * time.Minute,
	}
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// world is one maker, one resolver and both ledgers, with a coordinator
// polling them through the feed endpoints of a local API server.
type world struct {
	clock  *clock
	domain order.Domain
	chain  *evm.Chain
	ledger *utxo.Ledger
	wallet *utxo.Wallet
	orders *api.OrderService
	coord  *coordinator.Coordinator
	hub    *relay.Hub
	relay  *relay.Client
	assets *models.AssetRegistry

	makerKey     *ecdsa.PrivateKey
	resolverKey  *ecdsa.PrivateKey
	makerUtxo    *utxo.Key
	resolverUtxo *utxo.Key
}

func (w *world) maker() models.Identity    { return evm.Identity(ethcrypto.PubkeyToAddress(w.makerKey.PublicKey)) }
func (w *world) resolver() models.Identity { return evm.Identity(ethcrypto.PubkeyToAddress(w.resolverKey.PublicKey)) }

func (w *world) fund() error {
	plenty := new(big.Int).Exp(big.NewInt(10), big.NewInt(21), nil)
	if err := w.chain.Credit(w.maker(), srcToken, plenty); err != nil {
		return err
	}
	if err := w.chain.Credit(w.resolver(), models.NativeAsset, plenty); err != nil {
		return err
	}
	lovelace := big.NewInt(1_000_000_000_000)
	if _, err := w.ledger.Credit(w.makerUtxo.Identity(), models.NewValue(models.NativeAsset, lovelace)); err != nil {
		return err
	}
	_, err := w.ledger.Credit(w.resolverUtxo.Identity(), models.NewValue(models.NativeAsset, lovelace))
	return err
}

// outbound swaps the maker's token on the account ledger for native coin
// on the output ledger.
func (w *world) outbound() models.Order {
	return models.Order{
		Receiver:         w.makerUtxo.Identity(),
		SrcLedger:        srcLedger,
		DstLedger:        dstLedger,
		SrcAsset:         srcToken,
		DstAsset:         models.NativeAsset,
		SrcAmount:        new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil),
		DstAmount:        big.NewInt(250_000_000),
		SrcSafetyDeposit: new(big.Int).Exp(big.NewInt(10), big.NewInt(15), nil),
		DstSafetyDeposit: big.NewInt(2_000_000),
	}
}

// inbound goes the other way: the maker's coin leaves the output ledger
// through a pre-authorized vault and the maker collects on the account
// ledger under its signing address.
func (w *world) inbound() models.Order {
	return models.Order{
		MakerSource:      w.makerUtxo.Identity(),
		SrcLedger:        dstLedger,
		DstLedger:        srcLedger,
		SrcAsset:         models.NativeAsset,
		DstAsset:         models.NativeAsset,
		SrcAmount:        big.NewInt(250_000_000),
		DstAmount:        new(big.Int).Exp(big.NewInt(10), big.NewInt(17), nil),
		SrcSafetyDeposit: big.NewInt(2_000_000),
		DstSafetyDeposit: new(big.Int).Exp(big.NewInt(10), big.NewInt(15), nil),
	}
}

// place completes o with a fresh hashlock, signs it, submits it, hands the
// secret to the coordinator and lets the resolver take it.
func (w *world) place(ctx context.Context, o models.Order) (models.SignedOrder, error) {
	secret, err := hashlock.GenerateSecret()
	if err != nil {
		return models.SignedOrder{}, err
	}
	salt, err := order.NewSalt()
	if err != nil {
		return models.SignedOrder{}, err
	}
	o.Maker = ethcrypto.PubkeyToAddress(w.makerKey.PublicKey)
	o.Hashlock = hashlock.Commit(secret)
	o.Salt = salt
	o.Expiration = w.clock.Now().Add(time.Hour)

	so, err := order.Sign(w.domain, o, w.makerKey)
	if err != nil {
		return models.SignedOrder{}, err
	}

	resp, err := w.orders.SubmitOrder(ctx, *so)
	if err != nil {
		return models.SignedOrder{}, fmt.Errorf("submit: %w", err)
	}
	if err := w.orders.DepositSecret(ctx, resp.OrderHash, secret); err != nil {
		return models.SignedOrder{}, fmt.Errorf("deposit secret: %w", err)
	}
	if _, err := w.orders.TakeOrder(ctx, resp.OrderHash, w.resolver()); err != nil {
		return models.SignedOrder{}, fmt.Errorf("take: %w", err)
	}
	fmt.Printf("Order %s\n", resp.OrderHash)
	return *so, nil
}

// openSource pre-funds the escrow address with the safety deposit and then
// instantiates the source escrow, pulling the maker's asset.
func (w *world) openSource(ctx context.Context, so models.SignedOrder) (*models.EscrowRecord, error) {
	cascade := srcPolicy.Build(w.clock.Now())
	terms, err := w.chain.SourceTerms(so, w.resolver(), cascade)
	if err != nil {
		return nil, err
	}
	addr, err := w.chain.EscrowAddress(terms)
	if err != nil {
		return nil, err
	}
	if err := w.chain.Transfer(ctx, w.resolver(), addr, models.NativeAsset, terms.SafetyDeposit); err != nil {
		return nil, err
	}
	return w.chain.CreateSourceEscrow(ctx, so, w.resolver(), cascade)
}

func (w *world) openDestination(ctx context.Context, so models.SignedOrder, src *models.EscrowRecord) (*models.EscrowRecord, error) {
	o := so.Order
	terms := models.EscrowRecord{
		OrderHash:     so.Hash.Hex(),
		Side:          models.SideDestination,
		Hashlock:      o.Hashlock,
		Maker:         o.Receiver,
		Asset:         o.DstAsset,
		Amount:        o.DstAmount,
		SafetyDeposit: o.DstSafetyDeposit,
		Cascade:       dstPolicy.Build(w.clock.Now()),
	}
	if err := escrow.CheckCrossSide(terms.Cascade, src.Cascade.ResolverCancel); err != nil {
		return nil, err
	}
	return w.wallet.CreateEscrow(ctx, terms, o.Expiration, w.resolverUtxo, utxo.Funding{Key: w.resolverUtxo, Value: terms.Deposited()})
}

// openFromVault has the maker lock its coin in a vault and the resolver
// release it into the source escrow, adding only the safety deposit.
func (w *world) openFromVault(ctx context.Context, so models.SignedOrder) (*models.EscrowRecord, error) {
	o := so.Order
	ref, err := w.wallet.Lock(ctx, w.makerUtxo, o.SrcAsset, o.SrcAmount, o.Expiration)
	if err != nil {
		return nil, fmt.Errorf("lock vault: %w", err)
	}
	fmt.Printf("%smaker locked vault %s\n", common.BoxDetailPrefix(false), common.ShortId(ref.String()))
	terms := models.EscrowRecord{
		OrderHash:     so.Hash.Hex(),
		Hashlock:      o.Hashlock,
		SafetyDeposit: o.SrcSafetyDeposit,
		Cascade:       srcPolicy.Build(w.clock.Now()),
	}
	return w.wallet.CreateFromVault(ctx, w.resolverUtxo, ref, terms)
}

// openOnChain pre-funds and instantiates a destination escrow on the
// account ledger from the resolver's own funds.
func (w *world) openOnChain(ctx context.Context, so models.SignedOrder, src *models.EscrowRecord) (*models.EscrowRecord, error) {
	o := so.Order
	terms := models.EscrowRecord{
		Ledger:        srcLedger,
		OrderHash:     so.Hash.Hex(),
		Side:          models.SideDestination,
		Hashlock:      o.Hashlock,
		Maker:         evm.Identity(o.Maker),
		Resolver:      w.resolver(),
		Asset:         o.DstAsset,
		Amount:        o.DstAmount,
		SafetyDeposit: o.DstSafetyDeposit,
		Cascade:       dstPolicy.Build(w.clock.Now()),
	}
	addr, err := w.chain.EscrowAddress(terms)
	if err != nil {
		return nil, err
	}
	if err := w.chain.Transfer(ctx, w.resolver(), addr, models.NativeAsset, terms.SafetyDeposit); err != nil {
		return nil, err
	}
	return w.chain.CreateDestinationEscrow(ctx, terms, src.Cascade.ResolverCancel)
}

// poll runs one coordinator pass and reports where the swap stands.
func (w *world) poll(ctx context.Context, step string, orderHash string) (*models.SwapView, error) {
	if _, err := w.coord.Sync(ctx); err != nil {
		return nil, err
	}
	view, err := w.orders.GetSwap(ctx, orderHash)
	if err != nil {
		return nil, err
	}
	line := fmt.Sprintf("%-28s %s", step, view.Status)
	if view.Reason != "" {
		line += " (" + view.Reason + ")"
	}
	fmt.Printf("%s%s\n", common.BoxPrefix(false), line)
	return view, nil
}

// awaitSecret is the resolver listening on the relay websocket.
func (w *world) awaitSecret(ctx context.Context, so models.SignedOrder) (hashlock.Secret, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return w.relay.Await(ctx, so.Hash.Hex(), so.Order.Hashlock)
}

func (w *world) happyPath(ctx context.Context) error {
	common.PrintHeader("SWAP: both escrows funded, secret disclosed", common.DefaultWidth)

	so, err := w.place(ctx, w.outbound())
	if err != nil {
		return err
	}
	hash := so.Hash.Hex()

	src, err := w.openSource(ctx, so)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	if _, err := w.poll(ctx, "source escrow funded", hash); err != nil {
		return err
	}

	w.clock.Advance(time.Minute)
	dst, err := w.openDestination(ctx, so, src)
	if err != nil {
		return fmt.Errorf("open destination: %w", err)
	}
	view, err := w.poll(ctx, "destination escrow funded", hash)
	if err != nil {
		return err
	}
	if view.DisclosedAt == nil {
		return errors.New("secret was not disclosed")
	}

	secret, err := w.awaitSecret(ctx, so)
	if err != nil {
		return err
	}

	w.clock.Advance(time.Minute)
	if _, err := w.wallet.Withdraw(ctx, dst.ID, w.resolverUtxo.Identity(), secret); err != nil {
		return fmt.Errorf("withdraw destination: %w", err)
	}
	if _, err := w.chain.Withdraw(ctx, src.ID, w.resolver(), secret); err != nil {
		return fmt.Errorf("withdraw source: %w", err)
	}
	view, err = w.poll(ctx, "both escrows withdrawn", hash)
	if err != nil {
		return err
	}

	received, err := w.ledger.BalanceOf(ctx, w.makerUtxo.Identity(), models.NativeAsset)
	if err != nil {
		return err
	}
	paid, err := w.chain.BalanceOf(ctx, w.resolver(), srcToken)
	if err != nil {
		return err
	}
	fmt.Printf("%smaker received %s on %s\n", common.BoxDetailPrefix(false),
		common.FormatAmount(w.assets, dstLedger, models.NativeAsset, received), dstLedger)
	fmt.Printf("%sresolver received %s on %s\n", common.BoxDetailPrefix(false),
		common.FormatAmount(w.assets, srcLedger, srcToken, paid), srcLedger)

	entries, err := w.orders.GetJournal(ctx, src.ID)
	if err != nil {
		return err
	}
	fmt.Printf("%ssource escrow journal holds %d entries\n", common.BoxPrefix(true), len(entries))

	common.PrintFooter(fmt.Sprintf("RESULT: %s", view.Status), common.DefaultWidth)
	return nil
}

func (w *world) cancelPath(ctx context.Context) error {
	common.PrintHeader("SWAP: destination never funded, source refunded", common.DefaultWidth)

	so, err := w.place(ctx, w.outbound())
	if err != nil {
		return err
	}
	hash := so.Hash.Hex()

	src, err := w.openSource(ctx, so)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	if _, err := w.poll(ctx, "source escrow funded", hash); err != nil {
		return err
	}

	w.clock.Advance(srcPolicy.ResolverCancel + time.Second)
	if _, err := w.chain.Cancel(ctx, src.ID, w.resolver()); err != nil {
		return fmt.Errorf("cancel source: %w", err)
	}
	view, err := w.poll(ctx, "source escrow cancelled", hash)
	if err != nil {
		return err
	}

	refunded, err := w.chain.BalanceOf(ctx, w.maker(), srcToken)
	if err != nil {
		return err
	}
	fmt.Printf("%smaker holds %s on %s\n", common.BoxPrefix(true),
		common.FormatAmount(w.assets, srcLedger, srcToken, refunded), srcLedger)

	common.PrintFooter(fmt.Sprintf("RESULT: %s", view.Status), common.DefaultWidth)
	return nil
}

func (w *world) vaultPath(ctx context.Context) error {
	common.PrintHeader("SWAP: source funded from a pre-authorized vault", common.DefaultWidth)

	so, err := w.place(ctx, w.inbound())
	if err != nil {
		return err
	}
	hash := so.Hash.Hex()

	src, err := w.openFromVault(ctx, so)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	if _, err := w.poll(ctx, "source escrow funded", hash); err != nil {
		return err
	}

	w.clock.Advance(time.Minute)
	dst, err := w.openOnChain(ctx, so, src)
	if err != nil {
		return fmt.Errorf("open destination: %w", err)
	}
	if _, err := w.poll(ctx, "destination escrow funded", hash); err != nil {
		return err
	}

	secret, err := w.awaitSecret(ctx, so)
	if err != nil {
		return err
	}
	w.clock.Advance(time.Minute)
	if _, err := w.chain.Withdraw(ctx, dst.ID, w.resolver(), secret); err != nil {
		return fmt.Errorf("withdraw destination: %w", err)
	}
	if _, err := w.wallet.Withdraw(ctx, src.ID, w.resolverUtxo.Identity(), secret); err != nil {
		return fmt.Errorf("withdraw source: %w", err)
	}
	view, err := w.poll(ctx, "both escrows withdrawn", hash)
	if err != nil {
		return err
	}

	received, err := w.chain.BalanceOf(ctx, w.maker(), models.NativeAsset)
	if err != nil {
		return err
	}
	fmt.Printf("%smaker holds %s on %s\n", common.BoxPrefix(true),
		common.FormatAmount(w.assets, srcLedger, models.NativeAsset, received), srcLedger)

	common.PrintFooter(fmt.Sprintf("RESULT: %s", view.Status), common.DefaultWidth)
	return nil
}

func main() {
	ctx := context.Background()

	keepFlag := flag.Bool("keep", false, "Keep the working directory")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		_, _ = zap.NewProduction()
		zap.L().Fatal("Failed to load config", zap.Error(err))
	}

	logger, loggerCleanup := common.InitializeLogger(cfg.Log)
	defer loggerCleanup()

	domain, err := common.OrderDomain(cfg.OrderDomain)
	if err != nil {
		logger.Fatal("Invalid order domain", zap.Error(err))
	}

	dir, err := os.MkdirTemp("", "swap-simulate-")
	if err != nil {
		logger.Fatal("Failed to create working directory", zap.Error(err))
	}
	if *keepFlag {
		logger.Info("Keeping working directory", zap.String("dir", dir))
	} else {
		defer os.RemoveAll(dir)
	}

	dbCfg := cfg.Database
	dbCfg.Path = filepath.Join(dir, "swaps.db")
	dbCfg.MaxOpenConns = 1
	db, err := database.NewService(ctx, dbCfg)
	if err != nil {
		logger.Fatal("Failed to open database", zap.Error(err))
	}
	defer db.Close()

	vault, err := secrets.Open(filepath.Join(dir, "secrets.ldb"))
	if err != nil {
		logger.Fatal("Failed to open secret vault", zap.Error(err))
	}
	defer vault.Close()

	inbox, err := relay.OpenInbox(filepath.Join(dir, "relay.db"), nil)
	if err != nil {
		logger.Fatal("Failed to open relay inbox", zap.Error(err))
	}
	defer inbox.Close()

	w := &world{
		clock:  &clock{now: time.Now().UTC().Truncate(time.Second)},
		domain: domain,
		hub:    relay.NewHub(inbox),
		assets: &models.AssetRegistry{Assets: []models.AssetConfig{
			{Symbol: "TKA", Ledger: srcLedger, AssetId: string(srcToken), Decimals: 18},
			{Symbol: "ETH", Ledger: srcLedger, AssetId: string(models.NativeAsset), Decimals: 18},
			{Symbol: "ADA", Ledger: dstLedger, AssetId: string(models.NativeAsset), Decimals: 6},
		}},
	}
	if w.makerKey, err = ethcrypto.GenerateKey(); err != nil {
		logger.Fatal("Failed to generate key", zap.Error(err))
	}
	if w.resolverKey, err = ethcrypto.GenerateKey(); err != nil {
		logger.Fatal("Failed to generate key", zap.Error(err))
	}
	if w.makerUtxo, err = utxo.NewKey(utxo.Testnet); err != nil {
		logger.Fatal("Failed to generate key", zap.Error(err))
	}
	if w.resolverUtxo, err = utxo.NewKey(utxo.Testnet); err != nil {
		logger.Fatal("Failed to generate key", zap.Error(err))
	}

	factory := evm.Factory{
		Address:      ethcommon.HexToAddress("0x00000000000000000000000000000000000fac70"),
		InitCodeHash: ethcrypto.Keccak256Hash([]byte("escrow")),
	}
	w.chain = evm.NewChain(srcLedger, factory, domain, evm.WithClock(w.clock.Now))
	w.ledger = utxo.NewLedger(dstLedger, utxo.Testnet, utxo.WithClock(w.clock.Now))
	w.wallet = utxo.NewWallet(w.ledger, w.makerUtxo, w.resolverUtxo)
	if err := w.fund(); err != nil {
		logger.Fatal("Failed to fund parties", zap.Error(err))
	}

	w.orders = api.NewOrderService(db, domain).WithSecrets(vault)
	ledgers := map[string]escrow.Feed{srcLedger: w.chain, dstLedger: w.wallet}

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		logger.Fatal("Failed to listen", zap.Error(err))
	}
	server := &http.Server{
		Handler:     api.NewRouter(api.RouterConfig{Orders: w.orders, Relay: w.hub, Feeds: ledgers}),
		ReadTimeout: cfg.Server.ReadTimeout,
	}
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("API server stopped", zap.Error(err))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Server.ShutdownTimeout)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	baseURL := "http://" + listener.Addr().String()

	resolverInbox, err := relay.OpenInbox(filepath.Join(dir, "resolver-relay.db"), nil)
	if err != nil {
		logger.Fatal("Failed to open resolver inbox", zap.Error(err))
	}
	defer resolverInbox.Close()
	w.relay = relay.NewClient("ws://"+listener.Addr().String(), resolverInbox)
	feeds := make(map[string]escrow.Feed, len(ledgers))
	for name := range ledgers {
		client, err := feed.NewClient(models.LedgerConfig{Name: name, FeedURL: baseURL + "/feeds/" + name, FeedRate: 100, FeedBurst: 10})
		if err != nil {
			logger.Fatal("Failed to build feed client", zap.String("ledger", name), zap.Error(err))
		}
		feeds[name] = client
	}

	w.coord = coordinator.New(coordinator.Config{
		Store:       db,
		Feeds:       feeds,
		Secrets:     vault,
		Relay:       w.hub,
		Metrics:     metrics.Swap(),
		ExpiryGrace: cfg.Coordinator.ExpiryGrace,
		Clock:       w.clock.Now,
	})

	failed := false
	for _, run := range []func(context.Context) error{w.happyPath, w.vaultPath, w.cancelPath} {
		if err := run(ctx); err != nil {
			logger.Error("Scenario failed", zap.Error(err))
			failed = true
		}
	}
	if failed {
		os.Exit(1)
	}
}
