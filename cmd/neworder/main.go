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
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ronakgupta11/cardano-swap/internal/common"
	"github.com/ronakgupta11/cardano-swap/internal/config"
	"github.com/ronakgupta11/cardano-swap/internal/hashlock"
	"github.com/ronakgupta11/cardano-swap/internal/models"
	"github.com/ronakgupta11/cardano-swap/internal/order"
	"github.com/ronakgupta11/cardano-swap/internal/secrets"
)

type orderRequest struct {
	apiURL      string
	vaultPath   string
	keepSecret  bool
	srcLedger   string
	dstLedger   string
	srcAsset    string
	dstAsset    string
	srcAmount   decimal.Decimal
	dstAmount   decimal.Decimal
	srcDeposit  decimal.Decimal
	dstDeposit  decimal.Decimal
	receiver    string
	makerSource string
	ttl         time.Duration
}

func parseAndValidateFlags() (*orderRequest, error) {
	apiFlag := flag.String("api", "http://localhost:8080", "Swap daemon base URL")
	vaultFlag := flag.String("vault", "maker-secrets.ldb", "Local secret vault")
	keepFlag := flag.Bool("keep-secret", false, "Do not hand the secret to the daemon")
	srcLedgerFlag := flag.String("src-ledger", "", "Ledger the maker pays on (required)")
	dstLedgerFlag := flag.String("dst-ledger", "", "Ledger the maker is paid on (required)")
	srcAssetFlag := flag.String("src-asset", "", "Asset symbol or id the maker pays (required)")
	dstAssetFlag := flag.String("dst-asset", "", "Asset symbol or id the maker receives (required)")
	srcAmountFlag := flag.String("src-amount", "", "Amount the maker pays (required)")
	dstAmountFlag := flag.String("dst-amount", "", "Amount the maker receives (required)")
	srcDepositFlag := flag.String("src-deposit", "0", "Safety deposit on the source escrow, native units")
	dstDepositFlag := flag.String("dst-deposit", "0", "Safety deposit on the destination escrow, native units")
	receiverFlag := flag.String("receiver", "", "Destination-ledger address paid on withdraw (default: maker)")
	makerSourceFlag := flag.String("maker-source", "", "Maker's key address on an output source ledger")
	ttlFlag := flag.Duration("ttl", time.Hour, "Order lifetime")
	flag.Parse()

	if *srcLedgerFlag == "" || *dstLedgerFlag == "" || *srcAssetFlag == "" || *dstAssetFlag == "" ||
		*srcAmountFlag == "" || *dstAmountFlag == "" {
		return nil, fmt.Errorf("required flags: --src-ledger, --dst-ledger, --src-asset, --dst-asset, --src-amount, --dst-amount")
	}

	req := &orderRequest{
		apiURL:      strings.TrimRight(*apiFlag, "/"),
		vaultPath:   *vaultFlag,
		keepSecret:  *keepFlag,
		srcLedger:   *srcLedgerFlag,
		dstLedger:   *dstLedgerFlag,
		srcAsset:    *srcAssetFlag,
		dstAsset:    *dstAssetFlag,
		receiver:    *receiverFlag,
		makerSource: *makerSourceFlag,
		ttl:         *ttlFlag,
	}
	amounts := []struct {
		raw string
		dst *decimal.Decimal
	}{
		{*srcAmountFlag, &req.srcAmount},
		{*dstAmountFlag, &req.dstAmount},
		{*srcDepositFlag, &req.srcDeposit},
		{*dstDepositFlag, &req.dstDeposit},
	}
	for _, a := range amounts {
		v, err := decimal.NewFromString(a.raw)
		if err != nil {
			return nil, fmt.Errorf("invalid amount %q: %w", a.raw, err)
		}
		if v.IsNegative() {
			return nil, fmt.Errorf("amount %q must not be negative", a.raw)
		}
		*a.dst = v
	}
	if req.ttl <= 0 {
		return nil, fmt.Errorf("ttl must be positive")
	}
	return req, nil
}

// buildOrder converts human amounts through the registry and fills in the
// maker, hashlock and salt.
func buildOrder(req *orderRequest, reg *models.AssetRegistry, maker models.Order, h hashlock.Hashlock) (models.Order, error) {
	o := maker
	o.SrcLedger, o.DstLedger = req.srcLedger, req.dstLedger
	o.SrcAsset = reg.Resolve(req.srcLedger, req.srcAsset)
	o.DstAsset = reg.Resolve(req.dstLedger, req.dstAsset)
	o.Receiver = models.Identity(req.receiver)
	o.MakerSource = models.Identity(req.makerSource)
	o.Hashlock = h
	o.Expiration = time.Now().UTC().Add(req.ttl).Truncate(time.Second)

	var err error
	if o.SrcAmount, err = reg.BaseUnits(req.srcLedger, o.SrcAsset, req.srcAmount); err != nil {
		return o, err
	}
	if o.DstAmount, err = reg.BaseUnits(req.dstLedger, o.DstAsset, req.dstAmount); err != nil {
		return o, err
	}
	if o.SrcSafetyDeposit, err = reg.BaseUnits(req.srcLedger, models.NativeAsset, req.srcDeposit); err != nil {
		return o, err
	}
	if o.DstSafetyDeposit, err = reg.BaseUnits(req.dstLedger, models.NativeAsset, req.dstDeposit); err != nil {
		return o, err
	}
	if o.Salt, err = order.NewSalt(); err != nil {
		return o, err
	}
	return o, order.Validate(o)
}

func postJSON(ctx context.Context, client *http.Client, method, url string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		var apiErr models.ErrorResponse
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s %s: %d %s", method, url, resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("%s %s: %d", method, url, resp.StatusCode)
	}
	if out != nil {
		return json.Unmarshal(data, out)
	}
	return nil
}

func main() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		_, _ = zap.NewProduction()
		zap.L().Fatal("Failed to load config", zap.Error(err))
	}

	_, loggerCleanup := common.InitializeLogger(cfg.Log)
	defer loggerCleanup()

	req, err := parseAndValidateFlags()
	if err != nil {
		zap.L().Fatal("Invalid flags", zap.Error(err))
	}

	assets, err := config.LoadAssets(cfg.Coordinator.AssetsFile)
	if err != nil {
		zap.L().Warn("No asset registry, amounts are base units", zap.Error(err))
		assets = &models.AssetRegistry{}
	}

	domain, err := common.OrderDomain(cfg.OrderDomain)
	if err != nil {
		zap.L().Fatal("Invalid order domain", zap.Error(err))
	}

	key, err := order.LoadKey(os.Getenv("MAKER_PRIVATE_KEY"))
	if err != nil {
		zap.L().Fatal("MAKER_PRIVATE_KEY is required", zap.Error(err))
	}

	vault, err := secrets.Open(req.vaultPath)
	if err != nil {
		zap.L().Fatal("Failed to open secret vault", zap.Error(err))
	}
	defer vault.Close()

	secret, err := hashlock.GenerateSecret()
	if err != nil {
		zap.L().Fatal("Failed to generate secret", zap.Error(err))
	}
	h := hashlock.Commit(secret)

	o, err := buildOrder(req, assets, models.Order{Maker: ethcrypto.PubkeyToAddress(key.PublicKey)}, h)
	if err != nil {
		zap.L().Fatal("Invalid order", zap.Error(err))
	}
	so, err := order.Sign(domain, o, key)
	if err != nil {
		zap.L().Fatal("Failed to sign order", zap.Error(err))
	}

	// keep the secret before anything leaves this machine
	if err := vault.Put(so.Hash.Hex(), secret); err != nil {
		zap.L().Fatal("Failed to store secret", zap.Error(err))
	}

	client := &http.Client{Timeout: 15 * time.Second}
	var resp models.SubmitOrderResponse
	if err := postJSON(ctx, client, http.MethodPost, req.apiURL+"/orders", so, &resp); err != nil {
		common.PrintHeader("ORDER REJECTED", common.DefaultWidth)
		fmt.Printf("Error: %v\n", err)
		common.PrintSeparator("=", common.DefaultWidth)
		zap.L().Fatal("Order submission failed", zap.Error(err))
	}

	if !req.keepSecret {
		err := postJSON(ctx, client, http.MethodPut, req.apiURL+"/orders/"+resp.OrderHash+"/secret",
			models.DepositSecretRequest{Secret: secret}, nil)
		if err != nil {
			zap.L().Error("Failed to hand secret to daemon, disclose it yourself", zap.Error(err))
		}
	}

	common.PrintHeader("ORDER SUBMITTED", common.DefaultWidth)
	fmt.Printf("Order hash:   %s\n", resp.OrderHash)
	fmt.Printf("Maker:        %s\n", o.Maker.Hex())
	fmt.Printf("Pays:         %s on %s\n", common.FormatAmount(assets, o.SrcLedger, o.SrcAsset, o.SrcAmount), o.SrcLedger)
	fmt.Printf("Receives:     %s on %s\n", common.FormatAmount(assets, o.DstLedger, o.DstAsset, o.DstAmount), o.DstLedger)
	fmt.Printf("Hashlock:     %s\n", h.Hex())
	fmt.Printf("Expires:      %s\n", common.FormatDeadline(o.Expiration, time.Now()))
	fmt.Printf("Secret kept:  %s\n", req.vaultPath)
	common.PrintFooter("Status: "+string(resp.Status), common.DefaultWidth)
}
