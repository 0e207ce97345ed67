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

// Package feed serves and polls the escrow-event feed each ledger
// collaborator exposes: the escrow for a hashlock on a side, with its
// current balance.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/http2"
	"golang.org/x/time/rate"

	"github.com/ronakgupta11/cardano-swap/internal/escrow"
	"github.com/ronakgupta11/cardano-swap/internal/hashlock"
	"github.com/ronakgupta11/cardano-swap/internal/models"
)

var _ escrow.Feed = (*Client)(nil)

const (
	defaultRate  = 5.0
	defaultBurst = 5
)

// Client polls one remote ledger's feed.
type Client struct {
	name    string
	baseURL string
	client  http.Client
	limiter *rate.Limiter
}

// NewClient builds a feed client from a topology entry.
func NewClient(cfg models.LedgerConfig) (*Client, error) {
	if cfg.FeedURL == "" {
		return nil, fmt.Errorf("ledger %s has no feed url", cfg.Name)
	}
	if _, err := url.Parse(cfg.FeedURL); err != nil {
		return nil, fmt.Errorf("ledger %s feed url: %w", cfg.Name, err)
	}
	httpClient, err := createCustomHttpClient()
	if err != nil {
		return nil, fmt.Errorf("unable to create custom http client: %w", err)
	}

	perSecond, burst := cfg.FeedRate, cfg.FeedBurst
	if perSecond <= 0 {
		perSecond = defaultRate
	}
	if burst <= 0 {
		burst = defaultBurst
	}

	return &Client{
		name:    cfg.Name,
		baseURL: strings.TrimRight(cfg.FeedURL, "/"),
		client:  httpClient,
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
	}, nil
}

func createCustomHttpClient() (http.Client, error) {
	tr := &http.Transport{
		ResponseHeaderTimeout: 30 * time.Second,
		Proxy:                 http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			KeepAlive: 30 * time.Second,
			Timeout:   15 * time.Second,
		}).DialContext,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		MaxIdleConnsPerHost:   5,
		ExpectContinueTimeout: 5 * time.Second,
	}

	if err := http2.ConfigureTransport(tr); err != nil {
		return http.Client{}, err
	}

	return http.Client{
		Transport: tr,
		Timeout:   60 * time.Second,
	}, nil
}

func (c *Client) Name() string { return c.name }

// FindByHashlock returns every escrow the ledger holds for h on side, or
// escrow.ErrEscrowNotFound while there is none.
func (c *Client) FindByHashlock(ctx context.Context, side models.Side, h hashlock.Hashlock) ([]models.EscrowRecord, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("hashlock", h.Hex())
	q.Set("side", side.String())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/escrows?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("unable to poll %s feed: %w", c.name, err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			zap.L().Debug("Failed to close feed response", zap.Error(err))
		}
	}()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s %s on %s", escrow.ErrEscrowNotFound, side, h.Hex(), c.name)
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%s feed returned %d: %s", c.name, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var recs []models.EscrowRecord
	if err := json.NewDecoder(resp.Body).Decode(&recs); err != nil {
		return nil, fmt.Errorf("unable to decode %s feed response: %w", c.name, err)
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("%w: %s %s on %s", escrow.ErrEscrowNotFound, side, h.Hex(), c.name)
	}
	for i := range recs {
		if recs[i].Hashlock != h || recs[i].Side != side {
			return nil, fmt.Errorf("%s feed answered for %s %s, asked %s %s", c.name, recs[i].Side, recs[i].Hashlock.Hex(), side, h.Hex())
		}
		if recs[i].Ledger == "" {
			recs[i].Ledger = c.name
		}
	}
	escrow.SortCandidates(recs)
	return recs, nil
}
