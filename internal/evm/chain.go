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

package evm

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/ronakgupta11/cardano-swap/internal/escrow"
	"github.com/ronakgupta11/cardano-swap/internal/hashlock"
	"github.com/ronakgupta11/cardano-swap/internal/models"
	"github.com/ronakgupta11/cardano-swap/internal/order"
)

var (
	ErrBadIdentity         = errors.New("evm: identity is not an account address")
	ErrInsufficientBalance = errors.New("evm: insufficient balance")
	ErrWrongLedger         = errors.New("evm: order does not name this ledger")
)

// Chain is an in-memory account ledger hosting an escrow factory. Every
// state change happens under one lock, so each call is one atomic
// transaction with its clock read taken inside it.
type Chain struct {
	name    string
	factory Factory
	domain  order.Domain
	rules   escrow.Rules
	book    *order.Book

	mu       sync.Mutex
	now      func() time.Time
	balances map[common.Address]models.Value
	escrows  map[common.Address]*models.EscrowRecord
}

type Option func(*Chain)

func WithRules(r escrow.Rules) Option { return func(c *Chain) { c.rules = r } }

func WithBook(b *order.Book) Option { return func(c *Chain) { c.book = b } }

func WithClock(now func() time.Time) Option { return func(c *Chain) { c.now = now } }

func NewChain(name string, factory Factory, domain order.Domain, opts ...Option) *Chain {
	c := &Chain{
		name:     name,
		factory:  factory,
		domain:   domain,
		book:     order.NewBook(),
		now:      time.Now,
		balances: make(map[common.Address]models.Value),
		escrows:  make(map[common.Address]*models.EscrowRecord),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Chain) Name() string { return c.name }

func (c *Chain) Factory() Factory { return c.factory }

// SetClock replaces the ledger's notion of current time.
func (c *Chain) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// Credit mints value to who. It stands in for genesis allocations.
func (c *Chain) Credit(who models.Identity, asset models.Asset, amount *big.Int) error {
	addr, err := ParseAddress(who)
	if err != nil {
		return err
	}
	asset, err = NormalizeAsset(asset)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.holding(addr).Add(asset, amount)
	return nil
}

// Transfer moves value between accounts. Resolvers use it to pre-fund an
// escrow address with the safety deposit.
func (c *Chain) Transfer(ctx context.Context, from, to models.Identity, asset models.Asset, amount *big.Int) error {
	src, err := ParseAddress(from)
	if err != nil {
		return err
	}
	dst, err := ParseAddress(to)
	if err != nil {
		return err
	}
	asset, err = NormalizeAsset(asset)
	if err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("evm: transfer amount must be positive")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.move(src, dst, asset, amount)
}

func (c *Chain) BalanceOf(ctx context.Context, who models.Identity, asset models.Asset) (*big.Int, error) {
	addr, err := ParseAddress(who)
	if err != nil {
		return nil, err
	}
	asset, err = NormalizeAsset(asset)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.holding(addr).Get(asset), nil
}

// SourceTerms derives the source escrow immutables from a signed order.
func (c *Chain) SourceTerms(so models.SignedOrder, resolver models.Identity, cascade models.Cascade) (models.EscrowRecord, error) {
	o := so.Order
	if o.SrcLedger != c.name {
		return models.EscrowRecord{}, fmt.Errorf("%w: source is %q", ErrWrongLedger, o.SrcLedger)
	}
	hash, err := order.Hash(c.domain, o)
	if err != nil {
		return models.EscrowRecord{}, err
	}
	asset, err := NormalizeAsset(o.SrcAsset)
	if err != nil {
		return models.EscrowRecord{}, err
	}
	return models.EscrowRecord{
		Ledger:        c.name,
		Side:          models.SideSource,
		OrderHash:     hash.Hex(),
		Hashlock:      o.Hashlock,
		Maker:         order.Identity(o.Maker),
		Resolver:      resolver,
		Asset:         asset,
		Amount:        new(big.Int).Set(o.SrcAmount),
		SafetyDeposit: new(big.Int).Set(o.SrcSafetyDeposit),
		Cascade:       cascade,
	}, nil
}

// EscrowAddress implements escrow.Prefunder.
func (c *Chain) EscrowAddress(terms models.EscrowRecord) (models.Identity, error) {
	if err := escrow.ValidateTerms(terms); err != nil {
		return "", err
	}
	addr, err := c.factory.AddressOf(terms)
	if err != nil {
		return "", err
	}
	return Identity(addr), nil
}

// CheckPrefunded implements escrow.Prefunder.
func (c *Chain) CheckPrefunded(ctx context.Context, terms models.EscrowRecord) error {
	addr, err := c.factory.AddressOf(terms)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.checkPrefunded(addr, terms)
}

// The address must hold exactly the safety deposit before instantiation.
func (c *Chain) checkPrefunded(addr common.Address, terms models.EscrowRecord) error {
	held := c.holding(addr).Clone()
	want := models.NewValue(models.NativeAsset, terms.SafetyDeposit)
	if !held.Covers(want) {
		return fmt.Errorf("%w: %s holds %s native, safety deposit is %s",
			escrow.ErrInsufficientFunding, addr.Hex(), held.Get(models.NativeAsset), terms.SafetyDeposit)
	}
	if !want.Covers(held) {
		return fmt.Errorf("%w: %s holds more than the safety deposit", escrow.ErrAmountMismatch, addr.Hex())
	}
	return nil
}

// CreateSourceEscrow instantiates the source escrow for a signed order. The
// resolver must have pre-funded the escrow address with the safety deposit;
// the maker's asset is pulled in the same step and the order is consumed.
func (c *Chain) CreateSourceEscrow(ctx context.Context, so models.SignedOrder, resolver models.Identity, cascade models.Cascade) (*models.EscrowRecord, error) {
	if _, err := order.Verify(c.domain, so); err != nil {
		return nil, err
	}
	terms, err := c.SourceTerms(so, resolver, cascade)
	if err != nil {
		return nil, err
	}
	if err := escrow.ValidateTerms(terms); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if err := order.CheckLive(so.Order, now); err != nil {
		return nil, err
	}
	hash := common.HexToHash(terms.OrderHash)
	if c.book.Consumed(hash) {
		return nil, order.ErrConsumed
	}
	rec, err := c.instantiate(terms, terms.Maker, now)
	if err != nil {
		return nil, err
	}
	if err := c.book.Consume(hash); err != nil {
		return nil, err
	}
	return rec, nil
}

// CreateDestinationEscrow instantiates the destination escrow from the
// resolver's own funds. srcCancel is the source escrow's resolver-cancel
// deadline; the zero time skips the cross-side check.
func (c *Chain) CreateDestinationEscrow(ctx context.Context, terms models.EscrowRecord, srcCancel time.Time) (*models.EscrowRecord, error) {
	terms.Ledger = c.name
	terms.Side = models.SideDestination
	asset, err := NormalizeAsset(terms.Asset)
	if err != nil {
		return nil, err
	}
	terms.Asset = asset
	if err := escrow.ValidateTerms(terms); err != nil {
		return nil, err
	}
	if err := escrow.CheckCrossSide(terms.Cascade, srcCancel); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.instantiate(terms, terms.Resolver, c.now())
}

func (c *Chain) instantiate(terms models.EscrowRecord, funder models.Identity, now time.Time) (*models.EscrowRecord, error) {
	addr, err := c.factory.AddressOf(terms)
	if err != nil {
		return nil, err
	}
	if _, ok := c.escrows[addr]; ok {
		return nil, fmt.Errorf("%w: %s", escrow.ErrEscrowExists, addr.Hex())
	}
	for _, id := range []models.Identity{terms.Maker, terms.Resolver} {
		if _, err := ParseAddress(id); err != nil {
			return nil, err
		}
	}
	if terms.Receiver != "" {
		if _, err := ParseAddress(terms.Receiver); err != nil {
			return nil, err
		}
	}
	if err := c.checkPrefunded(addr, terms); err != nil {
		return nil, err
	}
	from, err := ParseAddress(funder)
	if err != nil {
		return nil, err
	}
	if err := c.move(from, addr, terms.Asset, terms.Amount); err != nil {
		return nil, err
	}

	rec := terms.Clone()
	rec.ID = addr.Hex()
	rec.State = models.StateFunded
	rec.Balance = c.holding(addr).Clone()
	rec.CreatedAt = now
	c.escrows[addr] = &rec

	zap.L().Debug("Escrow funded",
		zap.String("ledger", c.name),
		zap.String("escrow_id", rec.ID),
		zap.String("side", rec.Side.String()),
		zap.String("hashlock", rec.Hashlock.Hex()))

	out := rec.Clone()
	return &out, nil
}

func (c *Chain) Escrow(ctx context.Context, id string) (*models.EscrowRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, err := c.lookup(id)
	if err != nil {
		return nil, err
	}
	out := c.view(rec)
	return &out, nil
}

// FindByHashlock returns every escrow on side locked to h, oldest first.
func (c *Chain) FindByHashlock(ctx context.Context, side models.Side, h hashlock.Hashlock) ([]models.EscrowRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var found []models.EscrowRecord
	for _, rec := range c.escrows {
		if rec.Side == side && rec.Hashlock == h {
			found = append(found, c.view(rec))
		}
	}
	if len(found) == 0 {
		return nil, fmt.Errorf("%w: %s hashlock %s", escrow.ErrEscrowNotFound, side, h.Hex())
	}
	escrow.SortCandidates(found)
	return found, nil
}

func (c *Chain) Withdraw(ctx context.Context, id string, caller models.Identity, secret hashlock.Secret) (*escrow.Settlement, error) {
	return c.transition(id, escrow.Request{Action: models.ActionWithdraw, Caller: caller, Secret: &secret})
}

func (c *Chain) PublicWithdraw(ctx context.Context, id string, caller models.Identity, secret hashlock.Secret) (*escrow.Settlement, error) {
	return c.transition(id, escrow.Request{Action: models.ActionPublicWithdraw, Caller: caller, Secret: &secret})
}

func (c *Chain) Cancel(ctx context.Context, id string, caller models.Identity) (*escrow.Settlement, error) {
	return c.transition(id, escrow.Request{Action: models.ActionCancel, Caller: caller})
}

func (c *Chain) PublicCancel(ctx context.Context, id string, caller models.Identity) (*escrow.Settlement, error) {
	return c.transition(id, escrow.Request{Action: models.ActionPublicCancel, Caller: caller})
}

func (c *Chain) transition(id string, req escrow.Request) (*escrow.Settlement, error) {
	if _, err := ParseAddress(req.Caller); err != nil {
		return nil, fmt.Errorf("%w: %v", escrow.ErrUnauthorized, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	rec, err := c.lookup(id)
	if err != nil {
		return nil, err
	}
	req.Now = c.now()
	settlement, err := c.rules.Evaluate(*rec, req)
	if err != nil {
		return nil, err
	}

	addr := common.HexToAddress(rec.ID)
	held := c.holding(addr).Clone()
	if err := escrow.CheckCovered(*rec, held); err != nil {
		return nil, err
	}
	surplus, err := held.Minus(rec.Deposited())
	if err != nil {
		return nil, err
	}
	caller, err := ParseAddress(req.Caller)
	if err != nil {
		return nil, err
	}
	for _, p := range settlement.Payouts {
		to, err := ParseAddress(p.To)
		if err != nil {
			return nil, err
		}
		if err := c.move(addr, to, p.Asset, p.Amount); err != nil {
			return nil, err
		}
	}
	// Value sent to a live escrow is not part of its terms. It goes to
	// whoever closes the escrow so the address ends empty.
	for _, asset := range surplus.Assets() {
		if err := c.move(addr, caller, asset, surplus.Get(asset)); err != nil {
			return nil, err
		}
	}
	if !surplus.IsZero() {
		zap.L().Debug("Escrow surplus swept",
			zap.String("ledger", c.name),
			zap.String("escrow_id", rec.ID),
			zap.String("to", caller.Hex()))
	}

	rec.State = settlement.State
	rec.Balance = models.Value{}
	rec.SettledAt = req.Now
	rec.SettledBy = settlement.Action
	rec.Payouts = settlement.Payouts

	zap.L().Debug("Escrow settled",
		zap.String("ledger", c.name),
		zap.String("escrow_id", rec.ID),
		zap.String("action", string(req.Action)),
		zap.String("state", rec.State.String()))

	return settlement, nil
}

func (c *Chain) lookup(id string) (*models.EscrowRecord, error) {
	if !common.IsHexAddress(id) {
		return nil, fmt.Errorf("%w: %q", escrow.ErrEscrowNotFound, id)
	}
	rec, ok := c.escrows[common.HexToAddress(id)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", escrow.ErrEscrowNotFound, id)
	}
	return rec, nil
}

// view copies rec with the live balance of a funded escrow.
func (c *Chain) view(rec *models.EscrowRecord) models.EscrowRecord {
	out := rec.Clone()
	if out.State == models.StateFunded {
		out.Balance = c.holding(common.HexToAddress(out.ID)).Clone()
	}
	return out
}

func (c *Chain) holding(addr common.Address) models.Value {
	v, ok := c.balances[addr]
	if !ok {
		v = models.Value{}
		c.balances[addr] = v
	}
	return v
}

// move is called with c.mu held. It never leaves a partial debit.
func (c *Chain) move(from, to common.Address, asset models.Asset, amount *big.Int) error {
	src := c.holding(from)
	if src.Get(asset).Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s has %s %s, needs %s", ErrInsufficientBalance, from.Hex(), src.Get(asset), asset, amount)
	}
	src.Add(asset, new(big.Int).Neg(amount))
	c.holding(to).Add(asset, amount)
	return nil
}

var (
	_ escrow.Ledger    = (*Chain)(nil)
	_ escrow.Prefunder = (*Chain)(nil)
)
