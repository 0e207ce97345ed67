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

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ronakgupta11/cardano-swap/internal/escrow"
	"github.com/ronakgupta11/cardano-swap/internal/feed"
	"github.com/ronakgupta11/cardano-swap/internal/models"
	"github.com/ronakgupta11/cardano-swap/internal/order"
	"github.com/ronakgupta11/cardano-swap/internal/relay"
	"github.com/ronakgupta11/cardano-swap/internal/store"
)

const maxBodyBytes = 1 << 20

// RouterConfig lists what the HTTP surface serves. Relay and Feeds are
// optional.
type RouterConfig struct {
	Orders *OrderService
	Relay  *relay.Hub
	// Feeds are exposed under /feeds/{ledger} for collaborators that run
	// in-process.
	Feeds map[string]escrow.Feed
}

// NewRouter builds the daemon's HTTP surface.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	h := &handlers{orders: cfg.Orders}

	r.Get("/healthz", h.health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/orders", func(r chi.Router) {
		r.Post("/", h.submitOrder)
		r.Get("/", h.listOrders)
		r.Get("/{orderHash}", h.getOrder)
		r.Post("/{orderHash}/take", h.takeOrder)
		r.Put("/{orderHash}/secret", h.depositSecret)
	})
	r.Get("/swaps/{orderHash}", h.getSwap)
	r.Get("/escrows/{escrowId}/journal", h.getJournal)

	if cfg.Relay != nil {
		r.Get("/relay/{orderHash}", cfg.Relay.ServeWS)
	}
	for name, f := range cfg.Feeds {
		r.Mount("/feeds/"+name, feed.Handler(f))
	}
	return r
}

type handlers struct {
	orders *OrderService
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	if err := h.orders.HealthCheck(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handlers) submitOrder(w http.ResponseWriter, r *http.Request) {
	var so models.SignedOrder
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&so); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := h.orders.SubmitOrder(r.Context(), so)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (h *handlers) listOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	orders, err := h.orders.ListOrders(r.Context(), q.Get("status"), limit, offset)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	if orders == nil {
		orders = []models.OrderRecord{}
	}
	writeJSON(w, http.StatusOK, orders)
}

func (h *handlers) getOrder(w http.ResponseWriter, r *http.Request) {
	rec, err := h.orders.GetOrder(r.Context(), chi.URLParam(r, "orderHash"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *handlers) takeOrder(w http.ResponseWriter, r *http.Request) {
	var req models.TakeOrderRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	rec, err := h.orders.TakeOrder(r.Context(), chi.URLParam(r, "orderHash"), req.Resolver)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *handlers) depositSecret(w http.ResponseWriter, r *http.Request) {
	var req models.DepositSecretRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.orders.DepositSecret(r.Context(), chi.URLParam(r, "orderHash"), req.Secret); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) getSwap(w http.ResponseWriter, r *http.Request) {
	view, err := h.orders.GetSwap(r.Context(), chi.URLParam(r, "orderHash"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *handlers) getJournal(w http.ResponseWriter, r *http.Request) {
	entries, err := h.orders.GetJournal(r.Context(), chi.URLParam(r, "escrowId"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrDuplicateTransaction), errors.Is(err, store.ErrOrderTaken),
		errors.Is(err, store.ErrConcurrentModification):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidRequest), errors.Is(err, order.ErrInvalidOrder),
		errors.Is(err, order.ErrBadSignature):
		return http.StatusBadRequest
	case errors.Is(err, order.ErrExpired):
		return http.StatusGone
	default:
		return http.StatusInternalServerError
	}
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Debug("HTTP request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Debug("Failed to write response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, models.ErrorResponse{Error: err.Error()})
}
