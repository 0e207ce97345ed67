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

package feed

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ronakgupta11/cardano-swap/internal/escrow"
	"github.com/ronakgupta11/cardano-swap/internal/hashlock"
	"github.com/ronakgupta11/cardano-swap/internal/models"
)

// Handler exposes any escrow.Feed over HTTP. The body is the JSON array of
// candidate escrows.
//
//	GET /escrows?hashlock=0x..&side=source|destination
func Handler(source escrow.Feed) http.Handler {
	r := chi.NewRouter()
	r.Get("/escrows", func(w http.ResponseWriter, r *http.Request) {
		h, err := hashlock.ParseHashlock(r.URL.Query().Get("hashlock"))
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		side, err := models.ParseSide(r.URL.Query().Get("side"))
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		recs, err := source.FindByHashlock(r.Context(), side, h)
		if errors.Is(err, escrow.ErrEscrowNotFound) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		if err != nil {
			zap.L().Error("Feed lookup failed", zap.String("hashlock", h.Hex()), zap.Error(err))
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, recs)
	})
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Debug("Failed to write feed response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, models.ErrorResponse{Error: err.Error()})
}
