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

package coordinator

import (
	"time"

	"github.com/ronakgupta11/cardano-swap/internal/models"
)

// Observation is everything DeriveStatus looks at for one swap.
type Observation struct {
	Previous   models.SwapStatus
	Src        *models.EscrowRecord
	Dst        *models.EscrowRecord
	Disclosed  bool
	Expiration time.Time
	Now        time.Time
	Grace      time.Duration
	// Fault fails the swap outright.
	Fault error
	// Rejected is why a funded pair is not shown the secret.
	Rejected error
}

// DeriveStatus folds both escrow states into the operator-facing status and
// a short reason. Failed is sticky. A swap with a funded escrow never gets a
// final status.
func DeriveStatus(obs Observation) (models.SwapStatus, string) {
	if obs.Previous == models.StatusFailed {
		return models.StatusFailed, ""
	}
	if obs.Fault != nil {
		return models.StatusFailed, obs.Fault.Error()
	}

	src, dst := stateOf(obs.Src), stateOf(obs.Dst)

	if obs.Src == nil && obs.Dst == nil {
		if obs.Now.After(obs.Expiration.Add(obs.Grace)) {
			return models.StatusExpired, "order expired before any escrow was funded"
		}
		return models.StatusPending, ""
	}

	withdrawn := count(models.StateWithdrawn, src, dst)
	cancelled := count(models.StateCancelled, src, dst)
	funded := count(models.StateFunded, src, dst)

	switch {
	case src == models.StateWithdrawn && dst == models.StateWithdrawn:
		return models.StatusCompleted, ""
	case withdrawn > 0 && cancelled > 0:
		return models.StatusFailed, "one side withdrawn, the other cancelled"
	case withdrawn > 0 && funded == 0:
		// a withdrawal with no counterpart escrow at all
		return models.StatusFailed, "withdrawn without a counterpart escrow"
	case cancelled > 0 && funded == 0:
		return models.StatusCancelled, ""
	case withdrawn > 0:
		return models.StatusWithdrawing, ""
	case cancelled > 0:
		return models.StatusDepositing, "unwinding: " + unwinding(src, dst)
	case funded == 2 && obs.Disclosed:
		return models.StatusWithdrawing, ""
	}

	if stalled := stalledReason(obs); stalled != "" {
		if funded == 0 {
			return models.StatusExpired, stalled
		}
		// still holds value, so keep watching until someone cancels
		return models.StatusDepositing, "stalled: " + stalled
	}
	if funded == 2 && obs.Rejected != nil {
		return models.StatusDepositing, "secret withheld: " + obs.Rejected.Error()
	}
	return models.StatusDepositing, ""
}

func stalledReason(obs Observation) string {
	switch {
	case obs.Src != nil && obs.Now.After(obs.Src.Cascade.Public.Add(obs.Grace)):
		return "source public deadline passed"
	case obs.Dst != nil && obs.Src == nil && obs.Now.After(obs.Dst.Cascade.Public.Add(obs.Grace)):
		return "destination public deadline passed"
	}
	return ""
}

func stateOf(rec *models.EscrowRecord) models.EscrowState {
	if rec == nil {
		return models.StateUninitialized
	}
	return rec.State
}

func count(want models.EscrowState, states ...models.EscrowState) int {
	n := 0
	for _, s := range states {
		if s == want {
			n++
		}
	}
	return n
}

func unwinding(src, dst models.EscrowState) string {
	if src == models.StateCancelled {
		return "source cancelled"
	}
	return "destination cancelled"
}
