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

package models

import (
	"context"
	"time"
)

type observationContextKey struct{}

// ObservationContext carries where and when a ledger transition was seen so
// journal backends can stamp entries without widening the Journal interface.
type ObservationContext struct {
	Ledger     string
	ObservedAt time.Time
	PollId     string
}

// WithObservationContext attaches observation data to a context.
func WithObservationContext(ctx context.Context, oc *ObservationContext) context.Context {
	return context.WithValue(ctx, observationContextKey{}, oc)
}

// GetObservationContext retrieves observation data from context, or nil if absent.
func GetObservationContext(ctx context.Context) *ObservationContext {
	oc, _ := ctx.Value(observationContextKey{}).(*ObservationContext)
	return oc
}
