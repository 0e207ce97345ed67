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

// Package metrics exposes swap coordinator counters to Prometheus.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// SwapMetrics groups the coordinator's collectors.
type SwapMetrics struct {
	polls       *prometheus.CounterVec
	transitions *prometheus.CounterVec
	disclosures *prometheus.CounterVec
	statuses    *prometheus.CounterVec
	journal     *prometheus.CounterVec
	active      prometheus.Gauge
}

var (
	swapMetricsOnce sync.Once
	swapRegistry    *SwapMetrics
)

// Swap returns the lazily-initialised swap metrics registered on the default
// Prometheus registry.
func Swap() *SwapMetrics {
	swapMetricsOnce.Do(func() {
		swapRegistry = newSwapMetrics()
		prometheus.MustRegister(
			swapRegistry.polls,
			swapRegistry.transitions,
			swapRegistry.disclosures,
			swapRegistry.statuses,
			swapRegistry.journal,
			swapRegistry.active,
		)
	})
	return swapRegistry
}

func newSwapMetrics() *SwapMetrics {
	return &SwapMetrics{
		polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "htlc",
			Subsystem: "coordinator",
			Name:      "polls_total",
			Help:      "Escrow feed polls segmented by ledger and outcome.",
		}, []string{"ledger", "outcome"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "htlc",
			Subsystem: "escrow",
			Name:      "transitions_total",
			Help:      "Observed escrow state changes segmented by ledger, side and new state.",
		}, []string{"ledger", "side", "state"}),
		disclosures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "htlc",
			Subsystem: "relay",
			Name:      "disclosures_total",
			Help:      "Secret publications segmented by whether they were new or redelivered.",
		}, []string{"kind"}),
		statuses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "htlc",
			Subsystem: "swap",
			Name:      "status_changes_total",
			Help:      "Swap status changes segmented by the status entered.",
		}, []string{"status"}),
		journal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "htlc",
			Subsystem: "journal",
			Name:      "entries_total",
			Help:      "Journal writes segmented by action and outcome.",
		}, []string{"action", "outcome"}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "htlc",
			Subsystem: "swap",
			Name:      "active",
			Help:      "Orders whose status is not final.",
		}),
	}
}

func (m *SwapMetrics) ObservePoll(ledger string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.polls.WithLabelValues(label(ledger), outcome).Inc()
}

func (m *SwapMetrics) ObserveTransition(ledger, side, state string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(label(ledger), label(side), label(state)).Inc()
}

// ObserveDisclosure counts a secret publication. Redeliveries are counted
// apart so dashboards can tell them from first disclosures.
func (m *SwapMetrics) ObserveDisclosure(fresh bool) {
	if m == nil {
		return
	}
	kind := "redelivered"
	if fresh {
		kind = "new"
	}
	m.disclosures.WithLabelValues(kind).Inc()
}

func (m *SwapMetrics) ObserveStatus(status string) {
	if m == nil {
		return
	}
	m.statuses.WithLabelValues(label(status)).Inc()
}

func (m *SwapMetrics) ObserveJournal(action, outcome string) {
	if m == nil {
		return
	}
	m.journal.WithLabelValues(label(action), label(outcome)).Inc()
}

func (m *SwapMetrics) SetActive(n int) {
	if m == nil {
		return
	}
	m.active.Set(float64(n))
}

func label(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
