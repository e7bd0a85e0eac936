/*
Copyright 2026 The Conductor Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package metrics registers the Prometheus gauges and counters the
// admin HTTP server (internal/telemetry/httpserver) exposes at
// /metrics. Each component that wants to observe something takes a
// *Metrics explicitly, same as a *zap.Logger, rather than reaching for
// promauto's package-level default registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles every gauge/counter the orchestrator's components
// report through.
type Metrics struct {
	Registry *prometheus.Registry

	FeaturesByStatus *prometheus.GaugeVec
	ClaimAttempts    *prometheus.CounterVec
	BudgetDailyCost  prometheus.Gauge
	BudgetWithin     prometheus.Gauge
	DecisionsPending prometheus.Gauge
	ReaperReleases   prometheus.Counter
	ReaperBlocks     prometheus.Counter
	WorkerIterations *prometheus.CounterVec
}

// NewMetricsWithRegistry registers every collector against registry,
// so callers (tests in particular) can use an isolated registry instead
// of the global default and avoid "duplicate metrics collector
// registration" panics across test runs in the same process.
func NewMetricsWithRegistry(registry *prometheus.Registry) *Metrics {
	factory := promauto.With(registry)
	return &Metrics{
		Registry: registry,
		FeaturesByStatus: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "conductor_features_by_status",
			Help: "Current count of features in each state-machine status.",
		}, []string{"status"}),
		ClaimAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "conductor_claim_attempts_total",
			Help: "Claim attempts, partitioned by outcome (claimed, empty, precondition_failed).",
		}, []string{"result"}),
		BudgetDailyCost: factory.NewGauge(prometheus.GaugeOpts{
			Name: "conductor_budget_daily_cost_dollars",
			Help: "Running total of today's recorded builder cost.",
		}),
		BudgetWithin: factory.NewGauge(prometheus.GaugeOpts{
			Name: "conductor_budget_within_cap",
			Help: "1 if today's cost is still under max_daily_cost, 0 otherwise.",
		}),
		DecisionsPending: factory.NewGauge(prometheus.GaugeOpts{
			Name: "conductor_decisions_pending",
			Help: "Decisions currently awaiting an answer.",
		}),
		ReaperReleases: factory.NewCounter(prometheus.CounterOpts{
			Name: "conductor_reaper_releases_total",
			Help: "Stale claims released back to Pending by the heartbeat reaper.",
		}),
		ReaperBlocks: factory.NewCounter(prometheus.CounterOpts{
			Name: "conductor_reaper_blocks_total",
			Help: "Features blocked by the heartbeat reaper for exhausting CI attempts.",
		}),
		WorkerIterations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "conductor_worker_iterations_total",
			Help: "Builder invocations per worker, partitioned by terminal marker (complete, blocked, stuck, none).",
		}, []string{"worker", "marker"}),
	}
}

// New registers every collector against a fresh, private registry —
// the right default for a single orchestrator process.
func New() *Metrics {
	return NewMetricsWithRegistry(prometheus.NewRegistry())
}
