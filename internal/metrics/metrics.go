// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package metrics defines the Prometheus instrumentation shared across
// the batch engine, the cache manager, and run persistence, following
// the base code's internal/controller/metrics package-level promauto
// variable pattern.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	linesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "promptflow_batch_lines_total",
			Help: "Total batch lines executed, by outcome",
		},
		[]string{"status"},
	)

	nodeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "promptflow_node_duration_seconds",
			Help:    "Node execution duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"node"},
	)

	cacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "promptflow_cache_lookups_total",
			Help: "Total cache lookups, by hit or miss",
		},
		[]string{"result"},
	)

	persistenceErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "promptflow_persistence_errors_total",
			Help: "Total persistence operation errors by operation and error type",
		},
		[]string{"operation", "error_type"},
	)
)

// RecordLineCompleted increments the batch line counter for one
// terminal outcome ("completed" or "failed").
func RecordLineCompleted(status string) {
	linesTotal.WithLabelValues(status).Inc()
}

// RecordNodeDuration records one node execution's wall-clock duration.
func RecordNodeDuration(node string, seconds float64) {
	nodeDuration.WithLabelValues(node).Observe(seconds)
}

// RecordCacheLookup increments the cache lookup counter for a hit or a
// miss, from which a cache hit rate is derived at query time.
func RecordCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	cacheLookups.WithLabelValues(result).Inc()
}

// RecordPersistenceError increments the persistence error counter.
// operation should be one of: PersistNodeRun, PersistFlowRun, CachePut
// errorType is derived from the error (e.g., "io_error", "marshal_error",
// "unknown").
func RecordPersistenceError(operation, errorType string) {
	persistenceErrors.WithLabelValues(operation, errorType).Inc()
}
