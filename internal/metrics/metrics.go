/*
 * Copyright © 2025 Kaleido, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with
 * the License. You may obtain a copy of the License at
 *
 * http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on
 * an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the License for the
 * specific language governing permissions and limitations under the License.
 *
 * SPDX-License-Identifier: Apache-2.0
 */

package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns the process prometheus registry and the vectors the
// pipeline components label per origin/destination.
type Metrics struct {
	registry *prometheus.Registry

	submitterQueueLength     *prometheus.GaugeVec
	operationsProcessedCount *prometheus.CounterVec
	lastKnownMessageNonce    *prometheus.GaugeVec
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		submitterQueueLength: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "submitter_queue_length",
			Help: "Pending operations per submitter queue",
		}, []string{"queue", "destination"}),
		operationsProcessedCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "operations_processed_count",
			Help: "Operations processed per pipeline phase",
		}, []string{"phase", "destination"}),
		lastKnownMessageNonce: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "last_known_message_nonce",
			Help: "Highest message nonce observed per scan scope",
		}, []string{"scope", "origin", "destination"}),
	}
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.submitterQueueLength,
		m.operationsProcessedCount,
		m.lastKnownMessageNonce,
	)
	return m
}

func (m *Metrics) SubmitterQueueLength() *prometheus.GaugeVec {
	return m.submitterQueueLength
}

func (m *Metrics) OperationsProcessedCount() *prometheus.CounterVec {
	return m.operationsProcessedCount
}

func (m *Metrics) LastKnownMessageNonce() *prometheus.GaugeVec {
	return m.lastKnownMessageNonce
}

// Handler serves the registry in prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
