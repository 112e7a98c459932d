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

package submitter

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/kaleido-io/relaymesh/internal/metrics"
	"github.com/kaleido-io/relaymesh/internal/types"
)

// Metrics is the per-destination slice of the process metrics
type Metrics struct {
	queueLength  *prometheus.GaugeVec
	destination  string
	opsPrepared  prometheus.Counter
	opsSubmitted prometheus.Counter
	opsConfirmed prometheus.Counter
	opsFailed    prometheus.Counter
	opsDropped   prometheus.Counter
}

func NewMetrics(m *metrics.Metrics, destination types.Domain) *Metrics {
	ops := m.OperationsProcessedCount()
	return &Metrics{
		queueLength:  m.SubmitterQueueLength(),
		destination:  destination.Name,
		opsPrepared:  ops.WithLabelValues("prepared", destination.Name),
		opsSubmitted: ops.WithLabelValues("submitted", destination.Name),
		opsConfirmed: ops.WithLabelValues("confirmed", destination.Name),
		opsFailed:    ops.WithLabelValues("failed", destination.Name),
		opsDropped:   ops.WithLabelValues("dropped", destination.Name),
	}
}

func (m *Metrics) queueLenCallback(queue string) func(n int) {
	if m == nil {
		return nil
	}
	gauge := m.queueLength.WithLabelValues(queue, m.destination)
	return func(n int) { gauge.Set(float64(n)) }
}

func (m *Metrics) incPrepared() {
	if m != nil {
		m.opsPrepared.Inc()
	}
}

func (m *Metrics) incSubmitted(n int) {
	if m != nil {
		m.opsSubmitted.Add(float64(n))
	}
}

func (m *Metrics) incConfirmed() {
	if m != nil {
		m.opsConfirmed.Inc()
	}
}

func (m *Metrics) incFailed() {
	if m != nil {
		m.opsFailed.Inc()
	}
}

func (m *Metrics) incDropped() {
	if m != nil {
		m.opsDropped.Inc()
	}
}
