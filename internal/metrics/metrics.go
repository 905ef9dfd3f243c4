// Copyright © 2024 Kaleido, Inc.
//
// SPDX-License-Identifier: Apache-2.0
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

package metrics

import (
	"context"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "idconsent"

// Metrics is the explicit sink every component reports through, in place of global counters
type Metrics interface {
	PendingCallbacksInc()
	PendingCallbacksDec()
	InboundProcessingInc()
	InboundProcessingDec()
	NodeSend(nodeID string, success bool)
	LedgerTx(fnName string, success bool)
	Registry() *prometheus.Registry
}

type promMetrics struct {
	registry          *prometheus.Registry
	pendingCallbacks  prometheus.Gauge
	inboundProcessing prometheus.Gauge
	nodeSend          *prometheus.CounterVec
	ledgerTx          *prometheus.CounterVec
}

func InitMetrics(ctx context.Context, registry *prometheus.Registry) Metrics {
	m := &promMetrics{registry: registry}

	m.pendingCallbacks = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: metricsNamespace, Subsystem: "callbacks", Name: "pending",
		Help: "Callbacks persisted and awaiting delivery",
	})
	m.inboundProcessing = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: metricsNamespace, Subsystem: "transport", Name: "inbound_processing",
		Help: "Inbound messages currently being processed",
	})
	m.nodeSend = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace, Subsystem: "transport", Name: "sends_total",
		Help: "Outbound message sends by receiving node",
	}, []string{"node_id", "success"})
	m.ledgerTx = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace, Subsystem: "ledger", Name: "transactions_total",
		Help: "Ledger transactions by function",
	}, []string{"fn", "success"})

	registry.MustRegister(m.pendingCallbacks, m.inboundProcessing, m.nodeSend, m.ledgerTx)
	return m
}

func (m *promMetrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *promMetrics) PendingCallbacksInc() {
	m.pendingCallbacks.Inc()
}

func (m *promMetrics) PendingCallbacksDec() {
	m.pendingCallbacks.Dec()
}

func (m *promMetrics) InboundProcessingInc() {
	m.inboundProcessing.Inc()
}

func (m *promMetrics) InboundProcessingDec() {
	m.inboundProcessing.Dec()
}

func (m *promMetrics) NodeSend(nodeID string, success bool) {
	m.nodeSend.With(prometheus.Labels{"node_id": nodeID, "success": strconv.FormatBool(success)}).Inc()
}

func (m *promMetrics) LedgerTx(fnName string, success bool) {
	m.ledgerTx.With(prometheus.Labels{"fn": fnName, "success": strconv.FormatBool(success)}).Inc()
}
