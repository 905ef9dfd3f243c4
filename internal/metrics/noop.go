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

import "github.com/prometheus/client_golang/prometheus"

type noopMetrics struct {
	registry *prometheus.Registry
}

// NewNoopMetrics is used when metrics are disabled, and in unit tests
func NewNoopMetrics() Metrics {
	return &noopMetrics{registry: prometheus.NewRegistry()}
}

func (n *noopMetrics) Registry() *prometheus.Registry       { return n.registry }
func (n *noopMetrics) PendingCallbacksInc()                 {}
func (n *noopMetrics) PendingCallbacksDec()                 {}
func (n *noopMetrics) InboundProcessingInc()                {}
func (n *noopMetrics) InboundProcessingDec()                {}
func (n *noopMetrics) NodeSend(nodeID string, success bool) {}
func (n *noopMetrics) LedgerTx(fnName string, success bool) {}
