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

// Package testcomponents wires real persistence, transport and an in-memory
// ledger into a components.AllComponents, so manager tests can run whole flows
// with every role played by one process.
package testcomponents

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ndidplatform/idconsent/internal/components"
	"github.com/ndidplatform/idconsent/internal/keyedlock"
	"github.com/ndidplatform/idconsent/internal/ledgerapi"
	"github.com/ndidplatform/idconsent/internal/metrics"
	"github.com/ndidplatform/idconsent/internal/nodeidentity"
	"github.com/ndidplatform/idconsent/internal/testledger"
	"github.com/ndidplatform/idconsent/pkg/conf"
	"github.com/ndidplatform/idconsent/pkg/confutil"
	"github.com/ndidplatform/idconsent/pkg/ledger"
	"github.com/ndidplatform/idconsent/pkg/persistence"
	"github.com/ndidplatform/idconsent/pkg/transport"
	"github.com/stretchr/testify/require"
)

type TestComponents struct {
	Ctx        context.Context
	Conf       *conf.Config
	DB         persistence.Persistence
	TestLedger *testledger.Ledger
	Queries    *ledgerapi.Queries
	Trans      transport.Transport
	Metrics    metrics.Metrics
	Locks      *keyedlock.KeyedLock
	Identity   nodeidentity.Resolver

	Callbacks   components.CallbackManager
	Eligibility components.EligibilityResolver
	Requests    components.RequestManager
	Responses   components.ResponseManager
	Identities  components.IdentityManager
	AS          components.ASManager
}

var _ components.AllComponents = (*TestComponents)(nil)

// New builds the base components. With more than one node id, the process is
// a proxy managing all of them.
func New(t *testing.T, nodeIDs ...string) *TestComponents {
	ctx := context.Background()
	config := &conf.Config{
		NodeID: nodeIDs[0],
		Transport: conf.TransportConfig{
			Server: conf.HTTPServerConfig{
				Address: confutil.P("127.0.0.1"),
				Port:    confutil.P(0),
			},
		},
	}
	if len(nodeIDs) > 1 {
		config.NodeID = "proxy1"
		config.ManagedNodeIDs = nodeIDs
	}

	p, cleanup, err := persistence.NewUnitTestPersistence(ctx)
	require.NoError(t, err)
	t.Cleanup(cleanup)

	tc := &TestComponents{
		Ctx:        ctx,
		Conf:       config,
		DB:         p,
		TestLedger: testledger.New(),
		Metrics:    metrics.NewNoopMetrics(),
		Locks:      keyedlock.New(),
	}
	tc.Queries = ledgerapi.NewQueries(tc.TestLedger, &config.Ledger.NodeInfoCache)
	tc.Identity, err = nodeidentity.NewResolver(ctx, config)
	require.NoError(t, err)
	tc.Trans, err = transport.NewHTTPTransport(ctx, &config.Transport, tc.Identity.LocalNodeIDs(), tc.Metrics)
	require.NoError(t, err)
	return tc
}

// FastCallbackConfig retries quickly, so tests of failure paths complete promptly
func FastCallbackConfig() *conf.CallbackConfig {
	return &conf.CallbackConfig{
		Retry: conf.RetryConfig{
			InitialDelay: confutil.P("10ms"),
			MaxDelay:     confutil.P("50ms"),
			Factor:       confutil.P(2.0),
			Jitter:       confutil.P(0.0),
		},
		RetryTimeout: confutil.P("2s"),
	}
}

func (tc *TestComponents) managers() []components.ManagerLifecycle {
	var all []components.ManagerLifecycle
	for _, m := range []components.ManagerLifecycle{
		tc.Callbacks, tc.Eligibility, tc.Requests, tc.Responses, tc.Identities, tc.AS,
	} {
		if m != nil {
			all = append(all, m)
		}
	}
	return all
}

// Start initializes and starts every manager set on the struct, registering
// cleanup in reverse order
func (tc *TestComponents) Start(t *testing.T) {
	mgrs := tc.managers()
	for _, m := range mgrs {
		ir, err := m.PreInit(tc)
		require.NoError(t, err)
		if ir != nil && ir.BlockHandler != nil {
			tc.TestLedger.AddBlockHandler(ir.BlockHandler)
		}
		if ir != nil && ir.MessageHandler != nil {
			tc.Trans.SetMessageHandler(ir.MessageHandler)
		}
	}
	for _, m := range mgrs {
		require.NoError(t, m.PostInit(tc))
	}
	require.NoError(t, tc.Trans.Start())
	t.Cleanup(tc.Trans.Stop)
	require.NoError(t, tc.TestLedger.Start())
	t.Cleanup(func() {
		tc.TestLedger.Wait()
		for _, err := range tc.TestLedger.ContinuationErrors() {
			t.Logf("ledger continuation error: %s", err)
		}
	})
	for _, m := range mgrs {
		require.NoError(t, m.Start())
		t.Cleanup(m.Stop)
	}
}

func (tc *TestComponents) Config() *conf.Config {
	return tc.Conf
}

func (tc *TestComponents) Persistence() persistence.Persistence {
	return tc.DB
}

func (tc *TestComponents) Ledger() ledger.Client {
	return tc.TestLedger
}

func (tc *TestComponents) LedgerQueries() *ledgerapi.Queries {
	return tc.Queries
}

func (tc *TestComponents) Transport() transport.Transport {
	return tc.Trans
}

func (tc *TestComponents) MetricsManager() metrics.Metrics {
	return tc.Metrics
}

func (tc *TestComponents) KeyedLock() *keyedlock.KeyedLock {
	return tc.Locks
}

func (tc *TestComponents) NodeIdentity() nodeidentity.Resolver {
	return tc.Identity
}

func (tc *TestComponents) CallbackManager() components.CallbackManager {
	return tc.Callbacks
}

func (tc *TestComponents) EligibilityResolver() components.EligibilityResolver {
	return tc.Eligibility
}

func (tc *TestComponents) RequestManager() components.RequestManager {
	return tc.Requests
}

func (tc *TestComponents) ResponseManager() components.ResponseManager {
	return tc.Responses
}

func (tc *TestComponents) IdentityManager() components.IdentityManager {
	return tc.Identities
}

func (tc *TestComponents) ASManager() components.ASManager {
	return tc.AS
}

// CallbackReceiver is an HTTP endpoint that records every callback body posted to it
type CallbackReceiver struct {
	URL      string
	Received chan map[string]any
	status   chan int
}

func NewCallbackReceiver(t *testing.T) *CallbackReceiver {
	cr := &CallbackReceiver{
		Received: make(chan map[string]any, 100),
		status:   make(chan int, 100),
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		status := http.StatusOK
		select {
		case status = <-cr.status:
		default:
		}
		body, _ := io.ReadAll(r.Body)
		var parsed map[string]any
		_ = json.Unmarshal(body, &parsed)
		if status < 300 {
			cr.Received <- parsed
		}
		w.WriteHeader(status)
	}))
	t.Cleanup(server.Close)
	cr.URL = server.URL
	return cr
}

// FailNext queues HTTP statuses to return for the next calls, in order
func (cr *CallbackReceiver) FailNext(statuses ...int) {
	for _, s := range statuses {
		cr.status <- s
	}
}

// Next waits for the next recorded callback body
func (cr *CallbackReceiver) Next(t *testing.T) map[string]any {
	select {
	case body := <-cr.Received:
		return body
	case <-time.After(5 * time.Second):
		require.FailNow(t, "timed out waiting for callback")
		return nil
	}
}

// NextOfType skips callbacks until one with the given type field arrives
func (cr *CallbackReceiver) NextOfType(t *testing.T, callbackType string) map[string]any {
	for {
		body := cr.Next(t)
		if body["type"] == callbackType {
			return body
		}
	}
}

// ExpectNone asserts nothing arrives within a short period
func (cr *CallbackReceiver) ExpectNone(t *testing.T, wait time.Duration) {
	select {
	case body := <-cr.Received:
		require.FailNow(t, "unexpected callback", "%+v", body)
	case <-time.After(wait):
	}
}
