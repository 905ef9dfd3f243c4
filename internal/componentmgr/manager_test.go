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


package componentmgr

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ndidplatform/idconsent/pkg/conf"
	"github.com/ndidplatform/idconsent/pkg/confutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *conf.Config {
	// the ledger is never healthy in these tests, the poller just logs and retries
	ledgerServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(ledgerServer.Close)

	return &conf.Config{
		NodeID: "node1",
		DB: conf.DBConfig{
			Type: "sqlite",
			SQLite: conf.SQLiteConfig{
				SQLDBConfig: conf.SQLDBConfig{
					DSN:           ":memory:",
					AutoMigrate:   confutil.P(true),
					MigrationsDir: "../../db/migrations/sqlite",
				},
			},
		},
		Ledger: conf.LedgerConfig{
			HTTPClientConfig:  conf.HTTPClientConfig{URL: ledgerServer.URL},
			BlockPollInterval: confutil.P("50ms"),
		},
		Transport: conf.TransportConfig{
			Server: conf.HTTPServerConfig{Address: confutil.P("127.0.0.1"), Port: confutil.P(0)},
		},
		Metrics: conf.MetricsConfig{
			Server: conf.HTTPServerConfig{Address: confutil.P("127.0.0.1"), Port: confutil.P(0)},
		},
	}
}

func TestInitStartStopOK(t *testing.T) {
	cm := NewComponentManager(context.Background(), testConfig(t)).(*componentManager)
	require.NoError(t, cm.Init())

	assert.NotNil(t, cm.Persistence())
	assert.NotNil(t, cm.Ledger())
	assert.NotNil(t, cm.LedgerQueries())
	assert.NotNil(t, cm.Transport())
	assert.NotNil(t, cm.MetricsManager())
	assert.NotNil(t, cm.KeyedLock())
	assert.NotNil(t, cm.NodeIdentity())
	assert.NotNil(t, cm.CallbackManager())
	assert.NotNil(t, cm.EligibilityResolver())
	assert.NotNil(t, cm.RequestManager())
	assert.NotNil(t, cm.ResponseManager())
	assert.NotNil(t, cm.IdentityManager())
	assert.NotNil(t, cm.ASManager())
	assert.Equal(t, "node1", cm.Config().NodeID)
	assert.Len(t, cm.initResults, 6)

	require.NoError(t, cm.StartManagers())
	require.NoError(t, cm.CompleteStart())

	res, err := http.Get("http://" + cm.metricsServer.Addr().String() + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, string(body), "idconsent_callbacks_pending")

	cm.Stop()
	assert.True(t, cm.isStarted("request_manager"))
}

func TestInitMetricsDisabled(t *testing.T) {
	config := testConfig(t)
	config.Metrics.Enabled = confutil.P(false)
	cm := NewComponentManager(context.Background(), config).(*componentManager)
	require.NoError(t, cm.Init())
	defer cm.Stop()
	assert.Nil(t, cm.metricsServer)
	assert.NotNil(t, cm.MetricsManager().Registry())
}

func TestInitFailures(t *testing.T) {
	for name, tt := range map[string]struct {
		fn    func(c *conf.Config)
		errRE string
	}{
		"no node id":    {func(c *conf.Config) { c.NodeID = "" }, "IC010005.*IC010003"},
		"bad db type":   {func(c *conf.Config) { c.DB.Type = "wrong" }, "IC010005.*IC010100"},
		"no ledger url": {func(c *conf.Config) { c.Ledger.URL = "" }, "IC010005"},
	} {
		t.Run(name, func(t *testing.T) {
			config := testConfig(t)
			tt.fn(config)
			cm := NewComponentManager(context.Background(), config)
			err := cm.Init()
			assert.Regexp(t, tt.errRE, err)
			cm.Stop()
		})
	}
}
