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

	"github.com/hyperledger/firefly-common/pkg/i18n"
	"github.com/ndidplatform/idconsent/internal/asmgr"
	"github.com/ndidplatform/idconsent/internal/callbackmgr"
	"github.com/ndidplatform/idconsent/internal/components"
	"github.com/ndidplatform/idconsent/internal/eligibility"
	"github.com/ndidplatform/idconsent/internal/identitymgr"
	"github.com/ndidplatform/idconsent/internal/keyedlock"
	"github.com/ndidplatform/idconsent/internal/ledgerapi"
	"github.com/ndidplatform/idconsent/internal/metrics"
	"github.com/ndidplatform/idconsent/internal/msgs"
	"github.com/ndidplatform/idconsent/internal/nodeidentity"
	"github.com/ndidplatform/idconsent/internal/requestmgr"
	"github.com/ndidplatform/idconsent/internal/responsemgr"
	"github.com/ndidplatform/idconsent/pkg/conf"
	"github.com/ndidplatform/idconsent/pkg/confutil"
	"github.com/ndidplatform/idconsent/pkg/httpserver"
	"github.com/ndidplatform/idconsent/pkg/ledger"
	"github.com/ndidplatform/idconsent/pkg/log"
	"github.com/ndidplatform/idconsent/pkg/persistence"
	"github.com/ndidplatform/idconsent/pkg/transport"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type ComponentManager interface {
	components.AllComponents
	Init() error
	StartManagers() error
	CompleteStart() error
	Stop()
}

type namedManager struct {
	name string
	mgr  components.ManagerLifecycle
}

type componentManager struct {
	bgCtx context.Context
	conf  *conf.Config
	// pre-init
	persistence    persistence.Persistence
	ledger         ledger.Client
	queries        *ledgerapi.Queries
	transport      transport.Transport
	metricsManager metrics.Metrics
	metricsServer  httpserver.Server
	keyedLock      *keyedlock.KeyedLock
	nodeIdentity   nodeidentity.Resolver
	// managers
	callbackManager     components.CallbackManager
	eligibilityResolver components.EligibilityResolver
	requestManager      components.RequestManager
	responseManager     components.ResponseManager
	identityManager     components.IdentityManager
	asManager           components.ASManager
	// init to start tracking
	managers    []namedManager
	initResults map[string]*components.ManagerInitResult
	// keep track of everything we started, stopped in reverse order
	started []namedStoppable
	opened  map[string]closeable
}

// things that have a running component that is active in the background and hence "stops"
type stoppable interface {
	Stop()
}

type namedStoppable struct {
	name string
	c    stoppable
}

// things that hold connections, and hence "close"
type closeable interface {
	Close()
}

func NewComponentManager(bgCtx context.Context, config *conf.Config) ComponentManager {
	log.InitConfig(&config.Log)
	return &componentManager{
		bgCtx:       bgCtx,
		conf:        config,
		initResults: make(map[string]*components.ManagerInitResult),
		opened:      make(map[string]closeable),
	}
}

func (cm *componentManager) Init() (err error) {
	cm.nodeIdentity, err = nodeidentity.NewResolver(cm.bgCtx, cm.conf)
	err = cm.wrapIfErr(err, msgs.MsgComponentInitError, "node_identity")

	if err == nil {
		if confutil.Bool(cm.conf.Metrics.Enabled, *conf.MetricsDefaults.Enabled) {
			cm.metricsManager = metrics.InitMetrics(cm.bgCtx, prometheus.NewRegistry())
			cm.metricsServer, err = httpserver.NewServer(cm.bgCtx, "metrics", &cm.conf.Metrics.Server, &conf.MetricsDefaults.Server,
				promhttp.HandlerFor(cm.metricsManager.Registry(), promhttp.HandlerOpts{}))
			err = cm.wrapIfErr(err, msgs.MsgComponentInitError, "metrics_server")
		} else {
			cm.metricsManager = metrics.NewNoopMetrics()
		}
	}

	if err == nil {
		cm.persistence, err = persistence.NewPersistence(cm.bgCtx, &cm.conf.DB)
		err = cm.addIfOpened("database", cm.persistence, err, msgs.MsgComponentInitError)
	}
	if err == nil {
		cm.ledger, err = ledger.NewClient(cm.bgCtx, &cm.conf.Ledger, cm.persistence, cm.metricsManager)
		err = cm.wrapIfErr(err, msgs.MsgComponentInitError, "ledger")
	}
	if err == nil {
		cm.queries = ledgerapi.NewQueries(cm.ledger, &cm.conf.Ledger.NodeInfoCache)
		cm.transport, err = transport.NewHTTPTransport(cm.bgCtx, &cm.conf.Transport, cm.nodeIdentity.LocalNodeIDs(), cm.metricsManager)
		err = cm.wrapIfErr(err, msgs.MsgComponentInitError, "transport")
	}
	cm.keyedLock = keyedlock.New()

	// managers are pre-initialized, post-initialized and started in this order
	cm.callbackManager = callbackmgr.NewCallbackManager(cm.bgCtx, &cm.conf.Callback)
	cm.eligibilityResolver = eligibility.NewEligibilityResolver(cm.bgCtx)
	cm.requestManager = requestmgr.NewRequestManager(cm.bgCtx, &cm.conf.Requests)
	cm.responseManager = responsemgr.NewResponseManager(cm.bgCtx)
	cm.identityManager = identitymgr.NewIdentityManager(cm.bgCtx, &cm.conf.Identity)
	cm.asManager = asmgr.NewASManager(cm.bgCtx)
	cm.managers = []namedManager{
		{"callback_manager", cm.callbackManager},
		{"eligibility_resolver", cm.eligibilityResolver},
		{"request_manager", cm.requestManager},
		{"response_manager", cm.responseManager},
		{"identity_manager", cm.identityManager},
		{"as_manager", cm.asManager},
	}

	for _, m := range cm.managers {
		if err == nil {
			cm.initResults[m.name], err = m.mgr.PreInit(cm)
			err = cm.wrapIfErr(err, msgs.MsgComponentInitError, m.name)
		}
	}
	if err == nil {
		cm.registerHandlers()
	}

	for _, m := range cm.managers {
		if err == nil {
			err = m.mgr.PostInit(cm)
			err = cm.wrapIfErr(err, msgs.MsgComponentInitError, m.name)
		}
	}
	return err
}

func (cm *componentManager) registerHandlers() {
	for _, m := range cm.managers {
		ir := cm.initResults[m.name]
		if ir == nil {
			continue
		}
		if ir.BlockHandler != nil {
			cm.ledger.AddBlockHandler(ir.BlockHandler)
		}
		if ir.MessageHandler != nil {
			cm.transport.SetMessageHandler(ir.MessageHandler)
		}
	}
}

// StartManagers starts every manager, which reload their persisted state, before
// anything that can deliver new events to them
func (cm *componentManager) StartManagers() (err error) {
	for _, m := range cm.managers {
		if err == nil {
			err = m.mgr.Start()
			err = cm.addIfStarted(m.name, m.mgr, err, msgs.MsgComponentStartError, m.name)
		}
	}
	return err
}

// CompleteStart opens the inbound paths: the ledger block poller, the message
// transport and the metrics server
func (cm *componentManager) CompleteStart() error {
	err := cm.ledger.Start()
	err = cm.addIfStarted("ledger", cm.ledger, err, msgs.MsgComponentStartError, "ledger")

	if err == nil {
		err = cm.transport.Start()
		err = cm.addIfStarted("transport", cm.transport, err, msgs.MsgComponentStartError, "transport")
	}

	if err == nil && cm.metricsServer != nil {
		err = cm.metricsServer.Start()
		err = cm.addIfStarted("metrics_server", cm.metricsServer, err, msgs.MsgComponentStartError, "metrics_server")
	}

	if err == nil {
		log.L(cm.bgCtx).Infof("Startup complete nodes=%v", cm.nodeIdentity.LocalNodeIDs())
	}
	return err
}

func (cm *componentManager) wrapIfErr(err error, failMsg i18n.ErrorMessageKey, inserts ...any) error {
	if err != nil {
		return i18n.WrapError(cm.bgCtx, err, failMsg, inserts...)
	}
	return nil
}

func (cm *componentManager) addIfStarted(desc string, c stoppable, err error, failMsg i18n.ErrorMessageKey, inserts ...any) error {
	if err != nil {
		return i18n.WrapError(cm.bgCtx, err, failMsg, inserts...)
	}
	cm.started = append(cm.started, namedStoppable{desc, c})
	return nil
}

func (cm *componentManager) addIfOpened(desc string, c closeable, err error, failMsg i18n.ErrorMessageKey) error {
	if err != nil {
		return i18n.WrapError(cm.bgCtx, err, failMsg, desc)
	}
	cm.opened[desc] = c
	return nil
}

func (cm *componentManager) Stop() {
	log.L(cm.bgCtx).Info("Stopping")
	// inbound paths first, then the managers whose work they feed
	for i := len(cm.started) - 1; i >= 0; i-- {
		s := cm.started[i]
		log.L(cm.bgCtx).Infof("Stopping %s", s.name)
		s.c.Stop()
		log.L(cm.bgCtx).Debugf("Stopped %s", s.name)
	}
	if cm.metricsServer != nil && !cm.isStarted("metrics_server") {
		// releases the listener reserved at init
		cm.metricsServer.Stop()
	}
	if cm.transport != nil && !cm.isStarted("transport") {
		cm.transport.Stop()
	}
	for name, c := range cm.opened {
		log.L(cm.bgCtx).Infof("Closing %s", name)
		c.Close()
	}
	log.L(cm.bgCtx).Debug("Stopped")
}

func (cm *componentManager) isStarted(name string) bool {
	for _, s := range cm.started {
		if s.name == name {
			return true
		}
	}
	return false
}

func (cm *componentManager) Config() *conf.Config {
	return cm.conf
}

func (cm *componentManager) Persistence() persistence.Persistence {
	return cm.persistence
}

func (cm *componentManager) Ledger() ledger.Client {
	return cm.ledger
}

func (cm *componentManager) LedgerQueries() *ledgerapi.Queries {
	return cm.queries
}

func (cm *componentManager) Transport() transport.Transport {
	return cm.transport
}

func (cm *componentManager) MetricsManager() metrics.Metrics {
	return cm.metricsManager
}

func (cm *componentManager) KeyedLock() *keyedlock.KeyedLock {
	return cm.keyedLock
}

func (cm *componentManager) NodeIdentity() nodeidentity.Resolver {
	return cm.nodeIdentity
}

func (cm *componentManager) CallbackManager() components.CallbackManager {
	return cm.callbackManager
}

func (cm *componentManager) EligibilityResolver() components.EligibilityResolver {
	return cm.eligibilityResolver
}

func (cm *componentManager) RequestManager() components.RequestManager {
	return cm.requestManager
}

func (cm *componentManager) ResponseManager() components.ResponseManager {
	return cm.responseManager
}

func (cm *componentManager) IdentityManager() components.IdentityManager {
	return cm.identityManager
}

func (cm *componentManager) ASManager() components.ASManager {
	return cm.asManager
}
