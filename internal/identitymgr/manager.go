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

// Package identitymgr runs the identity operations of the IdP nodes hosted here.
// An operation on an identity other IdPs hold in mode 3 first asks one of them
// for consent, and only then mutates the ledger.
package identitymgr

import (
	"context"

	"github.com/ndidplatform/idconsent/internal/components"
	"github.com/ndidplatform/idconsent/internal/dispatch"
	"github.com/ndidplatform/idconsent/internal/keyedlock"
	"github.com/ndidplatform/idconsent/internal/ledgerapi"
	"github.com/ndidplatform/idconsent/internal/nodeidentity"
	"github.com/ndidplatform/idconsent/pkg/conf"
	"github.com/ndidplatform/idconsent/pkg/confutil"
	"github.com/ndidplatform/idconsent/pkg/ledger"
	"github.com/ndidplatform/idconsent/pkg/log"
	"github.com/ndidplatform/idconsent/pkg/persistence"
)

const (
	consentClosedKind dispatch.Kind = "identitymgr.consent_closed"
	mutatedKind       dispatch.Kind = "identitymgr.mutated"
)

type operationArgs struct {
	NodeID      string `json:"node_id"`
	ReferenceID string `json:"reference_id"`
}

type identityManager struct {
	bgCtx          context.Context
	cancelCtx      context.CancelFunc
	consentTimeout int

	p         persistence.Persistence
	ledger    ledger.Client
	queries   *ledgerapi.Queries
	locks     *keyedlock.KeyedLock
	identity  nodeidentity.Resolver
	callbacks components.CallbackManager
	requests  components.RequestManager
}

func NewIdentityManager(bgCtx context.Context, config *conf.IdentityConfig) components.IdentityManager {
	im := &identityManager{
		consentTimeout: confutil.IntMin(config.ConsentRequestTimeout, 1, *conf.IdentityDefaults.ConsentRequestTimeout),
	}
	im.bgCtx, im.cancelCtx = context.WithCancel(log.WithComponent(bgCtx, "identitymgr"))
	return im
}

func (im *identityManager) PreInit(pic components.PreInitComponents) (*components.ManagerInitResult, error) {
	im.p = pic.Persistence()
	im.ledger = pic.Ledger()
	im.queries = pic.LedgerQueries()
	im.locks = pic.KeyedLock()
	im.identity = pic.NodeIdentity()
	err := ledger.RegisterContinuation(im.bgCtx, im.ledger, mutatedKind, im.onMutated)
	return &components.ManagerInitResult{}, err
}

func (im *identityManager) PostInit(c components.AllComponents) error {
	im.callbacks = c.CallbackManager()
	im.requests = c.RequestManager()
	return dispatch.Handle(im.bgCtx, im.requests.OnClosedHandlers(), consentClosedKind, im.onConsentClosed)
}

// Start settles consent requests that closed while the node was down. Operations
// already handed to the ledger resume with the ledger's pending transactions.
func (im *identityManager) Start() error {
	ctx := im.bgCtx
	var rows []*persistedOperation
	if err := im.p.DB().WithContext(ctx).Order("created").Find(&rows).Error; err != nil {
		return err
	}
	for _, row := range rows {
		ctx := log.WithLogField(ctx, "ref", row.ReferenceID)
		op, err := decodeOperation(row)
		if err != nil {
			log.L(ctx).Errorf("Discarding unreadable identity operation: %s", err)
			if err := im.deleteOperation(ctx, im.p.NOTX(), row.NodeID, row.ReferenceID); err != nil {
				return err
			}
			continue
		}
		if op.Stage != stageConsent || op.RequestID == nil {
			log.L(ctx).Infof("Identity operation %s awaiting ledger confirmation", op.OpType)
			continue
		}
		if err := im.recoverConsent(ctx, op.NodeID, op.ReferenceID); err != nil {
			return err
		}
	}
	return nil
}

func (im *identityManager) Stop() {
	im.cancelCtx()
}

func operationKey(nodeID, referenceID string) string {
	return keyedlock.ReferenceKey(nodeID, "identity/"+referenceID)
}
