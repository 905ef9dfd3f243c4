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

// Package responsemgr submits the consent responses of the IdP nodes hosted here
package responsemgr

import (
	"context"
	"sync"

	"github.com/hyperledger/firefly-common/pkg/i18n"
	"github.com/ndidplatform/idconsent/internal/components"
	"github.com/ndidplatform/idconsent/internal/keyedlock"
	"github.com/ndidplatform/idconsent/internal/ledgerapi"
	"github.com/ndidplatform/idconsent/internal/msgs"
	"github.com/ndidplatform/idconsent/internal/nodeidentity"
	"github.com/ndidplatform/idconsent/pkg/icapi"
	"github.com/ndidplatform/idconsent/pkg/ledger"
	"github.com/ndidplatform/idconsent/pkg/log"
	"github.com/ndidplatform/idconsent/pkg/persistence"
)

type responseManager struct {
	bgCtx     context.Context
	cancelCtx context.CancelFunc

	p         persistence.Persistence
	ledger    ledger.Client
	queries   *ledgerapi.Queries
	locks     *keyedlock.KeyedLock
	identity  nodeidentity.Resolver
	callbacks components.CallbackManager
	requests  components.RequestManager

	stopLock sync.RWMutex
	stopped  bool
	wg       sync.WaitGroup
}

func NewResponseManager(bgCtx context.Context) components.ResponseManager {
	rm := &responseManager{}
	rm.bgCtx, rm.cancelCtx = context.WithCancel(log.WithComponent(bgCtx, "responsemgr"))
	return rm
}

func (rm *responseManager) PreInit(pic components.PreInitComponents) (*components.ManagerInitResult, error) {
	rm.p = pic.Persistence()
	rm.ledger = pic.Ledger()
	rm.queries = pic.LedgerQueries()
	rm.locks = pic.KeyedLock()
	rm.identity = pic.NodeIdentity()
	return &components.ManagerInitResult{}, nil
}

func (rm *responseManager) PostInit(c components.AllComponents) error {
	rm.callbacks = c.CallbackManager()
	rm.requests = c.RequestManager()
	return nil
}

func (rm *responseManager) Start() error {
	return nil
}

func (rm *responseManager) Stop() {
	rm.stopLock.Lock()
	rm.stopped = true
	rm.stopLock.Unlock()
	rm.cancelCtx()
	rm.wg.Wait()
}

// CreateResponse checks the response synchronously, then submits it to the ledger in the
// background. Responses to one request are serialized until each is committed, so the
// response budget is checked against the latest ledger state.
func (rm *responseManager) CreateResponse(ctx context.Context, in *icapi.CreateResponseInput) error {
	nodeID, err := rm.identity.Resolve(ctx, in.NodeID)
	if err != nil {
		return err
	}
	if err := icapi.Validate(ctx, in); err != nil {
		return err
	}
	ctx = log.WithLogField(ctx, "req", in.RequestID)

	release, err := rm.locks.Lock(ctx, keyedlock.ResponseKey(in.RequestID))
	if err != nil {
		return err
	}
	rd, err := rm.checkResponse(ctx, nodeID, in)
	if err != nil {
		release()
		return err
	}

	rm.stopLock.RLock()
	defer rm.stopLock.RUnlock()
	if rm.stopped {
		release()
		return i18n.NewError(ctx, msgs.MsgContextCanceled)
	}
	asyncCtx := log.WithLogger(rm.bgCtx, log.L(ctx))
	rm.wg.Add(1)
	go func() {
		defer rm.wg.Done()
		defer release()
		rm.submitResponse(asyncCtx, nodeID, rd, in)
	}()
	return nil
}

func (rm *responseManager) submitResponse(ctx context.Context, nodeID string, rd *icapi.RequestDetail, in *icapi.CreateResponseInput) {
	status := in.Status
	if status == "" && in.ErrorCode == nil {
		status = icapi.ResponseStatusAccept
	}
	params := &ledgerapi.CreateIdpResponseParams{
		RequestID: in.RequestID,
		ErrorCode: in.ErrorCode,
	}
	if in.ErrorCode == nil {
		params.Status = status
		params.IAL = in.IAL
		params.AAL = in.AAL
		params.Signature = in.Signature
	}
	res, err := rm.ledger.Transact(ctx, &ledger.TxRequest{
		NodeID:      nodeID,
		FnName:      ledgerapi.TxCreateIdpResponse,
		Params:      params,
		RetryOnFail: true,
	})
	if err != nil {
		err = i18n.WrapError(ctx, err, msgs.MsgResponseSubmitFailed, in.RequestID)
		log.L(ctx).Errorf("%s", err)
		rm.sendResult(ctx, nodeID, in, err)
		return
	}
	log.L(ctx).Infof("Response committed at height %d (status=%s error_code=%v)", res.Height, params.Status, in.ErrorCode)

	// the requester is told independently of whether our own caller can be reached
	err = rm.requests.SendMessage(ctx, nodeID, []string{rd.RequesterNodeID}, icapi.NewIdpResponseMessage(&icapi.IdpResponseMessage{
		RequestID:  in.RequestID,
		IdpID:      nodeID,
		Mode:       rd.Mode,
		AccessorID: in.AccessorID,
		ErrorCode:  in.ErrorCode,
		Height:     res.Height,
	}))
	if err != nil {
		log.L(ctx).Errorf("Failed to relay response to %s: %s", rd.RequesterNodeID, err)
	}
	rm.sendResult(ctx, nodeID, in, nil)
}

func (rm *responseManager) sendResult(ctx context.Context, nodeID string, in *icapi.CreateResponseInput, err error) {
	if in.CallbackURL == "" {
		return
	}
	cb := icapi.NewCallbackBase(nodeID, icapi.CallbackTypeResponseResult, in.ReferenceID, &in.RequestID)
	if err != nil {
		cb.FailWithError(err)
	}
	if _, sendErr := rm.callbacks.Send(ctx, rm.p.NOTX(), &components.CallbackRequest{
		NodeID: nodeID,
		URL:    in.CallbackURL,
		Body:   cb,
		Retry:  true,
	}); sendErr != nil {
		log.L(ctx).Errorf("Failed to send response result: %s", sendErr)
	}
}
