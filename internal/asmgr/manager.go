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

// Package asmgr submits the ledger transactions of the AS nodes hosted here, and
// reports each outcome to the caller's callback URL once the ledger confirms it.
package asmgr

import (
	"context"
	"slices"
	"time"

	"github.com/hyperledger/firefly-common/pkg/i18n"
	"github.com/ndidplatform/idconsent/internal/components"
	"github.com/ndidplatform/idconsent/internal/cryptoutil"
	"github.com/ndidplatform/idconsent/internal/dispatch"
	"github.com/ndidplatform/idconsent/internal/ledgerapi"
	"github.com/ndidplatform/idconsent/internal/msgs"
	"github.com/ndidplatform/idconsent/internal/nodeidentity"
	"github.com/ndidplatform/idconsent/pkg/icapi"
	"github.com/ndidplatform/idconsent/pkg/ledger"
	"github.com/ndidplatform/idconsent/pkg/log"
	"github.com/ndidplatform/idconsent/pkg/persistence"
)

const txResultKind dispatch.Kind = "asmgr.tx_result"

// txResultArgs travels with the transaction, so the callback can be sent after a restart
type txResultArgs struct {
	NodeID       string             `json:"node_id"`
	ReferenceID  string             `json:"reference_id"`
	CallbackURL  string             `json:"callback_url,omitempty"`
	CallbackType icapi.CallbackType `json:"callback_type"`
	RequestID    *string            `json:"request_id,omitempty"`
	FnName       string             `json:"fn_name"`
}

type asManager struct {
	bgCtx context.Context

	p         persistence.Persistence
	ledger    ledger.Client
	queries   *ledgerapi.Queries
	identity  nodeidentity.Resolver
	callbacks components.CallbackManager
}

func NewASManager(bgCtx context.Context) components.ASManager {
	return &asManager{
		bgCtx: log.WithComponent(bgCtx, "asmgr"),
	}
}

func (am *asManager) PreInit(pic components.PreInitComponents) (*components.ManagerInitResult, error) {
	am.p = pic.Persistence()
	am.ledger = pic.Ledger()
	am.queries = pic.LedgerQueries()
	am.identity = pic.NodeIdentity()
	err := ledger.RegisterContinuation(am.bgCtx, am.ledger, txResultKind, am.onTxResult)
	return &components.ManagerInitResult{}, err
}

func (am *asManager) PostInit(c components.AllComponents) error {
	am.callbacks = c.CallbackManager()
	return nil
}

func (am *asManager) Start() error {
	return nil
}

func (am *asManager) Stop() {}

// UpsertServiceDestination registers the node as a destination of the service, or
// updates the registration it already has
func (am *asManager) UpsertServiceDestination(ctx context.Context, in *icapi.ServiceDestinationInput) error {
	nodeID, err := am.identity.Resolve(ctx, in.NodeID)
	if err != nil {
		return err
	}
	if err := icapi.Validate(ctx, in); err != nil {
		return err
	}
	ctx = log.WithLogField(ctx, "ref", in.ReferenceID)
	if err := am.checkAssuranceLevels(ctx, in.MinIAL, in.MinAAL); err != nil {
		return err
	}
	for _, ns := range in.SupportedNamespaceList {
		registered, err := am.queries.IsNamespaceRegistered(ctx, ns)
		if err != nil {
			return err
		}
		if !registered {
			return i18n.NewError(ctx, msgs.MsgNamespaceNotRegistered, ns)
		}
	}
	existing, err := am.serviceDestination(ctx, nodeID, in.ServiceID)
	if err != nil {
		return err
	}
	fnName := ledgerapi.TxRegisterServiceDestination
	if existing != nil {
		fnName = ledgerapi.TxUpdateServiceDestination
	}
	log.L(ctx).Infof("Submitting %s for service %s", fnName, in.ServiceID)
	return am.submit(ctx, &txResultArgs{
		NodeID:       nodeID,
		ReferenceID:  in.ReferenceID,
		CallbackURL:  in.CallbackURL,
		CallbackType: icapi.CallbackTypeAddOrUpdateServiceResult,
		FnName:       fnName,
	}, &ledgerapi.ServiceDestinationParams{
		ServiceID:              in.ServiceID,
		MinIAL:                 in.MinIAL,
		MinAAL:                 in.MinAAL,
		URL:                    in.URL,
		SupportedNamespaceList: in.SupportedNamespaceList,
		Active:                 in.Active,
	})
}

func (am *asManager) SetServicePrice(ctx context.Context, in *icapi.ServicePriceInput) error {
	nodeID, err := am.identity.Resolve(ctx, in.NodeID)
	if err != nil {
		return err
	}
	if err := icapi.Validate(ctx, in); err != nil {
		return err
	}
	ctx = log.WithLogField(ctx, "ref", in.ReferenceID)
	if in.PriceMax < in.PriceMin {
		return i18n.NewError(ctx, msgs.MsgServicePriceInvalid, in.ServiceID, in.PriceMax, in.PriceMin)
	}
	existing, err := am.serviceDestination(ctx, nodeID, in.ServiceID)
	if err != nil {
		return err
	}
	if existing == nil {
		return i18n.NewError(ctx, msgs.MsgServiceDestinationNotFound, nodeID, in.ServiceID)
	}
	effective := in.EffectiveDatetime
	if effective == 0 {
		effective = time.Now().UnixMilli()
	}
	return am.submit(ctx, &txResultArgs{
		NodeID:       nodeID,
		ReferenceID:  in.ReferenceID,
		CallbackURL:  in.CallbackURL,
		CallbackType: icapi.CallbackTypeSetServicePriceResult,
		FnName:       ledgerapi.TxSetServicePrice,
	}, &ledgerapi.ServicePriceParams{
		ServiceID:         in.ServiceID,
		PriceMin:          in.PriceMin,
		PriceMax:          in.PriceMax,
		Currency:          in.Currency,
		EffectiveDatetime: effective,
		MoreInfoURL:       in.MoreInfoURL,
		Detail:            in.Detail,
	})
}

// CreateASResponse commits the hash of the data, or an error code, as this node's
// answer to one service of a request
func (am *asManager) CreateASResponse(ctx context.Context, in *icapi.ASResponseInput) error {
	nodeID, err := am.identity.Resolve(ctx, in.NodeID)
	if err != nil {
		return err
	}
	if err := icapi.Validate(ctx, in); err != nil {
		return err
	}
	ctx = log.WithLogField(ctx, "req", in.RequestID)
	if err := am.checkASResponse(ctx, nodeID, in); err != nil {
		return err
	}
	params := &ledgerapi.CreateAsResponseParams{
		RequestID: in.RequestID,
		ServiceID: in.ServiceID,
		ErrorCode: in.ErrorCode,
	}
	if in.ErrorCode == nil {
		params.Signature = cryptoutil.Hash(in.Data)
	}
	return am.submit(ctx, &txResultArgs{
		NodeID:       nodeID,
		ReferenceID:  in.ReferenceID,
		CallbackURL:  in.CallbackURL,
		CallbackType: icapi.CallbackTypeASResponseResult,
		RequestID:    &in.RequestID,
		FnName:       ledgerapi.TxCreateAsResponse,
	}, params)
}

func (am *asManager) checkASResponse(ctx context.Context, nodeID string, in *icapi.ASResponseInput) error {
	rd, err := am.queries.GetRequestDetailRequired(ctx, in.RequestID)
	if err != nil {
		return err
	}
	switch {
	case rd.Closed:
		return i18n.NewError(ctx, msgs.MsgRequestIsClosed, in.RequestID)
	case rd.TimedOut:
		return i18n.NewError(ctx, msgs.MsgRequestIsTimedOut, in.RequestID)
	case rd.NonErrorResponseCount() < rd.MinIdp:
		return i18n.NewError(ctx, msgs.MsgConsentNotComplete, in.RequestID)
	}
	i := slices.IndexFunc(rd.DataRequestList, func(dr *icapi.LedgerDataRequest) bool { return dr.ServiceID == in.ServiceID })
	if i < 0 || !slices.Contains(rd.DataRequestList[i].AsIDList, nodeID) {
		return i18n.NewError(ctx, msgs.MsgASNotInRequest, nodeID, in.ServiceID, in.RequestID)
	}
	if slices.Contains(rd.DataRequestList[i].AnsweredAsIDList, nodeID) {
		return i18n.NewError(ctx, msgs.MsgDuplicateASResponse, nodeID, in.ServiceID, in.RequestID)
	}
	if in.ErrorCode != nil {
		codes, err := am.queries.GetErrorCodeList(ctx, ledgerapi.ErrorCodeTypeAS)
		if err != nil {
			return err
		}
		if !slices.ContainsFunc(codes, func(c *icapi.ErrorCodeInfo) bool { return c.ErrorCode == *in.ErrorCode }) {
			return i18n.NewError(ctx, msgs.MsgInvalidASErrorCode, *in.ErrorCode)
		}
	}
	return nil
}

func (am *asManager) checkAssuranceLevels(ctx context.Context, minIAL, minAAL float64) error {
	ials, err := am.queries.GetSupportedIALList(ctx)
	if err != nil {
		return err
	}
	if !ledgerapi.ContainsFloat(ials, minIAL) {
		return i18n.NewError(ctx, msgs.MsgUnsupportedIAL, minIAL, ials)
	}
	aals, err := am.queries.GetSupportedAALList(ctx)
	if err != nil {
		return err
	}
	if !ledgerapi.ContainsFloat(aals, minAAL) {
		return i18n.NewError(ctx, msgs.MsgUnsupportedAAL, minAAL, aals)
	}
	return nil
}

// serviceDestination returns nil if the node is not a destination of the service.
// Inactive destinations are not listed by the ledger, so they count as not registered.
func (am *asManager) serviceDestination(ctx context.Context, nodeID, serviceID string) (*icapi.AsNode, error) {
	nodes, err := am.queries.GetAsNodesInfoByServiceID(ctx, serviceID)
	if err != nil {
		return nil, err
	}
	for _, n := range nodes {
		if n.NodeID == nodeID {
			return n, nil
		}
	}
	return nil, nil
}

func (am *asManager) submit(ctx context.Context, args *txResultArgs, params any) error {
	_, err := am.ledger.Transact(ctx, &ledger.TxRequest{
		NodeID:                      args.NodeID,
		FnName:                      args.FnName,
		Params:                      params,
		Continuation:                dispatch.NewContinuation(txResultKind, args),
		SaveForRetryOnChainDisabled: true,
		RetryOnFail:                 true,
	})
	return err
}

func (am *asManager) onTxResult(ctx context.Context, args *txResultArgs, outcome *ledger.TxOutcome) error {
	ctx = log.WithLogField(ctx, "ref", args.ReferenceID)
	cb := icapi.NewCallbackBase(args.NodeID, args.CallbackType, args.ReferenceID, args.RequestID)
	if outcome.Err != nil {
		err := i18n.WrapError(ctx, outcome.Err, msgs.MsgASOperationFailed, args.FnName, args.ReferenceID)
		log.L(ctx).Errorf("%s", err)
		cb.FailWithError(err)
	} else {
		log.L(ctx).Infof("%s committed at height %d", args.FnName, outcome.Height)
	}
	if args.CallbackURL == "" {
		return nil
	}
	_, err := am.callbacks.Send(ctx, am.p.NOTX(), &components.CallbackRequest{
		NodeID: args.NodeID,
		URL:    args.CallbackURL,
		Body:   &cb,
		Retry:  true,
	})
	return err
}
