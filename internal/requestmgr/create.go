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

package requestmgr

import (
	"context"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/hyperledger/firefly-common/pkg/i18n"
	"github.com/ndidplatform/idconsent/internal/components"
	"github.com/ndidplatform/idconsent/internal/cryptoutil"
	"github.com/ndidplatform/idconsent/internal/dispatch"
	"github.com/ndidplatform/idconsent/internal/keyedlock"
	"github.com/ndidplatform/idconsent/internal/ledgerapi"
	"github.com/ndidplatform/idconsent/internal/msgs"
	"github.com/ndidplatform/idconsent/pkg/icapi"
	"github.com/ndidplatform/idconsent/pkg/ledger"
	"github.com/ndidplatform/idconsent/pkg/log"
	"github.com/ndidplatform/idconsent/pkg/persistence"
)

func (rm *requestManager) CreateRequest(ctx context.Context, in *icapi.CreateRequestInput, opts *components.CreateRequestOptions) (*icapi.CreateRequestResult, error) {
	if opts == nil {
		opts = &components.CreateRequestOptions{}
	}
	nodeID, err := rm.identity.Resolve(ctx, in.NodeID)
	if err != nil {
		return nil, err
	}
	if err := icapi.Validate(ctx, in); err != nil {
		return nil, err
	}
	ctx = log.WithLogField(ctx, "ref", in.ReferenceID)
	if err := rm.validateAgainstLedger(ctx, in); err != nil {
		return nil, err
	}

	release, err := rm.locks.Lock(ctx, keyedlock.ReferenceKey(nodeID, in.ReferenceID))
	if err != nil {
		return nil, err
	}
	defer release()

	// a duplicate may be a retry of a call that succeeded, so its state is left alone
	existing, err := rm.getRequestIDByReference(ctx, rm.p.NOTX(), nodeID, in.ReferenceID)
	if err != nil {
		return nil, err
	}
	if existing != "" {
		return nil, i18n.NewError(ctx, msgs.MsgDuplicateReferenceID, in.ReferenceID)
	}

	sr, err := rm.buildRequest(ctx, nodeID, in, opts)
	if err != nil {
		return nil, err
	}
	ctx = log.WithLogField(ctx, "req", sr.RequestID)

	// stored before the ledger sees it, so early messages about the request find it
	err = rm.p.Transaction(ctx, func(ctx context.Context, dbTX persistence.DBTX) error {
		return rm.insertRequest(ctx, dbTX, sr, opts.OnClosed)
	})
	if err != nil {
		return nil, err
	}

	_, err = rm.ledger.Transact(ctx, &ledger.TxRequest{
		NodeID:                      nodeID,
		FnName:                      ledgerapi.TxCreateRequest,
		Params:                      createRequestParams(sr),
		Continuation:                dispatch.NewContinuation(createdKind, &requestArgs{NodeID: nodeID, RequestID: sr.RequestID}),
		SaveForRetryOnChainDisabled: true,
		RetryOnFail:                 true,
	})
	if err != nil {
		rm.cleanupRequest(ctx, nodeID, sr.RequestID)
		return nil, err
	}
	log.L(ctx).Infof("Request submitted: mode=%d min_idp=%d receivers=%v", sr.Mode, sr.MinIdp, sr.IdpIDList)
	return &icapi.CreateRequestResult{
		RequestID:   sr.RequestID,
		InitialSalt: sr.InitialSalt,
	}, nil
}

func (rm *requestManager) validateAgainstLedger(ctx context.Context, in *icapi.CreateRequestInput) error {
	modes, err := rm.queries.GetAllowedModeList(ctx, in.Purpose)
	if err != nil {
		return err
	}
	if !icapi.ContainsMode(modes, in.Mode) {
		return i18n.NewError(ctx, msgs.MsgModeNotAllowed, in.Mode, in.Purpose, modes)
	}
	ials, err := rm.queries.GetSupportedIALList(ctx)
	if err != nil {
		return err
	}
	if !ledgerapi.ContainsFloat(ials, in.MinIAL) {
		return i18n.NewError(ctx, msgs.MsgUnsupportedIAL, in.MinIAL, ials)
	}
	aals, err := rm.queries.GetSupportedAALList(ctx)
	if err != nil {
		return err
	}
	if !ledgerapi.ContainsFloat(aals, in.MinAAL) {
		return i18n.NewError(ctx, msgs.MsgUnsupportedAAL, in.MinAAL, aals)
	}
	if in.RequestType != nil {
		types, err := rm.queries.GetRequestTypeList(ctx)
		if err != nil {
			return err
		}
		if !slices.Contains(types, *in.RequestType) {
			return i18n.NewError(ctx, msgs.MsgInvalidRequestType, *in.RequestType)
		}
	}
	if in.Mode.UsesReferenceGroup() && in.Namespace == "" {
		return i18n.NewError(ctx, msgs.MsgInvalidInput, "namespace and identifier are required for mode 2 and 3")
	}
	if in.Namespace != "" {
		registered, err := rm.queries.IsNamespaceRegistered(ctx, in.Namespace)
		if err != nil {
			return err
		}
		if !registered {
			return i18n.NewError(ctx, msgs.MsgNamespaceNotRegistered, in.Namespace)
		}
	}
	return nil
}

func (rm *requestManager) resolveRequestID(ctx context.Context, nodeID, requestID string) (string, error) {
	if requestID == "" {
		return uuid.NewString(), nil
	}
	if _, err := uuid.Parse(requestID); err != nil {
		return "", i18n.NewError(ctx, msgs.MsgRequestIDInvalid, requestID)
	}
	lr, err := rm.loadRequest(ctx, rm.p.NOTX(), nodeID, requestID)
	if err != nil {
		return "", err
	}
	rd, err := rm.queries.GetRequestDetail(ctx, requestID, 0)
	if err != nil {
		return "", err
	}
	if lr != nil || rd != nil {
		return "", i18n.NewError(ctx, msgs.MsgRequestIDAlreadyUsed, requestID)
	}
	return requestID, nil
}

func (rm *requestManager) resolveInitialSalt(ctx context.Context, initialSalt string) (string, error) {
	if initialSalt == "" {
		return cryptoutil.GenerateSalt()
	}
	if len(initialSalt) < rm.minSaltLength {
		return "", i18n.NewError(ctx, msgs.MsgInitialSaltTooShort, rm.minSaltLength)
	}
	return initialSalt, nil
}

// buildRequest runs every check that can reject the request, before anything is stored
func (rm *requestManager) buildRequest(ctx context.Context, nodeID string, in *icapi.CreateRequestInput, opts *components.CreateRequestOptions) (*storedRequest, error) {
	requestID, err := rm.resolveRequestID(ctx, nodeID, in.RequestID)
	if err != nil {
		return nil, err
	}
	initialSalt, err := rm.resolveInitialSalt(ctx, in.InitialSalt)
	if err != nil {
		return nil, err
	}

	idpIDList, implicit, err := rm.eligibility.EnforceWhitelist(ctx, nodeID, in.IdpIDList)
	if err != nil {
		return nil, err
	}
	selection, err := rm.eligibility.SelectIdpCandidates(ctx, &components.IdpSelectionInput{
		RequesterNodeID:           nodeID,
		Mode:                      in.Mode,
		Namespace:                 in.Namespace,
		Identifier:                in.Identifier,
		MinIAL:                    in.MinIAL,
		MinAAL:                    in.MinAAL,
		MinIdp:                    in.MinIdp,
		IdpIDList:                 idpIDList,
		BypassIdentityCheck:       in.BypassIdentityCheck,
		RequestMessageDataURLType: in.RequestMessageDataURLType,
		ImplicitIdpIDList:         implicit,
	})
	if err != nil {
		return nil, err
	}
	dataRequests := copyDataRequests(in.DataRequestList)
	err = rm.eligibility.SelectAsCandidates(ctx, &components.AsSelectionInput{
		RequesterNodeID: nodeID,
		Namespace:       in.Namespace,
		MinIAL:          in.MinIAL,
		MinAAL:          in.MinAAL,
		DataRequestList: dataRequests,
	})
	if err != nil {
		return nil, err
	}

	var rgCode string
	if in.Mode.UsesReferenceGroup() {
		if rgCode, err = rm.queries.GetReferenceGroupCode(ctx, in.Namespace, in.Identifier); err != nil {
			return nil, err
		}
		if rgCode == "" && len(selection.ReceiversWithRefGroupCode) > 0 {
			return nil, i18n.NewError(ctx, msgs.MsgReferenceGroupNotFound, requestID)
		}
	}

	messageSalt := cryptoutil.RequestMessageSalt(initialSalt, requestID)
	for _, dr := range dataRequests {
		dr.RequestParamsSalt = cryptoutil.RequestParamsSalt(initialSalt, requestID, dr.ServiceID)
	}
	return &storedRequest{
		Request: icapi.Request{
			RequestID:                 requestID,
			NodeID:                    nodeID,
			ReferenceID:               in.ReferenceID,
			CallbackURL:               in.CallbackURL,
			Mode:                      in.Mode,
			Namespace:                 in.Namespace,
			Identifier:                in.Identifier,
			ReferenceGroupCode:        rgCode,
			IdpIDList:                 selection.Receivers,
			ReceiversWithSid:          selection.ReceiversWithSid,
			ReceiversWithRefGroupCode: selection.ReceiversWithRefGroupCode,
			DataRequestList:           dataRequests,
			RequestMessage:            in.RequestMessage,
			RequestMessageSalt:        messageSalt,
			RequestMessageHash:        cryptoutil.HashWithSalt(in.RequestMessage, messageSalt),
			InitialSalt:               initialSalt,
			MinIAL:                    in.MinIAL,
			MinAAL:                    in.MinAAL,
			MinIdp:                    in.MinIdp,
			RequestTimeout:            in.RequestTimeout,
			Purpose:                   in.Purpose,
			RequestType:               in.RequestType,
		},
		SuppressCallback: opts.SuppressCallback,
	}, nil
}

func copyDataRequests(list []*icapi.DataRequest) []*icapi.DataRequest {
	copied := make([]*icapi.DataRequest, len(list))
	for i, dr := range list {
		c := *dr
		c.AsIDList = slices.Clone(dr.AsIDList)
		copied[i] = &c
	}
	return copied
}

// createRequestParams carries only hashes of the request content
func createRequestParams(sr *storedRequest) *ledgerapi.CreateRequestParams {
	dataRequests := make([]*icapi.LedgerDataRequest, len(sr.DataRequestList))
	for i, dr := range sr.DataRequestList {
		dataRequests[i] = &icapi.LedgerDataRequest{
			ServiceID:         dr.ServiceID,
			AsIDList:          dr.AsIDList,
			MinAs:             dr.MinAs,
			RequestParamsHash: cryptoutil.HashWithSalt(dr.RequestParams, dr.RequestParamsSalt),
		}
	}
	return &ledgerapi.CreateRequestParams{
		RequestID:          sr.RequestID,
		Mode:               sr.Mode,
		MinIdp:             sr.MinIdp,
		MinIAL:             sr.MinIAL,
		MinAAL:             sr.MinAAL,
		RequestTimeout:     sr.RequestTimeout,
		IdpIDList:          sr.IdpIDList,
		DataRequestList:    dataRequests,
		RequestMessageHash: sr.RequestMessageHash,
		Purpose:            sr.Purpose,
		RequestType:        sr.RequestType,
	}
}

func (rm *requestManager) onCreated(ctx context.Context, args *requestArgs, outcome *ledger.TxOutcome) error {
	ctx = log.WithLogField(ctx, "req", args.RequestID)
	release, err := rm.locks.Lock(ctx, keyedlock.RequestKey(args.NodeID, args.RequestID))
	if err != nil {
		return err
	}
	defer release()

	lr, err := rm.loadRequest(ctx, rm.p.NOTX(), args.NodeID, args.RequestID)
	if err != nil {
		return err
	}
	switch {
	case lr == nil:
		log.L(ctx).Warnf("Request data no longer available after ledger creation")
		return nil
	case lr.row.Confirmed != nil:
		log.L(ctx).Debugf("Request creation already confirmed")
		return nil
	case outcome.Err != nil:
		rm.createFailed(ctx, lr, outcome.Err)
		return nil
	}
	if err := rm.confirmCreated(ctx, lr, outcome.Height); err != nil {
		rm.createFailed(ctx, lr, err)
	}
	return nil
}

func (rm *requestManager) confirmCreated(ctx context.Context, lr *localRequest, height int64) error {
	sr := lr.req
	now := time.Now()
	timeoutAt := now.Add(time.Duration(sr.RequestTimeout) * time.Second)
	sr.CreationTime = now.UnixMilli()
	sr.CreationBlockHeight = height
	log.L(ctx).Infof("Request created at height %d", height)

	if sr.MinIdp > 0 {
		if err := rm.fanOut(ctx, sr); err != nil {
			return err
		}
	}

	return rm.p.Transaction(ctx, func(ctx context.Context, dbTX persistence.DBTX) error {
		dbTX.AddPostCommit(func(ctx context.Context) {
			rm.scheduleTimeout(sr.NodeID, sr.RequestID, timeoutAt)
		})
		err := dbTX.DB().WithContext(ctx).
			Model(&persistedRequest{}).
			Where("node_id = ? AND request_id = ?", sr.NodeID, sr.RequestID).
			Updates(map[string]any{
				"confirmed":             now.UnixNano(),
				"creation_block_height": height,
				"timeout_at":            timeoutAt.UnixNano(),
			}).Error
		if err != nil {
			return err
		}
		if url := callerURL(sr); url != "" {
			_, err = rm.callbacks.Send(ctx, dbTX, &components.CallbackRequest{
				NodeID: sr.NodeID,
				URL:    url,
				Body: &icapi.CreateRequestCallback{
					CallbackBase:        icapi.NewCallbackBase(sr.NodeID, icapi.CallbackTypeCreateRequestResult, sr.ReferenceID, &sr.RequestID),
					CreationBlockHeight: height,
				},
				Retry: true,
			})
		}
		return err
	})
}

// fanOut sends the full request to the IdPs, addressed by identifier or by reference group
func (rm *requestManager) fanOut(ctx context.Context, sr *storedRequest) error {
	if len(sr.ReceiversWithSid) > 0 {
		cr := consentRequestMessage(sr)
		cr.Namespace = sr.Namespace
		cr.Identifier = sr.Identifier
		if err := rm.SendMessage(ctx, sr.NodeID, sr.ReceiversWithSid, icapi.NewConsentRequestMessage(cr)); err != nil {
			return err
		}
	}
	if len(sr.ReceiversWithRefGroupCode) > 0 {
		cr := consentRequestMessage(sr)
		cr.ReferenceGroupCode = sr.ReferenceGroupCode
		if err := rm.SendMessage(ctx, sr.NodeID, sr.ReceiversWithRefGroupCode, icapi.NewConsentRequestMessage(cr)); err != nil {
			return err
		}
	}
	return nil
}

func consentRequestMessage(sr *storedRequest) *icapi.ConsentRequestMessage {
	return &icapi.ConsentRequestMessage{
		RequestID:           sr.RequestID,
		RequesterNodeID:     sr.NodeID,
		Mode:                sr.Mode,
		RequestMessage:      sr.RequestMessage,
		RequestMessageSalt:  sr.RequestMessageSalt,
		InitialSalt:         sr.InitialSalt,
		DataRequestList:     sr.DataRequestList,
		MinIAL:              sr.MinIAL,
		MinAAL:              sr.MinAAL,
		MinIdp:              sr.MinIdp,
		RequestTimeout:      sr.RequestTimeout,
		Purpose:             sr.Purpose,
		RequestType:         sr.RequestType,
		CreationTime:        sr.CreationTime,
		CreationBlockHeight: sr.CreationBlockHeight,
	}
}

func callerURL(sr *storedRequest) string {
	if sr.SuppressCallback {
		return ""
	}
	return sr.CallbackURL
}

func (rm *requestManager) createFailed(ctx context.Context, lr *localRequest, cause error) {
	sr := lr.req
	err := i18n.WrapError(ctx, cause, msgs.MsgRequestCreateFailed, sr.RequestID)
	log.L(ctx).Errorf("%s", err)
	rm.cancelTimeout(sr.NodeID, sr.RequestID)
	dbErr := rm.p.Transaction(ctx, func(ctx context.Context, dbTX persistence.DBTX) error {
		if err := rm.deleteRequest(ctx, dbTX, sr.NodeID, sr.RequestID); err != nil {
			return err
		}
		url := callerURL(sr)
		if url == "" {
			return nil
		}
		cb := &icapi.CreateRequestCallback{
			CallbackBase: icapi.NewCallbackBase(sr.NodeID, icapi.CallbackTypeCreateRequestResult, sr.ReferenceID, &sr.RequestID),
		}
		cb.FailWithError(err)
		_, cbErr := rm.callbacks.Send(ctx, dbTX, &components.CallbackRequest{
			NodeID: sr.NodeID,
			URL:    url,
			Body:   cb,
			Retry:  true,
		})
		return cbErr
	})
	if dbErr != nil {
		log.L(ctx).Errorf("Failed to clean up request after creation failure: %s", dbErr)
	}
	rm.dispatchClosed(ctx, lr, &components.RequestClosedEvent{
		NodeID:      sr.NodeID,
		RequestID:   sr.RequestID,
		ReferenceID: sr.ReferenceID,
		Err:         err,
	})
}

// cleanupRequest removes everything stored locally for a request that never reached the ledger
func (rm *requestManager) cleanupRequest(ctx context.Context, nodeID, requestID string) {
	rm.cancelTimeout(nodeID, requestID)
	err := rm.p.Transaction(ctx, func(ctx context.Context, dbTX persistence.DBTX) error {
		return rm.deleteRequest(ctx, dbTX, nodeID, requestID)
	})
	if err != nil {
		log.L(ctx).Errorf("Failed to clean up request %s: %s", requestID, err)
	}
}

func (rm *requestManager) dispatchClosed(ctx context.Context, lr *localRequest, ev *components.RequestClosedEvent) {
	if lr.onClosed == nil {
		return
	}
	if _, err := rm.onClosed.Dispatch(ctx, lr.onClosed, ev); err != nil {
		log.L(ctx).Errorf("Request closed handler %s failed: %s", lr.onClosed.Kind, err)
	}
}
