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

	"github.com/hyperledger/firefly-common/pkg/i18n"
	"github.com/ndidplatform/idconsent/internal/components"
	"github.com/ndidplatform/idconsent/internal/keyedlock"
	"github.com/ndidplatform/idconsent/internal/ledgerapi"
	"github.com/ndidplatform/idconsent/internal/msgs"
	"github.com/ndidplatform/idconsent/pkg/icapi"
	"github.com/ndidplatform/idconsent/pkg/ledger"
	"github.com/ndidplatform/idconsent/pkg/log"
	"github.com/ndidplatform/idconsent/pkg/persistence"
)

// closer is the caller of an explicit close, who is told the result
type closer struct {
	ReferenceID string
	CallbackURL string
}

func (rm *requestManager) CloseRequest(ctx context.Context, in *icapi.CloseRequestInput) error {
	nodeID, err := rm.identity.Resolve(ctx, in.NodeID)
	if err != nil {
		return err
	}
	if err := icapi.Validate(ctx, in); err != nil {
		return err
	}
	ctx = log.WithLogField(ctx, "req", in.RequestID)
	if _, err := rm.checkClosable(ctx, nodeID, in.RequestID); err != nil {
		return err
	}
	c := &closer{ReferenceID: in.ReferenceID, CallbackURL: in.CallbackURL}
	asyncCtx := log.WithLogger(rm.bgCtx, log.L(ctx))
	rm.goAsync(func() {
		if err := rm.closeOrTimeOut(asyncCtx, nodeID, in.RequestID, false, c); err != nil {
			log.L(asyncCtx).Errorf("Close failed: %s", err)
		}
	})
	return nil
}

func (rm *requestManager) checkClosable(ctx context.Context, nodeID, requestID string) (*icapi.RequestDetail, error) {
	rd, err := rm.queries.GetRequestDetailRequired(ctx, requestID)
	switch {
	case err != nil:
		return nil, err
	case rd.RequesterNodeID != nodeID:
		return nil, i18n.NewError(ctx, msgs.MsgRequestNotOwnedByNode, requestID, nodeID)
	case rd.Closed:
		return nil, i18n.NewError(ctx, msgs.MsgRequestIsClosed, requestID)
	case rd.TimedOut:
		return nil, i18n.NewError(ctx, msgs.MsgRequestIsTimedOut, requestID)
	}
	return rd, nil
}

// closeOrTimeOut commits the validity judgments made so far to the ledger along with the
// close or timeout, then performs the local side effects
func (rm *requestManager) closeOrTimeOut(ctx context.Context, nodeID, requestID string, timedOut bool, c *closer) error {
	release, err := rm.locks.Lock(ctx, keyedlock.RequestKey(nodeID, requestID))
	if err != nil {
		return err
	}
	defer release()

	if _, err := rm.checkClosable(ctx, nodeID, requestID); err != nil {
		rm.notifyCloseFailed(ctx, nodeID, requestID, c, err)
		return err
	}
	lr, err := rm.loadRequest(ctx, rm.p.NOTX(), nodeID, requestID)
	if err != nil {
		return err
	}
	validList, err := rm.getResponseValidList(ctx, rm.p.NOTX(), nodeID, requestID)
	if err != nil {
		return err
	}

	fnName, failMsg := ledgerapi.TxCloseRequest, msgs.MsgRequestCloseFailed
	if timedOut {
		fnName, failMsg = ledgerapi.TxTimeOutRequest, msgs.MsgRequestTimeoutFailed
	}
	res, err := rm.ledger.Transact(ctx, &ledger.TxRequest{
		NodeID: nodeID,
		FnName: fnName,
		Params: &ledgerapi.CloseRequestParams{
			RequestID:         requestID,
			ResponseValidList: validList,
		},
		RetryOnFail: true,
	})
	if err != nil {
		err = i18n.WrapError(ctx, err, failMsg, requestID)
		rm.notifyCloseFailed(ctx, nodeID, requestID, c, err)
		// a failed timeout is retried, so waiters hear only the final outcome
		if lr != nil && !timedOut {
			rm.dispatchClosed(ctx, lr, &components.RequestClosedEvent{
				NodeID:      nodeID,
				RequestID:   requestID,
				ReferenceID: lr.req.ReferenceID,
				Err:         err,
			})
		}
		return err
	}
	log.L(ctx).Infof("Request closed at height %d (timedOut=%t)", res.Height, timedOut)

	rd, err := rm.queries.GetRequestDetailRequired(ctx, requestID)
	if err != nil {
		return err
	}
	if lr == nil {
		rm.cancelTimeout(nodeID, requestID)
		return rm.sendCloseResult(ctx, rm.p.NOTX(), nodeID, requestID, c)
	}
	return rm.finishClosed(ctx, lr, rd, res.Height, c)
}

// finishClosed removes the local state of a request the ledger has closed, and tells
// everyone who is waiting on it
func (rm *requestManager) finishClosed(ctx context.Context, lr *localRequest, rd *icapi.RequestDetail, height int64, c *closer) error {
	sr := lr.req
	rm.cancelTimeout(sr.NodeID, sr.RequestID)
	validList, err := rm.getResponseValidList(ctx, rm.p.NOTX(), sr.NodeID, sr.RequestID)
	if err != nil {
		return err
	}
	err = rm.p.Transaction(ctx, func(ctx context.Context, dbTX persistence.DBTX) error {
		if err := rm.deleteRequest(ctx, dbTX, sr.NodeID, sr.RequestID); err != nil {
			return err
		}
		if err := rm.sendCloseResult(ctx, dbTX, sr.NodeID, sr.RequestID, c); err != nil {
			return err
		}
		return rm.sendRequestStatus(ctx, dbTX, sr, rd, validList, height)
	})
	if err != nil {
		return err
	}
	rm.dispatchClosed(ctx, lr, &components.RequestClosedEvent{
		NodeID:            sr.NodeID,
		RequestID:         sr.RequestID,
		ReferenceID:       sr.ReferenceID,
		Status:            rd.Status(),
		Closed:            rd.Closed,
		TimedOut:          rd.TimedOut,
		ResponseValidList: validList,
	})
	return nil
}

func (rm *requestManager) sendCloseResult(ctx context.Context, dbTX persistence.DBTX, nodeID, requestID string, c *closer) error {
	if c == nil || c.CallbackURL == "" {
		return nil
	}
	_, err := rm.callbacks.Send(ctx, dbTX, &components.CallbackRequest{
		NodeID: nodeID,
		URL:    c.CallbackURL,
		Body:   icapi.NewCallbackBase(nodeID, icapi.CallbackTypeCloseRequestResult, c.ReferenceID, &requestID),
		Retry:  true,
	})
	return err
}

func (rm *requestManager) notifyCloseFailed(ctx context.Context, nodeID, requestID string, c *closer, err error) {
	if c == nil || c.CallbackURL == "" {
		return
	}
	cb := icapi.NewCallbackBase(nodeID, icapi.CallbackTypeCloseRequestResult, c.ReferenceID, &requestID)
	cb.FailWithError(err)
	_, sendErr := rm.callbacks.Send(ctx, rm.p.NOTX(), &components.CallbackRequest{
		NodeID: nodeID,
		URL:    c.CallbackURL,
		Body:   cb,
		Retry:  true,
	})
	if sendErr != nil {
		log.L(ctx).Errorf("Failed to report close failure: %s", sendErr)
	}
}

// sendRequestStatus reports the ledger view of a request to its creator
func (rm *requestManager) sendRequestStatus(ctx context.Context, dbTX persistence.DBTX, sr *storedRequest, rd *icapi.RequestDetail, validList []*icapi.ResponseValid, height int64) error {
	if sr.CallbackURL == "" {
		return nil
	}
	if validList == nil {
		validList = []*icapi.ResponseValid{}
	}
	_, err := rm.callbacks.Send(ctx, dbTX, &components.CallbackRequest{
		NodeID: sr.NodeID,
		URL:    sr.CallbackURL,
		Body: &icapi.RequestStatusCallback{
			CallbackBase:      icapi.NewCallbackBase(sr.NodeID, icapi.CallbackTypeRequestStatus, sr.ReferenceID, &sr.RequestID),
			Mode:              sr.Mode,
			Status:            rd.Status(),
			MinIdp:            rd.MinIdp,
			AnsweredIdpCount:  len(rd.ResponseList),
			Closed:            rd.Closed,
			TimedOut:          rd.TimedOut,
			ResponseValidList: validList,
			BlockHeight:       height,
		},
		Retry: true,
	})
	return err
}
