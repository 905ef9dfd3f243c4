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
	"encoding/json"
	"slices"
	"time"

	"github.com/hyperledger/firefly-common/pkg/i18n"
	"github.com/ndidplatform/idconsent/internal/components"
	"github.com/ndidplatform/idconsent/internal/cryptoutil"
	"github.com/ndidplatform/idconsent/internal/dispatch"
	"github.com/ndidplatform/idconsent/internal/keyedlock"
	"github.com/ndidplatform/idconsent/internal/ledgerapi"
	"github.com/ndidplatform/idconsent/internal/msgs"
	"github.com/ndidplatform/idconsent/pkg/icapi"
	"github.com/ndidplatform/idconsent/pkg/log"
	"github.com/ndidplatform/idconsent/pkg/persistence"
	"github.com/ndidplatform/idconsent/pkg/transport"
	"gorm.io/gorm/clause"
)

// A node can be both requester and IdP of one request, so receipts are per role
const (
	receiptRoleIdP = "idp"
	receiptRoleRP  = "rp"
)

func (rm *requestManager) processedHeight() int64 {
	h := rm.ledger.ProcessedHeight()
	if seen := rm.seenHeight.Load(); seen > h {
		return seen
	}
	return h
}

// handleMessage defers any message about ledger state this node has not processed yet
func (rm *requestManager) handleMessage(ctx context.Context, env *transport.Envelope) error {
	msg := env.Message
	rm.inboundLock.Lock()
	if msg.Height() > rm.processedHeight() {
		defer rm.inboundLock.Unlock()
		return rm.bufferMessage(ctx, env)
	}
	rm.inboundLock.Unlock()
	rm.processMessage(ctx, env.ReceiverNodeID, env.SenderNodeID, msg)
	return nil
}

func (rm *requestManager) bufferMessage(ctx context.Context, env *transport.Envelope) error {
	data, err := json.Marshal(env.Message)
	if err != nil {
		return err
	}
	log.L(ctx).Debugf("Buffering %s for request %s until block %d is processed", env.Message.Type, env.Message.RequestID(), env.Message.Height())
	return rm.p.DB().WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&pendingInboundMessage{
			NodeID:    env.ReceiverNodeID,
			MessageID: env.MessageID,
			FromNode:  env.SenderNodeID,
			Height:    env.Message.Height(),
			Message:   string(data),
			Received:  time.Now().UnixNano(),
		}).Error
}

func (rm *requestManager) handleBlocks(ctx context.Context, from, to int64) {
	rm.inboundLock.Lock()
	if to > rm.seenHeight.Load() {
		rm.seenHeight.Store(to)
	}
	rm.inboundLock.Unlock()
	rm.replayInbound(ctx, to)
	rm.sweepReceived(ctx)
}

// sweepReceived drops the copies of requests received as an IdP once the ledger
// shows them closed or timed out
func (rm *requestManager) sweepReceived(ctx context.Context) {
	now := time.Now()
	if last := rm.lastSweep.Load(); last != 0 && now.Sub(time.Unix(0, last)) < rm.sweepInterval {
		return
	}
	rm.lastSweep.Store(now.UnixNano())

	var rows []*receivedRequest
	err := rm.p.DB().WithContext(ctx).
		Select("node_id", "request_id").
		Order("created").
		Find(&rows).Error
	if err != nil {
		log.L(ctx).Errorf("Failed to load received requests: %s", err)
		return
	}
	for _, row := range rows {
		reqCtx := log.WithLogField(ctx, "req", row.RequestID)
		rd, err := rm.queries.GetRequestDetail(reqCtx, row.RequestID, 0)
		if err != nil {
			log.L(reqCtx).Warnf("Received request check deferred: %s", err)
			return
		}
		if rd != nil && !rd.Closed && !rd.TimedOut {
			continue
		}
		err = rm.p.Transaction(reqCtx, func(ctx context.Context, dbTX persistence.DBTX) error {
			return rm.deleteReceived(ctx, dbTX, row.NodeID, row.RequestID)
		})
		if err != nil {
			log.L(reqCtx).Errorf("Failed to remove received request: %s", err)
			return
		}
		log.L(reqCtx).Debugf("Removed request received by %s, no longer open", row.NodeID)
	}
}

// replayInbound processes buffered messages up to a height, in block then arrival order
func (rm *requestManager) replayInbound(ctx context.Context, upTo int64) {
	rm.replayLock.Lock()
	defer rm.replayLock.Unlock()
	var rows []*pendingInboundMessage
	err := rm.p.DB().WithContext(ctx).
		Where("height <= ?", upTo).
		Order("height").
		Order("received").
		Find(&rows).Error
	if err != nil {
		log.L(ctx).Errorf("Failed to load buffered messages: %s", err)
		return
	}
	for _, row := range rows {
		msgCtx := log.WithLogField(ctx, "msg", row.MessageID)
		msg, err := icapi.ParseMessage([]byte(row.Message))
		if err != nil || !msg.Valid() {
			log.L(msgCtx).Errorf("Discarding unreadable buffered message")
		} else {
			rm.processMessage(msgCtx, row.NodeID, row.FromNode, msg)
		}
		err = rm.p.DB().WithContext(ctx).
			Where("node_id = ? AND message_id = ?", row.NodeID, row.MessageID).
			Delete(&pendingInboundMessage{}).Error
		if err != nil {
			log.L(msgCtx).Errorf("Failed to remove buffered message: %s", err)
		}
	}
}

func (rm *requestManager) processMessage(ctx context.Context, nodeID, fromNode string, msg *icapi.Message) {
	rm.metrics.InboundProcessingInc()
	defer rm.metrics.InboundProcessingDec()
	ctx = log.WithLogField(ctx, "req", msg.RequestID())
	var err error
	switch msg.Type {
	case icapi.MessageTypeConsentRequest:
		err = rm.receiveConsentRequest(ctx, nodeID, fromNode, msg.ConsentRequest)
	case icapi.MessageTypeIdpResponse:
		err = rm.receiveIdpResponse(ctx, nodeID, fromNode, msg.IdpResponse)
	default:
		err = i18n.NewError(ctx, msgs.MsgTransportUnknownType, msg.Type)
	}
	if err != nil {
		log.L(ctx).Errorf("Failed to process %s from %s: %s", msg.Type, fromNode, err)
	}
}

func (rm *requestManager) receiveConsentRequest(ctx context.Context, nodeID, fromNode string, cr *icapi.ConsentRequestMessage) error {
	rd, err := rm.queries.GetRequestDetailRequired(ctx, cr.RequestID)
	if err != nil {
		return err
	}
	switch {
	case rd.RequesterNodeID != fromNode || cr.RequesterNodeID != fromNode:
		return i18n.NewError(ctx, msgs.MsgMessageSenderMismatch, cr.RequestID, rd.RequesterNodeID, fromNode)
	case !slices.Contains(rd.IdpIDList, nodeID):
		return i18n.NewError(ctx, msgs.MsgIdpNotInRequest, nodeID, cr.RequestID)
	case cr.RequestMessageSalt != cryptoutil.RequestMessageSalt(cr.InitialSalt, cr.RequestID),
		cryptoutil.HashWithSalt(cr.RequestMessage, cr.RequestMessageSalt) != rd.RequestMessageHash:
		return i18n.NewError(ctx, msgs.MsgRequestMessageMismatch, cr.RequestID)
	case rd.Closed || rd.TimedOut:
		log.L(ctx).Infof("Ignoring consent request that is no longer open")
		return nil
	}

	return rm.p.Transaction(ctx, func(ctx context.Context, dbTX persistence.DBTX) error {
		isNew, err := rm.recordReceipt(ctx, dbTX, nodeID, cr.RequestID, receiptRoleIdP, icapi.MessageTypeConsentRequest, fromNode)
		if err != nil || !isNew {
			return err
		}
		if err := rm.storeReceivedRequest(ctx, dbTX, nodeID, cr); err != nil {
			return err
		}
		dbTX.AddPostCommit(func(ctx context.Context) {
			rm.receivedCache.Set(keyedlock.RequestKey(nodeID, cr.RequestID), cr)
			log.L(ctx).Infof("Consent request received from %s for %s", fromNode, nodeID)
		})
		_, err = rm.callbacks.Send(ctx, dbTX, &components.CallbackRequest{
			NodeID:         nodeID,
			URLResolver:    rm.callbacks.NodeURLResolver(components.NodeURLIncomingRequest),
			Body:           incomingRequestCallback(nodeID, cr, rd),
			Retry:          true,
			RetryPredicate: dispatch.NewContinuation(requestOpenKind, &requestArgs{NodeID: nodeID, RequestID: cr.RequestID}),
		})
		return err
	})
}

func incomingRequestCallback(nodeID string, cr *icapi.ConsentRequestMessage, rd *icapi.RequestDetail) *icapi.IncomingRequestCallback {
	return &icapi.IncomingRequestCallback{
		CallbackBase:        icapi.NewCallbackBase(nodeID, icapi.CallbackTypeIncomingRequest, "", &cr.RequestID),
		Mode:                cr.Mode,
		RequesterNodeID:     cr.RequesterNodeID,
		Namespace:           cr.Namespace,
		Identifier:          cr.Identifier,
		ReferenceGroupCode:  cr.ReferenceGroupCode,
		RequestMessage:      cr.RequestMessage,
		RequestMessageHash:  rd.RequestMessageHash,
		RequestMessageSalt:  cr.RequestMessageSalt,
		MinIAL:              cr.MinIAL,
		MinAAL:              cr.MinAAL,
		DataRequestList:     cr.DataRequestList,
		RequestTimeout:      cr.RequestTimeout,
		Purpose:             cr.Purpose,
		CreationTime:        cr.CreationTime,
		CreationBlockHeight: cr.CreationBlockHeight,
	}
}

func (rm *requestManager) receiveIdpResponse(ctx context.Context, nodeID, fromNode string, ir *icapi.IdpResponseMessage) error {
	if ir.IdpID != fromNode {
		return i18n.NewError(ctx, msgs.MsgMessageSenderMismatch, ir.RequestID, ir.IdpID, fromNode)
	}
	release, err := rm.locks.Lock(ctx, keyedlock.RequestKey(nodeID, ir.RequestID))
	if err != nil {
		return err
	}
	closeNow, err := rm.recordIdpResponse(ctx, nodeID, ir)
	release()
	if err != nil || !closeNow {
		return err
	}
	// requests with a completion handler are closed as soon as the outcome is known
	asyncCtx := log.WithLogger(rm.bgCtx, log.L(ctx))
	rm.goAsync(func() {
		if err := rm.closeOrTimeOut(asyncCtx, nodeID, ir.RequestID, false, nil); err != nil {
			log.L(asyncCtx).Errorf("Automatic close failed: %s", err)
		}
	})
	return nil
}

func (rm *requestManager) recordIdpResponse(ctx context.Context, nodeID string, ir *icapi.IdpResponseMessage) (closeNow bool, err error) {
	lr, err := rm.loadRequest(ctx, rm.p.NOTX(), nodeID, ir.RequestID)
	if err != nil {
		return false, err
	}
	if lr == nil {
		log.L(ctx).Debugf("Response from %s for a request not open on %s", ir.IdpID, nodeID)
		return false, nil
	}
	rd, err := rm.queries.GetRequestDetailRequired(ctx, ir.RequestID)
	if err != nil {
		return false, err
	}
	resp := rd.ResponseFrom(ir.IdpID)
	if resp == nil {
		return false, i18n.NewError(ctx, msgs.MsgResponseNotOnLedger, ir.IdpID, ir.RequestID)
	}
	rv, err := rm.judgeResponse(ctx, lr.req, rd, resp, ir)
	if err != nil {
		return false, err
	}

	var isNew bool
	err = rm.p.Transaction(ctx, func(ctx context.Context, dbTX persistence.DBTX) (err error) {
		isNew, err = rm.recordReceipt(ctx, dbTX, nodeID, ir.RequestID, receiptRoleRP, icapi.MessageTypeIdpResponse, ir.IdpID)
		if err != nil || !isNew {
			return err
		}
		if err = rm.upsertResponseValidity(ctx, dbTX, nodeID, ir.RequestID, rv); err != nil {
			return err
		}
		validList, err := rm.getResponseValidList(ctx, dbTX, nodeID, ir.RequestID)
		if err != nil {
			return err
		}
		return rm.sendRequestStatus(ctx, dbTX, lr.req, rd, validList, ir.Height)
	})
	if err != nil || !isNew {
		return false, err
	}
	status := rd.Status()
	log.L(ctx).Infof("Response from %s recorded: status=%s valid=%t", ir.IdpID, status, rv.AllValid())
	return status.Final() && lr.onClosed != nil, nil
}

// judgeResponse checks an accepted response against the identity data on the ledger.
// Error responses, and mode 1 responses, have nothing to check.
func (rm *requestManager) judgeResponse(ctx context.Context, sr *storedRequest, rd *icapi.RequestDetail, resp *icapi.LedgerResponse, ir *icapi.IdpResponseMessage) (*icapi.ResponseValid, error) {
	rv := &icapi.ResponseValid{IdpID: resp.IdpID}
	if resp.ErrorCode != nil || !sr.Mode.UsesReferenceGroup() {
		return rv, nil
	}
	rgCode := sr.ReferenceGroupCode
	if rgCode == "" {
		// onboarded during the request
		var err error
		if rgCode, err = rm.queries.GetReferenceGroupCode(ctx, sr.Namespace, sr.Identifier); err != nil {
			return nil, err
		}
	}

	validSignature := false
	if ir.AccessorID != "" && rgCode != "" {
		ak, err := rm.queries.GetAccessorKey(ctx, ir.AccessorID)
		if err != nil {
			return nil, err
		}
		if ak != nil && ak.Active && ak.ReferenceGroupCode == rgCode {
			validSignature, err = cryptoutil.VerifySignature(ctx, ak.AccessorPublicKey, rd.RequestMessageHash, resp.Signature)
			if err != nil {
				log.L(ctx).Warnf("Signature of %s could not be verified: %s", resp.IdpID, err)
				validSignature = false
			}
		}
	}

	validIAL := false
	if rgCode != "" && resp.IAL != nil {
		info, err := rm.queries.GetIdentityInfo(ctx, &ledgerapi.IdentityParams{ReferenceGroupCode: rgCode, NodeID: resp.IdpID})
		if err != nil {
			return nil, err
		}
		validIAL = info != nil && info.IAL == *resp.IAL
	}
	rv.ValidSignature = &validSignature
	rv.ValidIAL = &validIAL
	return rv, nil
}

func (rm *requestManager) GetReceivedRequest(ctx context.Context, nodeID, requestID string) (*icapi.ConsentRequestMessage, error) {
	key := keyedlock.RequestKey(nodeID, requestID)
	if cr, ok := rm.receivedCache.Get(key); ok {
		return cr, nil
	}
	var rows []*receivedRequest
	err := rm.p.DB().WithContext(ctx).
		Where("node_id = ? AND request_id = ?", nodeID, requestID).
		Limit(1).
		Find(&rows).Error
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	var cr icapi.ConsentRequestMessage
	if err := json.Unmarshal([]byte(rows[0].Data), &cr); err != nil {
		return nil, err
	}
	rm.receivedCache.Set(key, &cr)
	return &cr, nil
}
