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

package ledger

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/hyperledger/firefly-common/pkg/i18n"
	"github.com/ndidplatform/idconsent/internal/dispatch"
	"github.com/ndidplatform/idconsent/internal/msgs"
	"github.com/ndidplatform/idconsent/pkg/confutil"
	"github.com/ndidplatform/idconsent/pkg/log"
)

type pendingTx struct {
	ID           string  `gorm:"column:id;primaryKey"`
	NodeID       string  `gorm:"column:node_id"`
	FnName       string  `gorm:"column:fn_name"`
	Params       string  `gorm:"column:params"`
	Continuation *string `gorm:"column:continuation"`
	Created      int64   `gorm:"column:created"`
}

func (pendingTx) TableName() string {
	return "pending_ledger_txs"
}

func (lc *ledgerClient) Transact(ctx context.Context, req *TxRequest) (*TxResult, error) {
	params, err := json.Marshal(req.Params)
	if err != nil {
		return nil, i18n.WrapError(ctx, err, msgs.MsgInvalidInput, req.FnName)
	}
	if req.Continuation == nil {
		return lc.submit(ctx, req, params)
	}
	if !lc.continuations.Has(req.Continuation.Kind) {
		return nil, i18n.NewError(ctx, msgs.MsgUnknownContinuationKind, req.Continuation.Kind)
	}

	// the caller's context is usually bound to an API call or DB transaction that will be gone
	asyncCtx := log.WithLogger(lc.bgCtx, log.L(ctx))
	lc.asyncWG.Add(1)
	go func() {
		defer lc.asyncWG.Done()
		res, err := lc.submit(asyncCtx, req, params)
		if IsChainDisabledRetryLater(err) {
			log.L(asyncCtx).Infof("Continuation %s of %s deferred until the chain is enabled", req.Continuation.Kind, req.FnName)
			return
		}
		lc.resume(asyncCtx, req.FnName, req.Continuation, res, err)
	}()
	return nil, nil
}

func (lc *ledgerClient) resume(ctx context.Context, fnName string, c *dispatch.Continuation, res *TxResult, txErr error) {
	outcome := &TxOutcome{Err: txErr}
	if res != nil {
		outcome.Height = res.Height
	}
	if _, err := lc.continuations.Dispatch(ctx, c, outcome); err != nil {
		log.L(ctx).Errorf("%s: %s", i18n.NewError(ctx, msgs.MsgLedgerContinuationFailed, fnName), err)
	}
}

func (lc *ledgerClient) submit(ctx context.Context, req *TxRequest, params json.RawMessage) (*TxResult, error) {
	tx, err := encodeTx(ctx, req.NodeID, req.FnName, params)
	if err != nil {
		return nil, err
	}

	var result broadcastTxCommitResult
	err = lc.retry.Do(ctx, func(attempt int) (retryable bool, err error) {
		if rpcErr := lc.rpc.CallRPC(ctx, &result, rpcBroadcastTxCommit, tx); rpcErr != nil {
			return req.RetryOnFail, i18n.NewError(ctx, msgs.MsgLedgerRPCError, rpcBroadcastTxCommit, rpcErr.Message)
		}
		return false, nil
	})
	if err != nil {
		lc.metrics.LedgerTx(req.FnName, false)
		return nil, err
	}

	if result.CheckTx.Code == CodeChainDisabled {
		lc.metrics.LedgerTx(req.FnName, false)
		if !req.SaveForRetryOnChainDisabled {
			return nil, i18n.NewError(ctx, msgs.MsgLedgerChainDisabledNoTx, req.FnName)
		}
		if err := lc.savePendingTx(ctx, req, params); err != nil {
			return nil, err
		}
		return nil, &chainDisabledError{err: i18n.NewError(ctx, msgs.MsgLedgerChainDisabled, req.FnName)}
	}

	deliver := result.deliverResult()
	if result.CheckTx.Code != CodeOK || deliver.Code != CodeOK {
		lc.metrics.LedgerTx(req.FnName, false)
		code, logMsg := result.CheckTx.Code, result.CheckTx.Log
		if code == CodeOK {
			code, logMsg = deliver.Code, deliver.Log
		}
		return nil, i18n.NewError(ctx, msgs.MsgLedgerTxFailed, req.FnName, code, logMsg)
	}

	height, err := parseHeight(ctx, rpcBroadcastTxCommit, result.Height)
	if err != nil {
		return nil, err
	}
	lc.metrics.LedgerTx(req.FnName, true)
	log.L(ctx).Debugf("Ledger transaction %s committed at height %d", req.FnName, height)
	return &TxResult{Height: height}, nil
}

func (lc *ledgerClient) savePendingTx(ctx context.Context, req *TxRequest, params json.RawMessage) error {
	ptx := &pendingTx{
		ID:      uuid.NewString(),
		NodeID:  req.NodeID,
		FnName:  req.FnName,
		Params:  string(params),
		Created: time.Now().UnixNano(),
	}
	if req.Continuation != nil {
		c, _ := json.Marshal(req.Continuation)
		ptx.Continuation = confutil.P(string(c))
	}
	log.L(ctx).Infof("Chain disabled, saving %s transaction %s for retry", req.FnName, ptx.ID)
	return lc.p.DB().WithContext(ctx).Create(ptx).Error
}

// RetryPendingTransactions re-submits stored transactions in the order they were saved,
// stopping at the first one that finds the chain still disabled
func (lc *ledgerClient) RetryPendingTransactions(ctx context.Context) error {
	lc.sweepLock.Lock()
	defer lc.sweepLock.Unlock()

	for {
		var batch []*pendingTx
		err := lc.p.DB().WithContext(ctx).
			Order("created").Order("id").
			Limit(lc.pendingTxBatch).
			Find(&batch).Error
		if err != nil || len(batch) == 0 {
			return err
		}
		for _, ptx := range batch {
			stillDisabled, err := lc.retryPendingTx(ctx, ptx)
			if err != nil || stillDisabled {
				return err
			}
		}
	}
}

func (lc *ledgerClient) retryPendingTx(ctx context.Context, ptx *pendingTx) (stillDisabled bool, err error) {
	var c *dispatch.Continuation
	if ptx.Continuation != nil {
		c = &dispatch.Continuation{}
		if err := json.Unmarshal([]byte(*ptx.Continuation), c); err != nil {
			log.L(ctx).Errorf("Discarding pending transaction %s with invalid continuation: %s", ptx.ID, err)
			c = nil
		}
	}
	// not saved again on re-submission, the existing record stays until the chain is enabled
	req := &TxRequest{NodeID: ptx.NodeID, FnName: ptx.FnName, RetryOnFail: true}
	res, txErr := lc.submit(ctx, req, json.RawMessage(ptx.Params))
	switch msgs.ErrorCode(txErr) {
	case string(msgs.MsgLedgerChainDisabledNoTx):
		log.L(ctx).Debugf("Chain still disabled, pending transaction %s waiting", ptx.ID)
		return true, nil
	case string(msgs.MsgLedgerRPCError):
		// ledger unreachable, leave it for the next sweep
		return true, nil
	}
	if err := lc.p.DB().WithContext(ctx).Delete(&pendingTx{}, "id = ?", ptx.ID).Error; err != nil {
		return false, err
	}
	log.L(ctx).Infof("Pending %s transaction %s re-submitted (err=%v)", ptx.FnName, ptx.ID, txErr)
	if c != nil {
		lc.resume(ctx, ptx.FnName, c, res, txErr)
	}
	return false, nil
}
