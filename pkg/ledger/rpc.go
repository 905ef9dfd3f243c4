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
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strconv"

	"github.com/google/uuid"
	"github.com/hyperledger/firefly-common/pkg/i18n"
	"github.com/ndidplatform/idconsent/internal/msgs"
)

const (
	// CodeOK is the ABCI success code
	CodeOK uint32 = 0
	// CodeChainDisabled is returned by check_tx while the chain is disabled for upgrade
	CodeChainDisabled uint32 = 25
)

const (
	rpcBroadcastTxCommit = "broadcast_tx_commit"
	rpcABCIQuery         = "abci_query"
	rpcStatus            = "status"
)

// txEnvelope is the transaction payload executed by the ledger application
type txEnvelope struct {
	Fn     string          `json:"fn"`
	Params json.RawMessage `json:"params"`
	NodeID string          `json:"node_id"`
	Nonce  string          `json:"nonce"`
}

type abciResult struct {
	Code uint32 `json:"code"`
	Log  string `json:"log"`
}

type broadcastTxCommitResult struct {
	CheckTx   abciResult  `json:"check_tx"`
	DeliverTx *abciResult `json:"deliver_tx,omitempty"`
	TxResult  *abciResult `json:"tx_result,omitempty"`
	Hash      string      `json:"hash"`
	Height    string      `json:"height"`
}

func (r *broadcastTxCommitResult) deliverResult() abciResult {
	switch {
	case r.TxResult != nil:
		return *r.TxResult
	case r.DeliverTx != nil:
		return *r.DeliverTx
	default:
		return abciResult{}
	}
}

type abciQueryResult struct {
	Response struct {
		Code   uint32 `json:"code"`
		Log    string `json:"log"`
		Value  string `json:"value"`
		Height string `json:"height"`
	} `json:"response"`
}

type statusResult struct {
	SyncInfo struct {
		LatestBlockHeight string `json:"latest_block_height"`
		CatchingUp        bool   `json:"catching_up"`
	} `json:"sync_info"`
}

type chainDisabledError struct {
	err error
}

func (e *chainDisabledError) Error() string {
	return e.err.Error()
}

func (e *chainDisabledError) Unwrap() error {
	return e.err
}

// IsChainDisabledRetryLater is true when a transaction was stored for re-submission,
// and the caller should take no further action. The continuation resumes later.
func IsChainDisabledRetryLater(err error) bool {
	var cde *chainDisabledError
	return errors.As(err, &cde)
}

func encodeTx(ctx context.Context, nodeID, fnName string, params any) (string, error) {
	paramsJSON, err := json.Marshal(params)
	if err == nil {
		var tx []byte
		tx, err = json.Marshal(&txEnvelope{
			Fn:     fnName,
			Params: paramsJSON,
			NodeID: nodeID,
			Nonce:  uuid.NewString(),
		})
		if err == nil {
			return base64.StdEncoding.EncodeToString(tx), nil
		}
	}
	return "", i18n.WrapError(ctx, err, msgs.MsgInvalidInput, fnName)
}

func encodeQueryData(ctx context.Context, fnName string, params any) (string, error) {
	b, err := json.Marshal(params)
	if err != nil {
		return "", i18n.WrapError(ctx, err, msgs.MsgInvalidInput, fnName)
	}
	return hex.EncodeToString(b), nil
}

func parseHeight(ctx context.Context, method, s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	h, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, i18n.WrapError(ctx, err, msgs.MsgLedgerInvalidResponse, method)
	}
	return h, nil
}

func (lc *ledgerClient) latestHeight(ctx context.Context) (int64, error) {
	var status statusResult
	if rpcErr := lc.rpc.CallRPC(ctx, &status, rpcStatus); rpcErr != nil {
		return 0, i18n.NewError(ctx, msgs.MsgLedgerRPCError, rpcStatus, rpcErr.Message)
	}
	return parseHeight(ctx, rpcStatus, status.SyncInfo.LatestBlockHeight)
}

func (lc *ledgerClient) Query(ctx context.Context, fnName string, params any, height int64, result any) (bool, error) {
	data, err := encodeQueryData(ctx, fnName, params)
	if err != nil {
		return false, err
	}
	var res abciQueryResult
	heightStr := strconv.FormatInt(height, 10)
	if rpcErr := lc.rpc.CallRPC(ctx, &res, rpcABCIQuery, fnName, data, heightStr, false); rpcErr != nil {
		return false, i18n.NewError(ctx, msgs.MsgLedgerRPCError, rpcABCIQuery, rpcErr.Message)
	}
	if res.Response.Code != CodeOK {
		return false, i18n.NewError(ctx, msgs.MsgLedgerQueryFailed, fnName, res.Response.Code, res.Response.Log)
	}
	value, err := base64.StdEncoding.DecodeString(res.Response.Value)
	if err != nil {
		return false, i18n.WrapError(ctx, err, msgs.MsgLedgerInvalidResponse, fnName)
	}
	if len(value) == 0 || string(value) == "null" || string(value) == "{}" {
		return false, nil
	}
	if err := json.Unmarshal(value, result); err != nil {
		return false, i18n.WrapError(ctx, err, msgs.MsgLedgerInvalidResponse, fnName)
	}
	return true, nil
}
