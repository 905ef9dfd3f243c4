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

// Package ledger is the client for the consensus ledger the protocol is coordinated through.
//
// Transactions can be submitted synchronously, or handed off with a Continuation
// that is dispatched once the ledger has confirmed (or rejected) the transaction.
// When the ledger reports it is disabled, transactions can be stored and re-submitted
// by a sweep on the next block, in which case the continuation is resumed then.
package ledger

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hyperledger/firefly-common/pkg/i18n"
	"github.com/hyperledger/firefly-signer/pkg/rpcbackend"
	"github.com/ndidplatform/idconsent/internal/dispatch"
	"github.com/ndidplatform/idconsent/internal/metrics"
	"github.com/ndidplatform/idconsent/internal/msgs"
	"github.com/ndidplatform/idconsent/pkg/conf"
	"github.com/ndidplatform/idconsent/pkg/confutil"
	"github.com/ndidplatform/idconsent/pkg/httpclient"
	"github.com/ndidplatform/idconsent/pkg/log"
	"github.com/ndidplatform/idconsent/pkg/persistence"
	"github.com/ndidplatform/idconsent/pkg/retry"
)

// BlockHandler is called with each range of newly committed blocks (fromHeight, toHeight]
type BlockHandler func(ctx context.Context, fromHeight, toHeight int64)

type TxRequest struct {
	NodeID string
	FnName string
	Params any
	// Continuation makes the call asynchronous
	Continuation *dispatch.Continuation
	// SaveForRetryOnChainDisabled stores the transaction for re-submission if the chain is disabled
	SaveForRetryOnChainDisabled bool
	// RetryOnFail retries transient RPC failures
	RetryOnFail bool
}

type TxResult struct {
	Height int64 `json:"height"`
}

// TxOutcome is passed to a continuation. Err is nil on success.
type TxOutcome struct {
	Height int64
	Err    error
}

type ContinuationTable = dispatch.Table[*TxOutcome, struct{}]

type Client interface {
	// Transact returns the result of a synchronous call, or (nil, nil) once an
	// asynchronous call with a continuation has been handed off
	Transact(ctx context.Context, req *TxRequest) (*TxResult, error)
	// Query unmarshals the result of a ledger query at the given height (0 for latest).
	// found is false if the ledger has no value for the query.
	Query(ctx context.Context, fnName string, params any, height int64, result any) (found bool, err error)
	// ProcessedHeight is the last block delivered to all block handlers
	ProcessedHeight() int64
	AddBlockHandler(handler BlockHandler)
	Continuations() *ContinuationTable
	RetryPendingTransactions(ctx context.Context) error
	Start() error
	Stop()
}

type ledgerClient struct {
	bgCtx          context.Context
	cancelCtx      context.CancelFunc
	rpc            rpcbackend.Backend
	p              persistence.Persistence
	metrics        metrics.Metrics
	retry          *retry.Retry
	pollInterval   time.Duration
	pendingTxBatch int
	continuations  *ContinuationTable

	handlersLock    sync.Mutex
	blockHandlers   []BlockHandler
	processedHeight atomic.Int64
	sweepLock       sync.Mutex
	asyncWG         sync.WaitGroup
	pollerDone      chan struct{}
}

func NewClient(ctx context.Context, config *conf.LedgerConfig, p persistence.Persistence, m metrics.Metrics) (Client, error) {
	if config.URL == "" {
		return nil, i18n.NewError(ctx, msgs.MsgLedgerURLNotConfigured)
	}
	rc, err := httpclient.New(ctx, &config.HTTPClientConfig)
	if err != nil {
		return nil, err
	}
	return newLedgerClient(ctx, config, rpcbackend.NewRPCClient(rc), p, m), nil
}

func newLedgerClient(ctx context.Context, config *conf.LedgerConfig, rpc rpcbackend.Backend, p persistence.Persistence, m metrics.Metrics) *ledgerClient {
	lc := &ledgerClient{
		rpc:            rpc,
		p:              p,
		metrics:        m,
		retry:          retry.NewRetryLimited(&config.Retry, &conf.LedgerDefaults.Retry),
		pollInterval:   confutil.DurationMin(config.BlockPollInterval, 10*time.Millisecond, *conf.LedgerDefaults.BlockPollInterval),
		pendingTxBatch: confutil.IntMin(config.PendingTxBatch, 1, *conf.LedgerDefaults.PendingTxBatch),
		continuations:  dispatch.NewTable[*TxOutcome, struct{}]("ledger"),
	}
	lc.bgCtx, lc.cancelCtx = context.WithCancel(log.WithComponent(ctx, "ledger"))
	return lc
}

func (lc *ledgerClient) Continuations() *ContinuationTable {
	return lc.continuations
}

func (lc *ledgerClient) ProcessedHeight() int64 {
	return lc.processedHeight.Load()
}

func (lc *ledgerClient) AddBlockHandler(handler BlockHandler) {
	lc.handlersLock.Lock()
	defer lc.handlersLock.Unlock()
	lc.blockHandlers = append(lc.blockHandlers, handler)
}

func (lc *ledgerClient) Start() error {
	lc.pollerDone = make(chan struct{})
	go lc.pollBlocks()
	return nil
}

func (lc *ledgerClient) Stop() {
	lc.cancelCtx()
	if lc.pollerDone != nil {
		<-lc.pollerDone
	}
	lc.asyncWG.Wait()
}

// RegisterContinuation registers a typed handler for ledger transaction outcomes
func RegisterContinuation[A any](ctx context.Context, c Client, kind dispatch.Kind, fn func(ctx context.Context, args *A, outcome *TxOutcome) error) error {
	return dispatch.Handle(ctx, c.Continuations(), kind, func(ctx context.Context, args *A, outcome *TxOutcome) (struct{}, error) {
		return struct{}{}, fn(ctx, args, outcome)
	})
}
