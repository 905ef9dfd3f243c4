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
	"sync"
	"sync/atomic"
	"time"

	"github.com/ndidplatform/idconsent/internal/components"
	"github.com/ndidplatform/idconsent/internal/dispatch"
	"github.com/ndidplatform/idconsent/internal/keyedlock"
	"github.com/ndidplatform/idconsent/internal/ledgerapi"
	"github.com/ndidplatform/idconsent/internal/metrics"
	"github.com/ndidplatform/idconsent/internal/nodeidentity"
	"github.com/ndidplatform/idconsent/pkg/cache"
	"github.com/ndidplatform/idconsent/pkg/conf"
	"github.com/ndidplatform/idconsent/pkg/confutil"
	"github.com/ndidplatform/idconsent/pkg/icapi"
	"github.com/ndidplatform/idconsent/pkg/ledger"
	"github.com/ndidplatform/idconsent/pkg/log"
	"github.com/ndidplatform/idconsent/pkg/persistence"
	"github.com/ndidplatform/idconsent/pkg/retry"
	"github.com/ndidplatform/idconsent/pkg/transport"
	cmap "github.com/orcaman/concurrent-map/v2"
)

const (
	createdKind     dispatch.Kind = "requestmgr.created"
	requestOpenKind dispatch.Kind = "requestmgr.request_open"
)

type requestArgs struct {
	NodeID    string `json:"node_id"`
	RequestID string `json:"request_id"`
}

type requestManager struct {
	bgCtx     context.Context
	cancelCtx context.CancelFunc
	conf      *conf.RequestsConfig

	p         persistence.Persistence
	ledger    ledger.Client
	queries   *ledgerapi.Queries
	transport transport.Transport
	metrics   metrics.Metrics
	locks     *keyedlock.KeyedLock
	identity  nodeidentity.Resolver

	callbacks   components.CallbackManager
	eligibility components.EligibilityResolver

	minSaltLength int
	sweepInterval time.Duration
	timeoutRetry  *retry.Retry
	onClosed      *components.OnClosedTable
	receivedCache cache.Cache[string, *icapi.ConsentRequestMessage]
	timers        cmap.ConcurrentMap[string, *timeout]
	lastSweep     atomic.Int64

	inboundLock sync.Mutex
	replayLock  sync.Mutex
	seenHeight  atomic.Int64

	stopLock sync.RWMutex
	stopped  bool
	wg       sync.WaitGroup
}

func NewRequestManager(bgCtx context.Context, config *conf.RequestsConfig) components.RequestManager {
	rm := &requestManager{
		conf:          config,
		minSaltLength: confutil.IntMin(config.MinInitialSaltLength, 1, *conf.RequestsDefaults.MinInitialSaltLength),
		sweepInterval: confutil.DurationMin(config.ReceivedSweepInterval, 0, *conf.RequestsDefaults.ReceivedSweepInterval),
		timeoutRetry:  retry.NewRetryIndefinite(&config.TimeoutRetry, &conf.RequestsDefaults.TimeoutRetry),
		onClosed:      dispatch.NewTable[*components.RequestClosedEvent, struct{}]("request_closed"),
		receivedCache: cache.NewCache[string, *icapi.ConsentRequestMessage](&config.ReceivedRequestCache, &conf.RequestsDefaults.ReceivedRequestCache),
		timers:        cmap.New[*timeout](),
	}
	rm.bgCtx, rm.cancelCtx = context.WithCancel(log.WithComponent(bgCtx, "requestmgr"))
	return rm
}

func (rm *requestManager) PreInit(pic components.PreInitComponents) (*components.ManagerInitResult, error) {
	rm.p = pic.Persistence()
	rm.ledger = pic.Ledger()
	rm.queries = pic.LedgerQueries()
	rm.transport = pic.Transport()
	rm.metrics = pic.MetricsManager()
	rm.locks = pic.KeyedLock()
	rm.identity = pic.NodeIdentity()
	err := ledger.RegisterContinuation(rm.bgCtx, rm.ledger, createdKind, rm.onCreated)
	return &components.ManagerInitResult{
		BlockHandler:   rm.handleBlocks,
		MessageHandler: rm.handleMessage,
	}, err
}

func (rm *requestManager) PostInit(c components.AllComponents) error {
	rm.callbacks = c.CallbackManager()
	rm.eligibility = c.EligibilityResolver()
	return dispatch.Handle(rm.bgCtx, rm.callbacks.RetryPredicates(), requestOpenKind, rm.requestOpen)
}

func (rm *requestManager) Start() error {
	ctx := rm.bgCtx
	var rows []*persistedRequest
	if err := rm.p.DB().WithContext(ctx).Order("created").Find(&rows).Error; err != nil {
		return err
	}
	for _, row := range rows {
		if err := rm.recoverRequest(ctx, row); err != nil {
			return err
		}
	}
	rm.replayInbound(ctx, rm.processedHeight())
	rm.sweepReceived(ctx)
	return nil
}

// recoverRequest brings a request from a previous run back in line with the ledger
func (rm *requestManager) recoverRequest(ctx context.Context, row *persistedRequest) error {
	ctx = log.WithLogField(ctx, "req", row.RequestID)
	lr, err := decodeRequest(row)
	if err != nil {
		log.L(ctx).Errorf("Discarding unreadable request data: %s", err)
		return rm.p.Transaction(ctx, func(ctx context.Context, dbTX persistence.DBTX) error {
			return rm.deleteRequest(ctx, dbTX, row.NodeID, row.RequestID)
		})
	}
	rd, err := rm.queries.GetRequestDetail(ctx, row.RequestID, 0)
	if err != nil {
		return err
	}
	switch {
	case rd == nil:
		// creation is still pending with the ledger, and resumes with the transaction
		log.L(ctx).Infof("Request is not yet on the ledger")
	case row.Confirmed == nil:
		log.L(ctx).Infof("Resuming confirmation of request created at height %d", rd.CreationBlockHeight)
		rm.wg.Add(1)
		go func() {
			defer rm.wg.Done()
			_ = rm.onCreated(ctx, &requestArgs{NodeID: row.NodeID, RequestID: row.RequestID}, &ledger.TxOutcome{Height: rd.CreationBlockHeight})
		}()
	case rd.Closed || rd.TimedOut:
		log.L(ctx).Infof("Completing request closed on the ledger (closed=%t timedOut=%t)", rd.Closed, rd.TimedOut)
		return rm.finishClosed(ctx, lr, rd, rm.ledger.ProcessedHeight(), nil)
	case row.TimeoutAt != nil:
		rm.scheduleTimeout(row.NodeID, row.RequestID, time.Unix(0, *row.TimeoutAt))
	}
	return nil
}

func (rm *requestManager) Stop() {
	rm.stopLock.Lock()
	rm.stopped = true
	rm.stopLock.Unlock()
	for _, t := range rm.timers.Items() {
		t.stop()
	}
	rm.timers.Clear()
	rm.cancelCtx()
	rm.wg.Wait()
}

func (rm *requestManager) OnClosedHandlers() *components.OnClosedTable {
	return rm.onClosed
}

// goAsync runs fn in the background unless the manager is stopping
func (rm *requestManager) goAsync(fn func()) bool {
	rm.stopLock.RLock()
	defer rm.stopLock.RUnlock()
	if rm.stopped {
		return false
	}
	rm.wg.Add(1)
	go func() {
		defer rm.wg.Done()
		fn()
	}()
	return true
}

// timeout is armed only once it is in the timers map, so a timer that fires
// straight away always finds its own entry to remove
type timeout struct {
	lock    sync.Mutex
	timer   *time.Timer
	stopped bool
}

func (t *timeout) start(delay time.Duration, fn func()) {
	t.lock.Lock()
	defer t.lock.Unlock()
	if !t.stopped {
		t.timer = time.AfterFunc(delay, fn)
	}
}

func (t *timeout) stop() {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.stopped = true
	if t.timer != nil {
		t.timer.Stop()
	}
}

func (rm *requestManager) scheduleTimeout(nodeID, requestID string, at time.Time) {
	delay := time.Until(at)
	if delay < 0 {
		delay = 0
	}
	log.L(rm.bgCtx).Debugf("Request %s times out in %s", requestID, delay)
	rm.armTimeout(nodeID, requestID, delay, 0)
}

func (rm *requestManager) armTimeout(nodeID, requestID string, delay time.Duration, failures int) {
	rm.stopLock.RLock()
	defer rm.stopLock.RUnlock()
	if rm.stopped {
		return
	}
	key := keyedlock.RequestKey(nodeID, requestID)
	t := &timeout{}
	rm.timers.Upsert(key, t, func(exist bool, old, newTimeout *timeout) *timeout {
		if exist {
			old.stop()
		}
		return newTimeout
	})
	t.start(delay, func() {
		rm.timers.RemoveCb(key, func(_ string, inMap *timeout, exists bool) bool {
			return exists && inMap == t
		})
		rm.goAsync(func() {
			rm.applyTimeout(nodeID, requestID, failures)
		})
	})
}

// applyTimeout times the request out on the ledger, retrying with backoff until
// the ledger shows the request closed or timed out
func (rm *requestManager) applyTimeout(nodeID, requestID string, failures int) {
	ctx := log.WithLogField(rm.bgCtx, "req", requestID)
	err := rm.closeOrTimeOut(ctx, nodeID, requestID, true, nil)
	if err == nil || ctx.Err() != nil {
		return
	}
	rd, qErr := rm.queries.GetRequestDetail(ctx, requestID, 0)
	switch {
	case qErr != nil:
		log.L(ctx).Warnf("Request state unavailable after failed timeout: %s", qErr)
	case rd == nil:
		log.L(ctx).Errorf("Timeout of request not applied, it is not on the ledger: %s", err)
		return
	case rd.Closed || rd.TimedOut:
		log.L(ctx).Infof("Request already closed on the ledger (closed=%t timedOut=%t)", rd.Closed, rd.TimedOut)
		if err := rm.completeClosed(ctx, nodeID, requestID, rd); err != nil {
			log.L(ctx).Errorf("Failed to complete closed request: %s", err)
		}
		return
	}
	failures++
	delay := rm.timeoutRetry.Delay(failures)
	log.L(ctx).Warnf("Timeout of request not applied, retrying in %s (failures=%d): %s", delay, failures, err)
	rm.armTimeout(nodeID, requestID, delay, failures)
}

// completeClosed finishes a request closed on the ledger by some other path, if
// its local state is still here
func (rm *requestManager) completeClosed(ctx context.Context, nodeID, requestID string, rd *icapi.RequestDetail) error {
	release, err := rm.locks.Lock(ctx, keyedlock.RequestKey(nodeID, requestID))
	if err != nil {
		return err
	}
	defer release()
	lr, err := rm.loadRequest(ctx, rm.p.NOTX(), nodeID, requestID)
	if err != nil || lr == nil {
		return err
	}
	return rm.finishClosed(ctx, lr, rd, rm.ledger.ProcessedHeight(), nil)
}

// cancelTimeout is a no-op for a timer that already fired or was cancelled
func (rm *requestManager) cancelTimeout(nodeID, requestID string) {
	if t, ok := rm.timers.Pop(keyedlock.RequestKey(nodeID, requestID)); ok {
		t.stop()
	}
}

func (rm *requestManager) hasTimeout(nodeID, requestID string) bool {
	return rm.timers.Has(keyedlock.RequestKey(nodeID, requestID))
}

func (rm *requestManager) requestOpen(ctx context.Context, args *requestArgs, info *components.RetryPredicateInfo) (bool, error) {
	rd, err := rm.queries.GetRequestDetail(ctx, args.RequestID, 0)
	if err != nil {
		return false, err
	}
	return rd != nil && !rd.Closed && !rd.TimedOut, nil
}
