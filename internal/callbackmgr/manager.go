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

package callbackmgr

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/hyperledger/firefly-common/pkg/i18n"
	"github.com/ndidplatform/idconsent/internal/components"
	"github.com/ndidplatform/idconsent/internal/dispatch"
	"github.com/ndidplatform/idconsent/internal/metrics"
	"github.com/ndidplatform/idconsent/internal/msgs"
	"github.com/ndidplatform/idconsent/pkg/conf"
	"github.com/ndidplatform/idconsent/pkg/confutil"
	"github.com/ndidplatform/idconsent/pkg/httpclient"
	"github.com/ndidplatform/idconsent/pkg/log"
	"github.com/ndidplatform/idconsent/pkg/persistence"
	"github.com/ndidplatform/idconsent/pkg/retry"
	cmap "github.com/orcaman/concurrent-map/v2"
)

const nodeURLResolverKind dispatch.Kind = "callback.node_url"

type pendingCallback struct {
	NodeID          string  `gorm:"column:node_id;primaryKey"`
	CallbackID      string  `gorm:"column:callback_id;primaryKey"`
	URL             *string `gorm:"column:url"`
	URLResolver     *string `gorm:"column:url_resolver"`
	Body            string  `gorm:"column:body"`
	RetryPredicate  *string `gorm:"column:retry_predicate"`
	ResponseHandler *string `gorm:"column:response_handler"`
	Deadline        int64   `gorm:"column:deadline"`
	Created         int64   `gorm:"column:created"`
}

func (pendingCallback) TableName() string {
	return "pending_callbacks"
}

// delivery is the decoded form of a pending callback, plus whether it is persisted
type delivery struct {
	row             *pendingCallback
	retry           bool
	urlResolver     *dispatch.Continuation
	retryPredicate  *dispatch.Continuation
	responseHandler *dispatch.Continuation
}

type callbackManager struct {
	bgCtx     context.Context
	cancelCtx context.CancelFunc
	conf      *conf.CallbackConfig

	p       persistence.Persistence
	metrics metrics.Metrics
	client  *resty.Client
	retry   *retry.Retry

	retryTimeout    time.Duration
	maxResponseBody int64

	urlResolvers     *components.URLResolverTable
	retryPredicates  *components.RetryPredicateTable
	responseHandlers *components.ResponseHandlerTable

	inflight cmap.ConcurrentMap[string, *delivery]
	stopLock sync.RWMutex
	stopped  bool
	wg       sync.WaitGroup
}

func NewCallbackManager(bgCtx context.Context, config *conf.CallbackConfig) components.CallbackManager {
	cm := &callbackManager{
		conf:             config,
		retry:            retry.NewRetryIndefinite(&config.Retry, &conf.CallbackDefaults.Retry),
		retryTimeout:     confutil.DurationMin(config.RetryTimeout, 0, *conf.CallbackDefaults.RetryTimeout),
		maxResponseBody:  confutil.ByteSize(config.MaxResponseBodySize, 0, *conf.CallbackDefaults.MaxResponseBodySize),
		urlResolvers:     dispatch.NewTable[string, string]("callback_url_resolvers"),
		retryPredicates:  dispatch.NewTable[*components.RetryPredicateInfo, bool]("callback_retry_predicates"),
		responseHandlers: dispatch.NewTable[*components.CallbackOutcome, struct{}]("callback_response_handlers"),
		inflight:         cmap.New[*delivery](),
	}
	cm.bgCtx, cm.cancelCtx = context.WithCancel(log.WithComponent(bgCtx, "callbackmgr"))
	cm.client = httpclient.NewNoBaseURL(cm.bgCtx, &conf.HTTPClientConfig{
		RequestTimeout:    confutil.P(confutil.StringNotEmpty(config.RequestTimeout, *conf.CallbackDefaults.RequestTimeout)),
		ConnectionTimeout: confutil.P(confutil.StringNotEmpty(config.ConnectionTimeout, *conf.CallbackDefaults.ConnectionTimeout)),
	})
	return cm
}

func (cm *callbackManager) PreInit(pic components.PreInitComponents) (*components.ManagerInitResult, error) {
	cm.p = pic.Persistence()
	cm.metrics = pic.MetricsManager()
	err := dispatch.Handle(cm.bgCtx, cm.urlResolvers, nodeURLResolverKind, cm.resolveNodeURL)
	return &components.ManagerInitResult{}, err
}

func (cm *callbackManager) PostInit(c components.AllComponents) error {
	return nil
}

// Start seeds the configured node URLs, then resumes delivery of every callback
// that was pending when the node last stopped
func (cm *callbackManager) Start() error {
	ctx := cm.bgCtx
	if err := cm.seedNodeURLs(ctx); err != nil {
		return err
	}
	var rows []*pendingCallback
	err := cm.p.DB().WithContext(ctx).Order("created").Find(&rows).Error
	if err != nil {
		return err
	}
	if len(rows) > 0 {
		log.L(ctx).Infof("Resuming delivery of %d pending callbacks", len(rows))
	}
	for _, row := range rows {
		d, err := cm.decode(ctx, row)
		if err != nil {
			log.L(ctx).Errorf("Discarding pending callback %s: %s", row.CallbackID, err)
			cm.deleteRow(ctx, row)
			continue
		}
		cm.deliver(d)
	}
	return nil
}

func (cm *callbackManager) Stop() {
	cm.stopLock.Lock()
	cm.stopped = true
	cm.stopLock.Unlock()
	cm.cancelCtx()
	cm.wg.Wait()
}

func (cm *callbackManager) URLResolvers() *components.URLResolverTable {
	return cm.urlResolvers
}

func (cm *callbackManager) RetryPredicates() *components.RetryPredicateTable {
	return cm.retryPredicates
}

func (cm *callbackManager) ResponseHandlers() *components.ResponseHandlerTable {
	return cm.responseHandlers
}

func marshalContinuation(c *dispatch.Continuation) *string {
	if c == nil {
		return nil
	}
	b, _ := json.Marshal(c)
	return confutil.P(string(b))
}

func unmarshalContinuation(s *string) (*dispatch.Continuation, error) {
	if s == nil {
		return nil, nil
	}
	var c dispatch.Continuation
	if err := json.Unmarshal([]byte(*s), &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (cm *callbackManager) Send(ctx context.Context, dbTX persistence.DBTX, req *components.CallbackRequest) (string, error) {
	if req.URL == "" && req.URLResolver == nil {
		return "", i18n.NewError(ctx, msgs.MsgCallbackNoURL, req.NodeID)
	}
	body, err := json.Marshal(req.Body)
	if err != nil {
		return "", i18n.NewError(ctx, msgs.MsgInvalidInput, err)
	}
	retryTimeout := req.RetryTimeout
	if retryTimeout <= 0 {
		retryTimeout = cm.retryTimeout
	}
	now := time.Now()
	row := &pendingCallback{
		NodeID:          req.NodeID,
		CallbackID:      uuid.NewString(),
		Body:            string(body),
		URLResolver:     marshalContinuation(req.URLResolver),
		RetryPredicate:  marshalContinuation(req.RetryPredicate),
		ResponseHandler: marshalContinuation(req.ResponseHandler),
		Deadline:        now.Add(retryTimeout).UnixNano(),
		Created:         now.UnixNano(),
	}
	if req.URL != "" {
		row.URL = &req.URL
	}
	d := &delivery{
		row:             row,
		retry:           req.Retry,
		urlResolver:     req.URLResolver,
		retryPredicate:  req.RetryPredicate,
		responseHandler: req.ResponseHandler,
	}
	if req.Retry {
		if err := dbTX.DB().WithContext(ctx).Create(row).Error; err != nil {
			return "", err
		}
	}
	log.L(ctx).Debugf("Callback %s queued for node %s (retry=%t)", row.CallbackID, row.NodeID, req.Retry)
	if dbTX.FullTransaction() {
		dbTX.AddPostCommit(func(txCtx context.Context) { cm.deliver(d) })
	} else {
		cm.deliver(d)
	}
	return row.CallbackID, nil
}

func (cm *callbackManager) decode(ctx context.Context, row *pendingCallback) (d *delivery, err error) {
	d = &delivery{row: row, retry: true}
	if d.urlResolver, err = unmarshalContinuation(row.URLResolver); err == nil {
		if d.retryPredicate, err = unmarshalContinuation(row.RetryPredicate); err == nil {
			d.responseHandler, err = unmarshalContinuation(row.ResponseHandler)
		}
	}
	if err != nil {
		return nil, i18n.WrapError(ctx, err, msgs.MsgCallbackInvalidResponse, row.CallbackID)
	}
	return d, nil
}

func (cm *callbackManager) deleteRow(ctx context.Context, row *pendingCallback) {
	err := cm.p.DB().WithContext(ctx).
		Where("node_id = ? AND callback_id = ?", row.NodeID, row.CallbackID).
		Delete(&pendingCallback{}).Error
	if err != nil {
		log.L(ctx).Errorf("Failed to remove completed callback %s: %s", row.CallbackID, err)
	}
}
