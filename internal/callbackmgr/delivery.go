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
	"io"
	"net/http"
	"time"

	"github.com/hyperledger/firefly-common/pkg/i18n"
	"github.com/ndidplatform/idconsent/internal/components"
	"github.com/ndidplatform/idconsent/internal/msgs"
	"github.com/ndidplatform/idconsent/pkg/log"
)

// deliver starts a delivery loop, unless one is already running for this callback
func (cm *callbackManager) deliver(d *delivery) {
	cm.stopLock.RLock()
	defer cm.stopLock.RUnlock()
	if cm.stopped {
		// persisted callbacks are resumed on the next start
		return
	}
	if !cm.inflight.SetIfAbsent(d.row.CallbackID, d) {
		return
	}
	cm.metrics.PendingCallbacksInc()
	cm.wg.Add(1)
	go cm.deliveryLoop(d)
}

func (cm *callbackManager) deliveryLoop(d *delivery) {
	defer cm.wg.Done()
	defer cm.metrics.PendingCallbacksDec()
	defer cm.inflight.Remove(d.row.CallbackID)

	ctx := log.WithLogField(cm.bgCtx, "callback", d.row.CallbackID)
	for attempt := 1; ; attempt++ {
		outcome, terminal := cm.attempt(ctx, d)
		if outcome.Err == nil || terminal || !d.retry {
			cm.complete(ctx, d, outcome)
			return
		}
		if time.Now().UnixNano() >= d.row.Deadline {
			outcome.Err = i18n.WrapError(ctx, outcome.Err, msgs.MsgCallbackTimedOut,
				d.row.CallbackID, time.Duration(d.row.Deadline-d.row.Created))
			cm.complete(ctx, d, outcome)
			return
		}
		log.L(ctx).Warnf("Callback attempt %d failed: %s", attempt, outcome.Err)
		if d.retryPredicate != nil {
			carryOn, err := cm.retryPredicates.Dispatch(ctx, d.retryPredicate, &components.RetryPredicateInfo{
				CallbackID: d.row.CallbackID,
				NodeID:     d.row.NodeID,
				Attempt:    attempt,
			})
			if err != nil || !carryOn {
				log.L(ctx).Infof("Retry of callback stopped by predicate (err=%v)", err)
				cm.complete(ctx, d, outcome)
				return
			}
		}
		if err := cm.retry.WaitDelay(ctx, attempt); err != nil {
			log.L(ctx).Debugf("Callback delivery interrupted by shutdown")
			return
		}
	}
}

// attempt makes one HTTP POST. terminal is set for failures that a retry cannot fix.
func (cm *callbackManager) attempt(ctx context.Context, d *delivery) (outcome *components.CallbackOutcome, terminal bool) {
	outcome = &components.CallbackOutcome{
		CallbackID: d.row.CallbackID,
		NodeID:     d.row.NodeID,
	}
	url := ""
	if d.row.URL != nil {
		url = *d.row.URL
	} else if d.urlResolver != nil {
		resolved, err := cm.urlResolvers.Dispatch(ctx, d.urlResolver, d.row.NodeID)
		if err != nil {
			outcome.Err = i18n.WrapError(ctx, err, msgs.MsgCallbackURLResolveFail, d.row.CallbackID)
			return outcome, false
		}
		url = resolved
	}
	if url == "" {
		outcome.Err = i18n.NewError(ctx, msgs.MsgCallbackNoURL, d.row.CallbackID)
		return outcome, true
	}

	res, err := cm.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody([]byte(d.row.Body)).
		SetDoNotParseResponse(true).
		Post(url)
	if err != nil {
		outcome.Err = i18n.WrapError(ctx, err, msgs.MsgCallbackRequestFailed, url)
		return outcome, false
	}
	rawBody := res.RawBody()
	defer rawBody.Close()
	outcome.StatusCode = res.StatusCode()
	body, err := io.ReadAll(io.LimitReader(rawBody, cm.maxResponseBody+1))
	if err != nil {
		outcome.Err = i18n.WrapError(ctx, err, msgs.MsgCallbackRequestFailed, url)
		return outcome, false
	}
	if int64(len(body)) > cm.maxResponseBody {
		outcome.Err = i18n.NewError(ctx, msgs.MsgCallbackBodyTooLarge, cm.maxResponseBody)
		return outcome, true
	}
	outcome.Body = body
	if outcome.StatusCode < http.StatusOK || outcome.StatusCode >= http.StatusMultipleChoices {
		outcome.Err = i18n.NewError(ctx, msgs.MsgCallbackHTTPStatus, url, outcome.StatusCode)
		return outcome, false
	}
	log.L(ctx).Debugf("Callback delivered to %s [%d]", url, outcome.StatusCode)
	return outcome, false
}

// complete runs the response handler, then forgets the callback. A crash in
// between re-runs the handler on restart.
func (cm *callbackManager) complete(ctx context.Context, d *delivery, outcome *components.CallbackOutcome) {
	if outcome.Err != nil {
		log.L(ctx).Errorf("Callback to node %s failed: %s", d.row.NodeID, outcome.Err)
	}
	if d.responseHandler != nil {
		if _, err := cm.responseHandlers.Dispatch(ctx, d.responseHandler, outcome); err != nil {
			log.L(ctx).Errorf("Callback response handler failed: %s", err)
		}
	}
	if d.retry {
		cm.deleteRow(ctx, d.row)
	}
}
