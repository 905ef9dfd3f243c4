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
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ndidplatform/idconsent/internal/components"
	"github.com/ndidplatform/idconsent/internal/dispatch"
	"github.com/ndidplatform/idconsent/internal/testcomponents"
	"github.com/ndidplatform/idconsent/pkg/conf"
	"github.com/ndidplatform/idconsent/pkg/confutil"
	"github.com/ndidplatform/idconsent/pkg/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testHandlerKind dispatch.Kind = "test.outcome"

type testCallbacks struct {
	tc       *testcomponents.TestComponents
	cm       *callbackManager
	outcomes chan *components.CallbackOutcome
}

func newTestCallbacks(t *testing.T, setConf ...func(c *conf.CallbackConfig)) *testCallbacks {
	tc := testcomponents.New(t, "rp1")
	config := testcomponents.FastCallbackConfig()
	for _, fn := range setConf {
		fn(config)
	}
	cm := NewCallbackManager(context.Background(), config).(*callbackManager)
	tc.Callbacks = cm
	tcb := &testCallbacks{
		tc:       tc,
		cm:       cm,
		outcomes: make(chan *components.CallbackOutcome, 10),
	}
	err := dispatch.Handle(context.Background(), cm.ResponseHandlers(), testHandlerKind,
		func(ctx context.Context, _ *struct{}, outcome *components.CallbackOutcome) (struct{}, error) {
			tcb.outcomes <- outcome
			return struct{}{}, nil
		})
	require.NoError(t, err)
	return tcb
}

func (tcb *testCallbacks) nextOutcome(t *testing.T) *components.CallbackOutcome {
	select {
	case o := <-tcb.outcomes:
		return o
	case <-time.After(5 * time.Second):
		require.FailNow(t, "timed out waiting for outcome")
		return nil
	}
}

func (tcb *testCallbacks) pendingCount(t *testing.T) int64 {
	var count int64
	err := tcb.tc.DB.DB().Model(&pendingCallback{}).Count(&count).Error
	require.NoError(t, err)
	return count
}

func failingServer(t *testing.T, status int) (*httptest.Server, *atomic.Int32) {
	calls := new(atomic.Int32)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(status)
	}))
	t.Cleanup(server.Close)
	return server, calls
}

func TestSendNoRetryNOTX(t *testing.T) {
	tcb := newTestCallbacks(t)
	receiver := testcomponents.NewCallbackReceiver(t)
	tcb.tc.Start(t)

	id, err := tcb.cm.Send(tcb.tc.Ctx, tcb.tc.DB.NOTX(), &components.CallbackRequest{
		NodeID: "rp1",
		URL:    receiver.URL,
		Body:   map[string]any{"type": "hello"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, "hello", receiver.Next(t)["type"])
	assert.Zero(t, tcb.pendingCount(t))
}

func TestSendRetryAfterCommit(t *testing.T) {
	tcb := newTestCallbacks(t)
	receiver := testcomponents.NewCallbackReceiver(t)
	receiver.FailNext(http.StatusInternalServerError, http.StatusBadGateway)
	tcb.tc.Start(t)

	err := tcb.tc.DB.Transaction(tcb.tc.Ctx, func(ctx context.Context, dbTX persistence.DBTX) error {
		_, err := tcb.cm.Send(ctx, dbTX, &components.CallbackRequest{
			NodeID:          "rp1",
			URL:             receiver.URL,
			Body:            map[string]any{"type": "retried"},
			Retry:           true,
			ResponseHandler: dispatch.NewContinuation(testHandlerKind, nil),
		})
		return err
	})
	require.NoError(t, err)

	assert.Equal(t, "retried", receiver.Next(t)["type"])
	outcome := tcb.nextOutcome(t)
	require.NoError(t, outcome.Err)
	assert.Equal(t, http.StatusOK, outcome.StatusCode)
	assert.Equal(t, "rp1", outcome.NodeID)
	assert.Eventually(t, func() bool { return tcb.pendingCount(t) == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestSendRollbackNoDelivery(t *testing.T) {
	tcb := newTestCallbacks(t)
	receiver := testcomponents.NewCallbackReceiver(t)
	tcb.tc.Start(t)

	err := tcb.tc.DB.Transaction(tcb.tc.Ctx, func(ctx context.Context, dbTX persistence.DBTX) error {
		_, err := tcb.cm.Send(ctx, dbTX, &components.CallbackRequest{
			NodeID: "rp1",
			URL:    receiver.URL,
			Body:   map[string]any{"type": "never"},
			Retry:  true,
		})
		require.NoError(t, err)
		return fmt.Errorf("pop")
	})
	assert.Regexp(t, "pop", err)
	receiver.ExpectNone(t, 100*time.Millisecond)
	assert.Zero(t, tcb.pendingCount(t))
}

func TestSendInvalid(t *testing.T) {
	tcb := newTestCallbacks(t)
	tcb.tc.Start(t)

	_, err := tcb.cm.Send(tcb.tc.Ctx, tcb.tc.DB.NOTX(), &components.CallbackRequest{NodeID: "rp1"})
	assert.Regexp(t, "IC010603", err)

	_, err = tcb.cm.Send(tcb.tc.Ctx, tcb.tc.DB.NOTX(), &components.CallbackRequest{
		NodeID: "rp1",
		URL:    "http://localhost:1",
		Body:   map[string]any{"bad": make(chan bool)},
	})
	assert.Regexp(t, "IC010007", err)
}

func TestNodeURLResolver(t *testing.T) {
	receiver := testcomponents.NewCallbackReceiver(t)
	tcb := newTestCallbacks(t, func(c *conf.CallbackConfig) {
		c.NodeURLs = map[string]map[string]string{
			"rp1": {components.NodeURLError: receiver.URL},
		}
	})
	tcb.tc.Start(t)

	url, err := tcb.cm.GetNodeCallbackURL(tcb.tc.Ctx, "rp1", components.NodeURLError)
	require.NoError(t, err)
	assert.Equal(t, receiver.URL, url)

	_, err = tcb.cm.Send(tcb.tc.Ctx, tcb.tc.DB.NOTX(), &components.CallbackRequest{
		NodeID:      "rp1",
		URLResolver: tcb.cm.NodeURLResolver(components.NodeURLError),
		Body:        map[string]any{"type": "error"},
	})
	require.NoError(t, err)
	assert.Equal(t, "error", receiver.Next(t)["type"])

	err = tcb.cm.SetNodeCallbackURL(tcb.tc.Ctx, tcb.tc.DB.NOTX(), "rp1", components.NodeURLError, "http://updated.example.com")
	require.NoError(t, err)
	url, err = tcb.cm.GetNodeCallbackURL(tcb.tc.Ctx, "rp1", components.NodeURLError)
	require.NoError(t, err)
	assert.Equal(t, "http://updated.example.com", url)

	url, err = tcb.cm.GetNodeCallbackURL(tcb.tc.Ctx, "rp1", components.NodeURLIncomingRequest)
	require.NoError(t, err)
	assert.Empty(t, url)
}

func TestResolvedNoURLIsTerminal(t *testing.T) {
	tcb := newTestCallbacks(t)
	tcb.tc.Start(t)

	_, err := tcb.cm.Send(tcb.tc.Ctx, tcb.tc.DB.NOTX(), &components.CallbackRequest{
		NodeID:          "rp1",
		URLResolver:     tcb.cm.NodeURLResolver(components.NodeURLIncomingRequest),
		Body:            map[string]any{},
		Retry:           true,
		ResponseHandler: dispatch.NewContinuation(testHandlerKind, nil),
	})
	require.NoError(t, err)
	assert.Regexp(t, "IC010603", tcb.nextOutcome(t).Err)
	assert.Eventually(t, func() bool { return tcb.pendingCount(t) == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestRetryPredicateStops(t *testing.T) {
	tcb := newTestCallbacks(t)
	server, calls := failingServer(t, http.StatusServiceUnavailable)
	var asked atomic.Int32
	err := dispatch.Handle(context.Background(), tcb.cm.RetryPredicates(), "test.stop_after_two",
		func(ctx context.Context, _ *struct{}, info *components.RetryPredicateInfo) (bool, error) {
			asked.Add(1)
			return info.Attempt < 2, nil
		})
	require.NoError(t, err)
	tcb.tc.Start(t)

	_, err = tcb.cm.Send(tcb.tc.Ctx, tcb.tc.DB.NOTX(), &components.CallbackRequest{
		NodeID:          "rp1",
		URL:             server.URL,
		Body:            map[string]any{},
		Retry:           true,
		RetryPredicate:  dispatch.NewContinuation("test.stop_after_two", nil),
		ResponseHandler: dispatch.NewContinuation(testHandlerKind, nil),
	})
	require.NoError(t, err)
	outcome := tcb.nextOutcome(t)
	assert.Regexp(t, "IC010601", outcome.Err)
	assert.Equal(t, http.StatusServiceUnavailable, outcome.StatusCode)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, int32(2), asked.Load())
}

func TestRetryGivesUpAtDeadline(t *testing.T) {
	tcb := newTestCallbacks(t)
	server, calls := failingServer(t, http.StatusInternalServerError)
	tcb.tc.Start(t)

	_, err := tcb.cm.Send(tcb.tc.Ctx, tcb.tc.DB.NOTX(), &components.CallbackRequest{
		NodeID:          "rp1",
		URL:             server.URL,
		Body:            map[string]any{},
		Retry:           true,
		RetryTimeout:    100 * time.Millisecond,
		ResponseHandler: dispatch.NewContinuation(testHandlerKind, nil),
	})
	require.NoError(t, err)
	assert.Regexp(t, "IC010602", tcb.nextOutcome(t).Err)
	assert.Greater(t, calls.Load(), int32(1))
	assert.Eventually(t, func() bool { return tcb.pendingCount(t) == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestResponseBodyTooLarge(t *testing.T) {
	tcb := newTestCallbacks(t, func(c *conf.CallbackConfig) {
		c.MaxResponseBodySize = confutil.P("10")
	})
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(strings.Repeat("x", 100)))
	}))
	defer server.Close()
	tcb.tc.Start(t)

	_, err := tcb.cm.Send(tcb.tc.Ctx, tcb.tc.DB.NOTX(), &components.CallbackRequest{
		NodeID:          "rp1",
		URL:             server.URL,
		Body:            map[string]any{},
		Retry:           true,
		ResponseHandler: dispatch.NewContinuation(testHandlerKind, nil),
	})
	require.NoError(t, err)
	assert.Regexp(t, "IC010600", tcb.nextOutcome(t).Err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestResumePendingOnStart(t *testing.T) {
	tcb := newTestCallbacks(t)
	receiver := testcomponents.NewCallbackReceiver(t)

	// left behind by a previous run of the node
	err := tcb.tc.DB.DB().Create(&pendingCallback{
		NodeID:          "rp1",
		CallbackID:      "cb1",
		URL:             &receiver.URL,
		Body:            `{"type":"resumed"}`,
		ResponseHandler: marshalContinuation(dispatch.NewContinuation(testHandlerKind, nil)),
		Deadline:        time.Now().Add(time.Minute).UnixNano(),
		Created:         time.Now().UnixNano(),
	}).Error
	require.NoError(t, err)
	err = tcb.tc.DB.DB().Create(&pendingCallback{
		NodeID:     "rp1",
		CallbackID: "cb2",
		URL:        &receiver.URL,
		Body:       `{}`,
		URLResolver: confutil.P("!!!"),
		Deadline:   time.Now().Add(time.Minute).UnixNano(),
		Created:    time.Now().UnixNano(),
	}).Error
	require.NoError(t, err)

	tcb.tc.Start(t)
	assert.Equal(t, "resumed", receiver.Next(t)["type"])
	assert.Equal(t, "cb1", tcb.nextOutcome(t).CallbackID)
	assert.Eventually(t, func() bool { return tcb.pendingCount(t) == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestStopLeavesPendingForRestart(t *testing.T) {
	tcb := newTestCallbacks(t, func(c *conf.CallbackConfig) {
		c.Retry.InitialDelay = confutil.P("1h")
		c.Retry.MaxDelay = confutil.P("1h")
	})
	server, calls := failingServer(t, http.StatusInternalServerError)
	tcb.tc.Start(t)

	_, err := tcb.cm.Send(tcb.tc.Ctx, tcb.tc.DB.NOTX(), &components.CallbackRequest{
		NodeID: "rp1",
		URL:    server.URL,
		Body:   map[string]any{},
		Retry:  true,
	})
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return calls.Load() == 1 }, 5*time.Second, 10*time.Millisecond)

	tcb.cm.Stop()
	assert.Equal(t, int64(1), tcb.pendingCount(t))

	// no new delivery loops once stopped
	_, err = tcb.cm.Send(tcb.tc.Ctx, tcb.tc.DB.NOTX(), &components.CallbackRequest{
		NodeID: "rp1",
		URL:    server.URL,
		Body:   map[string]any{},
		Retry:  true,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), tcb.pendingCount(t))
	assert.Equal(t, int32(1), calls.Load())
}
