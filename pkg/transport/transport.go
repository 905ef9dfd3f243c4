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

// Package transport delivers protocol messages between nodes.
//
// Delivery is at-most-once per receiver, after a bounded number of retries.
// Receivers tolerate missed messages, as all state the protocol depends on is
// on the ledger, so a failed send is reported but never fails the operation.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/hyperledger/firefly-common/pkg/i18n"
	"github.com/ndidplatform/idconsent/internal/metrics"
	"github.com/ndidplatform/idconsent/internal/msgs"
	"github.com/ndidplatform/idconsent/pkg/cache"
	"github.com/ndidplatform/idconsent/pkg/conf"
	"github.com/ndidplatform/idconsent/pkg/httpclient"
	"github.com/ndidplatform/idconsent/pkg/httpserver"
	"github.com/ndidplatform/idconsent/pkg/icapi"
	"github.com/ndidplatform/idconsent/pkg/log"
	"github.com/ndidplatform/idconsent/pkg/retry"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const MessagesPath = "/v1/messages"

type Receiver struct {
	NodeID string `json:"node_id"`
	IP     string `json:"ip"`
	Port   int    `json:"port"`
}

type Envelope struct {
	MessageID      string         `json:"message_id"`
	SenderNodeID   string         `json:"sender_node_id"`
	ReceiverNodeID string         `json:"receiver_node_id"`
	Message        *icapi.Message `json:"message"`
}

// MessageHandler processes one inbound message. An error causes the sender to
// retry, so a handler must return nil once it has durably accepted the message.
type MessageHandler func(ctx context.Context, env *Envelope) error

type Transport interface {
	// Send attempts every receiver independently, and returns once all have been
	// attempted. onSuccess is called for each receiver that accepted the message.
	Send(ctx context.Context, receivers []*Receiver, msg *icapi.Message, senderNodeID string, onSuccess func(r *Receiver)) error
	SetMessageHandler(handler MessageHandler)
	Start() error
	Stop()
}

type httpTransport struct {
	bgCtx      context.Context
	conf       *conf.TransportConfig
	localNodes map[string]bool
	client     *resty.Client
	retry      *retry.Retry
	metrics    metrics.Metrics
	dedupe     cache.Cache[string, bool]
	server     httpserver.Server

	handlerLock sync.RWMutex
	handler     MessageHandler
	localWG     sync.WaitGroup
}

// NewHTTPTransport builds a transport that listens for messages for the given
// local node ids, and delivers messages between local nodes in-process
func NewHTTPTransport(ctx context.Context, config *conf.TransportConfig, localNodeIDs []string, m metrics.Metrics) (Transport, error) {
	t := &httpTransport{
		bgCtx:      log.WithComponent(ctx, "transport"),
		conf:       config,
		localNodes: make(map[string]bool),
		client:     httpclient.NewNoBaseURL(ctx, &config.Client),
		retry:      retry.NewRetryLimited(&config.SendRetry, &conf.TransportDefaults.SendRetry),
		metrics:    m,
		dedupe:     cache.NewCache[string, bool](&config.DedupeCache, &conf.TransportDefaults.DedupeCache),
	}
	for _, nodeID := range localNodeIDs {
		t.localNodes[nodeID] = true
	}

	r := mux.NewRouter()
	r.Path(MessagesPath).Methods(http.MethodPost).HandlerFunc(t.handleInbound)
	r.Path("/metrics").Methods(http.MethodGet).Handler(promhttp.HandlerFor(m.Registry(), promhttp.HandlerOpts{}))
	server, err := httpserver.NewServer(t.bgCtx, "transport", &config.Server, &conf.TransportDefaults.Server, r)
	if err != nil {
		return nil, err
	}
	t.server = server
	return t, nil
}

func (t *httpTransport) Addr() net.Addr {
	return t.server.Addr()
}

func (t *httpTransport) SetMessageHandler(handler MessageHandler) {
	t.handlerLock.Lock()
	defer t.handlerLock.Unlock()
	t.handler = handler
}

func (t *httpTransport) getHandler() MessageHandler {
	t.handlerLock.RLock()
	defer t.handlerLock.RUnlock()
	return t.handler
}

func (t *httpTransport) Start() error {
	return t.server.Start()
}

func (t *httpTransport) Stop() {
	t.server.Stop()
	t.localWG.Wait()
}

func (t *httpTransport) Send(ctx context.Context, receivers []*Receiver, msg *icapi.Message, senderNodeID string, onSuccess func(r *Receiver)) error {
	if len(receivers) == 0 {
		return i18n.NewError(ctx, msgs.MsgTransportNoReceivers)
	}
	if msg == nil || !msg.Valid() {
		return i18n.NewError(ctx, msgs.MsgTransportInvalidMessage)
	}
	messageID := uuid.NewString()
	log.L(ctx).Debugf("Sending %s message %s for request %s to %d receivers", msg.Type, messageID, msg.RequestID(), len(receivers))

	var wg sync.WaitGroup
	for _, r := range receivers {
		env := &Envelope{
			MessageID:      messageID,
			SenderNodeID:   senderNodeID,
			ReceiverNodeID: r.NodeID,
			Message:        msg,
		}
		if t.localNodes[r.NodeID] {
			t.deliverLocal(env)
			t.sent(r, nil, onSuccess)
			continue
		}
		wg.Add(1)
		go func(r *Receiver) {
			defer wg.Done()
			t.sent(r, t.sendRemote(ctx, r, env), onSuccess)
		}(r)
	}
	wg.Wait()
	return nil
}

func (t *httpTransport) sent(r *Receiver, err error, onSuccess func(r *Receiver)) {
	t.metrics.NodeSend(r.NodeID, err == nil)
	if err != nil {
		log.L(t.bgCtx).Errorf("Failed to send message to node %s: %s", r.NodeID, err)
		return
	}
	if onSuccess != nil {
		onSuccess(r)
	}
}

func (t *httpTransport) sendRemote(ctx context.Context, r *Receiver, env *Envelope) error {
	if r.IP == "" || r.Port == 0 {
		return i18n.NewError(ctx, msgs.MsgTransportReceiverNoAddress, r.NodeID)
	}
	url := fmt.Sprintf("http://%s%s", net.JoinHostPort(r.IP, fmt.Sprint(r.Port)), MessagesPath)
	return t.retry.Do(ctx, func(attempt int) (retryable bool, err error) {
		res, err := t.client.R().SetContext(ctx).SetBody(env).Post(url)
		if err != nil {
			return true, err
		}
		if res.IsError() {
			// a rejected message will not be accepted on retry
			return res.StatusCode() >= 500, i18n.NewError(ctx, msgs.MsgTransportSendFailed, r.NodeID, res.StatusCode())
		}
		return false, nil
	})
}

// deliverLocal hands the message to the handler for a node in this process,
// without waiting for it to be processed
func (t *httpTransport) deliverLocal(env *Envelope) {
	t.localWG.Add(1)
	go func() {
		defer t.localWG.Done()
		if err := t.receive(t.bgCtx, env); err != nil {
			log.L(t.bgCtx).Errorf("Local delivery of message %s to %s failed: %s", env.MessageID, env.ReceiverNodeID, err)
		}
	}()
}

func (t *httpTransport) receive(ctx context.Context, env *Envelope) error {
	if env.Message == nil || !env.Message.Valid() || env.MessageID == "" || !t.localNodes[env.ReceiverNodeID] {
		return i18n.NewError(ctx, msgs.MsgTransportInvalidMessage)
	}
	if env.SenderNodeID == "" {
		return i18n.NewError(ctx, msgs.MsgTransportInvalidSender)
	}
	handler := t.getHandler()
	if handler == nil {
		return i18n.NewError(ctx, msgs.MsgTransportNoHandler)
	}
	dedupeKey := env.ReceiverNodeID + "/" + env.MessageID
	if !t.dedupe.SetIfAbsent(dedupeKey, true) {
		log.L(ctx).Debugf("Dropping duplicate message %s for %s", env.MessageID, env.ReceiverNodeID)
		return nil
	}
	ctx = log.WithLogField(ctx, "msg", env.MessageID)
	if err := handler(ctx, env); err != nil {
		// allow the sender to retry
		t.dedupe.Delete(dedupeKey)
		return err
	}
	return nil
}

func (t *httpTransport) handleInbound(res http.ResponseWriter, req *http.Request) {
	var env Envelope
	err := json.NewDecoder(req.Body).Decode(&env)
	if err != nil {
		err = i18n.WrapError(req.Context(), err, msgs.MsgTransportInvalidMessage)
	} else {
		err = t.receive(req.Context(), &env)
	}
	res.Header().Set("Content-Type", "application/json")
	if err != nil {
		status := http.StatusInternalServerError
		var ffErr i18n.FFError
		if errors.As(err, &ffErr) && ffErr.HTTPStatus() >= 400 {
			status = ffErr.HTTPStatus()
		}
		log.L(req.Context()).Errorf("Inbound message rejected [%d]: %s", status, err)
		res.WriteHeader(status)
		_ = json.NewEncoder(res).Encode(map[string]string{"error": err.Error()})
		return
	}
	_ = json.NewEncoder(res).Encode(map[string]string{})
}
