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

package components

import (
	"context"
	"time"

	"github.com/ndidplatform/idconsent/internal/dispatch"
	"github.com/ndidplatform/idconsent/pkg/persistence"
)

// URL types of the node level callback URLs, used where no caller supplied a URL
const (
	NodeURLIncomingRequest = "incoming_request"
	NodeURLError           = "error"
)

type CallbackRequest struct {
	NodeID string
	// URL is the target, or empty if URLResolver is set
	URL string
	// URLResolver looks up the target at send time, so that URL changes are picked up by retries
	URLResolver *dispatch.Continuation
	Body        any
	Retry       bool
	// RetryTimeout overrides the configured total retry time
	RetryTimeout time.Duration
	// RetryPredicate is asked before every retry whether to continue
	RetryPredicate *dispatch.Continuation
	// ResponseHandler is passed the outcome of a successful, or terminally failed, delivery
	ResponseHandler *dispatch.Continuation
}

type CallbackOutcome struct {
	CallbackID string
	NodeID     string
	StatusCode int
	Body       []byte
	Err        error
}

type RetryPredicateInfo struct {
	CallbackID string
	NodeID     string
	Attempt    int
}

// URL resolvers are passed the node id, and return the URL ("" for none)
type URLResolverTable = dispatch.Table[string, string]
type RetryPredicateTable = dispatch.Table[*RetryPredicateInfo, bool]
type ResponseHandlerTable = dispatch.Table[*CallbackOutcome, struct{}]

type CallbackManager interface {
	ManagerLifecycle
	// Send persists the callback in the DB transaction, and begins delivery once it
	// commits. Outside a transaction (NOTX) delivery begins immediately.
	Send(ctx context.Context, dbTX persistence.DBTX, req *CallbackRequest) (callbackID string, err error)
	URLResolvers() *URLResolverTable
	RetryPredicates() *RetryPredicateTable
	ResponseHandlers() *ResponseHandlerTable
	// NodeURLResolver is the built-in resolver for a node level callback URL
	NodeURLResolver(urlType string) *dispatch.Continuation
	SetNodeCallbackURL(ctx context.Context, dbTX persistence.DBTX, nodeID, urlType, url string) error
	GetNodeCallbackURL(ctx context.Context, nodeID, urlType string) (string, error)
}
