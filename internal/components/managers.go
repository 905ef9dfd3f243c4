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

	"github.com/ndidplatform/idconsent/internal/dispatch"
	"github.com/ndidplatform/idconsent/pkg/icapi"
)

type CreateRequestOptions struct {
	// OnClosed is dispatched once the request is closed or timed out, or failed to be created
	OnClosed *dispatch.Continuation
	// SuppressCallback skips the create_request_result callback to the caller
	SuppressCallback bool
}

// RequestClosedEvent is passed to OnClosed handlers. Err is set if the request
// could not be created, closed or timed out.
type RequestClosedEvent struct {
	NodeID            string
	RequestID         string
	ReferenceID       string
	Status            icapi.RequestStatus
	Closed            bool
	TimedOut          bool
	ResponseValidList []*icapi.ResponseValid
	Err               error
}

type OnClosedTable = dispatch.Table[*RequestClosedEvent, struct{}]

type RequestManager interface {
	ManagerLifecycle
	CreateRequest(ctx context.Context, in *icapi.CreateRequestInput, opts *CreateRequestOptions) (*icapi.CreateRequestResult, error)
	CloseRequest(ctx context.Context, in *icapi.CloseRequestInput) error
	OnClosedHandlers() *OnClosedTable
	// GetReceivedRequest returns the consent request an IdP node received, or nil
	GetReceivedRequest(ctx context.Context, nodeID, requestID string) (*icapi.ConsentRequestMessage, error)
	// SendMessage sends to the registered addresses of the given nodes
	SendMessage(ctx context.Context, senderNodeID string, nodeIDs []string, msg *icapi.Message) error
}

type ResponseManager interface {
	ManagerLifecycle
	CreateResponse(ctx context.Context, in *icapi.CreateResponseInput) error
}

type IdentityManager interface {
	ManagerLifecycle
	Operation(ctx context.Context, opType icapi.IdentityOpType, in *icapi.IdentityOperationInput) (*icapi.IdentityOperationResult, error)
}

type ASManager interface {
	ManagerLifecycle
	UpsertServiceDestination(ctx context.Context, in *icapi.ServiceDestinationInput) error
	SetServicePrice(ctx context.Context, in *icapi.ServicePriceInput) error
	CreateASResponse(ctx context.Context, in *icapi.ASResponseInput) error
}
