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

// Package nodeidentity resolves which node an API call acts as. A normal node
// always acts as itself, a proxy node acts for one of the nodes it manages.
package nodeidentity

import (
	"context"
	"slices"

	"github.com/hyperledger/firefly-common/pkg/i18n"
	"github.com/ndidplatform/idconsent/internal/msgs"
	"github.com/ndidplatform/idconsent/pkg/conf"
)

type Resolver interface {
	// Resolve returns the effective node id for a call that requested the given node id (possibly empty)
	Resolve(ctx context.Context, requestedNodeID string) (string, error)
	// LocalNodeIDs are all the nodes whose state is owned by this process
	LocalNodeIDs() []string
	IsLocal(nodeID string) bool
}

type resolver struct {
	nodeID  string
	managed []string
}

func NewResolver(ctx context.Context, config *conf.Config) (Resolver, error) {
	if config.NodeID == "" {
		return nil, i18n.NewError(ctx, msgs.MsgNodeIDNotConfigured)
	}
	return &resolver{nodeID: config.NodeID, managed: config.ManagedNodeIDs}, nil
}

func (r *resolver) isProxy() bool {
	return len(r.managed) > 0
}

func (r *resolver) Resolve(ctx context.Context, requestedNodeID string) (string, error) {
	if !r.isProxy() {
		if requestedNodeID != "" && requestedNodeID != r.nodeID {
			return "", i18n.NewError(ctx, msgs.MsgNodeNotManaged, requestedNodeID)
		}
		return r.nodeID, nil
	}
	if requestedNodeID == "" {
		return "", i18n.NewError(ctx, msgs.MsgNodeIDRequiredForProxy)
	}
	if !slices.Contains(r.managed, requestedNodeID) {
		return "", i18n.NewError(ctx, msgs.MsgNodeNotManaged, requestedNodeID)
	}
	return requestedNodeID, nil
}

func (r *resolver) LocalNodeIDs() []string {
	if r.isProxy() {
		return slices.Clone(r.managed)
	}
	return []string{r.nodeID}
}

func (r *resolver) IsLocal(nodeID string) bool {
	return slices.Contains(r.LocalNodeIDs(), nodeID)
}
