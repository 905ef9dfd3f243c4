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

package ledgerapi

import (
	"context"

	"github.com/hyperledger/firefly-common/pkg/i18n"
	"github.com/ndidplatform/idconsent/internal/msgs"
	"github.com/ndidplatform/idconsent/pkg/cache"
	"github.com/ndidplatform/idconsent/pkg/conf"
	"github.com/ndidplatform/idconsent/pkg/icapi"
	"github.com/ndidplatform/idconsent/pkg/ledger"
)

const (
	ErrorCodeTypeIdP = "idp"
	ErrorCodeTypeAS  = "as"
)

// Queries wraps the ledger client with typed queries. Node info is cached, as it
// is read for every message sent and every whitelist check.
type Queries struct {
	c             ledger.Client
	nodeInfoCache cache.Cache[string, *icapi.NodeInfo]
}

func NewQueries(c ledger.Client, cacheConf *conf.CacheConfig) *Queries {
	return &Queries{
		c:             c,
		nodeInfoCache: cache.NewCache[string, *icapi.NodeInfo](cacheConf, &conf.LedgerDefaults.NodeInfoCache),
	}
}

func (q *Queries) Client() ledger.Client {
	return q.c
}

// GetRequestDetail returns nil if the request does not exist at the given height
func (q *Queries) GetRequestDetail(ctx context.Context, requestID string, height int64) (*icapi.RequestDetail, error) {
	var rd icapi.RequestDetail
	found, err := q.c.Query(ctx, QueryGetRequestDetail, &RequestIDParams{RequestID: requestID}, height, &rd)
	if err != nil || !found {
		return nil, err
	}
	return &rd, nil
}

// GetRequestDetailRequired fails with a not-found error for missing requests
func (q *Queries) GetRequestDetailRequired(ctx context.Context, requestID string) (*icapi.RequestDetail, error) {
	rd, err := q.GetRequestDetail(ctx, requestID, 0)
	if err == nil && rd == nil {
		err = i18n.NewError(ctx, msgs.MsgRequestNotFound, requestID)
	}
	return rd, err
}

func (q *Queries) GetIdpNodes(ctx context.Context, filter *IdpNodesFilter) ([]*icapi.IdpNode, error) {
	var res idpNodesResult
	if _, err := q.c.Query(ctx, QueryGetIdpNodes, filter, 0, &res); err != nil {
		return nil, err
	}
	return res.Nodes, nil
}

func (q *Queries) GetAsNodesInfoByServiceID(ctx context.Context, serviceID string) ([]*icapi.AsNode, error) {
	var res asNodesResult
	if _, err := q.c.Query(ctx, QueryGetAsNodesInfoByServiceID, &ServiceIDParams{ServiceID: serviceID}, 0, &res); err != nil {
		return nil, err
	}
	return res.Nodes, nil
}

// GetNodeInfo returns nil for an unknown node
func (q *Queries) GetNodeInfo(ctx context.Context, nodeID string) (*icapi.NodeInfo, error) {
	if ni, ok := q.nodeInfoCache.Get(nodeID); ok {
		return ni, nil
	}
	var ni icapi.NodeInfo
	found, err := q.c.Query(ctx, QueryGetNodeInfo, &NodeIDParams{NodeID: nodeID}, 0, &ni)
	if err != nil || !found {
		return nil, err
	}
	ni.NodeID = nodeID
	q.nodeInfoCache.Set(nodeID, &ni)
	return &ni, nil
}

func (q *Queries) InvalidateNodeInfo(nodeID string) {
	q.nodeInfoCache.Delete(nodeID)
}

// GetReferenceGroupCode returns "" if the identity is not known to the ledger
func (q *Queries) GetReferenceGroupCode(ctx context.Context, namespace, identifier string) (string, error) {
	var res referenceGroupResult
	_, err := q.c.Query(ctx, QueryGetReferenceGroupCode, &IdentityParams{Namespace: namespace, Identifier: identifier}, 0, &res)
	return res.ReferenceGroupCode, err
}

// GetAccessorKey returns nil for an unknown accessor
func (q *Queries) GetAccessorKey(ctx context.Context, accessorID string) (*icapi.AccessorKey, error) {
	var ak icapi.AccessorKey
	found, err := q.c.Query(ctx, QueryGetAccessorKey, &AccessorIDParams{AccessorID: accessorID}, 0, &ak)
	if err != nil || !found {
		return nil, err
	}
	ak.AccessorID = accessorID
	return &ak, nil
}

func (q *Queries) GetAccessorOwner(ctx context.Context, accessorID string) (string, error) {
	var res accessorOwnerResult
	_, err := q.c.Query(ctx, QueryGetAccessorOwner, &AccessorIDParams{AccessorID: accessorID}, 0, &res)
	return res.NodeID, err
}

func (q *Queries) GetAllowedModeList(ctx context.Context, purpose string) ([]icapi.Mode, error) {
	var res modeListResult
	_, err := q.c.Query(ctx, QueryGetAllowedModeList, &PurposeParams{Purpose: purpose}, 0, &res)
	return res.ModeList, err
}

func (q *Queries) GetSupportedIALList(ctx context.Context) ([]float64, error) {
	var res []float64
	_, err := q.c.Query(ctx, QueryGetSupportedIALList, struct{}{}, 0, &res)
	return res, err
}

func (q *Queries) GetSupportedAALList(ctx context.Context) ([]float64, error) {
	var res []float64
	_, err := q.c.Query(ctx, QueryGetSupportedAALList, struct{}{}, 0, &res)
	return res, err
}

func (q *Queries) GetNamespaceList(ctx context.Context) ([]*icapi.Namespace, error) {
	var res []*icapi.Namespace
	_, err := q.c.Query(ctx, QueryGetNamespaceList, struct{}{}, 0, &res)
	return res, err
}

func (q *Queries) GetErrorCodeList(ctx context.Context, errorCodeType string) ([]*icapi.ErrorCodeInfo, error) {
	var res []*icapi.ErrorCodeInfo
	_, err := q.c.Query(ctx, QueryGetErrorCodeList, &ErrorCodeTypeParams{Type: errorCodeType}, 0, &res)
	return res, err
}

func (q *Queries) GetRequestTypeList(ctx context.Context) ([]string, error) {
	var res []string
	_, err := q.c.Query(ctx, QueryGetRequestTypeList, struct{}{}, 0, &res)
	return res, err
}

// GetIdentityInfo returns the association of an identity with one IdP node, or nil if there is none
func (q *Queries) GetIdentityInfo(ctx context.Context, params *IdentityParams) (*icapi.IdentityInfo, error) {
	var info icapi.IdentityInfo
	found, err := q.c.Query(ctx, QueryGetIdentityInfo, params, 0, &info)
	if err != nil || !found {
		return nil, err
	}
	return &info, nil
}

func (q *Queries) IsNamespaceRegistered(ctx context.Context, namespace string) (bool, error) {
	namespaces, err := q.GetNamespaceList(ctx)
	if err != nil {
		return false, err
	}
	for _, ns := range namespaces {
		if ns.Namespace == namespace && ns.Active {
			return true, nil
		}
	}
	return false, nil
}

func ContainsFloat(list []float64, v float64) bool {
	for _, l := range list {
		if l == v {
			return true
		}
	}
	return false
}
