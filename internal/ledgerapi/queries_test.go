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
	"encoding/json"
	"fmt"
	"testing"

	"github.com/ndidplatform/idconsent/mocks/ledgermocks"
	"github.com/ndidplatform/idconsent/pkg/conf"
	"github.com/ndidplatform/idconsent/pkg/icapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newTestQueries(t *testing.T) (context.Context, *Queries, *ledgermocks.Client) {
	mc := ledgermocks.NewClient(t)
	return context.Background(), NewQueries(mc, &conf.CacheConfig{}), mc
}

// returnsJSON fills the query result from a JSON string
func returnsJSON(mc *ledgermocks.Client, fnName, value string) *mock.Call {
	return mc.On("Query", mock.Anything, fnName, mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			_ = json.Unmarshal([]byte(value), args[4])
		}).
		Return(true, nil)
}

func TestGetRequestDetail(t *testing.T) {
	ctx, q, mc := newTestQueries(t)
	returnsJSON(mc, QueryGetRequestDetail, `{"request_id":"r1","min_idp":1,"idp_id_list":["idp1"]}`).Once()

	rd, err := q.GetRequestDetail(ctx, "r1", 0)
	require.NoError(t, err)
	assert.Equal(t, "r1", rd.RequestID)
	assert.True(t, rd.CanAcceptResponse())
}

func TestGetRequestDetailRequiredNotFound(t *testing.T) {
	ctx, q, mc := newTestQueries(t)
	mc.On("Query", mock.Anything, QueryGetRequestDetail, &RequestIDParams{RequestID: "r1"}, int64(0), mock.Anything).Return(false, nil)

	_, err := q.GetRequestDetailRequired(ctx, "r1")
	assert.Regexp(t, "IC010400", err)
}

func TestGetRequestDetailError(t *testing.T) {
	ctx, q, mc := newTestQueries(t)
	mc.On("Query", mock.Anything, QueryGetRequestDetail, mock.Anything, int64(10), mock.Anything).Return(false, fmt.Errorf("pop"))

	_, err := q.GetRequestDetail(ctx, "r1", 10)
	assert.Regexp(t, "pop", err)
}

func TestGetNodeInfoCached(t *testing.T) {
	ctx, q, mc := newTestQueries(t)
	returnsJSON(mc, QueryGetNodeInfo, `{"role":"IdP","mq":[{"ip":"10.0.0.1","port":8500}]}`).Once()

	ni, err := q.GetNodeInfo(ctx, "idp1")
	require.NoError(t, err)
	assert.Equal(t, "idp1", ni.NodeID)
	assert.Equal(t, 8500, ni.MQ[0].Port)

	ni2, err := q.GetNodeInfo(ctx, "idp1")
	require.NoError(t, err)
	assert.Same(t, ni, ni2)

	q.InvalidateNodeInfo("idp1")
	returnsJSON(mc, QueryGetNodeInfo, `{"role":"IdP"}`).Once()
	ni3, err := q.GetNodeInfo(ctx, "idp1")
	require.NoError(t, err)
	assert.NotSame(t, ni, ni3)
}

func TestGetNodeInfoNotFound(t *testing.T) {
	ctx, q, mc := newTestQueries(t)
	mc.On("Query", mock.Anything, QueryGetNodeInfo, mock.Anything, mock.Anything, mock.Anything).Return(false, nil).Twice()

	ni, err := q.GetNodeInfo(ctx, "unknown")
	require.NoError(t, err)
	assert.Nil(t, ni)
	// misses are not cached
	_, _ = q.GetNodeInfo(ctx, "unknown")
}

func TestListQueries(t *testing.T) {
	ctx, q, mc := newTestQueries(t)
	returnsJSON(mc, QueryGetIdpNodes, `{"node":[{"node_id":"idp1","max_ial":2.3}]}`)
	returnsJSON(mc, QueryGetAsNodesInfoByServiceID, `{"node":[{"node_id":"as1","active":true}]}`)
	returnsJSON(mc, QueryGetAllowedModeList, `{"mode_list":[2,3]}`)
	returnsJSON(mc, QueryGetSupportedIALList, `[1.1,2.3]`)
	returnsJSON(mc, QueryGetSupportedAALList, `[1,2.2]`)
	returnsJSON(mc, QueryGetRequestTypeList, `["type1"]`)
	returnsJSON(mc, QueryGetErrorCodeList, `[{"error_code":10101,"description":"bad"}]`)
	returnsJSON(mc, QueryGetReferenceGroupCode, `{"reference_group_code":"rg1"}`)
	returnsJSON(mc, QueryGetAccessorOwner, `{"node_id":"idp1"}`)

	idps, err := q.GetIdpNodes(ctx, &IdpNodesFilter{MinIAL: 1.1})
	require.NoError(t, err)
	assert.Equal(t, 2.3, idps[0].MaxIAL)

	as, err := q.GetAsNodesInfoByServiceID(ctx, "bank_statement")
	require.NoError(t, err)
	assert.True(t, as[0].Active)

	modes, err := q.GetAllowedModeList(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []icapi.Mode{icapi.Mode2, icapi.Mode3}, modes)

	ials, err := q.GetSupportedIALList(ctx)
	require.NoError(t, err)
	assert.True(t, ContainsFloat(ials, 2.3))
	assert.False(t, ContainsFloat(ials, 3))

	aals, err := q.GetSupportedAALList(ctx)
	require.NoError(t, err)
	assert.Len(t, aals, 2)

	types, err := q.GetRequestTypeList(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"type1"}, types)

	codes, err := q.GetErrorCodeList(ctx, ErrorCodeTypeIdP)
	require.NoError(t, err)
	assert.Equal(t, 10101, codes[0].ErrorCode)

	rg, err := q.GetReferenceGroupCode(ctx, "citizen_id", "1234")
	require.NoError(t, err)
	assert.Equal(t, "rg1", rg)

	owner, err := q.GetAccessorOwner(ctx, "acc1")
	require.NoError(t, err)
	assert.Equal(t, "idp1", owner)
}

func TestGetAccessorKeyAndIdentityInfo(t *testing.T) {
	ctx, q, mc := newTestQueries(t)
	returnsJSON(mc, QueryGetAccessorKey, `{"accessor_public_key":"pem","active":true}`).Once()
	returnsJSON(mc, QueryGetIdentityInfo, `{"reference_group_code":"rg1","ial":2.3,"mode_list":[2,3]}`).Once()

	ak, err := q.GetAccessorKey(ctx, "acc1")
	require.NoError(t, err)
	assert.Equal(t, "acc1", ak.AccessorID)
	assert.True(t, ak.Active)

	info, err := q.GetIdentityInfo(ctx, &IdentityParams{ReferenceGroupCode: "rg1", NodeID: "idp1"})
	require.NoError(t, err)
	assert.Equal(t, 2.3, info.IAL)

	mc.On("Query", mock.Anything, QueryGetAccessorKey, mock.Anything, mock.Anything, mock.Anything).Return(false, nil).Once()
	ak, err = q.GetAccessorKey(ctx, "acc2")
	require.NoError(t, err)
	assert.Nil(t, ak)
}

func TestIsNamespaceRegistered(t *testing.T) {
	ctx, q, mc := newTestQueries(t)
	returnsJSON(mc, QueryGetNamespaceList, `[{"namespace":"citizen_id","active":true},{"namespace":"passport","active":false}]`)

	ok, err := q.IsNamespaceRegistered(ctx, "citizen_id")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = q.IsNamespaceRegistered(ctx, "passport")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIsNamespaceRegisteredError(t *testing.T) {
	ctx, q, mc := newTestQueries(t)
	mc.On("Query", mock.Anything, QueryGetNamespaceList, mock.Anything, mock.Anything, mock.Anything).Return(false, fmt.Errorf("pop"))

	_, err := q.IsNamespaceRegistered(ctx, "citizen_id")
	assert.Regexp(t, "pop", err)
}
