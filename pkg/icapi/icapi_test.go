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

package icapi

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/hyperledger/firefly-common/pkg/i18n"
	"github.com/ndidplatform/idconsent/internal/msgs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T { return &v }

func TestRequestDetailBudget(t *testing.T) {
	rd := &RequestDetail{MinIdp: 1, IdpIDList: []string{"idp1", "idp2"}}
	assert.True(t, rd.CanAcceptResponse())
	assert.Equal(t, RequestStatusPending, rd.Status())

	rd.ResponseList = append(rd.ResponseList, &LedgerResponse{IdpID: "idp1", Status: ResponseStatusAccept})
	assert.False(t, rd.CanAcceptResponse())
	assert.Equal(t, RequestStatusCompleted, rd.Status())
	assert.NotNil(t, rd.ResponseFrom("idp1"))
	assert.Nil(t, rd.ResponseFrom("idp2"))
}

func TestRequestDetailBudgetQuorumUnreachable(t *testing.T) {
	rd := &RequestDetail{MinIdp: 2, IdpIDList: []string{"idp1", "idp2"}}
	rd.ResponseList = append(rd.ResponseList, &LedgerResponse{IdpID: "idp1", ErrorCode: ptr(30000)})
	// one error plus one remaining can never reach two
	assert.Equal(t, 0, rd.NonErrorResponseCount())
	assert.Equal(t, 1, rd.RemainingPossibleResponses())
	assert.False(t, rd.CanAcceptResponse())
	assert.Equal(t, RequestStatusErrored, rd.Status())
}

func TestRequestDetailStatus(t *testing.T) {
	rd := &RequestDetail{MinIdp: 2, IdpIDList: []string{"idp1", "idp2", "idp3"}}
	rd.ResponseList = append(rd.ResponseList, &LedgerResponse{IdpID: "idp1", Status: ResponseStatusAccept})
	assert.Equal(t, RequestStatusConfirmed, rd.Status())
	assert.False(t, rd.Status().Final())
	rd.ResponseList = append(rd.ResponseList, &LedgerResponse{IdpID: "idp2", Status: ResponseStatusReject})
	assert.Equal(t, RequestStatusRejected, rd.Status())
	assert.True(t, rd.Status().Final())
	assert.Equal(t, 0, (&RequestDetail{IdpIDList: []string{"a"}, ResponseList: []*LedgerResponse{{}, {}}}).RemainingPossibleResponses())
}

func TestMessageUnion(t *testing.T) {
	m := NewConsentRequestMessage(&ConsentRequestMessage{RequestID: "r1", CreationBlockHeight: 10})
	assert.True(t, m.Valid())
	assert.Equal(t, "r1", m.RequestID())
	assert.Equal(t, int64(10), m.Height())

	data, err := json.Marshal(NewIdpResponseMessage(&IdpResponseMessage{RequestID: "r2", Height: 12}))
	require.NoError(t, err)
	m, err = ParseMessage(data)
	require.NoError(t, err)
	assert.True(t, m.Valid())
	assert.Equal(t, MessageTypeIdpResponse, m.Type)
	assert.Equal(t, "r2", m.RequestID())
	assert.Equal(t, int64(12), m.Height())

	bad := &Message{Type: MessageTypeConsentRequest, IdpResponse: &IdpResponseMessage{RequestID: "r3"}}
	assert.False(t, bad.Valid())
	assert.Equal(t, "r3", bad.RequestID())
	assert.Empty(t, (&Message{}).RequestID())
	assert.Zero(t, (&Message{}).Height())
	assert.False(t, (&Message{Type: "other"}).Valid())

	_, err = ParseMessage([]byte("!json"))
	assert.Error(t, err)
}

func TestCallbackBaseNullRequestID(t *testing.T) {
	cb := &IdentityResultCallback{
		CallbackBase: NewCallbackBase("rp1", IdentityOpRegister.CallbackType(), "ref1", nil),
		Exist:        ptr(false),
	}
	data, err := json.Marshal(cb)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"node_id": "rp1",
		"type": "create_identity_result",
		"success": true,
		"reference_id": "ref1",
		"request_id": null,
		"exist": false
	}`, string(data))

	cb.Fail("IC010903", "rejected")
	data, err = json.Marshal(cb)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"error":{"code":"IC010903","message":"rejected"}`)
	assert.Contains(t, string(data), `"success":false`)
}

func TestModeHelpers(t *testing.T) {
	assert.True(t, Mode1.Valid())
	assert.False(t, Mode(4).Valid())
	assert.False(t, Mode1.UsesReferenceGroup())
	assert.True(t, Mode3.UsesReferenceGroup())
	assert.True(t, ContainsMode([]Mode{Mode2, Mode3}, Mode3))
	assert.False(t, ContainsMode(nil, Mode1))

	ni := &NodeInfo{NodeIDWhitelistActive: true, NodeIDWhitelist: []string{"a"}}
	assert.True(t, ni.Whitelists("a"))
	assert.False(t, ni.Whitelists("b"))
	assert.True(t, (&NodeInfo{}).Whitelists("b"))
	assert.True(t, (&ResponseValid{ValidSignature: ptr(true)}).AllValid())
	assert.False(t, (&ResponseValid{ValidIAL: ptr(false)}).AllValid())

	for _, op := range []IdentityOpType{IdentityOpAdd, IdentityOpAddAccessor, IdentityOpRevokeAccessor,
		IdentityOpRevokeAndAddAccessor, IdentityOpRevokeAssociation, IdentityOpUpgradeMode, IdentityOpMerge, IdentityOpUpdateIAL} {
		assert.NotEmpty(t, op.CallbackType())
	}
}

func TestValidateReportsJSONFields(t *testing.T) {
	ctx := context.Background()
	err := Validate(ctx, &CreateRequestInput{
		Mode:            4,
		DataRequestList: []*DataRequest{{MinAs: -1}},
	})
	assert.Regexp(t, "IC010007", err)
	assert.Regexp(t, "reference_id failed 'required'", err)
	assert.Regexp(t, "mode failed 'oneof'", err)
	assert.Regexp(t, `data_request_list\[0\].service_id failed 'required'`, err)

	err = Validate(ctx, &CloseRequestInput{ReferenceID: "ref1", RequestID: "req1"})
	assert.NoError(t, err)
}

func TestFailWithError(t *testing.T) {
	cb := NewCallbackBase("rp1", CallbackTypeCloseRequestResult, "ref1", nil)
	cb.FailWithError(i18n.NewError(context.Background(), msgs.MsgRequestIsClosed, "req1"))
	assert.False(t, cb.Success)
	assert.Equal(t, "IC010401", cb.Error.Code)

	cb.FailWithError(fmt.Errorf("pop"))
	assert.Equal(t, "IC010018", cb.Error.Code)
	assert.Equal(t, "pop", cb.Error.Message)
}
