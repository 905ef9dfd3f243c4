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

package identitymgr

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/ndidplatform/idconsent/internal/callbackmgr"
	"github.com/ndidplatform/idconsent/internal/components"
	"github.com/ndidplatform/idconsent/internal/cryptoutil"
	"github.com/ndidplatform/idconsent/internal/eligibility"
	"github.com/ndidplatform/idconsent/internal/ledgerapi"
	"github.com/ndidplatform/idconsent/internal/requestmgr"
	"github.com/ndidplatform/idconsent/internal/responsemgr"
	"github.com/ndidplatform/idconsent/internal/testcomponents"
	"github.com/ndidplatform/idconsent/pkg/conf"
	"github.com/ndidplatform/idconsent/pkg/confutil"
	"github.com/ndidplatform/idconsent/pkg/icapi"
	"github.com/ndidplatform/idconsent/pkg/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testNamespace  = "citizen_id"
	testIdentifier = "1234567890123"
)

type testIdentities struct {
	tc       *testcomponents.TestComponents
	im       *identityManager
	caller   *testcomponents.CallbackReceiver
	incoming map[string]*testcomponents.CallbackReceiver
	key      *ecdsa.PrivateKey
	pem      string
}

func newKey(t *testing.T) (*ecdsa.PrivateKey, string) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	pem, err := cryptoutil.PublicKeyPEM(key)
	require.NoError(t, err)
	return key, pem
}

func newTestIdentities(t *testing.T, setup ...func(ti *testIdentities)) *testIdentities {
	tc := testcomponents.New(t, "idp1", "idp2")
	tc.TestLedger.AddIdP("idp1", 2.3, 3)
	tc.TestLedger.AddIdP("idp2", 2.3, 3)
	ti := &testIdentities{
		tc:       tc,
		caller:   testcomponents.NewCallbackReceiver(t),
		incoming: make(map[string]*testcomponents.CallbackReceiver),
	}
	ti.key, ti.pem = newKey(t)
	for _, fn := range setup {
		fn(ti)
	}

	cbConf := testcomponents.FastCallbackConfig()
	cbConf.NodeURLs = make(map[string]map[string]string)
	for _, nodeID := range []string{"idp1", "idp2"} {
		ti.incoming[nodeID] = testcomponents.NewCallbackReceiver(t)
		cbConf.NodeURLs[nodeID] = map[string]string{components.NodeURLIncomingRequest: ti.incoming[nodeID].URL}
	}
	tc.Callbacks = callbackmgr.NewCallbackManager(tc.Ctx, cbConf)
	tc.Eligibility = eligibility.NewEligibilityResolver(tc.Ctx)
	tc.Requests = requestmgr.NewRequestManager(tc.Ctx, &conf.RequestsConfig{})
	tc.Responses = responsemgr.NewResponseManager(tc.Ctx)
	tc.Identities = NewIdentityManager(tc.Ctx, &conf.IdentityConfig{})
	ti.im = tc.Identities.(*identityManager)
	tc.Start(t)
	return ti
}

// withMode3Identity has idp1 hold the test identity in mode 3, with accessor acc1
func withMode3Identity(ti *testIdentities) {
	ti.tc.TestLedger.AddIdentity("idp1", "rg1", testNamespace, testIdentifier, 2.3, icapi.Mode2, icapi.Mode3)
	ti.tc.TestLedger.AddAccessor("idp1", "rg1", "acc1", ti.pem)
}

func (ti *testIdentities) input(ref string) *icapi.IdentityOperationInput {
	return &icapi.IdentityOperationInput{
		NodeID:         "idp1",
		ReferenceID:    ref,
		CallbackURL:    ti.caller.URL,
		Namespace:      testNamespace,
		Identifier:     testIdentifier,
		RequestMessage: "allow a new device",
	}
}

// respond answers the consent request as idp1, signing with acc1
func (ti *testIdentities) respond(t *testing.T, requestID string, status icapi.ResponseStatus) {
	cb := ti.incoming["idp1"].NextOfType(t, "incoming_request")
	require.Equal(t, requestID, cb["request_id"])
	rd := ti.tc.TestLedger.Request(requestID)
	sig, err := cryptoutil.Sign(ti.key, rd.RequestMessageHash)
	require.NoError(t, err)
	require.NoError(t, ti.tc.Responses.CreateResponse(ti.tc.Ctx, &icapi.CreateResponseInput{
		NodeID:      "idp1",
		ReferenceID: uuid.NewString(),
		RequestID:   requestID,
		Status:      status,
		IAL:         confutil.P(2.3),
		AAL:         confutil.P(3.0),
		AccessorID:  "acc1",
		Signature:   sig,
	}))
}

func errorCode(cb map[string]any) any {
	if e, ok := cb["error"].(map[string]any); ok {
		return e["code"]
	}
	return nil
}

func TestRegisterWithoutConsent(t *testing.T) {
	ti := newTestIdentities(t)
	_, newPEM := newKey(t)

	in := ti.input("reg1")
	in.IAL = confutil.P(2.3)
	in.AccessorPublicKey = newPEM
	in.AccessorType = "EC"
	res, err := ti.tc.Identities.Operation(ti.tc.Ctx, icapi.IdentityOpRegister, in)
	require.NoError(t, err)
	assert.Nil(t, res.RequestID)
	assert.False(t, res.Exist)
	assert.NotEmpty(t, res.AccessorID)

	cb := ti.caller.Next(t)
	assert.Equal(t, "create_identity_result", cb["type"])
	assert.Equal(t, true, cb["success"], "%+v", cb)
	assert.Equal(t, "reg1", cb["reference_id"])
	assert.Equal(t, false, cb["exist"])
	assert.Equal(t, res.AccessorID, cb["accessor_id"])
	assert.Nil(t, cb["request_id"])

	rgCode := ti.tc.TestLedger.ReferenceGroupCode(testNamespace, testIdentifier)
	require.NotEmpty(t, rgCode)
	info := ti.tc.TestLedger.IdentityInfo(rgCode, "idp1")
	require.NotNil(t, info)
	assert.Equal(t, 2.3, info.IAL)
	assert.Equal(t, []icapi.Mode{icapi.Mode2}, info.ModeList)
	acc := ti.tc.TestLedger.Accessor(res.AccessorID)
	require.NotNil(t, acc)
	assert.True(t, acc.Active)
	assert.Equal(t, rgCode, acc.ReferenceGroupCode)
	assert.Empty(t, ti.tc.TestLedger.Transactions(ledgerapi.TxCreateRequest))

	// a second IdP joining a mode 2 identity needs no consent either
	in = ti.input("reg2")
	in.NodeID = "idp2"
	in.IAL = confutil.P(1.1)
	res, err = ti.tc.Identities.Operation(ti.tc.Ctx, icapi.IdentityOpRegister, in)
	require.NoError(t, err)
	assert.Nil(t, res.RequestID)
	assert.True(t, res.Exist)
	cb = ti.caller.Next(t)
	assert.Equal(t, true, cb["exist"])
	assert.NotNil(t, ti.tc.TestLedger.IdentityInfo(rgCode, "idp2"))
}

func TestAddAccessorWithConsent(t *testing.T) {
	ti := newTestIdentities(t, withMode3Identity)
	_, newPEM := newKey(t)

	in := ti.input("add-acc")
	in.AccessorPublicKey = newPEM
	res, err := ti.tc.Identities.Operation(ti.tc.Ctx, icapi.IdentityOpAddAccessor, in)
	require.NoError(t, err)
	require.NotNil(t, res.RequestID)
	assert.NotEmpty(t, res.AccessorID)

	rd := ti.tc.TestLedger.Request(*res.RequestID)
	require.NotNil(t, rd)
	assert.Equal(t, icapi.Mode3, rd.Mode)
	assert.Equal(t, "add-accessor", rd.Purpose)
	assert.Equal(t, []string{"idp1"}, rd.IdpIDList)
	assert.Equal(t, "idp1", rd.RequesterNodeID)
	assert.Nil(t, ti.tc.TestLedger.Accessor(res.AccessorID))

	// the same reference cannot be reused while consent is pending
	_, err = ti.tc.Identities.Operation(ti.tc.Ctx, icapi.IdentityOpAddAccessor, in)
	assert.Regexp(t, "IC010204", err)

	ti.respond(t, *res.RequestID, icapi.ResponseStatusAccept)
	cb := ti.caller.Next(t)
	assert.Equal(t, "add_accessor_result", cb["type"])
	assert.Equal(t, true, cb["success"], "%+v", cb)
	assert.Equal(t, *res.RequestID, cb["request_id"])
	assert.Equal(t, res.AccessorID, cb["accessor_id"])
	assert.Nil(t, cb["exist"])

	acc := ti.tc.TestLedger.Accessor(res.AccessorID)
	require.NotNil(t, acc)
	assert.Equal(t, "rg1", acc.ReferenceGroupCode)
	assert.True(t, ti.tc.TestLedger.Request(*res.RequestID).Closed)

	op, err := ti.im.loadOperation(ti.tc.Ctx, ti.tc.DB.NOTX(), "idp1", "add-acc")
	require.NoError(t, err)
	assert.Nil(t, op)
}

func TestConsentRejected(t *testing.T) {
	ti := newTestIdentities(t, withMode3Identity)
	res, err := ti.tc.Identities.Operation(ti.tc.Ctx, icapi.IdentityOpRevokeAssociation, ti.input("revoke1"))
	require.NoError(t, err)
	require.NotNil(t, res.RequestID)

	ti.respond(t, *res.RequestID, icapi.ResponseStatusReject)
	cb := ti.caller.Next(t)
	assert.Equal(t, "revoke_identity_association_result", cb["type"])
	assert.Equal(t, false, cb["success"])
	assert.Equal(t, "IC010903", errorCode(cb))

	assert.NotNil(t, ti.tc.TestLedger.IdentityInfo("rg1", "idp1"))
	assert.Empty(t, ti.tc.TestLedger.Transactions(ledgerapi.TxRevokeIdentityAssociation))

	// the reference is free again once the operation has finished
	res, err = ti.tc.Identities.Operation(ti.tc.Ctx, icapi.IdentityOpRevokeAssociation, ti.input("revoke1"))
	require.NoError(t, err)
	assert.NotNil(t, res.RequestID)
}

func TestConsentTimedOut(t *testing.T) {
	ti := newTestIdentities(t, withMode3Identity)
	in := ti.input("merge1")
	in.NamespaceToMerge = "passport"
	in.IdentifierToMerge = "AA123"
	in.RequestTimeout = 1
	ti.tc.TestLedger.AddIdentity("idp2", "rg2", "passport", "AA123", 2.3)

	res, err := ti.tc.Identities.Operation(ti.tc.Ctx, icapi.IdentityOpMerge, in)
	require.NoError(t, err)
	require.NotNil(t, res.RequestID)

	cb := ti.caller.Next(t)
	assert.Equal(t, "merge_reference_group_result", cb["type"])
	assert.Equal(t, false, cb["success"])
	assert.Equal(t, "IC010904", errorCode(cb))
	assert.True(t, ti.tc.TestLedger.Request(*res.RequestID).TimedOut)
	assert.Empty(t, ti.tc.TestLedger.Transactions(ledgerapi.TxMergeReferenceGroup))
}

func TestUpdateIALNeedsNoConsent(t *testing.T) {
	ti := newTestIdentities(t, withMode3Identity)
	in := ti.input("ial1")
	in.IAL = confutil.P(3.0)
	res, err := ti.tc.Identities.Operation(ti.tc.Ctx, icapi.IdentityOpUpdateIAL, in)
	require.NoError(t, err)
	assert.Nil(t, res.RequestID)

	cb := ti.caller.Next(t)
	assert.Equal(t, "update_ial_result", cb["type"])
	assert.Equal(t, true, cb["success"])
	assert.Equal(t, 3.0, ti.tc.TestLedger.IdentityInfo("rg1", "idp1").IAL)
}

func TestUpgradeAndRevokeWithoutMode3(t *testing.T) {
	ti := newTestIdentities(t, func(ti *testIdentities) {
		ti.tc.TestLedger.AddIdentity("idp1", "rg1", testNamespace, testIdentifier, 2.3, icapi.Mode2)
		ti.tc.TestLedger.AddAccessor("idp1", "rg1", "acc1", ti.pem)
	})
	ctx := ti.tc.Ctx

	res, err := ti.tc.Identities.Operation(ctx, icapi.IdentityOpRevokeAccessor, &icapi.IdentityOperationInput{
		NodeID:      "idp1",
		ReferenceID: "revoke-acc",
		CallbackURL: ti.caller.URL,
		Namespace:   testNamespace,
		Identifier:  testIdentifier,
		AccessorID:  "acc1",
	})
	require.NoError(t, err)
	assert.Nil(t, res.RequestID)
	assert.Equal(t, "acc1", res.AccessorID)
	cb := ti.caller.Next(t)
	assert.Equal(t, "revoke_accessor_result", cb["type"])
	assert.Equal(t, true, cb["success"])
	assert.False(t, ti.tc.TestLedger.Accessor("acc1").Active)

	_, err = ti.tc.Identities.Operation(ctx, icapi.IdentityOpUpgradeMode, ti.input("upgrade"))
	require.NoError(t, err)
	cb = ti.caller.Next(t)
	assert.Equal(t, "upgrade_identity_mode_result", cb["type"])
	assert.Equal(t, true, cb["success"])
	assert.Equal(t, []icapi.Mode{icapi.Mode2, icapi.Mode3}, ti.tc.TestLedger.IdentityInfo("rg1", "idp1").ModeList)

	// now in mode 3, so idp1 is asked before it can drop the identity
	res, err = ti.tc.Identities.Operation(ctx, icapi.IdentityOpRevokeAssociation, ti.input("revoke-assoc"))
	require.NoError(t, err)
	assert.NotNil(t, res.RequestID)
}

func TestMutationFailureReported(t *testing.T) {
	ti := newTestIdentities(t)
	in := ti.input("reg1")
	in.IAL = confutil.P(2.3)

	ti.tc.TestLedger.FailNext(ledgerapi.TxRegisterIdentity, fmt.Errorf("pop"))
	_, err := ti.tc.Identities.Operation(ti.tc.Ctx, icapi.IdentityOpRegister, in)
	require.NoError(t, err)
	cb := ti.caller.Next(t)
	assert.Equal(t, false, cb["success"])
	assert.Equal(t, "IC010910", errorCode(cb))
	assert.Empty(t, ti.tc.TestLedger.ReferenceGroupCode(testNamespace, testIdentifier))

	_, err = ti.tc.Identities.Operation(ti.tc.Ctx, icapi.IdentityOpRegister, in)
	require.NoError(t, err)
	cb = ti.caller.Next(t)
	assert.Equal(t, true, cb["success"])
}

func TestOperationChecks(t *testing.T) {
	ti := newTestIdentities(t, withMode3Identity, func(ti *testIdentities) {
		ti.tc.TestLedger.AddIdentity("idp1", "rg1", "passport", "AA1", 2.3, icapi.Mode2, icapi.Mode3)
		ti.tc.TestLedger.AddAccessor("idp2", "rg2", "acc2", ti.pem)
	})
	with := func(ref string, fn func(in *icapi.IdentityOperationInput)) *icapi.IdentityOperationInput {
		in := ti.input(ref)
		fn(in)
		return in
	}
	for name, tt := range map[string]struct {
		opType icapi.IdentityOpType
		in     *icapi.IdentityOperationInput
		errRE  string
	}{
		"unknown operation": {"fly", ti.input("r1"), "IC010902"},
		"empty add list":    {icapi.IdentityOpAdd, ti.input("r2"), "IC010906"},
		"already mode 3":    {icapi.IdentityOpUpgradeMode, ti.input("r3"), "IC010907"},
		"already registered": {icapi.IdentityOpRegister, with("r4", func(in *icapi.IdentityOperationInput) {
			in.IAL = confutil.P(2.3)
		}), "IC010900"},
		"not associated": {icapi.IdentityOpRevokeAssociation, with("r5", func(in *icapi.IdentityOperationInput) {
			in.Identifier = "999"
		}), "IC010901"},
		"accessor of another node": {icapi.IdentityOpRevokeAccessor, with("r6", func(in *icapi.IdentityOperationInput) {
			in.AccessorID = "acc2"
		}), "IC010909"},
		"merge same group": {icapi.IdentityOpMerge, with("r7", func(in *icapi.IdentityOperationInput) {
			in.NamespaceToMerge, in.IdentifierToMerge = "passport", "AA1"
		}), "IC010908"},
		"merge unknown": {icapi.IdentityOpMerge, with("r8", func(in *icapi.IdentityOperationInput) {
			in.NamespaceToMerge, in.IdentifierToMerge = "passport", "ZZ9"
		}), "IC010901"},
		"no public key":  {icapi.IdentityOpAddAccessor, ti.input("r9"), "IC010007"},
		"bad public key": {icapi.IdentityOpAddAccessor, with("r10", func(in *icapi.IdentityOperationInput) { in.AccessorPublicKey = "nope" }), "IC010512"},
		"unsupported ial": {icapi.IdentityOpUpdateIAL, with("r11", func(in *icapi.IdentityOperationInput) {
			in.IAL = confutil.P(9.0)
		}), "IC010201"},
		"unknown namespace": {icapi.IdentityOpRevokeAssociation, with("r12", func(in *icapi.IdentityOperationInput) {
			in.Namespace = "unknown"
		}), "IC010210"},
		"missing reference": {icapi.IdentityOpRevokeAssociation, with("", func(in *icapi.IdentityOperationInput) {}), "IC010007"},
		"node not managed": {icapi.IdentityOpRevokeAssociation, with("r13", func(in *icapi.IdentityOperationInput) {
			in.NodeID = "idp9"
		}), "IC010008"},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ti.tc.Identities.Operation(ti.tc.Ctx, tt.opType, tt.in)
			assert.Regexp(t, tt.errRE, err)
		})
	}
	assert.Equal(t, int64(0), ti.tc.TestLedger.Height())
	var count int64
	require.NoError(t, ti.tc.DB.DB().Model(&persistedOperation{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestStartResumesClosedConsent(t *testing.T) {
	ti := newTestIdentities(t, withMode3Identity)
	ctx := ti.tc.Ctx

	newRequest := func(timeOut bool) string {
		requestID := uuid.NewString()
		_, err := ti.tc.TestLedger.Transact(ctx, &ledger.TxRequest{
			NodeID: "idp1",
			FnName: ledgerapi.TxCreateRequest,
			Params: &ledgerapi.CreateRequestParams{RequestID: requestID, Mode: icapi.Mode3, MinIdp: 1, IdpIDList: []string{"idp1"}, RequestTimeout: 3600},
		})
		require.NoError(t, err)
		if timeOut {
			_, err = ti.tc.TestLedger.Transact(ctx, &ledger.TxRequest{
				NodeID: "idp1",
				FnName: ledgerapi.TxTimeOutRequest,
				Params: &ledgerapi.CloseRequestParams{RequestID: requestID},
			})
			require.NoError(t, err)
		}
		return requestID
	}
	insert := func(ref, requestID string) {
		op := &operation{
			NodeID:      "idp1",
			ReferenceID: ref,
			OpType:      icapi.IdentityOpRevokeAssociation,
			CallbackURL: ti.caller.URL,
			RequestID:   &requestID,
			Stage:       stageConsent,
			FnName:      ledgerapi.TxRevokeIdentityAssociation,
			Mutation:    &ledgerapi.IdentityMutationParams{ReferenceGroupCode: "rg1", RequestID: &requestID},
		}
		require.NoError(t, ti.im.insertOperation(ctx, ti.tc.DB.NOTX(), op))
	}
	timedOut := newRequest(true)
	insert("timed-out", timedOut)
	insert("open", newRequest(false))
	require.NoError(t, ti.tc.DB.DB().Create(&persistedOperation{
		NodeID:      "idp1",
		ReferenceID: "garbage",
		OpType:      string(icapi.IdentityOpAdd),
		Stage:       stageConsent,
		Payload:     "!json",
	}).Error)

	require.NoError(t, ti.im.Start())
	cb := ti.caller.Next(t)
	assert.Equal(t, "revoke_identity_association_result", cb["type"])
	assert.Equal(t, timedOut, cb["request_id"])
	assert.Equal(t, "IC010904", errorCode(cb))

	for ref, pending := range map[string]bool{"timed-out": false, "open": true, "garbage": false} {
		var count int64
		require.NoError(t, ti.tc.DB.DB().Model(&persistedOperation{}).Where("reference_id = ?", ref).Count(&count).Error)
		assert.Equal(t, pending, count == 1, ref)
	}
}
