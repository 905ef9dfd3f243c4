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

package eligibility

import (
	"context"
	"testing"

	"github.com/ndidplatform/idconsent/internal/components"
	"github.com/ndidplatform/idconsent/internal/testcomponents"
	"github.com/ndidplatform/idconsent/pkg/icapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestResolver(t *testing.T, setup func(tc *testcomponents.TestComponents)) (context.Context, components.EligibilityResolver) {
	tc := testcomponents.New(t, "rp1")
	tc.TestLedger.AddRP("rp1")
	tc.TestLedger.AddIdP("idp1", 2.3, 2.2)
	tc.TestLedger.AddIdP("idp2", 2.3, 2.2)
	tc.TestLedger.AddIdP("idp3", 1.1, 1)
	if setup != nil {
		setup(tc)
	}
	tc.Eligibility = NewEligibilityResolver(tc.Ctx)
	tc.Start(t)
	return tc.Ctx, tc.Eligibility
}

func TestWhitelistInactive(t *testing.T) {
	ctx, er := newTestResolver(t, nil)
	resolved, implicit, err := er.EnforceWhitelist(ctx, "rp1", []string{"idp1", "idp2"})
	require.NoError(t, err)
	assert.False(t, implicit)
	assert.Equal(t, []string{"idp1", "idp2"}, resolved)

	resolved, implicit, err = er.EnforceWhitelist(ctx, "rp1", nil)
	require.NoError(t, err)
	assert.False(t, implicit)
	assert.Empty(t, resolved)
}

func TestWhitelistSymmetry(t *testing.T) {
	ctx, er := newTestResolver(t, func(tc *testcomponents.TestComponents) {
		rp := tc.TestLedger.AddRP("rp1")
		rp.NodeIDWhitelistActive = true
		rp.NodeIDWhitelist = []string{"idp1"}
		idp := tc.TestLedger.AddIdP("idp1", 2.3, 2.2)
		idp.NodeIDWhitelistActive = true
		idp.NodeIDWhitelist = []string{"rp9"}
	})
	_, _, err := er.EnforceWhitelist(ctx, "rp1", []string{"idp1"})
	assert.Regexp(t, "IC010310.*rp1", err)
}

func TestWhitelistRequesterSide(t *testing.T) {
	ctx, er := newTestResolver(t, func(tc *testcomponents.TestComponents) {
		rp := tc.TestLedger.AddRP("rp1")
		rp.NodeIDWhitelistActive = true
		rp.NodeIDWhitelist = []string{"idp1"}
	})
	_, _, err := er.EnforceWhitelist(ctx, "rp1", []string{"idp1", "idp2"})
	assert.Regexp(t, "IC010310.*idp2", err)
}

func TestWhitelistImplicitFiltersNonMutual(t *testing.T) {
	ctx, er := newTestResolver(t, func(tc *testcomponents.TestComponents) {
		rp := tc.TestLedger.AddRP("rp1")
		rp.NodeIDWhitelistActive = true
		rp.NodeIDWhitelist = []string{"idp1", "idp2"}
		idp := tc.TestLedger.AddIdP("idp2", 2.3, 2.2)
		idp.NodeIDWhitelistActive = true
		idp.NodeIDWhitelist = []string{"rp9"}
	})
	resolved, implicit, err := er.EnforceWhitelist(ctx, "rp1", nil)
	require.NoError(t, err)
	assert.True(t, implicit)
	assert.Equal(t, []string{"idp1"}, resolved)
}

func TestSelectIdpListChecks(t *testing.T) {
	ctx, er := newTestResolver(t, nil)

	_, err := er.SelectIdpCandidates(ctx, &components.IdpSelectionInput{
		Mode: icapi.Mode1, MinIdp: 2, IdpIDList: []string{"idp1"},
	})
	assert.Regexp(t, "IC010300", err)

	_, err = er.SelectIdpCandidates(ctx, &components.IdpSelectionInput{
		Mode: icapi.Mode1, MinIdp: 1,
	})
	assert.Regexp(t, "IC010301", err)

	_, err = er.SelectIdpCandidates(ctx, &components.IdpSelectionInput{
		Mode: icapi.Mode2, MinIdp: 1, BypassIdentityCheck: true,
	})
	assert.Regexp(t, "IC010301", err)
}

func TestSelectIdpMode1(t *testing.T) {
	ctx, er := newTestResolver(t, nil)

	sel, err := er.SelectIdpCandidates(ctx, &components.IdpSelectionInput{
		Mode: icapi.Mode1, MinIdp: 1, MinIAL: 2.3, MinAAL: 2.2,
		Namespace: "citizen_id", Identifier: "1234",
		IdpIDList: []string{"idp1", "idp2"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"idp1", "idp2"}, sel.Receivers)
	assert.Equal(t, []string{"idp1", "idp2"}, sel.ReceiversWithSid)
	assert.Empty(t, sel.ReceiversWithRefGroupCode)

	_, err = er.SelectIdpCandidates(ctx, &components.IdpSelectionInput{
		Mode: icapi.Mode1, MinIdp: 1, MinIAL: 2.3,
		IdpIDList: []string{"idp1", "idp3"},
	})
	assert.Regexp(t, "IC010303", err)

	_, err = er.SelectIdpCandidates(ctx, &components.IdpSelectionInput{
		Mode: icapi.Mode1, MinIdp: 1, MinIAL: 3,
		IdpIDList: []string{"idp1", "idp2"},
	})
	assert.Regexp(t, "IC010302", err)
}

func TestSelectIdpMode2(t *testing.T) {
	ctx, er := newTestResolver(t, func(tc *testcomponents.TestComponents) {
		tc.TestLedger.AddIdentity("idp1", "rg1", "citizen_id", "1234", 2.3)
	})

	sel, err := er.SelectIdpCandidates(ctx, &components.IdpSelectionInput{
		Mode: icapi.Mode2, MinIdp: 1, MinIAL: 2.3, MinAAL: 2.2,
		Namespace: "citizen_id", Identifier: "1234",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"idp1"}, sel.ReceiversWithRefGroupCode)
	assert.Empty(t, sel.ReceiversWithSid)

	_, err = er.SelectIdpCandidates(ctx, &components.IdpSelectionInput{
		Mode: icapi.Mode2, MinIdp: 2, MinIAL: 1.1,
		Namespace: "citizen_id", Identifier: "1234",
	})
	assert.Regexp(t, "IC010304", err)

	_, err = er.SelectIdpCandidates(ctx, &components.IdpSelectionInput{
		Mode: icapi.Mode2, MinIdp: 1, MinIAL: 1.1,
		Namespace: "citizen_id", Identifier: "9999",
	})
	assert.Regexp(t, "IC010302", err)

	sel, err = er.SelectIdpCandidates(ctx, &components.IdpSelectionInput{
		Mode: icapi.Mode2, MinIdp: 0,
		Namespace: "citizen_id", Identifier: "9999",
	})
	require.NoError(t, err)
	assert.Empty(t, sel.Receivers)
}

func TestSelectIdpMode2Bypass(t *testing.T) {
	ctx, er := newTestResolver(t, func(tc *testcomponents.TestComponents) {
		tc.TestLedger.AddIdentity("idp1", "rg1", "citizen_id", "1234", 2.3)
	})

	sel, err := er.SelectIdpCandidates(ctx, &components.IdpSelectionInput{
		Mode: icapi.Mode2, MinIdp: 1, MinIAL: 2.3,
		Namespace: "citizen_id", Identifier: "1234",
		IdpIDList:           []string{"idp1", "idp2"},
		BypassIdentityCheck: true,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"idp1", "idp2"}, sel.Receivers)
	assert.Equal(t, []string{"idp1"}, sel.ReceiversWithRefGroupCode)
	assert.Equal(t, []string{"idp2"}, sel.ReceiversWithSid)
}

func TestSelectIdpImplicitEmptyWhitelist(t *testing.T) {
	ctx, er := newTestResolver(t, func(tc *testcomponents.TestComponents) {
		tc.TestLedger.AddIdentity("idp1", "rg1", "citizen_id", "1234", 2.3)
	})
	_, err := er.SelectIdpCandidates(ctx, &components.IdpSelectionInput{
		Mode: icapi.Mode2, MinIdp: 1,
		Namespace: "citizen_id", Identifier: "1234",
		ImplicitIdpIDList: true,
	})
	assert.Regexp(t, "IC010302", err)
}

func withServices(tc *testcomponents.TestComponents) {
	tc.TestLedger.AddAS("bank_statement", &icapi.AsNode{
		NodeID: "as1", MinIAL: 1.1, MinAAL: 1, SupportedNamespaceList: []string{"citizen_id"},
	})
	tc.TestLedger.AddAS("bank_statement", &icapi.AsNode{
		NodeID: "as2", MinIAL: 2.3, MinAAL: 2.2, SupportedNamespaceList: []string{"citizen_id", "passport"},
	})
}

func TestSelectAsFillsList(t *testing.T) {
	ctx, er := newTestResolver(t, withServices)
	drs := []*icapi.DataRequest{{ServiceID: "bank_statement", MinAs: 1}}
	err := er.SelectAsCandidates(ctx, &components.AsSelectionInput{
		RequesterNodeID: "rp1", Namespace: "citizen_id", MinIAL: 2.3, MinAAL: 2.2, DataRequestList: drs,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"as1", "as2"}, drs[0].AsIDList)

	drs = []*icapi.DataRequest{{ServiceID: "bank_statement", MinAs: 1}}
	err = er.SelectAsCandidates(ctx, &components.AsSelectionInput{
		RequesterNodeID: "rp1", Namespace: "citizen_id", MinIAL: 1.1, MinAAL: 1, DataRequestList: drs,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"as1"}, drs[0].AsIDList)
}

func TestSelectAsFailures(t *testing.T) {
	ctx, er := newTestResolver(t, withServices)
	for _, tt := range []struct {
		name      string
		namespace string
		ial, aal  float64
		drs       []*icapi.DataRequest
		err       string
	}{
		{"duplicate", "", 3, 3, []*icapi.DataRequest{{ServiceID: "bank_statement"}, {ServiceID: "bank_statement"}}, "IC010305"},
		{"list less than min", "", 3, 3, []*icapi.DataRequest{{ServiceID: "bank_statement", AsIDList: []string{"as1"}, MinAs: 2}}, "IC010306"},
		{"unknown service", "", 3, 3, []*icapi.DataRequest{{ServiceID: "unknown"}}, "IC010311"},
		{"explicit not providing", "", 3, 3, []*icapi.DataRequest{{ServiceID: "bank_statement", AsIDList: []string{"as1", "as9"}, MinAs: 2}}, "IC010307"},
		{"namespace", "driving_license", 3, 3, []*icapi.DataRequest{{ServiceID: "bank_statement", MinAs: 1}}, "IC010312"},
		{"condition too low", "", 1, 1, []*icapi.DataRequest{{ServiceID: "bank_statement", MinAs: 1}}, "IC010308"},
		{"unqualified", "", 1.1, 1, []*icapi.DataRequest{{ServiceID: "bank_statement", AsIDList: []string{"as1", "as2"}, MinAs: 1}}, "IC010309"},
		{"not enough", "", 1.1, 1, []*icapi.DataRequest{{ServiceID: "bank_statement", MinAs: 2}}, "IC010307"},
	} {
		t.Run(tt.name, func(t *testing.T) {
			err := er.SelectAsCandidates(ctx, &components.AsSelectionInput{
				RequesterNodeID: "rp1", Namespace: tt.namespace, MinIAL: tt.ial, MinAAL: tt.aal, DataRequestList: tt.drs,
			})
			assert.Regexp(t, tt.err, err)
		})
	}
}

func TestSelectAsWhitelist(t *testing.T) {
	ctx, er := newTestResolver(t, func(tc *testcomponents.TestComponents) {
		withServices(tc)
		as := tc.TestLedger.AddNode(&icapi.NodeInfo{NodeID: "as2", Role: "AS"})
		as.NodeIDWhitelistActive = true
		as.NodeIDWhitelist = []string{"rp9"}
	})
	drs := []*icapi.DataRequest{{ServiceID: "bank_statement", MinAs: 1}}
	err := er.SelectAsCandidates(ctx, &components.AsSelectionInput{
		RequesterNodeID: "rp1", MinIAL: 3, MinAAL: 3, DataRequestList: drs,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"as1"}, drs[0].AsIDList)

	err = er.SelectAsCandidates(ctx, &components.AsSelectionInput{
		RequesterNodeID: "rp1", MinIAL: 3, MinAAL: 3,
		DataRequestList: []*icapi.DataRequest{{ServiceID: "bank_statement", AsIDList: []string{"as2"}, MinAs: 1}},
	})
	assert.Regexp(t, "IC010310", err)
}
