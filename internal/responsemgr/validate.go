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

package responsemgr

import (
	"context"
	"slices"

	"github.com/hyperledger/firefly-common/pkg/i18n"
	"github.com/ndidplatform/idconsent/internal/cryptoutil"
	"github.com/ndidplatform/idconsent/internal/ledgerapi"
	"github.com/ndidplatform/idconsent/internal/msgs"
	"github.com/ndidplatform/idconsent/pkg/icapi"
	"github.com/ndidplatform/idconsent/pkg/log"
)

// checkResponse applies every check the ledger state allows before anything is submitted.
// Each failure has its own error key.
func (rm *responseManager) checkResponse(ctx context.Context, nodeID string, in *icapi.CreateResponseInput) (*icapi.RequestDetail, error) {
	rd, err := rm.queries.GetRequestDetailRequired(ctx, in.RequestID)
	if err != nil {
		return nil, err
	}
	switch {
	case rd.Closed:
		return nil, i18n.NewError(ctx, msgs.MsgRequestIsClosed, in.RequestID)
	case rd.TimedOut:
		return nil, i18n.NewError(ctx, msgs.MsgRequestIsTimedOut, in.RequestID)
	case !slices.Contains(rd.IdpIDList, nodeID):
		return nil, i18n.NewError(ctx, msgs.MsgIdpNotInRequest, nodeID, in.RequestID)
	case rd.ResponseFrom(nodeID) != nil:
		return nil, i18n.NewError(ctx, msgs.MsgDuplicateIdpResponse, nodeID, in.RequestID)
	case !rd.CanAcceptResponse():
		return nil, i18n.NewError(ctx, msgs.MsgEnoughIdpResponse, in.RequestID)
	}

	cr, err := rm.requests.GetReceivedRequest(ctx, nodeID, in.RequestID)
	if err != nil {
		return nil, err
	}
	if cr == nil {
		return nil, i18n.NewError(ctx, msgs.MsgUnknownConsentRequest, in.RequestID)
	}

	if in.ErrorCode != nil {
		return rd, rm.checkErrorCode(ctx, *in.ErrorCode)
	}
	switch {
	case *in.IAL < rd.MinIAL:
		return nil, i18n.NewError(ctx, msgs.MsgIALTooLow, *in.IAL, rd.MinIAL)
	case *in.AAL < rd.MinAAL:
		return nil, i18n.NewError(ctx, msgs.MsgAALTooLow, *in.AAL, rd.MinAAL)
	}
	if rd.Mode.UsesReferenceGroup() {
		if err := rm.checkIdentityResponse(ctx, nodeID, rd, cr, in); err != nil {
			return nil, err
		}
	}
	return rd, nil
}

func (rm *responseManager) checkErrorCode(ctx context.Context, errorCode int) error {
	codes, err := rm.queries.GetErrorCodeList(ctx, ledgerapi.ErrorCodeTypeIdP)
	if err != nil {
		return err
	}
	for _, c := range codes {
		if c.ErrorCode == errorCode {
			return nil
		}
	}
	return i18n.NewError(ctx, msgs.MsgInvalidErrorCode, errorCode)
}

// checkIdentityResponse ties a mode 2/3 response to the identity through the accessor that signed it
func (rm *responseManager) checkIdentityResponse(ctx context.Context, nodeID string, rd *icapi.RequestDetail, cr *icapi.ConsentRequestMessage, in *icapi.CreateResponseInput) error {
	rgCode := cr.ReferenceGroupCode
	if rgCode == "" {
		// the identity may have been onboarded after the request was received
		var err error
		if rgCode, err = rm.queries.GetReferenceGroupCode(ctx, cr.Namespace, cr.Identifier); err != nil {
			return err
		}
		if rgCode == "" {
			return i18n.NewError(ctx, msgs.MsgReferenceGroupNotFound, in.RequestID)
		}
	}

	info, err := rm.queries.GetIdentityInfo(ctx, &ledgerapi.IdentityParams{ReferenceGroupCode: rgCode, NodeID: nodeID})
	if err != nil {
		return err
	}
	switch {
	case info == nil:
		return i18n.NewError(ctx, msgs.MsgIdentityNotFoundForIdp, in.RequestID, nodeID)
	case !icapi.ContainsMode(info.ModeList, rd.Mode):
		return i18n.NewError(ctx, msgs.MsgIdentityModeMismatch, rd.Mode, in.RequestID, info.ModeList)
	case in.AccessorID == "":
		return i18n.NewError(ctx, msgs.MsgAccessorIDNeeded, rd.Mode)
	case in.Signature == "":
		return i18n.NewError(ctx, msgs.MsgSignatureNeeded, rd.Mode)
	}

	ak, err := rm.queries.GetAccessorKey(ctx, in.AccessorID)
	if err != nil {
		return err
	}
	switch {
	case ak == nil:
		return i18n.NewError(ctx, msgs.MsgAccessorKeyNotFound, in.AccessorID)
	case ak.ReferenceGroupCode != rgCode:
		return i18n.NewError(ctx, msgs.MsgAccessorNotInGroup, in.AccessorID, in.RequestID)
	case !ak.Active:
		return i18n.NewError(ctx, msgs.MsgAccessorNotActive, in.AccessorID)
	case info.IAL != *in.IAL:
		return i18n.NewError(ctx, msgs.MsgIALMismatch, *in.IAL, info.IAL)
	}

	valid, err := cryptoutil.VerifySignature(ctx, ak.AccessorPublicKey, rd.RequestMessageHash, in.Signature)
	if err != nil {
		return err
	}
	if !valid {
		return i18n.NewError(ctx, msgs.MsgInvalidResponseSignature, in.AccessorID)
	}
	log.L(ctx).Debugf("Response signature verified with accessor %s", in.AccessorID)
	return nil
}
