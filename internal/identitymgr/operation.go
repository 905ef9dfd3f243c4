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
	"context"

	"github.com/google/uuid"
	"github.com/hyperledger/firefly-common/pkg/i18n"
	"github.com/ndidplatform/idconsent/internal/components"
	"github.com/ndidplatform/idconsent/internal/cryptoutil"
	"github.com/ndidplatform/idconsent/internal/dispatch"
	"github.com/ndidplatform/idconsent/internal/ledgerapi"
	"github.com/ndidplatform/idconsent/internal/msgs"
	"github.com/ndidplatform/idconsent/pkg/icapi"
	"github.com/ndidplatform/idconsent/pkg/ledger"
	"github.com/ndidplatform/idconsent/pkg/log"
	"github.com/ndidplatform/idconsent/pkg/persistence"
)

const (
	consentMinIAL = 1.1
	consentMinAAL = 1
)

// Operation checks the operation against the ledger, then either submits the mutation
// straight away, or issues a consent request and returns its id. The outcome is
// delivered to the callback URL either way.
func (im *identityManager) Operation(ctx context.Context, opType icapi.IdentityOpType, in *icapi.IdentityOperationInput) (*icapi.IdentityOperationResult, error) {
	nodeID, err := im.identity.Resolve(ctx, in.NodeID)
	if err != nil {
		return nil, err
	}
	if err := icapi.Validate(ctx, in); err != nil {
		return nil, err
	}
	ctx = log.WithLogField(ctx, "ref", in.ReferenceID)
	op, err := im.buildOperation(ctx, nodeID, opType, in)
	if err != nil {
		return nil, err
	}

	release, err := im.locks.Lock(ctx, operationKey(nodeID, in.ReferenceID))
	if err != nil {
		return nil, err
	}
	defer release()

	existing, err := im.loadOperation(ctx, im.p.NOTX(), nodeID, in.ReferenceID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, i18n.NewError(ctx, msgs.MsgDuplicateReferenceID, in.ReferenceID)
	}

	needsConsent, err := im.checkAgainstLedger(ctx, op, in)
	if err != nil {
		return nil, err
	}
	if needsConsent {
		err = im.requestConsent(ctx, op, in)
	} else {
		err = im.mutateNow(ctx, op)
	}
	if err != nil {
		return nil, err
	}
	log.L(ctx).Infof("Identity operation %s started (consent=%t exist=%t)", opType, needsConsent, op.Exist)
	return &icapi.IdentityOperationResult{
		RequestID:  op.RequestID,
		Exist:      op.Exist,
		AccessorID: op.AccessorID,
	}, nil
}

func requireField(ctx context.Context, value, name string, opType icapi.IdentityOpType) error {
	if value == "" {
		return i18n.NewError(ctx, msgs.MsgInvalidInput, name+" is required for "+string(opType))
	}
	return nil
}

// buildOperation runs the checks that need nothing from the ledger but the reference lists
func (im *identityManager) buildOperation(ctx context.Context, nodeID string, opType icapi.IdentityOpType, in *icapi.IdentityOperationInput) (*operation, error) {
	op := &operation{
		NodeID:      nodeID,
		ReferenceID: in.ReferenceID,
		OpType:      opType,
		CallbackURL: in.CallbackURL,
		Mutation:    &ledgerapi.IdentityMutationParams{},
	}
	m := op.Mutation
	addsAccessor := false
	var err error
	switch opType {
	case icapi.IdentityOpRegister:
		op.FnName = ledgerapi.TxRegisterIdentity
		if in.IAL == nil {
			return nil, i18n.NewError(ctx, msgs.MsgInvalidInput, "ial is required for "+string(opType))
		}
		m.NewIdentityList = append([]*icapi.IdentityRef{{Namespace: in.Namespace, Identifier: in.Identifier}}, in.IdentityList...)
		m.IAL, m.LIAL, m.LAAL = in.IAL, in.LIAL, in.LAAL
		m.ModeList = []icapi.Mode{icapi.Mode2}
		if in.Mode == icapi.Mode3 {
			m.ModeList = []icapi.Mode{icapi.Mode2, icapi.Mode3}
		}
		addsAccessor = in.AccessorPublicKey != ""
	case icapi.IdentityOpAdd:
		op.FnName = ledgerapi.TxAddIdentity
		if len(in.IdentityList) == 0 {
			return nil, i18n.NewError(ctx, msgs.MsgIdentityListEmpty)
		}
		m.NewIdentityList = in.IdentityList
	case icapi.IdentityOpAddAccessor:
		op.FnName = ledgerapi.TxAddAccessor
		addsAccessor = true
	case icapi.IdentityOpRevokeAccessor:
		op.FnName = ledgerapi.TxRevokeAccessor
		err = requireField(ctx, in.AccessorID, "accessor_id", opType)
		m.AccessorID = in.AccessorID
		op.AccessorID = in.AccessorID
	case icapi.IdentityOpRevokeAndAddAccessor:
		op.FnName = ledgerapi.TxRevokeAndAddAccessor
		err = requireField(ctx, in.RevokingAccessorID, "revoking_accessor_id", opType)
		m.RevokingAccessorID = in.RevokingAccessorID
		addsAccessor = true
	case icapi.IdentityOpRevokeAssociation:
		op.FnName = ledgerapi.TxRevokeIdentityAssociation
	case icapi.IdentityOpUpgradeMode:
		op.FnName = ledgerapi.TxUpdateIdentityModeList
		m.ModeList = []icapi.Mode{icapi.Mode2, icapi.Mode3}
	case icapi.IdentityOpMerge:
		op.FnName = ledgerapi.TxMergeReferenceGroup
		if err = requireField(ctx, in.NamespaceToMerge, "namespace_to_merge", opType); err == nil {
			err = requireField(ctx, in.IdentifierToMerge, "identifier_to_merge", opType)
		}
		m.NamespaceToMerge, m.IdentifierToMerge = in.NamespaceToMerge, in.IdentifierToMerge
	case icapi.IdentityOpUpdateIAL:
		op.FnName = ledgerapi.TxUpdateIdentity
		if in.IAL == nil {
			return nil, i18n.NewError(ctx, msgs.MsgInvalidInput, "ial is required for "+string(opType))
		}
		m.IAL, m.LIAL, m.LAAL = in.IAL, in.LIAL, in.LAAL
	default:
		return nil, i18n.NewError(ctx, msgs.MsgInvalidIdentityOperation, opType)
	}
	if err != nil {
		return nil, err
	}

	if addsAccessor {
		if err := requireField(ctx, in.AccessorPublicKey, "accessor_public_key", opType); err != nil {
			return nil, err
		}
		if _, err := cryptoutil.ParsePublicKey(ctx, in.AccessorPublicKey); err != nil {
			return nil, err
		}
		op.AccessorID = in.AccessorID
		if op.AccessorID == "" {
			op.AccessorID = uuid.NewString()
		}
		m.AccessorID = op.AccessorID
		m.AccessorPublicKey = in.AccessorPublicKey
		m.AccessorType = in.AccessorType
	}
	return op, nil
}

// checkAgainstLedger fills in the reference group, and decides whether the mode 3
// holders of the identity have to consent
func (im *identityManager) checkAgainstLedger(ctx context.Context, op *operation, in *icapi.IdentityOperationInput) (bool, error) {
	if err := im.checkReferenceData(ctx, in); err != nil {
		return false, err
	}
	rgCode, err := im.queries.GetReferenceGroupCode(ctx, in.Namespace, in.Identifier)
	if err != nil {
		return false, err
	}
	var info *icapi.IdentityInfo
	if rgCode != "" {
		if info, err = im.queries.GetIdentityInfo(ctx, &ledgerapi.IdentityParams{ReferenceGroupCode: rgCode, NodeID: op.NodeID}); err != nil {
			return false, err
		}
	}

	if op.OpType == icapi.IdentityOpRegister {
		if info != nil {
			return false, i18n.NewError(ctx, msgs.MsgIdentityAlreadyExists, in.Namespace)
		}
		op.Exist = rgCode != ""
		if !op.Exist {
			rgCode = uuid.NewString()
		}
	} else if info == nil {
		return false, i18n.NewError(ctx, msgs.MsgIdentityNotFound)
	}
	op.Mutation.ReferenceGroupCode = rgCode

	switch op.OpType {
	case icapi.IdentityOpRevokeAccessor:
		err = im.checkAccessorOwner(ctx, op.NodeID, in.AccessorID)
	case icapi.IdentityOpRevokeAndAddAccessor:
		err = im.checkAccessorOwner(ctx, op.NodeID, in.RevokingAccessorID)
	case icapi.IdentityOpUpgradeMode:
		if icapi.ContainsMode(info.ModeList, icapi.Mode3) {
			err = i18n.NewError(ctx, msgs.MsgModeDowngradeNotAllowed, info.ModeList, op.Mutation.ModeList)
		}
	case icapi.IdentityOpMerge:
		var otherCode string
		if otherCode, err = im.queries.GetReferenceGroupCode(ctx, in.NamespaceToMerge, in.IdentifierToMerge); err == nil {
			switch otherCode {
			case "":
				err = i18n.NewError(ctx, msgs.MsgIdentityNotFound)
			case rgCode:
				err = i18n.NewError(ctx, msgs.MsgMergeSameGroup, rgCode)
			}
		}
	}
	if err != nil {
		return false, err
	}

	switch {
	case op.OpType == icapi.IdentityOpUpdateIAL:
		return false, nil
	case op.OpType == icapi.IdentityOpRegister && (!op.Exist || in.Mode != icapi.Mode3):
		return false, nil
	}
	holders, err := im.queries.GetIdpNodes(ctx, &ledgerapi.IdpNodesFilter{
		ReferenceGroupCode: rgCode,
		ModeList:           []icapi.Mode{icapi.Mode3},
	})
	if err != nil {
		return false, err
	}
	return len(holders) > 0, nil
}

func (im *identityManager) checkReferenceData(ctx context.Context, in *icapi.IdentityOperationInput) error {
	namespaces := []string{in.Namespace}
	for _, id := range in.IdentityList {
		namespaces = append(namespaces, id.Namespace)
	}
	for _, ns := range namespaces {
		registered, err := im.queries.IsNamespaceRegistered(ctx, ns)
		if err != nil {
			return err
		}
		if !registered {
			return i18n.NewError(ctx, msgs.MsgNamespaceNotRegistered, ns)
		}
	}
	if in.IAL != nil {
		ials, err := im.queries.GetSupportedIALList(ctx)
		if err != nil {
			return err
		}
		if !ledgerapi.ContainsFloat(ials, *in.IAL) {
			return i18n.NewError(ctx, msgs.MsgUnsupportedIAL, *in.IAL, ials)
		}
	}
	return nil
}

func (im *identityManager) checkAccessorOwner(ctx context.Context, nodeID, accessorID string) error {
	owner, err := im.queries.GetAccessorOwner(ctx, accessorID)
	if err != nil {
		return err
	}
	if owner != nodeID {
		return i18n.NewError(ctx, msgs.MsgAccessorOwnedByOtherNode, accessorID, nodeID)
	}
	return nil
}

func (im *identityManager) mutateNow(ctx context.Context, op *operation) error {
	op.Stage = stageMutating
	err := im.p.Transaction(ctx, func(ctx context.Context, dbTX persistence.DBTX) error {
		return im.insertOperation(ctx, dbTX, op)
	})
	if err != nil {
		return err
	}
	if err := im.submitMutation(ctx, op); err != nil {
		im.discard(ctx, op)
		return err
	}
	return nil
}

// submitMutation hands the mutation to the ledger, the outcome arrives at onMutated
func (im *identityManager) submitMutation(ctx context.Context, op *operation) error {
	_, err := im.ledger.Transact(ctx, &ledger.TxRequest{
		NodeID:                      op.NodeID,
		FnName:                      op.FnName,
		Params:                      op.Mutation,
		Continuation:                dispatch.NewContinuation(mutatedKind, &operationArgs{NodeID: op.NodeID, ReferenceID: op.ReferenceID}),
		SaveForRetryOnChainDisabled: true,
		RetryOnFail:                 true,
	})
	return err
}

func (im *identityManager) requestConsent(ctx context.Context, op *operation, in *icapi.IdentityOperationInput) error {
	requestID := uuid.NewString()
	op.RequestID = &requestID
	op.Mutation.RequestID = &requestID
	op.Stage = stageConsent
	ctx = log.WithLogField(ctx, "req", requestID)
	err := im.p.Transaction(ctx, func(ctx context.Context, dbTX persistence.DBTX) error {
		return im.insertOperation(ctx, dbTX, op)
	})
	if err != nil {
		return err
	}

	timeout := in.RequestTimeout
	if timeout == 0 {
		timeout = im.consentTimeout
	}
	_, err = im.requests.CreateRequest(ctx, &icapi.CreateRequestInput{
		NodeID:          op.NodeID,
		RequestID:       requestID,
		ReferenceID:     uuid.NewString(),
		Mode:            icapi.Mode3,
		Namespace:       in.Namespace,
		Identifier:      in.Identifier,
		IdpIDList:       in.IdpIDList,
		DataRequestList: []*icapi.DataRequest{},
		RequestMessage:  in.RequestMessage,
		MinIAL:          consentMinIAL,
		MinAAL:          consentMinAAL,
		MinIdp:          1,
		RequestTimeout:  timeout,
		Purpose:         string(op.OpType),
	}, &components.CreateRequestOptions{
		OnClosed:         dispatch.NewContinuation(consentClosedKind, &operationArgs{NodeID: op.NodeID, ReferenceID: op.ReferenceID}),
		SuppressCallback: true,
	})
	if err != nil {
		im.discard(ctx, op)
		return err
	}
	return nil
}

// discard drops an operation that never got going, its caller gets the error directly
func (im *identityManager) discard(ctx context.Context, op *operation) {
	if err := im.deleteOperation(ctx, im.p.NOTX(), op.NodeID, op.ReferenceID); err != nil {
		log.L(ctx).Errorf("Failed to remove identity operation: %s", err)
	}
}
