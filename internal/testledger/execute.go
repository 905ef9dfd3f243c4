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

package testledger

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/hyperledger/firefly-common/pkg/i18n"
	"github.com/ndidplatform/idconsent/internal/ledgerapi"
	"github.com/ndidplatform/idconsent/internal/msgs"
	"github.com/ndidplatform/idconsent/pkg/icapi"
)

func (l *Ledger) execute(ctx context.Context, nodeID, fnName string, params json.RawMessage) (int64, error) {
	l.lock.Lock()
	defer l.lock.Unlock()

	if err := l.failNext[fnName]; err != nil {
		delete(l.failNext, fnName)
		return 0, err
	}

	var err error
	switch fnName {
	case ledgerapi.TxCreateRequest:
		err = withParams(params, func(p *ledgerapi.CreateRequestParams) error { return l.createRequest(nodeID, p) })
	case ledgerapi.TxCloseRequest:
		err = withParams(params, func(p *ledgerapi.CloseRequestParams) error { return l.closeRequest(nodeID, p, false) })
	case ledgerapi.TxTimeOutRequest:
		err = withParams(params, func(p *ledgerapi.CloseRequestParams) error { return l.closeRequest(nodeID, p, true) })
	case ledgerapi.TxCreateIdpResponse:
		err = withParams(params, func(p *ledgerapi.CreateIdpResponseParams) error { return l.createIdpResponse(nodeID, p) })
	case ledgerapi.TxCreateAsResponse:
		err = withParams(params, func(p *ledgerapi.CreateAsResponseParams) error { return l.createAsResponse(nodeID, p) })
	case ledgerapi.TxRegisterServiceDestination:
		err = withParams(params, func(p *ledgerapi.ServiceDestinationParams) error { return l.registerServiceDestination(nodeID, p) })
	case ledgerapi.TxUpdateServiceDestination:
		err = withParams(params, func(p *ledgerapi.ServiceDestinationParams) error { return l.updateServiceDestination(nodeID, p) })
	case ledgerapi.TxSetServicePrice:
		err = withParams(params, func(p *ledgerapi.ServicePriceParams) error { return l.setServicePrice(nodeID, p) })
	default:
		err = withParams(params, func(p *ledgerapi.IdentityMutationParams) error { return l.mutateIdentity(nodeID, fnName, p) })
	}
	if err != nil {
		return 0, i18n.NewError(ctx, msgs.MsgLedgerTxFailed, fnName, txFailedCode, err.Error())
	}

	l.height++
	l.txLog = append(l.txLog, &TxRecord{NodeID: nodeID, FnName: fnName, Params: params, Height: l.height})
	l.advanceLocked()
	return l.height, nil
}

func withParams[P any](params json.RawMessage, fn func(p *P) error) error {
	p := new(P)
	if err := json.Unmarshal(params, p); err != nil {
		return err
	}
	return fn(p)
}

func (l *Ledger) openRequest(requestID string) (*icapi.RequestDetail, error) {
	rd := l.requests[requestID]
	switch {
	case rd == nil:
		return nil, fmt.Errorf("request not found")
	case rd.Closed:
		return nil, fmt.Errorf("request is closed")
	case rd.TimedOut:
		return nil, fmt.Errorf("request is timed out")
	}
	return rd, nil
}

func (l *Ledger) createRequest(nodeID string, p *ledgerapi.CreateRequestParams) error {
	if l.requests[p.RequestID] != nil {
		return fmt.Errorf("duplicate request ID")
	}
	if p.DataRequestList == nil {
		p.DataRequestList = []*icapi.LedgerDataRequest{}
	}
	l.requests[p.RequestID] = &icapi.RequestDetail{
		RequestID:           p.RequestID,
		Mode:                p.Mode,
		MinIdp:              p.MinIdp,
		MinIAL:              p.MinIAL,
		MinAAL:              p.MinAAL,
		RequestTimeout:      p.RequestTimeout,
		IdpIDList:           p.IdpIDList,
		DataRequestList:     p.DataRequestList,
		RequestMessageHash:  p.RequestMessageHash,
		ResponseList:        []*icapi.LedgerResponse{},
		Purpose:             p.Purpose,
		RequestType:         p.RequestType,
		RequesterNodeID:     nodeID,
		CreationBlockHeight: l.height + 1,
	}
	return nil
}

func (l *Ledger) closeRequest(nodeID string, p *ledgerapi.CloseRequestParams, timedOut bool) error {
	rd, err := l.openRequest(p.RequestID)
	if err != nil {
		return err
	}
	if rd.RequesterNodeID != nodeID {
		return fmt.Errorf("only the requester can close a request")
	}
	for _, v := range p.ResponseValidList {
		if r := rd.ResponseFrom(v.IdpID); r != nil {
			r.ValidSignature = v.ValidSignature
			r.ValidIAL = v.ValidIAL
		}
	}
	if timedOut {
		rd.TimedOut = true
	} else {
		rd.Closed = true
	}
	return nil
}

func (l *Ledger) createIdpResponse(nodeID string, p *ledgerapi.CreateIdpResponseParams) error {
	rd, err := l.openRequest(p.RequestID)
	if err != nil {
		return err
	}
	switch {
	case !slices.Contains(rd.IdpIDList, nodeID):
		return fmt.Errorf("IdP is not in the request IdP list")
	case rd.ResponseFrom(nodeID) != nil:
		return fmt.Errorf("duplicate IdP response")
	case !rd.CanAcceptResponse():
		return fmt.Errorf("request already has enough IdP responses")
	}
	rd.ResponseList = append(rd.ResponseList, &icapi.LedgerResponse{
		IdpID:     nodeID,
		Status:    p.Status,
		IAL:       p.IAL,
		AAL:       p.AAL,
		ErrorCode: p.ErrorCode,
		Signature: p.Signature,
	})
	return nil
}

func (l *Ledger) createAsResponse(nodeID string, p *ledgerapi.CreateAsResponseParams) error {
	rd, err := l.openRequest(p.RequestID)
	if err != nil {
		return err
	}
	for _, dr := range rd.DataRequestList {
		if dr.ServiceID != p.ServiceID {
			continue
		}
		if !slices.Contains(dr.AsIDList, nodeID) {
			return fmt.Errorf("AS is not in the service AS list")
		}
		if slices.Contains(dr.AnsweredAsIDList, nodeID) {
			return fmt.Errorf("duplicate AS response")
		}
		dr.AnsweredAsIDList = append(dr.AnsweredAsIDList, nodeID)
		return nil
	}
	return fmt.Errorf("service not in request")
}

func (l *Ledger) registerServiceDestination(nodeID string, p *ledgerapi.ServiceDestinationParams) error {
	if l.services[p.ServiceID] == nil {
		l.services[p.ServiceID] = make(map[string]*icapi.AsNode)
	}
	if l.services[p.ServiceID][nodeID] != nil {
		return fmt.Errorf("service destination already registered")
	}
	l.services[p.ServiceID][nodeID] = &icapi.AsNode{
		NodeID:                 nodeID,
		MinIAL:                 p.MinIAL,
		MinAAL:                 p.MinAAL,
		SupportedNamespaceList: p.SupportedNamespaceList,
		Active:                 true,
	}
	return nil
}

func (l *Ledger) updateServiceDestination(nodeID string, p *ledgerapi.ServiceDestinationParams) error {
	as := l.services[p.ServiceID][nodeID]
	if as == nil {
		return fmt.Errorf("service destination not found")
	}
	as.MinIAL = p.MinIAL
	as.MinAAL = p.MinAAL
	if p.SupportedNamespaceList != nil {
		as.SupportedNamespaceList = p.SupportedNamespaceList
	}
	if p.Active != nil {
		as.Active = *p.Active
	}
	return nil
}

func (l *Ledger) setServicePrice(nodeID string, p *ledgerapi.ServicePriceParams) error {
	if l.services[p.ServiceID][nodeID] == nil {
		return fmt.Errorf("service destination not found")
	}
	l.prices[p.ServiceID+"/"+nodeID] = p
	return nil
}

func (l *Ledger) group(code string) *referenceGroup {
	rg := l.groups[code]
	if rg == nil {
		rg = &referenceGroup{code: code, identities: make(map[string]bool), idps: make(map[string]*association)}
		l.groups[code] = rg
	}
	return rg
}

func (l *Ledger) addIdentities(rg *referenceGroup, identities []*icapi.IdentityRef) error {
	for _, id := range identities {
		key := identityKey(id.Namespace, id.Identifier)
		if existing, ok := l.identityToGroup[key]; ok && existing != rg.code {
			return fmt.Errorf("identity already belongs to another reference group")
		}
		rg.identities[key] = true
		l.identityToGroup[key] = rg.code
	}
	return nil
}

func (l *Ledger) addAccessor(nodeID, rgCode string, p *ledgerapi.IdentityMutationParams) error {
	if l.accessors[p.AccessorID] != nil {
		return fmt.Errorf("duplicate accessor ID")
	}
	l.accessors[p.AccessorID] = &accessor{
		owner: nodeID,
		key: &icapi.AccessorKey{
			AccessorID:         p.AccessorID,
			AccessorPublicKey:  p.AccessorPublicKey,
			AccessorType:       p.AccessorType,
			Active:             true,
			ReferenceGroupCode: rgCode,
		},
	}
	return nil
}

func (l *Ledger) revokeAccessor(nodeID, accessorID string) error {
	a := l.accessors[accessorID]
	switch {
	case a == nil:
		return fmt.Errorf("accessor not found")
	case a.owner != nodeID:
		return fmt.Errorf("accessor not owned by node")
	case !a.key.Active:
		return fmt.Errorf("accessor already revoked")
	}
	a.key.Active = false
	return nil
}

func (l *Ledger) associatedGroup(nodeID, rgCode string) (*referenceGroup, *association, error) {
	rg := l.groups[rgCode]
	if rg == nil {
		return nil, nil, fmt.Errorf("reference group not found")
	}
	a := rg.idps[nodeID]
	if a == nil {
		return nil, nil, fmt.Errorf("identity is not associated with node")
	}
	return rg, a, nil
}

func (l *Ledger) mutateIdentity(nodeID, fnName string, p *ledgerapi.IdentityMutationParams) error {
	if p.ReferenceGroupCode == "" {
		return fmt.Errorf("reference group code is required")
	}
	switch fnName {
	case ledgerapi.TxRegisterIdentity:
		rg := l.group(p.ReferenceGroupCode)
		if rg.idps[nodeID] != nil {
			return fmt.Errorf("identity already associated with node")
		}
		if err := l.addIdentities(rg, p.NewIdentityList); err != nil {
			return err
		}
		modes := p.ModeList
		if len(modes) == 0 {
			modes = []icapi.Mode{icapi.Mode2}
		}
		ial := 0.0
		if p.IAL != nil {
			ial = *p.IAL
		}
		rg.idps[nodeID] = &association{info: &icapi.IdentityInfo{
			ReferenceGroupCode: rg.code,
			IAL:                ial,
			LIAL:               p.LIAL,
			LAAL:               p.LAAL,
			ModeList:           modes,
		}}
		if p.AccessorID != "" {
			return l.addAccessor(nodeID, rg.code, p)
		}
		return nil
	case ledgerapi.TxAddIdentity:
		rg, _, err := l.associatedGroup(nodeID, p.ReferenceGroupCode)
		if err != nil {
			return err
		}
		return l.addIdentities(rg, p.NewIdentityList)
	case ledgerapi.TxAddAccessor:
		if _, _, err := l.associatedGroup(nodeID, p.ReferenceGroupCode); err != nil {
			return err
		}
		return l.addAccessor(nodeID, p.ReferenceGroupCode, p)
	case ledgerapi.TxRevokeAccessor:
		return l.revokeAccessor(nodeID, p.AccessorID)
	case ledgerapi.TxRevokeAndAddAccessor:
		if err := l.revokeAccessor(nodeID, p.RevokingAccessorID); err != nil {
			return err
		}
		return l.addAccessor(nodeID, p.ReferenceGroupCode, p)
	case ledgerapi.TxUpdateIdentityModeList:
		_, a, err := l.associatedGroup(nodeID, p.ReferenceGroupCode)
		if err != nil {
			return err
		}
		a.info.ModeList = p.ModeList
		return nil
	case ledgerapi.TxUpdateIdentity:
		_, a, err := l.associatedGroup(nodeID, p.ReferenceGroupCode)
		if err != nil {
			return err
		}
		if p.IAL != nil {
			a.info.IAL = *p.IAL
		}
		if p.LIAL != nil {
			a.info.LIAL = p.LIAL
		}
		if p.LAAL != nil {
			a.info.LAAL = p.LAAL
		}
		return nil
	case ledgerapi.TxRevokeIdentityAssociation:
		rg, _, err := l.associatedGroup(nodeID, p.ReferenceGroupCode)
		if err != nil {
			return err
		}
		delete(rg.idps, nodeID)
		for _, a := range l.accessors {
			if a.owner == nodeID && a.key.ReferenceGroupCode == rg.code {
				a.key.Active = false
			}
		}
		return nil
	case ledgerapi.TxMergeReferenceGroup:
		rg, _, err := l.associatedGroup(nodeID, p.ReferenceGroupCode)
		if err != nil {
			return err
		}
		otherCode := l.identityToGroup[identityKey(p.NamespaceToMerge, p.IdentifierToMerge)]
		other := l.groups[otherCode]
		switch {
		case other == nil:
			return fmt.Errorf("identity to merge not found")
		case other == rg:
			return fmt.Errorf("identities already in the same reference group")
		}
		for key := range other.identities {
			rg.identities[key] = true
			l.identityToGroup[key] = rg.code
		}
		for idp, a := range other.idps {
			if rg.idps[idp] == nil {
				a.info.ReferenceGroupCode = rg.code
				rg.idps[idp] = a
			}
		}
		for _, a := range l.accessors {
			if a.key.ReferenceGroupCode == other.code {
				a.key.ReferenceGroupCode = rg.code
			}
		}
		delete(l.groups, other.code)
		return nil
	default:
		return fmt.Errorf("unknown transaction")
	}
}
