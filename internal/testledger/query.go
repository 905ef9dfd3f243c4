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
	"maps"
	"slices"

	"github.com/ndidplatform/idconsent/internal/ledgerapi"
	"github.com/ndidplatform/idconsent/pkg/icapi"
)

func (l *Ledger) Query(ctx context.Context, fnName string, params any, height int64, result any) (bool, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return false, err
	}
	l.lock.Lock()
	defer l.lock.Unlock()

	value, found := l.query(fnName, raw)
	if !found {
		return false, nil
	}
	roundTrip(value, result)
	return true, nil
}

func decode[P any](raw json.RawMessage) *P {
	p := new(P)
	_ = json.Unmarshal(raw, p)
	return p
}

func (l *Ledger) query(fnName string, raw json.RawMessage) (any, bool) {
	switch fnName {
	case ledgerapi.QueryGetRequestDetail:
		rd := l.requests[decode[ledgerapi.RequestIDParams](raw).RequestID]
		return rd, rd != nil
	case ledgerapi.QueryGetIdpNodes:
		return map[string]any{"node": l.idpNodes(decode[ledgerapi.IdpNodesFilter](raw))}, true
	case ledgerapi.QueryGetAsNodesInfoByServiceID:
		services := l.services[decode[ledgerapi.ServiceIDParams](raw).ServiceID]
		nodes := []*icapi.AsNode{}
		for _, nodeID := range slices.Sorted(maps.Keys(services)) {
			if services[nodeID].Active {
				nodes = append(nodes, services[nodeID])
			}
		}
		return map[string]any{"node": nodes}, true
	case ledgerapi.QueryGetNodeInfo:
		ni := l.nodes[decode[ledgerapi.NodeIDParams](raw).NodeID]
		return ni, ni != nil
	case ledgerapi.QueryGetReferenceGroupCode:
		p := decode[ledgerapi.IdentityParams](raw)
		code, ok := l.identityToGroup[identityKey(p.Namespace, p.Identifier)]
		return map[string]string{"reference_group_code": code}, ok
	case ledgerapi.QueryGetAccessorKey:
		a := l.accessors[decode[ledgerapi.AccessorIDParams](raw).AccessorID]
		if a == nil {
			return nil, false
		}
		return a.key, true
	case ledgerapi.QueryGetAccessorOwner:
		a := l.accessors[decode[ledgerapi.AccessorIDParams](raw).AccessorID]
		if a == nil {
			return nil, false
		}
		return map[string]string{"node_id": a.owner}, true
	case ledgerapi.QueryGetAllowedModeList:
		modes, ok := l.allowedModes[decode[ledgerapi.PurposeParams](raw).Purpose]
		if !ok {
			modes = l.allowedModes[""]
		}
		return map[string]any{"mode_list": modes}, true
	case ledgerapi.QueryGetSupportedIALList:
		return l.ialList, true
	case ledgerapi.QueryGetSupportedAALList:
		return l.aalList, true
	case ledgerapi.QueryGetNamespaceList:
		return l.namespaces, true
	case ledgerapi.QueryGetErrorCodeList:
		return l.errorCodes[decode[ledgerapi.ErrorCodeTypeParams](raw).Type], true
	case ledgerapi.QueryGetRequestTypeList:
		return l.requestTypes, true
	case ledgerapi.QueryGetIdentityInfo:
		p := decode[ledgerapi.IdentityParams](raw)
		a := l.association(p.ReferenceGroupCode, p.Namespace, p.Identifier, p.NodeID)
		if a == nil {
			return nil, false
		}
		return a.info, true
	default:
		return nil, false
	}
}

func (l *Ledger) association(rgCode, namespace, identifier, nodeID string) *association {
	if rgCode == "" {
		rgCode = l.identityToGroup[identityKey(namespace, identifier)]
	}
	if rg := l.groups[rgCode]; rg != nil {
		return rg.idps[nodeID]
	}
	return nil
}

func containsAll[T comparable](have, want []T) bool {
	for _, w := range want {
		if !slices.Contains(have, w) {
			return false
		}
	}
	return true
}

func (l *Ledger) idpNodes(f *ledgerapi.IdpNodesFilter) []*icapi.IdpNode {
	byIdentity := f.ReferenceGroupCode != "" || f.Namespace != ""
	nodes := []*icapi.IdpNode{}
	for _, nodeID := range slices.Sorted(maps.Keys(l.nodes)) {
		ni := l.nodes[nodeID]
		if ni.Role != "IdP" || !ni.Active {
			continue
		}
		ial, modes := ni.MaxIAL, ni.SupportedModeList
		if byIdentity {
			a := l.association(f.ReferenceGroupCode, f.Namespace, f.Identifier, nodeID)
			if a == nil {
				continue
			}
			ial, modes = a.info.IAL, a.info.ModeList
		}
		if ial < f.MinIAL || ni.MaxAAL < f.MinAAL ||
			(len(f.NodeIDList) > 0 && !slices.Contains(f.NodeIDList, nodeID)) ||
			!containsAll(modes, f.ModeList) ||
			!containsAll(ni.SupportedRequestTypes, f.SupportedRequestMessageDataURLTypeList) {
			continue
		}
		nodes = append(nodes, &icapi.IdpNode{
			NodeID:                nodeID,
			NodeName:              ni.NodeName,
			MaxIAL:                ial,
			MaxAAL:                ni.MaxAAL,
			SupportedModeList:     modes,
			SupportedRequestTypes: ni.SupportedRequestTypes,
		})
	}
	return nodes
}
