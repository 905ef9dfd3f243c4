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

// Package eligibility selects the IdP and AS nodes a request is sent to. It holds
// no state of its own, every decision is made from ledger queries.
package eligibility

import (
	"context"
	"slices"

	"github.com/hyperledger/firefly-common/pkg/i18n"
	"github.com/ndidplatform/idconsent/internal/components"
	"github.com/ndidplatform/idconsent/internal/ledgerapi"
	"github.com/ndidplatform/idconsent/internal/msgs"
	"github.com/ndidplatform/idconsent/pkg/icapi"
	"github.com/ndidplatform/idconsent/pkg/log"
)

type eligibilityResolver struct {
	bgCtx   context.Context
	queries *ledgerapi.Queries
}

func NewEligibilityResolver(bgCtx context.Context) components.EligibilityResolver {
	return &eligibilityResolver{
		bgCtx: log.WithComponent(bgCtx, "eligibility"),
	}
}

func (er *eligibilityResolver) PreInit(pic components.PreInitComponents) (*components.ManagerInitResult, error) {
	er.queries = pic.LedgerQueries()
	return &components.ManagerInitResult{}, nil
}

func (er *eligibilityResolver) PostInit(c components.AllComponents) error {
	return nil
}

func (er *eligibilityResolver) Start() error {
	return nil
}

func (er *eligibilityResolver) Stop() {}

// EnforceWhitelist requires mutual opt-in between the requester and every candidate.
// Candidates the caller named explicitly fail the request if either side does not
// whitelist the other. Candidates taken from the requester's own whitelist are
// dropped quietly when they do not whitelist the requester.
func (er *eligibilityResolver) EnforceWhitelist(ctx context.Context, requesterNodeID string, idpIDList []string) ([]string, bool, error) {
	requester, err := er.queries.GetNodeInfo(ctx, requesterNodeID)
	if err != nil {
		return nil, false, err
	}
	implicit := false
	if requester != nil && requester.NodeIDWhitelistActive && len(idpIDList) == 0 {
		idpIDList = slices.Clone(requester.NodeIDWhitelist)
		implicit = true
	}
	resolved := make([]string, 0, len(idpIDList))
	for _, nodeID := range idpIDList {
		if requester != nil && !requester.Whitelists(nodeID) {
			return nil, false, i18n.NewError(ctx, msgs.MsgNotInWhitelist, nodeID, requesterNodeID)
		}
		candidate, err := er.queries.GetNodeInfo(ctx, nodeID)
		if err != nil {
			return nil, false, err
		}
		if candidate != nil && !candidate.Whitelists(requesterNodeID) {
			if implicit {
				log.L(ctx).Debugf("Whitelisted node %s does not accept requests from %s", nodeID, requesterNodeID)
				continue
			}
			return nil, false, i18n.NewError(ctx, msgs.MsgNotInWhitelist, requesterNodeID, nodeID)
		}
		resolved = append(resolved, nodeID)
	}
	return resolved, implicit, nil
}

func idpNodeIDs(nodes []*icapi.IdpNode) []string {
	ids := make([]string, len(nodes))
	for i, n := range nodes {
		ids[i] = n.NodeID
	}
	return ids
}

func (er *eligibilityResolver) SelectIdpCandidates(ctx context.Context, in *components.IdpSelectionInput) (*components.IdpSelection, error) {
	explicit := len(in.IdpIDList) > 0 && !in.ImplicitIdpIDList
	if explicit && len(in.IdpIDList) < in.MinIdp {
		return nil, i18n.NewError(ctx, msgs.MsgIdpListLessThanMinIdp, len(in.IdpIDList), in.MinIdp)
	}
	bypass := in.Mode.UsesReferenceGroup() && in.BypassIdentityCheck
	if (in.Mode == icapi.Mode1 || bypass) && len(in.IdpIDList) == 0 {
		return nil, i18n.NewError(ctx, msgs.MsgIdpIDListNeeded, in.Mode)
	}

	var candidates []*icapi.IdpNode
	// a whitelist that resolved to nothing leaves nobody to ask
	if !in.ImplicitIdpIDList || len(in.IdpIDList) > 0 {
		filter := &ledgerapi.IdpNodesFilter{
			MinIAL:     in.MinIAL,
			MinAAL:     in.MinAAL,
			NodeIDList: in.IdpIDList,
			ModeList:   []icapi.Mode{in.Mode},
		}
		if in.RequestMessageDataURLType != "" {
			filter.SupportedRequestMessageDataURLTypeList = []string{in.RequestMessageDataURLType}
		}
		if in.Mode.UsesReferenceGroup() && !bypass {
			filter.Namespace = in.Namespace
			filter.Identifier = in.Identifier
		}
		var err error
		if candidates, err = er.queries.GetIdpNodes(ctx, filter); err != nil {
			return nil, err
		}
	}
	candidateIDs := idpNodeIDs(candidates)
	log.L(ctx).Debugf("IdP candidates for mode %d: %v", in.Mode, candidateIDs)

	if in.MinIdp != 0 {
		switch {
		case len(candidates) == 0:
			return nil, i18n.NewError(ctx, msgs.MsgNoIdpFound)
		case explicit && len(candidates) < len(in.IdpIDList):
			return nil, i18n.NewError(ctx, msgs.MsgUnqualifiedIdp, in.IdpIDList, candidateIDs)
		case len(candidates) < in.MinIdp:
			return nil, i18n.NewError(ctx, msgs.MsgNotEnoughIdp, len(candidates), in.MinIdp)
		}
	}

	selection := &components.IdpSelection{
		Receivers:                 candidateIDs,
		ReceiversWithSid:          []string{},
		ReceiversWithRefGroupCode: []string{},
	}
	switch {
	case in.Mode == icapi.Mode1:
		selection.ReceiversWithSid = candidateIDs
	case bypass && len(candidates) > 0:
		// split those already holding the identity from those onboarding it on the fly
		holders, err := er.queries.GetIdpNodes(ctx, &ledgerapi.IdpNodesFilter{
			Namespace:  in.Namespace,
			Identifier: in.Identifier,
			NodeIDList: candidateIDs,
			ModeList:   []icapi.Mode{icapi.Mode2},
		})
		if err != nil {
			return nil, err
		}
		holderIDs := idpNodeIDs(holders)
		for _, id := range candidateIDs {
			if slices.Contains(holderIDs, id) {
				selection.ReceiversWithRefGroupCode = append(selection.ReceiversWithRefGroupCode, id)
			} else {
				selection.ReceiversWithSid = append(selection.ReceiversWithSid, id)
			}
		}
	default:
		selection.ReceiversWithRefGroupCode = candidateIDs
	}
	return selection, nil
}

func (er *eligibilityResolver) SelectAsCandidates(ctx context.Context, in *components.AsSelectionInput) error {
	seen := make(map[string]bool)
	for _, dr := range in.DataRequestList {
		if seen[dr.ServiceID] {
			return i18n.NewError(ctx, msgs.MsgDuplicateServiceID, dr.ServiceID)
		}
		seen[dr.ServiceID] = true
		if err := er.selectAsForService(ctx, in, dr); err != nil {
			return err
		}
	}
	return nil
}

func (er *eligibilityResolver) selectAsForService(ctx context.Context, in *components.AsSelectionInput, dr *icapi.DataRequest) error {
	explicit := len(dr.AsIDList) > 0
	if explicit && len(dr.AsIDList) < dr.MinAs {
		return i18n.NewError(ctx, msgs.MsgAsListLessThanMinAs, len(dr.AsIDList), dr.MinAs, dr.ServiceID)
	}
	nodes, err := er.queries.GetAsNodesInfoByServiceID(ctx, dr.ServiceID)
	if err != nil {
		return err
	}
	nodes = slices.DeleteFunc(nodes, func(as *icapi.AsNode) bool { return !as.Active })
	if len(nodes) == 0 {
		return i18n.NewError(ctx, msgs.MsgServiceNotFound, dr.ServiceID)
	}

	if explicit {
		nodes = slices.DeleteFunc(nodes, func(as *icapi.AsNode) bool { return !slices.Contains(dr.AsIDList, as.NodeID) })
		if len(nodes) < dr.MinAs {
			return i18n.NewError(ctx, msgs.MsgNotEnoughAs, dr.ServiceID, len(nodes), dr.MinAs)
		}
	}
	if in.Namespace != "" {
		nodes = slices.DeleteFunc(nodes, func(as *icapi.AsNode) bool {
			return !slices.Contains(as.SupportedNamespaceList, in.Namespace)
		})
		if len(nodes) == 0 {
			return i18n.NewError(ctx, msgs.MsgUnsupportedNamespace, dr.ServiceID, in.Namespace)
		}
	}
	nodes = slices.DeleteFunc(nodes, func(as *icapi.AsNode) bool {
		return as.MinIAL > in.MinIAL || as.MinAAL > in.MinAAL
	})
	if len(nodes) == 0 {
		return i18n.NewError(ctx, msgs.MsgConditionTooLow, dr.ServiceID, in.MinIAL, in.MinAAL)
	}

	qualified := make([]string, 0, len(nodes))
	for _, as := range nodes {
		info, err := er.queries.GetNodeInfo(ctx, as.NodeID)
		if err != nil {
			return err
		}
		if info != nil && !info.Whitelists(in.RequesterNodeID) {
			if explicit {
				return i18n.NewError(ctx, msgs.MsgNotInWhitelist, in.RequesterNodeID, as.NodeID)
			}
			continue
		}
		qualified = append(qualified, as.NodeID)
	}
	if explicit && len(qualified) < len(dr.AsIDList) {
		return i18n.NewError(ctx, msgs.MsgUnqualifiedAs, dr.ServiceID, dr.AsIDList, qualified)
	}
	if len(qualified) < dr.MinAs {
		return i18n.NewError(ctx, msgs.MsgNotEnoughAs, dr.ServiceID, len(qualified), dr.MinAs)
	}
	if !explicit {
		dr.AsIDList = qualified
	}
	return nil
}
