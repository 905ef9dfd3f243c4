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

package components

import (
	"context"

	"github.com/ndidplatform/idconsent/pkg/icapi"
)

type IdpSelectionInput struct {
	RequesterNodeID           string
	Mode                      icapi.Mode
	Namespace                 string
	Identifier                string
	MinIAL                    float64
	MinAAL                    float64
	MinIdp                    int
	IdpIDList                 []string
	BypassIdentityCheck       bool
	RequestMessageDataURLType string
	// ImplicitIdpIDList is set when the list came from the requester's whitelist rather than the caller
	ImplicitIdpIDList bool
}

type IdpSelection struct {
	Receivers                 []string
	ReceiversWithSid          []string
	ReceiversWithRefGroupCode []string
}

type AsSelectionInput struct {
	RequesterNodeID string
	Namespace       string
	MinIAL          float64
	MinAAL          float64
	DataRequestList []*icapi.DataRequest
}

type EligibilityResolver interface {
	ManagerLifecycle
	// EnforceWhitelist returns the IdP list to use, which is the requester's whitelist
	// if it is active and no list was supplied, with implicit=true
	EnforceWhitelist(ctx context.Context, requesterNodeID string, idpIDList []string) (resolved []string, implicit bool, err error)
	SelectIdpCandidates(ctx context.Context, in *IdpSelectionInput) (*IdpSelection, error)
	// SelectAsCandidates validates each data request, and fills in the AS list of any that has none
	SelectAsCandidates(ctx context.Context, in *AsSelectionInput) error
}
