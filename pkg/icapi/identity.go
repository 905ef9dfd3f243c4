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

type IdentityOpType string

const (
	IdentityOpRegister             IdentityOpType = "register"
	IdentityOpAdd                  IdentityOpType = "add"
	IdentityOpAddAccessor          IdentityOpType = "add-accessor"
	IdentityOpRevokeAccessor       IdentityOpType = "revoke-accessor"
	IdentityOpRevokeAndAddAccessor IdentityOpType = "revoke-and-add-accessor"
	IdentityOpRevokeAssociation    IdentityOpType = "revoke-association"
	IdentityOpUpgradeMode          IdentityOpType = "upgrade-mode"
	IdentityOpMerge                IdentityOpType = "merge"
	IdentityOpUpdateIAL            IdentityOpType = "update-ial"
)

// CallbackType is the terminal callback delivered for the operation
func (t IdentityOpType) CallbackType() CallbackType {
	switch t {
	case IdentityOpRegister:
		return CallbackTypeCreateIdentityResult
	case IdentityOpAdd:
		return CallbackTypeAddIdentityResult
	case IdentityOpAddAccessor:
		return CallbackTypeAddAccessorResult
	case IdentityOpRevokeAccessor:
		return CallbackTypeRevokeAccessorResult
	case IdentityOpRevokeAndAddAccessor:
		return CallbackTypeRevokeAndAddAccessorResult
	case IdentityOpRevokeAssociation:
		return CallbackTypeRevokeIdentityAssociationResult
	case IdentityOpUpgradeMode:
		return CallbackTypeUpgradeIdentityModeResult
	case IdentityOpMerge:
		return CallbackTypeMergeReferenceGroupResult
	default:
		return CallbackTypeUpdateIALResult
	}
}

type IdentityRef struct {
	Namespace  string `json:"namespace" validate:"required"`
	Identifier string `json:"identifier" validate:"required"`
}

// IdentityOperationInput covers every identity mutation. Which fields are
// required depends on the operation type.
type IdentityOperationInput struct {
	NodeID             string         `json:"node_id,omitempty"`
	ReferenceID        string         `json:"reference_id" validate:"required"`
	CallbackURL        string         `json:"callback_url" validate:"omitempty,url"`
	Namespace          string         `json:"namespace" validate:"required"`
	Identifier         string         `json:"identifier" validate:"required"`
	Mode               Mode           `json:"mode" validate:"omitempty,oneof=2 3"`
	IdentityList       []*IdentityRef `json:"identity_list,omitempty" validate:"dive"`
	IAL                *float64       `json:"ial,omitempty"`
	LIAL               *bool          `json:"lial,omitempty"`
	LAAL               *bool          `json:"laal,omitempty"`
	AccessorID         string         `json:"accessor_id,omitempty"`
	AccessorType       string         `json:"accessor_type,omitempty"`
	AccessorPublicKey  string         `json:"accessor_public_key,omitempty"`
	RevokingAccessorID string         `json:"revoking_accessor_id,omitempty"`
	NamespaceToMerge   string         `json:"namespace_to_merge,omitempty"`
	IdentifierToMerge  string         `json:"identifier_to_merge,omitempty"`
	RequestMessage     string         `json:"request_message,omitempty"`
	RequestTimeout     int            `json:"request_timeout,omitempty" validate:"gte=0"`
	IdpIDList          []string       `json:"idp_id_list,omitempty"`
}

type IdentityOperationResult struct {
	RequestID  *string `json:"request_id"`
	Exist      bool    `json:"exist"`
	AccessorID string  `json:"accessor_id,omitempty"`
}

type ServiceDestinationInput struct {
	NodeID                 string   `json:"node_id,omitempty"`
	ReferenceID            string   `json:"reference_id" validate:"required"`
	CallbackURL            string   `json:"callback_url" validate:"omitempty,url"`
	ServiceID              string   `json:"service_id" validate:"required"`
	MinIAL                 float64  `json:"min_ial" validate:"gte=0"`
	MinAAL                 float64  `json:"min_aal" validate:"gte=0"`
	URL                    string   `json:"url" validate:"omitempty,url"`
	SupportedNamespaceList []string `json:"supported_namespace_list" validate:"required,min=1"`
	Active                 *bool    `json:"active,omitempty"`
}

type ServicePriceInput struct {
	NodeID            string  `json:"node_id,omitempty"`
	ReferenceID       string  `json:"reference_id" validate:"required"`
	CallbackURL       string  `json:"callback_url" validate:"omitempty,url"`
	ServiceID         string  `json:"service_id" validate:"required"`
	PriceMin          float64 `json:"price_min" validate:"gte=0"`
	PriceMax          float64 `json:"price_max" validate:"gte=0"`
	Currency          string  `json:"currency" validate:"required"`
	EffectiveDatetime int64   `json:"effective_datetime"`
	MoreInfoURL       string  `json:"more_info_url,omitempty" validate:"omitempty,url"`
	Detail            string  `json:"detail,omitempty"`
}

type ASResponseInput struct {
	NodeID      string `json:"node_id,omitempty"`
	ReferenceID string `json:"reference_id" validate:"required"`
	CallbackURL string `json:"callback_url" validate:"omitempty,url"`
	RequestID   string `json:"request_id" validate:"required"`
	ServiceID   string `json:"service_id" validate:"required"`
	Data        string `json:"data,omitempty" validate:"required_without=ErrorCode"`
	ErrorCode   *int   `json:"error_code,omitempty"`
}
