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

// Package ledgerapi is the typed vocabulary of transactions and queries the
// node uses on the ledger.
package ledgerapi

import "github.com/ndidplatform/idconsent/pkg/icapi"

// Transactions
const (
	TxCreateRequest              = "CreateRequest"
	TxCloseRequest               = "CloseRequest"
	TxTimeOutRequest             = "TimeOutRequest"
	TxCreateIdpResponse          = "CreateIdpResponse"
	TxCreateAsResponse           = "CreateAsResponse"
	TxRegisterIdentity           = "RegisterIdentity"
	TxAddIdentity                = "AddIdentity"
	TxAddAccessor                = "AddAccessor"
	TxRevokeAccessor             = "RevokeAccessor"
	TxRevokeAndAddAccessor       = "RevokeAndAddAccessor"
	TxUpdateIdentityModeList     = "UpdateIdentityModeList"
	TxRevokeIdentityAssociation  = "RevokeIdentityAssociation"
	TxMergeReferenceGroup        = "MergeReferenceGroup"
	TxUpdateIdentity             = "UpdateIdentity"
	TxRegisterServiceDestination = "RegisterServiceDestination"
	TxUpdateServiceDestination   = "UpdateServiceDestination"
	TxSetServicePrice            = "SetServicePrice"
)

// Queries
const (
	QueryGetRequestDetail          = "GetRequestDetail"
	QueryGetIdpNodes               = "GetIdpNodes"
	QueryGetAsNodesInfoByServiceID = "GetAsNodesInfoByServiceId"
	QueryGetNodeInfo               = "GetNodeInfo"
	QueryGetReferenceGroupCode     = "GetReferenceGroupCode"
	QueryGetAccessorKey            = "GetAccessorKey"
	QueryGetAccessorOwner          = "GetAccessorOwner"
	QueryGetAllowedModeList        = "GetAllowedModeList"
	QueryGetSupportedIALList       = "GetSupportedIALList"
	QueryGetSupportedAALList       = "GetSupportedAALList"
	QueryGetNamespaceList          = "GetNamespaceList"
	QueryGetErrorCodeList          = "GetErrorCodeList"
	QueryGetIdentityInfo           = "GetIdentityInfo"
	QueryGetRequestTypeList        = "GetRequestTypeList"
)

type CreateRequestParams struct {
	RequestID          string                     `json:"request_id"`
	Mode               icapi.Mode                 `json:"mode"`
	MinIdp             int                        `json:"min_idp"`
	MinIAL             float64                    `json:"min_ial"`
	MinAAL             float64                    `json:"min_aal"`
	RequestTimeout     int                        `json:"request_timeout"`
	IdpIDList          []string                   `json:"idp_id_list"`
	DataRequestList    []*icapi.LedgerDataRequest `json:"data_request_list"`
	RequestMessageHash string                     `json:"request_message_hash"`
	Purpose            string                     `json:"purpose"`
	RequestType        *string                    `json:"request_type,omitempty"`
}

// CloseRequestParams is used for both closing and timing out
type CloseRequestParams struct {
	RequestID         string                 `json:"request_id"`
	ResponseValidList []*icapi.ResponseValid `json:"response_valid_list"`
}

type CreateIdpResponseParams struct {
	RequestID string               `json:"request_id"`
	Status    icapi.ResponseStatus `json:"status,omitempty"`
	IAL       *float64             `json:"ial,omitempty"`
	AAL       *float64             `json:"aal,omitempty"`
	Signature string               `json:"signature,omitempty"`
	ErrorCode *int                 `json:"error_code,omitempty"`
}

type CreateAsResponseParams struct {
	RequestID string `json:"request_id"`
	ServiceID string `json:"service_id"`
	Signature string `json:"signature,omitempty"`
	ErrorCode *int   `json:"error_code,omitempty"`
}

// IdentityMutationParams covers every identity mutation, the transaction name
// determines which fields apply
type IdentityMutationParams struct {
	ReferenceGroupCode string               `json:"reference_group_code"`
	NewIdentityList    []*icapi.IdentityRef `json:"new_identity_list,omitempty"`
	Namespace          string               `json:"namespace,omitempty"`
	Identifier         string               `json:"identifier,omitempty"`
	IAL                *float64             `json:"ial,omitempty"`
	LIAL               *bool                `json:"lial,omitempty"`
	LAAL               *bool                `json:"laal,omitempty"`
	ModeList           []icapi.Mode         `json:"mode_list,omitempty"`
	AccessorID         string               `json:"accessor_id,omitempty"`
	AccessorPublicKey  string               `json:"accessor_public_key,omitempty"`
	AccessorType       string               `json:"accessor_type,omitempty"`
	RevokingAccessorID string               `json:"revoking_accessor_id,omitempty"`
	NamespaceToMerge   string               `json:"namespace_to_merge,omitempty"`
	IdentifierToMerge  string               `json:"identifier_to_merge,omitempty"`
	RequestID          *string              `json:"request_id,omitempty"`
}

type ServiceDestinationParams struct {
	ServiceID              string   `json:"service_id"`
	MinIAL                 float64  `json:"min_ial"`
	MinAAL                 float64  `json:"min_aal"`
	URL                    string   `json:"url,omitempty"`
	SupportedNamespaceList []string `json:"supported_namespace_list"`
	Active                 *bool    `json:"active,omitempty"`
}

type ServicePriceParams struct {
	ServiceID         string  `json:"service_id"`
	PriceMin          float64 `json:"price_min"`
	PriceMax          float64 `json:"price_max"`
	Currency          string  `json:"currency"`
	EffectiveDatetime int64   `json:"effective_datetime"`
	MoreInfoURL       string  `json:"more_info_url,omitempty"`
	Detail            string  `json:"detail,omitempty"`
}

type RequestIDParams struct {
	RequestID string `json:"request_id"`
}

// IdpNodesFilter selects IdPs able to serve a request. Empty fields do not filter.
type IdpNodesFilter struct {
	ReferenceGroupCode                     string       `json:"reference_group_code,omitempty"`
	Namespace                              string       `json:"namespace,omitempty"`
	Identifier                             string       `json:"identifier,omitempty"`
	MinIAL                                 float64      `json:"min_ial"`
	MinAAL                                 float64      `json:"min_aal"`
	NodeIDList                             []string     `json:"node_id_list,omitempty"`
	ModeList                               []icapi.Mode `json:"mode_list,omitempty"`
	SupportedRequestMessageDataURLTypeList []string     `json:"supported_request_message_data_url_type_list,omitempty"`
}

type ServiceIDParams struct {
	ServiceID string `json:"service_id"`
}

type NodeIDParams struct {
	NodeID string `json:"node_id"`
}

type IdentityParams struct {
	ReferenceGroupCode string `json:"reference_group_code,omitempty"`
	Namespace          string `json:"namespace,omitempty"`
	Identifier         string `json:"identifier,omitempty"`
	NodeID             string `json:"node_id,omitempty"`
}

type AccessorIDParams struct {
	AccessorID string `json:"accessor_id"`
}

type PurposeParams struct {
	Purpose string `json:"purpose"`
}

type ErrorCodeTypeParams struct {
	Type string `json:"type"`
}

type referenceGroupResult struct {
	ReferenceGroupCode string `json:"reference_group_code"`
}

type accessorOwnerResult struct {
	NodeID string `json:"node_id"`
}

type idpNodesResult struct {
	Nodes []*icapi.IdpNode `json:"node"`
}

type asNodesResult struct {
	Nodes []*icapi.AsNode `json:"node"`
}

type modeListResult struct {
	ModeList []icapi.Mode `json:"mode_list"`
}
