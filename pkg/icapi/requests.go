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

// Mode selects how the identity in a request is addressed.
// Mode 1 uses namespace/identifier directly, modes 2 and 3 use reference groups,
// and mode 3 additionally requires live consent for identity changes.
type Mode int

const (
	Mode1 Mode = 1
	Mode2 Mode = 2
	Mode3 Mode = 3
)

func (m Mode) Valid() bool {
	return m == Mode1 || m == Mode2 || m == Mode3
}

func (m Mode) UsesReferenceGroup() bool {
	return m == Mode2 || m == Mode3
}

func ContainsMode(list []Mode, m Mode) bool {
	for _, l := range list {
		if l == m {
			return true
		}
	}
	return false
}

type DataRequest struct {
	ServiceID         string   `json:"service_id" validate:"required"`
	AsIDList          []string `json:"as_id_list"`
	MinAs             int      `json:"min_as" validate:"gte=0"`
	RequestParams     string   `json:"request_params,omitempty"`
	RequestParamsSalt string   `json:"request_params_salt,omitempty"`
}

type CreateRequestInput struct {
	NodeID                    string         `json:"node_id,omitempty"`
	RequestID                 string         `json:"request_id,omitempty"`
	ReferenceID               string         `json:"reference_id" validate:"required"`
	CallbackURL               string         `json:"callback_url" validate:"omitempty,url"`
	Mode                      Mode           `json:"mode" validate:"oneof=1 2 3"`
	Namespace                 string         `json:"namespace,omitempty" validate:"required_with=Identifier"`
	Identifier                string         `json:"identifier,omitempty" validate:"required_with=Namespace"`
	IdpIDList                 []string       `json:"idp_id_list"`
	DataRequestList           []*DataRequest `json:"data_request_list" validate:"dive"`
	RequestMessage            string         `json:"request_message"`
	RequestMessageDataURLType string         `json:"request_message_data_url_type,omitempty"`
	MinIAL                    float64        `json:"min_ial" validate:"gte=0"`
	MinAAL                    float64        `json:"min_aal" validate:"gte=0"`
	MinIdp                    int            `json:"min_idp" validate:"gte=0"`
	RequestTimeout            int            `json:"request_timeout" validate:"gt=0"`
	Purpose                   string         `json:"purpose,omitempty"`
	RequestType               *string        `json:"request_type,omitempty"`
	BypassIdentityCheck       bool           `json:"bypass_identity_check"`
	InitialSalt               string         `json:"initial_salt,omitempty"`
}

type CreateRequestResult struct {
	RequestID   string `json:"request_id"`
	InitialSalt string `json:"initial_salt"`
}

type CloseRequestInput struct {
	NodeID      string `json:"node_id,omitempty"`
	ReferenceID string `json:"reference_id" validate:"required"`
	CallbackURL string `json:"callback_url" validate:"omitempty,url"`
	RequestID   string `json:"request_id" validate:"required"`
}

// Request is the requester's local copy of everything in a request,
// including the raw content that only goes on the ledger as hashes.
type Request struct {
	RequestID                 string         `json:"request_id"`
	NodeID                    string         `json:"node_id"`
	ReferenceID               string         `json:"reference_id"`
	CallbackURL               string         `json:"callback_url,omitempty"`
	Mode                      Mode           `json:"mode"`
	Namespace                 string         `json:"namespace,omitempty"`
	Identifier                string         `json:"identifier,omitempty"`
	ReferenceGroupCode        string         `json:"reference_group_code,omitempty"`
	IdpIDList                 []string       `json:"idp_id_list"`
	ReceiversWithSid          []string       `json:"receivers_with_sid"`
	ReceiversWithRefGroupCode []string       `json:"receivers_with_ref_group_code"`
	DataRequestList           []*DataRequest `json:"data_request_list"`
	RequestMessage            string         `json:"request_message"`
	RequestMessageSalt        string         `json:"request_message_salt"`
	RequestMessageHash        string         `json:"request_message_hash"`
	InitialSalt               string         `json:"initial_salt"`
	MinIAL                    float64        `json:"min_ial"`
	MinAAL                    float64        `json:"min_aal"`
	MinIdp                    int            `json:"min_idp"`
	RequestTimeout            int            `json:"request_timeout"`
	Purpose                   string         `json:"purpose,omitempty"`
	RequestType               *string        `json:"request_type,omitempty"`
	CreationTime              int64          `json:"creation_time,omitempty"`
	CreationBlockHeight       int64          `json:"creation_block_height,omitempty"`
}

type ResponseStatus string

const (
	ResponseStatusAccept ResponseStatus = "accept"
	ResponseStatusReject ResponseStatus = "reject"
)

// ResponseValid is the requester's judgment of one IdP response. Nil means not applicable.
type ResponseValid struct {
	IdpID          string `json:"idp_id"`
	ValidSignature *bool  `json:"valid_signature"`
	ValidIAL       *bool  `json:"valid_ial"`
}

func (rv *ResponseValid) AllValid() bool {
	return (rv.ValidSignature == nil || *rv.ValidSignature) && (rv.ValidIAL == nil || *rv.ValidIAL)
}

type CreateResponseInput struct {
	NodeID      string `json:"node_id,omitempty"`
	ReferenceID string `json:"reference_id" validate:"required"`
	CallbackURL string `json:"callback_url" validate:"omitempty,url"`
	RequestID   string `json:"request_id" validate:"required"`
	// Status defaults to accept
	Status     ResponseStatus `json:"status,omitempty" validate:"omitempty,oneof=accept reject"`
	IAL        *float64       `json:"ial" validate:"required_without=ErrorCode"`
	AAL        *float64       `json:"aal" validate:"required_without=ErrorCode"`
	AccessorID string         `json:"accessor_id,omitempty"`
	Signature  string         `json:"signature,omitempty"`
	ErrorCode  *int           `json:"error_code,omitempty"`
}
