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

// Types read from the ledger

type NodeAddress struct {
	IP   string `json:"ip"`
	Port int    `json:"port"`
}

type NodeInfo struct {
	NodeID                string         `json:"node_id"`
	NodeName              string         `json:"node_name,omitempty"`
	Role                  string         `json:"role"`
	Active                bool           `json:"active"`
	MQ                    []*NodeAddress `json:"mq"`
	MaxIAL                float64        `json:"max_ial,omitempty"`
	MaxAAL                float64        `json:"max_aal,omitempty"`
	SupportedModeList     []Mode         `json:"supported_mode_list,omitempty"`
	NodeIDWhitelistActive bool           `json:"node_id_whitelist_active"`
	NodeIDWhitelist       []string       `json:"node_id_whitelist,omitempty"`
	SupportedRequestTypes []string       `json:"supported_request_message_data_url_type_list,omitempty"`
}

func (ni *NodeInfo) Whitelists(nodeID string) bool {
	if !ni.NodeIDWhitelistActive {
		return true
	}
	for _, n := range ni.NodeIDWhitelist {
		if n == nodeID {
			return true
		}
	}
	return false
}

type IdpNode struct {
	NodeID                string   `json:"node_id"`
	NodeName              string   `json:"node_name,omitempty"`
	MaxIAL                float64  `json:"max_ial"`
	MaxAAL                float64  `json:"max_aal"`
	SupportedModeList     []Mode   `json:"supported_mode_list"`
	SupportedRequestTypes []string `json:"supported_request_message_data_url_type_list,omitempty"`
}

type AsNode struct {
	NodeID                 string   `json:"node_id"`
	NodeName               string   `json:"node_name,omitempty"`
	MinIAL                 float64  `json:"min_ial"`
	MinAAL                 float64  `json:"min_aal"`
	SupportedNamespaceList []string `json:"supported_namespace_list"`
	Active                 bool     `json:"active"`
}

// LedgerDataRequest is the on-ledger form of a data request, carrying only the params hash
type LedgerDataRequest struct {
	ServiceID         string   `json:"service_id"`
	AsIDList          []string `json:"as_id_list"`
	MinAs             int      `json:"min_as"`
	RequestParamsHash string   `json:"request_params_hash"`
	AnsweredAsIDList  []string `json:"answered_as_id_list,omitempty"`
}

type LedgerResponse struct {
	IdpID          string         `json:"idp_id"`
	Status         ResponseStatus `json:"status,omitempty"`
	IAL            *float64       `json:"ial,omitempty"`
	AAL            *float64       `json:"aal,omitempty"`
	ErrorCode      *int           `json:"error_code,omitempty"`
	Signature      string         `json:"signature,omitempty"`
	ValidSignature *bool          `json:"valid_signature"`
	ValidIAL       *bool          `json:"valid_ial"`
}

type RequestDetail struct {
	RequestID           string               `json:"request_id"`
	Mode                Mode                 `json:"mode"`
	MinIdp              int                  `json:"min_idp"`
	MinIAL              float64              `json:"min_ial"`
	MinAAL              float64              `json:"min_aal"`
	RequestTimeout      int                  `json:"request_timeout"`
	IdpIDList           []string             `json:"idp_id_list"`
	DataRequestList     []*LedgerDataRequest `json:"data_request_list"`
	RequestMessageHash  string               `json:"request_message_hash"`
	ResponseList        []*LedgerResponse    `json:"response_list"`
	Closed              bool                 `json:"closed"`
	TimedOut            bool                 `json:"timed_out"`
	Purpose             string               `json:"purpose"`
	RequestType         *string              `json:"request_type,omitempty"`
	RequesterNodeID     string               `json:"requester_node_id"`
	CreationBlockHeight int64                `json:"creation_block_height"`
}

// NonErrorResponseCount is the number of responses counting towards min_idp
func (rd *RequestDetail) NonErrorResponseCount() int {
	count := 0
	for _, r := range rd.ResponseList {
		if r.ErrorCode == nil {
			count++
		}
	}
	return count
}

// RemainingPossibleResponses is the number of listed IdPs yet to respond
func (rd *RequestDetail) RemainingPossibleResponses() int {
	remaining := len(rd.IdpIDList) - len(rd.ResponseList)
	if remaining < 0 {
		return 0
	}
	return remaining
}

func (rd *RequestDetail) ResponseFrom(idpID string) *LedgerResponse {
	for _, r := range rd.ResponseList {
		if r.IdpID == idpID {
			return r
		}
	}
	return nil
}

// CanAcceptResponse is the response budget check. A request never accepts more
// non-error responses than min_idp, and stops accepting once min_idp is out of reach.
func (rd *RequestDetail) CanAcceptResponse() bool {
	nonError := rd.NonErrorResponseCount()
	return nonError < rd.MinIdp && nonError+rd.RemainingPossibleResponses() >= rd.MinIdp
}

type RequestStatus string

const (
	RequestStatusPending   RequestStatus = "pending"
	RequestStatusConfirmed RequestStatus = "confirmed"
	RequestStatusRejected  RequestStatus = "rejected"
	RequestStatusCompleted RequestStatus = "completed"
	RequestStatusErrored   RequestStatus = "errored"
)

func (rd *RequestDetail) Status() RequestStatus {
	accepted, rejected := 0, 0
	for _, r := range rd.ResponseList {
		switch {
		case r.ErrorCode != nil:
		case r.Status == ResponseStatusReject:
			rejected++
		default:
			accepted++
		}
	}
	switch {
	case len(rd.ResponseList) == 0:
		return RequestStatusPending
	case rejected > 0:
		return RequestStatusRejected
	case accepted >= rd.MinIdp:
		return RequestStatusCompleted
	case rd.NonErrorResponseCount()+rd.RemainingPossibleResponses() < rd.MinIdp:
		return RequestStatusErrored
	default:
		return RequestStatusConfirmed
	}
}

func (s RequestStatus) Final() bool {
	return s == RequestStatusRejected || s == RequestStatusCompleted || s == RequestStatusErrored
}

type IdentityInfo struct {
	ReferenceGroupCode string  `json:"reference_group_code"`
	IAL                float64 `json:"ial"`
	LIAL               *bool   `json:"lial,omitempty"`
	LAAL               *bool   `json:"laal,omitempty"`
	ModeList           []Mode  `json:"mode_list"`
}

type AccessorKey struct {
	AccessorID         string `json:"accessor_id"`
	AccessorPublicKey  string `json:"accessor_public_key"`
	AccessorType       string `json:"accessor_type"`
	Active             bool   `json:"active"`
	ReferenceGroupCode string `json:"reference_group_code"`
}

type ErrorCodeInfo struct {
	ErrorCode   int    `json:"error_code"`
	Description string `json:"description"`
}

type Namespace struct {
	Namespace                              string `json:"namespace"`
	Description                            string `json:"description"`
	Active                                 bool   `json:"active"`
	AllowedIdentifierCountInRefGroup       int    `json:"allowed_identifier_count_in_reference_group,omitempty"`
	AllowedActiveIdentifierCountInRefGroup int    `json:"allowed_active_identifier_count_in_reference_group,omitempty"`
}
