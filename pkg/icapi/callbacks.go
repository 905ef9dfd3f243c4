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

type CallbackType string

const (
	CallbackTypeCreateRequestResult             CallbackType = "create_request_result"
	CallbackTypeCloseRequestResult              CallbackType = "close_request_result"
	CallbackTypeRequestStatus                   CallbackType = "request_status"
	CallbackTypeIncomingRequest                 CallbackType = "incoming_request"
	CallbackTypeResponseResult                  CallbackType = "response_result"
	CallbackTypeCreateIdentityResult            CallbackType = "create_identity_result"
	CallbackTypeAddIdentityResult               CallbackType = "add_identity_result"
	CallbackTypeAddAccessorResult               CallbackType = "add_accessor_result"
	CallbackTypeRevokeAccessorResult            CallbackType = "revoke_accessor_result"
	CallbackTypeRevokeAndAddAccessorResult      CallbackType = "revoke_and_add_accessor_result"
	CallbackTypeRevokeIdentityAssociationResult CallbackType = "revoke_identity_association_result"
	CallbackTypeUpgradeIdentityModeResult       CallbackType = "upgrade_identity_mode_result"
	CallbackTypeMergeReferenceGroupResult       CallbackType = "merge_reference_group_result"
	CallbackTypeUpdateIALResult                 CallbackType = "update_ial_result"
	CallbackTypeAddOrUpdateServiceResult        CallbackType = "add_or_update_service_result"
	CallbackTypeSetServicePriceResult           CallbackType = "set_service_price_result"
	CallbackTypeASResponseResult                CallbackType = "as_response_result"
)

type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// CallbackBase is the common part of every callback body.
// RequestID has no omitempty, as clients distinguish an explicit null.
type CallbackBase struct {
	NodeID      string       `json:"node_id"`
	Type        CallbackType `json:"type"`
	Success     bool         `json:"success"`
	ReferenceID string       `json:"reference_id,omitempty"`
	RequestID   *string      `json:"request_id"`
	Error       *ErrorInfo   `json:"error,omitempty"`
}

type CreateRequestCallback struct {
	CallbackBase
	CreationBlockHeight int64 `json:"creation_block_height,omitempty"`
}

type RequestStatusCallback struct {
	CallbackBase
	Mode              Mode             `json:"mode"`
	Status            RequestStatus    `json:"status"`
	MinIdp            int              `json:"min_idp"`
	AnsweredIdpCount  int              `json:"answered_idp_count"`
	Closed            bool             `json:"closed"`
	TimedOut          bool             `json:"timed_out"`
	ResponseValidList []*ResponseValid `json:"response_valid_list"`
	BlockHeight       int64            `json:"block_height"`
}

type IncomingRequestCallback struct {
	CallbackBase
	Mode                Mode           `json:"mode"`
	RequesterNodeID     string         `json:"requester_node_id"`
	Namespace           string         `json:"namespace,omitempty"`
	Identifier          string         `json:"identifier,omitempty"`
	ReferenceGroupCode  string         `json:"reference_group_code,omitempty"`
	RequestMessage      string         `json:"request_message"`
	RequestMessageHash  string         `json:"request_message_hash"`
	RequestMessageSalt  string         `json:"request_message_salt"`
	MinIAL              float64        `json:"min_ial"`
	MinAAL              float64        `json:"min_aal"`
	DataRequestList     []*DataRequest `json:"data_request_list"`
	RequestTimeout      int            `json:"request_timeout"`
	Purpose             string         `json:"purpose,omitempty"`
	CreationTime        int64          `json:"creation_time"`
	CreationBlockHeight int64          `json:"creation_block_height"`
}

type IdentityResultCallback struct {
	CallbackBase
	Exist      *bool  `json:"exist,omitempty"`
	AccessorID string `json:"accessor_id,omitempty"`
}

func NewCallbackBase(nodeID string, cbType CallbackType, referenceID string, requestID *string) CallbackBase {
	return CallbackBase{
		NodeID:      nodeID,
		Type:        cbType,
		Success:     true,
		ReferenceID: referenceID,
		RequestID:   requestID,
	}
}

// Fail marks the callback as a failure, with the error key and rendered message
func (cb *CallbackBase) Fail(code, message string) {
	cb.Success = false
	cb.Error = &ErrorInfo{Code: code, Message: message}
}
