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

import (
	"encoding/json"
)

type MessageType string

const (
	MessageTypeConsentRequest MessageType = "consent_request"
	MessageTypeIdpResponse    MessageType = "idp_response"
)

// ConsentRequestMessage carries the full request content to an IdP.
// The IdP checks it against the hashes recorded on the ledger.
type ConsentRequestMessage struct {
	RequestID           string         `json:"request_id"`
	RequesterNodeID     string         `json:"rp_id"`
	Mode                Mode           `json:"mode"`
	Namespace           string         `json:"namespace,omitempty"`
	Identifier          string         `json:"identifier,omitempty"`
	ReferenceGroupCode  string         `json:"reference_group_code,omitempty"`
	RequestMessage      string         `json:"request_message"`
	RequestMessageSalt  string         `json:"request_message_salt"`
	InitialSalt         string         `json:"initial_salt"`
	DataRequestList     []*DataRequest `json:"data_request_list"`
	MinIAL              float64        `json:"min_ial"`
	MinAAL              float64        `json:"min_aal"`
	MinIdp              int            `json:"min_idp"`
	RequestTimeout      int            `json:"request_timeout"`
	Purpose             string         `json:"purpose,omitempty"`
	RequestType         *string        `json:"request_type,omitempty"`
	CreationTime        int64          `json:"creation_time"`
	CreationBlockHeight int64          `json:"creation_block_height"`
}

// IdpResponseMessage tells the requester a response was committed to the ledger
type IdpResponseMessage struct {
	RequestID  string `json:"request_id"`
	IdpID      string `json:"idp_id"`
	Mode       Mode   `json:"mode"`
	AccessorID string `json:"accessor_id,omitempty"`
	ErrorCode  *int   `json:"error_code,omitempty"`
	Height     int64  `json:"height"`
}

type Message struct {
	Type           MessageType            `json:"type"`
	ConsentRequest *ConsentRequestMessage `json:"consent_request,omitempty"`
	IdpResponse    *IdpResponseMessage    `json:"idp_response,omitempty"`
}

func (m *Message) RequestID() string {
	switch {
	case m.ConsentRequest != nil:
		return m.ConsentRequest.RequestID
	case m.IdpResponse != nil:
		return m.IdpResponse.RequestID
	default:
		return ""
	}
}

// Height is the block the message depends on having been processed locally
func (m *Message) Height() int64 {
	switch {
	case m.ConsentRequest != nil:
		return m.ConsentRequest.CreationBlockHeight
	case m.IdpResponse != nil:
		return m.IdpResponse.Height
	default:
		return 0
	}
}

// Valid checks the union tag matches exactly one populated payload
func (m *Message) Valid() bool {
	switch m.Type {
	case MessageTypeConsentRequest:
		return m.ConsentRequest != nil && m.IdpResponse == nil && m.ConsentRequest.RequestID != ""
	case MessageTypeIdpResponse:
		return m.IdpResponse != nil && m.ConsentRequest == nil && m.IdpResponse.RequestID != ""
	default:
		return false
	}
}

func NewConsentRequestMessage(cr *ConsentRequestMessage) *Message {
	return &Message{Type: MessageTypeConsentRequest, ConsentRequest: cr}
}

func NewIdpResponseMessage(ir *IdpResponseMessage) *Message {
	return &Message{Type: MessageTypeIdpResponse, IdpResponse: ir}
}

func ParseMessage(data []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return &m, nil
}
