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

package requestmgr

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ndidplatform/idconsent/internal/dispatch"
	"github.com/ndidplatform/idconsent/internal/keyedlock"
	"github.com/ndidplatform/idconsent/pkg/icapi"
	"github.com/ndidplatform/idconsent/pkg/persistence"
	"gorm.io/gorm/clause"
)

type persistedRequest struct {
	NodeID              string  `gorm:"column:node_id;primaryKey"`
	RequestID           string  `gorm:"column:request_id;primaryKey"`
	ReferenceID         string  `gorm:"column:reference_id"`
	Mode                int     `gorm:"column:mode"`
	Purpose             string  `gorm:"column:purpose"`
	CallbackURL         *string `gorm:"column:callback_url"`
	Data                string  `gorm:"column:data"`
	OnClosed            *string `gorm:"column:on_closed"`
	Created             int64   `gorm:"column:created"`
	Confirmed           *int64  `gorm:"column:confirmed"`
	CreationBlockHeight *int64  `gorm:"column:creation_block_height"`
	TimeoutAt           *int64  `gorm:"column:timeout_at"`
}

func (persistedRequest) TableName() string {
	return "requests"
}

type requestReference struct {
	NodeID      string `gorm:"column:node_id;primaryKey"`
	ReferenceID string `gorm:"column:reference_id;primaryKey"`
	RequestID   string `gorm:"column:request_id"`
}

func (requestReference) TableName() string {
	return "request_references"
}

type responseValidity struct {
	NodeID         string `gorm:"column:node_id;primaryKey"`
	RequestID      string `gorm:"column:request_id;primaryKey"`
	IdpID          string `gorm:"column:idp_id;primaryKey"`
	ValidSignature *bool  `gorm:"column:valid_signature"`
	ValidIAL       *bool  `gorm:"column:valid_ial"`
	Created        int64  `gorm:"column:created"`
}

func (responseValidity) TableName() string {
	return "response_validity"
}

type receivedRequest struct {
	NodeID    string `gorm:"column:node_id;primaryKey"`
	RequestID string `gorm:"column:request_id;primaryKey"`
	Data      string `gorm:"column:data"`
	Created   int64  `gorm:"column:created"`
}

func (receivedRequest) TableName() string {
	return "received_requests"
}

type pendingInboundMessage struct {
	NodeID    string `gorm:"column:node_id;primaryKey"`
	MessageID string `gorm:"column:message_id;primaryKey"`
	FromNode  string `gorm:"column:from_node"`
	Height    int64  `gorm:"column:height"`
	Message   string `gorm:"column:message"`
	Received  int64  `gorm:"column:received"`
}

func (pendingInboundMessage) TableName() string {
	return "pending_inbound_messages"
}

type messageReceipt struct {
	NodeID    string `gorm:"column:node_id;primaryKey"`
	RequestID string `gorm:"column:request_id;primaryKey"`
	Role      string `gorm:"column:role;primaryKey"`
	MsgType   string `gorm:"column:msg_type;primaryKey"`
	FromNode  string `gorm:"column:from_node;primaryKey"`
	Created   int64  `gorm:"column:created"`
}

func (messageReceipt) TableName() string {
	return "message_receipts"
}

// storedRequest is the local copy of a request, plus the options it was created with
type storedRequest struct {
	icapi.Request
	SuppressCallback bool `json:"suppress_callback,omitempty"`
}

// localRequest is a request this node created, loaded from the DB
type localRequest struct {
	row      *persistedRequest
	req      *storedRequest
	onClosed *dispatch.Continuation
}

func (rm *requestManager) getRequestIDByReference(ctx context.Context, dbTX persistence.DBTX, nodeID, referenceID string) (string, error) {
	var refs []*requestReference
	err := dbTX.DB().WithContext(ctx).
		Where("node_id = ? AND reference_id = ?", nodeID, referenceID).
		Limit(1).
		Find(&refs).Error
	if err != nil || len(refs) == 0 {
		return "", err
	}
	return refs[0].RequestID, nil
}

// loadRequest returns nil if the node has no open request with the id
func (rm *requestManager) loadRequest(ctx context.Context, dbTX persistence.DBTX, nodeID, requestID string) (*localRequest, error) {
	var rows []*persistedRequest
	err := dbTX.DB().WithContext(ctx).
		Where("node_id = ? AND request_id = ?", nodeID, requestID).
		Limit(1).
		Find(&rows).Error
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return decodeRequest(rows[0])
}

func decodeRequest(row *persistedRequest) (*localRequest, error) {
	lr := &localRequest{row: row, req: &storedRequest{}}
	if err := json.Unmarshal([]byte(row.Data), lr.req); err != nil {
		return nil, err
	}
	if row.OnClosed != nil {
		lr.onClosed = &dispatch.Continuation{}
		if err := json.Unmarshal([]byte(*row.OnClosed), lr.onClosed); err != nil {
			return nil, err
		}
	}
	if row.CreationBlockHeight != nil {
		lr.req.CreationBlockHeight = *row.CreationBlockHeight
	}
	if row.Confirmed != nil {
		lr.req.CreationTime = time.Unix(0, *row.Confirmed).UnixMilli()
	}
	return lr, nil
}

func (rm *requestManager) insertRequest(ctx context.Context, dbTX persistence.DBTX, sr *storedRequest, onClosed *dispatch.Continuation) error {
	data, _ := json.Marshal(sr)
	row := &persistedRequest{
		NodeID:      sr.NodeID,
		RequestID:   sr.RequestID,
		ReferenceID: sr.ReferenceID,
		Mode:        int(sr.Mode),
		Purpose:     sr.Purpose,
		Data:        string(data),
		Created:     time.Now().UnixNano(),
	}
	if sr.CallbackURL != "" {
		row.CallbackURL = &sr.CallbackURL
	}
	if onClosed != nil {
		b, _ := json.Marshal(onClosed)
		s := string(b)
		row.OnClosed = &s
	}
	db := dbTX.DB().WithContext(ctx)
	if err := db.Create(row).Error; err != nil {
		return err
	}
	return db.Create(&requestReference{
		NodeID:      sr.NodeID,
		ReferenceID: sr.ReferenceID,
		RequestID:   sr.RequestID,
	}).Error
}

func (rm *requestManager) deleteRequest(ctx context.Context, dbTX persistence.DBTX, nodeID, requestID string) error {
	db := dbTX.DB().WithContext(ctx)
	where := "node_id = ? AND request_id = ?"
	if err := db.Where(where, nodeID, requestID).Delete(&persistedRequest{}).Error; err != nil {
		return err
	}
	if err := db.Where(where, nodeID, requestID).Delete(&requestReference{}).Error; err != nil {
		return err
	}
	if err := db.Where(where+" AND role = ?", nodeID, requestID, receiptRoleRP).Delete(&messageReceipt{}).Error; err != nil {
		return err
	}
	return db.Where(where, nodeID, requestID).Delete(&responseValidity{}).Error
}

func (rm *requestManager) upsertResponseValidity(ctx context.Context, dbTX persistence.DBTX, nodeID, requestID string, rv *icapi.ResponseValid) error {
	return dbTX.DB().WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "node_id"}, {Name: "request_id"}, {Name: "idp_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"valid_signature", "valid_ial"}),
		}).
		Create(&responseValidity{
			NodeID:         nodeID,
			RequestID:      requestID,
			IdpID:          rv.IdpID,
			ValidSignature: rv.ValidSignature,
			ValidIAL:       rv.ValidIAL,
			Created:        time.Now().UnixNano(),
		}).Error
}

func (rm *requestManager) getResponseValidList(ctx context.Context, dbTX persistence.DBTX, nodeID, requestID string) ([]*icapi.ResponseValid, error) {
	var rows []*responseValidity
	err := dbTX.DB().WithContext(ctx).
		Where("node_id = ? AND request_id = ?", nodeID, requestID).
		Order("created").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	list := make([]*icapi.ResponseValid, len(rows))
	for i, r := range rows {
		list[i] = &icapi.ResponseValid{
			IdpID:          r.IdpID,
			ValidSignature: r.ValidSignature,
			ValidIAL:       r.ValidIAL,
		}
	}
	return list, nil
}

// recordReceipt returns false if the same message was already processed in the role
func (rm *requestManager) recordReceipt(ctx context.Context, dbTX persistence.DBTX, nodeID, requestID, role string, msgType icapi.MessageType, fromNode string) (bool, error) {
	res := dbTX.DB().WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&messageReceipt{
			NodeID:    nodeID,
			RequestID: requestID,
			Role:      role,
			MsgType:   string(msgType),
			FromNode:  fromNode,
			Created:   time.Now().UnixNano(),
		})
	return res.RowsAffected == 1, res.Error
}

func (rm *requestManager) storeReceivedRequest(ctx context.Context, dbTX persistence.DBTX, nodeID string, cr *icapi.ConsentRequestMessage) error {
	data, _ := json.Marshal(cr)
	return dbTX.DB().WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "node_id"}, {Name: "request_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"data"}),
		}).
		Create(&receivedRequest{
			NodeID:    nodeID,
			RequestID: cr.RequestID,
			Data:      string(data),
			Created:   time.Now().UnixNano(),
		}).Error
}

// deleteReceived removes the copy of a request this node received as an IdP
func (rm *requestManager) deleteReceived(ctx context.Context, dbTX persistence.DBTX, nodeID, requestID string) error {
	db := dbTX.DB().WithContext(ctx)
	where := "node_id = ? AND request_id = ?"
	if err := db.Where(where, nodeID, requestID).Delete(&receivedRequest{}).Error; err != nil {
		return err
	}
	if err := db.Where(where+" AND role = ?", nodeID, requestID, receiptRoleIdP).Delete(&messageReceipt{}).Error; err != nil {
		return err
	}
	dbTX.AddPostCommit(func(ctx context.Context) {
		rm.receivedCache.Delete(keyedlock.RequestKey(nodeID, requestID))
	})
	return nil
}
