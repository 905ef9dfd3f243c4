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

package identitymgr

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ndidplatform/idconsent/internal/ledgerapi"
	"github.com/ndidplatform/idconsent/pkg/icapi"
	"github.com/ndidplatform/idconsent/pkg/persistence"
)

type stage string

const (
	stageConsent  stage = "consent"
	stageMutating stage = "mutating"
)

type persistedOperation struct {
	NodeID      string  `gorm:"column:node_id;primaryKey"`
	ReferenceID string  `gorm:"column:reference_id;primaryKey"`
	RequestID   *string `gorm:"column:request_id"`
	OpType      string  `gorm:"column:op_type"`
	Stage       stage   `gorm:"column:stage"`
	CallbackURL *string `gorm:"column:callback_url"`
	Payload     string  `gorm:"column:payload"`
	Created     int64   `gorm:"column:created"`
}

func (persistedOperation) TableName() string {
	return "identity_operations"
}

// operation is everything needed to finish an identity operation after a restart
type operation struct {
	NodeID      string                            `json:"node_id"`
	ReferenceID string                            `json:"reference_id"`
	OpType      icapi.IdentityOpType              `json:"op_type"`
	CallbackURL string                            `json:"callback_url,omitempty"`
	RequestID   *string                           `json:"request_id,omitempty"`
	Stage       stage                             `json:"-"`
	Exist       bool                              `json:"exist"`
	AccessorID  string                            `json:"accessor_id,omitempty"`
	FnName      string                            `json:"fn_name"`
	Mutation    *ledgerapi.IdentityMutationParams `json:"mutation"`
}

func (im *identityManager) insertOperation(ctx context.Context, dbTX persistence.DBTX, op *operation) error {
	payload, _ := json.Marshal(op)
	row := &persistedOperation{
		NodeID:      op.NodeID,
		ReferenceID: op.ReferenceID,
		RequestID:   op.RequestID,
		OpType:      string(op.OpType),
		Stage:       op.Stage,
		Payload:     string(payload),
		Created:     time.Now().UnixNano(),
	}
	if op.CallbackURL != "" {
		row.CallbackURL = &op.CallbackURL
	}
	return dbTX.DB().WithContext(ctx).Create(row).Error
}

func (im *identityManager) setStage(ctx context.Context, dbTX persistence.DBTX, op *operation, s stage) error {
	err := dbTX.DB().WithContext(ctx).
		Model(&persistedOperation{}).
		Where("node_id = ? AND reference_id = ?", op.NodeID, op.ReferenceID).
		Updates(map[string]any{"stage": s, "request_id": op.RequestID}).Error
	if err == nil {
		op.Stage = s
	}
	return err
}

// loadOperation returns nil if the operation is not pending
func (im *identityManager) loadOperation(ctx context.Context, dbTX persistence.DBTX, nodeID, referenceID string) (*operation, error) {
	var rows []*persistedOperation
	err := dbTX.DB().WithContext(ctx).
		Where("node_id = ? AND reference_id = ?", nodeID, referenceID).
		Limit(1).
		Find(&rows).Error
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return decodeOperation(rows[0])
}

func decodeOperation(row *persistedOperation) (*operation, error) {
	var op operation
	if err := json.Unmarshal([]byte(row.Payload), &op); err != nil {
		return nil, err
	}
	op.Stage = row.Stage
	op.RequestID = row.RequestID
	return &op, nil
}

func (im *identityManager) deleteOperation(ctx context.Context, dbTX persistence.DBTX, nodeID, referenceID string) error {
	return dbTX.DB().WithContext(ctx).
		Where("node_id = ? AND reference_id = ?", nodeID, referenceID).
		Delete(&persistedOperation{}).Error
}
