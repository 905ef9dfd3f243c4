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

package callbackmgr

import (
	"context"
	"time"

	"github.com/ndidplatform/idconsent/internal/dispatch"
	"github.com/ndidplatform/idconsent/pkg/log"
	"github.com/ndidplatform/idconsent/pkg/persistence"
	"gorm.io/gorm/clause"
)

type nodeCallbackURL struct {
	NodeID  string `gorm:"column:node_id;primaryKey"`
	URLType string `gorm:"column:url_type;primaryKey"`
	URL     string `gorm:"column:url"`
	Updated int64  `gorm:"column:updated"`
}

func (nodeCallbackURL) TableName() string {
	return "node_callback_urls"
}

type nodeURLArgs struct {
	URLType string `json:"url_type"`
}

func (cm *callbackManager) NodeURLResolver(urlType string) *dispatch.Continuation {
	return dispatch.NewContinuation(nodeURLResolverKind, &nodeURLArgs{URLType: urlType})
}

func (cm *callbackManager) resolveNodeURL(ctx context.Context, args *nodeURLArgs, nodeID string) (string, error) {
	return cm.GetNodeCallbackURL(ctx, nodeID, args.URLType)
}

func (cm *callbackManager) SetNodeCallbackURL(ctx context.Context, dbTX persistence.DBTX, nodeID, urlType, url string) error {
	return dbTX.DB().WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "node_id"}, {Name: "url_type"}},
			DoUpdates: clause.AssignmentColumns([]string{"url", "updated"}),
		}).
		Create(&nodeCallbackURL{
			NodeID:  nodeID,
			URLType: urlType,
			URL:     url,
			Updated: time.Now().UnixNano(),
		}).Error
}

// GetNodeCallbackURL returns "" if no URL of the type is set for the node
func (cm *callbackManager) GetNodeCallbackURL(ctx context.Context, nodeID, urlType string) (string, error) {
	var rows []*nodeCallbackURL
	err := cm.p.DB().WithContext(ctx).
		Where("node_id = ? AND url_type = ?", nodeID, urlType).
		Limit(1).
		Find(&rows).Error
	if err != nil || len(rows) == 0 {
		return "", err
	}
	return rows[0].URL, nil
}

func (cm *callbackManager) seedNodeURLs(ctx context.Context) error {
	if len(cm.conf.NodeURLs) == 0 {
		return nil
	}
	return cm.p.Transaction(ctx, func(ctx context.Context, dbTX persistence.DBTX) error {
		for nodeID, urls := range cm.conf.NodeURLs {
			for urlType, url := range urls {
				log.L(ctx).Infof("Node %s %s callback URL: %s", nodeID, urlType, url)
				if err := cm.SetNodeCallbackURL(ctx, dbTX, nodeID, urlType, url); err != nil {
					return err
				}
			}
		}
		return nil
	})
}
