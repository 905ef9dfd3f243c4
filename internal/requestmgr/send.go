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

	"github.com/ndidplatform/idconsent/pkg/icapi"
	"github.com/ndidplatform/idconsent/pkg/log"
	"github.com/ndidplatform/idconsent/pkg/transport"
)

func (rm *requestManager) SendMessage(ctx context.Context, senderNodeID string, nodeIDs []string, msg *icapi.Message) error {
	receivers := make([]*transport.Receiver, 0, len(nodeIDs))
	for _, nodeID := range nodeIDs {
		ni, err := rm.queries.GetNodeInfo(ctx, nodeID)
		if err != nil {
			return err
		}
		r := &transport.Receiver{NodeID: nodeID}
		// nodes in this process need no address
		if ni != nil && len(ni.MQ) > 0 {
			r.IP = ni.MQ[0].IP
			r.Port = ni.MQ[0].Port
		}
		receivers = append(receivers, r)
	}
	return rm.transport.Send(ctx, receivers, msg, senderNodeID, func(r *transport.Receiver) {
		log.L(ctx).Debugf("Sent %s for request %s to %s", msg.Type, msg.RequestID(), r.NodeID)
	})
}
