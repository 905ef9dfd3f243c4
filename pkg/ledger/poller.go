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

package ledger

import (
	"context"
	"time"

	"github.com/ndidplatform/idconsent/pkg/log"
)

func (lc *ledgerClient) pollBlocks() {
	defer close(lc.pollerDone)
	ctx := log.WithLogField(lc.bgCtx, "role", "block_poller")
	ticker := time.NewTicker(lc.pollInterval)
	defer ticker.Stop()
	for {
		lc.pollOnce(ctx)
		select {
		case <-ticker.C:
		case <-ctx.Done():
			log.L(ctx).Debugf("Block poller stopped")
			return
		}
	}
}

func (lc *ledgerClient) pollOnce(ctx context.Context) {
	latest, err := lc.latestHeight(ctx)
	if err != nil {
		log.L(ctx).Warnf("Failed to query latest block: %s", err)
		return
	}
	from := lc.processedHeight.Load()
	if latest <= from {
		return
	}
	lc.handlersLock.Lock()
	handlers := append([]BlockHandler(nil), lc.blockHandlers...)
	lc.handlersLock.Unlock()
	// stored before the handlers run, so anything that checks the height after
	// buffering work for a handler is guaranteed to be seen by one or the other
	lc.processedHeight.Store(latest)
	log.L(ctx).Debugf("Processing blocks (%d,%d]", from, latest)
	for _, h := range handlers {
		h(ctx, from, latest)
	}

	if err := lc.RetryPendingTransactions(ctx); err != nil {
		log.L(ctx).Errorf("Failed to retry pending transactions: %s", err)
	}
}
