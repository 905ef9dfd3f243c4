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

package keyedlock

import (
	"context"

	"github.com/hyperledger/firefly-common/pkg/i18n"
	"github.com/ndidplatform/idconsent/internal/msgs"
	cmap "github.com/orcaman/concurrent-map/v2"
)

// KeyedLock serializes work per key, with entries only held while a key is in use
type KeyedLock struct {
	entries cmap.ConcurrentMap[string, *entry]
}

type entry struct {
	sem  chan struct{}
	refs int // only modified under the map shard lock
}

func New() *KeyedLock {
	return &KeyedLock{entries: cmap.New[*entry]()}
}

// RequestKey is the key all mutations of a single request are serialized on
func RequestKey(nodeID, requestID string) string {
	return nodeID + "/" + requestID
}

// ReferenceKey serializes operations that claim a caller reference id
func ReferenceKey(nodeID, referenceID string) string {
	return "ref/" + nodeID + "/" + referenceID
}

// ResponseKey serializes IdP responses to a request across all managed nodes
func ResponseKey(requestID string) string {
	return "resp/" + requestID
}

// Lock blocks until the key is held or the context is cancelled. The returned
// release func must be called exactly once.
func (kl *KeyedLock) Lock(ctx context.Context, key string) (release func(), err error) {
	e := kl.entries.Upsert(key, nil, func(exist bool, inMap *entry, _ *entry) *entry {
		if !exist {
			inMap = &entry{sem: make(chan struct{}, 1)}
		}
		inMap.refs++
		return inMap
	})
	select {
	case e.sem <- struct{}{}:
		return func() {
			<-e.sem
			kl.deref(key)
		}, nil
	case <-ctx.Done():
		kl.deref(key)
		return nil, i18n.NewError(ctx, msgs.MsgKeyedLockContextCancelled, key)
	}
}

func (kl *KeyedLock) deref(key string) {
	kl.entries.RemoveCb(key, func(_ string, e *entry, exists bool) bool {
		if !exists {
			return false
		}
		e.refs--
		return e.refs == 0
	})
}

// Len is the number of keys currently held or waited on
func (kl *KeyedLock) Len() int {
	return kl.entries.Count()
}
