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

package cache

import (
	"sync/atomic"

	cacheimpl "github.com/Code-Hex/go-generics-cache"
	"github.com/Code-Hex/go-generics-cache/policy/lru"
	"github.com/ndidplatform/idconsent/pkg/conf"
	"github.com/ndidplatform/idconsent/pkg/confutil"
)

// Cache is a bounded LRU cache, safe for concurrent use
type Cache[K comparable, V any] interface {
	Get(key K) (V, bool)
	Set(key K, val V)
	// SetIfAbsent stores the value only if the key is not present, returning true if it stored it
	SetIfAbsent(key K, val V) bool
	Delete(key K)
	Capacity() int
	Clear()
}

type cache[K comparable, V any] struct {
	impl     atomic.Pointer[cacheimpl.Cache[K, V]]
	capacity int
}

func NewCache[K comparable, V any](cc *conf.CacheConfig, defs *conf.CacheConfig) Cache[K, V] {
	c := &cache[K, V]{
		capacity: confutil.IntMin(cc.Capacity, 1, *defs.Capacity),
	}
	c.Clear()
	return c
}

func (c *cache[K, V]) Get(key K) (V, bool) {
	return c.impl.Load().Get(key)
}

func (c *cache[K, V]) Set(key K, val V) {
	c.impl.Load().Set(key, val)
}

func (c *cache[K, V]) SetIfAbsent(key K, val V) bool {
	_, loaded := c.impl.Load().GetOrSet(key, val)
	return !loaded
}

func (c *cache[K, V]) Delete(key K) {
	c.impl.Load().Delete(key)
}

// Clear swaps in a fresh LRU, as the underlying cache has no clear of its own
func (c *cache[K, V]) Clear() {
	c.impl.Store(cacheimpl.New(cacheimpl.AsLRU[K, V](
		lru.WithCapacity(c.capacity),
	)))
}

func (c *cache[K, V]) Capacity() int {
	return c.capacity
}
