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
	"testing"

	"github.com/ndidplatform/idconsent/pkg/conf"
	"github.com/ndidplatform/idconsent/pkg/confutil"
	"github.com/stretchr/testify/assert"
)

func TestCacheEviction(t *testing.T) {
	c := NewCache[string, int](&conf.CacheConfig{Capacity: confutil.P(2)}, &conf.CacheConfig{Capacity: confutil.P(100)})
	assert.Equal(t, 2, c.Capacity())

	c.Set("a", 1)
	c.Set("b", 2)
	_, _ = c.Get("a")
	c.Set("c", 3)

	_, found := c.Get("b")
	assert.False(t, found)
	v, found := c.Get("a")
	assert.True(t, found)
	assert.Equal(t, 1, v)

	c.Delete("a")
	_, found = c.Get("a")
	assert.False(t, found)

	c.Clear()
	_, found = c.Get("c")
	assert.False(t, found)
}

func TestCacheDefaultCapacity(t *testing.T) {
	c := NewCache[string, int](&conf.CacheConfig{}, &conf.CacheConfig{Capacity: confutil.P(100)})
	assert.Equal(t, 100, c.Capacity())
}

func TestSetIfAbsent(t *testing.T) {
	c := NewCache[string, bool](&conf.CacheConfig{}, &conf.CacheConfig{Capacity: confutil.P(10)})
	assert.True(t, c.SetIfAbsent("msg1", true))
	assert.False(t, c.SetIfAbsent("msg1", true))
	assert.True(t, c.SetIfAbsent("msg2", true))
}
