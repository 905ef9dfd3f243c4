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

package confutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIntMin(t *testing.T) {
	assert.Equal(t, 5, IntMin(nil, 1, 5))
	assert.Equal(t, 1, IntMin(P(0), 1, 5))
	assert.Equal(t, 10, IntMin(P(10), 1, 5))
	assert.Equal(t, 3, Int(P(3), 5))
	assert.Equal(t, 5, Int(nil, 5))
}

func TestFloat64Min(t *testing.T) {
	assert.Equal(t, 2.0, Float64Min(nil, 1.0, 2.0))
	assert.Equal(t, 1.0, Float64Min(P(0.5), 1.0, 2.0))
	assert.Equal(t, 3.0, Float64Min(P(3.0), 1.0, 2.0))
}

func TestBoolAndStrings(t *testing.T) {
	assert.True(t, Bool(nil, true))
	assert.False(t, Bool(P(false), true))
	assert.Equal(t, "def", StringNotEmpty(nil, "def"))
	assert.Equal(t, "def", StringNotEmpty(P(""), "def"))
	assert.Equal(t, "val", StringNotEmpty(P("val"), "def"))
}

func TestDurationMin(t *testing.T) {
	assert.Equal(t, 5*time.Second, DurationMin(nil, 0, "5s"))
	assert.Equal(t, 5*time.Second, DurationMin(P("wrong"), 0, "5s"))
	assert.Equal(t, time.Second, DurationMin(P("10ms"), time.Second, "5s"))
	assert.Equal(t, time.Minute, DurationMin(P("1m"), time.Second, "5s"))
}

func TestByteSize(t *testing.T) {
	assert.Equal(t, int64(3*1024*1024), ByteSize(nil, 0, "3Mb"))
	assert.Equal(t, int64(1024), ByteSize(P("1Kb"), 0, "3Mb"))
	assert.Equal(t, int64(3*1024*1024), ByteSize(P("bad"), 0, "3Mb"))
	assert.Equal(t, int64(100), ByteSize(P("10b"), 100, "3Mb"))
}
