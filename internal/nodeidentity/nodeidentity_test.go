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

package nodeidentity

import (
	"context"
	"testing"

	"github.com/ndidplatform/idconsent/pkg/conf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalNode(t *testing.T) {
	ctx := context.Background()
	r, err := NewResolver(ctx, &conf.Config{NodeID: "rp1"})
	require.NoError(t, err)

	nodeID, err := r.Resolve(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, "rp1", nodeID)

	nodeID, err = r.Resolve(ctx, "rp1")
	require.NoError(t, err)
	assert.Equal(t, "rp1", nodeID)

	_, err = r.Resolve(ctx, "rp2")
	assert.Regexp(t, "IC010008", err)

	assert.Equal(t, []string{"rp1"}, r.LocalNodeIDs())
	assert.True(t, r.IsLocal("rp1"))
	assert.False(t, r.IsLocal("rp2"))
}

func TestProxyNode(t *testing.T) {
	ctx := context.Background()
	r, err := NewResolver(ctx, &conf.Config{NodeID: "proxy1", ManagedNodeIDs: []string{"rp1", "idp1"}})
	require.NoError(t, err)

	_, err = r.Resolve(ctx, "")
	assert.Regexp(t, "IC010009", err)

	nodeID, err := r.Resolve(ctx, "idp1")
	require.NoError(t, err)
	assert.Equal(t, "idp1", nodeID)

	_, err = r.Resolve(ctx, "proxy1")
	assert.Regexp(t, "IC010008", err)

	assert.ElementsMatch(t, []string{"rp1", "idp1"}, r.LocalNodeIDs())
}

func TestMissingNodeID(t *testing.T) {
	_, err := NewResolver(context.Background(), &conf.Config{})
	assert.Regexp(t, "IC010003", err)
}
