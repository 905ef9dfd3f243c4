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

package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testArgs struct {
	RequestID string `json:"request_id"`
}

func TestDispatchTyped(t *testing.T) {
	ctx := context.Background()
	table := NewTable[int, string]("test")
	assert.Equal(t, "test", table.Name())

	err := Handle(ctx, table, "echo", func(ctx context.Context, args *testArgs, in int) (string, error) {
		return fmt.Sprintf("%s/%d", args.RequestID, in), nil
	})
	require.NoError(t, err)
	assert.True(t, table.Has("echo"))

	c := NewContinuation("echo", &testArgs{RequestID: "req1"})
	out, err := table.Dispatch(ctx, c, 42)
	require.NoError(t, err)
	assert.Equal(t, "req1/42", out)
}

func TestContinuationRoundTripsAsData(t *testing.T) {
	ctx := context.Background()
	table := NewTable[struct{}, string]("test")
	err := Handle(ctx, table, "echo", func(ctx context.Context, args *testArgs, _ struct{}) (string, error) {
		return args.RequestID, nil
	})
	require.NoError(t, err)

	stored, err := json.Marshal(NewContinuation("echo", &testArgs{RequestID: "req2"}))
	require.NoError(t, err)

	var reloaded Continuation
	require.NoError(t, json.Unmarshal(stored, &reloaded))
	out, err := table.Dispatch(ctx, &reloaded, struct{}{})
	require.NoError(t, err)
	assert.Equal(t, "req2", out)
}

func TestDispatchUnknownKind(t *testing.T) {
	table := NewTable[int, string]("test")
	_, err := table.Dispatch(context.Background(), NewContinuation("missing", nil), 1)
	assert.Regexp(t, "IC010011", err)
}

func TestDuplicateKind(t *testing.T) {
	ctx := context.Background()
	table := NewTable[int, int]("test")
	fn := func(ctx context.Context, args json.RawMessage, in int) (int, error) { return in, nil }
	require.NoError(t, table.Register(ctx, "k", fn))
	assert.Regexp(t, "IC010012", table.Register(ctx, "k", fn))
}

func TestBadArgs(t *testing.T) {
	ctx := context.Background()
	table := NewTable[int, string]("test")
	err := Handle(ctx, table, "echo", func(ctx context.Context, args *testArgs, in int) (string, error) {
		return args.RequestID, nil
	})
	require.NoError(t, err)
	_, err = table.Dispatch(ctx, &Continuation{Kind: "echo", Args: json.RawMessage(`[]`)}, 1)
	assert.Regexp(t, "IC010013", err)
}
