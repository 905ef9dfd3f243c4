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

package conf

import (
	"context"
	"os"
	"path"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadAndParseYAMLFileMissing(t *testing.T) {
	var c Config
	err := ReadAndParseYAMLFile(context.Background(), path.Join(t.TempDir(), "missing.yaml"), &c)
	assert.Regexp(t, "IC010000", err)
}

func TestReadAndParseYAMLFileBadYAML(t *testing.T) {
	f := path.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(f, []byte("!!! not: [yaml"), 0644))
	var c Config
	err := ReadAndParseYAMLFile(context.Background(), f, &c)
	assert.Regexp(t, "IC010002", err)
}

func TestReadAndParseYAMLFileOK(t *testing.T) {
	f := path.Join(t.TempDir(), "good.yaml")
	require.NoError(t, os.WriteFile(f, []byte(`
nodeId: rp1
db:
  type: sqlite
  sqlite:
    dsn: ":memory:"
callback:
  retry:
    initialDelay: 1s
    jitter: 0.1
ledger:
  url: http://localhost:45000
`), 0644))
	var c Config
	err := ReadAndParseYAMLFile(context.Background(), f, &c)
	require.NoError(t, err)
	assert.Equal(t, "rp1", c.NodeID)
	assert.Equal(t, ":memory:", c.DB.SQLite.DSN)
	assert.Equal(t, "1s", *c.Callback.Retry.InitialDelay)
	assert.Equal(t, 0.1, *c.Callback.Retry.Jitter)
	assert.Equal(t, "http://localhost:45000", c.Ledger.URL)
}
