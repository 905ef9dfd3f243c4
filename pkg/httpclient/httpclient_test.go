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

package httpclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ndidplatform/idconsent/pkg/conf"
	"github.com/ndidplatform/idconsent/pkg/confutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWithHeaders(t *testing.T) {
	ctx := context.Background()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/status", r.URL.Path)
		assert.Equal(t, "value1", r.Header.Get("X-Test"))
		w.WriteHeader(204)
	}))
	defer server.Close()

	rc, err := New(ctx, &conf.HTTPClientConfig{
		URL:            server.URL,
		HTTPHeaders:    map[string]interface{}{"X-Test": "value1"},
		RequestTimeout: confutil.P("5s"),
	})
	require.NoError(t, err)
	res, err := rc.R().SetContext(ctx).Get("/status")
	require.NoError(t, err)
	assert.Equal(t, 204, res.StatusCode())
}

func TestNewBadURL(t *testing.T) {
	_, err := New(context.Background(), &conf.HTTPClientConfig{URL: "ftp://example.com"})
	assert.Regexp(t, "IC010016", err)
	_, err = New(context.Background(), &conf.HTTPClientConfig{URL: ":::"})
	assert.Regexp(t, "IC010016", err)
}

func TestNewNoBaseURL(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
	}))
	defer server.Close()
	rc := NewNoBaseURL(context.Background(), &conf.HTTPClientConfig{})
	res, err := rc.R().Post(server.URL + "/any")
	require.NoError(t, err)
	assert.Equal(t, 200, res.StatusCode())
}
