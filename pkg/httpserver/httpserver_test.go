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

package httpserver

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"testing"

	"github.com/go-resty/resty/v2"
	"github.com/ndidplatform/idconsent/pkg/conf"
	"github.com/ndidplatform/idconsent/pkg/confutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testDefaults = &conf.HTTPServerConfig{
	Address:         confutil.P("127.0.0.1"),
	Port:            confutil.P(0),
	ShutdownTimeout: confutil.P("1s"),
}

func TestServeAndStop(t *testing.T) {
	s, err := NewServer(context.Background(), "test", &conf.HTTPServerConfig{}, testDefaults, http.HandlerFunc(func(res http.ResponseWriter, req *http.Request) {
		res.WriteHeader(http.StatusTeapot)
	}))
	require.NoError(t, err)
	require.NoError(t, s.Start())

	res, err := resty.New().R().Get(fmt.Sprintf("http://%s/anything", s.Addr()))
	require.NoError(t, err)
	assert.Equal(t, http.StatusTeapot, res.StatusCode())

	s.Stop()
	s.Stop()
}

func TestStopNotStarted(t *testing.T) {
	s, err := NewServer(context.Background(), "test", &conf.HTTPServerConfig{}, testDefaults, http.NotFoundHandler())
	require.NoError(t, err)
	s.Stop()
}

func TestListenFail(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()

	_, err = NewServer(context.Background(), "test", &conf.HTTPServerConfig{
		Port: confutil.P(l.Addr().(*net.TCPAddr).Port),
	}, testDefaults, http.NotFoundHandler())
	assert.Regexp(t, "IC010017", err)
}
