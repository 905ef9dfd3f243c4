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

import "github.com/ndidplatform/idconsent/pkg/confutil"

type RetryConfig struct {
	InitialDelay *string  `json:"initialDelay"`
	MaxDelay     *string  `json:"maxDelay"`
	Factor       *float64 `json:"factor"`
	// fraction of each delay applied as +/- random jitter
	Jitter *float64 `json:"jitter"`
}

type RetryConfigWithMax struct {
	RetryConfig `json:",inline"`
	MaxAttempts *int `json:"maxAttempts"`
}

var GenericRetryDefaults = &RetryConfigWithMax{
	RetryConfig: RetryConfig{
		InitialDelay: confutil.P("250ms"),
		MaxDelay:     confutil.P("30s"),
		Factor:       confutil.P(2.0),
		Jitter:       confutil.P(0.0),
	},
	MaxAttempts: confutil.P(3),
}

type CacheConfig struct {
	Capacity *int `json:"capacity"`
}

type HTTPClientConfig struct {
	URL               string                 `json:"url"`
	HTTPHeaders       map[string]interface{} `json:"httpHeaders"`
	RequestTimeout    *string                `json:"requestTimeout,omitempty"`
	ConnectionTimeout *string                `json:"connectionTimeout,omitempty"`
}

var DefaultHTTPConfig = &HTTPClientConfig{
	ConnectionTimeout: confutil.P("30s"),
	RequestTimeout:    confutil.P("30s"),
}

type HTTPServerConfig struct {
	Address         *string `json:"address"`
	Port            *int    `json:"port"`
	ShutdownTimeout *string `json:"shutdownTimeout"`
}

type MetricsConfig struct {
	Enabled *bool            `json:"enabled"`
	Server  HTTPServerConfig `json:"server"`
}

var MetricsDefaults = &MetricsConfig{
	Enabled: confutil.P(true),
	Server: HTTPServerConfig{
		Address:         confutil.P("127.0.0.1"),
		Port:            confutil.P(9500),
		ShutdownTimeout: confutil.P("5s"),
	},
}
