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

type LedgerConfig struct {
	HTTPClientConfig  `json:",inline"`
	BlockPollInterval *string            `json:"blockPollInterval"`
	Retry             RetryConfigWithMax `json:"retry"`
	NodeInfoCache     CacheConfig        `json:"nodeInfoCache"`
	PendingTxBatch    *int               `json:"pendingTxBatch"`
}

var LedgerDefaults = &LedgerConfig{
	BlockPollInterval: confutil.P("1s"),
	Retry: RetryConfigWithMax{
		RetryConfig: RetryConfig{
			InitialDelay: confutil.P("100ms"),
			MaxDelay:     confutil.P("5s"),
			Factor:       confutil.P(2.0),
			Jitter:       confutil.P(0.0),
		},
		MaxAttempts: confutil.P(5),
	},
	NodeInfoCache: CacheConfig{
		Capacity: confutil.P(1000),
	},
	PendingTxBatch: confutil.P(50),
}

type TransportConfig struct {
	Server      HTTPServerConfig   `json:"server"`
	Client      HTTPClientConfig   `json:"client"`
	SendRetry   RetryConfigWithMax `json:"sendRetry"`
	DedupeCache CacheConfig        `json:"dedupeCache"`
}

var TransportDefaults = &TransportConfig{
	Server: HTTPServerConfig{
		Address:         confutil.P("0.0.0.0"),
		Port:            confutil.P(8500),
		ShutdownTimeout: confutil.P("10s"),
	},
	// send retries are deliberately short, the protocol tolerates a missed receiver
	SendRetry: RetryConfigWithMax{
		RetryConfig: RetryConfig{
			InitialDelay: confutil.P("50ms"),
			MaxDelay:     confutil.P("1s"),
			Factor:       confutil.P(2.0),
			Jitter:       confutil.P(0.0),
		},
		MaxAttempts: confutil.P(3),
	},
	DedupeCache: CacheConfig{
		Capacity: confutil.P(10000),
	},
}

type CallbackConfig struct {
	Retry               RetryConfig `json:"retry"`
	RetryTimeout        *string     `json:"retryTimeout"`
	MaxResponseBodySize *string     `json:"maxResponseBodySize"`
	RequestTimeout      *string     `json:"requestTimeout"`
	ConnectionTimeout   *string     `json:"connectionTimeout"`
	// NodeURLs seeds the node level callback URLs, keyed by node id then URL type
	NodeURLs map[string]map[string]string `json:"nodeUrls"`
}

var CallbackDefaults = &CallbackConfig{
	Retry: RetryConfig{
		InitialDelay: confutil.P("5s"),
		MaxDelay:     confutil.P("180s"),
		Factor:       confutil.P(2.0),
		Jitter:       confutil.P(0.2),
	},
	RetryTimeout:        confutil.P("600s"),
	MaxResponseBodySize: confutil.P("3Mb"),
	RequestTimeout:      confutil.P("60s"),
	ConnectionTimeout:   confutil.P("30s"),
}

type RequestsConfig struct {
	MinInitialSaltLength *int        `json:"minInitialSaltLength"`
	ReceivedRequestCache CacheConfig `json:"receivedRequestCache"`
	// ReceivedSweepInterval is the least time between checks for received requests
	// the ledger shows closed, made as new blocks arrive
	ReceivedSweepInterval *string     `json:"receivedSweepInterval"`
	TimeoutRetry          RetryConfig `json:"timeoutRetry"`
}

var RequestsDefaults = &RequestsConfig{
	MinInitialSaltLength: confutil.P(16),
	ReceivedRequestCache: CacheConfig{
		Capacity: confutil.P(1000),
	},
	ReceivedSweepInterval: confutil.P("5s"),
	TimeoutRetry: RetryConfig{
		InitialDelay: confutil.P("1s"),
		MaxDelay:     confutil.P("60s"),
		Factor:       confutil.P(2.0),
		Jitter:       confutil.P(0.2),
	},
}

type IdentityConfig struct {
	// ConsentRequestTimeout is the timeout in seconds of the consent request of an identity operation
	ConsentRequestTimeout *int `json:"consentRequestTimeout"`
}

var IdentityDefaults = &IdentityConfig{
	ConsentRequestTimeout: confutil.P(86400),
}
