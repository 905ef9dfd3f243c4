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

package retry

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/ndidplatform/idconsent/pkg/conf"
	"github.com/ndidplatform/idconsent/pkg/confutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCallbackBackoffSchedule(t *testing.T) {
	r := NewRetryIndefinite(&conf.RetryConfig{}, &conf.CallbackDefaults.Retry)
	expected := []time.Duration{
		5 * time.Second,
		10 * time.Second,
		20 * time.Second,
		40 * time.Second,
		80 * time.Second,
		160 * time.Second,
		180 * time.Second,
		180 * time.Second,
	}
	for i, e := range expected {
		assert.Equal(t, e, r.NominalDelay(i+1), "failure %d", i+1)
	}

	var last time.Duration
	for i := 1; i < 50; i++ {
		d := r.NominalDelay(i)
		assert.GreaterOrEqual(t, d, last)
		assert.LessOrEqual(t, d, 180*time.Second)
		last = d
	}
}

func TestJitterBounds(t *testing.T) {
	r := NewRetryIndefinite(&conf.RetryConfig{}, &conf.CallbackDefaults.Retry)

	r.UTSetRandom(func() float64 { return 0 })
	assert.Equal(t, 4*time.Second, r.Delay(1))
	r.UTSetRandom(func() float64 { return 1 })
	assert.Equal(t, 6*time.Second, r.Delay(1))
	r.UTSetRandom(func() float64 { return 0.5 })
	assert.Equal(t, 5*time.Second, r.Delay(1))

	r = NewRetryIndefinite(&conf.RetryConfig{}, &conf.CallbackDefaults.Retry)
	for i := 0; i < 100; i++ {
		d := r.Delay(7)
		assert.GreaterOrEqual(t, d, 144*time.Second)
		assert.LessOrEqual(t, d, 216*time.Second)
	}
}

func TestJitterClamped(t *testing.T) {
	r := NewRetryIndefinite(&conf.RetryConfig{Jitter: confutil.P(5.0)})
	assert.Equal(t, 1.0, r.jitter)
}

func TestZeroFailuresNoDelay(t *testing.T) {
	r := NewRetryIndefinite(&conf.RetryConfig{})
	assert.Equal(t, time.Duration(0), r.Delay(0))
	require.NoError(t, r.WaitDelay(context.Background(), 0))
}

func TestRetryLimited(t *testing.T) {
	r := NewRetryLimited(&conf.RetryConfigWithMax{
		RetryConfig: conf.RetryConfig{
			InitialDelay: confutil.P("1ms"),
			MaxDelay:     confutil.P("2ms"),
		},
		MaxAttempts: confutil.P(3),
	})
	assert.Equal(t, 3, r.MaxAttempts())
	calls := 0
	err := r.Do(context.Background(), func(attempt int) (bool, error) {
		calls++
		return true, fmt.Errorf("pop")
	})
	assert.Regexp(t, "pop", err)
	assert.Equal(t, 3, calls)
}

func TestRetryNotRetryable(t *testing.T) {
	r := NewRetryLimited(&conf.RetryConfigWithMax{})
	calls := 0
	err := r.Do(context.Background(), func(attempt int) (bool, error) {
		calls++
		return false, fmt.Errorf("pop")
	})
	assert.Regexp(t, "pop", err)
	assert.Equal(t, 1, calls)
}

func TestRetrySucceeds(t *testing.T) {
	r := NewRetryIndefinite(&conf.RetryConfig{InitialDelay: confutil.P("1ms")})
	err := r.Do(context.Background(), func(attempt int) (bool, error) {
		if attempt < 3 {
			return true, fmt.Errorf("pop")
		}
		return true, nil
	})
	assert.NoError(t, err)
}

func TestRetryContextCancelled(t *testing.T) {
	r := NewRetryIndefinite(&conf.RetryConfig{InitialDelay: confutil.P("10s")})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := r.Do(ctx, func(attempt int) (bool, error) {
		return true, fmt.Errorf("pop")
	})
	assert.Regexp(t, "IC010004", err)
}
