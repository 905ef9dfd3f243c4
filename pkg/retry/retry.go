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
	"math/rand/v2"
	"time"

	"github.com/hyperledger/firefly-common/pkg/i18n"
	"github.com/ndidplatform/idconsent/internal/msgs"
	"github.com/ndidplatform/idconsent/pkg/conf"
	"github.com/ndidplatform/idconsent/pkg/confutil"
	"github.com/ndidplatform/idconsent/pkg/log"
)

type Retry struct {
	initialDelay time.Duration
	maxDelay     time.Duration
	factor       float64
	jitter       float64
	maxAttempts  int
	random       func() float64
}

func NewRetryIndefinite(rc *conf.RetryConfig, defs ...*conf.RetryConfig) *Retry {
	def := &conf.GenericRetryDefaults.RetryConfig
	if len(defs) > 0 {
		def = defs[0]
	}
	return &Retry{
		initialDelay: confutil.DurationMin(rc.InitialDelay, 0, *def.InitialDelay),
		maxDelay:     confutil.DurationMin(rc.MaxDelay, 0, *def.MaxDelay),
		factor:       confutil.Float64Min(rc.Factor, 1.0, *def.Factor),
		jitter:       clampJitter(confutil.Float64Min(rc.Jitter, 0, confutil.Float64Min(def.Jitter, 0, 0))),
		random:       rand.Float64,
	}
}

func NewRetryLimited(rc *conf.RetryConfigWithMax, defs ...*conf.RetryConfigWithMax) *Retry {
	def := conf.GenericRetryDefaults
	if len(defs) > 0 {
		def = defs[0]
	}
	r := NewRetryIndefinite(&rc.RetryConfig, &def.RetryConfig)
	r.maxAttempts = confutil.IntMin(rc.MaxAttempts, 0, *def.MaxAttempts)
	return r
}

func clampJitter(j float64) float64 {
	if j > 1 {
		return 1
	}
	return j
}

// Do invokes the function until it returns a nil error, reports the error as
// not retryable, or the attempt limit is reached.
func (r *Retry) Do(ctx context.Context, do func(attempt int) (retryable bool, err error)) error {
	attempt := 0
	for {
		attempt++
		retryable, err := do(attempt)
		if err == nil || !retryable || (r.maxAttempts > 0 && attempt >= r.maxAttempts) {
			return err
		}
		log.L(ctx).Warnf("%s (attempt=%d)", err, attempt)
		if err := r.WaitDelay(ctx, attempt); err != nil {
			return err
		}
	}
}

// NominalDelay is the un-jittered delay after the given number of failures.
// It never decreases as failureCount grows, and never exceeds the max delay.
func (r *Retry) NominalDelay(failureCount int) time.Duration {
	if failureCount <= 0 {
		return 0
	}
	delay := r.initialDelay
	for i := 1; i < failureCount; i++ {
		delay = time.Duration(float64(delay) * r.factor)
		if delay >= r.maxDelay {
			return r.maxDelay
		}
	}
	if delay > r.maxDelay {
		return r.maxDelay
	}
	return delay
}

// Delay is the nominal delay with +/- jitter applied
func (r *Retry) Delay(failureCount int) time.Duration {
	delay := r.NominalDelay(failureCount)
	if r.jitter > 0 && delay > 0 {
		spread := float64(delay) * r.jitter
		delay = time.Duration(float64(delay) - spread + (2 * spread * r.random()))
	}
	return delay
}

func (r *Retry) WaitDelay(ctx context.Context, failureCount int) error {
	delay := r.Delay(failureCount)
	if delay <= 0 {
		return nil
	}
	log.L(ctx).Debugf("Retrying after %.2fs (failures=%d)", delay.Seconds(), failureCount)
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return i18n.NewError(ctx, msgs.MsgContextCanceled)
	}
}

func (r *Retry) MaxAttempts() int {
	return r.maxAttempts
}

// UTSetMaxAttempts is useful for unit tests
func (r *Retry) UTSetMaxAttempts(maxAttempts int) {
	r.maxAttempts = maxAttempts
}

// UTSetRandom replaces the jitter source for unit tests
func (r *Retry) UTSetRandom(random func() float64) {
	r.random = random
}
