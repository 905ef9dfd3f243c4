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

package msgs

import (
	"context"
	"fmt"
	"testing"

	"github.com/hyperledger/firefly-common/pkg/i18n"
	"github.com/stretchr/testify/assert"
)

func TestErrorCode(t *testing.T) {
	err := i18n.NewError(context.Background(), MsgEnoughIdpResponse, "req1")
	assert.Equal(t, "IC010403", ErrorCode(err))
	assert.Equal(t, "IC010403", ErrorCode(fmt.Errorf("wrapped: %w", err)))
	assert.Equal(t, "", ErrorCode(fmt.Errorf("pop")))
}

func TestPrefixEnforced(t *testing.T) {
	assert.Panics(t, func() {
		_ = ffe("XX010000", "wrong prefix")
	})
}
