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

package cryptoutil

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashAndSalts(t *testing.T) {
	assert.Equal(t, "LPJNul+wow4m6DsqxbninhsWHlwfp0JecwQzYpOLmCQ=", Hash("hello"))
	assert.Equal(t, Hash("salthello"), HashWithSalt("hello", "salt"))

	s1 := RequestMessageSalt("initial", "req1")
	assert.Equal(t, s1, RequestMessageSalt("initial", "req1"))
	assert.NotEqual(t, s1, RequestMessageSalt("initial", "req2"))
	assert.NotEqual(t, s1, RequestParamsSalt("initial", "req1", "svc1"))
	assert.Len(t, s1, 24)

	salt, err := GenerateSalt()
	require.NoError(t, err)
	assert.Len(t, salt, 24)
}

func TestSignVerifyKeyTypes(t *testing.T) {
	ctx := context.Background()
	rsaKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	ecKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	_, edKey, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	for _, signer := range []crypto.Signer{rsaKey, ecKey, edKey} {
		pubPEM, err := PublicKeyPEM(signer)
		require.NoError(t, err)
		sig, err := Sign(signer, "message hash")
		require.NoError(t, err)

		ok, err := VerifySignature(ctx, pubPEM, "message hash", sig)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = VerifySignature(ctx, pubPEM, "other message", sig)
		require.NoError(t, err)
		assert.False(t, ok)

		ok, err = VerifySignature(ctx, pubPEM, "message hash", "!!not base64")
		require.NoError(t, err)
		assert.False(t, ok)
	}
}

func TestVerifyBadKey(t *testing.T) {
	ctx := context.Background()
	_, err := VerifySignature(ctx, "not a pem", "m", "")
	assert.Regexp(t, "IC010512", err)

	_, err = VerifySignature(ctx, "-----BEGIN PUBLIC KEY-----\nAAAA\n-----END PUBLIC KEY-----\n", "m", "")
	assert.Regexp(t, "IC010512", err)
}
