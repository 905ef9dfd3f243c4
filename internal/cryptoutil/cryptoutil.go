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

// Package cryptoutil holds the hashing, salting and signature checks the
// protocol needs. Raw request content stays off-ledger, only salted hashes are
// written on-chain, and IdPs sign the salted request message hash.
package cryptoutil

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"

	"github.com/hyperledger/firefly-common/pkg/i18n"
	"github.com/ndidplatform/idconsent/internal/msgs"
)

const saltLength = 16

func Hash(data string) string {
	h := sha256.Sum256([]byte(data))
	return base64.StdEncoding.EncodeToString(h[:])
}

func HashWithSalt(data, salt string) string {
	return Hash(salt + data)
}

func GenerateSalt() (string, error) {
	b := make([]byte, saltLength)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

// DeriveSalt gives a stable salt for one field of a request from the initial salt,
// so the requester only has to keep the initial salt to re-create every hash
func DeriveSalt(initialSalt string, label ...string) string {
	h := sha256.New()
	h.Write([]byte(initialSalt))
	for _, l := range label {
		h.Write([]byte{0})
		h.Write([]byte(l))
	}
	return base64.StdEncoding.EncodeToString(h.Sum(nil)[0:saltLength])
}

func RequestMessageSalt(initialSalt, requestID string) string {
	return DeriveSalt(initialSalt, "request_message", requestID)
}

func RequestParamsSalt(initialSalt, requestID, serviceID string) string {
	return DeriveSalt(initialSalt, "request_params", requestID, serviceID)
}

func ParsePublicKey(ctx context.Context, publicKeyPEM string) (crypto.PublicKey, error) {
	block, _ := pem.Decode([]byte(publicKeyPEM))
	if block == nil {
		return nil, i18n.NewError(ctx, msgs.MsgInvalidPublicKey)
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, i18n.WrapError(ctx, err, msgs.MsgInvalidPublicKey)
	}
	return pub, nil
}

// VerifySignature checks a base64 signature over the sha256 of message.
// An invalid signature is (false, nil), an unusable key is an error.
func VerifySignature(ctx context.Context, publicKeyPEM string, message, signature string) (bool, error) {
	pub, err := ParsePublicKey(ctx, publicKeyPEM)
	if err != nil {
		return false, err
	}
	sig, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return false, nil
	}
	digest := sha256.Sum256([]byte(message))
	switch key := pub.(type) {
	case *rsa.PublicKey:
		return rsa.VerifyPKCS1v15(key, crypto.SHA256, digest[:], sig) == nil, nil
	case *ecdsa.PublicKey:
		return ecdsa.VerifyASN1(key, digest[:], sig), nil
	case ed25519.PublicKey:
		return ed25519.Verify(key, []byte(message), sig), nil
	default:
		return false, i18n.NewError(ctx, msgs.MsgInvalidPublicKey)
	}
}

// Sign is the counterpart of VerifySignature, used by local signers and tests
func Sign(signer crypto.Signer, message string) (string, error) {
	var sig []byte
	var err error
	if _, ok := signer.Public().(ed25519.PublicKey); ok {
		sig, err = signer.Sign(rand.Reader, []byte(message), crypto.Hash(0))
	} else {
		digest := sha256.Sum256([]byte(message))
		sig, err = signer.Sign(rand.Reader, digest[:], crypto.SHA256)
	}
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}

func PublicKeyPEM(signer crypto.Signer) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(signer.Public())
	if err != nil {
		return "", err
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})), nil
}
