// Copyright 2023 The Authors (see AUTHORS file)
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package proposal implements the proposal handler (spec component C9):
// minting and verifying signed, self-contained JWT proposal tokens, with no
// server-side proposal store. The signing mechanism is pluggable (HS256 or
// an asymmetric algorithm) behind the KeyProvider seam.
package proposal

import (
	"context"

	"github.com/lestrrat-go/jwx/v2/jwa"
)

// KeyProvider resolves the key material used to sign new proposals and to
// verify previously-minted ones. A symmetric implementation (HS256, a
// single shared secret) and an asymmetric one (keyed by kid, backed by a
// jwk.Set) can both satisfy this interface.
type KeyProvider interface {
	// SigningKey returns the key ID, algorithm, and key to sign a new
	// proposal with.
	SigningKey(ctx context.Context) (kid string, alg jwa.SignatureAlgorithm, key any, err error)
	// VerificationKey resolves the algorithm and key that should have been
	// used to sign a token carrying the given kid.
	VerificationKey(ctx context.Context, kid string) (alg jwa.SignatureAlgorithm, key any, err error)
}

// StaticHS256KeyProvider is a KeyProvider backed by a single fixed HMAC
// secret, the simplest pluggable implementation the spec allows ("HS256 or
// asymmetric - the choice is pluggable").
type StaticHS256KeyProvider struct {
	KeyID  string
	Secret []byte
}

func (p StaticHS256KeyProvider) SigningKey(ctx context.Context) (string, jwa.SignatureAlgorithm, any, error) {
	return p.KeyID, jwa.HS256, p.Secret, nil
}

func (p StaticHS256KeyProvider) VerificationKey(ctx context.Context, kid string) (jwa.SignatureAlgorithm, any, error) {
	return jwa.HS256, p.Secret, nil
}
