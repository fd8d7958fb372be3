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

package proposal

import "encoding/base64"

// Obfuscate transforms a proposal token into a URL-safe form suitable for
// embedding in an email link. It is a reversible encoding, not a security
// boundary: the token's own signature is what protects it.
func Obfuscate(token string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(token))
}

// Deobfuscate reverses Obfuscate. Callers must still run the result through
// Accept before trusting anything it contains.
func Deobfuscate(obfuscated string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(obfuscated)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
