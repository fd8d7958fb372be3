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

package principal

import "time"

// WithExpiry pairs a Principal with an optional expiry. A zero Expiry means
// the principal is permanent; a non-zero Expiry means it is temporary and
// only valid while Expiry is in the future.
type WithExpiry struct {
	Principal Principal
	Expiry    time.Time
}

// Permanent wraps p as a permanent (non-expiring) principal.
func Permanent(p Principal) WithExpiry {
	return WithExpiry{Principal: p}
}

// Temporary wraps p with the given expiry.
func Temporary(p Principal, expiry time.Time) WithExpiry {
	return WithExpiry{Principal: p, Expiry: expiry}
}

// IsTemporary reports whether this principal carries an expiry at all.
func (w WithExpiry) IsTemporary() bool {
	return !w.Expiry.IsZero()
}

// IsValid reports whether the principal is currently usable: permanent
// principals are always valid, temporary principals are valid only while
// now is strictly before Expiry.
func (w WithExpiry) IsValid(now time.Time) bool {
	if !w.IsTemporary() {
		return true
	}
	return w.Expiry.After(now)
}
