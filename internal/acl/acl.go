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

package acl

import (
	"time"

	"github.com/abcxyz/jitaccess/internal/principal"
)

// Effect is the verdict an ACE contributes when it matches.
type Effect int

const (
	// Allow grants the permissions in the entry's mask.
	Allow Effect = iota
	// Deny withholds the permissions in the entry's mask.
	Deny
)

func (e Effect) String() string {
	if e == Deny {
		return "DENY"
	}
	return "ALLOW"
}

// Entry is a single access control entry: an effect, the principal it
// applies to, and the permission bits it covers.
type Entry struct {
	Effect    Effect
	Principal principal.Principal
	Mask      Mask
}

// PrincipalSource is satisfied by anything that can enumerate the
// principals valid for a subject at a point in time; internal/subject.Subject
// implements it. Kept minimal here to avoid a dependency from acl on subject.
type PrincipalSource interface {
	ValidPrincipals(now time.Time) []principal.Principal
}

// List is an ordered access control list. Evaluation is first-match: the
// first entry whose principal matches the subject AND whose mask fully
// covers the requested permissions decides the outcome. An empty list, or
// one with no covering match, denies by default.
type List []Entry

// IsAllowed reports whether any subject principal, valid at now, is
// granted every permission in required by the first matching entry.
func (l List) IsAllowed(subject PrincipalSource, now time.Time, required Mask) bool {
	valid := subject.ValidPrincipals(now)
	for _, e := range l {
		if !e.Mask.Covers(required) {
			continue
		}
		if matchesAny(e.Principal, valid) {
			return e.Effect == Allow
		}
	}
	return false
}

// Truncated returns the prefix of l ending at (and including) the first
// entry that matches the subject for any of the bits in forBit, or the
// whole list if there is no such entry. It exists to let tests verify the
// first-match property directly, per the spec's testable-properties list.
func (l List) Truncated(subject PrincipalSource, now time.Time, forBit Mask) List {
	valid := subject.ValidPrincipals(now)
	for i, e := range l {
		if e.Mask&forBit == 0 {
			continue
		}
		if matchesAny(e.Principal, valid) {
			out := make(List, i+1)
			copy(out, l[:i+1])
			return out
		}
	}
	out := make(List, len(l))
	copy(out, l)
	return out
}

func matchesAny(p principal.Principal, candidates []principal.Principal) bool {
	for _, c := range candidates {
		if p.Equal(c) {
			return true
		}
	}
	return false
}

// Concat concatenates ACLs root-first, leaf-last: ancestors bind unless an
// ancestor itself places an ALLOW in front of a descendant's DENY, because
// first-match evaluation tests entries in the order they appear here.
func Concat(lists ...List) List {
	var out List
	for _, l := range lists {
		out = append(out, l...)
	}
	return out
}
