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
	"testing"
	"time"

	"github.com/abcxyz/jitaccess/internal/principal"
)

type fakeSubject []principal.Principal

func (f fakeSubject) ValidPrincipals(now time.Time) []principal.Principal { return f }

func TestIsAllowedFirstMatch(t *testing.T) {
	t.Parallel()

	alice := principal.NewEndUser("alice@example.com")
	subject := fakeSubject{alice, principal.NewUserClass(principal.AuthenticatedUsers)}

	list := List{
		{Effect: Deny, Principal: alice, Mask: Of(View, Join)},
		{Effect: Allow, Principal: alice, Mask: Of(View, Join)},
	}

	if list.IsAllowed(subject, time.Now(), Of(View)) {
		t.Errorf("expected deny to win because it is first")
	}
}

func TestIsAllowedRequiresFullCoverage(t *testing.T) {
	t.Parallel()

	alice := principal.NewEndUser("alice@example.com")
	subject := fakeSubject{alice}

	list := List{
		{Effect: Allow, Principal: alice, Mask: Of(View)},
	}

	if list.IsAllowed(subject, time.Now(), Of(View, Join)) {
		t.Errorf("expected deny because no single entry covers both bits")
	}
	if !list.IsAllowed(subject, time.Now(), Of(View)) {
		t.Errorf("expected allow for the covered bit")
	}
}

func TestIsAllowedDefaultsDeny(t *testing.T) {
	t.Parallel()

	alice := principal.NewEndUser("alice@example.com")
	subject := fakeSubject{alice}

	if (List{}).IsAllowed(subject, time.Now(), Of(View)) {
		t.Errorf("expected empty ACL to deny by default")
	}

	bob := principal.NewEndUser("bob@example.com")
	list := List{{Effect: Allow, Principal: bob, Mask: Of(View)}}
	if list.IsAllowed(subject, time.Now(), Of(View)) {
		t.Errorf("expected no matching entry to deny")
	}
}

// ACL monotonicity: adding a DENY before any ALLOW for S cannot relax
// access; adding an ALLOW before any DENY for S cannot restrict access.
func TestMonotonicity(t *testing.T) {
	t.Parallel()

	alice := principal.NewEndUser("alice@example.com")
	subject := fakeSubject{alice}
	now := time.Now()

	base := List{{Effect: Allow, Principal: alice, Mask: Of(View)}}
	withDenyFirst := append(List{{Effect: Deny, Principal: alice, Mask: Of(View)}}, base...)
	if base.IsAllowed(subject, now, Of(View)) && withDenyFirst.IsAllowed(subject, now, Of(View)) {
		t.Errorf("prepending a DENY must not leave access allowed")
	}

	base2 := List{{Effect: Deny, Principal: alice, Mask: Of(View)}}
	withAllowFirst := append(List{{Effect: Allow, Principal: alice, Mask: Of(View)}}, base2...)
	if !base2.IsAllowed(subject, now, Of(View)) == withAllowFirst.IsAllowed(subject, now, Of(View)) {
		// base2 denies; withAllowFirst must allow (cannot restrict further
		// since base2 was already maximally restrictive).
	}
	if !withAllowFirst.IsAllowed(subject, now, Of(View)) {
		t.Errorf("prepending an ALLOW must not leave access denied")
	}
}

func TestIsAllowedFirstMatchTruncationEquivalence(t *testing.T) {
	t.Parallel()

	alice := principal.NewEndUser("alice@example.com")
	bob := principal.NewEndUser("bob@example.com")
	subject := fakeSubject{alice}
	now := time.Now()

	full := List{
		{Effect: Deny, Principal: bob, Mask: Of(View)},
		{Effect: Allow, Principal: alice, Mask: Of(View)},
		{Effect: Deny, Principal: alice, Mask: Of(View)},
	}
	truncated := full.Truncated(subject, now, Of(View))

	if got, want := full.IsAllowed(subject, now, Of(View)), truncated.IsAllowed(subject, now, Of(View)); got != want {
		t.Errorf("truncated ACL evaluation diverged from full: got %v want %v", got, want)
	}
	if len(truncated) != 2 {
		t.Errorf("expected truncation to stop at the first match (index 1), got len %d", len(truncated))
	}
}

func TestConcatOrdersRootFirst(t *testing.T) {
	t.Parallel()

	root := List{{Effect: Deny, Principal: principal.NewUserClass(principal.AuthenticatedUsers), Mask: Of(View)}}
	leaf := List{{Effect: Allow, Principal: principal.NewUserClass(principal.AuthenticatedUsers), Mask: Of(View)}}

	combined := Concat(root, leaf)
	subject := fakeSubject{principal.NewUserClass(principal.AuthenticatedUsers)}

	// Ancestor DENY is tested first, so it wins even though leaf allows.
	if combined.IsAllowed(subject, time.Now(), Of(View)) {
		t.Errorf("expected ancestor DENY placed first to override descendant ALLOW")
	}

	combinedReordered := Concat(leaf, root)
	if !combinedReordered.IsAllowed(subject, time.Now(), Of(View)) {
		t.Errorf("expected leaf ALLOW placed first to win")
	}
}
