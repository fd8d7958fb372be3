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

package policy

import (
	"testing"
	"time"

	"github.com/abcxyz/jitaccess/internal/acl"
	"github.com/abcxyz/jitaccess/internal/constraint"
	"github.com/abcxyz/jitaccess/internal/principal"
)

type fakeSubject []principal.Principal

func (f fakeSubject) ValidPrincipals(now time.Time) []principal.Principal { return f }

func buildTree() *Group {
	alice := principal.NewEndUser("alice@example.com")
	env := &Environment{
		Name: "prod",
		ACL:  acl.List{{Effect: acl.Deny, Principal: alice, Mask: acl.Of(acl.Join)}},
		JoinConstraints: []constraint.Constraint{
			{Name: "expiry", Expiry: &constraint.ExpiryConstraint{Min: time.Minute, Max: time.Hour, Default: 15 * time.Minute}},
		},
	}
	sys := &System{Name: "billing", Environment: env}
	env.Systems = append(env.Systems, sys)
	grp := &Group{
		Name:   "admins",
		System: sys,
		ACL:    acl.List{{Effect: acl.Allow, Principal: alice, Mask: acl.Of(acl.Join)}},
	}
	sys.Groups = append(sys.Groups, grp)
	return grp
}

func TestEffectiveACLAncestorDenyWins(t *testing.T) {
	t.Parallel()

	grp := buildTree()
	alice := principal.NewEndUser("alice@example.com")
	subject := fakeSubject{alice}

	if IsAccessAllowed(grp, subject, time.Now(), acl.Of(acl.Join)) {
		t.Errorf("expected ancestor DENY (tested first) to override descendant ALLOW")
	}
}

func TestEffectiveACLDescendantAllowWinsWhenPlacedFirst(t *testing.T) {
	t.Parallel()

	alice := principal.NewEndUser("alice@example.com")
	// Put the ALLOW at the environment (root) level, ahead of nothing - it
	// is the only ancestor entry, so it is tested first and wins.
	env := &Environment{
		Name: "prod",
		ACL:  acl.List{{Effect: acl.Allow, Principal: alice, Mask: acl.Of(acl.Join)}},
	}
	sys := &System{Name: "billing", Environment: env}
	env.Systems = append(env.Systems, sys)
	grp := &Group{Name: "admins", System: sys, ACL: acl.List{{Effect: acl.Deny, Principal: alice, Mask: acl.Of(acl.Join)}}}
	sys.Groups = append(sys.Groups, grp)

	subject := fakeSubject{alice}
	if !IsAccessAllowed(grp, subject, time.Now(), acl.Of(acl.Join)) {
		t.Errorf("expected ancestor ALLOW placed first to win over descendant DENY")
	}
}

func TestEffectiveConstraintsChildOverridesByName(t *testing.T) {
	t.Parallel()

	grp := buildTree()
	grp.JoinConstraints = []constraint.Constraint{
		{Name: "expiry", Expiry: &constraint.ExpiryConstraint{Min: time.Hour, Max: 8 * time.Hour, Default: 2 * time.Hour}},
	}

	ec, ok := EffectiveExpiryConstraint(grp)
	if !ok {
		t.Fatal("expected an effective expiry constraint")
	}
	if ec.Default != 2*time.Hour {
		t.Errorf("expected the group's own expiry constraint to override the environment's, got default %v", ec.Default)
	}
}

func TestEffectiveConstraintsInheritsWhenAbsent(t *testing.T) {
	t.Parallel()

	grp := buildTree()
	ec, ok := EffectiveExpiryConstraint(grp)
	if !ok {
		t.Fatal("expected to inherit the environment's expiry constraint")
	}
	if ec.Default != 15*time.Minute {
		t.Errorf("expected inherited default 15m, got %v", ec.Default)
	}
}

func TestJitGroupID(t *testing.T) {
	t.Parallel()

	grp := buildTree()
	id := grp.JitGroupID()
	if got, want := id.String(), "prod/billing/admins"; got != want {
		t.Errorf("JitGroupID = %q, want %q", got, want)
	}
}

func TestIamRoleBindingChecksumStable(t *testing.T) {
	t.Parallel()

	b := IamRoleBinding{Resource: "projects/p1", Role: "roles/viewer"}
	if b.Checksum() != b.Checksum() {
		t.Errorf("checksum must be stable across calls")
	}
	b2 := IamRoleBinding{Resource: "projects/p1", Role: "roles/editor"}
	if b.Checksum() == b2.Checksum() {
		t.Errorf("different bindings should not collide (in this simple case)")
	}
}
