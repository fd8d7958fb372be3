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

package catalog

import (
	"testing"
	"time"

	"github.com/abcxyz/jitaccess/internal/acl"
	"github.com/abcxyz/jitaccess/internal/policy"
	"github.com/abcxyz/jitaccess/internal/principal"
)

type fakeSubject []principal.Principal

func (f fakeSubject) ValidPrincipals(now time.Time) []principal.Principal { return f }

func buildSources(alice principal.Principal) []*policy.Environment {
	env := &policy.Environment{
		Name: "prod",
		ACL:  acl.List{{Effect: acl.Allow, Principal: alice, Mask: acl.Of(acl.View)}},
	}
	sys := &policy.System{Name: "billing", Environment: env}
	env.Systems = append(env.Systems, sys)
	visible := &policy.Group{Name: "visible", System: sys, ACL: acl.List{}}
	hidden := &policy.Group{
		Name:   "hidden",
		System: sys,
		ACL:    acl.List{{Effect: acl.Deny, Principal: alice, Mask: acl.Of(acl.View)}},
	}
	sys.Groups = append(sys.Groups, visible, hidden)

	private := &policy.Environment{Name: "restricted"}
	return []*policy.Environment{env, private}
}

func TestEnvironmentsFiltersByView(t *testing.T) {
	t.Parallel()

	alice := principal.NewEndUser("alice@example.com")
	cat := New(buildSources(alice), fakeSubject{alice}, time.Now())

	envs := cat.Environments()
	if len(envs) != 1 || envs[0].Name != "prod" {
		t.Fatalf("expected only the visible environment, got %+v", envs)
	}
}

func TestGroupVisibleWhenAncestorAllowPrecedesGroupDeny(t *testing.T) {
	t.Parallel()

	alice := principal.NewEndUser("alice@example.com")
	cat := New(buildSources(alice), fakeSubject{alice}, time.Now())

	// The effective ACL is evaluated root-first, first-match: the
	// environment's ALLOW is tested before the group's own DENY and wins.
	id := principal.JitGroupID{Environment: "prod", System: "billing", Name: "hidden"}
	if got := cat.Group(id); got == nil {
		t.Errorf("expected the ancestor ALLOW to make the group visible despite its own DENY")
	}

	visibleID := principal.JitGroupID{Environment: "prod", System: "billing", Name: "visible"}
	if got := cat.Group(visibleID); got == nil {
		t.Errorf("expected the inherited-ALLOW group to be visible")
	}
}

func TestEnvironmentReturnsNilForInvisibleEnvironment(t *testing.T) {
	t.Parallel()

	alice := principal.NewEndUser("alice@example.com")
	cat := New(buildSources(alice), fakeSubject{alice}, time.Now())

	if got := cat.Environment("restricted"); got != nil {
		t.Errorf("expected restricted environment to be invisible by default-deny, got %+v", got)
	}
}
