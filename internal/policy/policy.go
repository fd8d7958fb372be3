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

// Package policy implements the Environment -> System -> Group policy
// tree (spec component C3): per-node ACL and constraints, with effective-
// ACL and effective-constraint derivation over the ancestry chain.
package policy

import (
	"time"

	"github.com/abcxyz/jitaccess/internal/acl"
	"github.com/abcxyz/jitaccess/internal/constraint"
	"github.com/abcxyz/jitaccess/internal/principal"
)

// Metadata carries provenance information common to every node.
type Metadata struct {
	Source       string
	LastModified time.Time
	Version      string
	DefaultName  string
}

// Node is implemented by Environment, System, and Group. It exposes the
// operations needed to compute effective ACLs/constraints over the
// ancestry chain without requiring callers to type-switch.
type Node interface {
	// NodeName is the node's own name (matches ^[A-Za-z0-9_-]{1,32}$).
	NodeName() string
	// Parent returns the parent node, or nil for an Environment.
	Parent() Node
	// AccessControlList returns this node's own (non-inherited) ACL.
	AccessControlList() acl.List
	// Constraints returns this node's own (non-inherited) constraints of
	// the given class.
	Constraints(class constraint.Class) []constraint.Constraint
}

// ancestry walks from n up to the root, returning nodes root-first.
func ancestry(n Node) []Node {
	var chain []Node
	for cur := n; cur != nil; cur = cur.Parent() {
		chain = append(chain, cur)
	}
	// reverse in place: chain was built leaf-first.
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain
}

// EffectiveACL concatenates the ACLs of n's ancestors, root first, n last.
func EffectiveACL(n Node) acl.List {
	chain := ancestry(n)
	lists := make([]acl.List, len(chain))
	for i, a := range chain {
		lists[i] = a.AccessControlList()
	}
	return acl.Concat(lists...)
}

// EffectiveConstraints merges the constraints of n's ancestors (root to
// leaf) of the given class; a child constraint overrides an ancestor
// constraint of the same Name.
func EffectiveConstraints(n Node, class constraint.Class) []constraint.Constraint {
	chain := ancestry(n)
	byName := make(map[string]constraint.Constraint)
	var order []string
	for _, node := range chain {
		for _, c := range node.Constraints(class) {
			if _, seen := byName[c.Name]; !seen {
				order = append(order, c.Name)
			}
			byName[c.Name] = c
		}
	}
	out := make([]constraint.Constraint, 0, len(order))
	for _, name := range order {
		out = append(out, byName[name])
	}
	return out
}

// IsAccessAllowed reports whether subject holds every permission in perms
// on n, per the node's effective ACL.
func IsAccessAllowed(n Node, subject acl.PrincipalSource, now time.Time, perms acl.Mask) bool {
	return EffectiveACL(n).IsAllowed(subject, now, perms)
}

// EffectiveExpiryConstraint returns the single ExpiryConstraint governing
// JOIN on n (spec: exactly one must be present, at the node or inherited),
// and whether one was found at all.
func EffectiveExpiryConstraint(n Node) (constraint.ExpiryConstraint, bool) {
	for _, c := range EffectiveConstraints(n, constraint.JoinClass) {
		if c.IsExpiry() {
			return *c.Expiry, true
		}
	}
	return constraint.ExpiryConstraint{}, false
}

// Environment is the root of a policy tree.
type Environment struct {
	Name        string
	DisplayName string
	Description string
	Metadata    Metadata
	ACL         acl.List
	JoinConstraints    []constraint.Constraint
	ApproveConstraints []constraint.Constraint

	Systems []*System
}

func (e *Environment) NodeName() string            { return e.Name }
func (e *Environment) Parent() Node                 { return nil }
func (e *Environment) AccessControlList() acl.List { return e.ACL }
func (e *Environment) Constraints(class constraint.Class) []constraint.Constraint {
	if class == constraint.ApproveClass {
		return e.ApproveConstraints
	}
	return e.JoinConstraints
}

// System returns the child system with the given name, or nil.
func (e *Environment) System(name string) *System {
	for _, s := range e.Systems {
		if s.Name == name {
			return s
		}
	}
	return nil
}

// System is a child of Environment, parent of Group.
type System struct {
	Name        string
	DisplayName string
	Description string
	Metadata    Metadata
	ACL         acl.List
	JoinConstraints    []constraint.Constraint
	ApproveConstraints []constraint.Constraint

	Environment *Environment
	Groups      []*Group
}

func (s *System) NodeName() string            { return s.Name }
func (s *System) Parent() Node                 { return s.Environment }
func (s *System) AccessControlList() acl.List { return s.ACL }
func (s *System) Constraints(class constraint.Class) []constraint.Constraint {
	if class == constraint.ApproveClass {
		return s.ApproveConstraints
	}
	return s.JoinConstraints
}

// Group returns the child group with the given name, or nil.
func (s *System) Group(name string) *Group {
	for _, g := range s.Groups {
		if g.Name == name {
			return g
		}
	}
	return nil
}

// Privilege is the sum type of grantable effects a Group can carry.
// Currently the only variant is IamRoleBinding.
type Privilege struct {
	IamRoleBinding *IamRoleBinding
}

// IamRoleBinding describes an IAM role binding a Group's members are
// granted, with an optional CEL IAM condition (typically the temporary
// access window computed at grant time rather than stored here).
type IamRoleBinding struct {
	Resource    string
	Role        string
	Description string
	Condition   string
}

// Checksum is a stable CRC32 over (resource, role, condition, description),
// used to detect configuration drift when reconciling.
func (b IamRoleBinding) Checksum() uint32 {
	return checksumIamRoleBinding(b)
}

// Group is a leaf of the policy tree: the unit a user JIT-joins.
type Group struct {
	Name        string
	DisplayName string
	Description string
	Metadata    Metadata
	ACL         acl.List
	JoinConstraints    []constraint.Constraint
	ApproveConstraints []constraint.Constraint
	Privileges  []Privilege

	System *System
}

func (g *Group) NodeName() string            { return g.Name }
func (g *Group) Parent() Node                 { return g.System }
func (g *Group) AccessControlList() acl.List { return g.ACL }
func (g *Group) Constraints(class constraint.Class) []constraint.Constraint {
	if class == constraint.ApproveClass {
		return g.ApproveConstraints
	}
	return g.JoinConstraints
}

// JitGroupID returns the fully qualified (environment, system, name) triple
// identifying this group, also its key in the directory.
func (g *Group) JitGroupID() principal.JitGroupID {
	return principal.JitGroupID{
		Environment: g.System.Environment.Name,
		System:      g.System.Name,
		Name:        g.Name,
	}
}
