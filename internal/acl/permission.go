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

// Package acl implements ordered allow/deny access control lists over
// typed principals with bitmask permissions, and their composition over a
// policy tree's ancestry chain.
package acl

import "strings"

// Permission is a single bit in a Mask.
type Permission uint32

// The permission bits an ACE's mask may combine.
const (
	View Permission = 1 << iota
	Join
	ApproveSelf
	ApproveOthers
	Export
	Reconcile
)

var names = []struct {
	bit  Permission
	name string
}{
	{View, "VIEW"},
	{Join, "JOIN"},
	{ApproveSelf, "APPROVE_SELF"},
	{ApproveOthers, "APPROVE_OTHERS"},
	{Export, "EXPORT"},
	{Reconcile, "RECONCILE"},
}

// Mask is a bitwise OR of Permission bits.
type Mask uint32

// Of builds a Mask from individual permissions.
func Of(perms ...Permission) Mask {
	var m Mask
	for _, p := range perms {
		m |= Mask(p)
	}
	return m
}

// Covers reports whether m contains every bit set in other, i.e. m is
// sufficient to satisfy a requirement of other.
func (m Mask) Covers(other Mask) bool {
	return m&other == other
}

// Has reports whether m contains p.
func (m Mask) Has(p Permission) bool {
	return Mask(p)&m != 0
}

// String renders the mask as a "|"-joined list of permission names, in bit
// order, for logging and error messages.
func (m Mask) String() string {
	var parts []string
	for _, n := range names {
		if m.Has(n.bit) {
			parts = append(parts, n.name)
		}
	}
	if len(parts) == 0 {
		return "NONE"
	}
	return strings.Join(parts, "|")
}

// ParsePermission parses a single permission name (case-insensitive),
// e.g. "VIEW", "approve_self".
func ParsePermission(s string) (Permission, bool) {
	up := strings.ToUpper(s)
	for _, n := range names {
		if n.name == up {
			return n.bit, true
		}
	}
	return 0, false
}
