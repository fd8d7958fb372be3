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

package subject

import (
	"context"
	"time"

	"github.com/abcxyz/jitaccess/internal/principal"
)

// Membership is one directory group a user belongs to, with the roles that
// membership carries (a user can hold more than one role in the same group,
// each with its own expiry).
type Membership struct {
	// Group is the directory group's canonical email, e.g. "sre@example.com".
	Group string
	Roles []MembershipRole
}

// MembershipRole is a single role a user holds within a group membership.
// Expiry is nil when the role does not carry a TTL.
type MembershipRole struct {
	Name   string
	Expiry *time.Time
}

// Directory is the upstream group-membership source (e.g. Cloud Identity
// Groups). Implementations must be safe for concurrent use; the resolver
// calls ListMemberships once per resolution, then GetMembership concurrently
// across a bounded worker pool.
type Directory interface {
	// ListMemberships returns the groups user belongs to in directory,
	// without role/expiry detail.
	ListMemberships(ctx context.Context, user, directory string) ([]string, error)
	// GetMembership returns the full membership detail (roles and their
	// expiries) for user in the named group.
	GetMembership(ctx context.Context, user, group string) (Membership, error)
}

// GroupMapping resolves a directory group to the JIT groups it backs. A
// directory group can back more than one JIT group (e.g. environments that
// share a break-glass group); most directory groups back none at all.
type GroupMapping interface {
	// JitGroupsFor returns the JitGroupIDs backed by the named directory
	// group, or nil if the group is not a JIT group's backing group.
	JitGroupsFor(directoryGroup string) []principal.JitGroupID
}
