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

package policydoc

// IamRoleResolver is consulted during Pass 2 semantic validation to decide
// whether an IAM role referenced by a privilege is known/grantable. A
// production implementation typically calls the cloud IAM API; tests and
// the linter may use a static allow-list.
type IamRoleResolver interface {
	// IsKnownRole reports whether role (e.g. "roles/viewer") is a role the
	// resolver recognizes as grantable.
	IsKnownRole(role string) (bool, error)
}

// StaticRoleResolver is an IamRoleResolver backed by a fixed set of role
// names, useful for tests and for the standalone policy linter which has
// no live cloud credentials.
type StaticRoleResolver map[string]bool

// IsKnownRole implements IamRoleResolver.
func (s StaticRoleResolver) IsKnownRole(role string) (bool, error) {
	return s[role], nil
}
