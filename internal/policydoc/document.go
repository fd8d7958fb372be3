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

// Package policydoc implements the declarative policy document parser and
// validator (spec component C4): strict schema validation of policy
// documents, producing either a policy.Environment tree or a structured
// *errs.SyntaxException.
package policydoc

// Document is the top-level shape of a policy document: either a single
// Policy or an array of Policies. Exactly one of the two must be set.
type Document struct {
	Policy   *PolicyDoc   `yaml:"policy,omitempty" json:"policy,omitempty"`
	Policies []*PolicyDoc `yaml:"policies,omitempty" json:"policies,omitempty"`
}

// PolicyDoc is the declarative form of an Environment.
type PolicyDoc struct {
	Name        string       `yaml:"name" json:"name"`
	DisplayName string       `yaml:"displayName,omitempty" json:"displayName,omitempty"`
	Description string       `yaml:"description,omitempty" json:"description,omitempty"`
	Access      []ACEDoc     `yaml:"access,omitempty" json:"access,omitempty"`
	Constraints ConstraintsDoc `yaml:"constraints,omitempty" json:"constraints,omitempty"`
	Systems     []SystemDoc  `yaml:"systems,omitempty" json:"systems,omitempty"`
}

// SystemDoc is the declarative form of a System.
type SystemDoc struct {
	Name        string         `yaml:"name" json:"name"`
	DisplayName string         `yaml:"displayName,omitempty" json:"displayName,omitempty"`
	Description string         `yaml:"description,omitempty" json:"description,omitempty"`
	Access      []ACEDoc       `yaml:"access,omitempty" json:"access,omitempty"`
	Constraints ConstraintsDoc `yaml:"constraints,omitempty" json:"constraints,omitempty"`
	Groups      []GroupDoc     `yaml:"groups,omitempty" json:"groups,omitempty"`
}

// GroupDoc is the declarative form of a Group.
type GroupDoc struct {
	Name        string         `yaml:"name" json:"name"`
	DisplayName string         `yaml:"displayName,omitempty" json:"displayName,omitempty"`
	Description string         `yaml:"description,omitempty" json:"description,omitempty"`
	Access      []ACEDoc       `yaml:"access,omitempty" json:"access,omitempty"`
	Constraints ConstraintsDoc `yaml:"constraints,omitempty" json:"constraints,omitempty"`
	Privileges  []PrivilegeDoc `yaml:"privileges,omitempty" json:"privileges,omitempty"`
}

// ACEDoc is the declarative form of an acl.Entry.
type ACEDoc struct {
	Principal   string   `yaml:"principal" json:"principal"`
	Access      string   `yaml:"access" json:"access"` // "ALLOW" | "DENY"
	Permissions []string `yaml:"permissions" json:"permissions"`
}

// ConstraintsDoc groups the join/approve constraint lists of a node.
type ConstraintsDoc struct {
	Join    []ConstraintDoc `yaml:"join,omitempty" json:"join,omitempty"`
	Approve []ConstraintDoc `yaml:"approve,omitempty" json:"approve,omitempty"`
}

// ConstraintDoc is the declarative form of a Constraint: either an expiry
// constraint (Type == "expiry") or a CEL expression constraint
// (Type == "expression").
type ConstraintDoc struct {
	Type string `yaml:"type" json:"type"`

	// expiry fields
	Name    string `yaml:"name,omitempty" json:"name,omitempty"`
	Min     string `yaml:"min,omitempty" json:"min,omitempty"`
	Max     string `yaml:"max,omitempty" json:"max,omitempty"`
	Default string `yaml:"default,omitempty" json:"default,omitempty"`

	// expression fields
	DisplayName string              `yaml:"displayName,omitempty" json:"displayName,omitempty"`
	Variables   []TypedVariableDoc  `yaml:"variables,omitempty" json:"variables,omitempty"`
	Expression  string              `yaml:"expression,omitempty" json:"expression,omitempty"`
}

// TypedVariableDoc is the declarative form of a constraint.TypedVariable.
type TypedVariableDoc struct {
	Name    string `yaml:"name" json:"name"`
	Type    string `yaml:"type" json:"type"` // "bool" | "string" | "long"
	Pattern string `yaml:"pattern,omitempty" json:"pattern,omitempty"`
	Min     *int64 `yaml:"min,omitempty" json:"min,omitempty"`
	Max     *int64 `yaml:"max,omitempty" json:"max,omitempty"`
	Default any    `yaml:"default,omitempty" json:"default,omitempty"`
}

// PrivilegeDoc is the declarative form of a policy.Privilege. Currently the
// only supported Type is "iam-role-binding".
type PrivilegeDoc struct {
	Type        string `yaml:"type" json:"type"`
	Resource    string `yaml:"resource,omitempty" json:"resource,omitempty"`
	Role        string `yaml:"role,omitempty" json:"role,omitempty"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	Condition   string `yaml:"condition,omitempty" json:"condition,omitempty"`
}
