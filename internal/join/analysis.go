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

// Package join implements the join/approval engine (spec component C8):
// PolicyAnalysis plus the JoinOperation and ApprovalOperation state
// machines that drive a self-join or a multi-party-approval join to
// completion, ultimately invoking a provisioner.
package join

import (
	"time"

	"github.com/abcxyz/jitaccess/internal/acl"
	"github.com/abcxyz/jitaccess/internal/constraint"
	"github.com/abcxyz/jitaccess/internal/errs"
	"github.com/abcxyz/jitaccess/internal/policy"
)

// ConstraintOption selects whether Analyze enforces constraints or merely
// reports what would be required.
type ConstraintOption int

const (
	// EnforceConstraints evaluates every constraint against the supplied
	// input and records each unsatisfied one in the analysis.
	EnforceConstraints ConstraintOption = iota
	// IgnoreConstraints skips evaluation; used to preview required inputs
	// without committing to values for them yet (e.g. a GET dry-run).
	IgnoreConstraints
)

// Property is one named input slot a JOIN- or APPROVE-class CEL constraint
// declares; the caller must supply a value unless Default is non-nil.
type Property struct {
	Name    string
	Type    constraint.VariableType
	Default any
}

// PolicyAnalysis is the shared result of evaluating a policy node's
// effective ACL and effective constraints of one class against a subject
// and a set of supplied inputs.
type PolicyAnalysis struct {
	Allowed                bool
	SatisfiedConstraints   []constraint.Constraint
	UnsatisfiedConstraints []constraint.Constraint
	Input                  []Property
	// FailureErr carries the first ConstraintFailed encountered (a
	// configuration error), if any; distinct from a merely unsatisfied
	// constraint, which only affects UnsatisfiedConstraints.
	FailureErr error
}

// RequiredInput returns the union of Property slots declared by every
// CEL constraint of class on grp's effective constraint set.
func RequiredInput(grp *policy.Group, class constraint.Class) []Property {
	var out []Property
	seen := make(map[string]bool)
	for _, c := range policy.EffectiveConstraints(grp, class) {
		if !c.IsCel() {
			continue
		}
		for _, v := range c.Cel.Variables {
			if seen[v.Name] {
				continue
			}
			seen[v.Name] = true
			out = append(out, Property{Name: v.Name, Type: v.Type, Default: v.Default})
		}
	}
	return out
}

// Analyze evaluates grp's effective ACL (for perms) and effective
// constraints of class (against supplied, merged with declared defaults)
// for subject at now.
func Analyze(
	engine *constraint.Engine,
	grp *policy.Group,
	class constraint.Class,
	subject acl.PrincipalSource,
	now time.Time,
	perms acl.Mask,
	supplied map[string]any,
	opt ConstraintOption,
) *PolicyAnalysis {
	result := &PolicyAnalysis{
		Allowed: policy.IsAccessAllowed(grp, subject, now, perms),
		Input:   RequiredInput(grp, class),
	}

	for _, c := range policy.EffectiveConstraints(grp, class) {
		switch {
		case c.IsExpiry():
			// Expiry constraints are resolved via Clamp at execute() time,
			// not evaluated here; they are trivially "satisfied" so they
			// never block a dry run.
			result.SatisfiedConstraints = append(result.SatisfiedConstraints, c)

		case c.IsCel():
			if opt == IgnoreConstraints {
				continue
			}
			input := c.Cel.MergeInput(supplied)
			if err := engine.Check(*c.Cel, input); err != nil {
				var failed *errs.ConstraintFailed
				if isConstraintFailed(err, &failed) {
					if result.FailureErr == nil {
						result.FailureErr = err
					}
				}
				result.UnsatisfiedConstraints = append(result.UnsatisfiedConstraints, c)
				continue
			}
			result.SatisfiedConstraints = append(result.SatisfiedConstraints, c)
		}
	}

	return result
}

func isConstraintFailed(err error, target **errs.ConstraintFailed) bool {
	cf, ok := err.(*errs.ConstraintFailed)
	if ok {
		*target = cf
	}
	return ok
}

// IsFullySatisfied reports whether the analysis found no unsatisfied
// constraint and no configuration failure.
func (a *PolicyAnalysis) IsFullySatisfied() bool {
	return len(a.UnsatisfiedConstraints) == 0 && a.FailureErr == nil
}
