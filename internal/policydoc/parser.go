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

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/abcxyz/jitaccess/internal/acl"
	"github.com/abcxyz/jitaccess/internal/constraint"
	"github.com/abcxyz/jitaccess/internal/errs"
	"github.com/abcxyz/jitaccess/internal/policy"
	"github.com/abcxyz/jitaccess/internal/principal"
)

// idPattern validates policy/system/group names.
var idPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,32}$`)

// maxDocumentBytes bounds the size of a policy document, mirroring
// requestutil.ReadRequestFromPath's 64KB read limit in the teacher repo,
// scaled up because policy documents are considerably larger than AOD
// request files.
const maxDocumentBytes = 4 * 1_000 * 1_000

// Result is the outcome of a successful Parse: the loaded Environment
// trees plus any WARNING-severity issues collected along the way.
type Result struct {
	Environments []*policy.Environment
	Warnings     []errs.Issue
}

// Parse validates and loads a policy document. On any ERROR-severity issue
// it returns a *errs.SyntaxException carrying every issue (warnings
// included) instead of a Result.
func Parse(data []byte, celEngine *constraint.Engine, roleResolver IamRoleResolver) (*Result, error) {
	p := &parser{celEngine: celEngine, roleResolver: roleResolver}
	return p.parse(data)
}

// Lint validates a policy document without requiring it to fully load,
// returning every issue recorded (of any severity) instead of a Result. It
// runs the same passes as Parse: a document that fails to decode stops at
// that error, and the semantic pass runs only when the structural pass found
// no errors. It powers the standalone policy linter.
func Lint(data []byte, celEngine *constraint.Engine, roleResolver IamRoleResolver) []errs.Issue {
	p := &parser{celEngine: celEngine, roleResolver: roleResolver}
	_, _ = p.parse(data)
	return p.issues
}

type parser struct {
	celEngine    *constraint.Engine
	roleResolver IamRoleResolver
	issues       []errs.Issue
}

func (p *parser) addIssue(severity errs.Severity, scope string, code errs.IssueCode, format string, args ...any) {
	p.issues = append(p.issues, errs.Issue{
		Severity: severity,
		Scope:    scope,
		Code:     code,
		Details:  fmt.Sprintf(format, args...),
	})
}

func (p *parser) errorf(scope string, code errs.IssueCode, format string, args ...any) {
	p.addIssue(errs.Error, scope, code, format, args...)
}

func (p *parser) warnf(scope string, code errs.IssueCode, format string, args ...any) {
	p.addIssue(errs.Warning, scope, code, format, args...)
}

func (p *parser) parse(data []byte) (*Result, error) {
	if len(data) > maxDocumentBytes {
		p.errorf("document", errs.CodeFileInvalidSyntax, "document exceeds maximum size of %d bytes", maxDocumentBytes)
		return nil, errs.NewSyntaxException(p.issues)
	}

	var doc Document
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		p.errorf("document", errs.CodeFileInvalidSyntax, "failed to parse document: %v", err)
		return nil, errs.NewSyntaxException(p.issues)
	}

	docs := doc.Policies
	if doc.Policy != nil {
		docs = append(docs, doc.Policy)
	}
	if len(docs) == 0 {
		p.errorf("document", errs.CodeFileInvalidSyntax, "document must contain either \"policy\" or a non-empty \"policies\" array")
		return nil, errs.NewSyntaxException(p.issues)
	}

	seen := make(map[string]bool, len(docs))
	var envs []*policy.Environment
	for _, pd := range docs {
		if pd.Name != "" && seen[pd.Name] {
			p.errorf("document", errs.CodePolicyDuplicateID, "duplicate top-level policy id %q", pd.Name)
			continue
		}
		seen[pd.Name] = true

		env := p.parsePolicy(pd)
		if env != nil {
			envs = append(envs, env)
		}
	}

	if err := errs.NewSyntaxException(p.issues); err != nil {
		return nil, err
	}

	// Pass 2, semantic: runs only once every tree is structurally sound.
	for _, env := range envs {
		p.validateSemantics(env)
	}
	if err := errs.NewSyntaxException(p.issues); err != nil {
		return nil, err
	}

	var warnings []errs.Issue
	for _, i := range p.issues {
		if i.Severity == errs.Warning {
			warnings = append(warnings, i)
		}
	}
	return &Result{Environments: envs, Warnings: warnings}, nil
}

// --- Pass 1: structural -----------------------------------------------

func (p *parser) parsePolicy(pd *PolicyDoc) *policy.Environment {
	scope := fmt.Sprintf("policy:%s", pd.Name)
	if pd.Name == "" {
		p.errorf(scope, errs.CodePolicyMissingName, "policy is missing a name")
	} else if !idPattern.MatchString(pd.Name) {
		p.errorf(scope, errs.CodePolicyInvalidID, "policy id %q does not match %s", pd.Name, idPattern.String())
	}

	env := &policy.Environment{
		Name:        pd.Name,
		DisplayName: pd.DisplayName,
		Description: pd.Description,
	}
	env.ACL = p.parseACL(scope, pd.Access)
	env.JoinConstraints, env.ApproveConstraints = p.parseConstraints(scope, pd.Constraints)

	if len(pd.Systems) == 0 {
		p.errorf(scope, errs.CodePolicyMissingRoles, "policy %q declares no systems", pd.Name)
	}

	seenSys := make(map[string]bool)
	for _, sd := range pd.Systems {
		if sd.Name != "" && seenSys[sd.Name] {
			p.errorf(scope, errs.CodePolicyDuplicateID, "duplicate system id %q in policy %q", sd.Name, pd.Name)
			continue
		}
		seenSys[sd.Name] = true
		sys := p.parseSystem(env, sd)
		if sys != nil {
			env.Systems = append(env.Systems, sys)
		}
	}

	return env
}

func (p *parser) parseSystem(env *policy.Environment, sd SystemDoc) *policy.System {
	scope := fmt.Sprintf("policy:%s/system:%s", env.Name, sd.Name)
	if sd.Name == "" {
		p.errorf(scope, errs.CodeRoleMissingName, "system is missing a name")
	} else if !idPattern.MatchString(sd.Name) {
		p.errorf(scope, errs.CodeRoleInvalidID, "system id %q does not match %s", sd.Name, idPattern.String())
	}

	sys := &policy.System{
		Name:        sd.Name,
		DisplayName: sd.DisplayName,
		Description: sd.Description,
		Environment: env,
	}
	sys.ACL = p.parseACL(scope, sd.Access)
	sys.JoinConstraints, sys.ApproveConstraints = p.parseConstraints(scope, sd.Constraints)

	if len(sd.Groups) == 0 {
		p.errorf(scope, errs.CodeRoleMissingAccess, "system %q declares no groups", sd.Name)
	}

	seenGrp := make(map[string]bool)
	for _, gd := range sd.Groups {
		if gd.Name != "" && seenGrp[gd.Name] {
			p.errorf(scope, errs.CodePolicyDuplicateID, "duplicate group id %q in system %q", gd.Name, sd.Name)
			continue
		}
		seenGrp[gd.Name] = true
		grp := p.parseGroup(sys, gd)
		if grp != nil {
			sys.Groups = append(sys.Groups, grp)
		}
	}

	return sys
}

func (p *parser) parseGroup(sys *policy.System, gd GroupDoc) *policy.Group {
	scope := fmt.Sprintf("policy:%s/system:%s/group:%s", sys.Environment.Name, sys.Name, gd.Name)
	if gd.Name == "" {
		p.errorf(scope, errs.CodeRoleMissingName, "group is missing a name")
	} else if !idPattern.MatchString(gd.Name) {
		p.errorf(scope, errs.CodeRoleInvalidID, "group id %q does not match %s", gd.Name, idPattern.String())
	}

	grp := &policy.Group{
		Name:        gd.Name,
		DisplayName: gd.DisplayName,
		Description: gd.Description,
		System:      sys,
	}
	grp.ACL = p.parseACL(scope, gd.Access)
	grp.JoinConstraints, grp.ApproveConstraints = p.parseConstraints(scope, gd.Constraints)
	grp.Privileges = p.parsePrivileges(scope, gd.Privileges)

	return grp
}

func (p *parser) parseACL(scope string, docs []ACEDoc) acl.List {
	var list acl.List
	for i, a := range docs {
		entryScope := fmt.Sprintf("%s/access[%d]", scope, i)

		pr, err := principal.Parse(a.Principal)
		if err != nil {
			p.errorf(entryScope, errs.CodeAccessInvalidPrincipal, "%v", err)
			continue
		}

		var effect acl.Effect
		switch strings.ToUpper(a.Access) {
		case "ALLOW":
			effect = acl.Allow
		case "DENY":
			effect = acl.Deny
		default:
			p.errorf(entryScope, errs.CodeAccessInvalidEffect, "access %q must be ALLOW or DENY", a.Access)
			continue
		}

		var mask acl.Mask
		for _, permName := range a.Permissions {
			perm, ok := acl.ParsePermission(permName)
			if !ok {
				p.errorf(entryScope, errs.CodeAccessInvalidAction, "unknown permission %q", permName)
				continue
			}
			mask |= acl.Mask(perm)
		}

		list = append(list, acl.Entry{Effect: effect, Principal: pr, Mask: mask})
	}
	return list
}

func (p *parser) parseConstraints(scope string, docs ConstraintsDoc) (join, approve []constraint.Constraint) {
	join = p.parseConstraintList(scope, "join", docs.Join)
	approve = p.parseConstraintList(scope, "approve", docs.Approve)
	return join, approve
}

func (p *parser) parseConstraintList(scope, class string, docs []ConstraintDoc) []constraint.Constraint {
	var out []constraint.Constraint
	seenNames := make(map[string]bool)

	for i, cd := range docs {
		entryScope := fmt.Sprintf("%s/constraints.%s[%d]", scope, class, i)

		switch cd.Type {
		case "expiry":
			name := cd.Name
			if name == "" {
				name = "expiry"
			}
			if seenNames[name] {
				p.errorf(entryScope, errs.CodeConstraintDurationConstraintInvalid, "duplicate constraint name %q", name)
				continue
			}
			seenNames[name] = true

			if cd.Max == "" {
				p.errorf(entryScope, errs.CodeConstraintDurationConstraintEmpty, "expiry constraint %q has no max duration", name)
				continue
			}
			maxD, err := time.ParseDuration(cd.Max)
			if err != nil || maxD < 0 {
				p.errorf(entryScope, errs.CodeConstraintDurationConstraintInvalid, "expiry constraint %q has an invalid max duration %q", name, cd.Max)
				continue
			}
			minD := time.Duration(0)
			if cd.Min != "" {
				minD, err = time.ParseDuration(cd.Min)
				if err != nil || minD < 0 {
					p.errorf(entryScope, errs.CodeConstraintDurationConstraintInvalid, "expiry constraint %q has an invalid min duration %q", name, cd.Min)
					continue
				}
			}
			defD := maxD
			if cd.Default != "" {
				defD, err = time.ParseDuration(cd.Default)
				if err != nil || defD < 0 {
					p.errorf(entryScope, errs.CodeConstraintDurationConstraintInvalid, "expiry constraint %q has an invalid default duration %q", name, cd.Default)
					continue
				}
			}

			ec := constraint.NewExpiryConstraint(minD, maxD, defD)
			out = append(out, constraint.Constraint{Name: name, Expiry: &ec})

		case "expression":
			if cd.Name == "" {
				p.errorf(entryScope, errs.CodeRoleMissingName, "expression constraint is missing a name")
				continue
			}
			if seenNames[cd.Name] {
				p.errorf(entryScope, errs.CodeConstraintDurationConstraintInvalid, "duplicate constraint name %q", cd.Name)
				continue
			}
			seenNames[cd.Name] = true

			if cd.Expression == "" {
				p.errorf(entryScope, errs.CodeConstraintApprovalLimitsMissing, "expression constraint %q has no expression", cd.Name)
				continue
			}

			vars, ok := p.parseVariables(entryScope, cd.Variables)
			if !ok {
				continue
			}

			cc := constraint.CelConstraint{
				Name:        cd.Name,
				DisplayName: cd.DisplayName,
				Variables:   vars,
				Expression:  cd.Expression,
			}
			out = append(out, constraint.Constraint{Name: cd.Name, Cel: &cc})

		default:
			p.errorf(entryScope, errs.CodeConstraintDurationConstraintInvalid, "unknown constraint type %q", cd.Type)
		}
	}

	return out
}

func (p *parser) parseVariables(scope string, docs []TypedVariableDoc) ([]constraint.TypedVariable, bool) {
	ok := true
	out := make([]constraint.TypedVariable, 0, len(docs))
	for _, vd := range docs {
		tv := constraint.TypedVariable{Name: vd.Name, Default: vd.Default}
		switch vd.Type {
		case "bool":
			tv.Type = constraint.Boolean
		case "string":
			tv.Type = constraint.String
			if vd.Pattern != "" {
				re, err := regexp.Compile(vd.Pattern)
				if err != nil {
					p.errorf(scope, errs.CodeConstraintApprovalLimitsInvalid, "variable %q has invalid pattern %q: %v", vd.Name, vd.Pattern, err)
					ok = false
					continue
				}
				tv.Pattern = re
			}
		case "long":
			tv.Type = constraint.Long
			if vd.Min != nil || vd.Max != nil {
				r := constraint.LongRange{}
				if vd.Min != nil {
					r.Min = *vd.Min
				}
				if vd.Max != nil {
					r.Max = *vd.Max
				}
				tv.Range = &r
			}
		default:
			p.errorf(scope, errs.CodeConstraintApprovalLimitsInvalid, "variable %q has unknown type %q", vd.Name, vd.Type)
			ok = false
			continue
		}
		out = append(out, tv)
	}
	return out, ok
}

func (p *parser) parsePrivileges(scope string, docs []PrivilegeDoc) []policy.Privilege {
	var out []policy.Privilege
	for i, pd := range docs {
		entryScope := fmt.Sprintf("%s/privileges[%d]", scope, i)
		switch pd.Type {
		case "iam-role-binding":
			if pd.Resource == "" || pd.Role == "" {
				p.errorf(entryScope, errs.CodePrivilegeInvalidRole, "iam-role-binding requires both resource and role")
				continue
			}
			out = append(out, policy.Privilege{IamRoleBinding: &policy.IamRoleBinding{
				Resource:    pd.Resource,
				Role:        pd.Role,
				Description: pd.Description,
				Condition:   pd.Condition,
			}})
		default:
			p.errorf(entryScope, errs.CodePrivilegeInvalidRole, "unknown privilege type %q", pd.Type)
		}
	}
	return out
}

// --- Pass 2: semantic ----------------------------------------------------

func (p *parser) validateSemantics(env *policy.Environment) {
	for _, sys := range env.Systems {
		for _, grp := range sys.Groups {
			p.validateGroupSemantics(grp)
		}
	}
}

func (p *parser) validateGroupSemantics(grp *policy.Group) {
	scope := fmt.Sprintf("policy:%s/system:%s/group:%s", grp.System.Environment.Name, grp.System.Name, grp.Name)

	if _, ok := policy.EffectiveExpiryConstraint(grp); !ok {
		p.errorf(scope, errs.CodeConstraintDurationConstraintsMissing, "group %q has no effective expiry constraint (JOIN)", grp.Name)
	}

	p.validateCelConstraints(scope, policy.EffectiveConstraints(grp, constraint.JoinClass))
	p.validateCelConstraints(scope, policy.EffectiveConstraints(grp, constraint.ApproveClass))

	for i, priv := range grp.Privileges {
		if priv.IamRoleBinding == nil {
			continue
		}
		entryScope := fmt.Sprintf("%s/privileges[%d]", scope, i)
		if p.roleResolver != nil {
			known, err := p.roleResolver.IsKnownRole(priv.IamRoleBinding.Role)
			if err != nil {
				p.errorf(entryScope, errs.CodePrivilegeInvalidRole, "failed to resolve role %q: %v", priv.IamRoleBinding.Role, err)
				continue
			}
			if !known {
				p.errorf(entryScope, errs.CodePrivilegeInvalidRole, "role %q is not a known/grantable role", priv.IamRoleBinding.Role)
			}
		}
	}
}

func (p *parser) validateCelConstraints(scope string, constraints []constraint.Constraint) {
	for _, c := range constraints {
		if !c.IsCel() {
			continue
		}
		if _, err := p.celEngine.Compile(*c.Cel); err != nil {
			p.errorf(scope, errs.CodeConstraintApprovalLimitsInvalid, "constraint %q failed to compile: %v", c.Name, err)
		}
	}
}
