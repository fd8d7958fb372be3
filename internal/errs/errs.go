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

// Package errs implements the error taxonomy from the system's error
// handling design: causes, not types, so callers can errors.As into the
// variant they care about and decide retry/audit/HTTP-status behavior.
package errs

import (
	"errors"
	"fmt"
	"strings"
)

// IllegalArgument wraps a malformed-input error: bad IDs, missing required
// form fields. Never retried.
type IllegalArgument struct{ Msg string }

func (e *IllegalArgument) Error() string { return e.Msg }

// NewIllegalArgument builds an IllegalArgument from a format string.
func NewIllegalArgument(format string, args ...any) error {
	return &IllegalArgument{Msg: fmt.Sprintf(format, args...)}
}

// AccessDenied wraps a policy/ACL denial, an unsatisfied constraint at
// enforce time, or an unauthorized approver. Presented to the caller with a
// generic message; detail is for the log only.
type AccessDenied struct {
	Msg string
	// Detail is never serialized to the caller, only logged.
	Detail string
}

func (e *AccessDenied) Error() string {
	if e.Msg != "" {
		return e.Msg
	}
	return "access denied"
}

// NewAccessDenied builds an AccessDenied with a caller-safe message and an
// operator-only detail string.
func NewAccessDenied(msg, detailFormat string, args ...any) error {
	return &AccessDenied{Msg: msg, Detail: fmt.Sprintf(detailFormat, args...)}
}

// ConstraintFailed wraps a CEL compile error, a reference to an undeclared
// variable, or an evaluation-time panic/error: a configuration problem,
// not a user-input problem. Callers must audit it at ERROR and then present
// it to the caller as AccessDenied to avoid leaking policy internals.
type ConstraintFailed struct {
	Constraint string
	Err        error
}

func (e *ConstraintFailed) Error() string {
	return fmt.Sprintf("constraint %q misconfigured: %v", e.Constraint, e.Err)
}

func (e *ConstraintFailed) Unwrap() error { return e.Err }

// NewConstraintFailed wraps err as a ConstraintFailed for the named constraint.
func NewConstraintFailed(constraint string, err error) error {
	return &ConstraintFailed{Constraint: constraint, Err: err}
}

// ConstraintUnsatisfied means the constraint compiled and evaluated fine but
// returned false: a user-input problem, surfaced as a readable failure.
type ConstraintUnsatisfied struct {
	Constraint string
	Msg        string
}

func (e *ConstraintUnsatisfied) Error() string {
	if e.Msg != "" {
		return fmt.Sprintf("constraint %q not satisfied: %s", e.Constraint, e.Msg)
	}
	return fmt.Sprintf("constraint %q not satisfied", e.Constraint)
}

// NewConstraintUnsatisfied builds a ConstraintUnsatisfied for the named constraint.
func NewConstraintUnsatisfied(constraint, msg string) error {
	return &ConstraintUnsatisfied{Constraint: constraint, Msg: msg}
}

// AlreadyExists wraps an optimistic-concurrency loss or a duplicate-proposal
// race. Callers usually map it to success when the final state already
// matches the intended state.
type AlreadyExists struct{ Msg string }

func (e *AlreadyExists) Error() string { return e.Msg }

// NewAlreadyExists builds an AlreadyExists error.
func NewAlreadyExists(format string, args ...any) error {
	return &AlreadyExists{Msg: fmt.Sprintf(format, args...)}
}

// ResourceNotFound wraps an upstream 404 for a principal or resource
// lookup. Treated as AccessDenied at the API boundary to avoid enumeration.
type ResourceNotFound struct{ Msg string }

func (e *ResourceNotFound) Error() string { return e.Msg }

// NewResourceNotFound builds a ResourceNotFound error.
func NewResourceNotFound(format string, args ...any) error {
	return &ResourceNotFound{Msg: fmt.Sprintf(format, args...)}
}

// Issue is a single structured finding from the policy linter/loader.
type Issue struct {
	Severity Severity
	Scope    string
	Code     IssueCode
	Details  string
}

func (i Issue) String() string {
	return fmt.Sprintf("[%s] %s (%s): %s", i.Severity, i.Scope, i.Code, i.Details)
}

// Severity classifies an Issue.
type Severity int

const (
	Warning Severity = iota
	Error
)

func (s Severity) String() string {
	if s == Error {
		return "ERROR"
	}
	return "WARNING"
}

// IssueCode enumerates the policy-document validation issue codes.
type IssueCode string

// Issue codes from spec §4.4.
const (
	CodeFileInvalidSyntax                   IssueCode = "FILE_INVALID_SYNTAX"
	CodePolicyInvalidID                     IssueCode = "POLICY_INVALID_ID"
	CodePolicyDuplicateID                   IssueCode = "POLICY_DUPLICATE_ID"
	CodePolicyMissingName                   IssueCode = "POLICY_MISSING_NAME"
	CodePolicyMissingRoles                  IssueCode = "POLICY_MISSING_ROLES"
	CodeRoleInvalidID                       IssueCode = "ROLE_INVALID_ID"
	CodeRoleMissingName                     IssueCode = "ROLE_MISSING_NAME"
	CodeRoleMissingAccess                   IssueCode = "ROLE_MISSING_ACCESS"
	CodeAccessInvalidPrincipal              IssueCode = "ACCESS_INVALID_PRINCIPAL"
	CodeAccessInvalidEffect                 IssueCode = "ACCESS_INVALID_EFFECT"
	CodeAccessInvalidAction                 IssueCode = "ACCESS_INVALID_ACTION"
	CodeConstraintDurationConstraintsMissing IssueCode = "CONSTRAINT_DURATION_CONSTRAINTS_MISSING"
	CodeConstraintDurationConstraintEmpty   IssueCode = "CONSTRAINT_DURATION_CONSTRAINT_EMPTY"
	CodeConstraintDurationConstraintInvalid IssueCode = "CONSTRAINT_DURATION_CONSTRAINT_INVALID"
	CodeConstraintApprovalConstraintsMissing IssueCode = "CONSTRAINT_APPROVAL_CONSTRAINTS_MISSING"
	CodeConstraintApprovalLimitsMissing      IssueCode = "CONSTRAINT_APPROVAL_LIMITS_MISSING"
	CodeConstraintApprovalLimitsInvalid      IssueCode = "CONSTRAINT_APPROVAL_LIMITS_INVALID"
	CodePrivilegeInvalidRole                IssueCode = "PRIVILEGE_INVALID_ROLE"
)

// SyntaxException carries a structured, ordered list of Issues raised by
// the policy linter or loader. It is only ever raised from those two call
// paths.
type SyntaxException struct {
	Issues []Issue
}

func (e *SyntaxException) Error() string {
	var b strings.Builder
	b.WriteString("policy document has ")
	if n := len(e.Issues); n == 1 {
		b.WriteString("1 issue")
	} else {
		fmt.Fprintf(&b, "%d issues", n)
	}
	for _, i := range e.Issues {
		b.WriteString("\n  ")
		b.WriteString(i.String())
	}
	return b.String()
}

// HasErrors reports whether any Issue in e has Severity Error.
func (e *SyntaxException) HasErrors() bool {
	for _, i := range e.Issues {
		if i.Severity == Error {
			return true
		}
	}
	return false
}

// NewSyntaxException builds a SyntaxException from the given issues. It
// returns nil if issues contains no ERROR-severity entry, matching the
// convention that warnings alone do not fail parsing.
func NewSyntaxException(issues []Issue) error {
	se := &SyntaxException{Issues: issues}
	if !se.HasErrors() {
		return nil
	}
	return se
}

// AggregateException accumulates independent failures from a fan-out, e.g.
// the subject resolver's per-membership lookups. It wraps errors.Join so
// errors.Is/errors.As still see through to the individual causes.
type AggregateException struct {
	Errs []error
}

func (e *AggregateException) Error() string {
	return errors.Join(e.Errs...).Error()
}

func (e *AggregateException) Unwrap() []error { return e.Errs }

// NewAggregateException builds an AggregateException from a non-empty
// slice of errors. It returns nil if errs is empty.
func NewAggregateException(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	return &AggregateException{Errs: errs}
}
