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

package join

import (
	"context"
	"fmt"
	"time"

	"github.com/abcxyz/jitaccess/internal/acl"
	"github.com/abcxyz/jitaccess/internal/constraint"
	"github.com/abcxyz/jitaccess/internal/errs"
	"github.com/abcxyz/jitaccess/internal/policy"
	"github.com/abcxyz/jitaccess/internal/principal"
)

// DurationInputName is the well-known input slot name a caller uses to
// request a non-default join duration.
const DurationInputName = "duration"

// State is a JoinOperation's or ApprovalOperation's position in its state
// machine.
type State int

const (
	Created State = iota
	DryRunOK
	Executed
	Proposed
	Failed
)

func (s State) String() string {
	switch s {
	case Created:
		return "CREATED"
	case DryRunOK:
		return "DRY_RUN_OK"
	case Executed:
		return "EXECUTED"
	case Proposed:
		return "PROPOSED"
	case Failed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Provisioner translates a successful join/approval into an external
// mutation (directory group membership, IAM binding). Implemented by
// internal/provisioning.
type Provisioner interface {
	Provision(ctx context.Context, grp *policy.Group, user principal.Principal, start time.Time, duration time.Duration) error
}

// ApproverResolver enumerates the principals currently holding
// APPROVE_OTHERS on grp, for use as a proposal's recipient audience.
// Resolving ACL principals (which may be directory groups or domains) down
// to addressable end users is an external directory capability; this
// interface is the seam for it.
type ApproverResolver interface {
	Approvers(ctx context.Context, grp *policy.Group, now time.Time) ([]principal.Principal, error)
}

// ProposalMinter mints a signed proposal token. Implemented by
// internal/proposal.
type ProposalMinter interface {
	Propose(ctx context.Context, req ProposeRequest) (token string, err error)
}

// InputValue is a single named input value, either supplied by the joining
// user or by an approver.
type InputValue struct {
	Name  string
	Value any
}

// ProposeRequest is the data a JoinOperation hands to a ProposalMinter when
// a join requires approval.
type ProposeRequest struct {
	JitGroup   principal.JitGroupID
	User       principal.Principal
	Recipients []principal.Principal
	Input      []InputValue
	Duration   time.Duration
}

// Result is what Execute returns on a non-error outcome.
type Result struct {
	State State
	// Principal is set when State == Executed: the temporary JIT-group
	// principal granted, with its expiry.
	Principal principal.WithExpiry
	// Token is set when State == Proposed: the minted, caller-opaque
	// proposal token.
	Token string
}

// JoinOperation drives a single self-join attempt through
// CREATED -> DRY_RUN_OK -> (EXECUTED | PROPOSED) | FAILED.
type JoinOperation struct {
	engine  *constraint.Engine
	grp     *policy.Group
	subject acl.PrincipalSource
	user    principal.Principal
	now     time.Time

	state State
	input map[string]any
}

// NewJoinOperation constructs a JoinOperation in the CREATED state.
func NewJoinOperation(engine *constraint.Engine, grp *policy.Group, subject acl.PrincipalSource, user principal.Principal, now time.Time) *JoinOperation {
	return &JoinOperation{engine: engine, grp: grp, subject: subject, user: user, now: now, state: Created}
}

// State reports the operation's current state.
func (op *JoinOperation) State() State { return op.state }

// Input returns the Property slots the user must fill: the union of
// variables required by JOIN-class constraints on the effective group.
func (op *JoinOperation) Input() []Property {
	return RequiredInput(op.grp, constraint.JoinClass)
}

// DryRun binds the user's supplied inputs and evaluates effectiveConstraints
// (JOIN) plus the ACL check, advancing to DRY_RUN_OK on full success or
// FAILED otherwise.
func (op *JoinOperation) DryRun(input map[string]any) *PolicyAnalysis {
	op.input = input
	analysis := Analyze(op.engine, op.grp, constraint.JoinClass, op.subject, op.now, acl.Of(acl.Join), input, EnforceConstraints)
	if analysis.Allowed && analysis.IsFullySatisfied() {
		op.state = DryRunOK
	} else {
		op.state = Failed
	}
	return analysis
}

// Execute enforces the execute()-time preconditions and either provisions
// the join directly (the subject holds APPROVE_SELF) or mints a proposal
// for peer approval. It requires a prior successful DryRun; after a DryRun
// that failed on a broken constraint, it returns that ConstraintFailed.
func (op *JoinOperation) Execute(ctx context.Context, provisioner Provisioner, approvers ApproverResolver, minter ProposalMinter) (*Result, error) {
	if op.state != DryRunOK {
		if op.state == Failed {
			if a := Analyze(op.engine, op.grp, constraint.JoinClass, op.subject, op.now, acl.Of(acl.Join), op.input, EnforceConstraints); a.FailureErr != nil {
				return nil, a.FailureErr
			}
		}
		return nil, fmt.Errorf("join operation must be in DRY_RUN_OK to execute, is %s", op.state)
	}

	if !policy.IsAccessAllowed(op.grp, op.subject, op.now, acl.Of(acl.Join)) {
		op.state = Failed
		return nil, errs.NewAccessDenied("access denied", "subject %s lacks JOIN on %s", op.user, op.grp.JitGroupID())
	}

	ec, ok := policy.EffectiveExpiryConstraint(op.grp)
	if !ok {
		op.state = Failed
		return nil, errs.NewConstraintFailed("expiry", fmt.Errorf("group %s has no effective ExpiryConstraint", op.grp.JitGroupID()))
	}
	duration := ec.Clamp(requestedDuration(op.input))

	analysis := Analyze(op.engine, op.grp, constraint.JoinClass, op.subject, op.now, acl.Of(acl.Join), op.input, EnforceConstraints)
	if analysis.FailureErr != nil {
		op.state = Failed
		return nil, analysis.FailureErr
	}
	if !analysis.IsFullySatisfied() {
		op.state = Failed
		return nil, errs.NewConstraintUnsatisfied("join", "one or more JOIN constraints were not satisfied")
	}

	start := op.now.Truncate(time.Second)
	if start.After(time.Now()) {
		start = time.Now().Truncate(time.Second)
	}

	if policy.IsAccessAllowed(op.grp, op.subject, op.now, acl.Of(acl.ApproveSelf)) {
		if err := provisioner.Provision(ctx, op.grp, op.user, start, duration); err != nil {
			op.state = Failed
			return nil, err
		}
		op.state = Executed
		return &Result{
			State:     Executed,
			Principal: principal.Temporary(principal.NewJitGroup(op.grp.JitGroupID()), start.Add(duration)),
		}, nil
	}

	recipients, err := approvers.Approvers(ctx, op.grp, op.now)
	if err != nil {
		op.state = Failed
		return nil, fmt.Errorf("failed to resolve approvers: %w", err)
	}
	if len(recipients) == 0 {
		op.state = Failed
		return nil, errs.NewAccessDenied("access denied", "group %s has no principal holding APPROVE_OTHERS", op.grp.JitGroupID())
	}

	token, err := minter.Propose(ctx, ProposeRequest{
		JitGroup:   op.grp.JitGroupID(),
		User:       op.user,
		Recipients: recipients,
		Input:      inputValues(op.input),
		Duration:   duration,
	})
	if err != nil {
		op.state = Failed
		return nil, fmt.Errorf("failed to mint proposal: %w", err)
	}

	op.state = Proposed
	return &Result{State: Proposed, Token: token}, nil
}

func requestedDuration(input map[string]any) time.Duration {
	v, ok := input[DurationInputName]
	if !ok {
		return 0
	}
	switch d := v.(type) {
	case time.Duration:
		return d
	case int64:
		return time.Duration(d)
	default:
		return 0
	}
}

func inputValues(input map[string]any) []InputValue {
	out := make([]InputValue, 0, len(input))
	for k, v := range input {
		out = append(out, InputValue{Name: k, Value: v})
	}
	return out
}
