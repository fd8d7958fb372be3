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

// Proposal is the verified data carried by a proposal token, as decoded by
// internal/proposal. It is the only channel an ApprovalOperation has onto
// the original join attempt: there is no server-side proposal store.
type Proposal struct {
	ID            string
	JitGroup      principal.JitGroupID
	ProposingUser principal.Principal
	Recipients    []principal.Principal
	ProposerInput map[string]any
	Duration      time.Duration
	ExpiresAt     time.Time
}

// ApprovalOperation drives a single approval attempt through
// CREATED -> DRY_RUN_OK -> EXECUTED | FAILED.
type ApprovalOperation struct {
	engine   *constraint.Engine
	grp      *policy.Group
	proposal Proposal
	approver acl.PrincipalSource
	user     principal.Principal
	now      time.Time

	state State
	input map[string]any
}

// NewApprovalOperation constructs an ApprovalOperation in the CREATED state
// for the given verified proposal and the approver's resolved subject.
func NewApprovalOperation(engine *constraint.Engine, grp *policy.Group, proposal Proposal, approver acl.PrincipalSource, approverUser principal.Principal, now time.Time) *ApprovalOperation {
	return &ApprovalOperation{engine: engine, grp: grp, proposal: proposal, approver: approver, user: approverUser, now: now, state: Created}
}

// State reports the operation's current state.
func (op *ApprovalOperation) State() State { return op.state }

// ProposingUser is the proposer's identity, as recorded in the proposal.
func (op *ApprovalOperation) ProposingUser() principal.Principal { return op.proposal.ProposingUser }

// ProposerInput is the proposer's recorded join inputs.
func (op *ApprovalOperation) ProposerInput() map[string]any { return op.proposal.ProposerInput }

// Input returns the Property slots the approver must fill: the union of
// variables required by APPROVE-class constraints on the effective group.
func (op *ApprovalOperation) Input() []Property {
	return RequiredInput(op.grp, constraint.ApproveClass)
}

// DryRun binds the approver's supplied inputs and evaluates
// effectiveConstraints(APPROVE) plus the approver's ACL check, advancing to
// DRY_RUN_OK on full success or FAILED otherwise.
func (op *ApprovalOperation) DryRun(input map[string]any) *PolicyAnalysis {
	op.input = input
	analysis := Analyze(op.engine, op.grp, constraint.ApproveClass, op.approver, op.now, acl.Of(acl.ApproveOthers), input, EnforceConstraints)
	if analysis.Allowed && analysis.IsFullySatisfied() {
		op.state = DryRunOK
	} else {
		op.state = Failed
	}
	return analysis
}

// Execute enforces the execute()-time preconditions from spec §4.8.2 and,
// on success, provisions the original proposer (not the approver) with the
// duration recorded in the proposal.
func (op *ApprovalOperation) Execute(ctx context.Context, provisioner Provisioner) (*Result, error) {
	if op.state != DryRunOK {
		return nil, fmt.Errorf("approval operation must be in DRY_RUN_OK to execute, is %s", op.state)
	}

	if op.user.Equal(op.proposal.ProposingUser) {
		op.state = Failed
		return nil, errs.NewAccessDenied("access denied", "approver %s is the proposer", op.user)
	}
	if !containsPrincipal(op.proposal.Recipients, op.user) {
		op.state = Failed
		return nil, errs.NewAccessDenied("access denied", "approver %s is not in the proposal's recipient set", op.user)
	}
	if !policy.IsAccessAllowed(op.grp, op.approver, op.now, acl.Of(acl.ApproveOthers)) {
		op.state = Failed
		return nil, errs.NewAccessDenied("access denied", "approver %s lacks APPROVE_OTHERS on %s", op.user, op.grp.JitGroupID())
	}
	if !op.now.Before(op.proposal.ExpiresAt) {
		op.state = Failed
		return nil, errs.NewAccessDenied("access denied", "proposal %s expired at %s", op.proposal.ID, op.proposal.ExpiresAt)
	}

	analysis := Analyze(op.engine, op.grp, constraint.ApproveClass, op.approver, op.now, acl.Of(acl.ApproveOthers), op.input, EnforceConstraints)
	if analysis.FailureErr != nil {
		op.state = Failed
		return nil, analysis.FailureErr
	}
	if !analysis.IsFullySatisfied() {
		op.state = Failed
		return nil, errs.NewConstraintUnsatisfied("approve", "one or more APPROVE constraints were not satisfied")
	}

	if err := op.checkJoinConstraintsStillHold(); err != nil {
		op.state = Failed
		return nil, err
	}

	start := op.now.Truncate(time.Second)
	if err := provisioner.Provision(ctx, op.grp, op.proposal.ProposingUser, start, op.proposal.Duration); err != nil {
		op.state = Failed
		return nil, err
	}

	op.state = Executed
	return &Result{
		State:     Executed,
		Principal: principal.Temporary(principal.NewJitGroup(op.grp.JitGroupID()), start.Add(op.proposal.Duration)),
	}, nil
}

// checkJoinConstraintsStillHold re-evaluates every JOIN-class CEL
// constraint against the proposer's recorded input, per the spec's
// requirement that approval re-checks JOIN constraints at approval time
// rather than trusting the state captured at propose time.
func (op *ApprovalOperation) checkJoinConstraintsStillHold() error {
	for _, c := range policy.EffectiveConstraints(op.grp, constraint.JoinClass) {
		if !c.IsCel() {
			continue
		}
		input := c.Cel.MergeInput(op.proposal.ProposerInput)
		if err := op.engine.Check(*c.Cel, input); err != nil {
			return fmt.Errorf("join constraint %q no longer holds: %w", c.Name, err)
		}
	}
	return nil
}

func containsPrincipal(list []principal.Principal, p principal.Principal) bool {
	for _, c := range list {
		if c.Equal(p) {
			return true
		}
	}
	return false
}
