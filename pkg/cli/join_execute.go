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

package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/posener/complete/v2/predict"

	"github.com/abcxyz/pkg/cli"

	"github.com/abcxyz/jitaccess/internal/constraint"
	"github.com/abcxyz/jitaccess/internal/join"
	"github.com/abcxyz/jitaccess/internal/policy"
	"github.com/abcxyz/jitaccess/internal/principal"
	"github.com/abcxyz/jitaccess/internal/proposal"
)

var _ cli.Command = (*JoinExecuteCommand)(nil)

// staticApproverResolver resolves recipients from a fixed, flag-supplied
// list rather than a live directory, for use outside the full service.
type staticApproverResolver []principal.Principal

func (s staticApproverResolver) Approvers(ctx context.Context, grp *policy.Group, now time.Time) ([]principal.Principal, error) {
	return s, nil
}

// unconfiguredMinter stands in for a ProposalMinter when -identity/-signing-key
// are not supplied, failing clearly only if a proposal actually turns out to
// be required (i.e. the joining user cannot self-approve).
type unconfiguredMinter struct{}

func (unconfiguredMinter) Propose(ctx context.Context, req join.ProposeRequest) (string, error) {
	return "", errors.New("this join requires peer approval: supply -identity and -signing-key to mint a proposal")
}

// JoinExecuteCommand executes a join request to completion, either
// provisioning it directly (self-approve) or minting a proposal token for
// peer approval.
type JoinExecuteCommand struct {
	cli.BaseCommand

	flagPath       string
	flagGroup      string
	flagUser       string
	flagGroups     string
	flagDuration   time.Duration
	flagApprovers  string
	flagIdentity   string
	flagSigningKey string

	// testProvisioner is used for testing only, in place of building real
	// GCP resourcemanager clients.
	testProvisioner join.Provisioner
}

func (c *JoinExecuteCommand) Desc() string {
	return `Execute a JIT group join request`
}

func (c *JoinExecuteCommand) Help() string {
	return `
Usage: {{ COMMAND }} [options]

Execute a join request. If the joining user holds APPROVE_SELF, the group is
provisioned immediately; otherwise a signed proposal token is minted for one
of -approvers to accept:

      jitctl join execute \
        -path "/path/to/policy.yaml" \
        -group "prod/billing/admins" \
        -user "alice@example.com" \
        -approvers "bob@example.com" \
        -identity "jitaccess.example.com" \
        -signing-key "dGVzdC1zZWNyZXQ="
`
}

func (c *JoinExecuteCommand) Flags() *cli.FlagSet {
	set := cli.NewFlagSet()

	f := set.NewSection("COMMAND OPTIONS")

	f.StringVar(&cli.StringVar{
		Name: "path", Target: &c.flagPath, Example: "/path/to/policy.yaml",
		Predict: predict.Files("*"), Usage: `The path of the policy document, in YAML format.`,
	})
	f.StringVar(&cli.StringVar{
		Name: "group", Target: &c.flagGroup, Example: "prod/billing/admins",
		Usage: `The JIT group to join, as environment/system/group.`,
	})
	f.StringVar(&cli.StringVar{
		Name: "user", Target: &c.flagUser, Example: "alice@example.com",
		Usage: `The joining user's email address.`,
	})
	f.StringVar(&cli.StringVar{
		Name: "member-of", Target: &c.flagGroups, Example: "group:sre@example.com",
		Usage: `Comma-separated extra principals the user holds.`,
	})
	f.DurationVar(&cli.DurationVar{
		Name: "duration", Target: &c.flagDuration, Default: 0,
		Usage: `Requested join duration, clamped to the group's expiry constraint.`,
	})
	f.StringVar(&cli.StringVar{
		Name: "approvers", Target: &c.flagApprovers, Example: "bob@example.com,carol@example.com",
		Usage: `Comma-separated recipients for the proposal, used when the joining user cannot self-approve.`,
	})
	f.StringVar(&cli.StringVar{
		Name: "identity", Target: &c.flagIdentity, Example: "jitaccess.example.com",
		Usage: `The issuer/audience identity embedded in a minted proposal token.`,
	})
	f.StringVar(&cli.StringVar{
		Name: "signing-key", Target: &c.flagSigningKey, Example: "base64-encoded-secret",
		Usage: `HS256 secret used to sign a minted proposal token; the value's bytes are the key, not base64-decoded.`,
	})

	return set
}

func (c *JoinExecuteCommand) Run(ctx context.Context, args []string) error {
	f := c.Flags()
	if err := f.Parse(args); err != nil {
		return fmt.Errorf("failed to parse flags: %w", err)
	}
	args = f.Args()
	if len(args) > 0 {
		return fmt.Errorf("unexpected arguments: %q", args)
	}
	for name, v := range map[string]string{"path": c.flagPath, "group": c.flagGroup, "user": c.flagUser} {
		if v == "" {
			return fmt.Errorf("%s is required", name)
		}
	}

	result, err := loadDocument(c.flagPath, nil)
	if err != nil {
		return fmt.Errorf("failed to load policy document: %w", err)
	}
	grp, err := findGroup(result.Environments, c.flagGroup)
	if err != nil {
		return err
	}

	subject, user, err := newSubject(c.flagUser, splitCSV(c.flagGroups))
	if err != nil {
		return err
	}

	op := join.NewJoinOperation(constraint.NewEngine(), grp, subject, user, time.Now())
	input := joinInput(c.flagDuration)
	if analysis := op.DryRun(input); !analysis.Allowed || !analysis.IsFullySatisfied() {
		return fmt.Errorf("join request does not pass dry run: access allowed=%t, constraints satisfied=%t", analysis.Allowed, analysis.IsFullySatisfied())
	}

	var provisioner join.Provisioner
	if c.testProvisioner != nil {
		provisioner = c.testProvisioner
	} else {
		p, closer, err := newProvisioner(ctx, nil)
		if err != nil {
			return err
		}
		defer closer.Close()
		provisioner = p
	}

	var recipients staticApproverResolver
	for _, e := range splitCSV(c.flagApprovers) {
		p, err := principal.Parse(e)
		if err != nil {
			return fmt.Errorf("invalid approver %q: %w", e, err)
		}
		recipients = append(recipients, p)
	}

	minter := join.ProposalMinter(unconfiguredMinter{})
	if c.flagIdentity != "" && c.flagSigningKey != "" {
		keys := proposal.StaticHS256KeyProvider{KeyID: "cli", Secret: []byte(c.flagSigningKey)}
		minter = proposal.NewMinter(keys, c.flagIdentity, 0)
	}

	res, err := op.Execute(ctx, provisioner, recipients, minter)
	if err != nil {
		return fmt.Errorf("failed to execute join: %w", err)
	}

	switch res.State {
	case join.Executed:
		c.Outf("Join executed: %s expires at %s", res.Principal.Principal, res.Principal.Expiry)
	case join.Proposed:
		printHeader(c.Stdout(), "Proposal Token")
		c.Outf("%s", proposal.Obfuscate(res.Token))
	}
	return nil
}
