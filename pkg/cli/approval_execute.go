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
	"fmt"
	"time"

	"github.com/posener/complete/v2/predict"

	"github.com/abcxyz/pkg/cli"

	"github.com/abcxyz/jitaccess/internal/constraint"
	"github.com/abcxyz/jitaccess/internal/join"
	"github.com/abcxyz/jitaccess/internal/proposal"
)

var _ cli.Command = (*ApprovalExecuteCommand)(nil)

// ApprovalExecuteCommand verifies a proposal token, checks the approver's
// own ACL/constraints, and provisions the original proposer on success.
type ApprovalExecuteCommand struct {
	cli.BaseCommand

	flagPath       string
	flagGroup      string
	flagToken      string
	flagApprover   string
	flagGroups     string
	flagIdentity   string
	flagSigningKey string

	// testProvisioner is used for testing only, in place of building real
	// GCP resourcemanager clients.
	testProvisioner join.Provisioner
}

func (c *ApprovalExecuteCommand) Desc() string {
	return `Approve a join proposal and provision the original requester`
}

func (c *ApprovalExecuteCommand) Help() string {
	return `
Usage: {{ COMMAND }} [options]

Verify a proposal token, evaluate the approver's APPROVE constraints, and
provision the proposing user on success:

      jitctl approval execute \
        -path "/path/to/policy.yaml" \
        -group "prod/billing/admins" \
        -token "<obfuscated-token>" \
        -approver "bob@example.com" \
        -identity "jitaccess.example.com" \
        -signing-key "dGVzdC1zZWNyZXQ="
`
}

func (c *ApprovalExecuteCommand) Flags() *cli.FlagSet {
	set := cli.NewFlagSet()

	f := set.NewSection("COMMAND OPTIONS")

	f.StringVar(&cli.StringVar{
		Name: "path", Target: &c.flagPath, Example: "/path/to/policy.yaml",
		Predict: predict.Files("*"), Usage: `The path of the policy document, in YAML format.`,
	})
	f.StringVar(&cli.StringVar{
		Name: "group", Target: &c.flagGroup, Example: "prod/billing/admins",
		Usage: `The JIT group the proposal is for, as environment/system/group.`,
	})
	f.StringVar(&cli.StringVar{
		Name: "token", Target: &c.flagToken,
		Usage: `The obfuscated proposal token.`,
	})
	f.StringVar(&cli.StringVar{
		Name: "approver", Target: &c.flagApprover, Example: "bob@example.com",
		Usage: `The approving user's email address.`,
	})
	f.StringVar(&cli.StringVar{
		Name: "member-of", Target: &c.flagGroups, Example: "group:sre-leads@example.com",
		Usage: `Comma-separated extra principals the approver holds.`,
	})
	f.StringVar(&cli.StringVar{
		Name: "identity", Target: &c.flagIdentity, Example: "jitaccess.example.com",
		Usage: `The expected issuer/audience identity of the token.`,
	})
	f.StringVar(&cli.StringVar{
		Name: "signing-key", Target: &c.flagSigningKey,
		Usage: `HS256 secret the token was signed with; the value's bytes are the key, not base64-decoded.`,
	})

	return set
}

func (c *ApprovalExecuteCommand) Run(ctx context.Context, args []string) error {
	f := c.Flags()
	if err := f.Parse(args); err != nil {
		return fmt.Errorf("failed to parse flags: %w", err)
	}
	args = f.Args()
	if len(args) > 0 {
		return fmt.Errorf("unexpected arguments: %q", args)
	}
	required := map[string]string{
		"path": c.flagPath, "group": c.flagGroup, "token": c.flagToken,
		"approver": c.flagApprover, "identity": c.flagIdentity, "signing-key": c.flagSigningKey,
	}
	for name, v := range required {
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

	token, err := proposal.Deobfuscate(c.flagToken)
	if err != nil {
		return fmt.Errorf("failed to decode token: %w", err)
	}
	keys := proposal.StaticHS256KeyProvider{KeyID: "cli", Secret: []byte(c.flagSigningKey)}
	prop, err := proposal.Accept(ctx, token, keys, c.flagIdentity)
	if err != nil {
		return fmt.Errorf("proposal rejected: %w", err)
	}

	approver, approverUser, err := newSubject(c.flagApprover, splitCSV(c.flagGroups))
	if err != nil {
		return err
	}

	op := join.NewApprovalOperation(constraint.NewEngine(), grp, prop, approver, approverUser, time.Now())
	if analysis := op.DryRun(map[string]any{}); !analysis.Allowed || !analysis.IsFullySatisfied() {
		return fmt.Errorf("approval does not pass dry run: access allowed=%t, constraints satisfied=%t", analysis.Allowed, analysis.IsFullySatisfied())
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

	res, err := op.Execute(ctx, provisioner)
	if err != nil {
		return fmt.Errorf("failed to execute approval: %w", err)
	}

	c.Outf("Approval executed: %s expires at %s", res.Principal.Principal, res.Principal.Expiry)
	return nil
}
