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
)

var _ cli.Command = (*JoinDryRunCommand)(nil)

// JoinDryRunCommand evaluates a join request's constraints and ACL without
// provisioning anything, printing the resulting PolicyAnalysis.
type JoinDryRunCommand struct {
	cli.BaseCommand

	flagPath     string
	flagGroup    string
	flagUser     string
	flagGroups   string
	flagDuration time.Duration
}

func (c *JoinDryRunCommand) Desc() string {
	return `Dry-run a JIT group join request against a policy document`
}

func (c *JoinDryRunCommand) Help() string {
	return `
Usage: {{ COMMAND }} [options]

Evaluate a join request's ACL and JOIN constraints without provisioning
anything:

      jitctl join dry-run \
        -path "/path/to/policy.yaml" \
        -group "prod/billing/admins" \
        -user "alice@example.com"
`
}

func (c *JoinDryRunCommand) Flags() *cli.FlagSet {
	set := cli.NewFlagSet()

	f := set.NewSection("COMMAND OPTIONS")

	f.StringVar(&cli.StringVar{
		Name:    "path",
		Target:  &c.flagPath,
		Example: "/path/to/policy.yaml",
		Predict: predict.Files("*"),
		Usage:   `The path of the policy document, in YAML format.`,
	})
	f.StringVar(&cli.StringVar{
		Name:    "group",
		Target:  &c.flagGroup,
		Example: "prod/billing/admins",
		Usage:   `The JIT group to join, as environment/system/group.`,
	})
	f.StringVar(&cli.StringVar{
		Name:    "user",
		Target:  &c.flagUser,
		Example: "alice@example.com",
		Usage:   `The joining user's email address.`,
	})
	f.StringVar(&cli.StringVar{
		Name:    "member-of",
		Target:  &c.flagGroups,
		Example: "group:sre@example.com,domain:example.com",
		Usage:   `Comma-separated extra principals the user holds (directory groups, domains), in the same syntax as policy document ACLs.`,
	})
	f.DurationVar(&cli.DurationVar{
		Name:    "duration",
		Target:  &c.flagDuration,
		Default: 0,
		Usage:   `Requested join duration. Clamped to the group's effective expiry constraint. Zero selects the constraint's default.`,
	})

	return set
}

func (c *JoinDryRunCommand) Run(ctx context.Context, args []string) error {
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
	analysis := op.DryRun(joinInput(c.flagDuration))

	if err := encodeYaml(c.Stdout(), analysis); err != nil {
		return fmt.Errorf("failed to encode analysis: %w", err)
	}
	if !analysis.Allowed || !analysis.IsFullySatisfied() {
		return fmt.Errorf("dry run did not pass: access allowed=%t, constraints satisfied=%t", analysis.Allowed, analysis.IsFullySatisfied())
	}
	c.Outf("Dry run passed")
	return nil
}

func joinInput(duration time.Duration) map[string]any {
	input := map[string]any{}
	if duration > 0 {
		input[join.DurationInputName] = duration
	}
	return input
}
