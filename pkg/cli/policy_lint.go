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
	"os"

	"github.com/posener/complete/v2/predict"

	"github.com/abcxyz/pkg/cli"

	"github.com/abcxyz/jitaccess/internal/constraint"
	"github.com/abcxyz/jitaccess/internal/errs"
	"github.com/abcxyz/jitaccess/internal/policydoc"
)

var _ cli.Command = (*PolicyLintCommand)(nil)

// PolicyLintCommand reports every issue in a policy document, of any
// severity, without stopping at the first one.
type PolicyLintCommand struct {
	cli.BaseCommand

	flagPath  string
	flagRoles string
}

func (c *PolicyLintCommand) Desc() string {
	return `Lint the policy document YAML file at the given path`
}

func (c *PolicyLintCommand) Help() string {
	return `
Usage: {{ COMMAND }} [options]

Lint the policy document YAML file at the given path, reporting every issue
found (errors and warnings alike):

      jitctl policy lint -path "/path/to/policy.yaml"
`
}

func (c *PolicyLintCommand) Flags() *cli.FlagSet {
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
		Name:    "known-roles",
		Target:  &c.flagRoles,
		Example: "roles/viewer,roles/editor",
		Usage:   `Comma-separated list of grantable IAM roles, used offline in place of a live role resolver. If unset, roles are not validated.`,
	})

	return set
}

func (c *PolicyLintCommand) Run(ctx context.Context, args []string) error {
	f := c.Flags()
	if err := f.Parse(args); err != nil {
		return fmt.Errorf("failed to parse flags: %w", err)
	}
	args = f.Args()
	if len(args) > 0 {
		return fmt.Errorf("unexpected arguments: %q", args)
	}

	if c.flagPath == "" {
		return fmt.Errorf("path is required")
	}

	data, err := os.ReadFile(c.flagPath)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", c.flagPath, err)
	}

	var resolver policydoc.IamRoleResolver
	if c.flagRoles != "" {
		known := make(policydoc.StaticRoleResolver)
		for _, r := range splitCSV(c.flagRoles) {
			known[r] = true
		}
		resolver = known
	}

	issues := policydoc.Lint(data, constraint.NewEngine(), resolver)
	printIssues(c.Stdout(), issues)

	errCount := 0
	for _, i := range issues {
		if i.Severity == errs.Error {
			errCount++
		}
	}
	c.Outf("%d issue(s), %d error(s)", len(issues), errCount)
	if errCount > 0 {
		return fmt.Errorf("policy document has %d error(s)", errCount)
	}
	return nil
}
