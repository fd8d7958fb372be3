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

	"github.com/posener/complete/v2/predict"

	"github.com/abcxyz/pkg/cli"

	"github.com/abcxyz/jitaccess/internal/errs"
)

var _ cli.Command = (*PolicyValidateCommand)(nil)

// PolicyValidateCommand validates a policy document, failing on any
// structural or semantic error and reporting every error of the first
// parser pass that found one.
type PolicyValidateCommand struct {
	cli.BaseCommand

	flagPath string
}

func (c *PolicyValidateCommand) Desc() string {
	return `Validate the policy document YAML file at the given path`
}

func (c *PolicyValidateCommand) Help() string {
	return `
Usage: {{ COMMAND }} [options]

Validate the policy document YAML file at the given path:

      jitctl policy validate -path "/path/to/policy.yaml"
`
}

func (c *PolicyValidateCommand) Flags() *cli.FlagSet {
	set := cli.NewFlagSet()

	f := set.NewSection("COMMAND OPTIONS")

	f.StringVar(&cli.StringVar{
		Name:    "path",
		Target:  &c.flagPath,
		Example: "/path/to/policy.yaml",
		Predict: predict.Files("*"),
		Usage:   `The path of the policy document, in YAML format.`,
	})

	return set
}

func (c *PolicyValidateCommand) Run(ctx context.Context, args []string) error {
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

	result, err := loadDocument(c.flagPath, nil)
	if err != nil {
		var synErr *errs.SyntaxException
		if errors.As(err, &synErr) {
			return fmt.Errorf("policy document is invalid:\n%s", synErr.Error())
		}
		return fmt.Errorf("failed to validate policy document: %w", err)
	}

	if len(result.Warnings) > 0 {
		printIssues(c.Stdout(), result.Warnings)
	}
	c.Outf("Successfully validated policy document (%d environment(s))", len(result.Environments))

	return nil
}
