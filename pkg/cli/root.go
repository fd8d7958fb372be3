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

// Package cli implements the jitctl command-line surface: policy document
// linting/validation, join dry-run/execute, and approval accept/execute.
package cli

import (
	"bytes"
	"context"

	"github.com/abcxyz/jitaccess/internal/version"
	"github.com/abcxyz/pkg/cli"
)

// rootCmd defines the starting command structure.
var rootCmd = func() cli.Command {
	return &cli.RootCommand{
		Name:    "jitctl",
		Version: version.HumanVersion,
		Commands: map[string]cli.CommandFactory{
			"policy": func() cli.Command {
				return &cli.RootCommand{
					Name:        "policy",
					Description: "Inspect and validate policy documents",
					Commands: map[string]cli.CommandFactory{
						"lint": func() cli.Command {
							return &PolicyLintCommand{}
						},
						"validate": func() cli.Command {
							return &PolicyValidateCommand{}
						},
						"reconcile": func() cli.Command {
							return &PolicyReconcileCommand{}
						},
					},
				}
			},
			"join": func() cli.Command {
				return &cli.RootCommand{
					Name:        "join",
					Description: "Request temporary membership in a JIT group",
					Commands: map[string]cli.CommandFactory{
						"dry-run": func() cli.Command {
							return &JoinDryRunCommand{}
						},
						"execute": func() cli.Command {
							return &JoinExecuteCommand{}
						},
					},
				}
			},
			"approval": func() cli.Command {
				return &cli.RootCommand{
					Name:        "approval",
					Description: "Inspect and act on join proposals",
					Commands: map[string]cli.CommandFactory{
						"accept": func() cli.Command {
							return &ApprovalAcceptCommand{}
						},
						"execute": func() cli.Command {
							return &ApprovalExecuteCommand{}
						},
					},
				}
			},
		},
	}
}

// Run executes the CLI.
func Run(ctx context.Context, args []string) error {
	return rootCmd().Run(ctx, args) //nolint:wrapcheck // Want passthrough
}

// PipeAndRun creates new unique stdin, stdout, and stderr buffers, sets them
// on the command, and runs it. Useful for testing where callers want to
// simulate inputs or assert certain command outputs.
func PipeAndRun(ctx context.Context, args []string) (stdin, stdout, stderr *bytes.Buffer, err error) {
	stdin = bytes.NewBuffer(nil)
	stdout = bytes.NewBuffer(nil)
	stderr = bytes.NewBuffer(nil)
	c := rootCmd()
	c.SetStdin(stdin)
	c.SetStdout(stdout)
	c.SetStderr(stderr)

	err = c.Run(ctx, args)
	return
}
