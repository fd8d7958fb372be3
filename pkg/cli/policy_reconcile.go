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

	"github.com/posener/complete/v2/predict"

	"github.com/abcxyz/pkg/cli"

	"github.com/abcxyz/jitaccess/internal/policy"
	"github.com/abcxyz/jitaccess/internal/provisioning"
)

var _ cli.Command = (*PolicyReconcileCommand)(nil)

// PolicyReconcileCommand detects provisioning drift for one group, or every
// group in a document, independent of any join/approval in flight.
type PolicyReconcileCommand struct {
	cli.BaseCommand

	flagPath            string
	flagGroup           string
	flagShellOutTool    string
	flagShellOutResources string
	flagShellOutCommand string

	// testReconciler is used for testing only, in place of building real GCP
	// resourcemanager clients.
	testReconciler provisioning.Reconciler
}

func (c *PolicyReconcileCommand) Desc() string {
	return `Detect provisioning drift for a group's privileges`
}

func (c *PolicyReconcileCommand) Help() string {
	return `
Usage: {{ COMMAND }} [options]

Detect drift between a group's (or every group's) intended privileges and
what is actually provisioned, without granting or revoking anything:

      jitctl policy reconcile -path "/path/to/policy.yaml" -group "prod/billing/admins"

Resources outside organizations/folders/projects are reconciled by shelling
out to -shellout-tool, when set, for any resource whose prefix is listed in
-shellout-resources:

      jitctl policy reconcile -path "/path/to/policy.yaml" \
        -shellout-tool gcloud \
        -shellout-resources azure-subscriptions \
        -shellout-command "alpha iam-compliance check --resource={resource} --role={role}"
`
}

func (c *PolicyReconcileCommand) Flags() *cli.FlagSet {
	set := cli.NewFlagSet()

	f := set.NewSection("COMMAND OPTIONS")

	f.StringVar(&cli.StringVar{
		Name: "path", Target: &c.flagPath, Example: "/path/to/policy.yaml",
		Predict: predict.Files("*"), Usage: `The path of the policy document, in YAML format.`,
	})
	f.StringVar(&cli.StringVar{
		Name: "group", Target: &c.flagGroup, Example: "prod/billing/admins",
		Usage: `The JIT group to reconcile, as environment/system/group. If unset, every group in the document is reconciled.`,
	})
	f.StringVar(&cli.StringVar{
		Name: "shellout-tool", Target: &c.flagShellOutTool, Example: "gcloud",
		Usage: `Executable to invoke for resources the typed IAM client doesn't cover. If unset, only organizations/folders/projects resources are reconciled.`,
	})
	f.StringVar(&cli.StringVar{
		Name: "shellout-resources", Target: &c.flagShellOutResources, Example: "azure-subscriptions,on-prem",
		Usage: `Comma-separated resource-name prefixes routed to -shellout-tool.`,
	})
	f.StringVar(&cli.StringVar{
		Name: "shellout-command", Target: &c.flagShellOutCommand, Example: "iam-compliance check --resource={resource} --role={role}",
		Usage: `Argument template passed to -shellout-tool, with "{resource}" and "{role}" substituted per privilege.`,
	})

	return set
}

func (c *PolicyReconcileCommand) Run(ctx context.Context, args []string) error {
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
		return fmt.Errorf("failed to load policy document: %w", err)
	}

	var groups []*policy.Group
	if c.flagGroup != "" {
		grp, err := findGroup(result.Environments, c.flagGroup)
		if err != nil {
			return err
		}
		groups = append(groups, grp)
	} else {
		groups = allGroups(result.Environments)
	}

	reconciler := c.testReconciler
	if reconciler == nil {
		r, closer, err := newReconciler(ctx, c.flagShellOutTool, splitCSV(c.flagShellOutResources), c.flagShellOutCommand)
		if err != nil {
			return err
		}
		defer closer.Close()
		reconciler = r
	}

	report := &provisioning.ReconcileReport{}
	for _, grp := range groups {
		rep, err := reconciler.Reconcile(ctx, grp)
		if err != nil {
			return fmt.Errorf("failed to reconcile %s: %w", grp.JitGroupID(), err)
		}
		report.Merge(rep)
	}

	printHeader(c.Stdout(), "Reconciliation Report")
	if err := encodeYaml(c.Stdout(), report); err != nil {
		return err
	}
	c.Outf("%d privilege(s) checked, %d drifted", report.Checked, len(report.Drifted))
	if len(report.Drifted) > 0 {
		return fmt.Errorf("%d privilege(s) have drifted from the policy document", len(report.Drifted))
	}
	return nil
}

// allGroups flattens every group across every system and environment.
func allGroups(envs []*policy.Environment) []*policy.Group {
	var out []*policy.Group
	for _, e := range envs {
		for _, s := range e.Systems {
			out = append(out, s.Groups...)
		}
	}
	return out
}
