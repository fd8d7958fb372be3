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

package provisioning

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/mattn/go-shellwords"

	"github.com/abcxyz/jitaccess/internal/policy"
)

// ShellOutProvisioner reconciles IAM-role-binding privileges on resources
// the typed resourcemanager client doesn't cover (products with no
// organizations/folders/projects surface) by shelling out to an external
// tool, typically gcloud, once per matching privilege. It implements only
// Reconciler: it is a break-glass reconciliation path, never part of the
// JIT join/approval hot path, which always grants through the typed
// clients in iam.go.
type ShellOutProvisioner struct {
	tool             string
	resourcePrefixes []string
	commandForRole   func(binding policy.IamRoleBinding) string
	stdout, stderr   io.Writer
}

// ShellOutOption configures a ShellOutProvisioner.
type ShellOutOption func(p *ShellOutProvisioner)

// WithShellOutStdout sets the writer command output is copied to. By
// default command output is discarded.
func WithShellOutStdout(w io.Writer) ShellOutOption {
	return func(p *ShellOutProvisioner) { p.stdout = w }
}

// WithShellOutStderr overrides the default of os.Stderr for command stderr.
func WithShellOutStderr(w io.Writer) ShellOutOption {
	return func(p *ShellOutProvisioner) { p.stderr = w }
}

// NewShellOutProvisioner builds a ShellOutProvisioner that invokes tool for
// every IAM-role-binding privilege whose resource starts with one of
// resourcePrefixes (e.g. "azure-subscriptions"); privileges on any other
// resource are left to IAMBindingProvisioner. commandForRole renders the
// arguments to pass tool for a given binding.
func NewShellOutProvisioner(tool string, resourcePrefixes []string, commandForRole func(policy.IamRoleBinding) string, opts ...ShellOutOption) *ShellOutProvisioner {
	p := &ShellOutProvisioner{
		tool:             tool,
		resourcePrefixes: resourcePrefixes,
		commandForRole:   commandForRole,
		stderr:           os.Stderr,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Reconcile shells out to p.tool once per matching IAM-role-binding
// privilege on grp, reporting any command that exits non-zero as drift
// rather than aborting the whole pass - a single misconfigured resource
// shouldn't hide drift found elsewhere.
func (p *ShellOutProvisioner) Reconcile(ctx context.Context, grp *policy.Group) (*ReconcileReport, error) {
	report := &ReconcileReport{}
	for _, priv := range grp.Privileges {
		if priv.IamRoleBinding == nil || !p.matches(priv.IamRoleBinding.Resource) {
			continue
		}
		binding := *priv.IamRoleBinding
		report.Checked++

		command := p.commandForRole(binding)
		args, err := shellwords.Parse(command)
		if err != nil {
			return report, fmt.Errorf("failed to parse reconciliation command %q: %w", command, err)
		}

		cmd := exec.CommandContext(ctx, p.tool, args...)
		cmd.Stdout = p.stdout
		cmd.Stderr = p.stderr
		if err := cmd.Run(); err != nil {
			report.Drifted = append(report.Drifted, DriftEntry{
				Resource: binding.Resource,
				Role:     binding.Role,
				Detail:   fmt.Sprintf("reconciliation command %q %s reported drift: %v", p.tool, strings.Join(args, " "), err),
			})
		}
	}
	return report, nil
}

func (p *ShellOutProvisioner) matches(resource string) bool {
	for _, prefix := range p.resourcePrefixes {
		if strings.HasPrefix(resource, prefix) {
			return true
		}
	}
	return false
}
