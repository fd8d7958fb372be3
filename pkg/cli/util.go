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
	"io"
	"os"
	"strings"
	"time"

	resourcemanager "cloud.google.com/go/resourcemanager/apiv3"
	"gopkg.in/yaml.v3"

	"github.com/abcxyz/pkg/multicloser"

	"github.com/abcxyz/jitaccess/internal/acl"
	"github.com/abcxyz/jitaccess/internal/constraint"
	"github.com/abcxyz/jitaccess/internal/errs"
	"github.com/abcxyz/jitaccess/internal/policy"
	"github.com/abcxyz/jitaccess/internal/policydoc"
	"github.com/abcxyz/jitaccess/internal/principal"
	"github.com/abcxyz/jitaccess/internal/provisioning"
)

// encodeYaml writes YAML encoding of v to w.
func encodeYaml(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode to yaml: %w", err)
	}

	if err := enc.Close(); err != nil {
		return fmt.Errorf("failed to close yaml encoder: %w", err)
	}

	return nil
}

// printHeader prints the header to w.
func printHeader(w io.Writer, header string) {
	fmt.Fprintf(w, "------%s------\n", header)
}

// loadDocument reads the whole file at path and parses it as a policy
// document; the document size limit is enforced by policydoc.Parse.
func loadDocument(path string, roleResolver policydoc.IamRoleResolver) (*policydoc.Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return policydoc.Parse(data, constraint.NewEngine(), roleResolver)
}

// findGroup locates the group identified by "environment/system/group"
// within the parsed document.
func findGroup(envs []*policy.Environment, path string) (*policy.Group, error) {
	parts := strings.Split(path, "/")
	if len(parts) != 3 {
		return nil, fmt.Errorf("group path %q must have the form environment/system/group", path)
	}
	for _, e := range envs {
		if e.Name != parts[0] {
			continue
		}
		sys := e.System(parts[1])
		if sys == nil {
			continue
		}
		grp := sys.Group(parts[2])
		if grp == nil {
			continue
		}
		return grp, nil
	}
	return nil, fmt.Errorf("no such group %q in document", path)
}

// staticSubject implements acl.PrincipalSource from a fixed principal list,
// for CLI invocations that supply the caller's group memberships directly
// via flags instead of resolving them from a live directory.
type staticSubject struct {
	principals []principal.WithExpiry
}

func (s staticSubject) ValidPrincipals(now time.Time) []principal.Principal {
	out := make([]principal.Principal, 0, len(s.principals))
	for _, p := range s.principals {
		if p.IsValid(now) {
			out = append(out, p.Principal)
		}
	}
	return out
}

// newSubject builds a staticSubject for user, holding the user itself and
// the allAuthenticatedUsers class plus any extra principals (typically
// directory groups or domains) named in extra.
func newSubject(user string, extra []string) (acl.PrincipalSource, principal.Principal, error) {
	u := principal.NewEndUser(user)
	principals := []principal.WithExpiry{
		principal.Permanent(u),
		principal.Permanent(principal.NewUserClass("allAuthenticatedUsers")),
	}
	for _, e := range extra {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		p, err := principal.Parse(e)
		if err != nil {
			return nil, u, fmt.Errorf("invalid principal %q: %w", e, err)
		}
		principals = append(principals, principal.Permanent(p))
	}
	return staticSubject{principals: principals}, u, nil
}

// splitCSV splits a comma-separated flag value, dropping empty elements.
func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, v := range strings.Split(s, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// newProvisioner builds the composite provisioner (IAM bindings plus
// directory group membership) used by join/approval execute commands,
// returning a closer that must be deferred by the caller.
func newProvisioner(ctx context.Context, membership provisioning.MembershipClient) (provisioning.Provisioner, *multicloser.Closer, error) {
	var closer *multicloser.Closer

	organizationsClient, err := resourcemanager.NewOrganizationsClient(ctx)
	if err != nil {
		return nil, closer, fmt.Errorf("failed to create organizations client: %w", err)
	}
	closer = multicloser.Append(closer, organizationsClient.Close)

	foldersClient, err := resourcemanager.NewFoldersClient(ctx)
	if err != nil {
		return nil, closer, fmt.Errorf("failed to create folders client: %w", err)
	}
	closer = multicloser.Append(closer, foldersClient.Close)

	projectsClient, err := resourcemanager.NewProjectsClient(ctx)
	if err != nil {
		return nil, closer, fmt.Errorf("failed to create projects client: %w", err)
	}
	closer = multicloser.Append(closer, projectsClient.Close)

	iamProv := provisioning.NewIAMBindingProvisioner(organizationsClient, foldersClient, projectsClient)

	if membership == nil {
		return iamProv, closer, nil
	}
	groupProv := provisioning.NewDirectoryGroupProvisioner(membership)
	return provisioning.NewCompositeProvisioner(iamProv, groupProv), closer, nil
}

// newReconciler builds a Reconciler over the typed IAM-binding provisioner,
// plus a ShellOutProvisioner when shellOutTool is set, for resources the
// typed resourcemanager client doesn't cover. shellOutCommand is a template
// with "{resource}" and "{role}" placeholders, substituted per privilege.
func newReconciler(ctx context.Context, shellOutTool string, shellOutResourcePrefixes []string, shellOutCommand string) (provisioning.Reconciler, *multicloser.Closer, error) {
	var closer *multicloser.Closer

	organizationsClient, err := resourcemanager.NewOrganizationsClient(ctx)
	if err != nil {
		return nil, closer, fmt.Errorf("failed to create organizations client: %w", err)
	}
	closer = multicloser.Append(closer, organizationsClient.Close)

	foldersClient, err := resourcemanager.NewFoldersClient(ctx)
	if err != nil {
		return nil, closer, fmt.Errorf("failed to create folders client: %w", err)
	}
	closer = multicloser.Append(closer, foldersClient.Close)

	projectsClient, err := resourcemanager.NewProjectsClient(ctx)
	if err != nil {
		return nil, closer, fmt.Errorf("failed to create projects client: %w", err)
	}
	closer = multicloser.Append(closer, projectsClient.Close)

	iamProv := provisioning.NewIAMBindingProvisioner(organizationsClient, foldersClient, projectsClient)

	if shellOutTool == "" {
		return iamProv, closer, nil
	}
	shellProv := provisioning.NewShellOutProvisioner(shellOutTool, shellOutResourcePrefixes, commandTemplate(shellOutCommand))
	return provisioning.NewCompositeProvisioner(iamProv, shellProv), closer, nil
}

// commandTemplate renders tmpl (with "{resource}"/"{role}" placeholders)
// against a binding's resource and role.
func commandTemplate(tmpl string) func(policy.IamRoleBinding) string {
	return func(b policy.IamRoleBinding) string {
		r := strings.NewReplacer("{resource}", b.Resource, "{role}", b.Role)
		return r.Replace(tmpl)
	}
}

// printIssues renders parser issues to w, one per line.
func printIssues(w io.Writer, issues []errs.Issue) {
	for _, i := range issues {
		fmt.Fprintln(w, i.String())
	}
}
