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

// Package provisioning implements the provisioning adapters (spec component
// C10) that turn a successful join/approval into an external mutation: a
// conditional GCP IAM binding grant, purging any stale temporary binding for
// the same (principal, role) pair first so repeated grants stay idempotent.
package provisioning

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/iam/apiv1/iampb"
	"github.com/googleapis/gax-go/v2"
	"github.com/sethvargo/go-retry"
	"google.golang.org/genproto/googleapis/type/expr"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/abcxyz/jitaccess/internal/errs"
	"github.com/abcxyz/jitaccess/internal/policy"
	"github.com/abcxyz/jitaccess/internal/principal"
)

// conditionTitle marks the IAM bindings this package owns, so cleanup never
// touches a binding some other process added. The title written to a real
// binding also carries the binding's checksum (see bindingTitle), so
// Reconcile can tell a stale grant from a drifted one without a second
// round-trip.
const conditionTitle = "jitaccess-temporary-grant"

// expirationRegex extracts the upper bound of a NewTemporaryIamCondition
// expression, "request.time >= timestamp(\"...\") && request.time < timestamp(\"...\")".
var expirationRegex = regexp.MustCompile(`request\.time < timestamp\("([^"]+)"\)`)

// bindingTitle embeds binding's checksum into the condition title this
// package writes, so a later Reconcile pass can detect a policy-document
// change without re-deriving the binding's full intended state.
func bindingTitle(checksum uint32) string {
	return fmt.Sprintf("%s-%08x", conditionTitle, checksum)
}

// ownedChecksum reports whether title was written by this package and, if
// so, the checksum it carries.
func ownedChecksum(title string) (uint32, bool) {
	const prefix = conditionTitle + "-"
	if !strings.HasPrefix(title, prefix) {
		return 0, false
	}
	v, err := strconv.ParseUint(strings.TrimPrefix(title, prefix), 16, 32)
	if err != nil {
		return 0, false
	}
	return uint32(v), true
}

// IAMClient is the GCP resource-manager surface used to read and replace an
// IAM policy on one organization, folder, or project.
type IAMClient interface {
	GetIamPolicy(ctx context.Context, req *iampb.GetIamPolicyRequest, opts ...gax.CallOption) (*iampb.Policy, error)
	SetIamPolicy(ctx context.Context, req *iampb.SetIamPolicyRequest, opts ...gax.CallOption) (*iampb.Policy, error)
}

// IAMBindingProvisioner grants the GCP IAM role bindings carried as
// policy.IamRoleBinding privileges on a Group, scoped to the joining
// principal and a conditional expiry window. It implements join.Provisioner.
type IAMBindingProvisioner struct {
	organizationsClient IAMClient
	foldersClient       IAMClient
	projectsClient      IAMClient
	retry               retry.Backoff
	conditionDescription string
}

// Option configures an IAMBindingProvisioner.
type Option func(p *IAMBindingProvisioner)

// WithRetry overrides the default retry backoff (4 attempts, fibonacci
// starting at 500ms) used when an optimistic-concurrency set fails.
func WithRetry(b retry.Backoff) Option {
	return func(p *IAMBindingProvisioner) { p.retry = b }
}

// WithConditionDescription sets the human-readable description attached to
// every binding condition this provisioner writes.
func WithConditionDescription(desc string) Option {
	return func(p *IAMBindingProvisioner) { p.conditionDescription = desc }
}

// NewIAMBindingProvisioner builds an IAMBindingProvisioner. Each client
// handles one GCP resource container type; a nil client is fine if the
// deployment never grants bindings at that level.
func NewIAMBindingProvisioner(organizationsClient, foldersClient, projectsClient IAMClient, opts ...Option) *IAMBindingProvisioner {
	p := &IAMBindingProvisioner{
		organizationsClient: organizationsClient,
		foldersClient:       foldersClient,
		projectsClient:      projectsClient,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.retry == nil {
		p.retry = retry.WithMaxRetries(3, retry.NewFibonacci(500*time.Millisecond))
	}
	return p
}

// Provision grants every IAM-role-binding privilege on grp to user, with a
// condition that ends at start+duration; the condition sets no lower bound
// on request.time. It is safe to call repeatedly for the same
// (resource, role, user): a prior temporary binding for that pair is
// replaced, never duplicated.
func (p *IAMBindingProvisioner) Provision(ctx context.Context, grp *policy.Group, user principal.Principal, start time.Time, duration time.Duration) error {
	member := user.String()
	expiry := start.Add(duration)

	var failures error
	for _, priv := range grp.Privileges {
		if priv.IamRoleBinding == nil {
			continue
		}
		if err := p.provisionBinding(ctx, *priv.IamRoleBinding, member, expiry); err != nil {
			failures = joinErrs(failures, fmt.Errorf("failed to grant role %q on %q: %w", priv.IamRoleBinding.Role, priv.IamRoleBinding.Resource, err))
		}
	}
	return failures
}

func (p *IAMBindingProvisioner) provisionBinding(ctx context.Context, binding policy.IamRoleBinding, member string, expiry time.Time) error {
	client, err := p.clientFor(binding.Resource)
	if err != nil {
		return err
	}

	return retry.Do(ctx, p.retry, func(ctx context.Context) error {
		cur, err := client.GetIamPolicy(ctx, &iampb.GetIamPolicyRequest{
			Resource: binding.Resource,
			Options:  &iampb.GetPolicyOptions{RequestedPolicyVersion: 3},
		})
		if err != nil {
			return classifyIAMError(err)
		}

		replaceBinding(cur, binding, member, expiry, p.conditionDescription)

		if _, err := client.SetIamPolicy(ctx, &iampb.SetIamPolicyRequest{
			Resource: binding.Resource,
			Policy:   cur,
		}); err != nil {
			cerr := classifyIAMError(err)
			var denied *errs.AccessDenied
			if errors.As(cerr, &denied) {
				return cerr
			}
			// Anything else - including a lost optimistic-concurrency race -
			// is worth another attempt with a freshly fetched policy.
			return retry.RetryableError(fmt.Errorf("failed to set IAM policy, retrying: %w", err))
		}
		return nil
	})
}

// Reconcile fetches the current IAM policy for every IAM-role-binding
// privilege on grp and reports two kinds of drift: a jitaccess-owned binding
// whose checksum no longer matches the privilege's current definition (the
// policy document changed after the binding was granted), and an owned
// binding whose expiry window has already elapsed but was never purged by a
// subsequent grant. A resource outside organizations/folders/projects is
// silently skipped - ShellOutProvisioner covers those.
func (p *IAMBindingProvisioner) Reconcile(ctx context.Context, grp *policy.Group) (*ReconcileReport, error) {
	report := &ReconcileReport{}
	var failures error
	for _, priv := range grp.Privileges {
		if priv.IamRoleBinding == nil {
			continue
		}
		binding := *priv.IamRoleBinding

		client, err := p.clientFor(binding.Resource)
		if err != nil {
			continue
		}
		report.Checked++

		cur, err := client.GetIamPolicy(ctx, &iampb.GetIamPolicyRequest{
			Resource: binding.Resource,
			Options:  &iampb.GetPolicyOptions{RequestedPolicyVersion: 3},
		})
		if err != nil {
			failures = joinErrs(failures, fmt.Errorf("failed to read IAM policy for %q: %w", binding.Resource, classifyIAMError(err)))
			continue
		}

		want := binding.Checksum()
		for _, b := range cur.Bindings {
			if b.Role != binding.Role || b.Condition == nil {
				continue
			}
			got, owned := ownedChecksum(b.Condition.Title)
			if !owned {
				continue
			}
			if got != want {
				report.Drifted = append(report.Drifted, DriftEntry{
					Resource: binding.Resource,
					Role:     binding.Role,
					Detail:   fmt.Sprintf("bound checksum %08x no longer matches policy document checksum %08x", got, want),
				})
				continue
			}
			if expired, err := conditionExpired(b.Condition.Expression); err == nil && expired {
				report.Drifted = append(report.Drifted, DriftEntry{
					Resource: binding.Resource,
					Role:     binding.Role,
					Detail:   "binding expired but was never purged by a later grant",
				})
			}
		}
	}
	return report, failures
}

func (p *IAMBindingProvisioner) clientFor(resource string) (IAMClient, error) {
	switch strings.SplitN(resource, "/", 2)[0] {
	case "organizations":
		return p.organizationsClient, nil
	case "folders":
		return p.foldersClient, nil
	case "projects":
		return p.projectsClient, nil
	default:
		return nil, errs.NewIllegalArgument("resource %q is not one of organizations/folders/projects", resource)
	}
}

// replaceBinding drops every expired binding this package owns, removes
// member from any unexpired owned binding for the same role, and appends a
// fresh binding whose condition ends at expiry (with no lower bound).
func replaceBinding(p *iampb.Policy, binding policy.IamRoleBinding, member string, expiry time.Time, description string) {
	var kept []*iampb.Binding
	for _, b := range p.Bindings {
		if b.Condition == nil {
			kept = append(kept, b)
			continue
		}
		if _, owned := ownedChecksum(b.Condition.Title); !owned {
			kept = append(kept, b)
			continue
		}
		if expired, err := conditionExpired(b.Condition.Expression); err == nil && expired {
			continue
		}
		if b.Role != binding.Role {
			kept = append(kept, b)
			continue
		}
		var remaining []string
		for _, m := range b.Members {
			if m != member {
				remaining = append(remaining, m)
			}
		}
		if len(remaining) > 0 {
			b.Members = remaining
			kept = append(kept, b)
		}
	}
	p.Bindings = kept

	condition := binding.Condition
	window := expiryWindow(expiry)
	if condition != "" {
		condition = fmt.Sprintf("(%s) && (%s)", condition, window)
	} else {
		condition = window
	}

	p.Bindings = append(p.Bindings, &iampb.Binding{
		Role:    binding.Role,
		Members: []string{member},
		Condition: &expr.Expr{
			Title:       bindingTitle(binding.Checksum()),
			Expression:  condition,
			Description: description,
		},
	})
	sortBindings(p.Bindings)
	p.Version = 3
}

func expiryWindow(expiry time.Time) string {
	return fmt.Sprintf(`request.time < timestamp("%s")`, expiry.UTC().Format(time.RFC3339))
}

func conditionExpired(expression string) (bool, error) {
	matches := expirationRegex.FindStringSubmatch(expression)
	if len(matches) < 2 {
		return false, fmt.Errorf("condition %q does not carry a recognized expiry bound", expression)
	}
	t, err := time.Parse(time.RFC3339, matches[1])
	if err != nil {
		return false, fmt.Errorf("failed to parse expiry %q: %w", expression, err)
	}
	return t.Before(time.Now()), nil
}

func sortBindings(bs []*iampb.Binding) {
	sort.Slice(bs, func(i, j int) bool { return bs[i].Role < bs[j].Role })
	for _, b := range bs {
		sort.Strings(b.Members)
	}
}

// classifyIAMError maps a raw RPC error onto the error taxonomy: a
// permission-denied response from the cloud API becomes an AccessDenied so
// it never leaks GCP-specific detail to a caller.
func classifyIAMError(err error) error {
	if err == nil {
		return nil
	}
	if st, ok := status.FromError(err); ok {
		switch st.Code() {
		case codes.PermissionDenied:
			return errs.NewAccessDenied("access denied", "IAM request denied: %s", st.Message())
		case codes.Aborted, codes.FailedPrecondition, codes.Unavailable, codes.DeadlineExceeded:
			return retry.RetryableError(err)
		}
	}
	return err
}

func joinErrs(existing, next error) error {
	if existing == nil {
		return next
	}
	return fmt.Errorf("%w; %w", existing, next)
}
