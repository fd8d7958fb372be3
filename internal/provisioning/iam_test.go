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
	"testing"
	"time"

	"cloud.google.com/go/iam/apiv1/iampb"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/googleapis/gax-go/v2"
	"google.golang.org/genproto/googleapis/type/expr"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/abcxyz/jitaccess/internal/errs"
	"github.com/abcxyz/jitaccess/internal/policy"
	"github.com/abcxyz/jitaccess/internal/principal"
)

type fakeIAMClient struct {
	policy    *iampb.Policy
	getErr    error
	setErr    error
	setErrFor int // fail the Nth SetIamPolicy call (1-indexed), then succeed
	setCalls  int
}

func (f *fakeIAMClient) GetIamPolicy(ctx context.Context, req *iampb.GetIamPolicyRequest, opts ...gax.CallOption) (*iampb.Policy, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	if f.policy == nil {
		f.policy = &iampb.Policy{}
	}
	return f.policy, nil
}

func (f *fakeIAMClient) SetIamPolicy(ctx context.Context, req *iampb.SetIamPolicyRequest, opts ...gax.CallOption) (*iampb.Policy, error) {
	f.setCalls++
	if f.setErrFor != 0 && f.setCalls == f.setErrFor {
		return nil, status.Error(codes.Aborted, "concurrent modification")
	}
	if f.setErr != nil {
		return nil, f.setErr
	}
	f.policy = req.Policy
	return req.Policy, nil
}

func TestIAMBindingProvisionerGrantsNewBinding(t *testing.T) {
	t.Parallel()

	client := &fakeIAMClient{}
	prov := NewIAMBindingProvisioner(nil, nil, client)
	grp := &policy.Group{
		Name: "admins",
		System: &policy.System{
			Name:        "billing",
			Environment: &policy.Environment{Name: "prod"},
		},
		Privileges: []policy.Privilege{
			{IamRoleBinding: &policy.IamRoleBinding{Resource: "projects/my-proj", Role: "roles/billing.admin"}},
		},
	}

	start := time.Now()
	err := prov.Provision(context.Background(), grp, principal.NewEndUser("alice@example.com"), start, 15*time.Minute)
	if err != nil {
		t.Fatalf("Provision failed: %v", err)
	}

	if len(client.policy.Bindings) != 1 {
		t.Fatalf("expected one binding, got %d", len(client.policy.Bindings))
	}
	b := client.policy.Bindings[0]
	if b.Role != "roles/billing.admin" {
		t.Errorf("unexpected role: %s", b.Role)
	}
	if len(b.Members) != 1 || b.Members[0] != "user:alice@example.com" {
		t.Errorf("unexpected members: %v", b.Members)
	}
	wantTitle := bindingTitle(policy.IamRoleBinding{Resource: "projects/my-proj", Role: "roles/billing.admin"}.Checksum())
	if b.Condition == nil || b.Condition.Title != wantTitle {
		t.Errorf("expected a condition titled %q, got %+v", wantTitle, b.Condition)
	}
}

func TestIAMBindingProvisionerReplacesPriorGrantForSamePrincipalAndRole(t *testing.T) {
	t.Parallel()

	existing := &iampb.Policy{
		Bindings: []*iampb.Binding{
			{
				Role:    "roles/billing.admin",
				Members: []string{"user:alice@example.com"},
				Condition: &expr.Expr{
					Title:      bindingTitle(0xdeadbeef),
					Expression: `request.time >= timestamp("2020-01-01T00:00:00Z") && request.time < timestamp("2020-01-01T01:00:00Z")`,
				},
			},
		},
	}
	client := &fakeIAMClient{policy: existing}
	prov := NewIAMBindingProvisioner(nil, nil, client)
	grp := &policy.Group{
		Name: "admins",
		System: &policy.System{
			Name:        "billing",
			Environment: &policy.Environment{Name: "prod"},
		},
		Privileges: []policy.Privilege{
			{IamRoleBinding: &policy.IamRoleBinding{Resource: "projects/my-proj", Role: "roles/billing.admin"}},
		},
	}

	if err := prov.Provision(context.Background(), grp, principal.NewEndUser("alice@example.com"), time.Now(), time.Hour); err != nil {
		t.Fatalf("Provision failed: %v", err)
	}

	if len(client.policy.Bindings) != 1 {
		t.Fatalf("expected the stale binding to be replaced, not duplicated, got %d bindings", len(client.policy.Bindings))
	}
}

func TestIAMBindingProvisionerRetriesOnAbortedSet(t *testing.T) {
	t.Parallel()

	client := &fakeIAMClient{setErrFor: 1}
	prov := NewIAMBindingProvisioner(nil, nil, client)
	grp := &policy.Group{
		Name: "admins",
		System: &policy.System{
			Name:        "billing",
			Environment: &policy.Environment{Name: "prod"},
		},
		Privileges: []policy.Privilege{
			{IamRoleBinding: &policy.IamRoleBinding{Resource: "projects/my-proj", Role: "roles/viewer"}},
		},
	}

	if err := prov.Provision(context.Background(), grp, principal.NewEndUser("alice@example.com"), time.Now(), time.Hour); err != nil {
		t.Fatalf("expected the provisioner to retry past the aborted set, got: %v", err)
	}
	if client.setCalls != 2 {
		t.Errorf("expected exactly one retry, got %d set calls", client.setCalls)
	}
}

func TestIAMBindingProvisionerMapsPermissionDeniedToAccessDenied(t *testing.T) {
	t.Parallel()

	client := &fakeIAMClient{getErr: status.Error(codes.PermissionDenied, "caller lacks setIamPolicy")}
	prov := NewIAMBindingProvisioner(nil, nil, client)
	grp := &policy.Group{
		Name: "admins",
		System: &policy.System{
			Name:        "billing",
			Environment: &policy.Environment{Name: "prod"},
		},
		Privileges: []policy.Privilege{
			{IamRoleBinding: &policy.IamRoleBinding{Resource: "projects/my-proj", Role: "roles/viewer"}},
		},
	}

	err := prov.Provision(context.Background(), grp, principal.NewEndUser("alice@example.com"), time.Now(), time.Hour)
	if err == nil {
		t.Fatal("expected an error")
	}
	var denied *errs.AccessDenied
	if ok := errorsAsAccessDenied(err, &denied); !ok {
		t.Errorf("expected the denial to surface as *errs.AccessDenied somewhere in the chain, got: %v", err)
	}
}

func TestIAMBindingProvisionerReconcileDetectsDrift(t *testing.T) {
	t.Parallel()

	grp := &policy.Group{
		Name: "admins",
		System: &policy.System{
			Name:        "billing",
			Environment: &policy.Environment{Name: "prod"},
		},
		Privileges: []policy.Privilege{
			{IamRoleBinding: &policy.IamRoleBinding{Resource: "projects/my-proj", Role: "roles/billing.admin", Description: "current"}},
		},
	}
	staleChecksum := policy.IamRoleBinding{Resource: "projects/my-proj", Role: "roles/billing.admin", Description: "stale"}.Checksum()
	client := &fakeIAMClient{policy: &iampb.Policy{
		Bindings: []*iampb.Binding{
			{
				Role:    "roles/billing.admin",
				Members: []string{"user:alice@example.com"},
				Condition: &expr.Expr{
					Title:      bindingTitle(staleChecksum),
					Expression: `request.time >= timestamp("2020-01-01T00:00:00Z") && request.time < timestamp("2099-01-01T00:00:00Z")`,
				},
			},
		},
	}}

	prov := NewIAMBindingProvisioner(nil, nil, client)
	report, err := prov.Reconcile(context.Background(), grp)
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if report.Checked != 1 {
		t.Errorf("Checked = %d, want 1", report.Checked)
	}

	want := []DriftEntry{
		{
			Resource: "projects/my-proj",
			Role:     "roles/billing.admin",
			Detail:   "bound checksum no longer matches policy document checksum",
		},
	}
	if diff := cmp.Diff(want, report.Drifted, cmpopts.IgnoreFields(DriftEntry{}, "Detail")); diff != "" {
		t.Errorf("Drifted mismatch (-want +got):\n%s", diff)
	}
}

func TestIAMBindingProvisionerReconcileDetectsUnpurgedExpiry(t *testing.T) {
	t.Parallel()

	binding := policy.IamRoleBinding{Resource: "projects/my-proj", Role: "roles/viewer"}
	grp := &policy.Group{
		Name: "admins",
		System: &policy.System{
			Name:        "billing",
			Environment: &policy.Environment{Name: "prod"},
		},
		Privileges: []policy.Privilege{{IamRoleBinding: &binding}},
	}
	client := &fakeIAMClient{policy: &iampb.Policy{
		Bindings: []*iampb.Binding{
			{
				Role:    "roles/viewer",
				Members: []string{"user:alice@example.com"},
				Condition: &expr.Expr{
					Title:      bindingTitle(binding.Checksum()),
					Expression: `request.time >= timestamp("2020-01-01T00:00:00Z") && request.time < timestamp("2020-01-01T01:00:00Z")`,
				},
			},
		},
	}}

	prov := NewIAMBindingProvisioner(nil, nil, client)
	report, err := prov.Reconcile(context.Background(), grp)
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if len(report.Drifted) != 1 || report.Drifted[0].Detail == "" {
		t.Fatalf("expected exactly one expiry-drift entry, got %+v", report.Drifted)
	}
}

func TestIAMBindingProvisionerReconcileSkipsUnsupportedResources(t *testing.T) {
	t.Parallel()

	grp := &policy.Group{
		Name: "admins",
		System: &policy.System{
			Name:        "billing",
			Environment: &policy.Environment{Name: "prod"},
		},
		Privileges: []policy.Privilege{
			{IamRoleBinding: &policy.IamRoleBinding{Resource: "azure-subscriptions/abc", Role: "roles/viewer"}},
		},
	}

	prov := NewIAMBindingProvisioner(nil, nil, nil)
	report, err := prov.Reconcile(context.Background(), grp)
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if report.Checked != 0 || len(report.Drifted) != 0 {
		t.Errorf("expected an unsupported resource to be skipped untouched, got %+v", report)
	}
}

func errorsAsAccessDenied(err error, target **errs.AccessDenied) bool {
	for err != nil {
		if ad, ok := err.(*errs.AccessDenied); ok {
			*target = ad
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
