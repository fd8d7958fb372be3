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
	"errors"
	"testing"
	"time"

	"github.com/abcxyz/jitaccess/internal/policy"
	"github.com/abcxyz/jitaccess/internal/principal"
)

type fakeMembershipClient struct {
	calls    int
	lastExp  time.Time
	failNext bool
}

func (f *fakeMembershipClient) UpsertMembership(ctx context.Context, groupKey, user string, expiry time.Time) error {
	f.calls++
	if f.failNext {
		f.failNext = false
		return errors.New("transient failure")
	}
	f.lastExp = expiry
	return nil
}

func testGroup() *policy.Group {
	env := &policy.Environment{Name: "prod"}
	sys := &policy.System{Name: "billing", Environment: env}
	env.Systems = append(env.Systems, sys)
	grp := &policy.Group{Name: "admins", System: sys}
	sys.Groups = append(sys.Groups, grp)
	return grp
}

func TestDirectoryGroupProvisionerUpsertsMembership(t *testing.T) {
	t.Parallel()

	client := &fakeMembershipClient{}
	prov := NewDirectoryGroupProvisioner(client)
	grp := testGroup()
	start := time.Now()

	if err := prov.Provision(context.Background(), grp, principal.NewEndUser("alice@example.com"), start, 15*time.Minute); err != nil {
		t.Fatalf("Provision failed: %v", err)
	}
	if client.calls != 1 {
		t.Errorf("expected one upsert call, got %d", client.calls)
	}
	if !client.lastExp.Equal(start.Add(15 * time.Minute)) {
		t.Errorf("unexpected recorded expiry: %v", client.lastExp)
	}
}

func TestDirectoryGroupProvisionerRetriesTransientFailure(t *testing.T) {
	t.Parallel()

	client := &fakeMembershipClient{failNext: true}
	prov := NewDirectoryGroupProvisioner(client)
	grp := testGroup()

	if err := prov.Provision(context.Background(), grp, principal.NewEndUser("alice@example.com"), time.Now(), 15*time.Minute); err != nil {
		t.Fatalf("expected the retry to eventually succeed, got: %v", err)
	}
	if client.calls != 2 {
		t.Errorf("expected a retried call after the first failure, got %d calls", client.calls)
	}
}

type fakeProvisioner struct {
	calls int
	err   error
}

func (f *fakeProvisioner) Provision(ctx context.Context, grp *policy.Group, user principal.Principal, start time.Time, duration time.Duration) error {
	f.calls++
	return f.err
}

type fakeReconciler struct {
	fakeProvisioner
	report *ReconcileReport
	err    error
}

func (f *fakeReconciler) Reconcile(ctx context.Context, grp *policy.Group) (*ReconcileReport, error) {
	return f.report, f.err
}

func TestCompositeProvisionerReconcileSkipsNonReconcilersAndMerges(t *testing.T) {
	t.Parallel()

	reconciling := &fakeReconciler{report: &ReconcileReport{Checked: 2, Drifted: []DriftEntry{{Resource: "projects/p", Role: "roles/viewer", Detail: "drift"}}}}
	grantOnly := &fakeProvisioner{}
	composite := NewCompositeProvisioner(reconciling, grantOnly)

	report, err := composite.Reconcile(context.Background(), testGroup())
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if report.Checked != 2 || len(report.Drifted) != 1 {
		t.Errorf("expected the reconciling provisioner's report to be merged through unchanged, got %+v", report)
	}
}

func TestDirectoryGroupProvisionerReconcileReportsNoDrift(t *testing.T) {
	t.Parallel()

	prov := NewDirectoryGroupProvisioner(&fakeMembershipClient{})
	report, err := prov.Reconcile(context.Background(), testGroup())
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if report.Checked != 0 || len(report.Drifted) != 0 {
		t.Errorf("expected an empty report, got %+v", report)
	}
}

func TestCompositeProvisionerRunsAllAndAggregatesFailures(t *testing.T) {
	t.Parallel()

	ok := &fakeProvisioner{}
	failing := &fakeProvisioner{err: errors.New("boom")}
	composite := NewCompositeProvisioner(ok, failing)

	err := composite.Provision(context.Background(), testGroup(), principal.NewEndUser("alice@example.com"), time.Now(), time.Minute)
	if err == nil {
		t.Fatal("expected an aggregated error")
	}
	if ok.calls != 1 || failing.calls != 1 {
		t.Errorf("expected both provisioners to run, got ok=%d failing=%d", ok.calls, failing.calls)
	}
}
