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
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/abcxyz/jitaccess/internal/errs"
	"github.com/abcxyz/jitaccess/internal/policy"
	"github.com/abcxyz/jitaccess/internal/principal"
)

// MembershipClient is the subset of a directory API (e.g. the Cloud
// Identity Groups API) used to add or refresh a user's membership in the
// directory group backing a JIT group.
type MembershipClient interface {
	// UpsertMembership adds user to groupKey if absent, or updates their
	// membership's expiry if present. Implementations must be safe to call
	// repeatedly with the same arguments.
	UpsertMembership(ctx context.Context, groupKey string, user string, expiry time.Time) error
}

// DirectoryGroupProvisioner grants membership in the directory group
// backing a JIT group, replacing any existing expiry. It implements
// join.Provisioner and is idempotent by (group, user): a repeated call for
// the same pair only ever updates the recorded expiry.
type DirectoryGroupProvisioner struct {
	client MembershipClient
	retry  retry.Backoff
}

// NewDirectoryGroupProvisioner builds a DirectoryGroupProvisioner.
func NewDirectoryGroupProvisioner(client MembershipClient) *DirectoryGroupProvisioner {
	return &DirectoryGroupProvisioner{
		client: client,
		retry:  retry.WithMaxRetries(4, retry.NewFibonacci(250*time.Millisecond)),
	}
}

// Provision adds or refreshes user's membership in grp's directory group to
// expire at start+duration.
func (p *DirectoryGroupProvisioner) Provision(ctx context.Context, grp *policy.Group, user principal.Principal, start time.Time, duration time.Duration) error {
	groupKey := grp.JitGroupID().String()
	member := user.String()
	expiry := start.Add(duration)

	return retry.Do(ctx, p.retry, func(ctx context.Context) error {
		if err := p.client.UpsertMembership(ctx, groupKey, member, expiry); err != nil {
			return retry.RetryableError(fmt.Errorf("failed to upsert membership of %s in %s: %w", member, groupKey, err))
		}
		return nil
	})
}

// Reconcile reports no drift: MembershipClient exposes no listing
// capability to compare against, so there is nothing here to detect beyond
// what Provision already keeps idempotent by construction.
func (p *DirectoryGroupProvisioner) Reconcile(ctx context.Context, grp *policy.Group) (*ReconcileReport, error) {
	return &ReconcileReport{}, nil
}

// CompositeProvisioner fans a single join/approval out to every underlying
// provisioner (directory membership, IAM bindings, ...), aggregating any
// failures rather than stopping at the first one.
type CompositeProvisioner struct {
	provisioners []Provisioner
}

// Provisioner is the narrow dependency CompositeProvisioner needs; both
// DirectoryGroupProvisioner and IAMBindingProvisioner satisfy it, as does
// join.Provisioner.
type Provisioner interface {
	Provision(ctx context.Context, grp *policy.Group, user principal.Principal, start time.Time, duration time.Duration) error
}

// NewCompositeProvisioner builds a CompositeProvisioner over the given
// provisioners, applied in order.
func NewCompositeProvisioner(provisioners ...Provisioner) *CompositeProvisioner {
	return &CompositeProvisioner{provisioners: provisioners}
}

// Provision runs every underlying provisioner, accumulating failures via
// errs.AggregateException instead of aborting on the first error.
func (p *CompositeProvisioner) Provision(ctx context.Context, grp *policy.Group, user principal.Principal, start time.Time, duration time.Duration) error {
	var failures []error
	for _, prov := range p.provisioners {
		if err := prov.Provision(ctx, grp, user, start, duration); err != nil {
			failures = append(failures, err)
		}
	}
	return errs.NewAggregateException(failures)
}

// Reconcile runs Reconcile on every underlying provisioner that implements
// Reconciler, merging their reports and aggregating failures. A provisioner
// that doesn't implement Reconciler (a caller-supplied Provisioner that only
// grants) is silently skipped.
func (p *CompositeProvisioner) Reconcile(ctx context.Context, grp *policy.Group) (*ReconcileReport, error) {
	report := &ReconcileReport{}
	var failures []error
	for _, prov := range p.provisioners {
		r, ok := prov.(Reconciler)
		if !ok {
			continue
		}
		rep, err := r.Reconcile(ctx, grp)
		report.Merge(rep)
		if err != nil {
			failures = append(failures, err)
		}
	}
	return report, errs.NewAggregateException(failures)
}
