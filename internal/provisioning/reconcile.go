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

	"github.com/abcxyz/jitaccess/internal/policy"
)

// Reconciler detects drift between a group's intended privileges and what is
// actually provisioned, independent of any particular join/approval. It is
// deliberately separate from Provisioner: a Reconciler runs on demand
// against a whole group, not against a single joining user.
type Reconciler interface {
	Reconcile(ctx context.Context, grp *policy.Group) (*ReconcileReport, error)
}

// ReconcileReport summarizes one Reconcile pass over a single group.
type ReconcileReport struct {
	// Checked counts the privileges a Reconciler inspected.
	Checked int
	// Drifted lists every privilege found out of compliance.
	Drifted []DriftEntry
}

// DriftEntry records one privilege found to be out of compliance with its
// policy-document definition.
type DriftEntry struct {
	Resource string
	Role     string
	Detail   string
}

// Merge folds other's counters and drift entries into r.
func (r *ReconcileReport) Merge(other *ReconcileReport) {
	if other == nil {
		return
	}
	r.Checked += other.Checked
	r.Drifted = append(r.Drifted, other.Drifted...)
}
