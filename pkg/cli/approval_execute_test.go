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
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/abcxyz/pkg/logging"
	"github.com/abcxyz/pkg/testutil"

	"github.com/abcxyz/jitaccess/internal/join"
	"github.com/abcxyz/jitaccess/internal/principal"
	"github.com/abcxyz/jitaccess/internal/proposal"
)

// approvalDoc grants dave JOIN and carol APPROVE_OTHERS on the same group.
const approvalDoc = `
policy:
  name: prod
  systems:
  - name: billing
    groups:
    - name: readers
      access:
      - principal: user:dave@example.com
        access: ALLOW
        permissions: [JOIN]
      - principal: user:carol@example.com
        access: ALLOW
        permissions: [APPROVE_OTHERS]
      constraints:
        join:
        - type: expiry
          max: 1h
      privileges:
      - type: iam-role-binding
        resource: projects/my-proj
        role: roles/viewer
`

const testIdentity = "jitaccess.example.com"
const testSigningKey = "test-signing-key-for-unit-tests"

// mintProposalToken mints and obfuscates a proposal token for use as a
// -token flag value, the way a real "join execute" invocation would.
func mintProposalToken(t *testing.T, env, sys, group, proposingUser, recipient string, duration time.Duration) string {
	t.Helper()

	keys := proposal.StaticHS256KeyProvider{KeyID: "cli", Secret: []byte(testSigningKey)}
	minter := proposal.NewMinter(keys, testIdentity, 0)

	req := join.ProposeRequest{
		JitGroup:   principal.JitGroupID{Environment: env, System: sys, Name: group},
		User:       principal.NewEndUser(proposingUser),
		Recipients: []principal.Principal{principal.NewEndUser(recipient)},
		Duration:   duration,
	}

	tok, err := minter.Propose(context.Background(), req)
	if err != nil {
		t.Fatalf("failed to mint test token: %v", err)
	}
	return proposal.Obfuscate(tok)
}

func TestApprovalExecuteCommand(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	if err := os.WriteFile(path, []byte(approvalDoc), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Run("valid_approval_provisions_proposer", func(t *testing.T) {
		t.Parallel()

		token := mintProposalToken(t, "prod", "billing", "readers", "dave@example.com", "carol@example.com", 30*time.Minute)

		ctx := logging.WithLogger(context.Background(), logging.TestLogger(t))
		prov := &fakeProvisioner{}
		cmd := ApprovalExecuteCommand{testProvisioner: prov}
		_, stdout, _ := cmd.Pipe()

		err := cmd.Run(ctx, []string{
			"-path", path, "-group", "prod/billing/readers",
			"-token", token, "-approver", "carol@example.com",
			"-identity", testIdentity, "-signing-key", testSigningKey,
		})
		if err != nil {
			t.Fatalf("Run() unexpected error: %v", err)
		}
		if prov.calls != 1 {
			t.Errorf("Provision called %d times, want 1", prov.calls)
		}
		if !strings.Contains(stdout.String(), "Approval executed") {
			t.Errorf("stdout = %q, want it to contain %q", stdout.String(), "Approval executed")
		}
	})

	t.Run("approver_not_a_recipient_is_denied", func(t *testing.T) {
		t.Parallel()

		token := mintProposalToken(t, "prod", "billing", "readers", "dave@example.com", "carol@example.com", 30*time.Minute)

		ctx := logging.WithLogger(context.Background(), logging.TestLogger(t))
		prov := &fakeProvisioner{}
		cmd := ApprovalExecuteCommand{testProvisioner: prov}
		_, _, _ = cmd.Pipe()

		err := cmd.Run(ctx, []string{
			"-path", path, "-group", "prod/billing/readers",
			"-token", token, "-approver", "mallory@example.com",
			"-identity", testIdentity, "-signing-key", testSigningKey,
		})
		if diff := testutil.DiffErrString(err, "approval does not pass dry run"); diff != "" {
			t.Errorf("Run() got error diff (-want, +got):\n%s", diff)
		}
		if prov.calls != 0 {
			t.Errorf("Provision called %d times, want 0", prov.calls)
		}
	})

	t.Run("wrong_signing_key_is_rejected", func(t *testing.T) {
		t.Parallel()

		token := mintProposalToken(t, "prod", "billing", "readers", "dave@example.com", "carol@example.com", 30*time.Minute)

		ctx := logging.WithLogger(context.Background(), logging.TestLogger(t))
		prov := &fakeProvisioner{}
		cmd := ApprovalExecuteCommand{testProvisioner: prov}
		_, _, _ = cmd.Pipe()

		err := cmd.Run(ctx, []string{
			"-path", path, "-group", "prod/billing/readers",
			"-token", token, "-approver", "carol@example.com",
			"-identity", testIdentity, "-signing-key", "a-totally-different-key",
		})
		if diff := testutil.DiffErrString(err, "proposal rejected"); diff != "" {
			t.Errorf("Run() got error diff (-want, +got):\n%s", diff)
		}
	})
}
