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
	"strings"
	"testing"
	"time"

	"github.com/abcxyz/pkg/logging"
	"github.com/abcxyz/pkg/testutil"
)

func TestApprovalAcceptCommand(t *testing.T) {
	t.Parallel()

	token := mintProposalToken(t, "prod", "billing", "readers", "dave@example.com", "carol@example.com", 30*time.Minute)

	cases := []struct {
		name   string
		args   []string
		expOut string
		expErr string
	}{
		{
			name:   "valid_token_is_accepted",
			args:   []string{"-token", token, "-identity", testIdentity, "-signing-key", testSigningKey},
			expOut: "Proposal is valid",
		},
		{
			name:   "wrong_identity_is_rejected",
			args:   []string{"-token", token, "-identity", "someone-else.example.com", "-signing-key", testSigningKey},
			expErr: "proposal rejected",
		},
		{
			name:   "missing_token",
			args:   []string{"-identity", testIdentity, "-signing-key", testSigningKey},
			expErr: "token is required",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			ctx := logging.WithLogger(context.Background(), logging.TestLogger(t))

			var cmd ApprovalAcceptCommand
			_, stdout, _ := cmd.Pipe()

			err := cmd.Run(ctx, append([]string{}, tc.args...))
			if diff := testutil.DiffErrString(err, tc.expErr); diff != "" {
				t.Errorf("Run(%+v) got error diff (-want, +got):\n%s", tc.name, diff)
			}
			if tc.expOut != "" && !strings.Contains(stdout.String(), tc.expOut) {
				t.Errorf("Run(%+v) got output %q, want it to contain %q", tc.name, stdout.String(), tc.expOut)
			}
			if tc.expOut != "" && !strings.Contains(stdout.String(), "jitGroup:") {
				t.Errorf("Run(%+v) expected a YAML-encoded proposal summary in stdout, got %q", tc.name, stdout.String())
			}
		})
	}
}
