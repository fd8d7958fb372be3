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

	"github.com/abcxyz/pkg/logging"
	"github.com/abcxyz/pkg/testutil"
)

func TestJoinDryRunCommand(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	if err := os.WriteFile(path, []byte(validPolicyDoc), 0o600); err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		name   string
		args   []string
		expOut string
		expErr string
	}{
		{
			name:   "allowed_user_passes",
			args:   []string{"-path", path, "-group", "prod/billing/admins", "-user", "alice@example.com"},
			expOut: "Dry run passed",
		},
		{
			name:   "unlisted_user_is_denied",
			args:   []string{"-path", path, "-group", "prod/billing/admins", "-user", "mallory@example.com"},
			expErr: "dry run did not pass",
		},
		{
			name:   "unknown_group",
			args:   []string{"-path", path, "-group", "prod/billing/missing", "-user", "alice@example.com"},
			expErr: `no such group "prod/billing/missing" in document`,
		},
		{
			name:   "missing_user_flag",
			args:   []string{"-path", path, "-group", "prod/billing/admins"},
			expErr: "user is required",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			ctx := logging.WithLogger(context.Background(), logging.TestLogger(t))

			var cmd JoinDryRunCommand
			_, stdout, _ := cmd.Pipe()

			err := cmd.Run(ctx, append([]string{}, tc.args...))
			if diff := testutil.DiffErrString(err, tc.expErr); diff != "" {
				t.Errorf("Run(%+v) got error diff (-want, +got):\n%s", tc.name, diff)
			}
			if tc.expOut != "" && !strings.Contains(stdout.String(), tc.expOut) {
				t.Errorf("Run(%+v) got output %q, want it to contain %q", tc.name, stdout.String(), tc.expOut)
			}
		})
	}
}
