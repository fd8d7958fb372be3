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

const validPolicyDoc = `
policy:
  name: prod
  systems:
  - name: billing
    groups:
    - name: admins
      access:
      - principal: user:alice@example.com
        access: ALLOW
        permissions: [JOIN, APPROVE_SELF]
      constraints:
        join:
        - type: expiry
          max: 1h
      privileges:
      - type: iam-role-binding
        resource: projects/my-proj
        role: roles/viewer
`

const invalidPolicyDoc = `
policy:
  name: prod
  systems:
  - name: billing
    groups:
    - name: admins
`

func TestPolicyValidateCommand(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	for name, content := range map[string]string{
		"valid.yaml":   validPolicyDoc,
		"invalid.yaml": invalidPolicyDoc,
	} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600); err != nil {
			t.Fatal(err)
		}
	}

	cases := []struct {
		name   string
		args   []string
		expOut string
		expErr string
	}{
		{
			name:   "success",
			args:   []string{"-path", filepath.Join(dir, "valid.yaml")},
			expOut: "Successfully validated policy document",
		},
		{
			name:   "missing_expiry_constraint",
			args:   []string{"-path", filepath.Join(dir, "invalid.yaml")},
			expErr: "policy document is invalid",
		},
		{
			name:   "missing_path",
			args:   []string{},
			expErr: "path is required",
		},
		{
			name:   "unexpected_args",
			args:   []string{"foo"},
			expErr: `unexpected arguments: ["foo"]`,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			ctx := logging.WithLogger(context.Background(), logging.TestLogger(t))

			var cmd PolicyValidateCommand
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
