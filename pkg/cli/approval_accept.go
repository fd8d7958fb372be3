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

	"github.com/abcxyz/pkg/cli"

	"github.com/abcxyz/jitaccess/internal/join"
	"github.com/abcxyz/jitaccess/internal/proposal"
)

var _ cli.Command = (*ApprovalAcceptCommand)(nil)

// ApprovalAcceptCommand verifies a proposal token and prints what it
// carries, without acting on it. Useful for an approver to inspect a
// proposal before deciding whether to approve it.
type ApprovalAcceptCommand struct {
	cli.BaseCommand

	flagToken      string
	flagIdentity   string
	flagSigningKey string
}

func (c *ApprovalAcceptCommand) Desc() string {
	return `Verify a proposal token and print the join it describes`
}

func (c *ApprovalAcceptCommand) Help() string {
	return `
Usage: {{ COMMAND }} [options]

Verify an obfuscated proposal token's signature and expiry, and print the
join request it carries:

      jitctl approval accept \
        -token "<obfuscated-token>" \
        -identity "jitaccess.example.com" \
        -signing-key "dGVzdC1zZWNyZXQ="
`
}

func (c *ApprovalAcceptCommand) Flags() *cli.FlagSet {
	set := cli.NewFlagSet()

	f := set.NewSection("COMMAND OPTIONS")

	f.StringVar(&cli.StringVar{
		Name: "token", Target: &c.flagToken,
		Usage: `The obfuscated proposal token, as handed to the approver.`,
	})
	f.StringVar(&cli.StringVar{
		Name: "identity", Target: &c.flagIdentity, Example: "jitaccess.example.com",
		Usage: `The expected issuer/audience identity of the token.`,
	})
	f.StringVar(&cli.StringVar{
		Name: "signing-key", Target: &c.flagSigningKey,
		Usage: `HS256 secret the token was signed with; the value's bytes are the key, not base64-decoded.`,
	})

	return set
}

func (c *ApprovalAcceptCommand) Run(ctx context.Context, args []string) error {
	f := c.Flags()
	if err := f.Parse(args); err != nil {
		return fmt.Errorf("failed to parse flags: %w", err)
	}
	args = f.Args()
	if len(args) > 0 {
		return fmt.Errorf("unexpected arguments: %q", args)
	}
	for name, v := range map[string]string{"token": c.flagToken, "identity": c.flagIdentity, "signing-key": c.flagSigningKey} {
		if v == "" {
			return fmt.Errorf("%s is required", name)
		}
	}

	token, err := proposal.Deobfuscate(c.flagToken)
	if err != nil {
		return fmt.Errorf("failed to decode token: %w", err)
	}

	keys := proposal.StaticHS256KeyProvider{KeyID: "cli", Secret: []byte(c.flagSigningKey)}
	p, err := proposal.Accept(ctx, token, keys, c.flagIdentity)
	if err != nil {
		return fmt.Errorf("proposal rejected: %w", err)
	}

	if err := encodeYaml(c.Stdout(), proposalSummary(p)); err != nil {
		return fmt.Errorf("failed to encode proposal: %w", err)
	}
	c.Outf("Proposal is valid")
	return nil
}

// summary is a YAML-friendly rendering of a join.Proposal: principal.Principal
// carries only unexported fields, so principals (and, for a single
// "environment/system/group" value, the JitGroupID) are stringified rather
// than encoded directly.
type summary struct {
	ID            string         `yaml:"id"`
	JitGroup      string         `yaml:"jitGroup"`
	ProposingUser string         `yaml:"proposingUser"`
	Recipients    []string       `yaml:"recipients"`
	ProposerInput map[string]any `yaml:"proposerInput"`
	Duration      string         `yaml:"duration"`
	ExpiresAt     string         `yaml:"expiresAt"`
}

func proposalSummary(p join.Proposal) summary {
	recipients := make([]string, 0, len(p.Recipients))
	for _, r := range p.Recipients {
		recipients = append(recipients, r.String())
	}
	return summary{
		ID:            p.ID,
		JitGroup:      p.JitGroup.String(),
		ProposingUser: p.ProposingUser.String(),
		Recipients:    recipients,
		ProposerInput: p.ProposerInput,
		Duration:      p.Duration.String(),
		ExpiresAt:     p.ExpiresAt.Format("2006-01-02T15:04:05Z07:00"),
	}
}
