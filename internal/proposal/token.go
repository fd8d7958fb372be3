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

package proposal

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/abcxyz/jitaccess/internal/errs"
	"github.com/abcxyz/jitaccess/internal/join"
	"github.com/abcxyz/jitaccess/internal/principal"
)

// defaultMaxTTL bounds how far in the future a minted proposal's exp claim
// may sit, per the spec's default of one hour.
const defaultMaxTTL = time.Hour

// clockSkew is the tolerance applied when checking a proposal's exp claim,
// per §6's documented ±60s clock skew allowance.
const clockSkew = 60 * time.Second

// claim names used in the proposal payload, beyond the registered JWT
// claims (iss, aud, iat, exp, jti).
const (
	claimGroup      = "group"
	claimUser       = "user"
	claimRecipients = "recipients"
	claimInput      = "joiningUserInput"
)

// Minter mints signed proposal tokens and implements join.ProposalMinter.
type Minter struct {
	keys     KeyProvider
	identity string // service identity; used as both iss and aud
	maxTTL   time.Duration
}

// NewMinter constructs a Minter. identity is the configured service
// identity used as both the issuer and audience of every minted token,
// per §4.9 ("iss == aud == configured service identity"). A maxTTL of zero
// selects defaultMaxTTL.
func NewMinter(keys KeyProvider, identity string, maxTTL time.Duration) *Minter {
	if maxTTL <= 0 {
		maxTTL = defaultMaxTTL
	}
	return &Minter{keys: keys, identity: identity, maxTTL: maxTTL}
}

// Propose implements join.ProposalMinter: it signs req into a compact JWT
// whose exp is bounded by the Minter's configured maxTTL.
func (m *Minter) Propose(ctx context.Context, req join.ProposeRequest) (string, error) {
	kid, alg, key, err := m.keys.SigningKey(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to resolve signing key: %w", err)
	}

	now := time.Now().UTC().Truncate(time.Second)

	recipients := make([]string, len(req.Recipients))
	for i, r := range req.Recipients {
		recipients[i] = r.String()
	}
	sort.Strings(recipients)

	input := make([]map[string]any, 0, len(req.Input))
	for _, iv := range req.Input {
		input = append(input, map[string]any{"name": iv.Name, "value": iv.Value})
	}

	builder := jwt.NewBuilder().
		Issuer(m.identity).
		Audience([]string{m.identity}).
		IssuedAt(now).
		Expiration(now.Add(m.maxTTL)).
		JwtID(uuid.NewString()).
		Claim(claimGroup, map[string]string{
			"environment": req.JitGroup.Environment,
			"system":      req.JitGroup.System,
			"name":        req.JitGroup.Name,
		}).
		Claim(claimUser, req.User.String()).
		Claim(claimRecipients, recipients).
		Claim(claimInput, input).
		Claim("duration", req.Duration.String())

	tok, err := builder.Build()
	if err != nil {
		return "", fmt.Errorf("failed to build proposal token: %w", err)
	}

	hdrs := jws.NewHeaders()
	if err := hdrs.Set(jws.KeyIDKey, kid); err != nil {
		return "", fmt.Errorf("failed to set kid header: %w", err)
	}

	signed, err := jwt.Sign(tok, jwt.WithKey(alg, key, jws.WithProtectedHeaders(hdrs)))
	if err != nil {
		return "", fmt.Errorf("failed to sign proposal token: %w", err)
	}

	return string(signed), nil
}

// genericDenial is returned for every Accept failure: per §4.9 "on any
// failure throws a generic denial - no partial information leaks to
// callers."
func genericDenial(detailFormat string, args ...any) error {
	return errs.NewAccessDenied("proposal is invalid or expired", detailFormat, args...)
}

// Accept verifies token's signature and claims and decodes it into a
// join.Proposal. expectedIdentity must equal both iss and aud.
func Accept(ctx context.Context, token string, keys KeyProvider, expectedIdentity string) (join.Proposal, error) {
	msg, err := jws.Parse([]byte(token))
	if err != nil {
		return join.Proposal{}, genericDenial("failed to parse JWS envelope: %v", err)
	}
	sigs := msg.Signatures()
	if len(sigs) == 0 {
		return join.Proposal{}, genericDenial("token carries no signature")
	}
	kid := sigs[0].ProtectedHeaders().KeyID()

	alg, key, err := keys.VerificationKey(ctx, kid)
	if err != nil {
		return join.Proposal{}, genericDenial("failed to resolve verification key for kid %q: %v", kid, err)
	}

	tok, err := jwt.Parse([]byte(token),
		jwt.WithKey(alg, key),
		jwt.WithValidate(true),
		jwt.WithAcceptableSkew(clockSkew),
	)
	if err != nil {
		return join.Proposal{}, genericDenial("signature or claim validation failed: %v", err)
	}

	if tok.Issuer() != expectedIdentity {
		return join.Proposal{}, genericDenial("unexpected issuer %q", tok.Issuer())
	}
	aud := tok.Audience()
	if len(aud) != 1 || aud[0] != expectedIdentity {
		return join.Proposal{}, genericDenial("unexpected audience %v", aud)
	}
	exp, ok := tok.Expiration()
	if !ok || !time.Now().Before(exp.Add(clockSkew)) {
		return join.Proposal{}, genericDenial("token expired")
	}

	p, err := decodeProposal(tok)
	if err != nil {
		return join.Proposal{}, genericDenial("malformed proposal payload: %v", err)
	}
	return p, nil
}

func decodeProposal(tok jwt.Token) (join.Proposal, error) {
	var groupClaim map[string]any
	if err := tok.Get(claimGroup, &groupClaim); err != nil {
		return join.Proposal{}, fmt.Errorf("missing %q claim: %w", claimGroup, err)
	}
	jitGroup := principal.JitGroupID{
		Environment: fmt.Sprint(groupClaim["environment"]),
		System:      fmt.Sprint(groupClaim["system"]),
		Name:        fmt.Sprint(groupClaim["name"]),
	}

	var userClaim string
	if err := tok.Get(claimUser, &userClaim); err != nil {
		return join.Proposal{}, fmt.Errorf("missing %q claim: %w", claimUser, err)
	}
	user, err := principal.Parse(userClaim)
	if err != nil {
		return join.Proposal{}, fmt.Errorf("invalid %q claim: %w", claimUser, err)
	}

	var recipientStrs []string
	if err := tok.Get(claimRecipients, &recipientStrs); err != nil {
		return join.Proposal{}, fmt.Errorf("missing %q claim: %w", claimRecipients, err)
	}
	recipients := make([]principal.Principal, 0, len(recipientStrs))
	for _, s := range recipientStrs {
		p, err := principal.Parse(s)
		if err != nil {
			return join.Proposal{}, fmt.Errorf("invalid recipient %q: %w", s, err)
		}
		recipients = append(recipients, p)
	}

	var inputClaim []map[string]any
	if err := tok.Get(claimInput, &inputClaim); err != nil {
		return join.Proposal{}, fmt.Errorf("missing %q claim: %w", claimInput, err)
	}
	input := make(map[string]any, len(inputClaim))
	for _, e := range inputClaim {
		name, _ := e["name"].(string)
		input[name] = e["value"]
	}

	var durationStr string
	if err := tok.Get("duration", &durationStr); err != nil {
		return join.Proposal{}, fmt.Errorf("missing %q claim: %w", "duration", err)
	}
	duration, err := time.ParseDuration(durationStr)
	if err != nil {
		return join.Proposal{}, fmt.Errorf("invalid duration claim: %w", err)
	}

	exp, _ := tok.Expiration()
	jti := tok.JwtID()

	return join.Proposal{
		ID:            jti,
		JitGroup:      jitGroup,
		ProposingUser: user,
		Recipients:    recipients,
		ProposerInput: input,
		Duration:      duration,
		ExpiresAt:     exp,
	}, nil
}
