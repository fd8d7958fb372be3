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

// Package subject implements the subject resolver (spec component C6):
// resolving an authenticated end user plus tenant directory into a Subject
// carrying every principal valid for that user, including time-bounded JIT
// group memberships, with a bounded-TTL cache and bounded concurrent
// fan-out over the directory's membership listing.
package subject

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/abcxyz/pkg/logging"

	"github.com/abcxyz/jitaccess/internal/errs"
	"github.com/abcxyz/jitaccess/internal/principal"
)

// Subject is the resolved authorization identity of a request: the end
// user, the well-known authenticated-users class, every directory group
// membership, and every JIT group resolved through a GroupMapping -
// each carrying its own expiry. It implements acl.PrincipalSource.
type Subject struct {
	User       principal.Principal
	Principals []principal.WithExpiry
}

// ValidPrincipals implements acl.PrincipalSource: every principal valid at
// now, i.e. permanent principals plus temporary ones that have not expired.
func (s Subject) ValidPrincipals(now time.Time) []principal.Principal {
	out := make([]principal.Principal, 0, len(s.Principals))
	for _, p := range s.Principals {
		if p.IsValid(now) {
			out = append(out, p.Principal)
		}
	}
	return out
}

// Resolver resolves Subjects from a Directory and GroupMapping, with a
// bounded-TTL cache keyed by (user, directory).
type Resolver struct {
	directory Directory
	mapping   GroupMapping

	ttl         time.Duration
	parallelism int

	mu    sync.Mutex
	cache map[cacheKey]cacheEntry
}

type cacheKey struct {
	user      string
	directory string
}

type cacheEntry struct {
	subject Subject
	expires time.Time
}

// defaultTTL is the subject cache's default entry lifetime, within the
// spec's documented 1-5 minute range.
const defaultTTL = 2 * time.Minute

// defaultParallelism bounds the concurrent per-membership detail fetches
// issued while resolving a single subject.
const defaultParallelism = 8

// NewResolver constructs a Resolver. A ttl of zero selects defaultTTL; a
// parallelism of zero selects defaultParallelism.
func NewResolver(directory Directory, mapping GroupMapping, ttl time.Duration, parallelism int) *Resolver {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	if parallelism <= 0 {
		parallelism = defaultParallelism
	}
	return &Resolver{
		directory:   directory,
		mapping:     mapping,
		ttl:         ttl,
		parallelism: parallelism,
		cache:       make(map[cacheKey]cacheEntry),
	}
}

// Resolve returns the Subject for (user, directory), serving from cache
// when a fresh entry exists. Concurrent misses for the same key may both
// compute a Subject; whichever write lands last wins (first-writer-wins is
// an acceptable, cheaper alternative the spec explicitly allows, but storing
// unconditionally keeps the implementation trivial and self-correcting:
// the next read either way observes a valid, TTL-bounded Subject).
func (r *Resolver) Resolve(ctx context.Context, user, directory string) (Subject, error) {
	key := cacheKey{user: user, directory: directory}

	r.mu.Lock()
	entry, ok := r.cache[key]
	r.mu.Unlock()
	if ok && entry.expires.After(time.Now()) {
		return entry.subject, nil
	}

	subj, err := r.resolve(ctx, user, directory)
	if err != nil {
		return subj, err
	}

	r.mu.Lock()
	r.cache[key] = cacheEntry{subject: subj, expires: time.Now().Add(r.ttl)}
	r.mu.Unlock()

	return subj, nil
}

func (r *Resolver) resolve(ctx context.Context, user, directory string) (Subject, error) {
	userPrincipal := principal.NewEndUser(user)

	groups, err := r.directory.ListMemberships(ctx, user, directory)
	if err != nil {
		return Subject{}, fmt.Errorf("failed to list memberships for %q: %w", user, err)
	}

	principals := []principal.WithExpiry{
		principal.Permanent(userPrincipal),
		principal.Permanent(principal.NewUserClass(principal.AuthenticatedUsers)),
	}
	for _, g := range groups {
		principals = append(principals, principal.Permanent(principal.NewGroup(g)))
	}

	resolved, aggErr := r.resolveJitGroups(ctx, user, groups)
	principals = append(principals, resolved...)

	return Subject{User: userPrincipal, Principals: principals}, aggErr
}

// resolveJitGroups fetches membership detail for every directory group
// that backs at least one JIT group, bounded to r.parallelism concurrent
// requests, and derives a temporary principal per (membership, JIT group)
// pair using the earliest role expiry. Failures on individual memberships
// are accumulated into an AggregateException and logged at WARN; they do
// not prevent the rest of the subject from resolving.
func (r *Resolver) resolveJitGroups(ctx context.Context, user string, groups []string) ([]principal.WithExpiry, error) {
	type job struct {
		group    string
		jitGroup principal.JitGroupID
	}

	var jobs []job
	for _, g := range groups {
		for _, ref := range r.mapping.JitGroupsFor(g) {
			jobs = append(jobs, job{group: g, jitGroup: ref})
		}
	}
	if len(jobs) == 0 {
		return nil, nil
	}

	var mu sync.Mutex
	var results []principal.WithExpiry
	var failures []error

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(r.parallelism)

	for _, j := range jobs {
		j := j
		eg.Go(func() error {
			membership, err := r.directory.GetMembership(egCtx, user, j.group)
			if err != nil {
				logging.FromContext(egCtx).Warnw("failed to resolve JIT-managed membership",
					"user", user, "group", j.group, "error", err)
				mu.Lock()
				failures = append(failures, fmt.Errorf("membership %q: %w", j.group, err))
				mu.Unlock()
				return nil
			}

			expiry, ok := earliestExpiry(membership.Roles)
			if !ok {
				logging.FromContext(egCtx).Warnw("ignoring JIT-managed membership with no role expiry",
					"user", user, "group", j.group)
				return nil
			}

			mu.Lock()
			results = append(results, principal.Temporary(principal.NewJitGroup(j.jitGroup), expiry))
			mu.Unlock()
			return nil
		})
	}
	// eg.Wait never returns a non-nil error: every goroutine reports its own
	// failure via the shared `failures` slice instead, so one bad membership
	// never aborts the others (a group built with errgroup.WithContext would
	// otherwise cancel egCtx on the first error).
	_ = eg.Wait()

	return results, errs.NewAggregateException(failures)
}

// earliestExpiry returns the soonest expiry across roles, and false if no
// role carries an expiry at all.
func earliestExpiry(roles []MembershipRole) (time.Time, bool) {
	var best time.Time
	found := false
	for _, role := range roles {
		if role.Expiry == nil {
			continue
		}
		if !found || role.Expiry.Before(best) {
			best = *role.Expiry
			found = true
		}
	}
	return best, found
}
