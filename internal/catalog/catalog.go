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

// Package catalog implements the read-only policy catalog (spec component
// C7): a view over a set of policy.Environment trees filtered to what a
// given subject can VIEW. It is the only surface the HTTP transport layer
// uses for listing; it never exposes a node the subject may not see.
package catalog

import (
	"time"

	"github.com/abcxyz/jitaccess/internal/acl"
	"github.com/abcxyz/jitaccess/internal/policy"
	"github.com/abcxyz/jitaccess/internal/principal"
)

// Catalog is a read-only projection of one or more policy.Environment trees
// for a single subject, evaluated at a point in time.
type Catalog struct {
	sources []*policy.Environment
	subject acl.PrincipalSource
	now     time.Time
}

// New builds a Catalog over sources for subject, evaluated at now.
func New(sources []*policy.Environment, subject acl.PrincipalSource, now time.Time) *Catalog {
	return &Catalog{sources: sources, subject: subject, now: now}
}

// Environments returns every environment visible to the subject (VIEW
// allowed at the environment node itself).
func (c *Catalog) Environments() []*policy.Environment {
	var out []*policy.Environment
	for _, env := range c.sources {
		if policy.IsAccessAllowed(env, c.subject, c.now, acl.Of(acl.View)) {
			out = append(out, env)
		}
	}
	return out
}

// Environment returns the named environment if it exists and is visible to
// the subject, or nil.
func (c *Catalog) Environment(name string) *policy.Environment {
	for _, env := range c.sources {
		if env.Name != name {
			continue
		}
		if !policy.IsAccessAllowed(env, c.subject, c.now, acl.Of(acl.View)) {
			return nil
		}
		return env
	}
	return nil
}

// Systems returns every system of env visible to the subject. Callers must
// have obtained env through Environment or Environments (i.e. already
// confirmed visibility of the environment itself).
func (c *Catalog) Systems(env *policy.Environment) []*policy.System {
	var out []*policy.System
	for _, sys := range env.Systems {
		if policy.IsAccessAllowed(sys, c.subject, c.now, acl.Of(acl.View)) {
			out = append(out, sys)
		}
	}
	return out
}

// Groups returns every group of sys visible to the subject.
func (c *Catalog) Groups(sys *policy.System) []*policy.Group {
	var out []*policy.Group
	for _, grp := range sys.Groups {
		if policy.IsAccessAllowed(grp, c.subject, c.now, acl.Of(acl.View)) {
			out = append(out, grp)
		}
	}
	return out
}

// Group looks up a specific group by its fully qualified JitGroupID,
// returning nil if it does not exist or is not visible to the subject.
func (c *Catalog) Group(id principal.JitGroupID) *policy.Group {
	env := c.Environment(id.Environment)
	if env == nil {
		return nil
	}
	for _, sys := range env.Systems {
		if sys.Name != id.System {
			continue
		}
		for _, grp := range sys.Groups {
			if grp.Name != id.Name {
				continue
			}
			if !policy.IsAccessAllowed(grp, c.subject, c.now, acl.Of(acl.View)) {
				return nil
			}
			return grp
		}
	}
	return nil
}
