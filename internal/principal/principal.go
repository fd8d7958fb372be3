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

// Package principal implements the typed principal identifiers that can
// appear in an access control list or a resolved Subject: end users,
// directory groups, service accounts, JIT groups, user classes, and
// Cloud Identity domain principal sets.
package principal

import (
	"fmt"
	"strings"
)

// Kind distinguishes the variants of Principal.
type Kind int

const (
	// KindInvalid is the zero value; no parsed Principal ever has this kind.
	KindInvalid Kind = iota
	// KindEndUser identifies a single end-user email.
	KindEndUser
	// KindGroup identifies a directory group.
	KindGroup
	// KindServiceAccount identifies a cloud service account.
	KindServiceAccount
	// KindJitGroup identifies a JIT group, scoped to an environment and system.
	KindJitGroup
	// KindUserClass identifies a built-in class of users, e.g. all authenticated users.
	KindUserClass
	// KindDomain identifies every principal in a Cloud Identity directory domain.
	KindDomain
)

// prefixes used in the canonical string form, keyed by Kind.
var prefixes = map[Kind]string{
	KindEndUser:        "user",
	KindGroup:          "group",
	KindServiceAccount: "serviceAccount",
	KindJitGroup:       "jitgroup",
	KindUserClass:      "class",
	KindDomain:         "domain",
}

// AuthenticatedUsers is the well-known user class every Subject carries.
const AuthenticatedUsers = "authenticatedUsers"

// Principal is a tagged identifier of a security principal. The zero value
// is not a valid Principal; use one of the constructors or Parse.
type Principal struct {
	kind Kind

	// value is the canonical, case-folded identity: an email for
	// KindEndUser/KindGroup, a service account email for
	// KindServiceAccount, the class name for KindUserClass, the
	// lower-cased domain for KindDomain. For KindJitGroup, value is the
	// "/"-joined (environment, system, name) path.
	value string

	// displayValue preserves the original casing of the local part for
	// end users, groups, and service accounts so that toString can print
	// a lower-cased domain without destroying the local-part casing the
	// directory actually uses. For all other kinds displayValue equals value.
	displayValue string
}

// NewEndUser constructs an end-user Principal from an email address.
func NewEndUser(email string) Principal {
	return Principal{kind: KindEndUser, value: foldEmail(email), displayValue: foldLocalPreserveDomain(email)}
}

// NewGroup constructs a directory-group Principal from a group email.
func NewGroup(email string) Principal {
	return Principal{kind: KindGroup, value: foldEmail(email), displayValue: foldLocalPreserveDomain(email)}
}

// NewServiceAccount constructs a service-account Principal from its email.
func NewServiceAccount(email string) Principal {
	return Principal{kind: KindServiceAccount, value: foldEmail(email), displayValue: foldLocalPreserveDomain(email)}
}

// NewUserClass constructs a user-class Principal, e.g. "authenticatedUsers".
func NewUserClass(class string) Principal {
	v := strings.ToLower(class)
	return Principal{kind: KindUserClass, value: v, displayValue: v}
}

// NewDomain constructs a Cloud Identity directory-principal-set Principal
// for the given domain. The domain is always lower-cased.
func NewDomain(domain string) Principal {
	v := strings.ToLower(domain)
	return Principal{kind: KindDomain, value: v, displayValue: v}
}

// JitGroupID identifies a JIT group by its (environment, system, name) path.
type JitGroupID struct {
	Environment string
	System      string
	Name        string
}

// String renders the JitGroupID as "environment/system/name".
func (id JitGroupID) String() string {
	return strings.Join([]string{id.Environment, id.System, id.Name}, "/")
}

// NewJitGroup constructs a JIT-group Principal.
func NewJitGroup(id JitGroupID) Principal {
	v := strings.ToLower(id.String())
	return Principal{kind: KindJitGroup, value: v, displayValue: v}
}

// Kind reports the Principal's variant.
func (p Principal) Kind() Kind { return p.kind }

// Value returns the canonical, case-folded identity of the principal.
func (p Principal) Value() string { return p.value }

// IsValid reports whether p was produced by a constructor or Parse, as
// opposed to being the zero value.
func (p Principal) IsValid() bool { return p.kind != KindInvalid }

// JitGroupID returns the (environment, system, name) triple for a
// KindJitGroup principal. It panics if p is not a JIT group; callers must
// check Kind() first.
func (p Principal) JitGroupID() JitGroupID {
	if p.kind != KindJitGroup {
		panic("principal: JitGroupID called on non-JIT-group principal")
	}
	parts := strings.SplitN(p.value, "/", 3)
	return JitGroupID{Environment: parts[0], System: parts[1], Name: parts[2]}
}

// IsIamPrincipal reports whether this principal kind can appear in a cloud
// IAM binding. User classes and Cloud Identity domain sets cannot.
func (p Principal) IsIamPrincipal() bool {
	switch p.kind {
	case KindEndUser, KindGroup, KindServiceAccount, KindJitGroup:
		return true
	default:
		return false
	}
}

// String renders the canonical prefixed form, e.g. "user:alice@example.com".
// The domain portion of email-shaped values is always lower-case; the
// local part preserves whatever casing Parse/the constructor received,
// case-insensitivity is only applied for equality purposes.
func (p Principal) String() string {
	prefix, ok := prefixes[p.kind]
	if !ok {
		return "invalid:" + p.value
	}
	return prefix + ":" + p.displayValue
}

// Equal reports whether p and other identify the same principal. Equality
// is defined over the canonical, case-folded value and kind.
func (p Principal) Equal(other Principal) bool {
	return p.kind == other.kind && p.value == other.value
}

// Compare defines a total, stable order over Principal values: first by
// Kind, then by canonical value. It is suitable for sorting ACL audiences
// and proposal recipients deterministically across process runs.
func (p Principal) Compare(other Principal) int {
	if p.kind != other.kind {
		if p.kind < other.kind {
			return -1
		}
		return 1
	}
	return strings.Compare(p.value, other.value)
}

// Parse parses the canonical prefixed string form of a Principal, e.g.
// "user:alice@example.com" or "jitgroup:prod/billing/admins". It is
// case-insensitive on the prefix.
func Parse(s string) (Principal, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 || parts[1] == "" {
		return Principal{}, fmt.Errorf("principal %q is not of the form \"<type>:<id>\"", s)
	}
	kindStr, rest := strings.ToLower(parts[0]), parts[1]

	switch kindStr {
	case "user":
		if !looksLikeEmail(rest) {
			return Principal{}, fmt.Errorf("principal %q does not look like a user email", s)
		}
		return NewEndUser(rest), nil
	case "group":
		if !looksLikeEmail(rest) {
			return Principal{}, fmt.Errorf("principal %q does not look like a group email", s)
		}
		return NewGroup(rest), nil
	case "serviceaccount":
		if !looksLikeEmail(rest) {
			return Principal{}, fmt.Errorf("principal %q does not look like a service account email", s)
		}
		return NewServiceAccount(rest), nil
	case "jitgroup":
		segs := strings.Split(rest, "/")
		if len(segs) != 3 || segs[0] == "" || segs[1] == "" || segs[2] == "" {
			return Principal{}, fmt.Errorf("principal %q is not of the form \"jitgroup:<environment>/<system>/<name>\"", s)
		}
		return NewJitGroup(JitGroupID{Environment: segs[0], System: segs[1], Name: segs[2]}), nil
	case "class":
		return NewUserClass(rest), nil
	case "domain":
		return NewDomain(rest), nil
	default:
		return Principal{}, fmt.Errorf("principal %q has unknown type prefix %q", s, parts[0])
	}
}

func looksLikeEmail(s string) bool {
	at := strings.LastIndexByte(s, '@')
	return at > 0 && at < len(s)-1
}

// foldEmail lower-cases the entire address for use as the canonical
// equality/ordering value.
func foldEmail(email string) string {
	return strings.ToLower(email)
}

// foldLocalPreserveDomain lower-cases only the domain portion of an email
// address, preserving whatever casing the local part was given, for use in
// String(). Per the spec the directory is insensitive on the local part
// too, but we keep the caller's original local-part spelling in the
// human-facing string form while still folding case for Equal/Compare via
// the separate `value` field.
func foldLocalPreserveDomain(email string) string {
	at := strings.LastIndexByte(email, '@')
	if at < 0 {
		return strings.ToLower(email)
	}
	return email[:at] + "@" + strings.ToLower(email[at+1:])
}
