// SPDX-License-Identifier: AGPL-3.0-or-later

// Package creds resolves download credentials from URL host rules and
// probes token validity against registry endpoints.
package creds

import (
	"net/url"
	"os"
	"strings"

	"github.com/rigup-org/rigup/internal/types"
)

// Credential is a resolved bearer token plus the rule that supplied it.
type Credential struct {
	Token string
	Rule  types.CredentialRule
}

// Resolver matches URLs against credential rules in declaration order.
// Environment values are snapshotted at construction so resolution is a
// pure function of the URL afterwards.
type Resolver struct {
	rules  []types.CredentialRule
	tokens map[string]string // env var name -> value at construction
}

// NewResolver snapshots the current environment for the given rules.
func NewResolver(rules []types.CredentialRule) *Resolver {
	return NewResolverEnv(rules, os.Getenv)
}

// NewResolverEnv is NewResolver with an injectable environment, for tests.
func NewResolverEnv(rules []types.CredentialRule, getenv func(string) string) *Resolver {
	tokens := make(map[string]string, len(rules))
	for _, r := range rules {
		if r.Env != "" {
			tokens[r.Env] = getenv(r.Env)
		}
	}
	return &Resolver{rules: rules, tokens: tokens}
}

// Resolve returns the credential for the first rule whose host pattern
// matches the URL's hostname. A matching rule whose env var is unset or
// empty behaves as no match: the download proceeds unauthenticated.
func (r *Resolver) Resolve(rawURL string) (Credential, bool) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return Credential{}, false
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return Credential{}, false
	}
	for _, rule := range r.rules {
		if !matchHost(rule.Host, host) {
			continue
		}
		token := r.tokens[rule.Env]
		if token == "" {
			return Credential{}, false
		}
		return Credential{Token: token, Rule: rule}, true
	}
	return Credential{}, false
}

// RuleFor returns the first rule whose pattern matches host, regardless of
// whether its token is set. Used for gated-set probing.
func (r *Resolver) RuleFor(host string) (types.CredentialRule, bool) {
	host = strings.ToLower(strings.TrimSpace(host))
	for _, rule := range r.rules {
		if matchHost(rule.Host, host) {
			return rule, true
		}
	}
	return types.CredentialRule{}, false
}

// Token returns the snapshotted value for a rule's env var.
func (r *Resolver) Token(rule types.CredentialRule) string {
	return r.tokens[rule.Env]
}

// Secrets returns all non-empty snapshotted token values, for log redaction.
func (r *Resolver) Secrets() []string {
	var out []string
	seen := make(map[string]struct{}, len(r.tokens))
	for _, v := range r.tokens {
		if v == "" {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// matchHost matches the pattern against the full hostname or any subdomain
// of it. Matching is over the parsed authority component only, so
// "civitai.com" never matches "notcivitai.com".
func matchHost(pattern, host string) bool {
	pattern = strings.ToLower(pattern)
	if host == pattern {
		return true
	}
	return strings.HasSuffix(host, "."+pattern)
}
