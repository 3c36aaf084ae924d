// Package policy decides what happens to an intercepted tool call:
// allow, deny, or pending. Policies are matched first-match-wins over
// glob patterns for (server, tool, env); when nothing matches the
// decision is deny. The package also carries the linter, the YAML test
// runner, and the approval/deny condition checkers.
package policy

import (
	"fmt"
	"path"
)

// Effects a policy can prescribe.
const (
	EffectAllow   = "allow"
	EffectDeny    = "deny"
	EffectPending = "pending"
)

// Match selects the intents a policy applies to. Each field is a glob
// pattern defaulting to "*".
type Match struct {
	Server string `yaml:"server"`
	Tool   string `yaml:"tool"`
	Env    string `yaml:"env"`
}

// Policy is one entry of the policy list.
type Policy struct {
	ID     string `yaml:"id"`
	Match  Match  `yaml:"match"`
	Effect string `yaml:"effect"`
	Reason string `yaml:"reason"`

	// RequireApprovalIf gates an allow behind human approval. It may
	// reference risk_score / risk_mode (or the dotted risk.score /
	// risk.mode forms).
	RequireApprovalIf string `yaml:"require_approval_if"`

	// Deny overrides the decision to deny when truthy. Same bindings and
	// fail-closed behavior as RequireApprovalIf.
	Deny string `yaml:"deny"`
}

// Config is the top-level document of policy.yaml.
type Config struct {
	Policies []Policy `yaml:"policies"`
}

// Validate applies structural checks and fills match defaults.
func (c *Config) Validate() error {
	seen := make(map[string]bool, len(c.Policies))
	for i := range c.Policies {
		p := &c.Policies[i]
		if p.ID == "" {
			return fmt.Errorf("policy at index %d has no id", i)
		}
		if seen[p.ID] {
			return fmt.Errorf("duplicate policy id %q", p.ID)
		}
		seen[p.ID] = true

		switch p.Effect {
		case EffectAllow, EffectDeny, EffectPending:
		default:
			return fmt.Errorf("policy %q: invalid effect %q", p.ID, p.Effect)
		}

		if p.Match.Server == "" {
			p.Match.Server = "*"
		}
		if p.Match.Tool == "" {
			p.Match.Tool = "*"
		}
		if p.Match.Env == "" {
			p.Match.Env = "*"
		}
	}
	return nil
}

// ByID returns the policy with the given id, or nil.
func (c *Config) ByID(id string) *Policy {
	if id == "" {
		return nil
	}
	for i := range c.Policies {
		if c.Policies[i].ID == id {
			return &c.Policies[i]
		}
	}
	return nil
}

// Decision is the result of matching an intent against the policy list.
type Decision struct {
	// Decision is allow, deny, or pending.
	Decision string

	// PolicyID is the matched policy, empty when nothing matched.
	PolicyID string

	// Reason is the matched policy's reason, or the default-deny text.
	Reason string

	// Matched is a human-readable rendering of the matched patterns.
	Matched string

	// Index is the matched policy's position, -1 for the default deny.
	Index int
}

// Decide matches first-match-wins over the declared order. When no
// policy matches, the decision is deny — default-deny is an invariant,
// not a configuration choice.
func (c *Config) Decide(server, tool, env string) Decision {
	for i, p := range c.Policies {
		if !globMatch(p.Match.Server, server) ||
			!globMatch(p.Match.Tool, tool) ||
			!globMatch(p.Match.Env, env) {
			continue
		}
		return Decision{
			Decision: p.Effect,
			PolicyID: p.ID,
			Reason:   p.Reason,
			Matched:  fmt.Sprintf("server=%s tool=%s env=%s", p.Match.Server, p.Match.Tool, p.Match.Env),
			Index:    i,
		}
	}
	return Decision{
		Decision: EffectDeny,
		Reason:   "No policy matched",
		Matched:  "none",
		Index:    -1,
	}
}

// globMatch reports whether name matches the pattern. Empty patterns
// match everything; malformed patterns match nothing.
func globMatch(pattern, name string) bool {
	if pattern == "" || pattern == "*" {
		return true
	}
	ok, err := path.Match(pattern, name)
	return err == nil && ok
}
