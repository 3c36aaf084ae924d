// Package risk scores intercepted tool-call intents against a
// declarative rule set. A score is a number in [0,100]; a mode is a
// qualitative level on the ladder safe < review < danger. Rules compose
// additively: a later rule can raise the mode but the engine never
// downgrades below a rule-imposed level.
package risk

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Config is the risk section of risk.yaml.
type Config struct {
	// Mode selects the scoring strategy. Only "modes" is supported.
	Mode string `yaml:"mode"`

	// Modes maps mode names to their baseline scores. Must contain at
	// least safe, review, and danger.
	Modes map[string]ModeConfig `yaml:"modes"`

	// Vars are derived variables computed once per intent, in declaration
	// order. Later entries may reference earlier ones.
	Vars OrderedExprs `yaml:"vars"`

	// Rules are applied in declaration order to every matching intent.
	Rules []Rule `yaml:"rules"`

	// SetModeByScore maps the final score back to a mode: expressions are
	// evaluated in declaration order and the first truthy one wins.
	SetModeByScore OrderedExprs `yaml:"set_mode_by_score"`
}

// RootConfig is the top-level document of risk.yaml.
type RootConfig struct {
	Risk Config `yaml:"risk"`
}

// ModeConfig holds the per-mode baseline.
type ModeConfig struct {
	Score int `yaml:"score"`
}

// Rule is one entry of the rules list.
type Rule struct {
	Name string `yaml:"name"`
	When When   `yaml:"when"`

	// Reason is appended to the result's reasons when the rule matches.
	Reason string `yaml:"reason"`

	// ScoreExpr recomputes the score; it may reference score and mode.
	ScoreExpr string `yaml:"score_expr"`

	// SetMode assigns the mode outright.
	SetMode string `yaml:"set_mode"`

	// Escalate bumps the mode one step when set to "one_level".
	Escalate string `yaml:"escalate"`
}

// When selects the intents a rule applies to. Server, tool, and env are
// glob patterns; Args adds per-argument predicates, all of which must
// hold.
type When struct {
	Server string                    `yaml:"server"`
	Tool   string                    `yaml:"tool"`
	Env    string                    `yaml:"env"`
	Args   map[string]map[string]any `yaml:"args"`
}

// NamedExpr is one entry of an ordered expression mapping.
type NamedExpr struct {
	Name string
	Expr string
}

// OrderedExprs preserves the declaration order of a YAML mapping of
// name → expression, which plain map decoding would lose.
type OrderedExprs []NamedExpr

// UnmarshalYAML decodes a mapping node keeping key order.
func (o *OrderedExprs) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.MappingNode {
		return fmt.Errorf("expected a mapping of name to expression, got %s", value.Tag)
	}
	out := make(OrderedExprs, 0, len(value.Content)/2)
	for i := 0; i+1 < len(value.Content); i += 2 {
		var name, expr string
		if err := value.Content[i].Decode(&name); err != nil {
			return err
		}
		if err := value.Content[i+1].Decode(&expr); err != nil {
			return fmt.Errorf("expression for %q must be a string: %w", name, err)
		}
		out = append(out, NamedExpr{Name: name, Expr: expr})
	}
	*o = out
	return nil
}

// Validate checks the structural requirements the engine depends on.
func (c *Config) Validate() error {
	if c.Mode != "modes" {
		return fmt.Errorf("risk.mode must be %q, got %q", "modes", c.Mode)
	}
	if len(c.Modes) == 0 {
		return fmt.Errorf("risk.modes is required")
	}
	for _, must := range []string{ModeSafe, ModeReview, ModeDanger} {
		if _, ok := c.Modes[must]; !ok {
			return fmt.Errorf("risk.modes must include %q", must)
		}
	}
	seen := make(map[string]bool, len(c.Rules))
	for _, r := range c.Rules {
		if r.Name == "" {
			return fmt.Errorf("risk rule without a name")
		}
		if seen[r.Name] {
			return fmt.Errorf("duplicate risk rule name %q", r.Name)
		}
		seen[r.Name] = true
		if r.Escalate != "" && r.Escalate != EscalateOneLevel {
			return fmt.Errorf("risk rule %q: unsupported escalate value %q", r.Name, r.Escalate)
		}
	}
	return nil
}
