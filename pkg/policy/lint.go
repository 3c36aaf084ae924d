package policy

import "fmt"

// LintResult partitions findings into errors and warnings. Lint is
// deterministic: the same config always yields the same result.
type LintResult struct {
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

// LintOptions tunes deployment-specific diagnostics.
type LintOptions struct {
	// ApprovalsEnabled suppresses the effect=pending warning when the
	// deployment runs the approvals surface.
	ApprovalsEnabled bool
}

// Lint checks a policy config for the mistakes operators actually make:
// a missing catch-all, earlier policies shadowing later ones, and
// pending effects in a deployment without approvals.
func Lint(cfg *Config, opts LintOptions) LintResult {
	var result LintResult

	hasCatchAll := false
	for _, p := range cfg.Policies {
		if p.Match.Server == "*" && p.Match.Tool == "*" && p.Match.Env == "*" {
			hasCatchAll = true
			break
		}
	}
	if !hasCatchAll {
		result.Warnings = append(result.Warnings,
			`No catch-all policy found (match: server="*", tool="*", env="*").`)
	}

	for i, earlier := range cfg.Policies {
		for j := i + 1; j < len(cfg.Policies); j++ {
			later := cfg.Policies[j]
			if subsumes(earlier.Match.Server, later.Match.Server) &&
				subsumes(earlier.Match.Tool, later.Match.Tool) &&
				subsumes(earlier.Match.Env, later.Match.Env) {
				result.Warnings = append(result.Warnings, fmt.Sprintf(
					"Policy %q (index %d) likely shadows %q (index %d): earlier server=%s tool=%s env=%s, later server=%s tool=%s env=%s",
					earlier.ID, i, later.ID, j,
					earlier.Match.Server, earlier.Match.Tool, earlier.Match.Env,
					later.Match.Server, later.Match.Tool, later.Match.Env,
				))
			}
		}
	}

	if !opts.ApprovalsEnabled {
		for _, p := range cfg.Policies {
			if p.Effect == EffectPending {
				result.Warnings = append(result.Warnings, fmt.Sprintf(
					"Policy %q uses effect=pending but this deployment does not run the approvals surface.", p.ID))
			}
		}
	}

	return result
}

// subsumes reports whether pattern a matches everything pattern b
// would. A full answer is glob-intersection; the useful approximation
// is that "*" subsumes anything and a pattern subsumes its exact twin.
func subsumes(a, b string) bool {
	return a == "*" || a == b
}
