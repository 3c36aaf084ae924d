package risk

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/MehulG/agent-ctrl/pkg/expr"
)

// Mode ladder. Escalation saturates at danger.
const (
	ModeSafe   = "safe"
	ModeReview = "review"
	ModeDanger = "danger"

	EscalateOneLevel = "one_level"
)

// Intent is a proposed tool invocation as seen by the control plane.
type Intent struct {
	Server string
	Tool   string
	Env    string
	Args   map[string]any
	Actor  string
}

// Result is the outcome of scoring one intent.
type Result struct {
	Mode         string   `json:"mode"`
	Score        int      `json:"score"`
	Reasons      []string `json:"reasons"`
	MatchedRules []string `json:"rules"`
}

// Engine scores intents against a validated risk configuration. An
// Engine is immutable after construction and safe for concurrent use.
type Engine struct {
	cfg    Config
	logger *slog.Logger
}

// NewEngine validates the configuration and builds an engine.
func NewEngine(cfg Config, logger *slog.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid risk config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{cfg: cfg, logger: logger.With("component", "risk")}, nil
}

// Score runs the deterministic scoring algorithm: baseline from the
// safe mode, derived vars, rules in declaration order, then the
// score-to-mode mapping and a final clamp.
func (e *Engine) Score(intent Intent) Result {
	mode := ModeSafe
	score := e.cfg.Modes[ModeSafe].Score
	var reasons, matched []string

	vars := e.baseVars(intent)
	e.computeVars(vars)

	for _, rule := range e.cfg.Rules {
		if !whenMatches(rule.When, intent) {
			continue
		}
		matched = append(matched, rule.Name)
		if rule.Reason != "" {
			reasons = append(reasons, rule.Reason)
		}

		if rule.ScoreExpr != "" {
			vars["score"] = score
			vars["mode"] = mode
			v, err := expr.Eval(rule.ScoreExpr, vars)
			if err != nil {
				mode = maxMode(mode, ModeReview)
				reasons = append(reasons, fmt.Sprintf("score expression failed in rule %q; escalated", rule.Name))
				e.logger.Warn("score expression failed", "rule", rule.Name, "error", err)
			} else if n, ok := toNumber(v); ok {
				score = clamp(int(math.Round(n)))
			}
		}

		if rule.SetMode != "" {
			mode = rule.SetMode
		}
		if rule.Escalate == EscalateOneLevel {
			mode = escalateOne(mode)
		}

		// Keep the score aligned with the mode baseline after every rule so
		// a mode bump can never leave a lower score behind.
		score = max(score, e.baseline(mode))
	}

	if len(e.cfg.SetModeByScore) > 0 {
		vars["score"] = score
		vars["mode"] = mode
		for _, entry := range e.cfg.SetModeByScore {
			ok, err := evalBool(entry.Expr, vars)
			if err != nil {
				mode = maxMode(mode, ModeReview)
				reasons = append(reasons, "set_mode_by_score expression failed; requiring review")
				e.logger.Warn("set_mode_by_score expression failed", "mode", entry.Name, "error", err)
				continue
			}
			if ok {
				mode = entry.Name
				break
			}
		}
		score = max(score, e.baseline(mode))
	}

	return Result{
		Mode:         mode,
		Score:        clamp(score),
		Reasons:      reasons,
		MatchedRules: matched,
	}
}

// baseVars builds the binding map for expressions: the intent fields
// plus every scalar argument hoisted to the top level by key.
func (e *Engine) baseVars(intent Intent) map[string]any {
	vars := map[string]any{
		"server": intent.Server,
		"tool":   intent.Tool,
		"env":    intent.Env,
		"args":   intent.Args,
	}
	for k, v := range intent.Args {
		switch v.(type) {
		case int, int32, int64, uint, uint32, uint64, float32, float64, string, bool:
			vars[k] = v
		}
	}
	return vars
}

// computeVars evaluates the derived variables in declaration order,
// accumulating results so later vars can reference earlier ones. A
// failing var is bound to 0 and scoring continues.
func (e *Engine) computeVars(vars map[string]any) {
	for _, entry := range e.cfg.Vars {
		v, err := expr.Eval(entry.Expr, vars)
		if err != nil {
			vars[entry.Name] = 0
			e.logger.Warn("risk var failed, bound to 0", "var", entry.Name, "error", err)
			continue
		}
		vars[entry.Name] = v
	}
}

// baseline returns the configured score floor for a mode, falling back
// to the safe baseline for unknown modes.
func (e *Engine) baseline(mode string) int {
	if m, ok := e.cfg.Modes[mode]; ok {
		return m.Score
	}
	return e.cfg.Modes[ModeSafe].Score
}

func evalBool(src string, vars map[string]any) (bool, error) {
	parsed, err := expr.Parse(src)
	if err != nil {
		return false, err
	}
	return parsed.EvalBool(vars)
}

func modeRank(mode string) int {
	switch mode {
	case ModeReview:
		return 1
	case ModeDanger:
		return 2
	}
	return 0
}

// maxMode returns the higher of two modes on the ladder.
func maxMode(a, b string) string {
	if modeRank(b) > modeRank(a) {
		return b
	}
	return a
}

// escalateOne bumps a mode one step up the ladder, saturating at
// danger. Unknown modes are left as-is.
func escalateOne(mode string) string {
	switch mode {
	case ModeSafe:
		return ModeReview
	case ModeReview:
		return ModeDanger
	}
	return mode
}

func clamp(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

func toNumber(v any) (float64, bool) {
	switch x := v.(type) {
	case int64:
		return float64(x), true
	case float64:
		return x, true
	}
	return 0, false
}
