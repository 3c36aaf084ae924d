package risk

import (
	"log/slog"
	"testing"

	"gopkg.in/yaml.v3"
)

func testModes() map[string]ModeConfig {
	return map[string]ModeConfig{
		ModeSafe:   {Score: 0},
		ModeReview: {Score: 40},
		ModeDanger: {Score: 80},
	}
}

func mustEngine(t *testing.T, cfg Config) *Engine {
	t.Helper()
	engine, err := NewEngine(cfg, slog.Default())
	if err != nil {
		t.Fatalf("NewEngine returned error: %v", err)
	}
	return engine
}

// TestNewEngine_Validation tests config validation at construction.
func TestNewEngine_Validation(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{
			name: "valid",
			cfg:  Config{Mode: "modes", Modes: testModes()},
		},
		{
			name:    "unsupported mode strategy",
			cfg:     Config{Mode: "levels", Modes: testModes()},
			wantErr: true,
		},
		{
			name:    "missing modes",
			cfg:     Config{Mode: "modes"},
			wantErr: true,
		},
		{
			name: "missing danger",
			cfg: Config{Mode: "modes", Modes: map[string]ModeConfig{
				ModeSafe: {}, ModeReview: {Score: 40},
			}},
			wantErr: true,
		},
		{
			name: "duplicate rule names",
			cfg: Config{Mode: "modes", Modes: testModes(), Rules: []Rule{
				{Name: "a"}, {Name: "a"},
			}},
			wantErr: true,
		},
		{
			name: "bad escalate value",
			cfg: Config{Mode: "modes", Modes: testModes(), Rules: []Rule{
				{Name: "a", Escalate: "two_levels"},
			}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewEngine(tt.cfg, nil)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewEngine error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

// TestScore_Baseline tests scoring with no matching rules.
func TestScore_Baseline(t *testing.T) {
	engine := mustEngine(t, Config{Mode: "modes", Modes: testModes()})

	got := engine.Score(Intent{Server: "coingecko", Tool: "get_markets", Env: "dev"})
	if got.Mode != ModeSafe || got.Score != 0 {
		t.Errorf("Score = %+v, want safe/0", got)
	}
	if len(got.MatchedRules) != 0 || len(got.Reasons) != 0 {
		t.Errorf("expected no matched rules or reasons, got %+v", got)
	}
}

// TestScore_Rules tests rule matching, escalation, and realignment.
func TestScore_Rules(t *testing.T) {
	cfg := Config{
		Mode:  "modes",
		Modes: testModes(),
		Rules: []Rule{
			{
				Name:   "publish-is-reviewed",
				When:   When{Server: "github", Tool: "publish_*"},
				Reason: "publishing requires review",
				SetMode: ModeReview,
			},
			{
				Name:     "prod-escalates",
				When:     When{Env: "prod"},
				Escalate: EscalateOneLevel,
			},
			{
				Name:      "amount-scales-score",
				When:      When{Args: map[string]map[string]any{"amount": {"gte": 1000}}},
				ScoreExpr: "min(100, amount / 1000 * 10)",
			},
		},
	}
	engine := mustEngine(t, cfg)

	tests := []struct {
		name        string
		intent      Intent
		wantMode    string
		wantScore   int
		wantMatched int
	}{
		{
			name:        "no rule matches",
			intent:      Intent{Server: "coingecko", Tool: "get_markets", Env: "dev"},
			wantMode:    ModeSafe,
			wantScore:   0,
			wantMatched: 0,
		},
		{
			name:        "set_mode raises score to baseline",
			intent:      Intent{Server: "github", Tool: "publish_release", Env: "dev"},
			wantMode:    ModeReview,
			wantScore:   40,
			wantMatched: 1,
		},
		{
			name:        "escalation stacks across rules",
			intent:      Intent{Server: "github", Tool: "publish_release", Env: "prod"},
			wantMode:    ModeDanger,
			wantScore:   80,
			wantMatched: 2,
		},
		{
			name: "score expression overrides",
			intent: Intent{
				Server: "payments", Tool: "transfer", Env: "dev",
				Args: map[string]any{"amount": 5000},
			},
			wantMode:    ModeSafe,
			wantScore:   50,
			wantMatched: 1,
		},
		{
			name: "string amount fails numeric predicate",
			intent: Intent{
				Server: "payments", Tool: "transfer", Env: "dev",
				Args: map[string]any{"amount": "5000"},
			},
			wantMode:    ModeSafe,
			wantScore:   0,
			wantMatched: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := engine.Score(tt.intent)
			if got.Mode != tt.wantMode {
				t.Errorf("mode = %q, want %q", got.Mode, tt.wantMode)
			}
			if got.Score != tt.wantScore {
				t.Errorf("score = %d, want %d", got.Score, tt.wantScore)
			}
			if len(got.MatchedRules) != tt.wantMatched {
				t.Errorf("matched rules = %v, want %d", got.MatchedRules, tt.wantMatched)
			}
			if got.Score < 0 || got.Score > 100 {
				t.Errorf("score %d out of [0,100]", got.Score)
			}
			if got.Score < engine.baseline(got.Mode) {
				t.Errorf("score %d below %q baseline %d", got.Score, got.Mode, engine.baseline(got.Mode))
			}
		})
	}
}

// TestScore_Vars tests derived variables, including failure binding.
func TestScore_Vars(t *testing.T) {
	cfg := Config{
		Mode:  "modes",
		Modes: testModes(),
		Vars: OrderedExprs{
			{Name: "amount_norm", Expr: "amount / 1000"},
			{Name: "weighted", Expr: "amount_norm * 10"},
		},
		Rules: []Rule{
			{
				Name:      "scaled",
				When:      When{Server: "payments"},
				ScoreExpr: "min(100, weighted)",
			},
		},
	}
	engine := mustEngine(t, cfg)

	got := engine.Score(Intent{
		Server: "payments", Tool: "transfer", Env: "dev",
		Args: map[string]any{"amount": 7000},
	})
	if got.Score != 70 {
		t.Errorf("score = %d, want 70", got.Score)
	}

	// No amount argument: both vars fail, are bound to 0, and scoring
	// continues with score 0.
	got = engine.Score(Intent{Server: "payments", Tool: "transfer", Env: "dev"})
	if got.Score != 0 || got.Mode != ModeSafe {
		t.Errorf("Score = %+v, want safe/0 with failed vars bound to 0", got)
	}
	if len(got.MatchedRules) != 1 {
		t.Errorf("matched rules = %v, want the scaled rule", got.MatchedRules)
	}
}

// TestScore_SandboxedVar tests that a hostile expression in vars cannot
// escape: it fails at parse time, the var binds to 0, scoring continues.
func TestScore_SandboxedVar(t *testing.T) {
	cfg := Config{
		Mode:  "modes",
		Modes: testModes(),
		Vars: OrderedExprs{
			{Name: "oops", Expr: "__import__('os').system('x')"},
		},
		Rules: []Rule{
			{Name: "uses-oops", When: When{}, ScoreExpr: "oops + 25"},
		},
	}
	engine := mustEngine(t, cfg)

	got := engine.Score(Intent{Server: "x", Tool: "y", Env: "dev"})
	if got.Score != 25 {
		t.Errorf("score = %d, want 25 (oops bound to 0)", got.Score)
	}
}

// TestScore_ExprFailureEscalates tests the fail-closed path for a
// broken score expression.
func TestScore_ExprFailureEscalates(t *testing.T) {
	cfg := Config{
		Mode:  "modes",
		Modes: testModes(),
		Rules: []Rule{
			{Name: "broken", When: When{}, ScoreExpr: "no_such_var + )"},
		},
	}
	engine := mustEngine(t, cfg)

	got := engine.Score(Intent{Server: "x", Tool: "y", Env: "dev"})
	if got.Mode != ModeReview {
		t.Errorf("mode = %q, want review after expression failure", got.Mode)
	}
	if got.Score != 40 {
		t.Errorf("score = %d, want review baseline 40", got.Score)
	}
	if len(got.Reasons) == 0 {
		t.Error("expected a diagnostic reason for the failed expression")
	}
}

// TestScore_SetModeByScore tests the final score-to-mode mapping.
func TestScore_SetModeByScore(t *testing.T) {
	cfg := Config{
		Mode:  "modes",
		Modes: testModes(),
		Rules: []Rule{
			{Name: "score70", When: When{}, ScoreExpr: "70"},
		},
		SetModeByScore: OrderedExprs{
			{Name: ModeDanger, Expr: "score >= 80"},
			{Name: ModeReview, Expr: "score >= 40"},
			{Name: ModeSafe, Expr: "true"},
		},
	}
	engine := mustEngine(t, cfg)

	got := engine.Score(Intent{Server: "x", Tool: "y", Env: "dev"})
	if got.Mode != ModeReview || got.Score != 70 {
		t.Errorf("Score = %+v, want review/70", got)
	}
}

// TestScore_SetModeByScoreFailure tests fail-closed on a broken mapping
// expression.
func TestScore_SetModeByScoreFailure(t *testing.T) {
	cfg := Config{
		Mode:  "modes",
		Modes: testModes(),
		SetModeByScore: OrderedExprs{
			{Name: ModeDanger, Expr: "((("},
		},
	}
	engine := mustEngine(t, cfg)

	got := engine.Score(Intent{Server: "x", Tool: "y", Env: "dev"})
	if got.Mode != ModeReview {
		t.Errorf("mode = %q, want review after mapping failure", got.Mode)
	}
}

// TestOrderedExprs_YAML tests that declaration order survives decoding.
func TestOrderedExprs_YAML(t *testing.T) {
	src := `
risk:
  mode: modes
  modes:
    safe: {score: 0}
    review: {score: 40}
    danger: {score: 80}
  vars:
    zeta: "1"
    alpha: "zeta + 1"
    mid: "alpha + 1"
  set_mode_by_score:
    danger: "score >= 80"
    review: "score >= 40"
`
	var root RootConfig
	if err := yaml.Unmarshal([]byte(src), &root); err != nil {
		t.Fatalf("yaml.Unmarshal returned error: %v", err)
	}

	wantVars := []string{"zeta", "alpha", "mid"}
	if len(root.Risk.Vars) != len(wantVars) {
		t.Fatalf("vars length = %d, want %d", len(root.Risk.Vars), len(wantVars))
	}
	for i, name := range wantVars {
		if root.Risk.Vars[i].Name != name {
			t.Errorf("vars[%d] = %q, want %q", i, root.Risk.Vars[i].Name, name)
		}
	}
	if root.Risk.SetModeByScore[0].Name != ModeDanger {
		t.Errorf("set_mode_by_score[0] = %q, want danger first", root.Risk.SetModeByScore[0].Name)
	}
}

// TestGlobMatch tests wildcard semantics on when clauses.
func TestGlobMatch(t *testing.T) {
	tests := []struct {
		pattern string
		name    string
		want    bool
	}{
		{"*", "anything", true},
		{"", "anything", true},
		{"github", "github", true},
		{"github", "gitlab", false},
		{"publish_*", "publish_release", true},
		{"publish_*", "get_markets", false},
		{"get_?", "get_x", true},
		{"get_?", "get_xy", false},
		{"[", "anything", false},
	}

	for _, tt := range tests {
		if got := globMatch(tt.pattern, tt.name); got != tt.want {
			t.Errorf("globMatch(%q, %q) = %v, want %v", tt.pattern, tt.name, got, tt.want)
		}
	}
}
