package policy

import (
	"strings"

	"github.com/MehulG/agent-ctrl/pkg/expr"
	"github.com/MehulG/agent-ctrl/pkg/risk"
)

// conditionVars builds the bindings an approval or deny expression may
// reference. The dotted forms risk.score / risk.mode are normalized to
// their underscore twins before parsing, so both spellings work.
func conditionVars(result risk.Result) map[string]any {
	return map[string]any{
		"risk": map[string]any{
			"score": result.Score,
			"mode":  result.Mode,
		},
		"risk_score": result.Score,
		"risk_mode":  result.Mode,
	}
}

func normalizeDotted(src string) string {
	src = strings.ReplaceAll(src, "risk.score", "risk_score")
	return strings.ReplaceAll(src, "risk.mode", "risk_mode")
}

// RequiresApproval evaluates a policy's require_approval_if expression
// against the risk result. Fail-closed: a malformed or failing
// expression requires approval. A missing expression does not.
func RequiresApproval(condition string, result risk.Result) bool {
	if condition == "" {
		return false
	}
	ok, err := expr.Eval(normalizeDotted(condition), conditionVars(result))
	if err != nil {
		return true
	}
	return truthy(ok)
}

// DeniedByExpr evaluates a policy's deny expression against the risk
// result. Same fail-closed shape: a malformed or failing expression
// denies. A missing expression does not.
func DeniedByExpr(condition string, result risk.Result) bool {
	if condition == "" {
		return false
	}
	ok, err := expr.Eval(normalizeDotted(condition), conditionVars(result))
	if err != nil {
		return true
	}
	return truthy(ok)
}

func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case int64:
		return x != 0
	case float64:
		return x != 0
	case string:
		return x != ""
	case []any:
		return len(x) > 0
	}
	return true
}
