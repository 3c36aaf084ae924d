package risk

import (
	"path"
	"strings"
)

// globMatch reports whether name matches the glob pattern. An empty
// pattern means "*". A malformed pattern matches nothing.
func globMatch(pattern, name string) bool {
	if pattern == "" || pattern == "*" {
		return true
	}
	ok, err := path.Match(pattern, name)
	return err == nil && ok
}

// whenMatches reports whether a rule's when clause selects the intent.
func whenMatches(when When, intent Intent) bool {
	if !globMatch(when.Server, intent.Server) {
		return false
	}
	if !globMatch(when.Tool, intent.Tool) {
		return false
	}
	if !globMatch(when.Env, intent.Env) {
		return false
	}
	if len(when.Args) > 0 && !argsMatch(intent.Args, when.Args) {
		return false
	}
	return true
}

// argsMatch applies per-argument predicates; all must hold. Numeric
// predicates require a numeric actual, contains requires a string, so a
// string-typed "1000" never satisfies gte: 1000.
func argsMatch(args map[string]any, predicates map[string]map[string]any) bool {
	for key, pred := range predicates {
		actual := args[key]

		if want, ok := pred["eq"]; ok && !looseEqual(actual, want) {
			return false
		}
		if want, ok := pred["ne"]; ok && looseEqual(actual, want) {
			return false
		}

		if want, ok := pred["gte"]; ok {
			av, aok := asNumber(actual)
			wv, wok := asNumber(want)
			if !aok || !wok || av < wv {
				return false
			}
		}
		if want, ok := pred["gt"]; ok {
			av, aok := asNumber(actual)
			wv, wok := asNumber(want)
			if !aok || !wok || av <= wv {
				return false
			}
		}
		if want, ok := pred["lte"]; ok {
			av, aok := asNumber(actual)
			wv, wok := asNumber(want)
			if !aok || !wok || av > wv {
				return false
			}
		}
		if want, ok := pred["lt"]; ok {
			av, aok := asNumber(actual)
			wv, wok := asNumber(want)
			if !aok || !wok || av >= wv {
				return false
			}
		}

		if want, ok := pred["contains"]; ok {
			as, aok := actual.(string)
			ws, wok := want.(string)
			if !aok || !wok || !strings.Contains(as, ws) {
				return false
			}
		}

		if want, ok := pred["in"]; ok {
			list, lok := want.([]any)
			if !lok {
				return false
			}
			found := false
			for _, elem := range list {
				if looseEqual(actual, elem) {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		}
	}
	return true
}

// asNumber widens numeric values to float64. Strings and booleans are
// not numbers.
func asNumber(v any) (float64, bool) {
	switch x := v.(type) {
	case int:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint64:
		return float64(x), true
	case float32:
		return float64(x), true
	case float64:
		return float64(x), true
	}
	return 0, false
}

// looseEqual compares two values, treating the numeric types asNumber
// accepts as one domain so YAML-decoded ints compare equal to JSON-decoded floats.
func looseEqual(a, b any) bool {
	if af, aok := asNumber(a); aok {
		bf, bok := asNumber(b)
		return bok && af == bf
	}
	return a == b
}
