package expr

import (
	"fmt"
	"math"
	"reflect"
	"strings"
)

// Eval evaluates the parsed expression against the given variable
// bindings. Unknown variables, type mismatches, division by zero, and
// every other runtime failure return *Error.
func (e *Expr) Eval(vars map[string]any) (any, error) {
	return e.root.eval(vars)
}

// EvalBool evaluates the expression and collapses the result to its
// truthiness: false, zero, the empty string, and the empty list are
// falsy; everything else is truthy.
func (e *Expr) EvalBool(vars map[string]any) (bool, error) {
	v, err := e.root.eval(vars)
	if err != nil {
		return false, err
	}
	return truthy(v), nil
}

func (n *literalNode) eval(map[string]any) (any, error) { return n.value, nil }

func (n *nameNode) eval(vars map[string]any) (any, error) {
	v, ok := vars[n.name]
	if !ok {
		return nil, errf(n.pos, "unknown variable %q", n.name)
	}
	return normalize(v), nil
}

func (n *listNode) eval(vars map[string]any) (any, error) {
	out := make([]any, 0, len(n.elems))
	for _, elem := range n.elems {
		v, err := elem.eval(vars)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (n *unaryNode) eval(vars map[string]any) (any, error) {
	v, err := n.arg.eval(vars)
	if err != nil {
		return nil, err
	}
	switch n.op {
	case tokenNot:
		return !truthy(v), nil
	case tokenMinus:
		switch x := v.(type) {
		case int64:
			return -x, nil
		case float64:
			return -x, nil
		}
		return nil, errf(n.pos, "unary - requires a number, got %s", typeName(v))
	case tokenPlus:
		switch v.(type) {
		case int64, float64:
			return v, nil
		}
		return nil, errf(n.pos, "unary + requires a number, got %s", typeName(v))
	}
	return nil, errf(n.pos, "invalid unary operator")
}

func (n *binaryNode) eval(vars map[string]any) (any, error) {
	left, err := n.left.eval(vars)
	if err != nil {
		return nil, err
	}
	right, err := n.right.eval(vars)
	if err != nil {
		return nil, err
	}

	// String concatenation is the only non-numeric arithmetic form.
	if n.op == tokenPlus {
		if ls, ok := left.(string); ok {
			rs, ok := right.(string)
			if !ok {
				return nil, errf(n.pos, "cannot add %s to string", typeName(right))
			}
			return ls + rs, nil
		}
	}

	li, lInt := left.(int64)
	ri, rInt := right.(int64)
	lf, lok := toFloat(left)
	rf, rok := toFloat(right)
	if !lok || !rok {
		return nil, errf(n.pos, "operator %q requires numbers, got %s and %s", opText(n.op), typeName(left), typeName(right))
	}

	switch n.op {
	case tokenPlus:
		if lInt && rInt {
			return li + ri, nil
		}
		return lf + rf, nil
	case tokenMinus:
		if lInt && rInt {
			return li - ri, nil
		}
		return lf - rf, nil
	case tokenStar:
		if lInt && rInt {
			return li * ri, nil
		}
		return lf * rf, nil
	case tokenSlash:
		// True division: always a float, like the rule language's authors
		// expect from score expressions such as amount/1000*10.
		if rf == 0 {
			return nil, errf(n.pos, "division by zero")
		}
		return lf / rf, nil
	case tokenPercent:
		if lInt && rInt {
			if ri == 0 {
				return nil, errf(n.pos, "modulo by zero")
			}
			return li % ri, nil
		}
		if rf == 0 {
			return nil, errf(n.pos, "modulo by zero")
		}
		return math.Mod(lf, rf), nil
	case tokenStarStar:
		return math.Pow(lf, rf), nil
	}
	return nil, errf(n.pos, "invalid binary operator")
}

func (n *compareNode) eval(vars map[string]any) (any, error) {
	left, err := n.first.eval(vars)
	if err != nil {
		return nil, err
	}
	for _, op := range n.ops {
		right, err := op.operand.eval(vars)
		if err != nil {
			return nil, err
		}
		ok, err := compare(op.op, left, right, n.pos)
		if err != nil {
			return nil, err
		}
		if op.negated {
			ok = !ok
		}
		if !ok {
			return false, nil
		}
		left = right
	}
	return true, nil
}

func (n *logicalNode) eval(vars map[string]any) (any, error) {
	// Short-circuit; the final operand's value is returned, matching the
	// source language the rule files are written in.
	var last any
	for _, term := range n.terms {
		v, err := term.eval(vars)
		if err != nil {
			return nil, err
		}
		last = v
		if n.op == tokenAnd && !truthy(v) {
			return v, nil
		}
		if n.op == tokenOr && truthy(v) {
			return v, nil
		}
	}
	return last, nil
}

func (n *callNode) eval(vars map[string]any) (any, error) {
	fn := builtins[n.name]
	args := make([]any, 0, len(n.args))
	for _, arg := range n.args {
		v, err := arg.eval(vars)
		if err != nil {
			return nil, err
		}
		args = append(args, v)
	}
	return fn(n, args)
}

// compare applies one comparison operator.
func compare(op tokenKind, left, right any, pos int) (bool, error) {
	switch op {
	case tokenEq:
		return equal(left, right), nil
	case tokenNe:
		return !equal(left, right), nil
	case tokenIn:
		return member(left, right, pos)
	}

	// Ordered comparisons: numbers cross-type, strings lexically.
	if lf, lok := toFloat(left); lok {
		rf, rok := toFloat(right)
		if !rok {
			return false, errf(pos, "cannot compare number with %s", typeName(right))
		}
		switch op {
		case tokenLt:
			return lf < rf, nil
		case tokenLe:
			return lf <= rf, nil
		case tokenGt:
			return lf > rf, nil
		case tokenGe:
			return lf >= rf, nil
		}
	}
	if ls, ok := left.(string); ok {
		rs, rok := right.(string)
		if !rok {
			return false, errf(pos, "cannot compare string with %s", typeName(right))
		}
		switch op {
		case tokenLt:
			return ls < rs, nil
		case tokenLe:
			return ls <= rs, nil
		case tokenGt:
			return ls > rs, nil
		case tokenGe:
			return ls >= rs, nil
		}
	}
	return false, errf(pos, "cannot order %s and %s", typeName(left), typeName(right))
}

// member implements "x in y" for lists and substring containment.
func member(needle, haystack any, pos int) (bool, error) {
	switch h := haystack.(type) {
	case []any:
		for _, elem := range h {
			if equal(needle, elem) {
				return true, nil
			}
		}
		return false, nil
	case string:
		s, ok := needle.(string)
		if !ok {
			return false, errf(pos, `"in" on a string requires a string operand`)
		}
		return strings.Contains(h, s), nil
	case map[string]any:
		s, ok := needle.(string)
		if !ok {
			return false, errf(pos, `"in" on a mapping requires a string key`)
		}
		_, present := h[s]
		return present, nil
	}
	return false, errf(pos, `"in" requires a list, string, or mapping, got %s`, typeName(haystack))
}

// equal compares two values, treating int64 and float64 as the same
// numeric domain and recursing into lists.
func equal(a, b any) bool {
	if af, aok := toFloat(a); aok {
		bf, bok := toFloat(b)
		return bok && af == bf
	}
	switch av := a.(type) {
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !equal(av[i], bv[i]) {
				return false
			}
		}
		return true
	default:
		return reflect.DeepEqual(a, b)
	}
}

// truthy reports the boolean interpretation of a value.
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
	case map[string]any:
		return len(x) > 0
	}
	return true
}

// toFloat widens a numeric value to float64. Booleans are deliberately
// not numbers here.
func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case int64:
		return float64(x), true
	case float64:
		return x, true
	}
	return 0, false
}

// normalize maps Go values from callers (config decoding, JSON
// arguments) onto the evaluator's canonical types.
func normalize(v any) any {
	switch x := v.(type) {
	case int:
		return int64(x)
	case int32:
		return int64(x)
	case uint:
		return int64(x)
	case uint32:
		return int64(x)
	case uint64:
		return int64(x)
	case float32:
		return float64(x)
	case []any:
		out := make([]any, len(x))
		for i, elem := range x {
			out[i] = normalize(elem)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, elem := range x {
			out[k] = normalize(elem)
		}
		return out
	}
	return v
}

func typeName(v any) string {
	switch v.(type) {
	case nil:
		return "nil"
	case bool:
		return "bool"
	case int64:
		return "int"
	case float64:
		return "float"
	case string:
		return "string"
	case []any:
		return "list"
	case map[string]any:
		return "mapping"
	}
	return fmt.Sprintf("%T", v)
}

func opText(k tokenKind) string {
	switch k {
	case tokenPlus:
		return "+"
	case tokenMinus:
		return "-"
	case tokenStar:
		return "*"
	case tokenSlash:
		return "/"
	case tokenPercent:
		return "%"
	case tokenStarStar:
		return "**"
	}
	return "?"
}
