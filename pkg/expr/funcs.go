package expr

import "math"

// builtin is the implementation of a whitelisted function. The callNode
// is passed for error positions only.
type builtin func(n *callNode, args []any) (any, error)

// builtins is the closed set of callable functions. The parser rejects
// any other name at parse time, so the whitelist doubles as the
// validation table.
var builtins = map[string]builtin{
	"min":   fnMin,
	"max":   fnMax,
	"abs":   fnAbs,
	"round": fnRound,
	"floor": fnFloor,
	"ceil":  fnCeil,
	"sqrt":  fnSqrt,
	"log":   fnLog,
}

func fnMin(n *callNode, args []any) (any, error) { return extremum(n, args, "min", -1) }
func fnMax(n *callNode, args []any) (any, error) { return extremum(n, args, "max", +1) }

// extremum implements min/max over numbers or strings. A single list
// argument is treated as the sequence to reduce.
func extremum(n *callNode, args []any, name string, dir int) (any, error) {
	if len(args) == 1 {
		if list, ok := args[0].([]any); ok {
			args = list
		}
	}
	if len(args) == 0 {
		return nil, errf(n.pos, "%s() requires at least one argument", name)
	}

	best := args[0]
	for _, v := range args[1:] {
		var wins bool
		if bf, bok := toFloat(best); bok {
			vf, vok := toFloat(v)
			if !vok {
				return nil, errf(n.pos, "%s() arguments must all be numbers or all strings", name)
			}
			wins = (dir > 0 && vf > bf) || (dir < 0 && vf < bf)
		} else if bs, bok := best.(string); bok {
			vs, vok := v.(string)
			if !vok {
				return nil, errf(n.pos, "%s() arguments must all be numbers or all strings", name)
			}
			wins = (dir > 0 && vs > bs) || (dir < 0 && vs < bs)
		} else {
			return nil, errf(n.pos, "%s() requires numbers or strings, got %s", name, typeName(best))
		}
		if wins {
			best = v
		}
	}
	return best, nil
}

func fnAbs(n *callNode, args []any) (any, error) {
	if len(args) != 1 {
		return nil, errf(n.pos, "abs() requires exactly one argument")
	}
	switch x := args[0].(type) {
	case int64:
		if x < 0 {
			return -x, nil
		}
		return x, nil
	case float64:
		return math.Abs(x), nil
	}
	return nil, errf(n.pos, "abs() requires a number, got %s", typeName(args[0]))
}

func fnRound(n *callNode, args []any) (any, error) {
	f, err := oneNumber(n, args, "round")
	if err != nil {
		return nil, err
	}
	return int64(math.Round(f)), nil
}

func fnFloor(n *callNode, args []any) (any, error) {
	f, err := oneNumber(n, args, "floor")
	if err != nil {
		return nil, err
	}
	return int64(math.Floor(f)), nil
}

func fnCeil(n *callNode, args []any) (any, error) {
	f, err := oneNumber(n, args, "ceil")
	if err != nil {
		return nil, err
	}
	return int64(math.Ceil(f)), nil
}

func fnSqrt(n *callNode, args []any) (any, error) {
	f, err := oneNumber(n, args, "sqrt")
	if err != nil {
		return nil, err
	}
	if f < 0 {
		return nil, errf(n.pos, "sqrt() of a negative number")
	}
	return math.Sqrt(f), nil
}

// fnLog is the natural logarithm, with an optional second argument as
// the base.
func fnLog(n *callNode, args []any) (any, error) {
	if len(args) != 1 && len(args) != 2 {
		return nil, errf(n.pos, "log() requires one or two arguments")
	}
	x, ok := toFloat(args[0])
	if !ok {
		return nil, errf(n.pos, "log() requires a number, got %s", typeName(args[0]))
	}
	if x <= 0 {
		return nil, errf(n.pos, "log() of a non-positive number")
	}
	if len(args) == 1 {
		return math.Log(x), nil
	}
	base, ok := toFloat(args[1])
	if !ok || base <= 0 || base == 1 {
		return nil, errf(n.pos, "log() base must be a positive number other than 1")
	}
	return math.Log(x) / math.Log(base), nil
}

func oneNumber(n *callNode, args []any, name string) (float64, error) {
	if len(args) != 1 {
		return 0, errf(n.pos, "%s() requires exactly one argument", name)
	}
	f, ok := toFloat(args[0])
	if !ok {
		return 0, errf(n.pos, "%s() requires a number, got %s", name, typeName(args[0]))
	}
	return f, nil
}
