// Package expr implements a restricted expression evaluator for
// operator-authored risk rules and approval conditions.
//
// The language is a small arithmetic/logical subset: literals (integers,
// floats, strings, booleans, lists, parenthesized tuples that evaluate as
// lists), variable references, unary +/-/not,
// the binary operators + - * / % **, comparisons (== != < <= > >= in
// not in, chainable), the logical operators and/or, and calls to a fixed
// whitelist of functions (min, max, abs, round, floor, ceil, sqrt, log).
//
// Everything else is rejected at parse time: attribute access,
// subscripting, assignment, identifiers beginning with "__", and any
// function outside the whitelist. Evaluation is pure — it cannot reach
// process state, and every failure surfaces as *Error rather than a
// panic. This is what makes it safe to run on config files the operator
// edits by hand.
package expr
