package rules

import "strings"

// comparisonOps are the operators the validator checks as [field, value].
var comparisonOps = map[string]bool{
	"==": true, "!=": true, "===": true, "!==": true,
	"<": true, "<=": true, ">": true, ">=": true,
	"startsWith": true, "endsWith": true, "contains": true,
	"doesNotContain": true, "doesNotBeginWith": true, "doesNotEndWith": true,
	"null": true, "notNull": true, "notIn": true,
	"between": true, "notBetween": true,
}

// baseOps are the JSON-Logic operators the evaluator implements natively.
var baseOps = map[string]bool{
	"var": true, "missing": true, "missing_some": true,
	"if": true, "?:": true, "!": true, "!!": true, "and": true, "or": true,
	"===": true, "!==": true,
	"max": true, "min": true, "+": true, "-": true, "*": true, "/": true, "%": true,
	"in": true, "cat": true, "substr": true, "merge": true,
	"map": true, "filter": true, "reduce": true, "all": true, "some": true, "none": true,
}

// IsOperator reports whether name is an operator known to the default
// evaluator.
func IsOperator(name string) bool {
	return comparisonOps[name] || baseOps[name]
}

func isComparison(op string) bool {
	return comparisonOps[op]
}

func isEquality(op string) bool {
	switch op {
	case "==", "!=", "===", "!==":
		return true
	}
	return false
}

func isUnary(op string) bool {
	return op == "null" || op == "notNull"
}

// hasBetweenForm reports whether op accepts [lower, field, upper].
func hasBetweenForm(op string) bool {
	return op == "<" || op == "<="
}

// defaultOperators returns a fresh registry. Every evaluator gets its own.
func defaultOperators() map[string]OperatorFunc {
	ops := map[string]OperatorFunc{
		"startsWith":       stringOp(strings.HasPrefix),
		"endsWith":         stringOp(strings.HasSuffix),
		"contains":         stringOp(strings.Contains),
		"doesNotContain":   stringOp(negate(strings.Contains)),
		"doesNotBeginWith": stringOp(negate(strings.HasPrefix)),
		"doesNotEndWith":   stringOp(negate(strings.HasSuffix)),
		"null": func(args []any) (any, error) {
			return len(args) > 0 && args[0] == nil, nil
		},
		"notNull": func(args []any) (any, error) {
			return len(args) == 0 || args[0] != nil, nil
		},
		"notIn": func(args []any) (any, error) {
			list, ok := arg(args, 1).([]any)
			if !ok {
				return false, nil
			}
			needle := arg(args, 0)
			for _, item := range list {
				if compareValues("==", needle, item) {
					return false, nil
				}
			}
			return true, nil
		},
		"between": func(args []any) (any, error) {
			in, ok := withinRange(args)
			return ok && in, nil
		},
		"notBetween": func(args []any) (any, error) {
			in, ok := withinRange(args)
			return ok && !in, nil
		},
	}
	for _, op := range []string{"==", "!=", "<", "<=", ">", ">="} {
		ops[op] = comparison(op)
	}
	return ops
}

// comparison routes an operator through the coercion policy. The three
// argument form of < and <= tests lower op field op upper.
func comparison(op string) OperatorFunc {
	return func(args []any) (any, error) {
		if len(args) == 3 && hasBetweenForm(op) {
			return compareValues(op, args[0], args[1]) && compareValues(op, args[1], args[2]), nil
		}
		return compareValues(op, arg(args, 0), arg(args, 1)), nil
	}
}

// stringOp applies fn when both operands are strings; otherwise false.
func stringOp(fn func(s, sub string) bool) OperatorFunc {
	return func(args []any) (any, error) {
		s, ok1 := arg(args, 0).(string)
		sub, ok2 := arg(args, 1).(string)
		if !ok1 || !ok2 {
			return false, nil
		}
		return fn(s, sub), nil
	}
}

func negate(fn func(s, sub string) bool) func(s, sub string) bool {
	return func(s, sub string) bool { return !fn(s, sub) }
}

// withinRange checks [value, [lo, hi]]; ok is false when the operands are
// not numeric.
func withinRange(args []any) (in, ok bool) {
	bounds, isArr := arg(args, 1).([]any)
	if !isArr || len(bounds) != 2 {
		return false, false
	}
	v, ok1 := asNumber(arg(args, 0))
	lo, ok2 := asNumber(bounds[0])
	hi, ok3 := asNumber(bounds[1])
	if !ok1 || !ok2 || !ok3 {
		return false, false
	}
	return lo <= v && v <= hi, true
}
