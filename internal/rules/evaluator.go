package rules

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/rendis/herald/pkg/schema"
)

// OperatorFunc implements an operator over its already evaluated arguments.
type OperatorFunc func(args []any) (any, error)

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithOperator registers or replaces an operator on one evaluator.
func WithOperator(name string, fn OperatorFunc) Option {
	return func(e *Evaluator) { e.ops[name] = fn }
}

// Evaluator applies JSON-Logic rules to data. Each evaluator owns its
// operator registry; evaluators are safe for concurrent use once built.
type Evaluator struct {
	ops map[string]OperatorFunc
}

// NewEvaluator creates an evaluator with the comparison policy and the
// string, null, membership and range operators registered.
func NewEvaluator(opts ...Option) *Evaluator {
	e := &Evaluator{ops: defaultOperators()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Result is the outcome of an evaluation.
type Result struct {
	Value any
	Err   error
}

// Truthy reports whether the result value is truthy.
func (r Result) Truthy() bool {
	return r.Err == nil && truthy(r.Value)
}

// Evaluate applies rule to data. In safe mode any failure yields
// Result{Value: false, Err: err} and a nil error; otherwise an
// EVALUATION_ERROR is returned.
func (e *Evaluator) Evaluate(rule, data any, safe bool) (res Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			evalErr := schema.NewErrorf(schema.ErrCodeEvaluation, "rule evaluation panicked: %v", r)
			if safe {
				res, err = Result{Value: false, Err: evalErr}, nil
				return
			}
			res, err = Result{}, evalErr
		}
	}()

	v, applyErr := e.apply(rule, data)
	if applyErr != nil {
		evalErr := asEvaluationError(applyErr)
		if safe {
			return Result{Value: false, Err: evalErr}, nil
		}
		return Result{}, evalErr
	}
	return Result{Value: defined(v)}, nil
}

func asEvaluationError(err error) error {
	if he, ok := err.(*schema.HeraldError); ok {
		return he
	}
	return schema.NewErrorf(schema.ErrCodeEvaluation, "rule evaluation failed: %s", err.Error()).WithCause(err)
}

// apply evaluates a rule node. Maps with exactly one key are operations;
// arrays evaluate element-wise; everything else is a literal.
func (e *Evaluator) apply(rule, data any) (any, error) {
	switch node := rule.(type) {
	case []any:
		out := make([]any, len(node))
		for i, item := range node {
			v, err := e.apply(item, data)
			if err != nil {
				return nil, err
			}
			out[i] = defined(v)
		}
		return out, nil
	case map[string]any:
		if len(node) != 1 {
			return node, nil
		}
		for op, raw := range node {
			return e.operation(op, operands(raw), data)
		}
	}
	return rule, nil
}

func operands(raw any) []any {
	if arr, ok := raw.([]any); ok {
		return arr
	}
	return []any{raw}
}

func (e *Evaluator) operation(op string, args []any, data any) (any, error) {
	// Operators that control evaluation of their own arguments.
	switch op {
	case "if", "?:":
		return e.applyIf(args, data)
	case "and":
		return e.applyAnd(args, data)
	case "or":
		return e.applyOr(args, data)
	case "map", "filter", "all", "some", "none":
		return e.applyIteration(op, args, data)
	case "reduce":
		return e.applyReduce(args, data)
	}

	values := make([]any, len(args))
	for i, arg := range args {
		v, err := e.apply(arg, data)
		if err != nil {
			return nil, err
		}
		values[i] = v
	}

	if fn, ok := e.ops[op]; ok {
		return fn(values)
	}

	switch op {
	case "var":
		return resolveVar(values, data), nil
	case "missing":
		return missing(values, data), nil
	case "missing_some":
		return missingSome(values, data)
	case "!":
		return !truthy(first(values)), nil
	case "!!":
		return truthy(first(values)), nil
	case "===":
		return strictEqual(arg(values, 0), arg(values, 1)), nil
	case "!==":
		return !strictEqual(arg(values, 0), arg(values, 1)), nil
	case "max", "min":
		return extremum(op, values), nil
	case "+":
		sum := 0.0
		for _, v := range values {
			sum += toNumberLoose(v)
		}
		return sum, nil
	case "*":
		product := 1.0
		for _, v := range values {
			product *= toNumberLoose(v)
		}
		return product, nil
	case "-":
		if len(values) == 1 {
			return -toNumberLoose(values[0]), nil
		}
		return toNumberLoose(arg(values, 0)) - toNumberLoose(arg(values, 1)), nil
	case "/":
		return toNumberLoose(arg(values, 0)) / toNumberLoose(arg(values, 1)), nil
	case "%":
		return math.Mod(toNumberLoose(arg(values, 0)), toNumberLoose(arg(values, 1))), nil
	case "in":
		return inOperation(arg(values, 0), arg(values, 1)), nil
	case "cat":
		var b strings.Builder
		for _, v := range values {
			if v == nil || isUndefined(v) {
				continue
			}
			b.WriteString(toString(v))
		}
		return b.String(), nil
	case "substr":
		return substr(values), nil
	case "merge":
		var out []any
		for _, v := range values {
			if arr, ok := v.([]any); ok {
				out = append(out, arr...)
			} else {
				out = append(out, defined(v))
			}
		}
		if out == nil {
			out = []any{}
		}
		return out, nil
	}

	return nil, schema.NewErrorf(schema.ErrCodeEvaluation, "unrecognized operation %q", op).
		WithDetails(map[string]any{"operator": op})
}

func (e *Evaluator) applyIf(args []any, data any) (any, error) {
	for i := 0; i+1 < len(args); i += 2 {
		cond, err := e.apply(args[i], data)
		if err != nil {
			return nil, err
		}
		if truthy(cond) {
			return e.apply(args[i+1], data)
		}
	}
	if len(args)%2 == 1 {
		return e.apply(args[len(args)-1], data)
	}
	return nil, nil
}

func (e *Evaluator) applyAnd(args []any, data any) (any, error) {
	var last any
	for _, a := range args {
		v, err := e.apply(a, data)
		if err != nil {
			return nil, err
		}
		if !truthy(v) {
			return v, nil
		}
		last = v
	}
	return last, nil
}

func (e *Evaluator) applyOr(args []any, data any) (any, error) {
	var last any
	for _, a := range args {
		v, err := e.apply(a, data)
		if err != nil {
			return nil, err
		}
		if truthy(v) {
			return v, nil
		}
		last = v
	}
	return last, nil
}

func (e *Evaluator) applyIteration(op string, args []any, data any) (any, error) {
	items, err := e.arrayArg(args, data)
	if err != nil {
		return nil, err
	}
	var body any
	if len(args) > 1 {
		body = args[1]
	}

	switch op {
	case "map":
		out := make([]any, 0, len(items))
		for _, item := range items {
			v, err := e.apply(body, item)
			if err != nil {
				return nil, err
			}
			out = append(out, defined(v))
		}
		return out, nil
	case "filter":
		out := make([]any, 0, len(items))
		for _, item := range items {
			v, err := e.apply(body, item)
			if err != nil {
				return nil, err
			}
			if truthy(v) {
				out = append(out, item)
			}
		}
		return out, nil
	case "all":
		if len(items) == 0 {
			return false, nil
		}
		for _, item := range items {
			v, err := e.apply(body, item)
			if err != nil {
				return nil, err
			}
			if !truthy(v) {
				return false, nil
			}
		}
		return true, nil
	default: // some, none
		found := false
		for _, item := range items {
			v, err := e.apply(body, item)
			if err != nil {
				return nil, err
			}
			if truthy(v) {
				found = true
				break
			}
		}
		if op == "none" {
			return !found, nil
		}
		return found, nil
	}
}

func (e *Evaluator) applyReduce(args []any, data any) (any, error) {
	items, err := e.arrayArg(args, data)
	if err != nil {
		return nil, err
	}
	var body any
	if len(args) > 1 {
		body = args[1]
	}
	var acc any
	if len(args) > 2 {
		if acc, err = e.apply(args[2], data); err != nil {
			return nil, err
		}
	}
	for _, item := range items {
		acc, err = e.apply(body, map[string]any{"current": item, "accumulator": defined(acc)})
		if err != nil {
			return nil, err
		}
	}
	return acc, nil
}

func (e *Evaluator) arrayArg(args []any, data any) ([]any, error) {
	if len(args) == 0 {
		return nil, nil
	}
	v, err := e.apply(args[0], data)
	if err != nil {
		return nil, err
	}
	items, _ := v.([]any)
	return items, nil
}

// resolveVar looks up a dotted path. Numeric segments index arrays. An empty
// path returns data itself; a missing path returns the default or undefined.
func resolveVar(args []any, data any) any {
	if len(args) == 0 {
		return data
	}
	fallback := any(undefined)
	if len(args) > 1 {
		fallback = args[1]
	}

	var path string
	switch p := args[0].(type) {
	case nil:
		return data
	case string:
		path = p
	default:
		if n, ok := number(p); ok {
			path = strconv.FormatFloat(n, 'f', -1, 64)
		} else {
			return fallback
		}
	}
	if path == "" {
		return data
	}

	current := data
	for _, seg := range strings.Split(path, ".") {
		switch node := current.(type) {
		case map[string]any:
			v, ok := node[seg]
			if !ok {
				return fallback
			}
			current = v
		case []any:
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || i >= len(node) {
				return fallback
			}
			current = node[i]
		default:
			return fallback
		}
	}
	if current == nil && len(args) > 1 {
		return fallback
	}
	return current
}

func missing(args []any, data any) []any {
	keys := args
	if len(args) > 0 {
		if arr, ok := args[0].([]any); ok {
			keys = arr
		}
	}
	out := []any{}
	for _, k := range keys {
		v := resolveVar([]any{k}, data)
		if v == nil || isUndefined(v) || v == "" {
			out = append(out, k)
		}
	}
	return out
}

func missingSome(args []any, data any) (any, error) {
	need, ok := asNumber(arg(args, 0))
	keys, isArr := arg(args, 1).([]any)
	if !ok || !isArr {
		return nil, schema.NewError(schema.ErrCodeEvaluation, `"missing_some" expects [count, [keys]]`)
	}
	absent := missing([]any{keys}, data)
	if float64(len(keys)-len(absent)) >= need {
		return []any{}, nil
	}
	return absent, nil
}

func extremum(op string, values []any) any {
	if len(values) == 0 {
		return nil
	}
	nums := make([]float64, 0, len(values))
	for _, v := range values {
		n := toNumberLoose(v)
		if math.IsNaN(n) {
			return nil
		}
		nums = append(nums, n)
	}
	sort.Float64s(nums)
	if op == "min" {
		return nums[0]
	}
	return nums[len(nums)-1]
}

func inOperation(needle, haystack any) bool {
	switch h := haystack.(type) {
	case string:
		return strings.Contains(h, toString(needle))
	case []any:
		for _, item := range h {
			if strictEqual(needle, item) {
				return true
			}
		}
	}
	return false
}

func substr(args []any) string {
	runes := []rune(toString(arg(args, 0)))
	n := len(runes)

	start := int(toNumberLoose(arg(args, 1)))
	if start < 0 {
		start = max(n+start, 0)
	}
	start = min(start, n)

	end := n
	if len(args) > 2 {
		length := int(toNumberLoose(args[2]))
		if length < 0 {
			end = max(n+length, start)
		} else {
			end = min(start+length, n)
		}
	}
	return string(runes[start:end])
}

func arg(args []any, i int) any {
	if i < len(args) {
		return args[i]
	}
	return undefined
}

func first(args []any) any {
	return arg(args, 0)
}

// String implements fmt.Stringer for debugging output of results.
func (r Result) String() string {
	if r.Err != nil {
		return fmt.Sprintf("false (%v)", r.Err)
	}
	return fmt.Sprintf("%v", r.Value)
}
