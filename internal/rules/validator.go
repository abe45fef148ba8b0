// Package rules validates and evaluates JSON-Logic skip conditions.
package rules

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rendis/herald/pkg/schema"
)

// AllowedVariables restricts which var references a rule may use.
// A reference is allowed when it equals one of Exact or starts with one of
// Prefixes.
type AllowedVariables struct {
	Exact    map[string]bool
	Prefixes []string
}

// NewAllowedVariables builds an allow-list from exact paths and prefixes.
func NewAllowedVariables(exact []string, prefixes ...string) *AllowedVariables {
	a := &AllowedVariables{Exact: make(map[string]bool, len(exact)), Prefixes: prefixes}
	for _, p := range exact {
		a.Exact[p] = true
	}
	return a
}

// Allows reports whether name is permitted.
func (a *AllowedVariables) Allows(name string) bool {
	if a == nil {
		return true
	}
	if a.Exact[name] {
		return true
	}
	for _, p := range a.Prefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

// Validator checks the structure of a rule tree. It never modifies the rule.
type Validator struct {
	allowed *AllowedVariables
}

// ValidatorOption configures a Validator.
type ValidatorOption func(*Validator)

// WithAllowedVariables rejects var references outside the allow-list.
func WithAllowedVariables(a *AllowedVariables) ValidatorOption {
	return func(v *Validator) { v.allowed = a }
}

// NewValidator creates a rule validator.
func NewValidator(opts ...ValidatorOption) *Validator {
	v := &Validator{}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate returns every structural problem of rule. Each issue carries the
// child indices of the and/or arrays descended to reach it.
func (v *Validator) Validate(rule any) []schema.RuleIssue {
	return v.validate(rule, nil)
}

func (v *Validator) validate(node any, path []int) []schema.RuleIssue {
	m, ok := node.(map[string]any)
	if !ok {
		return nil
	}

	var issues []schema.RuleIssue
	for _, key := range sortedKeys(m) {
		value := m[key]
		switch {
		case key == "and" || key == "or":
			children, ok := value.([]any)
			if !ok {
				issues = append(issues, newIssue(schema.IssueInvalidStructure,
					fmt.Sprintf("Invalid %q operation: expected an array of conditions", key), path))
				continue
			}
			for i, child := range children {
				issues = append(issues, v.validate(child, childPath(path, i))...)
			}
		case key == "!":
			if arr, ok := value.([]any); ok {
				for _, child := range arr {
					issues = append(issues, v.validate(child, path)...)
				}
			} else {
				issues = append(issues, v.validate(value, path)...)
			}
		case key == "in":
			issues = append(issues, v.validateIn(value, path)...)
		case isComparison(key):
			issues = append(issues, v.validateComparison(key, value, path)...)
		case key == "var":
			name, ok := varPath(value)
			if !ok || strings.TrimSpace(name) == "" {
				issues = append(issues, newIssue(schema.IssueMissingValue, "Variable reference is empty", path))
				continue
			}
			issues = append(issues, v.checkAllowed(name, path)...)
		}
	}
	return issues
}

func (v *Validator) validateIn(value any, path []int) []schema.RuleIssue {
	args, ok := value.([]any)
	if !ok || len(args) != 2 {
		return []schema.RuleIssue{newIssue(schema.IssueInvalidStructure,
			`Invalid "in" operation: expected exactly two operands`, path)}
	}

	var issues []schema.RuleIssue

	// contains form: [searchValue, {var: field}]
	if search, isString := args[0].(string); isString {
		if strings.TrimSpace(search) == "" {
			issues = append(issues, newIssue(schema.IssueMissingValue, "Search value is required", path))
		}
		issues = append(issues, v.checkField(args[1], path)...)
		return issues
	}

	// in form: [{var: field}, [values...]]
	issues = append(issues, v.checkField(args[0], path)...)
	switch list := args[1].(type) {
	case nil:
		issues = append(issues, newIssue(schema.IssueMissingValue, "Value list is required", path))
	case []any:
		if len(list) == 0 {
			issues = append(issues, newIssue(schema.IssueMissingValue, "Value list must not be empty", path))
		}
	default:
		issues = append(issues, newIssue(schema.IssueInvalidStructure, "Value list must be an array", path))
	}
	return issues
}

func (v *Validator) validateComparison(op string, value any, path []int) []schema.RuleIssue {
	args, ok := value.([]any)
	if !ok || len(args) == 0 {
		if !ok && isUnary(op) && isVarRef(value) {
			return v.checkField(value, path)
		}
		return []schema.RuleIssue{newIssue(schema.IssueInvalidStructure,
			fmt.Sprintf("Invalid %q operation: expected an array of operands", op), path)}
	}

	if len(args) == 3 {
		if !hasBetweenForm(op) {
			return []schema.RuleIssue{newIssue(schema.IssueInvalidStructure,
				fmt.Sprintf("Invalid %q operation: too many operands", op), path)}
		}
		issues := v.checkField(args[1], path)
		if args[0] == nil {
			issues = append(issues, newIssue(schema.IssueMissingValue, "Lower bound is required", path))
		}
		if args[2] == nil {
			issues = append(issues, newIssue(schema.IssueMissingValue, "Upper bound is required", path))
		}
		return issues
	}
	if len(args) > 3 {
		return []schema.RuleIssue{newIssue(schema.IssueInvalidStructure,
			fmt.Sprintf("Invalid %q operation: too many operands", op), path)}
	}

	issues := v.checkField(args[0], path)
	if isUnary(op) {
		return issues
	}

	var operand any
	present := len(args) == 2
	if present {
		operand = args[1]
	}

	switch op {
	case "between", "notBetween":
		bounds, ok := operand.([]any)
		switch {
		case !present || operand == nil:
			issues = append(issues, newIssue(schema.IssueMissingValue, "Range bounds are required", path))
		case !ok || len(bounds) != 2:
			issues = append(issues, newIssue(schema.IssueInvalidStructure, "Range must be an array of two bounds", path))
		case bounds[0] == nil || bounds[1] == nil:
			issues = append(issues, newIssue(schema.IssueMissingValue, "Both range bounds are required", path))
		}
	case "notIn":
		list, ok := operand.([]any)
		switch {
		case !present || operand == nil:
			issues = append(issues, newIssue(schema.IssueMissingValue, "Value list is required", path))
		case !ok:
			issues = append(issues, newIssue(schema.IssueInvalidStructure, "Value list must be an array", path))
		case len(list) == 0:
			issues = append(issues, newIssue(schema.IssueMissingValue, "Value list must not be empty", path))
		}
	default:
		switch {
		case !present || operand == "":
			issues = append(issues, newIssue(schema.IssueMissingValue, "Comparison value is required", path))
		case operand == nil && !isEquality(op):
			issues = append(issues, newIssue(schema.IssueMissingValue,
				fmt.Sprintf("Comparison value for %q cannot be null", op), path))
		}
	}
	return issues
}

// checkField requires operand to be a var reference allowed by the validator.
func (v *Validator) checkField(operand any, path []int) []schema.RuleIssue {
	if operand == nil {
		return []schema.RuleIssue{newIssue(schema.IssueMissingValue, "Field reference is required", path)}
	}
	if !isVarRef(operand) {
		return []schema.RuleIssue{newIssue(schema.IssueInvalidStructure, "Operand must be a field reference", path)}
	}
	name, ok := varPath(operand.(map[string]any)["var"])
	if !ok || strings.TrimSpace(name) == "" {
		return []schema.RuleIssue{newIssue(schema.IssueMissingValue, "Field reference is required", path)}
	}
	return v.checkAllowed(name, path)
}

func (v *Validator) checkAllowed(name string, path []int) []schema.RuleIssue {
	if v.allowed.Allows(name) {
		return nil
	}
	return []schema.RuleIssue{newIssue(schema.IssueIllegalVariable,
		fmt.Sprintf("Variable %q is not available in this condition", name), path)}
}

func newIssue(t schema.IssueType, msg string, path []int) schema.RuleIssue {
	return schema.RuleIssue{Message: msg, Path: append([]int{}, path...), IssueType: t}
}

// childPath returns a new slice; path is never appended to in place.
func childPath(path []int, i int) []int {
	out := make([]int, len(path)+1)
	copy(out, path)
	out[len(path)] = i
	return out
}

func isVarRef(v any) bool {
	m, ok := v.(map[string]any)
	if !ok {
		return false
	}
	_, ok = m["var"]
	return ok
}

// varPath returns the path of a var operand: "a.b" or ["a.b", default].
func varPath(v any) (string, bool) {
	switch val := v.(type) {
	case string:
		return val, true
	case []any:
		if len(val) == 0 {
			return "", false
		}
		s, ok := val[0].(string)
		return s, ok
	default:
		return "", false
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
