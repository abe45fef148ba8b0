package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/herald/pkg/schema"
)

func eval(t *testing.T, rule string, data any) any {
	t.Helper()
	res, err := NewEvaluator().Evaluate(decodeRule(t, rule), data, false)
	require.NoError(t, err)
	return res.Value
}

func TestEvaluate_EqualsNull(t *testing.T) {
	assert.Equal(t, true, eval(t, `{"==": [{"var": "a"}, null]}`, map[string]any{"a": nil}))
	assert.Equal(t, false, eval(t, `{"==": [{"var": "a"}, null]}`, map[string]any{"a": 1.0}))
}

func TestEvaluate_CoercionOrder(t *testing.T) {
	tests := []struct {
		name string
		rule string
		want bool
	}{
		{"boolean string", `{"==": ["true", true]}`, true},
		{"boolean strings", `{"==": ["false", "false"]}`, true},
		{"numeric string", `{"==": ["10", 10]}`, true},
		{"numeric relational", `{">": ["10", 9]}`, true},
		{"zero string is numeric", `{"==": ["0", 0]}`, true},
		{"one is not boolean", `{"==": ["1", true]}`, false},
		{"dates", `{"<": ["2024-01-01", "2024-02-01T00:00:00Z"]}`, true},
		{"dates equal", `{"==": ["2024-01-01", "2024-01-01T00:00:00Z"]}`, true},
		{"strict fallback equal", `{"==": ["abc", "abc"]}`, true},
		{"strict fallback not equal", `{"!=": ["abc", "abd"]}`, true},
		{"relational without coercion", `{">": ["abc", "abb"]}`, false},
		{"string vs number", `{"==": ["abc", 1]}`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, eval(t, tt.rule, nil))
		})
	}
}

func TestEvaluate_BetweenForm(t *testing.T) {
	data := map[string]any{"n": 5}
	assert.Equal(t, true, eval(t, `{"<=": [1, {"var": "n"}, 10]}`, data))
	assert.Equal(t, false, eval(t, `{"<=": [6, {"var": "n"}, 10]}`, data))
	assert.Equal(t, false, eval(t, `{"<": [1, {"var": "n"}, 5]}`, data))
	assert.Equal(t, true, eval(t, `{"<=": ["1", {"var": "n"}, "5"]}`, data))
}

func TestEvaluate_CustomOperators(t *testing.T) {
	data := map[string]any{
		"name":  "John Smith",
		"n":     7,
		"tags":  []any{"a"},
		"empty": nil,
	}
	tests := []struct {
		rule string
		want bool
	}{
		{`{"startsWith": [{"var": "name"}, "John"]}`, true},
		{`{"endsWith": [{"var": "name"}, "Smith"]}`, true},
		{`{"contains": [{"var": "name"}, "n S"]}`, true},
		{`{"doesNotContain": [{"var": "name"}, "x"]}`, true},
		{`{"doesNotBeginWith": [{"var": "name"}, "John"]}`, false},
		{`{"doesNotEndWith": [{"var": "name"}, "Doe"]}`, true},
		{`{"startsWith": [{"var": "n"}, "7"]}`, false},
		{`{"null": [{"var": "empty"}]}`, true},
		{`{"null": [{"var": "absent"}]}`, false},
		{`{"notNull": [{"var": "absent"}]}`, true},
		{`{"notNull": [{"var": "name"}]}`, true},
		{`{"notIn": [{"var": "n"}, [1, 2]]}`, true},
		{`{"notIn": [{"var": "n"}, ["7"]]}`, false},
		{`{"notIn": [{"var": "n"}, "7"]}`, false},
		{`{"between": [{"var": "n"}, [1, 10]]}`, true},
		{`{"between": [{"var": "n"}, [8, 10]]}`, false},
		{`{"between": [{"var": "name"}, [1, 10]]}`, false},
		{`{"notBetween": [{"var": "n"}, [8, 10]]}`, true},
		{`{"notBetween": [{"var": "n"}, [8]]}`, false},
	}
	for _, tt := range tests {
		t.Run(tt.rule, func(t *testing.T) {
			assert.Equal(t, tt.want, eval(t, tt.rule, data))
		})
	}
}

func TestEvaluate_BaseOperators(t *testing.T) {
	data := map[string]any{
		"payload": map[string]any{
			"items": []any{
				map[string]any{"qty": 1.0},
				map[string]any{"qty": 3.0},
			},
			"name": "Ada",
		},
	}
	tests := []struct {
		name string
		rule string
		want any
	}{
		{"var index", `{"var": "payload.items.1.qty"}`, 3.0},
		{"var default", `{"var": ["payload.missing", "fallback"]}`, "fallback"},
		{"var missing", `{"var": "payload.missing"}`, nil},
		{"and value", `{"and": [1, "x"]}`, "x"},
		{"or value", `{"or": [0, "", "y"]}`, "y"},
		{"not empty array", `{"!": [[]]}`, true},
		{"double bang", `{"!!": ["0"]}`, true},
		{"if", `{"if": [false, "a", true, "b", "c"]}`, "b"},
		{"strict", `{"===": [1, "1"]}`, false},
		{"in string", `{"in": ["Ad", {"var": "payload.name"}]}`, true},
		{"in array", `{"in": ["b", ["a", "b"]]}`, true},
		{"cat", `{"cat": ["Hello, ", {"var": "payload.name"}]}`, "Hello, Ada"},
		{"substr", `{"substr": ["herald", -3]}`, "ald"},
		{"substr length", `{"substr": ["herald", 1, 3]}`, "era"},
		{"arithmetic", `{"+": [1, "2", {"*": [2, 3]}]}`, 9.0},
		{"minus", `{"-": [10, 4]}`, 6.0},
		{"mod", `{"%": [7, 3]}`, 1.0},
		{"max", `{"max": [1, 5, 3]}`, 5.0},
		{"merge", `{"merge": [[1], 2, [3]]}`, []any{1.0, 2.0, 3.0}},
		{"missing", `{"missing": ["payload.name", "payload.nope"]}`, []any{"payload.nope"}},
		{"missing_some", `{"missing_some": [1, ["payload.name", "payload.nope"]]}`, []any{}},
		{"map", `{"map": [{"var": "payload.items"}, {"var": "qty"}]}`, []any{1.0, 3.0}},
		{"filter", `{"filter": [{"var": "payload.items"}, {">": [{"var": "qty"}, 2]}]}`, []any{map[string]any{"qty": 3.0}}},
		{"reduce", `{"reduce": [{"var": "payload.items"}, {"+": [{"var": "current.qty"}, {"var": "accumulator"}]}, 0]}`, 4.0},
		{"all", `{"all": [{"var": "payload.items"}, {">": [{"var": "qty"}, 0]}]}`, true},
		{"some", `{"some": [{"var": "payload.items"}, {">": [{"var": "qty"}, 2]}]}`, true},
		{"none", `{"none": [{"var": "payload.items"}, {">": [{"var": "qty"}, 5]}]}`, true},
		{"all empty", `{"all": [[], true]}`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, eval(t, tt.rule, data))
		})
	}
}

func TestEvaluate_UnknownOperator(t *testing.T) {
	e := NewEvaluator()
	rule := decodeRule(t, `{"frobnicate": [1]}`)

	_, err := e.Evaluate(rule, nil, false)
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeEvaluation))

	res, err := e.Evaluate(rule, nil, true)
	require.NoError(t, err)
	assert.Equal(t, false, res.Value)
	assert.Error(t, res.Err)
	assert.False(t, res.Truthy())
}

func TestEvaluate_SafeModeRecoversPanics(t *testing.T) {
	e := NewEvaluator(WithOperator("boom", func([]any) (any, error) { panic("kaboom") }))

	res, err := e.Evaluate(decodeRule(t, `{"boom": []}`), nil, true)
	require.NoError(t, err)
	assert.Equal(t, false, res.Value)
	require.Error(t, res.Err)
	assert.Contains(t, res.Err.Error(), "kaboom")

	_, err = e.Evaluate(decodeRule(t, `{"boom": []}`), nil, false)
	require.Error(t, err)
}

func TestEvaluate_OwnedRegistry(t *testing.T) {
	custom := NewEvaluator(WithOperator("==", func([]any) (any, error) { return "custom", nil }))
	plain := NewEvaluator()

	rule := decodeRule(t, `{"==": [1, 1]}`)

	res, err := custom.Evaluate(rule, nil, false)
	require.NoError(t, err)
	assert.Equal(t, "custom", res.Value)

	res, err = plain.Evaluate(rule, nil, false)
	require.NoError(t, err)
	assert.Equal(t, true, res.Value)
}

func TestEvaluate_RuntimeContext(t *testing.T) {
	ctx := schema.RuntimeContext{
		Subscriber: map[string]any{"data": map[string]any{"plan": "pro"}},
		Payload:    map[string]any{"count": 3},
	}
	rule := decodeRule(t, `{"and": [
		{"==": [{"var": "subscriber.data.plan"}, "pro"]},
		{">=": [{"var": "payload.count"}, 2]}
	]}`)

	res, err := NewEvaluator().Evaluate(rule, ctx.Bindings(), true)
	require.NoError(t, err)
	assert.True(t, res.Truthy())
}

func TestIsOperator(t *testing.T) {
	assert.True(t, IsOperator("and"))
	assert.True(t, IsOperator("notBetween"))
	assert.True(t, IsOperator("var"))
	assert.False(t, IsOperator("subject"))
}
