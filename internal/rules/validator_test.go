package rules

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/herald/pkg/schema"
)

func decodeRule(t *testing.T, raw string) any {
	t.Helper()
	var rule any
	require.NoError(t, json.Unmarshal([]byte(raw), &rule))
	return rule
}

func TestValidate_ValidRules(t *testing.T) {
	rules := []string{
		`{"==": [{"var": "payload.a"}, 1]}`,
		`{"==": [{"var": "payload.a"}, null]}`,
		`{"and": [{"==": [{"var": "payload.a"}, "x"]}, {">": [{"var": "payload.n"}, 3]}]}`,
		`{"!": {"==": [{"var": "payload.a"}, 1]}}`,
		`{"!": [{"==": [{"var": "payload.a"}, 1]}]}`,
		`{"in": ["admin", {"var": "subscriber.data.roles"}]}`,
		`{"in": [{"var": "payload.status"}, ["open", "closed"]]}`,
		`{"<=": [1, {"var": "payload.n"}, 10]}`,
		`{"between": [{"var": "payload.n"}, [1, 10]]}`,
		`{"notIn": [{"var": "payload.status"}, ["spam"]]}`,
		`{"null": [{"var": "payload.a"}]}`,
		`{"startsWith": [{"var": "payload.name"}, "Jo"]}`,
		`{"unknownOperator": [1, 2]}`,
	}
	v := NewValidator()
	for _, raw := range rules {
		t.Run(raw, func(t *testing.T) {
			assert.Empty(t, v.Validate(decodeRule(t, raw)))
		})
	}
}

func TestValidate_InEmptyArray(t *testing.T) {
	issues := NewValidator().Validate(decodeRule(t, `{"in": [{"var": "field"}, []]}`))
	require.Len(t, issues, 1)
	assert.Equal(t, schema.IssueMissingValue, issues[0].IssueType)
	assert.Equal(t, []int{}, issues[0].Path)
}

func TestValidate_BetweenMissingLowerBound(t *testing.T) {
	issues := NewValidator().Validate([]any{}) // not a rule
	assert.Empty(t, issues)

	rule := map[string]any{"<=": []any{nil, map[string]any{"var": "field"}, 10.0}}
	issues = NewValidator().Validate(rule)
	require.Len(t, issues, 1)
	assert.Equal(t, schema.IssueMissingValue, issues[0].IssueType)
	assert.Contains(t, issues[0].Message, "Lower bound")
}

func TestValidate_NestedPath(t *testing.T) {
	issues := NewValidator().Validate(decodeRule(t, `{"and":[{"and":[{"==":[{"var":"x"},""]}]}]}`))
	require.Len(t, issues, 1)
	assert.Equal(t, schema.IssueMissingValue, issues[0].IssueType)
	assert.Equal(t, []int{0, 0}, issues[0].Path)
}

func TestValidate_PathsAreStructural(t *testing.T) {
	rule := decodeRule(t, `{"or": [
		{"==": [{"var": "a"}, 1]},
		{"and": [{"==": [{"var": "b"}, 1]}, {"==": [{"var": "c"}, ""]}]}
	]}`)
	issues := NewValidator().Validate(rule)
	require.Len(t, issues, 1)
	assert.Equal(t, []int{1, 1}, issues[0].Path)
}

func TestValidate_NullComparison(t *testing.T) {
	v := NewValidator()

	issues := v.Validate(decodeRule(t, `{">": [{"var": "a"}, null]}`))
	require.Len(t, issues, 1)
	assert.Equal(t, schema.IssueMissingValue, issues[0].IssueType)

	assert.Empty(t, v.Validate(decodeRule(t, `{"!=": [{"var": "a"}, null]}`)))
}

func TestValidate_Shapes(t *testing.T) {
	tests := []struct {
		name string
		rule string
		want []schema.IssueType
	}{
		{"and not array", `{"and": {"==": [1, 1]}}`, []schema.IssueType{schema.IssueInvalidStructure}},
		{"in wrong arity", `{"in": [{"var": "a"}]}`, []schema.IssueType{schema.IssueInvalidStructure}},
		{"contains empty search", `{"in": ["", {"var": "a"}]}`, []schema.IssueType{schema.IssueMissingValue}},
		{"contains without field", `{"in": ["x", "y"]}`, []schema.IssueType{schema.IssueInvalidStructure}},
		{"in list not array", `{"in": [{"var": "a"}, "x"]}`, []schema.IssueType{schema.IssueInvalidStructure}},
		{"field not var", `{"==": ["a", 1]}`, []schema.IssueType{schema.IssueInvalidStructure}},
		{"missing comparison value", `{"==": [{"var": "a"}]}`, []schema.IssueType{schema.IssueMissingValue}},
		{"notIn not array", `{"notIn": [{"var": "a"}, "x"]}`, []schema.IssueType{schema.IssueInvalidStructure}},
		{"between bad range", `{"between": [{"var": "a"}, [1]]}`, []schema.IssueType{schema.IssueInvalidStructure}},
		{"empty var", `{"var": ""}`, []schema.IssueType{schema.IssueMissingValue}},
		{
			"between field and bound",
			`{"<": [null, "a", 5]}`,
			[]schema.IssueType{schema.IssueInvalidStructure, schema.IssueMissingValue},
		},
		{"too many operands", `{"==": [{"var": "a"}, 1, 2]}`, []schema.IssueType{schema.IssueInvalidStructure}},
	}
	v := NewValidator()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			issues := v.Validate(decodeRule(t, tt.rule))
			got := make([]schema.IssueType, len(issues))
			for i, is := range issues {
				got[i] = is.IssueType
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestValidate_AllowedVariables(t *testing.T) {
	allowed := NewAllowedVariables([]string{"payload.status"}, "subscriber.data.")
	v := NewValidator(WithAllowedVariables(allowed))

	assert.Empty(t, v.Validate(decodeRule(t, `{"==": [{"var": "payload.status"}, "open"]}`)))
	assert.Empty(t, v.Validate(decodeRule(t, `{"==": [{"var": "subscriber.data.plan"}, "pro"]}`)))

	issues := v.Validate(decodeRule(t, `{"and": [{"==": [{"var": "payload.secret"}, "x"]}]}`))
	require.Len(t, issues, 1)
	assert.Equal(t, schema.IssueIllegalVariable, issues[0].IssueType)
	assert.Equal(t, []int{0}, issues[0].Path)
}

func TestValidate_DoesNotMutate(t *testing.T) {
	raw := `{"and": [{"in": [{"var": "a"}, []]}, {"<=": [null, {"var": "b"}, 3]}]}`
	rule := decodeRule(t, raw)
	before, err := json.Marshal(rule)
	require.NoError(t, err)

	_ = NewValidator().Validate(rule)

	after, err := json.Marshal(rule)
	require.NoError(t, err)
	assert.JSONEq(t, string(before), string(after))
}
