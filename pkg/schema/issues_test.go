package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStepIssues_EmptyOmitsBranches(t *testing.T) {
	s := &StepIssues{}
	assert.True(t, s.IsEmpty())

	b, err := json.Marshal(s)
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(b))
}

func TestStepIssues_AddControl(t *testing.T) {
	s := &StepIssues{}
	s.AddControl("body", ControlIssue{Message: "bad var", IssueType: IssueIllegalVariable, VariableName: "payload.x"})

	assert.False(t, s.IsEmpty())
	require.Len(t, s.Controls["body"], 1)
	assert.Equal(t, "payload.x", s.Controls["body"][0].VariableName)
	assert.Nil(t, s.Integration)
}

func TestStepIssues_MergeAppendsPerKey(t *testing.T) {
	a := &StepIssues{}
	a.AddControl("subject", ControlIssue{Message: "first", IssueType: IssueMissingValue})

	b := &StepIssues{}
	b.AddControl("subject", ControlIssue{Message: "second", IssueType: IssueIllegalVariable})
	b.AddControl("body", ControlIssue{Message: "third", IssueType: IssueIllegalVariable})
	b.AddIntegration("email", IntegrationIssue{IssueType: IssueMissingIntegration, Message: "none"})

	a.Merge(b)

	require.Len(t, a.Controls["subject"], 2)
	assert.Equal(t, "first", a.Controls["subject"][0].Message)
	assert.Equal(t, "second", a.Controls["subject"][1].Message)
	assert.Len(t, a.Controls["body"], 1)
	assert.Len(t, a.Integration["email"], 1)
	assert.Equal(t, 4, a.Count())
}

func TestStepIssues_MergeNil(t *testing.T) {
	s := &StepIssues{}
	s.AddControl("x", ControlIssue{Message: "m"})
	s.Merge(nil)
	assert.Equal(t, 1, s.Count())
}

func TestStepIssues_JSONShape(t *testing.T) {
	s := &StepIssues{}
	s.AddIntegration("email", IntegrationIssue{IssueType: IssueMissingIntegration, Message: "Missing active primary integration provider"})

	b, err := json.Marshal(s)
	require.NoError(t, err)
	assert.JSONEq(t, `{"integration":{"email":[{"issueType":"MISSING_INTEGRATION","message":"Missing active primary integration provider"}]}}`, string(b))
}

func TestHeraldError_IsCode(t *testing.T) {
	base := NewError(ErrCodeParse, "bad template")
	wrapped := fmt.Errorf("render: %w", base)

	assert.True(t, IsCode(wrapped, ErrCodeParse))
	assert.False(t, IsCode(wrapped, ErrCodeEvaluation))
	assert.False(t, IsCode(errors.New("plain"), ErrCodeParse))
	assert.Equal(t, "[PARSE_ERROR] bad template", base.Error())
}

func TestChannelForStep(t *testing.T) {
	ch, ok := ChannelForStep(StepTypeInApp)
	assert.True(t, ok)
	assert.Equal(t, ChannelInApp, ch)

	_, ok = ChannelForStep(StepTypeDigest)
	assert.False(t, ok)

	assert.True(t, RequiresPrimaryIntegration(ChannelEmail))
	assert.True(t, RequiresPrimaryIntegration(ChannelSMS))
	assert.False(t, RequiresPrimaryIntegration(ChannelPush))
}

func TestNode_CloneIsDeep(t *testing.T) {
	n := &Node{
		Type:  NodeParagraph,
		Attrs: map[string]any{"nested": map[string]any{"a": "b"}},
		Content: []*Node{
			{Type: NodeText, Text: "hi", Marks: []Mark{{Type: "bold"}}},
		},
	}
	cp := n.Clone()
	cp.Content[0].Text = "changed"
	cp.Attrs["nested"].(map[string]any)["a"] = "z"

	assert.Equal(t, "hi", n.Content[0].Text)
	assert.Equal(t, "b", n.Attrs["nested"].(map[string]any)["a"])
}

func TestRuntimeContext_BindingsDefaults(t *testing.T) {
	b := RuntimeContext{Payload: map[string]any{"name": "John"}}.Bindings()
	assert.Equal(t, map[string]any{"name": "John"}, b["payload"])
	assert.Equal(t, map[string]any{}, b["subscriber"])
	assert.Equal(t, map[string]any{}, b["steps"])
}
