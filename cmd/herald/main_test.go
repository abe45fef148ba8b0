package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/herald/internal/store"
	"github.com/rendis/herald/pkg/schema"
)

func newTestApp(t *testing.T, cfg Config) *app {
	t.Helper()
	a, err := newApp(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(a.Close)
	return a
}

func TestValidateStep_WithStore(t *testing.T) {
	a := newTestApp(t, Config{DBPath: filepath.Join(t.TempDir(), "data", "herald.db"), PoolSize: 2})
	ctx := context.Background()

	org := &store.Organization{ID: "org-1", Tier: schema.TierFree}
	require.NoError(t, a.store.UpsertOrganization(ctx, org))

	step := stepFile{
		StepType:       schema.StepTypeDigest,
		EnvironmentID:  "env-1",
		OrganizationID: "org-1",
		ControlValues:  schema.ControlValues{"amount": 3, "unit": "days"},
	}
	var out bytes.Buffer
	require.NoError(t, validateStep(ctx, a.server, step, &out))

	var issues schema.StepIssues
	require.NoError(t, json.Unmarshal(out.Bytes(), &issues))
	require.Len(t, issues.Controls["amount"], 1)
	assert.Equal(t, schema.IssueTierLimit, issues.Controls["amount"][0].IssueType)
	assert.Nil(t, issues.Integration)
}

func TestValidateStep_MissingIntegrationFromStore(t *testing.T) {
	a := newTestApp(t, Config{DBPath: filepath.Join(t.TempDir(), "herald.db"), PoolSize: 2})
	ctx := context.Background()

	require.NoError(t, a.store.UpsertOrganization(ctx, &store.Organization{ID: "org-1"}))
	require.NoError(t, a.store.CreateIntegration(ctx, &schema.Integration{
		EnvironmentID:  "env-1",
		OrganizationID: "org-1",
		Channel:        schema.ChannelSMS,
		ProviderID:     "twilio",
		Active:         true,
	}))

	var out bytes.Buffer
	require.NoError(t, validateStep(ctx, a.server, stepFile{
		StepType:       schema.StepTypeSMS,
		EnvironmentID:  "env-1",
		OrganizationID: "org-1",
		ControlValues:  schema.ControlValues{"body": "Hi"},
	}, &out))

	var issues schema.StepIssues
	require.NoError(t, json.Unmarshal(out.Bytes(), &issues))
	require.Len(t, issues.Integration["sms"], 1, "sms requires a primary integration")
}

func TestNewApp_TierPolicyFile(t *testing.T) {
	dir := t.TempDir()
	policyPath := filepath.Join(dir, "tiers.yaml")
	require.NoError(t, os.WriteFile(policyPath, []byte("policies: [\n"), 0o600))

	_, err := newApp(context.Background(), Config{
		DBPath:         filepath.Join(dir, "herald.db"),
		PoolSize:       1,
		TierPolicyPath: policyPath,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeParse))
}

func TestRunValidate_BadInput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "step.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"controlValues": `), 0o600))

	err := runValidate([]string{"-input", path}, io.Discard)
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeParse))

	require.NoError(t, os.WriteFile(path, []byte(`{"controlValues": {}}`), 0o600))
	err = runValidate([]string{"-input", path}, io.Discard)
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))
}

func TestStepFile_Decode(t *testing.T) {
	var step stepFile
	require.NoError(t, json.Unmarshal([]byte(`{
		"stepType": "email",
		"controlValues": {"subject": "Hi"},
		"controlSchema": {"type": "object"},
		"variableSchema": {"type": "object", "properties": {"payload": {"type": "object"}}}
	}`), &step))

	in := step.input()
	assert.Equal(t, schema.StepTypeEmail, in.StepType)
	assert.JSONEq(t, `{"type": "object"}`, string(in.ControlSchema))
	require.NotNil(t, in.VariableSchema)
	assert.Equal(t, "object", in.VariableSchema.Type)
}

func TestNewApp_RegistersAdminTools(t *testing.T) {
	a := newTestApp(t, Config{DBPath: filepath.Join(t.TempDir(), "herald.db"), PoolSize: 1})

	for _, name := range []string{"herald.upsert_organization", "herald.create_integration", "herald.list_integrations"} {
		assert.NotNil(t, a.server.MCPServer().GetTool(name), name)
	}
}
