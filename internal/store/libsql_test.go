package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/herald/pkg/schema"
)

func newTestStore(t *testing.T) *LibSQLStore {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")
	s, err := NewLibSQLStore("file:" + dbPath)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() {
		_ = s.Close()
		_ = os.RemoveAll(dir)
	})
	return s
}

func seedOrganization(t *testing.T, s *LibSQLStore, tier string) *Organization {
	t.Helper()
	org := &Organization{ID: uuid.New().String(), Name: "acme", Tier: tier}
	require.NoError(t, s.UpsertOrganization(context.Background(), org))
	return org
}

func seedIntegration(t *testing.T, s *LibSQLStore, orgID string, channel schema.ChannelType, active, primary bool) *schema.Integration {
	t.Helper()
	in := &schema.Integration{
		EnvironmentID:  "env-1",
		OrganizationID: orgID,
		Channel:        channel,
		ProviderID:     "provider-" + uuid.New().String()[:8],
		Active:         active,
		Primary:        primary,
	}
	require.NoError(t, s.CreateIntegration(context.Background(), in))
	return in
}

// --- Migration Tests ---

func TestMigrate_Idempotent(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Migrate(context.Background()))

	var count int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM schema_version`).Scan(&count))
	migs, err := loadMigrations()
	require.NoError(t, err)
	assert.Equal(t, len(migs), count)
}

func TestLoadMigrations_Ordered(t *testing.T) {
	migs, err := loadMigrations()
	require.NoError(t, err)
	require.Len(t, migs, 2)
	assert.Equal(t, 1, migs[0].Version)
	assert.Equal(t, 2, migs[1].Version)
	assert.Equal(t, "initial_schema", migs[0].Name)
}

// --- Organization Tests ---

func TestUpsertAndGetOrganization(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	org := &Organization{Name: "acme", Tier: schema.TierPro}
	require.NoError(t, s.UpsertOrganization(ctx, org))
	require.NotEmpty(t, org.ID)

	got, err := s.GetOrganization(ctx, org.ID)
	require.NoError(t, err)
	assert.Equal(t, "acme", got.Name)
	assert.Equal(t, schema.TierPro, got.Tier)

	org.Tier = schema.TierBusiness
	require.NoError(t, s.UpsertOrganization(ctx, org))

	tier, err := s.OrganizationTier(ctx, org.ID)
	require.NoError(t, err)
	assert.Equal(t, schema.TierBusiness, tier)
}

func TestUpsertOrganization_DefaultsToFree(t *testing.T) {
	s := newTestStore(t)
	org := &Organization{Name: "no tier"}
	require.NoError(t, s.UpsertOrganization(context.Background(), org))
	assert.Equal(t, schema.TierFree, org.Tier)
}

func TestOrganizationTier_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.OrganizationTier(context.Background(), "nonexistent")
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeNotFound))

	_, err = s.GetOrganization(context.Background(), "nonexistent")
	assert.True(t, schema.IsCode(err, schema.ErrCodeNotFound))
}

// --- Integration Tests ---

func TestFindActiveIntegration(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	org := seedOrganization(t, s, schema.TierFree)

	q := schema.IntegrationQuery{EnvironmentID: "env-1", OrganizationID: org.ID, Channel: schema.ChannelSMS}
	got, err := s.FindActiveIntegration(ctx, q)
	require.NoError(t, err)
	assert.Nil(t, got)

	seedIntegration(t, s, org.ID, schema.ChannelSMS, false, false)
	got, err = s.FindActiveIntegration(ctx, q)
	require.NoError(t, err)
	assert.Nil(t, got, "inactive integrations do not count")

	active := seedIntegration(t, s, org.ID, schema.ChannelSMS, true, false)
	got, err = s.FindActiveIntegration(ctx, q)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, active.ID, got.ID)
	assert.True(t, got.Active)
	assert.Equal(t, schema.ChannelSMS, got.Channel)
}

func TestFindActiveIntegration_RequirePrimary(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	org := seedOrganization(t, s, schema.TierFree)

	first := seedIntegration(t, s, org.ID, schema.ChannelEmail, true, false)
	q := schema.IntegrationQuery{
		EnvironmentID:  "env-1",
		OrganizationID: org.ID,
		Channel:        schema.ChannelEmail,
		RequirePrimary: true,
	}

	got, err := s.FindActiveIntegration(ctx, q)
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, s.SetPrimaryIntegration(ctx, first.ID))
	got, err = s.FindActiveIntegration(ctx, q)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, first.ID, got.ID)
	assert.True(t, got.Primary)
}

func TestSetPrimaryIntegration_Moves(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	org := seedOrganization(t, s, schema.TierFree)

	a := seedIntegration(t, s, org.ID, schema.ChannelEmail, true, true)
	b := seedIntegration(t, s, org.ID, schema.ChannelEmail, true, false)

	require.NoError(t, s.SetPrimaryIntegration(ctx, b.ID))

	all, err := s.ListIntegrations(ctx, IntegrationFilter{OrganizationID: org.ID})
	require.NoError(t, err)
	require.Len(t, all, 2)
	primaries := map[string]bool{}
	for _, in := range all {
		primaries[in.ID] = in.Primary
	}
	assert.False(t, primaries[a.ID])
	assert.True(t, primaries[b.ID])
}

func TestSetPrimaryIntegration_NotFound(t *testing.T) {
	s := newTestStore(t)
	err := s.SetPrimaryIntegration(context.Background(), "nonexistent")
	assert.True(t, schema.IsCode(err, schema.ErrCodeNotFound))
}

func TestSetIntegrationActive(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	org := seedOrganization(t, s, schema.TierFree)
	in := seedIntegration(t, s, org.ID, schema.ChannelPush, true, false)

	require.NoError(t, s.SetIntegrationActive(ctx, in.ID, false))
	got, err := s.FindActiveIntegration(ctx, schema.IntegrationQuery{
		EnvironmentID: "env-1", OrganizationID: org.ID, Channel: schema.ChannelPush,
	})
	require.NoError(t, err)
	assert.Nil(t, got)

	err = s.SetIntegrationActive(ctx, "nonexistent", true)
	assert.True(t, schema.IsCode(err, schema.ErrCodeNotFound))
}

func TestListIntegrations_Filters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	org := seedOrganization(t, s, schema.TierFree)

	seedIntegration(t, s, org.ID, schema.ChannelEmail, true, false)
	seedIntegration(t, s, org.ID, schema.ChannelSMS, true, false)
	seedIntegration(t, s, org.ID, schema.ChannelSMS, false, false)

	sms, err := s.ListIntegrations(ctx, IntegrationFilter{Channel: schema.ChannelSMS})
	require.NoError(t, err)
	assert.Len(t, sms, 2)

	activeSMS, err := s.ListIntegrations(ctx, IntegrationFilter{Channel: schema.ChannelSMS, ActiveOnly: true})
	require.NoError(t, err)
	assert.Len(t, activeSMS, 1)

	limited, err := s.ListIntegrations(ctx, IntegrationFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestCreateIntegration_UnknownOrganization(t *testing.T) {
	s := newTestStore(t)
	in := &schema.Integration{
		EnvironmentID:  "env-1",
		OrganizationID: "missing-org",
		Channel:        schema.ChannelChat,
		ProviderID:     "slack",
		Active:         true,
	}
	err := s.CreateIntegration(context.Background(), in)
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeStore))
}

func TestTimeOrNow(t *testing.T) {
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	assert.Equal(t, fixed, timeOrNow(fixed))
	assert.False(t, timeOrNow(time.Time{}).IsZero())
}
