package store

import (
	"context"

	"github.com/rendis/herald/pkg/schema"
)

// Store persists organizations and their delivery integrations.
// All implementations must be safe for concurrent use.
type Store interface {
	// Organizations
	UpsertOrganization(ctx context.Context, org *Organization) error
	GetOrganization(ctx context.Context, id string) (*Organization, error)
	OrganizationTier(ctx context.Context, id string) (string, error)

	// Integrations
	CreateIntegration(ctx context.Context, in *schema.Integration) error
	SetIntegrationActive(ctx context.Context, id string, active bool) error
	SetPrimaryIntegration(ctx context.Context, id string) error
	ListIntegrations(ctx context.Context, filter IntegrationFilter) ([]*schema.Integration, error)
	FindActiveIntegration(ctx context.Context, q schema.IntegrationQuery) (*schema.Integration, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
