package store

import (
	"time"

	"github.com/rendis/herald/pkg/schema"
)

// Organization is a tenant and its billing tier.
type Organization struct {
	ID        string    `json:"id"`
	Name      string    `json:"name,omitempty"`
	Tier      string    `json:"tier"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IntegrationFilter narrows ListIntegrations. Zero fields match everything.
type IntegrationFilter struct {
	EnvironmentID  string
	OrganizationID string
	Channel        schema.ChannelType
	ActiveOnly     bool
	Limit          int
}
