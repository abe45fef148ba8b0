package schema

import "time"

// RestrictionCheck is the input of a tier-restriction check. Only the
// duration-bearing controls of a step are passed.
type RestrictionCheck struct {
	OrganizationID string   `json:"organizationId"`
	StepType       StepType `json:"stepType"`
	Amount         *float64 `json:"amount,omitempty"`
	Unit           string   `json:"unit,omitempty"`
	Cron           string   `json:"cron,omitempty"`
}

// IsEmpty reports whether the check carries nothing to restrict.
func (c RestrictionCheck) IsEmpty() bool {
	return c.Amount == nil && c.Unit == "" && c.Cron == ""
}

// RestrictionViolation is one control value exceeding the organization's tier.
type RestrictionViolation struct {
	ControlKey string `json:"controlKey"`
	Message    string `json:"message"`
}

// IntegrationQuery selects the active integration of one channel.
type IntegrationQuery struct {
	EnvironmentID  string      `json:"environmentId"`
	OrganizationID string      `json:"organizationId"`
	Channel        ChannelType `json:"channel"`
	RequirePrimary bool        `json:"requirePrimary"`
}

// Integration is a configured delivery provider.
type Integration struct {
	ID             string      `json:"id"`
	EnvironmentID  string      `json:"environmentId"`
	OrganizationID string      `json:"organizationId"`
	Channel        ChannelType `json:"channel"`
	ProviderID     string      `json:"providerId"`
	Active         bool        `json:"active"`
	Primary        bool        `json:"primary"`
	CreatedAt      time.Time   `json:"createdAt"`
}

// Tier names of organization billing plans.
const (
	TierFree       = "free"
	TierPro        = "pro"
	TierBusiness   = "business"
	TierEnterprise = "enterprise"
)
