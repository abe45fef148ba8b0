package mcp

import (
	"context"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/herald/internal/store"
	"github.com/rendis/herald/pkg/schema"
)

var (
	channels = []string{"email", "sms", "in_app", "push", "chat"}
	tiers    = []string{schema.TierFree, schema.TierPro, schema.TierBusiness, schema.TierEnterprise}
)

func (s *HeraldServer) adminTools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: upsertOrganizationTool(), Handler: s.handleUpsertOrganization},
		{Tool: createIntegrationTool(), Handler: s.handleCreateIntegration},
		{Tool: setIntegrationActiveTool(), Handler: s.handleSetIntegrationActive},
		{Tool: setPrimaryIntegrationTool(), Handler: s.handleSetPrimaryIntegration},
		{Tool: listIntegrationsTool(), Handler: s.handleListIntegrations},
	}
}

// --- Tool definitions ---

func upsertOrganizationTool() mcp.Tool {
	return mcp.NewTool("herald.upsert_organization",
		mcp.WithDescription("Create or update an organization and its billing tier"),
		mcp.WithString("id", mcp.Description("Organization ID (generated when omitted)")),
		mcp.WithString("name", mcp.Description("Display name")),
		mcp.WithString("tier", mcp.Enum(tiers...), mcp.Description("Billing tier (default: free)")),
	)
}

func createIntegrationTool() mcp.Tool {
	return mcp.NewTool("herald.create_integration",
		mcp.WithDescription("Register a delivery provider for a channel of an environment"),
		mcp.WithString("environment_id", mcp.Required(), mcp.Description("Environment the integration belongs to")),
		mcp.WithString("organization_id", mcp.Required(), mcp.Description("Owning organization")),
		mcp.WithString("channel", mcp.Required(), mcp.Enum(channels...), mcp.Description("Delivery channel")),
		mcp.WithString("provider_id", mcp.Required(), mcp.Description("Provider identifier, e.g. sendgrid")),
		mcp.WithBoolean("active", mcp.Description("Whether the integration is active (default: true)")),
		mcp.WithBoolean("primary", mcp.Description("Make it the primary integration of its channel (default: false)")),
	)
}

func setIntegrationActiveTool() mcp.Tool {
	return mcp.NewTool("herald.set_integration_active",
		mcp.WithDescription("Activate or deactivate an integration"),
		mcp.WithString("id", mcp.Required(), mcp.Description("Integration ID")),
		mcp.WithBoolean("active", mcp.Required(), mcp.Description("New active state")),
	)
}

func setPrimaryIntegrationTool() mcp.Tool {
	return mcp.NewTool("herald.set_primary_integration",
		mcp.WithDescription("Make an integration the only primary of its environment and channel"),
		mcp.WithString("id", mcp.Required(), mcp.Description("Integration ID")),
	)
}

func listIntegrationsTool() mcp.Tool {
	return mcp.NewTool("herald.list_integrations",
		mcp.WithDescription("List integrations, oldest first"),
		mcp.WithString("environment_id", mcp.Description("Filter by environment")),
		mcp.WithString("organization_id", mcp.Description("Filter by organization")),
		mcp.WithString("channel", mcp.Enum(channels...), mcp.Description("Filter by channel")),
		mcp.WithBoolean("active_only", mcp.Description("Only active integrations (default: false)")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of results (default: all)")),
	)
}

// --- Handlers ---

func (s *HeraldServer) handleUpsertOrganization(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	org := &store.Organization{
		ID:   req.GetString("id", ""),
		Name: req.GetString("name", ""),
		Tier: req.GetString("tier", ""),
	}
	if err := s.store.UpsertOrganization(ctx, org); err != nil {
		return storeResultError("upsert organization", err), nil
	}
	saved, err := s.store.GetOrganization(ctx, org.ID)
	if err != nil {
		return storeResultError("get organization", err), nil
	}
	return marshalResult(saved)
}

func (s *HeraldServer) handleCreateIntegration(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	in := &schema.Integration{
		Active: req.GetBool("active", true),
	}
	for key, dst := range map[string]*string{
		"environment_id":  &in.EnvironmentID,
		"organization_id": &in.OrganizationID,
		"provider_id":     &in.ProviderID,
	} {
		v, err := req.RequireString(key)
		if err != nil || v == "" {
			return mcp.NewToolResultError(key + " is required"), nil
		}
		*dst = v
	}
	channel, err := req.RequireString("channel")
	if err != nil {
		return mcp.NewToolResultError("channel is required"), nil
	}
	in.Channel = schema.ChannelType(channel)

	if err := s.store.CreateIntegration(ctx, in); err != nil {
		return storeResultError("create integration", err), nil
	}
	if req.GetBool("primary", false) {
		if err := s.store.SetPrimaryIntegration(ctx, in.ID); err != nil {
			return storeResultError("set primary integration", err), nil
		}
		in.Primary = true
	}
	return marshalResult(in)
}

func (s *HeraldServer) handleSetIntegrationActive(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError("id is required"), nil
	}
	active, err := req.RequireBool("active")
	if err != nil {
		return mcp.NewToolResultError("active is required"), nil
	}
	if err := s.store.SetIntegrationActive(ctx, id, active); err != nil {
		return storeResultError("update integration", err), nil
	}
	return marshalResult(map[string]any{"id": id, "active": active})
}

func (s *HeraldServer) handleSetPrimaryIntegration(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError("id is required"), nil
	}
	if err := s.store.SetPrimaryIntegration(ctx, id); err != nil {
		return storeResultError("set primary integration", err), nil
	}
	return marshalResult(map[string]any{"id": id, "primary": true})
}

func (s *HeraldServer) handleListIntegrations(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	list, err := s.store.ListIntegrations(ctx, store.IntegrationFilter{
		EnvironmentID:  req.GetString("environment_id", ""),
		OrganizationID: req.GetString("organization_id", ""),
		Channel:        schema.ChannelType(req.GetString("channel", "")),
		ActiveOnly:     req.GetBool("active_only", false),
		Limit:          req.GetInt("limit", 0),
	})
	if err != nil {
		return storeResultError("list integrations", err), nil
	}
	if list == nil {
		list = []*schema.Integration{}
	}
	return marshalResult(map[string]any{"integrations": list, "count": len(list)})
}

// storeResultError reports a store failure as a tool error, keeping the
// error code so callers can tell a missing record from a broken store.
func storeResultError(op string, err error) *mcp.CallToolResult {
	var he *schema.HeraldError
	if errors.As(err, &he) {
		return mcp.NewToolResultError(fmt.Sprintf("%s failed: [%s] %s", op, he.Code, he.Message))
	}
	return mcp.NewToolResultError(fmt.Sprintf("%s failed: %v", op, err))
}
