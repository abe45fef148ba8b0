// Package mcp exposes step validation, preview, skip evaluation and variable
// extraction as MCP tools, plus organization and integration administration
// when a store is configured.
package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/herald/internal/render"
	"github.com/rendis/herald/internal/rules"
	"github.com/rendis/herald/internal/store"
	"github.com/rendis/herald/internal/validation"
	"github.com/rendis/herald/internal/variables"
)

// HeraldServerDeps holds the dependencies for creating a HeraldServer.
// Nil fields get standalone defaults.
type HeraldServerDeps struct {
	Aggregator *validation.Aggregator
	Renderer   *render.Renderer
	Evaluator  *rules.Evaluator
	Extractor  *variables.Extractor
	Store      store.Store // optional; enables the administration tools
	Logger     *slog.Logger
}

// HeraldServer wraps an MCP server with herald tool handlers.
type HeraldServer struct {
	aggregator *validation.Aggregator
	renderer   *render.Renderer
	evaluator  *rules.Evaluator
	extractor  *variables.Extractor
	store      store.Store
	logger     *slog.Logger
	mcpServer  *server.MCPServer
}

// NewHeraldServer creates a HeraldServer with all tools registered.
func NewHeraldServer(deps HeraldServerDeps) *HeraldServer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	s := &HeraldServer{
		aggregator: deps.Aggregator,
		renderer:   deps.Renderer,
		evaluator:  deps.Evaluator,
		extractor:  deps.Extractor,
		store:      deps.Store,
		logger:     logger,
	}
	if s.extractor == nil {
		s.extractor = variables.NewExtractor(nil)
	}
	if s.aggregator == nil {
		s.aggregator = validation.NewAggregator(validation.Deps{Extractor: s.extractor, Logger: logger})
	}
	if s.renderer == nil {
		s.renderer = render.NewRenderer(logger)
	}
	if s.evaluator == nil {
		s.evaluator = rules.NewEvaluator()
	}

	mcpSrv := server.NewMCPServer(
		"herald",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("Herald validates and previews notification workflow steps. Use herald.validate_step to list the issues of a step, herald.preview_step to render its controls, herald.evaluate_skip to test a skip condition and herald.extract_variables to list the variables a value references. When a store is configured, herald.upsert_organization, herald.create_integration, herald.set_integration_active, herald.set_primary_integration and herald.list_integrations manage the tiers and providers validation checks against."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
func (s *HeraldServer) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *HeraldServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *HeraldServer) tools() []server.ServerTool {
	tools := []server.ServerTool{
		{Tool: validateStepTool(), Handler: s.handleValidateStep},
		{Tool: previewStepTool(), Handler: s.handlePreviewStep},
		{Tool: evaluateSkipTool(), Handler: s.handleEvaluateSkip},
		{Tool: extractVariablesTool(), Handler: s.handleExtractVariables},
	}
	if s.store != nil {
		tools = append(tools, s.adminTools()...)
	}
	return tools
}

// --- Tool definitions ---

var stepTypes = []string{
	"email", "sms", "in_app", "push", "chat", "digest", "delay", "throttle", "custom", "trigger",
}

func validateStepTool() mcp.Tool {
	return mcp.NewTool("herald.validate_step",
		mcp.WithDescription("List the content issues of a workflow step"),
		mcp.WithString("step_type", mcp.Required(), mcp.Enum(stepTypes...), mcp.Description("Type of the step")),
		mcp.WithObject("control_values", mcp.Required(), mcp.Description("Control values keyed by control name")),
		mcp.WithObject("control_schema", mcp.Description("JSON Schema the step type declares for its controls")),
		mcp.WithObject("variable_schema", mcp.Description("JSON Schema of the variables available to the step")),
		mcp.WithString("step_id", mcp.Description("ID of the step")),
		mcp.WithString("origin", mcp.Enum("dashboard", "external", "legacy"), mcp.Description("Who authored the workflow (default: dashboard)")),
		mcp.WithString("environment_id", mcp.Description("Environment used for integration lookups")),
		mcp.WithString("organization_id", mcp.Description("Organization used for tier and integration lookups")),
	)
}

func previewStepTool() mcp.Tool {
	return mcp.NewTool("herald.preview_step",
		mcp.WithDescription("Render the controls of a step against sample data"),
		mcp.WithObject("control_values", mcp.Required(), mcp.Description("Control values keyed by control name")),
		mcp.WithObject("payload", mcp.Description("Trigger payload (default: generated from the variables the controls use)")),
		mcp.WithObject("subscriber", mcp.Description("Subscriber data")),
		mcp.WithObject("steps", mcp.Description("Results of previous steps keyed by step ID")),
	)
}

func evaluateSkipTool() mcp.Tool {
	return mcp.NewTool("herald.evaluate_skip",
		mcp.WithDescription("Evaluate a JSON-Logic skip condition"),
		mcp.WithObject("rule", mcp.Required(), mcp.Description("JSON-Logic rule")),
		mcp.WithObject("payload", mcp.Description("Trigger payload")),
		mcp.WithObject("subscriber", mcp.Description("Subscriber data")),
		mcp.WithObject("steps", mcp.Description("Results of previous steps keyed by step ID")),
		mcp.WithBoolean("safe", mcp.Description("Report evaluation failures as a false result instead of an error (default: true)")),
	)
}

func extractVariablesTool() mcp.Tool {
	return mcp.NewTool("herald.extract_variables",
		mcp.WithDescription("List the template variables referenced by a control value"),
		mcp.WithObject("control_values", mcp.Required(), mcp.Description("Control values keyed by control name")),
		mcp.WithObject("variable_schema", mcp.Description("JSON Schema of the available variables")),
	)
}
