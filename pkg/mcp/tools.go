package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	ijsonschema "github.com/invopop/jsonschema"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/rendis/herald/internal/document"
	"github.com/rendis/herald/internal/validation"
	"github.com/rendis/herald/internal/variables"
	"github.com/rendis/herald/pkg/schema"
)

// handleValidateStep builds the issue report of one step.
func (s *HeraldServer) handleValidateStep(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	stepType, err := req.RequireString("step_type")
	if err != nil {
		return mcp.NewToolResultError("step_type is required"), nil
	}
	controls := mcp.ParseStringMap(req, "control_values", nil)
	if controls == nil {
		return mcp.NewToolResultError("control_values is required"), nil
	}

	varSchema, err := variableSchemaArg(req)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid variable_schema: %v", err)), nil
	}
	var controlSchema json.RawMessage
	if raw := mcp.ParseStringMap(req, "control_schema", nil); raw != nil {
		controlSchema, err = json.Marshal(raw)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid control_schema: %v", err)), nil
		}
	}

	issues, err := s.ValidateStep(ctx, validation.BuildIssuesInput{
		StepID:         req.GetString("step_id", ""),
		StepType:       schema.StepType(stepType),
		Origin:         schema.WorkflowOrigin(req.GetString("origin", string(schema.OriginDashboard))),
		EnvironmentID:  req.GetString("environment_id", ""),
		OrganizationID: req.GetString("organization_id", ""),
		ControlValues:  schema.ControlValues(controls),
		ControlSchema:  controlSchema,
		VariableSchema: varSchema,
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("validation failed: %v", err)), nil
	}
	return marshalResult(issues)
}

// ValidateStep builds the issue report of one step.
func (s *HeraldServer) ValidateStep(ctx context.Context, in validation.BuildIssuesInput) (*schema.StepIssues, error) {
	return s.aggregator.BuildIssues(ctx, in)
}

// handlePreviewStep renders every control against the given context. When
// no payload is given, one is generated from the variables the controls use.
func (s *HeraldServer) handlePreviewStep(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	controls := mcp.ParseStringMap(req, "control_values", nil)
	if controls == nil {
		return mcp.NewToolResultError("control_values is required"), nil
	}

	rc := runtimeContextArg(req)
	if rc.Payload == nil {
		payloadSchema, err := s.extractor.PayloadSchema(ctx, schema.ControlValues(controls))
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("payload generation failed: %v", err)), nil
		}
		rc.Payload, _ = variables.MockValues(payloadSchema).(map[string]any)
	}

	rendered := make(map[string]any, len(controls))
	for key, value := range controls {
		if key == validation.SkipControl {
			rendered[key] = value
			continue
		}
		out, err := s.renderValue(value, rc)
		if err != nil {
			s.logger.Debug("preview render failed", slog.String("control", key), slog.String("error", err.Error()))
			return mcp.NewToolResultError(fmt.Sprintf("render %s failed: %v", key, err)), nil
		}
		rendered[key] = out
	}

	return marshalResult(map[string]any{
		"result":                rendered,
		"previewPayloadExample": rc.Payload,
	})
}

// renderValue renders documents and strings, descending into plain objects
// and arrays. Other values pass through.
func (s *HeraldServer) renderValue(v any, rc schema.RuntimeContext) (any, error) {
	switch val := v.(type) {
	case map[string]any:
		if doc, ok := document.FromValue(val); ok {
			return s.renderer.RenderDocument(doc, rc)
		}
		out := make(map[string]any, len(val))
		for k, item := range val {
			r, err := s.renderValue(item, rc)
			if err != nil {
				return nil, err
			}
			out[k] = r
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			r, err := s.renderValue(item, rc)
			if err != nil {
				return nil, err
			}
			out[i] = r
		}
		return out, nil
	default:
		return s.renderer.Render(v, rc)
	}
}

// handleEvaluateSkip applies a skip rule to the given context.
func (s *HeraldServer) handleEvaluateSkip(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	rule, ok := req.GetArguments()["rule"]
	if !ok || rule == nil {
		return mcp.NewToolResultError("rule is required"), nil
	}
	safe := req.GetBool("safe", true)
	rc := runtimeContextArg(req)

	res, err := s.evaluator.Evaluate(rule, rc.Bindings(), safe)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("evaluation failed: %v", err)), nil
	}

	out := map[string]any{
		"skip":  res.Truthy(),
		"value": res.Value,
	}
	if res.Err != nil {
		out["error"] = res.Err.Error()
	}
	return marshalResult(out)
}

// handleExtractVariables lists the variables referenced by control values
// and the payload schema they imply.
func (s *HeraldServer) handleExtractVariables(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	controls := mcp.ParseStringMap(req, "control_values", nil)
	if controls == nil {
		return mcp.NewToolResultError("control_values is required"), nil
	}
	varSchema, err := variableSchemaArg(req)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid variable_schema: %v", err)), nil
	}

	res, err := s.extractor.Extract(ctx, controls, varSchema)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("extraction failed: %v", err)), nil
	}
	payloadSchema, err := s.extractor.PayloadSchema(ctx, schema.ControlValues(controls))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("payload schema failed: %v", err)), nil
	}

	return marshalResult(map[string]any{
		"valid":         orEmpty(res.Valid),
		"invalid":       orEmpty(res.Invalid),
		"names":         res.ValidNames(),
		"namespaces":    res.ByNamespace(),
		"payloadSchema": payloadSchema,
	})
}

// --- Helpers ---

func runtimeContextArg(req mcp.CallToolRequest) schema.RuntimeContext {
	return schema.RuntimeContext{
		Subscriber: mcp.ParseStringMap(req, "subscriber", nil),
		Payload:    mcp.ParseStringMap(req, "payload", nil),
		Steps:      mcp.ParseStringMap(req, "steps", nil),
	}
}

func variableSchemaArg(req mcp.CallToolRequest) (*ijsonschema.Schema, error) {
	raw := mcp.ParseStringMap(req, "variable_schema", nil)
	if raw == nil {
		return nil, nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	return variables.ParseSchema(data)
}

func orEmpty(vs []variables.TemplateVariable) []variables.TemplateVariable {
	if vs == nil {
		return []variables.TemplateVariable{}
	}
	return vs
}

func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
