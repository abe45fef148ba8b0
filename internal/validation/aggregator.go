// Package validation builds the issue report of a workflow step: control
// schema violations, illegal template variables, tier limits, skip-rule
// problems and missing delivery integrations.
package validation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strconv"

	"github.com/invopop/jsonschema"

	"github.com/rendis/herald/internal/document"
	"github.com/rendis/herald/internal/logging"
	"github.com/rendis/herald/internal/rules"
	"github.com/rendis/herald/internal/variables"
	"github.com/rendis/herald/pkg/schema"
)

// Control keys with fixed meaning.
const (
	SkipControl   = "skip"
	AmountControl = "amount"
	UnitControl   = "unit"
	CronControl   = "cron"
)

// SkipAllowedPrefixes are the namespaces a skip rule may always reference,
// whatever the variable schema declares.
var SkipAllowedPrefixes = []string{"payload.", "subscriber.data."}

// TierChecker reports control values exceeding the organization's tier.
type TierChecker interface {
	Check(ctx context.Context, in schema.RestrictionCheck) ([]schema.RestrictionViolation, error)
}

// IntegrationLookup finds the active delivery integration of a channel.
// It returns nil, nil when none exists.
type IntegrationLookup interface {
	FindActiveIntegration(ctx context.Context, q schema.IntegrationQuery) (*schema.Integration, error)
}

// Deps are the collaborators of an Aggregator. Nil Tier or Integrations
// disable the corresponding source; the other nil fields get defaults.
type Deps struct {
	Extractor    *variables.Extractor
	Schemas      *ControlSchemaValidator
	Tier         TierChecker
	Integrations IntegrationLookup
	Sanitizer    Sanitizer
	Pool         *WorkerPool
	Logger       *slog.Logger
}

// BuildIssuesInput describes the step being validated.
type BuildIssuesInput struct {
	StepID         string
	StepType       schema.StepType
	Origin         schema.WorkflowOrigin
	EnvironmentID  string
	OrganizationID string
	ControlValues  schema.ControlValues
	// ControlSchema is the JSON Schema the step type declares, if any.
	ControlSchema json.RawMessage
	// VariableSchema describes the variables available to the step.
	VariableSchema *jsonschema.Schema
}

// Aggregator merges every validation source into one StepIssues report.
// It is safe for concurrent use.
type Aggregator struct {
	extractor    *variables.Extractor
	schemas      *ControlSchemaValidator
	tier         TierChecker
	integrations IntegrationLookup
	sanitizer    Sanitizer
	pool         *WorkerPool
	logger       *slog.Logger
}

// NewAggregator creates an Aggregator from deps.
func NewAggregator(deps Deps) *Aggregator {
	a := &Aggregator{
		extractor:    deps.Extractor,
		schemas:      deps.Schemas,
		tier:         deps.Tier,
		integrations: deps.Integrations,
		sanitizer:    deps.Sanitizer,
		pool:         deps.Pool,
		logger:       deps.Logger,
	}
	if a.extractor == nil {
		a.extractor = variables.NewExtractor(nil)
	}
	if a.schemas == nil {
		a.schemas = NewControlSchemaValidator()
	}
	if a.pool == nil {
		a.pool = NewWorkerPool(5)
	}
	if a.logger == nil {
		a.logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	return a
}

// BuildIssues sanitizes the control values, runs every source concurrently
// and merges their issues in a fixed order: schema, variables, tier, skip,
// integration. A collaborator error aborts the build.
func (a *Aggregator) BuildIssues(ctx context.Context, in BuildIssuesInput) (*schema.StepIssues, error) {
	if in.StepID != "" {
		ctx = logging.WithStepID(ctx, in.StepID)
	}
	if in.OrganizationID != "" {
		ctx = logging.WithOrganizationID(ctx, in.OrganizationID)
	}
	if in.EnvironmentID != "" {
		ctx = logging.WithEnvironmentID(ctx, in.EnvironmentID)
	}
	log := logging.LogWith(ctx, a.logger)

	values, err := a.sanitize(ctx, in)
	if err != nil {
		return nil, err
	}

	sources := []func(context.Context) (*schema.StepIssues, error){
		func(context.Context) (*schema.StepIssues, error) {
			return a.schemas.Validate(values, in.ControlSchema)
		},
		func(ctx context.Context) (*schema.StepIssues, error) {
			return a.variableIssues(ctx, values, in.VariableSchema)
		},
		func(ctx context.Context) (*schema.StepIssues, error) {
			return a.tierIssues(ctx, values, in)
		},
		func(context.Context) (*schema.StepIssues, error) {
			return skipIssues(values, in.VariableSchema), nil
		},
		func(ctx context.Context) (*schema.StepIssues, error) {
			return a.integrationIssues(ctx, in)
		},
	}

	results := make([]*schema.StepIssues, len(sources))
	tasks := make([]Task, len(sources))
	for i, source := range sources {
		i, source := i, source
		tasks[i] = func(ctx context.Context) error {
			res, err := source(ctx)
			results[i] = res
			return err
		}
	}
	if err := firstError(a.pool.RunAll(ctx, tasks...)); err != nil {
		log.Warn("step validation aborted", slog.String("error", err.Error()))
		return nil, err
	}

	issues := &schema.StepIssues{}
	for _, res := range results {
		issues.Merge(res)
	}
	log.Debug("step validated",
		slog.String("step_type", string(in.StepType)),
		slog.Int("issues", issues.Count()),
	)
	return issues, nil
}

// sanitize nullifies empty strings of dashboard values and hands every other
// origin to the external sanitizer, when one is configured.
func (a *Aggregator) sanitize(ctx context.Context, in BuildIssuesInput) (schema.ControlValues, error) {
	if in.Origin == "" || in.Origin == schema.OriginDashboard {
		return NullifyEmptyStrings(in.ControlValues), nil
	}
	if a.sanitizer == nil {
		return in.ControlValues, nil
	}
	values, err := a.sanitizer.Sanitize(ctx, in.StepType, in.ControlValues)
	if err != nil {
		return nil, collaboratorError("sanitize control values", err)
	}
	return values, nil
}

// variableIssues extracts the variables of every scalar leaf and reports the
// invalid ones under the leaf's dotted path. Documents count as one leaf.
func (a *Aggregator) variableIssues(ctx context.Context, values schema.ControlValues, varSchema *jsonschema.Schema) (*schema.StepIssues, error) {
	issues := &schema.StepIssues{}
	var walkErr error
	walkLeaves(map[string]any(values), "", func(path string, leaf any) bool {
		res, err := a.extractor.Extract(ctx, leaf, varSchema)
		if err != nil {
			walkErr = err
			return false
		}
		for _, v := range res.Invalid {
			issues.AddControl(path, schema.ControlIssue{
				Message:      v.Message,
				IssueType:    schema.IssueIllegalVariable,
				VariableName: v.Name,
			})
		}
		return true
	})
	if walkErr != nil {
		return nil, walkErr
	}
	return issues, nil
}

// walkLeaves calls fn for each scalar or document leaf in key order. It
// stops when fn returns false.
func walkLeaves(v any, path string, fn func(path string, leaf any) bool) bool {
	switch val := v.(type) {
	case map[string]any:
		if document.IsDocument(val) {
			return fn(path, val)
		}
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if !walkLeaves(val[k], joinKey(path, k), fn) {
				return false
			}
		}
		return true
	case schema.ControlValues:
		return walkLeaves(map[string]any(val), path, fn)
	case []any:
		for i, item := range val {
			if !walkLeaves(item, joinKey(path, strconv.Itoa(i)), fn) {
				return false
			}
		}
		return true
	case string:
		return fn(path, val)
	default:
		return true
	}
}

func (a *Aggregator) tierIssues(ctx context.Context, values schema.ControlValues, in BuildIssuesInput) (*schema.StepIssues, error) {
	issues := &schema.StepIssues{}
	if a.tier == nil {
		return issues, nil
	}
	check := schema.RestrictionCheck{
		OrganizationID: in.OrganizationID,
		StepType:       in.StepType,
		Amount:         numberValue(values[AmountControl]),
	}
	check.Unit, _ = values[UnitControl].(string)
	check.Cron, _ = values[CronControl].(string)
	if check.IsEmpty() {
		return issues, nil
	}

	violations, err := a.tier.Check(ctx, check)
	if err != nil {
		return nil, collaboratorError("check tier restrictions", err)
	}
	for _, v := range violations {
		issues.AddControl(v.ControlKey, schema.ControlIssue{
			Message:   v.Message,
			IssueType: schema.IssueTierLimit,
		})
	}
	return issues, nil
}

// skipIssues validates the skip rule. References are limited to the
// primitive paths of the variable schema plus SkipAllowedPrefixes; without
// a schema every reference is allowed.
func skipIssues(values schema.ControlValues, varSchema *jsonschema.Schema) *schema.StepIssues {
	issues := &schema.StepIssues{}
	rule, ok := values[SkipControl]
	if !ok || rule == nil {
		return issues
	}

	var opts []rules.ValidatorOption
	if varSchema != nil {
		allowed := rules.NewAllowedVariables(variables.PrimitivePaths(varSchema), SkipAllowedPrefixes...)
		opts = append(opts, rules.WithAllowedVariables(allowed))
	}
	for _, ri := range rules.NewValidator(opts...).Validate(rule) {
		issues.AddControl(SkipControl, schema.ControlIssue{
			Message:   ri.Message,
			IssueType: ri.IssueType,
		})
	}
	return issues
}

func (a *Aggregator) integrationIssues(ctx context.Context, in BuildIssuesInput) (*schema.StepIssues, error) {
	issues := &schema.StepIssues{}
	channel, ok := schema.ChannelForStep(in.StepType)
	if !ok || a.integrations == nil {
		return issues, nil
	}

	q := schema.IntegrationQuery{
		EnvironmentID:  in.EnvironmentID,
		OrganizationID: in.OrganizationID,
		Channel:        channel,
		RequirePrimary: schema.RequiresPrimaryIntegration(channel),
	}
	found, err := a.integrations.FindActiveIntegration(ctx, q)
	if err != nil {
		return nil, collaboratorError("find active integration", err)
	}
	if found != nil {
		return issues, nil
	}

	msg := "Missing active integration provider"
	if q.RequirePrimary {
		msg = "Missing active primary integration provider"
	}
	issues.AddIntegration(string(channel), schema.IntegrationIssue{
		IssueType: schema.IssueMissingIntegration,
		Message:   msg,
	})
	return issues, nil
}

// numberValue converts a numeric control value. Non-numeric values yield nil.
func numberValue(v any) *float64 {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return nil
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return nil
		}
		f = parsed
	default:
		return nil
	}
	return &f
}

func joinKey(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}

// collaboratorError wraps a collaborator failure, keeping HeraldErrors as they are.
func collaboratorError(op string, err error) error {
	if _, ok := err.(*schema.HeraldError); ok {
		return err
	}
	return schema.NewError(schema.ErrCodeCollaborator, fmt.Sprintf("%s: %s", op, err.Error())).WithCause(err)
}
