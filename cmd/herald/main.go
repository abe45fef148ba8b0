package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/invopop/jsonschema"

	"github.com/rendis/herald/internal/expressions"
	"github.com/rendis/herald/internal/render"
	"github.com/rendis/herald/internal/rules"
	"github.com/rendis/herald/internal/store"
	"github.com/rendis/herald/internal/tier"
	"github.com/rendis/herald/internal/validation"
	"github.com/rendis/herald/internal/variables"
	"github.com/rendis/herald/pkg/mcp"
	"github.com/rendis/herald/pkg/schema"
)

const usage = `usage: herald <command> [flags]

commands:
  serve      run the MCP server on stdio (default)
  validate   print the issues of a step read from a JSON file
  version    print the version
`

func main() {
	cmd, args := "serve", os.Args[1:]
	if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}

	var err error
	switch cmd {
	case "serve":
		err = runServe()
	case "validate":
		err = runValidate(args, os.Stdout)
	case "version", "--version", "-v":
		printVersion()
	case "help", "--help", "-h":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usage)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// app holds the wired components of one herald process.
type app struct {
	logger *slog.Logger
	store  store.Store
	pool   *validation.WorkerPool
	server *mcp.HeraldServer
}

func newApp(ctx context.Context, cfg Config, logger *slog.Logger) (*app, error) {
	if !strings.Contains(cfg.DBPath, ":") {
		if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o700); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	st, err := store.NewLibSQLStore(cfg.dbURI())
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, err
	}

	policies := tier.DefaultPolicies
	if cfg.TierPolicyPath != "" {
		if policies, err = tier.LoadPolicies(cfg.TierPolicyPath); err != nil {
			_ = st.Close()
			return nil, err
		}
	}
	checker, err := tier.NewChecker(st, tier.WithPolicies(policies), tier.WithLogger(logger))
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	pool := validation.NewWorkerPool(cfg.PoolSize)
	extractor := variables.NewExtractor(expressions.NewGoJQEngine())
	aggregator := validation.NewAggregator(validation.Deps{
		Extractor:    extractor,
		Tier:         checker,
		Integrations: st,
		Pool:         pool,
		Logger:       logger,
	})

	server := mcp.NewHeraldServer(mcp.HeraldServerDeps{
		Aggregator: aggregator,
		Renderer:   render.NewRenderer(logger),
		Evaluator:  rules.NewEvaluator(),
		Extractor:  extractor,
		Store:      st,
		Logger:     logger,
	})

	return &app{logger: logger, store: st, pool: pool, server: server}, nil
}

func (a *app) Close() {
	a.pool.Shutdown()
	if err := a.store.Close(); err != nil {
		a.logger.Warn("close store", slog.String("error", err.Error()))
	}
}

func runServe() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg, os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	logger.Info("herald serving on stdio",
		slog.String("version", version),
		slog.String("db_path", cfg.DBPath),
		slog.Int("pool_size", cfg.PoolSize),
	)
	if err := a.server.Serve(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

// stepFile is the JSON input of the validate command.
type stepFile struct {
	StepID         string                `json:"stepId"`
	StepType       schema.StepType       `json:"stepType"`
	Origin         schema.WorkflowOrigin `json:"origin"`
	EnvironmentID  string                `json:"environmentId"`
	OrganizationID string                `json:"organizationId"`
	ControlValues  schema.ControlValues  `json:"controlValues"`
	ControlSchema  json.RawMessage       `json:"controlSchema"`
	VariableSchema *jsonschema.Schema    `json:"variableSchema"`
}

func (f stepFile) input() validation.BuildIssuesInput {
	return validation.BuildIssuesInput{
		StepID:         f.StepID,
		StepType:       f.StepType,
		Origin:         f.Origin,
		EnvironmentID:  f.EnvironmentID,
		OrganizationID: f.OrganizationID,
		ControlValues:  f.ControlValues,
		ControlSchema:  f.ControlSchema,
		VariableSchema: f.VariableSchema,
	}
}

func runValidate(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("validate", flag.ContinueOnError)
	inputPath := fs.String("input", "", "step JSON file (default: stdin)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var data []byte
	var err error
	if *inputPath == "" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(*inputPath)
	}
	if err != nil {
		return fmt.Errorf("read step: %w", err)
	}
	var step stepFile
	if err := json.Unmarshal(data, &step); err != nil {
		return schema.NewErrorf(schema.ErrCodeParse, "invalid step file: %s", err.Error()).WithCause(err)
	}
	if step.StepType == "" {
		return schema.NewError(schema.ErrCodeValidation, "stepType is required")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := context.Background()
	a, err := newApp(ctx, cfg, newLogger(cfg, os.Stderr))
	if err != nil {
		return err
	}
	defer a.Close()

	return validateStep(ctx, a.server, step, out)
}

// validateStep runs the validate_step tool and writes its JSON result.
func validateStep(ctx context.Context, srv *mcp.HeraldServer, step stepFile, out io.Writer) error {
	issues, err := srv.ValidateStep(ctx, step.input())
	if err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(issues)
}
