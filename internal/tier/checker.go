// Package tier enforces plan-dependent limits on delay and digest windows.
package tier

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/rendis/herald/internal/expressions"
	"github.com/rendis/herald/pkg/schema"
)

// Lookup resolves an organization's billing tier.
type Lookup interface {
	OrganizationTier(ctx context.Context, organizationID string) (string, error)
}

const msPerSecond = 1000

var unitMs = map[string]float64{
	"seconds": msPerSecond,
	"minutes": 60 * msPerSecond,
	"hours":   60 * 60 * msPerSecond,
	"days":    24 * 60 * 60 * msPerSecond,
	"weeks":   7 * 24 * 60 * 60 * msPerSecond,
	"months":  30 * 24 * 60 * 60 * msPerSecond,
}

// Checker evaluates tier policies for duration-bearing step controls.
type Checker struct {
	lookup   Lookup
	policies []Policy
	cel      *expressions.CELEngine
	expr     *expressions.ExprEngine
	parser   cron.Parser
	now      func() time.Time
	logger   *slog.Logger
}

// Option configures a Checker.
type Option func(*Checker)

// WithPolicies replaces the default policies.
func WithPolicies(p []Policy) Option {
	return func(c *Checker) { c.policies = p }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Checker) { c.logger = l }
}

// WithClock sets the time source used to measure cron intervals.
func WithClock(now func() time.Time) Option {
	return func(c *Checker) { c.now = now }
}

// NewChecker creates a checker using DefaultPolicies unless overridden.
func NewChecker(lookup Lookup, opts ...Option) (*Checker, error) {
	celEngine, err := expressions.NewCELEngine()
	if err != nil {
		return nil, err
	}
	c := &Checker{
		lookup:   lookup,
		policies: DefaultPolicies,
		cel:      celEngine,
		expr:     expressions.NewExprEngine(),
		parser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		now:      time.Now,
		logger:   slog.New(slog.NewTextHandler(os.Stderr, nil)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Check returns the violations of in against the organization's tier. A
// check with no amount, unit or cron never queries the tier.
func (c *Checker) Check(ctx context.Context, in schema.RestrictionCheck) ([]schema.RestrictionViolation, error) {
	if in.IsEmpty() {
		return nil, nil
	}

	tier, err := c.lookup.OrganizationTier(ctx, in.OrganizationID)
	if err != nil {
		if !schema.IsCode(err, schema.ErrCodeNotFound) {
			return nil, err
		}
		tier = schema.TierFree
	}

	durationMs, hasDuration := durationOf(in.Amount, in.Unit)
	cronMs, hasCron := c.cronInterval(in.Cron)
	if !hasDuration && !hasCron {
		return nil, nil
	}

	step := map[string]any{"type": string(in.StepType), "unit": in.Unit, "cron": in.Cron}
	if in.Amount != nil {
		step["amount"] = *in.Amount
	}
	data := map[string]any{"tier": tier, "step": step}

	var violations []schema.RestrictionViolation
	for _, p := range c.policies {
		if !p.appliesTo(in.StepType) {
			continue
		}
		match, err := c.cel.EvaluateBool(ctx, p.When, data)
		if err != nil {
			return nil, err
		}
		if !match {
			continue
		}
		maxMs, err := c.expr.EvaluateNumber(ctx, p.Max, data)
		if err != nil {
			return nil, err
		}

		if hasDuration && durationMs > maxMs {
			msg := violationMessage(p, tier, maxMs)
			violations = append(violations,
				schema.RestrictionViolation{ControlKey: "amount", Message: msg},
				schema.RestrictionViolation{ControlKey: "unit", Message: msg},
			)
		}
		if hasCron && cronMs > maxMs {
			violations = append(violations,
				schema.RestrictionViolation{ControlKey: "cron", Message: violationMessage(p, tier, maxMs)})
		}
		c.logger.Debug("tier policy evaluated",
			"policy", p.Name, "tier", tier, "max_ms", maxMs, "violations", len(violations))
	}
	return violations, nil
}

// cronInterval measures the gap between the next two runs of expr.
// Invalid expressions are not a tier concern and report false.
func (c *Checker) cronInterval(expr string) (float64, bool) {
	if strings.TrimSpace(expr) == "" {
		return 0, false
	}
	sched, err := c.parser.Parse(expr)
	if err != nil {
		c.logger.Debug("ignoring invalid cron expression", "cron", expr, "error", err)
		return 0, false
	}
	next := sched.Next(c.now())
	if next.IsZero() {
		return 0, false
	}
	after := sched.Next(next)
	if after.IsZero() {
		return 0, false
	}
	return float64(after.Sub(next).Milliseconds()), true
}

func durationOf(amount *float64, unit string) (float64, bool) {
	if amount == nil {
		return 0, false
	}
	factor, ok := unitMs[strings.ToLower(strings.TrimSpace(unit))]
	if !ok {
		return 0, false
	}
	return *amount * factor, true
}

func violationMessage(p Policy, tier string, maxMs float64) string {
	if p.Message != "" {
		return p.Message
	}
	return fmt.Sprintf("The maximum duration for the %s tier is %s", tier, humanize(maxMs))
}

// humanize renders milliseconds in the largest whole unit up to days.
func humanize(ms float64) string {
	for _, u := range []string{"days", "hours", "minutes", "seconds"} {
		f := unitMs[u]
		if ms >= f && int64(ms)%int64(f) == 0 {
			n := int64(ms / f)
			return strconv.FormatInt(n, 10) + " " + singular(u, n)
		}
	}
	return strconv.FormatFloat(ms, 'f', -1, 64) + " milliseconds"
}

func singular(unit string, n int64) string {
	if n == 1 {
		return strings.TrimSuffix(unit, "s")
	}
	return unit
}
