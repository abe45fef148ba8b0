package expressions

import "context"

// Engine evaluates one expression language against a data map.
// Implemented by CEL (tier policy guards) and Expr (tier policy limits).
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}
