package validation

import (
	"context"

	"github.com/rendis/herald/pkg/schema"
)

// Sanitizer prepares control values that were not authored in the
// dashboard editor, e.g. values synced from code by an external framework.
type Sanitizer interface {
	Sanitize(ctx context.Context, stepType schema.StepType, values schema.ControlValues) (schema.ControlValues, error)
}

// SanitizerFunc adapts a function to the Sanitizer interface.
type SanitizerFunc func(ctx context.Context, stepType schema.StepType, values schema.ControlValues) (schema.ControlValues, error)

// Sanitize calls f.
func (f SanitizerFunc) Sanitize(ctx context.Context, stepType schema.StepType, values schema.ControlValues) (schema.ControlValues, error) {
	return f(ctx, stepType, values)
}

// NullifyEmptyStrings returns a copy of values in which every empty string,
// at any depth, is replaced by nil. The input is not modified.
func NullifyEmptyStrings(values schema.ControlValues) schema.ControlValues {
	if values == nil {
		return nil
	}
	out := make(schema.ControlValues, len(values))
	for k, v := range values {
		out[k] = nullify(v)
	}
	return out
}

func nullify(v any) any {
	switch val := v.(type) {
	case string:
		if val == "" {
			return nil
		}
		return val
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = nullify(item)
		}
		return out
	case schema.ControlValues:
		return map[string]any(NullifyEmptyStrings(val))
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = nullify(item)
		}
		return out
	default:
		return v
	}
}
