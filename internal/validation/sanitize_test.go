package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rendis/herald/pkg/schema"
)

func TestNullifyEmptyStrings(t *testing.T) {
	in := schema.ControlValues{
		"subject": "",
		"body":    "Hello",
		"nested": map[string]any{
			"empty": "",
			"list":  []any{"", "x", map[string]any{"deep": ""}},
		},
		"count": 0,
		"flag":  false,
	}

	out := NullifyEmptyStrings(in)

	assert.Nil(t, out["subject"])
	assert.Contains(t, out, "subject")
	assert.Equal(t, "Hello", out["body"])
	nested := out["nested"].(map[string]any)
	assert.Nil(t, nested["empty"])
	list := nested["list"].([]any)
	assert.Nil(t, list[0])
	assert.Equal(t, "x", list[1])
	assert.Nil(t, list[2].(map[string]any)["deep"])
	assert.Equal(t, 0, out["count"])
	assert.Equal(t, false, out["flag"])

	// The input is untouched.
	assert.Equal(t, "", in["subject"])
	assert.Equal(t, "", in["nested"].(map[string]any)["empty"])
}

func TestNullifyEmptyStrings_Nil(t *testing.T) {
	assert.Nil(t, NullifyEmptyStrings(nil))
}
