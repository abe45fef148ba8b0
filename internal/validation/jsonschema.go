package validation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/santhosh-tekuri/jsonschema/v6/kind"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/rendis/herald/pkg/schema"
)

// rootKey is the control key of failures at the document root.
const rootKey = "$"

// ControlSchemaValidator validates control values against the JSON Schema a
// step type declares. Compiled schemas are cached by their source text.
// It is safe for concurrent use.
type ControlSchemaValidator struct {
	printer *message.Printer

	mu    sync.RWMutex
	cache map[string]*jsonschema.Schema
}

// NewControlSchemaValidator creates a validator whose messages are printed
// in English.
func NewControlSchemaValidator() *ControlSchemaValidator {
	return &ControlSchemaValidator{
		printer: message.NewPrinter(language.English),
		cache:   make(map[string]*jsonschema.Schema),
	}
}

// Validate checks values against controlSchema and returns one issue per
// failing keyword. An empty schema accepts everything. Only an uncompilable
// schema is an error.
func (v *ControlSchemaValidator) Validate(values schema.ControlValues, controlSchema []byte) (*schema.StepIssues, error) {
	issues := &schema.StepIssues{}
	if len(bytes.TrimSpace(controlSchema)) == 0 {
		return issues, nil
	}

	compiled, err := v.getOrCompile(controlSchema)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "invalid control schema").WithCause(err)
	}

	if values == nil {
		values = schema.ControlValues{}
	}
	doc, err := toJSONValue(values)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "failed to serialize control values").WithCause(err)
	}

	err = compiled.Validate(doc)
	if err == nil {
		return issues, nil
	}
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return nil, schema.NewError(schema.ErrCodeValidation, err.Error()).WithCause(err)
	}

	for _, ki := range v.collectIssues(verr) {
		issues.AddControl(ki.key, ki.issue)
	}
	return issues, nil
}

type keyedIssue struct {
	key   string
	issue schema.ControlIssue
}

// collectIssues flattens the cause tree into keyed issues, sorted by key so
// the report does not depend on keyword evaluation order.
func (v *ControlSchemaValidator) collectIssues(verr *jsonschema.ValidationError) []keyedIssue {
	var out []keyedIssue
	for _, leaf := range flattenCauses(verr) {
		if req, ok := leaf.ErrorKind.(*kind.Required); ok {
			for _, name := range req.Missing {
				single := &kind.Required{Missing: []string{name}}
				out = append(out, keyedIssue{
					key: instanceKey(append(leaf.InstanceLocation[:len(leaf.InstanceLocation):len(leaf.InstanceLocation)], name)),
					issue: schema.ControlIssue{
						Message:   single.LocalizedString(v.printer),
						IssueType: schema.IssueMissingValue,
					},
				})
			}
			continue
		}
		out = append(out, keyedIssue{
			key: instanceKey(leaf.InstanceLocation),
			issue: schema.ControlIssue{
				Message:   leaf.ErrorKind.LocalizedString(v.printer),
				IssueType: schema.IssueInvalidStructure,
			},
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].key < out[j].key })
	return out
}

// flattenCauses recursively collects all leaf validation errors.
func flattenCauses(verr *jsonschema.ValidationError) []*jsonschema.ValidationError {
	if len(verr.Causes) == 0 {
		return []*jsonschema.ValidationError{verr}
	}
	var flat []*jsonschema.ValidationError
	for _, cause := range verr.Causes {
		flat = append(flat, flattenCauses(cause)...)
	}
	return flat
}

func instanceKey(location []string) string {
	if len(location) == 0 {
		return rootKey
	}
	return strings.Join(location, ".")
}

// getOrCompile returns a cached compiled schema or compiles and caches a new one.
func (v *ControlSchemaValidator) getOrCompile(schemaBytes []byte) (*jsonschema.Schema, error) {
	key := string(schemaBytes)

	v.mu.RLock()
	if cached, ok := v.cache[key]; ok {
		v.mu.RUnlock()
		return cached, nil
	}
	v.mu.RUnlock()

	v.mu.Lock()
	defer v.mu.Unlock()

	// Double-check after acquiring write lock.
	if cached, ok := v.cache[key]; ok {
		return cached, nil
	}

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(key))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}

	// Each schema gets a unique URL and a fresh compiler so resources never collide.
	url := fmt.Sprintf("herald://control-schema/%d", len(v.cache))
	c := jsonschema.NewCompiler()
	c.AssertFormat()
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}

	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	v.cache[key] = compiled
	return compiled, nil
}

// toJSONValue round-trips a Go value through JSON so that numbers become
// json.Number, as the jsonschema library requires.
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(bytes.NewReader(b))
}
