// Package variables finds the runtime variables referenced by step control
// values and builds JSON Schemas from them.
package variables

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/invopop/jsonschema"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/rendis/herald/internal/document"
	"github.com/rendis/herald/internal/expressions"
	"github.com/rendis/herald/internal/rules"
	"github.com/rendis/herald/pkg/schema"
)

// ruleVarsQuery collects the path of every var reference in a rule tree.
const ruleVarsQuery = `[.. | objects | select(has("var")) | .var | if type == "array" then .[0] else . end] | .[] | strings`

// TemplateVariable is one variable reference found in a control value.
type TemplateVariable struct {
	Name          string `json:"name"`
	RawExpression string `json:"rawExpression"`
	Context       string `json:"context"`
	Message       string `json:"message,omitempty"`
}

// ExtractResult holds every occurrence found, split by validity.
type ExtractResult struct {
	Valid   []TemplateVariable `json:"valid"`
	Invalid []TemplateVariable `json:"invalid"`
}

// ValidNames returns the distinct names of valid variables in first-seen order.
func (r ExtractResult) ValidNames() []string {
	seen := make(map[string]bool, len(r.Valid))
	names := make([]string, 0, len(r.Valid))
	for _, v := range r.Valid {
		if seen[v.Name] {
			continue
		}
		seen[v.Name] = true
		names = append(names, v.Name)
	}
	return names
}

// ByNamespace groups the distinct valid names by their first segment
// (payload, subscriber, steps). Groups and names keep first-seen order.
func (r ExtractResult) ByNamespace() *orderedmap.OrderedMap[string, []string] {
	out := orderedmap.New[string, []string]()
	for _, name := range r.ValidNames() {
		segs := Segments(name)
		if len(segs) == 0 {
			continue
		}
		names, _ := out.Get(segs[0])
		out.Set(segs[0], append(names, name))
	}
	return out
}

func (r *ExtractResult) merge(other ExtractResult) {
	r.Valid = append(r.Valid, other.Valid...)
	r.Invalid = append(r.Invalid, other.Invalid...)
}

// Extractor scans control values for template variables.
type Extractor struct {
	jq *expressions.GoJQEngine
}

// NewExtractor creates an extractor. A nil engine gets a private one.
func NewExtractor(jq *expressions.GoJQEngine) *Extractor {
	if jq == nil {
		jq = expressions.NewGoJQEngine()
	}
	return &Extractor{jq: jq}
}

// Extract finds the variables referenced by value and classifies them
// against variableSchema. Without a schema every well-formed variable is
// valid; malformed tags are always invalid.
func (x *Extractor) Extract(ctx context.Context, value any, variableSchema *jsonschema.Schema) (ExtractResult, error) {
	var res ExtractResult
	texts, err := x.templateTexts(ctx, value)
	if err != nil {
		return res, err
	}
	for _, text := range texts {
		res.merge(classify(scanVariables(text), variableSchema))
	}
	return res, nil
}

// templateTexts turns value into the strings the scanner runs over.
// Documents are wrapped first so their variable attributes become tags;
// rule trees contribute one synthetic tag per var reference.
func (x *Extractor) templateTexts(ctx context.Context, value any) ([]string, error) {
	switch v := value.(type) {
	case string:
		if doc, ok := document.FromValue(v); ok {
			return wrappedText(doc)
		}
		return []string{v}, nil
	case map[string]any:
		if doc, ok := document.FromValue(v); ok {
			return wrappedText(doc)
		}
		if isRuleTree(v) {
			return x.ruleText(ctx, v)
		}
		var out []string
		for _, k := range sortedKeys(v) {
			texts, err := x.templateTexts(ctx, v[k])
			if err != nil {
				return nil, err
			}
			out = append(out, texts...)
		}
		return out, nil
	case []any:
		var out []string
		for _, item := range v {
			texts, err := x.templateTexts(ctx, item)
			if err != nil {
				return nil, err
			}
			out = append(out, texts...)
		}
		return out, nil
	case *schema.Node:
		if v == nil {
			return nil, nil
		}
		return wrappedText(v)
	default:
		return nil, nil
	}
}

func wrappedText(doc *schema.Node) ([]string, error) {
	b, err := document.Marshal(document.Wrap(doc))
	if err != nil {
		return nil, err
	}
	return []string{string(b)}, nil
}

func (x *Extractor) ruleText(ctx context.Context, rule map[string]any) ([]string, error) {
	paths, err := x.jq.Strings(ctx, ruleVarsQuery, rule)
	if err != nil {
		return nil, err
	}
	var b strings.Builder
	for _, p := range paths {
		if strings.TrimSpace(p) == "" {
			continue
		}
		b.WriteString(document.OutputTag(p, ""))
		b.WriteByte(' ')
	}
	return []string{b.String()}, nil
}

// isRuleTree reports whether v looks like a JSON-Logic rule: a single key
// naming a known operator.
func isRuleTree(v map[string]any) bool {
	if len(v) != 1 {
		return false
	}
	for k := range v {
		return rules.IsOperator(k)
	}
	return false
}

// occurrence is a scanned variable before schema classification.
type occurrence struct {
	variable  TemplateVariable
	malformed bool
}

type alias struct {
	name   string
	target string // "" for template-local names
}

// scanVariables extracts variable occurrences from one template string.
// for tags alias their item name to "<collection>[0]" until endfor.
func scanVariables(text string) []occurrence {
	var (
		out    []occurrence
		loops  []alias
		locals []alias
	)
	add := func(expr, raw string) {
		path, ok := canonicalPath(expr)
		if !ok {
			return
		}
		resolved, ok := resolveAlias(path, loops, locals)
		if !ok {
			return
		}
		out = append(out, occurrence{variable: TemplateVariable{Name: resolved, RawExpression: expr, Context: raw}})
	}
	bad := func(expr, raw, msg string) {
		name := expr
		if name == "" {
			name = raw
		}
		out = append(out, occurrence{
			variable:  TemplateVariable{Name: name, RawExpression: expr, Context: raw, Message: msg},
			malformed: true,
		})
	}

	for _, t := range scanTags(text) {
		if t.err != "" {
			bad(t.body, t.raw, t.err)
			continue
		}

		if t.kind == logicTag {
			switch t.name {
			case "for":
				item, collection, err := parseLoop(t.body)
				if err != nil {
					bad(t.body, t.raw, "Invalid for tag")
					continue
				}
				target := ""
				if path, ok := canonicalPath(collection); ok {
					if resolved, ok := resolveAlias(path, loops, locals); ok {
						target = resolved + "[0]"
					}
					add(collection, t.raw)
				}
				loops = append(loops, alias{name: item, target: target})
			case "endfor":
				if len(loops) > 0 {
					loops = loops[:len(loops)-1]
				}
			case "if", "elsif", "unless":
				for _, operand := range conditionOperands(t.body) {
					add(operand, t.raw)
				}
			case "assign", "capture":
				name := strings.TrimSpace(strings.SplitN(t.body, "=", 2)[0])
				if name != "" {
					locals = append(locals, alias{name: name})
				}
			}
			continue
		}

		expr, _ := splitFilters(t.body)
		switch {
		case expr == "":
			bad(expr, t.raw, "Empty template expression")
		case isLiteral(expr):
		case parseExpression(expr) != nil:
			bad(expr, t.raw, fmt.Sprintf("Invalid template expression %q", expr))
		default:
			if _, ok := canonicalPath(expr); !ok {
				bad(expr, t.raw, fmt.Sprintf("Invalid variable path %q", expr))
				continue
			}
			add(expr, t.raw)
		}
	}
	return out
}

// resolveAlias rewrites a path whose first segment is a loop item name.
// ok is false for template-local names, which are not runtime variables.
func resolveAlias(path string, loops, locals []alias) (string, bool) {
	head := path
	if i := strings.IndexAny(path, ".["); i >= 0 {
		head = path[:i]
	}
	if head == "forloop" {
		return "", false
	}
	for i := len(loops) - 1; i >= 0; i-- {
		if loops[i].name == head {
			if loops[i].target == "" {
				return "", false
			}
			return loops[i].target + path[len(head):], true
		}
	}
	for _, l := range locals {
		if l.name == head {
			return "", false
		}
	}
	return path, true
}

func classify(occurrences []occurrence, variableSchema *jsonschema.Schema) ExtractResult {
	var res ExtractResult
	for _, o := range occurrences {
		switch {
		case o.malformed:
			res.Invalid = append(res.Invalid, o.variable)
		case variableSchema == nil || Allowed(variableSchema, o.variable.Name):
			res.Valid = append(res.Valid, o.variable)
		default:
			v := o.variable
			v.Message = fmt.Sprintf("Variable %q is not supported", v.Name)
			res.Invalid = append(res.Invalid, v)
		}
	}
	return res
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ParseSchema decodes a variable schema from JSON.
func ParseSchema(data []byte) (*jsonschema.Schema, error) {
	var s jsonschema.Schema
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeParse, "invalid variable schema: %s", err.Error()).WithCause(err)
	}
	return &s, nil
}
