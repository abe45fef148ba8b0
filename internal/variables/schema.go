package variables

import (
	"context"
	"strings"

	"github.com/invopop/jsonschema"

	"github.com/rendis/herald/pkg/schema"
)

// AlwaysAllowedPrefixes are namespaces whose content is never constrained
// by a variable schema.
var AlwaysAllowedPrefixes = []string{"subscriber.data."}

// Allowed walks path through s. Index segments descend into items, named
// segments into properties; a schema that accepts anything, or whose
// additionalProperties does, accepts the remaining suffix.
func Allowed(s *jsonschema.Schema, path string) bool {
	for _, p := range AlwaysAllowedPrefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}

	segs := Segments(path)
	if len(segs) == 0 {
		return false
	}
	current := s
	for _, seg := range segs {
		if current == nil {
			return false
		}
		if acceptsAnything(current) {
			return true
		}
		if isIndex(seg) {
			if current.Items != nil {
				current = current.Items
				continue
			}
			return false
		}
		if current.Properties != nil {
			if next, ok := current.Properties.Get(seg); ok {
				current = next
				continue
			}
		}
		return acceptsAnything(current.AdditionalProperties)
	}
	return true
}

// acceptsAnything reports whether s is the true schema or the empty schema.
func acceptsAnything(s *jsonschema.Schema) bool {
	if s == nil {
		return false
	}
	b, err := s.MarshalJSON()
	return err == nil && string(b) == "true"
}

// BuildSchema builds an object schema covering names. Index segments make
// arrays; leaves are strings defaulting to their own "{{path}}".
func BuildSchema(names []string) *jsonschema.Schema {
	root := &jsonschema.Schema{}
	makeObject(root)
	for _, name := range names {
		segs := Segments(name)
		if len(segs) == 0 {
			continue
		}
		insert(root, segs, name)
	}
	return root
}

func insert(parent *jsonschema.Schema, segs []string, name string) {
	seg, rest := segs[0], segs[1:]

	var child *jsonschema.Schema
	if isIndex(seg) {
		makeArray(parent)
		child = parent.Items
	} else {
		makeObject(parent)
		child, _ = parent.Properties.Get(seg)
		if child == nil {
			child = &jsonschema.Schema{}
			parent.Properties.Set(seg, child)
		}
	}

	if len(rest) == 0 {
		if child.Type == "" {
			child.Type = "string"
			child.Default = "{{" + name + "}}"
		}
		return
	}
	insert(child, rest, name)
}

func makeObject(s *jsonschema.Schema) {
	if s.Type == "object" {
		return
	}
	s.Type = "object"
	s.Properties = jsonschema.NewProperties()
	s.Items = nil
	s.Default = nil
}

func makeArray(s *jsonschema.Schema) {
	if s.Type == "array" {
		return
	}
	s.Type = "array"
	s.Items = &jsonschema.Schema{}
	s.Properties = nil
	s.Default = nil
}

// PayloadSchema extracts every variable of values and returns the schema of
// the payload object they reference.
func (x *Extractor) PayloadSchema(ctx context.Context, values schema.ControlValues) (*jsonschema.Schema, error) {
	res, err := x.Extract(ctx, map[string]any(values), nil)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, name := range res.ValidNames() {
		if strings.HasPrefix(name, "payload.") {
			names = append(names, name)
		}
	}
	if payload, ok := BuildSchema(names).Properties.Get("payload"); ok {
		return payload, nil
	}
	empty := &jsonschema.Schema{}
	makeObject(empty)
	return empty, nil
}

// MockValues builds a sample value from s: objects get every property,
// arrays one item, leaves their default.
func MockValues(s *jsonschema.Schema) any {
	if s == nil {
		return nil
	}
	switch s.Type {
	case "object":
		out := map[string]any{}
		if s.Properties != nil {
			for pair := s.Properties.Oldest(); pair != nil; pair = pair.Next() {
				out[pair.Key] = MockValues(pair.Value)
			}
		}
		return out
	case "array":
		return []any{MockValues(s.Items)}
	}
	if s.Default != nil {
		return s.Default
	}
	switch s.Type {
	case "string":
		return ""
	case "number", "integer":
		return 0
	case "boolean":
		return false
	}
	return nil
}

var primitiveTypes = map[string]bool{
	"string": true, "number": true, "integer": true, "boolean": true, "null": true,
}

// PrimitivePaths lists the dotted paths of every primitive leaf of s.
// Array items contribute paths through the index segment "0".
func PrimitivePaths(s *jsonschema.Schema) []string {
	var out []string
	collectPrimitives(s, "", &out)
	return out
}

func collectPrimitives(s *jsonschema.Schema, prefix string, out *[]string) {
	if s == nil {
		return
	}
	switch {
	case s.Type == "object" || s.Properties != nil:
		if s.Properties == nil {
			return
		}
		for pair := s.Properties.Oldest(); pair != nil; pair = pair.Next() {
			collectPrimitives(pair.Value, join(prefix, pair.Key), out)
		}
	case s.Type == "array":
		collectPrimitives(s.Items, join(prefix, "0"), out)
	case primitiveTypes[s.Type]:
		if prefix != "" {
			*out = append(*out, prefix)
		}
	}
}

func join(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}
