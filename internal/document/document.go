// Package document parses Maily documents and rewrites their variable
// attributes into Liquid output tags.
package document

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/rendis/herald/pkg/schema"
)

// Parse decodes a Maily document from JSON.
func Parse(data []byte) (*schema.Node, error) {
	var n schema.Node
	if err := json.Unmarshal(data, &n); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeParse, "invalid document JSON: %s", err.Error()).WithCause(err)
	}
	if n.Type == "" {
		return nil, schema.NewError(schema.ErrCodeParse, "document root has no type")
	}
	return &n, nil
}

// ParseString decodes a stringified Maily document.
func ParseString(s string) (*schema.Node, error) {
	return Parse([]byte(s))
}

// FromValue converts a decoded JSON value into a document. It returns false
// when v is not a document (a string holding one counts).
func FromValue(v any) (*schema.Node, bool) {
	switch val := v.(type) {
	case *schema.Node:
		return val, val != nil && val.Type == schema.NodeDoc
	case string:
		if !looksLikeDocument(val) {
			return nil, false
		}
		n, err := ParseString(val)
		if err != nil || n.Type != schema.NodeDoc {
			return nil, false
		}
		return n, true
	case map[string]any:
		if t, _ := val["type"].(string); t != string(schema.NodeDoc) {
			return nil, false
		}
		b, err := json.Marshal(val)
		if err != nil {
			return nil, false
		}
		n, err := Parse(b)
		if err != nil {
			return nil, false
		}
		return n, true
	default:
		return nil, false
	}
}

// IsDocument reports whether v is a Maily document, decoded or stringified.
func IsDocument(v any) bool {
	_, ok := FromValue(v)
	return ok
}

func looksLikeDocument(s string) bool {
	s = strings.TrimSpace(s)
	return strings.HasPrefix(s, "{") && strings.Contains(s, `"doc"`)
}

// Marshal serializes a document without HTML escaping, so Liquid tags that
// contain '<', '>' or '&' survive unchanged.
func Marshal(n *schema.Node) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(n); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeParse, "serialize document: %s", err.Error()).WithCause(err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
