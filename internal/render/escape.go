package render

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/osteele/liquid/parser"
)

const (
	documentFilter = "herald_json_out"
	textFilter     = "herald_text_out"
)

// verbatimBlocks maps block tags whose content is emitted as written to
// their closing tag.
var verbatimBlocks = map[string]string{
	"raw":     "endraw",
	"comment": "endcomment",
}

// pipeOutputs appends filter to every output tag of src and undoes the JSON
// string escaping inside tags, so a serialized document parses as Liquid.
// Tags inside raw and comment blocks are left untouched.
func pipeOutputs(src, filter string) string {
	var (
		b        strings.Builder
		verbatim string
	)
	for _, tok := range parser.Scan(src, parser.SourceLoc{}, nil) {
		switch tok.Type {
		case parser.TextTokenType:
			b.WriteString(tok.Source)
		case parser.TagTokenType:
			switch {
			case verbatim != "":
				if tok.Name == verbatim {
					verbatim = ""
				}
				b.WriteString(tok.Source)
			default:
				verbatim = verbatimBlocks[tok.Name]
				b.WriteString(unescapeJSON(tok.Source))
			}
		case parser.ObjTokenType:
			inner := strings.TrimSpace(unescapeJSON(tok.Args))
			if verbatim != "" || inner == "" {
				b.WriteString(tok.Source)
				continue
			}
			b.WriteString("{{" + trimMark(tok.Source[2]) + " " + inner + " | " + filter + " " +
				trimMark(tok.Source[len(tok.Source)-3]) + "}}")
		}
	}
	return b.String()
}

func trimMark(c byte) string {
	if c == '-' {
		return "-"
	}
	return ""
}

func unescapeJSON(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	s = strings.ReplaceAll(s, `\"`, `"`)
	return strings.ReplaceAll(s, `\\`, `\`)
}

// escapeDocumentValue renders a value for embedding inside a JSON string
// literal of a serialized document.
func escapeDocumentValue(v any) string {
	if v == nil {
		return ""
	}
	return jsonStringContent(plain(v))
}

// escapeTextValue renders a value for a plain text template.
func escapeTextValue(v any) string {
	if v == nil {
		return ""
	}
	return plain(v)
}

// plain renders structured values as JSON with double quotes swapped for
// single quotes, and scalars as their string form.
func plain(v any) string {
	switch v.(type) {
	case map[string]any, []any:
		out, err := encodeJSON(v)
		if err != nil {
			return ""
		}
		return strings.ReplaceAll(out, `"`, `'`)
	}
	return scalarString(v)
}

func scalarString(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case nil:
		return ""
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return strings.Trim(string(b), `"`)
}

// jsonStringContent JSON-escapes s without the surrounding quotes.
func jsonStringContent(s string) string {
	out, err := encodeJSON(s)
	if err != nil {
		return ""
	}
	return out[1 : len(out)-1]
}

// encodeJSON marshals v without HTML escaping or a trailing newline.
func encodeJSON(v any) (string, error) {
	var buf strings.Builder
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return strings.TrimRight(buf.String(), "\n"), nil
}
