package document

import (
	"strings"

	"github.com/rendis/herald/pkg/schema"
)

// ArrayMarker is the path segment that stands for the current element of a
// looped array. In template form it is spliced as "[0]".
const ArrayMarker = "0"

// variableAttr pairs an attribute holding a variable path with the flag that
// marks it as a variable. First-class template attributes are their own flag.
type variableAttr struct {
	value string
	flag  string
}

func (a variableAttr) firstClass() bool {
	return a.value == a.flag
}

var (
	idAttr     = variableAttr{schema.AttrID, schema.AttrID}
	showIfAttr = variableAttr{schema.AttrShowIfKey, schema.AttrShowIfKey}
	eachAttr   = variableAttr{schema.AttrEach, schema.AttrEach}
)

// variableAttrs returns the variable-bearing attributes of a node or mark
// type. id, showIfKey and each are template attributes on every type.
func variableAttrs(t schema.NodeType) []variableAttr {
	switch t {
	case schema.NodeButton:
		return []variableAttr{{"text", "isTextVariable"}, {"url", "isUrlVariable"}, idAttr, showIfAttr, eachAttr}
	case schema.NodeImage, schema.NodeInlineImage:
		return []variableAttr{{"src", "isSrcVariable"}, {"externalLink", "isExternalLinkVariable"}, idAttr, showIfAttr, eachAttr}
	case schema.NodeLink:
		return []variableAttr{{"href", "isUrlVariable"}, idAttr, showIfAttr, eachAttr}
	default:
		return []variableAttr{idAttr, showIfAttr, eachAttr}
	}
}

// loopScope is an enclosing for node: the path it iterates as authored and
// the same path after its own enclosing loops were spliced in.
type loopScope struct {
	original string
	spliced  string
}

// Wrap returns a copy of doc whose variable attributes are Liquid output
// tags. Variables under a for node that reference the loop's array are made
// relative to the loop item. The input is not modified, and wrapping an
// already wrapped document returns an equal document.
func Wrap(doc *schema.Node) *schema.Node {
	if doc == nil {
		return nil
	}
	return wrapNode(doc, nil)
}

func wrapNode(n *schema.Node, scopes []loopScope) *schema.Node {
	shallow := *n
	shallow.Content = nil
	out := shallow.Clone()

	var inner *loopScope
	if n.Type == schema.NodeFor {
		if each := ExpressionPath(n.StringAttr(schema.AttrEach)); each != "" {
			inner = &loopScope{original: each, spliced: splice(each, scopes)}
		}
	}

	out.Attrs = wrapAttrs(n.Type, out.Attrs, scopes)
	for i := range out.Marks {
		out.Marks[i].Attrs = wrapAttrs(out.Marks[i].Type, out.Marks[i].Attrs, scopes)
	}

	childScopes := scopes
	if inner != nil {
		childScopes = append(scopes[:len(scopes):len(scopes)], *inner)
	}
	if n.Content != nil {
		out.Content = make([]*schema.Node, len(n.Content))
		for i, child := range n.Content {
			out.Content[i] = wrapNode(child, childScopes)
		}
	}
	return out
}

// wrapAttrs rewrites attrs in place; attrs is always a private copy.
func wrapAttrs(t schema.NodeType, attrs map[string]any, scopes []loopScope) map[string]any {
	if attrs == nil {
		return nil
	}
	fallback, _ := attrs[schema.AttrFallback].(string)

	for _, a := range variableAttrs(t) {
		if !isSet(attrs[a.flag]) {
			continue
		}
		value, _ := attrs[a.value].(string)
		value = strings.TrimSpace(value)
		if value == "" || IsOutputTag(value) {
			continue
		}
		attrs[a.value] = OutputTag(splice(value, scopes), fallback)
		if !a.firstClass() {
			attrs[a.flag] = false
		}
	}
	return attrs
}

// splice qualifies path against the nearest enclosing loop whose array it
// references: "payload.comments.author" under each "payload.comments"
// becomes "payload.comments[0].author".
func splice(path string, scopes []loopScope) string {
	for i := len(scopes) - 1; i >= 0; i-- {
		s := scopes[i]
		if strings.HasPrefix(path, s.original+".") {
			return s.spliced + "[" + ArrayMarker + "]" + path[len(s.original):]
		}
	}
	return path
}

func isSet(v any) bool {
	switch val := v.(type) {
	case bool:
		return val
	case string:
		return strings.TrimSpace(val) != ""
	default:
		return false
	}
}

// OutputTag builds a Liquid output tag for path, with a default filter when
// fallback is not empty.
func OutputTag(path, fallback string) string {
	if fallback == "" {
		return "{{ " + path + " }}"
	}
	return "{{ " + path + " | default: " + quoteLiteral(fallback) + " }}"
}

// quoteLiteral renders s as a Liquid string expression. Liquid literals have
// no escapes, so a value holding both quote kinds is split into pieces that
// each hold one kind and joined with append: it's "x" becomes
// ("it's " | append: '"x"').
func quoteLiteral(s string) string {
	var (
		pieces []string
		start  int
		single bool
		double bool
	)
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\'':
			if double {
				pieces, start, double = append(pieces, s[start:i]), i, false
			}
			single = true
		case '"':
			if single {
				pieces, start, single = append(pieces, s[start:i]), i, false
			}
			double = true
		}
	}
	pieces = append(pieces, s[start:])

	if len(pieces) == 1 {
		return quotePiece(s)
	}
	quoted := make([]string, len(pieces))
	for i, p := range pieces {
		quoted[i] = quotePiece(p)
	}
	return "(" + strings.Join(quoted, " | append: ") + ")"
}

func quotePiece(s string) string {
	if strings.Contains(s, "'") {
		return `"` + s + `"`
	}
	return "'" + s + "'"
}

// IsOutputTag reports whether s is exactly one Liquid output tag.
func IsOutputTag(s string) bool {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "{{") || !strings.HasSuffix(s, "}}") {
		return false
	}
	inner := s[2 : len(s)-2]
	return !strings.Contains(inner, "{{") && !strings.Contains(inner, "}}")
}

// ExpressionPath returns the variable path of a plain path or of a single
// output tag, without filters: "{{ payload.a | upcase }}" -> "payload.a".
func ExpressionPath(s string) string {
	s = strings.TrimSpace(s)
	if IsOutputTag(s) {
		s = strings.Trim(s[2:len(s)-2], "- ")
	}
	if i := strings.IndexByte(s, '|'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}
