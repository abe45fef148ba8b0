package variables

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/osteele/liquid/expressions"
	"github.com/osteele/liquid/parser"
)

// tagKind distinguishes Liquid output tags from logic tags.
type tagKind int

const (
	outputTag tagKind = iota // {{ ... }}
	logicTag                 // {% ... %}
)

// tag is one Liquid tag found in a string.
type tag struct {
	kind tagKind
	raw  string // the tag as written, delimiters included
	name string // logic tag name ("for", "if", ...)
	body string // output expression or logic tag arguments
	err  string // set when the tag is malformed
}

// verbatimBlocks maps block tags whose content is not template code to
// their closing tag.
var verbatimBlocks = map[string]string{
	"raw":     "endraw",
	"comment": "endcomment",
}

// scanTags tokenizes s with the Liquid scanner and returns its tags in order.
// Content of raw and comment blocks is skipped. An opening delimiter left in
// plain text has no matching close: it yields one malformed tag covering the
// rest of that text and ends the scan.
func scanTags(s string) []tag {
	var (
		tags     []tag
		verbatim string
	)
	for _, tok := range parser.Scan(s, parser.SourceLoc{}, nil) {
		switch tok.Type {
		case parser.TextTokenType:
			if verbatim != "" {
				continue
			}
			if start := nextOpening(tok.Source, 0); start >= 0 {
				closing := "}}"
				if tok.Source[start+1] == '%' {
					closing = "%}"
				}
				return append(tags, tag{
					kind: outputTag,
					raw:  tok.Source[start:],
					err:  "Unclosed template tag: missing " + closing,
				})
			}
		case parser.ObjTokenType:
			if verbatim != "" {
				continue
			}
			if strings.Contains(tok.Args, "{{") {
				// "{{ a {{ b }}": the first opening never closed on its own.
				tags = append(tags, tag{kind: outputTag, raw: tok.Source, err: "Unbalanced template braces"})
				continue
			}
			tags = append(tags, tag{kind: outputTag, raw: tok.Source, body: strings.TrimSpace(unescapeJSON(tok.Args))})
		case parser.TagTokenType:
			if verbatim != "" {
				if tok.Name == verbatim {
					verbatim = ""
				}
				continue
			}
			if end, ok := verbatimBlocks[tok.Name]; ok {
				verbatim = end
				continue
			}
			tags = append(tags, tag{
				kind: logicTag,
				raw:  tok.Source,
				name: tok.Name,
				body: strings.TrimSpace(unescapeJSON(tok.Args)),
			})
		}
	}
	return tags
}

func nextOpening(s string, from int) int {
	for j := from; j+1 < len(s); j++ {
		if s[j] == '{' && (s[j+1] == '{' || s[j+1] == '%') {
			return j
		}
	}
	return -1
}

// unescapeJSON undoes the string escaping a tag receives when its document
// is serialized to JSON.
func unescapeJSON(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	s = strings.ReplaceAll(s, `\"`, `"`)
	return strings.ReplaceAll(s, `\\`, `\`)
}

// splitFilters separates the expression from its filters, ignoring pipes
// inside quoted strings.
func splitFilters(body string) (expr string, filters string) {
	var quote byte
	for i := 0; i < len(body); i++ {
		c := body[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"':
			quote = c
		case c == '|':
			return strings.TrimSpace(body[:i]), strings.TrimSpace(body[i+1:])
		}
	}
	return strings.TrimSpace(body), ""
}

// parseLoop parses the arguments of a for tag and returns the item name and
// the collection expression.
func parseLoop(args string) (item, collection string, err error) {
	defer recoverParse(&err)
	stmt, err := expressions.ParseStatement(expressions.LoopStatementSelector, args)
	if err != nil {
		return "", "", err
	}
	fields := strings.Fields(args)
	if len(fields) > 2 {
		collection = fields[2]
	}
	return stmt.Loop.Variable, collection, nil
}

// parseExpression reports whether expr is valid Liquid expression syntax.
func parseExpression(expr string) (err error) {
	defer recoverParse(&err)
	_, err = expressions.Parse(expr)
	return err
}

// recoverParse turns a lexer panic (integer overflow in a literal) into a
// parse error.
func recoverParse(err *error) {
	if r := recover(); r != nil {
		*err = fmt.Errorf("liquid parse: %v", r)
	}
}

var (
	headPattern    = regexp.MustCompile(`^[A-Za-z_][\w-]*\??`)
	segmentPattern = regexp.MustCompile(`^[\w-]+\??`)
	numberPattern  = regexp.MustCompile(`^-?\d+(\.\d+)?$`)
	rangePattern   = regexp.MustCompile(`^\(.*\)$`)
	operandSplitRe = regexp.MustCompile(`\s+|==|!=|<>|<=|>=|<|>`)
	quotedPattern  = regexp.MustCompile(`'[^']*'|"[^"]*"`)
)

var liquidKeywords = map[string]bool{
	"true": true, "false": true, "nil": true, "null": true, "empty": true, "blank": true,
	"and": true, "or": true, "contains": true, "forloop": true,
}

// isLiteral reports whether expr is a constant rather than a variable.
func isLiteral(expr string) bool {
	if expr == "" {
		return false
	}
	if expr[0] == '\'' || expr[0] == '"' {
		return true
	}
	return numberPattern.MatchString(expr) || rangePattern.MatchString(expr) || liquidKeywords[expr]
}

// canonicalPath returns expr as a dotted variable path. Quoted bracket keys
// become dotted segments and numeric indexes keep their brackets:
// "a['b c'][0]" becomes "a.b c[0]". ok is false when expr is not a plain
// variable path.
func canonicalPath(expr string) (string, bool) {
	head := headPattern.FindString(expr)
	if head == "" {
		return "", false
	}
	var b strings.Builder
	b.WriteString(head)
	rest := expr[len(head):]
	for rest != "" {
		switch rest[0] {
		case '.':
			seg := segmentPattern.FindString(rest[1:])
			if seg == "" {
				return "", false
			}
			b.WriteString("." + seg)
			rest = rest[1+len(seg):]
		case '[':
			end := strings.IndexByte(rest, ']')
			if end < 0 {
				return "", false
			}
			key := strings.TrimSpace(rest[1:end])
			switch {
			case isIndex(key):
				b.WriteString("[" + key + "]")
			case len(key) > 2 && (key[0] == '\'' || key[0] == '"') && key[len(key)-1] == key[0]:
				inner := key[1 : len(key)-1]
				if strings.ContainsAny(inner, ".[]") {
					return "", false
				}
				b.WriteString("." + inner)
			default:
				return "", false
			}
			rest = rest[end+1:]
		default:
			return "", false
		}
	}
	return b.String(), true
}

// conditionOperands returns the path-shaped operands of an if, elsif or
// unless condition.
func conditionOperands(cond string) []string {
	var out []string
	cond = quotedPattern.ReplaceAllString(cond, " ")
	for _, part := range operandSplitRe.Split(cond, -1) {
		part = strings.TrimSpace(part)
		if part == "" || isLiteral(part) {
			continue
		}
		if _, ok := canonicalPath(part); ok {
			out = append(out, part)
		}
	}
	return out
}

// Segments splits a variable path into its segments: "a.b[0].c" becomes
// ["a", "b", "0", "c"].
func Segments(path string) []string {
	path = strings.ReplaceAll(path, "[", ".")
	path = strings.ReplaceAll(path, "]", "")
	var segs []string
	for _, s := range strings.Split(path, ".") {
		if s != "" {
			segs = append(segs, s)
		}
	}
	return segs
}

func isIndex(seg string) bool {
	if seg == "" {
		return false
	}
	for _, c := range seg {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
